//go:build !(aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris)

package file

import (
	"os"
)

// lock is a no-op on platforms without flock
func lock(_ *os.File, _ bool) error {
	return nil
}

func unlock(_ *os.File) {}
