//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package file

import (
	"os"

	"golang.org/x/sys/unix"
)

// lock takes an advisory lock on the state file; shared for readers, exclusive for writers.
// It does not block: a state file held by someone else is an error.
func lock(f *os.File, readOnly bool) error {
	how := unix.LOCK_EX
	if readOnly {
		how = unix.LOCK_SH
	}
	return unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
}

func unlock(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
