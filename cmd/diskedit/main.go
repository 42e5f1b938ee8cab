// Command diskedit plans and applies partition edit scripts to the devices of a state file.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
