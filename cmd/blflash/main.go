/*
Command blflash dumps and flashes BL602 chips over a serial port.

Usage:

	$ blflash [<flags>] <command> [<args> ...]

Use 'blflash help' to see more details.
*/
package main

import (
	"os"

	"github.com/pkg/errors"
)

func main() {
	a := newApp(os.Stdout, os.Stderr)

	if _, err := a.kp.Parse(os.Args[1:]); err != nil {
		var reported *reportedError
		if !errors.As(err, &reported) {
			a.kp.Errorf("%v, try --help", err)
		}

		os.Exit(1)
	}
}
