package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/moffa90/go-blflash/device"
)

// newProgressPrinter renders transfer progress on a single terminal line per phase.
func newProgressPrinter(w io.Writer) device.ProgressCallback {
	var phase string

	return func(p device.Progress) {
		if p.Phase == device.PhaseComplete {
			if phase != "" {
				fmt.Fprintln(w) //nolint:errcheck
			}
			phase = ""
			return
		}

		if phase != "" && phase != p.Phase {
			fmt.Fprintln(w) //nolint:errcheck
		}
		phase = p.Phase

		fmt.Fprintf(w, "\r  %-9s %s / %s (%.1f%%)", //nolint:errcheck
			p.Phase, humanize.IBytes(p.Done), humanize.IBytes(p.Total), p.Percentage)
	}
}
