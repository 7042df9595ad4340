package report

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Text writes one block per thread:
//
//	callbacktrace of thread: 1031
//	libsystem_kernel.dylib         0x00000001a2b3c4d0   mach_msg_trap + 8
type Text struct {
	Color bool
	// Banner frames the output with start and end markers.
	Banner bool
}

func (t Text) Write(out io.Writer, traces []ThreadTrace) error {
	heading := color.New(color.FgGreen, color.Bold)
	banner := color.New(color.Faint)
	if t.Color {
		heading.EnableColor()
		banner.EnableColor()
	} else {
		heading.DisableColor()
		banner.DisableColor()
	}
	if t.Banner {
		if _, err := banner.Fprintln(out, "callbacktrace start"); err != nil {
			return err
		}
	}
	for _, tt := range traces {
		var err error
		if tt.Main {
			_, err = heading.Fprint(out, "\ncallbacktrace of main thread\n")
		} else {
			_, err = heading.Fprintf(out, "\ncallbacktrace of thread: %d\n", tt.Thread)
		}
		if err != nil {
			return err
		}
		for _, f := range tt.Frames {
			if _, err := fmt.Fprintf(out, "%-30s 0x%016x   %s + %d\n", baseName(f.Image), f.Address, f.Symbol, f.Offset); err != nil {
				return err
			}
		}
	}
	if !t.Banner {
		return nil
	}
	_, err := banner.Fprintln(out, "\ncallbacktrace end")
	return err
}
