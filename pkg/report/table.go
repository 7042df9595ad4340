package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// Table writes every frame of every thread as one table row.
type Table struct{}

func (Table) Write(out io.Writer, traces []ThreadTrace) error {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Thread", "#", "Image", "Address", "Symbol", "Offset"})
	table.SetAutoWrapText(false)
	for _, tt := range traces {
		thread := strconv.FormatUint(uint64(tt.Thread), 10)
		if tt.Main {
			thread += " (main)"
		}
		if tt.Err != nil {
			table.Append([]string{thread, "", "", "", tt.Err.Error(), ""})
			continue
		}
		for i, f := range tt.Frames {
			table.Append([]string{
				thread,
				strconv.Itoa(i),
				baseName(f.Image),
				fmt.Sprintf("0x%016x", f.Address),
				f.Symbol,
				strconv.FormatUint(f.Offset, 10),
			})
		}
	}
	table.Render()
	return nil
}
