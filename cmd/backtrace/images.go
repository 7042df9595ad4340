package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/grafana/backtrace/pkg/symtab"
)

func images(ctx context.Context) error {
	t, err := openTarget(ctx)
	if err != nil {
		return err
	}
	defer t.Close()

	catalog, _, err := newResolver(ctx, t)
	if err != nil {
		return err
	}
	imgs, err := catalog.Images()
	if err != nil {
		return err
	}
	writeImages(output(ctx), imgs)
	return nil
}

func writeImages(out io.Writer, imgs []symtab.LoadedImage) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Index", "Format", "Header", "Slide", "Segments", "Name"})
	table.SetAutoWrapText(false)
	for _, img := range imgs {
		table.Append([]string{
			strconv.Itoa(img.Index),
			fmt.Sprintf("%s%d", img.Format, img.Bits),
			fmt.Sprintf("0x%x", img.Header),
			fmt.Sprintf("0x%x", img.Slide),
			strconv.Itoa(len(img.Segments)),
			img.Name,
		})
	}
	table.Render()
}
