package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/diskfs/go-disktx/disk"
	"github.com/diskfs/go-disktx/partition"
)

func newShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the partition tree of a device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, d, err := opts.openDevice(true, 0)
			if err != nil {
				return err
			}
			defer state.Close()
			return printDevice(cmd.OutOrStdout(), d)
		},
	}
}

func printDevice(out io.Writer, d *disk.Device) error {
	fmt.Fprintf(out, "device %d", d.ID())
	if d.Path() != "" {
		fmt.Fprintf(out, " (%s)", d.Path())
	}
	if d.IsReadOnly() {
		fmt.Fprint(out, " read-only")
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOFFSET\tSIZE\tTYPE\tNAME\tCONTENTS\tLABEL\tSTATUS")
	d.Root().VisitEachDescendant(func(p *partition.Partition, level int) bool {
		fmt.Fprintf(w, "%s%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			strings.Repeat("  ", level), p.ID(), p.Offset(), units.BytesSize(float64(p.Size())),
			p.Type(), p.Name(), p.ContentType(), p.ContentName(), p.Status())
		return false
	})
	return w.Flush()
}
