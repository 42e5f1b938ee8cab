package main

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/diskfs/go-disktx/cmd/diskedit/internal/script"
	"github.com/diskfs/go-disktx/disk"
	"github.com/diskfs/go-disktx/job"
)

func newPlanCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <script>",
		Short: "Print the operations applying an edit script would run",
		Long: `The plan command applies an edit script to the device in a transaction,
prints the operations committing it would run, in order, and cancels it. The
state file is not modified.

Example:
  diskedit plan --state disks.yaml grow-home.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := script.Load(args[0])
			if err != nil {
				return err
			}
			state, d, err := opts.openDevice(false, s.Device)
			if err != nil {
				return err
			}
			defer state.Close()

			if err := prepare(d, s); err != nil {
				return err
			}
			defer func() {
				if err := d.CancelModifications(); err != nil {
					log.Warnf("could not cancel modifications: %v", err)
				}
			}()
			q, err := d.GenerateJobs()
			if err != nil {
				return fmt.Errorf("could not plan %s: %w", args[0], err)
			}
			if q.Count() == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to do")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), q)
			return nil
		},
	}
}

func newApplyCmd(opts *globalOptions) *cobra.Command {
	var sync bool
	cmd := &cobra.Command{
		Use:   "apply <script>",
		Short: "Apply an edit script to a device",
		Long: `The apply command applies an edit script to the device and commits it. Operations
run one at a time; if one fails the ones before it stay done and the device is read
again.

Example:
  diskedit apply --state disks.yaml --sync grow-home.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := script.Load(args[0])
			if err != nil {
				return err
			}
			state, d, err := opts.openDevice(false, s.Device)
			if err != nil {
				return err
			}
			defer state.Close()

			if err := prepare(d, s); err != nil {
				return err
			}
			if !d.IsModified() {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to do")
				return d.CancelModifications()
			}
			if err := d.CommitModifications(sync, printProgress(cmd.OutOrStdout()), true); err != nil {
				return fmt.Errorf("could not apply %s: %w", args[0], err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sync, "sync", false, "Flush the state file after committing")
	return cmd
}

// prepare opens a transaction on d and makes the edits of s in it. The transaction is
// cancelled if an edit is refused.
func prepare(d *disk.Device, s *script.Script) error {
	if err := d.PrepareModifications(); err != nil {
		return fmt.Errorf("could not prepare device %d: %w", d.ID(), err)
	}
	if err := script.Apply(d, s); err != nil {
		if cancelErr := d.CancelModifications(); cancelErr != nil {
			log.Warnf("could not cancel modifications: %v", cancelErr)
		}
		return err
	}
	return nil
}

func printProgress(out io.Writer) job.ProgressFunc {
	return func(p job.Progress) {
		switch {
		case p.Err != nil:
			fmt.Fprintf(out, "failed after %d of %d: %v\n", p.Done, p.Total, p.Err)
		case p.Finished:
			fmt.Fprintf(out, "done, %d operations\n", p.Total)
		default:
			fmt.Fprintf(out, "[%d/%d] %s\n", p.Done+1, p.Total, p.Current)
		}
	}
}
