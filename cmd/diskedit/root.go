package main

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	disktx "github.com/diskfs/go-disktx"
	"github.com/diskfs/go-disktx/backend"
	"github.com/diskfs/go-disktx/disk"
)

// globalOptions are the flags shared by every subcommand
type globalOptions struct {
	statePath string
	device    int32
	verbose   bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "diskedit",
		Short: "Edit the partitions of the devices in a state file",
		Long: `diskedit edits the partition trees of the devices kept in a state file.

Edits are described by a YAML edit script. plan shows the operations applying a
script would run, apply runs them in an order that never makes two partitions
overlap.`,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
			log.SetOutput(cmd.ErrOrStderr())
			if opts.verbose {
				log.SetLevel(log.DebugLevel)
			} else {
				log.SetLevel(log.WarnLevel)
			}
			if opts.statePath == "" {
				return errors.New("--state is required")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.statePath, "state", "s", "", "Path to the device state file")
	cmd.PersistentFlags().Int32VarP(&opts.device, "device", "d", 0, "Id of the device to edit, defaults to the script's device or the first device")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newCreateCmd(opts))
	cmd.AddCommand(newShowCmd(opts))
	cmd.AddCommand(newPlanCmd(opts))
	cmd.AddCommand(newApplyCmd(opts))
	return cmd
}

// openDevice opens the state file and the device selected by the flags, falling back to
// scriptDevice and then to the first device of the file
func (o *globalOptions) openDevice(readOnly bool, scriptDevice backend.PartitionID) (*disktx.State, *disk.Device, error) {
	var opts []disktx.Option
	if readOnly {
		opts = append(opts, disktx.WithReadOnly())
	}
	state, err := disktx.Open(o.statePath, opts...)
	if err != nil {
		return nil, nil, err
	}

	id := backend.PartitionID(o.device)
	if id == 0 {
		id = scriptDevice
	}
	if id == 0 {
		devices := state.Devices()
		if len(devices) == 0 {
			state.Close()
			return nil, nil, fmt.Errorf("no devices in %s", o.statePath)
		}
		id = devices[0]
	}
	d, err := state.Device(id)
	if err != nil {
		state.Close()
		return nil, nil, err
	}
	return state, d, nil
}
