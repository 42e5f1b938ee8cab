package main

import (
	"fmt"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	disktx "github.com/diskfs/go-disktx"
	"github.com/diskfs/go-disktx/backend"
)

func newCreateCmd(opts *globalOptions) *cobra.Command {
	var (
		size      string
		blockSize int64
		path      string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a state file holding one empty device",
		Long: `The create command writes a new state file with a single device that has no
partitioning system yet. Initialize it with an edit script.

Example:
  diskedit create --state disks.yaml --size 8GiB`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := units.RAMInBytes(size)
			if err != nil {
				return fmt.Errorf("invalid size %q: %w", size, err)
			}
			if blockSize <= 0 || n < blockSize || n%blockSize != 0 {
				return fmt.Errorf("size %d is not a positive multiple of the block size %d", n, blockSize)
			}
			id := backend.PartitionID(opts.device)
			if id == 0 {
				id = 1
			}
			state, err := disktx.Create(opts.statePath, []*backend.DeviceData{{
				PartitionData: backend.PartitionData{
					ID:        id,
					Size:      n,
					BlockSize: blockSize,
					Status:    backend.StatusUninitialized,
					Flags:     backend.FlagDevice,
				},
				Path:        path,
				DeviceFlags: backend.DeviceHasMedia,
			}})
			if err != nil {
				return err
			}
			defer state.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "created device %d of %s in %s\n", id, units.BytesSize(float64(n)), opts.statePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&size, "size", "1GiB", "Size of the device")
	cmd.Flags().Int64Var(&blockSize, "block-size", 512, "Block size of the device")
	cmd.Flags().StringVar(&path, "path", "", "Device path to record")
	return cmd
}
