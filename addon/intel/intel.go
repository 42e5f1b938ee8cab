// Package intel provides the classic PC partition map: at most four partitions, a one
// byte type each, no names.
package intel

import (
	"fmt"
	"strconv"

	"github.com/diskfs/go-disktx/addon"
	"github.com/diskfs/go-disktx/partition"
)

const Name = "Intel Partition Map"

// Type is a partition type byte, written as hex
type Type byte

// List of partition types
const (
	Empty     Type = 0x00
	Fat12     Type = 0x01
	Fat16     Type = 0x06
	NTFS      Type = 0x07
	Fat32LBA  Type = 0x0c
	Fat16LBA  Type = 0x0e
	ExtendedL Type = 0x0f
	LinuxSwap Type = 0x82
	Linux     Type = 0x83
	LinuxLVM  Type = 0x8e
	BeFS      Type = 0xeb
	EFISystem Type = 0xef
)

func (t Type) String() string {
	return fmt.Sprintf("0x%02x", byte(t))
}

// ParseType reads a type as written by String
func ParseType(s string) (Type, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return Empty, fmt.Errorf("invalid partition type %q: %w", s, partition.ErrBadValue)
	}
	if v == 0 {
		return Empty, fmt.Errorf("partition type must not be empty: %w", partition.ErrBadValue)
	}
	return Type(v), nil
}

// the "active" parameter marks the partition to boot from
func validateParameters(parameters string) error {
	switch parameters {
	case "", "active":
		return nil
	}
	return fmt.Errorf("invalid parameters %q: %w", parameters, partition.ErrBadValue)
}

// New returns the add-on
func New() *addon.PartitionMap {
	types := []Type{Linux, LinuxSwap, LinuxLVM, Fat32LBA, Fat16LBA, Fat16, Fat12, NTFS, BeFS, EFISystem}
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, t.String())
	}
	return addon.NewPartitionMap(addon.Layout{
		Name:           Name,
		MaxChildren:    4,
		ReservedBlocks: 1,
		Types:          names,
		ValidateType: func(typ string) error {
			_, err := ParseType(typ)
			return err
		},
		ValidateParameters: validateParameters,
	})
}
