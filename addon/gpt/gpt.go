// Package gpt provides the GUID partition map: up to 128 named partitions with GUID
// types. Every partition carries its own GUID in its parameters as "uuid=<guid>".
package gpt

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/diskfs/go-disktx/addon"
	"github.com/diskfs/go-disktx/partition"
)

const (
	Name = "GUID Partition Map"
	// MaxPartitions is the size of the partition array
	MaxPartitions = 128
	// partition names are 36 UTF-16 characters
	nameLength = 36
)

// Type of a partition
type Type string

// List of GUID partition types
const (
	Unused                   Type = "00000000-0000-0000-0000-000000000000"
	MbrBoot                  Type = "024DEE41-33E7-11D3-9D69-0008C781F39F"
	EFISystemPartition       Type = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
	BiosBoot                 Type = "21686148-6449-6E6F-744E-656564454649"
	MicrosoftReserved        Type = "E3C9E316-0B5C-4DB8-817D-F92DF00215AE"
	MicrosoftBasicData       Type = "EBD0A0A2-B9E5-4433-87C0-68B6B72699C7"
	LinuxFilesystem          Type = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
	LinuxSwap                Type = "0657FD6D-A4AB-43C4-84E5-0933C84B4F4F"
	LinuxLVM                 Type = "E6D6D379-F507-44C2-A23C-238F2A3DF928"
	HaikuBFS                 Type = "42465331-3BA3-10F1-802A-4861696B7521"
	AppleHFSPlus             Type = "48465300-0000-11AA-AA11-00306543ECAC"
	FreeBSDUFS               Type = "516E7CB6-6ECF-11D6-8FF8-00022D09712B"
	ChromeOSKernel           Type = "FE3A2A5D-4F32-41A7-B725-ACCC3285A309"
	ChromeOSRootFS           Type = "3CB8E202-3B7E-47DD-8A3C-7FF2A13CFCEC"
	LinuxRootX86_64          Type = "4F68BCE3-E8CD-4DB1-96E7-FBCAF984B709"
	LinuxUsrX86_64           Type = "8484680C-9521-48C6-9C11-B0720656F69E"
	LinuxExtendedBootLoader  Type = "BC13C2FF-59E6-4262-A352-B275FD6F7172"
	LinuxHomeDirectories     Type = "933AC7E1-2EB4-4F13-B844-0E14E2AEF915"
	LinuxServerData          Type = "3B8F8425-20E0-4F3B-907F-1A25A76F98E8"
	LinuxLUKSVolume          Type = "CA7D7CCB-63ED-4C53-861C-1742536059CC"
	LinuxRAIDPartition       Type = "A19D880F-05FC-4D3B-A006-743F0F84911E"
	LinuxPlainDMCryptVolume  Type = "7FFEC5C9-2D00-49B7-8941-3EA10A5586B7"
	MicrosoftRecoveryEnviron Type = "DE94BBA4-06D1-4D40-A16A-BFD50179D6AC"
)

var offered = []Type{
	LinuxFilesystem, LinuxSwap, LinuxLVM, HaikuBFS, EFISystemPartition, BiosBoot,
	MicrosoftBasicData, MicrosoftReserved, AppleHFSPlus, FreeBSDUFS,
}

// ValidateType accepts any GUID except the one marking unused entries
func ValidateType(typ string) error {
	id, err := uuid.Parse(typ)
	if err != nil {
		return fmt.Errorf("invalid partition type %q: %w", typ, partition.ErrBadValue)
	}
	if id == uuid.Nil {
		return fmt.Errorf("partition type must not be unused: %w", partition.ErrBadValue)
	}
	return nil
}

// ParseParameters returns the partition GUID from parameters, uuid.Nil if none is set
func ParseParameters(parameters string) (uuid.UUID, error) {
	if parameters == "" {
		return uuid.Nil, nil
	}
	for _, field := range strings.Split(parameters, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok || key != "uuid" {
			return uuid.Nil, fmt.Errorf("invalid parameter %q: %w", field, partition.ErrBadValue)
		}
		id, err := uuid.Parse(value)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid partition GUID %q: %w", value, partition.ErrBadValue)
		}
		return id, nil
	}
	return uuid.Nil, nil
}

func validateParameters(parameters string) error {
	_, err := ParseParameters(parameters)
	return err
}

// FormatParameters writes the parameters carrying the partition GUID id
func FormatParameters(id uuid.UUID) string {
	return "uuid=" + strings.ToUpper(id.String())
}

// New returns the add-on
func New() *addon.PartitionMap {
	types := make([]string, 0, len(offered))
	for _, t := range offered {
		types = append(types, string(t))
	}
	return addon.NewPartitionMap(addon.Layout{
		Name:        Name,
		MaxChildren: MaxPartitions,
		// protective MBR, header and partition array at the start, array copy and
		// backup header at the end
		ReservedBlocks:     34,
		ReservedEndBlocks:  33,
		AlignmentBlocks:    8,
		NameLength:         nameLength,
		Types:              types,
		ValidateType:       ValidateType,
		ValidateParameters: validateParameters,
		NewParameters: func() string {
			return FormatParameters(uuid.New())
		},
	})
}
