package partition

import (
	"strings"

	"github.com/diskfs/go-disktx/backend"
)

// ID identifies a partition; NoID marks a shadow partition the kernel does not know yet
type ID = backend.PartitionID

const NoID = backend.NoID

// Status of a partition's contents
type Status = backend.Status

const (
	StatusValid         = backend.StatusValid
	StatusCorrupt       = backend.StatusCorrupt
	StatusUnrecognized  = backend.StatusUnrecognized
	StatusUninitialized = backend.StatusUninitialized
)

// Flags of a partition
type Flags = backend.Flags

const (
	FlagBootable           = backend.FlagBootable
	FlagPartitioningSystem = backend.FlagPartitioningSystem
	FlagFileSystem         = backend.FlagFileSystem
	FlagReadOnly           = backend.FlagReadOnly
	FlagMounted            = backend.FlagMounted
	FlagBusy               = backend.FlagBusy
	FlagDevice             = backend.FlagDevice
)

// ChangeFlags record which attributes of a shadow partition were changed
type ChangeFlags uint32

const (
	ChangedOffset ChangeFlags = 1 << iota
	ChangedSize
	ChangedContentSize
	ChangedBlockSize
	ChangedStatus
	ChangedFlags
	ChangedVolume
	ChangedName
	ChangedContentName
	ChangedType
	ChangedContentType
	ChangedParameters
	ChangedContentParameters
	ChangedChildren
	ChangedDescendants
	ChangedDefragmentation
	ChangedCheck
	ChangedRepair
	ChangedInitialization
)

var changeFlagNames = []string{
	"offset", "size", "content-size", "block-size", "status", "flags", "volume", "name",
	"content-name", "type", "content-type", "parameters", "content-parameters", "children",
	"descendants", "defragmentation", "check", "repair", "initialization",
}

func (f ChangeFlags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for i, name := range changeFlagNames {
		if f&(1<<uint(i)) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// Operations is a mask of the operations a disk system supports on a partition
type Operations uint32

const (
	OpDefragment Operations = 1 << iota
	OpRepair
	OpResize
	OpResizeChild
	OpMove
	OpMoveChild
	OpSetName
	OpSetContentName
	OpSetType
	OpSetParameters
	OpSetContentParameters
	OpCreateChild
	OpDeleteChild
	OpInitialize
)

// OpAll is the mask of every operation
const OpAll Operations = 1<<14 - 1

// DiskSystemFlags describe what kind of disk system an add-on implements
type DiskSystemFlags uint32

const (
	DiskSystemFileSystem DiskSystemFlags = 1 << iota
	DiskSystemPartitioningSystem
)
