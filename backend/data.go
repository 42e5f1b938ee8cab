package backend

import "fmt"

// PartitionID identifies a partition for as long as the kernel knows it
type PartitionID int32

// NoID is the id of a partition that does not exist (yet)
const NoID PartitionID = -1

// ChangeCounter is bumped by the kernel on every successful mutation of a partition
type ChangeCounter uint32

// Status is the state of a partition's contents
type Status int

const (
	StatusValid Status = iota
	StatusCorrupt
	StatusUnrecognized
	StatusUninitialized
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusCorrupt:
		return "corrupt"
	case StatusUnrecognized:
		return "unrecognized"
	case StatusUninitialized:
		return "uninitialized"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Flags are the partition flags reported by the kernel
type Flags uint32

const (
	FlagBootable Flags = 1 << iota
	FlagPartitioningSystem
	FlagFileSystem
	FlagReadOnly
	FlagMounted
	FlagBusy
	FlagDevice
)

// DeviceFlags describe the medium backing a device
type DeviceFlags uint32

const (
	DeviceHasMedia DeviceFlags = 1 << iota
	DeviceRemovable
	DeviceReadOnly
	DeviceWriteOnce
	DeviceFileBacked
)

// PartitionData is the kernel's view of one partition. Offsets are relative to the start
// of the parent partition.
type PartitionData struct {
	ID                PartitionID      `yaml:"id"`
	Offset            int64            `yaml:"offset"`
	Size              int64            `yaml:"size"`
	ContentSize       int64            `yaml:"content_size,omitempty"`
	BlockSize         int64            `yaml:"block_size"`
	Status            Status           `yaml:"status"`
	Flags             Flags            `yaml:"flags,omitempty"`
	Volume            int64            `yaml:"volume,omitempty"`
	ChangeCounter     ChangeCounter    `yaml:"change_counter"`
	Name              string           `yaml:"name,omitempty"`
	ContentName       string           `yaml:"content_name,omitempty"`
	Type              string           `yaml:"type,omitempty"`
	ContentType       string           `yaml:"content_type,omitempty"`
	Parameters        string           `yaml:"parameters,omitempty"`
	ContentParameters string           `yaml:"content_parameters,omitempty"`
	Children          []*PartitionData `yaml:"children,omitempty"`
}

// Clone returns a deep copy of the partition data and all descendants
func (p *PartitionData) Clone() *PartitionData {
	if p == nil {
		return nil
	}
	c := *p
	c.Children = make([]*PartitionData, len(p.Children))
	for i, child := range p.Children {
		c.Children[i] = child.Clone()
	}
	return &c
}

// End returns the offset just past the partition, in its parent's coordinates
func (p *PartitionData) End() int64 {
	return p.Offset + p.Size
}

// DeviceData is the kernel's view of a disk device: its root partition plus device state
type DeviceData struct {
	PartitionData `yaml:",inline"`
	Path          string        `yaml:"path"`
	DeviceFlags   DeviceFlags   `yaml:"device_flags"`
	Generation    ChangeCounter `yaml:"generation"`
}

// Clone returns a deep copy of the device data
func (d *DeviceData) Clone() *DeviceData {
	if d == nil {
		return nil
	}
	c := *d
	c.PartitionData = *d.PartitionData.Clone()
	return &c
}
