package backend

import (
	"errors"
)

// status codes returned by the kernel boundary; jobs hand them back verbatim
var (
	ErrBadChangeCounter = errors.New("partition change counter does not match")
	ErrBusy             = errors.New("partition is busy")
	ErrNotFound         = errors.New("partition not found")
	ErrBadValue         = errors.New("bad value")
	ErrIO               = errors.New("i/o error")
	ErrNotSupported     = errors.New("operation not supported by backend")
)

// Backend is the kernel side of partition management. Every mutating call takes the
// change counters of the partitions it touches by pointer: the call fails with
// ErrBadChangeCounter if a counter is stale and updates it on success.
type Backend interface {
	GetDiskDeviceData(id PartitionID, deviceOnly bool) (*DeviceData, error)

	DefragmentPartition(id PartitionID, counter *ChangeCounter) error
	RepairPartition(id PartitionID, counter *ChangeCounter, checkOnly bool) error

	ResizePartition(parentID PartitionID, parentCounter *ChangeCounter, childID PartitionID,
		childCounter *ChangeCounter, size, contentSize int64) error
	MovePartition(parentID PartitionID, parentCounter *ChangeCounter, childID PartitionID,
		childCounter *ChangeCounter, offset int64) error

	SetPartitionName(parentID PartitionID, parentCounter *ChangeCounter, childID PartitionID,
		childCounter *ChangeCounter, name string) error
	SetPartitionType(parentID PartitionID, parentCounter *ChangeCounter, childID PartitionID,
		childCounter *ChangeCounter, typ string) error
	SetPartitionParameters(parentID PartitionID, parentCounter *ChangeCounter, childID PartitionID,
		childCounter *ChangeCounter, parameters string) error
	SetPartitionContentName(id PartitionID, counter *ChangeCounter, name string) error
	SetPartitionContentParameters(id PartitionID, counter *ChangeCounter, parameters string) error

	InitializePartition(id PartitionID, counter *ChangeCounter, diskSystem, name, parameters string) error
	UninitializePartition(id PartitionID, counter *ChangeCounter, parentID PartitionID,
		parentCounter *ChangeCounter) error

	CreateChildPartition(parentID PartitionID, parentCounter *ChangeCounter, offset, size int64,
		typ, name, parameters string) (PartitionID, ChangeCounter, error)
	DeleteChildPartition(parentID PartitionID, parentCounter *ChangeCounter, childID PartitionID,
		childCounter ChangeCounter) error
}

// Syncer is implemented by backends that buffer state and can flush it on request
type Syncer interface {
	Sync(deviceID PartitionID) error
}
