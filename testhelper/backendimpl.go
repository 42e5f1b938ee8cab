package testhelper

import (
	"github.com/diskfs/go-disktx/backend"
)

type (
	idCall     func(id backend.PartitionID, counter *backend.ChangeCounter) error
	pairCall   func(parentID backend.PartitionID, parentCounter *backend.ChangeCounter, childID backend.PartitionID, childCounter *backend.ChangeCounter) error
	createCall func(parentID backend.PartitionID, parentCounter *backend.ChangeCounter, offset, size int64) (backend.PartitionID, backend.ChangeCounter, error)
)

// BackendImpl implements github.com/diskfs/go-disktx/backend/Backend
// used for testing to enable stubbing out the kernel. Calls without a stub fail with
// backend.ErrNotSupported. Calls records the primitive names in order.
type BackendImpl struct {
	Device     func(id backend.PartitionID) (*backend.DeviceData, error)
	Content    idCall
	Child      pairCall
	Initialize idCall
	Create     createCall
	Delete     pairCall
	Calls      []string
}

func (b *BackendImpl) content(name string, id backend.PartitionID, counter *backend.ChangeCounter) error {
	b.Calls = append(b.Calls, name)
	if b.Content == nil {
		return backend.ErrNotSupported
	}
	return b.Content(id, counter)
}

func (b *BackendImpl) child(name string, parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter) error {
	b.Calls = append(b.Calls, name)
	if b.Child == nil {
		return backend.ErrNotSupported
	}
	return b.Child(parentID, parentCounter, childID, childCounter)
}

func (b *BackendImpl) GetDiskDeviceData(id backend.PartitionID, deviceOnly bool) (*backend.DeviceData, error) {
	if b.Device == nil {
		return nil, backend.ErrNotSupported
	}
	return b.Device(id)
}

func (b *BackendImpl) DefragmentPartition(id backend.PartitionID, counter *backend.ChangeCounter) error {
	return b.content("defragment", id, counter)
}

func (b *BackendImpl) RepairPartition(id backend.PartitionID, counter *backend.ChangeCounter, checkOnly bool) error {
	return b.content("repair", id, counter)
}

func (b *BackendImpl) ResizePartition(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter, size, contentSize int64) error {
	return b.child("resize", parentID, parentCounter, childID, childCounter)
}

func (b *BackendImpl) MovePartition(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter, offset int64) error {
	return b.child("move", parentID, parentCounter, childID, childCounter)
}

func (b *BackendImpl) SetPartitionName(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter, name string) error {
	return b.child("set-name", parentID, parentCounter, childID, childCounter)
}

func (b *BackendImpl) SetPartitionType(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter, typ string) error {
	return b.child("set-type", parentID, parentCounter, childID, childCounter)
}

func (b *BackendImpl) SetPartitionParameters(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter, parameters string) error {
	return b.child("set-parameters", parentID, parentCounter, childID, childCounter)
}

func (b *BackendImpl) SetPartitionContentName(id backend.PartitionID, counter *backend.ChangeCounter, name string) error {
	return b.content("set-content-name", id, counter)
}

func (b *BackendImpl) SetPartitionContentParameters(id backend.PartitionID, counter *backend.ChangeCounter, parameters string) error {
	return b.content("set-content-parameters", id, counter)
}

func (b *BackendImpl) InitializePartition(id backend.PartitionID, counter *backend.ChangeCounter,
	diskSystem, name, parameters string) error {
	b.Calls = append(b.Calls, "initialize")
	if b.Initialize == nil {
		return backend.ErrNotSupported
	}
	return b.Initialize(id, counter)
}

func (b *BackendImpl) UninitializePartition(id backend.PartitionID, counter *backend.ChangeCounter,
	parentID backend.PartitionID, parentCounter *backend.ChangeCounter) error {
	return b.content("uninitialize", id, counter)
}

func (b *BackendImpl) CreateChildPartition(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	offset, size int64, typ, name, parameters string) (backend.PartitionID, backend.ChangeCounter, error) {
	b.Calls = append(b.Calls, "create-child")
	if b.Create == nil {
		return backend.NoID, 0, backend.ErrNotSupported
	}
	return b.Create(parentID, parentCounter, offset, size)
}

func (b *BackendImpl) DeleteChildPartition(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter backend.ChangeCounter) error {
	b.Calls = append(b.Calls, "delete-child")
	if b.Delete == nil {
		return backend.ErrNotSupported
	}
	return b.Delete(parentID, parentCounter, childID, &childCounter)
}
