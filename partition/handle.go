package partition

// Handle is the disk-system specific side of a shadow partition. A partitioning system
// handle validates and applies changes to the children of its partition; a file system
// handle validates and applies changes to the partition's contents.
//
// Validate methods may adjust the proposed value to the closest acceptable one (alignment,
// space limits, name length) and fail only if no acceptable value exists. Mutators apply
// the change to the shadow partitions involved.
type Handle interface {
	SupportedOperations(mask Operations) Operations
	SupportedChildOperations(child *MutablePartition, mask Operations) Operations

	// GetNextSupportedType iterates the child types the disk system accepts; cookie
	// starts at zero. It fails with ErrNotSupported once exhausted.
	GetNextSupportedType(child *MutablePartition, cookie *int) (string, error)

	Defragment() error
	Repair(checkOnly bool) error

	ValidateResize(size *int64) error
	ValidateResizeChild(child *MutablePartition, size *int64) error
	Resize(size int64) error
	ResizeChild(child *MutablePartition, size int64) error

	ValidateMove(offset *int64) error
	ValidateMoveChild(child *MutablePartition, offset *int64) error
	Move(offset int64) error
	MoveChild(child *MutablePartition, offset int64) error

	ValidateSetContentName(name *string) error
	ValidateSetName(child *MutablePartition, name *string) error
	SetContentName(name string) error
	SetName(child *MutablePartition, name string) error

	ValidateSetType(child *MutablePartition, typ string) error
	SetType(child *MutablePartition, typ string) error

	ValidateSetContentParameters(parameters string) error
	ValidateSetParameters(child *MutablePartition, parameters string) error
	SetContentParameters(parameters string) error
	SetParameters(child *MutablePartition, parameters string) error

	// ValidateCreateChild returns the index the child would get
	ValidateCreateChild(offset, size *int64, typ string, name *string, parameters string) (int, error)
	CreateChild(offset, size int64, typ, name, parameters string) (*MutablePartition, error)
	DeleteChild(child *MutablePartition) error
}

// AddOn is a disk system: it recognizes partitions of its kind and creates handles for
// them, or initializes partitions with it
type AddOn interface {
	Name() string
	Flags() DiskSystemFlags

	// CreateHandle binds a handle to a partition already carrying this disk system
	CreateHandle(p *MutablePartition) (Handle, error)

	CanInitialize(p *MutablePartition) bool
	ValidateInitialize(p *MutablePartition, name *string, parameters string) error
	// Initialize sets up the disk system on an uninitialized shadow partition
	Initialize(p *MutablePartition, name, parameters string) (Handle, error)
}

// Registry hands out add-ons by disk system name. Every successful Get must be matched
// by a Put once the add-on is no longer used.
type Registry interface {
	Get(name string) (AddOn, error)
	Put(addOn AddOn)
}

// UnsupportedHandle refuses everything. Embed it in a handle to implement only the
// operations a disk system supports.
type UnsupportedHandle struct{}

// Handle interface guard
var _ Handle = UnsupportedHandle{}

func (UnsupportedHandle) SupportedOperations(Operations) Operations { return 0 }

func (UnsupportedHandle) SupportedChildOperations(*MutablePartition, Operations) Operations {
	return 0
}

func (UnsupportedHandle) GetNextSupportedType(*MutablePartition, *int) (string, error) {
	return "", ErrNotSupported
}

func (UnsupportedHandle) Defragment() error { return ErrNotSupported }

func (UnsupportedHandle) Repair(bool) error { return ErrNotSupported }

func (UnsupportedHandle) ValidateResize(*int64) error { return ErrNotSupported }

func (UnsupportedHandle) ValidateResizeChild(*MutablePartition, *int64) error {
	return ErrNotSupported
}

func (UnsupportedHandle) Resize(int64) error { return ErrNotSupported }

func (UnsupportedHandle) ResizeChild(*MutablePartition, int64) error { return ErrNotSupported }

func (UnsupportedHandle) ValidateMove(*int64) error { return ErrNotSupported }

func (UnsupportedHandle) ValidateMoveChild(*MutablePartition, *int64) error {
	return ErrNotSupported
}

func (UnsupportedHandle) Move(int64) error { return ErrNotSupported }

func (UnsupportedHandle) MoveChild(*MutablePartition, int64) error { return ErrNotSupported }

func (UnsupportedHandle) ValidateSetContentName(*string) error { return ErrNotSupported }

func (UnsupportedHandle) ValidateSetName(*MutablePartition, *string) error {
	return ErrNotSupported
}

func (UnsupportedHandle) SetContentName(string) error { return ErrNotSupported }

func (UnsupportedHandle) SetName(*MutablePartition, string) error { return ErrNotSupported }

func (UnsupportedHandle) ValidateSetType(*MutablePartition, string) error { return ErrNotSupported }

func (UnsupportedHandle) SetType(*MutablePartition, string) error { return ErrNotSupported }

func (UnsupportedHandle) ValidateSetContentParameters(string) error { return ErrNotSupported }

func (UnsupportedHandle) ValidateSetParameters(*MutablePartition, string) error {
	return ErrNotSupported
}

func (UnsupportedHandle) SetContentParameters(string) error { return ErrNotSupported }

func (UnsupportedHandle) SetParameters(*MutablePartition, string) error { return ErrNotSupported }

func (UnsupportedHandle) ValidateCreateChild(*int64, *int64, string, *string, string) (int, error) {
	return -1, ErrNotSupported
}

func (UnsupportedHandle) CreateChild(int64, int64, string, string, string) (*MutablePartition, error) {
	return nil, ErrNotSupported
}

func (UnsupportedHandle) DeleteChild(*MutablePartition) error { return ErrNotSupported }
