// Package job holds the kernel operations a transaction is committed with.
//
// Each Job performs exactly one backend mutation. Jobs address partitions only through
// References, never through the partition trees, because the trees are stale as soon as
// the first job of a queue has run.
package job

import (
	"errors"
	"fmt"

	"github.com/diskfs/go-disktx/backend"
)

var (
	ErrAlreadyExecuted = errors.New("queue was already executed")
	ErrUnresolved      = errors.New("partition reference was never resolved")
)

// Kind of a job
type Kind int

const (
	KindInitialize Kind = iota
	KindUninitialize
	KindCreateChild
	KindDeleteChild
	KindResize
	KindMove
	KindSetName
	KindSetType
	KindSetParameters
	KindSetContentName
	KindSetContentParameters
	KindDefragment
	KindRepair
)

var kindNames = map[Kind]string{
	KindInitialize:           "initialize",
	KindUninitialize:         "uninitialize",
	KindCreateChild:          "create-child",
	KindDeleteChild:          "delete-child",
	KindResize:               "resize",
	KindMove:                 "move",
	KindSetName:              "set-name",
	KindSetType:              "set-type",
	KindSetParameters:        "set-parameters",
	KindSetContentName:       "set-content-name",
	KindSetContentParameters: "set-content-parameters",
	KindDefragment:           "defragment",
	KindRepair:               "repair",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Job is one kernel operation. A job is immutable once created; executing it updates the
// References it holds.
type Job interface {
	// Do performs the operation. Backend errors are returned unchanged.
	Do(b backend.Backend) error
	Kind() Kind
	// References returns the partitions the job touches, parent first
	References() []*Reference
	String() string
}

func resolved(refs ...*Reference) error {
	for _, r := range refs {
		if r.id == backend.NoID {
			return ErrUnresolved
		}
	}
	return nil
}

// Initialize puts a disk system on an uninitialized partition
type Initialize struct {
	partition  *Reference
	diskSystem string
	name       string
	parameters string
}

func NewInitialize(p *Reference, diskSystem, name, parameters string) *Initialize {
	return &Initialize{
		partition:  p,
		diskSystem: diskSystem,
		name:       name,
		parameters: parameters,
	}
}

func (j *Initialize) Do(b backend.Backend) error {
	if err := resolved(j.partition); err != nil {
		return err
	}
	counter := j.partition.counter
	if err := b.InitializePartition(j.partition.id, &counter, j.diskSystem, j.name, j.parameters); err != nil {
		return err
	}
	j.partition.counter = counter
	return nil
}

func (j *Initialize) Kind() Kind               { return KindInitialize }
func (j *Initialize) References() []*Reference { return []*Reference{j.partition} }
func (j *Initialize) DiskSystem() string       { return j.diskSystem }

func (j *Initialize) String() string {
	return fmt.Sprintf("initialize %s with %q name=%q parameters=%q", j.partition, j.diskSystem, j.name, j.parameters)
}

// Uninitialize drops the disk system of a partition and everything on it. The parent is
// nil for a device.
type Uninitialize struct {
	partition *Reference
	parent    *Reference
}

func NewUninitialize(p, parent *Reference) *Uninitialize {
	return &Uninitialize{
		partition: p,
		parent:    parent,
	}
}

func (j *Uninitialize) Do(b backend.Backend) error {
	if err := resolved(j.partition); err != nil {
		return err
	}
	counter := j.partition.counter
	parentID := backend.NoID
	var parentCounter backend.ChangeCounter
	if j.parent != nil {
		if err := resolved(j.parent); err != nil {
			return err
		}
		parentID = j.parent.id
		parentCounter = j.parent.counter
	}
	if err := b.UninitializePartition(j.partition.id, &counter, parentID, &parentCounter); err != nil {
		return err
	}
	j.partition.counter = counter
	if j.parent != nil {
		j.parent.counter = parentCounter
	}
	return nil
}

func (j *Uninitialize) Kind() Kind { return KindUninitialize }

func (j *Uninitialize) References() []*Reference {
	if j.parent == nil {
		return []*Reference{j.partition}
	}
	return []*Reference{j.parent, j.partition}
}

func (j *Uninitialize) String() string {
	return fmt.Sprintf("uninitialize %s", j.partition)
}

// CreateChild creates a partition. On success the child Reference is set to the new
// partition, so later jobs can address it.
type CreateChild struct {
	parent     *Reference
	child      *Reference
	offset     int64
	size       int64
	typ        string
	name       string
	parameters string
}

func NewCreateChild(parent, child *Reference, offset, size int64, typ, name, parameters string) *CreateChild {
	return &CreateChild{
		parent:     parent,
		child:      child,
		offset:     offset,
		size:       size,
		typ:        typ,
		name:       name,
		parameters: parameters,
	}
}

func (j *CreateChild) Do(b backend.Backend) error {
	if err := resolved(j.parent); err != nil {
		return err
	}
	parentCounter := j.parent.counter
	id, counter, err := b.CreateChildPartition(j.parent.id, &parentCounter, j.offset, j.size, j.typ, j.name, j.parameters)
	if err != nil {
		return err
	}
	j.parent.counter = parentCounter
	j.child.SetTo(id, counter)
	return nil
}

func (j *CreateChild) Kind() Kind               { return KindCreateChild }
func (j *CreateChild) References() []*Reference { return []*Reference{j.parent, j.child} }

func (j *CreateChild) String() string {
	return fmt.Sprintf("create child of %s offset=%d size=%d type=%q name=%q", j.parent, j.offset, j.size, j.typ, j.name)
}

// DeleteChild deletes a partition
type DeleteChild struct {
	parent *Reference
	child  *Reference
}

func NewDeleteChild(parent, child *Reference) *DeleteChild {
	return &DeleteChild{
		parent: parent,
		child:  child,
	}
}

func (j *DeleteChild) Do(b backend.Backend) error {
	if err := resolved(j.parent, j.child); err != nil {
		return err
	}
	parentCounter := j.parent.counter
	if err := b.DeleteChildPartition(j.parent.id, &parentCounter, j.child.id, j.child.counter); err != nil {
		return err
	}
	j.parent.counter = parentCounter
	return nil
}

func (j *DeleteChild) Kind() Kind               { return KindDeleteChild }
func (j *DeleteChild) References() []*Reference { return []*Reference{j.parent, j.child} }

func (j *DeleteChild) String() string {
	return fmt.Sprintf("delete %s from %s", j.child, j.parent)
}

// Resize changes the size of a partition and of its contents
type Resize struct {
	parent      *Reference
	child       *Reference
	size        int64
	contentSize int64
}

func NewResize(parent, child *Reference, size, contentSize int64) *Resize {
	return &Resize{
		parent:      parent,
		child:       child,
		size:        size,
		contentSize: contentSize,
	}
}

func (j *Resize) Do(b backend.Backend) error {
	if err := resolved(j.parent, j.child); err != nil {
		return err
	}
	parentCounter, childCounter := j.parent.counter, j.child.counter
	if err := b.ResizePartition(j.parent.id, &parentCounter, j.child.id, &childCounter, j.size, j.contentSize); err != nil {
		return err
	}
	j.parent.counter = parentCounter
	j.child.counter = childCounter
	return nil
}

func (j *Resize) Kind() Kind               { return KindResize }
func (j *Resize) References() []*Reference { return []*Reference{j.parent, j.child} }
func (j *Resize) Size() int64              { return j.size }

func (j *Resize) String() string {
	return fmt.Sprintf("resize %s to %d (contents %d)", j.child, j.size, j.contentSize)
}

// Move places a partition at a new offset within its parent
type Move struct {
	parent *Reference
	child  *Reference
	offset int64
}

func NewMove(parent, child *Reference, offset int64) *Move {
	return &Move{
		parent: parent,
		child:  child,
		offset: offset,
	}
}

func (j *Move) Do(b backend.Backend) error {
	if err := resolved(j.parent, j.child); err != nil {
		return err
	}
	parentCounter, childCounter := j.parent.counter, j.child.counter
	if err := b.MovePartition(j.parent.id, &parentCounter, j.child.id, &childCounter, j.offset); err != nil {
		return err
	}
	j.parent.counter = parentCounter
	j.child.counter = childCounter
	return nil
}

func (j *Move) Kind() Kind               { return KindMove }
func (j *Move) References() []*Reference { return []*Reference{j.parent, j.child} }
func (j *Move) Offset() int64            { return j.offset }

func (j *Move) String() string {
	return fmt.Sprintf("move %s to %d", j.child, j.offset)
}

// SetString sets one string attribute of a partition. Names, types and parameters are
// kept by the parent's partitioning system and need the parent reference; content names
// and content parameters do not.
type SetString struct {
	kind   Kind
	parent *Reference
	child  *Reference
	value  string
}

// NewSetString creates a job of one of the kinds KindSetName, KindSetType,
// KindSetParameters, KindSetContentName and KindSetContentParameters. parent is ignored
// for the content kinds.
func NewSetString(kind Kind, parent, child *Reference, value string) (*SetString, error) {
	switch kind {
	case KindSetName, KindSetType, KindSetParameters:
		if parent == nil {
			return nil, fmt.Errorf("%s needs the parent partition", kind)
		}
	case KindSetContentName, KindSetContentParameters:
		parent = nil
	default:
		return nil, fmt.Errorf("%s does not set a string", kind)
	}
	return &SetString{
		kind:   kind,
		parent: parent,
		child:  child,
		value:  value,
	}, nil
}

func (j *SetString) Do(b backend.Backend) error {
	if err := resolved(j.child); err != nil {
		return err
	}
	childCounter := j.child.counter
	if j.parent == nil {
		var err error
		switch j.kind {
		case KindSetContentName:
			err = b.SetPartitionContentName(j.child.id, &childCounter, j.value)
		default:
			err = b.SetPartitionContentParameters(j.child.id, &childCounter, j.value)
		}
		if err != nil {
			return err
		}
		j.child.counter = childCounter
		return nil
	}

	if err := resolved(j.parent); err != nil {
		return err
	}
	parentCounter := j.parent.counter
	var err error
	switch j.kind {
	case KindSetName:
		err = b.SetPartitionName(j.parent.id, &parentCounter, j.child.id, &childCounter, j.value)
	case KindSetType:
		err = b.SetPartitionType(j.parent.id, &parentCounter, j.child.id, &childCounter, j.value)
	default:
		err = b.SetPartitionParameters(j.parent.id, &parentCounter, j.child.id, &childCounter, j.value)
	}
	if err != nil {
		return err
	}
	j.parent.counter = parentCounter
	j.child.counter = childCounter
	return nil
}

func (j *SetString) Kind() Kind    { return j.kind }
func (j *SetString) Value() string { return j.value }

func (j *SetString) References() []*Reference {
	if j.parent == nil {
		return []*Reference{j.child}
	}
	return []*Reference{j.parent, j.child}
}

func (j *SetString) String() string {
	return fmt.Sprintf("%s %s to %q", j.kind, j.child, j.value)
}

// Defragment defragments the contents of a partition
type Defragment struct {
	partition *Reference
}

func NewDefragment(p *Reference) *Defragment {
	return &Defragment{partition: p}
}

func (j *Defragment) Do(b backend.Backend) error {
	if err := resolved(j.partition); err != nil {
		return err
	}
	counter := j.partition.counter
	if err := b.DefragmentPartition(j.partition.id, &counter); err != nil {
		return err
	}
	j.partition.counter = counter
	return nil
}

func (j *Defragment) Kind() Kind               { return KindDefragment }
func (j *Defragment) References() []*Reference { return []*Reference{j.partition} }

func (j *Defragment) String() string {
	return fmt.Sprintf("defragment %s", j.partition)
}

// Repair checks, and unless checkOnly is set repairs, the contents of a partition
type Repair struct {
	partition *Reference
	checkOnly bool
}

func NewRepair(p *Reference, checkOnly bool) *Repair {
	return &Repair{
		partition: p,
		checkOnly: checkOnly,
	}
}

func (j *Repair) Do(b backend.Backend) error {
	if err := resolved(j.partition); err != nil {
		return err
	}
	counter := j.partition.counter
	if err := b.RepairPartition(j.partition.id, &counter, j.checkOnly); err != nil {
		return err
	}
	j.partition.counter = counter
	return nil
}

func (j *Repair) Kind() Kind               { return KindRepair }
func (j *Repair) References() []*Reference { return []*Reference{j.partition} }
func (j *Repair) CheckOnly() bool          { return j.checkOnly }

func (j *Repair) String() string {
	if j.checkOnly {
		return fmt.Sprintf("check %s", j.partition)
	}
	return fmt.Sprintf("repair %s", j.partition)
}

// Job interface guards
var (
	_ Job = (*Initialize)(nil)
	_ Job = (*Uninitialize)(nil)
	_ Job = (*CreateChild)(nil)
	_ Job = (*DeleteChild)(nil)
	_ Job = (*Resize)(nil)
	_ Job = (*Move)(nil)
	_ Job = (*SetString)(nil)
	_ Job = (*Defragment)(nil)
	_ Job = (*Repair)(nil)
)
