package partition

import (
	"fmt"

	"github.com/diskfs/go-disktx/backend"
)

// MutablePartition is the shadow of a partition while modifications are prepared: it holds
// the desired state and records in its change flags what differs from the kernel's view.
//
// Children are owned by the shadow tree alone. A shadow child with no kernel id is a
// partition still to be created; a live child without shadow counterpart is one to delete.
type MutablePartition struct {
	delegate    *Delegate
	parent      *MutablePartition
	children    []*MutablePartition
	data        backend.PartitionData
	changeFlags ChangeFlags
}

func newMutablePartition(delegate *Delegate, data *backend.PartitionData) *MutablePartition {
	m := &MutablePartition{
		delegate: delegate,
	}
	if data != nil {
		m.data = *data
		m.data.Children = nil
	} else {
		m.data.ID = NoID
		m.data.Status = StatusUninitialized
	}
	return m
}

// Delegate returns the delegate owning this shadow partition
func (m *MutablePartition) Delegate() *Delegate {
	return m.delegate
}

// ID of the kernel partition this shadow mirrors, NoID for one that is still to be created
func (m *MutablePartition) ID() ID {
	return m.data.ID
}

func (m *MutablePartition) Offset() int64 {
	return m.data.Offset
}

func (m *MutablePartition) SetOffset(offset int64) {
	if m.data.Offset != offset {
		m.data.Offset = offset
		m.Changed(ChangedOffset, 0)
	}
}

func (m *MutablePartition) Size() int64 {
	return m.data.Size
}

func (m *MutablePartition) SetSize(size int64) {
	if m.data.Size != size {
		m.data.Size = size
		m.Changed(ChangedSize, 0)
	}
}

// End returns the offset just past the partition, in its parent's coordinates
func (m *MutablePartition) End() int64 {
	return m.data.Offset + m.data.Size
}

func (m *MutablePartition) ContentSize() int64 {
	return m.data.ContentSize
}

func (m *MutablePartition) SetContentSize(size int64) {
	if m.data.ContentSize != size {
		m.data.ContentSize = size
		m.Changed(ChangedContentSize, 0)
	}
}

func (m *MutablePartition) BlockSize() int64 {
	return m.data.BlockSize
}

func (m *MutablePartition) SetBlockSize(blockSize int64) {
	if m.data.BlockSize != blockSize {
		m.data.BlockSize = blockSize
		m.Changed(ChangedBlockSize, 0)
	}
}

func (m *MutablePartition) Status() Status {
	return m.data.Status
}

func (m *MutablePartition) SetStatus(status Status) {
	if m.data.Status != status {
		m.data.Status = status
		m.Changed(ChangedStatus, 0)
	}
}

func (m *MutablePartition) Flags() Flags {
	return m.data.Flags
}

// SetFlags adds flags
func (m *MutablePartition) SetFlags(flags Flags) {
	if flags&^m.data.Flags != 0 {
		m.data.Flags |= flags
		m.Changed(ChangedFlags, 0)
	}
}

// ClearFlags removes flags
func (m *MutablePartition) ClearFlags(flags Flags) {
	if flags&m.data.Flags != 0 {
		m.data.Flags &^= flags
		m.Changed(ChangedFlags, 0)
	}
}

func (m *MutablePartition) Volume() int64 {
	return m.data.Volume
}

func (m *MutablePartition) SetVolume(volume int64) {
	if m.data.Volume != volume {
		m.data.Volume = volume
		m.Changed(ChangedVolume, 0)
	}
}

func (m *MutablePartition) Name() string {
	return m.data.Name
}

func (m *MutablePartition) SetName(name string) {
	if m.data.Name != name {
		m.data.Name = name
		m.Changed(ChangedName, 0)
	}
}

func (m *MutablePartition) ContentName() string {
	return m.data.ContentName
}

func (m *MutablePartition) SetContentName(name string) {
	if m.data.ContentName != name {
		m.data.ContentName = name
		m.Changed(ChangedContentName, 0)
	}
}

func (m *MutablePartition) Type() string {
	return m.data.Type
}

func (m *MutablePartition) SetType(typ string) {
	if m.data.Type != typ {
		m.data.Type = typ
		m.Changed(ChangedType, 0)
	}
}

func (m *MutablePartition) ContentType() string {
	return m.data.ContentType
}

// SetContentType changes the disk system of the partition, which always means the
// partition has to be initialized anew.
func (m *MutablePartition) SetContentType(typ string) {
	if m.data.ContentType != typ {
		m.data.ContentType = typ
		m.Changed(ChangedContentType|ChangedInitialization, 0)
	}
}

func (m *MutablePartition) Parameters() string {
	return m.data.Parameters
}

func (m *MutablePartition) SetParameters(parameters string) {
	if m.data.Parameters != parameters {
		m.data.Parameters = parameters
		m.Changed(ChangedParameters, 0)
	}
}

func (m *MutablePartition) ContentParameters() string {
	return m.data.ContentParameters
}

func (m *MutablePartition) SetContentParameters(parameters string) {
	if m.data.ContentParameters != parameters {
		m.data.ContentParameters = parameters
		m.Changed(ChangedContentParameters, 0)
	}
}

// ChangeFlags returns what was changed in this partition. ChangedDescendants is set when
// anything below it changed.
func (m *MutablePartition) ChangeFlags() ChangeFlags {
	return m.changeFlags
}

// Changed clears clearFlags, then sets flags, and marks every ancestor as having a
// changed descendant
func (m *MutablePartition) Changed(flags, clearFlags ChangeFlags) {
	m.changeFlags &^= clearFlags
	m.changeFlags |= flags
	for p := m.parent; p != nil; p = p.parent {
		p.changeFlags |= ChangedDescendants
	}
}

// UninitializeContents drops everything on the partition: its children and all content
// attributes. This is how a partition is prepared for a new disk system.
func (m *MutablePartition) UninitializeContents() {
	m.DeleteAllChildren()
	m.SetVolume(0)
	m.SetContentName("")
	m.SetContentParameters("")
	m.SetContentSize(0)
	if m.parent != nil {
		m.SetBlockSize(m.parent.BlockSize())
	}
	m.SetContentType("")
	m.SetStatus(StatusUninitialized)
	m.ClearFlags(FlagFileSystem | FlagPartitioningSystem)
}

// Parent returns the shadow parent, nil for the device
func (m *MutablePartition) Parent() *MutablePartition {
	return m.parent
}

func (m *MutablePartition) CountChildren() int {
	return len(m.children)
}

// ChildAt returns the child at index, nil if out of range
func (m *MutablePartition) ChildAt(index int) *MutablePartition {
	if index < 0 || index >= len(m.children) {
		return nil
	}
	return m.children[index]
}

// IndexOfChild returns the position of child, -1 if it is not a child of m
func (m *MutablePartition) IndexOfChild(child *MutablePartition) int {
	for i, c := range m.children {
		if c == child {
			return i
		}
	}
	return -1
}

// ChildWithID returns the child mirroring the kernel partition id
func (m *MutablePartition) ChildWithID(id ID) *MutablePartition {
	if id == NoID {
		return nil
	}
	for _, c := range m.children {
		if c.data.ID == id {
			return c
		}
	}
	return nil
}

// CreateChild adds a new shadow child at index (-1 appends). The child gets its own
// delegate and stays uninitialized; placing it is left to the caller.
func (m *MutablePartition) CreateChild(index int, typ, name, parameters string) (*MutablePartition, error) {
	if index < 0 {
		index = len(m.children)
	}
	if index > len(m.children) {
		return nil, fmt.Errorf("child index %d out of range: %w", index, ErrBadValue)
	}
	delegate := newDelegate(newShadowPartition(m.delegate.partition), m.delegate.registry)
	child := newMutablePartition(delegate, nil)
	child.data.BlockSize = m.data.BlockSize
	child.data.Type = typ
	child.data.Name = name
	child.data.Parameters = parameters
	delegate.mutable = child
	m.insertChild(index, child)
	m.Changed(ChangedChildren, 0)
	return child, nil
}

func (m *MutablePartition) insertChild(index int, child *MutablePartition) {
	child.parent = m
	m.children = append(m.children, nil)
	copy(m.children[index+1:], m.children[index:])
	m.children[index] = child
}

// DeleteChild removes the child at index from the shadow tree
func (m *MutablePartition) DeleteChild(index int) error {
	child := m.ChildAt(index)
	if child == nil {
		return fmt.Errorf("child index %d out of range: %w", index, ErrBadValue)
	}
	m.children = append(m.children[:index], m.children[index+1:]...)
	child.detach()
	m.Changed(ChangedChildren, 0)
	return nil
}

// DeleteChildPartition removes child from the shadow tree
func (m *MutablePartition) DeleteChildPartition(child *MutablePartition) error {
	index := m.IndexOfChild(child)
	if index < 0 {
		return fmt.Errorf("partition is not a child: %w", ErrBadValue)
	}
	return m.DeleteChild(index)
}

// DeleteAllChildren empties the shadow child list
func (m *MutablePartition) DeleteAllChildren() {
	if len(m.children) == 0 {
		return
	}
	children := m.children
	m.children = nil
	for _, c := range children {
		c.detach()
	}
	m.Changed(ChangedChildren, 0)
}

// detach cuts the subtree loose and releases the disk systems bound to it
func (m *MutablePartition) detach() {
	for _, c := range m.children {
		c.detach()
	}
	m.parent = nil
	m.delegate.detach()
}
