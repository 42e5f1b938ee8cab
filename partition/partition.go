// Package partition provides the partition trees edited in a transaction.
//
// A Partition mirrors what the kernel reports. While modifications are prepared, every
// Partition owns a Delegate, which owns a MutablePartition (the desired state) and the
// Handle of the disk system found on it. The accessors of a Partition show the desired
// state during a transaction; Live and LiveChildren always show the kernel's view.
//
// Trees are built wholesale from backend.DeviceData and replaced wholesale by the next
// refresh, so Partition pointers must be fetched again after a transaction ends.
package partition

import (
	"github.com/diskfs/go-disktx/backend"
)

// Partition is a node of the live partition tree
type Partition struct {
	data     *backend.PartitionData
	parent   *Partition
	children []*Partition
	delegate *Delegate
}

// NewTree builds a live partition tree from kernel data. The data is copied.
func NewTree(data *backend.PartitionData) *Partition {
	return newPartition(data, nil)
}

func newPartition(data *backend.PartitionData, parent *Partition) *Partition {
	own := *data
	own.Children = nil
	p := &Partition{
		data:   &own,
		parent: parent,
	}
	for _, c := range data.Children {
		p.children = append(p.children, newPartition(c, p))
	}
	return p
}

// newShadowPartition creates the partition of a shadow child the kernel does not know yet
func newShadowPartition(parent *Partition) *Partition {
	return &Partition{
		parent: parent,
	}
}

// current returns the data the accessors show
func (p *Partition) current() *backend.PartitionData {
	if d := p.Delegate(); d != nil {
		return &d.mutable.data
	}
	return p.data
}

// Exists reports whether the kernel knows this partition; a partition created in the
// current transaction does not exist until the modifications are committed
func (p *Partition) Exists() bool {
	return p.data != nil
}

// Live returns a copy of the kernel's data for the partition without children, nil for
// a partition that does not exist yet
func (p *Partition) Live() *backend.PartitionData {
	if p.data == nil {
		return nil
	}
	c := *p.data
	return &c
}

// LiveChildren returns the children as reported by the kernel
func (p *Partition) LiveChildren() []*Partition {
	return append([]*Partition(nil), p.children...)
}

func (p *Partition) ID() ID {
	if p.data == nil {
		return NoID
	}
	return p.data.ID
}

// ChangeCounter is the kernel's change counter of the partition
func (p *Partition) ChangeCounter() backend.ChangeCounter {
	if p.data == nil {
		return 0
	}
	return p.data.ChangeCounter
}

func (p *Partition) Offset() int64             { return p.current().Offset }
func (p *Partition) Size() int64               { return p.current().Size }
func (p *Partition) ContentSize() int64        { return p.current().ContentSize }
func (p *Partition) BlockSize() int64          { return p.current().BlockSize }
func (p *Partition) Status() Status            { return p.current().Status }
func (p *Partition) Flags() Flags              { return p.current().Flags }
func (p *Partition) Volume() int64             { return p.current().Volume }
func (p *Partition) Name() string              { return p.current().Name }
func (p *Partition) ContentName() string       { return p.current().ContentName }
func (p *Partition) Type() string              { return p.current().Type }
func (p *Partition) ContentType() string       { return p.current().ContentType }
func (p *Partition) Parameters() string        { return p.current().Parameters }
func (p *Partition) ContentParameters() string { return p.current().ContentParameters }

func (p *Partition) IsMounted() bool {
	return p.Flags()&FlagMounted != 0
}

func (p *Partition) IsBusy() bool {
	return p.Flags()&(FlagBusy|FlagMounted) != 0
}

func (p *Partition) IsReadOnly() bool {
	return p.Flags()&FlagReadOnly != 0
}

// ContainsFileSystem reports whether the partition carries a recognized file system
func (p *Partition) ContainsFileSystem() bool {
	return p.Flags()&FlagFileSystem != 0
}

// ContainsPartitioningSystem reports whether the partition carries a partition map
func (p *Partition) ContainsPartitioningSystem() bool {
	return p.Flags()&FlagPartitioningSystem != 0
}

// Parent returns the parent partition, nil for the device
func (p *Partition) Parent() *Partition {
	return p.parent
}

// IsDevice reports whether the partition is the root of its tree
func (p *Partition) IsDevice() bool {
	return p.parent == nil
}

// Delegate returns the delegate while modifications are prepared, nil otherwise or when
// the partition was removed from the shadow tree
func (p *Partition) Delegate() *Delegate {
	if p.delegate == nil || p.delegate.detached {
		return nil
	}
	return p.delegate
}

// Mutable returns the shadow of the partition, nil if there is none
func (p *Partition) Mutable() *MutablePartition {
	if d := p.Delegate(); d != nil {
		return d.mutable
	}
	return nil
}

// IsModified reports whether the partition or any descendant has pending changes
func (p *Partition) IsModified() bool {
	if d := p.Delegate(); d != nil {
		return d.IsModified()
	}
	return false
}

// CountChildren counts the children in the current view
func (p *Partition) CountChildren() int {
	if d := p.Delegate(); d != nil {
		return d.mutable.CountChildren()
	}
	return len(p.children)
}

// ChildAt returns the child at index in the current view, nil if out of range
func (p *Partition) ChildAt(index int) *Partition {
	if d := p.Delegate(); d != nil {
		child := d.mutable.ChildAt(index)
		if child == nil {
			return nil
		}
		return child.delegate.partition
	}
	if index < 0 || index >= len(p.children) {
		return nil
	}
	return p.children[index]
}

// IndexOfChild returns the position of child in the current view, -1 if not found
func (p *Partition) IndexOfChild(child *Partition) int {
	for i := 0; i < p.CountChildren(); i++ {
		if p.ChildAt(i) == child {
			return i
		}
	}
	return -1
}

// CountDescendants counts the partition and everything below it in the current view
func (p *Partition) CountDescendants() int {
	count := 1
	for i := 0; i < p.CountChildren(); i++ {
		count += p.ChildAt(i).CountDescendants()
	}
	return count
}

// VisitEachDescendant walks the current view depth first, parents before children. It
// stops at and returns the first partition for which visit returns true.
func (p *Partition) VisitEachDescendant(visit func(p *Partition, level int) bool) *Partition {
	return p.visit(visit, 0)
}

func (p *Partition) visit(visit func(p *Partition, level int) bool, level int) *Partition {
	if visit(p, level) {
		return p
	}
	for i := 0; i < p.CountChildren(); i++ {
		if found := p.ChildAt(i).visit(visit, level+1); found != nil {
			return found
		}
	}
	return nil
}

// FindDescendant returns the partition with the given id in the current view
func (p *Partition) FindDescendant(id ID) *Partition {
	if id == NoID {
		return nil
	}
	return p.VisitEachDescendant(func(d *Partition, _ int) bool {
		return d.ID() == id
	})
}

// CreateDelegates opens a transaction on the tree rooted at p: every partition gets a
// delegate and a shadow copy, then the disk systems found on the shadows are bound.
func (p *Partition) CreateDelegates(registry Registry) error {
	if p.delegate != nil {
		return ErrBusy
	}
	p.createDelegate(registry, nil)
	p.bindHandles()
	return nil
}

func (p *Partition) createDelegate(registry Registry, parent *MutablePartition) {
	d := newDelegate(p, registry)
	d.mutable = newMutablePartition(d, p.data)
	if parent != nil {
		parent.insertChild(len(parent.children), d.mutable)
	}
	for _, c := range p.children {
		c.createDelegate(registry, d.mutable)
	}
}

func (p *Partition) bindHandles() {
	p.delegate.bindHandle()
	for _, c := range p.children {
		c.bindHandles()
	}
}

// DeleteDelegates ends the transaction on the tree rooted at p, releasing every disk
// system still bound to a shadow
func (p *Partition) DeleteDelegates() {
	if p.delegate == nil {
		return
	}
	if !p.delegate.detached {
		releaseShadow(p.delegate.mutable)
	}
	p.deleteDelegates()
}

func releaseShadow(m *MutablePartition) {
	for _, c := range m.children {
		releaseShadow(c)
	}
	m.delegate.releaseHandle()
}

func (p *Partition) deleteDelegates() {
	if p.delegate != nil {
		p.delegate.releaseHandle()
		p.delegate = nil
	}
	for _, c := range p.children {
		c.deleteDelegates()
	}
}
