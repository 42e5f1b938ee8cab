package addon

import (
	"fmt"
	"unicode/utf8"

	"github.com/diskfs/go-disktx/partition"
)

const defaultBlockSize = 512

// Layout describes a partition map format: where children may be placed and which
// attributes they carry. Reserved areas and alignment are counted in blocks of the
// partition carrying the map.
type Layout struct {
	Name              string
	MaxChildren       int
	ReservedBlocks    int64
	ReservedEndBlocks int64
	AlignmentBlocks   int64
	// NameLength is the longest child name in characters, 0 if children have no names
	NameLength int
	// Types lists the child types offered to users
	Types []string
	// ValidateType and ValidateParameters check child attributes
	ValidateType       func(typ string) error
	ValidateParameters func(parameters string) error
	// NewParameters returns the parameters of a child created without any
	NewParameters func() string
}

// PartitionMap is a partitioning system add-on for a Layout
type PartitionMap struct {
	layout Layout
}

// partition.AddOn interface guard
var _ partition.AddOn = (*PartitionMap)(nil)

func NewPartitionMap(layout Layout) *PartitionMap {
	return &PartitionMap{layout: layout}
}

func (a *PartitionMap) Name() string {
	return a.layout.Name
}

func (a *PartitionMap) Flags() partition.DiskSystemFlags {
	return partition.DiskSystemPartitioningSystem
}

func (a *PartitionMap) CreateHandle(p *partition.MutablePartition) (partition.Handle, error) {
	if p.ContentType() != a.layout.Name {
		return nil, fmt.Errorf("partition %d contains %q, not %q: %w", p.ID(), p.ContentType(), a.layout.Name, partition.ErrBadValue)
	}
	return &mapHandle{layout: &a.layout, partition: p}, nil
}

func (a *PartitionMap) CanInitialize(p *partition.MutablePartition) bool {
	h := &mapHandle{layout: &a.layout, partition: p}
	first, end := h.usableFor(p.Size())
	return !isBusy(p) && end-first >= h.alignment()
}

// ValidateInitialize clears the name, partition maps have none
func (a *PartitionMap) ValidateInitialize(p *partition.MutablePartition, name *string, parameters string) error {
	*name = ""
	return nil
}

func (a *PartitionMap) Initialize(p *partition.MutablePartition, name, parameters string) (partition.Handle, error) {
	if !a.CanInitialize(p) {
		return nil, partition.ErrNotSupported
	}
	if name != "" {
		return nil, partition.ErrBadValue
	}
	p.UninitializeContents()
	p.SetContentType(a.layout.Name)
	p.SetContentParameters(parameters)
	p.SetContentSize(p.Size())
	p.SetStatus(partition.StatusValid)
	p.SetFlags(partition.FlagPartitioningSystem)
	return &mapHandle{layout: &a.layout, partition: p}, nil
}

func isBusy(p *partition.MutablePartition) bool {
	return p.Flags()&(partition.FlagBusy|partition.FlagMounted) != 0
}

type mapHandle struct {
	partition.UnsupportedHandle
	layout    *Layout
	partition *partition.MutablePartition
}

func (h *mapHandle) blockSize() int64 {
	if bs := h.partition.BlockSize(); bs > 0 {
		return bs
	}
	return defaultBlockSize
}

func (h *mapHandle) alignment() int64 {
	if h.layout.AlignmentBlocks <= 1 {
		return h.blockSize()
	}
	return h.layout.AlignmentBlocks * h.blockSize()
}

// usable returns the area children may occupy for a map spanning size bytes
func (h *mapHandle) usableFor(size int64) (first, end int64) {
	first = alignUp(h.layout.ReservedBlocks*h.blockSize(), h.alignment())
	end = alignDown(size-h.layout.ReservedEndBlocks*h.blockSize(), h.blockSize())
	return first, end
}

func (h *mapHandle) usable() (first, end int64) {
	return h.usableFor(h.partition.ContentSize())
}

func alignUp(v, alignment int64) int64 {
	return (v + alignment - 1) / alignment * alignment
}

func alignDown(v, alignment int64) int64 {
	if v < 0 {
		return 0
	}
	return v / alignment * alignment
}

// overlaps reports a sibling of except overlapping [offset, offset+size)
func (h *mapHandle) overlaps(except *partition.MutablePartition, offset, size int64) bool {
	for i := 0; i < h.partition.CountChildren(); i++ {
		c := h.partition.ChildAt(i)
		if c == except {
			continue
		}
		if offset < c.End() && c.Offset() < offset+size {
			return true
		}
	}
	return false
}

// limit returns where the free space following offset ends
func (h *mapHandle) limit(except *partition.MutablePartition, offset int64) int64 {
	_, end := h.usable()
	for i := 0; i < h.partition.CountChildren(); i++ {
		c := h.partition.ChildAt(i)
		if c != except && c.Offset() >= offset && c.Offset() < end {
			end = c.Offset()
		}
	}
	return end
}

func (h *mapHandle) SupportedOperations(mask partition.Operations) partition.Operations {
	ops := partition.OpResize | partition.OpMove | partition.OpSetContentParameters | partition.OpInitialize
	if h.partition.CountChildren() < h.layout.MaxChildren {
		ops |= partition.OpCreateChild
	}
	if h.partition.CountChildren() > 0 {
		ops |= partition.OpDeleteChild
	}
	return ops & mask
}

func (h *mapHandle) SupportedChildOperations(child *partition.MutablePartition, mask partition.Operations) partition.Operations {
	ops := partition.OpSetType | partition.OpSetParameters
	if !isBusy(child) {
		ops |= partition.OpResizeChild | partition.OpMoveChild
	}
	if h.layout.NameLength > 0 {
		ops |= partition.OpSetName
	}
	return ops & mask
}

func (h *mapHandle) GetNextSupportedType(child *partition.MutablePartition, cookie *int) (string, error) {
	if *cookie < 0 || *cookie >= len(h.layout.Types) {
		return "", partition.ErrNotSupported
	}
	typ := h.layout.Types[*cookie]
	*cookie++
	return typ, nil
}

// ValidateResize keeps every child inside the map
func (h *mapHandle) ValidateResize(size *int64) error {
	*size = alignDown(*size, h.blockSize())
	_, end := h.usableFor(*size)
	for i := 0; i < h.partition.CountChildren(); i++ {
		if c := h.partition.ChildAt(i); c.End() > end {
			*size += c.End() - end
			end = c.End()
		}
	}
	return nil
}

func (h *mapHandle) Resize(size int64) error {
	h.partition.SetContentSize(size)
	return nil
}

func (h *mapHandle) ValidateResizeChild(child *partition.MutablePartition, size *int64) error {
	if h.partition.IndexOfChild(child) < 0 {
		return partition.ErrBadValue
	}
	*size = alignDown(*size, h.blockSize())
	if room := h.limit(child, child.Offset()+1) - child.Offset(); *size > room {
		*size = alignDown(room, h.blockSize())
	}
	if *size <= 0 {
		return partition.ErrBadValue
	}
	return nil
}

func (h *mapHandle) ResizeChild(child *partition.MutablePartition, size int64) error {
	child.SetSize(size)
	return nil
}

// ValidateMove accepts any offset, children move along with the map
func (h *mapHandle) ValidateMove(offset *int64) error {
	return nil
}

func (h *mapHandle) Move(offset int64) error {
	return nil
}

func (h *mapHandle) ValidateMoveChild(child *partition.MutablePartition, offset *int64) error {
	if h.partition.IndexOfChild(child) < 0 {
		return partition.ErrBadValue
	}
	first, end := h.usable()
	*offset = alignDown(*offset, h.alignment())
	if *offset < first {
		*offset = first
	}
	if *offset+child.Size() > end {
		*offset = alignDown(end-child.Size(), h.alignment())
	}
	if *offset < first || h.overlaps(child, *offset, child.Size()) {
		return partition.ErrBadValue
	}
	return nil
}

func (h *mapHandle) MoveChild(child *partition.MutablePartition, offset int64) error {
	child.SetOffset(offset)
	return nil
}

func (h *mapHandle) ValidateSetName(child *partition.MutablePartition, name *string) error {
	if h.layout.NameLength == 0 {
		return partition.ErrNotSupported
	}
	*name = truncate(*name, h.layout.NameLength)
	return nil
}

func (h *mapHandle) SetName(child *partition.MutablePartition, name string) error {
	child.SetName(name)
	return nil
}

func truncate(s string, length int) string {
	if utf8.RuneCountInString(s) <= length {
		return s
	}
	return string([]rune(s)[:length])
}

func (h *mapHandle) ValidateSetType(child *partition.MutablePartition, typ string) error {
	if h.layout.ValidateType == nil {
		return nil
	}
	return h.layout.ValidateType(typ)
}

func (h *mapHandle) SetType(child *partition.MutablePartition, typ string) error {
	child.SetType(typ)
	return nil
}

func (h *mapHandle) ValidateSetContentParameters(parameters string) error {
	return nil
}

func (h *mapHandle) SetContentParameters(parameters string) error {
	h.partition.SetContentParameters(parameters)
	return nil
}

func (h *mapHandle) ValidateSetParameters(child *partition.MutablePartition, parameters string) error {
	if h.layout.ValidateParameters == nil {
		return nil
	}
	return h.layout.ValidateParameters(parameters)
}

func (h *mapHandle) SetParameters(child *partition.MutablePartition, parameters string) error {
	child.SetParameters(parameters)
	return nil
}

// ValidateCreateChild moves the new child into the usable area and shrinks it to the free
// space at its offset
func (h *mapHandle) ValidateCreateChild(offset, size *int64, typ string, name *string, parameters string) (int, error) {
	if h.partition.CountChildren() >= h.layout.MaxChildren {
		return -1, fmt.Errorf("map holds at most %d partitions: %w", h.layout.MaxChildren, partition.ErrBadValue)
	}
	if h.layout.NameLength == 0 {
		*name = ""
	} else {
		*name = truncate(*name, h.layout.NameLength)
	}
	if err := h.ValidateSetType(nil, typ); err != nil {
		return -1, err
	}
	if err := h.ValidateSetParameters(nil, parameters); err != nil {
		return -1, err
	}
	first, _ := h.usable()
	*offset = alignUp(*offset, h.alignment())
	if *offset < first {
		*offset = first
	}
	*size = alignDown(*size, h.blockSize())
	if room := h.limit(nil, *offset) - *offset; *size > room {
		*size = alignDown(room, h.blockSize())
	}
	if *size <= 0 || h.overlaps(nil, *offset, *size) {
		return -1, fmt.Errorf("no free space at offset %d: %w", *offset, partition.ErrBadValue)
	}
	return h.indexFor(*offset), nil
}

func (h *mapHandle) indexFor(offset int64) int {
	for i := 0; i < h.partition.CountChildren(); i++ {
		if h.partition.ChildAt(i).Offset() > offset {
			return i
		}
	}
	return h.partition.CountChildren()
}

func (h *mapHandle) CreateChild(offset, size int64, typ, name, parameters string) (*partition.MutablePartition, error) {
	if parameters == "" && h.layout.NewParameters != nil {
		parameters = h.layout.NewParameters()
	}
	child, err := h.partition.CreateChild(h.indexFor(offset), typ, name, parameters)
	if err != nil {
		return nil, err
	}
	child.SetOffset(offset)
	child.SetSize(size)
	return child, nil
}

func (h *mapHandle) DeleteChild(child *partition.MutablePartition) error {
	if isBusy(child) {
		return partition.ErrBusy
	}
	return h.partition.DeleteChildPartition(child)
}
