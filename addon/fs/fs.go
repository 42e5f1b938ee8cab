// Package fs provides file system add-ons. They do not know the on-disk format of their
// file systems: they describe what each file system allows (size limits, label length,
// whether it can be moved, resized, defragmented or repaired) and record the requested
// changes on the shadow partition.
package fs

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/diskfs/go-disktx/partition"
)

// Traits of a file system
type Traits struct {
	Name string
	// MinSize is the smallest size in bytes the file system can live in
	MinSize int64
	// BlockSize is the size granularity in bytes
	BlockSize int64
	// NameLength is the longest volume label in bytes
	NameLength    int
	CanResize     bool
	CanMove       bool
	CanDefragment bool
	CanRepair     bool
}

var (
	BFS = Traits{
		Name:          "bfs",
		MinSize:       1 << 20,
		BlockSize:     2048,
		NameLength:    255,
		CanResize:     true,
		CanMove:       true,
		CanDefragment: true,
		CanRepair:     true,
	}
	FAT32 = Traits{
		Name:       "fat32",
		MinSize:    32 << 20,
		BlockSize:  512,
		NameLength: 11,
		CanResize:  true,
		CanMove:    true,
		CanRepair:  true,
	}
	Ext4 = Traits{
		Name:          "ext4",
		MinSize:       2 << 20,
		BlockSize:     4096,
		NameLength:    16,
		CanResize:     true,
		CanMove:       true,
		CanDefragment: true,
		CanRepair:     true,
	}
)

// FileSystem is a file system add-on
type FileSystem struct {
	traits Traits
}

// partition.AddOn interface guard
var _ partition.AddOn = (*FileSystem)(nil)

func New(traits Traits) *FileSystem {
	return &FileSystem{traits: traits}
}

// All returns the add-ons of the known file systems
func All() []partition.AddOn {
	return []partition.AddOn{New(BFS), New(FAT32), New(Ext4)}
}

func (f *FileSystem) Name() string {
	return f.traits.Name
}

func (f *FileSystem) Flags() partition.DiskSystemFlags {
	return partition.DiskSystemFileSystem
}

func (f *FileSystem) CreateHandle(p *partition.MutablePartition) (partition.Handle, error) {
	if p.ContentType() != f.traits.Name {
		return nil, fmt.Errorf("partition %d contains %q, not %q: %w", p.ID(), p.ContentType(), f.traits.Name, partition.ErrBadValue)
	}
	return &handle{traits: &f.traits, partition: p}, nil
}

func (f *FileSystem) CanInitialize(p *partition.MutablePartition) bool {
	return p.Flags()&(partition.FlagBusy|partition.FlagMounted) == 0 && p.Size() >= f.traits.MinSize
}

func (f *FileSystem) ValidateInitialize(p *partition.MutablePartition, name *string, parameters string) error {
	*name = truncate(*name, f.traits.NameLength)
	return validateParameters(parameters)
}

func (f *FileSystem) Initialize(p *partition.MutablePartition, name, parameters string) (partition.Handle, error) {
	if !f.CanInitialize(p) {
		return nil, partition.ErrNotSupported
	}
	if truncate(name, f.traits.NameLength) != name {
		return nil, partition.ErrBadValue
	}
	if err := validateParameters(parameters); err != nil {
		return nil, err
	}
	p.UninitializeContents()
	p.SetContentType(f.traits.Name)
	p.SetContentName(name)
	p.SetContentParameters(parameters)
	p.SetContentSize(p.Size())
	p.SetStatus(partition.StatusValid)
	p.SetFlags(partition.FlagFileSystem)
	return &handle{traits: &f.traits, partition: p}, nil
}

// truncate cuts s to at most length bytes without splitting a character
func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	s = s[:length]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// parameters are a comma separated list of key=value options
func validateParameters(parameters string) error {
	if parameters == "" {
		return nil
	}
	for _, field := range strings.Split(parameters, ",") {
		key, _, ok := strings.Cut(field, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return fmt.Errorf("invalid parameter %q: %w", field, partition.ErrBadValue)
		}
	}
	return nil
}

type handle struct {
	partition.UnsupportedHandle
	traits    *Traits
	partition *partition.MutablePartition
}

func (h *handle) mounted() bool {
	return h.partition.Flags()&partition.FlagMounted != 0
}

func (h *handle) SupportedOperations(mask partition.Operations) partition.Operations {
	ops := partition.OpSetContentName | partition.OpSetContentParameters | partition.OpInitialize
	if h.traits.CanRepair {
		ops |= partition.OpRepair
	}
	if h.traits.CanDefragment {
		ops |= partition.OpDefragment
	}
	if !h.mounted() {
		if h.traits.CanResize {
			ops |= partition.OpResize
		}
		if h.traits.CanMove {
			ops |= partition.OpMove
		}
	}
	return ops & mask
}

func (h *handle) Defragment() error {
	if !h.traits.CanDefragment {
		return partition.ErrNotSupported
	}
	h.partition.Changed(partition.ChangedDefragmentation, 0)
	return nil
}

func (h *handle) Repair(checkOnly bool) error {
	if !h.traits.CanRepair {
		return partition.ErrNotSupported
	}
	if checkOnly {
		h.partition.Changed(partition.ChangedCheck, 0)
	} else {
		h.partition.Changed(partition.ChangedRepair, 0)
	}
	return nil
}

// ValidateResize rounds size down to whole blocks and up to the minimum size
func (h *handle) ValidateResize(size *int64) error {
	if !h.traits.CanResize || h.mounted() {
		return partition.ErrNotSupported
	}
	*size = *size / h.traits.BlockSize * h.traits.BlockSize
	if *size < h.traits.MinSize {
		*size = h.traits.MinSize
	}
	return nil
}

func (h *handle) Resize(size int64) error {
	h.partition.SetContentSize(size)
	return nil
}

func (h *handle) ValidateMove(offset *int64) error {
	if !h.traits.CanMove || h.mounted() {
		return partition.ErrNotSupported
	}
	return nil
}

// Move does nothing, the kernel moves the contents along with the partition
func (h *handle) Move(offset int64) error {
	return nil
}

func (h *handle) ValidateSetContentName(name *string) error {
	*name = truncate(*name, h.traits.NameLength)
	return nil
}

func (h *handle) SetContentName(name string) error {
	h.partition.SetContentName(name)
	return nil
}

func (h *handle) ValidateSetContentParameters(parameters string) error {
	return validateParameters(parameters)
}

func (h *handle) SetContentParameters(parameters string) error {
	h.partition.SetContentParameters(parameters)
	return nil
}
