// Package jobgen turns the modifications prepared on a partition tree into the queue of
// kernel jobs that realizes them.
//
// The live tree and its shadow are compared in three passes. Cleanup deletes partitions
// that have no shadow and uninitializes partitions that get a new disk system. Placement
// resizes and moves the surviving partitions in an order that never makes two siblings
// overlap. Remaining creates new partitions and applies names, types, parameters and the
// content operations, once all partitions sit at their final place.
package jobgen

import (
	"errors"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-disktx/backend"
	"github.com/diskfs/go-disktx/job"
	"github.com/diskfs/go-disktx/partition"
)

var (
	ErrUnrecognizedContentChange = errors.New("cannot resize or move a partition with unrecognized contents")
	ErrNoPlacementOrder          = errors.New("no order found to move partitions without overlapping")
	ErrInvalidHierarchy          = errors.New("reinitialized partition still has existing children")
)

// Generator builds the job queue for one device
type Generator struct {
	device        *partition.Partition
	queue         *job.Queue
	references    map[*partition.Partition]*job.Reference
	uninitialized map[*partition.Partition]bool
}

// New creates a generator for the device partition. Modifications must be prepared on it.
func New(device *partition.Partition) *Generator {
	return &Generator{
		device: device,
	}
}

// Generate computes the job queue. On error no queue is returned.
func (g *Generator) Generate() (*job.Queue, error) {
	if g.device.Mutable() == nil {
		return nil, partition.ErrNoTransaction
	}
	g.queue = job.NewQueue()
	g.references = map[*partition.Partition]*job.Reference{}
	g.uninitialized = map[*partition.Partition]bool{}

	logger := log.WithField("device", g.device.ID())
	if err := g.cleanup(g.device); err != nil {
		return nil, fmt.Errorf("cleanup: %w", err)
	}
	logger.Debugf("cleanup generated %d jobs", g.queue.Count())
	if err := g.place(g.device); err != nil {
		return nil, fmt.Errorf("placement: %w", err)
	}
	logger.Debugf("placement done, %d jobs", g.queue.Count())
	if err := g.remaining(g.device.Mutable()); err != nil {
		return nil, fmt.Errorf("remaining changes: %w", err)
	}
	logger.Debugf("generated %d jobs", g.queue.Count())
	return g.queue, nil
}

// reference returns the one reference shared by all jobs touching p
func (g *Generator) reference(p *partition.Partition) *job.Reference {
	if ref, ok := g.references[p]; ok {
		return ref
	}
	ref := job.NewPendingReference()
	if p.Exists() {
		ref = job.NewReference(p.ID(), p.ChangeCounter())
	}
	g.references[p] = ref
	return ref
}

func (g *Generator) add(j job.Job) {
	log.WithField("job", g.queue.Count()).Debugf("generated %s", j)
	g.queue.Add(j)
}

func (g *Generator) addSetString(kind job.Kind, p *partition.Partition, value string) error {
	var parent *job.Reference
	if p.Parent() != nil {
		parent = g.reference(p.Parent())
	}
	j, err := job.NewSetString(kind, parent, g.reference(p), value)
	if err != nil {
		return err
	}
	g.add(j)
	return nil
}

// cleanup walks the live tree
func (g *Generator) cleanup(p *partition.Partition) error {
	shadow := p.Mutable()
	if shadow.ChangeFlags()&partition.ChangedInitialization != 0 && p.Live().ContentType != "" {
		var parent *job.Reference
		if p.Parent() != nil {
			parent = g.reference(p.Parent())
		}
		g.add(job.NewUninitialize(g.reference(p), parent))
		g.uninitialized[p] = true
		return nil
	}
	for _, child := range p.LiveChildren() {
		if child.Mutable() == nil {
			g.add(job.NewDeleteChild(g.reference(p), g.reference(child)))
			continue
		}
		if err := g.cleanup(child); err != nil {
			return err
		}
	}
	return nil
}

// place resizes p and places its children. A partition grows before its children are
// placed and shrinks after.
func (g *Generator) place(p *partition.Partition) error {
	shadow := p.Mutable()
	live := p.Live()
	// the live contents decide: extents run before initialization, so a partition that is
	// also initialized anew in this transaction still cannot be resized or moved
	if live.Status == partition.StatusUnrecognized && (shadow.Size() != live.Size || shadow.Offset() != live.Offset) {
		return fmt.Errorf("partition %d: %w", p.ID(), ErrUnrecognizedContentChange)
	}
	if shadow.Size() > live.Size {
		if err := g.resize(p); err != nil {
			return err
		}
	}
	if !g.uninitialized[p] {
		if err := g.placeChildren(p); err != nil {
			return err
		}
	}
	if shadow.Size() < live.Size {
		if err := g.resize(p); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) resize(p *partition.Partition) error {
	if p.Parent() == nil {
		return fmt.Errorf("resize of device %d: %w", p.ID(), partition.ErrNotSupported)
	}
	shadow := p.Mutable()
	contentSize := shadow.ContentSize()
	if g.uninitialized[p] || contentSize > shadow.Size() {
		contentSize = 0
	}
	g.add(job.NewResize(g.reference(p.Parent()), g.reference(p), shadow.Size(), contentSize))
	return nil
}

// moveInfo tracks a child during placement; position and size are its extent as the
// kernel will see it at this point of the queue
type moveInfo struct {
	partition *partition.Partition
	position  int64
	target    int64
	size      int64
}

func (m *moveInfo) overlaps(offset, size int64) bool {
	return offset < m.position+m.size && m.position < offset+size
}

func (g *Generator) placeChildren(p *partition.Partition) error {
	var infos []*moveInfo
	for _, child := range p.LiveChildren() {
		shadow := child.Mutable()
		if shadow == nil {
			continue
		}
		live := child.Live()
		info := &moveInfo{
			partition: child,
			position:  live.Offset,
			target:    shadow.Offset(),
			size:      live.Size,
		}
		// shrinking children make room before anything moves
		if shadow.Size() < live.Size {
			if err := g.place(child); err != nil {
				return err
			}
			info.size = shadow.Size()
		}
		infos = append(infos, info)
	}

	if err := g.moveChildren(p, infos); err != nil {
		return err
	}

	for _, info := range infos {
		shadow := info.partition.Mutable()
		if shadow.Size() >= info.partition.Live().Size {
			if err := g.place(info.partition); err != nil {
				return err
			}
		}
	}
	return nil
}

// moveChildren emits the moves in rounds. Each round moves, in one direction, every child
// whose target extent is free at that point; the direction with fewer moves left goes
// first. A round in which neither direction can move anything fails.
func (g *Generator) moveChildren(p *partition.Partition, infos []*moveInfo) error {
	for {
		sort.Slice(infos, func(i, j int) bool {
			return infos[i].position < infos[j].position
		})
		back, forth := 0, 0
		for _, info := range infos {
			switch {
			case info.target < info.position:
				back++
			case info.target > info.position:
				forth++
			}
		}
		if back == 0 && forth == 0 {
			return nil
		}
		forwardFirst := forth > 0 && (back == 0 || forth < back)
		moved := false
		for _, forward := range []bool{forwardFirst, !forwardFirst} {
			if g.moveRound(p, infos, forward) {
				moved = true
				break
			}
		}
		if !moved {
			return fmt.Errorf("children of partition %d: %w", p.ID(), ErrNoPlacementOrder)
		}
	}
}

// moveRound moves children towards lower offsets in ascending order, or towards higher
// offsets in descending order, so chains of neighbors can follow each other in one round
func (g *Generator) moveRound(p *partition.Partition, infos []*moveInfo, forward bool) bool {
	moved := false
	for n := range infos {
		i := n
		if forward {
			i = len(infos) - 1 - n
		}
		info := infos[i]
		if (forward && info.target <= info.position) || (!forward && info.target >= info.position) {
			continue
		}
		free := true
		for j, other := range infos {
			if j != i && other.overlaps(info.target, info.size) {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		g.add(job.NewMove(g.reference(p), g.reference(info.partition), info.target))
		info.position = info.target
		moved = true
	}
	return moved
}

// remaining walks the shadow tree
func (g *Generator) remaining(m *partition.MutablePartition) error {
	p := m.Delegate().Partition()
	live := p.Live()
	flags := m.ChangeFlags()

	if live == nil {
		parent := m.Parent().Delegate().Partition()
		g.add(job.NewCreateChild(g.reference(parent), g.reference(p), m.Offset(), m.Size(), m.Type(), m.Name(), m.Parameters()))
		// what the kernel reports for a partition it just created
		live = &backend.PartitionData{}
	} else if p.Parent() != nil {
		if flags&partition.ChangedName != 0 || m.Name() != live.Name {
			if err := g.addSetString(job.KindSetName, p, m.Name()); err != nil {
				return err
			}
		}
		if flags&partition.ChangedType != 0 || m.Type() != live.Type {
			if err := g.addSetString(job.KindSetType, p, m.Type()); err != nil {
				return err
			}
		}
		if flags&partition.ChangedParameters != 0 || m.Parameters() != live.Parameters {
			if err := g.addSetString(job.KindSetParameters, p, m.Parameters()); err != nil {
				return err
			}
		}
	}

	if m.ContentType() != "" {
		if flags&partition.ChangedInitialization != 0 {
			g.add(job.NewInitialize(g.reference(p), m.ContentType(), m.ContentName(), m.ContentParameters()))
		} else {
			if flags&partition.ChangedContentName != 0 || m.ContentName() != live.ContentName {
				if err := g.addSetString(job.KindSetContentName, p, m.ContentName()); err != nil {
					return err
				}
			}
			if flags&partition.ChangedContentParameters != 0 || m.ContentParameters() != live.ContentParameters {
				if err := g.addSetString(job.KindSetContentParameters, p, m.ContentParameters()); err != nil {
					return err
				}
			}
			if flags&partition.ChangedDefragmentation != 0 {
				g.add(job.NewDefragment(g.reference(p)))
			}
			if flags&(partition.ChangedCheck|partition.ChangedRepair) != 0 {
				g.add(job.NewRepair(g.reference(p), flags&partition.ChangedRepair == 0))
			}
		}
	}

	for i := 0; i < m.CountChildren(); i++ {
		child := m.ChildAt(i)
		if flags&partition.ChangedInitialization != 0 && child.Delegate().Partition().Exists() {
			return fmt.Errorf("partition %d: %w", p.ID(), ErrInvalidHierarchy)
		}
		if err := g.remaining(child); err != nil {
			return err
		}
	}
	return nil
}
