// Package memory implements backend.Backend in memory.
//
// It keeps the same bookkeeping the kernel does: every partition carries a change counter
// which must be presented on each mutation, children must lie inside their parent and must
// not overlap their siblings, and busy or mounted partitions refuse destructive changes.
// It is used by the tests of the engine and as the state holder of backend/file.
package memory

import (
	"fmt"
	"io"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/diskfs/go-disktx/backend"
)

// Op names a backend primitive, used for failure injection
type Op string

const (
	OpDefragment           Op = "defragment"
	OpRepair               Op = "repair"
	OpResize               Op = "resize"
	OpMove                 Op = "move"
	OpSetName              Op = "set-name"
	OpSetType              Op = "set-type"
	OpSetParameters        Op = "set-parameters"
	OpSetContentName       Op = "set-content-name"
	OpSetContentParameters Op = "set-content-parameters"
	OpInitialize           Op = "initialize"
	OpUninitialize         Op = "uninitialize"
	OpCreateChild          Op = "create-child"
	OpDeleteChild          Op = "delete-child"
)

type failure struct {
	op  Op
	id  backend.PartitionID
	err error
}

type node struct {
	data   *backend.PartitionData
	parent *node
	device *backend.DeviceData
}

// Kernel is an in-memory partition manager
type Kernel struct {
	mu       sync.Mutex
	devices  map[backend.PartitionID]*backend.DeviceData
	nodes    map[backend.PartitionID]*node
	nextID   backend.PartitionID
	failures []failure
	calls    []string

	// partitioning names the disk systems that hold partitions
	partitioning map[string]bool
}

// State is the serialized form of a Kernel
type State struct {
	Devices []*backend.DeviceData `yaml:"devices"`
}

// backend.Backend interface guard
var _ backend.Backend = (*Kernel)(nil)

// New creates an empty kernel
func New() *Kernel {
	return &Kernel{
		devices: map[backend.PartitionID]*backend.DeviceData{},
		nodes:   map[backend.PartitionID]*node{},
		nextID:  1,

		partitioning: map[string]bool{},
	}
}

// AddPartitioningSystems tells the kernel which disk systems hold partitions. Partitions
// initialized with any other disk system contain a file system.
func (k *Kernel) AddPartitioningSystems(names ...string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, name := range names {
		k.partitioning[name] = true
	}
}

// AddDevice registers a device with its partition tree. The data is copied.
func (k *Kernel) AddDevice(d *backend.DeviceData) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.addDevice(d.Clone())
}

func (k *Kernel) addDevice(d *backend.DeviceData) error {
	if _, ok := k.nodes[d.ID]; ok {
		return fmt.Errorf("device %d: %w", d.ID, backend.ErrBadValue)
	}
	added := []backend.PartitionID{}
	var index func(p *backend.PartitionData, parent *node) error
	index = func(p *backend.PartitionData, parent *node) error {
		if _, ok := k.nodes[p.ID]; ok || p.ID < 0 {
			return fmt.Errorf("duplicate or invalid partition id %d: %w", p.ID, backend.ErrBadValue)
		}
		n := &node{data: p, parent: parent, device: d}
		k.nodes[p.ID] = n
		added = append(added, p.ID)
		if p.ID >= k.nextID {
			k.nextID = p.ID + 1
		}
		sortChildren(p)
		for _, c := range p.Children {
			if err := index(c, n); err != nil {
				return err
			}
		}
		return nil
	}
	if err := index(&d.PartitionData, nil); err != nil {
		for _, id := range added {
			delete(k.nodes, id)
		}
		return err
	}
	k.devices[d.ID] = d
	return nil
}

// Devices returns the ids of all known devices in ascending order
func (k *Kernel) Devices() []backend.PartitionID {
	k.mu.Lock()
	defer k.mu.Unlock()
	ids := make([]backend.PartitionID, 0, len(k.devices))
	for id := range k.devices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FailOn makes the next call of op on the partition id fail with err
func (k *Kernel) FailOn(op Op, id backend.PartitionID, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.failures = append(k.failures, failure{op: op, id: id, err: err})
}

// Touch bumps the change counter of a partition as if someone else had modified it
func (k *Kernel) Touch(id backend.PartitionID) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	n, ok := k.nodes[id]
	if !ok {
		return backend.ErrNotFound
	}
	k.bump(n)
	return nil
}

// Calls returns a description of every successful mutation, in order
func (k *Kernel) Calls() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.calls...)
}

// Load replaces the kernel state with the devices read from r
func (k *Kernel) Load(r io.Reader) error {
	var state State
	if err := yaml.NewDecoder(r).Decode(&state); err != nil && err != io.EOF {
		return fmt.Errorf("could not decode kernel state: %w", err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.devices = map[backend.PartitionID]*backend.DeviceData{}
	k.nodes = map[backend.PartitionID]*node{}
	k.nextID = 1
	for _, d := range state.Devices {
		if err := k.addDevice(d); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the kernel state to w
func (k *Kernel) Save(w io.Writer) error {
	k.mu.Lock()
	state := State{}
	for _, id := range k.sortedDeviceIDs() {
		state.Devices = append(state.Devices, k.devices[id].Clone())
	}
	k.mu.Unlock()

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&state); err != nil {
		return fmt.Errorf("could not encode kernel state: %w", err)
	}
	return enc.Close()
}

func (k *Kernel) sortedDeviceIDs() []backend.PartitionID {
	ids := make([]backend.PartitionID, 0, len(k.devices))
	for id := range k.devices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GetDiskDeviceData returns a copy of the device owning the partition id. With deviceOnly
// the partition tree is left out.
func (k *Kernel) GetDiskDeviceData(id backend.PartitionID, deviceOnly bool) (*backend.DeviceData, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	n, ok := k.nodes[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	d := n.device.Clone()
	if deviceOnly {
		d.Children = nil
	}
	return d, nil
}

func (k *Kernel) DefragmentPartition(id backend.PartitionID, counter *backend.ChangeCounter) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	n, err := k.lookup(OpDefragment, id, counter)
	if err != nil {
		return err
	}
	if n.data.ContentType == "" {
		return backend.ErrBadValue
	}
	if n.data.Flags&backend.FlagBusy != 0 {
		return backend.ErrBusy
	}
	k.bump(n)
	*counter = n.data.ChangeCounter
	k.record("defragment %d", id)
	return nil
}

func (k *Kernel) RepairPartition(id backend.PartitionID, counter *backend.ChangeCounter, checkOnly bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	n, err := k.lookup(OpRepair, id, counter)
	if err != nil {
		return err
	}
	if n.data.ContentType == "" {
		return backend.ErrBadValue
	}
	if checkOnly {
		k.record("check %d", id)
		return nil
	}
	if n.data.Status == backend.StatusCorrupt {
		n.data.Status = backend.StatusValid
	}
	k.bump(n)
	*counter = n.data.ChangeCounter
	k.record("repair %d", id)
	return nil
}

func (k *Kernel) ResizePartition(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter, size, contentSize int64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	parent, child, err := k.lookupPair(OpResize, parentID, parentCounter, childID, childCounter)
	if err != nil {
		return err
	}
	if size <= 0 || contentSize < 0 || contentSize > size {
		return backend.ErrBadValue
	}
	if isBusy(child) {
		return backend.ErrBusy
	}
	for _, c := range child.data.Children {
		if c.End() > size {
			return fmt.Errorf("child %d ends beyond new size %d: %w", c.ID, size, backend.ErrBadValue)
		}
	}
	if err := checkExtent(parent.data, child.data, child.data.Offset, size); err != nil {
		return err
	}
	child.data.Size = size
	child.data.ContentSize = contentSize
	k.bumpPair(parent, child, parentCounter, childCounter)
	k.record("resize %d size=%d", childID, size)
	return nil
}

func (k *Kernel) MovePartition(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter, offset int64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	parent, child, err := k.lookupPair(OpMove, parentID, parentCounter, childID, childCounter)
	if err != nil {
		return err
	}
	if isBusy(child) {
		return backend.ErrBusy
	}
	if err := checkExtent(parent.data, child.data, offset, child.data.Size); err != nil {
		return err
	}
	child.data.Offset = offset
	sortChildren(parent.data)
	k.bumpPair(parent, child, parentCounter, childCounter)
	k.record("move %d offset=%d", childID, offset)
	return nil
}

func (k *Kernel) SetPartitionName(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter, name string) error {
	return k.setChildString(OpSetName, parentID, parentCounter, childID, childCounter, func(d *backend.PartitionData) {
		d.Name = name
	})
}

func (k *Kernel) SetPartitionType(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter, typ string) error {
	return k.setChildString(OpSetType, parentID, parentCounter, childID, childCounter, func(d *backend.PartitionData) {
		d.Type = typ
	})
}

func (k *Kernel) SetPartitionParameters(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter, parameters string) error {
	return k.setChildString(OpSetParameters, parentID, parentCounter, childID, childCounter, func(d *backend.PartitionData) {
		d.Parameters = parameters
	})
}

func (k *Kernel) setChildString(op Op, parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter, set func(*backend.PartitionData)) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	parent, child, err := k.lookupPair(op, parentID, parentCounter, childID, childCounter)
	if err != nil {
		return err
	}
	set(child.data)
	k.bumpPair(parent, child, parentCounter, childCounter)
	k.record("%s %d", op, childID)
	return nil
}

func (k *Kernel) SetPartitionContentName(id backend.PartitionID, counter *backend.ChangeCounter, name string) error {
	return k.setContentString(OpSetContentName, id, counter, func(d *backend.PartitionData) {
		d.ContentName = name
	})
}

func (k *Kernel) SetPartitionContentParameters(id backend.PartitionID, counter *backend.ChangeCounter, parameters string) error {
	return k.setContentString(OpSetContentParameters, id, counter, func(d *backend.PartitionData) {
		d.ContentParameters = parameters
	})
}

func (k *Kernel) setContentString(op Op, id backend.PartitionID, counter *backend.ChangeCounter,
	set func(*backend.PartitionData)) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	n, err := k.lookup(op, id, counter)
	if err != nil {
		return err
	}
	if n.data.ContentType == "" {
		return backend.ErrBadValue
	}
	set(n.data)
	k.bump(n)
	*counter = n.data.ChangeCounter
	k.record("%s %d", op, id)
	return nil
}

func (k *Kernel) InitializePartition(id backend.PartitionID, counter *backend.ChangeCounter,
	diskSystem, name, parameters string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	n, err := k.lookup(OpInitialize, id, counter)
	if err != nil {
		return err
	}
	if diskSystem == "" {
		return backend.ErrBadValue
	}
	if n.data.ContentType != "" || len(n.data.Children) > 0 {
		return fmt.Errorf("partition %d must be uninitialized first: %w", id, backend.ErrBadValue)
	}
	if isBusy(n) {
		return backend.ErrBusy
	}
	n.data.ContentType = diskSystem
	n.data.ContentName = name
	n.data.ContentParameters = parameters
	n.data.ContentSize = n.data.Size
	n.data.Status = backend.StatusValid
	n.data.Flags &^= backend.FlagFileSystem | backend.FlagPartitioningSystem
	if k.partitioning[diskSystem] {
		n.data.Flags |= backend.FlagPartitioningSystem
	} else {
		n.data.Flags |= backend.FlagFileSystem
	}
	k.bump(n)
	*counter = n.data.ChangeCounter
	k.record("initialize %d %s", id, diskSystem)
	return nil
}

func (k *Kernel) UninitializePartition(id backend.PartitionID, counter *backend.ChangeCounter,
	parentID backend.PartitionID, parentCounter *backend.ChangeCounter) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	n, err := k.lookup(OpUninitialize, id, counter)
	if err != nil {
		return err
	}
	var parent *node
	if parentID != backend.NoID {
		parent, err = k.lookup(OpUninitialize, parentID, parentCounter)
		if err != nil {
			return err
		}
		if n.parent != parent {
			return backend.ErrBadValue
		}
	}
	if isBusy(n) {
		return backend.ErrBusy
	}
	for _, c := range n.data.Children {
		k.forget(c)
	}
	n.data.Children = nil
	n.data.ContentType = ""
	n.data.ContentName = ""
	n.data.ContentParameters = ""
	n.data.ContentSize = 0
	n.data.Volume = 0
	n.data.Status = backend.StatusUninitialized
	n.data.Flags &^= backend.FlagFileSystem | backend.FlagPartitioningSystem
	k.bump(n)
	*counter = n.data.ChangeCounter
	if parent != nil {
		k.bump(parent)
		*parentCounter = parent.data.ChangeCounter
	}
	k.record("uninitialize %d", id)
	return nil
}

func (k *Kernel) CreateChildPartition(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	offset, size int64, typ, name, parameters string) (backend.PartitionID, backend.ChangeCounter, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	parent, err := k.lookup(OpCreateChild, parentID, parentCounter)
	if err != nil {
		return backend.NoID, 0, err
	}
	if parent.data.ContentType == "" {
		return backend.NoID, 0, fmt.Errorf("partition %d has no partitioning system: %w", parentID, backend.ErrBadValue)
	}
	if size <= 0 {
		return backend.NoID, 0, backend.ErrBadValue
	}
	if err := checkExtent(parent.data, nil, offset, size); err != nil {
		return backend.NoID, 0, err
	}
	child := &backend.PartitionData{
		ID:            k.nextID,
		Offset:        offset,
		Size:          size,
		BlockSize:     parent.data.BlockSize,
		Status:        backend.StatusUninitialized,
		ChangeCounter: 1,
		Name:          name,
		Type:          typ,
		Parameters:    parameters,
	}
	k.nextID++
	parent.data.Children = append(parent.data.Children, child)
	sortChildren(parent.data)
	k.nodes[child.ID] = &node{data: child, parent: parent, device: parent.device}
	k.bump(parent)
	*parentCounter = parent.data.ChangeCounter
	k.record("create %d in %d offset=%d size=%d", child.ID, parentID, offset, size)
	return child.ID, child.ChangeCounter, nil
}

func (k *Kernel) DeleteChildPartition(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter backend.ChangeCounter) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	parent, child, err := k.lookupPair(OpDeleteChild, parentID, parentCounter, childID, &childCounter)
	if err != nil {
		return err
	}
	if isBusy(child) {
		return backend.ErrBusy
	}
	for i, c := range parent.data.Children {
		if c == child.data {
			parent.data.Children = append(parent.data.Children[:i], parent.data.Children[i+1:]...)
			break
		}
	}
	k.forget(child.data)
	k.bump(parent)
	*parentCounter = parent.data.ChangeCounter
	k.record("delete %d from %d", childID, parentID)
	return nil
}

func (k *Kernel) injected(op Op, id backend.PartitionID) error {
	for i, f := range k.failures {
		if f.op == op && f.id == id {
			k.failures = append(k.failures[:i], k.failures[i+1:]...)
			return f.err
		}
	}
	return nil
}

func (k *Kernel) lookup(op Op, id backend.PartitionID, counter *backend.ChangeCounter) (*node, error) {
	if err := k.injected(op, id); err != nil {
		return nil, err
	}
	n, ok := k.nodes[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	if counter == nil || *counter != n.data.ChangeCounter {
		log.WithFields(log.Fields{"partition": id, "op": op}).Debug("stale change counter")
		return nil, backend.ErrBadChangeCounter
	}
	return n, nil
}

func (k *Kernel) lookupPair(op Op, parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter) (*node, *node, error) {
	if err := k.injected(op, childID); err != nil {
		return nil, nil, err
	}
	parent, err := k.lookup(op, parentID, parentCounter)
	if err != nil {
		return nil, nil, err
	}
	child, err := k.lookup(op, childID, childCounter)
	if err != nil {
		return nil, nil, err
	}
	if child.parent != parent {
		return nil, nil, fmt.Errorf("partition %d is not a child of %d: %w", childID, parentID, backend.ErrBadValue)
	}
	return parent, child, nil
}

func (k *Kernel) bump(n *node) {
	n.data.ChangeCounter++
	n.device.Generation++
}

func (k *Kernel) bumpPair(parent, child *node, parentCounter, childCounter *backend.ChangeCounter) {
	k.bump(parent)
	k.bump(child)
	*parentCounter = parent.data.ChangeCounter
	*childCounter = child.data.ChangeCounter
}

func (k *Kernel) forget(p *backend.PartitionData) {
	delete(k.nodes, p.ID)
	for _, c := range p.Children {
		k.forget(c)
	}
}

func (k *Kernel) record(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	k.calls = append(k.calls, msg)
	log.Debugf("kernel: %s", msg)
}

func isBusy(n *node) bool {
	return n.data.Flags&(backend.FlagBusy|backend.FlagMounted) != 0
}

// checkExtent verifies that [offset, offset+size) fits into parent and does not overlap
// any child of parent other than self
func checkExtent(parent, self *backend.PartitionData, offset, size int64) error {
	if offset < 0 || size <= 0 || offset+size > parent.Size {
		return fmt.Errorf("extent [%d, %d) outside of partition %d: %w", offset, offset+size, parent.ID, backend.ErrBadValue)
	}
	for _, c := range parent.Children {
		if c == self {
			continue
		}
		if offset < c.End() && c.Offset < offset+size {
			return fmt.Errorf("extent [%d, %d) overlaps partition %d: %w", offset, offset+size, c.ID, backend.ErrBadValue)
		}
	}
	return nil
}

func sortChildren(p *backend.PartitionData) {
	sort.SliceStable(p.Children, func(i, j int) bool {
		return p.Children[i].Offset < p.Children[j].Offset
	})
}
