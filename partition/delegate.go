package partition

import (
	log "github.com/sirupsen/logrus"
)

// Delegate binds a Partition to its shadow while modifications are prepared, and to the
// handle of the disk system found on the shadow. All edits go through it.
type Delegate struct {
	partition *Partition
	mutable   *MutablePartition
	registry  Registry
	addOn     AddOn
	handle    Handle
	detached  bool
}

func newDelegate(p *Partition, registry Registry) *Delegate {
	d := &Delegate{
		partition: p,
		registry:  registry,
	}
	p.delegate = d
	return d
}

// Partition returns the partition this delegate belongs to
func (d *Delegate) Partition() *Partition {
	return d.partition
}

// MutablePartition returns the shadow partition
func (d *Delegate) MutablePartition() *MutablePartition {
	return d.mutable
}

// Handle returns the disk system handle, nil if the contents are not recognized
func (d *Delegate) Handle() Handle {
	return d.handle
}

// AddOn returns the disk system bound to the shadow, nil if there is none
func (d *Delegate) AddOn() AddOn {
	return d.addOn
}

// IsModified reports whether the shadow or any of its descendants was changed
func (d *Delegate) IsModified() bool {
	return d.mutable.ChangeFlags() != 0
}

// bindHandle looks up the disk system of the shadow's contents. Unknown disk systems are
// not an error: the partition simply cannot be edited through a handle.
func (d *Delegate) bindHandle() {
	contentType := d.mutable.ContentType()
	if contentType == "" {
		return
	}
	logger := log.WithFields(log.Fields{"partition": d.mutable.ID(), "disk_system": contentType})
	addOn, err := d.registry.Get(contentType)
	if err != nil {
		logger.Debugf("no disk system for contents: %v", err)
		return
	}
	handle, err := addOn.CreateHandle(d.mutable)
	if err != nil {
		logger.Debugf("disk system refused contents: %v", err)
		d.registry.Put(addOn)
		return
	}
	d.addOn = addOn
	d.handle = handle
}

func (d *Delegate) releaseHandle() {
	if d.addOn != nil {
		d.registry.Put(d.addOn)
	}
	d.addOn = nil
	d.handle = nil
}

// detach is called when the shadow is removed from the shadow tree
func (d *Delegate) detach() {
	d.releaseHandle()
	d.detached = true
}

func (d *Delegate) SupportedOperations(mask Operations) Operations {
	if d.handle == nil {
		return 0
	}
	return d.handle.SupportedOperations(mask) & mask
}

func (d *Delegate) SupportedChildOperations(child *Delegate, mask Operations) Operations {
	if d.handle == nil {
		return 0
	}
	return d.handle.SupportedChildOperations(child.mutable, mask) & mask
}

// GetNextSupportedChildType iterates the types child may be given; a nil child asks for
// the types of a new child
func (d *Delegate) GetNextSupportedChildType(child *Delegate, cookie *int) (string, error) {
	if d.handle == nil {
		return "", ErrUninitialized
	}
	var m *MutablePartition
	if child != nil {
		m = child.mutable
	}
	return d.handle.GetNextSupportedType(m, cookie)
}

func (d *Delegate) Defragment() error {
	if d.handle == nil {
		return ErrUninitialized
	}
	return d.handle.Defragment()
}

func (d *Delegate) Repair(checkOnly bool) error {
	if d.handle == nil {
		return ErrUninitialized
	}
	return d.handle.Repair(checkOnly)
}

func (d *Delegate) ValidateResize(size *int64) error {
	if d.handle == nil {
		return ErrUninitialized
	}
	return d.handle.ValidateResize(size)
}

func (d *Delegate) ValidateResizeChild(child *Delegate, size *int64) error {
	if d.handle == nil {
		return ErrUninitialized
	}
	return d.handle.ValidateResizeChild(child.mutable, size)
}

func (d *Delegate) Resize(size int64) error {
	if d.handle == nil {
		return ErrUninitialized
	}
	validated := size
	if err := d.handle.ValidateResize(&validated); err != nil {
		return err
	}
	if validated != size {
		return ErrBadValue
	}
	return d.handle.Resize(size)
}

func (d *Delegate) ResizeChild(child *Delegate, size int64) error {
	if d.handle == nil {
		return ErrUninitialized
	}
	validated := size
	if err := d.handle.ValidateResizeChild(child.mutable, &validated); err != nil {
		return err
	}
	if validated != size {
		return ErrBadValue
	}
	return d.handle.ResizeChild(child.mutable, size)
}

func (d *Delegate) ValidateMove(offset *int64) error {
	if d.handle == nil {
		return ErrUninitialized
	}
	return d.handle.ValidateMove(offset)
}

func (d *Delegate) ValidateMoveChild(child *Delegate, offset *int64) error {
	if d.handle == nil {
		return ErrUninitialized
	}
	return d.handle.ValidateMoveChild(child.mutable, offset)
}

func (d *Delegate) Move(offset int64) error {
	if d.handle == nil {
		return ErrUninitialized
	}
	validated := offset
	if err := d.handle.ValidateMove(&validated); err != nil {
		return err
	}
	if validated != offset {
		return ErrBadValue
	}
	return d.handle.Move(offset)
}

func (d *Delegate) MoveChild(child *Delegate, offset int64) error {
	if d.handle == nil {
		return ErrUninitialized
	}
	validated := offset
	if err := d.handle.ValidateMoveChild(child.mutable, &validated); err != nil {
		return err
	}
	if validated != offset {
		return ErrBadValue
	}
	return d.handle.MoveChild(child.mutable, offset)
}

func (d *Delegate) ValidateSetContentName(name *string) error {
	if d.handle == nil {
		return ErrUninitialized
	}
	return d.handle.ValidateSetContentName(name)
}

func (d *Delegate) ValidateSetName(child *Delegate, name *string) error {
	if d.handle == nil {
		return ErrUninitialized
	}
	return d.handle.ValidateSetName(child.mutable, name)
}

func (d *Delegate) SetContentName(name string) error {
	if d.handle == nil {
		return ErrUninitialized
	}
	validated := name
	if err := d.handle.ValidateSetContentName(&validated); err != nil {
		return err
	}
	if validated != name {
		return ErrBadValue
	}
	return d.handle.SetContentName(name)
}

func (d *Delegate) SetName(child *Delegate, name string) error {
	if d.handle == nil {
		return ErrUninitialized
	}
	validated := name
	if err := d.handle.ValidateSetName(child.mutable, &validated); err != nil {
		return err
	}
	if validated != name {
		return ErrBadValue
	}
	return d.handle.SetName(child.mutable, name)
}

func (d *Delegate) ValidateSetType(child *Delegate, typ string) error {
	if d.handle == nil {
		return ErrUninitialized
	}
	return d.handle.ValidateSetType(child.mutable, typ)
}

func (d *Delegate) SetType(child *Delegate, typ string) error {
	if err := d.ValidateSetType(child, typ); err != nil {
		return err
	}
	return d.handle.SetType(child.mutable, typ)
}

func (d *Delegate) ValidateSetContentParameters(parameters string) error {
	if d.handle == nil {
		return ErrUninitialized
	}
	return d.handle.ValidateSetContentParameters(parameters)
}

func (d *Delegate) ValidateSetParameters(child *Delegate, parameters string) error {
	if d.handle == nil {
		return ErrUninitialized
	}
	return d.handle.ValidateSetParameters(child.mutable, parameters)
}

func (d *Delegate) SetContentParameters(parameters string) error {
	if err := d.ValidateSetContentParameters(parameters); err != nil {
		return err
	}
	return d.handle.SetContentParameters(parameters)
}

func (d *Delegate) SetParameters(child *Delegate, parameters string) error {
	if err := d.ValidateSetParameters(child, parameters); err != nil {
		return err
	}
	return d.handle.SetParameters(child.mutable, parameters)
}

// CanInitialize asks the disk system whether it could be put on the shadow
func (d *Delegate) CanInitialize(diskSystem string) bool {
	addOn, err := d.registry.Get(diskSystem)
	if err != nil {
		return false
	}
	defer d.registry.Put(addOn)
	return addOn.CanInitialize(d.mutable)
}

func (d *Delegate) ValidateInitialize(diskSystem string, name *string, parameters string) error {
	addOn, err := d.registry.Get(diskSystem)
	if err != nil {
		return err
	}
	defer d.registry.Put(addOn)
	if !addOn.CanInitialize(d.mutable) {
		return ErrNotSupported
	}
	return addOn.ValidateInitialize(d.mutable, name, parameters)
}

// Initialize puts a new disk system on the shadow. The current handle is replaced only
// if the disk system succeeds.
func (d *Delegate) Initialize(diskSystem, name, parameters string) error {
	addOn, err := d.registry.Get(diskSystem)
	if err != nil {
		return err
	}
	if !addOn.CanInitialize(d.mutable) {
		d.registry.Put(addOn)
		return ErrNotSupported
	}
	validated := name
	if err := addOn.ValidateInitialize(d.mutable, &validated, parameters); err != nil {
		d.registry.Put(addOn)
		return err
	}
	if validated != name {
		d.registry.Put(addOn)
		return ErrBadValue
	}
	handle, err := addOn.Initialize(d.mutable, name, parameters)
	if err != nil {
		d.registry.Put(addOn)
		return err
	}
	d.releaseHandle()
	d.addOn = addOn
	d.handle = handle
	// initializing with the same disk system again does not change the content type
	d.mutable.Changed(ChangedInitialization, 0)
	log.WithFields(log.Fields{"partition": d.mutable.ID(), "disk_system": diskSystem}).Debug("initialized shadow partition")
	return nil
}

// Uninitialize drops the disk system and everything on the shadow
func (d *Delegate) Uninitialize() error {
	if d.handle == nil {
		return ErrUninitialized
	}
	d.releaseHandle()
	d.mutable.UninitializeContents()
	return nil
}

func (d *Delegate) ValidateCreateChild(offset, size *int64, typ string, name *string, parameters string) (int, error) {
	if d.handle == nil {
		return -1, ErrUninitialized
	}
	return d.handle.ValidateCreateChild(offset, size, typ, name, parameters)
}

// CreateChild adds a new child to the shadow and returns its partition
func (d *Delegate) CreateChild(offset, size int64, typ, name, parameters string) (*Partition, error) {
	if d.handle == nil {
		return nil, ErrUninitialized
	}
	validOffset, validSize, validName := offset, size, name
	if _, err := d.handle.ValidateCreateChild(&validOffset, &validSize, typ, &validName, parameters); err != nil {
		return nil, err
	}
	if validOffset != offset || validSize != size || validName != name {
		return nil, ErrBadValue
	}
	child, err := d.handle.CreateChild(offset, size, typ, name, parameters)
	if err != nil {
		return nil, err
	}
	return child.delegate.partition, nil
}

func (d *Delegate) DeleteChild(child *Delegate) error {
	if d.handle == nil {
		return ErrUninitialized
	}
	if d.mutable.IndexOfChild(child.mutable) < 0 {
		return ErrBadValue
	}
	return d.handle.DeleteChild(child.mutable)
}
