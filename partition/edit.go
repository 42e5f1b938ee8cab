package partition

// Edits of a partition go through its delegate, or through its parent's delegate for the
// attributes a partitioning system keeps about its children (offset, size, name, type,
// parameters). Each edit has a Can query for the user interface and a Validate query
// that adjusts the proposed value to the closest one the disk systems accept. The edits
// validate again before changing the shadow.

func (p *Partition) delegateFor(op string) (*Delegate, error) {
	if p.delegate == nil {
		return nil, newOperationError(op, p.ID(), ErrNoTransaction)
	}
	if p.delegate.detached {
		return nil, newOperationError(op, p.ID(), ErrBadValue)
	}
	return p.delegate, nil
}

func (p *Partition) parentDelegateFor(op string) (*Delegate, *Delegate, error) {
	d, err := p.delegateFor(op)
	if err != nil {
		return nil, nil, err
	}
	if p.parent == nil {
		return nil, nil, newOperationError(op, p.ID(), ErrNotSupported)
	}
	parent, err := p.parent.delegateFor(op)
	if err != nil {
		return nil, nil, err
	}
	return d, parent, nil
}

// hasUnrecognizedContents reports contents no disk system claimed
func (d *Delegate) hasUnrecognizedContents() bool {
	return d.handle == nil && (d.mutable.ContentType() != "" || d.mutable.Status() == StatusUnrecognized)
}

func (p *Partition) CanDefragment() bool {
	d, err := p.delegateFor("defragment")
	return err == nil && d.SupportedOperations(OpDefragment) != 0
}

// Defragment schedules a defragmentation of the contents
func (p *Partition) Defragment() error {
	d, err := p.delegateFor("defragment")
	if err != nil {
		return err
	}
	return newOperationError("defragment", p.ID(), d.Defragment())
}

func (p *Partition) CanRepair(checkOnly bool) bool {
	d, err := p.delegateFor("repair")
	if err != nil {
		return false
	}
	if checkOnly {
		return d.SupportedOperations(OpRepair) != 0
	}
	return !p.IsBusy() && d.SupportedOperations(OpRepair) != 0
}

// Repair schedules a check, or with checkOnly false a repair, of the contents
func (p *Partition) Repair(checkOnly bool) error {
	d, err := p.delegateFor("repair")
	if err != nil {
		return err
	}
	return newOperationError("repair", p.ID(), d.Repair(checkOnly))
}

func (p *Partition) CanResize(resizeContents bool) bool {
	d, parent, err := p.parentDelegateFor("resize")
	if err != nil || p.IsBusy() {
		return false
	}
	if parent.SupportedChildOperations(d, OpResizeChild) == 0 {
		return false
	}
	if resizeContents && d.mutable.ContentType() != "" {
		return d.SupportedOperations(OpResize) != 0
	}
	return true
}

// ValidateResize adjusts size to the closest size both the parent's partitioning system
// and, with resizeContents, the partition's own disk system accept
func (p *Partition) ValidateResize(size *int64, resizeContents bool) error {
	d, parent, err := p.parentDelegateFor("resize")
	if err != nil {
		return err
	}
	return newOperationError("resize", p.ID(), validateResize(d, parent, size, resizeContents))
}

func validateResize(d, parent *Delegate, size *int64, resizeContents bool) error {
	if err := parent.ValidateResizeChild(d, size); err != nil {
		return err
	}
	if !resizeContents || d.mutable.ContentType() == "" {
		if *size < d.mutable.ContentSize() {
			return ErrBadValue
		}
		return nil
	}
	if d.hasUnrecognizedContents() {
		return ErrNotSupported
	}
	contentSize := *size
	if err := d.ValidateResize(&contentSize); err != nil {
		return err
	}
	if contentSize == *size {
		return nil
	}
	// the contents want another size; the partitioning system has to agree
	*size = contentSize
	if err := parent.ValidateResizeChild(d, size); err != nil {
		return err
	}
	if *size != contentSize {
		return ErrBadValue
	}
	return nil
}

// Resize changes the size of the partition and, with resizeContents, of its contents.
// Contents shrink before the partition and grow after it.
func (p *Partition) Resize(size int64, resizeContents bool) error {
	d, parent, err := p.parentDelegateFor("resize")
	if err != nil {
		return err
	}
	validated := size
	if err := validateResize(d, parent, &validated, resizeContents); err != nil {
		return newOperationError("resize", p.ID(), err)
	}
	if validated != size {
		return newOperationError("resize", p.ID(), ErrBadValue)
	}
	withContents := resizeContents && d.mutable.ContentType() != ""
	oldSize := d.mutable.Size()
	if withContents && size < oldSize {
		if err := d.Resize(size); err != nil {
			return newOperationError("resize", p.ID(), err)
		}
	}
	if err := parent.ResizeChild(d, size); err != nil {
		return newOperationError("resize", p.ID(), err)
	}
	if withContents && size >= oldSize {
		if err := d.Resize(size); err != nil {
			return newOperationError("resize", p.ID(), err)
		}
	}
	return nil
}

func (p *Partition) CanMove() bool {
	d, parent, err := p.parentDelegateFor("move")
	if err != nil || p.IsBusy() {
		return false
	}
	if parent.SupportedChildOperations(d, OpMoveChild) == 0 {
		return false
	}
	if d.mutable.ContentType() != "" {
		return d.SupportedOperations(OpMove) != 0
	}
	return true
}

// ValidateMove adjusts offset to the closest offset the parent's partitioning system
// accepts and checks the contents can be moved along
func (p *Partition) ValidateMove(offset *int64) error {
	d, parent, err := p.parentDelegateFor("move")
	if err != nil {
		return err
	}
	return newOperationError("move", p.ID(), validateMove(d, parent, offset))
}

func validateMove(d, parent *Delegate, offset *int64) error {
	if err := parent.ValidateMoveChild(d, offset); err != nil {
		return err
	}
	if d.mutable.ContentType() == "" {
		return nil
	}
	if d.hasUnrecognizedContents() {
		return ErrNotSupported
	}
	contentOffset := *offset
	if err := d.ValidateMove(&contentOffset); err != nil {
		return err
	}
	if contentOffset != *offset {
		return ErrBadValue
	}
	return nil
}

// Move places the partition at a new offset within its parent
func (p *Partition) Move(offset int64) error {
	d, parent, err := p.parentDelegateFor("move")
	if err != nil {
		return err
	}
	validated := offset
	if err := validateMove(d, parent, &validated); err != nil {
		return newOperationError("move", p.ID(), err)
	}
	if validated != offset {
		return newOperationError("move", p.ID(), ErrBadValue)
	}
	if err := parent.MoveChild(d, offset); err != nil {
		return newOperationError("move", p.ID(), err)
	}
	if d.mutable.ContentType() != "" {
		if err := d.Move(offset); err != nil {
			return newOperationError("move", p.ID(), err)
		}
	}
	return nil
}

func (p *Partition) CanSetName() bool {
	d, parent, err := p.parentDelegateFor("set name")
	return err == nil && parent.SupportedChildOperations(d, OpSetName) != 0
}

func (p *Partition) ValidateSetName(name *string) error {
	d, parent, err := p.parentDelegateFor("set name")
	if err != nil {
		return err
	}
	return newOperationError("set name", p.ID(), parent.ValidateSetName(d, name))
}

// SetName changes the name the partitioning system keeps for the partition
func (p *Partition) SetName(name string) error {
	d, parent, err := p.parentDelegateFor("set name")
	if err != nil {
		return err
	}
	return newOperationError("set name", p.ID(), parent.SetName(d, name))
}

func (p *Partition) CanSetContentName() bool {
	d, err := p.delegateFor("set content name")
	return err == nil && d.SupportedOperations(OpSetContentName) != 0
}

func (p *Partition) ValidateSetContentName(name *string) error {
	d, err := p.delegateFor("set content name")
	if err != nil {
		return err
	}
	return newOperationError("set content name", p.ID(), d.ValidateSetContentName(name))
}

// SetContentName changes the name of the contents, e.g. a volume label
func (p *Partition) SetContentName(name string) error {
	d, err := p.delegateFor("set content name")
	if err != nil {
		return err
	}
	return newOperationError("set content name", p.ID(), d.SetContentName(name))
}

func (p *Partition) CanSetType() bool {
	d, parent, err := p.parentDelegateFor("set type")
	return err == nil && parent.SupportedChildOperations(d, OpSetType) != 0
}

func (p *Partition) ValidateSetType(typ string) error {
	d, parent, err := p.parentDelegateFor("set type")
	if err != nil {
		return err
	}
	return newOperationError("set type", p.ID(), parent.ValidateSetType(d, typ))
}

// SetType changes the partition type the partitioning system records
func (p *Partition) SetType(typ string) error {
	d, parent, err := p.parentDelegateFor("set type")
	if err != nil {
		return err
	}
	return newOperationError("set type", p.ID(), parent.SetType(d, typ))
}

// GetNextSupportedType iterates the types this partition may be given
func (p *Partition) GetNextSupportedType(cookie *int) (string, error) {
	d, parent, err := p.parentDelegateFor("get supported type")
	if err != nil {
		return "", err
	}
	return parent.GetNextSupportedChildType(d, cookie)
}

// GetNextSupportedChildType iterates the types a new child of this partition may be given
func (p *Partition) GetNextSupportedChildType(cookie *int) (string, error) {
	d, err := p.delegateFor("get supported child type")
	if err != nil {
		return "", err
	}
	return d.GetNextSupportedChildType(nil, cookie)
}

func (p *Partition) CanSetParameters() bool {
	d, parent, err := p.parentDelegateFor("set parameters")
	return err == nil && parent.SupportedChildOperations(d, OpSetParameters) != 0
}

func (p *Partition) ValidateSetParameters(parameters string) error {
	d, parent, err := p.parentDelegateFor("set parameters")
	if err != nil {
		return err
	}
	return newOperationError("set parameters", p.ID(), parent.ValidateSetParameters(d, parameters))
}

// SetParameters changes the parameters the partitioning system keeps for the partition
func (p *Partition) SetParameters(parameters string) error {
	d, parent, err := p.parentDelegateFor("set parameters")
	if err != nil {
		return err
	}
	return newOperationError("set parameters", p.ID(), parent.SetParameters(d, parameters))
}

func (p *Partition) CanSetContentParameters() bool {
	d, err := p.delegateFor("set content parameters")
	return err == nil && d.SupportedOperations(OpSetContentParameters) != 0
}

func (p *Partition) ValidateSetContentParameters(parameters string) error {
	d, err := p.delegateFor("set content parameters")
	if err != nil {
		return err
	}
	return newOperationError("set content parameters", p.ID(), d.ValidateSetContentParameters(parameters))
}

// SetContentParameters changes the parameters of the contents
func (p *Partition) SetContentParameters(parameters string) error {
	d, err := p.delegateFor("set content parameters")
	if err != nil {
		return err
	}
	return newOperationError("set content parameters", p.ID(), d.SetContentParameters(parameters))
}

func (p *Partition) CanInitialize(diskSystem string) bool {
	d, err := p.delegateFor("initialize")
	return err == nil && !p.IsBusy() && d.CanInitialize(diskSystem)
}

func (p *Partition) ValidateInitialize(diskSystem string, name *string, parameters string) error {
	d, err := p.delegateFor("initialize")
	if err != nil {
		return err
	}
	return newOperationError("initialize", p.ID(), d.ValidateInitialize(diskSystem, name, parameters))
}

// Initialize puts a new disk system on the partition, dropping everything on it
func (p *Partition) Initialize(diskSystem, name, parameters string) error {
	d, err := p.delegateFor("initialize")
	if err != nil {
		return err
	}
	if p.IsBusy() {
		return newOperationError("initialize", p.ID(), ErrBusy)
	}
	return newOperationError("initialize", p.ID(), d.Initialize(diskSystem, name, parameters))
}

// Uninitialize drops the disk system of the partition and everything on it
func (p *Partition) Uninitialize() error {
	d, err := p.delegateFor("uninitialize")
	if err != nil {
		return err
	}
	if p.IsBusy() {
		return newOperationError("uninitialize", p.ID(), ErrBusy)
	}
	return newOperationError("uninitialize", p.ID(), d.Uninitialize())
}

func (p *Partition) CanCreateChild() bool {
	d, err := p.delegateFor("create child")
	return err == nil && d.SupportedOperations(OpCreateChild) != 0
}

// ValidateCreateChild adjusts the placement and name of a new child and returns the
// index it would get
func (p *Partition) ValidateCreateChild(offset, size *int64, typ string, name *string, parameters string) (int, error) {
	d, err := p.delegateFor("create child")
	if err != nil {
		return -1, err
	}
	index, err := d.ValidateCreateChild(offset, size, typ, name, parameters)
	return index, newOperationError("create child", p.ID(), err)
}

// CreateChild adds a new child; it exists only in the shadow until committed
func (p *Partition) CreateChild(offset, size int64, typ, name, parameters string) (*Partition, error) {
	d, err := p.delegateFor("create child")
	if err != nil {
		return nil, err
	}
	child, err := d.CreateChild(offset, size, typ, name, parameters)
	if err != nil {
		return nil, newOperationError("create child", p.ID(), err)
	}
	return child, nil
}

func (p *Partition) CanDeleteChild(index int) bool {
	d, err := p.delegateFor("delete child")
	if err != nil {
		return false
	}
	child := p.ChildAt(index)
	return child != nil && !child.IsBusy() && d.SupportedOperations(OpDeleteChild) != 0
}

// DeleteChild removes the child at index in the current view
func (p *Partition) DeleteChild(index int) error {
	d, err := p.delegateFor("delete child")
	if err != nil {
		return err
	}
	child := p.ChildAt(index)
	if child == nil {
		return newOperationError("delete child", p.ID(), ErrBadValue)
	}
	if child.IsBusy() {
		return newOperationError("delete child", child.ID(), ErrBusy)
	}
	return newOperationError("delete child", child.ID(), d.DeleteChild(child.delegate))
}
