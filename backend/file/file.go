// Package file provides a backend.Backend whose partition state lives in a YAML file.
//
// The file is locked exclusively for as long as the backend is open, so two processes can
// never edit the same devices at once. Every successful mutation is written back before
// the call returns.
package file

import (
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-disktx/backend"
	"github.com/diskfs/go-disktx/backend/memory"
)

var (
	ErrIncorrectOpenMode = errors.New("device state file not open for write")
)

// Backend is a memory.Kernel persisted to a state file
type Backend struct {
	kernel   *memory.Kernel
	storage  *os.File
	readOnly bool
}

// backend.Backend interface guard
var _ backend.Backend = (*Backend)(nil)
var _ backend.Syncer = (*Backend)(nil)

// OpenFromPath opens an existing state file.
// The provided file must exist at the time you call OpenFromPath()
func OpenFromPath(pathName string, readOnly bool) (*Backend, error) {
	if pathName == "" {
		return nil, errors.New("must pass state file name")
	}

	if _, err := os.Stat(pathName); os.IsNotExist(err) {
		return nil, fmt.Errorf("provided state file %s does not exist", pathName)
	}

	openMode := os.O_RDONLY
	if !readOnly {
		openMode = os.O_RDWR
	}

	f, err := os.OpenFile(pathName, openMode, 0o600)
	if err != nil {
		return nil, fmt.Errorf("could not open state file %s with mode %v: %w", pathName, openMode, err)
	}
	if err := lock(f, readOnly); err != nil {
		f.Close()
		return nil, fmt.Errorf("could not lock state file %s: %w", pathName, err)
	}

	k := memory.New()
	if err := k.Load(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("could not read state file %s: %w", pathName, err)
	}

	return &Backend{
		kernel:   k,
		storage:  f,
		readOnly: readOnly,
	}, nil
}

// CreateFromPath creates a new state file holding the given devices.
// The provided file must not exist at the time you call CreateFromPath()
func CreateFromPath(pathName string, devices ...*backend.DeviceData) (*Backend, error) {
	if pathName == "" {
		return nil, errors.New("must pass state file name")
	}
	f, err := os.OpenFile(pathName, os.O_RDWR|os.O_EXCL|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("could not create state file %s: %w", pathName, err)
	}
	if err := lock(f, false); err != nil {
		f.Close()
		return nil, fmt.Errorf("could not lock state file %s: %w", pathName, err)
	}

	k := memory.New()
	for _, d := range devices {
		if err := k.AddDevice(d); err != nil {
			f.Close()
			return nil, err
		}
	}
	b := &Backend{
		kernel:  k,
		storage: f,
	}
	if err := b.save(); err != nil {
		f.Close()
		return nil, err
	}
	return b, nil
}

// Kernel gives access to the in-memory state behind the file
func (b *Backend) Kernel() *memory.Kernel {
	return b.kernel
}

// Close releases the lock and closes the state file
func (b *Backend) Close() error {
	unlock(b.storage)
	return b.storage.Close()
}

// Sync flushes the state file to stable storage
func (b *Backend) Sync(deviceID backend.PartitionID) error {
	if b.readOnly {
		return nil
	}
	log.WithField("device", deviceID).Debug("syncing state file")
	return b.storage.Sync()
}

func (b *Backend) save() error {
	if b.readOnly {
		return ErrIncorrectOpenMode
	}
	if err := b.storage.Truncate(0); err != nil {
		return fmt.Errorf("could not truncate state file: %v: %w", err, backend.ErrIO)
	}
	if _, err := b.storage.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("could not seek state file: %v: %w", err, backend.ErrIO)
	}
	if err := b.kernel.Save(b.storage); err != nil {
		return fmt.Errorf("%v: %w", err, backend.ErrIO)
	}
	return nil
}

// persist writes the state after a successful mutation
func (b *Backend) persist(err error) error {
	if err != nil {
		return err
	}
	return b.save()
}

func (b *Backend) writable() error {
	if b.readOnly {
		return ErrIncorrectOpenMode
	}
	return nil
}

func (b *Backend) GetDiskDeviceData(id backend.PartitionID, deviceOnly bool) (*backend.DeviceData, error) {
	d, err := b.kernel.GetDiskDeviceData(id, deviceOnly)
	if err != nil {
		return nil, err
	}
	d.DeviceFlags |= backend.DeviceFileBacked
	if b.readOnly {
		d.DeviceFlags |= backend.DeviceReadOnly
	}
	return d, nil
}

func (b *Backend) DefragmentPartition(id backend.PartitionID, counter *backend.ChangeCounter) error {
	if err := b.writable(); err != nil {
		return err
	}
	return b.persist(b.kernel.DefragmentPartition(id, counter))
}

func (b *Backend) RepairPartition(id backend.PartitionID, counter *backend.ChangeCounter, checkOnly bool) error {
	if checkOnly {
		return b.kernel.RepairPartition(id, counter, true)
	}
	if err := b.writable(); err != nil {
		return err
	}
	return b.persist(b.kernel.RepairPartition(id, counter, false))
}

func (b *Backend) ResizePartition(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter, size, contentSize int64) error {
	if err := b.writable(); err != nil {
		return err
	}
	return b.persist(b.kernel.ResizePartition(parentID, parentCounter, childID, childCounter, size, contentSize))
}

func (b *Backend) MovePartition(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter, offset int64) error {
	if err := b.writable(); err != nil {
		return err
	}
	return b.persist(b.kernel.MovePartition(parentID, parentCounter, childID, childCounter, offset))
}

func (b *Backend) SetPartitionName(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter, name string) error {
	if err := b.writable(); err != nil {
		return err
	}
	return b.persist(b.kernel.SetPartitionName(parentID, parentCounter, childID, childCounter, name))
}

func (b *Backend) SetPartitionType(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter, typ string) error {
	if err := b.writable(); err != nil {
		return err
	}
	return b.persist(b.kernel.SetPartitionType(parentID, parentCounter, childID, childCounter, typ))
}

func (b *Backend) SetPartitionParameters(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter *backend.ChangeCounter, parameters string) error {
	if err := b.writable(); err != nil {
		return err
	}
	return b.persist(b.kernel.SetPartitionParameters(parentID, parentCounter, childID, childCounter, parameters))
}

func (b *Backend) SetPartitionContentName(id backend.PartitionID, counter *backend.ChangeCounter, name string) error {
	if err := b.writable(); err != nil {
		return err
	}
	return b.persist(b.kernel.SetPartitionContentName(id, counter, name))
}

func (b *Backend) SetPartitionContentParameters(id backend.PartitionID, counter *backend.ChangeCounter, parameters string) error {
	if err := b.writable(); err != nil {
		return err
	}
	return b.persist(b.kernel.SetPartitionContentParameters(id, counter, parameters))
}

func (b *Backend) InitializePartition(id backend.PartitionID, counter *backend.ChangeCounter,
	diskSystem, name, parameters string) error {
	if err := b.writable(); err != nil {
		return err
	}
	return b.persist(b.kernel.InitializePartition(id, counter, diskSystem, name, parameters))
}

func (b *Backend) UninitializePartition(id backend.PartitionID, counter *backend.ChangeCounter,
	parentID backend.PartitionID, parentCounter *backend.ChangeCounter) error {
	if err := b.writable(); err != nil {
		return err
	}
	return b.persist(b.kernel.UninitializePartition(id, counter, parentID, parentCounter))
}

func (b *Backend) CreateChildPartition(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	offset, size int64, typ, name, parameters string) (backend.PartitionID, backend.ChangeCounter, error) {
	if err := b.writable(); err != nil {
		return backend.NoID, 0, err
	}
	id, counter, err := b.kernel.CreateChildPartition(parentID, parentCounter, offset, size, typ, name, parameters)
	if err := b.persist(err); err != nil {
		return backend.NoID, 0, err
	}
	return id, counter, nil
}

func (b *Backend) DeleteChildPartition(parentID backend.PartitionID, parentCounter *backend.ChangeCounter,
	childID backend.PartitionID, childCounter backend.ChangeCounter) error {
	if err := b.writable(); err != nil {
		return err
	}
	return b.persist(b.kernel.DeleteChildPartition(parentID, parentCounter, childID, childCounter))
}
