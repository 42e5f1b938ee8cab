// Package disk provides the disk devices partitions are edited on.
//
// A Device holds the partition tree the kernel reports for one disk. Modifications are
// made in a transaction: PrepareModifications gives every partition a shadow which the
// edit methods of github.com/diskfs/go-disktx/partition change, CommitModifications
// turns the differences into kernel jobs and runs them, CancelModifications drops them.
// Either way the tree is read from the kernel again when the transaction ends.
package disk

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-disktx/backend"
	"github.com/diskfs/go-disktx/job"
	"github.com/diskfs/go-disktx/jobgen"
	"github.com/diskfs/go-disktx/partition"
)

// Device is a reference to a single disk device known to a backend
type Device struct {
	backend   backend.Backend
	registry  partition.Registry
	data      *backend.DeviceData
	root      *partition.Partition
	preparing bool
}

// Open reads the device owning the partition id from b. registry provides the disk
// systems used while modifications are prepared.
func Open(b backend.Backend, id backend.PartitionID, registry partition.Registry) (*Device, error) {
	if b == nil {
		return nil, errors.New("must pass a backend")
	}
	if registry == nil {
		return nil, errors.New("must pass a disk system registry")
	}
	d := &Device{
		backend:  b,
		registry: registry,
	}
	data, err := b.GetDiskDeviceData(id, false)
	if err != nil {
		return nil, fmt.Errorf("could not read device of partition %d: %w", id, err)
	}
	d.setTo(data)
	return d, nil
}

func (d *Device) setTo(data *backend.DeviceData) {
	d.data = data
	d.root = partition.NewTree(&data.PartitionData)
	d.logger().WithField("generation", data.Generation).Debug("read partition tree")
}

func (d *Device) logger() *log.Entry {
	return log.WithField("device", d.data.ID)
}

func (d *Device) ID() backend.PartitionID {
	return d.data.ID
}

// Path of the device node or image
func (d *Device) Path() string {
	return d.data.Path
}

func (d *Device) DeviceFlags() backend.DeviceFlags {
	return d.data.DeviceFlags
}

func (d *Device) HasMedia() bool {
	return d.data.DeviceFlags&backend.DeviceHasMedia != 0
}

func (d *Device) IsRemovable() bool {
	return d.data.DeviceFlags&backend.DeviceRemovable != 0
}

func (d *Device) IsReadOnly() bool {
	return d.data.DeviceFlags&(backend.DeviceReadOnly|backend.DeviceWriteOnce) != 0
}

// Root returns the partition representing the whole device. The tree is replaced when a
// transaction ends and by Update.
func (d *Device) Root() *partition.Partition {
	return d.root
}

// FindPartition returns the partition with the given id, nil if there is none. During a
// transaction partitions removed from the shadow are not found.
func (d *Device) FindPartition(id partition.ID) *partition.Partition {
	return d.root.FindDescendant(id)
}

// Partition returns the partition with the given id
func (d *Device) Partition(id partition.ID) (*partition.Partition, error) {
	p := d.FindPartition(id)
	if p == nil {
		return nil, NewInvalidPartitionError(id)
	}
	return p, nil
}

// Update reads the device from the backend again if it changed since it was last read,
// reporting whether it did. It fails while modifications are prepared.
func (d *Device) Update() (bool, error) {
	if d.preparing {
		return false, ErrTransactionOpen
	}
	data, err := d.backend.GetDiskDeviceData(d.data.ID, true)
	if err != nil {
		return false, fmt.Errorf("could not read device %d: %w", d.data.ID, err)
	}
	if data.Generation == d.data.Generation {
		d.data.DeviceFlags = data.DeviceFlags
		return false, nil
	}
	if err := d.resync(); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Device) resync() error {
	data, err := d.backend.GetDiskDeviceData(d.data.ID, false)
	if err != nil {
		return fmt.Errorf("could not read device %d: %w", d.data.ID, err)
	}
	d.setTo(data)
	return nil
}

// PrepareModifications starts a transaction
func (d *Device) PrepareModifications() error {
	switch {
	case d.preparing:
		return ErrTransactionOpen
	case !d.HasMedia():
		return ErrNoMedia
	case d.IsReadOnly():
		return ErrReadOnly
	}
	if _, err := d.Update(); err != nil {
		return err
	}
	if err := d.root.CreateDelegates(d.registry); err != nil {
		return err
	}
	d.preparing = true
	d.logger().Info("prepared modifications")
	return nil
}

// IsModified reports whether anything was changed in the current transaction
func (d *Device) IsModified() bool {
	return d.preparing && d.root.IsModified()
}

// GenerateJobs computes the jobs committing the current transaction would run, without
// running them
func (d *Device) GenerateJobs() (*job.Queue, error) {
	if !d.preparing {
		return nil, partition.ErrNoTransaction
	}
	return jobgen.New(d.root).Generate()
}

// CommitModifications writes the modifications of the current transaction to the
// backend. With sync the backend is asked to flush its state afterwards. progress, if
// given, is told about every job with wantCompleteUpdates, otherwise only when done.
//
// The transaction always ends and the tree is read again, also when no jobs could be
// generated or a job failed; jobs run before the failure are not undone.
func (d *Device) CommitModifications(sync bool, progress job.ProgressFunc, wantCompleteUpdates bool) error {
	if !d.preparing {
		return partition.ErrNoTransaction
	}
	logger := d.logger()
	q, err := d.GenerateJobs()
	if err != nil {
		err = fmt.Errorf("could not generate jobs: %w", err)
	} else {
		logger.Debugf("executing %d jobs", q.Count())
		err = q.Execute(d.backend, progress, wantCompleteUpdates)
	}

	d.root.DeleteDelegates()
	d.preparing = false

	if err == nil && sync {
		if s, ok := d.backend.(backend.Syncer); ok {
			err = s.Sync(d.data.ID)
		}
	}
	if resyncErr := d.resync(); resyncErr != nil {
		if err == nil {
			return resyncErr
		}
		logger.Warnf("could not read device after failed commit: %v", resyncErr)
	}
	if err != nil {
		logger.Warnf("commit failed: %v", err)
		return err
	}
	logger.Infof("committed %d jobs", q.Count())
	return nil
}

// CancelModifications ends the current transaction without writing anything
func (d *Device) CancelModifications() error {
	if !d.preparing {
		return partition.ErrNoTransaction
	}
	d.root.DeleteDelegates()
	d.preparing = false
	d.logger().Info("cancelled modifications")
	return d.resync()
}
