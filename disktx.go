// Package disktx edits the partitions of disk devices in transactions.
//
// Changes are described against a shadow copy of a device's partition tree; committing
// them computes and runs, in an order that never makes two partitions overlap, the kernel
// operations that bring the device to the described state. This does **not** write
// partition tables or file systems byte by byte; it drives a backend that does.
//
// Some examples:
//
// 1. Shrink the first partition of a device kept in a state file to 32MB.
//
//	import "github.com/diskfs/go-disktx"
//
//	state, err := disktx.Open("/var/lib/disks.yaml")
//	d, err := state.Device(1)
//	err = d.PrepareModifications()
//	err = d.Root().ChildAt(0).Resize(32*1024*1024, true)
//	err = d.CommitModifications(true, nil, false)
//
// 2. Add a 100MB ext4 partition at 200MB to a device with a GUID partition map.
//
//	d, err := state.Device(1)
//	err = d.PrepareModifications()
//	p, err := d.Root().CreateChild(200*1024*1024, 100*1024*1024, string(gpt.LinuxFilesystem), "home", "")
//	err = p.Initialize("ext4", "home", "")
//	err = d.CommitModifications(true, nil, false)
package disktx

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-disktx/addon"
	"github.com/diskfs/go-disktx/addon/fs"
	"github.com/diskfs/go-disktx/addon/gpt"
	"github.com/diskfs/go-disktx/addon/intel"
	"github.com/diskfs/go-disktx/backend"
	"github.com/diskfs/go-disktx/backend/file"
	"github.com/diskfs/go-disktx/disk"
	"github.com/diskfs/go-disktx/partition"
)

// DefaultRegistry returns a manager knowing every built-in disk system
func DefaultRegistry() *addon.Manager {
	m := addon.NewManager(intel.New(), gpt.New())
	for _, a := range fs.All() {
		m.Register(a)
	}
	return m
}

type options struct {
	registry partition.Registry
	readOnly bool
}

// Option configures Open and Create
type Option func(*options)

// WithRegistry uses registry to find disk systems instead of DefaultRegistry
func WithRegistry(registry partition.Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithReadOnly opens the state file for reading only. Its devices report themselves
// read-only and refuse modifications.
func WithReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
	}
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = DefaultRegistry()
	}
	return o
}

// State is an open device state file
type State struct {
	backend  *file.Backend
	registry partition.Registry
}

// Open a State from a path to a state file
// The provided file must exist at the time you call Open()
func Open(path string, opts ...Option) (*State, error) {
	if path == "" {
		return nil, errors.New("must pass state file name")
	}
	o := newOptions(opts)
	b, err := file.OpenFromPath(path, o.readOnly)
	if err != nil {
		return nil, err
	}
	b.Kernel().AddPartitioningSystems(partitioningSystems(o.registry)...)
	log.WithField("path", path).Debug("opened device state")
	return &State{backend: b, registry: o.registry}, nil
}

// Create a State at path holding devices
// The provided file must not exist at the time you call Create()
func Create(path string, devices []*backend.DeviceData, opts ...Option) (*State, error) {
	if path == "" {
		return nil, errors.New("must pass state file name")
	}
	if len(devices) == 0 {
		return nil, errors.New("must pass at least one device")
	}
	o := newOptions(opts)
	if o.readOnly {
		return nil, errors.New("cannot create a read-only state file")
	}
	b, err := file.CreateFromPath(path, devices...)
	if err != nil {
		return nil, err
	}
	b.Kernel().AddPartitioningSystems(partitioningSystems(o.registry)...)
	return &State{backend: b, registry: o.registry}, nil
}

// partitioningSystems lists the disk systems of registry that hold partitions. Only
// registries that can list their names are asked.
func partitioningSystems(registry partition.Registry) []string {
	lister, ok := registry.(interface{ Names() []string })
	if !ok {
		return nil
	}
	var names []string
	for _, name := range lister.Names() {
		a, err := registry.Get(name)
		if err != nil {
			continue
		}
		if a.Flags()&partition.DiskSystemPartitioningSystem != 0 {
			names = append(names, name)
		}
		registry.Put(a)
	}
	return names
}

// Devices returns the ids of the devices in the state file
func (s *State) Devices() []backend.PartitionID {
	return s.backend.Kernel().Devices()
}

// Device opens the device owning the partition id
func (s *State) Device(id backend.PartitionID) (*disk.Device, error) {
	d, err := disk.Open(s.backend, id, s.registry)
	if err != nil {
		return nil, fmt.Errorf("could not open device: %w", err)
	}
	return d, nil
}

// Backend gives access to the backend the devices are edited through
func (s *State) Backend() backend.Backend {
	return s.backend
}

// Close releases the state file
func (s *State) Close() error {
	return s.backend.Close()
}
