// Package addon keeps the disk systems known to the engine and counts who uses them.
package addon

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-disktx/partition"
)

var ErrNotFound = errors.New("disk system not found")

// NotFoundError names the disk system that is not registered
type NotFoundError struct {
	name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("disk system %q not found", e.name)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func NewNotFoundError(name string) *NotFoundError {
	return &NotFoundError{
		name: name,
	}
}

// Manager hands out registered disk systems by name. It is shared between devices and
// safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	addOns     map[string]partition.AddOn
	references map[string]int
}

// partition.Registry interface guard
var _ partition.Registry = (*Manager)(nil)

// NewManager creates a manager knowing addOns
func NewManager(addOns ...partition.AddOn) *Manager {
	m := &Manager{
		addOns:     map[string]partition.AddOn{},
		references: map[string]int{},
	}
	for _, a := range addOns {
		m.Register(a)
	}
	return m
}

// Register adds a disk system, replacing one of the same name
func (m *Manager) Register(a partition.AddOn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addOns[a.Name()] = a
	log.WithField("disk_system", a.Name()).Debug("registered disk system")
}

// Get returns the disk system called name and takes a reference on it
func (m *Manager) Get(name string) (partition.AddOn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.addOns[name]
	if !ok {
		return nil, NewNotFoundError(name)
	}
	m.references[name]++
	return a, nil
}

// Put releases a reference taken by Get
func (m *Manager) Put(a partition.AddOn) {
	if a == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	name := a.Name()
	if m.references[name] == 0 {
		log.WithField("disk_system", name).Warn("released disk system that was not in use")
		return
	}
	m.references[name]--
}

// References returns how many references on the disk system called name are held
func (m *Manager) References(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.references[name]
}

// Names returns the names of the registered disk systems, sorted
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.addOns))
	for name := range m.addOns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
