// Package script reads edit scripts and applies them to a device in transaction.
//
// An edit script is a YAML document naming a device and a list of steps. Each step
// targets one partition, either by id or by the label an earlier create_child step gave
// the partition it created, and lists the edits to make to it:
//
//	device: 1
//	steps:
//	  - partition: 2
//	    resize: 64MiB
//	    set_name: boot
//	  - partition: 1
//	    create_child: {offset: 128MiB, size: 256MiB, type: 0FC63DAF-8483-4772-8E79-3D69D8477DE4}
//	    as: home
//	  - ref: home
//	    initialize: {disk_system: ext4, name: home}
package script

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	units "github.com/docker/go-units"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/diskfs/go-disktx/backend"
	"github.com/diskfs/go-disktx/disk"
	"github.com/diskfs/go-disktx/partition"
)

// Size is a byte count written either as a plain number or with a binary unit suffix
type Size int64

// UnmarshalYAML accepts 1048576, 1m, 1MiB and the like
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", node.Line)
	}
	n, err := units.RAMInBytes(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid size %q: %w", node.Line, node.Value, err)
	}
	*s = Size(n)
	return nil
}

// Initialize describes the contents to put on a partition
type Initialize struct {
	DiskSystem string `yaml:"disk_system"`
	Name       string `yaml:"name"`
	Parameters string `yaml:"parameters"`
}

// CreateChild describes a partition to create in the target
type CreateChild struct {
	Offset     Size   `yaml:"offset"`
	Size       Size   `yaml:"size"`
	Type       string `yaml:"type"`
	Name       string `yaml:"name"`
	Parameters string `yaml:"parameters"`
}

// Step lists the edits of one partition. They are applied in field order, except that
// Uninitialize comes first and Delete last.
type Step struct {
	Partition backend.PartitionID `yaml:"partition,omitempty"`
	Ref       string              `yaml:"ref,omitempty"`

	Uninitialize bool        `yaml:"uninitialize,omitempty"`
	Initialize   *Initialize `yaml:"initialize,omitempty"`
	Resize       *Size       `yaml:"resize,omitempty"`
	// ResizeContents defaults to true
	ResizeContents       *bool   `yaml:"resize_contents,omitempty"`
	Move                 *Size   `yaml:"move,omitempty"`
	SetType              *string `yaml:"set_type,omitempty"`
	SetName              *string `yaml:"set_name,omitempty"`
	SetParameters        *string `yaml:"set_parameters,omitempty"`
	SetContentName       *string `yaml:"set_content_name,omitempty"`
	SetContentParameters *string `yaml:"set_content_parameters,omitempty"`
	Defragment           bool    `yaml:"defragment,omitempty"`
	Check                bool    `yaml:"check,omitempty"`
	Repair               bool    `yaml:"repair,omitempty"`

	CreateChild *CreateChild `yaml:"create_child,omitempty"`
	// As labels the partition created by CreateChild for later steps
	As     string `yaml:"as,omitempty"`
	Delete bool   `yaml:"delete,omitempty"`
}

// Script is a parsed edit script
type Script struct {
	Device backend.PartitionID `yaml:"device"`
	Steps  []Step              `yaml:"steps"`
}

// Load reads the script at path
func Load(path string) (*Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read script: %w", err)
	}
	return Parse(bytes.NewReader(b))
}

// Parse reads a script from r and checks that its steps are well formed
func Parse(r io.Reader) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty script")
		}
		return nil, fmt.Errorf("could not parse script: %w", err)
	}
	labels := map[string]bool{}
	for i, step := range s.Steps {
		switch {
		case step.Partition == 0 && step.Ref == "":
			return nil, fmt.Errorf("step %d: one of partition or ref is required", i)
		case step.Partition != 0 && step.Ref != "":
			return nil, fmt.Errorf("step %d: partition and ref are exclusive", i)
		case step.Ref != "" && !labels[step.Ref]:
			return nil, fmt.Errorf("step %d: ref %q is not defined by an earlier step", i, step.Ref)
		case step.As != "" && step.CreateChild == nil:
			return nil, fmt.Errorf("step %d: as without create_child", i)
		case step.As != "" && labels[step.As]:
			return nil, fmt.Errorf("step %d: label %q defined twice", i, step.As)
		case step.Initialize != nil && step.Initialize.DiskSystem == "":
			return nil, fmt.Errorf("step %d: initialize needs a disk_system", i)
		}
		if step.As != "" {
			labels[step.As] = true
		}
	}
	return &s, nil
}

// Apply makes the edits of s to d. d must have a transaction open. Apply stops at the
// first refused edit; the edits made so far stay in the transaction.
func Apply(d *disk.Device, s *Script) error {
	labels := map[string]*partition.Partition{}
	for i := range s.Steps {
		step := &s.Steps[i]
		var (
			p   *partition.Partition
			err error
		)
		if step.Ref != "" {
			p = labels[step.Ref]
			if p == nil {
				return fmt.Errorf("step %d: unknown ref %q", i, step.Ref)
			}
		} else if p, err = d.Partition(step.Partition); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		created, err := applyStep(p, step)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if step.As != "" {
			labels[step.As] = created
		}
		log.WithField("step", i).Debug("applied script step")
	}
	return nil
}

func applyStep(p *partition.Partition, step *Step) (*partition.Partition, error) {
	if step.Uninitialize {
		if err := p.Uninitialize(); err != nil {
			return nil, err
		}
	}
	if i := step.Initialize; i != nil {
		if err := p.Initialize(i.DiskSystem, i.Name, i.Parameters); err != nil {
			return nil, err
		}
	}
	if step.Resize != nil {
		resizeContents := step.ResizeContents == nil || *step.ResizeContents
		if err := p.Resize(int64(*step.Resize), resizeContents); err != nil {
			return nil, err
		}
	}
	if step.Move != nil {
		if err := p.Move(int64(*step.Move)); err != nil {
			return nil, err
		}
	}

	setters := []struct {
		value *string
		set   func(string) error
	}{
		{step.SetType, p.SetType},
		{step.SetName, p.SetName},
		{step.SetParameters, p.SetParameters},
		{step.SetContentName, p.SetContentName},
		{step.SetContentParameters, p.SetContentParameters},
	}
	for _, s := range setters {
		if s.value == nil {
			continue
		}
		if err := s.set(*s.value); err != nil {
			return nil, err
		}
	}

	if step.Defragment {
		if err := p.Defragment(); err != nil {
			return nil, err
		}
	}
	if step.Check || step.Repair {
		if err := p.Repair(!step.Repair); err != nil {
			return nil, err
		}
	}

	var created *partition.Partition
	if c := step.CreateChild; c != nil {
		child, err := p.CreateChild(int64(c.Offset), int64(c.Size), c.Type, c.Name, c.Parameters)
		if err != nil {
			return nil, err
		}
		created = child
	}

	if step.Delete {
		parent := p.Parent()
		if parent == nil {
			return nil, fmt.Errorf("cannot delete device %d: %w", p.ID(), partition.ErrNotSupported)
		}
		if err := parent.DeleteChild(parent.IndexOfChild(p)); err != nil {
			return nil, err
		}
	}
	return created, nil
}
