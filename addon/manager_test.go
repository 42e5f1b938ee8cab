package addon_test

import (
	"errors"
	"testing"

	"github.com/go-test/deep"

	"github.com/diskfs/go-disktx/addon"
	"github.com/diskfs/go-disktx/addon/fs"
	"github.com/diskfs/go-disktx/addon/gpt"
	"github.com/diskfs/go-disktx/addon/intel"
)

func TestManagerReferences(t *testing.T) {
	m := addon.NewManager(intel.New(), gpt.New(), fs.New(fs.BFS))

	expected := []string{gpt.Name, intel.Name, "bfs"}
	if diff := deep.Equal(m.Names(), expected); diff != nil {
		t.Errorf("mismatched names: %v", diff)
	}

	a, err := m.Get(gpt.Name)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := m.Get(gpt.Name)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Errorf("different add-ons for the same name")
	}
	if refs := m.References(gpt.Name); refs != 2 {
		t.Errorf("%d references, expected 2", refs)
	}
	m.Put(a)
	m.Put(b)
	// one too many is ignored
	m.Put(b)
	m.Put(nil)
	if refs := m.References(gpt.Name); refs != 0 {
		t.Errorf("%d references, expected 0", refs)
	}
}

func TestManagerNotFound(t *testing.T) {
	m := addon.NewManager()
	_, err := m.Get("zfs")
	var notFound *addon.NotFoundError
	switch {
	case !errors.Is(err, addon.ErrNotFound):
		t.Errorf("mismatched error, actual %v expected %v", err, addon.ErrNotFound)
	case !errors.As(err, &notFound):
		t.Errorf("error is not a NotFoundError: %v", err)
	case err.Error() != `disk system "zfs" not found`:
		t.Errorf("mismatched message %q", err.Error())
	}
	if refs := m.References("zfs"); refs != 0 {
		t.Errorf("%d references on a missing disk system", refs)
	}

	m.Register(fs.New(fs.Ext4))
	if _, err := m.Get("ext4"); err != nil {
		t.Errorf("unexpected error after registering: %v", err)
	}
}
