package file_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-test/deep"

	"github.com/diskfs/go-disktx/backend"
	"github.com/diskfs/go-disktx/backend/file"
)

const mib = int64(1 << 20)

func testDevice() *backend.DeviceData {
	return &backend.DeviceData{
		PartitionData: backend.PartitionData{
			ID:            1,
			Size:          64 * mib,
			ContentSize:   64 * mib,
			BlockSize:     512,
			Status:        backend.StatusValid,
			Flags:         backend.FlagDevice | backend.FlagPartitioningSystem,
			ChangeCounter: 1,
			ContentType:   "Intel Partition Map",
			Children: []*backend.PartitionData{
				{ID: 2, Offset: mib, Size: 16 * mib, ContentSize: 16 * mib, BlockSize: 512, ChangeCounter: 1,
					Status: backend.StatusValid, Flags: backend.FlagFileSystem, Type: "0xeb", ContentType: "bfs"},
			},
		},
		Path:        "/dev/disk/virtual/0/raw",
		DeviceFlags: backend.DeviceHasMedia,
	}
}

func TestOpenFromPath(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"missing file", filepath.Join(t.TempDir(), "missing.yaml")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := file.OpenFromPath(tt.path, false)
			if err == nil || b != nil {
				t.Errorf("OpenFromPath(%q) succeeded", tt.path)
			}
		})
	}

	// garbage is not a state file
	path := filepath.Join(t.TempDir(), "garbage.yaml")
	if err := os.WriteFile(path, []byte("devices: {id: [}"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := file.OpenFromPath(path, true); err == nil {
		t.Errorf("opened a corrupt state file")
	}
}

func TestCreateFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	b, err := file.CreateFromPath(path, testDevice())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := deep.Equal(b.Kernel().Devices(), []backend.PartitionID{1}); diff != nil {
		t.Errorf("devices: %v", diff)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("unexpected error closing: %v", err)
	}
	if _, err := file.CreateFromPath(path, testDevice()); err == nil {
		t.Errorf("created over an existing state file")
	}

	dup := testDevice()
	dup.Children[0].ID = 1
	if _, err := file.CreateFromPath(filepath.Join(t.TempDir(), "dup.yaml"), dup); !errors.Is(err, backend.ErrBadValue) {
		t.Errorf("mismatched error, actual %v expected %v", err, backend.ErrBadValue)
	}
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	b, err := file.CreateFromPath(path, testDevice())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parent, child := backend.ChangeCounter(1), backend.ChangeCounter(1)
	if err := b.ResizePartition(1, &parent, 2, &child, 8*mib, 8*mib); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// a refused change leaves the file alone
	if err := b.MovePartition(1, &parent, 2, &child, 60*mib); !errors.Is(err, backend.ErrBadValue) {
		t.Errorf("mismatched error, actual %v expected %v", err, backend.ErrBadValue)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Errorf("refused change rewrote the state file")
	}
	if err := b.SetPartitionContentName(2, &child, "data"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Sync(1); err != nil {
		t.Fatalf("unexpected error syncing: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("unexpected error closing: %v", err)
	}

	b, err = file.OpenFromPath(path, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()
	d, err := b.GetDiskDeviceData(2, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectedFlags := backend.DeviceHasMedia | backend.DeviceFileBacked | backend.DeviceReadOnly
	p := d.Children[0]
	switch {
	case d.DeviceFlags != expectedFlags:
		t.Errorf("device flags %b, expected %b", d.DeviceFlags, expectedFlags)
	case p.Size != 8*mib || p.ContentName != "data":
		t.Errorf("partition 2 size %d name %q, expected %d and %q", p.Size, p.ContentName, 8*mib, "data")
	case p.ChangeCounter != child:
		t.Errorf("change counter %d, expected %d", p.ChangeCounter, child)
	}

	if err := b.DefragmentPartition(2, &child); !errors.Is(err, file.ErrIncorrectOpenMode) {
		t.Errorf("mismatched error, actual %v expected %v", err, file.ErrIncorrectOpenMode)
	}
	// checking does not write
	if err := b.RepairPartition(2, &child, true); err != nil {
		t.Errorf("unexpected error checking read-only state: %v", err)
	}
}
