package disktx_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	disktx "github.com/diskfs/go-disktx"
	"github.com/diskfs/go-disktx/addon"
	"github.com/diskfs/go-disktx/addon/gpt"
	"github.com/diskfs/go-disktx/backend"
	"github.com/diskfs/go-disktx/disk"
)

const mib = int64(1 << 20)

func gptDevice() *backend.DeviceData {
	return &backend.DeviceData{
		PartitionData: backend.PartitionData{
			ID:            1,
			Size:          512 * mib,
			ContentSize:   512 * mib,
			BlockSize:     512,
			Status:        backend.StatusValid,
			Flags:         backend.FlagDevice | backend.FlagPartitioningSystem,
			ChangeCounter: 1,
			ContentType:   gpt.Name,
			Children: []*backend.PartitionData{
				{
					ID:            2,
					Offset:        mib,
					Size:          128 * mib,
					ContentSize:   128 * mib,
					BlockSize:     512,
					Status:        backend.StatusValid,
					Flags:         backend.FlagFileSystem,
					ChangeCounter: 1,
					Name:          "system",
					Type:          string(gpt.HaikuBFS),
					ContentType:   "bfs",
					ContentName:   "Haiku",
				},
			},
		},
		Path:        "/dev/disk/virtual/0/raw",
		DeviceFlags: backend.DeviceHasMedia,
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"missing file", "/tmp/foo/bar/232323/23/2322/state.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := disktx.Open(tt.path)
			if err == nil || state != nil {
				t.Errorf("Open(%q) succeeded", tt.path)
			}
		})
	}
}

func TestCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	_, err := disktx.Create(path, nil)
	require.Error(t, err)
	_, err = disktx.Create(path, []*backend.DeviceData{gptDevice()}, disktx.WithReadOnly())
	require.Error(t, err)

	state, err := disktx.Create(path, []*backend.DeviceData{gptDevice()})
	require.NoError(t, err)
	require.Equal(t, []backend.PartitionID{1}, state.Devices())
	require.NoError(t, state.Close())

	_, err = disktx.Create(path, []*backend.DeviceData{gptDevice()})
	require.Error(t, err, "created over an existing state file")
}

func TestCommitPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	registry := disktx.DefaultRegistry()
	state, err := disktx.Create(path, []*backend.DeviceData{gptDevice()}, disktx.WithRegistry(registry))
	require.NoError(t, err)

	// the state file is locked while open
	_, err = disktx.Open(path)
	require.Error(t, err)

	d, err := state.Device(2)
	require.NoError(t, err)
	require.Equal(t, disk.DeviceTypeFile, d.Type())
	require.NoError(t, d.PrepareModifications())
	require.Equal(t, 2, registry.References("bfs")+registry.References(gpt.Name))

	system := d.FindPartition(2)
	require.NoError(t, system.Resize(64*mib, true))
	require.NoError(t, system.SetName("boot"))
	home, err := d.Root().CreateChild(128*mib, 256*mib, string(gpt.LinuxFilesystem), "home", "")
	require.NoError(t, err)
	require.NoError(t, home.Initialize("ext4", "home", ""))
	require.NoError(t, d.CommitModifications(true, nil, false))
	require.Zero(t, registry.References("bfs")+registry.References(gpt.Name)+registry.References("ext4"))
	require.NoError(t, state.Close())

	state, err = disktx.Open(path, disktx.WithReadOnly())
	require.NoError(t, err)
	defer state.Close()
	d, err = state.Device(1)
	require.NoError(t, err)
	require.True(t, d.IsReadOnly())
	require.True(t, errors.Is(d.PrepareModifications(), disk.ErrReadOnly))

	require.Equal(t, 2, d.Root().CountChildren())
	system = d.Root().ChildAt(0)
	require.Equal(t, 64*mib, system.Size())
	require.Equal(t, "boot", system.Name())
	home = d.Root().ChildAt(1)
	require.Equal(t, "ext4", home.ContentType())
	require.Equal(t, 128*mib, home.Offset())
	require.True(t, home.ContainsFileSystem())
	require.False(t, home.ContainsPartitioningSystem())
	_, err = gpt.ParseParameters(home.Parameters())
	require.NoError(t, err)
}

func TestUnknownDiskSystem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	state, err := disktx.Create(path, []*backend.DeviceData{gptDevice()}, disktx.WithRegistry(addon.NewManager(gpt.New())))
	require.NoError(t, err)
	defer state.Close()

	d, err := state.Device(1)
	require.NoError(t, err)
	require.NoError(t, d.PrepareModifications())
	system := d.FindPartition(2)
	require.False(t, system.CanResize(true))
	require.True(t, system.CanResize(false))
	require.ErrorIs(t, system.Initialize("ext4", "", ""), addon.ErrNotFound)
	require.NoError(t, d.CancelModifications())

	_, err = state.Device(42)
	require.ErrorIs(t, err, backend.ErrNotFound)
}
