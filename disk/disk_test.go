package disk_test

/*
 These tests the exported functions
 We want to do full-in tests against an in-memory kernel with the real disk systems
*/

import (
	"errors"
	"testing"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/require"

	"github.com/diskfs/go-disktx/addon"
	"github.com/diskfs/go-disktx/addon/fs"
	"github.com/diskfs/go-disktx/addon/gpt"
	"github.com/diskfs/go-disktx/addon/intel"
	"github.com/diskfs/go-disktx/backend"
	"github.com/diskfs/go-disktx/backend/memory"
	"github.com/diskfs/go-disktx/disk"
	"github.com/diskfs/go-disktx/job"
	"github.com/diskfs/go-disktx/jobgen"
	"github.com/diskfs/go-disktx/partition"
)

const (
	mib = int64(1 << 20)
	gib = 1024 * mib
)

func fsPartition(id backend.PartitionID, offset, size int64, contentType, name string) *backend.PartitionData {
	return &backend.PartitionData{
		ID:            id,
		Offset:        offset,
		Size:          size,
		ContentSize:   size,
		BlockSize:     512,
		Status:        backend.StatusValid,
		Flags:         backend.FlagFileSystem,
		ChangeCounter: 1,
		Type:          "0xeb",
		ContentType:   contentType,
		ContentName:   name,
	}
}

// testDevice is a 1GiB disk with an intel partition map holding two bfs partitions:
// 2 at [1MiB, 65MiB) and 3 at [65MiB, 129MiB)
func testDevice(flags backend.DeviceFlags) *backend.DeviceData {
	return &backend.DeviceData{
		PartitionData: backend.PartitionData{
			ID:            1,
			Size:          gib,
			ContentSize:   gib,
			BlockSize:     512,
			Status:        backend.StatusValid,
			Flags:         backend.FlagDevice | backend.FlagPartitioningSystem,
			ChangeCounter: 1,
			ContentType:   intel.Name,
			Children: []*backend.PartitionData{
				fsPartition(2, mib, 64*mib, "bfs", "system"),
				fsPartition(3, 65*mib, 64*mib, "bfs", "data"),
			},
		},
		Path:        "/dev/disk/test",
		DeviceFlags: flags,
	}
}

func newManager() *addon.Manager {
	m := addon.NewManager(intel.New(), gpt.New())
	for _, a := range fs.All() {
		m.Register(a)
	}
	return m
}

func openDevice(t *testing.T, flags backend.DeviceFlags) (*memory.Kernel, *addon.Manager, *disk.Device) {
	t.Helper()
	k := memory.New()
	k.AddPartitioningSystems(intel.Name, gpt.Name)
	require.NoError(t, k.AddDevice(testDevice(flags)))
	m := newManager()
	d, err := disk.Open(k, 2, m)
	require.NoError(t, err)
	require.Equal(t, backend.PartitionID(1), d.ID())
	return k, m, d
}

func mustFind(t *testing.T, d *disk.Device, id partition.ID) *partition.Partition {
	t.Helper()
	p, err := d.Partition(id)
	require.NoError(t, err)
	return p
}

// snapshot collects what callers can observe of every partition
func snapshot(d *disk.Device) []backend.PartitionData {
	var s []backend.PartitionData
	d.Root().VisitEachDescendant(func(p *partition.Partition, _ int) bool {
		s = append(s, backend.PartitionData{
			ID:                p.ID(),
			Offset:            p.Offset(),
			Size:              p.Size(),
			ContentSize:       p.ContentSize(),
			BlockSize:         p.BlockSize(),
			Status:            p.Status(),
			Flags:             p.Flags(),
			Volume:            p.Volume(),
			ChangeCounter:     p.ChangeCounter(),
			Name:              p.Name(),
			ContentName:       p.ContentName(),
			Type:              p.Type(),
			ContentType:       p.ContentType(),
			Parameters:        p.Parameters(),
			ContentParameters: p.ContentParameters(),
		})
		return false
	})
	return s
}

func TestPrepareCancelRoundTrip(t *testing.T) {
	_, m, d := openDevice(t, backend.DeviceHasMedia)
	before := snapshot(d)

	require.NoError(t, d.PrepareModifications())
	if m.References("bfs") != 2 || m.References(intel.Name) != 1 {
		t.Errorf("disk system references bfs=%d intel=%d while prepared", m.References("bfs"), m.References(intel.Name))
	}
	if d.IsModified() {
		t.Errorf("device modified right after preparing")
	}
	require.NoError(t, d.CancelModifications())

	if diff := deep.Equal(snapshot(d), before); diff != nil {
		t.Errorf("partitions changed by prepare and cancel: %v", diff)
	}
	if m.References("bfs") != 0 || m.References(intel.Name) != 0 {
		t.Errorf("disk system references bfs=%d intel=%d after cancel", m.References("bfs"), m.References(intel.Name))
	}
	if err := d.CancelModifications(); !errors.Is(err, partition.ErrNoTransaction) {
		t.Errorf("mismatched error, actual %v expected %v", err, partition.ErrNoTransaction)
	}
}

func TestPrepareModificationsErrors(t *testing.T) {
	tests := []struct {
		name  string
		flags backend.DeviceFlags
		err   error
	}{
		{"no media", 0, disk.ErrNoMedia},
		{"read-only", backend.DeviceHasMedia | backend.DeviceReadOnly, disk.ErrReadOnly},
		{"write once", backend.DeviceHasMedia | backend.DeviceWriteOnce, disk.ErrReadOnly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, d := openDevice(t, tt.flags)
			err := d.PrepareModifications()
			if !errors.Is(err, tt.err) {
				t.Errorf("mismatched error, actual %v expected %v", err, tt.err)
			}
		})
	}

	t.Run("already prepared", func(t *testing.T) {
		_, _, d := openDevice(t, backend.DeviceHasMedia)
		require.NoError(t, d.PrepareModifications())
		if err := d.PrepareModifications(); !errors.Is(err, disk.ErrTransactionOpen) {
			t.Errorf("mismatched error, actual %v expected %v", err, disk.ErrTransactionOpen)
		}
	})
}

func TestCommitModifications(t *testing.T) {
	k, m, d := openDevice(t, backend.DeviceHasMedia)
	require.NoError(t, d.PrepareModifications())

	a := mustFind(t, d, 2)
	b := mustFind(t, d, 3)
	require.True(t, a.CanResize(true))
	require.NoError(t, a.Resize(32*mib, true))
	require.True(t, b.CanMove())
	require.NoError(t, b.Move(33*mib))
	require.NoError(t, b.Resize(96*mib, true))
	require.NoError(t, b.SetContentName("stuff"))

	offset, size := 200*mib, 100*mib
	name := ""
	index, err := d.Root().ValidateCreateChild(&offset, &size, intel.Linux.String(), &name, "")
	require.NoError(t, err)
	require.Equal(t, 2, index)
	child, err := d.Root().CreateChild(offset, size, intel.Linux.String(), name, "")
	require.NoError(t, err)
	require.False(t, child.Exists())
	require.True(t, child.CanInitialize("ext4"))
	require.NoError(t, child.Initialize("ext4", "home", ""))
	require.True(t, d.IsModified())

	var reports []job.Progress
	err = d.CommitModifications(false, func(p job.Progress) { reports = append(reports, p) }, true)
	require.NoError(t, err)

	expected := []string{
		"resize 2 size=33554432",
		"move 3 offset=34603008",
		"resize 3 size=100663296",
		"set-content-name 3",
		"create 4 in 1 offset=209715200 size=104857600",
		"initialize 4 ext4",
	}
	if diff := deep.Equal(k.Calls(), expected); diff != nil {
		t.Errorf("kernel calls mismatch: %v", diff)
	}
	if len(reports) != len(expected)+1 {
		t.Errorf("%d progress reports, expected %d", len(reports), len(expected)+1)
	}

	// the tree was read again
	if d.IsModified() {
		t.Errorf("device still modified after commit")
	}
	created := mustFind(t, d, 4)
	switch {
	case created.ContentType() != "ext4" || created.ContentName() != "home":
		t.Errorf("created partition has contents %q %q", created.ContentType(), created.ContentName())
	case mustFind(t, d, 3).Offset() != 33*mib:
		t.Errorf("partition 3 at %d", mustFind(t, d, 3).Offset())
	case mustFind(t, d, 2).ContentSize() != 32*mib:
		t.Errorf("partition 2 contents %d", mustFind(t, d, 2).ContentSize())
	case m.References("bfs") != 0 || m.References("ext4") != 0:
		t.Errorf("disk systems still referenced after commit")
	}
}

func TestCommitFailure(t *testing.T) {
	tests := []struct {
		name     string
		sabotage func(k *memory.Kernel)
		err      error
	}{
		{"kernel error", func(k *memory.Kernel) { k.FailOn(memory.OpMove, 3, backend.ErrIO) }, backend.ErrIO},
		{"changed behind our back", func(k *memory.Kernel) { require.NoError(t, k.Touch(3)) }, backend.ErrBadChangeCounter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, _, d := openDevice(t, backend.DeviceHasMedia)
			require.NoError(t, d.PrepareModifications())
			require.NoError(t, mustFind(t, d, 2).Resize(32*mib, true))
			require.NoError(t, mustFind(t, d, 3).Move(33*mib))
			tt.sabotage(k)

			err := d.CommitModifications(false, nil, false)
			if !errors.Is(err, tt.err) {
				t.Fatalf("mismatched error, actual %v expected %v", err, tt.err)
			}
			// jobs done before the failure stay done, and the tree shows them
			if diff := deep.Equal(k.Calls(), []string{"resize 2 size=33554432"}); diff != nil {
				t.Errorf("kernel calls mismatch: %v", diff)
			}
			if size := mustFind(t, d, 2).Size(); size != 32*mib {
				t.Errorf("partition 2 size %d after resync", size)
			}
			if err := d.PrepareModifications(); err != nil {
				t.Errorf("transaction not ended by failed commit: %v", err)
			}
		})
	}
}

func TestCommitGenerationFailure(t *testing.T) {
	k, m, d := openDevice(t, backend.DeviceHasMedia)
	before := snapshot(d)
	require.NoError(t, d.PrepareModifications())
	// swapping two neighbors has no safe order
	mustFind(t, d, 2).Mutable().SetOffset(65 * mib)
	mustFind(t, d, 3).Mutable().SetOffset(mib)

	if _, err := d.GenerateJobs(); !errors.Is(err, jobgen.ErrNoPlacementOrder) {
		t.Fatalf("mismatched error, actual %v expected %v", err, jobgen.ErrNoPlacementOrder)
	}
	// planning alone keeps the transaction
	require.True(t, d.IsModified())

	err := d.CommitModifications(false, nil, false)
	if !errors.Is(err, jobgen.ErrNoPlacementOrder) {
		t.Fatalf("mismatched error, actual %v expected %v", err, jobgen.ErrNoPlacementOrder)
	}
	switch {
	case len(k.Calls()) != 0:
		t.Errorf("kernel called: %v", k.Calls())
	case d.IsModified() || d.Root().Delegate() != nil:
		t.Errorf("delegates kept after failed generation")
	case m.References("bfs") != 0 || m.References(intel.Name) != 0:
		t.Errorf("references bfs=%d intel=%d after failed generation", m.References("bfs"), m.References(intel.Name))
	}
	if diff := deep.Equal(snapshot(d), before); diff != nil {
		t.Errorf("tree not read again after failed generation: %v", diff)
	}
	require.ErrorIs(t, d.CancelModifications(), partition.ErrNoTransaction)
	require.NoError(t, d.PrepareModifications())
	require.NoError(t, d.CancelModifications())
}

func TestUninitializeAndDelete(t *testing.T) {
	k, m, d := openDevice(t, backend.DeviceHasMedia)
	require.NoError(t, d.PrepareModifications())

	a := mustFind(t, d, 2)
	require.NoError(t, a.Uninitialize())
	if m.References("bfs") != 1 {
		t.Errorf("bfs references %d after uninitialize, expected 1", m.References("bfs"))
	}
	if a.ContentType() != "" || a.Status() != partition.StatusUninitialized {
		t.Errorf("shadow still has contents %q status %v", a.ContentType(), a.Status())
	}
	require.True(t, d.Root().CanDeleteChild(1))
	require.NoError(t, d.Root().DeleteChild(1))
	if d.FindPartition(3) != nil {
		t.Errorf("deleted partition still found")
	}

	q, err := d.GenerateJobs()
	require.NoError(t, err)
	require.Equal(t, 2, q.Count())

	require.NoError(t, d.CommitModifications(false, nil, false))
	if diff := deep.Equal(k.Calls(), []string{"uninitialize 2", "delete 3 from 1"}); diff != nil {
		t.Errorf("kernel calls mismatch: %v", diff)
	}
	if d.Root().CountChildren() != 1 || mustFind(t, d, 2).ContentType() != "" {
		t.Errorf("tree not updated after commit")
	}
}

func TestReinitialize(t *testing.T) {
	k, m, d := openDevice(t, backend.DeviceHasMedia)
	require.NoError(t, d.PrepareModifications())

	a := mustFind(t, d, 2)
	name := "a very long label for ext4"
	require.NoError(t, a.ValidateInitialize("ext4", &name, ""))
	require.Equal(t, "a very long labe", name)
	require.NoError(t, a.Initialize("ext4", name, ""))
	if m.References("bfs") != 1 || m.References("ext4") != 1 {
		t.Errorf("references bfs=%d ext4=%d", m.References("bfs"), m.References("ext4"))
	}
	// a failed initialization leaves the bound disk system alone
	if err := a.Initialize("nonexistent", "", ""); !errors.Is(err, addon.ErrNotFound) {
		t.Errorf("mismatched error, actual %v expected %v", err, addon.ErrNotFound)
	}
	require.Equal(t, "ext4", a.ContentType())

	require.NoError(t, d.CommitModifications(false, nil, false))
	if diff := deep.Equal(k.Calls(), []string{"uninitialize 2", "initialize 2 ext4"}); diff != nil {
		t.Errorf("kernel calls mismatch: %v", diff)
	}
}

func TestInitializeContentFlags(t *testing.T) {
	_, _, d := openDevice(t, backend.DeviceHasMedia)
	require.NoError(t, d.PrepareModifications())
	require.NoError(t, mustFind(t, d, 2).Initialize("ext4", "home", ""))
	require.NoError(t, mustFind(t, d, 3).Initialize(gpt.Name, "", ""))
	require.NoError(t, d.CommitModifications(false, nil, false))

	tests := []struct {
		id           partition.ID
		contentType  string
		fileSystem   bool
		partitioning bool
	}{
		{2, "ext4", true, false},
		{3, gpt.Name, false, true},
	}
	for _, tt := range tests {
		p := mustFind(t, d, tt.id)
		switch {
		case p.ContentType() != tt.contentType:
			t.Errorf("partition %d contains %q, expected %q", tt.id, p.ContentType(), tt.contentType)
		case p.ContainsFileSystem() != tt.fileSystem:
			t.Errorf("partition %d contains a file system %v, expected %v", tt.id, p.ContainsFileSystem(), tt.fileSystem)
		case p.ContainsPartitioningSystem() != tt.partitioning:
			t.Errorf("partition %d contains a partitioning system %v, expected %v", tt.id, p.ContainsPartitioningSystem(), tt.partitioning)
		}
	}
}

type syncingKernel struct {
	*memory.Kernel
	syncs []backend.PartitionID
}

func (s *syncingKernel) Sync(id backend.PartitionID) error {
	s.syncs = append(s.syncs, id)
	return nil
}

func TestCommitSync(t *testing.T) {
	k := &syncingKernel{Kernel: memory.New()}
	require.NoError(t, k.AddDevice(testDevice(backend.DeviceHasMedia)))
	d, err := disk.Open(k, 1, newManager())
	require.NoError(t, err)

	for _, sync := range []bool{false, true} {
		require.NoError(t, d.PrepareModifications())
		require.NoError(t, mustFind(t, d, 3).SetContentName("synced"))
		require.NoError(t, d.CommitModifications(sync, nil, false))
	}
	if diff := deep.Equal(k.syncs, []backend.PartitionID{1}); diff != nil {
		t.Errorf("syncs mismatch: %v", diff)
	}
}

func TestUpdate(t *testing.T) {
	k, _, d := openDevice(t, backend.DeviceHasMedia)
	changed, err := d.Update()
	require.NoError(t, err)
	require.False(t, changed)

	old := d.Root()
	require.NoError(t, k.Touch(3))
	changed, err = d.Update()
	require.NoError(t, err)
	switch {
	case !changed:
		t.Errorf("change of partition 3 not noticed")
	case d.Root() == old:
		t.Errorf("tree not read again")
	case mustFind(t, d, 3).ChangeCounter() != 2:
		t.Errorf("partition 3 counter %d", mustFind(t, d, 3).ChangeCounter())
	}

	require.NoError(t, d.PrepareModifications())
	if _, err := d.Update(); !errors.Is(err, disk.ErrTransactionOpen) {
		t.Errorf("mismatched error, actual %v expected %v", err, disk.ErrTransactionOpen)
	}
}

func TestEditWithoutTransaction(t *testing.T) {
	_, _, d := openDevice(t, backend.DeviceHasMedia)
	a := mustFind(t, d, 2)
	if err := a.SetContentName("x"); !errors.Is(err, partition.ErrNoTransaction) {
		t.Errorf("mismatched error, actual %v expected %v", err, partition.ErrNoTransaction)
	}
	if _, err := d.GenerateJobs(); !errors.Is(err, partition.ErrNoTransaction) {
		t.Errorf("mismatched error, actual %v expected %v", err, partition.ErrNoTransaction)
	}
	if _, err := d.Partition(42); err == nil {
		t.Errorf("found partition 42")
	}

	require.NoError(t, d.PrepareModifications())
	require.NoError(t, d.Root().DeleteChild(0))
	// a partition removed from the shadow cannot be edited anymore
	if err := a.SetContentName("x"); !errors.Is(err, partition.ErrBadValue) {
		t.Errorf("mismatched error, actual %v expected %v", err, partition.ErrBadValue)
	}
}

func TestDeviceType(t *testing.T) {
	tests := []struct {
		flags backend.DeviceFlags
		typ   disk.DeviceType
	}{
		{backend.DeviceHasMedia | backend.DeviceFileBacked, disk.DeviceTypeFile},
		{backend.DeviceHasMedia, disk.DeviceTypeBlockDevice},
		{0, disk.DeviceTypeUnknown},
	}
	for _, tt := range tests {
		if typ := disk.DetermineDeviceType(tt.flags); typ != tt.typ {
			t.Errorf("flags %b: type %v, expected %v", tt.flags, typ, tt.typ)
		}
	}
}
