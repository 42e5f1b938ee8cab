package job_test

import (
	"errors"
	"testing"

	"github.com/go-test/deep"

	"github.com/diskfs/go-disktx/backend"
	"github.com/diskfs/go-disktx/backend/memory"
	"github.com/diskfs/go-disktx/job"
	"github.com/diskfs/go-disktx/testhelper"
)

// device 1 (size 1000) with a partition map and one child 2 at [0, 100)
func testKernel(t *testing.T) *memory.Kernel {
	t.Helper()
	k := memory.New()
	err := k.AddDevice(&backend.DeviceData{
		PartitionData: backend.PartitionData{
			ID:            1,
			Size:          1000,
			ContentSize:   1000,
			BlockSize:     1,
			Status:        backend.StatusValid,
			Flags:         backend.FlagDevice | backend.FlagPartitioningSystem,
			ChangeCounter: 1,
			ContentType:   "Intel Partition Map",
			Children: []*backend.PartitionData{
				{ID: 2, Offset: 0, Size: 100, BlockSize: 1, Status: backend.StatusUninitialized, ChangeCounter: 1, Type: "0x83"},
			},
		},
		DeviceFlags: backend.DeviceHasMedia,
	})
	if err != nil {
		t.Fatalf("unable to create kernel: %v", err)
	}
	return k
}

func TestReferenceCountersFollowJobs(t *testing.T) {
	k := testKernel(t)
	device := job.NewReference(1, 1)
	child := job.NewReference(2, 1)

	resize := job.NewResize(device, child, 200, 0)
	if err := resize.Do(k); err != nil {
		t.Fatalf("resize failed: %v", err)
	}
	// a second job with the same references presents the counters the first one got back
	move := job.NewMove(device, child, 300)
	if err := move.Do(k); err != nil {
		t.Fatalf("move with shared references failed: %v", err)
	}
	if device.ChangeCounter() != 3 || child.ChangeCounter() != 3 {
		t.Errorf("counters device=%d child=%d, expected 3 and 3", device.ChangeCounter(), child.ChangeCounter())
	}

	// a stale reference fails with the kernel's error, unchanged
	stale := job.NewReference(2, 1)
	err := job.NewMove(device, stale, 0).Do(k)
	if !errors.Is(err, backend.ErrBadChangeCounter) {
		t.Errorf("mismatched error, actual %v expected %v", err, backend.ErrBadChangeCounter)
	}
}

func TestCreateChildResolvesReference(t *testing.T) {
	k := testKernel(t)
	device := job.NewReference(1, 1)
	child := job.NewPendingReference()

	initJob := job.NewInitialize(child, "bfs", "data", "")
	if err := initJob.Do(k); !errors.Is(err, job.ErrUnresolved) {
		t.Errorf("initializing an unresolved reference: actual %v, expected %v", err, job.ErrUnresolved)
	}

	create := job.NewCreateChild(device, child, 500, 100, "0x83", "", "")
	if err := create.Do(k); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if child.ID() == backend.NoID {
		t.Fatalf("child reference not resolved")
	}
	if err := job.NewInitialize(child, "bfs", "data", "").Do(k); err != nil {
		t.Fatalf("initializing the new child failed: %v", err)
	}

	data, err := k.GetDiskDeviceData(1, false)
	if err != nil {
		t.Fatalf("unable to read device: %v", err)
	}
	var created *backend.PartitionData
	for _, c := range data.Children {
		if c.ID == child.ID() {
			created = c
		}
	}
	switch {
	case created == nil:
		t.Errorf("created child %d missing", child.ID())
	case created.ContentType != "bfs" || created.ContentName != "data":
		t.Errorf("created child has contents %q %q", created.ContentType, created.ContentName)
	case created.ChangeCounter != child.ChangeCounter():
		t.Errorf("reference counter %d, kernel %d", child.ChangeCounter(), created.ChangeCounter)
	}
}

func TestSetStringKinds(t *testing.T) {
	parent := job.NewReference(1, 1)
	child := job.NewReference(2, 1)
	tests := []struct {
		kind  job.Kind
		refs  int
		call  string
		valid bool
	}{
		{job.KindSetName, 2, "set-name", true},
		{job.KindSetType, 2, "set-type", true},
		{job.KindSetParameters, 2, "set-parameters", true},
		{job.KindSetContentName, 1, "set-content-name", true},
		{job.KindSetContentParameters, 1, "set-content-parameters", true},
		{job.KindMove, 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			j, err := job.NewSetString(tt.kind, parent, child, "value")
			switch {
			case !tt.valid && err == nil:
				t.Fatalf("created a %s string job", tt.kind)
			case !tt.valid:
				return
			case err != nil:
				t.Fatalf("unexpected error: %v", err)
			}
			if len(j.References()) != tt.refs {
				t.Errorf("references %d, expected %d", len(j.References()), tt.refs)
			}
			b := &testhelper.BackendImpl{
				Content: func(backend.PartitionID, *backend.ChangeCounter) error { return nil },
				Child: func(backend.PartitionID, *backend.ChangeCounter, backend.PartitionID, *backend.ChangeCounter) error {
					return nil
				},
			}
			if err := j.Do(b); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := deep.Equal(b.Calls, []string{tt.call}); diff != nil {
				t.Errorf("calls mismatch: %v", diff)
			}
		})
	}
}

func TestQueueExecute(t *testing.T) {
	ioErr := errors.New("device gone")
	newQueue := func() (*job.Queue, *job.Reference) {
		parent := job.NewReference(1, 1)
		child := job.NewReference(2, 1)
		q := job.NewQueue()
		q.Add(job.NewResize(parent, child, 50, 0))
		q.Add(job.NewMove(parent, child, 10))
		q.Add(job.NewDefragment(child))
		return q, child
	}
	bump := func(_ backend.PartitionID, parentCounter *backend.ChangeCounter, _ backend.PartitionID, childCounter *backend.ChangeCounter) error {
		*parentCounter++
		*childCounter++
		return nil
	}

	tests := []struct {
		name     string
		child    pairCall
		content  func(backend.PartitionID, *backend.ChangeCounter) error
		calls    []string
		counter  backend.ChangeCounter
		err      error
		progress int
	}{
		{"all succeed", bump, func(backend.PartitionID, *backend.ChangeCounter) error { return nil }, []string{"resize", "move", "defragment"}, 3, nil, 4},
		{"stop at first failure", func(p backend.PartitionID, pc *backend.ChangeCounter, c backend.PartitionID, cc *backend.ChangeCounter) error {
			if *cc > 1 {
				return ioErr
			}
			return bump(p, pc, c, cc)
		}, nil, []string{"resize", "move"}, 2, ioErr, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, child := newQueue()
			b := &testhelper.BackendImpl{Child: tt.child, Content: tt.content}
			var reports []job.Progress
			err := q.Execute(b, func(p job.Progress) { reports = append(reports, p) }, true)
			switch {
			case err != tt.err:
				t.Errorf("mismatched error, actual %v expected %v", err, tt.err)
			case child.ChangeCounter() != tt.counter:
				t.Errorf("counter %d, expected %d", child.ChangeCounter(), tt.counter)
			case len(reports) != tt.progress:
				t.Errorf("%d progress reports, expected %d", len(reports), tt.progress)
			case !reports[len(reports)-1].Finished || reports[len(reports)-1].Err != tt.err:
				t.Errorf("last report %+v", reports[len(reports)-1])
			}
			if diff := deep.Equal(b.Calls, tt.calls); diff != nil {
				t.Errorf("calls mismatch: %v", diff)
			}
			if err := q.Execute(b, nil, false); !errors.Is(err, job.ErrAlreadyExecuted) {
				t.Errorf("second execution: %v", err)
			}
		})
	}
}

type pairCall = func(backend.PartitionID, *backend.ChangeCounter, backend.PartitionID, *backend.ChangeCounter) error

func TestQueueFinalProgressOnly(t *testing.T) {
	q := job.NewQueue()
	ref := job.NewReference(5, 1)
	q.Add(job.NewRepair(ref, true))
	q.Add(job.NewRepair(ref, false))
	b := &testhelper.BackendImpl{Content: func(_ backend.PartitionID, c *backend.ChangeCounter) error {
		*c++
		return nil
	}}
	var reports []job.Progress
	if err := q.Execute(b, func(p job.Progress) { reports = append(reports, p) }, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("%d reports, expected only the final one", len(reports))
	}
	if reports[0].Done != 2 || reports[0].Total != 2 || !reports[0].Finished {
		t.Errorf("final report %+v", reports[0])
	}
}
