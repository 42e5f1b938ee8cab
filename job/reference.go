package job

import (
	"fmt"

	"github.com/diskfs/go-disktx/backend"
)

// Reference addresses a partition for the jobs of a queue. All jobs touching the same
// partition share one Reference, so the change counter a job gets back from the kernel is
// the one the next job presents. A partition created by a job gets its id through the
// Reference too.
type Reference struct {
	id      backend.PartitionID
	counter backend.ChangeCounter
}

// NewReference creates a reference to a partition known to the kernel
func NewReference(id backend.PartitionID, counter backend.ChangeCounter) *Reference {
	return &Reference{
		id:      id,
		counter: counter,
	}
}

// NewPendingReference creates a reference to a partition that is still to be created
func NewPendingReference() *Reference {
	return &Reference{id: backend.NoID}
}

func (r *Reference) ID() backend.PartitionID {
	return r.id
}

func (r *Reference) ChangeCounter() backend.ChangeCounter {
	return r.counter
}

// SetTo points the reference at a partition and its current change counter
func (r *Reference) SetTo(id backend.PartitionID, counter backend.ChangeCounter) {
	r.id = id
	r.counter = counter
}

func (r *Reference) SetChangeCounter(counter backend.ChangeCounter) {
	r.counter = counter
}

func (r *Reference) String() string {
	if r.id == backend.NoID {
		return "new"
	}
	return fmt.Sprintf("%d", r.id)
}
