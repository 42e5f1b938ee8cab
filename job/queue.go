package job

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-disktx/backend"
)

// Progress of a queue execution
type Progress struct {
	// Done counts the jobs finished successfully
	Done  int
	Total int
	// Current is the job being reported on, nil in the final report of an empty queue
	Current Job
	// Finished is set in the last report; Err is the error execution stopped with
	Finished bool
	Err      error
}

// ProgressFunc receives progress reports
type ProgressFunc func(Progress)

// Queue is an ordered list of jobs. It is executed front to back at most once, and
// execution stops at the first failure. Jobs already done are not undone.
type Queue struct {
	jobs     []Job
	executed bool
}

func NewQueue() *Queue {
	return &Queue{}
}

// Add appends a job
func (q *Queue) Add(j Job) {
	q.jobs = append(q.jobs, j)
}

func (q *Queue) Count() int {
	return len(q.jobs)
}

// JobAt returns the job at index, nil if out of range
func (q *Queue) JobAt(index int) Job {
	if index < 0 || index >= len(q.jobs) {
		return nil
	}
	return q.jobs[index]
}

// Jobs returns the jobs in execution order
func (q *Queue) Jobs() []Job {
	return append([]Job(nil), q.jobs...)
}

// Executed reports whether Execute was called
func (q *Queue) Executed() bool {
	return q.executed
}

// Execute runs the jobs in order against b. With completeUpdates progress is reported
// before and after every job, otherwise only once at the end. The error of the failing
// job is returned unchanged.
func (q *Queue) Execute(b backend.Backend, progress ProgressFunc, completeUpdates bool) error {
	if q.executed {
		return ErrAlreadyExecuted
	}
	q.executed = true

	report := func(p Progress) {
		if progress != nil && (completeUpdates || p.Finished) {
			p.Total = len(q.jobs)
			progress(p)
		}
	}

	var current Job
	for i, j := range q.jobs {
		current = j
		logger := log.WithFields(log.Fields{"job": i, "kind": j.Kind()})
		report(Progress{Done: i, Current: j})
		logger.Debugf("executing %s", j)
		if err := j.Do(b); err != nil {
			logger.Warnf("%s failed: %v", j, err)
			report(Progress{Done: i, Current: j, Finished: true, Err: err})
			return err
		}
	}
	report(Progress{Done: len(q.jobs), Current: current, Finished: true})
	return nil
}

func (q *Queue) String() string {
	var sb strings.Builder
	for _, j := range q.jobs {
		sb.WriteString(j.String())
		sb.WriteString("\n")
	}
	return sb.String()
}
