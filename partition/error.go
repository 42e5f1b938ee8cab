package partition

import (
	"errors"
	"fmt"
)

var (
	ErrNoTransaction = errors.New("no modifications prepared")
	ErrUninitialized = errors.New("partition has no disk system")
	ErrBadValue      = errors.New("bad value")
	ErrNotSupported  = errors.New("operation not supported")
	ErrBusy          = errors.New("partition is busy")
)

// OperationError reports a refused edit of a partition
type OperationError struct {
	Op        string
	Partition ID
	Err       error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s on partition %d: %v", e.Op, e.Partition, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func newOperationError(op string, p ID, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{
		Op:        op,
		Partition: p,
		Err:       err,
	}
}
