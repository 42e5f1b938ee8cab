package disk

import (
	"errors"
	"fmt"

	"github.com/diskfs/go-disktx/partition"
)

var (
	ErrTransactionOpen = errors.New("modifications are already prepared")
	ErrNoMedia         = errors.New("device has no media")
	ErrReadOnly        = errors.New("device is read-only")
)

type InvalidPartitionError struct {
	requested partition.ID
}

func (e *InvalidPartitionError) Error() string {
	return fmt.Sprintf("requested partition %d not found", e.requested)
}

func NewInvalidPartitionError(requested partition.ID) *InvalidPartitionError {
	return &InvalidPartitionError{
		requested: requested,
	}
}
