package buffer

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted is returned when an allocation would push the pool past
	// its hard memory limit.
	ErrPoolExhausted = errors.New("buffer pool exhausted")
	// ErrSealed is returned when writing to a buffer that has been published.
	ErrSealed = errors.New("buffer is sealed")
)

// CapacityError reports that a bounded resource (the buffer pool or an edge
// queue) could not take more work. It is recoverable: the producer can retry
// later or shed load.
type CapacityError struct {
	Resource string
	Detail   string
	Err      error
}

// Error implements the error interface.
func (e *CapacityError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("capacity exceeded on %s: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("capacity exceeded on %s (%s): %v", e.Resource, e.Detail, e.Err)
}

// Unwrap exposes the sentinel cause for errors.Is.
func (e *CapacityError) Unwrap() error {
	return e.Err
}
