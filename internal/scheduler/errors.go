package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrRunning is returned by Start when the scheduler is already running.
	ErrRunning = errors.New("scheduler is already running")
	// ErrNotRunning is returned by operations that need a running scheduler.
	ErrNotRunning = errors.New("scheduler is not running")
)

// FatalError reports an internal invariant violation. The scheduler halts
// when one occurs; it is never expected in correct operation.
type FatalError struct {
	Node   string
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	msg := fmt.Sprintf("fatal scheduler error at node '%s': %s", e.Node, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *FatalError) Unwrap() error {
	return e.Err
}
