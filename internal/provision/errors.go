package provision

import (
	"errors"
	"fmt"
)

// Failure taxonomy of the provisioning engine. The HTTP layer maps these to
// response codes; the engine never logs-and-swallows them.
var (
	// ErrInvalidSpec means the caller sent a spec outside the configured
	// bounds. Not retryable.
	ErrInvalidSpec = errors.New("invalid provision spec")

	// ErrRegionCapacityExhausted means the requested (or every) region has no
	// free address slots. The engine never silently substitutes a region.
	ErrRegionCapacityExhausted = errors.New("region capacity exhausted")

	// ErrPortSpaceExhausted means no free port was found within the bounded
	// retry budget.
	ErrPortSpaceExhausted = errors.New("port space exhausted")

	// ErrEntropyUnavailable means the secure random source could not be read.
	// Fatal; never degraded to a weaker source.
	ErrEntropyUnavailable = errors.New("entropy source unavailable")

	// ErrPortTaken is returned by a store when the unique constraint on port
	// rejects a write. The allocator treats it as a collision and retries;
	// it never escapes the engine.
	ErrPortTaken = errors.New("port already taken")
)

// PersistenceError wraps a storage failure so callers can distinguish it from
// capacity and spec errors while keeping the cause for errors.Is/As.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
