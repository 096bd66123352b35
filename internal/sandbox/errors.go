package sandbox

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers unknown sandbox ids and instances that are no
	// longer live.
	ErrNotFound = errors.New("sandbox not found")

	// ErrInvalidPath is returned for traversal or absolute path requests,
	// always before any substrate I/O.
	ErrInvalidPath = errors.New("invalid path")

	// ErrConflict means an active instance already exists for the node, or a
	// status update lost a compare-and-swap race.
	ErrConflict = errors.New("conflict")
)

// ProvisionError wraps a substrate start failure or timeout. The partially
// created resource has already been torn down by the time callers see it.
type ProvisionError struct {
	NodeID       string
	SubstrateRef string
	Err          error
}

func (e *ProvisionError) Error() string {
	if e.SubstrateRef != "" {
		return fmt.Sprintf("provisioning sandbox for node %s (substrate %s): %v", e.NodeID, e.SubstrateRef, e.Err)
	}
	return fmt.Sprintf("provisioning sandbox for node %s: %v", e.NodeID, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// SubstrateError wraps an unexpected substrate failure while operating on a
// live instance. The instance has been moved to error state.
type SubstrateError struct {
	Op  string
	Err error
}

func (e *SubstrateError) Error() string {
	return fmt.Sprintf("substrate %s: %v", e.Op, e.Err)
}

func (e *SubstrateError) Unwrap() error { return e.Err }
