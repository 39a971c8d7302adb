package chunking

import (
	"errors"
	"fmt"
)

// ErrChunkingInconsistency signals that a boundary detector produced spans that break the
// coverage invariant. It is a programming error and must not be retried.
var ErrChunkingInconsistency = errors.New("chunking inconsistency")

// ErrInvalidConstraints is returned when chunk size constraints cannot be satisfied.
var ErrInvalidConstraints = errors.New("invalid chunk constraints")

// InconsistencyError describes the first span that violated the invariant.
type InconsistencyError struct {
	Mode   string
	Index  int
	Reason string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("chunking inconsistency in %s mode at span %d: %s", e.Mode, e.Index, e.Reason)
}

// Unwrap lets errors.Is match ErrChunkingInconsistency.
func (e *InconsistencyError) Unwrap() error {
	return ErrChunkingInconsistency
}
