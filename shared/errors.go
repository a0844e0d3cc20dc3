package shared

import "errors"

// Boundary failure taxonomy. Every fault crossing the trust boundary is
// classified into exactly one of these before it reaches protocol code.
var (
	// ErrInvalidArgument marks a malformed or out-of-range input, or a
	// failed signature/timing/sequencing check. Not retryable as-is.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIntegrity marks sealed identity state that is inconsistent with
	// the boundary's live counter state. The identity is retired; a fresh
	// signup is required.
	ErrIntegrity = errors.New("sealed identity out of sync with counter state")

	// ErrSystemFailure marks a terminal boundary-internal failure.
	ErrSystemFailure = errors.New("boundary internal failure")

	// ErrSystemBusy marks a transient boundary condition. It is retried
	// inside the boundary layer and never surfaces to callers.
	ErrSystemBusy = errors.New("boundary busy")

	// ErrUnknown is the catch-all for unclassified boundary faults.
	ErrUnknown = errors.New("unclassified boundary failure")
)
