package autonomy

import "errors"

// Error taxonomy for autonomous operations.
//
// Propagation policy:
// - validation and permission errors surface synchronously to the caller.
// - not-found is fatal to the single operation only.
// - processing errors inside scheduled execution are retried at the step
//   level and never halt a sweep.
var (
	ErrValidation       = errors.New("autonomy: invalid input")
	ErrPermissionDenied = errors.New("autonomy: permission denied")
	ErrNotFound         = errors.New("autonomy: not found")
	ErrProcessing       = errors.New("autonomy: processing failure")
)
