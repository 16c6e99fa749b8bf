package exception

import "github.com/yanun0323/errors"

// Kernel error taxonomy. Admission rejections are reason codes, not errors.
var (
	// ErrConfiguration is returned for malformed risk or execution configuration before a run starts.
	ErrConfiguration = errors.New("configuration error")

	// ErrValidation is returned for malformed bars or signals at the input boundary.
	ErrValidation = errors.New("validation error")

	// ErrInvariantViolation aborts a run. It indicates a modeling bug, never user error.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrNotSupported is returned for declared but unimplemented features such as hybrid stops.
	ErrNotSupported = errors.New("not supported")

	// ErrStopUnresolved is returned in strict stop resolution mode when an entry has no usable stop.
	ErrStopUnresolved = errors.New("stop unresolved")
)
