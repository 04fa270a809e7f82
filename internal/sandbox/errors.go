package sandbox

import "errors"

// Sentinel error kinds for entry-point failures.
var (
	// ErrFault means an entry point returned a negative pointer or
	// trapped. It is fatal to the current block; the caller must not
	// mutate the cache for this height.
	ErrFault = errors.New("sandbox: fault")
	// ErrResourceExhausted means a configured memory or step limit was
	// breached. Treated identically to ErrFault by the driver.
	ErrResourceExhausted = errors.New("sandbox: resource exhausted")
)
