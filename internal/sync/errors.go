// Package sync implements the block synchroniser: the control loop that
// drives polling, reorg detection, forward processing, and unwind.
package sync

import "errors"

// Driver-level error kinds, exported as sentinels so callers can use
// errors.Is against a single propagation policy instead of inspecting
// component-specific errors directly.
var (
	// ErrReorgTooDeep means no common ancestor exists within the cache
	// window; fatal, requires operator intervention.
	ErrReorgTooDeep = errors.New("sync: reorg exceeds rollback window")
	// ErrSandboxFault mirrors sandbox.ErrFault at the driver's error
	// boundary: fatal for the current block, cache left untouched.
	ErrSandboxFault = errors.New("sync: sandbox fault")
)
