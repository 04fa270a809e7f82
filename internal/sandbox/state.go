package sandbox

import "cdcbridge/pkg/cdc"

// Snapshot returns a deep copy of the host's working TransformState,
// suitable for storing in a rollback-window cache entry.
func (h *Host) Snapshot() *cdc.TransformState {
	return h.state.Snapshot()
}

// RestoreState replaces the host's working TransformState with a deep copy
// of snapshot, without changing the Host's own TransformState pointer
// identity. Callers use this before re-entry following a rollback or a
// cold restart.
func (h *Host) RestoreState(snapshot *cdc.TransformState) {
	h.state.Restore(snapshot)
}

// StateLen reports the number of live keys in the host's working state,
// for diagnostics and tests.
func (h *Host) StateLen() int {
	return h.state.Len()
}
