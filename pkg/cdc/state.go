package cdc

// TransformState is the opaque bytes-to-bytes mapping a transform owns
// across invocations, plus whatever private serialisable state the
// transform keeps inside it. The host treats it as canonical: it is restored
// from a cache snapshot before every re-entry following a rollback or a
// restart.
type TransformState struct {
	entries map[string][]byte
}

// NewTransformState returns an empty state mapping.
func NewTransformState() *TransformState {
	return &TransformState{entries: make(map[string][]byte)}
}

// Get returns the value stored for key and whether it was present.
func (s *TransformState) Get(key []byte) ([]byte, bool) {
	v, ok := s.entries[string(key)]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (s *TransformState) Set(key, value []byte) {
	cp := make([]byte, len(value))
	copy(cp, value)
	s.entries[string(key)] = cp
}

// Delete removes key, reporting whether it was present.
func (s *TransformState) Delete(key []byte) bool {
	_, ok := s.entries[string(key)]
	delete(s.entries, string(key))
	return ok
}

// Len reports the number of live keys.
func (s *TransformState) Len() int {
	return len(s.entries)
}

// Snapshot produces a deep, independent copy of the current mapping, safe to
// store in a rollback-window cache entry and mutate freely afterwards.
func (s *TransformState) Snapshot() *TransformState {
	out := &TransformState{entries: make(map[string][]byte, len(s.entries))}
	for k, v := range s.entries {
		cp := make([]byte, len(v))
		copy(cp, v)
		out.entries[k] = cp
	}
	return out
}

// Restore replaces this state's contents with a deep copy of other's,
// without changing the identity of the receiver (callers keep their
// pointer).
func (s *TransformState) Restore(other *TransformState) {
	s.entries = make(map[string][]byte, len(other.entries))
	for k, v := range other.entries {
		cp := make([]byte, len(v))
		copy(cp, v)
		s.entries[k] = cp
	}
}
