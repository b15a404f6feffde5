// Package store holds the active pattern spec under copy-on-write
// replacement. Readers mid-materialization keep working against the
// version they already hold; replacement swaps one reference
// atomically so no reader ever observes a half-written spec.
package store

import (
	"sync"
	"sync/atomic"

	"github.com/soluna-audio/soluna/internal/pattern"
)

type Store struct {
	active  atomic.Pointer[pattern.Spec]
	mu      sync.Mutex
	counter uint64
	history []uint64
}

func New() *Store {
	return &Store{}
}

// SetPattern stamps spec with the next version and installs it as the
// active pattern. The draft passed in is not mutated.
func (s *Store) SetPattern(spec *pattern.Spec) uint64 {
	s.mu.Lock()
	s.counter++
	v := s.counter
	stamped := spec.WithVersion(v)
	s.history = append(s.history, v)
	s.mu.Unlock()
	s.active.Store(stamped)
	return v
}

// Active returns the current spec, or nil before the first install.
func (s *Store) Active() *pattern.Spec {
	return s.active.Load()
}

// Version returns the active version, 0 before the first install.
func (s *Store) Version() uint64 {
	if spec := s.active.Load(); spec != nil {
		return spec.Version
	}
	return 0
}

// History returns every version ever installed, oldest first.
func (s *Store) History() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.history))
	copy(out, s.history)
	return out
}
