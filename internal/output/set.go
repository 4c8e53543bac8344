// SPDX-License-Identifier: Unlicense OR MIT

package output

import "golang.org/x/exp/slices"

// Set is the Core-owned registry of all known outputs, keyed by
// connector name, plus the saved state of previously-seen connectors
// that are currently disconnected.
type Set struct {
	outputs []*Output
	saved   map[string]SavedState
}

// NewSet creates an empty output registry.
func NewSet() *Set {
	return &Set{saved: make(map[string]SavedState)}
}

// Add registers a newly hot-plugged or enumerated output. If saved state
// exists for its connector name, the output's position/scale are
// restored from it (tag recreation is the caller's job).
func (s *Set) Add(o *Output) {
	if saved, ok := s.saved[o.Name]; ok {
		o.Restore(saved)
	}
	s.outputs = append(s.outputs, o)
}

// Remove unplugs an output, snapshotting its state for later
// restoration and removing it from the global space.
func (s *Set) Remove(o *Output) {
	s.saved[o.Name] = o.Snapshot()
	s.outputs = slices.DeleteFunc(s.outputs, func(c *Output) bool { return c == o })
}

// All returns every known output, enabled or not.
func (s *Set) All() []*Output {
	return s.outputs
}

// Enabled returns only the outputs currently mapped into the global
// space.
func (s *Set) Enabled() []*Output {
	var out []*Output
	for _, o := range s.outputs {
		if o.Enabled() {
			out = append(out, o)
		}
	}
	return out
}

// ByName looks up a currently-connected output by connector name.
func (s *Set) ByName(name string) (*Output, bool) {
	for _, o := range s.outputs {
		if o.Name == name {
			return o, true
		}
	}
	return nil, false
}

// SavedState returns the saved state for a connector name, if any.
func (s *Set) SavedState(name string) (SavedState, bool) {
	st, ok := s.saved[name]
	return st, ok
}
