// SPDX-License-Identifier: Unlicense OR MIT

package window

import (
	"golang.org/x/exp/slices"

	"github.com/theeasternfurry/pinnacle/internal/wlshim"
)

// Set is the Core-owned registry of every window, maintaining the
// invariant that exactly one of its two lists contains any given
// surface.
type Set struct {
	mapped   []*Window
	unmapped []*Unmapped
}

// NewSet creates an empty window registry.
func NewSet() *Set {
	return &Set{}
}

// Unmapped returns the windows awaiting their first buffer commit
// and/or rule application.
func (s *Set) Unmapped() []*Unmapped {
	return s.unmapped
}

// Mapped returns every mapped window.
func (s *Set) Mapped() []*Window {
	return s.mapped
}

// AddUnmapped registers a freshly created toplevel as unmapped.
func (s *Set) AddUnmapped(u *Unmapped) {
	s.unmapped = append(s.unmapped, u)
}

// FindUnmapped locates the Unmapped wrapper for a toplevel surface, if
// it is still unmapped.
func (s *Set) FindUnmapped(surface wlshim.SurfaceID) (*Unmapped, bool) {
	for _, u := range s.unmapped {
		if u.Toplevel.ID() == surface {
			return u, true
		}
	}
	return nil, false
}

// FindMapped locates the Window for a toplevel surface, if it is
// currently mapped.
func (s *Set) FindMapped(surface wlshim.SurfaceID) (*Window, bool) {
	for _, w := range s.mapped {
		if w.Toplevel.ID() == surface {
			return w, true
		}
	}
	return nil, false
}

// Promote moves an unmapped window into the mapped set, preserving the
// "exactly one of the two lists" invariant. It is the caller's
// responsibility to have already run the rules gate and assigned tags;
// Promote just performs the bookkeeping move.
func (s *Set) Promote(u *Unmapped) *Window {
	s.unmapped = slices.DeleteFunc(s.unmapped, func(c *Unmapped) bool { return c == u })
	w := New(u.Toplevel)
	w.SetActivationToken(u.ActivationToken())
	s.mapped = append(s.mapped, w)
	return w
}

// Unmap moves a mapped window back into the unmapped set (its buffer
// was lost). It is re-entered at WaitingForTags, since its previous tag
// assignment no longer applies to an un-rendered surface.
func (s *Set) Unmap(w *Window) *Unmapped {
	s.mapped = slices.DeleteFunc(s.mapped, func(c *Window) bool { return c == w })
	u := NewUnmapped(w.Toplevel)
	s.unmapped = append(s.unmapped, u)
	return u
}

// RemoveUnmapped drops an unmapped window entirely (its surface was
// destroyed before it ever mapped).
func (s *Set) RemoveUnmapped(u *Unmapped) {
	s.unmapped = slices.DeleteFunc(s.unmapped, func(c *Unmapped) bool { return c == u })
}

// RemoveMapped drops a mapped window entirely (its surface was
// destroyed).
func (s *Set) RemoveMapped(w *Window) {
	s.mapped = slices.DeleteFunc(s.mapped, func(c *Window) bool { return c == w })
}

// FocusedWindow returns the window currently holding keyboard focus, if
// any. At most one is ever focused (spec.md §8 invariant); this walks
// the mapped set to find it rather than caching a pointer, since the
// authoritative focus order lives in internal/inputdispatch.
func (s *Set) FocusedWindow() (*Window, bool) {
	for _, w := range s.mapped {
		if w.Focused() {
			return w, true
		}
	}
	return nil, false
}
