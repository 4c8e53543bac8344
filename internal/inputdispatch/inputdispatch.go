// SPDX-License-Identifier: Unlicense OR MIT

// Package inputdispatch tracks the keyboard-focus stack and the
// pointer-contents cache, and glues pointer-constraint activation to
// the toolkit's input handling. Event delivery itself (the wire-level
// key/pointer/touch protocol) is the toolkit's job; this package only
// owns the compositor-level policy of *who* is focused and *what* is
// under the pointer.
package inputdispatch

import (
	"image"

	"golang.org/x/exp/slices"

	"github.com/theeasternfurry/pinnacle/internal/window"
	"github.com/theeasternfurry/pinnacle/internal/wlshim"
)

// FocusStack is an ordered stack of windows; the top of the stack holds
// keyboard focus. Raising a window moves it to the top without
// disturbing the relative order of the rest.
type FocusStack struct {
	stack []*window.Window
}

// Top returns the currently-focused window, if the stack is non-empty.
func (f *FocusStack) Top() (*window.Window, bool) {
	if len(f.stack) == 0 {
		return nil, false
	}
	return f.stack[0], true
}

// Raise moves w to the top of the stack, inserting it if absent. At
// most one window is ever focused afterward: Raise clears the Focused
// flag on the previous top and sets it on w.
func (f *FocusStack) Raise(w *window.Window) {
	if prev, ok := f.Top(); ok && prev == w {
		return
	}
	f.stack = slices.DeleteFunc(f.stack, func(c *window.Window) bool { return c == w })
	f.stack = append([]*window.Window{w}, f.stack...)
	f.syncFocusFlags()
}

// Remove drops w from the stack entirely (it was unmapped or
// destroyed). If it held focus, the next window in the stack (if any)
// becomes focused.
func (f *FocusStack) Remove(w *window.Window) {
	f.stack = slices.DeleteFunc(f.stack, func(c *window.Window) bool { return c == w })
	f.syncFocusFlags()
}

// All returns the focus stack, top first.
func (f *FocusStack) All() []*window.Window {
	return f.stack
}

func (f *FocusStack) syncFocusFlags() {
	for i, w := range f.stack {
		w.SetFocused(i == 0)
	}
}

// PointerContents caches the surface currently under the pointer and
// its location, so hover/leave events can be derived without a fresh
// hit-test every motion event.
type PointerContents struct {
	surface  wlshim.Surface
	location image.Point
}

// Surface returns the surface under the pointer, if any.
func (p *PointerContents) Surface() (wlshim.Surface, bool) {
	if p.surface == nil {
		return nil, false
	}
	return p.surface, true
}

// Location returns the last known pointer location.
func (p *PointerContents) Location() image.Point {
	return p.location
}

// Update sets the cached pointer contents, returning the previous
// surface if it changed (so a caller can send pointer-leave there
// before pointer-enter on the new one).
func (p *PointerContents) Update(surface wlshim.Surface, at image.Point) (previous wlshim.Surface, changed bool) {
	previous = p.surface
	changed = previous != surface
	p.surface = surface
	p.location = at
	return previous, changed
}

// Constraint is a pointer-constraint object (lock or confine) a client
// has requested against a surface.
type Constraint interface {
	Surface() wlshim.Surface
	Region() image.Rectangle
	Activate()
	Deactivate()
}

// ConstraintSet tracks the single active pointer constraint, since only
// one may be active at a time (the one on the surface the pointer
// currently occupies).
type ConstraintSet struct {
	active Constraint
}

// Activate switches the active constraint to c, deactivating whatever
// was active before. Passing nil deactivates without replacing.
func (cs *ConstraintSet) Activate(c Constraint) {
	if cs.active == c {
		return
	}
	if cs.active != nil {
		cs.active.Deactivate()
	}
	cs.active = c
	if c != nil {
		c.Activate()
	}
}

// ActivateForSurface activates any registered constraint bound to
// surface, or deactivates the current one if none matches — called
// whenever the pointer contents change.
func (cs *ConstraintSet) ActivateForSurface(surface wlshim.Surface, constraints []Constraint) {
	for _, c := range constraints {
		if c.Surface() == surface {
			cs.Activate(c)
			return
		}
	}
	cs.Activate(nil)
}
