// SPDX-License-Identifier: Unlicense OR MIT

// Package layout maps an output's active tags and window list to
// geometries, and drives the transaction protocol that applies those
// geometries atomically once every participant acks.
package layout

import (
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/theeasternfurry/pinnacle/internal/output"
	"github.com/theeasternfurry/pinnacle/internal/transaction"
	"github.com/theeasternfurry/pinnacle/internal/window"
	"github.com/theeasternfurry/pinnacle/internal/wlshim"
)

// Algorithm is the pure function at the heart of the layout engine:
// given the geometry available and the windows eligible for tiling, it
// returns a rectangle for each window it could place. A window absent
// from the result has no slot (it "spills"), per spec.md §4.4.
type Algorithm interface {
	Arrange(available image.Rectangle, windows []*window.Window) map[*window.Window]image.Rectangle
}

// Engine couples an Algorithm to the transaction Registry, turning
// layout decisions into configures and, on ack, atomic scene updates.
type Engine struct {
	log zerolog.Logger

	algorithm Algorithm
	txns      *transaction.Registry

	// serial is unused: configure serials come from the toolkit's
	// Configure call and are stored on each window.
	serial uint32
}

// NewEngine creates a layout engine using algorithm for tiled placement.
func NewEngine(log zerolog.Logger, algorithm Algorithm, txns *transaction.Registry) *Engine {
	return &Engine{log: log.With().Str("component", "layout").Logger(), algorithm: algorithm, txns: txns}
}

// RequestLayout computes target geometries for every window visible on
// o (tiled windows via the Algorithm; floating/fullscreen/maximized
// windows keep or derive their own geometry) and enqueues a transaction
// for whichever windows need a new configure.
func (e *Engine) RequestLayout(now time.Time, o *output.Output, windows []*window.Window) *transaction.Transaction {
	visible := visibleOn(o, windows)

	var tiled []*window.Window
	targets := make(map[*window.Window]image.Rectangle, len(visible))

	for _, w := range visible {
		switch w.Mode() {
		case window.Tiled, window.Spilled:
			tiled = append(tiled, w)
		case window.Floating:
			targets[w] = w.FloatingGeometry()
		case window.Fullscreen:
			targets[w] = o.Geometry()
		case window.Maximized:
			targets[w] = o.Geometry()
		}
	}

	placed := e.algorithm.Arrange(o.Geometry(), tiled)
	for _, w := range tiled {
		if rect, ok := placed[w]; ok {
			targets[w] = rect
			if w.Mode() == window.Spilled {
				w.SetMode(window.Tiled)
			}
		} else {
			// Capacity underflow: no slot available. Spilled windows
			// behave as floating until capacity returns (spec.md §4.4).
			w.SetMode(window.Spilled)
			targets[w] = w.FloatingGeometry()
		}
	}

	var participants []*transaction.Participant
	for w, rect := range targets {
		_, currentGeom := w.PendingConfigure()
		if currentGeom == rect {
			continue
		}
		serial := w.Toplevel.Configure(rect, statesFor(w))
		w.SetPendingConfigure(serial, rect)
		participants = append(participants, &transaction.Participant{Window: w, Geometry: rect, Serial: serial})
	}

	if len(participants) == 0 {
		return nil
	}
	return e.txns.Enqueue(now, o.Name, participants)
}

// ApplyDue drains and applies every transaction ready (or forced) for
// o, returning the windows whose geometry actually changed so the
// caller can mark outputs/windows damaged.
func (e *Engine) ApplyDue(now time.Time, o *output.Output) []*window.Window {
	applied := e.txns.ApplyDue(now, o.Name)
	var changed []*window.Window
	for _, txn := range applied {
		for _, p := range txn.Participants() {
			changed = append(changed, p.Window)
		}
	}
	return changed
}

func statesFor(w *window.Window) wlshim.ToplevelStates {
	return wlshim.ToplevelStates{
		Maximized:  w.Mode() == window.Maximized,
		Fullscreen: w.Mode() == window.Fullscreen,
		Activated:  w.Focused(),
	}
}

func visibleOn(o *output.Output, windows []*window.Window) []*window.Window {
	var visible []*window.Window
	for _, w := range windows {
		if !w.Visible() {
			continue
		}
		if tag, ok := w.PrimaryTag(); ok && !o.Tags.Contains(tag) {
			continue
		}
		visible = append(visible, w)
	}
	return visible
}

// HasZeroTags reports whether o currently has zero tags, the condition
// under which spec.md §7 says layout (and hence mapping) must be
// refused.
func HasZeroTags(o *output.Output) bool {
	return len(o.Tags.All()) == 0
}

// ResizeTile adjusts a tiled window's edges by the given deltas; an
// edge that cannot move further (it is pinned to the output edge) has
// its delta absorbed by the opposite edge instead, per spec.md §4.4.
func ResizeTile(bounds image.Rectangle, r image.Rectangle, left, right, top, bottom int) image.Rectangle {
	out := r

	if r.Min.X+left < bounds.Min.X {
		overflow := bounds.Min.X - (r.Min.X + left)
		out.Max.X += overflow
		left = bounds.Min.X - r.Min.X
	}
	out.Min.X += left

	if r.Max.X+right > bounds.Max.X {
		overflow := (r.Max.X + right) - bounds.Max.X
		out.Min.X -= overflow
		right = bounds.Max.X - r.Max.X
	}
	out.Max.X += right

	if r.Min.Y+top < bounds.Min.Y {
		overflow := bounds.Min.Y - (r.Min.Y + top)
		out.Max.Y += overflow
		top = bounds.Min.Y - r.Min.Y
	}
	out.Min.Y += top

	if r.Max.Y+bottom > bounds.Max.Y {
		overflow := (r.Max.Y + bottom) - bounds.Max.Y
		out.Min.Y -= overflow
		bottom = bounds.Max.Y - r.Max.Y
	}
	out.Max.Y += bottom

	return out
}
