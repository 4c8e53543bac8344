// SPDX-License-Identifier: Unlicense OR MIT

// Package window models a handle to a client toplevel surface, from its
// unmapped state through its mapped layout mode, and the window-rule
// gate that runs before a window is first mapped.
package window

import (
	"image"
	"sync/atomic"
	"time"

	"github.com/theeasternfurry/pinnacle/internal/tagset"
	"github.com/theeasternfurry/pinnacle/internal/wlshim"
)

// ID uniquely identifies a window within a process lifetime.
type ID uint64

var nextID atomic.Uint64

func newID() ID {
	return ID(nextID.Add(1))
}

// Mode is the geometric discipline governing a mapped window.
type Mode int

const (
	Tiled Mode = iota
	Floating
	Fullscreen
	Maximized
	Spilled
)

func (m Mode) String() string {
	switch m {
	case Tiled:
		return "tiled"
	case Floating:
		return "floating"
	case Fullscreen:
		return "fullscreen"
	case Maximized:
		return "maximized"
	case Spilled:
		return "spilled"
	default:
		return "unknown"
	}
}

// ParseMode parses a Mode's String() representation, used to decode a
// Mode off the control plane.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "tiled":
		return Tiled, true
	case "floating":
		return Floating, true
	case "fullscreen":
		return Fullscreen, true
	case "maximized":
		return Maximized, true
	case "spilled":
		return Spilled, true
	default:
		return 0, false
	}
}

// VRRDemand is a window's request for variable refresh rate.
type VRRDemand int

const (
	VRRDemandOff VRRDemand = iota
	VRRDemandWhenVisible
	VRRDemandWhenFullscreenAndVisible
)

// DecorationMode is the client's requested decoration mode.
type DecorationMode int

const (
	DecorationClientSide DecorationMode = iota
	DecorationServerSide
)

// ActivationToken is supplied by another client to request that a
// not-yet-mapped window be focused immediately on map (xdg-activation).
type ActivationToken struct {
	Token     string
	issuedAt  time.Time
	expiresIn time.Duration
}

// Valid reports whether the token has not expired as of now.
func (a *ActivationToken) Valid(now time.Time) bool {
	if a == nil {
		return false
	}
	if a.expiresIn <= 0 {
		return true
	}
	return now.Sub(a.issuedAt) < a.expiresIn
}

// NewActivationToken creates a token valid for the given duration from
// now (zero duration means it never expires).
func NewActivationToken(token string, now time.Time, validFor time.Duration) *ActivationToken {
	return &ActivationToken{Token: token, issuedAt: now, expiresIn: validFor}
}

// SnapshotTexture is an opaque handle to a backend-captured texture,
// populated on destroy for close animations.
type SnapshotTexture interface {
	Release()
}

// Window is a handle to exactly one client toplevel (native or X11).
type Window struct {
	ID       ID
	Toplevel wlshim.ToplevelHandle

	tags []*tagset.Tag

	mode          Mode
	floatingGeom  image.Rectangle
	decoration    DecorationMode
	minimized     bool
	vrrDemand     VRRDemand
	focused       bool
	snapshot      SnapshotTexture
	activationTok *ActivationToken

	// pendingSerial/pendingGeom track the last configure this window
	// was asked to ack, for the transaction registry to consult.
	pendingSerial uint32
	pendingGeom   image.Rectangle
}

// New wraps a toolkit toplevel handle in a fresh Window, unattached to
// any tag.
func New(t wlshim.ToplevelHandle) *Window {
	return &Window{ID: newID(), Toplevel: t, mode: Tiled}
}

// Tags returns the window's tag set, in insertion order (the first
// entry is the "primary tag").
func (w *Window) Tags() []*tagset.Tag {
	return w.tags
}

// PrimaryTag returns the first tag assigned to the window, if any.
func (w *Window) PrimaryTag() (*tagset.Tag, bool) {
	if len(w.tags) == 0 {
		return nil, false
	}
	return w.tags[0], true
}

// SetTags replaces the window's tag set, preserving insertion order of
// the argument.
func (w *Window) SetTags(tags []*tagset.Tag) {
	w.tags = tags
}

// AddTag appends a tag if not already present.
func (w *Window) AddTag(t *tagset.Tag) {
	for _, existing := range w.tags {
		if existing == t {
			return
		}
	}
	w.tags = append(w.tags, t)
}

// RemoveTag drops a tag from the window's set, if present.
func (w *Window) RemoveTag(t *tagset.Tag) {
	filtered := w.tags[:0]
	for _, existing := range w.tags {
		if existing != t {
			filtered = append(filtered, existing)
		}
	}
	w.tags = filtered
}

// ResolveTagNames looks up names against candidates in order, skipping
// any name with no match. A Rule only ever carries tag names (see
// rules.go); this is the shared lookup both the map-time path and the
// already-mapped rule-push path use to turn those names into the
// caller's actual *tagset.Tag values before calling SetTags.
func ResolveTagNames(candidates []*tagset.Tag, names []string) []*tagset.Tag {
	var resolved []*tagset.Tag
	for _, name := range names {
		for _, t := range candidates {
			if t.Name == name {
				resolved = append(resolved, t)
				break
			}
		}
	}
	return resolved
}

// Visible reports whether at least one of the window's tags is active
// on its output — the visibility invariant from spec.md §3.
func (w *Window) Visible() bool {
	for _, t := range w.tags {
		if t.Active() {
			return true
		}
	}
	return false
}

// Mode returns the window's current layout mode.
func (w *Window) Mode() Mode { return w.mode }

// SetMode sets the window's layout mode. Round-tripping SetMode/Mode
// yields the same value (spec.md §8 round-trip law).
func (w *Window) SetMode(m Mode) { w.mode = m }

// FloatingGeometry returns the window's geometry while floating (or
// spilled, which behaves as floating).
func (w *Window) FloatingGeometry() image.Rectangle { return w.floatingGeom }

// SetFloatingGeometry sets the floating geometry.
func (w *Window) SetFloatingGeometry(r image.Rectangle) { w.floatingGeom = r }

// Decoration returns the requested decoration mode.
func (w *Window) Decoration() DecorationMode { return w.decoration }

// SetDecoration sets the requested decoration mode.
func (w *Window) SetDecoration(d DecorationMode) { w.decoration = d }

// Minimized reports the window's minimized flag.
func (w *Window) Minimized() bool { return w.minimized }

// SetMinimized sets the minimized flag.
func (w *Window) SetMinimized(m bool) { w.minimized = m }

// VRRDemand returns the window's VRR demand.
func (w *Window) VRRDemand() VRRDemand { return w.vrrDemand }

// SetVRRDemand sets the window's VRR demand.
func (w *Window) SetVRRDemand(d VRRDemand) { w.vrrDemand = d }

// Focused reports whether this window currently holds keyboard focus.
// At most one window may report true at a time; that invariant is
// maintained by internal/inputdispatch, not by Window itself.
func (w *Window) Focused() bool { return w.focused }

// SetFocused sets the focused flag. Callers must ensure at most one
// Window in the registry is focused at a time.
func (w *Window) SetFocused(f bool) { w.focused = f }

// Snapshot returns the close-animation snapshot texture, if captured.
func (w *Window) Snapshot() SnapshotTexture { return w.snapshot }

// SetSnapshot stores a snapshot texture captured on destroy.
func (w *Window) SetSnapshot(s SnapshotTexture) { w.snapshot = s }

// ActivationToken returns the window's pending activation token, if any.
func (w *Window) ActivationToken() *ActivationToken { return w.activationTok }

// SetActivationToken attaches (or, passing nil, clears) an activation
// token supplied before the window mapped.
func (w *Window) SetActivationToken(t *ActivationToken) { w.activationTok = t }

// PendingConfigure returns the serial and geometry of the last configure
// sent to this window, for the transaction registry.
func (w *Window) PendingConfigure() (uint32, image.Rectangle) {
	return w.pendingSerial, w.pendingGeom
}

// SetPendingConfigure records a newly-sent configure's serial and
// geometry.
func (w *Window) SetPendingConfigure(serial uint32, geom image.Rectangle) {
	w.pendingSerial = serial
	w.pendingGeom = geom
}
