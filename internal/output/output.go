// SPDX-License-Identifier: Unlicense OR MIT

// Package output models an attached display: its mode, transform,
// power state, VRR configuration, blanking state for session locks,
// and the tags bound to it.
package output

import (
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/theeasternfurry/pinnacle/internal/frameclock"
	"github.com/theeasternfurry/pinnacle/internal/tagset"
)

// Transform mirrors the wl_output transform enum (rotation/flip applied
// before scanout).
type Transform int

const (
	TransformNormal Transform = iota
	Transform90
	Transform180
	Transform270
	TransformFlipped
	TransformFlipped90
	TransformFlipped180
	TransformFlipped270
)

// Mode is one display mode an output supports.
type Mode struct {
	Size       image.Point
	RefreshMHz int // milli-hertz
}

// BlankingState tracks progress toward a session-lock blanked frame.
type BlankingState int

const (
	NotBlanked BlankingState = iota
	Blanking
	Blanked
)

// VRRMode selects when variable refresh rate is engaged.
type VRRMode int

const (
	VRROff VRRMode = iota
	VRROn
	VRROnDemand
)

// SavedState is the per-connector state preserved across a hotplug
// disconnect/reconnect cycle, keyed by connector name.
type SavedState struct {
	Position image.Point
	TagNames []string
	Scale    float64
}

// LockSurface is a named interface standing in for a per-output session
// lock surface object owned by the toolkit boundary (internal/wlshim).
type LockSurface interface {
	Configure(size image.Point, serial uint32)
	Destroy()
}

// Output is an attached display in the compositor's global space.
type Output struct {
	Name     string
	modes    []Mode
	current  Mode
	position image.Point
	scale    float64
	transform Transform

	powered bool
	vrrMode VRRMode

	blanking    BlankingState
	lockSurface LockSurface

	enabled bool

	Tags *tagset.Set

	Clock *frameclock.Clock
}

// New creates an enabled output with the given stable connector name and
// initial mode. The caller is responsible for attaching tags.
func New(log zerolog.Logger, name string, mode Mode, scale float64) *Output {
	return &Output{
		Name:     name,
		modes:    []Mode{mode},
		current:  mode,
		scale:    scale,
		enabled:  true,
		Tags:     &tagset.Set{},
		Clock:    frameclock.New(log, refreshInterval(mode.RefreshMHz)),
	}
}

// Modes returns the output's supported mode list.
func (o *Output) Modes() []Mode { return o.modes }

// SetModes replaces the supported mode list.
func (o *Output) SetModes(modes []Mode) { o.modes = modes }

// CurrentMode returns the active mode.
func (o *Output) CurrentMode() Mode { return o.current }

// SetCurrentMode switches the active mode and updates the frame clock's
// refresh interval accordingly.
func (o *Output) SetCurrentMode(m Mode) {
	o.current = m
	o.Clock.SetInterval(refreshInterval(m.RefreshMHz))
}

// Position returns the output's logical position in the global space.
func (o *Output) Position() image.Point { return o.position }

// SetPosition moves the output within the global space.
func (o *Output) SetPosition(p image.Point) { o.position = p }

// Scale returns the output's scale factor (integer or fractional).
func (o *Output) Scale() float64 { return o.scale }

// SetScale sets the output's scale factor.
func (o *Output) SetScale(s float64) { o.scale = s }

// Transform returns the output's current transform.
func (o *Output) Transform() Transform { return o.transform }

// SetTransform sets the output's transform.
func (o *Output) SetTransform(t Transform) { o.transform = t }

// Geometry returns the logical rectangle this output occupies in the
// global space, accounting for scale but not transform (transform is a
// scanout-time concern left to the rendering backend).
func (o *Output) Geometry() image.Rectangle {
	size := image.Point{
		X: int(float64(o.current.Size.X) / o.scale),
		Y: int(float64(o.current.Size.Y) / o.scale),
	}
	return image.Rectangle{Min: o.position, Max: o.position.Add(size)}
}

// Powered reports whether the output is currently powered on.
func (o *Output) Powered() bool { return o.powered }

// SetPowered sets the powered flag. The caller (outputpower.Manager) is
// responsible for invoking the backend and notifying controllers.
func (o *Output) SetPowered(p bool) { o.powered = p }

// VRRMode returns the output's configured VRR mode.
func (o *Output) VRRMode() VRRMode { return o.vrrMode }

// SetVRRMode sets the output's VRR mode and propagates the on/off flag
// to the frame clock. On-demand mode is resolved by the render scheduler
// per-frame based on window demand, so it does not by itself toggle the
// clock.
func (o *Output) SetVRRMode(m VRRMode) {
	o.vrrMode = m
	if m == VRROn {
		o.Clock.SetVRR(true)
	} else if m == VRROff {
		o.Clock.SetVRR(false)
	}
}

// Blanking returns the current blanking state.
func (o *Output) Blanking() BlankingState { return o.blanking }

// SetBlanking sets the blanking state.
func (o *Output) SetBlanking(s BlankingState) { o.blanking = s }

// LockSurfaceRef returns the installed per-output lock surface, if any.
func (o *Output) LockSurfaceRef() LockSurface { return o.lockSurface }

// SetLockSurface installs (or, passing nil, clears) the output's lock
// surface.
func (o *Output) SetLockSurface(s LockSurface) { o.lockSurface = s }

// Enabled reports whether the output is mapped into the global space.
func (o *Output) Enabled() bool { return o.enabled }

// SetEnabled maps or unmaps the output from the global space. Disabled
// outputs keep their state but are excluded from layout and rendering.
func (o *Output) SetEnabled(e bool) { o.enabled = e }

// Snapshot captures the output's saved state for restoration across a
// disconnect/reconnect cycle.
func (o *Output) Snapshot() SavedState {
	names := make([]string, 0, len(o.Tags.All()))
	for _, t := range o.Tags.All() {
		names = append(names, t.Name)
	}
	return SavedState{Position: o.position, TagNames: names, Scale: o.scale}
}

// Restore applies a previously captured SavedState. Tag recreation is
// the caller's responsibility (it must go through tagset.Set.Add so ids
// stay monotonic); Restore only reapplies position and scale.
func (o *Output) Restore(s SavedState) {
	o.position = s.Position
	o.scale = s.Scale
}

func refreshInterval(mhz int) time.Duration {
	if mhz <= 0 {
		return 0
	}
	// nanoseconds per frame = 1e12 / mHz
	return time.Duration(1_000_000_000_000 / int64(mhz))
}
