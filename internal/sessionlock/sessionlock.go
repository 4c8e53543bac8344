// SPDX-License-Identifier: Unlicense OR MIT

// Package sessionlock implements the three-state session-lock protocol:
// a lock is not confirmed until every output reports a blanked frame.
package sessionlock

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/theeasternfurry/pinnacle/internal/output"
	"github.com/theeasternfurry/pinnacle/internal/wlshim"
)

// State is one of the three session-lock states.
type State int

const (
	Unlocked State = iota
	Locking
	Locked
)

func (s State) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case Locking:
		return "locking"
	case Locked:
		return "locked"
	default:
		return "unknown"
	}
}

// ErrAlreadyLocking is returned when a lock is requested while one is
// already in progress or in force (spec.md §7: "reject the request
// resource; do not alter state").
var ErrAlreadyLocking = errors.New("sessionlock: a lock is already locking or locked")

// Locker identifies the client that requested the lock, so the
// confirmation/denial can be routed back to it.
type Locker interface {
	Confirm()
	Deny()
}

// Lock is the session-lock state machine, owned by the Core.
type Lock struct {
	log zerolog.Logger

	state  State
	locker Locker

	focusTarget wlshim.Surface
}

// New creates a Lock in the Unlocked state.
func New(log zerolog.Logger) *Lock {
	return &Lock{log: log.With().Str("component", "sessionlock").Logger(), state: Unlocked}
}

// State returns the current lock state.
func (l *Lock) State() State {
	return l.state
}

// RequestLock begins locking on behalf of locker. Any outputs is the
// current output set, so every output can be pushed toward Blanked
// immediately. A request while not Unlocked is denied without altering
// state.
func (l *Lock) RequestLock(locker Locker, outputs []*output.Output) error {
	if l.state != Unlocked {
		locker.Deny()
		return ErrAlreadyLocking
	}
	l.state = Locking
	l.locker = locker
	for _, o := range outputs {
		if o.Blanking() == output.NotBlanked {
			o.SetBlanking(output.Blanking)
		}
	}
	return nil
}

// PollBlanking checks whether every output has reached Blanked; if so,
// it confirms the lock to the requester and transitions to Locked. It
// is meant to be called once per loop cycle while Locking.
func (l *Lock) PollBlanking(outputs []*output.Output) {
	if l.state != Locking {
		return
	}
	for _, o := range outputs {
		if !o.Enabled() {
			continue
		}
		if o.Blanking() != output.Blanked {
			return
		}
	}
	l.state = Locked
	if l.locker != nil {
		l.locker.Confirm()
	}
}

// InstallLockSurface installs a per-output lock surface once received.
// The first surface installed across all outputs becomes the focus
// target, per spec.md §4.6.
func (l *Lock) InstallLockSurface(o *output.Output, surface output.LockSurface, serial uint32, rootSurface wlshim.Surface) {
	o.SetLockSurface(surface)
	surface.Configure(o.Geometry().Size(), serial)
	if l.focusTarget == nil {
		l.focusTarget = rootSurface
	}
}

// FocusTarget returns the surface that should receive keyboard focus
// while locked, if one has been installed yet.
func (l *Lock) FocusTarget() (wlshim.Surface, bool) {
	if l.focusTarget == nil {
		return nil, false
	}
	return l.focusTarget, true
}

// Unlock drops every lock surface, resets blanking, clears the focus
// target, and returns to Unlocked.
func (l *Lock) Unlock(outputs []*output.Output) {
	for _, o := range outputs {
		if s := o.LockSurfaceRef(); s != nil {
			s.Destroy()
			o.SetLockSurface(nil)
		}
		o.SetBlanking(output.NotBlanked)
	}
	l.focusTarget = nil
	l.locker = nil
	l.state = Unlocked
}

// MayRenderUnlockedFrame reports whether, given the current state, the
// compositor is permitted to render an ordinary (unlocked) frame.
// spec.md §8's invariant: the compositor never renders an unlock-state
// frame while Locked.
func (l *Lock) MayRenderUnlockedFrame() bool {
	return l.state != Locked
}
