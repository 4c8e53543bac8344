// SPDX-License-Identifier: Unlicense OR MIT

package window

import (
	"github.com/theeasternfurry/pinnacle/internal/output"
	"github.com/theeasternfurry/pinnacle/internal/wlshim"
)

// UnmappedState is the state of a window that has not yet committed a
// buffer and mapped.
type UnmappedState int

const (
	// WaitingForTags: no output/tags have been assigned yet.
	WaitingForTags UnmappedState = iota
	// AwaitingRules: tags assigned, window-rule gate has not released
	// it yet.
	AwaitingRules
	// ConfiguredAwaitingMap: rules applied and an initial configure
	// sent; waiting for the client to attach a buffer.
	ConfiguredAwaitingMap
)

// Unmapped is a window that has been created but has not yet committed
// a buffer.
type Unmapped struct {
	Toplevel wlshim.ToplevelHandle

	state UnmappedState

	// targetOutput is set when the client (or a prior rule) pinned
	// this window to a specific output before it had tags.
	targetOutput *output.Output

	activationTok *ActivationToken
}

// NewUnmapped wraps a freshly-created toplevel as an unmapped window in
// the waiting-for-tags state.
func NewUnmapped(t wlshim.ToplevelHandle) *Unmapped {
	return &Unmapped{Toplevel: t, state: WaitingForTags}
}

// State returns the unmapped window's current state.
func (u *Unmapped) State() UnmappedState { return u.state }

// SetState transitions the unmapped window to a new state.
func (u *Unmapped) SetState(s UnmappedState) { u.state = s }

// TargetOutput returns the output this window has been pinned to, if
// any, before it had tags assigned.
func (u *Unmapped) TargetOutput() (*output.Output, bool) {
	if u.targetOutput == nil {
		return nil, false
	}
	return u.targetOutput, true
}

// SetTargetOutput pins the unmapped window to a specific output.
func (u *Unmapped) SetTargetOutput(o *output.Output) { u.targetOutput = o }

// ActivationToken returns the activation token attached before mapping,
// if any.
func (u *Unmapped) ActivationToken() *ActivationToken { return u.activationTok }

// SetActivationToken attaches an activation token.
func (u *Unmapped) SetActivationToken(t *ActivationToken) { u.activationTok = t }
