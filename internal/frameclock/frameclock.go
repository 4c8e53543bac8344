// SPDX-License-Identifier: Unlicense OR MIT

// Package frameclock predicts the next safe presentation time for a
// single output, the way a compositor paces rendering to the display's
// vblank.
package frameclock

import (
	"time"

	"github.com/rs/zerolog"
)

// Clock tracks the refresh cadence of one output and predicts when the
// next frame should be presented.
type Clock struct {
	log zerolog.Logger

	// interval is the refresh period. Zero means the output has no
	// fixed refresh interval (fully variable, e.g. a headless or
	// windowed backend that presents on demand).
	interval time.Duration

	// last is the last reported presentation time. The zero Time means
	// no presentation has happened yet.
	last time.Time

	vrr bool
}

// New creates a Clock with the given nominal refresh interval. A zero
// interval means the output has no fixed cadence.
func New(log zerolog.Logger, interval time.Duration) *Clock {
	return &Clock{log: log.With().Str("component", "frameclock").Logger(), interval: interval}
}

// SetInterval updates the refresh interval, as happens on a mode change.
func (c *Clock) SetInterval(interval time.Duration) {
	c.interval = interval
}

// Interval reports the current refresh interval.
func (c *Clock) Interval() time.Duration {
	return c.interval
}

// SetVRR enables or disables variable refresh rate prediction. Changing
// the VRR flag clears the last presentation time, restarting prediction,
// per spec: "setting VRR clears last-presentation".
func (c *Clock) SetVRR(on bool) {
	if c.vrr == on {
		return
	}
	c.vrr = on
	c.last = time.Time{}
}

// VRR reports whether variable refresh rate is currently active.
func (c *Clock) VRR() bool {
	return c.vrr
}

// Presented records that a frame was presented (or treated as such) at
// the given time. Presentation times must be monotonic; an out-of-order
// timestamp is logged and ignored.
func (c *Clock) Presented(at time.Time) {
	if !c.last.IsZero() && at.Before(c.last) {
		c.log.Warn().Time("at", at).Time("last", c.last).Msg("non-monotonic presentation time, ignoring")
		return
	}
	c.last = at
}

// LastPresentation reports the last recorded presentation time, and
// whether one has ever been recorded.
func (c *Clock) LastPresentation() (time.Time, bool) {
	return c.last, !c.last.IsZero()
}

// TimeToNextPresentation returns the duration to wait, from now, before
// the next frame may be presented. A zero duration means "present
// immediately".
func (c *Clock) TimeToNextPresentation(now time.Time) time.Duration {
	if c.interval <= 0 || c.last.IsZero() {
		return 0
	}

	last := c.last
	if now.Before(last) || now.Equal(last) {
		// Early vblank correction: the clock thinks we're presenting
		// before the previous presentation. Assume one interval has
		// passed; if we're still behind, snap forward.
		now = now.Add(c.interval)
		if !now.After(last) {
			c.log.Warn().Time("now", now).Time("last", last).Msg("time did not advance past last presentation, snapping")
			return last.Add(c.interval).Sub(c.last)
		}
	}

	delta := now.Sub(last)
	intervals := delta / c.interval
	if delta%c.interval != 0 {
		intervals++
	}
	nsToNext := intervals * c.interval
	deadline := last.Add(nsToNext)

	if c.vrr && nsToNext > c.interval {
		// More than one frame has elapsed with the output idle; in
		// on-demand VRR, present immediately rather than waiting for
		// the next predicted deadline.
		return 0
	}

	if d := deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}
