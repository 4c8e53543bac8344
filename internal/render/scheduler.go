// SPDX-License-Identifier: Unlicense OR MIT

// Package render couples each output's frame clock to pending damage
// and transactions, invoking the backend to render and dispatching
// frame callbacks, per spec.md §4.5.
package render

import (
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/theeasternfurry/pinnacle/internal/backend"
	"github.com/theeasternfurry/pinnacle/internal/output"
	"github.com/theeasternfurry/pinnacle/internal/window"
)

// FrameCallback is invoked once a surface's content has scanned out.
type FrameCallback func(presentedAt time.Time)

// Scheduler maintains a "scheduled" flag per output and drives the
// render/present/callback cycle each loop tick.
type Scheduler struct {
	log zerolog.Logger
	dev backend.Device

	scheduled map[string]bool
	callbacks map[string][]FrameCallback
}

// NewScheduler creates a Scheduler driving dev.
func NewScheduler(log zerolog.Logger, dev backend.Device) *Scheduler {
	return &Scheduler{
		log:       log.With().Str("component", "render").Logger(),
		dev:       dev,
		scheduled: make(map[string]bool),
		callbacks: make(map[string][]FrameCallback),
	}
}

// Schedule marks an output as needing a render on its next due frame
// clock deadline.
func (s *Scheduler) Schedule(o *output.Output) {
	s.scheduled[o.Name] = true
}

// Scheduled reports whether an output currently has a render pending.
func (s *Scheduler) Scheduled(o *output.Output) bool {
	return s.scheduled[o.Name]
}

// QueueFrameCallback registers a callback to fire the next time o
// scans out a frame.
func (s *Scheduler) QueueFrameCallback(o *output.Output, cb FrameCallback) {
	s.callbacks[o.Name] = append(s.callbacks[o.Name], cb)
}

// Tick runs one loop cycle's worth of rendering: for every scheduled,
// enabled output whose frame clock deadline has arrived, it asks the
// backend to render, updates the clock, and fires queued frame
// callbacks. damage maps output name to the accumulated damage
// rectangle since the last render.
func (s *Scheduler) Tick(now time.Time, outputs []*output.Output, damage map[string]image.Rectangle) {
	for _, o := range outputs {
		if !o.Enabled() || !s.scheduled[o.Name] {
			continue
		}
		if wait := o.Clock.TimeToNextPresentation(now); wait > 0 {
			continue
		}

		d := damage[o.Name]
		result, presentedAt, err := s.dev.Render(o.Name, d)
		if err != nil {
			s.log.Error().Err(err).Str("output", o.Name).Msg("render failed")
			continue
		}

		switch result {
		case backend.Presented, backend.NoDamage:
			s.scheduled[o.Name] = false
			o.Clock.Presented(presentedAt)
			s.fireCallbacks(o.Name, presentedAt)
		case backend.Skipped:
			// Leave scheduled so the next cycle retries.
		}
	}
}

func (s *Scheduler) fireCallbacks(outputName string, at time.Time) {
	cbs := s.callbacks[outputName]
	s.callbacks[outputName] = nil
	for _, cb := range cbs {
		cb(at)
	}
}

// SyncVRRDemand toggles an output's on-demand VRR flag based on whether
// any visible window on it currently demands VRR, per spec.md §4.5.
func SyncVRRDemand(o *output.Output, windows []*window.Window) {
	if o.VRRMode() != output.VRROnDemand {
		return
	}
	demand := false
	for _, w := range windows {
		if !w.Visible() {
			continue
		}
		if tag, ok := w.PrimaryTag(); !ok || !o.Tags.Contains(tag) {
			continue
		}
		switch w.VRRDemand() {
		case window.VRRDemandWhenVisible:
			demand = true
		case window.VRRDemandWhenFullscreenAndVisible:
			if w.Mode() == window.Fullscreen {
				demand = true
			}
		}
	}
	o.Clock.SetVRR(demand)
}
