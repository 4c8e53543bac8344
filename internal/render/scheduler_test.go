// SPDX-License-Identifier: Unlicense OR MIT

package render

import (
	"image"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/theeasternfurry/pinnacle/internal/backend"
	"github.com/theeasternfurry/pinnacle/internal/output"
)

func newTestOutput(name string) *output.Output {
	return output.New(zerolog.Nop(), name, output.Mode{Size: image.Pt(1920, 1080), RefreshMHz: 60_000}, 1)
}

func TestScheduleAndTickClearsFlag(t *testing.T) {
	dev := backend.NewHeadless()
	s := NewScheduler(zerolog.Nop(), dev)
	o := newTestOutput("eDP-1")

	s.Schedule(o)
	if !s.Scheduled(o) {
		t.Fatal("expected output to be scheduled")
	}

	fired := false
	s.QueueFrameCallback(o, func(time.Time) { fired = true })

	s.Tick(time.Now(), []*output.Output{o}, map[string]image.Rectangle{
		"eDP-1": image.Rect(0, 0, 10, 10),
	})

	if s.Scheduled(o) {
		t.Fatal("expected scheduled flag to clear after a successful render")
	}
	if !fired {
		t.Fatal("expected the frame callback to fire")
	}
}

func TestSkippedRenderStaysScheduled(t *testing.T) {
	dev := backend.NewHeadless()
	dev.RenderFunc = func(string, image.Rectangle) (backend.RenderResult, time.Time, error) {
		return backend.Skipped, time.Time{}, nil
	}
	s := NewScheduler(zerolog.Nop(), dev)
	o := newTestOutput("eDP-1")
	s.Schedule(o)

	s.Tick(time.Now(), []*output.Output{o}, nil)

	if !s.Scheduled(o) {
		t.Fatal("expected a skipped render to leave the output scheduled")
	}
}

func TestNoDamageStillAdvancesClock(t *testing.T) {
	dev := backend.NewHeadless()
	s := NewScheduler(zerolog.Nop(), dev)
	o := newTestOutput("eDP-1")
	s.Schedule(o)

	before, ok := o.Clock.LastPresentation()
	if ok {
		t.Fatal("expected no prior presentation")
	}
	_ = before

	s.Tick(time.Now(), []*output.Output{o}, nil)

	if _, ok := o.Clock.LastPresentation(); !ok {
		t.Fatal("expected NoDamage to still update the frame clock")
	}
}
