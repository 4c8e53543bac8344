// SPDX-License-Identifier: Unlicense OR MIT

package toplevelmirror

import (
	"image"
	"testing"

	"github.com/rs/zerolog"

	"github.com/theeasternfurry/pinnacle/internal/output"
	"github.com/theeasternfurry/pinnacle/internal/window"
	"github.com/theeasternfurry/pinnacle/internal/wlshim"
)

type fakeToplevel struct {
	id    wlshim.SurfaceID
	title string
	appID string
}

func (f *fakeToplevel) ID() wlshim.SurfaceID                                   { return f.id }
func (f *fakeToplevel) Client() wlshim.ClientID                                { return 0 }
func (f *fakeToplevel) HasBuffer() bool                                        { return true }
func (f *fakeToplevel) BufferSize() image.Point                                { return image.Point{} }
func (f *fakeToplevel) IsSubsurface() bool                                     { return false }
func (f *fakeToplevel) SynchronizedSubsurface() bool                           { return false }
func (f *fakeToplevel) Root() wlshim.Surface                                   { return f }
func (f *fakeToplevel) SetBounds(image.Rectangle)                              {}
func (f *fakeToplevel) Configure(image.Rectangle, wlshim.ToplevelStates) uint32 { return 0 }
func (f *fakeToplevel) AckedSerial() (uint32, bool)                            { return 0, false }
func (f *fakeToplevel) Title() string                                         { return f.title }
func (f *fakeToplevel) AppID() string                                         { return f.appID }
func (f *fakeToplevel) MinSize() (image.Point, bool)                          { return image.Point{}, false }
func (f *fakeToplevel) MaxSize() (image.Point, bool)                          { return image.Point{}, false }
func (f *fakeToplevel) OnDestroy(func())                                     {}

type recordingHandle struct {
	events []string
}

func (r *recordingHandle) Title(s string)          { r.events = append(r.events, "title:"+s) }
func (r *recordingHandle) AppID(s string)          { r.events = append(r.events, "appid:"+s) }
func (r *recordingHandle) State(States)            { r.events = append(r.events, "state") }
func (r *recordingHandle) OutputEnter(s string)    { r.events = append(r.events, "enter:"+s) }
func (r *recordingHandle) OutputLeave(s string)    { r.events = append(r.events, "leave:"+s) }
func (r *recordingHandle) Done()                   { r.events = append(r.events, "done") }
func (r *recordingHandle) Closed()                 { r.events = append(r.events, "closed") }

func TestRefreshEmitsOnlyChangedFields(t *testing.T) {
	m := New(zerolog.Nop())
	w := window.New(&fakeToplevel{id: 1, title: "term"})
	m.Track(w)

	h := &recordingHandle{}
	m.Subscribe(10, func(*window.Window) ClientHandle { return h })

	m.Refresh([]*window.Window{w}, 0, func(*window.Window) string { return "eDP-1" })

	found := false
	for _, e := range h.events {
		if e == "title:term" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a title event, got %v", h.events)
	}

	h.events = nil
	m.Refresh([]*window.Window{w}, 0, func(*window.Window) string { return "eDP-1" })
	if len(h.events) != 0 {
		t.Fatalf("expected no events when nothing changed, got %v", h.events)
	}
}

func TestUntrackSendsClosed(t *testing.T) {
	m := New(zerolog.Nop())
	w := window.New(&fakeToplevel{id: 1})
	m.Track(w)
	h := &recordingHandle{}
	m.Subscribe(10, func(*window.Window) ClientHandle { return h })

	m.Untrack(w)

	if len(h.events) == 0 || h.events[len(h.events)-1] != "closed" {
		t.Fatalf("expected a closed event, got %v", h.events)
	}
}

func TestFocusedWindowReceivesRefreshEvents(t *testing.T) {
	m := New(zerolog.Nop())
	w1 := window.New(&fakeToplevel{id: 1})
	w2 := window.New(&fakeToplevel{id: 2})
	m.Track(w1)
	m.Track(w2)

	h1 := &recordingHandle{}
	h2 := &recordingHandle{}
	m.Subscribe(10, func(w *window.Window) ClientHandle {
		if w == w1 {
			return h1
		}
		return h2
	})

	m.Refresh([]*window.Window{w1, w2}, w2.ID, func(*window.Window) string { return "eDP-1" })
	// w2 is focused; its Activated state event must be emitted, and by
	// construction of Refresh it is processed after w1.
	if len(h2.events) == 0 {
		t.Fatal("expected the focused window to receive events")
	}
}

func TestTrackFansOutToExistingSubscribers(t *testing.T) {
	m := New(zerolog.Nop())
	h := &recordingHandle{}
	m.Subscribe(10, func(*window.Window) ClientHandle { return h })

	// A window mapped after the client subscribed must still be
	// mirrored to it, not just windows tracked before Subscribe.
	w := window.New(&fakeToplevel{id: 1, title: "term"})
	m.Track(w)

	m.Refresh([]*window.Window{w}, 0, func(*window.Window) string { return "eDP-1" })

	found := false
	for _, e := range h.events {
		if e == "title:term" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the late-tracked window to be mirrored to the existing subscriber, got %v", h.events)
	}
}

func TestRefreshPurgesEntriesNoLongerPresent(t *testing.T) {
	m := New(zerolog.Nop())
	w := window.New(&fakeToplevel{id: 1})
	m.Track(w)
	h := &recordingHandle{}
	m.Subscribe(10, func(*window.Window) ClientHandle { return h })

	// The window is no longer in the live set passed to Refresh (it was
	// destroyed without an explicit Untrack call upstream).
	m.Refresh(nil, 0, func(*window.Window) string { return "" })

	if _, ok := m.Entry(w.ID); ok {
		t.Fatal("expected the stale entry to be purged")
	}
	if len(h.events) == 0 || h.events[len(h.events)-1] != "closed" {
		t.Fatalf("expected a closed event on purge, got %v", h.events)
	}
}

func TestEntryRequestFullscreenMovesTagsAndSetsMode(t *testing.T) {
	m := New(zerolog.Nop())
	w := window.New(&fakeToplevel{id: 1})
	e := m.Track(w)

	o := output.New(zerolog.Nop(), "eDP-1", output.Mode{Size: image.Pt(1920, 1080), RefreshMHz: 60_000}, 1)
	o.Tags.Add([]string{"1", "2"})
	// No tag is active, so RequestFullscreen should fall back to the
	// output's first tag.
	firstTag, _ := o.Tags.First()

	if err := e.RequestFullscreen(o); err != nil {
		t.Fatalf("RequestFullscreen: %v", err)
	}
	if w.Mode() != window.Fullscreen {
		t.Fatalf("expected Fullscreen mode, got %v", w.Mode())
	}
	if len(w.Tags()) == 0 {
		t.Fatal("expected the window to be assigned a tag on the target output")
	}
	if w.Tags()[0] != firstTag {
		// Falls back to the output's first tag when none are active.
		t.Fatalf("expected fallback to the output's first tag, got %v", w.Tags()[0])
	}
}

func TestEntryRequestFullscreenRejectsNilOutput(t *testing.T) {
	m := New(zerolog.Nop())
	w := window.New(&fakeToplevel{id: 1})
	e := m.Track(w)

	if err := e.RequestFullscreen(nil); err == nil {
		t.Fatal("expected an error for a nil output")
	}
}
