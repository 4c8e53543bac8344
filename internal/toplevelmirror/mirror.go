// SPDX-License-Identifier: Unlicense OR MIT

// Package toplevelmirror maintains a per-client mirror of toplevel
// identity/state for the ext-foreign-toplevel-list / wlr-foreign-
// toplevel-management style protocol, diffing and emitting change
// events each refresh cycle.
package toplevelmirror

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/theeasternfurry/pinnacle/internal/output"
	"github.com/theeasternfurry/pinnacle/internal/tagset"
	"github.com/theeasternfurry/pinnacle/internal/window"
	"github.com/theeasternfurry/pinnacle/internal/wlshim"
)

// ClientHandle is a per-client view of one toplevel, the object the
// protocol sends title/app_id/state/output_enter/output_leave/done/
// closed events on.
type ClientHandle interface {
	Title(string)
	AppID(string)
	State(States)
	OutputEnter(output string)
	OutputLeave(output string)
	Done()
	Closed()
}

// States mirrors the subset of toplevel state the protocol exposes.
type States struct {
	Maximized  bool
	Fullscreen bool
	Minimized  bool
	Activated  bool
}

func (a States) equal(b States) bool { return a == b }

// Snapshot is the last-emitted view of one window, used to diff against
// the next refresh.
type Snapshot struct {
	Title  string
	AppID  string
	States States
	Output string
}

// Entry is the per-surface mirror entry: the current snapshot plus the
// set of subscribed clients and, for each, which wl_output proxies it
// has already been told about.
type Entry struct {
	Window *window.Window

	snapshot Snapshot
	handles  map[wlshim.ClientID]ClientHandle
	told     map[wlshim.ClientID]map[string]bool
}

func newEntry(w *window.Window) *Entry {
	return &Entry{
		Window:  w,
		handles: make(map[wlshim.ClientID]ClientHandle),
		told:    make(map[wlshim.ClientID]map[string]bool),
	}
}

// Mirror is the Core-owned registry of foreign-toplevel mirror entries,
// one per non-override-redirect window.
type Mirror struct {
	log     zerolog.Logger
	entries map[window.ID]*Entry

	// subscribers remembers every client bound to the mirror protocol
	// so a window mapped after a client subscribes still gets mirrored
	// to it, not just the set that existed at subscribe time
	// (spec.md §4.7's "replay every current toplevel" only covers
	// bind-time otherwise).
	subscribers map[wlshim.ClientID]func(w *window.Window) ClientHandle
}

// New creates an empty Mirror.
func New(log zerolog.Logger) *Mirror {
	return &Mirror{
		log:         log.With().Str("component", "toplevelmirror").Logger(),
		entries:     make(map[window.ID]*Entry),
		subscribers: make(map[wlshim.ClientID]func(w *window.Window) ClientHandle),
	}
}

// Subscribe registers a new client handle for every currently-known
// toplevel, replaying their current state so a newly-bound client sees
// the full set, per spec.md §4.7. Windows tracked afterward are fanned
// out to client automatically.
func (m *Mirror) Subscribe(client wlshim.ClientID, newHandle func(w *window.Window) ClientHandle) {
	m.subscribers[client] = newHandle
	for _, e := range m.entries {
		h := newHandle(e.Window)
		e.handles[client] = h
		e.told[client] = make(map[string]bool)
		m.emitFull(e, client, h)
	}
}

func (m *Mirror) emitFull(e *Entry, client wlshim.ClientID, h ClientHandle) {
	h.Title(e.snapshot.Title)
	h.AppID(e.snapshot.AppID)
	h.State(e.snapshot.States)
	if e.snapshot.Output != "" {
		h.OutputEnter(e.snapshot.Output)
		e.told[client][e.snapshot.Output] = true
	}
	h.Done()
}

// Track begins mirroring w, creating an entry with a zero-value
// snapshot (no diff is emitted until the first Refresh) and attaching a
// handle for every client already subscribed to the mirror, per
// spec.md §4.7.
func (m *Mirror) Track(w *window.Window) *Entry {
	e := newEntry(w)
	m.entries[w.ID] = e
	for client, newHandle := range m.subscribers {
		h := newHandle(w)
		e.handles[client] = h
		e.told[client] = make(map[string]bool)
		m.emitFull(e, client, h)
	}
	return e
}

// Entry returns the mirror entry for id, if tracked.
func (m *Mirror) Entry(id window.ID) (*Entry, bool) {
	e, ok := m.entries[id]
	return e, ok
}

// Untrack removes w's entry, sending Closed to every subscribed handle
// first, per spec.md §4.7's purge step.
func (m *Mirror) Untrack(w *window.Window) {
	e, ok := m.entries[w.ID]
	if !ok {
		return
	}
	m.untrackEntry(w.ID, e)
}

func (m *Mirror) untrackEntry(id window.ID, e *Entry) {
	for _, h := range e.handles {
		h.Closed()
	}
	delete(m.entries, id)
}

// RequestFullscreen implements the foreign-toplevel fullscreen-on-output
// hint: it moves the window onto o's active tags (falling back to o's
// first tag if none are active) and sets it Fullscreen.
func (e *Entry) RequestFullscreen(o *output.Output) error {
	if o == nil {
		return fmt.Errorf("toplevelmirror: RequestFullscreen: nil output")
	}
	tags := o.Tags.Active()
	if len(tags) == 0 {
		first, ok := o.Tags.First()
		if !ok {
			return fmt.Errorf("toplevelmirror: RequestFullscreen: output %q has no tags", o.Name)
		}
		tags = []*tagset.Tag{first}
	}
	e.Window.SetTags(tags)
	e.Window.SetMode(window.Fullscreen)
	return nil
}

// pendingSnapshot computes what a window's snapshot should be right
// now. The Activated state is reported only for the given focused
// window id, per spec.md §4.7's narrowing of "activated" to a single
// window even though the protocol role permits more than one.
func pendingSnapshot(w *window.Window, focused window.ID, outputName string) Snapshot {
	return Snapshot{
		Title: w.Toplevel.Title(),
		AppID: w.Toplevel.AppID(),
		States: States{
			Maximized:  w.Mode() == window.Maximized,
			Fullscreen: w.Mode() == window.Fullscreen,
			Minimized:  w.Minimized(),
			Activated:  w.ID == focused,
		},
		Output: outputName,
	}
}

// Refresh recomputes every tracked window's snapshot and emits the
// changed fields, refreshing every window other than the focused one
// first so the focused window's Activated=true event follows any
// Activated=false on the previous holder, per spec.md §4.7.
func (m *Mirror) Refresh(windows []*window.Window, focused window.ID, outputFor func(*window.Window) string) {
	present := make(map[window.ID]bool, len(windows))
	for _, w := range windows {
		present[w.ID] = true
	}
	for id, e := range m.entries {
		if !present[id] {
			m.untrackEntry(id, e)
		}
	}

	var focusedEntry *Entry
	for _, w := range windows {
		e, ok := m.entries[w.ID]
		if !ok {
			continue
		}
		if w.ID == focused {
			focusedEntry = e
			continue
		}
		m.refreshOne(e, focused, outputFor(w))
	}
	if focusedEntry != nil {
		m.refreshOne(focusedEntry, focused, outputFor(focusedEntry.Window))
	}
}

func (m *Mirror) refreshOne(e *Entry, focused window.ID, outputName string) {
	next := pendingSnapshot(e.Window, focused, outputName)
	prev := e.snapshot
	if next == prev {
		return
	}
	e.snapshot = next

	for client, h := range e.handles {
		changed := false
		if next.Title != prev.Title {
			h.Title(next.Title)
			changed = true
		}
		if next.AppID != prev.AppID {
			h.AppID(next.AppID)
			changed = true
		}
		if !next.States.equal(prev.States) {
			h.State(next.States)
			changed = true
		}
		if next.Output != prev.Output {
			if prev.Output != "" && e.told[client][prev.Output] {
				h.OutputLeave(prev.Output)
				delete(e.told[client], prev.Output)
			}
			if next.Output != "" {
				h.OutputEnter(next.Output)
				e.told[client][next.Output] = true
			}
			changed = true
		}
		if changed {
			h.Done()
		}
	}
}
