// SPDX-License-Identifier: Unlicense OR MIT

// Package tagset implements named virtual desktops bound to a single
// output, and the active-set toggling rules that govern window
// visibility.
package tagset

import (
	"sync/atomic"

	"golang.org/x/exp/slices"
)

// ID uniquely identifies a Tag within a process lifetime.
type ID uint32

var nextID atomic.Uint32

func newID() ID {
	return ID(nextID.Add(1))
}

// Tag is a named virtual desktop bound to exactly one output.
type Tag struct {
	ID   ID
	Name string

	active  bool
	defunct bool
}

// Active reports whether the tag is currently active.
func (t *Tag) Active() bool {
	return t.active && !t.defunct
}

// Defunct reports whether the tag has been removed; a defunct tag is
// retained only long enough for any in-flight references to notice.
func (t *Tag) Defunct() bool {
	return t.defunct
}

// Set is the ordered list of tags bound to one output.
type Set struct {
	tags []*Tag
}

// Add creates len(names) fresh tags with monotonic ids and appends them.
// It returns the newly created tags in order.
func (s *Set) Add(names []string) []*Tag {
	created := make([]*Tag, 0, len(names))
	for _, n := range names {
		t := &Tag{ID: newID(), Name: n}
		s.tags = append(s.tags, t)
		created = append(created, t)
	}
	return created
}

// All returns the tags bound to this output, in insertion order.
func (s *Set) All() []*Tag {
	return s.tags
}

// First returns the first tag in the set, if any.
func (s *Set) First() (*Tag, bool) {
	if len(s.tags) == 0 {
		return nil, false
	}
	return s.tags[0], true
}

// Active returns the currently active tags, in insertion order.
func (s *Set) Active() []*Tag {
	var active []*Tag
	for _, t := range s.tags {
		if t.Active() {
			active = append(active, t)
		}
	}
	return active
}

// HasActive reports whether any tag in the set is active.
func (s *Set) HasActive() bool {
	for _, t := range s.tags {
		if t.Active() {
			return true
		}
	}
	return false
}

// Remove marks the given tags defunct and drops them from the set.
func (s *Set) Remove(tags []*Tag) {
	for _, rm := range tags {
		rm.defunct = true
	}
	s.tags = slices.DeleteFunc(s.tags, func(t *Tag) bool {
		return t.defunct
	})
}

// Contains reports whether t is bound to this set.
func (s *Set) Contains(t *Tag) bool {
	return slices.Contains(s.tags, t)
}

// ChangeResult reports whether SetActive/SwitchTo produced an observable
// change, so callers only emit signals and schedule renders on actual
// transitions.
type ChangeResult struct {
	Changed bool
}

// SetActive toggles a tag's active flag if wantActive is nil, or sets it
// to the given value. It reports whether the flag actually changed.
func SetActive(t *Tag, wantActive *bool) ChangeResult {
	want := !t.active
	if wantActive != nil {
		want = *wantActive
	}
	if want == t.active {
		return ChangeResult{Changed: false}
	}
	t.active = want
	return ChangeResult{Changed: true}
}

// SwitchTo atomically activates tag and deactivates every other tag on
// the same Set. It reports whether anything changed.
func (s *Set) SwitchTo(tag *Tag) ChangeResult {
	changed := false
	for _, t := range s.tags {
		want := t == tag
		if t.active != want {
			t.active = want
			changed = true
		}
	}
	return ChangeResult{Changed: changed}
}
