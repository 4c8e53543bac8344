// SPDX-License-Identifier: Unlicense OR MIT

package transaction

import (
	"image"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/theeasternfurry/pinnacle/internal/window"
	"github.com/theeasternfurry/pinnacle/internal/wlshim"
)

type fakeToplevel struct {
	id wlshim.SurfaceID
}

func (f *fakeToplevel) ID() wlshim.SurfaceID                     { return f.id }
func (f *fakeToplevel) Client() wlshim.ClientID                  { return 0 }
func (f *fakeToplevel) HasBuffer() bool                          { return true }
func (f *fakeToplevel) BufferSize() image.Point                  { return image.Point{} }
func (f *fakeToplevel) IsSubsurface() bool                       { return false }
func (f *fakeToplevel) SynchronizedSubsurface() bool             { return false }
func (f *fakeToplevel) Root() wlshim.Surface                     { return f }
func (f *fakeToplevel) SetBounds(image.Rectangle)                {}
func (f *fakeToplevel) Configure(image.Rectangle, wlshim.ToplevelStates) uint32 { return 0 }
func (f *fakeToplevel) AckedSerial() (uint32, bool)              { return 0, false }
func (f *fakeToplevel) Title() string                            { return "" }
func (f *fakeToplevel) AppID() string                            { return "" }
func (f *fakeToplevel) MinSize() (image.Point, bool)             { return image.Point{}, false }
func (f *fakeToplevel) MaxSize() (image.Point, bool)             { return image.Point{}, false }
func (f *fakeToplevel) OnDestroy(func())                         {}

func newTestWindow(id wlshim.SurfaceID) *window.Window {
	return window.New(&fakeToplevel{id: id})
}

func TestAckSatisfiesTransaction(t *testing.T) {
	reg := NewRegistry(zerolog.Nop(), 30*time.Millisecond)
	now := time.Unix(0, 0)
	w := newTestWindow(1)
	txn := reg.Enqueue(now, "eDP-1", []*Participant{{Window: w, Serial: 5}})

	reg.Ack("eDP-1", w, 5)
	if !txn.Ready() {
		t.Fatal("expected transaction to be ready after matching ack")
	}

	applied := reg.ApplyDue(now, "eDP-1")
	if len(applied) != 1 || applied[0] != txn {
		t.Fatalf("expected the transaction to be applied, got %v", applied)
	}
	if reg.Pending("eDP-1") != 0 {
		t.Fatalf("expected empty queue after apply, got %d", reg.Pending("eDP-1"))
	}
}

func TestStaleSerialDropped(t *testing.T) {
	reg := NewRegistry(zerolog.Nop(), 30*time.Millisecond)
	now := time.Unix(0, 0)
	w := newTestWindow(1)
	txn := reg.Enqueue(now, "eDP-1", []*Participant{{Window: w, Serial: 10}})

	// Ack with a serial older than what this transaction asked for.
	reg.Ack("eDP-1", w, 3)
	if txn.Ready() {
		t.Fatal("transaction should not be ready from a stale ack")
	}
}

func TestNewerTransactionSupersedesOlder(t *testing.T) {
	reg := NewRegistry(zerolog.Nop(), 30*time.Millisecond)
	now := time.Unix(0, 0)
	w := newTestWindow(1)

	old := reg.Enqueue(now, "eDP-1", []*Participant{{Window: w, Serial: 1}})
	reg.Enqueue(now, "eDP-1", []*Participant{{Window: w, Serial: 2}})

	if len(old.Participants()) != 0 {
		t.Fatalf("expected superseded transaction to drop its participant, got %d", len(old.Participants()))
	}
}

func TestDeadlineForcesTransactionThrough(t *testing.T) {
	reg := NewRegistry(zerolog.Nop(), 10*time.Millisecond)
	now := time.Unix(0, 0)
	w := newTestWindow(1)
	reg.Enqueue(now, "eDP-1", []*Participant{{Window: w, Serial: 1}})

	// Not ready, not yet expired.
	if applied := reg.ApplyDue(now.Add(5*time.Millisecond), "eDP-1"); len(applied) != 0 {
		t.Fatalf("expected no transactions applied before deadline, got %d", len(applied))
	}

	applied := reg.ApplyDue(now.Add(11*time.Millisecond), "eDP-1")
	if len(applied) != 1 {
		t.Fatalf("expected the unresponsive transaction to be forced through, got %d", len(applied))
	}
}
