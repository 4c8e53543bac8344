// SPDX-License-Identifier: Unlicense OR MIT

package sessionlock

import (
	"image"
	"testing"

	"github.com/rs/zerolog"

	"github.com/theeasternfurry/pinnacle/internal/output"
)

type fakeLocker struct {
	confirmed, denied bool
}

func (f *fakeLocker) Confirm() { f.confirmed = true }
func (f *fakeLocker) Deny()    { f.denied = true }

func newTestOutput(name string) *output.Output {
	return output.New(zerolog.Nop(), name, output.Mode{Size: image.Pt(1920, 1080), RefreshMHz: 60_000}, 1)
}

func TestLockBlanksOutputsBeforeConfirming(t *testing.T) {
	l := New(zerolog.Nop())
	o1, o2 := newTestOutput("A"), newTestOutput("B")
	locker := &fakeLocker{}

	if err := l.RequestLock(locker, []*output.Output{o1, o2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.State() != Locking {
		t.Fatalf("expected Locking, got %v", l.State())
	}
	if o1.Blanking() != output.Blanking || o2.Blanking() != output.Blanking {
		t.Fatal("expected both outputs to start blanking")
	}

	l.PollBlanking([]*output.Output{o1, o2})
	if locker.confirmed {
		t.Fatal("should not confirm until all outputs report Blanked")
	}

	o1.SetBlanking(output.Blanked)
	l.PollBlanking([]*output.Output{o1, o2})
	if locker.confirmed {
		t.Fatal("should not confirm with only one of two outputs blanked")
	}

	o2.SetBlanking(output.Blanked)
	l.PollBlanking([]*output.Output{o1, o2})
	if !locker.confirmed {
		t.Fatal("expected confirmation once all outputs are blanked")
	}
	if l.State() != Locked {
		t.Fatalf("expected Locked, got %v", l.State())
	}
}

func TestSecondLockRequestDeniedDuringLocking(t *testing.T) {
	l := New(zerolog.Nop())
	o := newTestOutput("A")
	first := &fakeLocker{}
	l.RequestLock(first, []*output.Output{o})

	second := &fakeLocker{}
	err := l.RequestLock(second, []*output.Output{o})
	if err == nil {
		t.Fatal("expected an error for a concurrent lock request")
	}
	if !second.denied {
		t.Fatal("expected the second locker to be denied")
	}
	if l.State() != Locking {
		t.Fatal("state must not change on a denied request")
	}
}

func TestUnlockResetsState(t *testing.T) {
	l := New(zerolog.Nop())
	o := newTestOutput("A")
	locker := &fakeLocker{}
	l.RequestLock(locker, []*output.Output{o})
	o.SetBlanking(output.Blanked)
	l.PollBlanking([]*output.Output{o})

	l.Unlock([]*output.Output{o})
	if l.State() != Unlocked {
		t.Fatalf("expected Unlocked, got %v", l.State())
	}
	if o.Blanking() != output.NotBlanked {
		t.Fatal("expected blanking reset on unlock")
	}
}
