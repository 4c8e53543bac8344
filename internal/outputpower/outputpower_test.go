// SPDX-License-Identifier: Unlicense OR MIT

package outputpower

import (
	"image"
	"testing"

	"github.com/rs/zerolog"

	"github.com/theeasternfurry/pinnacle/internal/backend"
	"github.com/theeasternfurry/pinnacle/internal/output"
	"github.com/theeasternfurry/pinnacle/internal/wlshim"
)

type fakeClient struct {
	id        wlshim.ClientID
	onDestroy []func()
}

func (c *fakeClient) ID() wlshim.ClientID { return c.id }
func (c *fakeClient) OnDestroy(f func())  { c.onDestroy = append(c.onDestroy, f) }
func (c *fakeClient) disconnect() {
	for _, f := range c.onDestroy {
		f()
	}
}

type fakeController struct {
	modes  []bool
	failed bool
}

func (c *fakeController) ModeChanged(powered bool) { c.modes = append(c.modes, powered) }
func (c *fakeController) Failed()                  { c.failed = true }

func newTestOutput(name string) *output.Output {
	return output.New(zerolog.Nop(), name, output.Mode{Size: image.Pt(1920, 1080), RefreshMHz: 60_000}, 1)
}

func TestAcquireRejectsSecondControllerFromSameClient(t *testing.T) {
	m := New(zerolog.Nop(), backend.NewHeadless())
	o := newTestOutput("eDP-1")
	client := &fakeClient{id: 1}

	if err := m.Acquire(o, client, &fakeController{}); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	second := &fakeController{}
	if err := m.Acquire(o, client, second); err == nil {
		t.Fatal("expected a second Acquire from the same client to fail")
	}
	if !second.failed {
		t.Fatal("expected the rejected controller to receive Failed")
	}
}

func TestClientDisconnectReleasesItsControllers(t *testing.T) {
	m := New(zerolog.Nop(), backend.NewHeadless())
	o := newTestOutput("eDP-1")
	client := &fakeClient{id: 1}
	ctrl := &fakeController{}

	if err := m.Acquire(o, client, ctrl); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	client.disconnect()

	if err := m.SetMode(o, true); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if len(ctrl.modes) != 0 {
		t.Fatalf("expected a released controller to receive no further events, got %v", ctrl.modes)
	}
}

func TestSetModeNotifiesLiveControllers(t *testing.T) {
	m := New(zerolog.Nop(), backend.NewHeadless())
	o := newTestOutput("eDP-1")
	client := &fakeClient{id: 1}
	ctrl := &fakeController{}

	if err := m.Acquire(o, client, ctrl); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := m.SetMode(o, true); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if len(ctrl.modes) != 1 || !ctrl.modes[0] {
		t.Fatalf("expected one powered-on event, got %v", ctrl.modes)
	}
}
