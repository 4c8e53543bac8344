// SPDX-License-Identifier: Unlicense OR MIT

package window

import (
	"image"
	"testing"

	"github.com/theeasternfurry/pinnacle/internal/wlshim"
)

type fakeRuleToplevel struct {
	id    wlshim.SurfaceID
	appID string
}

func (f *fakeRuleToplevel) ID() wlshim.SurfaceID         { return f.id }
func (f *fakeRuleToplevel) Client() wlshim.ClientID      { return 1 }
func (f *fakeRuleToplevel) HasBuffer() bool              { return true }
func (f *fakeRuleToplevel) BufferSize() image.Point      { return image.Point{} }
func (f *fakeRuleToplevel) IsSubsurface() bool           { return false }
func (f *fakeRuleToplevel) SynchronizedSubsurface() bool { return false }
func (f *fakeRuleToplevel) Root() wlshim.Surface         { return f }
func (f *fakeRuleToplevel) SetBounds(image.Rectangle)    {}
func (f *fakeRuleToplevel) Configure(image.Rectangle, wlshim.ToplevelStates) uint32 {
	return 1
}
func (f *fakeRuleToplevel) AckedSerial() (uint32, bool)  { return 0, false }
func (f *fakeRuleToplevel) Title() string                { return "" }
func (f *fakeRuleToplevel) AppID() string                { return f.appID }
func (f *fakeRuleToplevel) MinSize() (image.Point, bool) { return image.Point{}, false }
func (f *fakeRuleToplevel) MaxSize() (image.Point, bool) { return image.Point{}, false }
func (f *fakeRuleToplevel) OnDestroy(func())             {}

func TestApplyRuleNowMatchesByPredicate(t *testing.T) {
	w1 := New(&fakeRuleToplevel{id: 1, appID: "foot"})
	w2 := New(&fakeRuleToplevel{id: 2, appID: "firefox"})

	floating := Floating
	rule := Rule{Mode: &floating}
	pred := func(w *Window) bool { return w.Toplevel.AppID() == "foot" }

	matched := ApplyRuleNow([]*Window{w1, w2}, pred, rule)

	if len(matched) != 1 || matched[0] != w1 {
		t.Fatalf("expected only w1 matched, got %v", matched)
	}
	if w1.Mode() != Floating {
		t.Fatalf("expected w1's mode applied, got %v", w1.Mode())
	}
	if w2.Mode() != Tiled {
		t.Fatalf("expected w2 left untouched, got %v", w2.Mode())
	}
}

func TestRuleGateEvaluateNilSafe(t *testing.T) {
	var g *RuleGate
	if _, ok := g.Evaluate(NewUnmapped(&fakeRuleToplevel{id: 1})); ok {
		t.Fatal("a nil gate must never produce a rule")
	}
}
