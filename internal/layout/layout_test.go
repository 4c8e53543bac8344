// SPDX-License-Identifier: Unlicense OR MIT

package layout

import (
	"image"
	"testing"

	"github.com/theeasternfurry/pinnacle/internal/window"
	"github.com/theeasternfurry/pinnacle/internal/wlshim"
)

type fakeToplevel struct {
	id     wlshim.SurfaceID
	serial uint32
}

func (f *fakeToplevel) ID() wlshim.SurfaceID          { return f.id }
func (f *fakeToplevel) Client() wlshim.ClientID       { return 0 }
func (f *fakeToplevel) HasBuffer() bool               { return true }
func (f *fakeToplevel) BufferSize() image.Point       { return image.Point{} }
func (f *fakeToplevel) IsSubsurface() bool            { return false }
func (f *fakeToplevel) SynchronizedSubsurface() bool  { return false }
func (f *fakeToplevel) Root() wlshim.Surface          { return f }
func (f *fakeToplevel) SetBounds(image.Rectangle)     {}
func (f *fakeToplevel) Configure(image.Rectangle, wlshim.ToplevelStates) uint32 {
	f.serial++
	return f.serial
}
func (f *fakeToplevel) AckedSerial() (uint32, bool)  { return f.serial, true }
func (f *fakeToplevel) Title() string                { return "" }
func (f *fakeToplevel) AppID() string                { return "" }
func (f *fakeToplevel) MinSize() (image.Point, bool) { return image.Point{}, false }
func (f *fakeToplevel) MaxSize() (image.Point, bool) { return image.Point{}, false }
func (f *fakeToplevel) OnDestroy(func())             {}

func newTestWindow(id wlshim.SurfaceID) *window.Window {
	return window.New(&fakeToplevel{id: id})
}

func TestResizeTileAbsorbsAtScreenEdge(t *testing.T) {
	bounds := image.Rect(0, 0, 1920, 1080)
	r := image.Rect(0, 0, 960, 1080)

	// Try to grow the left edge past the screen edge: the delta
	// should be absorbed by the right edge instead.
	out := ResizeTile(bounds, r, -100, 0, 0, 0)
	if out.Min.X != 0 {
		t.Fatalf("left edge should stay pinned at 0, got %d", out.Min.X)
	}
	if out.Max.X != 1060 {
		t.Fatalf("expected right edge to absorb the overflow, got %d", out.Max.X)
	}
}

func TestResizeTileOrdinary(t *testing.T) {
	bounds := image.Rect(0, 0, 1920, 1080)
	r := image.Rect(100, 100, 900, 900)
	out := ResizeTile(bounds, r, 10, 20, -5, 15)
	want := image.Rect(110, 95, 920, 915)
	if out != want {
		t.Fatalf("got %v, want %v", out, want)
	}
}

func TestMasterStackSingleWindowFillsOutput(t *testing.T) {
	m := NewMasterStack()
	available := image.Rect(0, 0, 1920, 1080)
	w := newTestWindow(1)
	rects := m.Arrange(available, []*window.Window{w})
	if rects[w] != available {
		t.Fatalf("single window should fill the output, got %v", rects[w])
	}
}

func TestMasterStackSplitsMasterAndStack(t *testing.T) {
	m := NewMasterStack()
	available := image.Rect(0, 0, 1920, 1080)
	w1, w2, w3 := newTestWindow(1), newTestWindow(2), newTestWindow(3)
	rects := m.Arrange(available, []*window.Window{w1, w2, w3})

	if rects[w1].Dx() != 960 {
		t.Fatalf("master should take half the width, got %d", rects[w1].Dx())
	}
	if rects[w2].Dy() != 540 || rects[w3].Dy() != 540 {
		t.Fatalf("stack windows should split the remaining height evenly, got %v %v", rects[w2], rects[w3])
	}
}

func TestMasterStackCapacityOverflowSpills(t *testing.T) {
	m := &MasterStack{MasterFactor: 0.5, Capacity: 2}
	available := image.Rect(0, 0, 1920, 1080)
	w1, w2, w3 := newTestWindow(1), newTestWindow(2), newTestWindow(3)
	rects := m.Arrange(available, []*window.Window{w1, w2, w3})

	if _, ok := rects[w3]; ok {
		t.Fatal("third window should have no slot when capacity is 2")
	}
	if len(rects) != 2 {
		t.Fatalf("expected exactly 2 placed windows, got %d", len(rects))
	}
}
