// SPDX-License-Identifier: Unlicense OR MIT

package layout

import (
	"image"

	"github.com/theeasternfurry/pinnacle/internal/window"
)

// MasterStack is the default Algorithm: the first window fills a
// "master" column at MasterFactor of the available width, and the rest
// stack vertically in the remainder. A Capacity of zero means
// unbounded; a positive Capacity bounds how many windows get a slot,
// and the rest spill per spec.md §4.4.
type MasterStack struct {
	MasterFactor float64
	Capacity     int
	Gap          int
}

// NewMasterStack creates a MasterStack with a 50% master column, no gap,
// and unbounded capacity.
func NewMasterStack() *MasterStack {
	return &MasterStack{MasterFactor: 0.5, Capacity: 0}
}

// Arrange implements Algorithm.
func (m *MasterStack) Arrange(available image.Rectangle, windows []*window.Window) map[*window.Window]image.Rectangle {
	result := make(map[*window.Window]image.Rectangle, len(windows))
	if len(windows) == 0 {
		return result
	}

	capacity := len(windows)
	if m.Capacity > 0 && m.Capacity < capacity {
		capacity = m.Capacity
	}
	placed := windows[:capacity]

	if len(placed) == 1 {
		result[placed[0]] = inset(available, m.Gap)
		return result
	}

	factor := m.MasterFactor
	if factor <= 0 || factor >= 1 {
		factor = 0.5
	}
	masterWidth := int(float64(available.Dx()) * factor)

	masterRect := image.Rect(available.Min.X, available.Min.Y, available.Min.X+masterWidth, available.Max.Y)
	result[placed[0]] = inset(masterRect, m.Gap)

	stack := placed[1:]
	stackRect := image.Rect(available.Min.X+masterWidth, available.Min.Y, available.Max.X, available.Max.Y)
	h := stackRect.Dy() / len(stack)
	for i, w := range stack {
		y0 := stackRect.Min.Y + i*h
		y1 := y0 + h
		if i == len(stack)-1 {
			y1 = stackRect.Max.Y
		}
		rect := image.Rect(stackRect.Min.X, y0, stackRect.Max.X, y1)
		result[w] = inset(rect, m.Gap)
	}

	return result
}

func inset(r image.Rectangle, gap int) image.Rectangle {
	if gap <= 0 {
		return r
	}
	return r.Inset(gap)
}
