// SPDX-License-Identifier: Unlicense OR MIT

package backend

import (
	"image"
	"time"
)

// Headless is a test-dummy Device: unless RenderFunc overrides it, a
// render always succeeds, reporting NoDamage for empty damage and
// Presented otherwise; it records modes, VRR, power and gamma set on it,
// and never touches real hardware. It plays the role gio's gpu/headless backend plays for that
// toolkit — a backend implementation that exists purely so the rest of
// the system can be exercised without a GPU.
type Headless struct {
	Modes   map[string]image.Point
	VRR     map[string]bool
	Powered map[string]bool
	Gamma   map[string][][3]uint16

	RenderFunc func(output string, damage image.Rectangle) (RenderResult, time.Time, error)
}

// NewHeadless creates an empty Headless backend.
func NewHeadless() *Headless {
	return &Headless{
		Modes:   make(map[string]image.Point),
		VRR:     make(map[string]bool),
		Powered: make(map[string]bool),
		Gamma:   make(map[string][][3]uint16),
	}
}

func (h *Headless) Kind() Kind { return KindHeadless }

func (h *Headless) EarlyImport(bufferID uint64) error { return nil }

func (h *Headless) Render(output string, damage image.Rectangle) (RenderResult, time.Time, error) {
	if h.RenderFunc != nil {
		return h.RenderFunc(output, damage)
	}
	if damage.Empty() {
		return NoDamage, time.Now(), nil
	}
	return Presented, time.Now(), nil
}

func (h *Headless) SetMode(output string, size image.Point, refreshMHz int) error {
	h.Modes[output] = size
	return nil
}

func (h *Headless) SetVRR(output string, enabled bool) error {
	h.VRR[output] = enabled
	return nil
}

func (h *Headless) SetPowered(output string, on bool) error {
	h.Powered[output] = on
	return nil
}

func (h *Headless) GammaSize(output string) (int, error) {
	return 0, ErrGammaUnsupported
}

func (h *Headless) SetGamma(output string, ramps [][3]uint16) error {
	return ErrGammaUnsupported
}

func (h *Headless) DMABufImport(output string, bufferID uint64, notifier ImportNotifier) {}

func (h *Headless) ResetBuffers(output string) error {
	delete(h.Modes, output)
	return nil
}

var _ Device = (*Headless)(nil)
