// SPDX-License-Identifier: Unlicense OR MIT

// Package backend declares the tagged-variant capability set the render
// scheduler and compositor core are polymorphic over, standing in for
// the DRM/KMS, windowed, and headless/test-dummy backends that are
// themselves out of scope (spec.md §1, §9).
package backend

import (
	"errors"
	"image"
	"time"
)

// Kind identifies which concrete backend is in use.
type Kind int

const (
	KindDRM Kind = iota
	KindWindowed
	KindHeadless
)

func (k Kind) String() string {
	switch k {
	case KindDRM:
		return "drm"
	case KindWindowed:
		return "windowed"
	case KindHeadless:
		return "headless"
	default:
		return "unknown"
	}
}

// RenderResult reports the outcome of an attempted frame render.
type RenderResult int

const (
	// Presented: the frame was submitted and will scan out.
	Presented RenderResult = iota
	// NoDamage: nothing changed; treat as presented to keep the frame
	// clock's pacing sane (spec.md §4.5).
	NoDamage
	// Skipped: the backend could not render this cycle (e.g. no free
	// buffer); the output stays scheduled for the next cycle.
	Skipped
)

// ImportNotifier reports dma-buf import failures back to the client
// that offered the buffer, per spec.md §7 ("report to client via the
// import notifier; do not degrade the session").
type ImportNotifier interface {
	NotifyImportFailed(reason string)
}

// Device is the minimal capability set a backend must expose. Real
// GLES/Vulkan rendering primitives, DRM/KMS modesetting, and GBM device
// enumeration are out of scope (spec.md §1); this interface is the only
// surface internal/core and internal/render see.
type Device interface {
	Kind() Kind

	// EarlyImport runs the backend's early dma-buf import hook at
	// surface-commit time, before the pipeline walks to the root
	// surface (spec.md §4.2 step 1).
	EarlyImport(bufferID uint64) error

	// Render asks the backend to composite and present the given
	// output's current scene.
	Render(output string, damage image.Rectangle) (RenderResult, time.Time, error)

	SetMode(output string, size image.Point, refreshMHz int) error
	SetVRR(output string, enabled bool) error
	SetPowered(output string, on bool) error

	GammaSize(output string) (int, error)
	SetGamma(output string, ramps [][3]uint16) error

	DMABufImport(output string, bufferID uint64, notifier ImportNotifier)

	// ResetBuffers releases any backend-owned buffers for an output,
	// used on teardown and on output removal.
	ResetBuffers(output string) error
}

// ErrGammaUnsupported is returned by SetGamma on a backend with no
// gamma hardware path; spec.md §7 says this is a logged no-op, not a
// propagated failure, so callers should treat it specially rather than
// surfacing it to the client.
var ErrGammaUnsupported = errors.New("backend: gamma control unsupported")

// Probe tries backends in the given priority order and returns the
// first that reports itself available, per SPEC_FULL.md §4's adoption
// of the original's backend-selection order (explicit override, DRM
// session, windowed, headless).
func Probe(order []Kind, available func(Kind) (Device, bool)) (Device, error) {
	for _, k := range order {
		if d, ok := available(k); ok {
			return d, nil
		}
	}
	return nil, errors.New("backend: no available backend in probe order")
}
