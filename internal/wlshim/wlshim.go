// SPDX-License-Identifier: Unlicense OR MIT

// Package wlshim declares the named interfaces the Wayland wire-protocol
// parser and bundled protocol handlers (SHM, DMA-BUF, data-device,
// pointer constraints, tablet, xdg-shell, layer-shell, ...) are assumed
// to provide. None of the wire parsing itself lives here or anywhere in
// this module: per spec.md §1, the protocol toolkit is a collaborator
// with a named interface only. internal/core talks exclusively to these
// interfaces; a real compositor toolkit implementation is wired in by
// the embedder.
package wlshim

import "image"

// SurfaceID identifies a wl_surface for the lifetime of the connection
// that created it.
type SurfaceID uint64

// ClientID identifies a connected Wayland client.
type ClientID uint64

// Surface is the toolkit's handle to a root or subordinate wl_surface.
type Surface interface {
	ID() SurfaceID
	Client() ClientID
	// HasBuffer reports whether a buffer is currently attached.
	HasBuffer() bool
	// BufferSize returns the surface's buffer size in surface-local
	// coordinates.
	BufferSize() image.Point
	// IsSubsurface reports whether this surface is a (possibly
	// synchronized) subsurface of another.
	IsSubsurface() bool
	// SynchronizedSubsurface reports whether commits to this
	// subsurface are held until the parent commits.
	SynchronizedSubsurface() bool
	// Root walks to this surface's root ancestor.
	Root() Surface
}

// Popup is a positioned transient surface parented to a root surface or
// another popup.
type Popup interface {
	Surface
	Parent() Surface
	// Reactive reports whether this popup repositions in response to
	// its parent's geometry changing.
	Reactive() bool
	Reposition(constraint image.Rectangle)
	SendConfigure(serial uint32, geom image.Rectangle)
}

// ClientHandle is the toolkit's handle to a connected client's
// connection, used to hook compositor-side per-client cleanup to
// disconnect independent of any single surface or toplevel destroy.
type ClientHandle interface {
	ID() ClientID
	// OnDestroy registers a callback invoked when the client
	// disconnects, explicitly or otherwise.
	OnDestroy(func())
}

// ToplevelHandle is the toolkit's handle to an xdg_toplevel (or an X11
// bridged toplevel).
type ToplevelHandle interface {
	Surface
	SetBounds(geom image.Rectangle)
	// Configure requests a new geometry/state and returns the serial
	// the client must ack.
	Configure(geom image.Rectangle, states ToplevelStates) uint32
	// AckedSerial returns the highest serial acked by the client as of
	// the most recent commit.
	AckedSerial() (uint32, bool)
	Title() string
	AppID() string
	MinSize() (image.Point, bool)
	MaxSize() (image.Point, bool)
	// OnDestroy registers a callback invoked when the client destroys
	// this toplevel, or disconnects without destroying it explicitly.
	OnDestroy(func())
}

// ToplevelStates is the set of xdg_toplevel states a configure may
// carry.
type ToplevelStates struct {
	Maximized  bool
	Fullscreen bool
	Activated  bool
	Resizing   bool
}

// LayerSurface is the toolkit's handle to a wlr-layer-shell surface.
type LayerSurface interface {
	Surface
	Layer() int
	Anchor() int
	ExclusiveZone() int
	SendInitialConfigure(serial uint32, size image.Point)
}

// CursorSurface is the client-set pointer cursor surface.
type CursorSurface interface {
	Surface
	HotspotDelta() image.Point
}
