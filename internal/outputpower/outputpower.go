// SPDX-License-Identifier: Unlicense OR MIT

// Package outputpower implements the per-output power-controller
// protocol: a client may acquire at most one controller per output,
// and SetMode fans the resulting power state out to every controller
// for that output.
package outputpower

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/theeasternfurry/pinnacle/internal/backend"
	"github.com/theeasternfurry/pinnacle/internal/output"
	"github.com/theeasternfurry/pinnacle/internal/wlshim"
)

// ErrControllerExists is returned when a client tries to acquire a
// second controller for an output it already holds one for
// (spec.md §7: "post failed/post_error on the offending
// resource; retain the rest of the session").
var ErrControllerExists = errors.New("outputpower: a controller already exists for this output")

// Controller is the per-client handle clients receive on successful
// acquisition.
type Controller interface {
	ModeChanged(powered bool)
	Failed()
}

// Manager tracks, per output, the live controllers acquired against it.
type Manager struct {
	log zerolog.Logger
	dev backend.Device

	controllers map[string][]*controllerEntry
}

type controllerEntry struct {
	client wlshim.ClientID
	handle Controller
}

// New creates an empty Manager driving dev.
func New(log zerolog.Logger, dev backend.Device) *Manager {
	return &Manager{log: log.With().Str("component", "outputpower").Logger(), dev: dev, controllers: make(map[string][]*controllerEntry)}
}

// Acquire registers a new controller for client against o. It fails the
// request (spec.md §4.8) if this client already holds one for this
// output. client's disconnect hook is wired to release every
// controller it holds, not just this one, so a client that vanishes
// without explicitly destroying its controllers still gets cleaned up
// (spec.md §4.8 / SPEC_FULL.md §4).
func (m *Manager) Acquire(o *output.Output, client wlshim.ClientHandle, handle Controller) error {
	for _, c := range m.controllers[o.Name] {
		if c.client == client.ID() {
			handle.Failed()
			return ErrControllerExists
		}
	}
	m.controllers[o.Name] = append(m.controllers[o.Name], &controllerEntry{client: client.ID(), handle: handle})
	client.OnDestroy(func() { m.ReleaseClient(client.ID()) })
	return nil
}

// SetMode powers o on/off via the backend and notifies every controller
// acquired against it with the resulting mode.
func (m *Manager) SetMode(o *output.Output, on bool) error {
	if err := m.dev.SetPowered(o.Name, on); err != nil {
		return err
	}
	o.SetPowered(on)
	for _, c := range m.controllers[o.Name] {
		c.handle.ModeChanged(on)
	}
	return nil
}

// Release removes a single controller on explicit destroy, without
// sending further events (a client's OnDestroy goes through
// ReleaseClient instead),
// per spec.md §4.8.
func (m *Manager) Release(o *output.Output, handle Controller) {
	list := m.controllers[o.Name]
	for i, c := range list {
		if c.handle == handle {
			m.controllers[o.Name] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// ReleaseOutput releases every controller for o, e.g. on output
// removal, without sending further events.
func (m *Manager) ReleaseOutput(o *output.Output) {
	delete(m.controllers, o.Name)
}

// ReleaseClient releases every controller a disconnecting client holds,
// across all outputs. Mirrors the original compositor's client-destroy
// cleanup for output-power resources.
func (m *Manager) ReleaseClient(client wlshim.ClientID) {
	for name, list := range m.controllers {
		filtered := list[:0]
		for _, c := range list {
			if c.client != client {
				filtered = append(filtered, c)
			}
		}
		m.controllers[name] = filtered
	}
}
