// SPDX-License-Identifier: Unlicense OR MIT

// Package core wires every compositor subsystem together: the
// output/window/tag model, the commit pipeline, the layout/transaction/
// render chain, session lock, foreign-toplevel mirroring, output power,
// the configurator supervisor, and the control-plane socket, all driven
// off a single event loop. See spec.md §5.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/theeasternfurry/pinnacle/internal/backend"
	"github.com/theeasternfurry/pinnacle/internal/config"
	"github.com/theeasternfurry/pinnacle/internal/configsupervisor"
	"github.com/theeasternfurry/pinnacle/internal/controlplane"
	"github.com/theeasternfurry/pinnacle/internal/eventloop"
	"github.com/theeasternfurry/pinnacle/internal/inputdispatch"
	"github.com/theeasternfurry/pinnacle/internal/layout"
	"github.com/theeasternfurry/pinnacle/internal/output"
	"github.com/theeasternfurry/pinnacle/internal/outputpower"
	"github.com/theeasternfurry/pinnacle/internal/render"
	"github.com/theeasternfurry/pinnacle/internal/sessionlock"
	"github.com/theeasternfurry/pinnacle/internal/surfacecommit"
	"github.com/theeasternfurry/pinnacle/internal/tagset"
	"github.com/theeasternfurry/pinnacle/internal/toplevelmirror"
	"github.com/theeasternfurry/pinnacle/internal/transaction"
	"github.com/theeasternfurry/pinnacle/internal/window"
)

// transactionDeadline is the wall-clock budget a layout transaction gets
// before the registry forces it through with whatever participants have
// acked. spec.md §9 leaves the exact value open; 30ms is a little under
// two 60Hz frames (16.7ms each), long enough not to starve slow clients.
const transactionDeadline = 30 * time.Millisecond

// Core owns every piece of compositor state reachable from the event
// loop. Nothing outside a Closure run by Loop may read or write through
// it; see internal/eventloop's package doc.
type Core struct {
	log  zerolog.Logger
	Loop *eventloop.Loop

	Outputs *output.Set
	Windows *window.Set

	Dev backend.Device

	Txns      *transaction.Registry
	Layout    *layout.Engine
	Scheduler *render.Scheduler

	SessionLock *sessionlock.Lock
	Mirror      *toplevelmirror.Mirror
	OutputPower *outputpower.Manager

	Focus       *inputdispatch.FocusStack
	Pointer     *inputdispatch.PointerContents
	Constraints *inputdispatch.ConstraintSet

	RuleGate *window.RuleGate
	Commit   *surfacecommit.Pipeline

	ConfigSupervisor *configsupervisor.Supervisor
	Control          *controlplane.Server

	resolved config.Resolved
}

// New wires every subsystem against dev. The returned Core has no
// running goroutines yet; call Loop.Run to start the event loop and Start to
// bring up the control plane and configurator.
func New(log zerolog.Logger, dev backend.Device) *Core {
	loop := eventloop.New(log, 256)

	outputs := output.NewSet()
	windows := window.NewSet()

	txns := transaction.NewRegistry(log, transactionDeadline)
	layoutEngine := layout.NewEngine(log, layout.NewMasterStack(), txns)
	scheduler := render.NewScheduler(log, dev)

	c := &Core{
		log:         log,
		Loop:        loop,
		Outputs:     outputs,
		Windows:     windows,
		Dev:         dev,
		Txns:        txns,
		Layout:      layoutEngine,
		Scheduler:   scheduler,
		SessionLock: sessionlock.New(log),
		Mirror:      toplevelmirror.New(log),
		OutputPower: outputpower.New(log, dev),
		Focus:       &inputdispatch.FocusStack{},
		Pointer:     &inputdispatch.PointerContents{},
		Constraints: &inputdispatch.ConstraintSet{},
		RuleGate:    &window.RuleGate{},
	}

	deps := surfacecommit.Deps{
		Log:           log,
		Windows:       windows,
		Outputs:       outputs,
		RuleGate:      c.RuleGate,
		Dev:           dev,
		Layout:        layoutEngine,
		Scheduler:     scheduler,
		Mirror:        c.Mirror,
		Focus:         c.Focus,
		FocusedOutput: c.focusedOutput,
		RequestLayout: c.RequestLayoutAndRender,
	}
	c.Commit = surfacecommit.New(deps, surfacecommit.NewRootCache())

	return c
}

// focusedOutput resolves the output spec.md §4.2 step 4a calls "the
// focused output": the output holding the focused window's primary
// tag, falling back to the first enabled output.
func (c *Core) focusedOutput() (*output.Output, bool) {
	if w, ok := c.Focus.Top(); ok {
		if o := c.outputOf(w); o != nil {
			return o, true
		}
	}
	enabled := c.Outputs.Enabled()
	if len(enabled) == 0 {
		return nil, false
	}
	return enabled[0], true
}

func (c *Core) outputOf(w *window.Window) *output.Output {
	tag, ok := w.PrimaryTag()
	if !ok {
		return nil
	}
	for _, o := range c.Outputs.All() {
		if o.Tags.Contains(tag) {
			return o
		}
	}
	return nil
}

// RequestLayoutAndRender enqueues a layout transaction for o (if
// anything changed) and schedules a render on o right away, without
// waiting for the transaction to apply. Passed to surfacecommit as its
// RequestLayout hook.
func (c *Core) RequestLayoutAndRender(o *output.Output) {
	c.Layout.RequestLayout(time.Now(), o, c.Windows.Mapped())
	c.Scheduler.Schedule(o)
}

// SwitchTag exclusively activates tag on its output, per spec.md §4.3's
// switch_to operation, and reflows/reschedules only if the active set
// actually changed.
func (c *Core) SwitchTag(o *output.Output, tag *tagset.Tag) {
	if res := o.Tags.SwitchTo(tag); res.Changed {
		c.RequestLayoutAndRender(o)
	}
}

// SetTagActive implements spec.md §4.3's set_active(tag, Option<bool>):
// toggles if active is nil, sets it otherwise, and only reflows on an
// actual change.
func (c *Core) SetTagActive(o *output.Output, tag *tagset.Tag, active *bool) {
	if res := tagset.SetActive(tag, active); res.Changed {
		c.RequestLayoutAndRender(o)
	}
}

// AddTags creates tags on o and reflows, per spec.md §4.3's add
// operation.
func (c *Core) AddTags(o *output.Output, names []string) []*tagset.Tag {
	created := o.Tags.Add(names)
	c.RequestLayoutAndRender(o)
	return created
}

// RemoveTags retires tags from o, detaches them from every window that
// referenced them, and reflows, per spec.md §4.3's remove operation.
func (c *Core) RemoveTags(o *output.Output, tags []*tagset.Tag) {
	o.Tags.Remove(tags)
	for _, w := range c.Windows.Mapped() {
		for _, t := range tags {
			w.RemoveTag(t)
		}
	}
	c.RequestLayoutAndRender(o)
}

// Tick runs one loop cycle's worth of background work: apply any due
// layout transactions, drive the render scheduler, poll session-lock
// blanking progress, sync on-demand VRR, and refresh the foreign-
// toplevel mirror. Posted onto the loop at a fixed cadence by whatever
// drives the process's main loop (a timer, or piggy-backed on another
// event source).
func (c *Core) Tick(now time.Time) {
	for _, o := range c.Outputs.Enabled() {
		if changed := c.Layout.ApplyDue(now, o); len(changed) > 0 {
			c.Scheduler.Schedule(o)
		}
		render.SyncVRRDemand(o, c.Windows.Mapped())
	}

	c.Scheduler.Tick(now, c.Outputs.Enabled(), nil)
	c.SessionLock.PollBlanking(c.Outputs.Enabled())

	focused := window.ID(0)
	if w, ok := c.Focus.Top(); ok {
		focused = w.ID
	}
	c.Mirror.Refresh(c.Windows.Mapped(), focused, func(w *window.Window) string {
		if o := c.outputOf(w); o != nil {
			return o.Name
		}
		return ""
	})
}

// Start brings up the control-plane socket and the configurator
// process, per spec.md §6. resolved.SocketDir and pid determine the
// socket path; resolved carries the merged startup configuration.
func (c *Core) Start(resolved config.Resolved, pid int) (socketPath string, err error) {
	c.resolved = resolved

	c.Control = controlplane.New(c.log, c.Loop)
	c.registerControlPlaneHandlers()

	socketPath, err = c.Control.Listen(resolved.SocketDir, pid)
	if err != nil {
		return "", fmt.Errorf("core: starting control plane: %w", err)
	}
	go c.Control.Serve()

	if resolved.NoConfig {
		c.log.Info().Msg("no-config set, not starting a configurator")
		return socketPath, nil
	}

	envs := make(map[string]string, len(resolved.Envs)+1)
	for k, v := range resolved.Envs {
		envs[k] = v
	}
	envs[controlplane.EnvVar] = socketPath

	c.ConfigSupervisor = configsupervisor.New(c.log, c.Loop, configsupervisor.DefaultSpawner, c.runBuiltinConfigurator)
	c.ConfigSupervisor.OnCrash = c.clearConfigState
	c.ConfigSupervisor.Start(resolved.Argv, envs, "", func(argv []string) bool {
		return len(argv) == 1 && argv[0] == config.BuiltinSentinel
	})

	return socketPath, nil
}

// runBuiltinConfigurator is the fallback configurator: it applies the
// compositor's hardcoded defaults (nothing beyond what New already set
// up) and returns immediately, since there's nothing further the
// built-in policy needs to do beyond what the zero-value state already
// provides.
func (c *Core) runBuiltinConfigurator() {
	c.log.Info().Msg("builtin configurator active: compositor defaults only")
}

// clearConfigState is the supervisor's OnCrash hook, run before a
// replacement configurator starts. It only logs a warning: it does not
// clear debug flags, per-process envs or saved signals, and it leaves
// tags and input state alone.
func (c *Core) clearConfigState() {
	c.log.Warn().Msg("clearing configurator-owned state before restart")
}

func (c *Core) registerControlPlaneHandlers() {
	c.Control.Handle("Output.List", c.handleOutputList)
	c.Control.Handle("Window.List", c.handleWindowList)
	c.Control.Handle("Tag.SwitchTo", c.handleTagSwitchTo)
	c.Control.Handle("Tag.SetActive", c.handleTagSetActive)
	c.Control.Handle("Process.Spawn", c.handleProcessSpawn)
	c.Control.Handle("Debug.Panic", c.handleDebugPanic)
	c.Control.Handle("WindowRules.ApplyNow", c.handleWindowRulesApplyNow)
	c.Control.Handle("Mirror.RequestFullscreen", c.handleMirrorRequestFullscreen)
}

type outputInfo struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Powered bool   `json:"powered"`
}

func (c *Core) handleOutputList(ctx context.Context, params json.RawMessage) (any, error) {
	var infos []outputInfo
	for _, o := range c.Outputs.All() {
		infos = append(infos, outputInfo{Name: o.Name, Enabled: o.Enabled(), Powered: o.Powered()})
	}
	return infos, nil
}

type windowInfo struct {
	ID      uint64 `json:"id"`
	Title   string `json:"title"`
	AppID   string `json:"app_id"`
	Mode    string `json:"mode"`
	Focused bool   `json:"focused"`
}

func (c *Core) handleWindowList(ctx context.Context, params json.RawMessage) (any, error) {
	var infos []windowInfo
	for _, w := range c.Windows.Mapped() {
		infos = append(infos, windowInfo{
			ID:      uint64(w.ID),
			Title:   w.Toplevel.Title(),
			AppID:   w.Toplevel.AppID(),
			Mode:    w.Mode().String(),
			Focused: w.Focused(),
		})
	}
	return infos, nil
}

type tagRequest struct {
	Output string `json:"output"`
	Tag    string `json:"tag"`
	Active *bool  `json:"active,omitempty"`
}

func (c *Core) handleTagSwitchTo(ctx context.Context, params json.RawMessage) (any, error) {
	_, o, tag, err := c.resolveTagRequest(params)
	if err != nil {
		return nil, err
	}
	c.SwitchTag(o, tag)
	return nil, nil
}

func (c *Core) handleTagSetActive(ctx context.Context, params json.RawMessage) (any, error) {
	req, o, tag, err := c.resolveTagRequest(params)
	if err != nil {
		return nil, err
	}
	c.SetTagActive(o, tag, req.Active)
	return nil, nil
}

func (c *Core) resolveTagRequest(params json.RawMessage) (tagRequest, *output.Output, *tagset.Tag, error) {
	var req tagRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return req, nil, nil, err
	}
	o, ok := c.Outputs.ByName(req.Output)
	if !ok {
		return req, nil, nil, fmt.Errorf("core: unknown output %q", req.Output)
	}
	for _, t := range o.Tags.All() {
		if t.Name == req.Tag {
			return req, o, t, nil
		}
	}
	return req, nil, nil, fmt.Errorf("core: unknown tag %q on output %q", req.Tag, req.Output)
}

type processSpawnRequest struct {
	Argv []string          `json:"argv"`
	Envs map[string]string `json:"envs,omitempty"`
}

// handleProcessSpawn implements the control plane's process-spawning
// service (spec.md §6): the configurator asks the compositor to start
// an arbitrary process on its behalf, inheriting the compositor's
// environment extended by the request's envs. The child's stdin, stdout
// and stderr are not connected (they go to the null device) and no other
// fds are piped.
func (c *Core) handleProcessSpawn(ctx context.Context, params json.RawMessage) (any, error) {
	var req processSpawnRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}
	if len(req.Argv) == 0 {
		return nil, fmt.Errorf("core: empty argv in Process.Spawn")
	}
	cmd := exec.Command(req.Argv[0], req.Argv[1:]...)
	if len(req.Envs) > 0 {
		cmd.Env = os.Environ()
	}
	for k, v := range req.Envs {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go cmd.Wait()
	return map[string]int{"pid": cmd.Process.Pid}, nil
}

type windowRuleApplyNowRequest struct {
	AppID         *string `json:"app_id,omitempty"`
	TitleContains *string `json:"title_contains,omitempty"`

	Mode         *string          `json:"mode,omitempty"`
	FloatingGeom *image.Rectangle `json:"floating_geom,omitempty"`
	TagNames     []string         `json:"tag_names,omitempty"`
	Decoration   *string          `json:"decoration,omitempty"`
	Minimized    *bool            `json:"minimized,omitempty"`
}

// handleWindowRulesApplyNow implements the bidirectional window-rule
// streaming extension (SPEC_FULL.md §4): the configurator pushes a rule
// to apply to every already-mapped window matching a predicate, rather
// than only gating newly-mapped ones. Tag names are resolved against
// each matched window's own output, since Rule.Apply deliberately
// leaves that to the caller.
func (c *Core) handleWindowRulesApplyNow(ctx context.Context, params json.RawMessage) (any, error) {
	var req windowRuleApplyNowRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}
	if req.AppID == nil && req.TitleContains == nil {
		return nil, fmt.Errorf("core: WindowRules.ApplyNow requires app_id or title_contains")
	}

	pred := func(w *window.Window) bool {
		if req.AppID != nil && w.Toplevel.AppID() != *req.AppID {
			return false
		}
		if req.TitleContains != nil && !strings.Contains(w.Toplevel.Title(), *req.TitleContains) {
			return false
		}
		return true
	}

	rule := window.Rule{FloatingGeom: req.FloatingGeom, Minimized: req.Minimized}
	if req.Mode != nil {
		m, ok := window.ParseMode(*req.Mode)
		if !ok {
			return nil, fmt.Errorf("core: unknown mode %q", *req.Mode)
		}
		rule.Mode = &m
	}
	if req.Decoration != nil {
		switch *req.Decoration {
		case "server":
			d := window.DecorationServerSide
			rule.Decoration = &d
		case "client":
			d := window.DecorationClientSide
			rule.Decoration = &d
		default:
			return nil, fmt.Errorf("core: unknown decoration mode %q", *req.Decoration)
		}
	}

	matched := window.ApplyRuleNow(c.Windows.Mapped(), pred, rule)

	affected := make(map[*output.Output]bool)
	for _, w := range matched {
		if o := c.outputOf(w); o != nil {
			if len(req.TagNames) > 0 {
				if tags := window.ResolveTagNames(o.Tags.All(), req.TagNames); len(tags) > 0 {
					w.SetTags(tags)
				}
			}
			affected[o] = true
		}
	}
	for o := range affected {
		c.RequestLayoutAndRender(o)
	}

	return map[string]int{"matched": len(matched)}, nil
}

type mirrorRequestFullscreenRequest struct {
	WindowID uint64 `json:"window_id"`
	Output   string `json:"output"`
}

// handleMirrorRequestFullscreen implements the foreign-toplevel
// fullscreen-on-output hint (SPEC_FULL.md §4): a client asks, via the
// control plane standing in for the real mirror wire protocol, that one
// of its mirrored toplevels go fullscreen on a named output.
func (c *Core) handleMirrorRequestFullscreen(ctx context.Context, params json.RawMessage) (any, error) {
	var req mirrorRequestFullscreenRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}
	entry, ok := c.Mirror.Entry(window.ID(req.WindowID))
	if !ok {
		return nil, fmt.Errorf("core: unknown mirrored window %d", req.WindowID)
	}
	o, ok := c.Outputs.ByName(req.Output)
	if !ok {
		return nil, fmt.Errorf("core: unknown output %q", req.Output)
	}
	if err := entry.RequestFullscreen(o); err != nil {
		return nil, err
	}
	c.RequestLayoutAndRender(o)
	return nil, nil
}

// handleDebugPanic deliberately panics on the loop goroutine. It exists
// so operators can exercise panic recovery against a live instance
// instead of only in tests; the control plane's dispatch closure
// recovers the panic and answers the request with an error.
func (c *Core) handleDebugPanic(ctx context.Context, params json.RawMessage) (any, error) {
	panic("core: deliberate panic requested via Debug.Panic")
}

// Shutdown runs the teardown sequence from spec.md §5: abort the
// config child, reset gamma on every output, remove the socket file,
// and tell every foreign-toplevel mirror subscriber its windows are
// gone. The caller is responsible for calling Loop.Stop afterward,
// since Shutdown itself must run as a closure on the loop.
func (c *Core) Shutdown() {
	if c.ConfigSupervisor != nil {
		c.ConfigSupervisor.Stop()
	}

	for _, o := range c.Outputs.All() {
		if size, err := c.Dev.GammaSize(o.Name); err == nil && size > 0 {
			if err := c.Dev.SetGamma(o.Name, nil); err != nil {
				c.log.Warn().Err(err).Str("output", o.Name).Msg("failed to reset gamma on teardown")
			}
		}
		_ = c.Dev.ResetBuffers(o.Name)
	}

	if c.Control != nil {
		c.Control.Stop()
	}

	for _, w := range c.Windows.Mapped() {
		c.Mirror.Untrack(w)
	}
}
