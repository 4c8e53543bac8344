// SPDX-License-Identifier: Unlicense OR MIT

// Package surfacecommit implements the root-surface commit dispatcher:
// the single entry point every WL surface commit flows through, which
// resolves which compositor entities must react and schedules renders
// on the affected outputs. See spec.md §4.2.
package surfacecommit

import (
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/theeasternfurry/pinnacle/internal/backend"
	"github.com/theeasternfurry/pinnacle/internal/inputdispatch"
	"github.com/theeasternfurry/pinnacle/internal/layout"
	"github.com/theeasternfurry/pinnacle/internal/output"
	"github.com/theeasternfurry/pinnacle/internal/render"
	"github.com/theeasternfurry/pinnacle/internal/toplevelmirror"
	"github.com/theeasternfurry/pinnacle/internal/window"
	"github.com/theeasternfurry/pinnacle/internal/wlshim"
)

// RootCache maps a surface to the root surface it belongs to, updated
// on every commit walk (spec.md §4.2 step 3).
type RootCache struct {
	roots map[wlshim.SurfaceID]wlshim.Surface
}

// NewRootCache creates an empty root-surface cache.
func NewRootCache() *RootCache {
	return &RootCache{roots: make(map[wlshim.SurfaceID]wlshim.Surface)}
}

func (c *RootCache) set(s wlshim.Surface, root wlshim.Surface) {
	c.roots[s.ID()] = root
}

// Purge removes a surface's cache entry, on final surface destruction.
func (c *RootCache) Purge(s wlshim.Surface) {
	delete(c.roots, s.ID())
}

// SnapshotCapture captures a backend texture for a destroyed window's
// close animation.
type SnapshotCapture interface {
	Capture(w *window.Window) window.SnapshotTexture
}

// PopupIndex looks up popups parented to a given surface, for reactive
// repositioning (spec.md §4.2 step 4c).
type PopupIndex interface {
	PopupsParentedTo(s wlshim.Surface) []wlshim.Popup
}

// Deps bundles everything the commit pipeline needs from the rest of
// the Core; it is kept as a flat struct (rather than a god-object Core
// reference) so the pipeline can be tested against fakes.
type Deps struct {
	Log zerolog.Logger

	Windows  *window.Set
	Outputs  *output.Set
	RuleGate *window.RuleGate

	Dev       backend.Device
	Layout    *layout.Engine
	Scheduler *render.Scheduler

	Mirror *toplevelmirror.Mirror
	Focus  *inputdispatch.FocusStack

	Popups   PopupIndex
	Snapshot SnapshotCapture

	// FocusedOutput resolves the output that should receive a window
	// awaiting tag assignment, per spec.md §4.2 step 4a.
	FocusedOutput func() (*output.Output, bool)

	RequestLayout func(o *output.Output)
}

// Pipeline runs the commit dispatcher against a shared root cache.
type Pipeline struct {
	deps Deps
	root *RootCache
}

// New creates a commit Pipeline.
func New(deps Deps, root *RootCache) *Pipeline {
	return &Pipeline{deps: deps, root: root}
}

// HandleCommit is the entry point for any WL surface commit (spec.md
// §4.2). earlyImport and onCommitBuffer are the toolkit callbacks run
// unconditionally at step 1, before this function's own logic; the
// caller wires them since their implementation is entirely the
// toolkit's concern.
func (p *Pipeline) HandleCommit(s wlshim.Surface) {
	if s.IsSubsurface() && s.SynchronizedSubsurface() {
		// The parent's commit will propagate to this subsurface.
		return
	}

	root := s.Root()
	p.root.set(s, root)

	if root != s {
		// Only root commits run the rest of the pipeline; a
		// non-synchronized subsurface commit still updates the cache
		// (above) but defers everything else to when its root commits.
		return
	}

	p.handleUnmappedPath(root)
	p.handleMappedPath(root)
	p.handlePopupReactivity(root)

	affected := p.affectedOutputs(root)
	for _, o := range affected {
		p.deps.Scheduler.Schedule(o)
	}
}

func (p *Pipeline) handleUnmappedPath(root wlshim.Surface) {
	u, ok := p.deps.Windows.FindUnmapped(root.ID())
	if !ok {
		return
	}

	if root.HasBuffer() {
		p.mapNewWindow(u)
		return
	}

	if u.State() == window.WaitingForTags {
		p.tryAssignTags(u)
	}

	if o, ok := p.targetOutputFor(u); ok {
		root.(wlshim.ToplevelHandle).SetBounds(o.Geometry())
	}
}

// targetOutputFor resolves the output whose geometry should seed an
// unmapped toplevel's `bounds`, per spec.md §4.2 step 4a's final
// bullet ("update the toplevel bounds from the current output
// geometry").
func (p *Pipeline) targetOutputFor(u *window.Unmapped) (*output.Output, bool) {
	if o, ok := u.TargetOutput(); ok {
		return o, true
	}
	return p.deps.FocusedOutput()
}

// tryAssignTags implements spec.md §4.2 step 4a's tag-assignment
// bullet: prefer the window's target output, fall back to the focused
// output if it has any tags.
func (p *Pipeline) tryAssignTags(u *window.Unmapped) {
	var candidate *output.Output
	if o, ok := u.TargetOutput(); ok {
		candidate = o
	} else if o, ok := p.deps.FocusedOutput(); ok && !layout.HasZeroTags(o) {
		candidate = o
	}
	if candidate == nil {
		return
	}
	if layout.HasZeroTags(candidate) {
		return
	}
	u.SetTargetOutput(candidate)
	u.SetState(window.AwaitingRules)
	p.deps.RuleGate.Evaluate(u)
	u.SetState(window.ConfiguredAwaitingMap)
}

// mapNewWindow runs rules-before-map, binds tags, inserts the window
// into the mapped set, and issues an initial configure via a
// transaction, per spec.md §4.2 step 4a.
func (p *Pipeline) mapNewWindow(u *window.Unmapped) {
	o, ok := p.targetOutputFor(u)
	if !ok || layout.HasZeroTags(o) {
		// spec.md §7: layout with zero tags refuses to map; hold in
		// the unmapped pool.
		p.deps.Log.Warn().Msg("refusing to map window with zero available tags")
		return
	}

	first, _ := o.Tags.First()

	w := p.deps.Windows.Promote(u)
	w.AddTag(first)

	if rule, ok := p.deps.RuleGate.Evaluate(u); ok {
		rule.Apply(w)
		if tags := window.ResolveTagNames(o.Tags.All(), rule.TagNames); len(tags) > 0 {
			w.SetTags(tags)
		}
	}

	if p.deps.Mirror != nil {
		p.deps.Mirror.Track(w)
	}
	if p.deps.Focus != nil && w.ActivationToken().Valid(time.Now()) {
		p.deps.Focus.Raise(w)
	}

	p.deps.RequestLayout(o)
}

func (p *Pipeline) handleMappedPath(root wlshim.Surface) {
	w, ok := p.deps.Windows.FindMapped(root.ID())
	if !ok {
		return
	}
	if root.HasBuffer() {
		return
	}
	// Lost its buffer: unmap, detach from layout, request layout on
	// its (now former) output so remaining windows reflow.
	o := p.outputOf(w)
	if p.deps.Mirror != nil {
		p.deps.Mirror.Untrack(w)
	}
	if p.deps.Focus != nil {
		p.deps.Focus.Remove(w)
	}
	p.deps.Windows.Unmap(w)
	if o != nil {
		p.deps.RequestLayout(o)
	}
}

func (p *Pipeline) handlePopupReactivity(root wlshim.Surface) {
	if p.deps.Popups == nil {
		return
	}
	constraint := image.Rectangle{Max: root.BufferSize()}
	for _, popup := range p.deps.Popups.PopupsParentedTo(root) {
		if !popup.Reactive() {
			continue
		}
		popup.Reposition(constraint)
	}
}

// affectedOutputs computes which outputs need a render scheduled after
// this commit, per spec.md §4.2 step 5.
func (p *Pipeline) affectedOutputs(root wlshim.Surface) []*output.Output {
	if w, ok := p.deps.Windows.FindMapped(root.ID()); ok {
		if o := p.outputOf(w); o != nil {
			return []*output.Output{o}
		}
	}
	return nil
}

func (p *Pipeline) outputOf(w *window.Window) *output.Output {
	tag, ok := w.PrimaryTag()
	if !ok {
		return nil
	}
	for _, o := range p.deps.Outputs.All() {
		if o.Tags.Contains(tag) {
			return o
		}
	}
	return nil
}

// HandleDestroy is the destroy hook: it looks up the root, finds the
// owning window and output, asks the backend to capture a close-
// animation snapshot, and purges the root-surface cache, per spec.md
// §4.2's final paragraph.
func (p *Pipeline) HandleDestroy(s wlshim.Surface) {
	defer p.root.Purge(s)

	w, ok := p.deps.Windows.FindMapped(s.ID())
	if !ok {
		return
	}
	if p.deps.Snapshot != nil {
		w.SetSnapshot(p.deps.Snapshot.Capture(w))
	}
	o := p.outputOf(w)
	if p.deps.Mirror != nil {
		p.deps.Mirror.Untrack(w)
	}
	if p.deps.Focus != nil {
		p.deps.Focus.Remove(w)
	}
	p.deps.Windows.RemoveMapped(w)
	if o != nil {
		p.deps.RequestLayout(o)
	}
}
