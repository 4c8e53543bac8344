// SPDX-License-Identifier: Unlicense OR MIT

package window

import "image"

// Rule is a declarative set of overrides a configurator may apply to a
// window, either at map time (the rules gate) or, per the bidirectional
// streaming extension (SPEC_FULL.md §4), to an already-mapped window
// matching a predicate.
type Rule struct {
	Mode         *Mode
	FloatingGeom *image.Rectangle
	TagNames     []string
	Decoration   *DecorationMode
	Minimized    *bool
}

// Apply applies the non-nil fields of a Rule to a mapped Window. Tag
// name resolution is the caller's job (callers use ResolveTagNames
// against the window's output), since Rule itself only carries names.
func (r Rule) Apply(w *Window) {
	if r.Mode != nil {
		w.SetMode(*r.Mode)
	}
	if r.FloatingGeom != nil {
		w.SetFloatingGeometry(*r.FloatingGeom)
	}
	if r.Decoration != nil {
		w.SetDecoration(*r.Decoration)
	}
	if r.Minimized != nil {
		w.SetMinimized(*r.Minimized)
	}
}

// RuleGate is the window-rule gate invoked once per unmapped window,
// before its initial configure is sent. The configurator is asked (via
// internal/controlplane's window-rule stream) for a Rule to apply; Ask
// abstracts that round-trip so the core isn't coupled to the RPC layer.
type RuleGate struct {
	Ask func(u *Unmapped) (Rule, bool)
}

// Evaluate asks the gate for a rule and reports whether one was
// produced. Callers proceed to map the window whether or not a rule
// applies (a missing configurator must never stall mapping).
func (g *RuleGate) Evaluate(u *Unmapped) (Rule, bool) {
	if g == nil || g.Ask == nil {
		return Rule{}, false
	}
	return g.Ask(u)
}

// ApplyRuleNow applies rule to every currently-mapped window matching
// pred, the bidirectional rule-push extension from SPEC_FULL.md §4.
func ApplyRuleNow(windows []*Window, pred func(*Window) bool, rule Rule) []*Window {
	var matched []*Window
	for _, w := range windows {
		if pred(w) {
			rule.Apply(w)
			matched = append(matched, w)
		}
	}
	return matched
}
