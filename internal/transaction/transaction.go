// SPDX-License-Identifier: Unlicense OR MIT

// Package transaction groups pending window configures into atomic
// commit batches: a layout step is not visible until every participant
// has acked its serial, or a deadline forces it through.
package transaction

import (
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/theeasternfurry/pinnacle/internal/window"
)

// Participant is one (window, requested geometry, serial) tuple within
// a Transaction.
type Participant struct {
	Window   *window.Window
	Geometry image.Rectangle
	Serial   uint32

	satisfied bool
}

// Transaction is a set of outstanding configures that must be
// acknowledged before a layout step is applied atomically to the scene.
type Transaction struct {
	Output       string
	participants []*Participant
	deadline     time.Time
	applied      bool
}

// New creates a pending Transaction for the given output, due by
// deadline.
func New(outputName string, deadline time.Time, participants []*Participant) *Transaction {
	return &Transaction{Output: outputName, participants: participants, deadline: deadline}
}

// Participants returns the transaction's (window, geometry, serial)
// tuples.
func (t *Transaction) Participants() []*Participant {
	return t.participants
}

// Ready reports whether every participant has been satisfied.
func (t *Transaction) Ready() bool {
	for _, p := range t.participants {
		if !p.satisfied {
			return false
		}
	}
	return true
}

// Expired reports whether the transaction's deadline has passed as of
// now.
func (t *Transaction) Expired(now time.Time) bool {
	return !now.Before(t.deadline)
}

// Apply marks the transaction applied; Registry calls this once, when
// the transaction is either Ready or forced through by its deadline.
func (t *Transaction) Apply() {
	t.applied = true
}

// Applied reports whether Apply has been called.
func (t *Transaction) Applied() bool {
	return t.applied
}

// Registry is the layout engine's queue of pending transactions, one
// queue per output. Transactions are applied in FIFO order; a newer
// transaction for a window supersedes (drops) any older pending
// transaction's participation for that same window, per spec.md §3.
type Registry struct {
	log   zerolog.Logger
	deadline time.Duration

	pending map[string][]*Transaction // keyed by output name, oldest first
}

// NewRegistry creates an empty transaction registry. deadline is the
// wall-clock window a transaction is given to complete before it is
// forced through regardless of outstanding acks (spec.md §4.4 point 6;
// the exact value is an Open Question in spec.md §9 — DESIGN.md
// resolves it to 30ms, which core passes in).
func NewRegistry(log zerolog.Logger, deadline time.Duration) *Registry {
	return &Registry{
		log:      log.With().Str("component", "transaction").Logger(),
		deadline: deadline,
		pending:  make(map[string][]*Transaction),
	}
}

// Deadline returns the configured transaction deadline.
func (r *Registry) Deadline() time.Duration {
	return r.deadline
}

// Enqueue adds a new transaction to the output's pending queue, after
// dropping this window's participation from any transaction already
// queued for the same output (newer transactions supersede older ones).
func (r *Registry) Enqueue(now time.Time, outputName string, participants []*Participant) *Transaction {
	windows := make(map[*window.Window]bool, len(participants))
	for _, p := range participants {
		windows[p.Window] = true
	}

	queue := r.pending[outputName]
	for _, t := range queue {
		t.participants = filterOut(t.participants, windows)
	}

	txn := New(outputName, now.Add(r.deadline), participants)
	r.pending[outputName] = append(queue, txn)
	return txn
}

func filterOut(participants []*Participant, drop map[*window.Window]bool) []*Participant {
	kept := participants[:0]
	for _, p := range participants {
		if !drop[p.Window] {
			kept = append(kept, p)
		}
	}
	return kept
}

// Ack records that a window committed with the given acked serial,
// satisfying it in every pending transaction (for this window) whose
// serial is <= the acked serial. Per spec.md §4.4, stale/unknown serials
// are silently dropped rather than treated as an error.
func (r *Registry) Ack(outputName string, w *window.Window, ackedSerial uint32) {
	for _, t := range r.pending[outputName] {
		for _, p := range t.participants {
			if p.Window == w && p.Serial <= ackedSerial {
				p.satisfied = true
			}
		}
	}
}

// ApplyDue drains the front of the output's queue: it applies every
// contiguous transaction that is either Ready or has hit its deadline
// despite being unready — unresponsive participants in a forced
// transaction are simply elided, per spec.md §4.4 point 6. It
// returns the transactions applied, in order, for the caller to commit
// to the visible scene.
func (r *Registry) ApplyDue(now time.Time, outputName string) []*Transaction {
	queue := r.pending[outputName]
	var applied []*Transaction

	for len(queue) > 0 {
		t := queue[0]
		if t.Ready() {
			t.Apply()
			applied = append(applied, t)
			queue = queue[1:]
			continue
		}
		if t.Expired(now) {
			r.log.Warn().Str("output", outputName).Int("unresponsive", countUnsatisfied(t)).
				Msg("forcing transaction through at deadline")
			t.Apply()
			applied = append(applied, t)
			queue = queue[1:]
			continue
		}
		break
	}

	r.pending[outputName] = queue
	return applied
}

func countUnsatisfied(t *Transaction) int {
	n := 0
	for _, p := range t.participants {
		if !p.satisfied {
			n++
		}
	}
	return n
}

// Pending returns the number of transactions currently queued for an
// output.
func (r *Registry) Pending(outputName string) int {
	return len(r.pending[outputName])
}
