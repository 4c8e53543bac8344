// SPDX-License-Identifier: Unlicense OR MIT

// Package eventloop implements the compositor's single-threaded
// cooperative event loop, per spec.md §5: everything that runs
// compositor state (surface commits, timers, socket reads, config
// supervisor callbacks) posts a closure onto a multi-producer channel,
// and a single goroutine drains and runs them one at a time, in
// arrival order, with no concurrent access to Core state.
package eventloop

import (
	"sync"

	"github.com/rs/zerolog"
)

// Source identifies where a posted closure originated, for logging a
// panic without needing to recover silently.
type Source string

// Closure is a unit of work posted onto the loop.
type Closure func()

// posted pairs a closure with the source that posted it.
type posted struct {
	from Source
	fn   Closure
}

// Loop drains closures posted from any goroutine and runs them on its
// own goroutine, one at a time. It is the compositor's only writer to
// shared state: nothing outside a Closure run by the Loop may touch
// Core-owned data structures.
type Loop struct {
	log zerolog.Logger

	queue chan posted
	stop  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	running bool
}

// New creates a Loop with the given posting backlog capacity. A
// backlog of 0 makes Post synchronous with Run's drain, which is fine
// for tests but would serialize producers in production; callers
// should size it to their expected burst (spec.md §5 doesn't mandate a
// number, so this is a construction-time choice, not a compositor
// invariant).
func New(log zerolog.Logger, backlog int) *Loop {
	return &Loop{
		log:   log,
		queue: make(chan posted, backlog),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Post enqueues fn to run on the loop goroutine. Safe to call from any
// goroutine, including from within a running Closure (it simply
// re-enters the queue for the next drain cycle). Post never blocks the
// caller against Run's lifecycle: if the loop has already stopped, fn
// is dropped rather than leaking a blocked sender.
func (l *Loop) Post(from Source, fn Closure) {
	select {
	case l.queue <- posted{from: from, fn: fn}:
	case <-l.stop:
		l.log.Debug().Str("source", string(from)).Msg("dropped closure posted after loop stop")
	}
}

// Run drains the queue until Stop is called. It returns once no more
// closures will be delivered. Exactly one goroutine should call Run;
// calling it twice concurrently is a programmer error.
func (l *Loop) Run() {
	l.mu.Lock()
	l.running = true
	l.mu.Unlock()

	defer close(l.done)
	for {
		select {
		case p := <-l.queue:
			l.runOne(p)
		case <-l.stop:
			// Drain whatever is already buffered before exiting, so a
			// Stop racing with a burst of Posts doesn't silently drop
			// work that was already accepted into the channel.
			for {
				select {
				case p := <-l.queue:
					l.runOne(p)
				default:
					return
				}
			}
		}
	}
}

func (l *Loop) runOne(p posted) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().
				Str("source", string(p.from)).
				Interface("panic", r).
				Msg("recovered panic in event loop closure")
		}
	}()
	p.fn()
}

// Stop signals Run to drain and exit, and blocks until it has. Safe to
// call from outside the loop goroutine only.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	close(l.stop)
	<-l.done
}

// Reply is a one-shot channel for a Closure to hand a value back to
// whatever goroutine posted it, used by the control plane for
// query-style RPCs that need a result (spec.md §4.9).
type Reply[T any] chan T

// NewReply creates a Reply with buffer 1, so the loop-side send never
// blocks on the requester having started its receive yet.
func NewReply[T any]() Reply[T] {
	return make(Reply[T], 1)
}
