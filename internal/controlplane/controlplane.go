// SPDX-License-Identifier: Unlicense OR MIT

// Package controlplane implements the compositor's local-socket RPC
// server, per spec.md §4.9/§6: the configurator connects to a stream
// socket, sends framed requests, and the server turns each one into a
// closure applied on the event loop. Signal subscriptions and the
// bidirectional window-rule stream are long-lived connections the
// server pushes events down as they happen on the loop.
//
// The wire format is a length-prefixed JSON frame rather than a
// protobuf/gRPC service: see DESIGN.md for why. The socket naming
// (`pinnacle-grpc-<pid>.sock`, `PINNACLE_GRPC_SOCKET`) is kept as
// spec.md names them.
package controlplane

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/theeasternfurry/pinnacle/internal/eventloop"
)

// SocketName is the control-plane socket's filename, per spec.md §6.
func SocketName(pid int) string {
	return fmt.Sprintf("pinnacle-grpc-%d.sock", pid)
}

// EnvVar is the environment variable spawned configurators read to
// find the socket.
const EnvVar = "PINNACLE_GRPC_SOCKET"

// Request is one RPC call: Method names the service method (e.g.
// "Window.SetFullscreen"), Params is the method-specific payload.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request with the same ID.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Push is an unsolicited, server-initiated message: a signal emission
// or a window-rule event, sent down a connection with no matching
// request ID.
type Push struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Handler runs a Request's logic on the event loop and returns the
// value to marshal into the Response (or an error).
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Server accepts configurator connections and dispatches their
// requests onto loop.
type Server struct {
	log  zerolog.Logger
	loop *eventloop.Loop

	mu       sync.RWMutex
	handlers map[string]Handler

	listener   net.Listener
	socketPath string

	signals *signalRegistry
	rules   *ruleStream
}

// New creates a Server. Register handlers with Handle before Serve.
func New(log zerolog.Logger, loop *eventloop.Loop) *Server {
	return &Server{
		log:      log,
		loop:     loop,
		handlers: make(map[string]Handler),
		signals:  newSignalRegistry(),
		rules:    newRuleStream(),
	}
}

// Handle registers a method handler. Must be called before Serve.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Listen binds the control-plane socket under dir, removing a stale
// socket file left over from a previous run at the same path (there
// won't be one in practice since the name is PID-qualified, but a
// caller reusing a dir after an unclean exit should not fail to
// start).
func (s *Server) Listen(dir string, pid int) (socketPath string, err error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("controlplane: creating socket dir: %w", err)
	}
	path := filepath.Join(dir, SocketName(pid))
	if _, statErr := os.Stat(path); statErr == nil {
		if rmErr := os.Remove(path); rmErr != nil {
			return "", fmt.Errorf("controlplane: removing stale socket %s: %w", path, rmErr)
		}
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return "", fmt.Errorf("controlplane: binding %s: %w", path, err)
	}
	s.listener = l
	s.socketPath = path
	return path, nil
}

// Serve accepts connections until the listener is closed by Stop. It
// should run on its own goroutine; each accepted connection gets its
// own goroutine that posts each request onto the loop as a closure and
// waits for that closure's reply before reading the next request.
func (s *Server) Serve() {
	for {
		c, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.serveConn(c)
	}
}

// Stop closes the listener and removes the socket file, per spec.md
// §5's teardown step 4.
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.socketPath != "" {
		_ = os.Remove(s.socketPath)
	}
}

// outbound unifies signal/rule pushes and request responses into a
// single channel so exactly one goroutine ever writes to the
// connection, avoiding interleaved frame writes.
type outbound struct {
	push chan Push
	resp chan Response
}

func (s *Server) serveConn(c net.Conn) {
	defer c.Close()
	r := bufio.NewReader(c)

	out := &outbound{push: make(chan Push, 16), resp: make(chan Response, 16)}
	unsubSignals := s.signals.subscribeConn(out.push)
	defer unsubSignals()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case p, ok := <-out.push:
				if !ok {
					return
				}
				if err := writeFrame(c, p); err != nil {
					return
				}
			case resp := <-out.resp:
				if err := writeFrame(c, resp); err != nil {
					return
				}
			}
		}
	}()

	for {
		frame, err := readFrame(r)
		if err != nil {
			close(out.push)
			<-writeDone
			return
		}

		var req Request
		if err := json.Unmarshal(frame, &req); err != nil {
			s.log.Warn().Err(err).Msg("controlplane: malformed request frame")
			continue
		}

		if req.Method == "WindowRules.Subscribe" {
			s.rules.attach(out.push)
			out.resp <- Response{ID: req.ID}
			continue
		}

		s.dispatch(req, out)
	}
}

func (s *Server) dispatch(req Request, out *outbound) {
	s.mu.RLock()
	h, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		out.resp <- Response{ID: req.ID, Error: fmt.Sprintf("unknown method %q", req.Method)}
		return
	}

	reply := eventloop.NewReply[Response]()
	s.loop.Post(eventloop.Source("controlplane:"+req.Method), func() {
		resp := Response{ID: req.ID}
		defer func() {
			// A handler panic is recovered here, not just by the loop's
			// own recover, so this connection's reply always arrives
			// instead of hanging forever on out.resp <- <-reply.
			if r := recover(); r != nil {
				resp.Error = fmt.Sprintf("handler panicked: %v", r)
			}
			reply <- resp
		}()
		result, err := h(context.Background(), req.Params)
		if err != nil {
			resp.Error = err.Error()
		} else if result != nil {
			b, merr := json.Marshal(result)
			if merr != nil {
				resp.Error = merr.Error()
			} else {
				resp.Result = b
			}
		}
	})

	out.resp <- <-reply
}

// Emit fans a signal out to every subscribed connection, in
// registration order, synchronously — must be called from the loop
// goroutine, per spec.md §4's signal semantics.
func (s *Server) Emit(kind string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		s.log.Error().Err(err).Str("kind", kind).Msg("controlplane: failed to marshal signal payload")
		return
	}
	s.signals.emit(Push{Kind: kind, Data: b})
}

// EmitWindowRuleRequest pushes a window-rule evaluation request down
// the rule stream. If no configurator has subscribed yet, the request
// is queued per spec.md §9's re-entrancy rule and flushed the moment
// one does.
func (s *Server) EmitWindowRuleRequest(data any) {
	b, err := json.Marshal(data)
	if err != nil {
		s.log.Error().Err(err).Msg("controlplane: failed to marshal rule request")
		return
	}
	s.rules.push(Push{Kind: "window-rule-request", Data: b})
}

func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// signalRegistry tracks which connections want signal pushes, in
// registration order.
type signalRegistry struct {
	mu   sync.Mutex
	subs []chan Push
}

func newSignalRegistry() *signalRegistry {
	return &signalRegistry{}
}

func (r *signalRegistry) subscribeConn(ch chan Push) (unsubscribe func()) {
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, c := range r.subs {
			if c == ch {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

func (r *signalRegistry) emit(p Push) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- p:
		default:
			// A stalled configurator connection must not block signal
			// emission for the rest of the compositor's loop cycle.
		}
	}
}

// ruleStream holds the bidirectional window-rule channel: at most one
// configurator connection is attached at a time, and requests that
// arrive before attachment queue per spec.md §9.
type ruleStream struct {
	mu      sync.Mutex
	attached chan Push
	pending []Push
}

func newRuleStream() *ruleStream {
	return &ruleStream{}
}

func (r *ruleStream) attach(ch chan Push) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = ch
	for _, p := range r.pending {
		select {
		case ch <- p:
		default:
		}
	}
	r.pending = nil
}

func (r *ruleStream) push(p Push) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attached == nil {
		r.pending = append(r.pending, p)
		return
	}
	select {
	case r.attached <- p:
	default:
		r.pending = append(r.pending, p)
	}
}
