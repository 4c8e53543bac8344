// SPDX-License-Identifier: Unlicense OR MIT

package controlplane

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/theeasternfurry/pinnacle/internal/eventloop"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	loop := eventloop.New(zerolog.Nop(), 16)
	go loop.Run()
	t.Cleanup(loop.Stop)

	s := New(zerolog.Nop(), loop)
	dir := t.TempDir()
	path, err := s.Listen(dir, os.Getpid())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go s.Serve()
	t.Cleanup(s.Stop)
	return s, path
}

func dial(t *testing.T, path string) net.Conn {
	t.Helper()
	c, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func call(t *testing.T, c net.Conn, r *bufio.Reader, method string, params any) Response {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			t.Fatal(err)
		}
		raw = b
	}
	if err := writeFrame(c, Request{ID: 1, Method: method, Params: raw}); err != nil {
		t.Fatal(err)
	}
	frame, err := readFrame(r)
	if err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestDispatchRunsHandlerOnLoopAndReplies(t *testing.T) {
	s, path := newTestServer(t)
	s.Handle("Ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]string{"pong": "ok"}, nil
	})

	c := dial(t, path)
	r := bufio.NewReader(c)
	resp := call(t, c, r, "Ping", nil)
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	var result map[string]string
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result["pong"] != "ok" {
		t.Fatalf("got %v", result)
	}
}

func TestUnknownMethodReturnsError(t *testing.T) {
	s, path := newTestServer(t)
	_ = s
	c := dial(t, path)
	r := bufio.NewReader(c)
	resp := call(t, c, r, "Nonexistent.Method", nil)
	if resp.Error == "" {
		t.Fatal("expected an error for an unregistered method")
	}
}

func TestSignalEmitReachesSubscribedConnection(t *testing.T) {
	s, path := newTestServer(t)

	c1 := dial(t, path)
	r1 := bufio.NewReader(c1)
	// A no-op round trip to ensure the subscribe-on-connect goroutine
	// has registered before we emit.
	s.Handle("Noop", func(context.Context, json.RawMessage) (any, error) { return nil, nil })
	call(t, c1, r1, "Noop", nil)

	s.Emit("tag-active", map[string]bool{"active": true})

	frame, err := readFrame(r1)
	if err != nil {
		t.Fatal(err)
	}
	var push Push
	if err := json.Unmarshal(frame, &push); err != nil {
		t.Fatal(err)
	}
	if push.Kind != "tag-active" {
		t.Fatalf("got kind %q", push.Kind)
	}
}

func TestWindowRuleRequestQueuesUntilSubscribed(t *testing.T) {
	s, path := newTestServer(t)

	s.EmitWindowRuleRequest(map[string]string{"app_id": "foo"})

	c := dial(t, path)
	r := bufio.NewReader(c)
	if err := writeFrame(c, Request{ID: 1, Method: "WindowRules.Subscribe"}); err != nil {
		t.Fatal(err)
	}
	// The subscribe ack.
	if _, err := readFrame(r); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	var gotKind string
	go func() {
		frame, err := readFrame(r)
		if err == nil {
			var p Push
			json.Unmarshal(frame, &p)
			gotKind = p.Kind
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued window-rule request was never flushed after subscribe")
	}
	if gotKind != "window-rule-request" {
		t.Fatalf("got kind %q", gotKind)
	}
}
