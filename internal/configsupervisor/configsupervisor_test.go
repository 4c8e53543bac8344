// SPDX-License-Identifier: Unlicense OR MIT

package configsupervisor

import (
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/theeasternfurry/pinnacle/internal/eventloop"
)

func newTestLoop() *eventloop.Loop {
	l := eventloop.New(zerolog.Nop(), 16)
	go l.Run()
	return l
}

func isBuiltin(argv []string) bool {
	return len(argv) == 1 && argv[0] == BuiltinSentinel
}

// BuiltinSentinel mirrors config.BuiltinSentinel without importing the
// config package, to keep this test independent of it.
const BuiltinSentinel = "builtin"

func TestBuiltinSentinelSkipsSpawn(t *testing.T) {
	loop := newTestLoop()
	defer loop.Stop()

	spawnCalled := make(chan struct{}, 1)
	spawn := func(argv []string, envs map[string]string, dir string) (*exec.Cmd, io.ReadCloser, io.ReadCloser, error) {
		spawnCalled <- struct{}{}
		return nil, nil, nil, nil
	}

	ran := make(chan struct{})
	s := New(zerolog.Nop(), loop, spawn, func() { close(ran) })
	s.Start([]string{BuiltinSentinel}, nil, "", isBuiltin)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("builtin was never invoked")
	}
	select {
	case <-spawnCalled:
		t.Fatal("spawn should not be called for the builtin sentinel")
	default:
	}
	if got := s.State(); got != RunningBuiltin {
		t.Fatalf("expected RunningBuiltin, got %v", got)
	}
}

func TestFailedSpawnFallsBackToBuiltin(t *testing.T) {
	loop := newTestLoop()
	defer loop.Stop()

	spawn := func(argv []string, envs map[string]string, dir string) (*exec.Cmd, io.ReadCloser, io.ReadCloser, error) {
		return nil, nil, nil, exec.ErrNotFound
	}

	ran := make(chan struct{})
	s := New(zerolog.Nop(), loop, spawn, func() { close(ran) })
	s.Start([]string{"nonexistent-configurator"}, nil, "", isBuiltin)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("expected builtin fallback after spawn failure")
	}
}

func TestExternalExitTriggersCrashCallbackAndBuiltin(t *testing.T) {
	loop := newTestLoop()
	defer loop.Stop()

	cmd := exec.Command("true")
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	spawn := func(argv []string, envs map[string]string, dir string) (*exec.Cmd, io.ReadCloser, io.ReadCloser, error) {
		go func() {
			stdoutW.Close()
			stderrW.Close()
		}()
		if err := cmd.Start(); err != nil {
			return nil, nil, nil, err
		}
		return cmd, stdoutR, stderrR, nil
	}

	crashed := make(chan struct{})
	builtinRan := make(chan struct{})
	s := New(zerolog.Nop(), loop, spawn, func() { close(builtinRan) })
	s.OnCrash = func() { close(crashed) }

	s.Start([]string{"true"}, nil, "", isBuiltin)

	select {
	case <-crashed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnCrash was never invoked after the external process exited")
	}
	select {
	case <-builtinRan:
	case <-time.After(2 * time.Second):
		t.Fatal("builtin fallback never ran after the crash")
	}
}
