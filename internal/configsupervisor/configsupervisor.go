// SPDX-License-Identifier: Unlicense OR MIT

// Package configsupervisor spawns and watches the external
// configurator process, per spec.md §4.10: it pipes the child's
// stdout/stderr through log-line classification, detects the child
// exiting (a "crash" in compositor terms, whether or not the exit was
// clean), and falls back to a built-in no-op configurator when either
// the child fails to start or dies. A builtin crash is a programming
// error, not a recoverable event.
package configsupervisor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/theeasternfurry/pinnacle/internal/eventloop"
)

// State is the supervisor's current lifecycle phase.
type State int

const (
	// NotStarted means Start has not yet been called.
	NotStarted State = iota
	// RunningExternal means an external configurator child is alive.
	RunningExternal
	// RunningBuiltin means the built-in configurator is active, either
	// because no external command was configured or because the
	// external one crashed.
	RunningBuiltin
	// Crashed is a transient state between detecting a dead external
	// child and the restart-with-builtin closure running on the loop.
	Crashed
)

// Builtin is the no-op fallback configurator: a function run on its
// own goroutine that returns (or panics) when it's done reconfiguring
// compositor defaults. A panic is recovered and logged; nothing is
// posted back to the loop when it exits.
type Builtin func()

// Spawner starts the external configurator subprocess; split out of
// Supervisor so tests can substitute a fake.
type Spawner func(argv []string, envs map[string]string, dir string) (*exec.Cmd, io.ReadCloser, io.ReadCloser, error)

// DefaultSpawner starts argv[0] with argv[1:] as arguments, argv[0]'s
// environment extended by envs, and dir as the working directory,
// piping stdout/stderr for line classification.
func DefaultSpawner(argv []string, envs map[string]string, dir string) (*exec.Cmd, io.ReadCloser, io.ReadCloser, error) {
	if len(argv) == 0 {
		return nil, nil, nil, fmt.Errorf("configsupervisor: empty argv")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	// Run the configurator in its own process group so Stop can kill
	// any children it spawned along with it, rather than leaking them.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	for k, v := range envs {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, err
	}
	return cmd, stdout, stderr, nil
}

// Supervisor owns the lifecycle of the configurator, whether external
// or built-in. All of its exported state transitions happen on the
// eventloop.Loop it was built with; Spawn's line-reading goroutines
// only ever post closures back onto the loop.
type Supervisor struct {
	log    zerolog.Logger
	loop   *eventloop.Loop
	spawn  Spawner
	builtin Builtin

	mu      sync.Mutex
	state   State
	cmd     *exec.Cmd
	wg      sync.WaitGroup
	stopped bool

	// OnCrash is invoked (on the loop) after an external configurator
	// dies, before the builtin fallback starts, so the owner can reset
	// configurator-owned state first (spec.md §4.10's "clear state"
	// prelude).
	OnCrash func()
}

// New creates a Supervisor. builtin is the fallback configurator run
// in-process when no external command is usable.
func New(log zerolog.Logger, loop *eventloop.Loop, spawn Spawner, builtin Builtin) *Supervisor {
	return &Supervisor{log: log, loop: loop, spawn: spawn, builtin: builtin}
}

// State returns the supervisor's current phase.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the configured command, or the builtin fallback if
// argv names the builtin sentinel or the launch fails. dir is the
// configurator's working directory (the config dir); envs is merged
// over the supervisor process's own environment.
func (s *Supervisor) Start(argv []string, envs map[string]string, dir string, isBuiltinSentinel func([]string) bool) {
	if isBuiltinSentinel(argv) {
		s.startBuiltin()
		return
	}

	cmd, stdout, stderr, err := s.spawn(argv, envs, dir)
	if err != nil {
		s.log.Warn().Err(err).Strs("argv", argv).Msg("failed to start configurator, falling back to builtin")
		s.startBuiltin()
		return
	}

	s.mu.Lock()
	s.state = RunningExternal
	s.cmd = cmd
	s.mu.Unlock()

	s.log.Info().Strs("argv", argv).Msg("started external configurator")

	s.wg.Add(1)
	go s.pipeLines("stdout", stdout)
	s.wg.Add(1)
	go s.pipeLines("stderr", stderr)

	go func() {
		waitErr := cmd.Wait()
		s.wg.Wait()
		s.loop.Post("configsupervisor.exit", func() {
			s.handleExternalExit(waitErr)
		})
	}()
}

func (s *Supervisor) handleExternalExit(waitErr error) {
	s.mu.Lock()
	if s.state != RunningExternal || s.stopped {
		// Already torn down (Core shutdown raced the child exiting).
		s.mu.Unlock()
		return
	}
	s.state = Crashed
	s.mu.Unlock()

	s.log.Error().Err(waitErr).Msg("configurator crashed, falling back to builtin")
	if s.OnCrash != nil {
		s.OnCrash()
	}
	s.startBuiltin()
}

func (s *Supervisor) startBuiltin() {
	s.mu.Lock()
	s.state = RunningBuiltin
	s.cmd = nil
	s.mu.Unlock()

	if s.builtin == nil {
		return
	}

	s.log.Info().Msg("starting builtin configurator")
	go func() {
		defer func() {
			if r := recover(); r != nil {
				// A builtin crash is a programming error: surface it
				// loudly instead of looping restarts forever.
				s.log.Error().Interface("panic", r).Msg("builtin configurator panicked, this is a bug")
			}
		}()
		s.builtin()
	}()
}

// classify maps a configurator log line's leading whitespace-delimited
// token to a zerolog level, defaulting to info, per spec.md §4.10.
func classify(log zerolog.Logger, line string) {
	fields := strings.Fields(line)
	var tok string
	if len(fields) > 0 {
		tok = fields[0]
	}
	switch tok {
	case "WARN":
		log.Warn().Msg(line)
	case "ERROR", "FATAL":
		log.Error().Msg(line)
	case "DEBUG":
		log.Debug().Msg(line)
	default:
		log.Info().Msg(line)
	}
}

func (s *Supervisor) pipeLines(stream string, r io.ReadCloser) {
	defer s.wg.Done()
	scanner := bufio.NewScanner(r)
	log := s.log.With().Str("stream", stream).Logger()
	for scanner.Scan() {
		line := scanner.Text()
		classify(log, line)
	}
}

// Stop kills the external child, if any. It does not wait for the exit
// goroutine; the exit closure that goroutine posts sees the stopped flag
// and returns without restarting anything. Idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.stopped = true
	wasExternal := s.state == RunningExternal
	s.mu.Unlock()

	if !wasExternal || cmd == nil || cmd.Process == nil {
		return
	}
	// Kill the whole process group (negative pid), not just the direct
	// child, so a configurator that forked helpers doesn't leave them
	// behind.
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
	}
}
