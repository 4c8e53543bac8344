// SPDX-License-Identifier: Unlicense OR MIT

// Command pinnacle is the compositor entrypoint: it resolves
// configuration, brings up a Core against a probed backend, and runs
// the event loop until a teardown signal arrives. It also hosts the
// `config`, `client`, `gen-completions`, and `debug` subcommands used
// to interact with a running instance or bootstrap a new config.
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/theeasternfurry/pinnacle/internal/backend"
	"github.com/theeasternfurry/pinnacle/internal/config"
	"github.com/theeasternfurry/pinnacle/internal/controlplane"
	"github.com/theeasternfurry/pinnacle/internal/core"
)

const tickInterval = 4 * time.Millisecond

var (
	flagConfigDir  string
	flagSocketDir  string
	flagNoConfig   bool
	flagNoXwayland bool
	flagSession    bool
	flagAllowRoot  bool
	flagLogLevel   string
)

func main() {
	root := newRootCmd()
	root.AddCommand(newConfigCmd(), newClientCmd(), newGenCompletionsCmd(), newDebugCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pinnacle",
		Short: "A tiling Wayland compositor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompositor(cmd.Context())
		},
	}
	cmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "directory containing pinnacle.toml (default: $PINNACLE_CONFIG_DIR, $XDG_CONFIG_HOME/pinnacle, or ~/.config/pinnacle)")
	cmd.PersistentFlags().StringVar(&flagSocketDir, "socket-dir", "", "directory for the control-plane socket (default: $XDG_RUNTIME_DIR or /tmp)")
	cmd.PersistentFlags().BoolVar(&flagNoConfig, "no-config", false, "do not spawn a configurator; run the built-in default configuration")
	cmd.PersistentFlags().BoolVar(&flagNoXwayland, "no-xwayland", false, "disable Xwayland support")
	cmd.PersistentFlags().BoolVar(&flagSession, "session", false, "run as a login-manager session (recorded in the resolved config; no logind registration is performed)")
	cmd.PersistentFlags().BoolVar(&flagAllowRoot, "allow-root", false, "allow running as root")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	return cmd
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

func runCompositor(ctx context.Context) error {
	log := newLogger()

	if !flagAllowRoot && os.Geteuid() == 0 {
		return fmt.Errorf("refusing to run as root without --allow-root")
	}

	cli := config.CLIOverrides{
		ConfigDir:  flagConfigDir,
		SocketDir:  flagSocketDir,
		NoConfig:   flagNoConfig,
		NoXwayland: flagNoXwayland,
		Session:    flagSession,
		AllowRoot:  flagAllowRoot,
	}
	dir := config.ConfigDir(cli.ConfigDir, os.Getenv)
	startup, err := config.LoadStartup(dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("failed to load pinnacle.toml, continuing with defaults")
	}
	resolved := config.Resolve(cli, startup, os.Getenv)

	dev, err := backend.Probe(
		[]backend.Kind{backend.KindDRM, backend.KindWindowed, backend.KindHeadless},
		func(k backend.Kind) (backend.Device, bool) {
			// Real DRM/KMS and windowed backends are out of scope (see
			// internal/backend's package doc); headless is always
			// available and is what every real deployment of this tree
			// currently probes down to.
			if k == backend.KindHeadless {
				return backend.NewHeadless(), true
			}
			return nil, false
		},
	)
	if err != nil {
		return fmt.Errorf("probing backend: %w", err)
	}
	log.Info().Str("backend", dev.Kind().String()).Msg("selected backend")

	c := core.New(log, dev)

	socketPath, err := c.Start(resolved, os.Getpid())
	if err != nil {
		return fmt.Errorf("starting core: %w", err)
	}
	log.Info().Str("socket", socketPath).Msg("control plane listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	go c.Loop.Run()

	// Shutdown must run as a closure on the loop; wait for it before
	// stopping the loop.
	shutdownOnLoop := func(c *core.Core) {
		done := make(chan struct{})
		c.Loop.Post("main:shutdown", func() {
			c.Shutdown()
			close(done)
		})
		<-done
		c.Loop.Stop()
	}

	for {
		select {
		case <-sigCh:
			log.Info().Msg("received shutdown signal")
			shutdownOnLoop(c)
			return nil
		case now := <-ticker.C:
			c.Loop.Post("main:tick", func() { c.Tick(now) })
		case <-ctx.Done():
			shutdownOnLoop(c)
			return ctx.Err()
		}
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or scaffold the startup configuration",
	}
	cmd.AddCommand(newConfigGenCmd())
	return cmd
}

func newConfigGenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen",
		Short: "Write a default pinnacle.toml to the config directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := config.ConfigDir(flagConfigDir, os.Getenv)
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("creating %s: %w", dir, err)
			}
			path := dir + "/pinnacle.toml"
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, refusing to overwrite", path)
			}
			const template = `# run is the configurator argv. Leave unset (or "builtin") to use the
# compositor's built-in default configuration instead of spawning one.
run = ["builtin"]

[envs]

# socket_dir overrides where the control-plane socket is created.
# socket_dir = "/run/user/1000"

no_config = false
no_xwayland = false
`
			if err := os.WriteFile(path, []byte(template), 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newGenCompletionsCmd() *cobra.Command {
	var shell string
	cmd := &cobra.Command{
		Use:   "gen-completions",
		Short: "Generate a shell completion script",
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			switch shell {
			case "bash":
				return root.GenBashCompletion(cmd.OutOrStdout())
			case "zsh":
				return root.GenZshCompletion(cmd.OutOrStdout())
			case "fish":
				return root.GenFishCompletion(cmd.OutOrStdout(), true)
			default:
				return fmt.Errorf("unknown shell %q (want bash, zsh, or fish)", shell)
			}
		},
	}
	cmd.Flags().StringVar(&shell, "shell", "bash", "shell to generate completions for (bash, zsh, fish)")
	return cmd
}

// rpcClient is a minimal synchronous caller for the `client` and
// `debug` subcommands: dial the control-plane socket, send one framed
// request, wait for the matching response.
func rpcClient(method string, params any) (controlplane.Response, error) {
	sock := os.Getenv(controlplane.EnvVar)
	if sock == "" {
		return controlplane.Response{}, fmt.Errorf("%s is not set; are you running this inside a configurator spawned by pinnacle?", controlplane.EnvVar)
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return controlplane.Response{}, fmt.Errorf("dialing %s: %w", sock, err)
	}
	defer conn.Close()

	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return controlplane.Response{}, err
		}
		raw = b
	}
	if err := writeClientFrame(conn, controlplane.Request{ID: 1, Method: method, Params: raw}); err != nil {
		return controlplane.Response{}, err
	}
	// Every connection is subscribed to signal pushes, so skip any frame
	// that is not the response to request 1.
	r := bufio.NewReader(conn)
	for {
		frame, err := readClientFrame(r)
		if err != nil {
			return controlplane.Response{}, err
		}
		var resp controlplane.Response
		if err := json.Unmarshal(frame, &resp); err != nil {
			return controlplane.Response{}, err
		}
		if resp.ID == 1 {
			return resp, nil
		}
	}
}

func writeClientFrame(w io.Writer, v any) error {
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

func readClientFrame(r *bufio.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	return buf, err
}

func newClientCmd() *cobra.Command {
	var method string
	var paramsJSON string
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Call a control-plane RPC method against a running compositor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if method == "" {
				return fmt.Errorf("--method is required")
			}
			var params any
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("parsing --params: %w", err)
				}
			}
			resp, err := rpcClient(method, params)
			if err != nil {
				return err
			}
			if resp.Error != "" {
				return fmt.Errorf("%s: %s", method, resp.Error)
			}
			if len(resp.Result) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), string(resp.Result))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "method", "", "RPC method name, e.g. Output.List")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "JSON-encoded request parameters")
	return cmd
}

func newDebugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Debug helpers for a running compositor",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "panic",
		Short: "Ask the running compositor to panic its event loop, exercising crash recovery",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := rpcClient("Debug.Panic", nil)
			if err != nil {
				return err
			}
			if resp.Error != "" {
				return fmt.Errorf("Debug.Panic: %s", resp.Error)
			}
			return nil
		},
	})
	return cmd
}
