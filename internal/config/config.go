// SPDX-License-Identifier: Unlicense OR MIT

// Package config resolves the compositor's startup configuration from
// CLI overrides merged with the pinnacle.toml startup document, per
// spec.md §6.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// CLIOverrides holds the flags cmd/pinnacle parses with cobra/pflag.
type CLIOverrides struct {
	ConfigDir string
	SocketDir string
	NoConfig  bool
	NoXwayland bool
	Session   bool
	AllowRoot bool
}

// StartupConfig is the decoded pinnacle.toml document, per spec.md §6's
// table.
type StartupConfig struct {
	Run       []string          `toml:"run"`
	Envs      map[string]string `toml:"envs"`
	SocketDir string            `toml:"socket_dir"`
	NoConfig  bool              `toml:"no_config"`
	NoXwayland bool             `toml:"no_xwayland"`
}

// Resolved is the merged configuration the Core actually runs with.
type Resolved struct {
	Argv       []string
	Envs       map[string]string
	SocketDir  string
	NoConfig   bool
	NoXwayland bool
	Session    bool
	AllowRoot  bool
}

// BuiltinSentinel is the magic argv[0] the startup document (or default
// configuration) may use to request the built-in configurator instead
// of spawning an external process.
const BuiltinSentinel = "builtin"

// ConfigDir resolves the directory pinnacle.toml lives in, following
// spec.md §6's environment variable list: PINNACLE_CONFIG_DIR first,
// then XDG_CONFIG_HOME/pinnacle, then HOME/.config/pinnacle.
func ConfigDir(override string, env func(string) string) string {
	if override != "" {
		return override
	}
	if d := env("PINNACLE_CONFIG_DIR"); d != "" {
		return d
	}
	if d := env("XDG_CONFIG_HOME"); d != "" {
		return filepath.Join(d, "pinnacle")
	}
	return filepath.Join(env("HOME"), ".config", "pinnacle")
}

// SocketDir resolves the control-plane socket directory, in the
// priority order of spec.md §6: CLI flag, startup-config value, user
// runtime directory, /tmp.
func SocketDir(cliOverride, startupOverride string, env func(string) string) string {
	if cliOverride != "" {
		return cliOverride
	}
	if startupOverride != "" {
		return startupOverride
	}
	if d := env("XDG_RUNTIME_DIR"); d != "" {
		return d
	}
	return os.TempDir()
}

// LoadStartup reads and decodes pinnacle.toml from dir. A missing file
// is not an error — it resolves to the zero-value StartupConfig, which
// Resolve then treats as "no overrides".
func LoadStartup(dir string) (StartupConfig, error) {
	path := filepath.Join(dir, "pinnacle.toml")
	var cfg StartupConfig
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve merges CLI overrides with the startup document into the
// configuration the Core runs with. CLI flags win.
func Resolve(cli CLIOverrides, startup StartupConfig, env func(string) string) Resolved {
	r := Resolved{
		Argv:       startup.Run,
		Envs:       startup.Envs,
		SocketDir:  SocketDir(cli.SocketDir, startup.SocketDir, env),
		NoConfig:   cli.NoConfig || startup.NoConfig,
		NoXwayland: cli.NoXwayland || startup.NoXwayland,
		Session:    cli.Session,
		AllowRoot:  cli.AllowRoot,
	}
	if r.Envs == nil {
		r.Envs = make(map[string]string)
	}
	if len(r.Argv) == 0 {
		r.Argv = []string{BuiltinSentinel}
	}
	return r
}
