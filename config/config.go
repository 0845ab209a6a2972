// Package config loads the core's YAML configuration and turns it into a
// StatesList.
//
// Values come from, in increasing priority: built-in defaults, the config
// file, PLURAL_EDITOR_* environment variables (PLURAL_EDITOR_TRANSPORT_ADDR for
// transport.addr) and command line flags bound by the caller.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/zhubert/plural-editor/extensions"
	"github.com/zhubert/plural-editor/extensions/audit"
	"github.com/zhubert/plural-editor/extensions/script"
	"github.com/zhubert/plural-editor/filesystem"
	"github.com/zhubert/plural-editor/paths"
	"github.com/zhubert/plural-editor/rpc"
	"github.com/zhubert/plural-editor/server"
	"github.com/zhubert/plural-editor/state"
	"github.com/zhubert/plural-editor/transport/httptransport"
)

// EnvPrefix prefixes environment variable overrides.
const EnvPrefix = "PLURAL_EDITOR"

// Filesystem kinds.
const (
	FSMemory = "memory"
	FSLocal  = "local"
)

// ErrConfigExists is returned by Save when the file exists and force is unset.
var ErrConfigExists = errors.New("config file already exists")

// Config is the whole configuration file.
type Config struct {
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Transport  TransportConfig  `mapstructure:"transport" yaml:"transport"`
	RPC        RPCConfig        `mapstructure:"rpc" yaml:"rpc"`
	Router     RouterConfig     `mapstructure:"router" yaml:"router"`
	Extensions ExtensionsConfig `mapstructure:"extensions" yaml:"extensions"`
	Tokens     []TokenConfig    `mapstructure:"tokens" yaml:"tokens,omitempty"`
	States     []StateConfig    `mapstructure:"states" yaml:"states,omitempty"`
}

// LogConfig configures the logger. File "" logs to the default log file,
// "-" logs to stderr.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file,omitempty"`
}

// TransportConfig configures the HTTP transport and the optional RPC socket.
type TransportConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	OriginPatterns  []string      `mapstructure:"origin_patterns" yaml:"origin_patterns,omitempty"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// Socket, when set, also serves JSON-RPC on this Unix socket path.
	Socket string `mapstructure:"socket" yaml:"socket,omitempty"`
}

// RPCConfig configures the RPC façade.
type RPCConfig struct {
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// RouterConfig configures the message router.
type RouterConfig struct {
	Buffer            int  `mapstructure:"buffer" yaml:"buffer"`
	ScopeStateUpdates bool `mapstructure:"scope_state_updates" yaml:"scope_state_updates"`
}

// ExtensionsConfig holds settings shared by every script extension.
type ExtensionsConfig struct {
	// Dir resolves relative extension paths. Empty uses paths.ExtensionsDir.
	Dir         string        `mapstructure:"dir" yaml:"dir,omitempty"`
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// TokenConfig grants a token access to every state or to the listed ones.
type TokenConfig struct {
	Token  string  `mapstructure:"token" yaml:"token"`
	All    bool    `mapstructure:"all" yaml:"all,omitempty"`
	States []uint8 `mapstructure:"states" yaml:"states,omitempty"`
}

// StateConfig describes one state.
type StateConfig struct {
	ID uint8 `mapstructure:"id" yaml:"id"`
	// Views is the initial views payload as a JSON document.
	Views       string             `mapstructure:"views" yaml:"views,omitempty"`
	Filesystems []FilesystemConfig `mapstructure:"filesystems" yaml:"filesystems,omitempty"`
	Extensions  []ExtensionConfig  `mapstructure:"extensions" yaml:"extensions,omitempty"`
}

// FilesystemConfig describes a named filesystem of a state.
type FilesystemConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	Kind string `mapstructure:"kind" yaml:"kind"`
	// Root is the directory served by a local filesystem.
	Root string `mapstructure:"root" yaml:"root,omitempty"`
	// Files seeds a memory filesystem.
	Files []SeedFile `mapstructure:"files" yaml:"files,omitempty"`
}

// SeedFile is a file written into a memory filesystem at startup.
type SeedFile struct {
	Path    string `mapstructure:"path" yaml:"path"`
	Content string `mapstructure:"content" yaml:"content"`
}

// ExtensionConfig loads either a script extension from Path or a built-in
// extension by name.
type ExtensionConfig struct {
	Path    string `mapstructure:"path" yaml:"path,omitempty"`
	Builtin string `mapstructure:"builtin" yaml:"builtin,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Transport: TransportConfig{
			Addr:            httptransport.DefaultAddr,
			ShutdownTimeout: 5 * time.Second,
		},
		RPC:        RPCConfig{CallTimeout: rpc.DefaultCallTimeout},
		Router:     RouterConfig{Buffer: server.DefaultBuffer},
		Extensions: ExtensionsConfig{CallTimeout: script.DefaultCallTimeout},
	}
}

// Starter returns Default plus one state with a seeded memory filesystem,
// the audit extension and a freshly generated token. It is what `init` writes.
func Starter() *Config {
	c := Default()
	c.Tokens = []TokenConfig{{Token: uuid.NewString(), All: true}}
	c.States = []StateConfig{{
		ID:    1,
		Views: `{}`,
		Filesystems: []FilesystemConfig{{
			Name:  "mem",
			Kind:  FSMemory,
			Files: []SeedFile{{Path: "/README.md", Content: "# Welcome to plural-editor\n"}},
		}},
		Extensions: []ExtensionConfig{{Builtin: audit.ID}},
	}}
	return c
}

// NewViper returns a viper instance carrying the defaults and the
// environment variable bindings.
func NewViper() *viper.Viper {
	d := Default()

	v := viper.New()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("transport.addr", d.Transport.Addr)
	v.SetDefault("transport.shutdown_timeout", d.Transport.ShutdownTimeout)
	v.SetDefault("transport.socket", d.Transport.Socket)
	v.SetDefault("rpc.call_timeout", d.RPC.CallTimeout)
	v.SetDefault("router.buffer", d.Router.Buffer)
	v.SetDefault("router.scope_state_updates", d.Router.ScopeStateUpdates)
	v.SetDefault("extensions.dir", d.Extensions.Dir)
	v.SetDefault("extensions.call_timeout", d.Extensions.CallTimeout)

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path into v and validates the result. An
// empty path uses paths.ConfigFilePath and tolerates its absence; an
// explicit path must exist.
func Load(v *viper.Viper, path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := paths.ConfigFilePath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &c, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Log.Level != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
			return fmt.Errorf("invalid log level: %s", c.Log.Level)
		}
	}
	if c.Router.Buffer < 0 {
		return fmt.Errorf("router buffer must not be negative: %d", c.Router.Buffer)
	}
	if c.RPC.CallTimeout < 0 || c.Transport.ShutdownTimeout < 0 || c.Extensions.CallTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	ids := make(map[uint8]bool)
	var roots []string
	for _, sc := range c.States {
		if ids[sc.ID] {
			return fmt.Errorf("duplicate state ID: %d", sc.ID)
		}
		ids[sc.ID] = true

		if sc.Views != "" && !json.Valid([]byte(sc.Views)) {
			return fmt.Errorf("state %d has invalid views JSON", sc.ID)
		}

		names := make(map[string]bool)
		for _, fc := range sc.Filesystems {
			if fc.Name == "" {
				return fmt.Errorf("state %d has a filesystem with empty name", sc.ID)
			}
			if names[fc.Name] {
				return fmt.Errorf("state %d has duplicate filesystem: %s", sc.ID, fc.Name)
			}
			names[fc.Name] = true

			switch fc.Kind {
			case FSMemory:
				if fc.Root != "" {
					return fmt.Errorf("memory filesystem %s of state %d cannot have a root", fc.Name, sc.ID)
				}
			case FSLocal:
				if fc.Root == "" {
					return fmt.Errorf("local filesystem %s of state %d has empty root", fc.Name, sc.ID)
				}
				if len(fc.Files) > 0 {
					return fmt.Errorf("local filesystem %s of state %d cannot be seeded", fc.Name, sc.ID)
				}
				if other, ok := findSameRoot(roots, fc.Root); ok {
					return fmt.Errorf("local filesystem %s of state %d shares its root with %s", fc.Name, sc.ID, other)
				}
				roots = append(roots, fc.Root)
			default:
				return fmt.Errorf("state %d filesystem %s has unknown kind: %q", sc.ID, fc.Name, fc.Kind)
			}
		}

		for _, ec := range sc.Extensions {
			if (ec.Path == "") == (ec.Builtin == "") {
				return fmt.Errorf("state %d extension needs exactly one of path or builtin", sc.ID)
			}
			if ec.Builtin != "" && ec.Builtin != audit.ID {
				return fmt.Errorf("state %d has unknown builtin extension: %s", sc.ID, ec.Builtin)
			}
		}
	}

	for _, tc := range c.Tokens {
		if tc.Token == "" {
			return fmt.Errorf("empty token found")
		}
		if tc.All == (len(tc.States) > 0) {
			return fmt.Errorf("token %s must set exactly one of all or states", redact(tc.Token))
		}
		for _, id := range tc.States {
			if !ids[id] {
				return fmt.Errorf("token %s references unknown state: %d", redact(tc.Token), id)
			}
		}
	}
	return nil
}

// Save writes the configuration as YAML to path. An existing file is only
// replaced when force is set.
func (c *Config) Save(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// Tokens are secrets.
	return os.WriteFile(path, data, 0600)
}

// TokenFlags converts the configured tokens.
func (c *Config) TokenFlags() []state.TokenFlags {
	flags := make([]state.TokenFlags, 0, len(c.Tokens))
	for _, tc := range c.Tokens {
		if tc.All {
			flags = append(flags, state.TokenAll(tc.Token))
		} else {
			flags = append(flags, state.TokenStates(tc.Token, tc.States...))
		}
	}
	return flags
}

// BuildStates creates the configured states with their filesystems and
// extensions. Extensions push messages to the core through sender.
func (c *Config) BuildStates(ctx context.Context, sender *extensions.Sender) (*state.StatesList, error) {
	list := state.NewStatesList()
	list.AddTokens(c.TokenFlags()...)

	for _, sc := range c.States {
		s, err := c.buildState(ctx, sc, sender)
		if err != nil {
			return nil, err
		}
		if err := list.AddState(s); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (c *Config) buildState(ctx context.Context, sc StateConfig, sender *extensions.Sender) (*state.State, error) {
	s := state.New(sc.ID, extensions.NewManager(sender))

	data := state.StateData{ID: sc.ID}
	if sc.Views != "" {
		data.Views = json.RawMessage(sc.Views)
	}
	s.Update(data)

	for _, fc := range sc.Filesystems {
		fsys, err := buildFilesystem(ctx, fc)
		if err != nil {
			return nil, fmt.Errorf("state %d: %w", sc.ID, err)
		}
		s.WithFilesystem(fc.Name, fsys)
	}

	for _, ec := range sc.Extensions {
		ext, manifest, err := c.buildExtension(ec, sender)
		if err != nil {
			return nil, fmt.Errorf("state %d: %w", sc.ID, err)
		}
		if err := s.LoadExtension(ext, manifest); err != nil {
			return nil, fmt.Errorf("state %d: %w", sc.ID, err)
		}
	}
	return s, nil
}

func buildFilesystem(ctx context.Context, fc FilesystemConfig) (filesystem.Filesystem, error) {
	switch fc.Kind {
	case FSLocal:
		if err := os.MkdirAll(fc.Root, 0755); err != nil {
			return nil, fmt.Errorf("failed to create filesystem root %s: %w", fc.Root, err)
		}
		return filesystem.NewLocal(fc.Root), nil
	case FSMemory:
		mem := filesystem.NewMemory()
		for _, f := range fc.Files {
			if err := mem.WriteFileByPath(ctx, f.Path, f.Content); err != nil {
				return nil, fmt.Errorf("failed to seed %s into %s: %w", f.Path, fc.Name, err)
			}
		}
		return mem, nil
	default:
		return nil, fmt.Errorf("unknown filesystem kind: %q", fc.Kind)
	}
}

func (c *Config) buildExtension(ec ExtensionConfig, sender *extensions.Sender) (extensions.Extension, extensions.ManifestInfo, error) {
	if ec.Builtin == audit.ID {
		ext := audit.New(0)
		return ext, extensions.ManifestFromInfo(ext.Info()), nil
	}

	dir, err := c.extensionDir(ec.Path)
	if err != nil {
		return nil, extensions.ManifestInfo{}, err
	}
	ext, err := script.Load(dir, sender, script.WithCallTimeout(c.Extensions.CallTimeout))
	if err != nil {
		return nil, extensions.ManifestInfo{}, err
	}
	return ext, ext.Manifest(), nil
}

func (c *Config) extensionDir(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	base := c.Extensions.Dir
	if base == "" {
		dir, err := paths.ExtensionsDir()
		if err != nil {
			return "", err
		}
		base = dir
	}
	return filepath.Join(base, p), nil
}

// redact keeps enough of a token to identify it in an error message.
func redact(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
