package core

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Protocol selects the request envelope shape.
type Protocol string

const (
	// ProtocolVariadic sends {type:"run", args:[env, ...extra]}.
	ProtocolVariadic Protocol = "variadic"
	// ProtocolSingle sends {type:"run", value:env}.
	ProtocolSingle Protocol = "single"
)

// Valid reports whether p names a known protocol.
func (p Protocol) Valid() bool {
	return p == ProtocolVariadic || p == ProtocolSingle
}

// Mode selects how worker program addresses are spelled.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// BuildConfig holds settings for one build session.
type BuildConfig struct {
	ImportSource     string            `toml:"import_source"`     // specifier user code imports spawn from
	RuntimeSpecifier string            `toml:"runtime_specifier"` // address of the runtime class module
	Mode             Mode              `toml:"mode"`
	Protocol         Protocol          `toml:"protocol"`
	AssetsDir        string            `toml:"assets_dir"`
	Precompress      bool              `toml:"precompress"` // write .br siblings for emitted assets
	CacheDB          string            `toml:"cache_db"`    // sqlite artifact cache; empty keeps artifacts in memory
	Aliases          map[string]string `toml:"aliases"`     // import specifier prefix rewrites
}

// RuntimeConfig holds settings for worker contexts.
type RuntimeConfig struct {
	MemoryLimitMB    int      `toml:"memory_limit_mb"`   // per-context memory limit
	ExecutionTimeout int      `toml:"execution_timeout"` // milliseconds a worker may take to reply
	MaxMessageBytes  int      `toml:"max_message_bytes"` // cap on encoded message size
	Protocol         Protocol `toml:"-"`
}

// Timeout returns ExecutionTimeout as a duration. A negative setting
// disables the watchdog and yields zero.
func (c RuntimeConfig) Timeout() time.Duration {
	if c.ExecutionTimeout <= 0 {
		return 0
	}
	return time.Duration(c.ExecutionTimeout) * time.Millisecond
}

// Config is the full configuration, as read from a spawn.toml file.
type Config struct {
	Build   BuildConfig   `toml:"build"`
	Runtime RuntimeConfig `toml:"runtime"`
}

// Default addresses for the virtual modules a session serves.
const (
	DefaultImportSource = "js-spawn"
	VirtualPrefix       = "/@virtual:js-spawn:/"
	DefaultRuntimeID    = VirtualPrefix + "__spawn"
)

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Build: BuildConfig{
			ImportSource:     DefaultImportSource,
			RuntimeSpecifier: DefaultRuntimeID,
			Mode:             ModeDevelopment,
			Protocol:         ProtocolVariadic,
			AssetsDir:        "assets",
		},
		Runtime: RuntimeConfig{
			MemoryLimitMB:    64,
			ExecutionTimeout: 30000,
			MaxMessageBytes:  32 << 20,
		},
	}
}

// LoadConfig reads a TOML file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks enumerated fields.
func (c Config) Validate() error {
	if c.Build.Protocol != "" && !c.Build.Protocol.Valid() {
		return fmt.Errorf("unknown protocol %q", c.Build.Protocol)
	}
	switch c.Build.Mode {
	case "", ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("unknown mode %q", c.Build.Mode)
	}
	return nil
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Build.ImportSource == "" {
		c.Build.ImportSource = d.Build.ImportSource
	}
	if c.Build.RuntimeSpecifier == "" {
		c.Build.RuntimeSpecifier = d.Build.RuntimeSpecifier
	}
	if c.Build.Mode == "" {
		c.Build.Mode = d.Build.Mode
	}
	if c.Build.Protocol == "" {
		c.Build.Protocol = d.Build.Protocol
	}
	if c.Build.AssetsDir == "" {
		c.Build.AssetsDir = d.Build.AssetsDir
	}
	if c.Runtime.MemoryLimitMB <= 0 {
		c.Runtime.MemoryLimitMB = d.Runtime.MemoryLimitMB
	}
	if c.Runtime.ExecutionTimeout == 0 {
		c.Runtime.ExecutionTimeout = d.Runtime.ExecutionTimeout
	}
	if c.Runtime.MaxMessageBytes <= 0 {
		c.Runtime.MaxMessageBytes = d.Runtime.MaxMessageBytes
	}
	if c.Runtime.Protocol == "" {
		c.Runtime.Protocol = c.Build.Protocol
	}
	return c
}
