// Package config loads TOML configuration with environment variable
// expansion and defaults for every field.
package config

import (
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"github.com/hupe1980/toolmesh/engine"
	"github.com/hupe1980/toolmesh/memory"
)

// Duration decodes TOML strings like "500ms" into a time.Duration.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the complete configuration.
type Config struct {
	Engine      EngineConfig      `toml:"engine"`
	Memory      MemoryConfig      `toml:"memory"`
	Credentials CredentialsConfig `toml:"credentials"`
	Logging     LoggingConfig     `toml:"logging"`
}

// EngineConfig holds orchestration limits and the retry policy.
type EngineConfig struct {
	MaxTurns      int      `toml:"max_turns"`
	MaxRetries    int      `toml:"max_retries"`
	BaseDelay     Duration `toml:"base_delay"`
	MaxJitter     Duration `toml:"max_jitter"`
	Throttle      Duration `toml:"throttle"`
	FanOutTimeout Duration `toml:"fan_out_timeout"`
	Instructions  string   `toml:"instructions"`
}

// MemoryConfig holds memory store capacity and persistence settings. An
// empty SQLitePath means in-memory persistence.
type MemoryConfig struct {
	Capacity   int    `toml:"capacity"`
	Namespace  string `toml:"namespace"`
	SQLitePath string `toml:"sqlite_path"`
}

// CredentialsConfig selects the credential profile and keyring namespace.
type CredentialsConfig struct {
	Provider       string `toml:"provider"`
	ActiveProfile  string `toml:"active_profile"`
	KeyringService string `toml:"keyring_service"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns a configuration with every field at its default.
func Default() *Config {
	engineDefaults := engine.DefaultConfig()
	return &Config{
		Engine: EngineConfig{
			MaxTurns:      engineDefaults.MaxTurns,
			MaxRetries:    engineDefaults.MaxRetries,
			BaseDelay:     Duration{engineDefaults.BaseDelay},
			MaxJitter:     Duration{engineDefaults.MaxJitter},
			Throttle:      Duration{engineDefaults.Throttle},
			FanOutTimeout: Duration{engineDefaults.FanOutTimeout},
		},
		Memory: MemoryConfig{
			Capacity:  memory.DefaultCapacity,
			Namespace: memory.DefaultNamespace,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the TOML file at path, expanding ${VAR} environment
// references before decoding. Fields absent from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	cfg := Default()
	if _, err := toml.Decode(expandEnvVars(string(data)), cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations no component could run with.
func (c *Config) Validate() error {
	if c.Engine.MaxTurns < 1 {
		return errors.New("engine.max_turns must be at least 1")
	}
	if c.Engine.MaxRetries < 0 {
		return errors.New("engine.max_retries must not be negative")
	}
	if c.Memory.Capacity < 0 {
		return errors.New("memory.capacity must not be negative")
	}
	return nil
}

// EngineConfig converts the loaded limits into the engine's config type.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		MaxTurns:      c.Engine.MaxTurns,
		MaxRetries:    c.Engine.MaxRetries,
		BaseDelay:     c.Engine.BaseDelay.Duration,
		MaxJitter:     c.Engine.MaxJitter.Duration,
		Throttle:      c.Engine.Throttle.Duration,
		FanOutTimeout: c.Engine.FanOutTimeout.Duration,
	}
}

// envVarPattern matches ${VAR} references.
var envVarPattern = regexp.MustCompile(`\$\{(\w+)\}`)

func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}
