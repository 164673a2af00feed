package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all runtime configuration. Values come from the defaults,
// then an optional TOML file, then MIXLAB_* environment variables.
type Config struct {
	// Project
	ProjectDir string `toml:"project_dir"`
	VstPath    string `toml:"vst_path"` // plugin loaded by every vst module

	// Server
	Port int `toml:"port"`

	// Engine
	EventBuffer int `toml:"event_buffer"` // per-session event buffer

	// Logging
	LogLevel  string `toml:"log_level"`  // debug, info, warn, error
	LogFormat string `toml:"log_format"` // text or json
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ProjectDir:  "mixlab-project",
		Port:        8080,
		EventBuffer: 256,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Load reads path (if non-empty and present) over the defaults and applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("open config: %w", err)
		default:
			defer file.Close()
			if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ProjectDir = envStr("MIXLAB_PROJECT_DIR", c.ProjectDir)
	c.VstPath = envStr("MIXLAB_VST_PATH", c.VstPath)
	c.Port = envInt("MIXLAB_PORT", c.Port)
	c.EventBuffer = envInt("MIXLAB_EVENT_BUFFER", c.EventBuffer)
	c.LogLevel = envStr("MIXLAB_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envStr("MIXLAB_LOG_FORMAT", c.LogFormat)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.ProjectDir == "" {
		return errors.New("project_dir must be set")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be positive, got %d", c.EventBuffer)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
