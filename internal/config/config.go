package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Runner   RunnerConfig   `toml:"runner"`
	Store    StoreConfig    `toml:"store"`
	Observer ObserverConfig `toml:"observer"`
	Log      LogConfig      `toml:"log"`
}

type RunnerConfig struct {
	// Driver selects how SubProcessSteps run: "host" or "docker".
	Driver string `toml:"driver"`
	// Image is the container image used by the docker driver.
	Image string `toml:"image"`
	// PublishedPorts are Docker port specs ("8080:80") for commands that
	// serve an endpoint while running.
	PublishedPorts []string `toml:"published_ports"`
}

type StoreConfig struct {
	// Backend selects persistence: "sqlite" or "postgres".
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
	DSN     string `toml:"dsn"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Runner: RunnerConfig{Driver: "host", Image: "alpine:3.20"},
		Store:  StoreConfig{Backend: "sqlite", Path: "flowgraph.db"},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "flowgraph.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("FLOWGRAPH_RUNNER_DRIVER"); v != "" {
		cfg.Runner.Driver = v
	}
	if v := os.Getenv("FLOWGRAPH_RUNNER_IMAGE"); v != "" {
		cfg.Runner.Image = v
	}
	if v := os.Getenv("FLOWGRAPH_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("FLOWGRAPH_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("FLOWGRAPH_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("FLOWGRAPH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if os.Getenv("FLOWGRAPH_OBSERVER_ENABLED") == "true" || os.Getenv("FLOWGRAPH_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Store.Backend == "postgres" && cfg.Store.DSN == "" {
		cfg.Store.Backend = "sqlite"
	}

	return cfg
}
