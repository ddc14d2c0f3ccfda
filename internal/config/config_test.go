package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Runner.Driver != "host" {
		t.Errorf("Runner.Driver = %q, want host", cfg.Runner.Driver)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.Path != "flowgraph.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Observer.Enabled {
		t.Error("observer enabled by default")
	}
}

func TestLoadTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowgraph.toml")
	content := `
[runner]
driver = "docker"
image = "python:3.12-slim"

[store]
backend = "postgres"
dsn = "postgres://localhost/flow"

[observer]
enabled = true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.Runner.Driver != "docker" || cfg.Runner.Image != "python:3.12-slim" {
		t.Errorf("Runner = %+v", cfg.Runner)
	}
	if cfg.Store.Backend != "postgres" || cfg.Store.DSN != "postgres://localhost/flow" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if !cfg.Observer.Enabled {
		t.Error("observer not enabled")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FLOWGRAPH_RUNNER_DRIVER", "docker")
	t.Setenv("FLOWGRAPH_STORE_PATH", "/data/flow.db")
	t.Setenv("FLOWGRAPH_OBSERVER_ENABLED", "1")

	cfg := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if cfg.Runner.Driver != "docker" {
		t.Errorf("Runner.Driver = %q, want docker", cfg.Runner.Driver)
	}
	if cfg.Store.Path != "/data/flow.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if !cfg.Observer.Enabled {
		t.Error("observer env override ignored")
	}
}

func TestPostgresWithoutDSNFallsBack(t *testing.T) {
	t.Setenv("FLOWGRAPH_STORE_BACKEND", "postgres")
	cfg := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q, want sqlite fallback", cfg.Store.Backend)
	}
}
