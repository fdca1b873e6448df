package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harbz07/sanctuary-mythology/internal/mythos"
)

func TestLoadProjectConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	mythosDir := filepath.Join(projectDir, ".mythos")
	if err := os.MkdirAll(mythosDir, 0755); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, MythosProjectDir: mythosDir, Project: defaultProjectConfig()}
	if err := c.loadProjectConfig(); err != nil {
		t.Fatalf("loadProjectConfig returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.StorageBackend() != "json" {
		t.Fatalf("expected json backend, got %q", c.StorageBackend())
	}
	if want := filepath.Join(mythosDir, "state"); c.StoragePath() != want {
		t.Fatalf("storage path = %s, want %s", c.StoragePath(), want)
	}
	if c.WeightPolicy() != mythos.WeightClamp {
		t.Fatalf("expected clamp policy, got %q", c.WeightPolicy())
	}
}

func TestInitWritesParseableDefaultConfig(t *testing.T) {
	projectDir := t.TempDir()
	t.Setenv(HomeEnv, "")
	if err := InitMythosDir(ResolveMythosDir(projectDir)); err != nil {
		t.Fatalf("InitMythosDir: %v", err)
	}
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.Project.Bridge.Port != 8765 {
		t.Fatalf("bridge port = %d, want 8765", cfg.Project.Bridge.Port)
	}
	if cfg.Project.Bridge.Enabled == nil || !*cfg.Project.Bridge.Enabled {
		t.Fatal("bridge should be enabled by default")
	}
	for _, dir := range []string{cfg.LogsDir(), cfg.ExportsDir(), cfg.StoragePath()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}

func TestLoadProjectConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	mythosDir := filepath.Join(projectDir, ".mythos")
	if err := os.MkdirAll(mythosDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
storage:
  backend: SQLite
  path: db
evolution:
  weight_policy: reject
lore:
  seed: 7
  pools: lore/custom.yaml
`)
	if err := os.WriteFile(filepath.Join(mythosDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, MythosProjectDir: mythosDir, Project: defaultProjectConfig()}
	if err := c.loadProjectConfig(); err != nil {
		t.Fatalf("loadProjectConfig returned error: %v", err)
	}
	if c.StorageBackend() != "sqlite" {
		t.Fatalf("backend = %q, want sqlite", c.StorageBackend())
	}
	if want := filepath.Join(mythosDir, "db", "mythos.db"); c.StoragePath() != want {
		t.Fatalf("storage path = %s, want %s", c.StoragePath(), want)
	}
	if c.WeightPolicy() != mythos.WeightReject {
		t.Fatalf("policy = %q", c.WeightPolicy())
	}
	if c.LoreSeed() != 7 {
		t.Fatalf("seed = %d", c.LoreSeed())
	}
	if !strings.HasPrefix(c.LorePoolsPath(), mythosDir) {
		t.Fatalf("expected pools path to be resolved, got %s", c.LorePoolsPath())
	}
}

func TestLoadProjectConfigValidation(t *testing.T) {
	for name, doc := range map[string]string{
		"backend": "version: 1\nstorage:\n  backend: etcd\n",
		"policy":  "version: 1\nevolution:\n  weight_policy: ignore\n",
		"port":    "version: 1\nbridge:\n  port: 70000\n",
		"backlog": "version: 1\nbridge:\n  backlog: -1\n",
	} {
		t.Run(name, func(t *testing.T) {
			projectDir := t.TempDir()
			mythosDir := filepath.Join(projectDir, ".mythos")
			if err := os.MkdirAll(mythosDir, 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(mythosDir, "config.yaml"), []byte(doc), 0644); err != nil {
				t.Fatal(err)
			}
			c := &Config{ProjectDir: projectDir, MythosProjectDir: mythosDir, Project: defaultProjectConfig()}
			if err := c.loadProjectConfig(); err == nil {
				t.Fatalf("expected validation error but got none")
			}
		})
	}
}

func TestEnvOverridesWin(t *testing.T) {
	projectDir := t.TempDir()
	home := filepath.Join(projectDir, "elsewhere")
	t.Setenv(HomeEnv, home)
	t.Setenv("MYTHOS_STORAGE_BACKEND", "sqlite")
	t.Setenv("MYTHOS_WEIGHT_POLICY", "accept")
	t.Setenv("MYTHOS_LORE_SEED", "99")
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.MythosProjectDir != home {
		t.Fatalf("mythos dir = %s, want %s", cfg.MythosProjectDir, home)
	}
	if cfg.StorageBackend() != "sqlite" || cfg.WeightPolicy() != mythos.WeightAccept || cfg.LoreSeed() != 99 {
		t.Fatalf("env overrides not applied: %+v", cfg.Project)
	}
}

func TestSetStoragePersists(t *testing.T) {
	projectDir := t.TempDir()
	t.Setenv(HomeEnv, "")
	if err := InitMythosDir(ResolveMythosDir(projectDir)); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.SetStorage("sqlite", "data/m.db"); err != nil {
		t.Fatalf("SetStorage: %v", err)
	}
	reloaded, err := NewConfig(projectDir)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.StorageBackend() != "sqlite" {
		t.Fatalf("backend not persisted: %q", reloaded.StorageBackend())
	}
	if want := filepath.Join(cfg.MythosProjectDir, "data", "m.db"); reloaded.StoragePath() != want {
		t.Fatalf("storage path = %s, want %s", reloaded.StoragePath(), want)
	}
	if err := cfg.SetStorage("  ", ""); err == nil {
		t.Fatal("expected error for blank backend")
	}
}
