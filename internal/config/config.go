// internal/config/config.go
//
// This package handles configuration and the .mythos directory structure.
// Every project that tracks personas gets a .mythos/ folder in its root;
// the storage location comes from here and is handed to the engine, never
// baked into it.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/harbz07/sanctuary-mythology/internal/mythos"
)

const (
	// MythosDir is the name of the directory we create in each project
	MythosDir = ".mythos"

	// HomeEnv overrides where the .mythos directory lives.
	HomeEnv = "MYTHOS_HOME"

	defaultStorageBackend = "json"
	defaultStoragePath    = "state"
)

const defaultProjectConfigYAML = `# mythos project configuration
version: 1

# Where persona state lives. backend is json (three documents in a
# directory) or sqlite (a single database file). Relative paths resolve
# against the .mythos directory.
storage:
  backend: json
  path: state

evolution:
  # What to do with emotional_weight outside 1..10: clamp, reject or accept.
  weight_policy: clamp

lore:
  # 0 seeds from the clock. Any other value makes generated lore repeatable.
  seed: 0
  # Optional replacement template pools (YAML).
  # pools: lore/pools.yaml

bridge:
  enabled: true
  host: 127.0.0.1
  port: 8765
  # Request ids remembered by POST /invocations for retries.
  # dedupe_window: 1024
  # Events buffered per subscriber, and per persona before anyone subscribes.
  # subscriber_buffer: 100
  # backlog: 50
  # max_body_kb: 64
`

// StorageConfig selects and locates the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// EvolutionConfig tunes the evolution engine.
type EvolutionConfig struct {
	WeightPolicy string `yaml:"weight_policy"`
}

// LoreConfig tunes the content generator.
type LoreConfig struct {
	Seed  int64  `yaml:"seed"`
	Pools string `yaml:"pools,omitempty"`
}

// BridgeConfig mirrors the event bridge settings in config.yaml. Zero
// values fall back to the bridge defaults.
type BridgeConfig struct {
	Enabled          *bool  `yaml:"enabled,omitempty"`
	Host             string `yaml:"host,omitempty"`
	Port             int    `yaml:"port,omitempty"`
	MaxBodyKB        int    `yaml:"max_body_kb,omitempty"`
	DedupeWindow     int    `yaml:"dedupe_window,omitempty"`
	SubscriberBuffer int    `yaml:"subscriber_buffer,omitempty"`
	Backlog          int    `yaml:"backlog,omitempty"`
}

// ProjectConfig models .mythos/config.yaml.
type ProjectConfig struct {
	Version   int             `yaml:"version"`
	Storage   StorageConfig   `yaml:"storage"`
	Evolution EvolutionConfig `yaml:"evolution"`
	Lore      LoreConfig      `yaml:"lore"`
	Bridge    BridgeConfig    `yaml:"bridge"`
}

// Config holds the runtime configuration.
type Config struct {
	// ProjectDir is the directory where the user ran `mythos` from
	ProjectDir string

	// MythosProjectDir is ProjectDir/.mythos unless MYTHOS_HOME is set
	MythosProjectDir string

	Project ProjectConfig
}

// InitMythosDir creates the .mythos directory structure.
//
// Structure created:
// .mythos/
// ├── config.yaml
// ├── logs/         <- mythos.log and the journey journal
// ├── state/        <- default json storage directory
// └── exports/      <- preset exports written by `mythos export -o`
func InitMythosDir(mythosDir string) error {
	dirs := []string{
		filepath.Join(mythosDir, "logs"),
		filepath.Join(mythosDir, "state"),
		filepath.Join(mythosDir, "exports"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(mythosDir, "config.yaml"))
}

// ResolveMythosDir returns the .mythos directory for projectDir, honoring
// MYTHOS_HOME.
func ResolveMythosDir(projectDir string) string {
	if home := strings.TrimSpace(os.Getenv(HomeEnv)); home != "" {
		return resolvePath(projectDir, home)
	}
	return filepath.Join(projectDir, MythosDir)
}

// NewConfig creates a new Config instance populated with project settings.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:       projectDir,
		MythosProjectDir: ResolveMythosDir(projectDir),
		Project:          defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	cfg.Project.applyEnvOverrides()
	cfg.Project.normalize()
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.MythosProjectDir, "logs")
}

// ExportsDir returns the default directory for preset exports
func (c *Config) ExportsDir() string {
	return filepath.Join(c.MythosProjectDir, "exports")
}

// JournalPath returns the path of the milestone journal
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), "journey.log")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.MythosProjectDir, "config.yaml")
}

// StorageBackend returns the configured backend kind.
func (c *Config) StorageBackend() string {
	return c.Project.Storage.Backend
}

// StoragePath returns the absolute storage location for the backend.
func (c *Config) StoragePath() string {
	path := c.Project.Storage.Path
	if c.Project.Storage.Backend == "sqlite" && filepath.Ext(path) == "" {
		path = filepath.Join(path, "mythos.db")
	}
	return resolvePath(c.MythosProjectDir, path)
}

// WeightPolicy returns the configured emotional weight policy.
func (c *Config) WeightPolicy() mythos.WeightPolicy {
	policy, err := mythos.ParseWeightPolicy(c.Project.Evolution.WeightPolicy)
	if err != nil {
		return mythos.WeightClamp
	}
	return policy
}

// LoreSeed returns the generator seed (0 = clock).
func (c *Config) LoreSeed() int64 {
	return c.Project.Lore.Seed
}

// LorePoolsPath returns the absolute path of replacement pools, or "".
func (c *Config) LorePoolsPath() string {
	if c.Project.Lore.Pools == "" {
		return ""
	}
	return resolvePath(c.MythosProjectDir, c.Project.Lore.Pools)
}

// SetStorage updates the storage backend and persists config.yaml.
func (c *Config) SetStorage(backend, path string) error {
	backend = strings.ToLower(strings.TrimSpace(backend))
	if backend == "" {
		return fmt.Errorf("config: storage backend is required")
	}
	c.Project.Storage.Backend = backend
	if strings.TrimSpace(path) != "" {
		c.Project.Storage.Path = path
	}
	return c.saveProjectConfig()
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Storage: StorageConfig{
			Backend: defaultStorageBackend,
			Path:    defaultStoragePath,
		},
		Evolution: EvolutionConfig{WeightPolicy: string(mythos.WeightClamp)},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Storage.Backend) == "" {
		pc.Storage.Backend = defaultStorageBackend
	}
	if strings.TrimSpace(pc.Storage.Path) == "" {
		pc.Storage.Path = defaultStoragePath
	}
	if strings.TrimSpace(pc.Evolution.WeightPolicy) == "" {
		pc.Evolution.WeightPolicy = string(mythos.WeightClamp)
	}
}

// applyEnvOverrides lets MYTHOS_STORAGE_BACKEND, MYTHOS_STORAGE_PATH,
// MYTHOS_WEIGHT_POLICY and MYTHOS_LORE_SEED win over config.yaml.
func (pc *ProjectConfig) applyEnvOverrides() {
	if value := strings.TrimSpace(os.Getenv("MYTHOS_STORAGE_BACKEND")); value != "" {
		pc.Storage.Backend = value
	}
	if value := strings.TrimSpace(os.Getenv("MYTHOS_STORAGE_PATH")); value != "" {
		pc.Storage.Path = value
	}
	if value := strings.TrimSpace(os.Getenv("MYTHOS_WEIGHT_POLICY")); value != "" {
		pc.Evolution.WeightPolicy = value
	}
	if value := strings.TrimSpace(os.Getenv("MYTHOS_LORE_SEED")); value != "" {
		if seed, err := strconv.ParseInt(value, 10, 64); err == nil {
			pc.Lore.Seed = seed
		}
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Storage.Backend = strings.ToLower(strings.TrimSpace(pc.Storage.Backend))
	pc.Storage.Path = strings.TrimSpace(pc.Storage.Path)
	pc.Evolution.WeightPolicy = strings.ToLower(strings.TrimSpace(pc.Evolution.WeightPolicy))
	pc.Lore.Pools = strings.TrimSpace(pc.Lore.Pools)
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	switch pc.Storage.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("storage.backend must be 'json' or 'sqlite'")
	}
	if _, err := mythos.ParseWeightPolicy(pc.Evolution.WeightPolicy); err != nil {
		return fmt.Errorf("evolution.weight_policy: %w", err)
	}
	if pc.Bridge.Port < 0 || pc.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 0 and 65535")
	}
	for key, value := range map[string]int{
		"max_body_kb":       pc.Bridge.MaxBodyKB,
		"dedupe_window":     pc.Bridge.DedupeWindow,
		"subscriber_buffer": pc.Bridge.SubscriberBuffer,
		"backlog":           pc.Bridge.Backlog,
	} {
		if value < 0 {
			return fmt.Errorf("bridge.%s must be >= 0", key)
		}
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644)
}

func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.MythosProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure mythos dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
