package eventbridge

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/harbz07/sanctuary-mythology/internal/config"
)

const (
	// DefaultHost keeps the bridge on loopback unless configured otherwise.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the bridge port written by `mythos init`.
	DefaultPort = 8765
	// DefaultMaxBodyKB caps invocation and emergence payloads.
	DefaultMaxBodyKB = 64
	// DefaultDedupeWindow is how many request ids /invocations remembers.
	DefaultDedupeWindow = 1024

	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 15 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

// DefaultMaxBodyBytes is DefaultMaxBodyKB in bytes.
const DefaultMaxBodyBytes int64 = DefaultMaxBodyKB << 10

// Settings is the resolved bridge configuration: the listener, the request
// limits of the HTTP surface, and how the Router buffers persona events for
// subscribers such as the TUI.
type Settings struct {
	Enabled bool
	Host    string
	Port    int

	MaxBodyBytes int64
	// DedupeWindow bounds the request_id memory of POST /invocations.
	DedupeWindow int

	// SubscriberCapacity is the channel size per Router subscriber.
	SubscriberCapacity int
	// BacklogLimit is how many events per persona are held until someone
	// subscribes to that persona.
	BacklogLimit int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultSettings returns the settings used when config.yaml is silent.
func DefaultSettings() Settings {
	return Settings{
		Enabled:            true,
		Host:               DefaultHost,
		Port:               DefaultPort,
		MaxBodyBytes:       DefaultMaxBodyBytes,
		DedupeWindow:       DefaultDedupeWindow,
		SubscriberCapacity: defaultSubscriberCapacity,
		BacklogLimit:       defaultBacklogLimit,
		ReadTimeout:        defaultReadTimeout,
		WriteTimeout:       defaultWriteTimeout,
		IdleTimeout:        defaultIdleTimeout,
	}
}

// SettingsFromConfig layers the bridge block of .mythos/config.yaml and then
// MYTHOS_BRIDGE_* variables over DefaultSettings.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := DefaultSettings()
	if cfg != nil {
		settings.merge(cfg.Project.Bridge)
	}
	settings.applyEnv(os.Getenv)
	settings.normalize()
	return settings
}

func (s *Settings) merge(bridge config.BridgeConfig) {
	if bridge.Enabled != nil {
		s.Enabled = *bridge.Enabled
	}
	if host := strings.TrimSpace(bridge.Host); host != "" {
		s.Host = host
	}
	if bridge.Port != 0 {
		s.Port = bridge.Port
	}
	if bridge.MaxBodyKB > 0 {
		s.MaxBodyBytes = int64(bridge.MaxBodyKB) << 10
	}
	if bridge.DedupeWindow > 0 {
		s.DedupeWindow = bridge.DedupeWindow
	}
	if bridge.SubscriberBuffer > 0 {
		s.SubscriberCapacity = bridge.SubscriberBuffer
	}
	if bridge.Backlog > 0 {
		s.BacklogLimit = bridge.Backlog
	}
}

// applyEnv reads MYTHOS_BRIDGE_ENABLED, _HOST, _PORT, _MAX_BODY_KB and
// _DEDUPE_WINDOW. Unparseable values are ignored.
func (s *Settings) applyEnv(getenv func(string) string) {
	env := func(key string) string {
		return strings.TrimSpace(getenv("MYTHOS_BRIDGE_" + key))
	}
	if enabled, err := strconv.ParseBool(env("ENABLED")); err == nil {
		s.Enabled = enabled
	}
	if host := env("HOST"); host != "" {
		s.Host = host
	}
	if port, err := strconv.Atoi(env("PORT")); err == nil && isValidPort(port) {
		s.Port = port
	}
	if kb, err := strconv.Atoi(env("MAX_BODY_KB")); err == nil && kb > 0 {
		s.MaxBodyBytes = int64(kb) << 10
	}
	if window, err := strconv.Atoi(env("DEDUPE_WINDOW")); err == nil && window > 0 {
		s.DedupeWindow = window
	}
}

func (s *Settings) normalize() {
	defaults := DefaultSettings()
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = defaults.Host
	}
	if !isValidPort(s.Port) {
		s.Port = defaults.Port
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if s.DedupeWindow <= 0 {
		s.DedupeWindow = defaults.DedupeWindow
	}
	if s.SubscriberCapacity <= 0 {
		s.SubscriberCapacity = defaults.SubscriberCapacity
	}
	if s.BacklogLimit <= 0 {
		s.BacklogLimit = defaults.BacklogLimit
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = defaults.ReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = defaults.WriteTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = defaults.IdleTimeout
	}
}

// RouterOptions sizes a Router to match these settings.
func (s Settings) RouterOptions() []RouterOption {
	return []RouterOption{
		RouterWithSubscriberCapacity(s.SubscriberCapacity),
		RouterWithBacklogLimit(s.BacklogLimit),
	}
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the HTTP base URL for the server.
func (s Settings) URL() string {
	return "http://" + s.Address()
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}
