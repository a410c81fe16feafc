// Package config loads and validates the service configuration: NATS
// connection settings, per-source enablement, per-group parallelism limits,
// and the ingestion pass parameters.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Store mode constants for the matchpoint store backend.
const (
	StoreModeMemory = "memory" // in-process only, lost on restart
	StoreModeKV     = "kv"     // NATS JetStream KV
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "DCB"

// Config is the complete service configuration.
type Config struct {
	Version  string                  `json:"version" yaml:"version"`
	Platform PlatformConfig          `json:"platform" yaml:"platform"`
	NATS     NATSConfig              `json:"nats" yaml:"nats"`
	Ingest   IngestConfig            `json:"ingest" yaml:"ingest"`
	Sources  map[string]SourceConfig `json:"sources" yaml:"sources"`
}

// PlatformConfig identifies this deployment within the consortium.
type PlatformConfig struct {
	Org         string `json:"org" yaml:"org"`
	ID          string `json:"id" yaml:"id"`
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// NATSConfig defines the NATS connection settings.
type NATSConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	URL            string        `json:"url,omitempty" yaml:"url,omitempty"`
	MaxReconnects  int           `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait  time.Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Username       string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token          string        `json:"token,omitempty" yaml:"token,omitempty"`
	Bucket         string        `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	ClusterSubject string        `json:"cluster_subject,omitempty" yaml:"cluster_subject,omitempty"`
}

// UnmarshalJSON accepts reconnect_wait as a duration string ("2s") or as
// nanoseconds.
func (n *NATSConfig) UnmarshalJSON(data []byte) error {
	type Alias NATSConfig
	aux := &struct {
		ReconnectWait any `json:"reconnect_wait"`
		*Alias
	}{Alias: (*Alias)(n)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return n.setReconnectWait(aux.ReconnectWait)
}

// UnmarshalYAML accepts reconnect_wait as a duration string or nanoseconds.
func (n *NATSConfig) UnmarshalYAML(value *yaml.Node) error {
	type Alias NATSConfig
	aux := &struct {
		ReconnectWait any `yaml:"reconnect_wait"`
		*Alias
	}{Alias: (*Alias)(n)}

	if err := value.Decode(aux); err != nil {
		return err
	}
	return n.setReconnectWait(aux.ReconnectWait)
}

func (n *NATSConfig) setReconnectWait(v any) error {
	switch wait := v.(type) {
	case nil:
	case string:
		d, err := time.ParseDuration(wait)
		if err != nil {
			return fmt.Errorf("nats.reconnect_wait: %w", err)
		}
		n.ReconnectWait = d
	case float64:
		n.ReconnectWait = time.Duration(wait)
	case int:
		n.ReconnectWait = time.Duration(wait)
	case int64:
		n.ReconnectWait = time.Duration(wait)
	default:
		return fmt.Errorf("nats.reconnect_wait: unsupported type %T", v)
	}
	return nil
}

// IngestConfig defines ingestion pass behavior.
type IngestConfig struct {
	// RecordLimit is the soft record-count threshold that triggers a
	// graceful stop. 0 selects the built-in default; negative disables.
	RecordLimit int64 `json:"record_limit,omitempty" yaml:"record_limit,omitempty"`

	// Groups maps concurrency-group names to parallelism limits.
	// 0 = unbounded. Groups not listed here fall back to "default".
	Groups map[string]int `json:"groups,omitempty" yaml:"groups,omitempty"`

	// StoreMode selects the matchpoint store backend.
	StoreMode string `json:"store_mode,omitempty" yaml:"store_mode,omitempty"`

	// Goldrush enables the approximate-key matching strategy.
	Goldrush bool `json:"goldrush,omitempty" yaml:"goldrush,omitempty"`

	// MetricsAddr is the listen address for /metrics and /healthz.
	MetricsAddr string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
}

// SourceConfig configures one ingest source.
type SourceConfig struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	ConcurrencyGroup string `json:"concurrency_group,omitempty" yaml:"concurrency_group,omitempty"`
	URL              string `json:"url,omitempty" yaml:"url,omitempty"`
	Username         string `json:"username,omitempty" yaml:"username,omitempty"`
	Password         string `json:"password,omitempty" yaml:"password,omitempty"`
}

// Default returns the baseline configuration before file and environment
// layers are applied.
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Bucket:        "matchpoints",
		},
		Ingest: IngestConfig{
			StoreMode:   StoreModeMemory,
			MetricsAddr: ":9090",
		},
		Sources: make(map[string]SourceConfig),
	}
}

// Load reads configuration from a JSON or YAML file (selected by extension),
// layered over Default, with environment overrides applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
			}
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse json config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvPrefix + "_PLATFORM_ID"); val != "" {
		cfg.Platform.ID = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_URL"); val != "" {
		cfg.NATS.URL = val
		cfg.NATS.Enabled = true
	}
	if val := os.Getenv(EnvPrefix + "_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := os.Getenv(EnvPrefix + "_INGEST_RECORD_LIMIT"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Ingest.RecordLimit = n
		}
	}
	if val := os.Getenv(EnvPrefix + "_INGEST_STORE_MODE"); val != "" {
		cfg.Ingest.StoreMode = val
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Platform.Org != "" {
		c.Platform.Org = strings.ToLower(c.Platform.Org)
		if !isValidSubjectPart(c.Platform.Org) {
			return fmt.Errorf(
				"platform.org %q is not valid for NATS subjects (alphanumeric, dots, dashes, underscores)",
				c.Platform.Org)
		}
	}

	switch c.Ingest.StoreMode {
	case "", StoreModeMemory, StoreModeKV:
	default:
		return fmt.Errorf("ingest.store_mode %q is not one of %q, %q",
			c.Ingest.StoreMode, StoreModeMemory, StoreModeKV)
	}
	if c.Ingest.StoreMode == StoreModeKV && !c.NATS.Enabled {
		return errors.New("ingest.store_mode \"kv\" requires nats.enabled")
	}

	for group, limit := range c.Ingest.Groups {
		if group == "" {
			return errors.New("concurrency group name cannot be empty")
		}
		if limit < 0 {
			return fmt.Errorf("concurrency group %q: limit must not be negative", group)
		}
	}

	for name, src := range c.Sources {
		if name == "" {
			return errors.New("source name cannot be empty")
		}
		if src.Enabled && src.URL == "" {
			return fmt.Errorf("source %q: url is required when enabled", name)
		}
	}
	return nil
}

// isValidSubjectPart checks if a string is safe inside a NATS subject.
func isValidSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Redacted returns a copy safe for logging: credentials blanked.
func (c *Config) Redacted() *Config {
	clone := c.Clone()
	if clone.NATS.Password != "" {
		clone.NATS.Password = "[redacted]"
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = "[redacted]"
	}
	for name, src := range clone.Sources {
		if src.Password != "" {
			src.Password = "[redacted]"
			clone.Sources[name] = src
		}
	}
	return clone
}

// SafeConfig provides thread-safe access to the configuration.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig wraps a configuration.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
