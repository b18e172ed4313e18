// Package config loads and validates the journeyd service configuration.
// Files may be JSON or YAML; layers merge over defaults and environment
// variables override last.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/journeykit/engine"
)

// Config is the complete journeyd configuration
type Config struct {
	Version  string         `json:"version,omitempty" yaml:"version,omitempty"`
	Service  ServiceConfig  `json:"service" yaml:"service"`
	NATS     NATSConfig     `json:"nats" yaml:"nats"`
	Engine   engine.Config  `json:"engine" yaml:"engine"`
	Delivery DeliveryConfig `json:"delivery" yaml:"delivery"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// ServiceConfig identifies this deployment
type ServiceConfig struct {
	Name        string `json:"name" yaml:"name"`
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"` // prod, staging, dev
}

// NATSConfig defines the JetStream connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty" yaml:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
}

// DeliveryConfig tunes the delivery provider and webhook caller
type DeliveryConfig struct {
	// Provider selects the delivery backend. "memory" is the in-process
	// provider for development and tests.
	Provider string `json:"provider" yaml:"provider"`

	WebhookTimeout   time.Duration `json:"webhook_timeout,omitempty" yaml:"webhook_timeout,omitempty"`
	WebhookRateLimit float64       `json:"webhook_rate_limit,omitempty" yaml:"webhook_rate_limit,omitempty"`
	WebhookBurst     int           `json:"webhook_burst,omitempty" yaml:"webhook_burst,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port,omitempty" yaml:"port,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// LoggingConfig controls slog output
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`   // debug, info, warn, error
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // text, json
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "journeyd",
			Environment: "dev",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Engine: engine.DefaultConfig(),
		Delivery: DeliveryConfig{
			Provider:         "memory",
			WebhookTimeout:   10 * time.Second,
			WebhookRateLimit: 10,
			WebhookBurst:     20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for values the service cannot start
// with
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return errors.New("service.name is required")
	}
	if len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required")
	}
	for i, u := range c.NATS.URLs {
		if !strings.HasPrefix(u, "nats://") && !strings.HasPrefix(u, "tls://") {
			return fmt.Errorf("nats.urls[%d]: unsupported scheme in %q", i, u)
		}
	}
	if c.NATS.ReconnectWait < 0 {
		return errors.New("nats.reconnect_wait cannot be negative")
	}

	if c.Engine.TickInterval < 0 {
		return errors.New("engine.tick_interval cannot be negative")
	}
	if c.Engine.DrainLimit < 0 {
		return errors.New("engine.drain_limit cannot be negative")
	}
	if c.Engine.Workers < 0 {
		return errors.New("engine.workers cannot be negative")
	}

	switch c.Delivery.Provider {
	case "memory":
	case "":
		return errors.New("delivery.provider is required")
	default:
		return fmt.Errorf("unknown delivery.provider %q", c.Delivery.Provider)
	}
	if c.Delivery.WebhookTimeout < 0 {
		return errors.New("delivery.webhook_timeout cannot be negative")
	}
	if c.Delivery.WebhookRateLimit < 0 {
		return errors.New("delivery.webhook_rate_limit cannot be negative")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
		}
		if c.Metrics.Path != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}

	return nil
}

// Clone creates a deep copy of the configuration
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

// String returns an indented JSON representation with credentials redacted
func (c *Config) String() string {
	clone := c.Clone()
	if clone.NATS.Password != "" {
		clone.NATS.Password = "<redacted>"
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = "<redacted>"
	}
	data, _ := json.MarshalIndent(clone, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Defaults()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
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

// Loader loads configuration layers over defaults with environment
// overrides applied last
type Loader struct {
	layers    []string
	envPrefix string
}

// NewLoader creates a configuration loader
func NewLoader() *Loader {
	return &Loader{envPrefix: "JOURNEYKIT"}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// LoadFile loads a single file over defaults
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges all layers over defaults, applies environment overrides,
// and validates the result
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		cfg = mergeFromMap(cfg, raw)
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadRaw reads one file into a generic map, parsing duration strings
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		raw = normalizeYAML(raw)
	} else {
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}

	parseDurations(raw)
	return raw, nil
}

// mergeFromMap merges a raw map over the base config, only overriding the
// fields present in the map
func mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	mergedJSON, err := json.Marshal(deepMerge(baseMap, override))
	if err != nil {
		return base
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}
	return &merged
}

func deepMerge(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMerge(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// normalizeYAML converts yaml.v3's map[string]any values recursively so
// the JSON-based merge can handle them uniformly
func normalizeYAML(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeYAMLValue(v)
	}
	return out
}

func normalizeYAMLValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeYAML(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAMLValue(item)
		}
		return out
	default:
		return v
	}
}

// durationFields are the config keys holding durations, by section. File
// values may be strings like "5s"; they are converted to nanoseconds so
// time.Duration unmarshaling works.
var durationFields = map[string][]string{
	"nats":     {"reconnect_wait"},
	"engine":   {"tick_interval", "stop_timeout"},
	"delivery": {"webhook_timeout"},
}

func parseDurations(raw map[string]any) {
	for section, fields := range durationFields {
		m, ok := raw[section].(map[string]any)
		if !ok {
			continue
		}
		for _, field := range fields {
			s, ok := m[field].(string)
			if !ok {
				continue
			}
			if d, err := time.ParseDuration(s); err == nil {
				m[field] = d.Nanoseconds()
			}
		}
	}
}

// applyEnvOverrides applies JOURNEYKIT_* environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_SERVICE_NAME"); val != "" {
		cfg.Service.Name = val
	}
	if val := os.Getenv(l.envPrefix + "_ENVIRONMENT"); val != "" {
		cfg.Service.Environment = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := os.Getenv(l.envPrefix + "_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := os.Getenv(l.envPrefix + "_WORKER_ID"); val != "" {
		cfg.Engine.WorkerID = val
	}
	if val := os.Getenv(l.envPrefix + "_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}
