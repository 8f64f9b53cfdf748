// Package config loads and validates runtime configuration for the
// messaging engine. Configuration is layered: built-in defaults, then any
// number of JSON files, then MESSAGEKIT_* environment overrides, each layer
// only touching the fields it names.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c360/messagekit/surface"
)

// Cache backend selectors.
const (
	BackendFile = "file"
	BackendNATS = "nats"
)

// Config is the complete runtime configuration.
type Config struct {
	App      AppConfig      `json:"app"`
	Cache    CacheConfig    `json:"cache"`
	NATS     NATSConfig     `json:"nats"`
	Tracking TrackingConfig `json:"tracking"`
	Assets   AssetsConfig   `json:"assets"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// AppConfig identifies the host application and the surfaces it serves.
type AppConfig struct {
	// ID is the application identifier composing the app surface, e.g.
	// "com.app.appname".
	ID string `json:"id"`
	// Surfaces are extra sub-surface paths beneath the app surface that are
	// rehydrated on cold start, e.g. "promos" or "feeds/home".
	Surfaces []string `json:"surfaces,omitempty"`
	// QueueSize bounds the handler's serial event queue. 0 uses the default.
	QueueSize int `json:"queue_size,omitempty"`
}

// CacheConfig selects and parameterizes the proposition storage backend.
type CacheConfig struct {
	// Backend is "file" for local disk or "nats" for a JetStream KV bucket.
	Backend string `json:"backend"`
	// Dir is the root directory for the file backend.
	Dir string `json:"dir,omitempty"`
	// Bucket is the KV bucket name for the nats backend.
	Bucket string `json:"bucket,omitempty"`
}

// NATSConfig defines the NATS connection used for the KV backend and for
// tracking event publication.
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
}

// TrackingConfig controls lifecycle event publication.
type TrackingConfig struct {
	// Subject is the NATS subject tracking events publish to.
	Subject string `json:"subject"`
	// DryRun captures events in memory instead of publishing them.
	DryRun bool `json:"dry_run,omitempty"`
}

// AssetsConfig parameterizes the image prefetch pool.
type AssetsConfig struct {
	Workers           int           `json:"workers,omitempty"`
	QueueSize         int           `json:"queue_size,omitempty"`
	RequestsPerSecond float64       `json:"requests_per_second,omitempty"`
	RequestTimeout    time.Duration `json:"request_timeout,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Default returns the built-in configuration. App.ID has no default and must
// come from a file layer or the environment.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Backend: BackendFile,
			Dir:     "messagekit-cache",
			Bucket:  "messagekit",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Tracking: TrackingConfig{
			Subject: "messagekit.tracking",
		},
		Assets: AssetsConfig{
			Workers:           4,
			QueueSize:         128,
			RequestsPerSecond: 8,
			RequestTimeout:    10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9091,
			Path:    "/metrics",
		},
	}
}

// Validate checks the configuration for use. It normalizes nothing; layers
// are merged first, validated last.
func (c *Config) Validate() error {
	if c.App.ID == "" {
		return errors.New("app.id is required")
	}
	if !surface.New(c.App.ID).Valid() {
		return fmt.Errorf("app.id %q composes an invalid surface URI", c.App.ID)
	}
	for _, path := range c.App.Surfaces {
		if !surface.New(c.App.ID, path).Valid() {
			return fmt.Errorf("app.surfaces entry %q composes an invalid surface URI", path)
		}
	}

	switch c.Cache.Backend {
	case BackendFile:
		if c.Cache.Dir == "" {
			return errors.New("cache.dir is required for the file backend")
		}
	case BackendNATS:
		if c.Cache.Bucket == "" {
			return errors.New("cache.bucket is required for the nats backend")
		}
		if len(c.NATS.URLs) == 0 {
			return errors.New("nats.urls is required for the nats backend")
		}
	default:
		return fmt.Errorf("cache.backend must be %q or %q, got %q",
			BackendFile, BackendNATS, c.Cache.Backend)
	}

	if !c.Tracking.DryRun && c.Tracking.Subject == "" {
		return errors.New("tracking.subject is required unless dry_run is set")
	}

	if c.Assets.Workers < 0 || c.Assets.QueueSize < 0 || c.Assets.RequestsPerSecond < 0 {
		return errors.New("assets settings must be non-negative")
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}
	return nil
}

// AppSurface composes the primary application surface.
func (c *Config) AppSurface() surface.Surface {
	return surface.New(c.App.ID)
}

// ExtraSurfaces composes the configured sub-surfaces.
func (c *Config) ExtraSurfaces() []surface.Surface {
	out := make([]surface.Surface, 0, len(c.App.Surfaces))
	for _, path := range c.App.Surfaces {
		out = append(out, surface.New(c.App.ID, path))
	}
	return out
}

// String returns an indented JSON rendering with credentials redacted.
func (c *Config) String() string {
	clone := *c
	if clone.NATS.Password != "" {
		clone.NATS.Password = "<redacted>"
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = "<redacted>"
	}
	data, _ := json.MarshalIndent(clone, "", "  ")
	return string(data)
}

// Loader merges defaults, file layers, and environment overrides.
type Loader struct {
	layers    []string
	envPrefix string
}

// NewLoader creates a loader with the MESSAGEKIT environment prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "MESSAGEKIT"}
}

// AddLayer appends a JSON file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// LoadFile loads configuration from a single file over the defaults.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges every layer over the defaults, applies environment overrides,
// and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		merged, err := mergeLayer(cfg, raw)
		if err != nil {
			return nil, fmt.Errorf("merge %s: %w", path, err)
		}
		cfg = merged
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadRawJSON reads one layer as a map so the merge only sees fields the
// file actually set.
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	parseDurations(raw)
	return raw, nil
}

// mergeLayer deep-merges a raw layer over the base config via their map forms.
func mergeLayer(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMerge(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMerge recursively merges override into base. Nil override values are
// skipped so a layer cannot unset a field by mentioning it as null.
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

// parseDurations converts duration strings like "500ms" to nanosecond
// numbers so the standard unmarshal accepts them.
func parseDurations(raw map[string]any) {
	if nats, ok := raw["nats"].(map[string]any); ok {
		parseDurationField(nats, "reconnect_wait")
	}
	if assets, ok := raw["assets"].(map[string]any); ok {
		parseDurationField(assets, "request_timeout")
	}
}

func parseDurationField(m map[string]any, field string) {
	s, ok := m[field].(string)
	if !ok {
		return
	}
	if d, err := time.ParseDuration(s); err == nil {
		m[field] = d.Nanoseconds()
	}
}

// applyEnvOverrides applies MESSAGEKIT_* environment variables over the
// merged configuration.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := l.env("APP_ID"); val != "" {
		cfg.App.ID = val
	}
	if val := l.env("CACHE_BACKEND"); val != "" {
		cfg.Cache.Backend = val
	}
	if val := l.env("CACHE_DIR"); val != "" {
		cfg.Cache.Dir = val
	}
	if val := l.env("CACHE_BUCKET"); val != "" {
		cfg.Cache.Bucket = val
	}
	if val := l.env("NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := l.env("NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := l.env("NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := l.env("NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := l.env("TRACKING_SUBJECT"); val != "" {
		cfg.Tracking.Subject = val
	}
	if val := l.env("TRACKING_DRY_RUN"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Tracking.DryRun = b
		}
	}
	if val := l.env("METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Metrics.Port = port
		}
	}
}

func (l *Loader) env(suffix string) string {
	val := os.Getenv(l.envPrefix + "_" + suffix)
	if err := validateEnvVar(suffix, val); err != nil {
		return ""
	}
	return val
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

// UnmarshalJSON accepts duration fields as either Go duration strings or
// nanosecond numbers.
func (c *Config) UnmarshalJSON(data []byte) error {
	type alias Config
	aux := &struct {
		NATS struct {
			URLs          []string `json:"urls,omitempty"`
			MaxReconnects int      `json:"max_reconnects,omitempty"`
			ReconnectWait any      `json:"reconnect_wait,omitempty"`
			Username      string   `json:"username,omitempty"`
			Password      string   `json:"password,omitempty"`
			Token         string   `json:"token,omitempty"`
		} `json:"nats"`
		Assets struct {
			Workers           int     `json:"workers,omitempty"`
			QueueSize         int     `json:"queue_size,omitempty"`
			RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
			RequestTimeout    any     `json:"request_timeout,omitempty"`
		} `json:"assets"`
		*alias
	}{alias: (*alias)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	c.NATS.URLs = aux.NATS.URLs
	c.NATS.MaxReconnects = aux.NATS.MaxReconnects
	c.NATS.Username = aux.NATS.Username
	c.NATS.Password = aux.NATS.Password
	c.NATS.Token = aux.NATS.Token
	wait, err := decodeDuration(aux.NATS.ReconnectWait)
	if err != nil {
		return fmt.Errorf("nats.reconnect_wait: %w", err)
	}
	c.NATS.ReconnectWait = wait

	c.Assets.Workers = aux.Assets.Workers
	c.Assets.QueueSize = aux.Assets.QueueSize
	c.Assets.RequestsPerSecond = aux.Assets.RequestsPerSecond
	timeout, err := decodeDuration(aux.Assets.RequestTimeout)
	if err != nil {
		return fmt.Errorf("assets.request_timeout: %w", err)
	}
	c.Assets.RequestTimeout = timeout

	return nil
}

func decodeDuration(v any) (time.Duration, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		return time.ParseDuration(val)
	case float64:
		return time.Duration(val), nil
	default:
		return 0, fmt.Errorf("unsupported duration value %v", v)
	}
}
