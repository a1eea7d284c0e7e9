package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/shardstream/internal/progress"
	"github.com/ligustah/shardstream/internal/stream"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "SHARDSTREAM_"

// Config defines configuration for the shardstream server and CLI.
type Config struct {
	Listen       string
	BaseURL      string
	HomeRedirect string
	Bucket       string
	Prefix       string
	CacheControl string

	Log     LogConfig
	Catalog CatalogConfig
	Pacing  PacingConfig
	Server  ServerConfig
	Ingest  IngestConfig
}

// LogConfig defines logging output.
type LogConfig struct {
	Level  string // trace, debug, info, warn, error
	Format string // json or console
}

// CatalogConfig defines the lookup cache.
type CatalogConfig struct {
	CacheSize int // 0 disables the cache
	CacheTTL  time.Duration
}

// PacingConfig defines the adaptive pacing of streams.
type PacingConfig struct {
	MinChunk         int64
	MaxChunk         int64
	InitialChunk     int64
	TargetSpeed      int64 // bytes per second
	TargetBufferTime time.Duration
	Smoothing        float64
	MaxRate          int64 // bytes per second per stream, 0 is unlimited
}

// ServerConfig defines HTTP server timeouts.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// IngestConfig defines how sources are split into shards.
type IngestConfig struct {
	ShardSize     int64
	StateInterval int
	Retry         RetryConfig
}

// RetryConfig defines retry behavior for remote sources.
type RetryConfig struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Listen:       ":8080",
		HomeRedirect: "https://github.com/ligustah",
		CacheControl: stream.CacheNoStore,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Catalog: CatalogConfig{
			CacheSize: 1024,
			CacheTTL:  5 * time.Minute,
		},
		Pacing: PacingConfig{
			MinChunk:         stream.DefaultMinChunk,
			MaxChunk:         stream.DefaultMaxChunk,
			InitialChunk:     stream.DefaultInitialChunk,
			TargetSpeed:      stream.DefaultTargetSpeed,
			TargetBufferTime: stream.DefaultTargetBufferTime,
			Smoothing:        stream.DefaultSmoothing,
		},
		Server: ServerConfig{
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
			ShutdownTimeout:   15 * time.Second,
		},
		Ingest: IngestConfig{
			ShardSize:     64 * 1024 * 1024, // 64MiB
			StateInterval: 10,
			Retry: RetryConfig{
				Attempts:   5,
				Backoff:    time.Second,
				MaxBackoff: 30 * time.Second,
			},
		},
	}
}

// Stream returns the pacing knobs in the form used by stream.NewPacer.
func (p PacingConfig) Stream() stream.PacingConfig {
	return stream.PacingConfig{
		MinChunk:         p.MinChunk,
		MaxChunk:         p.MaxChunk,
		InitialChunk:     p.InitialChunk,
		TargetSpeed:      float64(p.TargetSpeed),
		TargetBufferTime: p.TargetBufferTime,
		Smoothing:        p.Smoothing,
	}
}

// fileConfig mirrors Config with human-readable sizes and durations.
// TOML files are decoded through the same tags.
type fileConfig struct {
	Listen       string `yaml:"listen"`
	BaseURL      string `yaml:"base_url"`
	HomeRedirect string `yaml:"home_redirect"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	CacheControl string `yaml:"cache_control"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Catalog struct {
		CacheSize *int   `yaml:"cache_size"`
		CacheTTL  string `yaml:"cache_ttl"`
	} `yaml:"catalog"`

	Pacing struct {
		MinChunk         string   `yaml:"min_chunk"`
		MaxChunk         string   `yaml:"max_chunk"`
		InitialChunk     string   `yaml:"initial_chunk"`
		TargetSpeed      string   `yaml:"target_speed"`
		TargetBufferTime string   `yaml:"target_buffer_time"`
		Smoothing        *float64 `yaml:"smoothing"`
		MaxRate          string   `yaml:"max_rate"`
	} `yaml:"pacing"`

	Server struct {
		ReadHeaderTimeout string `yaml:"read_header_timeout"`
		IdleTimeout       string `yaml:"idle_timeout"`
		ShutdownTimeout   string `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Ingest struct {
		ShardSize     string `yaml:"shard_size"`
		StateInterval int    `yaml:"state_interval"`
		Retry         struct {
			Attempts   int    `yaml:"attempts"`
			Backoff    string `yaml:"backoff"`
			MaxBackoff string `yaml:"max_backoff"`
		} `yaml:"retry"`
	} `yaml:"ingest"`
}

// LoadFromFile loads configuration from a YAML or TOML file on top of the
// defaults. The format is chosen by extension; anything but .toml is YAML.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.NewDecoder(bytes.NewReader(data)).SetTagName("yaml").Decode(&fc); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := Default()
	if err := fc.apply(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	setString(&cfg.Listen, fc.Listen)
	setString(&cfg.BaseURL, fc.BaseURL)
	setString(&cfg.HomeRedirect, fc.HomeRedirect)
	setString(&cfg.Bucket, fc.Bucket)
	setString(&cfg.Prefix, fc.Prefix)
	setString(&cfg.CacheControl, fc.CacheControl)
	setString(&cfg.Log.Level, fc.Log.Level)
	setString(&cfg.Log.Format, fc.Log.Format)

	if fc.Catalog.CacheSize != nil {
		cfg.Catalog.CacheSize = *fc.Catalog.CacheSize
	}
	if fc.Pacing.Smoothing != nil {
		cfg.Pacing.Smoothing = *fc.Pacing.Smoothing
	}
	if fc.Ingest.StateInterval != 0 {
		cfg.Ingest.StateInterval = fc.Ingest.StateInterval
	}
	if fc.Ingest.Retry.Attempts != 0 {
		cfg.Ingest.Retry.Attempts = fc.Ingest.Retry.Attempts
	}

	sizes := []struct {
		key string
		val string
		dst *int64
	}{
		{"pacing.min_chunk", fc.Pacing.MinChunk, &cfg.Pacing.MinChunk},
		{"pacing.max_chunk", fc.Pacing.MaxChunk, &cfg.Pacing.MaxChunk},
		{"pacing.initial_chunk", fc.Pacing.InitialChunk, &cfg.Pacing.InitialChunk},
		{"pacing.target_speed", fc.Pacing.TargetSpeed, &cfg.Pacing.TargetSpeed},
		{"pacing.max_rate", fc.Pacing.MaxRate, &cfg.Pacing.MaxRate},
		{"ingest.shard_size", fc.Ingest.ShardSize, &cfg.Ingest.ShardSize},
	}
	for _, s := range sizes {
		if err := setBytes(s.dst, s.val); err != nil {
			return fmt.Errorf("parse %s: %w", s.key, err)
		}
	}

	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"catalog.cache_ttl", fc.Catalog.CacheTTL, &cfg.Catalog.CacheTTL},
		{"pacing.target_buffer_time", fc.Pacing.TargetBufferTime, &cfg.Pacing.TargetBufferTime},
		{"server.read_header_timeout", fc.Server.ReadHeaderTimeout, &cfg.Server.ReadHeaderTimeout},
		{"server.idle_timeout", fc.Server.IdleTimeout, &cfg.Server.IdleTimeout},
		{"server.shutdown_timeout", fc.Server.ShutdownTimeout, &cfg.Server.ShutdownTimeout},
		{"ingest.retry.backoff", fc.Ingest.Retry.Backoff, &cfg.Ingest.Retry.Backoff},
		{"ingest.retry.max_backoff", fc.Ingest.Retry.MaxBackoff, &cfg.Ingest.Retry.MaxBackoff},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.val); err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SHARDSTREAM_ prefix and the upper-cased
// key path, e.g. SHARDSTREAM_PACING_MAX_CHUNK.
func (c *Config) LoadFromEnv() error {
	setString(&c.Listen, getenv("LISTEN"))
	setString(&c.BaseURL, getenv("BASE_URL"))
	setString(&c.HomeRedirect, getenv("HOME_REDIRECT"))
	setString(&c.Bucket, getenv("BUCKET"))
	setString(&c.Prefix, getenv("PREFIX"))
	setString(&c.CacheControl, getenv("CACHE_CONTROL"))
	setString(&c.Log.Level, getenv("LOG_LEVEL"))
	setString(&c.Log.Format, getenv("LOG_FORMAT"))

	ints := []struct {
		key string
		dst *int
	}{
		{"CATALOG_CACHE_SIZE", &c.Catalog.CacheSize},
		{"INGEST_STATE_INTERVAL", &c.Ingest.StateInterval},
		{"INGEST_RETRY_ATTEMPTS", &c.Ingest.Retry.Attempts},
	}
	for _, i := range ints {
		if v := getenv(i.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, i.key, err)
			}
			*i.dst = n
		}
	}

	if v := getenv("PACING_SMOOTHING"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse %sPACING_SMOOTHING: %w", EnvPrefix, err)
		}
		c.Pacing.Smoothing = f
	}

	sizes := []struct {
		key string
		dst *int64
	}{
		{"PACING_MIN_CHUNK", &c.Pacing.MinChunk},
		{"PACING_MAX_CHUNK", &c.Pacing.MaxChunk},
		{"PACING_INITIAL_CHUNK", &c.Pacing.InitialChunk},
		{"PACING_TARGET_SPEED", &c.Pacing.TargetSpeed},
		{"PACING_MAX_RATE", &c.Pacing.MaxRate},
		{"INGEST_SHARD_SIZE", &c.Ingest.ShardSize},
	}
	for _, s := range sizes {
		if err := setBytes(s.dst, getenv(s.key)); err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, s.key, err)
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CATALOG_CACHE_TTL", &c.Catalog.CacheTTL},
		{"PACING_TARGET_BUFFER_TIME", &c.Pacing.TargetBufferTime},
		{"SERVER_READ_HEADER_TIMEOUT", &c.Server.ReadHeaderTimeout},
		{"SERVER_IDLE_TIMEOUT", &c.Server.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout},
		{"INGEST_RETRY_BACKOFF", &c.Ingest.Retry.Backoff},
		{"INGEST_RETRY_MAX_BACKOFF", &c.Ingest.Retry.MaxBackoff},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, getenv(d.key)); err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, d.key, err)
		}
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("config: bucket is required")
	}
	if c.Listen == "" {
		return errors.New("config: listen address is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("config: log format must be json or console, got %q", c.Log.Format)
	}
	if c.Catalog.CacheSize < 0 {
		return errors.New("config: catalog.cache_size must not be negative")
	}

	p := c.Pacing
	if p.MinChunk <= 0 {
		return errors.New("config: pacing.min_chunk must be positive")
	}
	if p.MaxChunk < p.MinChunk {
		return errors.New("config: pacing.max_chunk must not be below pacing.min_chunk")
	}
	if p.InitialChunk < p.MinChunk || p.InitialChunk > p.MaxChunk {
		return errors.New("config: pacing.initial_chunk must be within [min_chunk, max_chunk]")
	}
	if p.TargetSpeed <= 0 {
		return errors.New("config: pacing.target_speed must be positive")
	}
	if p.TargetBufferTime < 0 {
		return errors.New("config: pacing.target_buffer_time must not be negative")
	}
	if p.Smoothing <= 0 || p.Smoothing >= 1 {
		return errors.New("config: pacing.smoothing must be in (0, 1)")
	}
	if p.MaxRate < 0 {
		return errors.New("config: pacing.max_rate must not be negative")
	}

	if c.Ingest.ShardSize <= 0 {
		return errors.New("config: ingest.shard_size must be positive")
	}
	if c.Ingest.StateInterval <= 0 {
		return errors.New("config: ingest.state_interval must be positive")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	setString(&c.Listen, override.Listen)
	setString(&c.BaseURL, override.BaseURL)
	setString(&c.HomeRedirect, override.HomeRedirect)
	setString(&c.Bucket, override.Bucket)
	setString(&c.Prefix, override.Prefix)
	setString(&c.CacheControl, override.CacheControl)
	setString(&c.Log.Level, override.Log.Level)
	setString(&c.Log.Format, override.Log.Format)

	if override.Catalog.CacheSize != 0 {
		c.Catalog.CacheSize = override.Catalog.CacheSize
	}
	if override.Catalog.CacheTTL != 0 {
		c.Catalog.CacheTTL = override.Catalog.CacheTTL
	}
	if override.Pacing.MinChunk != 0 {
		c.Pacing.MinChunk = override.Pacing.MinChunk
	}
	if override.Pacing.MaxChunk != 0 {
		c.Pacing.MaxChunk = override.Pacing.MaxChunk
	}
	if override.Pacing.InitialChunk != 0 {
		c.Pacing.InitialChunk = override.Pacing.InitialChunk
	}
	if override.Pacing.TargetSpeed != 0 {
		c.Pacing.TargetSpeed = override.Pacing.TargetSpeed
	}
	if override.Pacing.TargetBufferTime != 0 {
		c.Pacing.TargetBufferTime = override.Pacing.TargetBufferTime
	}
	if override.Pacing.Smoothing != 0 {
		c.Pacing.Smoothing = override.Pacing.Smoothing
	}
	if override.Pacing.MaxRate != 0 {
		c.Pacing.MaxRate = override.Pacing.MaxRate
	}
	if override.Server.ReadHeaderTimeout != 0 {
		c.Server.ReadHeaderTimeout = override.Server.ReadHeaderTimeout
	}
	if override.Server.IdleTimeout != 0 {
		c.Server.IdleTimeout = override.Server.IdleTimeout
	}
	if override.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = override.Server.ShutdownTimeout
	}
	if override.Ingest.ShardSize != 0 {
		c.Ingest.ShardSize = override.Ingest.ShardSize
	}
	if override.Ingest.StateInterval != 0 {
		c.Ingest.StateInterval = override.Ingest.StateInterval
	}
	if override.Ingest.Retry.Attempts != 0 {
		c.Ingest.Retry.Attempts = override.Ingest.Retry.Attempts
	}
	if override.Ingest.Retry.Backoff != 0 {
		c.Ingest.Retry.Backoff = override.Ingest.Retry.Backoff
	}
	if override.Ingest.Retry.MaxBackoff != 0 {
		c.Ingest.Retry.MaxBackoff = override.Ingest.Retry.MaxBackoff
	}
	return c
}

func getenv(key string) string {
	return os.Getenv(EnvPrefix + key)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBytes(dst *int64, v string) error {
	if v == "" {
		return nil
	}
	n, err := progress.ParseBytes(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
