package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Listen != ":8080" {
		t.Errorf("expected default listen :8080, got %s", cfg.Listen)
	}
	if cfg.CacheControl != "no-store" {
		t.Errorf("expected default cache control no-store, got %s", cfg.CacheControl)
	}
	if cfg.Pacing.MinChunk != 256*1024 || cfg.Pacing.MaxChunk != 8*1024*1024 || cfg.Pacing.InitialChunk != 1024*1024 {
		t.Errorf("unexpected chunk defaults %+v", cfg.Pacing)
	}
	if cfg.Pacing.TargetSpeed != 800000 {
		t.Errorf("expected default target speed 800000, got %d", cfg.Pacing.TargetSpeed)
	}
	if cfg.Pacing.TargetBufferTime != 250*time.Millisecond {
		t.Errorf("expected default buffer time 250ms, got %v", cfg.Pacing.TargetBufferTime)
	}
	if cfg.Pacing.Smoothing != 0.85 {
		t.Errorf("expected default smoothing 0.85, got %v", cfg.Pacing.Smoothing)
	}
	if cfg.Ingest.Retry.Attempts != 5 {
		t.Errorf("expected default retry attempts 5, got %d", cfg.Ingest.Retry.Attempts)
	}
	if cfg.Ingest.StateInterval != 10 {
		t.Errorf("expected default state interval 10, got %d", cfg.Ingest.StateInterval)
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
listen: "127.0.0.1:9000"
base_url: https://media.example.com
bucket: mem://
prefix: media/
cache_control: immutable
log:
  level: debug
  format: console
catalog:
  cache_size: 0
  cache_ttl: 1m
pacing:
  min_chunk: 128KiB
  max_chunk: 4MiB
  initial_chunk: 512KiB
  target_speed: 2MB
  target_buffer_time: 0s
  smoothing: 0.7
  max_rate: 10MiB
server:
  shutdown_timeout: 3s
ingest:
  shard_size: 512MB
  state_interval: 5
  retry:
    attempts: 10
    backoff: 2s
    max_backoff: 60s
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Listen != "127.0.0.1:9000" || cfg.BaseURL != "https://media.example.com" {
		t.Errorf("unexpected listen/base_url %q %q", cfg.Listen, cfg.BaseURL)
	}
	if cfg.Bucket != "mem://" || cfg.Prefix != "media/" || cfg.CacheControl != "immutable" {
		t.Errorf("unexpected storage settings %+v", cfg)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("unexpected log settings %+v", cfg.Log)
	}
	if cfg.Catalog.CacheSize != 0 {
		t.Errorf("expected explicit cache_size 0 to disable the cache, got %d", cfg.Catalog.CacheSize)
	}
	if cfg.Catalog.CacheTTL != time.Minute {
		t.Errorf("expected cache ttl 1m, got %v", cfg.Catalog.CacheTTL)
	}

	want := PacingConfig{
		MinChunk:         128 * 1024,
		MaxChunk:         4 * 1024 * 1024,
		InitialChunk:     512 * 1024,
		TargetSpeed:      2000000,
		TargetBufferTime: 0,
		Smoothing:        0.7,
		MaxRate:          10 * 1024 * 1024,
	}
	if cfg.Pacing != want {
		t.Errorf("expected pacing %+v, got %+v", want, cfg.Pacing)
	}

	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Errorf("expected shutdown timeout 3s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.IdleTimeout != Default().Server.IdleTimeout {
		t.Errorf("expected default idle timeout to survive, got %v", cfg.Server.IdleTimeout)
	}
	if cfg.Ingest.ShardSize != 512*1000*1000 {
		t.Errorf("expected shard size 512MB, got %d", cfg.Ingest.ShardSize)
	}
	if cfg.Ingest.StateInterval != 5 {
		t.Errorf("expected state interval 5, got %d", cfg.Ingest.StateInterval)
	}
	if cfg.Ingest.Retry.Attempts != 10 {
		t.Errorf("expected retry attempts 10, got %d", cfg.Ingest.Retry.Attempts)
	}
	if cfg.Ingest.Retry.Backoff != 2*time.Second {
		t.Errorf("expected retry backoff 2s, got %v", cfg.Ingest.Retry.Backoff)
	}
	if cfg.Ingest.Retry.MaxBackoff != 60*time.Second {
		t.Errorf("expected retry max backoff 60s, got %v", cfg.Ingest.Retry.MaxBackoff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
listen = ":9090"
bucket = "file:///srv/media"

[log]
level = "warn"

[catalog]
cache_size = 64

[pacing]
max_chunk = "2MiB"
initial_chunk = "256KiB"
smoothing = 0.75

[ingest]
shard_size = "16MiB"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Listen != ":9090" || cfg.Bucket != "file:///srv/media" {
		t.Errorf("unexpected listen/bucket %q %q", cfg.Listen, cfg.Bucket)
	}
	if cfg.Log.Level != "warn" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log settings %+v", cfg.Log)
	}
	if cfg.Catalog.CacheSize != 64 {
		t.Errorf("expected cache size 64, got %d", cfg.Catalog.CacheSize)
	}
	if cfg.Pacing.MaxChunk != 2*1024*1024 || cfg.Pacing.InitialChunk != 256*1024 {
		t.Errorf("unexpected pacing chunks %+v", cfg.Pacing)
	}
	if cfg.Pacing.Smoothing != 0.75 {
		t.Errorf("expected smoothing 0.75, got %v", cfg.Pacing.Smoothing)
	}
	if cfg.Ingest.ShardSize != 16*1024*1024 {
		t.Errorf("expected shard size 16MiB, got %d", cfg.Ingest.ShardSize)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SHARDSTREAM_BUCKET", "s3://media")
	t.Setenv("SHARDSTREAM_LOG_LEVEL", "debug")
	t.Setenv("SHARDSTREAM_CATALOG_CACHE_SIZE", "10")
	t.Setenv("SHARDSTREAM_PACING_MAX_CHUNK", "4MiB")
	t.Setenv("SHARDSTREAM_PACING_TARGET_BUFFER_TIME", "100ms")
	t.Setenv("SHARDSTREAM_PACING_SMOOTHING", "0.8")
	t.Setenv("SHARDSTREAM_INGEST_SHARD_SIZE", "1GiB")
	t.Setenv("SHARDSTREAM_INGEST_RETRY_ATTEMPTS", "3")
	t.Setenv("SHARDSTREAM_INGEST_RETRY_BACKOFF", "500ms")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Bucket != "s3://media" {
		t.Errorf("expected bucket s3://media, got %s", cfg.Bucket)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Catalog.CacheSize != 10 {
		t.Errorf("expected cache size 10, got %d", cfg.Catalog.CacheSize)
	}
	if cfg.Pacing.MaxChunk != 4*1024*1024 {
		t.Errorf("expected max chunk 4MiB, got %d", cfg.Pacing.MaxChunk)
	}
	if cfg.Pacing.TargetBufferTime != 100*time.Millisecond {
		t.Errorf("expected buffer time 100ms, got %v", cfg.Pacing.TargetBufferTime)
	}
	if cfg.Pacing.Smoothing != 0.8 {
		t.Errorf("expected smoothing 0.8, got %v", cfg.Pacing.Smoothing)
	}
	if cfg.Ingest.ShardSize != 1024*1024*1024 {
		t.Errorf("expected shard size 1GiB, got %d", cfg.Ingest.ShardSize)
	}
	if cfg.Ingest.Retry.Attempts != 3 {
		t.Errorf("expected retry attempts 3, got %d", cfg.Ingest.Retry.Attempts)
	}
	if cfg.Ingest.Retry.Backoff != 500*time.Millisecond {
		t.Errorf("expected retry backoff 500ms, got %v", cfg.Ingest.Retry.Backoff)
	}
}

func TestLoadFromEnvInvalid(t *testing.T) {
	tests := map[string]string{
		"SHARDSTREAM_CATALOG_CACHE_SIZE": "many",
		"SHARDSTREAM_PACING_MIN_CHUNK":   "huge",
		"SHARDSTREAM_SERVER_IDLE_TIMEOUT": "forever",
		"SHARDSTREAM_PACING_SMOOTHING":   "high",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			cfg := Default()
			if err := cfg.LoadFromEnv(); err == nil {
				t.Errorf("expected error for %s=%s", key, value)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Bucket = "mem://"
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"zero buffer time", func(c *Config) { c.Pacing.TargetBufferTime = 0 }, false},
		{"cache disabled", func(c *Config) { c.Catalog.CacheSize = 0 }, false},
		{"missing bucket", func(c *Config) { c.Bucket = "" }, true},
		{"missing listen", func(c *Config) { c.Listen = "" }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"negative cache size", func(c *Config) { c.Catalog.CacheSize = -1 }, true},
		{"zero min chunk", func(c *Config) { c.Pacing.MinChunk = 0 }, true},
		{"min above max", func(c *Config) { c.Pacing.MinChunk = c.Pacing.MaxChunk + 1 }, true},
		{"initial below min", func(c *Config) { c.Pacing.InitialChunk = c.Pacing.MinChunk - 1 }, true},
		{"zero target speed", func(c *Config) { c.Pacing.TargetSpeed = 0 }, true},
		{"negative buffer time", func(c *Config) { c.Pacing.TargetBufferTime = -time.Second }, true},
		{"smoothing one", func(c *Config) { c.Pacing.Smoothing = 1 }, true},
		{"smoothing zero", func(c *Config) { c.Pacing.Smoothing = 0 }, true},
		{"negative max rate", func(c *Config) { c.Pacing.MaxRate = -1 }, true},
		{"zero shard size", func(c *Config) { c.Ingest.ShardSize = 0 }, true},
		{"zero state interval", func(c *Config) { c.Ingest.StateInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := Default()
	base.Bucket = "gs://bucket"
	base.Prefix = "media/"

	override := Config{
		Listen: ":9999",
		Log:    LogConfig{Level: "debug"},
		Pacing: PacingConfig{MaxRate: 1 << 20},
		// Leave other fields at zero values
	}

	merged := base.Merge(override)

	if merged.Bucket != "gs://bucket" || merged.Prefix != "media/" {
		t.Errorf("expected storage settings preserved, got %q %q", merged.Bucket, merged.Prefix)
	}
	if merged.Log.Format != "json" {
		t.Errorf("expected log format preserved, got %s", merged.Log.Format)
	}
	if merged.Pacing.MaxChunk != base.Pacing.MaxChunk {
		t.Errorf("expected max chunk preserved, got %d", merged.Pacing.MaxChunk)
	}

	if merged.Listen != ":9999" {
		t.Errorf("expected listen overridden, got %s", merged.Listen)
	}
	if merged.Log.Level != "debug" {
		t.Errorf("expected log level overridden, got %s", merged.Log.Level)
	}
	if merged.Pacing.MaxRate != 1<<20 {
		t.Errorf("expected max rate overridden, got %d", merged.Pacing.MaxRate)
	}
}

func TestPacingStream(t *testing.T) {
	p := Default().Pacing.Stream()
	if p.MinChunk != 256*1024 || p.TargetSpeed != 800000 || p.TargetBufferTime != 250*time.Millisecond {
		t.Errorf("unexpected stream pacing %+v", p)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	path := writeFile(t, "config.yaml", "invalid: [yaml: content")
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadTOMLInvalid(t *testing.T) {
	path := writeFile(t, "config.toml", "listen = ")
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestLoadInvalidSize(t *testing.T) {
	path := writeFile(t, "config.yaml", "pacing:\n  max_chunk: lots\n")
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for invalid size")
	}
}
