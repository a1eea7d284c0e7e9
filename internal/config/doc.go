// Package config defines configuration for the shardstream server and CLI.
//
// Configuration is layered, later sources winning:
//   - Default()
//   - a YAML (.yaml, .yml) or TOML (.toml) file, via LoadFromFile
//   - environment variables with the SHARDSTREAM_ prefix, via LoadFromEnv
//   - command-line flags, via Merge
//
// Sizes are human-readable ("256KiB", "8MiB", "800KB") and durations use
// Go syntax ("250ms", "5m").
//
// # Example
//
//	listen: ":8080"
//	base_url: "https://media.example.com"
//	bucket: "s3://media?region=eu-west-1"
//	prefix: "media/"
//	cache_control: no-store
//	log:
//	  level: info
//	  format: json
//	catalog:
//	  cache_size: 1024
//	  cache_ttl: 5m
//	pacing:
//	  min_chunk: 256KiB
//	  max_chunk: 8MiB
//	  initial_chunk: 1MiB
//	  target_speed: 800KB
//	  target_buffer_time: 250ms
//	  smoothing: 0.85
//	  max_rate: 0
//	server:
//	  read_header_timeout: 10s
//	  idle_timeout: 2m
//	  shutdown_timeout: 15s
//	ingest:
//	  shard_size: 64MiB
//	  state_interval: 10
//	  retry:
//	    attempts: 5
//	    backoff: 1s
//	    max_backoff: 30s
package config
