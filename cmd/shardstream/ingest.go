package main

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ligustah/shardstream/internal/config"
	"github.com/ligustah/shardstream/internal/ingest"
	"github.com/ligustah/shardstream/internal/logging"
	"github.com/ligustah/shardstream/internal/progress"
	"github.com/ligustah/shardstream/internal/source"
)

// runIngest stores a local file or http(s) URL as a sharded media object.
// Interrupted ingests resume where they stopped.
func runIngest(args []string) int {
	fs := newFlagSet("ingest", `Usage: shardstream ingest [options]

Store a local file or http(s) URL as a sharded media object. Running the
same command again after an interruption resumes the ingest.`)

	configPath := fs.String("config", "", "Config file (.yaml, .yml or .toml)")
	bucket := fs.String("bucket", "", "Destination bucket URL (required unless configured)")
	prefix := fs.String("prefix", "", "Key prefix of media objects")
	object := fs.String("object", "", "Object id (required)")
	src := fs.String("source", "", "Local path or http(s) URL to ingest (required)")
	name := fs.String("name", "", "Display name (default: base name of the source)")
	mimeType := fs.String("mime", "", "Content type (default: reported by the source)")
	code := fs.String("code", "", "Access code (default: random)")
	shardSize := fs.String("shard-size", "", "Size of each shard (default 64MiB)")
	showProgress := fs.Bool("progress", false, "Show progress output")
	stateInterval := fs.Int("state-interval", 0, "Persist state every N shards (default 10)")
	retryAttempts := fs.Int("retry-attempts", 0, "Max retry attempts per request (default 5)")
	retryBackoff := fs.Duration("retry-backoff", 0, "Initial retry backoff (default 1s)")
	retryMaxBackoff := fs.Duration("retry-max-backoff", 0, "Max retry backoff (default 30s)")
	force := fs.Bool("force", false, "Discard stored state or an existing object and start over")
	noChecksum := fs.Bool("no-checksum", false, "Skip checksum computation (relies on object store integrity)")

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return ExitInvalidArgs
	}
	override := config.Config{
		Bucket: *bucket,
		Prefix: *prefix,
		Ingest: config.IngestConfig{
			StateInterval: *stateInterval,
			Retry: config.RetryConfig{
				Attempts:   *retryAttempts,
				Backoff:    *retryBackoff,
				MaxBackoff: *retryMaxBackoff,
			},
		},
	}
	if *shardSize != "" {
		size, err := progress.ParseBytes(*shardSize)
		if err != nil || size <= 0 {
			fmt.Fprintf(stderr, "Invalid shard size: %s\n", *shardSize)
			return ExitInvalidArgs
		}
		override.Ingest.ShardSize = size
	}
	cfg = cfg.Merge(override)

	if cfg.Bucket == "" || *object == "" || *src == "" {
		fmt.Fprintln(stderr, "Error: -bucket, -object, and -source are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	bkt, ok := openBucket(ctx, cfg.Bucket)
	if !ok {
		return ExitStorageError
	}
	defer bkt.Close()

	s, err := source.Open(ctx, *src, source.Options{
		Timeout:         30 * time.Second,
		RetryAttempts:   cfg.Ingest.Retry.Attempts,
		RetryBackoff:    cfg.Ingest.Retry.Backoff,
		RetryMaxBackoff: cfg.Ingest.Retry.MaxBackoff,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error accessing source: %v\n", err)
		return ExitSourceNotAccess
	}

	var reporter *progress.Reporter
	if *showProgress {
		var totalShards int
		if s.Size > 0 {
			totalShards = int((s.Size + cfg.Ingest.ShardSize - 1) / cfg.Ingest.ShardSize)
		}
		reporter = progress.NewReporter(progress.Options{
			TotalSize:      max(s.Size, 0),
			TotalShards:    totalShards,
			ShardSize:      cfg.Ingest.ShardSize,
			Source:         s.Location,
			Output:         stderr,
			UpdateInterval: 5 * time.Second,
		})
		reporter.Start()
		defer reporter.Stop()
	}

	logger, err := logging.New(config.LogConfig{Level: cfg.Log.Level, Format: "console"}, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	res, err := ingest.Ingest(ctx, bkt, cfg.Prefix+*object, s, ingest.Options{
		ShardSize:     cfg.Ingest.ShardSize,
		StateInterval: cfg.Ingest.StateInterval,
		Force:         *force,
		NoChecksum:    *noChecksum,
		Name:          *name,
		ContentType:   *mimeType,
		AccessCode:    *code,
		Progress:      reporter,
		Logger:        &logger,
	})
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(stderr, "[shardstream] Ingest interrupted, state saved for resume")
			return ExitGeneralError
		}
		switch {
		case errors.Is(err, ingest.ErrSourceChanged):
			fmt.Fprintln(stderr, "Error: Source has changed since the last ingest attempt")
			fmt.Fprintln(stderr, "Use -force to restart from scratch")
			return ExitSourceChanged
		case errors.Is(err, ingest.ErrExists):
			fmt.Fprintf(stderr, "Error: %s already exists, use -force to replace it\n", *object)
			return ExitGeneralError
		case errors.Is(err, source.ErrNotFound), errors.Is(err, source.ErrForbidden), errors.Is(err, source.ErrUnauthorized):
			fmt.Fprintf(stderr, "Error accessing source: %v\n", err)
			return ExitSourceNotAccess
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	fmt.Fprintf(stderr, "[shardstream] Ingest complete: %s (%s in %d shards, %d resumed)\n",
		res.Dest, progress.FormatBytes(res.Size), res.Shards, res.Skipped)

	fmt.Fprintf(stdout, "ID: %s\n", *object)
	fmt.Fprintf(stdout, "Code: %s\n", res.AccessCode)
	if cfg.BaseURL != "" {
		q := url.Values{"code": {res.AccessCode}}.Encode()
		fmt.Fprintf(stdout, "Player: %s/stream/%s?%s\n", cfg.BaseURL, *object, q)
		fmt.Fprintf(stdout, "Download: %s/dl/%s?%s\n", cfg.BaseURL, *object, q)
	}
	return ExitSuccess
}
