package main

import (
	"context"
	"fmt"

	"github.com/ligustah/shardstream/internal/config"
	"github.com/ligustah/shardstream/internal/logging"
	"github.com/ligustah/shardstream/internal/media"
	"github.com/ligustah/shardstream/internal/server"
)

// runServe streams the media objects of a bucket over HTTP until interrupted.
func runServe(args []string) int {
	ctx, cancel := signalContext()
	defer cancel()
	return serve(ctx, args)
}

func serve(ctx context.Context, args []string) int {
	fs := newFlagSet("serve", `Usage: shardstream serve [options]

Stream media objects over HTTP. Settings come from the defaults, then
the config file, then SHARDSTREAM_* environment variables, then flags.`)

	configPath := fs.String("config", "", "Config file (.yaml, .yml or .toml)")
	listen := fs.String("listen", "", "Listen address (default :8080)")
	bucket := fs.String("bucket", "", "Bucket URL")
	prefix := fs.String("prefix", "", "Key prefix of media objects")
	baseURL := fs.String("base-url", "", "Public URL of this server, used in player pages")
	logLevel := fs.String("log-level", "", "Log level (default info)")
	logFormat := fs.String("log-format", "", "Log format: json or console (default json)")

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return ExitInvalidArgs
	}
	cfg = cfg.Merge(config.Config{
		Listen:  *listen,
		Bucket:  *bucket,
		Prefix:  *prefix,
		BaseURL: *baseURL,
		Log:     config.LogConfig{Level: *logLevel, Format: *logFormat},
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInvalidArgs
	}

	logger, err := logging.New(cfg.Log, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	bkt, ok := openBucket(ctx, cfg.Bucket)
	if !ok {
		return ExitStorageError
	}
	defer bkt.Close()

	catalog := media.NewBucketCatalog(bkt,
		media.WithPrefix(cfg.Prefix),
		media.WithCache(cfg.Catalog.CacheSize, cfg.Catalog.CacheTTL),
	)
	srv := server.New(cfg, catalog, logger)

	if err := srv.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		return ExitGeneralError
	}
	return ExitSuccess
}
