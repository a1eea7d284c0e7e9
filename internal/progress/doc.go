// Package progress reports ingest progress and formats byte sizes.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalSize:   src.Size,
//	    TotalShards: f.TotalShards(),
//	    ShardSize:   shardSize,
//	    Source:      src.Location,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.ShardStarted()
//	reporter.BytesWritten(n)
//	reporter.ShardCompleted()
//
// # Output Format
//
//	[shardstream] Ingesting: https://example.com/movie.mp4
//	[shardstream] Total size: 4.2 GiB | Shards: 68 x 64 MiB
//	[shardstream] Progress: 45.2% | 1.9 GiB / 4.2 GiB | Speed: 92 MiB/s | ETA: 25s | Shards: 30/68
//
// ParseBytes accepts the sizes used in configuration files and flags, such
// as "256KiB", "8MiB" or "1.5GB".
package progress
