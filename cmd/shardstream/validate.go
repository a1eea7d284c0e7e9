package main

import (
	"fmt"

	"github.com/ligustah/shardstream/pkg/sharded"
)

// runValidate checks that a media object is complete and all shards exist
// with correct sizes. With -deep the shards are downloaded and re-hashed.
func runValidate(args []string) int {
	fs := newFlagSet("validate", `Usage: shardstream validate [options]

Verify that a media object is complete and all shards exist with correct
sizes. Only metadata is checked unless -deep is given.`)

	bucket := fs.String("bucket", "", "Bucket URL (required)")
	object := fs.String("object", "", "Object key (required)")
	deep := fs.Bool("deep", false, "Download every shard and verify its checksum")

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *bucket == "" || *object == "" {
		fmt.Fprintln(stderr, "Error: -bucket and -object are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	bkt, ok := openBucket(ctx, *bucket)
	if !ok {
		return ExitStorageError
	}
	defer bkt.Close()

	result, err := sharded.Validate(ctx, bkt, *object, *deep)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Fprintf(stdout, "Object: %s\n", *object)
	fmt.Fprintf(stdout, "Total size: %d bytes\n", result.TotalSize)
	fmt.Fprintf(stdout, "Shards: %d\n", result.ShardCount)

	if result.Valid {
		fmt.Fprintln(stdout, "Status: VALID")
		return ExitSuccess
	}

	fmt.Fprintln(stdout, "Status: INVALID")
	fmt.Fprintf(stdout, "Missing shards: %d\n", result.MissingShards)
	fmt.Fprintf(stdout, "Size mismatches: %d\n", result.SizeMismatches)
	if *deep {
		fmt.Fprintf(stdout, "Checksum mismatches: %d\n", result.ChecksumMismatches)
	}
	if len(result.Errors) > 0 {
		fmt.Fprintln(stdout, "\nErrors:")
		for _, e := range result.Errors {
			fmt.Fprintf(stdout, "  - %s\n", e)
		}
	}
	return ExitValidationFailed
}
