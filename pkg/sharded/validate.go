package sharded

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"gocloud.dev/blob"
)

// ValidationResult reports the condition of a stored object.
type ValidationResult struct {
	Valid              bool     // true if all shards exist with the expected size (and checksum when deep)
	TotalSize          int64    // total size from manifest
	ShardCount         int      // number of shards in manifest
	MissingShards      int      // shards that don't exist
	SizeMismatches     int      // shards with the wrong size
	ChecksumMismatches int      // shards whose content does not hash to the stored checksum
	Errors             []string // detailed error messages
}

// Validate checks that every shard of dest exists with the size recorded in
// the manifest. With deep set, it also downloads each shard that carries a
// checksum and compares the SHA-256.
//
// Missing shards and mismatches are reported in the result, not as errors.
// An error means the manifest could not be read or storage failed.
func Validate(ctx context.Context, bucket *blob.Bucket, dest string, deep bool) (*ValidationResult, error) {
	manifest, err := ReadManifest(ctx, bucket, dest)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{
		Valid:      true,
		TotalSize:  manifest.TotalSize,
		ShardCount: len(manifest.Shards),
		Errors:     make([]string, 0),
	}

	for i, shard := range manifest.Shards {
		path := manifest.PartsPrefix + shard.Object

		attrs, err := bucket.Attributes(ctx, path)
		if err != nil {
			if IsNotExist(err) {
				result.Valid = false
				result.MissingShards++
				result.Errors = append(result.Errors, fmt.Sprintf("shard %d missing: %s", i, path))
				continue
			}
			return nil, fmt.Errorf("sharded: check shard %d: %w", i, err)
		}

		if attrs.Size != shard.Size {
			result.Valid = false
			result.SizeMismatches++
			result.Errors = append(result.Errors,
				fmt.Sprintf("shard %d size mismatch: expected %d, got %d", i, shard.Size, attrs.Size))
			continue
		}

		if !deep || shard.Checksum == "" {
			continue
		}
		sum, err := hashObject(ctx, bucket, path)
		if err != nil {
			return nil, fmt.Errorf("sharded: hash shard %d: %w", i, err)
		}
		if sum != shard.Checksum {
			result.Valid = false
			result.ChecksumMismatches++
			result.Errors = append(result.Errors,
				fmt.Sprintf("shard %d checksum mismatch: expected %s, got %s", i, shard.Checksum, sum))
		}
	}

	return result, nil
}

func hashObject(ctx context.Context, bucket *blob.Bucket, path string) (string, error) {
	r, err := bucket.NewReader(ctx, path, nil)
	if err != nil {
		return "", err
	}
	defer r.Close()

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
