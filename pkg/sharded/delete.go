package sharded

import (
	"context"
	"encoding/json"
	"fmt"

	"gocloud.dev/blob"
)

// Delete removes a completed object: every shard, then the manifest.
// A missing manifest yields an error for which IsNotExist reports true.
func Delete(ctx context.Context, bucket *blob.Bucket, dest string) error {
	data, err := bucket.ReadAll(ctx, manifestPath(dest))
	if err != nil {
		return fmt.Errorf("sharded: read manifest: %w", err)
	}

	// Skip Check so that corrupt manifests can still be cleaned up.
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("sharded: unmarshal manifest: %w", err)
	}

	for _, shard := range manifest.Shards {
		if shard.Object == "" {
			continue
		}
		path := manifest.PartsPrefix + shard.Object
		if err := bucket.Delete(ctx, path); err != nil && !IsNotExist(err) {
			return fmt.Errorf("sharded: delete shard %s: %w", path, err)
		}
	}

	if err := bucket.Delete(ctx, manifestPath(dest)); err != nil {
		return fmt.Errorf("sharded: delete manifest: %w", err)
	}
	return nil
}

// DeletePartial removes the leftovers of an interrupted write: the state
// file and every shard it lists. If the object was completed instead, it
// falls back to Delete.
func DeletePartial(ctx context.Context, bucket *blob.Bucket, dest string) error {
	statePath := partsPrefix(dest) + "state.json"
	data, err := bucket.ReadAll(ctx, statePath)
	if err != nil {
		if !IsNotExist(err) {
			return fmt.Errorf("sharded: read state: %w", err)
		}
		if exists, _ := bucket.Exists(ctx, manifestPath(dest)); exists {
			return Delete(ctx, bucket, dest)
		}
		return fmt.Errorf("sharded: no state or manifest found for %s", dest)
	}

	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("sharded: unmarshal state: %w", err)
	}

	for i, shard := range s.Shards {
		// In-progress shards may have committed data without an object name.
		path := s.PartsPrefix + shardObject(i)
		if shard.Object != "" {
			path = s.PartsPrefix + shard.Object
		}
		if err := bucket.Delete(ctx, path); err != nil && !IsNotExist(err) {
			return fmt.Errorf("sharded: delete shard %s: %w", path, err)
		}
	}

	if err := bucket.Delete(ctx, statePath); err != nil && !IsNotExist(err) {
		return fmt.Errorf("sharded: delete state: %w", err)
	}
	return nil
}
