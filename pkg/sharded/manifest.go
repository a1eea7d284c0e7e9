package sharded

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Metadata keys written by ingest and read by the media catalog.
const (
	MetaName        = "name"
	MetaContentType = "content_type"
	MetaAccessCode  = "access_code"
	MetaSource      = "source"
	MetaSourceETag  = "source_etag"
	MetaSourceSize  = "source_size"
)

// ErrCorruptManifest is returned when a manifest does not describe a
// contiguous byte sequence.
var ErrCorruptManifest = errors.New("sharded: corrupt manifest")

// Manifest describes a completed sharded object.
type Manifest struct {
	TotalSize   int64             `json:"total_size"`
	ShardSize   int64             `json:"shard_size"`
	PartsPrefix string            `json:"parts_prefix"`
	Shards      []ShardInfo       `json:"shards"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}

// ShardInfo describes a single shard in the manifest.
// The index is implicit from the array position.
type ShardInfo struct {
	Object   string `json:"object"`
	Offset   int64  `json:"offset"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum,omitempty"`
}

// Check verifies that the shards cover [0, TotalSize) without gaps or overlap.
func (m *Manifest) Check() error {
	var next int64
	for i, s := range m.Shards {
		if s.Object == "" {
			return fmt.Errorf("%w: shard %d has no object", ErrCorruptManifest, i)
		}
		if s.Offset != next {
			return fmt.Errorf("%w: shard %d at offset %d, want %d", ErrCorruptManifest, i, s.Offset, next)
		}
		if s.Size <= 0 {
			return fmt.Errorf("%w: shard %d has size %d", ErrCorruptManifest, i, s.Size)
		}
		next += s.Size
	}
	if next != m.TotalSize {
		return fmt.Errorf("%w: shards cover %d bytes, total size is %d", ErrCorruptManifest, next, m.TotalSize)
	}
	return nil
}

// ShardAt returns the index of the shard holding byte offset, or -1 if the
// offset is outside the object.
func (m *Manifest) ShardAt(offset int64) int {
	if offset < 0 || offset >= m.TotalSize {
		return -1
	}
	i := sort.Search(len(m.Shards), func(i int) bool {
		return m.Shards[i].Offset+m.Shards[i].Size > offset
	})
	if i == len(m.Shards) {
		return -1
	}
	return i
}

// ReadManifest loads and checks the manifest of a completed object.
// A missing manifest yields an error for which IsNotExist reports true.
func ReadManifest(ctx context.Context, bucket *blob.Bucket, dest string) (*Manifest, error) {
	data, err := bucket.ReadAll(ctx, manifestPath(dest))
	if err != nil {
		return nil, fmt.Errorf("sharded: read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("sharded: unmarshal manifest: %w", err)
	}
	if err := manifest.Check(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

func manifestPath(dest string) string {
	return dest + ".manifest.json"
}

func partsPrefix(dest string) string {
	return dest + ".shards/"
}

func shardObject(idx int) string {
	return fmt.Sprintf("shard-%06d", idx)
}

// IsNotExist reports whether err indicates a missing object.
func IsNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
