package media

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"gocloud.dev/blob"

	"github.com/ligustah/shardstream/internal/stream"
	"github.com/ligustah/shardstream/pkg/sharded"
)

// ErrNotFound is returned for ids that do not name a stored object.
var ErrNotFound = errors.New("media: object not found")

// Catalog resolves object ids.
type Catalog interface {
	Lookup(ctx context.Context, id string) (*Object, error)
}

// Object is a stored media object.
type Object struct {
	ID       string
	Name     string
	Size     int64
	MimeType string

	code   string
	reader *sharded.Reader
}

// View returns the metadata needed to build a response.
func (o *Object) View() stream.MediaView {
	return stream.MediaView{Name: o.Name, Size: o.Size, MimeType: o.MimeType}
}

// Authorize reports whether code matches the access code of the object.
// Objects without an access code cannot be accessed.
func (o *Object) Authorize(code string) bool {
	if o.code == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(o.code), []byte(code)) == 1
}

// Fetch opens a chunk window of the object.
func (o *Object) Fetch(ctx context.Context, plan stream.ChunkPlan) (stream.ChunkStream, error) {
	chunks, err := o.reader.OpenChunks(ctx, plan.FirstIndex, plan.Count, plan.ChunkSize)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// Option configures a BucketCatalog.
type Option func(*BucketCatalog)

// WithPrefix sets the key prefix under which objects are stored.
func WithPrefix(prefix string) Option {
	return func(c *BucketCatalog) {
		c.prefix = prefix
	}
}

// WithCache keeps up to size lookups for ttl. A size of zero disables the
// cache; a ttl of zero keeps entries until they are evicted.
func WithCache(size int, ttl time.Duration) Option {
	return func(c *BucketCatalog) {
		c.cacheSize = size
		c.cacheTTL = ttl
	}
}

// BucketCatalog serves objects from the manifests in a bucket.
type BucketCatalog struct {
	bucket    *blob.Bucket
	prefix    string
	cacheSize int
	cacheTTL  time.Duration
	cache     gcache.Cache
}

// NewBucketCatalog returns a catalog over bucket. The bucket stays owned by
// the caller.
func NewBucketCatalog(bucket *blob.Bucket, opts ...Option) *BucketCatalog {
	c := &BucketCatalog{bucket: bucket}
	for _, opt := range opts {
		opt(c)
	}
	if c.cacheSize > 0 {
		b := gcache.New(c.cacheSize).LRU()
		if c.cacheTTL > 0 {
			b = b.Expiration(c.cacheTTL)
		}
		c.cache = b.Build()
	}
	return c
}

// Lookup returns the object stored under id. Failed lookups are not cached.
func (c *BucketCatalog) Lookup(ctx context.Context, id string) (*Object, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	if c.cache != nil {
		if v, err := c.cache.Get(id); err == nil {
			return v.(*Object), nil
		}
	}

	r, err := sharded.Open(ctx, c.bucket, c.prefix+id)
	if err != nil {
		if sharded.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("media: lookup %q: %w", id, err)
	}
	obj := newObject(id, r)

	if c.cache != nil {
		c.cache.Set(id, obj)
	}
	return obj, nil
}

// Invalidate drops id from the cache.
func (c *BucketCatalog) Invalidate(id string) {
	if c.cache != nil {
		c.cache.Remove(id)
	}
}

func newObject(id string, r *sharded.Reader) *Object {
	m := r.Manifest()
	meta := m.Metadata

	name := meta[sharded.MetaName]
	if name == "" {
		name = path.Base(id)
	}
	mimeType := meta[sharded.MetaContentType]
	if mimeType == "" {
		mimeType = mime.TypeByExtension(path.Ext(name))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return &Object{
		ID:       id,
		Name:     name,
		Size:     m.TotalSize,
		MimeType: mimeType,
		code:     meta[sharded.MetaAccessCode],
		reader:   r,
	}
}

func validID(id string) bool {
	switch {
	case id == "":
		return false
	case strings.HasPrefix(id, "/"):
		return false
	case strings.Contains(id, ".."), strings.Contains(id, "\\"), strings.Contains(id, "\x00"):
		return false
	}
	return true
}
