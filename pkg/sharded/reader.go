package sharded

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gocloud.dev/blob"
)

// Reader serves chunk windows and byte ranges of a completed sharded object.
// A Reader is immutable and safe for concurrent use; each window it opens
// belongs to a single caller.
type Reader struct {
	bucket   *blob.Bucket
	manifest *Manifest
}

// Open loads the manifest of dest. The bucket stays owned by the caller.
func Open(ctx context.Context, bucket *blob.Bucket, dest string) (*Reader, error) {
	manifest, err := ReadManifest(ctx, bucket, dest)
	if err != nil {
		return nil, err
	}
	return NewReader(bucket, manifest), nil
}

// NewReader returns a Reader for an already loaded manifest.
func NewReader(bucket *blob.Bucket, manifest *Manifest) *Reader {
	return &Reader{bucket: bucket, manifest: manifest}
}

// Manifest returns the manifest of the object.
func (r *Reader) Manifest() *Manifest {
	return r.manifest
}

// OpenChunks opens a window of count chunks of chunkSize bytes, starting at
// chunk index first (byte offset first*chunkSize). The last chunk of the
// object may be shorter. The window must be closed.
func (r *Reader) OpenChunks(ctx context.Context, first, count, chunkSize int64) (*Chunks, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("sharded: chunk size must be positive, got %d", chunkSize)
	}
	if first < 0 || count < 0 {
		return nil, fmt.Errorf("sharded: invalid chunk window %d+%d", first, count)
	}

	offset := first * chunkSize
	if offset > r.manifest.TotalSize || (offset == r.manifest.TotalSize && count > 0 && r.manifest.TotalSize > 0) {
		return nil, fmt.Errorf("sharded: chunk %d of size %d starts beyond end of object (%d bytes)",
			first, chunkSize, r.manifest.TotalSize)
	}

	end := offset + count*chunkSize
	if end > r.manifest.TotalSize || end < offset {
		end = r.manifest.TotalSize
	}

	return &Chunks{
		ctx:       ctx,
		r:         r,
		chunkSize: chunkSize,
		index:     first,
		offset:    offset,
		end:       end,
		shard:     -1,
	}, nil
}

// ReadRange returns the bytes [offset, offset+limit) as a stream. A negative
// limit reads to the end of the object.
func (r *Reader) ReadRange(ctx context.Context, offset, limit int64) (io.ReadCloser, error) {
	if offset < 0 || offset > r.manifest.TotalSize {
		return nil, fmt.Errorf("sharded: offset %d outside object of %d bytes", offset, r.manifest.TotalSize)
	}
	end := r.manifest.TotalSize
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}
	return &rangeReader{c: Chunks{
		ctx:    ctx,
		r:      r,
		offset: offset,
		end:    end,
		shard:  -1,
	}}, nil
}

// Chunks is a forward-only window of chunks. It holds at most one open
// shard reader at a time.
type Chunks struct {
	ctx       context.Context
	r         *Reader
	chunkSize int64
	index     int64
	offset    int64 // next byte to read
	end       int64 // exclusive end of the window

	shard  int // index of the shard behind cur, -1 if none
	cur    *blob.Reader
	closed bool
}

// Index returns the chunk index the next call to Next will return.
func (c *Chunks) Index() int64 {
	return c.index
}

// Next returns the next chunk, or io.EOF when the window is exhausted.
// A shard holding fewer bytes than its manifest entry yields io.ErrUnexpectedEOF.
func (c *Chunks) Next() ([]byte, error) {
	if c.closed {
		return nil, io.ErrClosedPipe
	}
	if c.offset >= c.end {
		return nil, io.EOF
	}

	n := c.chunkSize
	if c.offset+n > c.end {
		n = c.end - c.offset
	}
	buf := make([]byte, n)
	if _, err := c.fill(buf); err != nil {
		return nil, fmt.Errorf("sharded: chunk %d: %w", c.index, err)
	}
	c.index++
	return buf, nil
}

// fill reads exactly len(buf) bytes starting at c.offset, crossing shard
// boundaries as needed.
func (c *Chunks) fill(buf []byte) (int, error) {
	var filled int
	for filled < len(buf) {
		if c.cur == nil {
			if err := c.openShard(); err != nil {
				return filled, err
			}
		}

		n, err := io.ReadFull(c.cur, buf[filled:])
		filled += n
		c.offset += int64(n)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			info := c.r.manifest.Shards[c.shard]
			if c.offset != info.Offset+info.Size {
				return filled, fmt.Errorf("shard %d ended at %d, want %d: %w",
					c.shard, c.offset, info.Offset+info.Size, io.ErrUnexpectedEOF)
			}
			c.closeShard()
		default:
			return filled, err
		}

		// Move on once the current shard is fully consumed.
		if c.cur != nil {
			info := c.r.manifest.Shards[c.shard]
			if c.offset == info.Offset+info.Size {
				c.closeShard()
			}
		}
	}
	return filled, nil
}

func (c *Chunks) openShard() error {
	idx := c.r.manifest.ShardAt(c.offset)
	if idx < 0 {
		return fmt.Errorf("no shard holds offset %d: %w", c.offset, io.ErrUnexpectedEOF)
	}
	info := c.r.manifest.Shards[idx]
	path := c.r.manifest.PartsPrefix + info.Object

	rd, err := c.r.bucket.NewRangeReader(c.ctx, path, c.offset-info.Offset, info.Offset+info.Size-c.offset, nil)
	if err != nil {
		return fmt.Errorf("open shard %d: %w", idx, err)
	}
	c.cur = rd
	c.shard = idx
	return nil
}

func (c *Chunks) closeShard() {
	if c.cur != nil {
		c.cur.Close()
		c.cur = nil
	}
	c.shard = -1
}

// Close releases the open shard reader. It is safe to call more than once.
func (c *Chunks) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var err error
	if c.cur != nil {
		err = c.cur.Close()
		c.cur = nil
	}
	return err
}

// rangeReader adapts a window to io.Reader.
type rangeReader struct {
	c Chunks
}

func (rr *rangeReader) Read(p []byte) (int, error) {
	if rr.c.closed {
		return 0, io.ErrClosedPipe
	}
	if rr.c.offset >= rr.c.end {
		return 0, io.EOF
	}
	if remaining := rr.c.end - rr.c.offset; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	return rr.c.fill(p)
}

func (rr *rangeReader) Close() error {
	return rr.c.Close()
}
