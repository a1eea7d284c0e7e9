package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gocloud.dev/blob"

	"github.com/ligustah/shardstream/internal/progress"
	"github.com/ligustah/shardstream/internal/source"
	"github.com/ligustah/shardstream/pkg/sharded"
)

var (
	// ErrSourceChanged is returned when resuming an ingest whose source no
	// longer matches the stored ETag or size.
	ErrSourceChanged = errors.New("ingest: source changed since the last attempt")

	// ErrExists is returned when dest is already a completed object.
	ErrExists = errors.New("ingest: object already exists")
)

// Options configures an ingest.
type Options struct {
	// ShardSize is the size of each stored shard.
	ShardSize int64

	// StateInterval is how often to persist state (every N shards).
	// Default: 10
	StateInterval int

	// Force discards stored state or a completed object at dest.
	Force bool

	// NoChecksum disables SHA256 checksums of the shards.
	NoChecksum bool

	// Name and ContentType override what the source reports.
	Name        string
	ContentType string

	// AccessCode protects the object. A random one is generated when empty.
	AccessCode string

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Logger receives per-shard debug logs. Nil disables them.
	Logger *zerolog.Logger
}

// Result describes a completed ingest.
type Result struct {
	Dest       string
	Size       int64
	Shards     int
	Skipped    int
	AccessCode string
	Name       string
}

// Ingest reads src into bucket as the sharded object dest.
func Ingest(ctx context.Context, bucket *blob.Bucket, dest string, src *source.Source, opts Options) (*Result, error) {
	if opts.ShardSize <= 0 {
		return nil, fmt.Errorf("ingest: shard size must be positive, got %d", opts.ShardSize)
	}
	if opts.StateInterval <= 0 {
		opts.StateInterval = 10
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("dest", dest).Str("source", src.Location).Logger()

	if _, err := sharded.ReadManifest(ctx, bucket, dest); err == nil {
		if !opts.Force {
			return nil, fmt.Errorf("%w: %s", ErrExists, dest)
		}
		if err := sharded.Delete(ctx, bucket, dest); err != nil {
			return nil, fmt.Errorf("ingest: replace %s: %w", dest, err)
		}
	} else if !sharded.IsNotExist(err) {
		return nil, fmt.Errorf("ingest: check %s: %w", dest, err)
	}

	size := src.Size
	if size < 0 {
		size = 0
	}
	writeOpts := []sharded.Option{
		sharded.WithShardSize(opts.ShardSize),
		sharded.WithSize(size),
		sharded.WithMetadata(metadata(src, opts)),
		sharded.WithChecksum(!opts.NoChecksum),
	}

	f, err := sharded.Write(ctx, bucket, dest, writeOpts...)
	if err != nil && opts.Force {
		// State from a run with another shard size cannot be loaded.
		logger.Debug().Err(err).Msg("discarding stored state")
		if derr := sharded.DeletePartial(ctx, bucket, dest); derr == nil {
			f, err = sharded.Write(ctx, bucket, dest, writeOpts...)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	if changed(f.Metadata(), src) {
		if !opts.Force {
			return nil, fmt.Errorf("%w (stored etag %q, current %q)", ErrSourceChanged, f.Metadata()[sharded.MetaSourceETag], src.ETag)
		}
		if err := f.Reset(ctx); err != nil {
			return nil, fmt.Errorf("ingest: reset: %w", err)
		}
	}
	if opts.Force && f.CompletedCount() > 0 {
		if err := f.Reset(ctx); err != nil {
			return nil, fmt.Errorf("ingest: reset: %w", err)
		}
	}

	w := &writer{
		file:     f,
		src:      src,
		opts:     opts,
		reporter: opts.Progress,
		logger:   logger,
	}
	if err := w.run(ctx); err != nil {
		// Keep what was stored for the next attempt.
		if serr := f.SaveState(context.WithoutCancel(ctx)); serr != nil {
			logger.Warn().Err(serr).Msg("save state")
		}
		return nil, err
	}

	if err := f.Complete(ctx); err != nil {
		return nil, fmt.Errorf("ingest: complete: %w", err)
	}
	manifest, err := sharded.ReadManifest(ctx, bucket, dest)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	return &Result{
		Dest:       dest,
		Size:       manifest.TotalSize,
		Shards:     len(manifest.Shards),
		Skipped:    w.skipped,
		AccessCode: manifest.Metadata[sharded.MetaAccessCode],
		Name:       manifest.Metadata[sharded.MetaName],
	}, nil
}

func metadata(src *source.Source, opts Options) map[string]string {
	md := map[string]string{
		sharded.MetaName:        src.Name,
		sharded.MetaContentType: src.ContentType,
		sharded.MetaAccessCode:  opts.AccessCode,
		sharded.MetaSource:      src.Location,
		sharded.MetaSourceETag:  src.ETag,
	}
	if opts.Name != "" {
		md[sharded.MetaName] = opts.Name
	}
	if opts.ContentType != "" {
		md[sharded.MetaContentType] = opts.ContentType
	}
	if md[sharded.MetaAccessCode] == "" {
		md[sharded.MetaAccessCode] = uuid.NewString()
	}
	if src.Size >= 0 {
		md[sharded.MetaSourceSize] = strconv.FormatInt(src.Size, 10)
	}
	for k, v := range md {
		if v == "" {
			delete(md, k)
		}
	}
	return md
}

// changed reports whether stored metadata belongs to a different version of src.
func changed(stored map[string]string, src *source.Source) bool {
	if etag := stored[sharded.MetaSourceETag]; etag != "" && etag != src.ETag {
		return true
	}
	if size := stored[sharded.MetaSourceSize]; size != "" && size != strconv.FormatInt(src.Size, 10) {
		return true
	}
	return false
}

// writer copies the source into shards in order.
type writer struct {
	file     *sharded.File
	src      *source.Source
	opts     Options
	reporter *progress.Reporter
	logger   zerolog.Logger

	body    io.ReadCloser
	written int
	skipped int
}

func (w *writer) run(ctx context.Context) error {
	defer func() {
		if w.body != nil {
			w.body.Close()
		}
	}()

	for {
		shard, err := w.file.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, sharded.ErrShardFilled) {
			if err := w.skip(shard); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("ingest: next shard: %w", err)
		}

		done, err := w.copy(ctx, shard)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (w *writer) skip(shard *sharded.Shard) error {
	w.skipped++
	if w.reporter != nil {
		w.reporter.ShardSkipped(shard.Length())
	}
	w.logger.Debug().Int("shard", shard.Index()).Msg("shard already stored")

	if w.body == nil {
		return nil
	}
	// A stored shard after a written one: read past it.
	if _, err := io.CopyN(io.Discard, w.body, shard.Length()); err != nil {
		return fmt.Errorf("ingest: skip shard %d: %w", shard.Index(), err)
	}
	return nil
}

// copy fills shard from the source. done is true when a source of unknown
// size ran out.
func (w *writer) copy(ctx context.Context, shard *sharded.Shard) (done bool, err error) {
	if w.body == nil {
		body, err := w.src.OpenAt(ctx, shard.Offset())
		if err != nil {
			shard.Abort()
			return false, fmt.Errorf("ingest: open source at %d: %w", shard.Offset(), err)
		}
		w.body = body
	}

	if w.reporter != nil {
		w.reporter.ShardStarted()
	}
	n, err := io.CopyN(&countingWriter{w: shard, reporter: w.reporter}, w.body, shard.Length())

	knownSize := w.src.Size > 0
	switch {
	case err == nil:
	case errors.Is(err, io.EOF) && !knownSize:
		done = true
		if n == 0 {
			shard.Abort()
			if w.reporter != nil {
				w.reporter.ShardFailed()
			}
			return true, nil
		}
	case errors.Is(err, io.EOF):
		w.fail(shard)
		return false, fmt.Errorf("ingest: shard %d: source ended after %d of %d bytes: %w",
			shard.Index(), n, shard.Length(), io.ErrUnexpectedEOF)
	default:
		w.fail(shard)
		return false, fmt.Errorf("ingest: shard %d: %w", shard.Index(), err)
	}

	if err := shard.Close(); err != nil {
		w.fail(shard)
		return false, fmt.Errorf("ingest: close shard %d: %w", shard.Index(), err)
	}
	if w.reporter != nil {
		w.reporter.ShardCompleted()
	}
	w.logger.Debug().Int("shard", shard.Index()).Int64("bytes", n).Msg("shard stored")

	w.written++
	if w.written%w.opts.StateInterval == 0 {
		if err := w.file.SaveState(ctx); err != nil {
			return false, fmt.Errorf("ingest: save state: %w", err)
		}
	}
	return done, nil
}

func (w *writer) fail(shard *sharded.Shard) {
	shard.Abort()
	if w.reporter != nil {
		w.reporter.ShardFailed()
	}
}

// countingWriter reports bytes as they are written.
type countingWriter struct {
	w        io.Writer
	reporter *progress.Reporter
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if c.reporter != nil {
		c.reporter.BytesWritten(int64(n))
	}
	return n, err
}
