package sharded

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"sync"
	"time"

	"gocloud.dev/blob"
)

// ErrShardFilled is returned by File.Next when the shard at the current index
// was written in a previous session. Callers should continue to the next shard.
var ErrShardFilled = errors.New("sharded: shard already filled")

// ErrIncomplete is returned by File.Complete when some shards were never written.
var ErrIncomplete = errors.New("sharded: object has unwritten shards")

type shardStatus string

const (
	shardPending    shardStatus = "pending"
	shardInProgress shardStatus = "in_progress"
	shardCompleted  shardStatus = "completed"
)

type shardState struct {
	Status   shardStatus `json:"status"`
	Object   string      `json:"object,omitempty"`
	Offset   int64       `json:"offset,omitempty"`
	Size     int64       `json:"size,omitempty"`
	Checksum string      `json:"checksum,omitempty"`
}

// state tracks write progress for resume support.
type state struct {
	TotalSize   int64             `json:"total_size,omitempty"`
	ShardSize   int64             `json:"shard_size"`
	PartsPrefix string            `json:"parts_prefix"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Shards      []shardState      `json:"shards"`
	StartedAt   time.Time         `json:"started_at"`
}

// Options configures sharded writes.
type Options struct {
	ShardSize       int64
	Size            int64
	Metadata        map[string]string
	ComputeChecksum bool
}

// Option is a functional option for Write.
type Option func(*Options)

// WithShardSize sets the size of each shard.
func WithShardSize(size int64) Option {
	return func(o *Options) {
		o.ShardSize = size
	}
}

// WithSize sets the total size. When set, File.Next returns io.EOF after all
// shards have been handed out.
func WithSize(size int64) Option {
	return func(o *Options) {
		o.Size = size
	}
}

// WithMetadata sets caller-defined metadata stored in the manifest.
func WithMetadata(metadata map[string]string) Option {
	return func(o *Options) {
		o.Metadata = metadata
	}
}

// WithChecksum enables or disables SHA-256 computation during writes.
// Default is true.
func WithChecksum(compute bool) Option {
	return func(o *Options) {
		o.ComputeChecksum = compute
	}
}

// File is a sharded object being written.
type File struct {
	bucket *blob.Bucket
	dest   string
	opts   Options

	mu             sync.Mutex
	state          *state
	next           int
	completedCount int
	totalShards    int
	closed         bool
}

// Write creates or resumes a sharded write to dest.
func Write(ctx context.Context, bucket *blob.Bucket, dest string, options ...Option) (*File, error) {
	opts := Options{ComputeChecksum: true}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.ShardSize <= 0 {
		return nil, errors.New("sharded: shard size must be positive")
	}

	f := &File{
		bucket: bucket,
		dest:   dest,
		opts:   opts,
	}
	if err := f.loadState(ctx); err != nil {
		return nil, fmt.Errorf("sharded: load state: %w", err)
	}
	return f, nil
}

func (f *File) freshState() *state {
	return &state{
		TotalSize:   f.opts.Size,
		ShardSize:   f.opts.ShardSize,
		PartsPrefix: partsPrefix(f.dest),
		Metadata:    f.opts.Metadata,
		Shards:      []shardState{},
		StartedAt:   time.Now(),
	}
}

func (f *File) loadState(ctx context.Context) error {
	data, err := f.bucket.ReadAll(ctx, partsPrefix(f.dest)+"state.json")
	if err != nil {
		if IsNotExist(err) {
			f.state = f.freshState()
			f.totalShards = shardCount(f.opts.Size, f.opts.ShardSize)
			return nil
		}
		return err
	}

	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}
	if s.ShardSize != f.opts.ShardSize {
		return fmt.Errorf("stored shard size %d differs from requested %d", s.ShardSize, f.opts.ShardSize)
	}

	// Interrupted shards go back to pending.
	for i := range s.Shards {
		switch s.Shards[i].Status {
		case shardCompleted:
			f.completedCount++
		case shardInProgress:
			s.Shards[i].Status = shardPending
		}
	}
	if s.TotalSize == 0 {
		s.TotalSize = f.opts.Size
	}
	f.state = &s
	f.totalShards = shardCount(s.TotalSize, s.ShardSize)
	return nil
}

func shardCount(size, shardSize int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + shardSize - 1) / shardSize)
}

// SaveState persists write progress so a later Write can resume.
// Safe to call while shards are being written.
func (f *File) SaveState(ctx context.Context) error {
	f.mu.Lock()
	data, err := json.MarshalIndent(f.state, "", "  ")
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.bucket.WriteAll(ctx, partsPrefix(f.dest)+"state.json", data, nil)
}

// Metadata returns the metadata of the stored state, which differs from the
// Write options when resuming.
func (f *File) Metadata() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Metadata
}

// Reset deletes everything written so far and starts over with the current options.
func (f *File) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.state.Shards {
		if s.Object == "" {
			continue
		}
		path := f.state.PartsPrefix + s.Object
		if err := f.bucket.Delete(ctx, path); err != nil && !IsNotExist(err) {
			return fmt.Errorf("sharded: delete shard %s: %w", path, err)
		}
	}
	if err := f.bucket.Delete(ctx, partsPrefix(f.dest)+"state.json"); err != nil && !IsNotExist(err) {
		return fmt.Errorf("sharded: delete state: %w", err)
	}

	f.state = f.freshState()
	f.totalShards = shardCount(f.opts.Size, f.opts.ShardSize)
	f.next = 0
	f.completedCount = 0
	return nil
}

// Next returns the next shard to be written.
// Returns ErrShardFilled along with the shard if it is already stored,
// and io.EOF once all shards are handed out (requires WithSize).
func (f *File) Next(ctx context.Context) (*Shard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, errors.New("sharded: file is closed")
	}
	if f.totalShards > 0 && f.next >= f.totalShards {
		return nil, io.EOF
	}

	idx := f.next
	f.next++

	offset := int64(idx) * f.state.ShardSize
	length := f.state.ShardSize
	if f.state.TotalSize > 0 && offset+length > f.state.TotalSize {
		length = f.state.TotalSize - offset
	}

	shard := &Shard{
		file:   f,
		index:  idx,
		offset: offset,
		length: length,
	}

	for len(f.state.Shards) <= idx {
		f.state.Shards = append(f.state.Shards, shardState{Status: shardPending})
	}
	if f.state.Shards[idx].Status == shardCompleted {
		shard.filled = true
		return shard, ErrShardFilled
	}
	f.state.Shards[idx].Status = shardInProgress
	if f.opts.ComputeChecksum {
		shard.hash = sha256.New()
	}
	return shard, nil
}

// Complete writes the manifest and removes the write state.
func (f *File) Complete(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return errors.New("sharded: file is already closed")
	}

	manifest := Manifest{
		TotalSize:   f.state.TotalSize,
		ShardSize:   f.state.ShardSize,
		PartsPrefix: f.state.PartsPrefix,
		Metadata:    f.state.Metadata,
		Shards:      make([]ShardInfo, 0, len(f.state.Shards)),
		CompletedAt: time.Now().UTC(),
	}
	shards := f.state.Shards
	if f.state.TotalSize == 0 {
		// Unknown size: the source ran dry on the last shard handed out.
		for len(shards) > 0 && shards[len(shards)-1].Status != shardCompleted {
			shards = shards[:len(shards)-1]
		}
	}
	if len(shards) < f.totalShards {
		return fmt.Errorf("%w: %d of %d shards handed out", ErrIncomplete, len(shards), f.totalShards)
	}
	var written int64
	for i, s := range shards {
		if s.Status != shardCompleted {
			return fmt.Errorf("%w: shard %d is %s", ErrIncomplete, i, s.Status)
		}
		manifest.Shards = append(manifest.Shards, ShardInfo{
			Object:   s.Object,
			Offset:   s.Offset,
			Size:     s.Size,
			Checksum: s.Checksum,
		})
		written += s.Size
	}
	if manifest.TotalSize == 0 {
		manifest.TotalSize = written
	}
	if err := manifest.Check(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("sharded: marshal manifest: %w", err)
	}
	if err := f.bucket.WriteAll(ctx, manifestPath(f.dest), data, nil); err != nil {
		return fmt.Errorf("sharded: write manifest: %w", err)
	}
	if err := f.bucket.Delete(ctx, partsPrefix(f.dest)+"state.json"); err != nil && !IsNotExist(err) {
		return fmt.Errorf("sharded: delete state: %w", err)
	}
	f.closed = true
	return nil
}

// CompletedCount returns the number of shards stored so far.
func (f *File) CompletedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completedCount
}

// TotalShards returns the number of shards, or 0 if the size is unknown.
func (f *File) TotalShards() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalShards
}

// Shard is a single shard being written.
type Shard struct {
	file   *File
	index  int
	offset int64
	length int64
	filled bool

	mu     sync.Mutex
	writer *blob.Writer
	cancel context.CancelFunc
	hash   hash.Hash
	size   int64
	closed bool
}

// Index returns the shard index.
func (s *Shard) Index() int { return s.index }

// Offset returns the byte offset of the shard in the object.
func (s *Shard) Offset() int64 { return s.offset }

// Length returns the expected shard size; for the last shard of an object
// of unknown size it is the configured shard size.
func (s *Shard) Length() int64 { return s.length }

func (s *Shard) path() string {
	return s.file.state.PartsPrefix + shardObject(s.index)
}

// Write appends data to the shard, opening the blob writer on first use.
func (s *Shard) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.filled {
		return 0, errors.New("sharded: shard is closed")
	}
	if s.writer == nil {
		ctx, cancel := context.WithCancel(context.Background())
		w, err := s.file.bucket.NewWriter(ctx, s.path(), nil)
		if err != nil {
			cancel()
			return 0, fmt.Errorf("sharded: create shard writer: %w", err)
		}
		s.writer = w
		s.cancel = cancel
	}

	n, err := s.writer.Write(p)
	if s.hash != nil {
		s.hash.Write(p[:n])
	}
	s.size += int64(n)
	return n, err
}

// Abort discards the shard and marks it pending again. Safe to call after Close.
func (s *Shard) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	if s.writer != nil {
		s.cancel()
		s.writer.Close()
		// Resumable uploads may have committed partial data.
		s.file.bucket.Delete(context.Background(), s.path())
	}

	s.file.mu.Lock()
	if !s.filled {
		s.file.state.Shards[s.index].Status = shardPending
	}
	s.file.mu.Unlock()
}

// Close commits the shard to storage and records it in memory.
// State is not persisted; call File.SaveState periodically.
func (s *Shard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.filled {
		return nil
	}
	if s.writer == nil {
		s.file.mu.Lock()
		s.file.state.Shards[s.index].Status = shardPending
		s.file.mu.Unlock()
		return errors.New("sharded: close of empty shard")
	}

	err := s.writer.Close()
	s.cancel()
	if err != nil {
		s.file.mu.Lock()
		s.file.state.Shards[s.index].Status = shardPending
		s.file.mu.Unlock()
		return fmt.Errorf("sharded: close shard writer: %w", err)
	}

	var checksum string
	if s.hash != nil {
		checksum = hex.EncodeToString(s.hash.Sum(nil))
	}

	s.file.mu.Lock()
	s.file.state.Shards[s.index] = shardState{
		Status:   shardCompleted,
		Object:   shardObject(s.index),
		Offset:   s.offset,
		Size:     s.size,
		Checksum: checksum,
	}
	s.file.completedCount++
	s.file.mu.Unlock()
	return nil
}
