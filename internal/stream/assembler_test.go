package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// memSource serves chunk windows over an in-memory object.
type memSource struct {
	data      []byte
	limit     int64 // windows stop here when > 0, simulating a truncated object
	fetchErr  error
	chunkErr  error // returned by Next after failAfter chunks
	failAfter int
	empty     bool // every chunk is empty

	plans  []ChunkPlan
	open   int
	served int
}

func (s *memSource) Fetch(ctx context.Context, plan ChunkPlan) (ChunkStream, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	s.plans = append(s.plans, plan)
	s.open++

	size := int64(len(s.data))
	if s.limit > 0 {
		size = s.limit
	}
	offset := plan.FirstIndex * plan.ChunkSize
	end := offset + plan.Count*plan.ChunkSize
	if end > size {
		end = size
	}
	return &memWindow{src: s, offset: offset, end: end, size: plan.ChunkSize}, nil
}

type memWindow struct {
	src         *memSource
	offset, end int64
	size        int64
	closed      bool
}

func (w *memWindow) Next() ([]byte, error) {
	if w.closed {
		return nil, errors.New("window closed")
	}
	if w.src.chunkErr != nil && w.src.served >= w.src.failAfter {
		return nil, w.src.chunkErr
	}
	if w.src.empty {
		return []byte{}, nil
	}
	if w.offset >= w.end {
		return nil, io.EOF
	}
	n := w.size
	if w.offset+n > w.end {
		n = w.end - w.offset
	}
	chunk := make([]byte, n)
	copy(chunk, w.src.data[w.offset:w.offset+n])
	w.offset += n
	w.src.served++
	return chunk, nil
}

func (w *memWindow) Close() error {
	if !w.closed {
		w.closed = true
		w.src.open--
	}
	return nil
}

// fakeClock advances only when the test says so.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func randomData(rng *rand.Rand, n int) []byte {
	data := make([]byte, n)
	rng.Read(data)
	return data
}

func testOptions(cfg PacingConfig, clock *fakeClock, sleeps *[]time.Duration) AssemblerOptions {
	return AssemblerOptions{
		Pacer: NewPacer(cfg),
		now:   clock.now,
		sleep: func(ctx context.Context, d time.Duration) error {
			if sleeps != nil {
				*sleeps = append(*sleeps, d)
			}
			return ctx.Err()
		},
	}
}

func drain(t *testing.T, ctx context.Context, a *Assembler, between func([]byte)) ([]byte, error) {
	t.Helper()
	var out bytes.Buffer
	for {
		chunk, err := a.Next(ctx)
		if err == io.EOF {
			return out.Bytes(), nil
		}
		if err != nil {
			return out.Bytes(), err
		}
		out.Write(chunk)
		if between != nil {
			between(chunk)
		}
	}
}

func TestAssemblerTrimsFirstChunk(t *testing.T) {
	ctx := context.Background()
	src := &memSource{data: randomData(rand.New(rand.NewSource(1)), 10_000_000)}
	r, _, err := ResolveRange("bytes=1500000-", int64(len(src.data)))
	if err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}

	cfg := DefaultPacingConfig()
	cfg.InitialChunk = 1_048_576
	clock := &fakeClock{t: time.Unix(0, 0)}
	a := NewAssembler(src, r, testOptions(cfg, clock, nil))

	first, err := a.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got := src.plans[0]; got.FirstIndex != 1 || got.Trim() != 451_424 {
		t.Fatalf("expected first index 1 and trim 451424, got %+v (trim %d)", got, got.Trim())
	}
	if len(first) != 1_048_576-451_424 {
		t.Fatalf("expected first chunk of %d bytes, got %d", 1_048_576-451_424, len(first))
	}
	if !bytes.Equal(first, src.data[1_500_000:1_500_000+len(first)]) {
		t.Fatal("first chunk is not aligned to the range start")
	}

	// Consumer at exactly the target speed keeps the chunk size.
	clock.advance(time.Duration(float64(len(first)) / cfg.TargetSpeed * float64(time.Second)))
	rest, err := drain(t, ctx, a, func(chunk []byte) {
		clock.advance(time.Duration(float64(len(chunk)) / cfg.TargetSpeed * float64(time.Second)))
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	got := append(first, rest...)
	if !bytes.Equal(got, src.data[1_500_000:]) {
		t.Fatalf("expected %d bytes matching the object, got %d", 8_500_000, len(got))
	}
	if c := a.Cursor(); c.Sent != 8_500_000 || c.Remaining != 0 {
		t.Errorf("unexpected cursor %+v", c)
	}
	if src.open != 0 {
		t.Errorf("expected all windows closed, %d open", src.open)
	}
}

func TestAssemblerExactBytes(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	cfg := PacingConfig{
		MinChunk:         16,
		MaxChunk:         2048,
		InitialChunk:     100,
		TargetSpeed:      100_000,
		TargetBufferTime: 10 * time.Millisecond,
		Smoothing:        0.5,
	}

	var replanned int
	for i := 0; i < 200; i++ {
		src := &memSource{data: randomData(rng, 1+rng.Intn(50_000))}
		total := int64(len(src.data))
		start := rng.Int63n(total)
		end := start + rng.Int63n(total-start)
		r := ByteRange{Start: start, End: end, Total: total}

		clock := &fakeClock{t: time.Unix(0, 0)}
		var sleeps []time.Duration
		a := NewAssembler(src, r, testOptions(cfg, clock, &sleeps))

		got, err := drain(t, context.Background(), a, func(chunk []byte) {
			// Consumers alternate between fast and slow.
			clock.advance(time.Duration(rng.Int63n(int64(20 * time.Millisecond))))
		})
		if err != nil {
			t.Fatalf("range %+v: %v", r, err)
		}
		if int64(len(got)) != r.Length() {
			t.Fatalf("range %+v: expected %d bytes, got %d", r, r.Length(), len(got))
		}
		if !bytes.Equal(got, src.data[start:end+1]) {
			t.Fatalf("range %+v: content mismatch", r)
		}
		if src.open != 0 {
			t.Fatalf("range %+v: %d windows left open", r, src.open)
		}
		for _, d := range sleeps {
			if d < cfg.TargetBufferTime/2 || d > 2*cfg.TargetBufferTime {
				t.Fatalf("range %+v: delay %v outside [T/2, 2T]", r, d)
			}
		}
		if len(src.plans) > 1 {
			replanned++
		}
		for j := 1; j < len(src.plans); j++ {
			if src.plans[j].ChunkSize == src.plans[j-1].ChunkSize {
				t.Fatalf("range %+v: replanned without a chunk size change", r)
			}
		}
	}
	if replanned == 0 {
		t.Error("expected some streams to change chunk size mid-stream")
	}
}

func TestAssemblerEmptyRange(t *testing.T) {
	src := &memSource{}
	a := NewAssembler(src, ByteRange{Start: 0, End: -1, Total: 0}, AssemblerOptions{})

	if _, err := a.Next(context.Background()); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if len(src.plans) != 0 {
		t.Error("empty range must not fetch")
	}
}

func TestAssemblerShortRead(t *testing.T) {
	src := &memSource{data: make([]byte, 10_000), limit: 6_000}
	clock := &fakeClock{t: time.Unix(0, 0)}
	cfg := PacingConfig{MinChunk: 1024, MaxChunk: 1024, InitialChunk: 1024}
	a := NewAssembler(src, ByteRange{Start: 0, End: 9_999, Total: 10_000}, testOptions(cfg, clock, nil))

	got, err := drain(t, context.Background(), a, nil)
	if !errors.Is(err, ErrShortRead) {
		t.Fatalf("expected ErrShortRead, got %v", err)
	}
	if len(got) != 6_000 {
		t.Errorf("expected 6000 bytes before the failure, got %d", len(got))
	}
	if src.open != 0 {
		t.Errorf("expected window closed after failure")
	}
	for i := 0; i < 2; i++ {
		if _, again := a.Next(context.Background()); again != err {
			t.Errorf("expected the failure to repeat, got %v", again)
		}
	}
}

func TestAssemblerNextAfterClose(t *testing.T) {
	src := &memSource{data: make([]byte, 100)}
	a := NewAssembler(src, ByteRange{Start: 0, End: 99, Total: 100}, AssemblerOptions{})
	a.Close()

	if _, err := a.Next(context.Background()); !errors.Is(err, ErrConsumed) {
		t.Errorf("expected ErrConsumed after Close, got %v", err)
	}
}

func TestAssemblerShortFirstChunk(t *testing.T) {
	// The window starts at chunk 1 but the object ends inside the trim.
	src := &memSource{data: make([]byte, 4096), limit: 1500}
	clock := &fakeClock{t: time.Unix(0, 0)}
	cfg := PacingConfig{MinChunk: 1024, MaxChunk: 1024, InitialChunk: 1024}
	a := NewAssembler(src, ByteRange{Start: 1600, End: 4095, Total: 4096}, testOptions(cfg, clock, nil))

	if _, err := a.Next(context.Background()); !errors.Is(err, ErrShortRead) {
		t.Fatalf("expected ErrShortRead, got %v", err)
	}
}

func TestAssemblerEmptyChunk(t *testing.T) {
	src := &memSource{data: make([]byte, 100), empty: true}
	a := NewAssembler(src, ByteRange{Start: 0, End: 99, Total: 100}, AssemblerOptions{})

	if _, err := a.Next(context.Background()); !errors.Is(err, ErrShortRead) {
		t.Fatalf("expected ErrShortRead, got %v", err)
	}
}

func TestAssemblerUpstreamErrors(t *testing.T) {
	boom := errors.New("provider unavailable")

	t.Run("fetch", func(t *testing.T) {
		src := &memSource{data: make([]byte, 100), fetchErr: boom}
		a := NewAssembler(src, ByteRange{Start: 0, End: 99, Total: 100}, AssemblerOptions{})

		_, err := a.Next(context.Background())
		if !errors.Is(err, ErrUpstream) || !errors.Is(err, boom) {
			t.Fatalf("expected ErrUpstream wrapping the cause, got %v", err)
		}
	})

	t.Run("mid stream", func(t *testing.T) {
		src := &memSource{data: make([]byte, 10_000), chunkErr: boom, failAfter: 2}
		clock := &fakeClock{t: time.Unix(0, 0)}
		cfg := PacingConfig{MinChunk: 1000, MaxChunk: 1000, InitialChunk: 1000}
		a := NewAssembler(src, ByteRange{Start: 0, End: 9_999, Total: 10_000}, testOptions(cfg, clock, nil))

		got, err := drain(t, context.Background(), a, nil)
		if !errors.Is(err, ErrUpstream) || !errors.Is(err, boom) {
			t.Fatalf("expected ErrUpstream wrapping the cause, got %v", err)
		}
		if len(got) != 2000 {
			t.Errorf("expected 2000 bytes before the failure, got %d", len(got))
		}
		if len(src.plans) != 1 {
			t.Errorf("failed fetches must not be retried, got %d windows", len(src.plans))
		}
		if src.open != 0 {
			t.Error("expected window closed after failure")
		}
	})

	t.Run("truncated shard", func(t *testing.T) {
		src := &memSource{data: make([]byte, 100), chunkErr: io.ErrUnexpectedEOF}
		a := NewAssembler(src, ByteRange{Start: 0, End: 99, Total: 100}, AssemblerOptions{})

		if _, err := a.Next(context.Background()); !errors.Is(err, ErrShortRead) {
			t.Fatalf("expected ErrShortRead, got %v", err)
		}
	})
}

func TestAssemblerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &memSource{data: make([]byte, 10_000)}
	clock := &fakeClock{t: time.Unix(0, 0)}
	cfg := PacingConfig{MinChunk: 1000, MaxChunk: 1000, InitialChunk: 1000}
	a := NewAssembler(src, ByteRange{Start: 0, End: 9_999, Total: 10_000}, testOptions(cfg, clock, nil))

	if _, err := a.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	cancel()

	if _, err := a.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if src.open != 0 {
		t.Error("expected window released on cancellation")
	}
	if src.served != 1 {
		t.Errorf("expected no fetches after cancellation, served %d chunks", src.served)
	}
}

func TestAssemblerPacingDelayHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	src := &memSource{data: make([]byte, 10_000)}
	cfg := PacingConfig{MinChunk: 1000, MaxChunk: 1000, InitialChunk: 1000, TargetBufferTime: time.Hour}
	a := NewAssembler(src, ByteRange{Start: 0, End: 9_999, Total: 10_000}, AssemblerOptions{Pacer: NewPacer(cfg)})

	if _, err := a.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}

	start := time.Now()
	_, err := a.Next(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("pacing delay did not return on cancellation")
	}
}

func TestAssemblerStream(t *testing.T) {
	data := randomData(rand.New(rand.NewSource(3)), 5_000)
	src := &memSource{data: data}
	cfg := PacingConfig{MinChunk: 256, MaxChunk: 1024, InitialChunk: 512}
	a := NewAssembler(src, ByteRange{Start: 1000, End: 1999, Total: 5000}, AssemblerOptions{Pacer: NewPacer(cfg)})

	rec := httptest.NewRecorder()
	n, err := a.Stream(context.Background(), rec)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if n != 1000 {
		t.Errorf("expected 1000 bytes written, got %d", n)
	}
	if !bytes.Equal(rec.Body.Bytes(), data[1000:2000]) {
		t.Error("streamed bytes do not match the range")
	}
	if !rec.Flushed {
		t.Error("expected the recorder to be flushed")
	}
	if src.open != 0 {
		t.Error("expected window closed after Stream")
	}

	if _, err := a.Stream(context.Background(), rec); !errors.Is(err, ErrConsumed) {
		t.Fatalf("expected ErrConsumed on second Stream, got %v", err)
	}
}

type pieceWriter struct {
	buf    bytes.Buffer
	pieces []int
}

func (w *pieceWriter) Write(p []byte) (int, error) {
	w.pieces = append(w.pieces, len(p))
	return w.buf.Write(p)
}

func TestAssemblerStreamLimiter(t *testing.T) {
	data := make([]byte, 4096)
	src := &memSource{data: data}
	cfg := PacingConfig{MinChunk: 1024, MaxChunk: 1024, InitialChunk: 1024}
	a := NewAssembler(src, ByteRange{Start: 0, End: 4095, Total: 4096}, AssemblerOptions{
		Pacer:   NewPacer(cfg),
		Limiter: rate.NewLimiter(rate.Limit(1<<30), 256),
	})

	w := &pieceWriter{}
	n, err := a.Stream(context.Background(), w)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if n != 4096 || w.buf.Len() != 4096 {
		t.Fatalf("expected 4096 bytes, got %d (buffer %d)", n, w.buf.Len())
	}
	for _, p := range w.pieces {
		if p > 256 {
			t.Fatalf("write of %d bytes exceeds limiter burst", p)
		}
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("broken pipe") }

func TestAssemblerStreamWriteError(t *testing.T) {
	src := &memSource{data: make([]byte, 4096)}
	a := NewAssembler(src, ByteRange{Start: 0, End: 4095, Total: 4096}, AssemblerOptions{})

	if _, err := a.Stream(context.Background(), failingWriter{}); err == nil {
		t.Fatal("expected write error")
	}
	if src.open != 0 {
		t.Error("expected window closed after write error")
	}
}
