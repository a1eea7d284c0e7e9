package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Fetcher opens chunk windows of a single object.
type Fetcher interface {
	Fetch(ctx context.Context, plan ChunkPlan) (ChunkStream, error)
}

// ChunkStream is a forward-only sequence of chunks. Next returns io.EOF when
// the window is exhausted.
type ChunkStream interface {
	Next() ([]byte, error)
	Close() error
}

// StreamCursor reports the progress of an Assembler.
type StreamCursor struct {
	Sent      int64
	Remaining int64
}

// AssemblerOptions configures an Assembler.
type AssemblerOptions struct {
	// Pacer adapts chunk size and delay. Defaults to NewPacer(DefaultPacingConfig()).
	Pacer *Pacer

	// Limiter caps the egress rate of Stream. Nil means unlimited.
	Limiter *rate.Limiter

	Logger *zerolog.Logger

	// Overridable in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Assembler delivers the bytes of one range as a lazy sequence of chunks.
// It serves exactly one response and cannot be restarted.
type Assembler struct {
	src     Fetcher
	r       ByteRange
	pacer   *Pacer
	limiter *rate.Limiter
	log     zerolog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	offset    int64 // next byte to emit
	sent      int64
	remaining int64

	win     ChunkStream
	winSize int64
	trim    int64 // bytes to drop from the next chunk of win

	lastLen  int64 // length of the last emitted chunk, 0 once observed
	lastEmit time.Time

	err      error // terminal error, returned again by later calls
	streamed bool
	closed   bool
}

// NewAssembler returns an Assembler for r. No fetch happens until the first
// call to Next.
func NewAssembler(src Fetcher, r ByteRange, opts AssemblerOptions) *Assembler {
	a := &Assembler{
		src:       src,
		r:         r,
		pacer:     opts.Pacer,
		limiter:   opts.Limiter,
		now:       opts.now,
		sleep:     opts.sleep,
		offset:    r.Start,
		remaining: r.Length(),
	}
	if a.pacer == nil {
		a.pacer = NewPacer(DefaultPacingConfig())
	}
	if opts.Logger != nil {
		a.log = *opts.Logger
	} else {
		a.log = zerolog.Nop()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.sleep == nil {
		a.sleep = sleepContext
	}
	return a
}

// Cursor returns the bytes sent and remaining.
func (a *Assembler) Cursor() StreamCursor {
	return StreamCursor{Sent: a.sent, Remaining: a.remaining}
}

// Next returns the next chunk of the range, or io.EOF once every byte has
// been returned. The time between two calls is taken as the time the
// consumer needed for the previous chunk. After a failure every later call
// returns the same error; after an explicit Close it returns ErrConsumed.
func (a *Assembler) Next(ctx context.Context) ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	chunk, err := a.next(ctx)
	if err != nil && err != io.EOF {
		a.err = err
	}
	return chunk, err
}

func (a *Assembler) next(ctx context.Context) ([]byte, error) {
	if a.closed {
		if a.remaining == 0 {
			return nil, io.EOF
		}
		return nil, ErrConsumed
	}
	if a.remaining == 0 {
		a.Close()
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		a.Close()
		return nil, err
	}

	if a.lastLen > 0 {
		delay := a.pacer.Observe(a.lastLen, a.now().Sub(a.lastEmit))
		a.lastLen = 0
		if delay > 0 {
			if err := a.sleep(ctx, delay); err != nil {
				a.Close()
				return nil, err
			}
		}
	}

	if size := a.pacer.ChunkSize(); a.win != nil && size != a.winSize {
		a.closeWindow()
	}
	if a.win == nil {
		if err := a.openWindow(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	chunk, err := a.win.Next()
	if err != nil {
		a.Close()
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, io.EOF):
			return nil, fmt.Errorf("%w: window ended at offset %d with %d bytes remaining",
				ErrShortRead, a.offset, a.remaining)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, fmt.Errorf("%w: %w", ErrShortRead, err)
		default:
			return nil, fmt.Errorf("%w: offset %d: %w", ErrUpstream, a.offset, err)
		}
	}

	if a.trim > 0 {
		if int64(len(chunk)) <= a.trim {
			a.Close()
			return nil, fmt.Errorf("%w: chunk of %d bytes shorter than trim %d at offset %d",
				ErrShortRead, len(chunk), a.trim, a.offset)
		}
		chunk = chunk[a.trim:]
		a.trim = 0
	}
	if len(chunk) == 0 {
		a.Close()
		return nil, fmt.Errorf("%w: empty chunk at offset %d", ErrShortRead, a.offset)
	}
	if int64(len(chunk)) > a.remaining {
		chunk = chunk[:a.remaining]
	}

	n := int64(len(chunk))
	a.offset += n
	a.sent += n
	a.remaining -= n
	a.lastLen = n
	a.lastEmit = a.now()
	if a.remaining == 0 {
		a.closeWindow()
	}
	return chunk, nil
}

func (a *Assembler) openWindow(ctx context.Context) error {
	rest := ByteRange{Start: a.offset, End: a.r.End, Total: a.r.Total}
	plan := PlanChunks(rest, a.pacer.ChunkSize())

	a.log.Debug().
		Int64("offset", plan.Offset).
		Int64("chunk_size", plan.ChunkSize).
		Int64("first_index", plan.FirstIndex).
		Int64("count", plan.Count).
		Msg("opening chunk window")

	win, err := a.src.Fetch(ctx, plan)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: fetch chunks %d+%d: %w", ErrUpstream, plan.FirstIndex, plan.Count, err)
	}
	a.win = win
	a.winSize = plan.ChunkSize
	a.trim = plan.Trim()
	return nil
}

func (a *Assembler) closeWindow() {
	if a.win == nil {
		return
	}
	if err := a.win.Close(); err != nil {
		a.log.Debug().Err(err).Msg("closing chunk window")
	}
	a.win = nil
	a.trim = 0
}

// Stream writes the whole range to w and returns the number of bytes
// written. It flushes after every chunk when w is an http.Flusher and
// always closes the Assembler.
func (a *Assembler) Stream(ctx context.Context, w io.Writer) (int64, error) {
	if a.streamed {
		return 0, ErrConsumed
	}
	a.streamed = true
	defer a.Close()

	flusher, _ := w.(http.Flusher)
	var written int64
	for {
		chunk, err := a.Next(ctx)
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}

		n, err := a.write(ctx, w, chunk)
		written += n
		if err != nil {
			return written, err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// write sends p, waiting on the limiter in pieces no larger than its burst.
func (a *Assembler) write(ctx context.Context, w io.Writer, p []byte) (int64, error) {
	if a.limiter == nil || a.limiter.Limit() == rate.Inf || a.limiter.Burst() <= 0 {
		n, err := w.Write(p)
		if err != nil {
			return int64(n), fmt.Errorf("stream: write: %w", err)
		}
		return int64(n), nil
	}

	burst := a.limiter.Burst()
	var written int64
	for len(p) > 0 {
		piece := p
		if len(piece) > burst {
			piece = piece[:burst]
		}
		if err := a.limiter.WaitN(ctx, len(piece)); err != nil {
			return written, err
		}
		n, err := w.Write(piece)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("stream: write: %w", err)
		}
		p = p[len(piece):]
	}
	return written, nil
}

// Close releases the open chunk window. It is safe to call more than once.
func (a *Assembler) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.closeWindow()
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
