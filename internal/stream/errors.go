package stream

import "errors"

var (
	// ErrInvalidRange is returned for a Range header that is not a single
	// "bytes=start-[end]" range.
	ErrInvalidRange = errors.New("stream: invalid range")

	// ErrUnsatisfiableRange is returned for a syntactically valid range that
	// does not overlap the object.
	ErrUnsatisfiableRange = errors.New("stream: range not satisfiable")

	// ErrShortRead is returned when the chunk source ends before the range
	// is complete.
	ErrShortRead = errors.New("stream: short read from chunk source")

	// ErrUpstream wraps failures of the chunk source.
	ErrUpstream = errors.New("stream: upstream error")

	// ErrConsumed is returned when an Assembler is streamed a second time or
	// read after Close.
	ErrConsumed = errors.New("stream: assembler already consumed")
)
