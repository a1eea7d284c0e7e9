// Package stream turns HTTP byte-range requests into paced chunk deliveries.
//
// A request flows through four steps:
//
//	r, partial, err := stream.ResolveRange(req.Header.Get("Range"), obj.Size)
//	resp := stream.BuildResponse(r, obj.View(), partial, "no-store")
//	a := stream.NewAssembler(obj, r, stream.AssemblerOptions{Pacer: stream.NewPacer(cfg)})
//	n, err := a.Stream(ctx, w)
//
// ResolveRange validates the header against the object size. BuildResponse
// computes status and headers, which go out before any body byte. The
// Assembler pulls chunk windows from a Fetcher, trims the first chunk of each
// window to the exact requested offset, truncates the last one, and paces
// delivery with a Pacer that adapts the chunk size to the measured speed of
// the consumer.
//
// # Pacing
//
// After each chunk the time the consumer took to accept it is fed to the
// Pacer, which updates an exponentially weighted speed estimate and scales
// the chunk size by the ratio to the target speed, clamped to [0.5, 2]. The
// Assembler then sleeps for TargetBufferTime/ratio before fetching again.
// With TargetBufferTime set to zero, pacing relies on transport backpressure
// alone.
//
// When the chunk size changes, the remaining range is re-planned with the new
// size and a new window is opened. At most one chunk is held in memory.
//
// # Errors
//
// ErrInvalidRange and ErrUnsatisfiableRange occur before headers are sent and
// map to 400 and 416. ErrShortRead and ErrUpstream occur while streaming;
// they are never retried and abort the response.
package stream
