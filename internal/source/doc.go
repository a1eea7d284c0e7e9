// Package source reads media files to ingest from local paths or http(s)
// URLs.
//
// Open only looks at metadata (stat or HEAD). Content is read with OpenAt,
// which starts at an arbitrary offset so interrupted ingests can resume
// without reading the source from the start:
//
//	src, err := source.Open(ctx, "https://example.com/movie.mp4", source.DefaultOptions())
//	// src.Size, src.ETag, src.ContentType
//
//	body, err := src.OpenAt(ctx, 512*1024*1024)
//	defer body.Close()
//
// Remote requests are retried with exponential backoff and jitter on
// transport errors and 5xx responses. Ranges are requested with
// "bytes=N-"; servers that ignore them are read from the start and the
// leading bytes discarded.
package source
