// Package ingest stores a media source in a bucket as a sharded object that
// the server can stream.
//
// The source is read sequentially, one shard at a time. Progress is saved to
// the object's state file every StateInterval shards and whenever ingest
// stops early, so the next run with the same destination resumes with the
// first missing shard and opens the source at that offset:
//
//	src, _ := source.Open(ctx, "https://example.com/movie.mp4", source.DefaultOptions())
//	res, err := ingest.Ingest(ctx, bucket, "media/movie.mp4", src, ingest.Options{
//		ShardSize: 64 << 20,
//	})
//	// res.AccessCode is required to stream the object.
//
// A resume is refused with ErrSourceChanged when the source's ETag or size
// differs from the run that started the object. Force discards whatever was
// stored and starts over.
package ingest
