// Package sharded stores large objects in cloud storage as fixed-size shards
// and reads them back as chunks of any size.
//
// Objects are written once, shard by shard, and described by a manifest.
// Readers never see a seekable byte stream: they ask for a window of chunks
// (first chunk index, chunk count, chunk size) and receive a forward-only
// sequence that crosses shard boundaries as needed. The package is
// storage-agnostic via gocloud.dev/blob.
//
// # Writing
//
// Use [Write] to create a sharded object. Call [File.Next] to get successive
// shards, write data to each shard, then call [File.Complete] to finalize.
//
// Options:
//   - [WithShardSize]: Size of each shard (required)
//   - [WithSize]: Total size, enables io.EOF when all shards are filled
//   - [WithMetadata]: Caller-defined metadata stored in the manifest
//   - [WithChecksum]: Compute SHA-256 per shard (default true)
//
// The same [Write] call resumes an interrupted write. [File.Next] returns
// [ErrShardFilled] for shards already stored; [File.Reset] starts over.
//
// # Reading
//
// [Open] loads the manifest. [Reader.OpenChunks] returns a [Chunks] window,
// [Reader.ReadRange] returns a plain io.ReadCloser over a byte range.
//
// # Storage Layout
//
//	{bucket}/{dest}.shards/shard-000000
//	{bucket}/{dest}.shards/shard-000001
//	{bucket}/{dest}.shards/state.json     (during writes, deleted on completion)
//	{bucket}/{dest}.manifest.json         (on completion)
//
// # Manifest Format
//
//	{
//	  "total_size": 5000000,
//	  "shard_size": 1048576,
//	  "parts_prefix": "media/talk.mp4.shards/",
//	  "shards": [
//	    {"object": "shard-000000", "offset": 0, "size": 1048576, "checksum": "..."},
//	    ...
//	  ],
//	  "metadata": {"name": "talk.mp4", "content_type": "video/mp4", "access_code": "..."},
//	  "completed_at": "2025-01-15T10:30:00Z"
//	}
package sharded
