// Package media looks up stored objects by id.
//
// Objects are sharded objects in a bucket (see pkg/sharded); their name,
// content type and access code live in the manifest metadata. A
// BucketCatalog resolves an id to a manifest under a key prefix and keeps
// recent lookups in an LRU cache:
//
//	cat := media.NewBucketCatalog(bucket,
//		media.WithPrefix("media/"),
//		media.WithCache(1024, 5*time.Minute),
//	)
//	obj, err := cat.Lookup(ctx, "trailer.mp4")
//	if errors.Is(err, media.ErrNotFound) {
//		// 404
//	}
//
// An Object is a stream.Fetcher, so it can be handed to stream.NewAssembler
// directly.
package media
