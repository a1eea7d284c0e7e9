package sharded_test

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/ligustah/shardstream/pkg/sharded"
)

func Example_write() {
	ctx := context.Background()
	bucket, _ := blob.OpenBucket(ctx, "mem://")
	defer bucket.Close()

	src := strings.NewReader("0123456789abcdefghij")

	f, _ := sharded.Write(ctx, bucket, "media/demo.txt",
		sharded.WithShardSize(8),
		sharded.WithSize(src.Size()),
		sharded.WithMetadata(map[string]string{
			sharded.MetaName:        "demo.txt",
			sharded.MetaContentType: "text/plain",
		}),
	)

	for {
		shard, err := f.Next(ctx)
		if err == sharded.ErrShardFilled {
			continue // stored in an earlier session
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			panic(err)
		}

		fmt.Printf("shard %d: offset=%d length=%d\n", shard.Index(), shard.Offset(), shard.Length())
		io.CopyN(shard, src, shard.Length())
		shard.Close()
	}

	if err := f.Complete(ctx); err != nil {
		panic(err)
	}

	// Output:
	// shard 0: offset=0 length=8
	// shard 1: offset=8 length=8
	// shard 2: offset=16 length=4
}

func ExampleReader_OpenChunks() {
	ctx := context.Background()
	bucket, _ := blob.OpenBucket(ctx, "mem://")
	defer bucket.Close()

	f, _ := sharded.Write(ctx, bucket, "media/demo.txt", sharded.WithShardSize(8), sharded.WithSize(20))
	data := "0123456789abcdefghij"
	for {
		shard, err := f.Next(ctx)
		if err != nil {
			break
		}
		shard.Write([]byte(data[shard.Offset() : shard.Offset()+shard.Length()]))
		shard.Close()
	}
	f.Complete(ctx)

	r, err := sharded.Open(ctx, bucket, "media/demo.txt")
	if err != nil {
		panic(err)
	}

	// Chunks of 6 bytes starting at chunk index 1, read across shard boundaries.
	chunks, err := r.OpenChunks(ctx, 1, 3, 6)
	if err != nil {
		panic(err)
	}
	defer chunks.Close()

	for {
		idx := chunks.Index()
		chunk, err := chunks.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			panic(err)
		}
		fmt.Printf("chunk %d: %q\n", idx, chunk)
	}

	// Output:
	// chunk 1: "6789ab"
	// chunk 2: "cdefgh"
	// chunk 3: "ij"
}

func ExampleValidate() {
	ctx := context.Background()
	bucket, _ := blob.OpenBucket(ctx, "mem://")
	defer bucket.Close()

	f, _ := sharded.Write(ctx, bucket, "media/demo.txt", sharded.WithShardSize(8), sharded.WithSize(10))
	for {
		shard, err := f.Next(ctx)
		if err != nil {
			break
		}
		shard.Write(make([]byte, shard.Length()))
		shard.Close()
	}
	f.Complete(ctx)

	result, err := sharded.Validate(ctx, bucket, "media/demo.txt", true)
	if err != nil {
		panic(err)
	}
	fmt.Printf("valid=%v shards=%d size=%d\n", result.Valid, result.ShardCount, result.TotalSize)

	// Output:
	// valid=true shards=2 size=10
}
