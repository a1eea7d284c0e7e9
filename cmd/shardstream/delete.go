package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/ligustah/shardstream/pkg/sharded"
)

// runDelete removes a media object and all its shards from storage.
// It asks for confirmation unless -force is given.
func runDelete(args []string) int {
	fs := newFlagSet("delete", `Usage: shardstream delete [options]

Remove a media object and all its shards from storage.`)

	bucket := fs.String("bucket", "", "Bucket URL (required)")
	object := fs.String("object", "", "Object key (required)")
	force := fs.Bool("force", false, "Skip confirmation prompt")
	partial := fs.Bool("partial", false, "Delete the state of an interrupted ingest")

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *bucket == "" || *object == "" {
		fmt.Fprintln(stderr, "Error: -bucket and -object are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	if !*force {
		fmt.Fprintf(stdout, "Delete media object %s from %s? [y/N]: ", *object, *bucket)
		response, _ := bufio.NewReader(stdin).ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(stderr, "Cancelled")
			return ExitSuccess
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	bkt, ok := openBucket(ctx, *bucket)
	if !ok {
		return ExitStorageError
	}
	defer bkt.Close()

	var err error
	if *partial {
		err = sharded.DeletePartial(ctx, bkt, *object)
	} else {
		err = sharded.Delete(ctx, bkt, *object)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Fprintf(stderr, "[shardstream] Deleted: %s/%s\n", *bucket, *object)
	return ExitSuccess
}
