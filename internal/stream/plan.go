package stream

// DefaultMinChunk is the smallest chunk size used when none is configured.
const DefaultMinChunk = 256 * 1024

// ChunkPlan is a fetch window of Count chunks of ChunkSize bytes starting at
// chunk FirstIndex, covering a byte range that starts at Offset.
type ChunkPlan struct {
	ChunkSize  int64
	FirstIndex int64
	Count      int64
	Offset     int64
}

// PlanChunks maps r onto chunks of chunkSize bytes. A non-positive chunk size
// is replaced with DefaultMinChunk.
//
// Count runs through the chunk holding r.End. That is ceil(length/chunkSize)
// when r.Start is chunk aligned and may be one more when it is not.
func PlanChunks(r ByteRange, chunkSize int64) ChunkPlan {
	if chunkSize <= 0 {
		chunkSize = DefaultMinChunk
	}
	p := ChunkPlan{
		ChunkSize:  chunkSize,
		FirstIndex: r.Start / chunkSize,
		Offset:     r.Start,
	}
	if r.Length() > 0 {
		p.Count = r.End/chunkSize - p.FirstIndex + 1
	}
	return p
}

// Trim returns the number of leading bytes of the first chunk that precede
// the planned offset.
func (p ChunkPlan) Trim() int64 {
	return p.Offset - p.FirstIndex*p.ChunkSize
}
