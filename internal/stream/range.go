package stream

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var rangePattern = regexp.MustCompile(`^bytes=(\d+)-(\d*)$`)

// ByteRange is an inclusive interval [Start, End] of an object of Total bytes.
// For an empty object End is -1 and the range holds no bytes.
type ByteRange struct {
	Start int64
	End   int64
	Total int64
}

// Length returns the number of bytes in the range.
func (r ByteRange) Length() int64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

func (r ByteRange) String() string {
	if r.Length() == 0 {
		return fmt.Sprintf("bytes */%d", r.Total)
	}
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.Total)
}

// ResolveRange resolves a Range header against an object of total bytes.
// An empty header selects the whole object with partial false. Only single
// ranges with an explicit start are accepted; an end past the object is
// clamped to the last byte.
func ResolveRange(header string, total int64) (ByteRange, bool, error) {
	if total < 0 {
		total = 0
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ByteRange{Start: 0, End: total - 1, Total: total}, false, nil
	}

	m := rangePattern.FindStringSubmatch(header)
	if m == nil {
		return ByteRange{}, false, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}

	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		// Only digits matched, so this is an overflow: far past any object.
		return ByteRange{}, false, fmt.Errorf("%w: start %s", ErrUnsatisfiableRange, m[1])
	}
	end := total - 1
	if m[2] != "" {
		end, err = strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			end = math.MaxInt64
		}
	}

	if start >= total {
		return ByteRange{}, false, fmt.Errorf("%w: start %d, size %d", ErrUnsatisfiableRange, start, total)
	}
	if start > end {
		return ByteRange{}, false, fmt.Errorf("%w: start %d after end %d", ErrUnsatisfiableRange, start, end)
	}
	if end >= total {
		end = total - 1
	}
	return ByteRange{Start: start, End: end, Total: total}, true, nil
}
