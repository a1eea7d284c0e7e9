package progress

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// TotalSize is the total size in bytes to ingest, 0 if unknown.
	TotalSize int64

	// TotalShards is the total number of shards, 0 if unknown.
	TotalShards int

	// ShardSize is the size of each shard (for display).
	ShardSize int64

	// Source is the location being ingested (for display).
	Source string

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	mu              sync.Mutex
	completedBytes  atomic.Int64
	completedShards atomic.Int32
	skippedShards   atomic.Int32
	inProgress      atomic.Int32
	startTime       time.Time
	lastUpdate      time.Time
	lastBytes       int64
	stopCh          chan struct{}
	doneCh          chan struct{}
	started         bool
	stopped         bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[shardstream] Ingesting: %s\n", r.opts.Source)
	fmt.Fprintf(r.opts.Output, "[shardstream] Total size: %s | Shards: %d x %s\n",
		formatSize(r.opts.TotalSize),
		r.opts.TotalShards,
		FormatBytes(r.opts.ShardSize),
	)

	go r.updateLoop()
}

// Stop stops the progress reporter and waits for the final status line.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// ShardStarted marks a shard as in progress.
func (r *Reporter) ShardStarted() {
	r.inProgress.Add(1)
}

// BytesWritten adds n bytes to the completed total.
func (r *Reporter) BytesWritten(n int64) {
	r.completedBytes.Add(n)
}

// ShardCompleted marks a shard as completed.
func (r *Reporter) ShardCompleted() {
	r.completedShards.Add(1)
	r.inProgress.Add(-1)
}

// ShardSkipped records a shard that was stored by an earlier run.
func (r *Reporter) ShardSkipped(size int64) {
	r.skippedShards.Add(1)
	r.completedShards.Add(1)
	r.completedBytes.Add(size)
}

// ShardFailed marks a shard as failed (removes from in-progress).
func (r *Reporter) ShardFailed() {
	r.inProgress.Add(-1)
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	now := time.Now()
	completed := r.completedBytes.Load()
	completedShards := int(r.completedShards.Load())

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed
	r.lastUpdate = now
	r.lastBytes = completed

	var percent float64
	eta := "unknown"
	if r.opts.TotalSize > 0 {
		percent = float64(completed) / float64(r.opts.TotalSize) * 100
		if speed > 0 {
			remaining := float64(r.opts.TotalSize - completed)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		} else {
			eta = "calculating..."
		}
	}

	fmt.Fprintf(r.opts.Output, "\r[shardstream] Progress: %.1f%% | %s / %s | Speed: %s/s | ETA: %s | Shards: %d/%d    ",
		percent,
		FormatBytes(completed),
		formatSize(r.opts.TotalSize),
		FormatBytes(int64(speed)),
		eta,
		completedShards,
		r.opts.TotalShards,
	)
}

func (r *Reporter) printFinalStatus() {
	completed := r.completedBytes.Load()
	duration := time.Since(r.startTime)
	avgSpeed := float64(completed) / math.Max(duration.Seconds(), 0.001)

	fmt.Fprintf(r.opts.Output, "\r[shardstream] Progress: done | %s | Shards: %d (%d skipped)    \n",
		FormatBytes(completed),
		r.completedShards.Load(),
		r.skippedShards.Load(),
	)
	fmt.Fprintf(r.opts.Output, "[shardstream] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		FormatBytes(int64(avgSpeed)),
	)
}

func formatSize(b int64) string {
	if b <= 0 {
		return "unknown"
	}
	return FormatBytes(b)
}

var binaryUnits = []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}

// FormatBytes formats b with binary units, e.g. "1.5 KiB" or "256 MiB".
func FormatBytes(b int64) string {
	if b < 1024 {
		return fmt.Sprintf("%d B", b)
	}
	v := float64(b)
	unit := -1
	for v >= 1024 && unit < len(binaryUnits)-1 {
		v /= 1024
		unit++
	}
	if v >= 100 {
		return fmt.Sprintf("%.0f %s", v, binaryUnits[unit])
	}
	return fmt.Sprintf("%.1f %s", v, binaryUnits[unit])
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

var byteUnits = []struct {
	suffix     string
	multiplier float64
}{
	// Longest suffixes first so "KiB" is not read as "B".
	{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30}, {"TIB", 1 << 40},
	{"KB", 1e3}, {"MB", 1e6}, {"GB", 1e9}, {"TB", 1e12},
	{"K", 1 << 10}, {"M", 1 << 20}, {"G", 1 << 30}, {"T", 1 << 40},
	{"B", 1},
}

// ParseBytes parses a human-readable size. IEC suffixes (KiB, MiB, ...) and
// bare letters (K, M, ...) are powers of 1024; SI suffixes (KB, MB, ...) are
// powers of 1000. Suffixes are case-insensitive.
func ParseBytes(s string) (int64, error) {
	orig := s
	s = strings.ToUpper(strings.TrimSpace(s))

	multiplier := 1.0
	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.multiplier
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value < 0 || math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, fmt.Errorf("invalid byte string: %q", orig)
	}
	n := value * multiplier
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("byte string out of range: %q", orig)
	}
	return int64(n), nil
}
