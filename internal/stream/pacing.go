package stream

import (
	"math"
	"time"
)

// Pacing defaults.
const (
	DefaultMaxChunk         = 8 * 1024 * 1024
	DefaultInitialChunk     = 1024 * 1024
	DefaultTargetSpeed      = 800_000 // bytes per second
	DefaultTargetBufferTime = 250 * time.Millisecond
	DefaultSmoothing        = 0.85
)

const (
	minRatio   = 0.5
	maxRatio   = 2.0
	minElapsed = time.Millisecond
)

// PacingConfig holds the knobs of a Pacer. Zero fields take their defaults,
// except TargetBufferTime, where zero disables the pacing delay.
type PacingConfig struct {
	MinChunk         int64
	MaxChunk         int64
	InitialChunk     int64
	TargetSpeed      float64 // bytes per second
	TargetBufferTime time.Duration
	Smoothing        float64 // EWMA weight of the previous estimate, in (0, 1)
}

// DefaultPacingConfig returns the default knobs.
func DefaultPacingConfig() PacingConfig {
	return PacingConfig{
		MinChunk:         DefaultMinChunk,
		MaxChunk:         DefaultMaxChunk,
		InitialChunk:     DefaultInitialChunk,
		TargetSpeed:      DefaultTargetSpeed,
		TargetBufferTime: DefaultTargetBufferTime,
		Smoothing:        DefaultSmoothing,
	}
}

// normalized clamps or defaults every knob so a Pacer never has to fail.
func (c PacingConfig) normalized() PacingConfig {
	if c.MinChunk <= 0 {
		c.MinChunk = DefaultMinChunk
	}
	if c.MaxChunk <= 0 {
		c.MaxChunk = DefaultMaxChunk
	}
	if c.MaxChunk < c.MinChunk {
		c.MaxChunk = c.MinChunk
	}
	if c.InitialChunk <= 0 {
		c.InitialChunk = DefaultInitialChunk
	}
	c.InitialChunk = clampInt(c.InitialChunk, c.MinChunk, c.MaxChunk)
	if !(c.TargetSpeed > 0) || math.IsInf(c.TargetSpeed, 0) {
		c.TargetSpeed = DefaultTargetSpeed
	}
	if c.TargetBufferTime < 0 {
		c.TargetBufferTime = 0
	}
	if !(c.Smoothing > 0 && c.Smoothing < 1) {
		c.Smoothing = DefaultSmoothing
	}
	return c
}

// Pacer adapts the chunk size and the inter-chunk delay of one stream to the
// speed at which its consumer accepts data. A Pacer is not safe for
// concurrent use and must not be shared between streams.
type Pacer struct {
	cfg      PacingConfig
	chunk    int64
	smoothed float64
	seeded   bool
}

// NewPacer returns a Pacer starting at cfg.InitialChunk.
func NewPacer(cfg PacingConfig) *Pacer {
	cfg = cfg.normalized()
	return &Pacer{cfg: cfg, chunk: cfg.InitialChunk}
}

// Config returns the normalized knobs.
func (p *Pacer) Config() PacingConfig {
	return p.cfg
}

// ChunkSize returns the chunk size to use for the next fetch.
func (p *Pacer) ChunkSize() int64 {
	return p.chunk
}

// SmoothedSpeed returns the current speed estimate in bytes per second.
// The second result is false until the first observation.
func (p *Pacer) SmoothedSpeed() (float64, bool) {
	return p.smoothed, p.seeded
}

// Observe records that n bytes were delivered in elapsed time, updates the
// chunk size and returns the delay to honor before the next fetch.
func (p *Pacer) Observe(n int64, elapsed time.Duration) time.Duration {
	if n < 0 {
		n = 0
	}
	if elapsed < minElapsed {
		elapsed = minElapsed
	}
	instant := float64(n) / elapsed.Seconds()

	if p.seeded {
		a := p.cfg.Smoothing
		p.smoothed = a*p.smoothed + (1-a)*instant
	} else {
		p.smoothed = instant
		p.seeded = true
	}

	ratio := p.smoothed / p.cfg.TargetSpeed
	switch {
	case math.IsNaN(ratio):
		ratio = 1
	case ratio < minRatio:
		ratio = minRatio
	case ratio > maxRatio:
		ratio = maxRatio
	}

	next := math.Round(float64(p.chunk) * ratio)
	p.chunk = clampInt(int64(next), p.cfg.MinChunk, p.cfg.MaxChunk)

	return time.Duration(float64(p.cfg.TargetBufferTime) / ratio)
}

func clampInt(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
