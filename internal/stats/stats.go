// Package stats implements the statistics collector (spec.md §4.J): a
// periodic task that snapshots shared atomics and posts a Statistics
// struct to an external sink, using a sliding-max-with-decay normalization
// for the level meters.
//
// Grounded on RunMetrics in server/metrics.go for the ticker-driven
// snapshot-and-log idiom, and on level_from_window/statistics_collector in
// the upstream telepathy/utils.rs and telepathy/mod.rs for the exact decay
// algorithm (supplemented; spec.md describes the shape but not the formula
// in full).
package stats

import (
	"context"
	"math"
	"sync/atomic"
	"time"
)

// TickRate is the collector's normal sampling frequency; EfficiencyTickRate
// is used in efficiency mode, per spec.md §4.J.
const (
	TickRate           = 100 * time.Millisecond // 10 Hz
	EfficiencyTickRate = 500 * time.Millisecond       // 2 Hz
	decayInterval      = 5 * time.Second
)

// Statistics is the periodic snapshot posted to the sink.
type Statistics struct {
	InputLevel   float32
	OutputLevel  float32
	LatencyMs    float64
	UploadBps    uint64
	DownloadBps  uint64
	LossSamples  uint64
}

// Sink receives Statistics ticks, the "statistics sink" collaborator in
// spec.md §6.
type Sink interface {
	Post(Statistics)
}

// levelWindow implements level_from_window: a decaying-max normalizer so a
// transient loud frame doesn't permanently desensitize the meter. max is
// halved every decayInterval; level = local/max.
type levelWindow struct {
	max       float32
	lastDecay time.Time
}

func (w *levelWindow) update(local float32, now time.Time) float32 {
	if w.lastDecay.IsZero() {
		w.lastDecay = now
	}
	if local > w.max {
		w.max = local
	}
	if now.Sub(w.lastDecay) >= decayInterval {
		w.max /= 2
		w.lastDecay = now
	}
	if w.max == 0 {
		return 0
	}
	level := local / w.max
	return float32(math.Min(float64(level), 1.0))
}

// Collector aggregates lock-free atomics (spec.md §5: "Atomic counters
// ... are lock-free; updates are Relaxed") into periodic Statistics ticks.
type Collector struct {
	inputRMS  atomic.Uint32 // float32 bits
	outputRMS atomic.Uint32
	latencyUs atomic.Int64
	upBytes   atomic.Uint64
	downBytes atomic.Uint64
	lossSamp  atomic.Uint64

	inWindow  levelWindow
	outWindow levelWindow
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector { return &Collector{} }

// RecordInputRMS publishes the current input-processor RMS level.
func (c *Collector) RecordInputRMS(rms float32) {
	c.inputRMS.Store(math.Float32bits(rms))
}

// RecordOutputRMS publishes the current output-processor RMS level.
func (c *Collector) RecordOutputRMS(rms float32) {
	c.outputRMS.Store(math.Float32bits(rms))
}

// RecordLatency publishes the latest ping-measured round-trip latency.
func (c *Collector) RecordLatency(d time.Duration) {
	c.latencyUs.Store(d.Microseconds())
}

// AddUpload accumulates bytes sent since the last tick.
func (c *Collector) AddUpload(n uint64) { c.upBytes.Add(n) }

// AddDownload accumulates bytes received since the last tick.
func (c *Collector) AddDownload(n uint64) { c.downBytes.Add(n) }

// AddLoss accumulates dropped sample count since the last tick.
func (c *Collector) AddLoss(n uint64) { c.lossSamp.Add(n) }

// Run ticks at rate, posting normalized Statistics to sink until ctx is
// canceled. On cancellation it posts one final zeroed Statistics, per
// spec.md §4.J.
func (c *Collector) Run(ctx context.Context, rate time.Duration, sink Sink) {
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sink.Post(Statistics{})
			return
		case now := <-ticker.C:
			in := math.Float32frombits(c.inputRMS.Load())
			out := math.Float32frombits(c.outputRMS.Load())

			sink.Post(Statistics{
				InputLevel:  c.inWindow.update(in, now),
				OutputLevel: c.outWindow.update(out, now),
				LatencyMs:   float64(c.latencyUs.Load()) / 1000.0,
				UploadBps:   c.upBytes.Swap(0),
				DownloadBps: c.downBytes.Swap(0),
				LossSamples: c.lossSamp.Swap(0),
			})
		}
	}
}
