// Package noisegate implements a hard noise gate for the denoise chain
// internal/app wires ahead of the codec (spec.md §4.C step 4's external
// "denoise" collaborator): frames whose RMS stays below a threshold for
// longer than a short hold period are zeroed before they ever reach the
// encoder or the network.
//
// It runs on the same int16-scaled domain the input processor hands the
// Denoiser (spec.md §4.C step 3 runs before step 4), not raw [-1,1] PCM, so
// its threshold is calibrated against audio.CalculateRMS output on samples
// already multiplied by i16::MAX * input_gain.
package noisegate

import "github.com/chanderlud/telepathy/internal/audio"

const (
	// DefaultThreshold is the RMS level below which audio is gated (~-40
	// dBFS), expressed in the int16-scaled domain: 0.01 of full scale.
	DefaultThreshold = float32(0.01 * 32767)

	// DefaultHold is the number of frames to keep the gate open after the
	// signal drops below threshold (200 ms at audio.FrameSize / 48 kHz).
	DefaultHold = 20
)

// Gate is a hard noise gate that zeroes frames below a threshold. Not safe
// for concurrent use; the capture goroutine that owns the input pipeline is
// its only caller.
type Gate struct {
	threshold float32
	hold      int // configured hold length in frames
	remaining int // frames left in current hold
	enabled   bool
	open      bool // true when the gate is currently passing audio
}

// New returns a Gate with DefaultThreshold and DefaultHold, enabled by default.
func New() *Gate {
	return &Gate{
		threshold: DefaultThreshold,
		hold:      DefaultHold,
		enabled:   true,
	}
}

// SetEnabled enables or disables the gate. When disabled, Process is a no-op.
func (g *Gate) SetEnabled(enabled bool) {
	g.enabled = enabled
	if !enabled {
		g.remaining = 0
		g.open = false
	}
}

// Enabled reports whether the gate is currently enabled.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// SetThreshold sets the RMS gate threshold. level is the 0-100 noise-level
// slider from internal/config; it maps to an int16-scaled RMS range of
// [0.001, 0.10] * maxI16.
func (g *Gate) SetThreshold(level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	norm := 0.001 + float32(level)/100.0*0.099
	g.threshold = norm * 32767
}

// Threshold returns the current RMS threshold (int16-scaled).
func (g *Gate) Threshold() float32 {
	return g.threshold
}

// IsOpen reports whether the gate is currently passing audio.
func (g *Gate) IsOpen() bool {
	return g.open
}

// Process applies the gate to frame in-place. If the frame's RMS is below
// the threshold and the hold period has expired, the frame is zeroed.
// Returns the frame RMS before gating (useful for level meters).
func (g *Gate) Process(frame []float32) float32 {
	rms := audio.CalculateRMS(frame)

	if !g.enabled {
		g.open = true
		return rms
	}

	if rms >= g.threshold {
		g.remaining = g.hold
		g.open = true
		return rms
	}

	if g.remaining > 0 {
		g.remaining--
		g.open = true
		return rms
	}

	for i := range frame {
		frame[i] = 0
	}
	g.open = false
	return rms
}

// Reset clears the hold counter without changing settings.
func (g *Gate) Reset() {
	g.remaining = 0
	g.open = false
}
