// Package agc implements automatic gain control for the denoise chain
// internal/app runs between the noise gate and the encoder (spec.md §4.C
// step 4's external "denoise" collaborator, last stage).
//
// It continuously monitors the short-term RMS of each audio.FrameSize
// frame and adjusts a multiplicative gain toward a target level using
// independent attack/release time constants, operating on the same
// int16-scaled domain the input processor produces at step 3 (before
// denoising), not raw [-1,1] PCM. Gain itself stays a dimensionless
// multiplier and is clamped to [MinGain, MaxGain] regardless of domain.
package agc

import (
	"github.com/chanderlud/telepathy/internal/audio"
)

const (
	// DefaultTarget is the desired RMS level (~-14 dBFS), in the
	// int16-scaled domain: 0.20 of full scale.
	DefaultTarget = 0.20 * 32767

	// MinGain limits attenuation of loud signals to at most 20 dB.
	MinGain = 0.1
	// MaxGain allows up to +20 dB of amplification.
	MaxGain = 10.0

	// AttackCoeff controls how quickly gain is reduced when level exceeds target.
	// Higher → faster attack. Value chosen for ~5 ms effective time at 48 kHz/480.
	AttackCoeff = 0.80
	// ReleaseCoeff controls how quickly gain recovers after a loud transient.
	// Slower than attack to avoid pumping artefacts.
	ReleaseCoeff = 0.02

	// minRMS suppresses gain updates on silent frames (below noise floor),
	// int16-scaled.
	minRMS = 0.001 * 32767
)

// AGC is a single-channel automatic gain control processor. Zero value is not
// usable; use New().
type AGC struct {
	target float64 // desired RMS level, int16-scaled
	gain   float64 // current linear gain multiplier
}

// New returns an AGC with DefaultTarget and unity gain.
func New() *AGC {
	return &AGC{target: DefaultTarget, gain: 1.0}
}

// SetTarget sets the desired RMS level. level is in the range [0, 100] and is
// mapped linearly to [0.01, 0.50] of full scale.
func (a *AGC) SetTarget(level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	norm := 0.01 + float64(level)/100.0*0.49
	a.target = norm * 32767
}

// Process applies gain to frame in-place and updates the gain estimate.
// frame must be mono float32 PCM in the int16-scaled domain. Returns the
// same slice for chaining.
func (a *AGC) Process(frame []float32) []float32 {
	if len(frame) == 0 {
		return frame
	}

	rms := float64(audio.CalculateRMS(frame))

	// Apply current gain before updating, so the listener hears the result.
	// Clamped back to the int16 domain, not [-1,1]: this runs before the
	// input processor's final cast to i16 (spec.md §4.C step 7).
	for i, s := range frame {
		v := s * float32(a.gain)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		frame[i] = v
	}

	// Skip gain update on near-silence to avoid boosting noise floor.
	if rms < minRMS {
		return frame
	}

	desired := a.target / rms
	if desired < MinGain {
		desired = MinGain
	} else if desired > MaxGain {
		desired = MaxGain
	}

	// Asymmetric smoothing: attack (gain down) is fast, release (gain up) slow.
	var coeff float64
	if desired < a.gain {
		coeff = AttackCoeff
	} else {
		coeff = ReleaseCoeff
	}
	a.gain = a.gain + coeff*(desired-a.gain)

	return frame
}

// Gain returns the current linear gain multiplier (informational).
func (a *AGC) Gain() float64 { return a.gain }

// Reset resets the gain to unity without changing the target.
func (a *AGC) Reset() { a.gain = 1.0 }
