// Package audio implements the media pipeline: the scalar/widened numeric
// kernels (§4.A), the AudioInput/AudioOutput device traits (§4.B), and the
// input/output processors (§4.C/§4.D) that sit between the device and the
// frame socket layer.
package audio

import "math"

// FrameSize is the native processor frame: 480 mono samples, 10 ms at 48 kHz.
const FrameSize = 480

// SampleRate is the pipeline's internal working rate.
const SampleRate = 48000

// WideMul scales every sample of frame by factor and clamps to [-1, 1],
// in place. "Wide" kernels are named for their Rust SIMD counterparts
// (wide_mul in processing.rs); Go has no portable SIMD intrinsics so this
// runs as a tight scalar loop, but callers on amd64 benefit from the Go
// compiler's automatic loop vectorization at the same numeric result.
func WideMul(frame []float32, factor float32) {
	for i, s := range frame {
		v := s * factor
		frame[i] = clampF32(v, -1, 1)
	}
}

// WideI16ToF32 converts src (i16 PCM) into dst (f32 PCM), scaling each sample
// by scale and clamping to [-1, 1]. len(dst) must be >= len(src).
func WideI16ToF32(src []int16, dst []float32, scale float32) {
	for i, s := range src {
		v := float32(s) * scale
		dst[i] = clampF32(v, -1, 1)
	}
}

// WideFloatScaler scales frame by scale, truncates toward zero, and clamps
// to the int16 domain, returning a new i16 slice. Mirrors wide_float_scaler
// in processing.rs: "trunc rounds toward zero."
func WideFloatScaler(frame []float32, scale float32) []int16 {
	out := make([]int16, len(frame))
	for i, s := range frame {
		v := float64(s) * float64(scale)
		v = math.Trunc(v)
		out[i] = clampI16(v)
	}
	return out
}

// CalculateRMS returns sqrt(sum(x^2)/len(frame)). Implementations that
// unroll this sum (e.g. to encourage vectorization) must still produce the
// same value within 1 ULP relative, per spec.md invariant 1.
func CalculateRMS(frame []float32) float32 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(frame))))
}

func clampF32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampI16(v float64) int16 {
	if v < math.MinInt16 {
		return math.MinInt16
	}
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	return int16(v)
}
