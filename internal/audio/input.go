package audio

import "math"

// Constants from spec.md §4.C.
const (
	MinimumSilenceLength = 40 // frames
	TransitionLength     = 96 // samples

	maxI16 = 32767
)

// silenceThreshold is the RMS level below which a frame is treated as
// silence, expressed in the int16-scaled domain steps 3-6 of spec.md §4.C
// run in (roughly -46 dBFS, the same calibration the distilled pipeline
// used back when it compared RMS in the [-1,1] domain: 0.005 * maxI16).
const silenceThreshold = float32(0.005 * maxI16)

// InputProcessorState holds the running state of the input pipeline
// across calls to Process, mirroring InputProcessorState in the upstream
// audio/mod.rs.
type InputProcessorState struct {
	resampler  *Resampler
	ratio      float64
	inputGain  float32
	muted      bool
	silenceLen int
	lastDC     float32 // last sample of the most recent speech frame; the transition ramps do not read it

	InputRMS float32 // published for internal/stats
}

// NewInputProcessorState builds the state for one call. deviceRate is the
// capture device's native rate; denoise selects whether audio is resampled
// to 48 kHz for the (external) denoiser, per spec.md §4.C step 1-2.
func NewInputProcessorState(deviceRate float64, denoise bool, inputGain float32) *InputProcessorState {
	ratio := 1.0
	if denoise {
		ratio = SampleRate / deviceRate
	}
	return &InputProcessorState{
		resampler: ResamplerFactory(ratio, 1, FrameSize),
		ratio:     ratio,
		inputGain: inputGain,
	}
}

// SetMuted toggles the mute gate (step 1: "If muted, discard").
func (s *InputProcessorState) SetMuted(muted bool) { s.muted = muted }

// SetInputGain updates the gain applied in step 3.
func (s *InputProcessorState) SetInputGain(gain float32) { s.inputGain = gain }

// Denoiser is the external collaborator spec.md §1 leaves out of scope.
// A nil Denoiser is pass-through.
type Denoiser interface {
	Denoise(frame []float32) error
}

// Process runs one block through the input pipeline (spec.md §4.C steps
// 1-8) and returns the i16 frame(s) to emit, or nil if nothing should be
// emitted this call (e.g. a swallowed silent frame, or an underfilled
// resampler on the first block). denoise may be nil.
func (s *InputProcessorState) Process(preBuf []float32, denoise Denoiser) ([]int16, error) {
	if s.muted {
		return nil, nil
	}

	buf := preBuf
	if s.resampler != nil {
		buf = s.resampler.Process(preBuf)
		if len(buf) < FrameSize {
			return nil, nil // first-block startup underfill
		}
		buf = buf[:FrameSize]
	}
	if len(buf) != FrameSize {
		buf = padOrTrim(buf, FrameSize)
	}

	// Step 3 (spec.md §4.C): scale to int16 range via
	// wide_float_scaler(buf, i16::MAX * input_gain), *before* denoising, so
	// the external Denoiser collaborator and the RMS/silence-hysteresis
	// machinery below all operate in the same int16-magnitude domain the
	// original pipeline ran in, rather than the resampler's [-1,1] output.
	scaled := scaleToI16Domain(buf, maxI16*s.inputGain)

	if denoise != nil {
		if err := denoise.Denoise(scaled); err != nil {
			return nil, err
		}
	}

	rms := CalculateRMS(scaled)
	s.InputRMS = rms

	emit := s.silenceHysteresis(scaled, rms)
	if emit == nil {
		return nil, nil
	}

	// Step 7: "Convert to i16 via map(x as i16)" — emit is already clamped
	// to the int16 domain by scaleToI16Domain, so this is a straight
	// truncating cast (scale 1), not a second gain stage.
	return WideFloatScaler(emit, 1), nil
}

// scaleToI16Domain implements spec.md §4.A's wide_float_scaler while
// keeping the result as float32 (the pipeline doesn't switch to the actual
// int16 type until step 7, so the external Denoiser interface — and RMS/
// silence hysteresis, which the spec also runs on this scaled domain — can
// keep operating on []float32).
func scaleToI16Domain(frame []float32, scale float32) []float32 {
	out := make([]float32, len(frame))
	for i, s := range frame {
		v := math.Trunc(float64(s) * float64(scale))
		out[i] = clampI16F(v)
	}
	return out
}

func clampI16F(v float64) float32 {
	if v < -32768 {
		return -32768
	}
	if v > 32767 {
		return 32767
	}
	return float32(v)
}

// silenceHysteresis implements spec.md §4.C step 6, restoring the exact
// linear-ramp construction from make_transition_up/make_transition_down in
// the upstream audio/mod.rs (supplemented; not in the distilled spec).
func (s *InputProcessorState) silenceHysteresis(frame []float32, rms float32) []float32 {
	if rms < silenceThreshold {
		s.silenceLen++
		if s.silenceLen == MinimumSilenceLength {
			down := s.transitionDown(frame)
			s.silenceLen = MinimumSilenceLength + 1 // suppress further emissions
			return down
		}
		if s.silenceLen <= MinimumSilenceLength {
			return frame
		}
		return nil
	}

	if s.silenceLen > 0 && frame[0] > 0 {
		up := s.transitionUp(frame)
		s.silenceLen = 0
		s.lastDC = frame[len(frame)-1]
		return up
	}
	s.silenceLen = 0
	s.lastDC = frame[len(frame)-1]
	return frame
}

// transitionDown ramps linearly from the frame's current DC level to 0
// over TransitionLength samples, remaining samples zero.
func (s *InputProcessorState) transitionDown(frame []float32) []float32 {
	out := append([]float32(nil), frame...)
	dc := out[0]
	n := TransitionLength
	if n > len(out) {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		t := float32(i) / float32(n)
		out[i] = dc * (1 - t)
	}
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	return out
}

// transitionUp ramps linearly from 0 to the frame's current level over
// TransitionLength samples, preceding the live frame.
func (s *InputProcessorState) transitionUp(frame []float32) []float32 {
	out := append([]float32(nil), frame...)
	target := out[0]
	n := TransitionLength
	if n > len(out) {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		t := float32(i) / float32(n)
		out[i] = target * t
	}
	return out
}

func padOrTrim(buf []float32, n int) []float32 {
	if len(buf) == n {
		return buf
	}
	out := make([]float32, n)
	copy(out, buf)
	return out
}
