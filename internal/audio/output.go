package audio

// OutputProcessorState holds the running state of the output pipeline,
// mirroring OutputProcessorState in the upstream audio/mod.rs.
type OutputProcessorState struct {
	resampler    *Resampler
	outputGain   float32
	deafened     bool
	lossFrames   uint64 // samples dropped, accumulated for internal/stats
	OutputRMS    float32
}

// NewOutputProcessorState builds output pipeline state. deviceRate is the
// playback device's native rate.
func NewOutputProcessorState(deviceRate float64, outputGain float32) *OutputProcessorState {
	ratio := deviceRate / SampleRate
	return &OutputProcessorState{
		resampler:  ResamplerFactory(ratio, 1, FrameSize),
		outputGain: outputGain,
	}
}

// SetDeafened toggles the deafen gate (step 1).
func (s *OutputProcessorState) SetDeafened(deafened bool) { s.deafened = deafened }

// SetOutputGain updates the gain applied in step 4.
func (s *OutputProcessorState) SetOutputGain(gain float32) { s.outputGain = gain }

// LossFrames returns and resets the accumulated loss-sample count, for
// the statistics collector's reset-on-tick counters (spec.md §4.J).
func (s *OutputProcessorState) LossFrames() uint64 {
	n := s.lossFrames
	s.lossFrames = 0
	return n
}

// Process runs one received frame through the output pipeline (spec.md
// §4.D): decode-or-accept, scale to f32, resample, and return samples
// ready for Output.WriteSamples. sink.IsFull() must be checked by the
// caller before invoking Process (step 2 is the caller's responsibility so
// it can skip decode entirely on backpressure).
func (s *OutputProcessorState) Process(pcm []int16) []float32 {
	if s.deafened {
		return nil
	}
	if len(pcm) != FrameSize {
		// warn-and-drop per spec.md §4.D step 3; loss accounted by caller
		// since it already knows this was a length mismatch vs a full sink.
		return nil
	}

	f32 := make([]float32, FrameSize)
	const scale = float32(1.0) / 32767
	WideI16ToF32(pcm, f32, scale*s.outputGain)
	s.OutputRMS = CalculateRMS(f32)

	if s.resampler == nil {
		return f32
	}
	return s.resampler.Process(f32)
}

// RecordLoss implements socket.LossSink: the frame socket layer's max-age
// gate (or the sink-full backpressure gate) reports dropped sample counts
// here for the statistics collector to read via LossFrames.
func (s *OutputProcessorState) RecordLoss(samples int) {
	s.lossFrames += uint64(samples)
}
