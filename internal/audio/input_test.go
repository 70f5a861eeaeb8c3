package audio_test

import (
	"math"
	"testing"

	"github.com/chanderlud/telepathy/internal/audio"
)

func sine(n int, amp float64) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = float32(amp * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
	}
	return frame
}

// TestInputProcessorEmitsOneFramePerBlock covers spec.md invariant 3:
// codec off (no denoise/resample), one FrameSize block in -> one FrameSize
// frame out.
func TestInputProcessorEmitsOneFramePerBlock(t *testing.T) {
	s := audio.NewInputProcessorState(audio.SampleRate, false, 1.0)
	out, err := s.Process(sine(audio.FrameSize, 0.5), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != audio.FrameSize {
		t.Fatalf("expected %d samples, got %d", audio.FrameSize, len(out))
	}
}

// TestSilenceHysteresisEmitsOneTransitionDown covers invariant 4: T >=
// MinimumSilenceLength silent frames produce exactly one transition-down
// frame, then nothing. The silent frames before the minimum is reached are
// still emitted as a hangover, so the transition-down frame is the
// MinimumSilenceLength-th emitted frame and the last one.
func TestSilenceHysteresisEmitsOneTransitionDown(t *testing.T) {
	s := audio.NewInputProcessorState(audio.SampleRate, false, 1.0)
	silence := make([]float32, audio.FrameSize) // all zero -> rms 0 < threshold

	// Prime with one loud frame so lastDC/silenceLen start from "speaking".
	if _, err := s.Process(sine(audio.FrameSize, 0.5), nil); err != nil {
		t.Fatal(err)
	}

	var emitted, nilCount int
	lastEmitted := -1
	for i := 0; i < audio.MinimumSilenceLength+5; i++ {
		out, err := s.Process(silence, nil)
		if err != nil {
			t.Fatal(err)
		}
		if out != nil {
			emitted++
			lastEmitted = i
		} else {
			nilCount++
		}
	}
	if emitted != audio.MinimumSilenceLength {
		t.Errorf("expected %d emitted frames (hangover plus one transition-down), got %d", audio.MinimumSilenceLength, emitted)
	}
	if lastEmitted != audio.MinimumSilenceLength-1 {
		t.Errorf("expected the transition-down frame at silent frame %d, last emission was at %d", audio.MinimumSilenceLength-1, lastEmitted)
	}
	if nilCount != 5 {
		t.Errorf("expected the 5 silent frames after the transition to emit nothing, got %d nil results", nilCount)
	}
}

func TestSilenceHysteresisTransitionUpOnResume(t *testing.T) {
	s := audio.NewInputProcessorState(audio.SampleRate, false, 1.0)
	silence := make([]float32, audio.FrameSize)

	if _, err := s.Process(sine(audio.FrameSize, 0.5), nil); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < audio.MinimumSilenceLength+2; i++ {
		if _, err := s.Process(silence, nil); err != nil {
			t.Fatal(err)
		}
	}

	// A constant positive frame: a transition-up ramp needs a positive first
	// sample, which a sine starting at phase 0 does not have.
	loud := make([]float32, audio.FrameSize)
	for i := range loud {
		loud[i] = 0.5
	}
	out, err := s.Process(loud, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out == nil {
		t.Fatal("expected a transition-up frame on resuming speech")
	}
	if out[0] != 0 {
		t.Errorf("expected the transition-up ramp to start at 0, got %d", out[0])
	}
}

func TestOutputProcessorDropsWrongLength(t *testing.T) {
	s := audio.NewOutputProcessorState(audio.SampleRate, 1.0)
	out := s.Process(make([]int16, audio.FrameSize-1))
	if out != nil {
		t.Error("expected nil output for mismatched frame length")
	}
}

func TestOutputProcessorDeafened(t *testing.T) {
	s := audio.NewOutputProcessorState(audio.SampleRate, 1.0)
	s.SetDeafened(true)
	out := s.Process(make([]int16, audio.FrameSize))
	if out != nil {
		t.Error("expected nil output while deafened")
	}
}

func TestOutputProcessorRecordLoss(t *testing.T) {
	s := audio.NewOutputProcessorState(audio.SampleRate, 1.0)
	s.RecordLoss(audio.FrameSize)
	s.RecordLoss(audio.FrameSize)
	if got := s.LossFrames(); got != 2*audio.FrameSize {
		t.Errorf("expected %d, got %d", 2*audio.FrameSize, got)
	}
	if got := s.LossFrames(); got != 0 {
		t.Errorf("expected loss counter reset to 0 after read, got %d", got)
	}
}
