package aec

import (
	"math"
	"testing"

	"github.com/chanderlud/telepathy/internal/audio"
)

// i16SineFrame generates a sine wave frame at the given frequency, scaled
// into the int16 domain the input processor hands the denoise chain
// (spec.md §4.C step 3 runs before step 4's AEC).
func i16SineFrame(freq float64, frameIdx int) []float32 {
	out := make([]float32, audio.FrameSize)
	for i := range out {
		t := float64(frameIdx*audio.FrameSize+i) / audio.SampleRate
		out[i] = float32(6000 * math.Sin(2*math.Pi*freq*t))
	}
	return out
}

func rms(s []float32) float64 {
	var sum float64
	for _, v := range s {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(s)))
}

// TestNewSizesToAudioFrameSize covers the fixed-rate adaptation: unlike the
// teacher's reusable library, this AEC always sizes itself to
// audio.FrameSize rather than taking a caller-supplied frame size.
func TestNewSizesToAudioFrameSize(t *testing.T) {
	a := New()
	if a.tapLen != audio.FrameSize {
		t.Errorf("tapLen: want %d (audio.FrameSize), got %d", audio.FrameSize, a.tapLen)
	}
	wantBuf := audio.FrameSize + DefaultDelay + DefaultTaps
	if a.bufLen != wantBuf {
		t.Errorf("bufLen: want %d, got %d", wantBuf, a.bufLen)
	}
}

// TestPassthroughWithNoReference verifies that when the far-end buffer is all
// zeros (nothing played) the captured signal passes through unchanged (within
// floating-point tolerance), in the int16-scaled domain the call pipeline
// actually runs in.
func TestPassthroughWithNoReference(t *testing.T) {
	a := New()
	frame := i16SineFrame(440, 0)
	original := append([]float32(nil), frame...)

	a.Process(frame)

	for i, v := range frame {
		if math.Abs(float64(v-original[i])) > 1e-3 {
			t.Errorf("sample %d: expected %v, got %v", i, original[i], v)
		}
	}
}

// TestEchoConvergence verifies that when the captured signal is identical to
// the playback signal (pure echo, no near-end speech, as playbackLoop's
// feedFarEnd call and captureLoop's Denoise call would produce for a live
// echo loop), the output RMS decreases significantly after many frames of
// adaptation.
func TestEchoConvergence(t *testing.T) {
	a := New()

	const numWarmup = 300 // frames of adaptation (3 seconds at 10 ms/frame)
	freq := 440.0
	var initialRMS, finalRMS float64

	for frame := range numWarmup + 10 {
		far := i16SineFrame(freq, frame)
		near := i16SineFrame(freq, frame)
		a.FeedFarEnd(far)
		a.Process(near)
		if frame == 0 {
			initialRMS = rms(i16SineFrame(freq, frame))
		}
		if frame >= numWarmup {
			finalRMS += rms(near)
		}
	}
	finalRMS /= 10

	ratio := initialRMS / (finalRMS + 1e-9)
	if ratio < 3.16 { // 10 dB
		t.Errorf("echo not suppressed enough: initial RMS=%.2f final RMS=%.2f ratio=%.2f (want >=3.16)",
			initialRMS, finalRMS, ratio)
	}
}

// TestDisabledPassthrough verifies that a disabled AEC passes frames unchanged.
func TestDisabledPassthrough(t *testing.T) {
	a := New()
	a.SetEnabled(false)

	far := i16SineFrame(440, 0)
	near := i16SineFrame(440, 0)
	a.FeedFarEnd(far)

	original := append([]float32(nil), near...)
	a.Process(near)

	for i, v := range near {
		if v != original[i] {
			t.Errorf("sample %d changed while disabled: %v -> %v", i, original[i], v)
		}
	}
}

// TestSetEnabledResetsWeights verifies that re-enabling the AEC zeroes the
// filter weights, so a call resumed after a mid-call mute doesn't carry
// stale adaptation from before the gap.
func TestSetEnabledResetsWeights(t *testing.T) {
	a := New()
	for i := range 20 {
		far := i16SineFrame(440, i)
		near := i16SineFrame(440, i)
		a.FeedFarEnd(far)
		a.Process(near)
	}

	anyNonZero := false
	for _, w := range a.weights {
		if w != 0 {
			anyNonZero = true
			break
		}
	}
	if !anyNonZero {
		t.Fatal("expected non-zero weights after adaptation")
	}

	a.SetEnabled(true)
	for _, w := range a.weights {
		if w != 0 {
			t.Errorf("expected weight reset to 0 after SetEnabled(true), got %v", w)
		}
	}
}

// TestFeedFarEndAdvancesHeadByFrameSize verifies the ring buffer write head
// advances by exactly audio.FrameSize per call, matching one playbackLoop
// tick.
func TestFeedFarEndAdvancesHeadByFrameSize(t *testing.T) {
	a := New()
	before := a.farHead

	a.FeedFarEnd(i16SineFrame(220, 0))

	want := (before + audio.FrameSize) % a.bufLen
	if a.farHead != want {
		t.Errorf("farHead: want %d, got %d", want, a.farHead)
	}
}

// TestFarEndBufferWraps verifies the ring buffer wraps correctly across a
// call long enough to cycle the far-end buffer more than once.
func TestFarEndBufferWraps(t *testing.T) {
	a := New()
	totalFrames := a.bufLen/audio.FrameSize + 5
	for i := range totalFrames {
		a.FeedFarEnd(i16SineFrame(440, i))
	}
	if a.farHead < 0 || a.farHead >= a.bufLen {
		t.Errorf("farHead out of range: %d (bufLen=%d)", a.farHead, a.bufLen)
	}
}
