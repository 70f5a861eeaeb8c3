package noisegate

import (
	"math"
	"testing"

	"github.com/chanderlud/telepathy/internal/audio"
)

// i16SineFrame generates a sine wave frame scaled into the int16 domain the
// input processor hands the denoise chain (spec.md §4.C step 3 runs before
// step 4's noise gate), at the given fraction of full scale.
func i16SineFrame(fracFullScale float64, size int) []float32 {
	frame := make([]float32, size)
	for i := range frame {
		t := float64(i) / audio.SampleRate
		frame[i] = float32(fracFullScale * 32767 * math.Sin(2*math.Pi*440*t))
	}
	return frame
}

func i16SilentFrame(size int) []float32 {
	return make([]float32, size)
}

func TestGateZeroesQuietFrames(t *testing.T) {
	g := New()
	frame := i16SineFrame(0.0005, audio.FrameSize) // well below default threshold
	g.Process(frame)
	for i, s := range frame {
		if s != 0 {
			t.Fatalf("frame[%d] = %f, expected 0 (gated)", i, s)
		}
	}
}

func TestGatePassesLoudFrames(t *testing.T) {
	g := New()
	frame := i16SineFrame(0.5, audio.FrameSize) // well above threshold
	g.Process(frame)
	nonZero := false
	for _, s := range frame {
		if s != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Fatal("loud frame was zeroed; gate should pass it through")
	}
}

func TestGateHoldPreventsChatter(t *testing.T) {
	g := New()
	g.hold = 3

	loud := i16SineFrame(0.5, audio.FrameSize)
	g.Process(loud)
	if !g.IsOpen() {
		t.Fatal("gate should be open after loud frame")
	}

	for i := 0; i < 3; i++ {
		silent := i16SilentFrame(audio.FrameSize)
		g.Process(silent)
		if !g.IsOpen() {
			t.Fatalf("gate closed during hold period at frame %d", i)
		}
	}

	silent := i16SilentFrame(audio.FrameSize)
	g.Process(silent)
	if g.IsOpen() {
		t.Fatal("gate should be closed after hold expired")
	}
}

func TestGateDisabledIsNoOp(t *testing.T) {
	g := New()
	g.SetEnabled(false)

	frame := i16SineFrame(0.0001, audio.FrameSize) // very quiet
	orig := append([]float32(nil), frame...)
	g.Process(frame)

	for i := range frame {
		if frame[i] != orig[i] {
			t.Fatalf("frame[%d] modified when gate disabled: got %f, want %f", i, frame[i], orig[i])
		}
	}
}

func TestGateSetThreshold(t *testing.T) {
	g := New()
	g.SetThreshold(0)
	want := float32(0.001 * 32767)
	if math.Abs(float64(g.Threshold()-want)) > 1 {
		t.Errorf("threshold at level 0: got %f, expected ~%f", g.Threshold(), want)
	}
	g.SetThreshold(100)
	want = float32(0.10 * 32767)
	if math.Abs(float64(g.Threshold()-want)) > 1 {
		t.Errorf("threshold at level 100: got %f, expected ~%f", g.Threshold(), want)
	}
	g.SetThreshold(50)
	expected := float32(0.001+0.099*0.5) * 32767
	if math.Abs(float64(g.Threshold()-expected)) > 1 {
		t.Errorf("threshold at level 50: got %f, expected ~%f", g.Threshold(), expected)
	}
}

func TestGateSetThresholdClamp(t *testing.T) {
	g := New()
	g.SetThreshold(-10)
	if g.Threshold() < 0.001*32767-1 {
		t.Error("negative level should clamp to 0")
	}
	g.SetThreshold(200)
	if g.Threshold() > 0.101*32767 {
		t.Error("level > 100 should clamp to 100")
	}
}

func TestGateReturnsRMS(t *testing.T) {
	g := New()
	frame := i16SineFrame(0.5, audio.FrameSize)
	rms := g.Process(frame)
	if rms <= 0 {
		t.Errorf("Process returned rms=%f, expected > 0", rms)
	}
}

func TestGateReset(t *testing.T) {
	g := New()
	loud := i16SineFrame(0.5, audio.FrameSize)
	g.Process(loud)
	g.Reset()
	if g.IsOpen() {
		t.Fatal("gate should be closed after Reset")
	}
	silent := i16SilentFrame(audio.FrameSize)
	g.Process(silent)
	if g.IsOpen() {
		t.Fatal("gate should remain closed for silent frame after Reset")
	}
}
