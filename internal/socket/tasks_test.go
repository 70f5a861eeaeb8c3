package socket

import (
	"bytes"
	"context"
	"testing"
	"time"
)

type countingLossSink struct {
	total int
	calls int
}

func (s *countingLossSink) RecordLoss(samples int) {
	s.total += samples
	s.calls++
}

// encodeFrame builds one length-delimited, timestamp-prefixed media frame
// ready to be fed to AudioOutputTask via a bytes.Reader.
func encodeFrame(ts uint32, payload []byte) []byte {
	var buf bytes.Buffer
	framed := PrependTimestamp(ts, payload)
	_ = WriteLengthDelimited(&buf, framed)
	return buf.Bytes()
}

// TestAudioOutputTaskDropsStaleFrameAsLoss covers spec.md invariant 5 at the
// task level: a frame whose timestamp exceeds MaxAgeCentiseconds is dropped
// and reported to the LossSink as FrameSize samples lost, rather than being
// forwarded to the output channel.
func TestAudioOutputTaskDropsStaleFrameAsLoss(t *testing.T) {
	start := NewStartTime()
	localTs := start.Timestamp()

	var wire bytes.Buffer
	wire.Write(encodeFrame(localTs, []byte{1, 2, 3}))           // fresh, forwarded
	wire.Write(encodeFrame(staleTs(localTs), []byte{4, 5, 6}))  // stale, dropped
	wire.Write(encodeFrame(start.Timestamp(), []byte{7, 8, 9})) // fresh again, forwarded

	loss := &countingLossSink{}
	out := make(chan []byte, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- AudioOutputTask(ctx, &wire, start, out, loss)
	}()

	var got [][]byte
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case p := <-out:
			got = append(got, p)
		case <-timeout:
			t.Fatal("timed out waiting for forwarded frames")
		}
	}

	if loss.calls != 1 {
		t.Fatalf("expected exactly 1 loss notification, got %d", loss.calls)
	}
	if loss.total != FrameSize {
		t.Fatalf("expected loss of FrameSize=%d samples, got %d", FrameSize, loss.total)
	}
	if string(got[0]) != "\x01\x02\x03" || string(got[1]) != "\x07\x08\x09" {
		t.Errorf("forwarded payloads: got %v, want [1 2 3] then [7 8 9]", got)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("AudioOutputTask did not return after context cancellation")
	}
}

// staleTs returns a timestamp far enough ahead of localTs to exceed
// MaxAgeCentiseconds once compared against local time (age is measured as
// an absolute difference, so a timestamp far in the future is just as stale
// as one far in the past, without risking uint32 underflow near the start
// of a freshly created StartTime's clock).
func staleTs(localTs uint32) uint32 {
	return localTs + MaxAgeCentiseconds + 50
}
