package socket

import "testing"

// TestDecodeMediaFrameDropsFramesOlderThanMaxAge covers spec.md invariant 5:
// a media frame whose embedded timestamp differs from local time by more
// than MaxAgeCentiseconds is dropped.
func TestDecodeMediaFrameDropsFramesOlderThanMaxAge(t *testing.T) {
	localTs := uint32(10_000)

	tooOld := PrependTimestamp(localTs-MaxAgeCentiseconds-1, []byte{1, 2, 3})
	_, ok, keepAlive := DecodeMediaFrame(tooOld, localTs)
	if ok || keepAlive {
		t.Fatalf("frame %d centiseconds old should be dropped, got ok=%v keepAlive=%v",
			MaxAgeCentiseconds+1, ok, keepAlive)
	}

	tooFuture := PrependTimestamp(localTs+MaxAgeCentiseconds+1, []byte{1, 2, 3})
	_, ok, keepAlive = DecodeMediaFrame(tooFuture, localTs)
	if ok || keepAlive {
		t.Fatal("frame from the future beyond MaxAgeCentiseconds should be dropped")
	}
}

func TestDecodeMediaFrameAcceptsFramesAtExactBoundary(t *testing.T) {
	localTs := uint32(10_000)

	atBoundary := PrependTimestamp(localTs-MaxAgeCentiseconds, []byte{9})
	payload, ok, keepAlive := DecodeMediaFrame(atBoundary, localTs)
	if !ok || keepAlive {
		t.Fatalf("frame exactly MaxAgeCentiseconds old should be accepted, got ok=%v keepAlive=%v", ok, keepAlive)
	}
	if string(payload) != "\x09" {
		t.Errorf("payload: got %v, want [9]", payload)
	}
}

func TestDecodeMediaFrameAcceptsFreshFrame(t *testing.T) {
	localTs := uint32(500)
	frame := PrependTimestamp(localTs, []byte{0xAB, 0xCD})
	payload, ok, keepAlive := DecodeMediaFrame(frame, localTs)
	if !ok || keepAlive {
		t.Fatal("fresh frame should be accepted")
	}
	if string(payload) != "\xab\xcd" {
		t.Errorf("payload: got %v, want [0xAB 0xCD]", payload)
	}
}

func TestDecodeMediaFrameKeepAlive(t *testing.T) {
	_, ok, keepAlive := DecodeMediaFrame(KeepAliveFrame(), 0)
	if ok || !keepAlive {
		t.Errorf("keep-alive frame: got ok=%v keepAlive=%v, want ok=false keepAlive=true", ok, keepAlive)
	}
}

func TestDecodeMediaFrameMalformedTooShort(t *testing.T) {
	_, ok, keepAlive := DecodeMediaFrame([]byte{1, 2, 3}, 0)
	if ok || keepAlive {
		t.Error("a 3-byte frame is neither a valid timestamped frame nor a keep-alive")
	}
}
