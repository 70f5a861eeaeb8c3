// Package socket implements the frame socket layer (spec.md §4.E): a
// length-delimited framing scheme layered over the ordered byte-stream of a
// P2P connection (internal/transport), plus the timestamped media framing,
// max-age drop gate, and fan-out used by rooms.
//
// Grounded on the teacher's length-delimited datagram handling in
// client/transport.go (SendAudio/StartReceiving, dgramPool) and on
// sockets.rs in the upstream Rust source for the exact timestamp/max-age
// semantics.
package socket

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"
)

// MaxMediaFrame is the maximum length of a single media payload: one
// FrameSize-sample mono i16 block (960 bytes at FrameSize=480 int16
// samples), per spec.md §6.
const MaxMediaFrame = 960

// MaxControlFrame is the maximum length of a control sub-stream message,
// attachments included (spec.md §3/§6).
const MaxControlFrame = 1 << 30

// MaxAgeCentiseconds is the maximum age, in centiseconds, a media frame's
// embedded timestamp may have relative to local time before it is dropped
// (spec.md §4.E, invariant 5).
const MaxAgeCentiseconds = 250

// keepAliveByte is the single-byte payload written on an idle media socket.
const keepAliveByte = 0x01

// dgramPool reuses read buffers for frame payloads, mirroring the teacher's
// dgramPool idiom in client/transport.go: sync.Pool stores *[]byte to avoid
// boxing on Get/Put.
var dgramPool = sync.Pool{
	New: func() any {
		b := make([]byte, MaxMediaFrame+4)
		return &b
	},
}

// MediaWriter is the minimal write side of a media sub-stream.
type MediaWriter interface {
	Write([]byte) (int, error)
}

// MediaReader is the minimal read side of a media sub-stream.
type MediaReader interface {
	Read([]byte) (int, error)
}

// StartTime anchors the socket's timestamp clock; Timestamp() returns
// centiseconds elapsed since this instant, matching the Rust source's
// "centiseconds since socket start" timestamp (~12,000 h before wraparound
// of a uint32).
type StartTime struct {
	t0 time.Time
}

// NewStartTime begins a socket's timestamp clock at the current instant.
func NewStartTime() StartTime { return StartTime{t0: time.Now()} }

// Timestamp returns the current centisecond offset from t0.
func (s StartTime) Timestamp() uint32 {
	return uint32(time.Since(s.t0).Milliseconds() / 10)
}

// PrependTimestamp writes a 4-byte big-endian timestamp followed by
// payload into a pooled buffer, returning it for the caller to send. The
// caller must return the buffer via ReleaseFrame once sent.
func PrependTimestamp(ts uint32, payload []byte) []byte {
	bp := dgramPool.Get().(*[]byte)
	buf := (*bp)[:0]
	if cap(buf) < 4+len(payload) {
		buf = make([]byte, 0, 4+len(payload))
	}
	buf = append(buf, 0, 0, 0, 0)
	binary.BigEndian.PutUint32(buf, ts)
	buf = append(buf, payload...)
	return buf
}

// ReleaseFrame returns a buffer obtained from PrependTimestamp to the pool.
func ReleaseFrame(buf []byte) {
	b := buf[:0]
	dgramPool.Put(&b)
}

// KeepAliveFrame returns the single-byte keep-alive payload (length 1, no
// timestamp prefix — the special case called out in spec.md §4.E/§6).
func KeepAliveFrame() []byte { return []byte{keepAliveByte} }

// WriteLengthDelimited writes a 2-byte big-endian length prefix followed by
// payload to w. Used for the media sub-stream (spec.md §4.E: "length-
// delimited (2-byte big-endian length)").
func WriteLengthDelimited(w io.Writer, payload []byte) error {
	if len(payload) > 0xFFFF {
		return errors.New("socket: media frame exceeds 2-byte length prefix")
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadLengthDelimited reads one 2-byte length-prefixed frame from r.
func ReadLengthDelimited(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeMediaFrame interprets one frame read via ReadLengthDelimited per
// spec.md §4.E receive path:
//   - length 1 → keep-alive, ignored (ok=false, isKeepAlive=true)
//   - length >= 4 → 4-byte BE timestamp + payload; dropped (ok=false) if the
//     embedded timestamp differs from localTs by more than
//     MaxAgeCentiseconds
//   - otherwise → malformed frame
func DecodeMediaFrame(frame []byte, localTs uint32) (payload []byte, ok bool, isKeepAlive bool) {
	if len(frame) == 1 {
		return nil, false, true
	}
	if len(frame) < 4 {
		return nil, false, false
	}
	remoteTs := binary.BigEndian.Uint32(frame[:4])
	age := int64(localTs) - int64(remoteTs)
	if age < 0 {
		age = -age
	}
	if age > MaxAgeCentiseconds {
		return nil, false, false
	}
	return frame[4:], true, false
}

// WriteControlLengthDelimited writes a control sub-stream message: an
// 8-byte (u64) big-endian length prefix followed by the encoded message
// (spec.md §6).
func WriteControlLengthDelimited(w io.Writer, payload []byte) error {
	if len(payload) > MaxControlFrame {
		return errors.New("socket: control frame exceeds maximum length")
	}
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadControlLengthDelimited reads one u64-length-prefixed control message.
func ReadControlLengthDelimited(r io.Reader) ([]byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint64(hdr[:])
	if n > MaxControlFrame {
		return nil, errors.New("socket: control frame exceeds maximum length")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
