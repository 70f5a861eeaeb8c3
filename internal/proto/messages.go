// Package proto defines the control-plane wire messages (spec.md §3, §6)
// exchanged on a session's control sub-stream, and the AudioHeader carried
// inside the Hello/HelloAck handshake.
//
// The Rust source encodes these as a tagged-union enum over a deterministic
// binary serialization (bincode/speedy). The teacher's own control messages
// (server/internal/protocol/message.go) instead use a flat JSON struct with
// a Type discriminator and omitempty fields; this module follows the
// teacher's idiom rather than hand-rolling a binary tagged-union codec, and
// keeps the same "schema-stable" guarantee spec.md §6 asks for (new fields
// are always optional, so old decoders ignore them safely — the standard
// encoding/json forward-compatibility story, not bincode's).
package proto

import "encoding/json"

// Message type discriminators for the control sub-stream.
const (
	TypeHello            = "hello"
	TypeHelloAck         = "hello_ack"
	TypeReject            = "reject"
	TypeBusy              = "busy"
	TypeGoodbye           = "goodbye"
	TypeChat              = "chat"
	TypeKeepAlive         = "keep_alive"
	TypeScreenshareHeader = "screenshare_header"
)

// AudioHeader is exchanged in Hello/HelloAck (spec.md §3).
type AudioHeader struct {
	SampleRate   uint32  `json:"sample_rate"`
	CodecEnabled bool    `json:"codec_enabled"`
	VBR          bool    `json:"vbr"`
	ResidualBits float64 `json:"residual_bits"`
}

// IsValid reports whether the header satisfies spec.md invariant 10:
// sample_rate < 128_000 AND residual_bits ∈ [1,8].
func (h AudioHeader) IsValid() bool {
	return h.SampleRate < 128000 && h.ResidualBits >= 1 && h.ResidualBits <= 8
}

// Negotiate computes the negotiated call config per
// EarlyCallState::codec_config() in the upstream source: codec_enabled and
// vbr are OR'd (if either side wants the codec or VBR, use it), residual_bits
// is the MIN (the more conservative/higher-quality setting wins).
func Negotiate(local, remote AudioHeader) AudioHeader {
	residual := local.ResidualBits
	if remote.ResidualBits < residual {
		residual = remote.ResidualBits
	}
	return AudioHeader{
		SampleRate:   local.SampleRate,
		CodecEnabled: local.CodecEnabled || remote.CodecEnabled,
		VBR:          local.VBR || remote.VBR,
		ResidualBits: residual,
	}
}

// RoomCodecOptions are hard-coded for room calls regardless of per-peer
// negotiation, matching core.rs::room_controller: codec and VBR always on,
// residual_bits fixed at 5.0.
func RoomCodecOptions(sampleRate uint32) AudioHeader {
	return AudioHeader{
		SampleRate:   sampleRate,
		CodecEnabled: true,
		VBR:          true,
		ResidualBits: 5.0,
	}
}

// Attachment is a Chat message attachment.
type Attachment struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// Message is the JSON control envelope exchanged over a session's control
// sub-stream. Only the fields relevant to Type are populated.
type Message struct {
	Type string `json:"type"`

	// Hello / HelloAck
	Ringtone    []byte       `json:"ringtone,omitempty"`
	AudioHeader *AudioHeader `json:"audio_header,omitempty"`
	RoomHash    []byte       `json:"room_hash,omitempty"`

	// Goodbye
	Reason string `json:"reason,omitempty"`

	// Chat
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// ScreenshareHeader
	EncoderName string `json:"encoder_name,omitempty"`
}

// Hello builds a Hello message.
func Hello(header AudioHeader, ringtone, roomHash []byte) Message {
	return Message{Type: TypeHello, AudioHeader: &header, Ringtone: ringtone, RoomHash: roomHash}
}

// HelloAck builds a HelloAck message.
func HelloAck(header AudioHeader) Message {
	return Message{Type: TypeHelloAck, AudioHeader: &header}
}

// Goodbye builds a Goodbye message. reason may be empty.
func Goodbye(reason string) Message {
	return Message{Type: TypeGoodbye, Reason: reason}
}

// ErrorGoodbye builds the taxonomy-limited Goodbye used on audio-device
// failure during the accept path (spec.md §4.F, §7): user-visible strings
// never include internal error-type names.
func ErrorGoodbye(audioError bool) Message {
	if audioError {
		return Goodbye("audio device error")
	}
	return Goodbye("an error occurred")
}

// Encode serializes a Message for the control sub-stream, to be prefixed
// with its u64-be length by the caller (internal/socket).
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a Message encoded by Encode.
func Decode(b []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(b, &m)
	return m, err
}
