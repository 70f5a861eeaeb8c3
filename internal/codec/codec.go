// Package codec wraps Opus as the narrow encode/decode boundary spec.md §1
// assigns to "the per-frame audio codec (SEA)", which is explicitly out of
// scope. gopkg.in/hraban/opus.v2 stands in for SEA behind the same
// Encoder/Decoder interface shape the pipeline expects; swapping codecs
// never touches internal/audio's input/output processors.
//
// Grounded on the teacher's opus usage in client/audio.go (Start()):
// opus.NewEncoder with AppVoIP, DTX + in-band FEC enabled, adaptive bitrate
// via SetBitrate.
package codec

import "gopkg.in/hraban/opus.v2"

// SampleRate and Channels are fixed by spec.md §4.C (48 kHz mono).
const (
	SampleRate = 48000
	Channels   = 1
)

// Encoder compresses FrameSize-sample mono i16 PCM blocks into Opus packets.
type Encoder struct {
	enc *opus.Encoder
}

// NewEncoder builds an Opus encoder tuned for voice, with forward error
// correction and discontinuous transmission enabled (matching the
// teacher's Start()).
func NewEncoder(bitrate int) (*Encoder, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	enc.SetBitrate(bitrate)
	enc.SetDTX(true)
	enc.SetInBandFEC(true)
	return &Encoder{enc: enc}, nil
}

// SetBitrate retunes the encoder; used by internal/adapt's bitrate ladder.
func (e *Encoder) SetBitrate(bitrate int) { e.enc.SetBitrate(bitrate) }

// SetPacketLossPerc informs the encoder's FEC of the observed loss rate.
func (e *Encoder) SetPacketLossPerc(pct int) { e.enc.SetPacketLossPerc(pct) }

// Encode compresses one FrameSize-sample i16 block.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, socketMaxFrame)
	n, err := e.enc.Encode(pcm, out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// Decoder decompresses Opus packets back into FrameSize-sample mono i16 PCM.
type Decoder struct {
	dec *opus.Decoder
}

// NewDecoder builds an Opus decoder matching NewEncoder's parameters.
func NewDecoder() (*Decoder, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, err
	}
	return &Decoder{dec: dec}, nil
}

// Decode decompresses data into a FrameSize-sample i16 block. If data is
// empty, the decoder performs packet-loss concealment (PLC), synthesizing a
// plausible continuation frame instead of silence.
func (d *Decoder) Decode(data []byte, frameSize int) ([]int16, error) {
	out := make([]int16, frameSize)
	if len(data) == 0 {
		if err := d.dec.DecodePLC(out); err != nil {
			return nil, err
		}
		return out, nil
	}
	n, err := d.dec.Decode(data, out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// socketMaxFrame mirrors internal/socket.MaxMediaFrame without importing
// it, avoiding a dependency cycle (internal/socket is transport-layer,
// internal/codec is pipeline-layer; both are leaves with respect to each
// other).
const socketMaxFrame = 960
