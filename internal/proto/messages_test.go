package proto_test

import (
	"testing"

	"github.com/chanderlud/telepathy/internal/proto"
)

func TestAudioHeaderIsValid(t *testing.T) {
	cases := []struct {
		h    proto.AudioHeader
		want bool
	}{
		{proto.AudioHeader{SampleRate: 48000, ResidualBits: 5}, true},
		{proto.AudioHeader{SampleRate: 128000, ResidualBits: 5}, false},
		{proto.AudioHeader{SampleRate: 48000, ResidualBits: 0.5}, false},
		{proto.AudioHeader{SampleRate: 48000, ResidualBits: 8.1}, false},
		{proto.AudioHeader{SampleRate: 48000, ResidualBits: 1}, true},
		{proto.AudioHeader{SampleRate: 48000, ResidualBits: 8}, true},
	}
	for _, c := range cases {
		if got := c.h.IsValid(); got != c.want {
			t.Errorf("%+v: IsValid() = %v, want %v", c.h, got, c.want)
		}
	}
}

func TestAudioHeaderRoundTrip(t *testing.T) {
	h := proto.AudioHeader{SampleRate: 44100, CodecEnabled: true, VBR: false, ResidualBits: 4.5}
	msg := proto.Hello(h, []byte("ring"), []byte{1, 2, 3, 4, 5, 6, 7, 8})

	data, err := proto.Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := proto.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Type != proto.TypeHello {
		t.Errorf("type: got %q", decoded.Type)
	}
	if *decoded.AudioHeader != h {
		t.Errorf("audio header: got %+v want %+v", *decoded.AudioHeader, h)
	}
	if string(decoded.Ringtone) != "ring" {
		t.Errorf("ringtone: got %q", decoded.Ringtone)
	}
}

func TestMessageRoundTripIsIdentity(t *testing.T) {
	msgs := []proto.Message{
		proto.Goodbye("an error occurred"),
		{Type: proto.TypeBusy},
		{Type: proto.TypeReject},
		{Type: proto.TypeKeepAlive},
		{Type: proto.TypeChat, Text: "hi", Attachments: []proto.Attachment{{Name: "a.txt", Data: []byte("x")}}},
	}
	for _, m := range msgs {
		data, err := proto.Encode(m)
		if err != nil {
			t.Fatal(err)
		}
		decoded, err := proto.Decode(data)
		if err != nil {
			t.Fatal(err)
		}
		if decoded.Type != m.Type || decoded.Text != m.Text || decoded.Reason != m.Reason {
			t.Errorf("round trip mismatch: got %+v want %+v", decoded, m)
		}
	}
}

func TestNegotiate(t *testing.T) {
	local := proto.AudioHeader{SampleRate: 48000, CodecEnabled: true, VBR: false, ResidualBits: 6}
	remote := proto.AudioHeader{SampleRate: 48000, CodecEnabled: false, VBR: true, ResidualBits: 3}

	got := proto.Negotiate(local, remote)
	if !got.CodecEnabled {
		t.Error("codec_enabled should be OR'd true")
	}
	if !got.VBR {
		t.Error("vbr should be OR'd true")
	}
	if got.ResidualBits != 3 {
		t.Errorf("residual_bits should be MIN, got %v", got.ResidualBits)
	}
}

func TestRoomCodecOptionsFixed(t *testing.T) {
	got := proto.RoomCodecOptions(48000)
	if !got.CodecEnabled || !got.VBR || got.ResidualBits != 5.0 {
		t.Errorf("room codec options should be fixed (true,true,5.0), got %+v", got)
	}
}

func TestErrorGoodbyeTaxonomy(t *testing.T) {
	if got := proto.ErrorGoodbye(true); got.Reason != "audio device error" {
		t.Errorf("got %q", got.Reason)
	}
	if got := proto.ErrorGoodbye(false); got.Reason != "an error occurred" {
		t.Errorf("got %q", got.Reason)
	}
}
