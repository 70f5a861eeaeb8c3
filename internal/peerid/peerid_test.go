package peerid_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/chanderlud/telepathy/internal/peerid"
)

func TestFromPublicKeyDeterministic(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	a := peerid.FromPublicKey(pub)
	b := peerid.FromPublicKey(pub)
	if a != b {
		t.Error("hashing the same public key twice should be deterministic")
	}
}

func TestLessTotalOrder(t *testing.T) {
	a := peerid.ID{0x01}
	b := peerid.ID{0x02}
	if !a.Less(b) {
		t.Error("expected a < b")
	}
	if b.Less(a) {
		t.Error("expected !(b < a)")
	}
	if a.Less(a) {
		t.Error("an id is never less than itself")
	}
}

func TestParseRoundTrip(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	id := peerid.FromPublicKey(pub)
	parsed, err := peerid.Parse(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != id {
		t.Error("parse(string(id)) != id")
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := peerid.Parse("not hex"); err == nil {
		t.Error("expected error for non-hex input")
	}
	if _, err := peerid.Parse("deadbeef"); err == nil {
		t.Error("expected error for short input")
	}
}
