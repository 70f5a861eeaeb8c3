package room_test

import (
	"context"
	"sync"
	"testing"

	"github.com/chanderlud/telepathy/internal/peerid"
	"github.com/chanderlud/telepathy/internal/room"
)

func makeID(b byte) peerid.ID {
	var id peerid.ID
	id[31] = b
	return id
}

func TestHashIsOrderIndependent(t *testing.T) {
	a, b, c := makeID(1), makeID(2), makeID(3)
	h1 := room.Hash([]peerid.ID{a, b, c})
	h2 := room.Hash([]peerid.ID{c, a, b})
	if h1 != h2 {
		t.Errorf("expected order-independent hash, got %x vs %x", h1, h2)
	}
}

func TestHashBytesLength(t *testing.T) {
	b := room.HashBytes([]peerid.ID{makeID(1)})
	if len(b) != 8 {
		t.Fatalf("expected 8-byte room hash, got %d", len(b))
	}
}

type fakeSink struct{}

func (fakeSink) SendMedia([]byte) error { return nil }

// TestControllerJoinLeaveMaintainsOutputCount covers invariant 7:
// #outputs == #Join - #Leave.
func TestControllerJoinLeaveMaintainsOutputCount(t *testing.T) {
	a, b, c := makeID(1), makeID(2), makeID(3)
	ctrl := room.NewController([]peerid.ID{a, b, c}, &multiStarter{})

	ctx := context.Background()
	ctrl.Join(ctx, room.RoomJoin{Peer: a, Transport: fakeSink{}})
	ctrl.Join(ctx, room.RoomJoin{Peer: b, Transport: fakeSink{}})
	if got := ctrl.Len(); got != 2 {
		t.Fatalf("expected 2 outputs after 2 joins, got %d", got)
	}

	ctrl.Join(ctx, room.RoomJoin{Peer: c, Transport: fakeSink{}})
	if got := ctrl.Len(); got != 3 {
		t.Fatalf("expected 3 outputs after 3 joins, got %d", got)
	}

	ctrl.Leave(c)
	if got := ctrl.Len(); got != 2 {
		t.Fatalf("expected 2 outputs after 1 leave, got %d", got)
	}

	ctrl.EndCall()
	if got := ctrl.Len(); got != 0 {
		t.Fatalf("expected 0 outputs after EndCall, got %d", got)
	}
}

type multiStarter struct{ mu sync.Mutex }

func (s *multiStarter) StartOutput(ctx context.Context, peer peerid.ID, early room.RoomJoin) error {
	<-ctx.Done()
	return nil
}
