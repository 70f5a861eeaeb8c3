// Package room implements the room controller (spec.md §4.H): N-peer
// fan-out of a single shared microphone opening, plus a per-peer
// decode/output pipeline spun up on Join and torn down on Leave.
//
// Grounded on the teacher's Room (server/room.go) for the
// mutex-guarded-map-of-peers shape and fan-out send loop, adapted from a
// server-side chat/voice room to a client-side call participant set per
// spec.md §4.H.
package room

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/chanderlud/telepathy/internal/peerid"
	"github.com/chanderlud/telepathy/internal/proto"
	"github.com/chanderlud/telepathy/internal/socket"
)

// Hash computes room_hash = xor of FNV-like hashes of each PeerId,
// little-endian 8-byte, per spec.md §4.H.
func Hash(members []peerid.ID) uint64 {
	var acc uint64
	for _, m := range members {
		h := fnv.New64a()
		h.Write(m[:])
		acc ^= h.Sum64()
	}
	return acc
}

// HashBytes renders Hash as the little-endian 8-byte encoding exchanged in
// Hello.
func HashBytes(members []peerid.ID) []byte {
	v := Hash(members)
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

// Peer is one participant's output pipeline handle, torn down on Leave.
type Peer struct {
	ID     peerid.ID
	cancel context.CancelFunc
	sockID uint64
	done   chan struct{}
}

// OutputStarter is supplied by the caller: given a peer's early call state
// it starts that peer's decode+audio_output pipeline (spec.md §4.H "an
// output+decoder pipeline for that peer") and returns once ctx is
// canceled.
type OutputStarter interface {
	StartOutput(ctx context.Context, peer peerid.ID, early RoomJoin) error
}

// RoomJoin carries a joining peer's negotiated transport and audio state,
// mirroring RoomMessage::Join{transport, early_state} in spec.md §4.H.
type RoomJoin struct {
	Peer        peerid.ID
	Transport   socket.SendingSocket
	AudioHeader proto.AudioHeader
}

// Controller fans one microphone opening out to every current room peer
// and owns each peer's output pipeline lifecycle (spec.md §4.H). One
// Controller per join_room call.
type Controller struct {
	Members []peerid.ID
	Hash    uint64
	Starter OutputStarter
	Sinks   *socket.SendingSockets

	mu    sync.Mutex
	peers map[peerid.ID]*Peer
	wg    sync.WaitGroup
}

// NewController builds a Controller for members, computing its room hash.
func NewController(members []peerid.ID, starter OutputStarter) *Controller {
	return &Controller{
		Members: members,
		Hash:    Hash(members),
		Starter: starter,
		Sinks:   socket.NewSendingSockets(),
		peers:   make(map[peerid.ID]*Peer),
	}
}

// Join spins up that peer's output+decoder pipeline and registers its
// media sink in the fan-out set, implementing invariant 7 (#outputs ==
// #Join - #Leave).
// TODO: spec.md §4.H does not say what happens when a peer already has a
// non-room one-to-one session at the moment it joins a room (does the
// existing session get torn down, or does it coexist alongside the room
// pipeline?). Until resolved, Join treats the two as independent and
// leaves any prior one-to-one session untouched.
func (c *Controller) Join(ctx context.Context, msg RoomJoin) {
	c.mu.Lock()
	if _, exists := c.peers[msg.Peer]; exists {
		c.mu.Unlock()
		return
	}
	peerCtx, cancel := context.WithCancel(ctx)
	sockID := c.Sinks.Register(msg.Transport)
	p := &Peer{ID: msg.Peer, cancel: cancel, sockID: sockID, done: make(chan struct{})}
	c.peers[msg.Peer] = p
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(p.done)
		_ = c.Starter.StartOutput(peerCtx, msg.Peer, msg)
	}()
}

// Leave tears down peer's output pipeline and removes it from the fan-out
// set.
func (c *Controller) Leave(peer peerid.ID) {
	c.mu.Lock()
	p, ok := c.peers[peer]
	if ok {
		delete(c.peers, peer)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	c.Sinks.Remove(p.sockID)
	p.cancel()
	<-p.done
}

// Len reports the number of currently-joined peers.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}

// EndCall cancels every peer's output pipeline and clears room state, per
// spec.md §4.H "end_call notified -> cancel everything, join all, clear
// RoomState."
func (c *Controller) EndCall() {
	c.mu.Lock()
	peers := make([]*Peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.peers = make(map[peerid.ID]*Peer)
	c.mu.Unlock()

	for _, p := range peers {
		c.Sinks.Remove(p.sockID)
		p.cancel()
	}
	c.wg.Wait()
}

// SendMic fans one encoded microphone frame out to every joined peer (the
// single shared microphone opening of spec.md §4.H).
func (c *Controller) SendMic(frame []byte) {
	c.Sinks.Send(frame)
}

// AutoStartCall reports whether the dialer side of a room session should
// auto-start the call on session-open without a per-peer Hello prompt, per
// spec.md §4.H.
func AutoStartCall() bool { return true }
