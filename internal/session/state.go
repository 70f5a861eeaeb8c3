package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chanderlud/telepathy/internal/peerid"
	"github.com/chanderlud/telepathy/internal/proto"
)

// State is the per-peer, reference-shared control-plane record (spec.md
// §3 SessionState). Created when a control stream is accepted or opened,
// keyed by PeerId in Map, and destroyed when its owning session task
// returns.
type State struct {
	ID peerid.ID

	StartCall chan struct{} // signalled to begin an outbound call
	EndCall   chan struct{} // signalled to end the current call
	stopOnce  sync.Once
	stopCh    chan struct{}
	stopCause context.CancelFunc

	InCall          atomic.Bool
	WantsStream     atomic.Bool
	Relayed         atomic.Bool
	StopScreenshare chan struct{}

	MessageOut chan proto.Message

	LatencyUs atomic.Int64
	UpBytes   atomic.Uint64
	DownBytes atomic.Uint64
}

// NewState allocates a fresh State for peer id.
func NewState(id peerid.ID) *State {
	s := &State{
		ID:              id,
		StartCall:       make(chan struct{}, 1),
		EndCall:         make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
		StopScreenshare: make(chan struct{}, 1),
		MessageOut:      make(chan proto.Message, 8),
	}
	return s
}

// StopSession is the cancel-token described in spec.md §3: closing it
// tells session_outer/session_inner to return. Safe to call more than
// once.
func (s *State) StopSession() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Stopped reports whether StopSession has fired.
func (s *State) Stopped() <-chan struct{} { return s.stopCh }

// Map is the session map: at most one State per peer at any time (spec.md
// invariant 6). Single-writer-at-a-time, read-heavy, per spec.md §5.
type Map struct {
	mu sync.RWMutex
	m  map[peerid.ID]*State
}

// NewMap returns an empty session map.
func NewMap() *Map { return &Map{m: make(map[peerid.ID]*State)} }

// Insert adds state, keyed by state.ID. If a State already exists for that
// peer, it is force-torn-down first: both EndCall and StopSession fire on
// the old entry before it is replaced (spec.md invariant 6).
func (m *Map) Insert(state *State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.m[state.ID]; ok {
		forceTeardown(old)
	}
	m.m[state.ID] = state
}

func forceTeardown(old *State) {
	select {
	case old.EndCall <- struct{}{}:
	default:
	}
	old.StopSession()
}

// Get returns the State for id, if any.
func (m *Map) Get(id peerid.ID) (*State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.m[id]
	return s, ok
}

// Remove deletes the entry for id, if it still refers to state (guards
// against removing a newer session that replaced it concurrently).
func (m *Map) Remove(id peerid.ID, state *State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.m[id]; ok && cur == state {
		delete(m.m, id)
	}
}

// Len reports the number of live sessions.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.m)
}

// ConnectionID identifies one candidate connection during negotiation.
// The Rust source keys ConnectionState by an opaque libp2p ConnectionId;
// this module uses a uuid in its place (spec.md's domain-stack addition,
// google/uuid wired from the example pack).
type ConnectionID = uuid.UUID

// ConnectionState is one candidate path to a peer (spec.md §3
// ConnectionState). Relayed iff the endpoint traverses the circuit relay.
type ConnectionState struct {
	Latency  *time.Duration
	Relayed  bool
	Endpoint string
	Retries  int
}

// PeerState is the transient per-peer negotiation record (spec.md §3):
// lives only while candidate connections are being scored, and is dropped
// as soon as a session control stream opens.
type PeerState struct {
	Dialer            *bool
	Dialed            *bool
	Connections       map[ConnectionID]*ConnectionState
	SelectedConn      *ConnectionID
	DCUtRFailed       bool
}

// NewDialerPeerState builds a PeerState for the side that initiated the
// dial.
func NewDialerPeerState() *PeerState {
	t := true
	return &PeerState{Dialer: &t, Connections: make(map[ConnectionID]*ConnectionState)}
}

// NewNonDialerPeerState builds a PeerState for the side that received the
// dial.
func NewNonDialerPeerState() *PeerState {
	f := false
	return &PeerState{Dialer: &f, Connections: make(map[ConnectionID]*ConnectionState)}
}

// ReadyToChoose reports whether every candidate connection has a recorded
// latency (spec.md §4.G: "a peer is 'ready to choose' when all its
// candidates have a latency").
func (p *PeerState) ReadyToChoose() bool {
	if len(p.Connections) == 0 {
		return false
	}
	for _, c := range p.Connections {
		if c.Latency == nil {
			return false
		}
	}
	return true
}

// Select applies the preference order from spec.md §4.G: non-relayed over
// relayed; within a class, lowest latency; if all are relayed and DCUtR has
// failed, accept a relayed connection. Returns the winning ConnectionID and
// ok=false if no candidate is acceptable yet (all relayed, DCUtR not yet
// known to have failed).
func (p *PeerState) Select() (ConnectionID, bool) {
	var bestDirect, bestRelayed ConnectionID
	var bestDirectLat, bestRelayedLat time.Duration
	haveDirect, haveRelayed := false, false

	for id, c := range p.Connections {
		if c.Latency == nil {
			continue
		}
		if c.Relayed {
			if !haveRelayed || *c.Latency < bestRelayedLat {
				bestRelayed, bestRelayedLat, haveRelayed = id, *c.Latency, true
			}
		} else {
			if !haveDirect || *c.Latency < bestDirectLat {
				bestDirect, bestDirectLat, haveDirect = id, *c.Latency, true
			}
		}
	}

	if haveDirect {
		return bestDirect, true
	}
	if haveRelayed && p.DCUtRFailed {
		return bestRelayed, true
	}
	return ConnectionID{}, false
}

// EarlyCallState carries the pre-negotiation call setup shared by every
// room-peer session so the whole room uses one microphone opening (spec.md
// §3 EarlyCallState).
type EarlyCallState struct {
	Peer          peerid.ID
	LocalHeader   proto.AudioHeader
	RemoteHeader  proto.AudioHeader
	ChannelCount  int
}

// CodecConfig returns the negotiated call config per
// EarlyCallState::codec_config() in the upstream source (spec.md §3).
func (e *EarlyCallState) CodecConfig() proto.AudioHeader {
	return proto.Negotiate(e.LocalHeader, e.RemoteHeader)
}
