package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chanderlud/telepathy/internal/peerid"
)

// Dialer opens a fresh candidate connection to a peer at endpoint and
// measures its round-trip latency. Grounded on the teacher's transport
// dial/ping pair (client/transport.go), standing in for libp2p's identify
// + ping behaviors from spec.md §4.I.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, relayed bool) (ConnectionID, error)
	Ping(ctx context.Context, id ConnectionID) (time.Duration, error)
	Close(id ConnectionID) error
}

// Manager owns the session map and the transient per-peer PeerState used
// while candidate connections are scored (spec.md §4.G). One Manager per
// local identity.
type Manager struct {
	Self  peerid.ID
	Sessions *Map
	Dialer   Dialer

	mu      sync.Mutex
	peers   map[peerid.ID]*PeerState
	winners map[peerid.ID]ConnectionID
}

// NewManager builds a Manager around an existing session map.
func NewManager(self peerid.ID, sessions *Map, dialer Dialer) *Manager {
	return &Manager{Self: self, Sessions: sessions, Dialer: dialer, peers: make(map[peerid.ID]*PeerState), winners: make(map[peerid.ID]ConnectionID)}
}

// TakeWinner returns (and forgets) the ConnectionID selected for peer by
// the most recent BeginDial/AcceptConnection negotiation, so the caller can look
// it up in its Dialer implementation and build a session.Transport around
// it.
func (m *Manager) TakeWinner(peer peerid.ID) (ConnectionID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.winners[peer]
	if ok {
		delete(m.winners, peer)
	}
	return id, ok
}

// BeginDial starts outbound negotiation toward peer: creates (or resets)
// its PeerState as a dialer, then probes every candidate endpoint
// concurrently, recording latency as each probe returns.
func (m *Manager) BeginDial(ctx context.Context, peer peerid.ID, endpoints []string, relayed []bool) (*State, error) {
	m.mu.Lock()
	ps := NewDialerPeerState()
	m.peers[peer] = ps
	m.mu.Unlock()

	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func(ep string, relayed bool) {
			defer wg.Done()
			m.probe(ctx, ps, ep, relayed)
		}(ep, relayed[i])
	}
	wg.Wait()

	return m.chooseAndInstall(ctx, peer, ps)
}

// AcceptConnection is the accept-side counterpart to probe: the candidate
// connection already exists (accepted by the transport's listener) under
// id, so this only needs to score it, not dial it.
func (m *Manager) AcceptConnection(ctx context.Context, peer peerid.ID, id ConnectionID, endpoint string, relayed bool) (*State, error) {
	m.mu.Lock()
	ps, ok := m.peers[peer]
	if !ok {
		ps = NewNonDialerPeerState()
		m.peers[peer] = ps
	}
	cs := &ConnectionState{Relayed: relayed, Endpoint: endpoint}
	ps.Connections[id] = cs
	m.mu.Unlock()

	m.scoreConnection(ctx, ps, id, cs, relayed)

	m.mu.Lock()
	ready := ps.ReadyToChoose()
	m.mu.Unlock()
	if !ready {
		return nil, nil
	}
	return m.chooseAndInstall(ctx, peer, ps)
}

func (m *Manager) probe(ctx context.Context, ps *PeerState, endpoint string, relayed bool) {
	id, err := m.Dialer.Dial(ctx, endpoint, relayed)
	if err != nil {
		return
	}
	cs := &ConnectionState{Relayed: relayed, Endpoint: endpoint}

	m.mu.Lock()
	ps.Connections[id] = cs
	m.mu.Unlock()

	m.scoreConnection(ctx, ps, id, cs, relayed)
}

// scoreConnection pings an already-dialed-or-accepted candidate and
// records its latency, or marks DCUtR failed after enough retries on a
// relayed candidate.
//
// TODO: spec.md does not pin an exact retry count for a failing
// direct-connect attempt before DCUtR is considered to have failed and a
// relayed fallback is preferred; 3 is a placeholder chosen to bound
// BeginDial's latency without real-network measurements to tune it.
func (m *Manager) scoreConnection(ctx context.Context, ps *PeerState, id ConnectionID, cs *ConnectionState, relayed bool) {
	lat, err := m.Dialer.Ping(ctx, id)
	m.mu.Lock()
	if err != nil {
		cs.Retries++
		if cs.Retries >= 3 && relayed {
			ps.DCUtRFailed = true
		}
	} else {
		lat := lat
		cs.Latency = &lat
	}
	m.mu.Unlock()
}

// chooseAndInstall applies the tie-break rule from spec.md S2 ("the peer
// with the numerically larger PeerId becomes the dialer; exactly one call
// is established") and, once a connection is selected, tears down the rest
// and installs the session.
func (m *Manager) chooseAndInstall(ctx context.Context, peer peerid.ID, ps *PeerState) (*State, error) {
	m.mu.Lock()
	id, ok := ps.Select()
	if !ok {
		m.mu.Unlock()
		return nil, Wrap(ErrNoStream, errNoUsableConnection)
	}

	var winner *ConnectionState
	for cid, cs := range ps.Connections {
		if cid == id {
			winner = cs
			continue
		}
		_ = m.Dialer.Close(cid)
	}
	ps.SelectedConn = &id
	m.winners[peer] = id
	delete(m.peers, peer)
	m.mu.Unlock()

	state := NewState(peer)
	if winner != nil {
		state.Relayed.Store(winner.Relayed)
		if winner.Latency != nil {
			state.LatencyUs.Store(winner.Latency.Microseconds())
		}
	}

	// Simultaneous-dial tie-break (spec.md S2): the peer with the
	// numerically larger PeerId becomes the dialer. If self is the
	// smaller id and a session already exists for peer, defer to it
	// instead of installing a second, redundant dialed session.
	if existing, ok := m.Sessions.Get(peer); ok {
		if m.Self.Less(peer) {
			m.mu.Lock()
			delete(m.winners, peer)
			m.mu.Unlock()
			_ = m.Dialer.Close(id)
			return existing, nil
		}
	}

	m.Sessions.Insert(state)
	return state, nil
}

type managerErr string

func (e managerErr) Error() string { return string(e) }

const errNoUsableConnection = managerErr("no usable connection: all candidates relayed and DCUtR has not failed")

// NewConnectionID mints a fresh ConnectionID, for Dialer implementations
// that need one without importing uuid directly.
func NewConnectionID() ConnectionID { return uuid.New() }
