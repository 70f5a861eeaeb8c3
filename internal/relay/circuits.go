package relay

import (
	"bufio"
	"sync"
	"sync/atomic"

	"github.com/quic-go/webtransport-go"

	"github.com/chanderlud/telepathy/internal/peerid"
)

// handshakeHeaderLen is the fixed-size circuit-join header: a 32-byte
// PeerId announcing which identity this session belongs to, mirroring
// the teacher's length-prefixed-line control handshake (server/client.go
// readBytes('\n')) but using a fixed-width binary header since the relay
// never parses JSON — it only pairs sessions by PeerId.
const handshakeHeaderLen = peerid.Size

// readCircuitHandshake reads the joining peer's declared PeerId off its
// control stream.
func readCircuitHandshake(ctrl *webtransport.Stream) (peerid.ID, error) {
	var id peerid.ID
	r := bufio.NewReader(ctrl)
	buf := make([]byte, handshakeHeaderLen)
	if _, err := readFull(r, buf); err != nil {
		return id, err
	}
	copy(id[:], buf)
	return id, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// circuit pairs at most two sessions under a shared PeerId so datagrams
// sent by either side are forwarded to the other, implementing the
// "relay-server" behavior of spec.md §4.I with no application-level
// interpretation of the payload.
type circuit struct {
	mu       sync.Mutex
	sessions map[*webtransport.Session]struct{}

	bytesForwarded atomic.Uint64
}

func newCircuit() *circuit {
	return &circuit{sessions: make(map[*webtransport.Session]struct{})}
}

func (c *circuit) add(sess *webtransport.Session) {
	c.mu.Lock()
	c.sessions[sess] = struct{}{}
	c.mu.Unlock()
}

func (c *circuit) remove(sess *webtransport.Session) {
	c.mu.Lock()
	delete(c.sessions, sess)
	c.mu.Unlock()
}

// forward relays data to every session in the circuit other than from,
// subject to MaxCircuitBytes (effectively unbounded per spec.md §4.I).
func (c *circuit) forward(from peerid.ID, data []byte) {
	c.mu.Lock()
	targets := make([]*webtransport.Session, 0, len(c.sessions))
	for sess := range c.sessions {
		targets = append(targets, sess)
	}
	c.mu.Unlock()

	for _, sess := range targets {
		_ = sess.SendDatagram(data)
	}
	c.bytesForwarded.Add(uint64(len(data)))
}

// circuitTable maps PeerId to its circuit, creating one on first join.
type circuitTable struct {
	mu       sync.Mutex
	circuits map[peerid.ID]*circuit
}

func newCircuitTable() *circuitTable {
	return &circuitTable{circuits: make(map[peerid.ID]*circuit)}
}

func (t *circuitTable) join(id peerid.ID, sess *webtransport.Session) *circuit {
	t.mu.Lock()
	c, ok := t.circuits[id]
	if !ok {
		c = newCircuit()
		t.circuits[id] = c
	}
	t.mu.Unlock()
	c.add(sess)
	return c
}

func (t *circuitTable) leave(id peerid.ID, sess *webtransport.Session) {
	t.mu.Lock()
	c, ok := t.circuits[id]
	t.mu.Unlock()
	if !ok {
		return
	}
	c.remove(sess)
}
