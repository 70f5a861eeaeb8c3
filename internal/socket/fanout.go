package socket

import "sync"

// SendingSocket is a single outbound media destination (one peer's media
// sub-stream). Grounded on SendingSocket/ConstSocket in the upstream Rust
// sockets.rs.
type SendingSocket interface {
	SendMedia(frame []byte) error
}

// SendingSockets fans a single microphone stream out to many peers (the
// room variant of spec.md §4.E). Any socket whose SendMedia call errors is
// evicted from the set — matching "any socket that errors on send is
// evicted" in spec.md §4.E.
type SendingSockets struct {
	mu      sync.Mutex
	sockets map[uint64]SendingSocket
	nextID  uint64

	bytesSent  uint64
	sendsOK    uint64
}

// NewSendingSockets returns an empty fan-out set.
func NewSendingSockets() *SendingSockets {
	return &SendingSockets{sockets: make(map[uint64]SendingSocket)}
}

// Register adds a socket to the fan-out set and returns a handle usable
// with Remove.
func (s *SendingSockets) Register(sock SendingSocket) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.sockets[id] = sock
	return id
}

// Remove evicts a socket by the handle returned from Register.
func (s *SendingSockets) Remove(id uint64) {
	s.mu.Lock()
	delete(s.sockets, id)
	s.mu.Unlock()
}

// Len reports the number of currently registered sockets.
func (s *SendingSockets) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}

// Send pushes frame to every registered socket, evicting any that error.
// Bandwidth (bytes-sent × successful-sends, per spec.md §4.E) is
// accumulated and can be read via Stats.
func (s *SendingSockets) Send(frame []byte) {
	s.mu.Lock()
	targets := make(map[uint64]SendingSocket, len(s.sockets))
	for id, sock := range s.sockets {
		targets[id] = sock
	}
	s.mu.Unlock()

	var failed []uint64
	var ok uint64
	for id, sock := range targets {
		if err := sock.SendMedia(frame); err != nil {
			failed = append(failed, id)
			continue
		}
		ok++
	}

	s.mu.Lock()
	for _, id := range failed {
		delete(s.sockets, id)
	}
	s.bytesSent += uint64(len(frame)) * ok
	s.sendsOK += ok
	s.mu.Unlock()
}

// Stats returns cumulative bytes sent and successful sends.
func (s *SendingSockets) Stats() (bytesSent, sendsOK uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent, s.sendsOK
}

// ConstSocket adapts a single SendingSocket to look like a one-element
// SendingSockets for the single-peer call case (spec.md §4.E: "two sending
// strategies: ConstSocket (single peer) and SendingSockets (fan-out)").
type ConstSocket struct {
	sock SendingSocket
}

// NewConstSocket wraps a single destination socket.
func NewConstSocket(sock SendingSocket) *ConstSocket { return &ConstSocket{sock: sock} }

// Send forwards frame to the single destination.
func (c *ConstSocket) Send(frame []byte) error { return c.sock.SendMedia(frame) }
