// Package transport provides the P2P connection layer session.Machine and
// session.Manager dial against: a WebTransport session to a peer (direct
// or relayed through a relay node), its control stream, and its media
// datagrams.
//
// Grounded on the teacher's client/transport.go (webtransport.Dialer,
// OpenStream/AcceptStream for control, SendDatagram/ReceiveDatagram for
// media, a ping loop for RTT, sync.Pool'd datagram buffers) adapted from a
// single-server chat/voice client to a per-peer P2P connection.
package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"github.com/chanderlud/telepathy/internal/peerid"
	"github.com/chanderlud/telepathy/internal/proto"
	"github.com/chanderlud/telepathy/internal/session"
	"github.com/chanderlud/telepathy/internal/socket"
)

// pingInterval matches the teacher's 2 s RTT-measurement cadence
// (client/transport.go pingLoop).
const pingInterval = 2 * time.Second

// Conn is one WebTransport connection to a peer, directly or via a relay
// node, implementing both session.Transport (control stream) and the
// media send/receive side the socket tasks need.
type Conn struct {
	sess *webtransport.Session

	ctrlMu sync.Mutex
	ctrl   *webtransport.Stream

	dialer bool // true if this side opened the control stream

	readMu  sync.Mutex
	readBuf []byte // leftover bytes from the most recently received datagram
}

// dialTimeout bounds a single connection attempt (teacher's connectTimeout).
const dialTimeout = 10 * time.Second

// Dial opens a WebTransport session to url (either a direct peer listener
// or a relay's /relay endpoint) and, if dialer is true, opens the control
// stream and announces self's identity; otherwise it accepts one. url must
// be an https:// URL per webtransport-go's dialer.
//
// WebTransport's TLS handshake (InsecureSkipVerify, no client certs) never
// gives either side the peer's identity the way libp2p's Noise handshake
// would, so the dialer writes a fixed-width PeerId header immediately
// after opening the control stream — the same "announce who I am before
// any JSON traffic" convention internal/relay's circuit handshake uses
// (relay/circuits.go), just one hop closer to the application.
func Dial(ctx context.Context, url string, dialer bool, self peerid.ID) (*Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	d := webtransport.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		QUICConfig: &quic.Config{
			EnableDatagrams: true,
		},
	}
	_, sess, err := d.Dial(dialCtx, url, http.Header{})
	if err != nil {
		return nil, err
	}

	c := &Conn{sess: sess, dialer: dialer}
	if dialer {
		stream, err := sess.OpenStream()
		if err != nil {
			sess.CloseWithError(0, "failed to open control stream")
			return nil, err
		}
		c.ctrl = stream
		if _, err := stream.Write(self[:]); err != nil {
			sess.CloseWithError(0, "failed to announce identity")
			return nil, err
		}
	} else {
		stream, err := sess.AcceptStream(ctx)
		if err != nil {
			sess.CloseWithError(0, "failed to accept control stream")
			return nil, err
		}
		c.ctrl = stream
	}
	return c, nil
}

// Listen runs a WebTransport server on addr accepting direct (non-relayed)
// inbound peer connections (spec.md §4.G's non-dialer path, for peers
// reachable without NAT traversal or already hole-punched). For each
// accepted session it reads the dialer's announced identity off the
// freshly opened control stream and invokes accept with the resulting
// Conn; accept is expected to hand the Conn to session.Manager.AcceptConnection
// (via internal/app's HandleIncoming) the same way a relayed circuit would.
// Listen blocks until ctx is canceled.
//
// Grounded on internal/relay.Node.Serve, adapted from a relay forwarding
// raw datagrams between two already-identified circuits to a client
// accepting a single identified peer connection per session.
func Listen(ctx context.Context, addr string, tlsConfig *tls.Config, accept func(peer peerid.ID, conn *Conn, remoteAddr string)) error {
	server := &webtransport.Server{
		H3: http3.Server{
			Addr:      addr,
			TLSConfig: tlsConfig,
			QUICConfig: &quic.Config{
				EnableDatagrams: true,
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/call", func(w http.ResponseWriter, r *http.Request) {
		remote := r.RemoteAddr
		sess, err := server.Upgrade(w, r)
		if err != nil {
			log.Printf("[transport] upgrade failed: %v", err)
			return
		}
		go func() {
			stream, err := sess.AcceptStream(ctx)
			if err != nil {
				log.Printf("[transport] accept control stream: %v", err)
				sess.CloseWithError(0, "no control stream")
				return
			}
			var id peerid.ID
			if _, err := readFullIdentity(stream, id[:]); err != nil {
				log.Printf("[transport] identity handshake: %v", err)
				sess.CloseWithError(0, "bad identity handshake")
				return
			}
			accept(id, &Conn{sess: sess, ctrl: stream, dialer: false}, remote)
		}()
	})
	server.H3.Handler = mux

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	log.Printf("[transport] listening on %s", addr)
	err := server.ListenAndServe()
	if err == nil || err == http.ErrServerClosed {
		return nil
	}
	return err
}

func readFullIdentity(stream *webtransport.Stream, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := stream.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// SendControl writes one control message, length-delimited per
// socket.WriteControlLengthDelimited.
func (c *Conn) SendControl(ctx context.Context, m proto.Message) error {
	data, err := proto.Encode(m)
	if err != nil {
		return err
	}
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()
	return socket.WriteControlLengthDelimited(c.ctrl, data)
}

// RecvControl reads and decodes one control message. Only one goroutine
// should call RecvControl at a time (session.Machine's event loop honors
// this).
func (c *Conn) RecvControl(ctx context.Context) (proto.Message, error) {
	data, err := socket.ReadControlLengthDelimited(c.ctrl)
	if err != nil {
		return proto.Message{}, err
	}
	return proto.Decode(data)
}

// CloseControl closes the underlying session.
func (c *Conn) CloseControl() error {
	return c.sess.CloseWithError(0, "bye")
}

// SendMedia sends one already-framed media payload as an unreliable
// datagram (spec.md §4.E), implementing socket.SendingSocket.
func (c *Conn) SendMedia(frame []byte) error {
	return c.sess.SendDatagram(frame)
}

// Read implements socket.MediaReader. WebTransport datagrams are already
// message-delimited (unlike the QUIC byte-stream spec.md §4.E assumes), so
// Read synthesizes the 2-byte length-delimited framing socket.
// ReadLengthDelimited expects by prepending each received datagram's
// length before serving it out over however many Read calls it takes.
// ctx.Background is used for the blocking receive; callers needing
// cancellation race this against their own context, matching
// socket.AudioOutputTask's own-goroutine-plus-select pattern.
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if len(c.readBuf) == 0 {
		data, err := c.sess.ReceiveDatagram(context.Background())
		if err != nil {
			return 0, err
		}
		var hdr [2]byte
		binary.BigEndian.PutUint16(hdr[:], uint16(len(data)))
		c.readBuf = append(append([]byte{}, hdr[:]...), data...)
	}

	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

var _ session.Transport = (*Conn)(nil)

// Dialer adapts Conn-dialing to session.Dialer, scoring each candidate
// endpoint with a ping round-trip the way the teacher's pingLoop measures
// RTT, but as a single request/response rather than a periodic loop. Once
// a connection is selected, session.Machine's periodic loop only sends
// KeepAlive messages; it does not measure RTT again.
type Dialer struct {
	self peerid.ID

	mu    sync.Mutex
	conns map[session.ConnectionID]*Conn
}

// NewDialer returns an empty Dialer that announces self's identity on every
// outbound control stream it opens.
func NewDialer(self peerid.ID) *Dialer {
	return &Dialer{self: self, conns: make(map[session.ConnectionID]*Conn)}
}

// Dial opens a candidate WebTransport connection to endpoint.
func (d *Dialer) Dial(ctx context.Context, endpoint string, relayed bool) (session.ConnectionID, error) {
	conn, err := Dial(ctx, endpoint, true, d.self)
	if err != nil {
		return session.ConnectionID{}, err
	}
	id := session.NewConnectionID()

	d.mu.Lock()
	d.conns[id] = conn
	d.mu.Unlock()
	return id, nil
}

// Ping measures round-trip latency to a candidate connection by sending a
// KeepAlive control message and timing the reply.
func (d *Dialer) Ping(ctx context.Context, id session.ConnectionID) (time.Duration, error) {
	d.mu.Lock()
	conn, ok := d.conns[id]
	d.mu.Unlock()
	if !ok {
		return 0, errUnknownConnection
	}

	start := time.Now()
	if err := conn.SendControl(ctx, proto.Message{Type: proto.TypeKeepAlive}); err != nil {
		return 0, err
	}
	if _, err := conn.RecvControl(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Adopt registers an already-accepted inbound Conn (the relay-facing
// listener's counterpart to Dial) under a fresh ConnectionID, so it can be
// scored and selected the same way as an outbound candidate.
func (d *Dialer) Adopt(conn *Conn) session.ConnectionID {
	id := session.NewConnectionID()
	d.mu.Lock()
	d.conns[id] = conn
	d.mu.Unlock()
	return id
}

// Get returns the live Conn behind a previously-dialed ConnectionID, for
// the caller to build a session.Machine around once it has won selection.
func (d *Dialer) Get(id session.ConnectionID) (*Conn, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn, ok := d.conns[id]
	return conn, ok
}

// Close tears down a candidate connection that lost the selection.
func (d *Dialer) Close(id session.ConnectionID) error {
	d.mu.Lock()
	conn, ok := d.conns[id]
	delete(d.conns, id)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.CloseControl()
}

type dialerError string

func (e dialerError) Error() string { return string(e) }

const errUnknownConnection = dialerError("transport: unknown connection id")

var _ session.Dialer = (*Dialer)(nil)
