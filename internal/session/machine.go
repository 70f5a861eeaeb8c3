package session

import (
	"bytes"
	"context"
	"log"
	"time"

	"github.com/chanderlud/telepathy/internal/peerid"
	"github.com/chanderlud/telepathy/internal/proto"
)

// Transport is the minimal per-peer control-stream collaborator a session
// needs: open/accept the control sub-stream, send/receive Messages on it.
// Grounded on the teacher's Transporter interface (client/interfaces.go).
type Transport interface {
	SendControl(ctx context.Context, m proto.Message) error
	RecvControl(ctx context.Context) (proto.Message, error)
	CloseControl() error
}

// CallHandler is supplied by the caller (manager/room) and does the actual
// audio-device and stream plumbing once a call is accepted. It returns when
// the call ends, carrying an error classified with an ErrKind via Wrap.
type CallHandler interface {
	RunCall(ctx context.Context, state *State, early *EarlyCallState) error
}

// Acceptor is the external call-acceptor collaborator from spec.md §6:
// accept(contact_id, ringtone?, cancel-signal) -> bool. The prompt can be
// cancelled mid-flight (cancel closes) if the caller hangs up first.
type Acceptor func(ctx context.Context, peer peerid.ID, ringtone []byte, cancel <-chan struct{}) bool

// CallStateKind mirrors the CallStateSink variants of spec.md §6.
type CallStateKind int

const (
	CallConnected CallStateKind = iota
	CallWaiting
	CallEnded
	CallRoomJoin
	CallRoomLeave
)

// CallStateEvent is posted to CallStateSink (spec.md §6 "call state sink").
type CallStateEvent struct {
	Kind   CallStateKind
	Peer   peerid.ID
	Reason string // set for CallEnded
	Notify bool   // set for CallEnded: whether the UI should surface a notification
}

// CallStateSink receives CallStateEvent postings.
type CallStateSink func(CallStateEvent)

// StatusKind mirrors the StatusSink variants of spec.md §6 ("session_status").
type StatusKind int

const (
	StatusInactive StatusKind = iota
	StatusConnecting
	StatusConnected
)

// StatusSink receives per-peer status transitions (spec.md §6).
type StatusSink func(peer peerid.ID, status StatusKind, relayed bool)

// HelloTimeout and RingtoneBonus are the Hello-response deadlines from
// spec.md §5: "Hello response = 10 s (+10 s if ringtone is attached)".
const (
	HelloTimeout  = 10 * time.Second
	RingtoneBonus = 10 * time.Second
)

// Machine drives one peer's session_outer/session_inner loop (spec.md
// §4.F). One Machine per State; Run blocks until StopSession fires or an
// IsSessionCritical error occurs.
type Machine struct {
	State     *State
	Transport Transport
	Handler   CallHandler
	Local     proto.AudioHeader
	RoomHash  []byte // nil outside a room; this peer's current room, if any
	Ringtone  []byte // attached to outbound Hello, if any; extends the Hello-response deadline

	// Accept is consulted on the accept path when no RoomHash auto-accepts
	// the call (spec.md §4.F accept path). Nil means auto-accept.
	Accept Acceptor
	// OnCallState and OnStatus are the UI-facing sinks from spec.md §6;
	// either may be nil.
	OnCallState CallStateSink
	OnStatus    StatusSink
	// Dummy marks a room-only placeholder contact (spec.md §4.F cleanup
	// invariants: "except for dummy/room-only contacts" skips the
	// SessionStatus::Inactive posting on cleanup).
	Dummy bool

	keepAliveEvery time.Duration
}

// NewMachine builds a Machine with the default keep-alive interval.
func NewMachine(state *State, t Transport, h CallHandler, local proto.AudioHeader) *Machine {
	return &Machine{State: state, Transport: t, Handler: h, Local: local, keepAliveEvery: 10 * time.Second}
}

func (m *Machine) postCallState(ev CallStateEvent) {
	if m.OnCallState != nil {
		ev.Peer = m.State.ID
		m.OnCallState(ev)
	}
}

func (m *Machine) postStatus(status StatusKind, relayed bool) {
	if m.OnStatus != nil {
		m.OnStatus(m.State.ID, status, relayed)
	}
}

// Run is session_outer: it retries session_inner until a session-critical
// error occurs or StopSession fires. On exit it implements the cleanup
// invariants of spec.md §4.F: remove from the session map is the caller's
// job (it owns the Map), but posting SessionStatus::Inactive is this
// Machine's, skipped for dummy/room-only contacts.
func (m *Machine) Run(ctx context.Context) {
	defer func() {
		if !m.Dummy {
			m.postStatus(StatusInactive, false)
		}
	}()

	for {
		err := m.inner(ctx)
		if err == nil {
			return
		}
		kind := KindOf(err)
		if kind.IsSessionCritical() {
			log.Printf("session %s: critical error, stopping: %v", m.State.ID, err)
			return
		}

		if m.State.InCall.Load() {
			m.postCallState(CallStateEvent{Kind: CallEnded, Reason: "an error occurred", Notify: false})
		}

		select {
		case <-m.State.Stopped():
			return
		case <-ctx.Done():
			return
		default:
		}
		log.Printf("session %s: recoverable error, retrying: %v", m.State.ID, err)
	}
}

type inboundMsg struct {
	msg proto.Message
	err error
}

// inner is session_inner: the event loop over control messages, the
// start_call signal, and the keep-alive ticker, per spec.md §4.F's event
// table. RecvControl is run on its own goroutine so a blocked read never
// starves the start_call/keep_alive cases.
func (m *Machine) inner(ctx context.Context) error {
	ticker := time.NewTicker(m.keepAliveEvery)
	defer ticker.Stop()

	innerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	recvCh := make(chan inboundMsg, 1)
	go func() {
		for {
			msg, err := m.Transport.RecvControl(innerCtx)
			select {
			case recvCh <- inboundMsg{msg, err}:
			case <-innerCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-m.State.Stopped():
			return nil

		case <-m.State.StartCall:
			if err := m.handleOutboundCall(ctx, recvCh); err != nil {
				return err
			}

		case <-ticker.C:
			if err := m.Transport.SendControl(ctx, proto.Message{Type: proto.TypeKeepAlive}); err != nil {
				return Wrap(ErrTransport, err)
			}

		case in := <-recvCh:
			if in.err != nil {
				return Wrap(ErrTransport, in.err)
			}
			if err := m.handleMessage(ctx, in.msg, recvCh); err != nil {
				return err
			}
		}
	}
}

// handleMessage dispatches one inbound control message, per spec.md §4.F's
// event table.
func (m *Machine) handleMessage(ctx context.Context, msg proto.Message, recvCh <-chan inboundMsg) error {
	switch msg.Type {
	case proto.TypeKeepAlive:
		return nil

	case proto.TypeHello:
		return m.handleInboundHello(ctx, msg, recvCh)

	case proto.TypeHelloAck:
		// "Inbound HelloAck before we sent Hello" (spec.md §4.F): unexpected,
		// log and continue.
		log.Printf("session %s: unexpected HelloAck (no outstanding Hello)", m.State.ID)
		return nil

	case proto.TypeGoodbye:
		wasInCall := m.State.InCall.Load()
		m.State.InCall.Store(false)
		select {
		case m.State.EndCall <- struct{}{}:
		default:
		}
		if wasInCall {
			m.postCallState(CallStateEvent{Kind: CallEnded, Reason: msg.Reason, Notify: true})
		}
		return nil

	case proto.TypeChat:
		// TODO(spec.md §9 open question b): whether room-chat messages
		// should be broadcast to every room peer or only echoed to the
		// sender; until decided, Chat received while RoomHash is set is
		// discarded, matching the present source's behavior, rather than
		// guessing a broadcast policy. Outside a room it goes to MessageOut.
		if m.RoomHash != nil {
			return nil
		}
		select {
		case m.State.MessageOut <- msg:
		default:
		}
		return nil

	default:
		// unexpected message type for the current state: per spec.md
		// §4.F this is logged and ignored, not fatal.
		log.Printf("session %s: unexpected message type %q", m.State.ID, msg.Type)
		return nil
	}
}

// handleInboundHello implements the accept path (spec.md §4.F): room_hash
// routing first, then Busy, then the external accept-handler prompt
// (cancellable by an inbound Goodbye), then HelloAck/Reject.
func (m *Machine) handleInboundHello(ctx context.Context, msg proto.Message, recvCh <-chan inboundMsg) error {
	if msg.RoomHash != nil {
		if m.RoomHash != nil && bytes.Equal(msg.RoomHash, m.RoomHash) {
			return m.acceptHello(ctx, msg)
		}
		return m.Transport.SendControl(ctx, proto.Message{Type: proto.TypeReject})
	}

	if m.State.InCall.Load() {
		return m.Transport.SendControl(ctx, proto.Message{Type: proto.TypeBusy})
	}

	if m.Accept == nil {
		return m.acceptHello(ctx, msg)
	}

	cancelPrompt := make(chan struct{})
	resultCh := make(chan bool, 1)
	go func() {
		resultCh <- m.Accept(ctx, m.State.ID, msg.Ringtone, cancelPrompt)
	}()

	for {
		select {
		case accepted := <-resultCh:
			if !accepted {
				return m.Transport.SendControl(ctx, proto.Message{Type: proto.TypeReject})
			}
			return m.acceptHello(ctx, msg)

		case in := <-recvCh:
			if in.err != nil {
				close(cancelPrompt)
				return Wrap(ErrTransport, in.err)
			}
			if in.msg.Type == proto.TypeGoodbye {
				close(cancelPrompt)
				<-resultCh
				return nil
			}
			// any other inbound message while the prompt is up is
			// propagated to the normal dispatcher (spec.md §4.F: "on any
			// other inbound propagate").
			if err := m.handleMessage(ctx, in.msg, recvCh); err != nil {
				close(cancelPrompt)
				return err
			}

		case <-ctx.Done():
			close(cancelPrompt)
			return nil
		}
	}
}

// acceptHello sends HelloAck and hands the call off to the CallHandler.
// Any audio-device failure during accept is surfaced as a Goodbye with the
// taxonomy-limited "audio device error" string (spec.md §4.F, §7).
func (m *Machine) acceptHello(ctx context.Context, msg proto.Message) error {
	if msg.AudioHeader == nil || !msg.AudioHeader.IsValid() {
		return m.Transport.SendControl(ctx, proto.Message{Type: proto.TypeReject})
	}

	remote := *msg.AudioHeader
	local := m.Local
	if m.RoomHash != nil {
		local = proto.RoomCodecOptions(m.Local.SampleRate)
	}

	if err := m.Transport.SendControl(ctx, proto.HelloAck(local)); err != nil {
		return Wrap(ErrTransport, err)
	}

	early := &EarlyCallState{Peer: m.State.ID, LocalHeader: local, RemoteHeader: remote}
	m.State.InCall.Store(true)
	m.postCallState(CallStateEvent{Kind: CallConnected})
	defer m.State.InCall.Store(false)

	err := m.Handler.RunCall(ctx, m.State, early)
	if err != nil {
		if KindOf(err).IsAudioError() {
			_ = m.Transport.SendControl(ctx, proto.ErrorGoodbye(true))
		}
		m.postCallState(CallStateEvent{Kind: CallEnded, Reason: "an error occurred", Notify: false})
	}
	return err
}

// handleOutboundCall implements the start_call path (spec.md §4.F): send
// Hello, wait for HelloAck/Reject/Busy with a HELLO_TIMEOUT deadline
// (extended by RingtoneBonus when a ringtone is attached), then hand off
// to the call handler.
func (m *Machine) handleOutboundCall(ctx context.Context, recvCh <-chan inboundMsg) error {
	if m.State.InCall.Load() {
		return nil
	}

	local := m.Local
	if m.RoomHash != nil {
		local = proto.RoomCodecOptions(m.Local.SampleRate)
	}
	if err := m.Transport.SendControl(ctx, proto.Hello(local, m.Ringtone, m.RoomHash)); err != nil {
		return Wrap(ErrTransport, err)
	}
	m.postCallState(CallStateEvent{Kind: CallWaiting})

	timeout := HelloTimeout
	if m.Ringtone != nil {
		timeout += RingtoneBonus
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var reply proto.Message
	select {
	case <-ctx.Done():
		return nil

	case <-m.State.EndCall:
		// end_call received before ack -> write Goodbye{None} and break
		// (spec.md §4.F outbound path).
		_ = m.Transport.SendControl(ctx, proto.Goodbye(""))
		return nil

	case <-m.State.Stopped():
		return nil

	case <-timer.C:
		m.postCallState(CallStateEvent{Kind: CallEnded, Reason: "no response", Notify: true})
		return nil

	case in := <-recvCh:
		if in.err != nil {
			return Wrap(ErrTransport, in.err)
		}
		reply = in.msg
	}

	switch reply.Type {
	case proto.TypeReject, proto.TypeBusy:
		// Reject/Busy are silent in a room (spec.md §4.F outbound path);
		// otherwise surface a CallEnded reason.
		if m.RoomHash == nil {
			reason := "call rejected"
			if reply.Type == proto.TypeBusy {
				reason = "busy"
			}
			m.postCallState(CallStateEvent{Kind: CallEnded, Reason: reason, Notify: true})
		}
		return nil

	case proto.TypeGoodbye:
		m.postCallState(CallStateEvent{Kind: CallEnded, Reason: reply.Reason, Notify: true})
		return nil

	case proto.TypeHelloAck:
		if reply.AudioHeader == nil {
			return nil
		}
		early := &EarlyCallState{Peer: m.State.ID, LocalHeader: local, RemoteHeader: *reply.AudioHeader}
		m.State.InCall.Store(true)
		m.postCallState(CallStateEvent{Kind: CallConnected})
		defer m.State.InCall.Store(false)

		err := m.Handler.RunCall(ctx, m.State, early)
		if err != nil {
			if KindOf(err).IsAudioError() {
				_ = m.Transport.SendControl(ctx, proto.ErrorGoodbye(true))
			}
			m.postCallState(CallStateEvent{Kind: CallEnded, Reason: "an error occurred", Notify: false})
		}
		return err

	default:
		log.Printf("session %s: unexpected reply to Hello: %q", m.State.ID, reply.Type)
		m.postCallState(CallStateEvent{Kind: CallEnded, Reason: "unexpected message", Notify: true})
		return nil
	}
}
