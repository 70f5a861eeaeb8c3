// Package app wires the core components (spec.md §2) into a single running
// call-plane instance: one identity, one session map, one session manager,
// at most one room, and the audio pipeline each accepted or placed call
// needs. It is the narrow "front-end UI/IPC layer" boundary spec.md §1
// calls out as external: the collaborator interfaces below are exactly the
// ones spec.md §6 lists, and a real UI plugs into them the way
// cmd/telepathy's headless reference implementation does.
//
// Grounded on client/app.go's App struct (minus its Wails bindings, which
// are the out-of-scope UI/IPC layer) for the overall "one struct owns the
// transport + audio engine + session bookkeeping" shape.
package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chanderlud/telepathy/internal/adapt"
	"github.com/chanderlud/telepathy/internal/audio"
	"github.com/chanderlud/telepathy/internal/audio/aec"
	"github.com/chanderlud/telepathy/internal/audio/agc"
	"github.com/chanderlud/telepathy/internal/audio/jitter"
	"github.com/chanderlud/telepathy/internal/audio/noisegate"
	"github.com/chanderlud/telepathy/internal/codec"
	"github.com/chanderlud/telepathy/internal/config"
	"github.com/chanderlud/telepathy/internal/peerid"
	"github.com/chanderlud/telepathy/internal/proto"
	"github.com/chanderlud/telepathy/internal/room"
	"github.com/chanderlud/telepathy/internal/session"
	"github.com/chanderlud/telepathy/internal/socket"
	"github.com/chanderlud/telepathy/internal/stats"
	"github.com/chanderlud/telepathy/internal/transport"
)

// denoiseChain is the concrete Denoiser (audio.Denoiser) App plugs into the
// input pipeline when the user has noise processing enabled: echo
// cancellation against the local playback reference, a hold-gated noise
// gate, then automatic gain control. Each stage is adapted from the
// teacher's client/internal/{aec,noisegate,agc} packages.
type denoiseChain struct {
	aec  *aec.AEC
	gate *noisegate.Gate
	agc  *agc.AGC
}

func newDenoiseChain(level int) *denoiseChain {
	d := &denoiseChain{
		aec:  aec.New(),
		gate: noisegate.New(),
		agc:  agc.New(),
	}
	d.gate.SetThreshold(level)
	return d
}

// Denoise implements audio.Denoiser.
func (d *denoiseChain) Denoise(frame []float32) error {
	d.aec.Process(frame)
	d.gate.Process(frame)
	d.agc.Process(frame)
	return nil
}

// feedFarEnd records a just-played frame as the echo reference, called from
// playbackLoop so the next captureLoop pass can cancel it out.
func (d *denoiseChain) feedFarEnd(frame []float32) {
	d.aec.FeedFarEnd(frame)
}

// Contact is the narrow record the out-of-scope contact-storage
// collaborator returns (spec.md §1 non-goal: "persistent contact
// storage"; spec.md §6: "Contact provider").
type Contact struct {
	PeerID peerid.ID
	Name   string
}

// ContactProvider is the spec.md §6 "Contact provider" collaborator.
type ContactProvider interface {
	GetContact(id peerid.ID) (Contact, bool)
	GetContacts() []Contact
}

// ChatMessage is delivered to the ChatSink (spec.md §6 "Chat sink").
type ChatMessage struct {
	From peerid.ID
	Text string
}

// ChatSink receives chat messages (spec.md §6).
type ChatSink func(ChatMessage)

// ManagerSink reports the swarm/manager's running state (spec.md §6
// "Manager sink"): active and whether a restart is currently possible.
type ManagerSink func(active bool, restartable bool)

// Callbacks bundles every pluggable collaborator from spec.md §6 that App
// needs. Any field may be left nil; App no-ops the corresponding posting.
type Callbacks struct {
	Contacts    ContactProvider
	Accept      session.Acceptor
	Status      session.StatusSink
	CallState   session.CallStateSink
	Chat        ChatSink
	Stats       stats.Sink
	Manager     ManagerSink
}

// App is the top-level wiring point for one running identity: it owns the
// session map, the session manager's transient negotiation state, the
// relay dial, at most one room, and spins up the audio pipeline for each
// call a session.Machine hands it. One App per local identity, matching
// spec.md §5 "one task owns the swarm".
type App struct {
	Self   peerid.ID
	Config config.Config
	Local  proto.AudioHeader

	cb Callbacks

	sessions *session.Map
	manager  *session.Manager
	dialer   *transport.Dialer
	stats    *stats.Collector

	mu         sync.Mutex
	room       *room.Controller
	roomHash   []byte
	transports transportLookup

	cancel context.CancelFunc
}

// New builds an App around cfg and local. The caller still has to invoke
// Run to start the manager/relay dial loop.
func New(self peerid.ID, cfg config.Config, local proto.AudioHeader, cb Callbacks) *App {
	dialer := transport.NewDialer(self)
	sessions := session.NewMap()
	return &App{
		Self:     self,
		Config:   cfg,
		Local:    local,
		cb:       cb,
		sessions: sessions,
		manager:  session.NewManager(self, sessions, dialer),
		dialer:   dialer,
		stats:    stats.NewCollector(),
	}
}

// Run starts the statistics collector and blocks until ctx is canceled.
// The session manager itself is driven opportunistically by StartSession
// (spec.md §4.G's swarm-owning task is represented here by App's
// lifetime rather than a separate polling loop, since this implementation
// dials peers on demand through the relay rather than maintaining a
// continuously-listening libp2p swarm — see SPEC_FULL.md's transport
// note).
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	defer cancel()

	if a.cb.Manager != nil {
		a.cb.Manager(true, true)
		defer a.cb.Manager(false, true)
	}

	rate := stats.TickRate
	if a.Config.NoiseLevel == 0 {
		rate = stats.EfficiencyTickRate
	}
	sink := a.cb.Stats
	if sink == nil {
		sink = noopStatsSink{}
	}
	a.stats.Run(ctx, rate, sink)
}

// Stop tears the App down: stop_manager breaks the outer loop per spec.md
// §5's teardown order.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

type noopStatsSink struct{}

func (noopStatsSink) Post(stats.Statistics) {}

// StartSession negotiates and installs a session with peer by racing the
// given candidate endpoints (spec.md §4.G). relayed[i] marks whether
// endpoints[i] traverses the circuit relay. On success it spawns the
// session.Machine's Run loop in its own goroutine and returns once the
// control stream is open.
func (a *App) StartSession(ctx context.Context, peer peerid.ID, endpoints []string, relayed []bool) error {
	if a.cb.Status != nil {
		a.cb.Status(peer, session.StatusConnecting, false)
	}

	state, err := a.manager.BeginDial(ctx, peer, endpoints, relayed)
	if err != nil {
		return fmt.Errorf("app: negotiate session with %s: %w", peer, err)
	}

	connID, ok := a.manager.TakeWinner(peer)
	if !ok {
		// Another in-flight dial from the peer's side won the tie-break
		// (spec.md S2); a session already exists, nothing more to do here.
		return nil
	}
	conn, ok := a.dialer.Get(connID)
	if !ok {
		return fmt.Errorf("app: winning connection %s vanished", connID)
	}
	a.transports.set(peer, conn)

	machine := session.NewMachine(state, conn, a, a.Local)
	machine.RoomHash = a.currentRoomHash()
	machine.Accept = a.cb.Accept
	machine.OnCallState = a.cb.CallState
	machine.OnStatus = a.cb.Status

	go machine.Run(ctx)

	if a.cb.Status != nil {
		a.cb.Status(peer, session.StatusConnected, state.Relayed.Load())
	}
	return nil
}

// HandleIncoming installs a session around an already-accepted inbound
// connection (spec.md §4.G non-dialer path): the relay-facing listener
// (not part of this package) hands App the *transport.Conn for each new
// circuit/direct stream it accepts, and App scores it alongside any other
// candidate for the same peer via AcceptConnection.
func (a *App) HandleIncoming(ctx context.Context, peer peerid.ID, conn *transport.Conn, endpoint string, relayed bool) error {
	id := a.dialer.Adopt(conn)

	state, err := a.manager.AcceptConnection(ctx, peer, id, endpoint, relayed)
	if err != nil {
		return fmt.Errorf("app: negotiate inbound session with %s: %w", peer, err)
	}
	if state == nil {
		return nil // still waiting on more candidates before choosing
	}

	connID, ok := a.manager.TakeWinner(peer)
	if !ok {
		return nil
	}
	winner, ok := a.dialer.Get(connID)
	if !ok {
		return fmt.Errorf("app: winning connection %s vanished", connID)
	}
	a.transports.set(peer, winner)

	machine := session.NewMachine(state, winner, a, a.Local)
	machine.RoomHash = a.currentRoomHash()
	machine.Accept = a.cb.Accept
	machine.OnCallState = a.cb.CallState
	machine.OnStatus = a.cb.Status

	go machine.Run(ctx)

	if a.cb.Status != nil {
		a.cb.Status(peer, session.StatusConnected, state.Relayed.Load())
	}
	return nil
}

func (a *App) currentRoomHash() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.roomHash
}

// StartCall signals state to begin an outbound call, per spec.md §4.F
// "start_call signalled".
func (a *App) StartCall(state *session.State) {
	select {
	case state.StartCall <- struct{}{}:
	default:
	}
}

// EndCall signals state to end the current call.
func (a *App) EndCall(state *session.State) {
	select {
	case state.EndCall <- struct{}{}:
	default:
	}
}

// RunCall implements session.CallHandler: it opens the per-call media path
// (mic -> input processor -> encoder -> socket -> network, and the inverse
// on receive) and blocks until the call ends. Grounded on
// AudioEngine.Start() in client/audio.go for the capture/playback-goroutine
// shape, generalized from the teacher's single always-on server channel to
// a per-call pipeline that starts and stops with RunCall.
func (a *App) RunCall(ctx context.Context, state *session.State, early *session.EarlyCallState) error {
	conf := early.CodecConfig()

	devIn, err := audio.OpenDeviceInput(a.Config.InputDeviceID, float64(conf.SampleRate), audio.FrameSize)
	if err != nil {
		return session.Wrap(session.ErrAudioDevice, err)
	}
	defer devIn.Close()

	devOut, err := audio.OpenDeviceOutput(a.Config.OutputDeviceID, float64(conf.SampleRate), audio.FrameSize)
	if err != nil {
		return session.Wrap(session.ErrAudioDevice, err)
	}
	defer devOut.Close()

	var enc *codec.Encoder
	var dec *codec.Decoder
	if conf.CodecEnabled {
		enc, err = codec.NewEncoder(adapt.DefaultKbps * 1000)
		if err != nil {
			return session.Wrap(session.ErrCodec, err)
		}
		dec, err = codec.NewDecoder()
		if err != nil {
			return session.Wrap(session.ErrCodec, err)
		}
	}

	conn, ok := a.sessionTransport(state)
	if !ok {
		return session.Wrap(session.ErrNoStream, errNoMediaTransport)
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-state.EndCall:
			cancel()
		case <-callCtx.Done():
		}
	}()

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	var den *denoiseChain
	if a.Config.NoiseEnabled {
		den = newDenoiseChain(a.Config.NoiseLevel)
	}

	in := audio.NewInputProcessorState(float64(conf.SampleRate), a.Config.NoiseEnabled, float32(a.Config.InputGain))
	dataCh := make(chan []byte, 4)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(dataCh)
		errCh <- a.captureLoop(callCtx, devIn, in, enc, den, dataCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- socket.AudioInputTask(callCtx, dataCh, socket.NewConstSocket(conn))
	}()

	out := audio.NewOutputProcessorState(float64(conf.SampleRate), float32(a.Config.OutputVolume))
	recvCh := make(chan []byte, 4)
	start := socket.NewStartTime()
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- socket.AudioOutputTask(callCtx, conn, start, recvCh, out)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- a.playbackLoop(callCtx, devOut, out, dec, den, recvCh)
	}()

	if enc != nil {
		go a.adaptBitrate(callCtx, state, enc, out)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil && err != context.Canceled {
			return session.Wrap(session.ErrTransport, err)
		}
	}
	return nil
}

var errNoMediaTransport = appError("app: session has no media transport")

type appError string

func (e appError) Error() string { return string(e) }

// transportLookup lets App resolve the live media transport for a given
// session, keyed by peer. The App installs this at StartSession time.
type transportLookup struct {
	mu sync.Mutex
	m  map[peerid.ID]*transport.Conn
}

func (t *transportLookup) set(id peerid.ID, c *transport.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m == nil {
		t.m = make(map[peerid.ID]*transport.Conn)
	}
	t.m[id] = c
}

func (t *transportLookup) get(id peerid.ID) (*transport.Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.m[id]
	return c, ok
}

func (a *App) sessionTransport(state *session.State) (*transport.Conn, bool) {
	return a.transports.get(state.ID)
}

// captureLoop pulls fixed-size blocks from the mic, runs them through the
// input processor (spec.md §4.C), encodes if enabled, and forwards
// payloads to dataCh until devIn reports end-of-stream or ctx is done.
func (a *App) captureLoop(ctx context.Context, devIn *audio.DeviceInput, st *audio.InputProcessorState, enc *codec.Encoder, den *denoiseChain, dataCh chan<- []byte) error {
	pre := make([]float32, audio.FrameSize)
	var denoiser audio.Denoiser
	if den != nil {
		denoiser = den
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := devIn.ReadInto(pre)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil // end-of-stream, spec.md §4.C failure semantics
		}

		pcm, err := st.Process(pre[:n], denoiser)
		if err != nil {
			return err
		}
		if pcm == nil {
			continue
		}

		a.stats.RecordInputRMS(st.InputRMS)

		var payload []byte
		if enc != nil {
			payload, err = enc.Encode(pcm)
			if err != nil {
				return err
			}
		} else {
			payload = i16ToBytes(pcm)
		}
		a.stats.AddUpload(uint64(len(payload)))

		select {
		case dataCh <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// playbackLoop decodes (or reinterprets) received frames and pushes them
// through the output processor to the device sink (spec.md §4.D).
func (a *App) playbackLoop(ctx context.Context, devOut *audio.DeviceOutput, st *audio.OutputProcessorState, dec *codec.Decoder, den *denoiseChain, recvCh <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-recvCh:
			if !ok {
				return nil
			}
			a.stats.AddDownload(uint64(len(payload)))
			if devOut.IsFull() {
				st.RecordLoss(audio.FrameSize)
				a.stats.AddLoss(audio.FrameSize)
				continue
			}

			var pcm []int16
			var err error
			if dec != nil {
				pcm, err = dec.Decode(payload, audio.FrameSize)
				if err != nil {
					log.Printf("app: decode error: %v", err)
					continue
				}
			} else {
				pcm = bytesToI16(payload)
			}

			f32 := st.Process(pcm)
			if f32 == nil {
				continue
			}
			a.stats.RecordOutputRMS(st.OutputRMS)
			if den != nil {
				den.feedFarEnd(f32)
			}

			dropped, err := devOut.WriteSamples(f32)
			if err != nil {
				return err
			}
			if dropped > 0 {
				st.RecordLoss(dropped)
				a.stats.AddLoss(uint64(dropped))
			}
		}
	}
}

// adaptBitrate steps the encoder's target bitrate to match observed link
// quality (spec.md's bandwidth-adaptation ambient concern), pacing changes
// through an adapt.Governor so a noisy link doesn't hunt between rungs.
// Loss rate is derived from the output pipeline's dropped-sample count
// over each 1 s sampling window; RTT is the connection-selection ping that
// session.Manager stores once in state.LatencyUs.
func (a *App) adaptBitrate(ctx context.Context, state *session.State, enc *codec.Encoder, out *audio.OutputProcessorState) {
	const window = time.Second
	const framesPerWindow = float64(window / (10 * time.Millisecond))

	gov := adapt.NewGovernor()
	current := adapt.DefaultKbps

	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			// LossFrames resets its counter on read, so this window's
			// count is exactly the loss since the previous tick.
			loss := out.LossFrames()
			lossRate := float64(loss) / (framesPerWindow * audio.FrameSize)

			rttUs := state.LatencyUs.Load()
			rttMs := float64(rttUs) / 1000.0
			a.stats.RecordLatency(time.Duration(rttUs) * time.Microsecond)

			next := gov.Step(now, current, lossRate, rttMs)
			if next != current {
				enc.SetBitrate(next * 1000)
				enc.SetPacketLossPerc(int(lossRate * 100))
				current = next
			}
		}
	}
}

func i16ToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

func bytesToI16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return out
}

// JoinRoom builds a Controller for members and installs it as the
// singleton RoomState (spec.md §4.H, §3: "Singleton: at most one room at a
// time; replacing it must tear down the old one first"). App itself is the
// controller's OutputStarter: each joining peer's decode+output pipeline
// reads from the same *transport.Conn the peer's session.Machine already
// negotiated (see a.transports), keyed by peer rather than carried on
// room.RoomJoin.
func (a *App) JoinRoom(members []peerid.ID) *room.Controller {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.room != nil {
		a.room.EndCall()
	}
	c := room.NewController(members, a)
	a.room = c
	a.roomHash = room.HashBytes(members)
	return c
}

// StartOutput implements room.OutputStarter: it decodes peer's media
// through a per-peer jitter buffer (spec.md §4.H "output+decoder pipeline
// for that peer") and renders it to the configured output device, using
// the same transport the peer's session already established. Each room
// peer gets its own decode/output goroutine and its own jitter-buffered
// playout queue, primed to cfg.JitterDepth frames before the first frame
// is released.
func (a *App) StartOutput(ctx context.Context, peer peerid.ID, join room.RoomJoin) error {
	conn, ok := a.transports.get(peer)
	if !ok {
		return session.Wrap(session.ErrNoStream, errNoMediaTransport)
	}

	devOut, err := audio.OpenDeviceOutput(a.Config.OutputDeviceID, float64(join.AudioHeader.SampleRate), audio.FrameSize)
	if err != nil {
		return session.Wrap(session.ErrAudioDevice, err)
	}
	defer devOut.Close()

	var dec *codec.Decoder
	if join.AudioHeader.CodecEnabled {
		dec, err = codec.NewDecoder()
		if err != nil {
			return session.Wrap(session.ErrCodec, err)
		}
	}

	depth := a.Config.JitterDepth
	if depth <= 0 {
		depth = adapt.DefaultJitterDepth
	}
	jb := jitter.New(depth)

	recvCh := make(chan []byte, 4)
	start := socket.NewStartTime()
	readErrCh := make(chan error, 1)
	go func() {
		readErrCh <- socket.AudioOutputTask(ctx, conn, start, recvCh, nopLossSink{})
	}()

	var jbMu sync.Mutex
	var seq uint16
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-recvCh:
				if !ok {
					return
				}
				jbMu.Lock()
				jb.Push(seq, payload)
				jbMu.Unlock()
				seq++
			}
		}
	}()

	out := audio.NewOutputProcessorState(float64(join.AudioHeader.SampleRate), float32(a.Config.OutputVolume))
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErrCh:
			if err != nil && err != context.Canceled {
				return session.Wrap(session.ErrTransport, err)
			}
			return nil
		case <-ticker.C:
			jbMu.Lock()
			frame := jb.Pop()
			jbMu.Unlock()
			if frame == nil {
				continue
			}
			if devOut.IsFull() {
				out.RecordLoss(audio.FrameSize)
				continue
			}

			var pcm []int16
			if dec != nil {
				pcm, err = dec.Decode(frame.OpusData, audio.FrameSize) // nil OpusData triggers PLC
				if err != nil {
					log.Printf("app: room decode error: %v", err)
					continue
				}
			} else if frame.OpusData != nil {
				pcm = bytesToI16(frame.OpusData)
			}

			f32 := out.Process(pcm)
			if f32 == nil {
				continue
			}
			a.stats.RecordOutputRMS(out.OutputRMS)

			dropped, werr := devOut.WriteSamples(f32)
			if werr != nil {
				return werr
			}
			if dropped > 0 {
				out.RecordLoss(dropped)
			}
		}
	}
}

// nopLossSink discards loss notifications from socket.AudioOutputTask; room
// output pipelines track loss via their own OutputProcessorState instead
// (RecordLoss calls above).
type nopLossSink struct{}

func (nopLossSink) RecordLoss(int) {}

// LeaveRoom tears down the current room, if any.
func (a *App) LeaveRoom() {
	a.mu.Lock()
	c := a.room
	a.room = nil
	a.roomHash = nil
	a.mu.Unlock()

	if c != nil {
		c.EndCall()
	}
}
