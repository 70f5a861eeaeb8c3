package audio

import (
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Input is the abstract microphone source (spec.md §4.B AudioInput):
// ReadInto fills dst and returns the number of samples written; 0 means
// end-of-stream. Blocking semantics are allowed.
type Input interface {
	ReadInto(dst []float32) (int, error)
}

// Output is the abstract speaker sink (spec.md §4.B AudioOutput).
// IsFull must be consulted before producing a frame; WriteSamples returns
// the number of samples dropped (partial writes are legal).
type Output interface {
	IsFull() bool
	WriteSamples(src []float32) (dropped int, err error)
}

// ChannelInput is the bounded-channel adapter (spec.md §4.B: "bounded
// channel (native device path)"). A device-stream goroutine is the
// producer; it must copy samples into the channel and never hold the
// device stream handle across this send, per the SendStream discipline in
// spec.md §9 (mirrors the teacher's captureLoop in client/audio.go, which
// never blocks on anything but the channel send once it has read a block).
type ChannelInput struct {
	ch <-chan []float32
}

// NewChannelInput wraps a receive channel of fixed-size sample blocks.
func NewChannelInput(ch <-chan []float32) *ChannelInput { return &ChannelInput{ch: ch} }

// ReadInto copies one block from the channel into dst. Returns 0, nil on
// channel close (end-of-stream).
func (c *ChannelInput) ReadInto(dst []float32) (int, error) {
	block, ok := <-c.ch
	if !ok {
		return 0, nil
	}
	n := copy(dst, block)
	return n, nil
}

// ChannelOutput is the bounded-channel sink side, used both for the native
// device playback path and (with a larger buffer) the web-audio buffer
// path described in spec.md §4.B.
type ChannelOutput struct {
	ch   chan []float32
	full func() bool
}

// NewChannelOutput wraps a send channel with a caller-supplied fullness
// predicate (e.g. len(ch) == cap(ch), or a real device buffer's backlog).
func NewChannelOutput(ch chan []float32, full func() bool) *ChannelOutput {
	return &ChannelOutput{ch: ch, full: full}
}

// IsFull reports whether the sink has no room for another frame.
func (c *ChannelOutput) IsFull() bool { return c.full() }

// WriteSamples pushes src to the channel, non-blocking; if the channel is
// full, all of src is counted as dropped (no buffering of late audio, per
// spec.md §5 backpressure rule).
func (c *ChannelOutput) WriteSamples(src []float32) (int, error) {
	block := append([]float32(nil), src...)
	select {
	case c.ch <- block:
		return 0, nil
	default:
		return len(src), nil
	}
}

// DeviceInput adapts a portaudio capture stream to Input. The stream itself
// is never read from outside the dedicated capture goroutine that owns it
// (spec.md §9's SendStream rule); DeviceInput only exposes the channel that
// goroutine feeds.
type DeviceInput struct {
	*ChannelInput
	stream *portaudio.Stream
}

// OpenDeviceInput opens a mono portaudio input stream at sampleRate using
// deviceID (-1 for the default device) and starts a dedicated goroutine
// that reads FrameSize blocks and forwards them on an internal channel.
// Grounded on AudioEngine.Start()'s captureStream setup in client/audio.go.
func OpenDeviceInput(deviceID int, sampleRate float64, frameSize int) (*DeviceInput, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	dev, err := resolveDevice(devices, deviceID, portaudio.DefaultInputDevice)
	if err != nil {
		return nil, err
	}

	buf := make([]float32, frameSize)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: frameSize,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		return nil, err
	}

	ch := make(chan []float32, 4)
	go func() {
		defer close(ch)
		for {
			if err := stream.Read(); err != nil {
				return
			}
			block := append([]float32(nil), buf...)
			ch <- block
		}
	}()

	return &DeviceInput{ChannelInput: NewChannelInput(ch), stream: stream}, nil
}

// Close stops the underlying portaudio stream.
func (d *DeviceInput) Close() error { return d.stream.Close() }

// DeviceOutput adapts a portaudio playback stream to Output.
type DeviceOutput struct {
	stream *portaudio.Stream
	buf    []float32
	mu     sync.Mutex
}

// OpenDeviceOutput opens a mono portaudio output stream.
func OpenDeviceOutput(deviceID int, sampleRate float64, frameSize int) (*DeviceOutput, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	dev, err := resolveDevice(devices, deviceID, portaudio.DefaultOutputDevice)
	if err != nil {
		return nil, err
	}

	buf := make([]float32, frameSize)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: frameSize,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		return nil, err
	}
	return &DeviceOutput{stream: stream, buf: buf}, nil
}

// IsFull is always false for a direct device write; PortAudio blocks in
// Write rather than exposing backlog, so callers count loss from the
// dropped count WriteSamples returns instead.
func (d *DeviceOutput) IsFull() bool { return false }

// WriteSamples copies src into the device buffer and writes one block.
func (d *DeviceOutput) WriteSamples(src []float32) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := copy(d.buf, src)
	for i := n; i < len(d.buf); i++ {
		d.buf[i] = 0
	}
	if err := d.stream.Write(); err != nil {
		return 0, err
	}
	dropped := 0
	if len(src) > len(d.buf) {
		dropped = len(src) - len(d.buf)
	}
	return dropped, nil
}

// Close stops the underlying portaudio stream.
func (d *DeviceOutput) Close() error { return d.stream.Close() }

func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}
