package socket

import (
	"context"
	"time"
)

// KeepAliveInterval is the idle timeout after which a single keep-alive
// byte is sent on an otherwise-quiet media socket (spec.md §4.E/§4.F).
const KeepAliveInterval = 10 * time.Second

// Sender is the send method AudioInputTask needs. ConstSocket implements
// it; SendingSockets does not, since its Send returns no error.
type Sender interface {
	Send(frame []byte) error
}

// AudioInputTask is the send-path task of the frame socket layer (spec.md
// §4.E "audio_input task"): it reads ProcessorMessage.Data payloads from
// the pipeline and writes them, timestamp-prefixed, to sender. If no
// payload arrives within KeepAliveInterval, it writes a single keep-alive
// byte instead.
//
// dataCh delivers already-encoded payloads from the input processor; ctx
// cancellation and the shared cancel token pattern in spec.md §4.E/§5 are
// both honored by simply returning when ctx is done.
func AudioInputTask(ctx context.Context, dataCh <-chan []byte, sender Sender) error {
	start := NewStartTime()
	timer := time.NewTimer(KeepAliveInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-dataCh:
			if !ok {
				return nil
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(KeepAliveInterval)

			frame := PrependTimestamp(start.Timestamp(), payload)
			err := sender.Send(frame)
			ReleaseFrame(frame)
			if err != nil {
				return err
			}
		case <-timer.C:
			if err := sender.Send(KeepAliveFrame()); err != nil {
				return err
			}
			timer.Reset(KeepAliveInterval)
		}
	}
}

// LossSink receives the sample count of a frame dropped by the max-age
// gate, so the caller can fold it into the statistics collector (§4.J).
type LossSink interface {
	RecordLoss(samples int)
}

// FrameSize is duplicated here (rather than imported from internal/audio)
// to keep this package importable by internal/audio without a cycle; both
// values must stay 480 per spec.md §4.C.
const FrameSize = 480

// AudioOutputTask is the receive-path task (spec.md §4.E "audio_output
// task"): it reads one length-delimited frame at a time from r, applies the
// max-age drop gate, and forwards surviving payloads to out. Any stream
// error terminates the task, per spec.md §4.E.
func AudioOutputTask(ctx context.Context, r MediaReader, start StartTime, out chan<- []byte, loss LossSink) error {
	done := make(chan struct{})
	defer close(done)

	type result struct {
		frame []byte
		err   error
	}
	reads := make(chan result)
	go func() {
		for {
			frame, err := ReadLengthDelimited(asReader(r))
			select {
			case reads <- result{frame, err}:
			case <-done:
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
			return ctx.Err()
		case res := <-reads:
			if res.err != nil {
				return res.err
			}
			payload, ok, keepAlive := DecodeMediaFrame(res.frame, start.Timestamp())
			if keepAlive {
				continue
			}
			if !ok {
				if loss != nil {
					loss.RecordLoss(FrameSize)
				}
				continue
			}
			select {
			case out <- payload:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// asReader adapts a MediaReader to io.Reader; MediaReader is already
// io.Reader-shaped but kept distinct for documentation purposes at call
// sites (mirrors the narrow trait boundary in spec.md §4.B).
func asReader(r MediaReader) mediaReaderAdapter { return mediaReaderAdapter{r} }

type mediaReaderAdapter struct{ r MediaReader }

func (a mediaReaderAdapter) Read(p []byte) (int, error) { return a.r.Read(p) }
