// Package recog owns the bidirectional recognition stream for one call: a
// producer loop draining the frame queue into the provider and a consumer
// loop classifying results.
package recog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/status"

	"ai-call-speech-service/internal/models"
	"ai-call-speech-service/internal/observability/metrics"
	"ai-call-speech-service/internal/service/audioq"
	"ai-call-speech-service/internal/service/stt"
)

// ErrAlreadyStarted is returned when Start is called twice; a driver is
// never restarted within a session.
var ErrAlreadyStarted = errors.New("stream driver already started")

// DefaultPollInterval is how long the producer loop blocks on the queue
// before re-checking the stop flag.
const DefaultPollInterval = time.Second

// EventSink consumes transcript events strictly in stream order. Both
// methods are invoked from the driver's consumer goroutine only.
type EventSink interface {
	OnTranscript(ev models.TranscriptEvent)

	// OnStreamError is reported once when the stream fails. The stream is
	// not retried; the orchestrating layer decides whether to start a
	// fresh session.
	OnStreamError(err error)
}

// Driver runs the two per-call stream loops. Start launches them as
// background goroutines exactly once; the closed signal fires when the
// consumer loop exits, success or failure.
type Driver struct {
	adapter      stt.Adapter
	queue        *audioq.Queue
	sink         EventSink
	stopFlag     *atomic.Bool
	pollInterval time.Duration
	log          zerolog.Logger
	metrics      *metrics.Metrics

	started    atomic.Bool
	closed     chan struct{}
	closedOnce sync.Once
}

// NewDriver wires a driver to its adapter, queue and event sink. stopFlag
// is owned by the session; the producer loop re-checks it on every queue
// poll timeout so a stop request is observed even when no frames arrive.
func NewDriver(adapter stt.Adapter, queue *audioq.Queue, sink EventSink, stopFlag *atomic.Bool, log zerolog.Logger, m *metrics.Metrics) *Driver {
	return &Driver{
		adapter:      adapter,
		queue:        queue,
		sink:         sink,
		stopFlag:     stopFlag,
		pollInterval: DefaultPollInterval,
		log:          log,
		metrics:      m,
		closed:       make(chan struct{}),
	}
}

// Start opens the stream and launches the producer and consumer loops.
// Returns ErrAlreadyStarted on any call after the first.
func (d *Driver) Start(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := d.adapter.Start(ctx, d); err != nil {
		// Nothing will ever run, so a close must not wait for the signal.
		d.signalClosed()
		return err
	}

	go d.produce(ctx)
	go d.consume()
	return nil
}

// produce drains the frame queue into the stream until the sentinel or a
// send failure, then half-closes the outbound side so the consumer loop can
// finish delivering pending results.
func (d *Driver) produce(ctx context.Context) {
	defer func() {
		if err := d.adapter.Close(); err != nil {
			d.log.Warn().Err(err).Msg("Closing recognition stream send side failed")
		}
	}()

	for {
		frame, err := d.queue.Dequeue(d.pollInterval)
		if err != nil {
			if errors.Is(err, audioq.ErrStopped) {
				d.log.Debug().Msg("Producer loop received sentinel")
				return
			}
			// Timeout: no frames, re-check the stop flag.
			if d.stopFlag.Load() {
				return
			}
			continue
		}

		// Empty frames are dropped, not an error.
		if len(frame.Data) == 0 {
			continue
		}

		if err := d.adapter.SendAudio(ctx, frame.Data); err != nil {
			d.log.Error().Err(err).Msg("Sending audio to recognition stream failed")
			return
		}
	}
}

// consume runs the adapter's listen loop; when it returns the stream is
// over and the closed signal fires so a blocked Close can return.
func (d *Driver) consume() {
	d.adapter.Listen()
	d.signalClosed()
}

// WaitClosed blocks until the consumer loop has exited or the timeout
// elapses. Returns false on timeout; termination is best-effort.
func (d *Driver) WaitClosed(timeout time.Duration) bool {
	select {
	case <-d.closed:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Started reports whether Start has been called.
func (d *Driver) Started() bool {
	return d.started.Load()
}

func (d *Driver) signalClosed() {
	d.closedOnce.Do(func() { close(d.closed) })
}

// --- stt.Callback implementation (consumer goroutine only) ---

// OnTranscript stamps the receive time and forwards the event in order.
func (d *Driver) OnTranscript(text string, isFinal bool, confidence float64) {
	d.sink.OnTranscript(models.TranscriptEvent{
		Text:       text,
		IsFinal:    isFinal,
		Confidence: confidence,
		RecvTime:   time.Now(),
	})
}

// OnError classifies and reports a stream failure. The session's "open"
// state ends here; no retry happens in place.
func (d *Driver) OnError(err error) {
	code := status.Code(err)
	d.metrics.RecordSTTError(code.String())
	d.log.Error().Err(err).Str("grpcCode", code.String()).Msg("Recognition stream failed")
	d.sink.OnStreamError(err)
}
