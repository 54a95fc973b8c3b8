// Package session orchestrates one live call: mute state, the post-unmute
// flush window, barge-in detection, the frame queue and the recognition
// stream driver's lifecycle. Nothing in here ever raises past the public
// contract; failures are logged and degrade the session.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-call-speech-service/internal/observability/metrics"
	"ai-call-speech-service/internal/service/audioq"
	"ai-call-speech-service/internal/service/bargein"
	"ai-call-speech-service/internal/service/recog"
	"ai-call-speech-service/internal/service/stt"
)

const (
	// DefaultFlushWindow absorbs telephony-side buffering after an unmute
	// so the recognizer never sees stale audio.
	DefaultFlushWindow = 200 * time.Millisecond

	// DefaultCloseTimeout bounds how long Close waits for the driver.
	DefaultCloseTimeout = 5 * time.Second

	// queueDepthLogInterval is how many accepted frames pass between
	// backpressure-visibility logs.
	queueDepthLogInterval = 100
)

// PlaybackController stops the currently playing prompt on barge-in. It is
// invoked from the audio-ingest path and must not block.
type PlaybackController interface {
	StopPlayback(callID string)
}

// PlaybackControllerFunc adapts a function to the PlaybackController
// interface.
type PlaybackControllerFunc func(callID string)

// StopPlayback calls f.
func (f PlaybackControllerFunc) StopPlayback(callID string) {
	f(callID)
}

// TranscriptSink is what the session hands the driver: the accumulator's
// event interface plus a Stop hook for close.
type TranscriptSink interface {
	recog.EventSink
	Stop()
}

// Options tunes one session. Zero values fall back to the defaults.
type Options struct {
	QueueCapacity    int
	FlushWindow      time.Duration
	CloseTimeout     time.Duration
	BargeInThreshold float64
	BargeInStrikes   int
}

// Session is the per-call orchestrator. A session starts muted; the
// telephony layer unmutes it when listening should begin, which also
// starts the stream driver exactly once.
//
// All mutable call state lives here and is written only under the session
// mutex; the driver and accumulator receive state explicitly and never
// reach back into it.
type Session struct {
	callID   string
	clientID string
	queue    *audioq.Queue
	driver   *recog.Driver
	sink     TranscriptSink
	detector *bargein.Detector
	playback PlaybackController
	log      zerolog.Logger
	metrics  *metrics.Metrics

	flushWindow  time.Duration
	closeTimeout time.Duration
	stopFlag     *atomic.Bool

	mu             sync.Mutex
	muted          bool
	playing        bool
	flushUntil     time.Time
	streamStarted  bool
	acceptedFrames uint64

	closeOnce sync.Once
}

// New builds a session around one recognition adapter. sink receives the
// classified transcript events; playback is signaled on barge-in.
func New(callID, clientID string, adapter stt.Adapter, sink TranscriptSink, playback PlaybackController, opts Options, log zerolog.Logger, m *metrics.Metrics) *Session {
	if opts.FlushWindow <= 0 {
		opts.FlushWindow = DefaultFlushWindow
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}

	stopFlag := &atomic.Bool{}
	queue := audioq.New(opts.QueueCapacity)

	s := &Session{
		callID:       callID,
		clientID:     clientID,
		queue:        queue,
		driver:       recog.NewDriver(adapter, queue, sink, stopFlag, log, m),
		sink:         sink,
		detector:     bargein.New(opts.BargeInThreshold, opts.BargeInStrikes, log),
		playback:     playback,
		log:          log,
		metrics:      m,
		flushWindow:  opts.FlushWindow,
		closeTimeout: opts.CloseTimeout,
		stopFlag:     stopFlag,
		muted:        true,
	}

	m.RecordSessionStart()
	log.Info().Msg("Session created")
	return s
}

// SendAudio ingests one raw PCM frame from the telephony layer. It is a
// no-op when the session is stopped or muted, the frame is empty, or the
// frame falls inside the post-unmute flush window. Never blocks and never
// returns an error to the caller.
func (s *Session) SendAudio(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopFlag.Load() {
		s.metrics.RecordFrameRejected("stopped")
		return
	}
	if s.muted {
		s.metrics.RecordFrameRejected("muted")
		return
	}
	if len(frame) == 0 {
		s.metrics.RecordFrameRejected("empty")
		return
	}

	now := time.Now()
	if now.Before(s.flushUntil) {
		s.metrics.RecordFrameRejected("flush")
		return
	}

	if s.playing && s.detector.Feed(frame) {
		s.metrics.RecordBargeIn()
		s.log.Info().Msg("Barge-in detected, stopping playback")
		s.playing = false
		s.detector.Reset()
		if s.playback != nil {
			s.playback.StopPlayback(s.callID)
		}
	}

	if !s.queue.Enqueue(&audioq.Frame{Data: frame, Recv: now}) {
		s.metrics.RecordFrameRejected("queue_full")
		s.log.Warn().Int64("dropped", s.queue.Dropped()).Msg("Frame queue full, dropping frame")
		return
	}

	s.acceptedFrames++
	s.metrics.RecordFrameAccepted(len(frame), s.queue.Depth())

	if s.acceptedFrames%queueDepthLogInterval == 0 {
		s.log.Info().
			Uint64("framesAccepted", s.acceptedFrames).
			Int("queueDepth", s.queue.Depth()).
			Msg("Audio ingest progress")
	}
}

// Unmute opens the mic: clears the mute flag, starts the flush window, and
// on the first call starts the stream driver's background loops. Driver
// start failures are logged and swallowed; the session degrades to "no
// transcripts".
func (s *Session) Unmute() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopFlag.Load() {
		return
	}

	s.muted = false
	s.flushUntil = time.Now().Add(s.flushWindow)

	if s.streamStarted {
		return
	}
	s.streamStarted = true

	if err := s.driver.Start(context.Background()); err != nil {
		s.log.Error().Err(err).Msg("Starting recognition stream failed")
	}
}

// Mute drops all inbound frames until the next Unmute.
func (s *Session) Mute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = true
}

// SetPlaying is called by the playback controller when a prompt starts or
// stops. The barge-in strike count resets on every transition.
func (s *Session) SetPlaying(playing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = playing
	s.detector.Reset()
}

// Close stops the session: sets the stop flag, enqueues the sentinel, then
// waits up to the close timeout for the driver's closed signal. Idempotent;
// a second call returns immediately. The flag is set before the sentinel so
// the producer loop observes the stop even when it is blocked on an empty
// queue.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.stopFlag.Store(true)
		s.queue.EnqueueSentinel()
		s.sink.Stop()

		timedOut := false
		if s.driver.Started() {
			if !s.driver.WaitClosed(s.closeTimeout) {
				timedOut = true
				s.log.Warn().
					Dur("timeout", s.closeTimeout).
					Msg("Session close exceeded wait bound, proceeding anyway")
			}
		}

		s.metrics.RecordSessionEnd(timedOut)
		s.log.Info().Bool("timedOut", timedOut).Msg("Session closed")
	})
}

// CallID returns the call identifier.
func (s *Session) CallID() string {
	return s.callID
}

// ClientID returns the client identifier.
func (s *Session) ClientID() string {
	return s.clientID
}

// Muted reports the current mute state.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Playing reports whether a prompt is currently playing.
func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// QueueDepth returns the current frame queue depth.
func (s *Session) QueueDepth() int {
	return s.queue.Depth()
}
