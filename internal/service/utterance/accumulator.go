// Package utterance accumulates classified transcript events into caller
// utterances and decides when the dialog engine should react: instantly on a
// configured keyword, on a final result, or after a silence debounce.
package utterance

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-call-speech-service/internal/events"
	"ai-call-speech-service/internal/models"
	"ai-call-speech-service/internal/observability/metrics"
)

// FiredVia names the path that decided an utterance was ready.
type FiredVia string

const (
	ViaInstant FiredVia = "instant"
	ViaSilence FiredVia = "silence"
	ViaFinal   FiredVia = "final"
)

// DefaultDebounce is the silence window used when neither the service
// config nor the client snapshot overrides it.
const DefaultDebounce = 1200 * time.Millisecond

// DialogSink receives utterance-ready events. Calls are serialized per
// session; implementations must not call back into the accumulator.
type DialogSink interface {
	OnUtteranceReady(callID, text string, via FiredVia)
}

// DialogSinkFunc adapts a function to the DialogSink interface.
type DialogSinkFunc func(callID, text string, via FiredVia)

// OnUtteranceReady calls f.
func (f DialogSinkFunc) OnUtteranceReady(callID, text string, via FiredVia) {
	f(callID, text, via)
}

// Accumulator is the per-session transcript state machine. Events arrive
// from the stream driver's consumer goroutine; the debounce timer fires on
// its own goroutine. The mutex makes timer-fire and event-arrival mutually
// exclusive, so a canceled timer can never fire after a newer event.
type Accumulator struct {
	callID    string
	clientID  string
	keywords  []string
	debounce  time.Duration
	sink      DialogSink
	publisher *events.Publisher
	log       zerolog.Logger
	metrics   *metrics.Metrics

	mu                  sync.Mutex
	accumulated         string
	respondedViaInterim bool
	utteranceStart      time.Time
	timer               *time.Timer
	timerGen            uint64
}

// New creates an accumulator for one session. keywords may be empty; a nil
// publisher disables transcript/utterance event egress.
func New(callID, clientID string, keywords []string, debounce time.Duration, sink DialogSink, publisher *events.Publisher, log zerolog.Logger, m *metrics.Metrics) *Accumulator {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Accumulator{
		callID:    callID,
		clientID:  clientID,
		keywords:  keywords,
		debounce:  debounce,
		sink:      sink,
		publisher: publisher,
		log:       log,
		metrics:   m,
	}
}

// OnTranscript consumes one classified event from the stream driver.
func (a *Accumulator) OnTranscript(ev models.TranscriptEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	recv := ev.RecvTime
	if recv.IsZero() {
		recv = time.Now()
	}
	if a.utteranceStart.IsZero() {
		a.utteranceStart = recv
	}
	latency := recv.Sub(a.utteranceStart)

	a.metrics.RecordTranscript(ev.IsFinal, latency.Seconds())
	a.logTranscript(text, ev.IsFinal, ev.Confidence, latency)

	if ev.IsFinal {
		a.onFinalLocked(text)
	} else {
		a.onInterimLocked(text)
	}
}

func (a *Accumulator) onInterimLocked(text string) {
	a.accumulated = text

	if a.respondedViaInterim {
		// Already answered via the instant path; the next final closes the
		// utterance. Arming the debounce here would fire a second response.
		return
	}

	for _, kw := range a.keywords {
		if kw == "" || !strings.Contains(a.accumulated, kw) {
			continue
		}
		a.cancelTimerLocked()
		a.log.Info().Str("keyword", kw).Msg("Instant keyword matched")
		a.fireLocked(ViaInstant, a.accumulated, false)
		a.respondedViaInterim = true
		return
	}

	a.armTimerLocked()
}

func (a *Accumulator) onFinalLocked(text string) {
	a.cancelTimerLocked()

	if a.respondedViaInterim {
		// Redundant echo of an utterance already answered via a keyword.
		a.respondedViaInterim = false
		a.resetLocked()
		a.log.Debug().Str("text", text).Msg("Final swallowed after instant response")
		return
	}

	a.accumulated = text
	a.fireLocked(ViaFinal, text, true)
}

// fireLocked emits one utterance-ready event and resets the utterance
// clock. Finals do not wait for debounce; the timer is always canceled by
// the caller before firing.
func (a *Accumulator) fireLocked(via FiredVia, text string, isFinal bool) {
	a.metrics.RecordUtteranceFired(string(via))
	a.log.Info().
		Str("via", string(via)).
		Str("text", text).
		Msg("Utterance ready")

	if a.publisher != nil {
		ev := models.UtteranceReady{
			EventType: "call.utterance.ready",
			CallID:    a.callID,
			ClientID:  a.clientID,
			Text:      text,
			FiredVia:  string(via),
			IsFinal:   isFinal,
			Timestamp: time.Now().UnixMilli(),
		}
		// Egress must never block the consumer loop.
		go func() {
			if err := a.publisher.PublishUtterance(context.Background(), a.callID, ev); err != nil {
				a.log.Error().Err(err).Msg("Failed to publish utterance event")
			}
		}()
	}

	a.sink.OnUtteranceReady(a.callID, text, via)
	a.resetLocked()
}

func (a *Accumulator) resetLocked() {
	a.accumulated = ""
	a.utteranceStart = time.Time{}
}

// armTimerLocked starts or refreshes the one-shot debounce timer. A new
// timer implicitly supersedes any pending one: never two pending timers per
// session.
func (a *Accumulator) armTimerLocked() {
	a.timerGen++
	gen := a.timerGen
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.debounce, func() { a.onDebounce(gen) })
}

func (a *Accumulator) cancelTimerLocked() {
	a.timerGen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Accumulator) onDebounce(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// A stale generation means the timer was canceled or refreshed after
	// this fire was already scheduled.
	if gen != a.timerGen {
		return
	}
	a.timer = nil

	if a.accumulated == "" {
		return
	}
	a.log.Debug().Dur("debounce", a.debounce).Msg("Silence debounce elapsed")
	a.fireLocked(ViaSilence, a.accumulated, false)
}

// OnStreamError implements the driver's event sink: cancel the pending
// debounce so no response fires for a stream that died mid-utterance.
func (a *Accumulator) OnStreamError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelTimerLocked()
	a.log.Warn().Err(err).Msg("Transcript flow ended by stream error")
}

// Stop cancels any pending debounce timer. Called during session close.
func (a *Accumulator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelTimerLocked()
}

func (a *Accumulator) logTranscript(text string, isFinal bool, confidence float64, latency time.Duration) {
	a.log.Debug().
		Str("text", text).
		Bool("isFinal", isFinal).
		Float64("confidence", confidence).
		Dur("latency", latency).
		Msg("Transcript event")

	if a.publisher == nil {
		return
	}
	ev := models.TranscriptLog{
		EventType:  "call.transcript.log",
		CallID:     a.callID,
		ClientID:   a.clientID,
		Text:       text,
		IsFinal:    isFinal,
		Confidence: confidence,
		LatencyMs:  latency.Milliseconds(),
		Timestamp:  time.Now().UnixMilli(),
	}
	// Fire-and-forget: observability must never block the hot path.
	go func() {
		if err := a.publisher.PublishTranscript(context.Background(), a.callID, ev); err != nil {
			a.log.Debug().Err(err).Msg("Failed to publish transcript log")
		}
	}()
}
