// Package mock provides a scripted STT adapter for tests and for running
// the service without cloud credentials.
package mock

import (
	"context"
	"sync"

	"ai-call-speech-service/internal/service/stt"
)

type result struct {
	text       string
	isFinal    bool
	confidence float64
}

// SimulatedUtterance is one utterance the simulated adapter plays back as
// progressive interim transcripts followed by a single final.
type SimulatedUtterance struct {
	Partials   []string
	Final      string
	Confidence float64
}

// DefaultUtterances are sample caller utterances for credential-free runs.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"もし", "もしもし"},
		Final:      "もしもし、田中です",
		Confidence: 0.93,
	},
	{
		Partials:   []string{"はい"},
		Final:      "はい、お願いします",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"予約を", "予約をお願い"},
		Final:      "予約をお願いしたいのですが",
		Confidence: 0.91,
	},
}

// Adapter implements stt.Adapter with scripted results. Tests drive it with
// Emit and Fail; the simulated mode plays DefaultUtterances back one interim
// per audio frame, mimicking a stream that never self-terminates.
type Adapter struct {
	mu      sync.Mutex
	cb      stt.Callback
	started bool
	closed  bool
	frames  [][]byte
	results chan result
	failErr error

	utterances   []SimulatedUtterance
	utteranceIdx int
	partialIdx   int
}

// New creates a manual adapter: nothing is emitted until Emit or Fail.
func New() *Adapter {
	return &Adapter{results: make(chan result, 64)}
}

// NewSimulated creates an adapter that plays DefaultUtterances back as
// audio frames arrive.
func NewSimulated() *Adapter {
	a := New()
	a.utterances = DefaultUtterances
	return a
}

// Start records the callback receiver.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = true
	a.cb = cb
	return nil
}

// SendAudio records the frame and, in simulated mode, schedules the next
// scripted result.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.frames = append(a.frames, audio)

	if len(a.utterances) > 0 {
		a.advanceSimulationLocked()
	}
	return nil
}

func (a *Adapter) advanceSimulationLocked() {
	utt := a.utterances[a.utteranceIdx%len(a.utterances)]
	if a.partialIdx < len(utt.Partials) {
		a.emitLocked(result{text: utt.Partials[a.partialIdx]})
		a.partialIdx++
		return
	}
	a.emitLocked(result{text: utt.Final, isFinal: true, confidence: utt.Confidence})
	a.utteranceIdx++
	a.partialIdx = 0
}

func (a *Adapter) emitLocked(r result) {
	select {
	case a.results <- r:
	default:
	}
}

// Emit queues one transcript result for Listen to deliver.
func (a *Adapter) Emit(text string, isFinal bool, confidence float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.emitLocked(result{text: text, isFinal: isFinal, confidence: confidence})
}

// Fail ends the stream with an error; Listen reports it via OnError.
func (a *Adapter) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.failErr = err
	a.closed = true
	close(a.results)
}

// Close ends the stream cleanly. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.results)
	return nil
}

// Listen delivers queued results until the stream ends, then reports a
// failure if one was recorded.
func (a *Adapter) Listen() {
	for r := range a.results {
		a.mu.Lock()
		cb := a.cb
		a.mu.Unlock()
		if cb != nil {
			cb.OnTranscript(r.text, r.isFinal, r.confidence)
		}
	}

	a.mu.Lock()
	err := a.failErr
	cb := a.cb
	a.mu.Unlock()
	if err != nil && cb != nil {
		cb.OnError(err)
	}
}

// Started reports whether Start was called.
func (a *Adapter) Started() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

// Closed reports whether the stream has ended.
func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Frames returns a copy of the audio frames received so far.
func (a *Adapter) Frames() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]byte, len(a.frames))
	copy(out, a.frames)
	return out
}
