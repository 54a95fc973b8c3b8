// Package stt defines the interface between the session core and a
// streaming speech-recognition provider.
package stt

import "context"

// Callback receives classified transcript results from the provider.
// Implementations must tolerate calls from the provider's listen goroutine.
type Callback interface {
	// OnTranscript is called for every result alternative, interim or final.
	OnTranscript(text string, isFinal bool, confidence float64)

	// OnError is called once when the stream fails. A clean end-of-stream is
	// not reported here.
	OnError(err error)
}

// Adapter is a single bidirectional recognition stream. An adapter serves
// exactly one session and is never restarted.
type Adapter interface {
	// Start opens the stream and sends the recognition configuration.
	Start(ctx context.Context, cb Callback) error

	// SendAudio forwards one frame of raw audio to the provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Listen blocks reading responses and invoking the callback until the
	// stream ends or fails. Run it on its own goroutine after Start.
	Listen()

	// Close half-closes the outbound side of the stream. The provider then
	// finishes delivering pending results and ends Listen.
	Close() error
}
