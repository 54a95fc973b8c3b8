// Package models defines the event payloads this service emits.
package models

import "time"

// TranscriptEvent is one classified result from the recognition stream.
// Produced by the stream driver, consumed exactly once by the accumulator.
type TranscriptEvent struct {
	Text       string
	IsFinal    bool
	Confidence float64
	RecvTime   time.Time
}

// UtteranceReady is the handoff to the dialog engine: the accumulated text of
// one caller utterance and the path that decided it was complete.
type UtteranceReady struct {
	EventType string `json:"eventType"`
	CallID    string `json:"callId"`
	ClientID  string `json:"clientId"`
	Text      string `json:"text"`
	FiredVia  string `json:"firedVia"` // instant, silence or final
	IsFinal   bool   `json:"isFinal"`
	Timestamp int64  `json:"timestamp"`
}

// TranscriptLog is the observability record for a single transcript event,
// including time since the first event of the current utterance.
type TranscriptLog struct {
	EventType  string  `json:"eventType"`
	CallID     string  `json:"callId"`
	ClientID   string  `json:"clientId"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence"`
	LatencyMs  int64   `json:"latencyMs"`
	Timestamp  int64   `json:"timestamp"`
}
