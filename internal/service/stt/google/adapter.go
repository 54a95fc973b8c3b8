// Package google provides a Google Cloud Speech-to-Text streaming adapter.
package google

import (
	"context"
	"errors"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"ai-call-speech-service/internal/service/stt"
)

// Config holds the recognition settings for one stream. Immutable for the
// stream's lifetime; built from the service defaults plus the client
// snapshot before the session starts.
type Config struct {
	LanguageCode    string
	SampleRateHz    int32
	AutoPunctuation bool
	PhraseHints     []string
	PhraseBoost     float32
}

// DefaultConfig returns the telephony defaults: 8kHz Japanese with
// automatic punctuation.
func DefaultConfig() Config {
	return Config{
		LanguageCode:    "ja-JP",
		SampleRateHz:    8000,
		AutoPunctuation: true,
		PhraseBoost:     15.0,
	}
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	client *speech.Client
	config Config
	stream speechpb.Speech_StreamingRecognizeClient
	cb     stt.Callback
}

// New creates a Google STT adapter. Requires GOOGLE_APPLICATION_CREDENTIALS
// to be set in the environment.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Adapter{client: c, config: cfg}, nil
}

// Start opens the streaming session and sends the configuration as the
// first message. Interim results are always on and single-utterance mode is
// always off: the stream keeps listening until the session closes it.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return err
	}
	a.stream = stream
	a.cb = cb

	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:          buildRecognitionConfig(a.config),
				InterimResults:  true,
				SingleUtterance: false,
			},
		},
	})
}

// buildRecognitionConfig maps a Config onto the Google request type,
// attaching phrase hints as a boosted speech context when present.
func buildRecognitionConfig(cfg Config) *speechpb.RecognitionConfig {
	rc := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            cfg.SampleRateHz,
		LanguageCode:               cfg.LanguageCode,
		EnableAutomaticPunctuation: cfg.AutoPunctuation,
	}

	if len(cfg.PhraseHints) > 0 {
		rc.SpeechContexts = []*speechpb.SpeechContext{
			{
				Phrases: cfg.PhraseHints,
				Boost:   cfg.PhraseBoost,
			},
		}
	}
	return rc
}

// SendAudio forwards one frame of raw audio.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	return a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close half-closes the outbound stream. Google then flushes remaining
// results and ends the inbound side, unblocking Listen.
func (a *Adapter) Close() error {
	if a.stream != nil {
		return a.stream.CloseSend()
	}
	return nil
}

// Listen receives responses and fans each result alternative out to the
// callback. Returns on clean end-of-stream; any other error is reported via
// OnError before returning.
func (a *Adapter) Listen() {
	for {
		resp, err := a.stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				a.cb.OnError(err)
			}
			return
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			a.cb.OnTranscript(alt.Transcript, r.IsFinal, float64(alt.Confidence))
		}
	}
}
