package session

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-call-speech-service/internal/models"
	"ai-call-speech-service/internal/service/stt/mock"
	"ai-call-speech-service/internal/service/utterance"
)

// nopSink satisfies TranscriptSink for sessions whose transcript flow is not
// under test.
type nopSink struct {
	mu      sync.Mutex
	stopped bool
}

func (s *nopSink) OnTranscript(models.TranscriptEvent) {}
func (s *nopSink) OnStreamError(error)                 {}

func (s *nopSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *nopSink) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// recordingPlayback captures StopPlayback calls.
type recordingPlayback struct {
	mu    sync.Mutex
	calls []string
}

func (p *recordingPlayback) StopPlayback(callID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, callID)
}

func (p *recordingPlayback) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// pcmFrame builds a little-endian 16-bit frame where every sample has the
// given amplitude.
func pcmFrame(amplitude int16, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

func newTestSession(adapter *mock.Adapter, sink TranscriptSink, playback PlaybackController, opts Options) *Session {
	if sink == nil {
		sink = &nopSink{}
	}
	return New("call-1", "client-1", adapter, sink, playback, opts, zerolog.Nop(), nil)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSession_FramesReachAdapterInOrder(t *testing.T) {
	adapter := mock.New()
	s := newTestSession(adapter, nil, nil, Options{FlushWindow: 10 * time.Millisecond})
	defer s.Close()

	s.Unmute()
	time.Sleep(30 * time.Millisecond)

	for i := byte(1); i <= 5; i++ {
		s.SendAudio(pcmFrame(int16(i), 4))
	}

	waitFor(t, func() bool { return len(adapter.Frames()) == 5 }, "frames not forwarded")

	frames := adapter.Frames()
	for i := byte(1); i <= 5; i++ {
		if got := int16(binary.LittleEndian.Uint16(frames[i-1])); got != int16(i) {
			t.Errorf("frame %d out of order: got amplitude %d", i, got)
		}
	}
}

func TestSession_StartsMutedAndDropsFrames(t *testing.T) {
	adapter := mock.New()
	s := newTestSession(adapter, nil, nil, Options{})
	defer s.Close()

	if !s.Muted() {
		t.Fatal("expected session to start muted")
	}

	s.SendAudio(pcmFrame(5000, 80))
	s.SendAudio(pcmFrame(5000, 80))

	if depth := s.QueueDepth(); depth != 0 {
		t.Errorf("muted frames must not be enqueued, depth=%d", depth)
	}
	if adapter.Started() {
		t.Error("stream must not start before the first unmute")
	}
}

func TestSession_MuteGatesMidCall(t *testing.T) {
	adapter := mock.New()
	s := newTestSession(adapter, nil, nil, Options{FlushWindow: 10 * time.Millisecond})
	defer s.Close()

	s.Unmute()
	time.Sleep(30 * time.Millisecond)

	s.SendAudio(pcmFrame(1, 4))
	waitFor(t, func() bool { return len(adapter.Frames()) == 1 }, "pre-mute frame not forwarded")

	s.Mute()
	s.SendAudio(pcmFrame(2, 4))
	s.SendAudio(pcmFrame(3, 4))
	time.Sleep(50 * time.Millisecond)

	if got := len(adapter.Frames()); got != 1 {
		t.Errorf("muted frames leaked through: %d forwarded", got)
	}

	s.Unmute()
	time.Sleep(30 * time.Millisecond)
	s.SendAudio(pcmFrame(4, 4))
	waitFor(t, func() bool { return len(adapter.Frames()) == 2 }, "post-unmute frame not forwarded")
}

func TestSession_FlushWindowDropsEarlyFrames(t *testing.T) {
	adapter := mock.New()
	s := newTestSession(adapter, nil, nil, Options{FlushWindow: 100 * time.Millisecond})
	defer s.Close()

	s.Unmute()

	// Inside the window: dropped.
	s.SendAudio(pcmFrame(1, 4))
	if depth := s.QueueDepth(); depth != 0 {
		t.Errorf("frame inside flush window enqueued, depth=%d", depth)
	}

	time.Sleep(150 * time.Millisecond)

	// Past the window: accepted.
	s.SendAudio(pcmFrame(2, 4))
	waitFor(t, func() bool { return len(adapter.Frames()) == 1 }, "post-window frame not forwarded")

	if got := int16(binary.LittleEndian.Uint16(adapter.Frames()[0])); got != 2 {
		t.Errorf("expected only the post-window frame, got amplitude %d", got)
	}
}

func TestSession_UnmuteRestartsFlushWindow(t *testing.T) {
	adapter := mock.New()
	s := newTestSession(adapter, nil, nil, Options{FlushWindow: 80 * time.Millisecond})
	defer s.Close()

	s.Unmute()
	time.Sleep(100 * time.Millisecond)
	s.Mute()
	s.Unmute()

	// Fresh window after the second unmute.
	s.SendAudio(pcmFrame(1, 4))
	if depth := s.QueueDepth(); depth != 0 {
		t.Error("frame inside refreshed flush window was enqueued")
	}
}

func TestSession_BargeInStopsPlayback(t *testing.T) {
	adapter := mock.New()
	playback := &recordingPlayback{}
	s := newTestSession(adapter, nil, playback, Options{
		FlushWindow:      10 * time.Millisecond,
		BargeInThreshold: 900,
		BargeInStrikes:   3,
	})
	defer s.Close()

	s.Unmute()
	time.Sleep(30 * time.Millisecond)
	s.SetPlaying(true)

	loud := pcmFrame(5000, 80)
	s.SendAudio(loud)
	s.SendAudio(loud)
	if playback.count() != 0 {
		t.Fatal("barge-in fired before the strike count was met")
	}

	s.SendAudio(loud)
	if playback.count() != 1 {
		t.Fatalf("expected one StopPlayback call, got %d", playback.count())
	}
	if s.Playing() {
		t.Error("playing flag must clear on barge-in")
	}

	// Further loud audio after the trigger must not re-signal.
	s.SendAudio(loud)
	s.SendAudio(loud)
	s.SendAudio(loud)
	if playback.count() != 1 {
		t.Errorf("expected exactly one StopPlayback call, got %d", playback.count())
	}

	// Barged-in frames still reach the recognizer.
	waitFor(t, func() bool { return len(adapter.Frames()) == 6 }, "barge-in frames not forwarded")
}

func TestSession_NoBargeInWhileNotPlaying(t *testing.T) {
	adapter := mock.New()
	playback := &recordingPlayback{}
	s := newTestSession(adapter, nil, playback, Options{
		FlushWindow:      10 * time.Millisecond,
		BargeInThreshold: 900,
		BargeInStrikes:   3,
	})
	defer s.Close()

	s.Unmute()
	time.Sleep(30 * time.Millisecond)

	loud := pcmFrame(5000, 80)
	for i := 0; i < 5; i++ {
		s.SendAudio(loud)
	}

	if playback.count() != 0 {
		t.Errorf("barge-in must be gated on playback, got %d calls", playback.count())
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	adapter := mock.New()
	sink := &nopSink{}
	s := newTestSession(adapter, sink, nil, Options{FlushWindow: 10 * time.Millisecond})

	s.Unmute()
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	s.Close()
	s.Close()
	s.Close()
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Errorf("repeated close took %v, expected no extra waiting", elapsed)
	}
	if !sink.Stopped() {
		t.Error("close must stop the transcript sink")
	}
	if !adapter.Closed() {
		t.Error("close must half-close the stream")
	}

	// A closed session ignores everything.
	s.SendAudio(pcmFrame(1, 4))
	s.Unmute()
	if s.QueueDepth() != 0 {
		t.Error("closed session accepted a frame")
	}
}

func TestSession_CloseWithoutStreamStart(t *testing.T) {
	adapter := mock.New()
	s := newTestSession(adapter, nil, nil, Options{})

	// Never unmuted, so the driver never started; close must not wait on it.
	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close hung on a never-started stream")
	}
}

// TestSession_FullCallFlow walks a complete call through the real pipeline:
// unmute, audio in, interim then final transcripts out, one utterance fired,
// clean close.
func TestSession_FullCallFlow(t *testing.T) {
	adapter := mock.New()

	var mu sync.Mutex
	var fired []string
	sink := utterance.DialogSinkFunc(func(callID, text string, via utterance.FiredVia) {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, text+"/"+string(via))
	})

	acc := utterance.New("call-1", "client-1", nil, time.Hour, sink, nil, zerolog.Nop(), nil)
	s := New("call-1", "client-1", adapter, acc, nil, Options{FlushWindow: 10 * time.Millisecond}, zerolog.Nop(), nil)

	s.Unmute()
	time.Sleep(30 * time.Millisecond)

	s.SendAudio(pcmFrame(100, 80))
	s.SendAudio(pcmFrame(120, 80))
	waitFor(t, func() bool { return len(adapter.Frames()) == 2 }, "audio not forwarded")

	adapter.Emit("予約を", false, 0)
	adapter.Emit("予約をお願いします", true, 0.94)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, "utterance not fired")

	mu.Lock()
	got := fired[0]
	mu.Unlock()
	if got != "予約をお願いします/final" {
		t.Errorf("unexpected utterance: %s", got)
	}

	s.Close()
	if !adapter.Closed() {
		t.Error("stream not closed after session close")
	}
}

func TestSession_QueueFullDropsFrame(t *testing.T) {
	adapter := mock.New()
	s := newTestSession(adapter, nil, nil, Options{
		FlushWindow:   10 * time.Millisecond,
		QueueCapacity: 2,
	})
	defer s.Close()

	s.Unmute()
	time.Sleep(30 * time.Millisecond)

	// A tight synchronous loop outruns the drain goroutine; capacity 2
	// forces at least one drop, counted but never surfaced to the caller.
	for i := 0; i < 200 && s.queue.Dropped() == 0; i++ {
		s.SendAudio(pcmFrame(1, 4))
	}

	if s.queue.Dropped() == 0 {
		t.Error("expected overflow drops on a capacity-2 queue")
	}
}
