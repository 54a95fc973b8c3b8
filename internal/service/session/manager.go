package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ai-call-speech-service/internal/clientcfg"
	"ai-call-speech-service/internal/config"
	"ai-call-speech-service/internal/events"
	"ai-call-speech-service/internal/observability/logging"
	"ai-call-speech-service/internal/observability/metrics"
	"ai-call-speech-service/internal/service/stt"
	"ai-call-speech-service/internal/service/utterance"
)

// ErrSessionExists is returned when a call id is already live.
var ErrSessionExists = errors.New("session already exists for call")

// ErrSessionNotFound is returned for operations on an unknown call id.
var ErrSessionNotFound = errors.New("session not found")

// AdapterFactory opens one recognition stream adapter for a call, configured
// from the client's snapshot.
type AdapterFactory func(ctx context.Context, snap *clientcfg.Snapshot) (stt.Adapter, error)

// Manager owns the registry of live sessions and wires each new call's
// adapter, accumulator and session together from service configuration and
// the client's snapshot.
type Manager struct {
	factory   AdapterFactory
	clients   *clientcfg.Registry
	publisher *events.Publisher
	cfg       config.SessionConfig
	metrics   *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a manager. publisher may be nil when Kafka egress is
// disabled.
func NewManager(factory AdapterFactory, clients *clientcfg.Registry, publisher *events.Publisher, cfg config.SessionConfig, m *metrics.Metrics) *Manager {
	return &Manager{
		factory:   factory,
		clients:   clients,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		sessions:  make(map[string]*Session),
	}
}

// Start creates and registers a session for callID. dialog receives the
// call's utterance-ready events and playback is signaled on barge-in; both
// may be nil when the caller only wants the Kafka egress. Returns
// ErrSessionExists when the call id is already live.
func (m *Manager) Start(ctx context.Context, callID, clientID string, dialog utterance.DialogSink, playback PlaybackController) (*Session, error) {
	snap := m.clients.Get(clientID)
	log := logging.WithCall(callID, clientID)

	adapter, err := m.factory(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("open recognition adapter: %w", err)
	}

	debounce := m.cfg.SilenceDebounce
	if d := time.Duration(snap.SilenceDebounce); d > 0 {
		debounce = d
	}

	if dialog == nil {
		dialog = utterance.DialogSinkFunc(func(callID, text string, via utterance.FiredVia) {
			log.Info().Str("via", string(via)).Str("text", text).Msg("Utterance ready, no dialog sink attached")
		})
	}

	acc := utterance.New(callID, clientID, snap.InstantKeywords, debounce, dialog, m.publisher, log, m.metrics)

	sess := New(callID, clientID, adapter, acc, playback, Options{
		QueueCapacity:    m.cfg.QueueCapacity,
		FlushWindow:      m.cfg.FlushWindow,
		CloseTimeout:     m.cfg.CloseTimeout,
		BargeInThreshold: m.cfg.BargeInThreshold,
		BargeInStrikes:   m.cfg.BargeInStrikes,
	}, log, m.metrics)

	m.mu.Lock()
	if _, ok := m.sessions[callID]; ok {
		m.mu.Unlock()
		sess.Close()
		return nil, ErrSessionExists
	}
	m.sessions[callID] = sess
	m.mu.Unlock()

	return sess, nil
}

// Get returns the live session for callID.
func (m *Manager) Get(callID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[callID]
	return sess, ok
}

// Close removes and closes the session for callID. Closing happens outside
// the registry lock; Session.Close blocks up to its wait bound.
func (m *Manager) Close(callID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[callID]
	if ok {
		delete(m.sessions, callID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	sess.Close()
	return nil
}

// CloseAll drains the registry and closes every session. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	drained := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		drained = append(drained, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, sess := range drained {
		sess.Close()
	}
}

// ActiveCalls returns the sorted call ids of all live sessions.
func (m *Manager) ActiveCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
