// Package clientcfg holds the per-client configuration snapshot handed to a
// session at construction: phrase hints, instant keywords and voice prompts.
// Snapshots are loaded once and read-only for the lifetime of a call.
package clientcfg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Snapshot is one client's recognition and dialog-trigger configuration.
type Snapshot struct {
	ClientID        string            `json:"clientId"`
	LanguageCode    string            `json:"languageCode,omitempty"`
	SampleRateHz    int32             `json:"sampleRateHz,omitempty"`
	PhraseHints     []string          `json:"phraseHints,omitempty"`
	InstantKeywords []string          `json:"instantKeywords,omitempty"`
	VoicePrompts    map[string]string `json:"voicePrompts,omitempty"`
	SilenceDebounce Duration          `json:"silenceDebounce,omitempty"`
}

// Duration wraps time.Duration so snapshots can spell "1.5s" in JSON.
type Duration time.Duration

// UnmarshalJSON accepts either a duration string or a number of milliseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = 0
		return nil
	}
	if parsed, err := time.ParseDuration(s); err == nil {
		*d = Duration(parsed)
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// MarshalJSON writes the duration in time.Duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Registry holds all loaded client snapshots, keyed by client id.
type Registry struct {
	snapshots map[string]*Snapshot
	fallback  *Snapshot
}

// Load reads every *.json file in dir as one client snapshot. A missing or
// empty directory yields a registry that serves only the fallback snapshot.
func Load(dir string) (*Registry, error) {
	r := &Registry{
		snapshots: make(map[string]*Snapshot),
		fallback:  &Snapshot{ClientID: "default"},
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("dir", dir).Msg("Client config directory missing, using defaults only")
			return r, nil
		}
		return nil, fmt.Errorf("read client config dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		snap, err := loadFile(path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("Skipping unreadable client config")
			continue
		}
		if snap.ClientID == "" {
			snap.ClientID = strings.TrimSuffix(e.Name(), ".json")
		}
		r.snapshots[snap.ClientID] = snap
	}

	log.Info().Int("clients", len(r.snapshots)).Str("dir", dir).Msg("Client configs loaded")
	return r, nil
}

func loadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &snap, nil
}

// Get returns the snapshot for clientID, or the fallback snapshot when the
// client has no configuration of its own.
func (r *Registry) Get(clientID string) *Snapshot {
	if snap, ok := r.snapshots[clientID]; ok {
		return snap
	}
	return r.fallback
}

// Has reports whether a dedicated snapshot exists for clientID.
func (r *Registry) Has(clientID string) bool {
	_, ok := r.snapshots[clientID]
	return ok
}
