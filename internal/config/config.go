// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration holds all service settings.
type Configuration struct {
	Service       ServiceConfig
	STT           STTConfig
	Session       SessionConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Principal    string
	HTTPAddr     string
	ClientCfgDir string
}

// STTConfig holds recognition stream defaults. Per-client snapshots may
// override language and sample rate.
type STTConfig struct {
	Provider        string // google or mock
	LanguageCode    string
	SampleRateHz    int32
	AutoPunctuation bool
	PhraseBoost     float32
}

// SessionConfig holds per-call session tuning.
type SessionConfig struct {
	QueueCapacity    int
	FlushWindow      time.Duration
	SilenceDebounce  time.Duration
	CloseTimeout     time.Duration
	BargeInThreshold float64
	BargeInStrikes   int
}

// KafkaConfig holds event publisher settings.
type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	TopicUtterance  string
	TopicTranscript string
	Principal       string
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// Load reads configuration from environment variables, falling back to
// defaults on missing or unparseable values.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-call-speech")

	return &Configuration{
		Service: ServiceConfig{
			Principal:    principal,
			HTTPAddr:     envOrDefault("HTTP_ADDR", ":8080"),
			ClientCfgDir: envOrDefault("CLIENT_CONFIG_DIR", "./clients"),
		},
		STT: STTConfig{
			Provider:        envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:    envOrDefault("STT_LANGUAGE_CODE", "ja-JP"),
			SampleRateHz:    int32(envOrDefaultInt("STT_SAMPLE_RATE_HZ", 8000)),
			AutoPunctuation: envOrDefaultBool("STT_AUTO_PUNCTUATION", true),
			PhraseBoost:     float32(envOrDefaultFloat("STT_PHRASE_BOOST", 15.0)),
		},
		Session: SessionConfig{
			QueueCapacity:    envOrDefaultInt("SESSION_QUEUE_CAPACITY", 1024),
			FlushWindow:      envOrDefaultDuration("SESSION_FLUSH_WINDOW", 200*time.Millisecond),
			SilenceDebounce:  envOrDefaultDuration("SILENCE_DEBOUNCE", 1200*time.Millisecond),
			CloseTimeout:     envOrDefaultDuration("SESSION_CLOSE_TIMEOUT", 5*time.Second),
			BargeInThreshold: envOrDefaultFloat("BARGE_IN_THRESHOLD", 900),
			BargeInStrikes:   envOrDefaultInt("BARGE_IN_STRIKES", 3),
		},
		Kafka: KafkaConfig{
			Enabled:         envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:         envOrDefaultList("KAFKA_BROKERS", nil),
			TopicUtterance:  envOrDefault("KAFKA_TOPIC_UTTERANCE", "call.utterance.ready"),
			TopicTranscript: envOrDefault("KAFKA_TOPIC_TRANSCRIPT", "call.transcript.log"),
			Principal:       envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
