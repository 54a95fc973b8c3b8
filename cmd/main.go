// Command entrypoint for the call speech service: websocket telephony
// ingress, per-call recognition sessions and Kafka event egress.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"ai-call-speech-service/internal/api/ws"
	"ai-call-speech-service/internal/clientcfg"
	"ai-call-speech-service/internal/config"
	"ai-call-speech-service/internal/events"
	"ai-call-speech-service/internal/observability"
	"ai-call-speech-service/internal/observability/logging"
	"ai-call-speech-service/internal/observability/metrics"
	"ai-call-speech-service/internal/service/session"
	"ai-call-speech-service/internal/service/stt"
	"ai-call-speech-service/internal/service/stt/google"
	"ai-call-speech-service/internal/service/stt/mock"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	log.Info().
		Str("principal", cfg.Service.Principal).
		Str("sttProvider", cfg.STT.Provider).
		Str("httpAddr", cfg.Service.HTTPAddr).
		Msg("Starting call speech service")

	registry, err := clientcfg.Load(cfg.Service.ClientCfgDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Loading client configs failed")
	}

	publisher := events.New(&events.Config{
		Brokers:         cfg.Kafka.Brokers,
		TopicUtterance:  cfg.Kafka.TopicUtterance,
		TopicTranscript: cfg.Kafka.TopicTranscript,
		Principal:       cfg.Kafka.Principal,
		Enabled:         cfg.Kafka.Enabled,
	})
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing Kafka publisher failed")
		}
	}()

	factory, err := adapterFactory(cfg.STT)
	if err != nil {
		log.Fatal().Err(err).Msg("Configuring STT provider failed")
	}

	manager := session.NewManager(factory, registry, publisher, cfg.Session, metrics.DefaultMetrics)

	server := observability.NewServer(cfg.Service.HTTPAddr, manager)
	server.Handle("/v1/call", ws.New(manager, registry))
	server.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	manager.CloseAll()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}

// adapterFactory maps the configured provider to a per-call adapter
// constructor. The google factory folds the client snapshot's language,
// sample rate and phrase hints over the service defaults.
func adapterFactory(cfg config.STTConfig) (session.AdapterFactory, error) {
	switch cfg.Provider {
	case "google":
		return func(ctx context.Context, snap *clientcfg.Snapshot) (stt.Adapter, error) {
			gcfg := google.Config{
				LanguageCode:    cfg.LanguageCode,
				SampleRateHz:    cfg.SampleRateHz,
				AutoPunctuation: cfg.AutoPunctuation,
				PhraseBoost:     cfg.PhraseBoost,
				PhraseHints:     snap.PhraseHints,
			}
			if snap.LanguageCode != "" {
				gcfg.LanguageCode = snap.LanguageCode
			}
			if snap.SampleRateHz > 0 {
				gcfg.SampleRateHz = snap.SampleRateHz
			}
			return google.New(ctx, gcfg)
		}, nil
	case "mock":
		return func(ctx context.Context, snap *clientcfg.Snapshot) (stt.Adapter, error) {
			return mock.NewSimulated(), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.Provider)
	}
}
