package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"hotline-server/pkg/audio"
	"hotline-server/pkg/callinfo"
	"hotline-server/pkg/config"
	"hotline-server/pkg/events"
	"hotline-server/pkg/gateway"
	hotlinehttp "hotline-server/pkg/http"
	"hotline-server/pkg/messaging"
	"hotline-server/pkg/metrics"
	"hotline-server/pkg/session"
	"hotline-server/pkg/stt"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(cfg.LogLevel())
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	metrics.Init(logger)

	backend, err := buildBackend(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize transcription backend")
	}

	fanout := events.NewFanout(logger)

	hub := hotlinehttp.NewTranscriptionHub(logger)
	fanout.Subscribe(hub)

	var publisher *messaging.AMQPPublisher
	if cfg.AMQP.URL != "" {
		publisher = messaging.NewAMQPPublisher(logger, messaging.AMQPConfig{
			URL:          cfg.AMQP.URL,
			QueueName:    cfg.AMQP.QueueName,
			ExchangeName: cfg.AMQP.ExchangeName,
			RoutingKey:   cfg.AMQP.RoutingKey,
			Durable:      cfg.AMQP.Durable,
		})
		if err := publisher.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP unavailable, continuing without queue publication")
		}
		fanout.Subscribe(publisher)
	}

	registry := session.NewRegistry(backend, fanout, session.Config{
		SampleRate:        cfg.Session.SampleRate,
		Encoding:          audio.Encoding(cfg.Session.Encoding),
		QuietThreshold:    cfg.Session.QuietThreshold,
		MaxBufferDuration: cfg.Session.MaxBufferDuration,
		VAD: audio.VADConfig{
			SampleRate:      cfg.Session.SampleRate,
			Threshold:       cfg.Session.VADThreshold,
			SilenceDuration: cfg.Session.VADSilenceDuration,
		},
	}, logger)

	gw := gateway.NewGateway(registry, buildResolver(cfg, logger), logger)

	server := hotlinehttp.NewServer(hotlinehttp.ServerConfig{
		Address:      cfg.HTTP.Address,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}, gw, hub, registry, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	group.Go(server.ListenAndServe)
	group.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("HTTP server shutdown failed")
		}

		registry.CloseAll("shutdown")
		fanout.Close()
		if publisher != nil {
			publisher.Disconnect()
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.WithError(err).Fatal("Server terminated with error")
	}
	logger.Info("Server stopped")
}

// buildBackend registers the configured transcription backend and returns
// the one sessions will use.
func buildBackend(cfg *config.Config, logger *logrus.Logger) (stt.Backend, error) {
	var backend stt.Backend
	switch cfg.STT.DefaultBackend {
	case "whisper":
		backend = stt.NewWhisperBackend(logger, stt.WhisperConfig{
			APIKey:     cfg.STT.WhisperAPIKey,
			APIURL:     cfg.STT.WhisperAPIURL,
			Model:      cfg.STT.WhisperModel,
			Language:   cfg.STT.WhisperLanguage,
			SampleRate: cfg.Session.SampleRate,
			Timeout:    cfg.STT.WhisperTimeout,
		})
	case "google":
		backend = stt.NewGoogleBackend(logger, stt.GoogleConfig{
			APIKey:          cfg.STT.GoogleAPIKey,
			CredentialsFile: cfg.STT.GoogleCredentialsFile,
			SampleRate:      cfg.Session.SampleRate,
		})
	case "amazon":
		backend = stt.NewAmazonBackend(logger, stt.AmazonConfig{
			Region:          cfg.STT.AWSRegion,
			AccessKeyID:     cfg.STT.AWSAccessKey,
			SecretAccessKey: cfg.STT.AWSSecretKey,
			SampleRate:      cfg.Session.SampleRate,
			VocabularyName:  cfg.STT.TranscribeVocabulary,
		})
	default:
		backend = stt.NewMockBatchBackend(logger)
	}

	registry := stt.NewRegistry(logger, backend.Name())
	if err := registry.Register(backend); err != nil {
		return nil, err
	}
	return registry.Default()
}

// buildResolver picks the caller-metadata source: Twilio when credentials
// are configured, a static label when one is set, placeholders otherwise.
func buildResolver(cfg *config.Config, logger *logrus.Logger) callinfo.Resolver {
	if cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "" {
		resolver, err := callinfo.NewTwilioResolver(callinfo.TwilioConfig{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			APIURL:     cfg.Twilio.APIURL,
		}, logger)
		if err == nil {
			return resolver
		}
		logger.WithError(err).Warn("Twilio resolver unavailable, using placeholder caller ids")
	}
	if cfg.Twilio.StaticCallerID != "" {
		return callinfo.StaticResolver{CallerID: cfg.Twilio.StaticCallerID}
	}
	return nil
}
