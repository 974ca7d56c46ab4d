package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"bci-monitor/pkg/advisory"
	"bci-monitor/pkg/bci"
	"bci-monitor/pkg/config"
	"bci-monitor/pkg/confusion"
	"bci-monitor/pkg/features"
	http_server "bci-monitor/pkg/http"
	"bci-monitor/pkg/messaging"
	"bci-monitor/pkg/metrics"
	"bci-monitor/pkg/monitor"
	bcisignal "bci-monitor/pkg/signal"
	"bci-monitor/pkg/util"
)

var logger = logrus.New()

func main() {
	// Default formatter until the configured one is applied
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	})

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.ApplyLogging(logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply logging configuration")
	}

	metrics.Init(logger)
	metrics.EnableMetrics(cfg.HTTP.EnableMetrics)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	source := buildSource(cfg)
	sink := buildSink(cfg)
	advisor := buildAdvisor(cfg)

	conditioner := bcisignal.NewConditioner(logger, bcisignal.Config{
		SampleRate:         cfg.Device.SampleRate,
		HighpassFreq:       cfg.Signal.HighpassFreq,
		LowpassFreq:        cfg.Signal.LowpassFreq,
		NotchFreq:          cfg.Signal.NotchFreq,
		NotchQ:             cfg.Signal.NotchQ,
		AmplitudeThreshold: cfg.Signal.AmplitudeThreshold,
		GradientThreshold:  cfg.Signal.GradientThreshold,
		SmoothingWindow:    cfg.Signal.SmoothingWindow,
	})
	extractor := features.NewExtractor(logger)
	scorer := confusion.NewScorer(logger, cfg.Confusion.WindowSize)

	state := monitor.NewState()
	state.SetThreshold(cfg.Confusion.Threshold)

	hub := http_server.NewHub(logger, state, nil)
	loop := monitor.NewLoop(
		logger,
		monitor.Config{
			Interval:         cfg.Monitor.Interval,
			ReconnectBackoff: cfg.Monitor.ReconnectBackoff,
			AdvisoryTimeout:  cfg.Monitor.AdvisoryTimeout,
			MaxInflight:      cfg.Monitor.MaxInflight,
		},
		source,
		conditioner,
		extractor,
		scorer,
		advisor,
		sink,
		hub,
		state,
	)
	hub.SetStats(loop.GetStats)

	server := http_server.NewServer(logger, http_server.ServerConfig{
		Port:          cfg.HTTP.Port,
		ReadTimeout:   cfg.HTTP.ReadTimeout,
		EnableMetrics: cfg.HTTP.EnableMetrics,
		MetricsPath:   cfg.HTTP.MetricsPath,
	}, hub, loop)

	if err := sink.Connect(); err != nil {
		logger.WithError(err).Warn("Record sink unavailable, continuing without it")
	}

	shutdown := util.NewGracefulShutdown(logger, 15*time.Second)
	shutdown.Register(util.ShutdownResource{
		Name:     "sampling_loop",
		Priority: 1,
		Shutdown: func(ctx context.Context) error {
			rootCancel()
			return nil
		},
	})
	shutdown.Register(util.ShutdownResource{
		Name:     "http_server",
		Priority: 2,
		Shutdown: server.Shutdown,
	})
	shutdown.Register(util.ShutdownResource{
		Name:     "record_sink",
		Priority: 3,
		Shutdown: func(ctx context.Context) error {
			sink.Disconnect()
			return nil
		},
	})

	go func() {
		if err := loop.Run(rootCtx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("Sampling loop exited")
		}
	}()

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"session_id": loop.SessionID(),
		"source":     cfg.Device.Source,
		"port":       cfg.HTTP.Port,
	}).Info("BCI confusion monitor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Shutdown signal received")

	if err := shutdown.Shutdown(context.Background()); err != nil {
		logger.WithError(err).Error("Graceful shutdown finished with errors")
		os.Exit(1)
	}
}

func buildSource(cfg *config.Config) bci.DataSource {
	if cfg.Device.Source == "emotiv" {
		return bci.NewEmotivSource(logger, bci.EmotivConfig{
			URL:          cfg.Device.EmotivURL,
			ClientID:     cfg.Device.EmotivClientID,
			ClientSecret: cfg.Device.EmotivClientSecret,
			SampleRate:   cfg.Device.SampleRate,
		})
	}

	profile := bci.DefaultProfile()
	switch cfg.Device.Profile {
	case "calm":
		profile = bci.CalmProfile()
	case "confused":
		profile = bci.ConfusedProfile()
	}
	return bci.NewSimulatedSource(logger, cfg.Device.SampleRate, 0, profile)
}

func buildSink(cfg *config.Config) messaging.RecordSink {
	if cfg.Messaging.AMQPUrl == "" {
		return messaging.NewNoopSink(logger)
	}
	return messaging.NewAMQPSink(logger, messaging.AMQPConfig{
		URL:       cfg.Messaging.AMQPUrl,
		QueueName: cfg.Messaging.AMQPQueueName,
	})
}

func buildAdvisor(cfg *config.Config) advisory.Service {
	if !cfg.Advisory.Enabled {
		return nil
	}

	manager := advisory.NewManager(logger, "mock")
	if err := manager.Register(advisory.NewMockProvider(logger)); err != nil {
		logger.WithError(err).Warn("Failed to register mock advisory provider")
	}
	if cfg.Advisory.Provider == "openai" {
		provider := advisory.NewOpenAIProvider(logger, advisory.OpenAIConfig{
			APIKey:      cfg.Advisory.OpenAIAPIKey,
			BaseURL:     cfg.Advisory.OpenAIBaseURL,
			Model:       cfg.Advisory.OpenAIModel,
			MaxTokens:   cfg.Advisory.OpenAIMaxTokens,
			Temperature: cfg.Advisory.OpenAITemperature,
			Timeout:     cfg.Advisory.OpenAITimeout,
		})
		if err := manager.Register(provider); err != nil {
			logger.WithError(err).Warn("OpenAI advisory provider unavailable, using mock")
		}
	}

	contexts := &advisory.StaticContextProvider{
		Subject: cfg.Advisory.Subject,
		Content: cfg.Advisory.Content,
	}
	return advisory.NewGenerator(logger, manager, contexts, advisory.GeneratorConfig{
		Provider: cfg.Advisory.Provider,
	})
}
