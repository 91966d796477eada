package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	goahttp "goa.design/goa/v3/http"

	"vigil/internal/alerts"
	"vigil/internal/auth"
	"vigil/internal/config"
	"vigil/internal/database"
	"vigil/internal/detection"
	"vigil/internal/metrics"
	"vigil/internal/pipeline"
	"vigil/internal/rtc"
	"vigil/internal/session"
	"vigil/internal/telemetry"
	"vigil/internal/video"
	"vigil/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(os.Stderr, cfg.LogLevel, debugF)
		return serve(cmd.Context(), cfg, logger)
	},
}

// newAnalyzer picks the gRPC analyzer when configured, else the HTTP one.
func newAnalyzer(cfg *config.Config, logger *slog.Logger) (pipeline.Analyzer, error) {
	switch {
	case cfg.AnalyzerGRPC != "":
		return detection.NewGRPCAnalyzer(detection.GRPCConfig{
			Endpoint:            cfg.AnalyzerGRPC,
			ConfidenceThreshold: cfg.AnalyzerConfidence,
		}, logger)
	case cfg.AnalyzerURL != "":
		return detection.NewHTTPAnalyzer(detection.HTTPConfig{
			Endpoint:            cfg.AnalyzerURL,
			ConfidenceThreshold: cfg.AnalyzerConfidence,
		}, logger), nil
	default:
		return nil, errors.New("no analyzer configured: set VIGIL_ANALYZER_GRPC or VIGIL_ANALYZER_URL")
	}
}

// detectorConfigs returns the live and batch detector settings.
func detectorConfigs(cfg *config.Config) (live, batch metrics.Config, err error) {
	var tuning *config.TuningConfig
	if cfg.TuningFile != "" {
		if tuning, err = config.LoadTuningConfig(cfg.TuningFile); err != nil {
			return live, batch, err
		}
	}
	if live, err = tuning.DetectorConfig(float64(cfg.TargetFPS)); err != nil {
		return live, batch, err
	}
	// Batch jobs set the rate per job.
	batch, err = tuning.DetectorConfig(0)
	return live, batch, err
}

func serve(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	liveMetrics, batchMetrics, err := detectorConfigs(cfg)
	if err != nil {
		return fmt.Errorf("detector config: %w", err)
	}

	analyzer, err := newAnalyzer(cfg, logger)
	if err != nil {
		return err
	}
	defer analyzer.Close()

	var db *database.Database
	if cfg.DBPath != "" {
		if db, err = database.New(cfg.DBPath); err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	authn, err := auth.NewAuthenticator(cfg.Auth)
	if err != nil {
		return err
	}

	collector := telemetry.NewCollector()

	// Alerts: history whenever a db exists, plus each configured sink.
	alertOpts := []alerts.Option{alerts.WithLogger(logger)}
	if db != nil {
		alertOpts = append(alertOpts, alerts.WithStore(db))
	}
	if cfg.MQTTBroker != "" {
		pub, err := alerts.DialMQTT(alerts.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			QoS:      1,
		}, logger)
		if err != nil {
			logger.Warn("mqtt unavailable, alerts will not be published", "error", err)
		} else {
			defer pub.Close()
			alertOpts = append(alertOpts, alerts.WithSink(alerts.NewMQTTSink(pub, cfg.MQTTTopic)))
		}
	}
	if cfg.TelegramBotToken != "" {
		tg, err := alerts.NewTelegramSink(alerts.TelegramConfig{
			BotToken: cfg.TelegramBotToken,
			ChatID:   cfg.TelegramChatID,
			Cooldown: cfg.TelegramCooldown,
		})
		if err != nil {
			return err
		}
		alertOpts = append(alertOpts, alerts.WithSink(tg))
	}
	notifier := alerts.NewNotifier(alertOpts...)

	sessions := session.NewManager(
		session.WithLogger(logger),
		session.WithHooks(session.Hooks{
			OnOpen: func(clientID string, at time.Time) {
				logger.Info("session opened", "client_id", clientID)
			},
			OnClose: func(rec session.Record) {
				notifier.Forget(rec.ClientID)
				if db == nil {
					return
				}
				if err := db.SaveSession(context.Background(), database.SessionRecord(rec)); err != nil {
					logger.Warn("failed to record session", "client_id", rec.ClientID, "error", err)
				}
			},
		}),
	)
	collector.TrackSessions(sessions)

	bus := pipeline.NewEventBus()
	defer bus.Close()
	bus.Subscribe(pipeline.NewDataChannelForwarder(sessions))
	bus.Subscribe(collector)
	bus.Subscribe(notifier)

	liveCfg := pipeline.LiveConfig{TargetFPS: cfg.TargetFPS}
	handlers := func(clientID string) rtc.FrameHandler {
		p, err := pipeline.NewLiveProcessor(clientID, analyzer, liveMetrics, bus, liveCfg, logger)
		if err != nil {
			logger.Error("failed to create live processor", "client_id", clientID, "error", err)
			return nil
		}
		return p
	}
	transport, err := rtc.NewService(rtc.Config{STUNURLs: cfg.STUNURLs}, sessions, handlers, logger)
	if err != nil {
		return err
	}
	signaling := ws.NewHandler(sessions, transport, cfg.SessionTTL, logger)

	vcfg := video.DefaultConfig()
	vcfg.MaxUploadBytes = cfg.MaxUploadBytes
	vcfg.MaxDurationSeconds = cfg.MaxVideoSeconds
	vcfg.Timeout = cfg.VideoTimeout
	vcfg.Grace = cfg.VideoGrace
	vcfg.Workers = cfg.VideoWorkers
	vcfg.Processor.Metrics = batchMetrics

	var history video.JobStore
	if db != nil {
		history = db
	}
	videos := video.NewService(vcfg, analyzer,
		video.WithJobStore(collector.JobStore(history)),
		video.WithLogger(logger),
	)

	a := &api{
		sessions:  sessions,
		analyzer:  analyzer,
		video:     videos,
		auth:      authn,
		maxUpload: cfg.MaxUploadBytes,
		started:   time.Now(),
		logger:    logger,
	}
	if db != nil {
		a.db = db
		a.jobs = db
	}
	mux := goahttp.NewMuxer()
	a.mount(mux, collector.Handler(), signaling)

	// SIGINT and SIGTERM stop the server gracefully; errc carries server
	// failures.
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	srvCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	var wg sync.WaitGroup

	go sessions.RunJanitor(srvCtx, cfg.SessionTTL, cfg.SessionSweep)

	alertCtx, stopAlerts := context.WithCancel(context.Background())
	alertsDone := make(chan struct{})
	go func() {
		defer close(alertsDone)
		notifier.Run(alertCtx)
	}()

	handleHTTPServer(srvCtx, cfg.HTTPAddr, mux, &wg, errc, logger)

	var exitErr error
	select {
	case exitErr = <-errc:
		logger.Error("HTTP server failed", "error", exitErr)
	case <-ctx.Done():
		logger.Info("exiting", "reason", ctx.Err())
	}

	cancel()
	wg.Wait()

	// Live sessions go first so no new frames reach the bus.
	sessions.CloseAll()
	videos.Wait()
	stopAlerts()
	<-alertsDone

	logger.Info("exited")
	return exitErr
}
