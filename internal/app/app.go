package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"SignalScanner/internal/config"
	"SignalScanner/internal/dedup"
	"SignalScanner/internal/extract"
	"SignalScanner/internal/filter"
	"SignalScanner/internal/infrastructure/collector"
	"SignalScanner/internal/infrastructure/llm"
	"SignalScanner/internal/infrastructure/report"
	"SignalScanner/internal/infrastructure/scheduler"
	"SignalScanner/internal/infrastructure/storage"
	"SignalScanner/internal/infrastructure/telegram"
	"SignalScanner/internal/logging"
	"SignalScanner/internal/ports"
	"SignalScanner/internal/source"
	"SignalScanner/internal/usecase"
)

// Application wires configuration to the monitor loop, the report
// scheduler, and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	monitor  *usecase.Monitor
	reporter *usecase.Scheduler
	store    ports.SignalStore
	recorder ports.SignalRecorder
	logger   *slog.Logger
}

// New builds the full application graph. It is the only place that knows
// concrete adapter types; everything downstream sees ports.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	classifier, err := filter.NewClassifier(cfg.Rules.RejectPatterns, cfg.Rules.IntentPatterns)
	if err != nil {
		return nil, fmt.Errorf("compile relevance rules: %w", err)
	}

	store, err := storage.NewSQLiteRepository(ctx, cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open signal store: %w", err)
	}

	mapper := collector.NewMapper(cfg.Ingestion.MonitorGroups, baseLogger.With("component", "collector"))

	registry := source.NewRegistry()
	registry.Register(collector.NewReplaySource(
		cfg.Ingestion.ReplayPath, 0, mapper,
		baseLogger.With("component", "source.replay"),
	))

	src, err := registry.Resolve(cfg.Ingestion.Source)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("resolve message source: %w", err)
	}

	var gateway ports.Extractor
	if cfg.Intelligence.Enabled && cfg.Intelligence.APIKey != "" {
		gateway = llm.NewGateway(cfg.Intelligence, baseLogger.With("component", "llm"))
	} else {
		baseLogger.Info("intelligence disabled, relying on keyword fallback")
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Dedup:      dedup.New(cfg.Ingestion.DedupWindow),
		Classifier: classifier,
		Gateway:    gateway,
		Fallback:   extract.NewFallback(nil, nil),
		Store:      store,
		Logger:     baseLogger.With("component", "pipeline"),
	})

	var notifier ports.Notifier
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID)
	}

	recorder, err := report.NewRecorder(cfg.Report.LogDir, baseLogger.With("component", "recorder"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open signal logs: %w", err)
	}

	monitor := usecase.NewMonitor(usecase.MonitorDeps{
		Source:        src,
		Pipeline:      pipeline,
		Store:         store,
		Recorder:      recorder,
		Notifier:      notifier,
		IntervalMin:   secondsFraction(cfg.Ingestion.ScanIntervalMin),
		IntervalMax:   secondsFraction(cfg.Ingestion.ScanIntervalMax),
		ErrorBackoff:  time.Duration(cfg.Ingestion.ErrorBackoffSecs) * time.Second,
		RetentionDays: cfg.Storage.RawRetentionDays,
		Logger:        baseLogger.With("component", "monitor"),
	})

	app := &Application{
		cfg:      cfg,
		monitor:  monitor,
		store:    store,
		recorder: recorder,
		logger:   baseLogger,
	}

	if cfg.Report.AutoEnabled {
		gen := report.NewGenerator(store, cfg.Report.OutputDir, cfg.Report.TempValidDays,
			baseLogger.With("component", "report"))
		driver := scheduler.NewIntervalScheduler(time.Duration(cfg.Report.AutoIntervalMin) * time.Minute)
		app.reporter = usecase.NewScheduler(driver, func(ctx context.Context, _ time.Time) {
			gen.GenerateAll(ctx, cfg.Report.TempGoodsWhitelist)
		})
	}

	return app, nil
}

// Run blocks on the monitor loop until ctx is cancelled, then shuts the
// report scheduler and the store down.
func (a *Application) Run(ctx context.Context) error {
	a.logger.Info("starting",
		"app", a.cfg.App.Name,
		"environment", a.cfg.App.Environment,
		"source", a.cfg.Ingestion.Source,
	)

	if a.reporter != nil {
		if err := a.reporter.Start(ctx); err != nil {
			a.logger.Warn("report scheduler failed to start", "error", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.reporter.Stop(stopCtx); err != nil {
				a.logger.Warn("report scheduler stop", "error", err)
			}
		}()
	}
	defer a.store.Close()
	defer func() {
		if err := a.recorder.Close(); err != nil {
			a.logger.Warn("signal log close", "error", err)
		}
	}()

	return a.monitor.Run(ctx)
}

// secondsFraction converts a fractional seconds setting into a Duration.
func secondsFraction(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
