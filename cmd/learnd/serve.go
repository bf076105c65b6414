package main

import (
	"context"
	"database/sql"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/config"
	"github.com/fyrsmithlabs/learnd/internal/embeddings"
	httpserver "github.com/fyrsmithlabs/learnd/internal/http"
	"github.com/fyrsmithlabs/learnd/internal/ingest"
	"github.com/fyrsmithlabs/learnd/internal/insight"
	"github.com/fyrsmithlabs/learnd/internal/learning"
	"github.com/fyrsmithlabs/learnd/internal/memory"
	"github.com/fyrsmithlabs/learnd/internal/pattern"
	"github.com/fyrsmithlabs/learnd/internal/queue"
	"github.com/fyrsmithlabs/learnd/internal/storage"
	"github.com/fyrsmithlabs/learnd/internal/vectorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the learnd daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

// runServe wires the pipeline together and blocks until the context is
// cancelled: config, logger, storage, stores, engines, the learning service,
// and the status server plus optional NATS ingest on the edges.
func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("starting learnd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("scheduler", cfg.Scheduler.Enabled),
		zap.Bool("ingest", cfg.Ingest.Enabled))

	dbPath, err := config.ExpandPath(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("resolving database path: %w", err)
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	logger.Info("database opened", zap.String("path", dbPath))

	svc, memories, err := buildService(cfg, db, logger)
	if err != nil {
		return err
	}

	server, err := httpserver.NewServer(svc, logger, &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating status server: %w", err)
	}

	var subscriber *ingest.Subscriber
	if cfg.Ingest.Enabled {
		subscriber, err = ingest.NewSubscriber(ingest.Config{
			URL:     cfg.Ingest.URL,
			Subject: cfg.Ingest.Subject,
		}, memories, svc, logger)
		if err != nil {
			return fmt.Errorf("creating ingest subscriber: %w", err)
		}
	}

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("starting learning service: %w", err)
	}
	if subscriber != nil {
		if err := subscriber.Start(); err != nil {
			_ = svc.Stop()
			return fmt.Errorf("starting ingest subscriber: %w", err)
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("status server exited", zap.Error(err))
	}

	// Graceful stop: no new inbound events, finish in-flight work, drain
	// the buffer, then close the listener.
	if subscriber != nil {
		if err := subscriber.Stop(); err != nil {
			logger.Warn("ingest subscriber stop failed", zap.Error(err))
		}
	}
	if err := svc.Stop(); err != nil {
		logger.Warn("learning service stop failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("status server shutdown failed", zap.Error(err))
	}

	logger.Info("learnd shutdown complete")
	return nil
}

// buildService constructs the stores, engines, and pipeline components over
// an opened database.
func buildService(cfg *config.Config, db *sql.DB, logger *zap.Logger) (*learning.Service, *memory.SQLiteStore, error) {
	queueStore, err := queue.NewSQLiteStore(db, queue.WithDefaultMaxRetries(cfg.Queue.MaxRetries))
	if err != nil {
		return nil, nil, fmt.Errorf("creating queue store: %w", err)
	}
	patternStore, err := pattern.NewSQLiteStore(db)
	if err != nil {
		return nil, nil, fmt.Errorf("creating pattern store: %w", err)
	}
	insightStore, err := insight.NewSQLiteStore(db)
	if err != nil {
		return nil, nil, fmt.Errorf("creating insight store: %w", err)
	}
	memoryStore, err := memory.NewSQLiteStore(db)
	if err != nil {
		return nil, nil, fmt.Errorf("creating memory store: %w", err)
	}

	embedder, err := embeddings.New(embeddings.Config{
		Provider:          cfg.Embedding.Provider,
		BaseURL:           cfg.Embedding.BaseURL,
		Model:             cfg.Embedding.Model,
		APIKey:            cfg.Embedding.APIKey.Value(),
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Burst:             cfg.Embedding.Burst,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating embedder: %w", err)
	}

	var index *vectorstore.Index
	if embedder != nil {
		vectorPath, err := config.ExpandPath(cfg.Storage.VectorPath)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving vector path: %w", err)
		}
		index, err = vectorstore.NewIndex(vectorstore.Config{Path: vectorPath}, embedder, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("creating pattern index: %w", err)
		}
	}

	engineCfg := pattern.DefaultEngineConfig()
	engineCfg.Merge = pattern.MergeConfig{
		Boost:              cfg.Thresholds.ConfidenceBoost,
		ExplicitBoost:      cfg.Thresholds.ExplicitConfidenceBoost,
		MaxExampleMemories: cfg.Thresholds.MaxExampleMemories,
	}
	var engineOpts []pattern.EngineOption
	if index != nil {
		engineOpts = append(engineOpts, pattern.WithIndexer(index))
	}
	patternEngine, err := pattern.NewEngine(patternStore, memoryStore, engineCfg, logger, engineOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating pattern engine: %w", err)
	}

	insightEngine, err := insight.NewEngine(patternStore, memoryStore, insightStore, queueStore,
		insightConfig(cfg.Thresholds), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating insight engine: %w", err)
	}

	var searcher learning.Searcher
	if index != nil {
		searcher = index
	}
	dispatcher, err := learning.NewDispatcher(patternEngine, insightEngine, searcher, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	worker, err := learning.NewWorker(queueStore, dispatcher, learning.WorkerConfig{
		Interval:        cfg.Queue.WorkerInterval,
		BatchSize:       cfg.Queue.BatchSize,
		StuckTimeout:    cfg.Queue.StuckTimeout,
		StuckRetryDelay: cfg.Queue.StuckRetryDelay,
		Retention:       cfg.Queue.Retention,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating worker: %w", err)
	}

	var scheduler *learning.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler, err = learning.NewScheduler(queueStore, worker, learning.SchedulerConfig{
			PatternInterval:    cfg.Scheduler.PatternInterval,
			InsightInterval:    cfg.Scheduler.InsightInterval,
			PreferenceInterval: cfg.Scheduler.PreferenceInterval,
			EvolutionInterval:  cfg.Scheduler.EvolutionInterval,
			MilestoneInterval:  cfg.Scheduler.MilestoneInterval,
			CriticalInterval:   cfg.Scheduler.CriticalInterval,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("creating scheduler: %w", err)
		}
	}

	buffer, err := learning.NewBuffer(queueStore, cfg.Buffer.Threshold, cfg.Buffer.BatchCap, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating buffer: %w", err)
	}

	svc, err := learning.NewService(learning.ServiceDeps{
		Queue:     queueStore,
		Patterns:  patternStore,
		Insights:  insightStore,
		Buffer:    buffer,
		Worker:    worker,
		Scheduler: scheduler,
	}, cfg.Buffer.FlushInterval, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating learning service: %w", err)
	}
	return svc, memoryStore, nil
}

// insightConfig converts the tunable thresholds into the analysis config.
func insightConfig(t config.ThresholdsConfig) insight.Config {
	day := 24 * time.Hour
	return insight.Config{
		BestPracticeConfidence: t.BestPracticeConfidence,
		BestPracticeFrequency:  t.BestPracticeFrequency,
		BestPracticeProjects:   t.BestPracticeProjects,

		AntiPatternBugCount: t.AntiPatternBugCount,
		AntiPatternWindow:   time.Duration(t.AntiPatternWindowDays) * day,

		TechPreferenceWindow:      time.Duration(t.TechPreferenceWindowDays) * day,
		TechPreferenceMinMentions: t.TechPreferenceMinMentions,

		EvolutionWindowMonths:  t.EvolutionWindowMonths,
		EvolutionGrowthFactor:  t.EvolutionGrowthFactor,
		EvolutionDeclineFactor: t.EvolutionDeclineFactor,

		TeamPatternWindow: time.Duration(t.TeamPatternWindowDays) * day,
		TeamPatternShare:  t.TeamPatternShare,

		QualityWindow:       time.Duration(t.QualityWindowDays) * day,
		QualityBugRatio:     t.QualityBugRatio,
		QualityLessonsRatio: t.QualityLessonsRatio,
	}
}

// initLogger initializes the structured logger.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Logging.Level, err)
	}

	var zapCfg zap.Config
	if cfg.Logging.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = level
	return zapCfg.Build()
}
