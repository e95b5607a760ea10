package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bobarin/clipforge/internal/acquisition"
	"github.com/bobarin/clipforge/internal/analyzer"
	"github.com/bobarin/clipforge/internal/api"
	"github.com/bobarin/clipforge/internal/config"
	"github.com/bobarin/clipforge/internal/db"
	"github.com/bobarin/clipforge/internal/logging"
	"github.com/bobarin/clipforge/internal/materializer"
	"github.com/bobarin/clipforge/internal/media"
	"github.com/bobarin/clipforge/internal/metrics"
	"github.com/bobarin/clipforge/internal/queue"
	"github.com/bobarin/clipforge/internal/storage"
	"github.com/bobarin/clipforge/internal/transcription"
	"github.com/bobarin/clipforge/internal/worker"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("starting clipforge api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.ScratchDir, 0755); err != nil {
		logger.Fatal("failed to create scratch dir", zap.String("dir", cfg.ScratchDir), zap.Error(err))
	}

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()
	if cfg.MigrateOnStart {
		if err := database.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}
		logger.Info("database schema applied")
	}

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect to queue", zap.Error(err))
	}
	defer q.Close()

	stor, err := storage.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.String("backend", cfg.StorageBackend), zap.Error(err))
	}

	gateway, err := acquisition.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize acquisition", zap.Error(err))
	}

	registry, err := materializer.LoadRegistry(cfg.PlatformSpecsPath)
	if err != nil {
		logger.Fatal("failed to load platform specs", zap.String("path", cfg.PlatformSpecsPath), zap.Error(err))
	}

	m := metrics.New()

	handler := api.NewHandler(api.Deps{
		Store:     database,
		Queue:     q,
		Storage:   stor,
		Gateway:   gateway,
		Platforms: registry,
	}, api.Options{
		RequireKnownPlatform: cfg.RequireKnownPlatform,
		MaxUploadBytes:       int64(cfg.MaxUploadSizeMB) << 20,
		UploadDir:            cfg.ScratchDir,
	}, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
		Metrics:            m.Handler(),
	})

	if cfg.BackendAPIKey != "" {
		logger.Info("api key authentication enabled")
	} else {
		logger.Warn("no BACKEND_API_KEY set, api is unprotected (dev mode)")
	}

	var wg sync.WaitGroup
	if cfg.WorkerEnabled {
		w, err := newWorker(ctx, cfg, logger, worker.Deps{
			Store:    database,
			Queue:    q,
			Gateway:  gateway,
			Renderer: materializer.New(cfg.FFmpegPath, cfg.FFprobePath, registry, cfg.ScratchDir, logger),
			Storage:  stor,
			Metrics:  m,
		})
		if err != nil {
			logger.Fatal("failed to initialize worker", zap.Error(err))
		}

		wg.Add(2)
		go func() {
			defer wg.Done()
			w.Start(ctx, cfg.MaxConcurrentJobs)
		}()
		go func() {
			defer wg.Done()
			w.RunJanitor(ctx, cfg.RetentionSweepInterval)
		}()
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}
	go func() {
		logger.Info("api server listening", zap.String("port", cfg.APIPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	wg.Wait()

	logger.Info("server exited")
}

// newWorker fills in the transcription and analysis services selected by
// config.
func newWorker(ctx context.Context, cfg *config.Config, logger *zap.Logger, deps worker.Deps) (*worker.Worker, error) {
	openaiClient := transcription.NewClient(cfg.OpenAIKey, cfg.OpenAIBaseURL)

	deps.Transcriber = transcription.NewWhisper(openaiClient, transcription.Config{
		Model:      cfg.TranscriptionModel,
		Timeout:    cfg.TranscriptionTimeout,
		MaxRetries: cfg.TranscriptionMaxRetries,
	}, logger)

	var strategy analyzer.Strategy
	switch cfg.AnalyzerStrategy {
	case "frames":
		scorer, err := analyzer.NewGeminiScorer(ctx, cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		strategy = analyzer.NewFrameStrategy(scorer, analyzer.FFmpegFrameExtractor(cfg.FFmpegPath), cfg.FrameSamples, cfg.ScratchDir, logger)
	default:
		strategy = analyzer.NewTranscriptStrategy(openaiClient, cfg.AnalyzerModel, logger)
	}
	logger.Info("analyzer configured", zap.String("strategy", strategy.Name()))
	deps.Analyzer = analyzer.New(strategy, logger)

	deps.Probe = func(ctx context.Context, path string) (*media.ProbeResult, error) {
		return media.Probe(ctx, cfg.FFprobePath, path)
	}

	return worker.New(deps, worker.Config{
		ScratchDir:             cfg.ScratchDir,
		MaxParallelClips:       cfg.MaxParallelClips,
		MaterializeMaxAttempts: cfg.MaterializeMaxAttempts,
		MaterializeTimeout:     cfg.MaterializeTimeout,
		AnalysisTimeout:        cfg.AnalysisTimeout,
		CaptionPosition:        cfg.CaptionPosition,
	}, logger), nil
}
