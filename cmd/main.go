package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"session-processor/pkg/analysis"
	"session-processor/pkg/api"
	"session-processor/pkg/capture"
	"session-processor/pkg/config"
	"session-processor/pkg/logger"
	"session-processor/pkg/pipeline"
	"session-processor/pkg/roster"
	"session-processor/pkg/storage"
	"session-processor/pkg/transcription"
	"session-processor/pkg/upload"

	"google.golang.org/api/option"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer lg.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	kv, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path, cfg.Storage.RedisAddr, cfg.Storage.RedisDB)
	if err != nil {
		lg.Fatal("Failed to initialize storage", "backend", cfg.Storage.Backend, "error", err)
	}
	defer kv.Close()
	chunks := storage.NewChunkStore(kv)
	status := storage.NewUploadStatusStore(kv)

	var googleOpts []option.ClientOption
	if cfg.GoogleCredentialsFile != "" {
		googleOpts = append(googleOpts, option.WithCredentialsFile(cfg.GoogleCredentialsFile))
	}

	// External capabilities
	sink, closeSink, err := newSink(ctx, cfg.Upload, googleOpts)
	if err != nil {
		lg.Fatal("Failed to initialize upload sink", "sink", cfg.Upload.Sink, "error", err)
	}
	defer closeSink()

	transcriber, closeTranscriber, err := newTranscriber(ctx, cfg.Transcription, googleOpts)
	if err != nil {
		lg.Fatal("Failed to initialize transcription", "provider", cfg.Transcription.Provider, "error", err)
	}
	defer closeTranscriber()

	analyzer, err := newAnalyzer(ctx, cfg.Analysis)
	if err != nil {
		lg.Fatal("Failed to initialize analysis", "provider", cfg.Analysis.Provider, "error", err)
	}
	budget := cfg.Analysis.TokenBudget
	if budget == 0 {
		budget = analysis.TokenBudgetForModel(cfg.Analysis.Model)
	}

	// Player records, one writer per player
	pool := pipeline.NewKeyedPool(cfg.Pipeline.RosterWorkers, 0)
	pool.Start()
	defer pool.Stop()
	players := roster.New(storage.NewPlayerStore(kv), pool, lg)

	deps := pipeline.Deps{
		Chunks:      chunks,
		Status:      status,
		Transcriber: transcription.NewMerger(transcriber, transcription.NewMemoryCache(), cfg.Transcription.Concurrency, lg),
		Analyzer:    analysis.NewPipeline(analyzer, budget, lg),
		Roster:      players,
	}
	var queue *upload.Queue
	if sink != nil {
		policy := upload.RetryPolicy{
			MaxAttempts: cfg.Upload.MaxAttempts,
			BaseDelay:   cfg.Upload.BaseDelay,
			Multiplier:  cfg.Upload.Multiplier,
		}
		queue = upload.NewQueue(sink, status, chunks, policy, lg)
		deps.Uploader = queue
	}

	limits := capture.Limits{
		MaxChunkDuration:  cfg.Capture.MaxChunkDuration,
		MaxChunkSizeBytes: cfg.Capture.MaxChunkSizeBytes,
	}
	manager := pipeline.NewManager(cfg.Pipeline, limits, deps, lg)
	if err := manager.Start(ctx); err != nil {
		lg.Fatal("Failed to start pipeline", "error", err)
	}

	if queue != nil {
		go func() {
			n, err := queue.Resume(ctx)
			if err != nil {
				lg.Warn("Some interrupted uploads could not be resumed", "resumed", n, "error", err)
				return
			}
			lg.Info("Interrupted uploads resumed", "resumed", n)
		}()
	}

	handlers := api.NewHandlers(manager, players, cfg.Capture.QueueSize, lg)
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handlers.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		lg.Info("Server starting", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatal("Server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("Server forced to shutdown", "error", err)
	}
	manager.Stop()

	lg.Info("Server exited")
}

func newSink(ctx context.Context, cfg config.UploadConfig, googleOpts []option.ClientOption) (upload.Sink, func(), error) {
	switch cfg.Sink {
	case "", "none":
		return nil, func() {}, nil
	case "http":
		if cfg.Endpoint == "" {
			return nil, nil, fmt.Errorf("upload.endpoint is required for the http sink")
		}
		return upload.NewHTTPSink(cfg.Endpoint, cfg.APIKey, cfg.Timeout), func() {}, nil
	case "gcs":
		sink, err := upload.NewGCSSink(ctx, cfg.GCSBucket, cfg.GCSPrefix, googleOpts...)
		if err != nil {
			return nil, nil, err
		}
		return sink, func() { _ = sink.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown upload sink %q", cfg.Sink)
	}
}

func newTranscriber(ctx context.Context, cfg config.TranscriptionConfig, googleOpts []option.ClientOption) (transcription.Service, func(), error) {
	switch cfg.Provider {
	case "", "whisper":
		return transcription.NewWhisperClient(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.Language, cfg.Timeout), func() {}, nil
	case "google":
		svc, err := transcription.NewGoogleSpeech(ctx, cfg.Language, cfg.Model, googleOpts...)
		if err != nil {
			return nil, nil, err
		}
		return svc, func() { _ = svc.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown transcription provider %q", cfg.Provider)
	}
}

func newAnalyzer(ctx context.Context, cfg config.AnalysisConfig) (analysis.Service, error) {
	var svc analysis.Service
	switch cfg.Provider {
	case "", "openai":
		svc = analysis.NewOpenAIAnalyzer(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.Temperature, cfg.Timeout)
	case "gemini":
		g, err := analysis.NewGeminiAnalyzer(ctx, cfg.APIKey, cfg.Model, cfg.Temperature)
		if err != nil {
			return nil, err
		}
		svc = g
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", cfg.Provider)
	}
	if cfg.RequestsPerSecond > 0 {
		svc = analysis.NewRateLimited(svc, cfg.RequestsPerSecond, 1)
	}
	return svc, nil
}
