package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/markdave123-py/contexta-ingest/internal/api/handlers"
	"github.com/markdave123-py/contexta-ingest/internal/config"
	"github.com/markdave123-py/contexta-ingest/internal/core"
	db "github.com/markdave123-py/contexta-ingest/internal/core/database"
	"github.com/markdave123-py/contexta-ingest/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-ingest/internal/core/llm"
	objectclient "github.com/markdave123-py/contexta-ingest/internal/core/object-client"
	"github.com/markdave123-py/contexta-ingest/internal/services"
)

type App struct {
	Store     core.DocumentStore
	Archive   core.ObjectClient
	Embedder  core.EmbeddingProvider
	Ingestor  *ingestion_engine.DocumentIngestor
	Jobs      *ingestion_engine.JobQueue
	Documents *services.DocumentService
	Server    *Server

	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{}

	store, err := newStore(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)
	slog.Info("document store ready", "driver", cfg.StoreDriver)

	if cfg.ArchiveEnabled() {
		s3, err := objectclient.NewS3Client(appCtx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Archive = s3
		slog.Info("raw upload archive enabled", "bucket", cfg.BucketName)
	}

	embedder, closeEmbedder, err := newEmbedder(appCtx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}
	a.Embedder = embedder
	if closeEmbedder != nil {
		a.closers = append(a.closers, closeEmbedder)
	}

	var limiter *rate.Limiter
	if cfg.EmbedRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.EmbedRateLimit), max(cfg.EmbedConcurrency, 1))
	}

	logger := slog.Default()
	extractor := ingestion_engine.NewPDFExtractor(logger)
	ing, err := ingestion_engine.NewDocumentIngestor(store, a.Archive, embedder, extractor, IngestConfig(cfg), limiter, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Ingestor = ing

	jobs, err := ingestion_engine.NewJobQueue(ing, cfg.IngestWorkers, logger,
		ingestion_engine.WithJobRetention(cfg.JobRetention),
		ingestion_engine.WithMaxFinishedJobs(cfg.MaxFinishedJobs),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Jobs = jobs

	a.Documents = services.NewDocumentService(store, a.Archive, embedder)

	docHandler := handlers.NewDocumentHandler(ing, jobs, a.Documents, cfg.MaxUploadBytes)
	searchHandler := handlers.NewSearchHandler(a.Documents)
	a.Server = NewServer(cfg, docHandler, searchHandler)

	return a, nil
}

// IngestConfig derives the default per-run ingestion settings from the environment config.
func IngestConfig(cfg *config.Config) ingestion_engine.IngestConfig {
	ic := ingestion_engine.DefaultIngestConfig()
	ic.ChunkSize = cfg.ChunkSize
	ic.ChunkOverlap = cfg.ChunkOverlap
	ic.BatchSize = cfg.EmbedBatchSize
	ic.Concurrency = cfg.EmbedConcurrency
	ic.MaxRetries = cfg.EmbedMaxRetries
	ic.RetryBaseDelay = cfg.EmbedRetryBaseDelay
	ic.BatchTimeout = cfg.EmbedBatchTimeout
	ic.EmbedDim = cfg.EmbedDim
	ic.MaxUploadBytes = cfg.MaxUploadBytes
	ic.StoreTimeout = cfg.StoreTimeout
	return ic
}

func newStore(ctx context.Context, cfg *config.Config) (core.DocumentStore, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverBadger:
		return db.OpenBadgerStore(cfg.BadgerPath, false)
	case config.StoreDriverPostgres:
		return db.NewDatabaseClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func newEmbedder(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, func() error, error) {
	switch cfg.EmbedProvider {
	case config.EmbedProviderOpenAI:
		e, err := llm.NewOpenAIEmbedder(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbedModel)
		return e, nil, err
	case config.EmbedProviderGemini:
		e, err := llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, nil, err
		}
		return e, e.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbedProvider)
	}
}

// Close drains the job queue and releases the store and provider clients.
func (a *App) Close() {
	if a.Jobs != nil {
		if err := a.Jobs.Shutdown(30 * time.Second); err != nil {
			slog.Warn("job queue did not drain", "err", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}
