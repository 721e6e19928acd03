package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// Ingestor turns one uploaded document into a stored, embedded document.
type Ingestor interface {
	Ingest(ctx context.Context, up Upload) (*Result, error)
}

// Upload is a document as received from the caller.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Timings is the per-stage duration breakdown of one ingestion.
type Timings struct {
	Extraction time.Duration
	Chunking   time.Duration
	Embedding  time.Duration
	Storage    time.Duration
	Total      time.Duration
}

// Result is returned once a document reaches the done state.
type Result struct {
	Document   *models.Document
	ChunkCount int
	PageCount  int
	Timings    Timings
}

// DocumentIngestor runs the ingestion state machine:
// received → validated → extracted → chunked → embedded → stored → done.
//
// store:     atomic document + chunks persistence.
// archive:   optional object storage for the raw upload (nil disables archiving).
// embedder:  embedding provider shared by every run.
// extractor: PDF text extraction.
// limiter:   request ceiling shared by every run against the provider.
type DocumentIngestor struct {
	store     core.DocumentStore
	archive   core.ObjectClient
	embedder  core.EmbeddingProvider
	extractor core.DocumentExtractor
	cfg       IngestConfig
	limiter   *rate.Limiter
	logger    *slog.Logger
}

var _ Ingestor = (*DocumentIngestor)(nil)

func NewDocumentIngestor(
	store core.DocumentStore,
	archive core.ObjectClient,
	embedder core.EmbeddingProvider,
	extractor core.DocumentExtractor,
	cfg IngestConfig,
	limiter *rate.Limiter,
	logger *slog.Logger,
) (*DocumentIngestor, error) {
	if store == nil || embedder == nil || extractor == nil {
		return nil, errors.New("ingestor requires a store, an embedder and an extractor")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ingest config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentIngestor{
		store:     store,
		archive:   archive,
		embedder:  embedder,
		extractor: extractor,
		cfg:       cfg,
		limiter:   limiter,
		logger:    logger.With("component", "ingestor"),
	}, nil
}

// Config returns the default configuration used by Ingest.
func (i *DocumentIngestor) Config() IngestConfig {
	return i.cfg
}

func (i *DocumentIngestor) Ingest(ctx context.Context, up Upload) (*Result, error) {
	return i.IngestWithConfig(ctx, up, i.cfg)
}

// IngestWithConfig ingests up with a per-call configuration.
// On failure it returns an *Error and nothing is visible in the store.
func (i *DocumentIngestor) IngestWithConfig(ctx context.Context, up Upload, cfg IngestConfig) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newError(KindInvalidInput, StageReceived, "invalid ingest config", err)
	}

	log := i.logger.With("file", up.FileName, "bytes", len(up.Data))
	started := time.Now()
	var timings Timings

	fail := func(err error) (*Result, error) {
		var e *Error
		if !errors.As(err, &e) {
			e = newError(KindStorageError, StageFailed, "unexpected failure", err)
		}
		log.Warn("ingestion failed", "stage", e.Stage, "kind", e.Kind, "err", err)
		return nil, e
	}

	log.Debug("stage", "state", StageReceived)

	// received → validated
	if err := validateUpload(up, cfg); err != nil {
		return fail(err)
	}
	log.Debug("stage", "state", StageValidated)

	// validated → extracted
	t := time.Now()
	ext, err := i.extractor.Extract(ctx, up.Data)
	timings.Extraction = time.Since(t)
	if err != nil {
		if ctx.Err() != nil {
			return fail(canceled(StageExtracted, ctx.Err()))
		}
		if KindOf(err) == "" {
			err = newError(KindExtractionFailed, StageExtracted, "extraction failed", err)
		}
		return fail(err)
	}
	if strings.TrimSpace(ext.Text) == "" {
		return fail(newError(KindNoExtractableText, StageExtracted,
			"document contains no extractable text (it may be a scanned image)", nil))
	}
	log.Debug("stage", "state", StageExtracted, "pages", ext.PageCount, "ms", timings.Extraction.Milliseconds())

	if err := ctx.Err(); err != nil {
		return fail(canceled(StageChunked, err))
	}

	// extracted → chunked
	t = time.Now()
	drafts := cfg.chunker().Chunk(Normalize(ext.Text))
	timings.Chunking = time.Since(t)
	if len(drafts) == 0 {
		return fail(newError(KindEmptyDocument, StageChunked, "document produced no chunks", nil))
	}
	log.Debug("stage", "state", StageChunked, "chunks", len(drafts), "ms", timings.Chunking.Milliseconds())

	// chunked → embedded
	t = time.Now()
	vectors, err := NewBatcher(i.embedder, i.limiter, cfg, log).Embed(ctx, drafts)
	timings.Embedding = time.Since(t)
	if err != nil {
		return fail(err)
	}
	log.Debug("stage", "state", StageEmbedded, "ms", timings.Embedding.Milliseconds())

	// embedded → stored
	if err := ctx.Err(); err != nil {
		return fail(canceled(StageStored, err))
	}
	t = time.Now()
	doc, err := i.persist(ctx, up, ext, drafts, vectors, cfg)
	timings.Storage = time.Since(t)
	if err != nil {
		return fail(err)
	}
	timings.Total = time.Since(started)

	log.Info("document ingested",
		"documentId", doc.ID,
		"pages", doc.PageCount,
		"chunks", doc.ChunkCount,
		"extractionMs", timings.Extraction.Milliseconds(),
		"chunkingMs", timings.Chunking.Milliseconds(),
		"embeddingMs", timings.Embedding.Milliseconds(),
		"storageMs", timings.Storage.Milliseconds(),
		"totalMs", timings.Total.Milliseconds(),
	)

	return &Result{
		Document:   doc,
		ChunkCount: doc.ChunkCount,
		PageCount:  doc.PageCount,
		Timings:    timings,
	}, nil
}

// persist archives the raw upload (if configured) and writes the document with its chunks.
// The archived object is removed again when the write fails.
func (i *DocumentIngestor) persist(
	ctx context.Context,
	up Upload,
	ext *core.Extraction,
	drafts []PassageDraft,
	vectors [][]float32,
	cfg IngestConfig,
) (*models.Document, error) {
	now := time.Now().UTC()
	doc := &models.Document{
		ID:         uuid.NewString(),
		FileName:   up.FileName,
		PageCount:  ext.PageCount,
		ChunkCount: len(drafts),
		Info:       ext.Info,
		CreatedAt:  now,
	}

	chunks := make([]models.DocumentChunk, len(drafts))
	for n, d := range drafts {
		chunks[n] = models.DocumentChunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Index:      d.Index,
			Content:    d.Text,
			Embedding:  vectors[n],
			CharStart:  d.Start,
			CharEnd:    d.End,
			CreatedAt:  now,
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()

	var archiveKey string
	if i.archive != nil {
		archiveKey = core.ArchiveKey(doc.ID, up.FileName)
		url, err := i.archive.UploadFile(storeCtx, archiveKey, bytes.NewReader(up.Data), pdfContentType)
		if err != nil {
			if ctx.Err() != nil {
				return nil, canceled(StageStored, ctx.Err())
			}
			return nil, newError(KindStorageError, StageStored, "archive upload failed", err)
		}
		doc.StorageURL = url
	}

	if err := i.store.CreateDocumentWithChunks(storeCtx, doc, chunks); err != nil {
		if archiveKey != "" {
			i.discardArchive(ctx, archiveKey)
		}
		if ctx.Err() != nil {
			return nil, canceled(StageStored, ctx.Err())
		}
		return nil, newError(KindStorageError, StageStored, "could not store document", err)
	}
	return doc, nil
}

func (i *DocumentIngestor) discardArchive(ctx context.Context, key string) {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := i.archive.DeleteFile(delCtx, key); err != nil {
		i.logger.Error("failed to remove archived upload", "key", key, "err", err)
	}
}

func canceled(stage Stage, err error) *Error {
	return newError(KindCanceled, stage, "ingestion canceled", err)
}

var acceptedContentTypes = map[string]bool{
	"":                         true,
	pdfContentType:             true,
	"application/x-pdf":        true,
	"application/octet-stream": true,
}

func validateUpload(up Upload, cfg IngestConfig) error {
	if len(up.Data) == 0 {
		return newError(KindInvalidInput, StageValidated, "file is empty", nil)
	}
	if int64(len(up.Data)) > cfg.MaxUploadBytes {
		return newError(KindInvalidInput, StageValidated,
			fmt.Sprintf("file exceeds the %d byte limit", cfg.MaxUploadBytes), nil)
	}
	if up.ContentType != "" {
		mediaType, _, err := mime.ParseMediaType(up.ContentType)
		if err != nil || !acceptedContentTypes[strings.ToLower(mediaType)] {
			return newError(KindInvalidInput, StageValidated,
				fmt.Sprintf("unsupported content type %q", up.ContentType), nil)
		}
	}
	if !core.HasPDFSignature(up.Data) {
		return newError(KindInvalidInput, StageValidated, "file is not a PDF document", nil)
	}
	return nil
}
