package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	objectclient "github.com/markdave123-py/contexta-ingest/internal/core/object-client"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

const (
	DefaultListLimit   = 50
	MaxListLimit       = 500
	DefaultSearchLimit = 5
	MaxSearchLimit     = 50
)

var (
	// ErrEmptyQuery is returned by Search when the query has no text.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrNoArchive is returned by Source when the raw upload was not kept.
	ErrNoArchive = errors.New("document has no archived upload")
)

// DocumentService serves reads, retrieval and deletion of ingested documents.
// storage is optional; when nil, archived uploads are not touched.
type DocumentService struct {
	db       core.DocumentStore
	storage  core.ObjectClient
	embedder core.EmbeddingProvider
	logger   *slog.Logger
}

func NewDocumentService(db core.DocumentStore, storage core.ObjectClient, embedder core.EmbeddingProvider) *DocumentService {
	return &DocumentService{
		db:       db,
		storage:  storage,
		embedder: embedder,
		logger:   slog.Default().With("component", "document-service"),
	}
}

func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.db.GetDocumentByID(ctx, id)
}

// List returns the most recent documents first.
func (s *DocumentService) List(ctx context.Context, limit int) ([]models.Document, error) {
	return s.db.ListDocuments(ctx, clamp(limit, DefaultListLimit, MaxListLimit))
}

// Chunks returns a document's chunks in index order, without embeddings.
func (s *DocumentService) Chunks(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	if _, err := s.db.GetDocumentByID(ctx, documentID); err != nil {
		return nil, err
	}
	chunks, err := s.db.GetChunksByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].Embedding = nil
	}
	return chunks, nil
}

// Search embeds query and returns the closest chunks, optionally within one document.
func (s *DocumentService) Search(ctx context.Context, query, documentID string, limit int) ([]models.ScoredChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if documentID != "" {
		if _, err := s.db.GetDocumentByID(ctx, documentID); err != nil {
			return nil, err
		}
	}

	vecs, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, errors.New("embed query: provider returned no vector")
	}

	return s.db.SearchChunks(ctx, vecs[0], documentID, clamp(limit, DefaultSearchLimit, MaxSearchLimit))
}

// Source returns the archived upload of a document.
func (s *DocumentService) Source(ctx context.Context, id string) (*models.Document, []byte, error) {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if s.storage == nil || doc.StorageURL == "" {
		return doc, nil, ErrNoArchive
	}
	raw, err := s.storage.GetFile(ctx, archiveKey(doc))
	if err != nil {
		return doc, nil, fmt.Errorf("fetch archived upload: %w", err)
	}
	return doc, raw, nil
}

// Delete removes the document with its chunks, then its archived upload.
// A failed archive removal is logged and does not fail the call.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteDocument(ctx, id); err != nil {
		return err
	}

	if s.storage != nil && doc.StorageURL != "" {
		key := archiveKey(doc)
		if err := s.storage.DeleteFile(ctx, key); err != nil {
			s.logger.Warn("failed to delete archived upload", "documentId", id, "key", key, "err", err)
		}
	}
	return nil
}

func archiveKey(doc *models.Document) string {
	if _, key := objectclient.ParseS3URL(doc.StorageURL); key != "" {
		return key
	}
	return core.ArchiveKey(doc.ID, doc.FileName)
}

func clamp(v, def, maxV int) int {
	if v <= 0 {
		return def
	}
	return min(v, maxV)
}
