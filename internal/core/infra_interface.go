package core

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// DocumentStore defines all persistence operations the ingestion service needs.
// It abstracts Postgres/pgvector and Badger so higher layers never depend on a specific DB.
type DocumentStore interface {
	// CreateDocumentWithChunks writes the document and every chunk as one atomic unit:
	// either all of them become visible to readers or none do.
	CreateDocumentWithChunks(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk) error

	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, limit int) ([]models.Document, error)
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)

	// SearchChunks ranks chunks by cosine similarity to queryVec.
	// An empty documentID searches across all documents.
	SearchChunks(ctx context.Context, queryVec []float32, documentID string, limit int) ([]models.ScoredChunk, error)

	// DeleteDocument removes the document and all of its chunks.
	DeleteDocument(ctx context.Context, id string) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, key string) error
	GetFile(ctx context.Context, key string) ([]byte, error)
}

// ArchiveKey builds the object key under which a document's raw upload is archived.
func ArchiveKey(docID, fileName string) string {
	fileName = strings.TrimSpace(path.Base(fileName))
	fileName = strings.ReplaceAll(fileName, " ", "_")
	if fileName == "" || fileName == "." || fileName == "/" {
		fileName = "document.pdf"
	}
	return path.Join("documents", docID, fileName)
}
