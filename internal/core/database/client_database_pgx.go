package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/contexta-ingest/internal/config"
	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// codeInvalidTextRepresentation is the SQLSTATE Postgres raises for a malformed uuid.
const codeInvalidTextRepresentation = "22P02"

type DatabaseClient struct {
	db *sql.DB

	// beforeChunks runs inside the write transaction after the document row is inserted.
	// Tests use it to inject failures between the two halves of the atomic write.
	beforeChunks func(ctx context.Context) error
}

var _ core.DocumentStore = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// buildDSN appends SSL params to DATABASE_URL when a root certificate is configured.
func buildDSN(cfg *config.Config) (string, error) {
	if cfg.DatabaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is empty")
	}
	if cfg.SslCertPath == "" {
		return cfg.DatabaseURL, nil
	}
	if _, err := os.Stat(cfg.SslCertPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
	}

	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", cfg.SslCertPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// CreateDocumentWithChunks inserts the document row and all chunk rows in one transaction.
// Readers never observe the document until the commit, and a failed commit leaves nothing behind.
func (c *DatabaseClient) CreateDocumentWithChunks(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk) error {
	if doc == nil {
		return errors.New("nil document")
	}
	if len(chunks) == 0 {
		return errors.New("document has no chunks")
	}

	info, err := json.Marshal(doc.Info)
	if err != nil {
		return fmt.Errorf("encode info: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const qDoc = `
		INSERT INTO documents
			(id, file_name, page_count, chunk_count, info, storage_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.ExecContext(ctx, qDoc,
		doc.ID, doc.FileName, doc.PageCount, doc.ChunkCount, string(info), doc.StorageURL, doc.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	if c.beforeChunks != nil {
		if err := c.beforeChunks(ctx); err != nil {
			return err
		}
	}

	const qChunk = `
		INSERT INTO document_chunks
			(id, document_id, chunk_index, content, embedding, char_start, char_end, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	stmt, err := tx.PrepareContext(ctx, qChunk)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if len(ch.Embedding) == 0 {
			return fmt.Errorf("chunk %d has no embedding", ch.Index)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.Index, ch.Content, pgvector.NewVector(ch.Embedding),
			ch.CharStart, ch.CharEnd, ch.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert chunk %d: %w", ch.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	const q = `
		SELECT id, file_name, page_count, chunk_count, info, storage_url, created_at
		FROM documents
		WHERE id = $1
	`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) || isMalformedID(err) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (c *DatabaseClient) ListDocuments(ctx context.Context, limit int) ([]models.Document, error) {
	const q = `
		SELECT id, file_name, page_count, chunk_count, info, storage_url, created_at
		FROM documents
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := c.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, chunk_index, content, embedding, char_start, char_end, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if isMalformedID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch  models.DocumentChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.Index, &ch.Content, &emb, &ch.CharStart, &ch.CharEnd, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil && !isMalformedID(err) {
		return nil, err
	}
	return out, nil
}

// SearchChunks finds the top-k chunks by cosine similarity, optionally within one document.
func (c *DatabaseClient) SearchChunks(ctx context.Context, queryVec []float32, documentID string, limit int) ([]models.ScoredChunk, error) {
	const q = `
		SELECT id, document_id, chunk_index, content, char_start, char_end, created_at,
		       1 - (embedding <=> $1) AS score
		FROM document_chunks
		WHERE ($2 = '' OR document_id::text = $2)
		ORDER BY embedding <=> $1
		LIMIT $3
	`
	rows, err := c.db.QueryContext(ctx, q, pgvector.NewVector(queryVec), documentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var (
			sc    models.ScoredChunk
			score float64
		)
		if err := rows.Scan(
			&sc.ID, &sc.DocumentID, &sc.Index, &sc.Content, &sc.CharStart, &sc.CharEnd, &sc.CreatedAt, &score,
		); err != nil {
			return nil, err
		}
		sc.Score = float32(score)
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if isMalformedID(err) {
		return core.ErrNotFound
	}
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// isMalformedID reports whether err is Postgres rejecting an id that is not a uuid.
// Such an id cannot name a document, so callers treat it as not found.
func isMalformedID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeInvalidTextRepresentation
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		d    models.Document
		info []byte
	)
	if err := row.Scan(&d.ID, &d.FileName, &d.PageCount, &d.ChunkCount, &info, &d.StorageURL, &d.CreatedAt); err != nil {
		return nil, err
	}
	if len(info) > 0 {
		if err := json.Unmarshal(info, &d.Info); err != nil {
			return nil, fmt.Errorf("decode info: %w", err)
		}
	}
	return &d, nil
}
