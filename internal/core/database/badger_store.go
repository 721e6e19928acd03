package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

const (
	documentPrefix = "doc/"
	chunkPrefix    = "chunk/"
)

// BadgerStore is an embedded DocumentStore.
//
// Badger transactions are size-bounded, so a large document cannot be written in one
// transaction. Instead chunks are staged under the document's chunk prefix and the document
// key is written last; readers treat a chunk as visible only when its document key exists.
// A failed write removes the staged chunks.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger

	// beforeFlip runs after chunks are staged and before the document key is written.
	beforeFlip func(ctx context.Context) error
}

var _ core.DocumentStore = (*BadgerStore)(nil)

// badgerLogger adapts slog.Logger to the badger.Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (bl *badgerLogger) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBadgerStore opens (or creates) a store at dir. An empty dir with inMemory set
// opens a throwaway in-memory store.
func OpenBadgerStore(dir string, inMemory bool) (*BadgerStore, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}

	logger := slog.Default().With("component", "badger-store")
	opts.Logger = &badgerLogger{logger: logger}
	opts.Compression = options.None

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: bdb, logger: logger}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func documentKey(id string) []byte {
	return []byte(documentPrefix + id)
}

func chunkKeyPrefix(docID string) []byte {
	return []byte(chunkPrefix + docID + "/")
}

func chunkKey(docID string, index int) []byte {
	return []byte(fmt.Sprintf("%s%s/%08d", chunkPrefix, docID, index))
}

func (s *BadgerStore) CreateDocumentWithChunks(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk) error {
	if doc == nil {
		return errors.New("nil document")
	}
	if len(chunks) == 0 {
		return errors.New("document has no chunks")
	}

	exists, err := s.documentExists(doc.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("document %s already exists", doc.ID)
	}

	if err := s.stageChunks(ctx, doc.ID, chunks); err != nil {
		s.discardStaged(doc.ID)
		return err
	}

	if s.beforeFlip != nil {
		if err := s.beforeFlip(ctx); err != nil {
			s.discardStaged(doc.ID)
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		s.discardStaged(doc.ID)
		return err
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		s.discardStaged(doc.ID)
		return fmt.Errorf("encode document: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(documentKey(doc.ID), payload)
	}); err != nil {
		s.discardStaged(doc.ID)
		return fmt.Errorf("publish document: %w", err)
	}
	return nil
}

func (s *BadgerStore) stageChunks(ctx context.Context, docID string, chunks []models.DocumentChunk) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		ch := &chunks[i]
		if ch.DocumentID != docID {
			return fmt.Errorf("chunk %d belongs to document %s, not %s", ch.Index, ch.DocumentID, docID)
		}
		if len(ch.Embedding) == 0 {
			return fmt.Errorf("chunk %d has no embedding", ch.Index)
		}
		payload, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("encode chunk %d: %w", ch.Index, err)
		}
		if err := wb.Set(chunkKey(docID, ch.Index), payload); err != nil {
			return fmt.Errorf("stage chunk %d: %w", ch.Index, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush staged chunks: %w", err)
	}
	return nil
}

func (s *BadgerStore) discardStaged(docID string) {
	if err := s.deletePrefix(chunkKeyPrefix(docID)); err != nil {
		s.logger.Error("failed to discard staged chunks", "documentId", docID, "err", err)
	}
}

// deletePrefix removes every key under prefix.
func (s *BadgerStore) deletePrefix(prefix []byte) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (s *BadgerStore) documentExists(id string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(documentKey(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BadgerStore) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(documentKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *BadgerStore) ListDocuments(ctx context.Context, limit int) ([]models.Document, error) {
	var out []models.Document
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(documentPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var d models.Document
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &d)
			}); err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b models.Document) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *BadgerStore) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	var out []models.DocumentChunk
	err := s.db.View(func(txn *badger.Txn) error {
		// Chunks of an unpublished document are not visible.
		if _, err := txn.Get(documentKey(documentID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = chunkKeyPrefix(documentID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var ch models.DocumentChunk
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ch)
			}); err != nil {
				return err
			}
			out = append(out, ch)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SearchChunks scans visible chunks and ranks them by cosine similarity.
func (s *BadgerStore) SearchChunks(ctx context.Context, queryVec []float32, documentID string, limit int) ([]models.ScoredChunk, error) {
	var results []models.ScoredChunk

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(chunkPrefix)
		if documentID != "" {
			prefix = chunkKeyPrefix(documentID)
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		visible := map[string]bool{}
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var ch models.DocumentChunk
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ch)
			}); err != nil {
				return err
			}

			ok, seen := visible[ch.DocumentID]
			if !seen {
				_, err := txn.Get(documentKey(ch.DocumentID))
				switch {
				case err == nil:
					ok = true
				case errors.Is(err, badger.ErrKeyNotFound):
					ok = false
				default:
					return err
				}
				visible[ch.DocumentID] = ok
			}
			if !ok {
				continue
			}

			score := cosineSimilarity(queryVec, ch.Embedding)
			ch.Embedding = nil
			results = append(results, models.ScoredChunk{DocumentChunk: ch, Score: score})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(results, func(a, b models.ScoredChunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// DeleteDocument hides the document first, then drops its chunks.
func (s *BadgerStore) DeleteDocument(ctx context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(documentKey(id)); err != nil {
			return err
		}
		return txn.Delete(documentKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return core.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := s.deletePrefix(chunkKeyPrefix(id)); err != nil {
		return fmt.Errorf("drop chunks: %w", err)
	}
	return nil
}

func cosineSimilarity(a, b []float32) float32 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
