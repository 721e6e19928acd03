package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadgerStore("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleDocument(n int, vec func(i int) []float32) (*models.Document, []models.DocumentChunk) {
	now := time.Now().UTC()
	doc := &models.Document{
		ID:         uuid.NewString(),
		FileName:   "sample.pdf",
		PageCount:  2,
		ChunkCount: n,
		Info:       models.DocumentInfo{Title: "Sample"},
		CreatedAt:  now,
	}
	chunks := make([]models.DocumentChunk, n)
	for i := range chunks {
		chunks[i] = models.DocumentChunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Index:      i,
			Content:    fmt.Sprintf("chunk %d", i),
			Embedding:  vec(i),
			CreatedAt:  now,
		}
	}
	return doc, chunks
}

func unitVec(i int) []float32 {
	v := make([]float32, 4)
	v[i%4] = 1
	return v
}

func TestOpenBadgerStore_FileSystem(t *testing.T) {
	store, err := OpenBadgerStore(t.TempDir(), false)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestBadgerStore_CreateAndRead(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	doc, chunks := sampleDocument(3, unitVec)

	require.NoError(t, store.CreateDocumentWithChunks(ctx, doc, chunks))

	got, err := store.GetDocumentByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.FileName, got.FileName)
	assert.Equal(t, 3, got.ChunkCount)
	assert.Equal(t, "Sample", got.Info.Title)

	stored, err := store.GetChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, ch := range stored {
		assert.Equal(t, i, ch.Index)
		assert.Len(t, ch.Embedding, 4)
	}

	docs, err := store.ListDocuments(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestBadgerStore_RejectsDuplicateAndEmpty(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	doc, chunks := sampleDocument(2, unitVec)

	require.NoError(t, store.CreateDocumentWithChunks(ctx, doc, chunks))
	assert.Error(t, store.CreateDocumentWithChunks(ctx, doc, chunks))
	assert.Error(t, store.CreateDocumentWithChunks(ctx, &models.Document{ID: uuid.NewString()}, nil))
}

func TestBadgerStore_MissingEmbeddingLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	doc, chunks := sampleDocument(3, unitVec)
	chunks[2].Embedding = nil

	require.Error(t, store.CreateDocumentWithChunks(ctx, doc, chunks))

	_, err := store.GetDocumentByID(ctx, doc.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, stagedKeys(t, store, doc.ID))
}

func TestBadgerStore_FailureBeforePublishIsInvisible(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	doc, chunks := sampleDocument(5, unitVec)

	var sawStaged int
	store.beforeFlip = func(ctx context.Context) error {
		sawStaged = len(stagedKeys(t, store, doc.ID))

		// Staged chunks are not visible to readers before the flip.
		hits, err := store.SearchChunks(ctx, unitVec(0), "", 10)
		require.NoError(t, err)
		assert.Empty(t, hits)

		return errors.New("disk full")
	}

	err := store.CreateDocumentWithChunks(ctx, doc, chunks)
	require.Error(t, err)
	assert.Equal(t, 5, sawStaged)

	_, err = store.GetDocumentByID(ctx, doc.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	visible, err := store.GetChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, visible)
	assert.Empty(t, stagedKeys(t, store, doc.ID))
}

func TestBadgerStore_CanceledWriteIsInvisible(t *testing.T) {
	store := newTestStore(t)
	doc, chunks := sampleDocument(2, unitVec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, store.CreateDocumentWithChunks(ctx, doc, chunks), context.Canceled)
	_, err := store.GetDocumentByID(context.Background(), doc.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestBadgerStore_SearchChunks(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	docA, chunksA := sampleDocument(4, unitVec)
	docB, chunksB := sampleDocument(2, func(int) []float32 { return []float32{1, 1, 0, 0} })
	require.NoError(t, store.CreateDocumentWithChunks(ctx, docA, chunksA))
	require.NoError(t, store.CreateDocumentWithChunks(ctx, docB, chunksB))

	hits, err := store.SearchChunks(ctx, []float32{1, 0, 0, 0}, "", 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, docA.ID, hits[0].DocumentID)
	assert.Equal(t, 0, hits[0].Index)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Nil(t, hits[0].Embedding)

	scoped, err := store.SearchChunks(ctx, []float32{1, 0, 0, 0}, docB.ID, 10)
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	for _, h := range scoped {
		assert.Equal(t, docB.ID, h.DocumentID)
	}
}

func TestBadgerStore_DeleteDocument(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	doc, chunks := sampleDocument(3, unitVec)
	require.NoError(t, store.CreateDocumentWithChunks(ctx, doc, chunks))

	require.NoError(t, store.DeleteDocument(ctx, doc.ID))

	_, err := store.GetDocumentByID(ctx, doc.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, stagedKeys(t, store, doc.ID))
	assert.ErrorIs(t, store.DeleteDocument(ctx, doc.ID), core.ErrNotFound)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1e-6)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Equal(t, float32(0), cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

func stagedKeys(t *testing.T, store *BadgerStore, docID string) []string {
	t.Helper()
	var keys []string
	err := store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = chunkKeyPrefix(docID)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	require.NoError(t, err)
	return keys
}
