package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

func newIngestor(t *testing.T, store core.DocumentStore, archive core.ObjectClient, emb core.EmbeddingProvider, ext core.DocumentExtractor) *DocumentIngestor {
	t.Helper()
	if emb == nil {
		emb = &fakeEmbedder{}
	}
	if ext == nil {
		ext = &fakeExtractor{}
	}
	ing, err := NewDocumentIngestor(store, archive, emb, ext, testConfig(), nil, nil)
	require.NoError(t, err)
	return ing
}

func TestIngest_EndToEnd(t *testing.T) {
	store := newTestStore(t)
	ing := newIngestor(t, store, nil, nil, &fakeExtractor{pages: 4})

	res, err := ing.Ingest(context.Background(), pdfUpload("report.pdf", text2500()))
	require.NoError(t, err)

	assert.Equal(t, 3, res.ChunkCount)
	assert.Equal(t, 4, res.PageCount)
	assert.Equal(t, "report.pdf", res.Document.FileName)
	assert.Equal(t, "Test", res.Document.Info.Title)
	assert.GreaterOrEqual(t, res.Timings.Total, res.Timings.Embedding)

	doc, err := store.GetDocumentByID(context.Background(), res.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, doc.ChunkCount)

	chunks, err := store.GetChunksByDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, doc.ID, ch.DocumentID)
		assert.Len(t, ch.Embedding, testDim)
	}
	assert.Equal(t, 850, chunks[1].CharStart)
	assert.Equal(t, 2500, chunks[2].CharEnd)
}

func TestIngest_RejectsInvalidInput(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadBytes = 64

	cases := []struct {
		name string
		up   Upload
	}{
		{"empty", Upload{FileName: "a.pdf"}},
		{"not a pdf", Upload{FileName: "a.pdf", Data: []byte("PK\x03\x04 zip")}},
		{"too large", pdfUpload("a.pdf", strings.Repeat("x", 100))},
		{"wrong content type", Upload{FileName: "a.png", ContentType: "image/png", Data: []byte("%PDF-1.4")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newTestStore(t)
			emb := &fakeEmbedder{}
			ing := newIngestor(t, store, nil, emb, nil)

			_, err := ing.IngestWithConfig(context.Background(), tc.up, cfg)

			assert.Equal(t, KindInvalidInput, KindOf(err))
			assert.Zero(t, emb.Calls())
		})
	}
}

func TestIngest_AcceptsContentTypeParameters(t *testing.T) {
	ing := newIngestor(t, newTestStore(t), nil, nil, nil)
	up := pdfUpload("a.pdf", "Some text.")
	up.ContentType = "application/pdf; charset=binary"

	_, err := ing.Ingest(context.Background(), up)
	assert.NoError(t, err)
}

func TestIngest_NoExtractableText(t *testing.T) {
	blank := " \n\t\n "
	store := newTestStore(t)
	emb := &fakeEmbedder{}
	ing := newIngestor(t, store, nil, emb, &fakeExtractor{text: &blank})

	_, err := ing.Ingest(context.Background(), pdfUpload("scan.pdf", ""))

	assert.Equal(t, KindNoExtractableText, KindOf(err))
	assert.Zero(t, emb.Calls())
	docs, err := store.ListDocuments(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestIngest_EmptyDocumentAfterNormalization(t *testing.T) {
	onlyPageNumbers := "1\fPage 2 of 3\f- 3 -"
	ing := newIngestor(t, newTestStore(t), nil, nil, &fakeExtractor{text: &onlyPageNumbers})

	_, err := ing.Ingest(context.Background(), pdfUpload("numbers.pdf", ""))

	assert.Equal(t, KindEmptyDocument, KindOf(err))
}

func TestIngest_ExtractionErrors(t *testing.T) {
	t.Run("untyped error becomes extraction failure", func(t *testing.T) {
		ing := newIngestor(t, newTestStore(t), nil, nil, &fakeExtractor{err: errors.New("broken xref")})
		_, err := ing.Ingest(context.Background(), pdfUpload("a.pdf", "x"))
		assert.Equal(t, KindExtractionFailed, KindOf(err))
	})
	t.Run("typed error keeps its kind", func(t *testing.T) {
		typed := newError(KindInvalidFormat, StageExtracted, "not a pdf", nil)
		ing := newIngestor(t, newTestStore(t), nil, nil, &fakeExtractor{err: typed})
		_, err := ing.Ingest(context.Background(), pdfUpload("a.pdf", "x"))
		assert.Equal(t, KindInvalidFormat, KindOf(err))
	})
}

func TestIngest_EmbeddingFailureStoresNothing(t *testing.T) {
	store := newTestStore(t)
	archive := newFakeArchive()
	emb := &fakeEmbedder{
		embed: func(ctx context.Context, call int, texts []string) ([][]float32, error) {
			return nil, errors.New("quota exhausted permanently")
		},
	}
	ing := newIngestor(t, store, archive, emb, nil)

	_, err := ing.Ingest(context.Background(), pdfUpload("a.pdf", text2500()))

	assert.Equal(t, KindEmbeddingProviderError, KindOf(err))
	docs, _ := store.ListDocuments(context.Background(), 10)
	assert.Empty(t, docs)
	assert.Empty(t, archive.objects, "nothing is archived before embeddings exist")
}

func TestIngest_StorageFailureLeavesNothingVisible(t *testing.T) {
	store := newTestStore(t)
	archive := newFakeArchive()
	ing := newIngestor(t, failingStore{DocumentStore: store}, archive, nil, nil)

	_, err := ing.Ingest(context.Background(), pdfUpload("a.pdf", text2500()))

	require.Error(t, err)
	assert.Equal(t, KindStorageError, KindOf(err))

	docs, err := store.ListDocuments(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, docs)
	hits, err := store.SearchChunks(context.Background(), make([]float32, testDim), "", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	assert.Empty(t, archive.objects)
	assert.Len(t, archive.deleted, 1)
}

func TestIngest_ArchivesRawUpload(t *testing.T) {
	store := newTestStore(t)
	archive := newFakeArchive()
	ing := newIngestor(t, store, archive, nil, nil)
	up := pdfUpload("my report.pdf", "Archived text.")

	res, err := ing.Ingest(context.Background(), up)
	require.NoError(t, err)

	key := core.ArchiveKey(res.Document.ID, "my report.pdf")
	assert.Equal(t, up.Data, archive.objects[key])
	assert.True(t, strings.HasSuffix(res.Document.StorageURL, key))
}

func TestIngest_CancelDuringEmbeddingStoresNothing(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	emb := &fakeEmbedder{
		embed: func(_ context.Context, call int, texts []string) ([][]float32, error) {
			cancel()
			return vectorsFor(texts, testDim), nil
		},
	}
	ing := newIngestor(t, store, nil, emb, nil)

	_, err := ing.Ingest(ctx, pdfUpload("a.pdf", text2500()))

	assert.Equal(t, KindCanceled, KindOf(err))
	docs, _ := store.ListDocuments(context.Background(), 10)
	assert.Empty(t, docs)
}

func TestIngestWithConfig_RejectsInvalidConfig(t *testing.T) {
	ing := newIngestor(t, newTestStore(t), nil, nil, nil)
	cfg := testConfig()
	cfg.ChunkOverlap = cfg.ChunkSize

	_, err := ing.IngestWithConfig(context.Background(), pdfUpload("a.pdf", "text"), cfg)

	assert.Equal(t, KindInvalidInput, KindOf(err))
}

func TestIngestWithConfig_OverridesChunking(t *testing.T) {
	ing := newIngestor(t, newTestStore(t), nil, nil, nil)
	cfg := testConfig()
	cfg.ChunkSize = 500
	cfg.ChunkOverlap = 0

	res, err := ing.IngestWithConfig(context.Background(), pdfUpload("a.pdf", text2500()), cfg)

	require.NoError(t, err)
	assert.Equal(t, 5, res.ChunkCount)
	assert.Equal(t, DefaultChunkSize, ing.Config().ChunkSize)
}

func TestNewDocumentIngestor_Validation(t *testing.T) {
	_, err := NewDocumentIngestor(nil, nil, &fakeEmbedder{}, &fakeExtractor{}, testConfig(), nil, nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.BatchSize = 0
	_, err = NewDocumentIngestor(newTestStore(t), nil, &fakeEmbedder{}, &fakeExtractor{}, cfg, nil, nil)
	assert.Error(t, err)
}

func TestIngest_ConcurrentDocumentsStayIndependent(t *testing.T) {
	store := newTestStore(t)
	ing := newIngestor(t, store, nil, nil, nil)

	const n = 10
	type outcome struct {
		letter string
		res    *Result
		err    error
	}
	results := make([]outcome, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			letter := string(rune('a' + i))
			// windows advance by 850, so this yields exactly i+1 chunks
			text := strings.Repeat(letter, 850*(i+1)+150)
			res, err := ing.Ingest(context.Background(), pdfUpload(fmt.Sprintf("%s.pdf", letter), text))
			results[i] = outcome{letter: letter, res: res, err: err}
		}(i)
	}
	wg.Wait()

	for i, o := range results {
		require.NoError(t, o.err)
		assert.Equal(t, i+1, o.res.ChunkCount, "document %s", o.letter)

		chunks, err := store.GetChunksByDocument(context.Background(), o.res.Document.ID)
		require.NoError(t, err)
		require.Len(t, chunks, i+1)
		for _, ch := range chunks {
			assert.Empty(t, strings.Trim(ch.Content, o.letter), "chunk content leaked between documents")
		}
	}
}
