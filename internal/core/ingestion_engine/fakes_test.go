package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	db "github.com/markdave123-py/contexta-ingest/internal/core/database"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

const testDim = 8

// fakeExtractor returns everything after the PDF magic bytes as text, unless text or err is set.
type fakeExtractor struct {
	text  *string
	pages int
	err   error
}

func (f *fakeExtractor) Extract(ctx context.Context, raw []byte) (*core.Extraction, error) {
	if f.err != nil {
		return nil, f.err
	}
	text := string(bytes.TrimPrefix(raw, core.PDFMagic))
	if f.text != nil {
		text = *f.text
	}
	pages := f.pages
	if pages == 0 {
		pages = 1
	}
	return &core.Extraction{Text: text, PageCount: pages, Info: models.DocumentInfo{Title: "Test"}}, nil
}

// fakeEmbedder returns vectors of testDim whose first component is the text's index
// when texts look like "p-<n>", and 1 otherwise. embed overrides the behaviour.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	embed func(ctx context.Context, call int, texts []string) ([][]float32, error)
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.embed != nil {
		return f.embed(ctx, call, texts)
	}
	return vectorsFor(texts, testDim), nil
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func vectorsFor(texts []string, dim int) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, dim)
		v[0] = 1
		if n, err := strconv.Atoi(strings.TrimPrefix(t, "p-")); err == nil {
			v[0] = float32(n)
		}
		out[i] = v
	}
	return out
}

func drafts(n int) []PassageDraft {
	out := make([]PassageDraft, n)
	for i := range out {
		out[i] = PassageDraft{Index: i, Text: fmt.Sprintf("p-%d", i)}
	}
	return out
}

// failingStore wraps a real store and fails every write.
type failingStore struct {
	core.DocumentStore
}

func (s failingStore) CreateDocumentWithChunks(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk) error {
	return errors.New("disk full")
}

type fakeArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{objects: map[string][]byte{}}
}

func (a *fakeArchive) UploadFile(ctx context.Context, key string, data io.Reader, contentType string) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[key] = b
	return "https://bucket.s3.test.amazonaws.com/" + key, nil
}

func (a *fakeArchive) DeleteFile(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.objects, key)
	a.deleted = append(a.deleted, key)
	return nil
}

func (a *fakeArchive) GetFile(ctx context.Context, key string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.objects[key]
	if !ok {
		return nil, core.ErrNotFound
	}
	return b, nil
}

func testConfig() IngestConfig {
	cfg := DefaultIngestConfig()
	cfg.EmbedDim = testDim
	cfg.RetryBaseDelay = time.Millisecond
	cfg.BatchTimeout = time.Second
	return cfg
}

func newTestStore(t *testing.T) *db.BadgerStore {
	t.Helper()
	store, err := db.OpenBadgerStore("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func pdfUpload(name, text string) Upload {
	return Upload{
		FileName:    name,
		ContentType: "application/pdf",
		Data:        append(append([]byte{}, core.PDFMagic...), text...),
	}
}
