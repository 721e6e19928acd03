package ingestion_engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPDFExtractor_RejectsWrongSignature(t *testing.T) {
	e := NewPDFExtractor(nil)

	_, err := e.Extract(context.Background(), []byte("GIF89a not a pdf"))

	assert.Equal(t, KindInvalidFormat, KindOf(err))
}

func TestPDFExtractor_RejectsBrokenStructure(t *testing.T) {
	e := NewPDFExtractor(nil)

	_, err := e.Extract(context.Background(), []byte("%PDF-1.7\nthis is not really a pdf body\n"))

	assert.Equal(t, KindExtractionFailed, KindOf(err))
}

func TestError_Formatting(t *testing.T) {
	err := newError(KindStorageError, StageStored, "could not store document", assert.AnError)

	assert.Contains(t, err.Error(), "STORAGE_ERROR")
	assert.Contains(t, err.Error(), "could not store document")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, KindStorageError, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(assert.AnError))
}
