package core

import (
	"bytes"
	"context"

	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// PDFMagic is the byte signature every PDF file starts with.
var PDFMagic = []byte("%PDF-")

// Extraction is the result of text extraction from a raw document.
type Extraction struct {
	Text      string
	PageCount int
	Info      models.DocumentInfo
}

// DocumentExtractor turns raw document bytes into plain text plus page metadata.
// It never mutates external state.
type DocumentExtractor interface {
	Extract(ctx context.Context, raw []byte) (*Extraction, error)
}

// HasPDFSignature reports whether raw starts with the PDF magic bytes.
func HasPDFSignature(raw []byte) bool {
	return bytes.HasPrefix(raw, PDFMagic)
}
