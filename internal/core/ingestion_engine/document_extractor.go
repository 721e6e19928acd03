package ingestion_engine

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"code.sajari.com/docconv"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

const pdfContentType = "application/pdf"

// PDFExtractor implements core.DocumentExtractor with pdfcpu for structure and metadata
// and docconv for the text layer.
type PDFExtractor struct {
	conf   *model.Configuration
	logger *slog.Logger
}

var _ core.DocumentExtractor = (*PDFExtractor)(nil)

func NewPDFExtractor(logger *slog.Logger) *PDFExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFExtractor{
		conf:   conf,
		logger: logger.With("component", "pdf-extractor"),
	}
}

// Extract validates raw as a PDF and returns its text, page count and info dictionary.
// Empty text is not an error here.
func (e *PDFExtractor) Extract(ctx context.Context, raw []byte) (*core.Extraction, error) {
	if !core.HasPDFSignature(raw) {
		return nil, newError(KindInvalidFormat, StageExtracted, "file is not a PDF document", nil)
	}

	pdfCtx, err := api.ReadContext(bytes.NewReader(raw), e.conf)
	if err != nil {
		return nil, newError(KindExtractionFailed, StageExtracted, "cannot read PDF structure", err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return nil, newError(KindExtractionFailed, StageExtracted, "invalid PDF structure", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := docconv.Convert(bytes.NewReader(raw), pdfContentType, false)
	if err != nil {
		return nil, newError(KindExtractionFailed, StageExtracted, "cannot extract text", err)
	}

	info := models.DocumentInfo{
		Title:    strings.TrimSpace(pdfCtx.Title),
		Author:   strings.TrimSpace(pdfCtx.Author),
		Subject:  strings.TrimSpace(pdfCtx.Subject),
		Creator:  strings.TrimSpace(pdfCtx.Creator),
		Producer: strings.TrimSpace(pdfCtx.Producer),
	}

	e.logger.Debug("extracted pdf", "pages", pdfCtx.PageCount, "chars", len(res.Body))
	return &core.Extraction{
		Text:      res.Body,
		PageCount: pdfCtx.PageCount,
		Info:      info,
	}, nil
}
