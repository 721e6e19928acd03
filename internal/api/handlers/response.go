package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	ingest "github.com/markdave123-py/contexta-ingest/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-ingest/internal/services"
)

const (
	codeNotFound     = "NOT_FOUND"
	codeQueueFull    = "QUEUE_FULL"
	codeInternal     = "INTERNAL_ERROR"
	codeProviderDown = "EMBEDDING_PROVIDER_ERROR"
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Metrics any        `json:"metrics,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Error: &errorBody{Message: message, Code: code}})
}

// ingestStatus maps a failure kind onto its HTTP status.
var ingestStatus = map[ingest.Kind]int{
	ingest.KindInvalidInput:           http.StatusBadRequest,
	ingest.KindInvalidFormat:          http.StatusBadRequest,
	ingest.KindExtractionFailed:       http.StatusUnprocessableEntity,
	ingest.KindNoExtractableText:      http.StatusUnprocessableEntity,
	ingest.KindEmptyDocument:          http.StatusUnprocessableEntity,
	ingest.KindEmbeddingProviderError: http.StatusBadGateway,
	ingest.KindStorageError:           http.StatusInternalServerError,
	ingest.KindCanceled:               http.StatusServiceUnavailable,
}

// writeFailure turns any error from the service layer into the error envelope.
func writeFailure(w http.ResponseWriter, err error) {
	var ie *ingest.Error
	switch {
	case errors.As(err, &ie):
		status, ok := ingestStatus[ie.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		writeError(w, status, string(ie.Kind), ie.Message)
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "document not found")
	case errors.Is(err, ingest.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, codeQueueFull, "ingestion queue is full, retry later")
	case errors.Is(err, services.ErrNoArchive):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, services.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, string(ingest.KindInvalidInput), err.Error())
	case errors.Is(err, core.ErrProviderUnavailable):
		writeError(w, http.StatusBadGateway, codeProviderDown, "embedding provider unavailable")
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
