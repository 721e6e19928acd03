package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	ingest "github.com/markdave123-py/contexta-ingest/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-ingest/internal/services"
)

type SearchHandler struct {
	documents *services.DocumentService
	validate  *validator.Validate
}

func NewSearchHandler(documents *services.DocumentService) *SearchHandler {
	return &SearchHandler{documents: documents, validate: validator.New()}
}

type SearchRequest struct {
	Query      string `json:"query" validate:"required"`
	DocumentID string `json:"documentId" validate:"omitempty,uuid"`
	Limit      int    `json:"limit" validate:"gte=0,lte=50"`
}

type searchHit struct {
	ChunkID    string  `json:"chunkId"`
	DocumentID string  `json:"documentId"`
	Index      int     `json:"index"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
}

// Search embeds the query and returns the closest chunks.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(ingest.KindInvalidInput), "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, string(ingest.KindInvalidInput), err.Error())
		return
	}

	chunks, err := h.documents.Search(r.Context(), req.Query, req.DocumentID, req.Limit)
	if err != nil {
		writeFailure(w, err)
		return
	}

	hits := make([]searchHit, 0, len(chunks))
	for _, ch := range chunks {
		hits = append(hits, searchHit{
			ChunkID:    ch.ID,
			DocumentID: ch.DocumentID,
			Index:      ch.Index,
			Content:    ch.Content,
			Score:      ch.Score,
		})
	}
	writeData(w, http.StatusOK, map[string]any{"results": hits})
}
