package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	ingest "github.com/markdave123-py/contexta-ingest/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-ingest/internal/models"
	"github.com/markdave123-py/contexta-ingest/internal/services"
)

// multipartOverhead is the room allowed for multipart headers on top of the file itself.
const multipartOverhead = 64 << 10

// JobQueue is the asynchronous side of ingestion.
type JobQueue interface {
	Submit(up ingest.Upload) (ingest.Job, error)
	Get(id string) (ingest.Job, bool)
}

type DocumentHandler struct {
	ingestor  ingest.Ingestor
	jobs      JobQueue
	documents *services.DocumentService
	maxUpload int64
	logger    *slog.Logger
}

// NewDocumentHandler wires the document routes. jobs may be nil, which disables ?mode=async.
func NewDocumentHandler(ing ingest.Ingestor, jobs JobQueue, documents *services.DocumentService, maxUpload int64) *DocumentHandler {
	return &DocumentHandler{
		ingestor:  ing,
		jobs:      jobs,
		documents: documents,
		maxUpload: maxUpload,
		logger:    slog.Default().With("component", "document-handler"),
	}
}

type ingestData struct {
	DocumentID   string              `json:"documentId"`
	FileName     string              `json:"fileName"`
	PageCount    int                 `json:"pageCount"`
	ChunkCount   int                 `json:"chunkCount"`
	DocumentInfo models.DocumentInfo `json:"documentInfo"`
}

type ingestMetrics struct {
	TotalTimeMs int64        `json:"totalTimeMs"`
	Timings     stageTimings `json:"timings"`
}

type stageTimings struct {
	ExtractionMs int64 `json:"extractionMs"`
	ChunkingMs   int64 `json:"chunkingMs"`
	EmbeddingMs  int64 `json:"embeddingMs"`
	StorageMs    int64 `json:"storageMs"`
}

type jobData struct {
	JobID     string      `json:"jobId"`
	Status    string      `json:"status"`
	FileName  string      `json:"fileName"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
	Result    *ingestData `json:"result,omitempty"`
	Error     *errorBody  `json:"error,omitempty"`
}

func toIngestData(res *ingest.Result) *ingestData {
	return &ingestData{
		DocumentID:   res.Document.ID,
		FileName:     res.Document.FileName,
		PageCount:    res.PageCount,
		ChunkCount:   res.ChunkCount,
		DocumentInfo: res.Document.Info,
	}
}

func toJobData(j ingest.Job) jobData {
	out := jobData{
		JobID:     j.ID,
		Status:    string(j.Status),
		FileName:  j.FileName,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Result != nil {
		out.Result = toIngestData(j.Result)
	}
	if j.Status == ingest.JobFailed {
		out.Error = &errorBody{Message: j.Error, Code: string(j.ErrorKind)}
	}
	return out
}

// Ingest accepts exactly one PDF in the multipart field "file" and runs the pipeline.
// With ?mode=async the document is queued and 202 is returned with a job id.
func (h *DocumentHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	up, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("mode") == "async" {
		if h.jobs == nil {
			writeError(w, http.StatusBadRequest, string(ingest.KindInvalidInput), "async ingestion is not enabled")
			return
		}
		job, err := h.jobs.Submit(up)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeData(w, http.StatusAccepted, toJobData(job))
		return
	}

	res, err := h.ingestor.Ingest(r.Context(), up)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, envelope{
		Success: true,
		Data:    toIngestData(res),
		Metrics: ingestMetrics{
			TotalTimeMs: res.Timings.Total.Milliseconds(),
			Timings: stageTimings{
				ExtractionMs: res.Timings.Extraction.Milliseconds(),
				ChunkingMs:   res.Timings.Chunking.Milliseconds(),
				EmbeddingMs:  res.Timings.Embedding.Milliseconds(),
				StorageMs:    res.Timings.Storage.Milliseconds(),
			},
		},
	})
}

// readUpload streams the multipart body and enforces the size ceiling and the one-file rule.
func (h *DocumentHandler) readUpload(w http.ResponseWriter, r *http.Request) (ingest.Upload, bool) {
	invalid := func(msg string) (ingest.Upload, bool) {
		writeError(w, http.StatusBadRequest, string(ingest.KindInvalidInput), msg)
		return ingest.Upload{}, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		return invalid("request must be multipart/form-data")
	}

	var (
		up    ingest.Upload
		found bool
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return invalid(uploadErrorMessage(err))
		}

		if part.FileName() == "" {
			_, _ = io.Copy(io.Discard, part)
			part.Close()
			continue
		}
		if part.FormName() != "file" {
			part.Close()
			return invalid("unexpected file field " + strconv.Quote(part.FormName()))
		}
		if found {
			part.Close()
			return invalid("exactly one file is allowed per request")
		}

		data, err := io.ReadAll(io.LimitReader(part, h.maxUpload+1))
		part.Close()
		if err != nil {
			return invalid(uploadErrorMessage(err))
		}
		if int64(len(data)) > h.maxUpload {
			return invalid("file exceeds the " + strconv.FormatInt(h.maxUpload, 10) + " byte limit")
		}

		up = ingest.Upload{
			FileName:    filepath.Base(part.FileName()),
			ContentType: part.Header.Get("Content-Type"),
			Data:        data,
		}
		found = true
	}

	if !found {
		return invalid(`missing file field "file"`)
	}
	return up, true
}

func uploadErrorMessage(err error) string {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return "request body exceeds the upload limit"
	}
	return "malformed multipart body"
}

func (h *DocumentHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "job not found")
		return
	}
	job, ok := h.jobs.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, "job not found")
		return
	}
	writeData(w, http.StatusOK, toJobData(job))
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	docs, err := h.documents.List(r.Context(), limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeData(w, http.StatusOK, docs)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.Get(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, doc)
}

func (h *DocumentHandler) GetChunks(w http.ResponseWriter, r *http.Request) {
	chunks, err := h.documents.Chunks(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if chunks == nil {
		chunks = []models.DocumentChunk{}
	}
	writeData(w, http.StatusOK, chunks)
}

// GetSource streams back the archived upload.
func (h *DocumentHandler) GetSource(w http.ResponseWriter, r *http.Request) {
	doc, raw, err := h.documents.Source(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.FileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(raw); err != nil {
		h.logger.Warn("failed to write archived upload", "documentId", doc.ID, "err", err)
	}
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	if err := h.documents.Delete(r.Context(), id); err != nil {
		writeFailure(w, err)
		return
	}
	h.logger.Info("document deleted", "documentId", id)
	w.WriteHeader(http.StatusNoContent)
}
