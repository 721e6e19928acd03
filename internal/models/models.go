package models

import (
	"time"
)

// Document represents one ingested source file.
// A Document row is only visible once all of its chunks are stored.
type Document struct {
	ID         string       `db:"id" json:"id"`
	FileName   string       `db:"file_name" json:"file_name"`
	PageCount  int          `db:"page_count" json:"page_count"`
	ChunkCount int          `db:"chunk_count" json:"chunk_count"`
	Info       DocumentInfo `db:"info" json:"info"`
	StorageURL string       `db:"storage_url" json:"storage_url,omitempty"` // S3 URL of the raw upload, if archived
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}

// DocumentInfo is the optional metadata found in the document's info dictionary.
type DocumentInfo struct {
	Title    string `json:"title,omitempty"`
	Author   string `json:"author,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Creator  string `json:"creator,omitempty"`
	Producer string `json:"producer,omitempty"`
}

// DocumentChunk represents one text chunk from a document.
type DocumentChunk struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	Index      int       `db:"chunk_index" json:"index"` // 0-based, contiguous within the document
	Content    string    `db:"content" json:"content"`
	Embedding  []float32 `db:"embedding" json:"embedding,omitempty"` // pgvector column
	CharStart  int       `db:"char_start" json:"char_start"`
	CharEnd    int       `db:"char_end" json:"char_end"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ScoredChunk is a retrieval hit: a chunk plus its cosine similarity to the query.
type ScoredChunk struct {
	DocumentChunk
	Score float32 `json:"score"`
}
