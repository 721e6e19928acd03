package ingestion_engine

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// IngestConfig tunes one ingestion run. It is passed explicitly so callers can override
// settings per request.
//
// ChunkSize:         target characters per chunk.
// ChunkOverlap:      characters shared by adjacent chunks.
// BoundaryTolerance: tail fraction of a window searched for a paragraph or sentence break.
// BatchSize:         passages per embedding request.
// Concurrency:       maximum in-flight embedding requests.
// MaxRetries:        extra attempts for a batch after a transient provider error.
// RetryBaseDelay:    first backoff delay; doubles on every retry.
// BatchTimeout:      deadline of one embedding request.
// EmbedDim:          expected vector length.
// MaxUploadBytes:    largest accepted document.
// StoreTimeout:      deadline of the final store write.
type IngestConfig struct {
	ChunkSize         int           `validate:"gt=0"`
	ChunkOverlap      int           `validate:"gte=0,ltfield=ChunkSize"`
	BoundaryTolerance float64       `validate:"gte=0,lt=1"`
	BatchSize         int           `validate:"gte=1"`
	Concurrency       int           `validate:"gte=1"`
	MaxRetries        int           `validate:"gte=0"`
	RetryBaseDelay    time.Duration `validate:"gte=0"`
	BatchTimeout      time.Duration `validate:"gt=0"`
	EmbedDim          int           `validate:"gt=0"`
	MaxUploadBytes    int64         `validate:"gt=0"`
	StoreTimeout      time.Duration `validate:"gt=0"`
}

var validate = validator.New()

// DefaultIngestConfig returns the settings used when nothing is configured.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		ChunkSize:         DefaultChunkSize,
		ChunkOverlap:      DefaultChunkOverlap,
		BoundaryTolerance: DefaultBoundaryTolerance,
		BatchSize:         16,
		Concurrency:       4,
		MaxRetries:        3,
		RetryBaseDelay:    500 * time.Millisecond,
		BatchTimeout:      30 * time.Second,
		EmbedDim:          768,
		MaxUploadBytes:    10 << 20,
		StoreTimeout:      30 * time.Second,
	}
}

// Validate checks the config with go-playground/validator tags.
func (c IngestConfig) Validate() error {
	return validate.Struct(c)
}

func (c IngestConfig) chunker() *Chunker {
	return NewChunker(
		WithChunkSize(c.ChunkSize),
		WithOverlap(c.ChunkOverlap),
		WithBoundaryTolerance(c.BoundaryTolerance),
	)
}
