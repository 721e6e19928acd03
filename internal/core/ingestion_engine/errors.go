package ingestion_engine

import (
	"errors"
	"fmt"
)

// Kind classifies why an ingestion failed. Every kind is terminal for the request.
type Kind string

const (
	KindInvalidInput           Kind = "INVALID_INPUT"
	KindInvalidFormat          Kind = "INVALID_FORMAT"
	KindExtractionFailed       Kind = "EXTRACTION_FAILED"
	KindNoExtractableText      Kind = "NO_EXTRACTABLE_TEXT"
	KindEmptyDocument          Kind = "EMPTY_DOCUMENT"
	KindEmbeddingProviderError Kind = "EMBEDDING_PROVIDER_ERROR"
	KindStorageError           Kind = "STORAGE_ERROR"
	KindCanceled               Kind = "CANCELED"
)

// Stage is a state of the ingestion state machine.
type Stage string

const (
	StageReceived  Stage = "received"
	StageValidated Stage = "validated"
	StageExtracted Stage = "extracted"
	StageChunked   Stage = "chunked"
	StageEmbedded  Stage = "embedded"
	StageStored    Stage = "stored"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
)

// Error is the typed failure returned by the ingestion pipeline.
// Stage is the stage that was being entered when the failure happened.
type Error struct {
	Kind    Kind
	Stage   Stage
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, stage Stage, msg string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Message: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
