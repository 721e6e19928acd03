package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

// Batcher embeds passages in fixed-size batches with bounded concurrency.
// The limiter is shared by every Batcher that talks to the same provider.
type Batcher struct {
	provider core.EmbeddingProvider
	limiter  *rate.Limiter
	logger   *slog.Logger

	batchSize    int
	concurrency  int
	maxRetries   int
	baseDelay    time.Duration
	batchTimeout time.Duration
	dim          int
}

// NewBatcher builds a batcher for one ingestion run. A nil limiter means no request ceiling.
func NewBatcher(provider core.EmbeddingProvider, limiter *rate.Limiter, cfg IngestConfig, logger *slog.Logger) *Batcher {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		provider:     provider,
		limiter:      limiter,
		logger:       logger,
		batchSize:    max(cfg.BatchSize, 1),
		concurrency:  max(cfg.Concurrency, 1),
		maxRetries:   max(cfg.MaxRetries, 0),
		baseDelay:    cfg.RetryBaseDelay,
		batchTimeout: cfg.BatchTimeout,
		dim:          cfg.EmbedDim,
	}
}

// Embed returns one vector per draft, in draft order.
//
// Requests already sent to the provider are allowed to finish when ctx is canceled, but no new
// ones are started and the results are thrown away. Either every vector is returned or none.
func (b *Batcher) Embed(ctx context.Context, drafts []PassageDraft) ([][]float32, error) {
	if len(drafts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(drafts))

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(b.concurrency)

	// schedCtx ends when the caller aborts or a batch fails; it gates new work only.
	schedCtx, cancelSched := context.WithCancel(ctx)
	defer cancelSched()
	stop := context.AfterFunc(gctx, cancelSched)
	defer stop()

	batches := 0
	for lo := 0; lo < len(drafts); lo += b.batchSize {
		if schedCtx.Err() != nil {
			break
		}
		hi := min(lo+b.batchSize, len(drafts))
		batchNo := batches
		batches++

		g.Go(func() error {
			texts := make([]string, hi-lo)
			for i := range texts {
				texts[i] = drafts[lo+i].Text
			}

			var vecs [][]float32
			log := b.logger.With("batch", batchNo)
			err := retryWithBackoff(schedCtx, log, b.maxRetries+1, b.baseDelay, isTransient, func() error {
				if err := b.limiter.Wait(schedCtx); err != nil {
					return err
				}
				var err error
				vecs, err = b.call(gctx, texts)
				return err
			})
			if err != nil {
				log.Warn("embedding batch failed", "size", len(texts), "err", err)
				return fmt.Errorf("batch %d: %w", batchNo, err)
			}
			copy(vectors[lo:hi], vecs)
			return nil
		})
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return nil, newError(KindCanceled, StageEmbedded, "ingestion canceled during embedding", ctx.Err())
	}
	if err != nil {
		return nil, newError(KindEmbeddingProviderError, StageEmbedded, "embedding failed", err)
	}
	b.logger.Debug("embedded passages", "passages", len(drafts), "batches", batches)
	return vectors, nil
}

// call runs one provider request under the per-batch timeout and checks the response shape.
func (b *Batcher) call(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.batchTimeout)
	defer cancel()

	vecs, err := b.provider.EmbedTexts(callCtx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != b.dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), b.dim)
		}
	}
	return vecs, nil
}

func isTransient(err error) bool {
	return errors.Is(err, core.ErrProviderUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// retryWithBackoff runs operation up to maxAttempts times, sleeping baseDelay * 2^(attempt-1)
// between attempts. Errors for which retryable returns false end the loop immediately.
func retryWithBackoff(ctx context.Context, logger *slog.Logger, maxAttempts int, baseDelay time.Duration, retryable func(error) bool, operation func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				logger.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if !retryable(lastErr) || attempt == maxAttempts {
			break
		}

		logger.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", maxAttempts, "error", lastErr)

		delay := baseDelay << (attempt - 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
