package ingestion_engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-ingest/internal/models"
)

type stubIngestor struct {
	block chan struct{}
	err   error
}

func (s *stubIngestor) Ingest(ctx context.Context, up Upload) (*Result, error) {
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return nil, s.err
	}
	return &Result{Document: &models.Document{ID: "doc-1", FileName: up.FileName}, ChunkCount: 2}, nil
}

func newQueue(t *testing.T, ing Ingestor, workers int) *JobQueue {
	t.Helper()
	q, err := NewJobQueue(ing, workers, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Shutdown(time.Second) })
	return q
}

func TestJobQueue_RunsJobToCompletion(t *testing.T) {
	q := newQueue(t, &stubIngestor{}, 2)

	job, err := q.Submit(Upload{FileName: "a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, JobQueued, job.Status)
	assert.NotEmpty(t, job.ID)

	require.Eventually(t, func() bool {
		j, ok := q.Get(job.ID)
		return ok && j.Status == JobSucceeded
	}, 2*time.Second, 5*time.Millisecond)

	j, _ := q.Get(job.ID)
	require.NotNil(t, j.Result)
	assert.Equal(t, "doc-1", j.Result.Document.ID)
	assert.Equal(t, 2, j.Result.ChunkCount)
}

func TestJobQueue_RecordsFailureKind(t *testing.T) {
	q := newQueue(t, &stubIngestor{err: newError(KindEmptyDocument, StageChunked, "document produced no chunks", nil)}, 1)

	job, err := q.Submit(Upload{FileName: "empty.pdf"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, _ := q.Get(job.ID)
		return j.Status == JobFailed
	}, 2*time.Second, 5*time.Millisecond)

	j, _ := q.Get(job.ID)
	assert.Equal(t, KindEmptyDocument, j.ErrorKind)
	assert.Equal(t, "document produced no chunks", j.Error)
	assert.Nil(t, j.Result)
}

func TestJobQueue_RejectsWhenWorkersAreBusy(t *testing.T) {
	block := make(chan struct{})
	q := newQueue(t, &stubIngestor{block: block}, 1)

	first, err := q.Submit(Upload{FileName: "a.pdf"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, _ := q.Get(first.ID)
		return j.Status == JobRunning
	}, 2*time.Second, 5*time.Millisecond)

	_, err = q.Submit(Upload{FileName: "b.pdf"})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(block)
	require.Eventually(t, func() bool {
		j, _ := q.Get(first.ID)
		return j.Status == JobSucceeded
	}, 2*time.Second, 5*time.Millisecond)
}

func TestJobQueue_UnknownJob(t *testing.T) {
	q := newQueue(t, &stubIngestor{}, 1)
	_, ok := q.Get("missing")
	assert.False(t, ok)
}

func waitFinished(t *testing.T, q *JobQueue, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		j, ok := q.jobs[id]
		return !ok || j.Status == JobSucceeded || j.Status == JobFailed
	}, 2*time.Second, 5*time.Millisecond)
}

func TestJobQueue_EvictsOldestFinishedJobs(t *testing.T) {
	q, err := NewJobQueue(&stubIngestor{}, 4, nil, WithMaxFinishedJobs(2))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Shutdown(time.Second) })

	var ids []string
	for i := 0; i < 4; i++ {
		job, err := q.Submit(Upload{FileName: "a.pdf"})
		require.NoError(t, err)
		waitFinished(t, q, job.ID)
		ids = append(ids, job.ID)
	}

	_, ok := q.Get(ids[0])
	assert.False(t, ok)
	_, ok = q.Get(ids[1])
	assert.False(t, ok)
	for _, id := range ids[2:] {
		j, ok := q.Get(id)
		require.True(t, ok)
		assert.Equal(t, JobSucceeded, j.Status)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Len(t, q.jobs, 2)
	assert.Len(t, q.finished, 2)
}

func TestJobQueue_ForgetsFinishedJobsAfterRetention(t *testing.T) {
	q, err := NewJobQueue(&stubIngestor{}, 1, nil, WithJobRetention(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Shutdown(time.Second) })

	job, err := q.Submit(Upload{FileName: "a.pdf"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := q.Get(job.ID)
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Empty(t, q.jobs)
	assert.Empty(t, q.finished)
}

func TestJobQueue_KeepsRunningJobsRegardlessOfRetention(t *testing.T) {
	block := make(chan struct{})
	q, err := NewJobQueue(&stubIngestor{block: block}, 1, nil, WithJobRetention(time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Shutdown(time.Second) })

	job, err := q.Submit(Upload{FileName: "slow.pdf"})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, ok := q.Get(job.ID)
	assert.True(t, ok)
	close(block)
}
