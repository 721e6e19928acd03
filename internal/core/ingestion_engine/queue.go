package ingestion_engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

// ErrQueueFull is returned by Submit when every worker is busy.
var ErrQueueFull = errors.New("ingestion queue is full")

const (
	DefaultJobRetention    = time.Hour
	DefaultMaxFinishedJobs = 1000
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job tracks one asynchronous ingestion.
type Job struct {
	ID        string
	FileName  string
	Status    JobStatus
	Result    *Result
	ErrorKind Kind
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobQueue runs ingestions in the background on a fixed-size ants pool.
// Submissions beyond the pool size are rejected rather than buffered.
// Finished jobs are forgotten after the retention period or once more than
// maxFinished of them are held, oldest first.
type JobQueue struct {
	ingestor Ingestor
	pool     *ants.Pool
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	retention   time.Duration
	maxFinished int

	mu       sync.Mutex
	jobs     map[string]*Job
	finished []string // terminal job ids in completion order
}

type QueueOption func(*JobQueue)

// WithJobRetention sets how long a finished job stays visible to Get.
func WithJobRetention(d time.Duration) QueueOption {
	return func(q *JobQueue) {
		if d > 0 {
			q.retention = d
		}
	}
}

// WithMaxFinishedJobs caps the number of finished jobs kept in memory.
func WithMaxFinishedJobs(n int) QueueOption {
	return func(q *JobQueue) {
		if n > 0 {
			q.maxFinished = n
		}
	}
}

func NewJobQueue(ingestor Ingestor, workers int, logger *slog.Logger, opts ...QueueOption) (*JobQueue, error) {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &JobQueue{
		ingestor:    ingestor,
		pool:        pool,
		logger:      logger.With("component", "job-queue"),
		ctx:         ctx,
		cancel:      cancel,
		retention:   DefaultJobRetention,
		maxFinished: DefaultMaxFinishedJobs,
		jobs:        make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Submit schedules up for ingestion and returns a snapshot of the queued job.
func (q *JobQueue) Submit(up Upload) (Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		FileName:  up.FileName,
		Status:    JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	snapshot := *job
	q.mu.Unlock()

	err := q.pool.Submit(func() { q.run(job.ID, up) })
	if err != nil {
		q.mu.Lock()
		delete(q.jobs, job.ID)
		q.mu.Unlock()
		if errors.Is(err, ants.ErrPoolOverload) || errors.Is(err, ants.ErrPoolClosed) {
			return Job{}, ErrQueueFull
		}
		return Job{}, err
	}

	q.logger.Info("job queued", "jobId", job.ID, "file", up.FileName)
	return snapshot, nil
}

func (q *JobQueue) run(id string, up Upload) {
	q.update(id, func(j *Job) { j.Status = JobRunning })

	res, err := q.ingestor.Ingest(q.ctx, up)

	q.finish(id, func(j *Job) {
		if err != nil {
			j.Status = JobFailed
			j.ErrorKind = KindOf(err)
			j.Error = err.Error()
			var e *Error
			if errors.As(err, &e) {
				j.Error = e.Message
			}
			return
		}
		j.Status = JobSucceeded
		j.Result = res
	})

	if err != nil {
		q.logger.Warn("job failed", "jobId", id, "err", err)
		return
	}
	q.logger.Info("job succeeded", "jobId", id, "documentId", res.Document.ID)
}

func (q *JobQueue) update(id string, fn func(*Job)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j, ok := q.jobs[id]; ok {
		fn(j)
		j.UpdatedAt = time.Now().UTC()
	}
}

// finish applies the terminal update and queues the job for eviction.
func (q *JobQueue) finish(id string, fn func(*Job)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return
	}
	fn(j)
	j.UpdatedAt = time.Now().UTC()
	q.finished = append(q.finished, id)
	q.evictLocked(j.UpdatedAt)
}

// evictLocked drops finished jobs past retention and trims the backlog to maxFinished.
func (q *JobQueue) evictLocked(now time.Time) {
	cutoff := now.Add(-q.retention)
	n := 0
	for n < len(q.finished) {
		j, ok := q.jobs[q.finished[n]]
		if ok && len(q.finished)-n <= q.maxFinished && j.UpdatedAt.After(cutoff) {
			break
		}
		delete(q.jobs, q.finished[n])
		n++
	}
	if n > 0 {
		q.finished = append(q.finished[:0], q.finished[n:]...)
	}
}

// Get returns a snapshot of the job with the given id.
func (q *JobQueue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evictLocked(time.Now().UTC())
	j, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Shutdown waits up to timeout for running jobs, then cancels whatever is still in flight.
func (q *JobQueue) Shutdown(timeout time.Duration) error {
	err := q.pool.ReleaseTimeout(timeout)
	q.cancel()
	return err
}
