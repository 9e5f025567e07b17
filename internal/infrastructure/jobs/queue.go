// Package jobs defines the background job port the dispatch layer enqueues
// into, plus an in-memory adapter used by the worker command and tests. The
// durable production queue is an external collaborator.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Job is one unit of deferred work.
type Job struct {
	ID     string
	Type   string
	Params map[string]string
}

// NewJob creates a job with a fresh id.
func NewJob(jobType string, params map[string]string) Job {
	return Job{ID: uuid.NewString(), Type: jobType, Params: params}
}

// Queue accepts jobs for background execution.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// HandlerFunc executes one job. A returned error fails the job; retry and
// backoff policy belong to the queue, not the handler.
type HandlerFunc func(ctx context.Context, job Job) error

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("job queue closed")

// InMemoryQueue is a single-process queue with one sequential worker per
// Run call. Parallelism exists across workers, never within one job.
type InMemoryQueue struct {
	jobs    chan Job
	logger  *slog.Logger
	mu      sync.Mutex
	closed  bool
	handler HandlerFunc
}

// NewInMemoryQueue creates a queue with the given buffer size.
func NewInMemoryQueue(buffer int, handler HandlerFunc, logger *slog.Logger) *InMemoryQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryQueue{
		jobs:    make(chan Job, buffer),
		logger:  logger,
		handler: handler,
	}
}

// Enqueue submits a job. It blocks when the buffer is full.
func (q *InMemoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes jobs until the context is cancelled.
func (q *InMemoryQueue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-q.jobs:
			if !ok {
				return nil
			}
			if err := q.handler(ctx, job); err != nil {
				q.logger.Error("job failed",
					"job_id", job.ID,
					"job_type", job.Type,
					"error", err)
				continue
			}
			q.logger.Debug("job completed", "job_id", job.ID, "job_type", job.Type)
		}
	}
}

// Close stops accepting new jobs.
func (q *InMemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

// ParamStore is an in-memory job parameter store. It implements the
// engine's JobParameterStore port for the worker command and tests.
type ParamStore struct {
	mu     sync.RWMutex
	params map[string]map[string]string
}

// NewParamStore creates an empty store.
func NewParamStore() *ParamStore {
	return &ParamStore{params: make(map[string]map[string]string)}
}

func (s *ParamStore) Get(ctx context.Context, jobID, name string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.params[jobID][name]
	return v, ok, nil
}

func (s *ParamStore) Set(ctx context.Context, jobID, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.params[jobID] == nil {
		s.params[jobID] = make(map[string]string)
	}
	s.params[jobID][name] = value
	return nil
}
