// Package queue provides the in-process asynchronous execution queue: a
// bounded job channel drained by a fixed worker pool, with mutex-guarded task
// state that callers poll by task ID.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/bloodwork-analyzer/internal/pipeline"
)

// State is the lifecycle state of a queued task.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

var (
	// ErrTaskNotFound is returned when no task exists for the given ID.
	ErrTaskNotFound = errors.New("task not found")
	// ErrQueueClosed is returned for submissions after shutdown began.
	ErrQueueClosed = errors.New("queue is shut down")
	// ErrQueueFull is returned when the job buffer has no capacity.
	ErrQueueFull = errors.New("queue is full")
)

// JobRunner executes one job to its terminal outcome.
type JobRunner interface {
	Run(ctx context.Context, job pipeline.Job, onProgress pipeline.ProgressFunc) pipeline.Outcome
}

// TaskStatus is a point-in-time snapshot of a queued task. Terminal snapshots
// are stable: once completed or failed, repeated polls return the same value.
type TaskStatus struct {
	TaskID      uuid.UUID         `json:"task_id"`
	State       State             `json:"state"`
	Progress    string            `json:"progress,omitempty"`
	Outcome     *pipeline.Outcome `json:"outcome,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Terminal reports whether the task reached a final state.
func (s TaskStatus) Terminal() bool {
	return s.State == StateCompleted || s.State == StateFailed
}

const defaultBuffer = 64

// Queue owns the worker pool and the task table. Task IDs are the job IDs, so
// the queue's task records and the persistent analysis records share keys.
type Queue struct {
	runner  JobRunner
	workers int

	mu     sync.RWMutex
	tasks  map[uuid.UUID]*TaskStatus
	closed bool

	jobs chan pipeline.Job
	wg   sync.WaitGroup
}

// New creates a queue with the given worker count. Workers do not run until
// Start is called.
func New(runner JobRunner, workers int) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		runner:  runner,
		workers: workers,
		tasks:   make(map[uuid.UUID]*TaskStatus),
		jobs:    make(chan pipeline.Job, defaultBuffer),
	}
}

// Start launches the worker pool. The context bounds every job run.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Submit enqueues a job for background execution and registers it as pending.
// Submission never blocks: when the buffer is full the task registration is
// rolled back and ErrQueueFull is returned so the caller can reject upfront.
func (q *Queue) Submit(job pipeline.Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	now := time.Now().UTC()
	q.tasks[job.ID] = &TaskStatus{
		TaskID:      job.ID,
		State:       StatePending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return nil
	default:
		q.mu.Lock()
		delete(q.tasks, job.ID)
		q.mu.Unlock()
		return ErrQueueFull
	}
}

// Status returns a snapshot of the task, or ErrTaskNotFound.
func (q *Queue) Status(id uuid.UUID) (TaskStatus, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	task, ok := q.tasks[id]
	if !ok {
		return TaskStatus{}, ErrTaskNotFound
	}
	return *task, nil
}

// SetProgress records the latest progress message for a processing task.
// Updates for unknown or terminal tasks are dropped.
func (q *Queue) SetProgress(id uuid.UUID, message string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok || task.State != StateProcessing {
		return
	}
	task.Progress = message
	task.UpdatedAt = time.Now().UTC()
}

// Shutdown stops accepting submissions, drains queued jobs, and waits for the
// workers to finish.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.jobs)
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for job := range q.jobs {
		q.transition(job.ID, StateProcessing, nil)
		outcome := q.runner.Run(ctx, job, func(ev pipeline.ProgressEvent) {
			q.SetProgress(ev.JobID, ev.Message)
		})
		state := StateCompleted
		if !outcome.Succeeded() {
			state = StateFailed
		}
		q.transition(job.ID, state, &outcome)
	}
}

func (q *Queue) transition(id uuid.UUID, state State, outcome *pipeline.Outcome) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return
	}
	task.State = state
	task.Outcome = outcome
	task.UpdatedAt = time.Now().UTC()
	if outcome != nil {
		task.Progress = ""
	}
}
