// Package store persists analysis job records and is the source of truth for
// history and statistics.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an analysis record does not exist.
var ErrNotFound = errors.New("analysis not found")

// Status is the persisted lifecycle state of an analysis job.
type Status string

// Job status values. Succeeded and failed are terminal; no record re-enters
// running once terminal.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Analysis is one persisted job record. Result and ErrorDetail are mutually
// exclusive; exactly one is set once the status is terminal.
type Analysis struct {
	ID                uuid.UUID  `json:"id"`
	Filename          string     `json:"filename"`
	Query             string     `json:"query"`
	Variant           string     `json:"variant"`
	Status            Status     `json:"status"`
	Result            *string    `json:"result,omitempty"`
	ErrorDetail       *string    `json:"error_detail,omitempty"`
	ProcessingSeconds *float64   `json:"processing_seconds,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// Page is one page of analysis history, newest submissions first.
type Page struct {
	Analyses []Analysis `json:"analyses"`
	Total    int        `json:"total_count"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}

// Stats aggregates outcomes across all records. AverageSeconds covers only
// succeeded records with a recorded duration and is 0 when there are none.
type Stats struct {
	Total              int     `json:"total_analyses"`
	Succeeded          int     `json:"completed_analyses"`
	Failed             int     `json:"failed_analyses"`
	SuccessRatePercent float64 `json:"success_rate"`
	AverageSeconds     float64 `json:"average_processing_time"`
}

// Store persists analysis records. The terminal write is a single atomic call
// (CompleteSuccess or CompleteFailure) so a terminal record can never hold
// neither result nor error. Writes to different IDs never block each other;
// only one worker ever owns a given job, so same-ID writes are last-write-wins.
type Store interface {
	// Create inserts a new record; the caller supplies the job ID.
	Create(ctx context.Context, a Analysis) error
	// MarkRunning transitions a record to running and stamps its start time.
	MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	// CompleteSuccess atomically writes the succeeded terminal state.
	CompleteSuccess(ctx context.Context, id uuid.UUID, result string, seconds float64, completedAt time.Time) error
	// CompleteFailure atomically writes the failed terminal state.
	CompleteFailure(ctx context.Context, id uuid.UUID, errorDetail string, seconds float64, completedAt time.Time) error
	// Get returns a record or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Analysis, error)
	// List returns a page ordered by submission time, descending.
	List(ctx context.Context, limit, offset int) (*Page, error)
	// Delete removes a record (administrative operation) or returns ErrNotFound.
	Delete(ctx context.Context, id uuid.UUID) error
	// Stats aggregates outcome counts and durations.
	Stats(ctx context.Context) (*Stats, error)
	// Close releases any underlying resources.
	Close()
}
