package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the durable Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool, verifies it, and ensures the schema.
func Connect(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS blood_analyses (
		     id UUID PRIMARY KEY,
		     filename TEXT NOT NULL,
		     query TEXT NOT NULL,
		     variant TEXT NOT NULL,
		     status TEXT NOT NULL,
		     result TEXT,
		     error_detail TEXT,
		     processing_seconds DOUBLE PRECISION,
		     created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		     started_at TIMESTAMPTZ,
		     completed_at TIMESTAMPTZ
		 )`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Create inserts a new analysis record.
func (p *Postgres) Create(ctx context.Context, a Analysis) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO blood_analyses (id, filename, query, variant, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.Filename, a.Query, a.Variant, a.Status, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create analysis: %w", err)
	}
	return nil
}

// MarkRunning transitions a record to running.
func (p *Postgres) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	result, err := p.pool.Exec(ctx,
		`UPDATE blood_analyses SET status = $1, started_at = $2 WHERE id = $3`,
		StatusRunning, startedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark analysis running: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteSuccess writes the succeeded terminal state in one statement.
func (p *Postgres) CompleteSuccess(ctx context.Context, id uuid.UUID, result string, seconds float64, completedAt time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE blood_analyses
		 SET status = $1, result = $2, error_detail = NULL, processing_seconds = $3, completed_at = $4
		 WHERE id = $5`,
		StatusSucceeded, result, seconds, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteFailure writes the failed terminal state in one statement.
func (p *Postgres) CompleteFailure(ctx context.Context, id uuid.UUID, errorDetail string, seconds float64, completedAt time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE blood_analyses
		 SET status = $1, error_detail = $2, result = NULL, processing_seconds = $3, completed_at = $4
		 WHERE id = $5`,
		StatusFailed, errorDetail, seconds, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to record analysis failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a record by ID.
func (p *Postgres) Get(ctx context.Context, id uuid.UUID) (*Analysis, error) {
	var a Analysis
	err := p.pool.QueryRow(ctx,
		`SELECT id, filename, query, variant, status, result, error_detail,
		        processing_seconds, created_at, started_at, completed_at
		 FROM blood_analyses WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.Filename, &a.Query, &a.Variant, &a.Status, &a.Result,
		&a.ErrorDetail, &a.ProcessingSeconds, &a.CreatedAt, &a.StartedAt, &a.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return &a, nil
}

// List retrieves a history page, newest submissions first.
func (p *Postgres) List(ctx context.Context, limit, offset int) (*Page, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	page := &Page{Limit: limit, Offset: offset}
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM blood_analyses`).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count analyses: %w", err)
	}

	rows, err := p.pool.Query(ctx,
		`SELECT id, filename, query, variant, status, result, error_detail,
		        processing_seconds, created_at, started_at, completed_at
		 FROM blood_analyses ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a Analysis
		if err := rows.Scan(&a.ID, &a.Filename, &a.Query, &a.Variant, &a.Status, &a.Result,
			&a.ErrorDetail, &a.ProcessingSeconds, &a.CreatedAt, &a.StartedAt, &a.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		page.Analyses = append(page.Analyses, a)
	}
	// A connection error mid-iteration must not pass off a truncated page as
	// a complete one.
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	return page, nil
}

// Delete removes a record by ID.
func (p *Postgres) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM blood_analyses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete analysis: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats aggregates outcomes in one query.
func (p *Postgres) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	var avg *float64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = $1),
		        COUNT(*) FILTER (WHERE status = $2),
		        AVG(processing_seconds) FILTER (WHERE status = $1 AND processing_seconds IS NOT NULL)
		 FROM blood_analyses`,
		StatusSucceeded, StatusFailed,
	).Scan(&stats.Total, &stats.Succeeded, &stats.Failed, &avg)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	if stats.Total > 0 {
		stats.SuccessRatePercent = float64(stats.Succeeded) / float64(stats.Total) * 100
	}
	if avg != nil {
		stats.AverageSeconds = *avg
	}
	return &stats, nil
}
