package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store used when no database is configured and by
// tests. A single RWMutex guards the map; record writes are scoped to one ID
// so contention across jobs is limited to map access.
type Memory struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Analysis
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[uuid.UUID]*Analysis)}
}

// Create inserts a new record keyed by its ID.
func (m *Memory) Create(_ context.Context, a Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.records[a.ID] = &a
	return nil
}

// MarkRunning transitions a record to running.
func (m *Memory) MarkRunning(_ context.Context, id uuid.UUID, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = StatusRunning
	rec.StartedAt = &startedAt
	return nil
}

// CompleteSuccess writes the succeeded terminal state in one step.
func (m *Memory) CompleteSuccess(_ context.Context, id uuid.UUID, result string, seconds float64, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = StatusSucceeded
	rec.Result = &result
	rec.ErrorDetail = nil
	rec.ProcessingSeconds = &seconds
	rec.CompletedAt = &completedAt
	return nil
}

// CompleteFailure writes the failed terminal state in one step.
func (m *Memory) CompleteFailure(_ context.Context, id uuid.UUID, errorDetail string, seconds float64, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = StatusFailed
	rec.ErrorDetail = &errorDetail
	rec.Result = nil
	rec.ProcessingSeconds = &seconds
	rec.CompletedAt = &completedAt
	return nil
}

// Get returns a copy of the record or ErrNotFound.
func (m *Memory) Get(_ context.Context, id uuid.UUID) (*Analysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

// List returns records newest first.
func (m *Memory) List(_ context.Context, limit, offset int) (*Page, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	m.mu.RLock()
	all := make([]Analysis, 0, len(m.records))
	for _, rec := range m.records {
		all = append(all, *rec)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	page := &Page{Total: len(all), Limit: limit, Offset: offset}
	if offset >= len(all) {
		return page, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	page.Analyses = all[offset:end]
	return page, nil
}

// Delete removes a record or returns ErrNotFound.
func (m *Memory) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

// Stats aggregates outcomes over all records.
func (m *Memory) Stats(_ context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{Total: len(m.records)}
	var durationSum float64
	var durationCount int
	for _, rec := range m.records {
		switch rec.Status {
		case StatusSucceeded:
			stats.Succeeded++
			if rec.ProcessingSeconds != nil {
				durationSum += *rec.ProcessingSeconds
				durationCount++
			}
		case StatusFailed:
			stats.Failed++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRatePercent = float64(stats.Succeeded) / float64(stats.Total) * 100
	}
	if durationCount > 0 {
		stats.AverageSeconds = durationSum / float64(durationCount)
	}
	return stats, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() {}
