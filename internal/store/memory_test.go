package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(filename string, createdAt time.Time) Analysis {
	return Analysis{
		ID:        uuid.New(),
		Filename:  filename,
		Query:     "Summarize my blood test report",
		Variant:   "quick",
		Status:    StatusQueued,
		CreatedAt: createdAt,
	}
}

func TestCreateAndGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec := newRecord("report.pdf", time.Now().UTC())
	require.NoError(t, m.Create(ctx, rec))

	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.ErrorDetail)
}

func TestGetNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkRunning(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec := newRecord("report.pdf", time.Now().UTC())
	require.NoError(t, m.Create(ctx, rec))

	started := time.Now().UTC()
	require.NoError(t, m.MarkRunning(ctx, rec.ID, started))

	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(started))
}

func TestCompleteSuccessIsAtomic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec := newRecord("report.pdf", time.Now().UTC())
	require.NoError(t, m.Create(ctx, rec))

	done := time.Now().UTC()
	require.NoError(t, m.CompleteSuccess(ctx, rec.ID, "all values within range", 2.5, done))

	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "all values within range", *got.Result)
	assert.Nil(t, got.ErrorDetail, "result and error detail are mutually exclusive")
	require.NotNil(t, got.ProcessingSeconds)
	assert.Equal(t, 2.5, *got.ProcessingSeconds)
	require.NotNil(t, got.CompletedAt)
}

func TestCompleteFailureIsAtomic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec := newRecord("report.pdf", time.Now().UTC())
	require.NoError(t, m.Create(ctx, rec))

	require.NoError(t, m.CompleteFailure(ctx, rec.ID, "verification stage failed", 1.2, time.Now().UTC()))

	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.ErrorDetail)
	assert.Equal(t, "verification stage failed", *got.ErrorDetail)
	assert.Nil(t, got.Result, "result and error detail are mutually exclusive")
}

func TestTerminalWritesOnMissingRecord(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	assert.ErrorIs(t, m.MarkRunning(ctx, uuid.New(), time.Now()), ErrNotFound)
	assert.ErrorIs(t, m.CompleteSuccess(ctx, uuid.New(), "r", 1, time.Now()), ErrNotFound)
	assert.ErrorIs(t, m.CompleteFailure(ctx, uuid.New(), "e", 1, time.Now()), ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := newRecord(fmt.Sprintf("report_%d.pdf", i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, m.Create(ctx, rec))
	}

	page, err := m.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Analyses, 2)
	assert.Equal(t, "report_4.pdf", page.Analyses[0].Filename)
	assert.Equal(t, "report_3.pdf", page.Analyses[1].Filename)

	page, err = m.List(ctx, 2, 4)
	require.NoError(t, err)
	require.Len(t, page.Analyses, 1)
	assert.Equal(t, "report_0.pdf", page.Analyses[0].Filename)

	page, err = m.List(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Analyses)
	assert.Equal(t, 5, page.Total)
}

func TestDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec := newRecord("report.pdf", time.Now().UTC())
	require.NoError(t, m.Create(ctx, rec))

	require.NoError(t, m.Delete(ctx, rec.ID))
	_, err := m.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, m.Delete(ctx, rec.ID), ErrNotFound)
}

func TestStats(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	// 3 succeeded with durations 1.0, 2.0, 3.0 and 1 failed
	for i, seconds := range []float64{1.0, 2.0, 3.0} {
		rec := newRecord(fmt.Sprintf("ok_%d.pdf", i), time.Now().UTC())
		require.NoError(t, m.Create(ctx, rec))
		require.NoError(t, m.CompleteSuccess(ctx, rec.ID, "ok", seconds, time.Now().UTC()))
	}
	failed := newRecord("bad.pdf", time.Now().UTC())
	require.NoError(t, m.Create(ctx, failed))
	require.NoError(t, m.CompleteFailure(ctx, failed.ID, "boom", 0.5, time.Now().UTC()))

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
	assert.InDelta(t, 75.0, stats.SuccessRatePercent, 0.001)
	assert.InDelta(t, 2.0, stats.AverageSeconds, 0.001)
}

func TestStatsEmpty(t *testing.T) {
	stats, err := NewMemory().Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 0.0, stats.SuccessRatePercent)
	assert.Equal(t, 0.0, stats.AverageSeconds)
}

func TestConcurrentWritesToDistinctIDs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const n = 50
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		ids[i] = uuid.New()
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			rec := Analysis{ID: id, Filename: "r.pdf", Query: "q", Variant: "quick", Status: StatusQueued}
			_ = m.Create(ctx, rec)
			_ = m.MarkRunning(ctx, id, time.Now().UTC())
			_ = m.CompleteSuccess(ctx, id, "done", 1.0, time.Now().UTC())
		}(ids[i])
	}
	wg.Wait()

	for _, id := range ids {
		got, err := m.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusSucceeded, got.Status)
	}
	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, stats.Succeeded)
}
