package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/bloodwork-analyzer/internal/artifacts"
	"github.com/jonathan/bloodwork-analyzer/internal/pipeline"
	"github.com/jonathan/bloodwork-analyzer/internal/queue"
	"github.com/jonathan/bloodwork-analyzer/internal/store"
)

// stubRunner returns a canned outcome and remembers the last job it ran.
type stubRunner struct {
	mu      sync.Mutex
	lastJob pipeline.Job
	outcome pipeline.Outcome
}

func (s *stubRunner) Run(_ context.Context, job pipeline.Job, _ pipeline.ProgressFunc) pipeline.Outcome {
	s.mu.Lock()
	s.lastJob = job
	s.mu.Unlock()
	out := s.outcome
	out.JobID = job.ID
	return out
}

// stubQueue records submissions and serves canned task statuses.
type stubQueue struct {
	mu        sync.Mutex
	submitted []pipeline.Job
	submitErr error
	statuses  map[uuid.UUID]queue.TaskStatus
}

func newStubQueue() *stubQueue {
	return &stubQueue{statuses: make(map[uuid.UUID]queue.TaskStatus)}
}

func (s *stubQueue) Submit(job pipeline.Job) error {
	if s.submitErr != nil {
		return s.submitErr
	}
	s.mu.Lock()
	s.submitted = append(s.submitted, job)
	s.mu.Unlock()
	return nil
}

func (s *stubQueue) Status(id uuid.UUID) (queue.TaskStatus, error) {
	status, ok := s.statuses[id]
	if !ok {
		return queue.TaskStatus{}, queue.ErrTaskNotFound
	}
	return status, nil
}

type testEnv struct {
	server *Server
	mux    *http.ServeMux
	store  *store.Memory
	files  *artifacts.Store
	runner *stubRunner
	queue  *stubQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	files, err := artifacts.NewStore(t.TempDir())
	require.NoError(t, err)
	st := store.NewMemory()
	runner := &stubRunner{outcome: pipeline.Outcome{
		Status:            store.StatusSucceeded,
		Result:            "Your results look normal.",
		ProcessingSeconds: 1.5,
	}}
	q := newStubQueue()
	srv := New(Config{Port: 0}, st, files, runner, q)
	return &testEnv{server: srv, mux: srv.routes(), store: st, files: files, runner: runner, queue: q}
}

// multipartBody builds an upload form. A nil fields map sends only the file.
func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doRequest(env *testEnv, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAnalyzeSyncSuccess(t *testing.T) {
	env := newTestEnv(t)
	buf, contentType := multipartBody(t, "report.pdf", []byte("%PDF-1.4 data"), map[string]string{
		"query": "Is my cholesterol high?",
	})
	req := httptest.NewRequest(http.MethodPost, "/analyze", buf)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(env, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Your results look normal.", body["analysis"])
	assert.Equal(t, "Is my cholesterol high?", body["query"])
	assert.Equal(t, "report.pdf", body["file_processed"])
	assert.NotEmpty(t, body["analysis_id"])

	env.runner.mu.Lock()
	defer env.runner.mu.Unlock()
	assert.Equal(t, pipeline.VariantQuick, env.runner.lastJob.Variant)

	// The upload was recorded before execution.
	rec2, err := env.store.Get(context.Background(), env.runner.lastJob.ID)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", rec2.Filename)
}

func TestAnalyzeSyncFailure(t *testing.T) {
	env := newTestEnv(t)
	env.runner.outcome = pipeline.Outcome{
		Status:      store.StatusFailed,
		ErrorDetail: "stage summary: model unavailable",
	}
	buf, contentType := multipartBody(t, "report.pdf", []byte("%PDF-1.4 data"), nil)
	req := httptest.NewRequest(http.MethodPost, "/analyze", buf)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(env, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "stage summary: model unavailable", body["error"])
}

func TestAnalyzeMissingFile(t *testing.T) {
	env := newTestEnv(t)
	buf, contentType := multipartBody(t, "", nil, map[string]string{"query": "q"})
	req := httptest.NewRequest(http.MethodPost, "/analyze", buf)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(env, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeRejectsNonPDF(t *testing.T) {
	env := newTestEnv(t)
	buf, contentType := multipartBody(t, "report.txt", []byte("plain text"), nil)
	req := httptest.NewRequest(http.MethodPost, "/analyze", buf)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(env, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeRejectsBadMode(t *testing.T) {
	env := newTestEnv(t)
	buf, contentType := multipartBody(t, "report.pdf", []byte("%PDF-1.4 data"), map[string]string{
		"mode": "extreme",
	})
	req := httptest.NewRequest(http.MethodPost, "/analyze", buf)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(env, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeAsyncAccepted(t *testing.T) {
	env := newTestEnv(t)
	buf, contentType := multipartBody(t, "report.pdf", []byte("%PDF-1.4 data"), map[string]string{
		"async_processing": "true",
	})
	req := httptest.NewRequest(http.MethodPost, "/analyze", buf)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(env, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "queued", body["status"])
	assert.NotEmpty(t, body["task_id"])

	require.Len(t, env.queue.submitted, 1)
	assert.Equal(t, pipeline.VariantQuick, env.queue.submitted[0].Variant)
	assert.Equal(t, body["task_id"], env.queue.submitted[0].ID.String())
}

func TestAnalyzeComprehensiveAlwaysAsync(t *testing.T) {
	env := newTestEnv(t)
	// A quick mode field is ignored on the comprehensive endpoint.
	buf, contentType := multipartBody(t, "report.pdf", []byte("%PDF-1.4 data"), map[string]string{
		"mode": "quick",
	})
	req := httptest.NewRequest(http.MethodPost, "/analyze/comprehensive", buf)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(env, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "comprehensive", body["mode"])

	require.Len(t, env.queue.submitted, 1)
	assert.Equal(t, pipeline.VariantComprehensive, env.queue.submitted[0].Variant)
}

func TestAnalyzeQueueFull(t *testing.T) {
	env := newTestEnv(t)
	env.queue.submitErr = queue.ErrQueueFull
	buf, contentType := multipartBody(t, "report.pdf", []byte("%PDF-1.4 data"), map[string]string{
		"async_processing": "true",
	})
	req := httptest.NewRequest(http.MethodPost, "/analyze", buf)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(env, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The rejected upload leaves no file behind and the record is failed.
	entries, err := os.ReadDir(env.files.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)

	page, err := env.store.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Analyses, 1)
	assert.Equal(t, store.StatusFailed, page.Analyses[0].Status)
}

func TestTaskStatusProcessing(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.New()
	env.queue.statuses[id] = queue.TaskStatus{
		TaskID:   id,
		State:    queue.StateProcessing,
		Progress: "Running medical_analysis stage...",
	}

	rec := doRequest(env, httptest.NewRequest(http.MethodGet, "/task/"+id.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "processing", body["status"])
	assert.Equal(t, "Running medical_analysis stage...", body["progress"])
}

func TestTaskStatusCompleted(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.New()
	env.queue.statuses[id] = queue.TaskStatus{
		TaskID: id,
		State:  queue.StateCompleted,
		Outcome: &pipeline.Outcome{
			JobID:             id,
			Status:            store.StatusSucceeded,
			Result:            "consolidated report",
			ProcessingSeconds: 4.2,
		},
	}

	rec := doRequest(env, httptest.NewRequest(http.MethodGet, "/task/"+id.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "consolidated report", body["result"])
	assert.InDelta(t, 4.2, body["processing_time"], 0.001)
}

func TestTaskStatusNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := doRequest(env, httptest.NewRequest(http.MethodGet, "/task/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskStatusBadID(t *testing.T) {
	env := newTestEnv(t)
	rec := doRequest(env, httptest.NewRequest(http.MethodGet, "/task/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func seedAnalysis(t *testing.T, env *testEnv, status store.Status) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, env.store.Create(context.Background(), store.Analysis{
		ID:       id,
		Filename: "report.pdf",
		Query:    "q",
		Variant:  "quick",
		Status:   store.StatusQueued,
	}))
	switch status {
	case store.StatusSucceeded:
		require.NoError(t, env.store.CompleteSuccess(context.Background(), id, "done", 1.0, time.Now().UTC()))
	case store.StatusFailed:
		require.NoError(t, env.store.CompleteFailure(context.Background(), id, "boom", 1.0, time.Now().UTC()))
	}
	return id
}

func TestListAnalyses(t *testing.T) {
	env := newTestEnv(t)
	seedAnalysis(t, env, store.StatusSucceeded)
	seedAnalysis(t, env, store.StatusFailed)
	seedAnalysis(t, env, store.StatusQueued)

	rec := doRequest(env, httptest.NewRequest(http.MethodGet, "/analyses?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 3, body["total_count"])
	assert.Len(t, body["analyses"], 2)
}

func TestGetAnalysis(t *testing.T) {
	env := newTestEnv(t)
	id := seedAnalysis(t, env, store.StatusSucceeded)

	rec := doRequest(env, httptest.NewRequest(http.MethodGet, "/analyses/"+id.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, id.String(), body["id"])
	assert.Equal(t, "succeeded", body["status"])

	rec = doRequest(env, httptest.NewRequest(http.MethodGet, "/analyses/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAnalysis(t *testing.T) {
	env := newTestEnv(t)
	id := seedAnalysis(t, env, store.StatusSucceeded)

	rec := doRequest(env, httptest.NewRequest(http.MethodDelete, "/analyses/"+id.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(env, httptest.NewRequest(http.MethodDelete, "/analyses/"+id.String(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	seedAnalysis(t, env, store.StatusSucceeded)
	seedAnalysis(t, env, store.StatusFailed)

	rec := doRequest(env, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["total_analyses"])
	assert.EqualValues(t, 1, body["completed_analyses"])
	assert.EqualValues(t, 1, body["failed_analyses"])
	assert.InDelta(t, 50.0, body["success_rate"], 0.001)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := doRequest(env, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}
