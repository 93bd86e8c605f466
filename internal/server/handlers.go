package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/bloodwork-analyzer/internal/artifacts"
	"github.com/jonathan/bloodwork-analyzer/internal/pipeline"
	"github.com/jonathan/bloodwork-analyzer/internal/queue"
	"github.com/jonathan/bloodwork-analyzer/internal/store"
)

// maxUploadBytes bounds the multipart form size for report uploads.
const maxUploadBytes = 32 << 20

// analyzeForm represents the multipart form fields for /analyze
type analyzeForm struct {
	Query string `validate:"omitempty,max=4000"`
	Mode  string `validate:"required,oneof=quick comprehensive"`
}

// AnalyzeResponse represents the synchronous response for /analyze
type AnalyzeResponse struct {
	Status         string  `json:"status"`
	AnalysisID     string  `json:"analysis_id"`
	Query          string  `json:"query"`
	Analysis       string  `json:"analysis,omitempty"`
	Error          string  `json:"error,omitempty"`
	FileProcessed  string  `json:"file_processed"`
	ProcessingTime float64 `json:"processing_time"`
}

// AcceptedResponse represents the asynchronous 202 response for /analyze
type AcceptedResponse struct {
	Status     string `json:"status"`
	TaskID     string `json:"task_id"`
	AnalysisID string `json:"analysis_id"`
	Mode       string `json:"mode"`
	Message    string `json:"message"`
}

// TaskResponse represents the response for /task/{id}
type TaskResponse struct {
	TaskID         string   `json:"task_id"`
	Status         string   `json:"status"`
	Progress       string   `json:"progress,omitempty"`
	Result         string   `json:"result,omitempty"`
	Error          string   `json:"error,omitempty"`
	ProcessingTime *float64 `json:"processing_time,omitempty"`
}

// handleAnalyze accepts a report upload and runs the analysis, synchronously
// by default or in the background when async=true is set.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseAnalyzeForm(r, "")
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	variant := pipeline.VariantQuick
	if form.Mode == string(pipeline.VariantComprehensive) {
		variant = pipeline.VariantComprehensive
	}

	job, err := s.acceptJob(r, variant, form.Query)
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	if isTrue(r.FormValue("async_processing")) {
		s.submitAsync(w, job)
		return
	}
	s.runSync(w, r, job)
}

// handleAnalyzeComprehensive accepts a report upload and always runs the full
// multi-stage analysis in the background.
func (s *Server) handleAnalyzeComprehensive(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseAnalyzeForm(r, string(pipeline.VariantComprehensive))
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	job, err := s.acceptJob(r, pipeline.VariantComprehensive, form.Query)
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	s.submitAsync(w, job)
}

// parseAnalyzeForm parses the multipart form and validates its fields.
// forceMode overrides the submitted mode when non-empty.
func (s *Server) parseAnalyzeForm(r *http.Request, forceMode string) (analyzeForm, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return analyzeForm{}, &ErrBadUpload{Message: "expected multipart form data: " + err.Error()}
	}

	form := analyzeForm{
		Query: r.FormValue("query"),
		Mode:  r.FormValue("mode"),
	}
	if forceMode != "" {
		form.Mode = forceMode
	}
	if form.Mode == "" {
		form.Mode = string(pipeline.VariantQuick)
	}

	if err := s.validate.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return analyzeForm{}, &ErrValidation{Field: verrs[0].Field(), Message: verrs[0].Tag()}
		}
		return analyzeForm{}, err
	}
	return form, nil
}

// acceptJob stores the uploaded report and registers the analysis record.
func (s *Server) acceptJob(r *http.Request, variant pipeline.Variant, query string) (pipeline.Job, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return pipeline.Job{}, &ErrBadUpload{Message: "file is required"}
	}
	defer file.Close()

	art, err := s.files.Acquire(file, header.Filename)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotPDF) || errors.Is(err, artifacts.ErrEmptyUpload) {
			return pipeline.Job{}, &ErrBadUpload{Message: err.Error()}
		}
		return pipeline.Job{}, err
	}

	job := pipeline.Job{
		ID:          uuid.New(),
		Query:       query,
		Filename:    header.Filename,
		Variant:     variant,
		Artifact:    art,
		SubmittedAt: time.Now().UTC(),
	}

	if err := s.store.Create(r.Context(), store.Analysis{
		ID:       job.ID,
		Filename: job.Filename,
		Query:    pipeline.NormalizeQuery(variant, query),
		Variant:  string(variant),
		Status:   store.StatusQueued,
	}); err != nil {
		log.Printf("Warning: failed to record analysis %s: %v", job.ID, err)
	}

	return job, nil
}

// runSync executes the job in the request goroutine and returns the final
// analysis in the response body.
func (s *Server) runSync(w http.ResponseWriter, r *http.Request, job pipeline.Job) {
	outcome := s.runner.Run(r.Context(), job, nil)

	resp := AnalyzeResponse{
		AnalysisID:     job.ID.String(),
		Query:          pipeline.NormalizeQuery(job.Variant, job.Query),
		FileProcessed:  job.Filename,
		ProcessingTime: outcome.ProcessingSeconds,
	}
	if !outcome.Succeeded() {
		resp.Status = "failed"
		resp.Error = outcome.ErrorDetail
		s.jsonResponse(w, http.StatusInternalServerError, resp)
		return
	}
	resp.Status = "success"
	resp.Analysis = outcome.Result
	s.jsonResponse(w, http.StatusOK, resp)
}

// submitAsync enqueues the job and responds 202 with the task ID to poll.
func (s *Server) submitAsync(w http.ResponseWriter, job pipeline.Job) {
	if err := s.tasks.Submit(job); err != nil {
		// The report file and the queued record must not leak when the
		// submission is rejected.
		if relErr := s.files.Release(job.Artifact); relErr != nil {
			log.Printf("Warning: could not clean up report file for analysis %s: %v", job.ID, relErr)
		}
		detail := "submission rejected: " + err.Error()
		if perErr := s.store.CompleteFailure(context.Background(), job.ID, detail, 0, time.Now().UTC()); perErr != nil {
			log.Printf("Warning: failed to record rejected analysis %s: %v", job.ID, perErr)
		}
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrQueueClosed) {
			s.errorFrom(w, &ErrServiceBusy{})
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.jsonResponse(w, http.StatusAccepted, AcceptedResponse{
		Status:     "queued",
		TaskID:     job.ID.String(),
		AnalysisID: job.ID.String(),
		Mode:       string(job.Variant),
		Message:    "Analysis queued. Poll /task/" + job.ID.String() + " for the result.",
	})
}

// handleTaskStatus reports the state of a background analysis task.
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid task ID format")
		return
	}

	status, err := s.tasks.Status(id)
	if err != nil {
		if errors.Is(err, queue.ErrTaskNotFound) {
			s.errorFrom(w, &ErrTaskNotFound{ID: id})
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := TaskResponse{
		TaskID: status.TaskID.String(),
		Status: string(status.State),
	}
	switch {
	case status.State == queue.StateProcessing:
		resp.Progress = status.Progress
	case status.Terminal() && status.Outcome != nil:
		resp.ProcessingTime = &status.Outcome.ProcessingSeconds
		if status.Outcome.Succeeded() {
			resp.Result = status.Outcome.Result
		} else {
			resp.Error = status.Outcome.ErrorDetail
		}
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleListAnalyses returns a page of analysis records, newest first.
func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r.URL.Query().Get("limit"), 20)
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	offset := parseIntParam(r.URL.Query().Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	page, err := s.store.List(r.Context(), limit, offset)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, page)
}

// handleGetAnalysis returns one analysis record by ID.
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid analysis ID format")
		return
	}

	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorFrom(w, &ErrAnalysisNotFound{ID: id})
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, rec)
}

// handleDeleteAnalysis removes one analysis record by ID.
func (s *Server) handleDeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid analysis ID format")
		return
	}

	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorFrom(w, &ErrAnalysisNotFound{ID: id})
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":      "deleted",
		"analysis_id": id.String(),
	})
}

// handleStats returns aggregate statistics over all analyses.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, stats)
}

func isTrue(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func parseIntParam(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
