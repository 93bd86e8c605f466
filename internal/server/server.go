package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/bloodwork-analyzer/internal/artifacts"
	"github.com/jonathan/bloodwork-analyzer/internal/pipeline"
	"github.com/jonathan/bloodwork-analyzer/internal/queue"
	"github.com/jonathan/bloodwork-analyzer/internal/store"
)

// Runner executes one analysis job to completion.
type Runner interface {
	Run(ctx context.Context, job pipeline.Job, onProgress pipeline.ProgressFunc) pipeline.Outcome
}

// TaskQueue accepts jobs for background execution and answers status polls.
type TaskQueue interface {
	Submit(job pipeline.Job) error
	Status(id uuid.UUID) (queue.TaskStatus, error)
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	store      store.Store
	files      *artifacts.Store
	runner     Runner
	tasks      TaskQueue
	validate   *validator.Validate
}

// Config holds server configuration
type Config struct {
	Port int
}

// New creates a new server instance wired to the given stores, runner, and
// task queue.
func New(cfg Config, st store.Store, files *artifacts.Store, runner Runner, tasks TaskQueue) *Server {
	s := &Server{
		store:    st,
		files:    files,
		runner:   runner,
		tasks:    tasks,
		validate: validator.New(),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withLogging(s.withCORS(s.routes())),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // Long timeout for synchronous analysis runs
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// routes builds the request router.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Analysis submission
	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("POST /analyze/comprehensive", s.handleAnalyzeComprehensive)

	// Background task polling
	mux.HandleFunc("GET /task/{id}", s.handleTaskStatus)

	// Analysis records
	mux.HandleFunc("GET /analyses", s.handleListAnalyses)
	mux.HandleFunc("GET /analyses/{id}", s.handleGetAnalysis)
	mux.HandleFunc("DELETE /analyses/{id}", s.handleDeleteAnalysis)
	mux.HandleFunc("GET /stats", s.handleStats)

	return mux
}

// Start begins listening for requests and blocks until shutdown completes.
func (s *Server) Start() error {
	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleRoot describes the service
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"message": "Blood Test Report Analyzer API is running",
		"endpoints": map[string]string{
			"analyze":               "POST /analyze",
			"analyze_comprehensive": "POST /analyze/comprehensive",
			"task_status":           "GET /task/{id}",
			"analyses":              "GET /analyses",
			"analysis":              "GET /analyses/{id}",
			"stats":                 "GET /stats",
			"health":                "GET /health",
		},
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// errorFrom writes an error response with the status mapped from the error type
func (s *Server) errorFrom(w http.ResponseWriter, err error) {
	s.errorResponse(w, HTTPStatus(err), err.Error())
}
