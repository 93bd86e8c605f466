// Package artifacts owns the transient uploaded report file from the moment it
// is written until it is deleted after the job reaches a terminal state.
package artifacts

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Validation errors returned by Acquire before any job exists.
var (
	// ErrEmptyUpload indicates the uploaded file contained no bytes
	ErrEmptyUpload = fmt.Errorf("uploaded file is empty")
	// ErrNotPDF indicates the upload is not a PDF document
	ErrNotPDF = fmt.Errorf("only PDF files are supported")
)

// Artifact is a transient uploaded input file. It is exclusively owned by one
// job's lifecycle and never shared.
type Artifact struct {
	Path      string
	SizeBytes int64
	CreatedAt time.Time
}

// Store writes uploads into a data directory and deletes them on release.
type Store struct {
	dir string
}

// NewStore creates the data directory if needed and returns a store rooted there.
func NewStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", abs, err)
	}
	return &Store{dir: abs}, nil
}

// Dir returns the absolute data directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Acquire validates and persists an upload under a unique name.
// Rejects non-PDF filenames and zero-length uploads before any pipeline work
// starts; both are hard rejections that never reach job creation.
func (s *Store) Acquire(r io.Reader, filename string) (*Artifact, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return nil, ErrNotPDF
	}

	path := filepath.Join(s.dir, fmt.Sprintf("blood_test_report_%s.pdf", uuid.New()))

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to save uploaded file: %w", err)
	}

	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to save uploaded file: %w", err)
	}
	if size == 0 {
		_ = os.Remove(path)
		return nil, ErrEmptyUpload
	}

	return &Artifact{
		Path:      path,
		SizeBytes: size,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Release deletes the artifact file. Idempotent: an already-absent file is not
// an error. Callers log other failures; job outcome is decided by then.
func (s *Store) Release(a *Artifact) error {
	if a == nil || a.Path == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove artifact %s: %w", a.Path, err)
	}
	return nil
}
