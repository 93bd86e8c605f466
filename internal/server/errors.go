// Package server provides the HTTP REST API for the blood test analyzer.
package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// ErrAnalysisNotFound indicates no analysis record exists for the ID
type ErrAnalysisNotFound struct {
	ID uuid.UUID
}

func (e *ErrAnalysisNotFound) Error() string {
	return fmt.Sprintf("analysis not found: %s", e.ID)
}

// ErrTaskNotFound indicates no queued task exists for the ID
type ErrTaskNotFound struct {
	ID uuid.UUID
}

func (e *ErrTaskNotFound) Error() string {
	return fmt.Sprintf("task not found: %s", e.ID)
}

// ErrBadUpload indicates the uploaded report was rejected
type ErrBadUpload struct {
	Message string
}

func (e *ErrBadUpload) Error() string {
	return fmt.Sprintf("invalid upload: %s", e.Message)
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrServiceBusy indicates the execution queue cannot accept more work
type ErrServiceBusy struct{}

func (e *ErrServiceBusy) Error() string {
	return "service is busy, try again later"
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	switch err.(type) {
	case *ErrAnalysisNotFound, *ErrTaskNotFound:
		return http.StatusNotFound
	case *ErrBadUpload, *ErrValidation:
		return http.StatusBadRequest
	case *ErrServiceBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
