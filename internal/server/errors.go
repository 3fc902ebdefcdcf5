package server

import (
	"errors"
	"net/http"

	"github.com/jonathan/site-deployer/internal/pipeline"
)

// Error codes returned in the "error" field of failure responses
const (
	CodeMissingFields   = "missing_fields"
	CodeSecretMismatch  = "secret_mismatch"
	CodeNoMatchingTask  = "no_matching_task"
	CodeInvalidJSON     = "invalid_json"
	CodePayloadTooLarge = "payload_too_large"
	CodeRateLimited     = "rate_limit_exceeded"
	CodeInternal        = "internal_error"
)

// ErrorResponse is the body of every failure response
type ErrorResponse struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing,omitempty"`
	Detail  string   `json:"detail,omitempty"`
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	status, _ := classify(err)
	return status
}

// classify maps a pipeline error to its status and response body
func classify(err error) (int, ErrorResponse) {
	var (
		missing  *pipeline.MissingFieldsError
		secret   *pipeline.SecretMismatchError
		noMatch  *pipeline.NoMatchingTaskError
		invalid  *pipeline.InvalidPayloadError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &missing):
		return http.StatusBadRequest, ErrorResponse{Error: CodeMissingFields, Missing: missing.Fields}
	case errors.As(err, &secret):
		return http.StatusUnauthorized, ErrorResponse{Error: CodeSecretMismatch}
	case errors.As(err, &noMatch):
		return http.StatusBadRequest, ErrorResponse{Error: CodeNoMatchingTask}
	case errors.As(err, &invalid):
		return http.StatusBadRequest, ErrorResponse{Error: CodeInvalidJSON, Detail: invalid.Err.Error()}
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, ErrorResponse{Error: CodePayloadTooLarge}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: CodeInternal, Detail: err.Error()}
	}
}
