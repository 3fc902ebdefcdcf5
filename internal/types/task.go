// Package types provides type definitions for structured data used throughout the site deployer.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultRound is used when a request omits the round number.
const DefaultRound = 1

// CorrelationKey links a Publication back to the Task it fulfils.
// It is comparable and safe to use as a map key.
type CorrelationKey struct {
	Email string
	Task  string
	Round int
	Nonce string
}

func (k CorrelationKey) String() string {
	return fmt.Sprintf("%s/%s/r%d/%s", k.Email, k.Task, k.Round, k.Nonce)
}

// Attachment is a named file reference sent with a task. URL may be a data URI.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// TaskRequest is the primary intake payload.
type TaskRequest struct {
	Email         string            `json:"email" validate:"required"`
	Secret        string            `json:"secret"`
	Task          string            `json:"task" validate:"required"`
	Round         *int              `json:"round,omitempty"`
	Nonce         string            `json:"nonce" validate:"required"`
	Brief         string            `json:"brief" validate:"required"`
	Checks        []json.RawMessage `json:"checks,omitempty"`
	EvaluationURL string            `json:"evaluation_url" validate:"required"`
	Attachments   []Attachment      `json:"attachments,omitempty"`
}

// RoundOrDefault returns the submitted round, or DefaultRound when absent.
func (r *TaskRequest) RoundOrDefault() int {
	if r.Round == nil {
		return DefaultRound
	}
	return *r.Round
}

// Key returns the correlating tuple for this request.
func (r *TaskRequest) Key() CorrelationKey {
	return CorrelationKey{Email: r.Email, Task: r.Task, Round: r.RoundOrDefault(), Nonce: r.Nonce}
}

// Validate checks that every required field is present and non-empty.
// On failure it returns the JSON names of the missing fields.
func (r *TaskRequest) Validate() ([]string, error) {
	return validateRequired(r)
}

// PublicationReport is the secondary intake payload: a third party reporting
// a publication it produced out-of-band. URL fields are kept verbatim,
// including explicit nulls.
type PublicationReport struct {
	Email     string  `json:"email" validate:"required"`
	Task      string  `json:"task" validate:"required"`
	Round     *int    `json:"round,omitempty"`
	Nonce     string  `json:"nonce" validate:"required"`
	RepoURL   *string `json:"repo_url"`
	CommitSHA *string `json:"commit_sha"`
	PagesURL  *string `json:"pages_url"`
}

// Key returns the correlating tuple for this report.
func (r *PublicationReport) Key() CorrelationKey {
	round := DefaultRound
	if r.Round != nil {
		round = *r.Round
	}
	return CorrelationKey{Email: r.Email, Task: r.Task, Round: round, Nonce: r.Nonce}
}

// Validate checks that email, task and nonce are present.
func (r *PublicationReport) Validate() ([]string, error) {
	return validateRequired(r)
}

// EvaluationPayload is POSTed to the caller's evaluation_url once a task is published.
type EvaluationPayload struct {
	Email     string  `json:"email"`
	Task      string  `json:"task"`
	Round     int     `json:"round"`
	Nonce     string  `json:"nonce"`
	RepoURL   *string `json:"repo_url"`
	CommitSHA *string `json:"commit_sha"`
	PagesURL  *string `json:"pages_url"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateRequired(s any) ([]string, error) {
	err := validate.Struct(s)
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return missing, nil
}
