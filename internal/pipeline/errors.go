package pipeline

import (
	"fmt"
	"strings"

	"github.com/jonathan/site-deployer/internal/types"
)

// MissingFieldsError indicates required intake fields were absent or empty.
// No side effects have happened when it is returned.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}

// InvalidPayloadError indicates the body was not a JSON object of the expected shape
type InvalidPayloadError struct {
	Err error
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid payload: %v", e.Err)
}

func (e *InvalidPayloadError) Unwrap() error {
	return e.Err
}

// SecretMismatchError indicates the shared secret did not match. The task
// row has already been written with secret_ok = false.
type SecretMismatchError struct {
	Key types.CorrelationKey
}

func (e *SecretMismatchError) Error() string {
	return fmt.Sprintf("secret mismatch for %s", e.Key)
}

// NoMatchingTaskError indicates a publication report named no known task
type NoMatchingTaskError struct {
	Key types.CorrelationKey
}

func (e *NoMatchingTaskError) Error() string {
	return fmt.Sprintf("no matching task for %s", e.Key)
}

// StepError wraps an unexpected failure of a pipeline step
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
