// Package schemas provides JSON Schema validation for the intake payloads.
package schemas

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed task_request.schema.json
var taskRequestSchema []byte

//go:embed publication_report.schema.json
var publicationReportSchema []byte

var (
	taskRequest       = mustCompile("task_request.schema.json", taskRequestSchema)
	publicationReport = mustCompile("publication_report.schema.json", publicationReportSchema)
)

// ValidationError represents a schema validation error with field paths
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation failed:\n")
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// SchemaLoadError represents errors loading or parsing the schema itself
type SchemaLoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *SchemaLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load schema %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load schema %s: %s", e.Path, e.Message)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

func mustCompile(name string, content []byte) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(content))
	if err != nil {
		panic(&SchemaLoadError{Path: name, Message: "invalid embedded schema", Cause: err})
	}
	return schema
}

// ValidateTaskRequest checks that raw is a JSON object whose declared fields have the right types.
// Field presence is not checked here.
func ValidateTaskRequest(raw []byte) error {
	return validate(taskRequest, raw)
}

// ValidatePublicationReport checks the shape of a publication report payload.
func ValidatePublicationReport(raw []byte) error {
	return validate(publicationReport, raw)
}

func validate(schema *gojsonschema.Schema, raw []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		// The document itself could not be decoded.
		return &ValidationError{Errors: []FieldError{{Field: "(root)", Message: err.Error()}}}
	}
	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}
