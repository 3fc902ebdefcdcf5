// Package steps defines the fulfillment steps, their ordering, and the
// policy mapping each step outcome to continue or abort.
package steps

import (
	"fmt"

	"github.com/jonathan/site-deployer/internal/types"
)

// Step names
const (
	PersistTask       = "persist_task"
	Authorize         = "authorize"
	Generate          = "generate"
	Publish           = "publish"
	RecordPublication = "record_publication"
	Notify            = "notify"
)

// Action is what the pipeline does after a step finishes
type Action string

const (
	// Continue proceeds to the next step with whatever the step produced
	Continue Action = "continue"
	// Abort stops the submission with an internal error
	Abort Action = "abort"
)

// StepDefinition defines metadata for a pipeline step
type StepDefinition struct {
	Name         string
	Dependencies []string
	Policy       map[types.Status]Action
}

var (
	strict   = map[types.Status]Action{types.StatusOK: Continue, types.StatusDegraded: Abort, types.StatusFailed: Abort}
	tolerant = map[types.Status]Action{types.StatusOK: Continue, types.StatusDegraded: Continue, types.StatusFailed: Continue}
)

// StepRegistry holds all step definitions
var StepRegistry = map[string]StepDefinition{
	PersistTask: {
		Name:   PersistTask,
		Policy: strict,
	},
	Authorize: {
		Name:         Authorize,
		Dependencies: []string{PersistTask},
		Policy:       strict,
	},
	Generate: {
		Name:         Generate,
		Dependencies: []string{Authorize},
		Policy: map[types.Status]Action{
			types.StatusOK:       Continue,
			types.StatusDegraded: Continue, // fallback page
			types.StatusFailed:   Abort,
		},
	},
	Publish: {
		Name:         Publish,
		Dependencies: []string{Generate},
		Policy:       tolerant, // the publication row records whatever URLs were obtained
	},
	RecordPublication: {
		Name:         RecordPublication,
		Dependencies: []string{Publish},
		Policy:       strict,
	},
	Notify: {
		Name:         Notify,
		Dependencies: []string{RecordPublication},
		Policy:       tolerant,
	},
}

// DependencyError represents a dependency validation error
type DependencyError struct {
	Step                string
	MissingDependencies []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("step %s has missing dependencies: %v", e.Step, e.MissingDependencies)
}

// ValidateDependencies checks that every dependency of stepName has completed
func ValidateDependencies(completed map[string]bool, stepName string) error {
	def, ok := StepRegistry[stepName]
	if !ok {
		return fmt.Errorf("unknown step: %s", stepName)
	}

	var missing []string
	for _, dep := range def.Dependencies {
		if !completed[dep] {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return &DependencyError{Step: stepName, MissingDependencies: missing}
	}
	return nil
}

// Decide returns the policy action for a step outcome. Unknown steps and
// statuses abort.
func Decide(stepName string, status types.Status) Action {
	def, ok := StepRegistry[stepName]
	if !ok {
		return Abort
	}
	action, ok := def.Policy[status]
	if !ok {
		return Abort
	}
	return action
}
