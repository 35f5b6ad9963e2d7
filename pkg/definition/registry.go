// Package definition holds the static step plans for every workflow type.
// Registry content is configuration, not runtime state: it is registered once
// at construction and is safe for concurrent reads from many workflow
// instances.
package definition

import (
	"errors"
	"fmt"

	"github.com/ispworks/sagaflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrUnknownWorkflowType is returned when no definition exists for the
	// requested workflow type. Start requests fail with it before any
	// instance is created.
	ErrUnknownWorkflowType = errors.New("unknown workflow type")

	// ErrInvalidDefinition is returned when a definition fails registration
	// validation.
	ErrInvalidDefinition = errors.New("invalid workflow definition")

	// ErrInputRejected is returned when input data does not satisfy the
	// definition's input schema.
	ErrInputRejected = errors.New("input data rejected by schema")
)

// StepTemplate is the static definition of one step within a workflow type.
type StepTemplate struct {
	Name         string
	TargetSystem string
	Operation    string
	// Compensation is the operation that undoes a completed forward
	// operation. Empty means the step is not compensable (e.g. a pure read)
	// and is skipped during rollback.
	Compensation string
	MaxRetries   int
}

// Definition is the full static configuration for one workflow type.
type Definition struct {
	Type        models.WorkflowType
	Description string
	// MaxRetries is the workflow-level retry budget, distinct from the
	// per-step budgets on the templates.
	MaxRetries int
	Steps      []StepTemplate
	// InputSchema is a JSON schema applied to input_data at start time.
	// Nil means any input is accepted.
	InputSchema map[string]any
}

// Registry maps workflow types to their definitions.
type Registry struct {
	definitions map[models.WorkflowType]Definition
}

// NewRegistry returns a registry preloaded with the built-in ISP operations
// workflow definitions.
func NewRegistry() *Registry {
	registry := &Registry{
		definitions: make(map[models.WorkflowType]Definition),
	}

	for _, def := range builtinDefinitions() {
		// Built-ins are validated by the package tests; a registration
		// failure here is a programming error.
		if err := registry.Register(def); err != nil {
			panic(fmt.Sprintf("invalid built-in definition %q: %v", def.Type, err))
		}
	}

	return registry
}

// NewEmptyRegistry returns a registry with no definitions. Tests use it to
// register purpose-built plans.
func NewEmptyRegistry() *Registry {
	return &Registry{
		definitions: make(map[models.WorkflowType]Definition),
	}
}

// Register validates and adds a definition. Registration happens at
// construction time only; the registry is read-only afterwards.
func (r *Registry) Register(def Definition) error {
	if def.Type == "" {
		return fmt.Errorf("%w: missing workflow type", ErrInvalidDefinition)
	}

	if len(def.Steps) == 0 {
		return fmt.Errorf("%w: workflow type %q has no steps", ErrInvalidDefinition, def.Type)
	}

	for i, step := range def.Steps {
		if step.Name == "" {
			return fmt.Errorf("%w: workflow type %q step %d has no name", ErrInvalidDefinition, def.Type, i)
		}

		if step.TargetSystem == "" {
			return fmt.Errorf("%w: workflow type %q step %q has no target system", ErrInvalidDefinition, def.Type, step.Name)
		}

		if step.Operation == "" {
			return fmt.Errorf("%w: workflow type %q step %q has no operation", ErrInvalidDefinition, def.Type, step.Name)
		}
	}

	if _, exists := r.definitions[def.Type]; exists {
		return fmt.Errorf("%w: workflow type %q already registered", ErrInvalidDefinition, def.Type)
	}

	r.definitions[def.Type] = def

	return nil
}

// Definition returns the full definition for a workflow type.
func (r *Registry) Definition(workflowType models.WorkflowType) (Definition, error) {
	def, ok := r.definitions[workflowType]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownWorkflowType, workflowType)
	}

	return def, nil
}

// PlanFor returns the ordered step templates for a workflow type. The slice
// index is the step order used for both forward execution and reverse
// compensation.
func (r *Registry) PlanFor(workflowType models.WorkflowType) ([]StepTemplate, error) {
	def, err := r.Definition(workflowType)
	if err != nil {
		return nil, err
	}

	plan := make([]StepTemplate, len(def.Steps))
	copy(plan, def.Steps)

	return plan, nil
}

// Types returns all registered workflow types.
func (r *Registry) Types() []models.WorkflowType {
	types := make([]models.WorkflowType, 0, len(r.definitions))
	for t := range r.definitions {
		types = append(types, t)
	}

	return types
}

// ValidateInput checks input data against the definition's JSON schema.
func (r *Registry) ValidateInput(workflowType models.WorkflowType, input map[string]any) error {
	def, err := r.Definition(workflowType)
	if err != nil {
		return err
	}

	if def.InputSchema == nil {
		return nil
	}

	if input == nil {
		input = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(def.InputSchema),
		gojsonschema.NewGoLoader(input),
	)
	if err != nil {
		return fmt.Errorf("failed to validate input for %q: %w", workflowType, err)
	}

	if !result.Valid() {
		detail := ""
		for _, resultError := range result.Errors() {
			if detail != "" {
				detail += "; "
			}

			detail += resultError.String()
		}

		return fmt.Errorf("%w: %s", ErrInputRejected, detail)
	}

	return nil
}
