// Package workflow defines the named, executable units of business logic
// and the registry that dispatches to them.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/voxhall/concierge/pkg/models"
)

// Correlation carries optional caller identity through an execution.
type Correlation struct {
	UserID    string
	ChannelID string
}

// Input is the parameterized payload a workflow executes against. Message
// is the free-text command; Params carries structured options.
type Input struct {
	Message string
	Params  map[string]any
}

// Workflow is a named, executable unit. Execute returns a result payload;
// business-level failures inside a workflow are reported through the
// payload (status/error fields), while a non-nil error means the workflow
// could not run at all.
type Workflow interface {
	Describe() models.WorkflowDescriptor
	Execute(ctx context.Context, input Input, corr Correlation) (map[string]any, error)
}

// NotFoundError is returned when a workflow name is not registered. Its
// message enumerates the currently available names.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("workflow %q not found; available workflows: %s",
		e.Name, strings.Join(e.Available, ", "))
}

// Registry maps workflow names to implementations. The set is closed and
// populated once at process start; lookups are pure.
type Registry struct {
	order     []string
	workflows map[string]Workflow
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{workflows: make(map[string]Workflow)}
}

// Register adds a workflow under its descriptor name. Re-registering a
// name replaces the previous implementation without changing the display
// order.
func (r *Registry) Register(w Workflow) {
	name := w.Describe().Name
	if _, ok := r.workflows[name]; !ok {
		r.order = append(r.order, name)
	}
	r.workflows[name] = w
}

// List returns descriptors in registration order.
func (r *Registry) List() []models.WorkflowDescriptor {
	descriptors := make([]models.WorkflowDescriptor, 0, len(r.order))
	for _, name := range r.order {
		descriptors = append(descriptors, r.workflows[name].Describe())
	}
	return descriptors
}

// Get looks up a workflow by name.
func (r *Registry) Get(name string) (Workflow, error) {
	w, ok := r.workflows[name]
	if !ok {
		return nil, &NotFoundError{Name: name, Available: append([]string(nil), r.order...)}
	}
	return w, nil
}
