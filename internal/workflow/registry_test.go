package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxhall/concierge/pkg/models"
)

type stubWorkflow struct {
	name string
}

func (s *stubWorkflow) Describe() models.WorkflowDescriptor {
	return models.WorkflowDescriptor{Name: s.name, Description: "stub"}
}

func (s *stubWorkflow) Execute(ctx context.Context, input Input, corr Correlation) (map[string]any, error) {
	return map[string]any{"status": "success"}, nil
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubWorkflow{name: "order-food"})
	r.Register(&stubWorkflow{name: "menu-search"})

	w, err := r.Get("order-food")
	require.NoError(t, err)
	assert.Equal(t, "order-food", w.Describe().Name)
}

func TestRegistryGetUnknownListsAvailable(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubWorkflow{name: "order-food"})
	r.Register(&stubWorkflow{name: "menu-search"})

	_, err := r.Get("nope")
	require.Error(t, err)

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, err.Error(), `workflow "nope" not found`)
	assert.Contains(t, err.Error(), "order-food")
	assert.Contains(t, err.Error(), "menu-search")
}

func TestRegistryListKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubWorkflow{name: "b"})
	r.Register(&stubWorkflow{name: "a"})
	r.Register(&stubWorkflow{name: "c"})

	names := make([]string, 0, 3)
	for _, d := range r.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"b", "a", "c"}, names)
}

func TestRegistryReRegisterReplacesWithoutReordering(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubWorkflow{name: "a"})
	r.Register(&stubWorkflow{name: "b"})
	r.Register(&stubWorkflow{name: "a"})

	assert.Len(t, r.List(), 2)
	assert.Equal(t, "a", r.List()[0].Name)
}
