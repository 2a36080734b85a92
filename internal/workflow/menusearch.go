package workflow

import (
	"context"
	"fmt"

	"github.com/voxhall/concierge/internal/food"
	"github.com/voxhall/concierge/pkg/models"
)

// MenuSearchWorkflow is the synchronous text-command workflow: it resolves
// a location, searches the catalog for the message text and returns the
// top candidates without placing anything.
type MenuSearchWorkflow struct {
	client   FoodAPI
	geocoder food.Geocoder
	limit    int
}

var _ Workflow = (*MenuSearchWorkflow)(nil)

// NewMenuSearchWorkflow creates the menu-search workflow.
func NewMenuSearchWorkflow(client FoodAPI, geocoder food.Geocoder) *MenuSearchWorkflow {
	return &MenuSearchWorkflow{client: client, geocoder: geocoder, limit: 5}
}

// Describe returns the workflow descriptor.
func (w *MenuSearchWorkflow) Describe() models.WorkflowDescriptor {
	return models.WorkflowDescriptor{
		Name:        "menu-search",
		Description: "Search nearby menus for a product and return the closest matches.",
	}
}

// Execute runs the search and reports matches in the result payload.
func (w *MenuSearchWorkflow) Execute(ctx context.Context, input Input, corr Correlation) (map[string]any, error) {
	query := stringParam(input.Params, "query")
	if query == "" {
		query = input.Message
	}
	if query == "" {
		return map[string]any{
			"status": "error",
			"error":  "missing required parameter: query",
		}, nil
	}

	coords := food.Coordinates{}
	if lat, ok := floatParam(input.Params, "latitude"); ok {
		if lon, ok := floatParam(input.Params, "longitude"); ok {
			coords = food.Coordinates{Latitude: lat, Longitude: lon}
		}
	}
	if address := stringParam(input.Params, "address"); address != "" && coords == (food.Coordinates{}) {
		resolved, err := w.geocoder.Geocode(ctx, address)
		if err != nil {
			return map[string]any{
				"status": "error",
				"error":  fmt.Sprintf("resolve coordinates: %v", err),
			}, nil
		}
		coords = resolved
	}

	items, err := w.client.SearchByQuery(ctx, query, coords.Latitude, coords.Longitude, fulfillmentDefault)
	if err != nil {
		return map[string]any{
			"status": "error",
			"error":  fmt.Sprintf("search products: %v", err),
		}, nil
	}
	if len(items) > w.limit {
		items = items[:w.limit]
	}

	return map[string]any{
		"status":  "success",
		"query":   query,
		"results": items,
	}, nil
}
