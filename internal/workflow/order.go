package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/voxhall/concierge/internal/food"
	"github.com/voxhall/concierge/pkg/models"
)

// FoodAPI is the slice of the food client the ordering workflow depends on.
type FoodAPI interface {
	SearchByQuery(ctx context.Context, query string, lat, lon float64, fulfillment string) ([]food.Item, error)
	SearchByProductID(ctx context.Context, productID string, lat, lon float64) ([]food.Item, error)
	CreateCart(ctx context.Context, locationID, fulfillment string) (string, error)
	AddItem(ctx context.Context, cartID, productID string, quantity int) error
	CreateOrder(ctx context.Context, req food.OrderRequest) (string, error)
	GetCheckoutLink(ctx context.Context, orderID string) (string, error)
}

// fulfillmentDefault is the hard fallback when nothing else resolves.
const fulfillmentDefault = "Delivery"

// OrderWorkflow places a food order through a fixed sequence of external
// calls: resolve coordinates, select a product, open a cart, add the item,
// place the order, fetch the checkout link. Each step feeds the next; the
// first failure aborts the whole run. Artifacts created by earlier steps
// (a cart, an order) are deliberately left in place on failure — there is
// no compensation.
type OrderWorkflow struct {
	client   FoodAPI
	geocoder food.Geocoder
	tip      float64
}

var _ Workflow = (*OrderWorkflow)(nil)

// NewOrderWorkflow creates the ordering workflow. A non-zero tip is
// attached to every order it places.
func NewOrderWorkflow(client FoodAPI, geocoder food.Geocoder, tip float64) *OrderWorkflow {
	return &OrderWorkflow{client: client, geocoder: geocoder, tip: tip}
}

// Describe returns the workflow descriptor.
func (w *OrderWorkflow) Describe() models.WorkflowDescriptor {
	return models.WorkflowDescriptor{
		Name:        "order-food",
		Description: "Search for a product near an address and place a delivery or pickup order, returning a checkout link.",
	}
}

// orderContext accumulates the state threaded between steps of one run.
// It is scoped to a single execution and never persisted.
type orderContext struct {
	input Input

	coords      food.Coordinates
	item        food.Item
	fulfillment string
	cartID      string
	orderID     string
	checkoutURL string
}

type orderStep struct {
	name string
	run  func(ctx context.Context, oc *orderContext) error
}

// Execute runs the saga. Step failures are reported in the returned
// payload, never as a Go error: the message names the failing step and the
// underlying cause so callers can tell upstream HTTP failures, malformed
// responses, and missing inputs apart.
func (w *OrderWorkflow) Execute(ctx context.Context, input Input, corr Correlation) (map[string]any, error) {
	oc := &orderContext{input: input}

	steps := []orderStep{
		{"resolve coordinates", w.resolveCoordinates},
		{"select product", w.selectProduct},
		{"create cart", w.createCart},
		{"add item to cart", w.addItem},
		{"place order", w.placeOrder},
		{"get checkout link", w.getCheckoutLink},
	}
	for _, step := range steps {
		if err := step.run(ctx, oc); err != nil {
			return map[string]any{
				"status": "error",
				"error":  fmt.Sprintf("%s: %v", step.name, err),
			}, nil
		}
	}

	return map[string]any{
		"status":       "success",
		"order_id":     oc.orderID,
		"checkout_url": oc.checkoutURL,
	}, nil
}

// resolveCoordinates uses explicit latitude/longitude when both are given,
// otherwise geocodes the free-text address.
func (w *OrderWorkflow) resolveCoordinates(ctx context.Context, oc *orderContext) error {
	lat, latOK := floatParam(oc.input.Params, "latitude")
	lon, lonOK := floatParam(oc.input.Params, "longitude")
	if latOK && lonOK {
		oc.coords = food.Coordinates{Latitude: lat, Longitude: lon}
		return nil
	}

	address := stringParam(oc.input.Params, "address")
	if address == "" {
		return fmt.Errorf("missing required parameter: address or latitude/longitude")
	}
	coords, err := w.geocoder.Geocode(ctx, address)
	if err != nil {
		return err
	}
	oc.coords = coords
	return nil
}

// selectProduct searches by explicit product id (exact, unfiltered) or by
// free-text query (filtered to the preferred fulfillment method) and picks
// the first candidate.
func (w *OrderWorkflow) selectProduct(ctx context.Context, oc *orderContext) error {
	productID := stringParam(oc.input.Params, "product_id")
	if productID != "" {
		items, err := w.client.SearchByProductID(ctx, productID, oc.coords.Latitude, oc.coords.Longitude)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("no products found for product_id %q", productID)
		}
		oc.item = items[0]
		return nil
	}

	query := stringParam(oc.input.Params, "query")
	if query == "" {
		query = oc.input.Message
	}
	if query == "" {
		return fmt.Errorf("missing required parameter: query")
	}
	items, err := w.client.SearchByQuery(ctx, query, oc.coords.Latitude, oc.coords.Longitude, w.preferredFulfillment(oc))
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("no products found for query %q", query)
	}
	oc.item = items[0]
	return nil
}

func (w *OrderWorkflow) createCart(ctx context.Context, oc *orderContext) error {
	oc.fulfillment = resolveFulfillment(w.preferredFulfillment(oc), oc.item.FulfillmentMethods)
	cartID, err := w.client.CreateCart(ctx, oc.item.LocationID, oc.fulfillment)
	if err != nil {
		return err
	}
	oc.cartID = cartID
	return nil
}

func (w *OrderWorkflow) addItem(ctx context.Context, oc *orderContext) error {
	return w.client.AddItem(ctx, oc.cartID, oc.item.ID, quantityParam(oc.input.Params))
}

func (w *OrderWorkflow) placeOrder(ctx context.Context, oc *orderContext) error {
	customer, err := customerParam(oc.input.Params)
	if err != nil {
		return err
	}
	orderID, err := w.client.CreateOrder(ctx, food.OrderRequest{
		CartID:               oc.cartID,
		Customer:             customer,
		Items:                []food.Line{{ProductID: oc.item.ID, Quantity: quantityParam(oc.input.Params)}},
		Tip:                  w.tip,
		DeliveryInstructions: stringParam(oc.input.Params, "delivery_instructions"),
	})
	if err != nil {
		return err
	}
	oc.orderID = orderID
	return nil
}

func (w *OrderWorkflow) getCheckoutLink(ctx context.Context, oc *orderContext) error {
	checkoutURL, err := w.client.GetCheckoutLink(ctx, oc.orderID)
	if err != nil {
		return err
	}
	oc.checkoutURL = checkoutURL
	return nil
}

func (w *OrderWorkflow) preferredFulfillment(oc *orderContext) string {
	if method := stringParam(oc.input.Params, "fulfillment_method"); method != "" {
		return method
	}
	return fulfillmentDefault
}

// resolveFulfillment picks a fulfillment method in fixed preference order:
// the preferred method if the product supports it, then Delivery, then
// Pickup, then whatever the product supports, then the hard default.
func resolveFulfillment(preferred string, supported []string) string {
	for _, candidate := range []string{preferred, "Delivery", "Pickup"} {
		for _, method := range supported {
			if method == candidate {
				return candidate
			}
		}
	}
	if len(supported) > 0 {
		return supported[0]
	}
	return fulfillmentDefault
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	if s, ok := params[key].(string); ok {
		return s
	}
	return ""
}

func floatParam(params map[string]any, key string) (float64, bool) {
	if params == nil {
		return 0, false
	}
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func quantityParam(params map[string]any) int {
	if q, ok := floatParam(params, "quantity"); ok && q >= 1 {
		return int(q)
	}
	return 1
}

// customerParam decodes the customer object and checks the fields the
// order endpoint rejects when absent. The phone number is required in
// practice regardless of what the upstream docs say.
func customerParam(params map[string]any) (food.Customer, error) {
	raw, ok := params["customer"]
	if !ok {
		return food.Customer{}, fmt.Errorf("missing required parameter: customer")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return food.Customer{}, fmt.Errorf("invalid parameter customer: %v", err)
	}
	var customer food.Customer
	if err := json.Unmarshal(data, &customer); err != nil {
		return food.Customer{}, fmt.Errorf("invalid parameter customer: %v", err)
	}

	switch {
	case customer.Name == "":
		return food.Customer{}, fmt.Errorf("missing required parameter: customer.name")
	case customer.Email == "":
		return food.Customer{}, fmt.Errorf("missing required parameter: customer.email")
	case customer.PhoneNumber == "":
		return food.Customer{}, fmt.Errorf("missing required parameter: customer.phone_number")
	}
	return customer, nil
}
