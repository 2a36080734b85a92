// Package food contains the HTTP clients used by the ordering workflow:
// the food-ordering API and the geocoder. Calls carry a bounded timeout and
// are never retried; a transient failure surfaces as a step failure.
package food

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const requestTimeout = 30 * time.Second

// Item is one purchasable candidate returned by the search endpoints.
type Item struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	LocationID         string   `json:"location_id"`
	FulfillmentMethods []string `json:"fulfillment_methods"`
}

// Customer identifies the person an order is placed for. PhoneNumber is
// required by the upstream order endpoint even though its docs mark it
// optional.
type Customer struct {
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	PhoneNumber string  `json:"phone_number"`
	Address     Address `json:"address"`
}

// Address is the delivery address attached to an order.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country,omitempty"`
}

// OrderRequest is the payload for placing an order against an open cart.
type OrderRequest struct {
	CartID               string   `json:"cart_id"`
	Customer             Customer `json:"customer"`
	Items                []Line   `json:"items"`
	Tip                  float64  `json:"tip,omitempty"`
	DeliveryInstructions string   `json:"delivery_instructions,omitempty"`
}

// Line is one item/quantity pair in an order.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Client talks to the food-ordering API.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// NewClient creates a new food API Client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: requestTimeout},
	}
}

// SearchByQuery searches purchasable items by free-text query, filtered to
// the given fulfillment method.
func (c *Client) SearchByQuery(ctx context.Context, query string, lat, lon float64, fulfillment string) ([]Item, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("fulfillment_method", fulfillment)

	body, err := c.get(ctx, "/search/products?"+params.Encode())
	if err != nil {
		return nil, err
	}
	return itemsFromResponse(body)
}

// SearchByProductID looks up a specific product by its identifier. No
// fulfillment filter is applied so an exact match is never hidden.
func (c *Client) SearchByProductID(ctx context.Context, productID string, lat, lon float64) ([]Item, error) {
	params := url.Values{}
	params.Set("product_id", productID)
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))

	body, err := c.get(ctx, "/search/products?"+params.Encode())
	if err != nil {
		return nil, err
	}
	return itemsFromResponse(body)
}

// CreateCart opens a cart scoped to a location and fulfillment method and
// returns the new cart's identifier.
func (c *Client) CreateCart(ctx context.Context, locationID, fulfillment string) (string, error) {
	body, err := c.post(ctx, "/carts", map[string]any{
		"location_id":        locationID,
		"fulfillment_method": fulfillment,
	})
	if err != nil {
		return "", err
	}
	return cartIDFromResponse(body)
}

// AddItem adds a product to an open cart at the given quantity.
func (c *Client) AddItem(ctx context.Context, cartID, productID string, quantity int) error {
	_, err := c.post(ctx, "/carts/"+url.PathEscape(cartID)+"/items", map[string]any{
		"product_id": productID,
		"quantity":   quantity,
	})
	return err
}

// CreateOrder places an order against an open cart and returns the order
// identifier.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (string, error) {
	body, err := c.post(ctx, "/orders", req)
	if err != nil {
		return "", err
	}
	var parsed struct {
		OrderID string `json:"order_id"`
		ID      string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode order response: %w", err)
	}
	switch {
	case parsed.OrderID != "":
		return parsed.OrderID, nil
	case parsed.ID != "":
		return parsed.ID, nil
	}
	return "", fmt.Errorf("order response missing field order_id")
}

// GetCheckoutLink retrieves the payment link for a created order.
func (c *Client) GetCheckoutLink(ctx context.Context, orderID string) (string, error) {
	body, err := c.get(ctx, "/orders/"+url.PathEscape(orderID)+"/checkout")
	if err != nil {
		return "", err
	}
	var parsed struct {
		CheckoutURL string `json:"checkout_url"`
		URL         string `json:"url"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode checkout response: %w", err)
	}
	switch {
	case parsed.CheckoutURL != "":
		return parsed.CheckoutURL, nil
	case parsed.URL != "":
		return parsed.URL, nil
	}
	return "", fmt.Errorf("checkout response missing field checkout_url")
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("food API returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
