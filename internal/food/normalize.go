package food

import (
	"encoding/json"
	"fmt"
)

// itemKeys is the fallback order for object-wrapped search responses.
var itemKeys = []string{"products", "items", "data", "results"}

// itemsFromResponse normalizes the search response shape. The upstream may
// return a bare array, or an object with the array under one of several
// keys; both are accepted, in the enumerated fallback order.
func itemsFromResponse(body []byte) ([]Item, error) {
	var bare []Item
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	for _, key := range itemKeys {
		raw, ok := wrapped[key]
		if !ok {
			continue
		}
		var items []Item
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to decode search response field %q: %w", key, err)
		}
		return items, nil
	}
	return nil, fmt.Errorf("search response missing field products")
}

// cartIDFromResponse normalizes the cart-creation response. The identifier
// may arrive as a bare string field, a nested cart object, or the first
// element of a cart list; those shapes are tried in that order.
func cartIDFromResponse(body []byte) (string, error) {
	var parsed struct {
		CartID string `json:"cart_id"`
		ID     string `json:"id"`
		Cart   *struct {
			ID     string `json:"id"`
			CartID string `json:"cart_id"`
		} `json:"cart"`
		Carts []struct {
			ID     string `json:"id"`
			CartID string `json:"cart_id"`
		} `json:"carts"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode cart response: %w", err)
	}

	switch {
	case parsed.CartID != "":
		return parsed.CartID, nil
	case parsed.ID != "":
		return parsed.ID, nil
	case parsed.Cart != nil && parsed.Cart.ID != "":
		return parsed.Cart.ID, nil
	case parsed.Cart != nil && parsed.Cart.CartID != "":
		return parsed.Cart.CartID, nil
	case len(parsed.Carts) > 0 && parsed.Carts[0].ID != "":
		return parsed.Carts[0].ID, nil
	case len(parsed.Carts) > 0 && parsed.Carts[0].CartID != "":
		return parsed.Carts[0].CartID, nil
	}
	return "", fmt.Errorf("cart response missing field cart_id")
}
