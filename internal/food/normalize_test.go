package food

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemsFromResponseBareArray(t *testing.T) {
	items, err := itemsFromResponse([]byte(`[{"id":"p1","name":"Coffee","location_id":"l1"}]`))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "p1", items[0].ID)
}

func TestItemsFromResponseWrappedKeys(t *testing.T) {
	for _, key := range []string{"products", "items", "data", "results"} {
		body := []byte(`{"` + key + `":[{"id":"p1"}]}`)
		items, err := itemsFromResponse(body)
		require.NoError(t, err, key)
		assert.Len(t, items, 1, key)
	}
}

func TestItemsFromResponseMissingField(t *testing.T) {
	_, err := itemsFromResponse([]byte(`{"stuff":[]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing field products")
}

func TestCartIDFromResponseShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"flat cart_id", `{"cart_id":"c1"}`, "c1"},
		{"flat id", `{"id":"c2"}`, "c2"},
		{"nested cart object", `{"cart":{"id":"c3"}}`, "c3"},
		{"nested cart_id", `{"cart":{"cart_id":"c4"}}`, "c4"},
		{"cart list", `{"carts":[{"id":"c5"}]}`, "c5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cartIDFromResponse([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCartIDFromResponseMissing(t *testing.T) {
	_, err := cartIDFromResponse([]byte(`{"ok":true}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing field cart_id")
}

func TestCoordinatesFromGeoJSONReordersLonLat(t *testing.T) {
	body := []byte(`{"features":[{"geometry":{"coordinates":[-89.65,39.78]}}]}`)
	coords, err := coordinatesFromGeoJSON(body)
	require.NoError(t, err)
	assert.Equal(t, 39.78, coords.Latitude)
	assert.Equal(t, -89.65, coords.Longitude)
}

func TestCoordinatesFromGeoJSONBareObject(t *testing.T) {
	coords, err := coordinatesFromGeoJSON([]byte(`{"coordinates":[2.35,48.86]}`))
	require.NoError(t, err)
	assert.Equal(t, 48.86, coords.Latitude)
	assert.Equal(t, 2.35, coords.Longitude)
}

func TestCoordinatesFromGeoJSONMissing(t *testing.T) {
	_, err := coordinatesFromGeoJSON([]byte(`{"features":[]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing field coordinates")
}
