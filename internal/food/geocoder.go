package food

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Coordinates is a latitude/longitude pair in that order. Upstream GeoJSON
// payloads carry [longitude, latitude]; the geocoder client reorders them
// before anything downstream sees them.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Geocoder resolves a free-text address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Coordinates, error)
}

// HTTPGeocoder is a Geocoder backed by a GeoJSON forward-geocoding endpoint.
type HTTPGeocoder struct {
	baseURL string
	httpc   *http.Client
}

var _ Geocoder = (*HTTPGeocoder)(nil)

// NewHTTPGeocoder creates a new HTTPGeocoder.
func NewHTTPGeocoder(baseURL string) *HTTPGeocoder {
	return &HTTPGeocoder{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Geocode resolves an address to (latitude, longitude).
func (g *HTTPGeocoder) Geocode(ctx context.Context, address string) (Coordinates, error) {
	endpoint := g.baseURL + "/geocode?address=" + url.QueryEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Coordinates{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := g.httpc.Do(req)
	if err != nil {
		return Coordinates{}, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Coordinates{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Coordinates{}, fmt.Errorf("geocoder returned status %d: %s", resp.StatusCode, string(body))
	}

	return coordinatesFromGeoJSON(body)
}

// coordinatesFromGeoJSON extracts the first feature's position from a
// GeoJSON response and reorders [lon, lat] into (lat, lon). A bare
// {"coordinates": [lon, lat]} object is accepted as a fallback.
func coordinatesFromGeoJSON(body []byte) (Coordinates, error) {
	var parsed struct {
		Features []struct {
			Geometry struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"features"`
		Coordinates []float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Coordinates{}, fmt.Errorf("failed to decode geocoder response: %w", err)
	}

	position := parsed.Coordinates
	if len(parsed.Features) > 0 {
		position = parsed.Features[0].Geometry.Coordinates
	}
	if len(position) < 2 {
		return Coordinates{}, fmt.Errorf("geocoder response missing field coordinates")
	}

	// GeoJSON order is [longitude, latitude].
	return Coordinates{Latitude: position[1], Longitude: position[0]}, nil
}
