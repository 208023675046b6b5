// internal/tools/amap.go
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/user/arcadegent/internal/types"
)

// AMapClient calls the AMap (高德) web service API for directions and
// geocoding. All failures wrap types.ErrUpstream.
type AMapClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewAMapClient creates an AMap client. Returns nil when no API key is
// configured so callers can treat the service as absent.
func NewAMapClient(apiKey, baseURL string, timeout time.Duration) *AMapClient {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = "https://restapi.amap.com"
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &AMapClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type amapDirectionsResponse struct {
	Status string `json:"status"`
	Info   string `json:"info"`
	Route  struct {
		Paths []struct {
			Distance string `json:"distance"`
			Duration string `json:"duration"`
			Steps    []struct {
				Polyline string `json:"polyline"`
			} `json:"steps"`
		} `json:"paths"`
	} `json:"route"`
}

type amapGeocodeResponse struct {
	Status   string `json:"status"`
	Info     string `json:"info"`
	Geocodes []struct {
		Location string `json:"location"`
	} `json:"geocodes"`
}

// Directions plans a route between two points. mode is "walking" or
// "driving"; the caller validates it.
func (c *AMapClient) Directions(ctx context.Context, mode string, origin, destination types.Location) (*types.RouteSummary, error) {
	endpoint := "/v3/direction/walking"
	if mode == "driving" {
		endpoint = "/v3/direction/driving"
	}
	query := url.Values{
		"key":         {c.apiKey},
		"origin":      {formatLocation(origin)},
		"destination": {formatLocation(destination)},
	}

	var parsed amapDirectionsResponse
	if err := c.get(ctx, endpoint, query, &parsed); err != nil {
		return nil, err
	}
	if parsed.Status != "1" || len(parsed.Route.Paths) == 0 {
		return nil, fmt.Errorf("%w: amap directions: %s", types.ErrUpstream, parsed.Info)
	}

	first := parsed.Route.Paths[0]
	distance, err := strconv.ParseFloat(first.Distance, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: amap directions: bad distance %q", types.ErrUpstream, first.Distance)
	}
	duration, err := strconv.ParseFloat(first.Duration, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: amap directions: bad duration %q", types.ErrUpstream, first.Duration)
	}

	var points []types.Location
	for _, step := range first.Steps {
		points = append(points, parsePolyline(step.Polyline)...)
	}
	if len(points) == 0 {
		points = []types.Location{origin, destination}
	}

	return &types.RouteSummary{
		Provider:  "amap",
		Mode:      mode,
		DistanceM: int(distance),
		DurationS: int(duration),
		Polyline:  points,
	}, nil
}

// Geocode resolves an address to a coordinate.
func (c *AMapClient) Geocode(ctx context.Context, address string) (types.Location, error) {
	query := url.Values{
		"key":     {c.apiKey},
		"address": {address},
	}

	var parsed amapGeocodeResponse
	if err := c.get(ctx, "/v3/geocode/geo", query, &parsed); err != nil {
		return types.Location{}, err
	}
	if parsed.Status != "1" || len(parsed.Geocodes) == 0 {
		return types.Location{}, fmt.Errorf("%w: amap geocode: %s", types.ErrUpstream, parsed.Info)
	}

	loc, ok := parseLocation(parsed.Geocodes[0].Location)
	if !ok {
		return types.Location{}, fmt.Errorf("%w: amap geocode: bad location %q", types.ErrUpstream, parsed.Geocodes[0].Location)
	}
	return loc, nil
}

func (c *AMapClient) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: amap request: %v", types.ErrUpstream, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: amap request: %v", types.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: amap response: %v", types.ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: amap status %d: %s", types.ErrUpstream, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: amap response: %v", types.ErrUpstream, err)
	}
	return nil
}

func formatLocation(loc types.Location) string {
	return strconv.FormatFloat(loc.Lng, 'f', 6, 64) + "," + strconv.FormatFloat(loc.Lat, 'f', 6, 64)
}

// parsePolyline splits AMap's "lng,lat;lng,lat" step polyline format,
// skipping malformed points.
func parsePolyline(polyline string) []types.Location {
	if polyline == "" {
		return nil
	}
	var points []types.Location
	for _, raw := range strings.Split(polyline, ";") {
		if loc, ok := parseLocation(raw); ok {
			points = append(points, loc)
		}
	}
	return points
}

func parseLocation(raw string) (types.Location, bool) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) != 2 {
		return types.Location{}, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return types.Location{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return types.Location{}, false
	}
	return types.Location{Lng: lng, Lat: lat}, true
}

var _ Geocoder = (*AMapClient)(nil)
