// internal/tools/geo.go
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/arcadegent/internal/arcade"
	"github.com/user/arcadegent/internal/router"
	"github.com/user/arcadegent/internal/types"
)

// Geocoder turns a free-form address into a coordinate. Implemented by the
// AMap client; optional because the tool can work from stored coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Location, error)
}

// GeoArgs are the arguments for the geo_resolve tool. Exactly one of
// Location, ShopID or Address supplies the position to resolve;
// ProvinceCode drives the provider decision.
type GeoArgs struct {
	Location     *types.Location `json:"location,omitempty"`
	ShopID       int64           `json:"shop_id,omitempty"`
	Address      string          `json:"address,omitempty"`
	ProvinceCode string          `json:"province_code,omitempty"`
}

// GeoOutput is the geo_resolve result payload. Resolved=false is a normal
// completed outcome, not a failure.
type GeoOutput struct {
	Resolved bool            `json:"resolved"`
	Location *types.Location `json:"location,omitempty"`
	Provider string          `json:"provider"`
}

// GeoResolveTool resolves a position and picks the route provider for it.
type GeoResolveTool struct {
	store    *arcade.Store
	geocoder Geocoder
}

// NewGeoResolveTool creates the geo_resolve tool. geocoder may be nil.
func NewGeoResolveTool(store *arcade.Store, geocoder Geocoder) *GeoResolveTool {
	return &GeoResolveTool{store: store, geocoder: geocoder}
}

func (t *GeoResolveTool) Name() string { return router.ToolGeoResolve }

func (t *GeoResolveTool) Description() string {
	return "Resolve a coordinate from an explicit location, a shop id or an address, and pick the route provider."
}

func (t *GeoResolveTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"location": {
				"type": "object",
				"properties": {"lng": {"type": "number"}, "lat": {"type": "number"}}
			},
			"shop_id": {"type": "integer"},
			"address": {"type": "string"},
			"province_code": {"type": "string"}
		}
	}`)
}

func (t *GeoResolveTool) Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args GeoArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: decode arguments: %v", types.ErrValidation, err)
	}

	provider := ResolveProvider(args.ProvinceCode)
	out := GeoOutput{Provider: provider}

	switch {
	case args.Location != nil:
		out.Resolved = true
		out.Location = args.Location
	case args.ShopID != 0:
		shop, ok := t.store.Get(args.ShopID)
		if !ok {
			return nil, fmt.Errorf("%w: shop %d", types.ErrNotFound, args.ShopID)
		}
		if loc, ok := shop.Location(); ok {
			out.Resolved = true
			out.Location = &loc
		}
	case args.Address != "" && t.geocoder != nil:
		loc, err := t.geocoder.Geocode(ctx, args.Address)
		if err != nil {
			// Geocoding is best-effort: the route planner still works from
			// an unresolved position via the offline estimate path.
			slog.Warn("geocode failed", "address", args.Address, "error", err)
		} else {
			out.Resolved = true
			out.Location = &loc
		}
	}

	return json.Marshal(out)
}

// ResolveProvider maps a Chinese administrative division code to a route
// provider. 12-digit mainland codes route through AMap; Taiwan (71),
// Hong Kong (81) and Macao (82) prefixes fall back to Google; an empty
// code means no provider at all.
func ResolveProvider(provinceCode string) string {
	code := strings.TrimSpace(provinceCode)
	if code == "" {
		return "none"
	}
	if len(code) == 12 && isDigits(code) {
		switch code[:2] {
		case "71", "81", "82":
			return "google"
		default:
			return "amap"
		}
	}
	return "google"
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var _ Tool = (*GeoResolveTool)(nil)
