// internal/tools/route.go
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/user/arcadegent/internal/router"
	"github.com/user/arcadegent/internal/types"
)

// RoutePlanner produces a real route between two points. Implemented by the
// AMap client.
type RoutePlanner interface {
	Directions(ctx context.Context, mode string, origin, destination types.Location) (*types.RouteSummary, error)
}

// Fallback straight-line travel speeds in meters per second.
const (
	drivingSpeedMPS = 9.0
	walkingSpeedMPS = 1.3
)

const offlineHint = "Route API unavailable; returned an offline estimate."

// RouteArgs are the arguments for the route_plan tool.
type RouteArgs struct {
	Provider    string          `json:"provider"`
	Mode        string          `json:"mode"`
	Origin      *types.Location `json:"origin"`
	Destination *types.Location `json:"destination"`
}

// RouteOutput is the route_plan result payload.
type RouteOutput struct {
	Route *types.RouteSummary `json:"route"`
}

// RoutePlanTool plans a route via the configured provider, degrading to a
// straight-line estimate when the provider is absent or errors out.
type RoutePlanTool struct {
	planner RoutePlanner
}

// NewRoutePlanTool creates the route_plan tool. planner may be nil, which
// forces the offline estimate for every call.
func NewRoutePlanTool(planner RoutePlanner) *RoutePlanTool {
	return &RoutePlanTool{planner: planner}
}

func (t *RoutePlanTool) Name() string { return router.ToolRoutePlan }

func (t *RoutePlanTool) Description() string {
	return "Plan a walking or driving route between two coordinates."
}

func (t *RoutePlanTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"provider": {"type": "string", "enum": ["amap", "google", "none"]},
			"mode": {"type": "string", "enum": ["walking", "driving"]},
			"origin": {
				"type": "object",
				"properties": {"lng": {"type": "number"}, "lat": {"type": "number"}},
				"required": ["lng", "lat"]
			},
			"destination": {
				"type": "object",
				"properties": {"lng": {"type": "number"}, "lat": {"type": "number"}},
				"required": ["lng", "lat"]
			}
		},
		"required": ["provider", "mode", "origin", "destination"]
	}`)
}

func (t *RoutePlanTool) Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args RouteArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: decode arguments: %v", types.ErrValidation, err)
	}
	switch args.Provider {
	case "amap", "google", "none":
	default:
		return nil, fmt.Errorf("%w: provider must be amap, google or none, got %q", types.ErrValidation, args.Provider)
	}
	switch args.Mode {
	case "walking", "driving":
	default:
		return nil, fmt.Errorf("%w: mode must be walking or driving, got %q", types.ErrValidation, args.Mode)
	}
	if args.Origin == nil || args.Destination == nil {
		return nil, fmt.Errorf("%w: origin and destination are required", types.ErrValidation)
	}

	if args.Provider == "amap" && t.planner != nil {
		route, err := t.planner.Directions(ctx, args.Mode, *args.Origin, *args.Destination)
		if err == nil {
			return json.Marshal(RouteOutput{Route: route})
		}
		slog.Warn("amap directions failed, using offline estimate", "error", err)
	}

	route := estimateRoute(args.Provider, args.Mode, *args.Origin, *args.Destination)
	return json.Marshal(RouteOutput{Route: route})
}

func estimateRoute(provider, mode string, origin, destination types.Location) *types.RouteSummary {
	distance := int(haversineMeters(origin, destination))
	speed := walkingSpeedMPS
	if mode == "driving" {
		speed = drivingSpeedMPS
	}
	duration := 0
	if distance > 0 {
		duration = int(float64(distance) / speed)
	}
	return &types.RouteSummary{
		Provider:  provider,
		Mode:      mode,
		DistanceM: distance,
		DurationS: duration,
		Polyline:  []types.Location{origin, destination},
		Hint:      offlineHint,
	}
}

// haversineMeters is the great-circle distance between two WGS84 points.
func haversineMeters(a, b types.Location) float64 {
	const radiusM = 6371000.0
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	x := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(x), math.Sqrt(math.Max(1e-12, 1-x)))
	return radiusM * c
}

var _ Tool = (*RoutePlanTool)(nil)
