// internal/tools/route_test.go
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/user/arcadegent/internal/types"
)

// fakePlanner returns a canned route or error.
type fakePlanner struct {
	route *types.RouteSummary
	err   error
}

func (f *fakePlanner) Directions(ctx context.Context, mode string, origin, destination types.Location) (*types.RouteSummary, error) {
	return f.route, f.err
}

var (
	testOrigin = types.Location{Lng: 121.40, Lat: 31.20}
	testDest   = types.Location{Lng: 121.42, Lat: 31.22}
)

func planRoute(t *testing.T, tool Tool, args RouteArgs) RouteOutput {
	t.Helper()
	raw, err := execute(t, tool, args)
	if err != nil {
		t.Fatal(err)
	}
	var out RouteOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if out.Route == nil {
		t.Fatal("route missing from output")
	}
	return out
}

func TestRoutePlanValidation(t *testing.T) {
	tool := NewRoutePlanTool(nil)

	cases := []RouteArgs{
		{Provider: "baidu", Mode: "walking", Origin: &testOrigin, Destination: &testDest},
		{Provider: "amap", Mode: "flying", Origin: &testOrigin, Destination: &testDest},
		{Provider: "amap", Mode: "walking", Destination: &testDest},
		{Provider: "amap", Mode: "walking", Origin: &testOrigin},
	}
	for i, args := range cases {
		if _, err := execute(t, tool, args); !errors.Is(err, types.ErrValidation) {
			t.Errorf("case %d: got %v, want ErrValidation", i, err)
		}
	}
}

func TestRoutePlanUsesPlannerWhenAvailable(t *testing.T) {
	planned := &types.RouteSummary{Provider: "amap", Mode: "walking", DistanceM: 3456, DurationS: 2600}
	tool := NewRoutePlanTool(&fakePlanner{route: planned})

	out := planRoute(t, tool, RouteArgs{
		Provider: "amap", Mode: "walking",
		Origin: &testOrigin, Destination: &testDest,
	})
	if out.Route.DistanceM != 3456 || out.Route.Hint != "" {
		t.Errorf("route = %+v", out.Route)
	}
}

func TestRoutePlanFallsBackToEstimateOnPlannerError(t *testing.T) {
	tool := NewRoutePlanTool(&fakePlanner{err: errors.New("amap down")})

	out := planRoute(t, tool, RouteArgs{
		Provider: "amap", Mode: "walking",
		Origin: &testOrigin, Destination: &testDest,
	})
	if out.Route.Hint == "" {
		t.Error("estimate should carry a hint")
	}
	// ~2.9km great-circle distance between the two fixtures.
	if out.Route.DistanceM < 2500 || out.Route.DistanceM > 3500 {
		t.Errorf("distance = %d, want roughly 2900", out.Route.DistanceM)
	}
	if len(out.Route.Polyline) != 2 {
		t.Errorf("estimate polyline = %d points, want 2", len(out.Route.Polyline))
	}
}

func TestRoutePlanEstimateSpeeds(t *testing.T) {
	tool := NewRoutePlanTool(nil)

	walking := planRoute(t, tool, RouteArgs{
		Provider: "none", Mode: "walking",
		Origin: &testOrigin, Destination: &testDest,
	})
	driving := planRoute(t, tool, RouteArgs{
		Provider: "none", Mode: "driving",
		Origin: &testOrigin, Destination: &testDest,
	})
	if walking.Route.DurationS <= driving.Route.DurationS {
		t.Errorf("walking %ds should exceed driving %ds", walking.Route.DurationS, driving.Route.DurationS)
	}
}

func TestRoutePlanZeroDistance(t *testing.T) {
	tool := NewRoutePlanTool(nil)

	out := planRoute(t, tool, RouteArgs{
		Provider: "none", Mode: "walking",
		Origin: &testOrigin, Destination: &testOrigin,
	})
	if out.Route.DistanceM != 0 || out.Route.DurationS != 0 {
		t.Errorf("route = %+v, want zero distance and duration", out.Route)
	}
}

func TestParsePolyline(t *testing.T) {
	points := parsePolyline("121.40,31.20;121.41,31.21;bad;121.42,")
	if len(points) != 2 {
		t.Fatalf("parsed %d points, want 2", len(points))
	}
	if points[1].Lng != 121.41 {
		t.Errorf("second point = %+v", points[1])
	}
}
