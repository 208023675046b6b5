// internal/tools/dispatcher_test.go
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/user/arcadegent/internal/eventlog"
	"github.com/user/arcadegent/internal/types"
)

// stubTool is a configurable tool for dispatcher tests.
type stubTool struct {
	name   string
	output json.RawMessage
	err    error
	block  bool
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return "stub" }
func (s *stubTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (s *stubTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.output, s.err
}

func newTestDispatcher(t *testing.T, timeout time.Duration, ts ...Tool) (*Dispatcher, *eventlog.Log) {
	t.Helper()
	registry := NewRegistry()
	for _, tool := range ts {
		registry.Register(tool)
	}
	events := eventlog.New(t.TempDir())
	return NewDispatcher(registry, events, timeout), events
}

func eventNames(t *testing.T, events *eventlog.Log, id types.SessionID) []types.EventName {
	t.Helper()
	history, err := events.History(id, 0)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]types.EventName, 0, len(history))
	for _, event := range history {
		names = append(names, event.Name)
	}
	return names
}

func TestDispatchSuccessEmitsLifecycleEvents(t *testing.T) {
	d, events := newTestDispatcher(t, time.Second,
		&stubTool{name: "summarize", output: json.RawMessage(`{"reply":"ok"}`)})
	id := types.SessionID("s_ok")

	res := d.Dispatch(context.Background(), id, types.StageSummary, Call{Tool: "summarize"})
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if !res.Completed {
		t.Error("result should be completed")
	}
	if res.CallID == "" {
		t.Error("call id should be assigned")
	}

	names := eventNames(t, events, id)
	if len(names) != 2 || names[0] != types.EventToolStarted || names[1] != types.EventToolCompleted {
		t.Errorf("events = %v", names)
	}
}

func TestDispatchRejectsToolNotInStageAllowlist(t *testing.T) {
	d, events := newTestDispatcher(t, time.Second,
		&stubTool{name: "route_plan", output: json.RawMessage(`{}`)})
	id := types.SessionID("s_perm")

	res := d.Dispatch(context.Background(), id, types.StageSearch, Call{Tool: "route_plan"})
	if !errors.Is(res.Err, types.ErrValidation) {
		t.Errorf("got %v, want ErrValidation", res.Err)
	}

	// Rejections still read as a full lifecycle on the stream.
	names := eventNames(t, events, id)
	if len(names) != 2 || names[0] != types.EventToolStarted || names[1] != types.EventToolFailed {
		t.Errorf("events = %v, want tool.started then tool.failed", names)
	}
}

func TestDispatchRejectsUnknownTool(t *testing.T) {
	d, _ := newTestDispatcher(t, time.Second)

	res := d.Dispatch(context.Background(), "s_unknown", types.StageSummary, Call{Tool: "summarize"})
	if !errors.Is(res.Err, types.ErrValidation) {
		t.Errorf("got %v, want ErrValidation", res.Err)
	}
}

func TestDispatchTimeoutBecomesExecutionError(t *testing.T) {
	d, events := newTestDispatcher(t, 20*time.Millisecond,
		&stubTool{name: "arcade_search", block: true})
	id := types.SessionID("s_timeout")

	res := d.Dispatch(context.Background(), id, types.StageSearch, Call{Tool: "arcade_search"})
	if !errors.Is(res.Err, types.ErrToolExecution) {
		t.Errorf("got %v, want ErrToolExecution", res.Err)
	}

	names := eventNames(t, events, id)
	if names[len(names)-1] != types.EventToolFailed {
		t.Errorf("events = %v, want tool.failed last", names)
	}
}

func TestDispatchPreservesErrorTaxonomy(t *testing.T) {
	d, _ := newTestDispatcher(t, time.Second,
		&stubTool{name: "summarize", err: types.ErrUpstream},
		&stubTool{name: "arcade_search", err: errors.New("disk on fire")})

	res := d.Dispatch(context.Background(), "s_tax", types.StageSummary, Call{Tool: "summarize"})
	if !errors.Is(res.Err, types.ErrUpstream) {
		t.Errorf("got %v, want ErrUpstream preserved", res.Err)
	}

	res = d.Dispatch(context.Background(), "s_tax", types.StageSearch, Call{Tool: "arcade_search"})
	if !errors.Is(res.Err, types.ErrToolExecution) {
		t.Errorf("got %v, want ErrToolExecution wrap", res.Err)
	}
}

func TestDispatchEmitsRouteReadyForCompletedRoutePlan(t *testing.T) {
	output := json.RawMessage(`{"route":{"provider":"amap","mode":"walking","distance_m":1200,"duration_s":900}}`)
	d, events := newTestDispatcher(t, time.Second, &stubTool{name: "route_plan", output: output})
	id := types.SessionID("s_route")

	res := d.Dispatch(context.Background(), id, types.StageNavigation, Call{Tool: "route_plan"})
	if res.Err != nil {
		t.Fatal(res.Err)
	}

	names := eventNames(t, events, id)
	want := []types.EventName{types.EventToolStarted, types.EventNavigationRoute, types.EventToolCompleted}
	if len(names) != len(want) {
		t.Fatalf("events = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, names[i], want[i])
		}
	}
}
