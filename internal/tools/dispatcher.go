// internal/tools/dispatcher.go
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/arcadegent/internal/router"
	"github.com/user/arcadegent/internal/types"
)

// Call is one tool invocation requested by a stage.
type Call struct {
	ID   types.CallID
	Tool string
	Args any
}

// Result is the normalized outcome of a dispatched call. Exactly one of
// Output (Completed=true) or Err (Completed=false) is meaningful.
type Result struct {
	CallID    types.CallID
	Tool      string
	Completed bool
	Output    json.RawMessage
	Err       error
}

// Dispatcher validates and executes tool calls, wrapping each in
// started/completed/failed lifecycle events on the session's event log.
type Dispatcher struct {
	registry *Registry
	events   types.EventLog
	timeout  time.Duration
}

// NewDispatcher creates a Dispatcher. timeout bounds each individual call.
func NewDispatcher(registry *Registry, events types.EventLog, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{registry: registry, events: events, timeout: timeout}
}

// Dispatch runs one call on behalf of a stage. tool.started opens the
// lifecycle before any validation, so a rejected call still reads as
// started-then-failed on the stream. Permission and argument validation
// happen before the external capability is reached; every failure produces
// a tool.failed event, never a silent error.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID types.SessionID, stage types.Stage, call Call) *Result {
	if call.ID == "" {
		call.ID = types.NewCallID()
	}

	d.publish(sessionID, types.EventToolStarted, map[string]any{
		"tool":    call.Tool,
		"call_id": call.ID,
	})

	args, err := marshalArgs(call.Args)
	if err != nil {
		return d.failed(sessionID, call, fmt.Errorf("%w: encode arguments: %v", types.ErrValidation, err))
	}

	if !d.registry.Allowed(stage, call.Tool) {
		return d.failed(sessionID, call,
			fmt.Errorf("%w: tool %q not permitted for stage %q", types.ErrValidation, call.Tool, stage))
	}
	tool, ok := d.registry.Get(call.Tool)
	if !ok {
		return d.failed(sessionID, call, fmt.Errorf("%w: unknown tool %q", types.ErrValidation, call.Tool))
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	output, err := tool.Execute(callCtx, args)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s timed out after %s", types.ErrToolExecution, call.Tool, d.timeout)
		} else if !errors.Is(err, types.ErrValidation) && !errors.Is(err, types.ErrUpstream) && !errors.Is(err, types.ErrNotFound) {
			err = fmt.Errorf("%w: %v", types.ErrToolExecution, err)
		}
		d.publish(sessionID, types.EventToolFailed, map[string]any{
			"tool":    call.Tool,
			"call_id": call.ID,
			"error":   err.Error(),
		})
		slog.Warn("tool failed", "session_id", sessionID, "tool", call.Tool, "error", err)
		return &Result{CallID: call.ID, Tool: call.Tool, Err: err}
	}

	completed := map[string]any{
		"tool":    call.Tool,
		"call_id": call.ID,
	}
	if call.Tool == router.ToolRoutePlan {
		if route := extractRoute(output); route != nil {
			d.publish(sessionID, types.EventNavigationRoute, route)
			completed["distance_m"] = route.DistanceM
		}
	}
	d.publish(sessionID, types.EventToolCompleted, completed)
	slog.Info("tool completed", "session_id", sessionID, "tool", call.Tool)

	return &Result{CallID: call.ID, Tool: call.Tool, Completed: true, Output: output}
}

func (d *Dispatcher) failed(sessionID types.SessionID, call Call, err error) *Result {
	d.publish(sessionID, types.EventToolFailed, map[string]any{
		"tool":    call.Tool,
		"call_id": call.ID,
		"error":   err.Error(),
	})
	slog.Warn("tool rejected", "session_id", sessionID, "tool", call.Tool, "error", err)
	return &Result{CallID: call.ID, Tool: call.Tool, Err: err}
}

func (d *Dispatcher) publish(sessionID types.SessionID, name types.EventName, data any) {
	if d.events == nil {
		return
	}
	if _, err := d.events.Publish(sessionID, name, data); err != nil {
		slog.Error("publish event failed", "session_id", sessionID, "event", name, "error", err)
	}
}

func marshalArgs(args any) (json.RawMessage, error) {
	if args == nil {
		return json.RawMessage(`{}`), nil
	}
	if raw, ok := args.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(args)
}

func extractRoute(output json.RawMessage) *types.RouteSummary {
	var wrapper struct {
		Route *types.RouteSummary `json:"route"`
	}
	if err := json.Unmarshal(output, &wrapper); err != nil {
		return nil
	}
	return wrapper.Route
}
