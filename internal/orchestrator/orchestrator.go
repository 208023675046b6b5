// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/user/arcadegent/internal/prompt"
	"github.com/user/arcadegent/internal/router"
	"github.com/user/arcadegent/internal/tools"
	"github.com/user/arcadegent/internal/types"
)

const (
	defaultPageSize  = 5
	defaultRouteMode = "walking"
	tokenChunkRunes  = 24
	maxMessageRunes  = 2000

	apologyReply = "Sorry, the assistant is temporarily unavailable. Please try again shortly."
)

// Orchestrator runs one conversation turn at a time per session: it owns the
// per-session run locks, the global concurrency cap, the stage loop and the
// retry policy around tool calls.
type Orchestrator struct {
	sessions   types.SessionStore
	events     types.EventLog
	dispatcher *tools.Dispatcher
	prompts    *prompt.Builder
	maxSteps   int
	sem        *semaphore.Weighted

	mu      sync.Mutex
	running map[types.SessionID]struct{}
}

// New creates an Orchestrator. prompts may be nil when no LLM is configured.
func New(sessions types.SessionStore, events types.EventLog, dispatcher *tools.Dispatcher, prompts *prompt.Builder, maxConcurrent, maxSteps int) *Orchestrator {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxSteps < 2 {
		maxSteps = 2
	}
	return &Orchestrator{
		sessions:   sessions,
		events:     events,
		dispatcher: dispatcher,
		prompts:    prompts,
		maxSteps:   maxSteps,
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		running:    make(map[types.SessionID]struct{}),
	}
}

// Active reports whether a run is currently executing for the session.
func (o *Orchestrator) Active(id types.SessionID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[id]
	return ok
}

// tryLock claims the session's run slot. At most one run per session.
func (o *Orchestrator) tryLock(id types.SessionID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.running[id]; ok {
		return false
	}
	o.running[id] = struct{}{}
	return true
}

func (o *Orchestrator) unlock(id types.SessionID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, id)
}

// DeleteSession removes a session and all its state. A session with a run in
// flight is refused so the run never writes into a deleted directory.
func (o *Orchestrator) DeleteSession(ctx context.Context, id types.SessionID) error {
	if !o.tryLock(id) {
		return fmt.Errorf("%w: session %s has a run in flight", types.ErrConcurrencyConflict, id)
	}
	defer o.unlock(id)
	return o.sessions.Delete(ctx, id)
}

// RunTurn executes one conversation turn end to end and returns the final
// response. It blocks until the run reaches a terminal event.
func (o *Orchestrator) RunTurn(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	if req == nil || req.Message == "" {
		return nil, fmt.Errorf("%w: message is required", types.ErrValidation)
	}
	if utf8.RuneCountInString(req.Message) > maxMessageRunes {
		return nil, fmt.Errorf("%w: message exceeds %d characters", types.ErrValidation, maxMessageRunes)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = types.NewSessionID()
	}
	if !o.tryLock(sessionID) {
		return nil, fmt.Errorf("%w: session %s already has a run in flight", types.ErrConcurrencyConflict, sessionID)
	}
	defer o.unlock(sessionID)

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire run slot: %w", err)
	}
	defer o.sem.Release(1)

	sess, err := o.sessions.Create(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history, err := o.sessions.Turns(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	intent := req.Intent
	if intent == "" && sess.TurnCount > 0 {
		intent = sess.Intent
	}

	mem := newMemory(req)
	recap := ""
	if o.prompts != nil {
		recap = o.prompts.Recap(history)
	}

	runID := types.NewRunID()
	slog.Info("run start",
		"session_id", sessionID,
		"run_id", runID,
		"intent", intent,
		"keyword", shorten(mem.keyword, 48),
		"message", shorten(req.Message, 140),
	)

	o.publish(sessionID, types.EventSessionStarted, map[string]any{
		"run_id":          runID,
		"intent":          intent,
		"active_subagent": types.StageIntentRouter,
	})

	turns := []types.Turn{types.NewTurn(types.RoleUser, req.Message)}

	stage := types.StageIntentRouter
	retried := make(map[string]bool)
	for step := 1; step <= o.maxSteps && mem.reply == ""; step++ {
		call, done, earlyReply := o.planCall(stage, req, mem, intent, recap)
		if done {
			mem.reply = earlyReply
			break
		}

		res := o.dispatcher.Dispatch(ctx, sessionID, stage, call)
		if res.Err != nil && o.shouldRetry(stage, call.Tool, res.Err, retried) {
			retried[call.Tool] = true
			o.publish(sessionID, types.EventToolProgress, map[string]any{
				"tool":    call.Tool,
				"attempt": 2,
			})
			res = o.dispatcher.Dispatch(ctx, sessionID, stage, call)
		}
		if res.Err != nil && errors.Is(res.Err, types.ErrUpstream) {
			return nil, o.fail(ctx, sessionID, intent, turns, res.Err)
		}

		outcome := mem.apply(res)
		turns = append(turns, toolTurn(res))

		if res.Err != nil {
			// Content-stage failures degrade to the summary stage so the
			// run still produces a reply; a summary failure falls through
			// to the deterministic fallback below.
			if stage == types.StageSummary {
				break
			}
			stage = o.transition(sessionID, stage, types.StageSummary)
			continue
		}

		if stage == types.StageIntentRouter && res.Tool == router.ToolSelectStage {
			var out tools.SelectStageOutput
			if json.Unmarshal(res.Output, &out) == nil && out.Intent != "" {
				intent = out.Intent
			}
		}

		if router.IsTerminalTool(res.Tool, res.Completed) {
			break
		}
		stage = o.transition(sessionID, stage, router.Next(stage, intent, outcome))
	}

	if mem.reply == "" {
		slog.Warn("run fallback", "session_id", sessionID, "last_error", shorten(mem.lastError, 180))
		mem.reply = o.fallbackReply(mem, req, intent)
	}

	return o.finish(ctx, sessionID, intent, mem, turns)
}

// shouldRetry allows exactly one retry per tool in the content stages.
// Validation faults and upstream faults never retry: the former cannot
// change and the latter is fatal for the run.
func (o *Orchestrator) shouldRetry(stage types.Stage, toolName string, err error, retried map[string]bool) bool {
	if stage != types.StageSearch && stage != types.StageNavigation {
		return false
	}
	if retried[toolName] {
		return false
	}
	if errors.Is(err, types.ErrValidation) || errors.Is(err, types.ErrUpstream) || errors.Is(err, types.ErrNotFound) {
		return false
	}
	return true
}

// planCall picks the tool the current stage needs from working memory.
// Returning done=true short-circuits the run with an explicit reply when a
// required input is missing.
func (o *Orchestrator) planCall(stage types.Stage, req *types.ChatRequest, mem *memory, intent types.Intent, recap string) (call tools.Call, done bool, reply string) {
	switch stage {
	case types.StageIntentRouter:
		return tools.Call{
			Tool: router.ToolSelectStage,
			Args: tools.SelectStageArgs{
				CurrentSubagent: types.StageIntentRouter,
				Intent:          intent,
				Message:         req.Message,
			},
		}, false, ""

	case types.StageSearch:
		if !mem.searched {
			return tools.Call{
				Tool: router.ToolArcadeSearch,
				Args: tools.SearchArgs{
					Keyword:      mem.keyword,
					ProvinceCode: req.ProvinceCode,
					CityCode:     req.CityCode,
					CountyCode:   req.CountyCode,
					Page:         1,
					PageSize:     pageSize(req.PageSize),
				},
			}, false, ""
		}
		return o.summarizeCall(mem, recap), false, ""

	case types.StageNavigation:
		if mem.shop == nil {
			if mem.shopID == 0 {
				return tools.Call{}, true, "Please provide a shop_id so I can plan a route."
			}
			return tools.Call{
				Tool: router.ToolArcadeSearch,
				Args: tools.SearchArgs{ShopID: mem.shopID},
			}, false, ""
		}
		if mem.dest == nil {
			if mem.geoTried {
				return tools.Call{}, true, "I couldn't determine that arcade's location, so no route can be planned."
			}
			return tools.Call{
				Tool: router.ToolGeoResolve,
				Args: tools.GeoArgs{
					ShopID:       mem.shopID,
					ProvinceCode: mem.shop.ProvinceCode,
				},
			}, false, ""
		}
		if mem.route == nil {
			if mem.origin == nil {
				return tools.Call{}, true, "Please share your location so I can plan the route."
			}
			provider := mem.provider
			if provider == "" {
				provider = "none"
			}
			return tools.Call{
				Tool: router.ToolRoutePlan,
				Args: tools.RouteArgs{
					Provider:    provider,
					Mode:        defaultRouteMode,
					Origin:      mem.origin,
					Destination: mem.dest,
				},
			}, false, ""
		}
		return o.summarizeCall(mem, recap), false, ""

	default:
		return o.summarizeCall(mem, recap), false, ""
	}
}

func (o *Orchestrator) summarizeCall(mem *memory, recap string) tools.Call {
	if mem.route != nil {
		return tools.Call{
			Tool: router.ToolSummarize,
			Args: tools.SummarizeArgs{
				Topic:        "navigation",
				ShopName:     mem.shopName(),
				Route:        mem.route,
				Conversation: recap,
			},
		}
	}
	return tools.Call{
		Tool: router.ToolSummarize,
		Args: tools.SummarizeArgs{
			Topic:        "search",
			Keyword:      mem.keyword,
			Total:        mem.totalOrZero(),
			Shops:        mem.shops,
			Conversation: recap,
		},
	}
}

// transition moves to the next stage and emits subagent.changed when the
// stage actually changes.
func (o *Orchestrator) transition(sessionID types.SessionID, from, to types.Stage) types.Stage {
	if from == to {
		return to
	}
	o.publish(sessionID, types.EventSubagentChanged, map[string]any{
		"from": from,
		"to":   to,
	})
	slog.Debug("stage transition", "session_id", sessionID, "from", from, "to", to)
	return to
}

// finish persists the turn, streams the reply and emits the terminal event.
func (o *Orchestrator) finish(ctx context.Context, sessionID types.SessionID, intent types.Intent, mem *memory, turns []types.Turn) (*types.ChatResponse, error) {
	for _, chunk := range chunkRunes(mem.reply, tokenChunkRunes) {
		o.publish(sessionID, types.EventAssistantToken, map[string]any{"text": chunk})
	}

	turns = append(turns, types.NewTurn(types.RoleAssistant, mem.reply))
	normalized := router.NormalizeIntent(intent)
	if err := o.sessions.AppendTurns(ctx, sessionID, turns, types.StageDone, normalized); err != nil {
		// The run still has to reach a terminal event so subscribers close
		// and retention can reclaim the stream.
		err = fmt.Errorf("persist turn: %w", err)
		o.publish(sessionID, types.EventSessionFailed, map[string]any{"error": err.Error()})
		slog.Error("run failed", "session_id", sessionID, "error", err)
		return nil, err
	}

	o.publish(sessionID, types.EventAssistantCompleted, map[string]any{"reply": mem.reply})
	slog.Info("run done",
		"session_id", sessionID,
		"intent", normalized,
		"shops", len(mem.shops),
		"reply", shorten(mem.reply, 160),
	)

	shops := mem.shops
	if shops == nil && mem.shop != nil {
		shops = []types.ShopSummary{*mem.shop}
	}
	if shops == nil {
		shops = []types.ShopSummary{}
	}
	return &types.ChatResponse{
		SessionID: sessionID,
		Intent:    normalized,
		Reply:     mem.reply,
		Shops:     shops,
		Route:     mem.route,
	}, nil
}

// fail ends the run on an upstream fault: the apology turn is still
// persisted so the transcript explains the gap, then session.failed closes
// the stream.
func (o *Orchestrator) fail(ctx context.Context, sessionID types.SessionID, intent types.Intent, turns []types.Turn, cause error) error {
	turns = append(turns, types.NewTurn(types.RoleAssistant, apologyReply))
	if err := o.sessions.AppendTurns(ctx, sessionID, turns, types.StageFailed, router.NormalizeIntent(intent)); err != nil {
		slog.Error("persist failed turn", "session_id", sessionID, "error", err)
	}
	o.publish(sessionID, types.EventSessionFailed, map[string]any{"error": cause.Error()})
	slog.Error("run failed", "session_id", sessionID, "error", cause)
	return cause
}

func (o *Orchestrator) publish(sessionID types.SessionID, name types.EventName, data any) {
	if o.events == nil {
		return
	}
	if _, err := o.events.Publish(sessionID, name, data); err != nil {
		slog.Error("publish event failed", "session_id", sessionID, "event", name, "error", err)
	}
}

// fallbackReply guarantees the run always ends with text, mirroring the
// summary templates for the states a degraded run can land in.
func (o *Orchestrator) fallbackReply(mem *memory, req *types.ChatRequest, intent types.Intent) string {
	if mem.reply != "" {
		return mem.reply
	}

	if router.NormalizeIntent(intent) == types.IntentNavigate {
		if mem.route != nil {
			return "The route is ready; ask again for a complete summary."
		}
		if req.ShopID == 0 && mem.shopID == 0 {
			return "Please provide a shop_id before asking for navigation."
		}
		return "The navigation flow is incomplete, please retry."
	}

	if len(mem.shops) > 0 {
		return fmt.Sprintf("Matched arcades found, start with %s.", mem.shops[0].Name)
	}
	if mem.lastError != "" {
		return fmt.Sprintf("Request processed but a tool failed: %s", shorten(mem.lastError, 160))
	}
	if mem.keyword != "" {
		return fmt.Sprintf("Request received but no sufficient result for '%s', try another keyword.", mem.keyword)
	}
	return "Request received but no sufficient result, try another keyword."
}

func toolTurn(res *tools.Result) types.Turn {
	content := string(res.Output)
	if res.Err != nil {
		content = fmt.Sprintf(`{"error":%q}`, res.Err.Error())
	}
	turn := types.NewTurn(types.RoleTool, content)
	turn.Name = res.Tool
	turn.CallID = res.CallID
	return turn
}

func pageSize(requested int) int {
	if requested < 1 {
		return defaultPageSize
	}
	return requested
}

// chunkRunes splits text into rune-bounded chunks for token streaming.
func chunkRunes(text string, size int) []string {
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
