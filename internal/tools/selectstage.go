// internal/tools/selectstage.go
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/arcadegent/internal/router"
	"github.com/user/arcadegent/internal/types"
	"github.com/user/arcadegent/pkg/llm"
)

const classifySystem = "You classify arcade assistant requests. " +
	"Answer with exactly one word: search, search_nearby or navigate."

// SelectStageArgs are the arguments for the select_stage tool. When Intent
// is empty the tool classifies Message; the remaining fields describe the
// last tool outcome the transition should react to.
type SelectStageArgs struct {
	CurrentSubagent types.Stage  `json:"current_subagent"`
	Intent          types.Intent `json:"intent,omitempty"`
	Message         string       `json:"message,omitempty"`
	ToolName        string       `json:"tool_name,omitempty"`
	ToolCompleted   bool         `json:"tool_completed,omitempty"`
	HasRoute        bool         `json:"has_route,omitempty"`
	HasShops        bool         `json:"has_shops,omitempty"`
}

// SelectStageOutput is the select_stage result payload.
type SelectStageOutput struct {
	NextSubagent types.Stage  `json:"next_subagent"`
	Intent       types.Intent `json:"intent"`
	Done         bool         `json:"done"`
}

// SelectStageTool classifies intent and proposes the next subagent. The
// proposal is advisory: the transition policy still bounds what it can pick.
type SelectStageTool struct {
	provider llm.Provider
}

// NewSelectStageTool creates the select_stage tool. provider may be nil,
// which selects the rule-based classifier.
func NewSelectStageTool(provider llm.Provider) *SelectStageTool {
	return &SelectStageTool{provider: provider}
}

func (t *SelectStageTool) Name() string { return router.ToolSelectStage }

func (t *SelectStageTool) Description() string {
	return "Classify the request intent and propose the next subagent."
}

func (t *SelectStageTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"current_subagent": {"type": "string"},
			"intent": {"type": "string", "enum": ["search", "search_nearby", "navigate"]},
			"message": {"type": "string"},
			"tool_name": {"type": "string"},
			"tool_completed": {"type": "boolean"},
			"has_route": {"type": "boolean"},
			"has_shops": {"type": "boolean"}
		},
		"required": ["current_subagent"]
	}`)
}

func (t *SelectStageTool) Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args SelectStageArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: decode arguments: %v", types.ErrValidation, err)
	}

	intent := args.Intent
	if intent == "" && args.Message != "" {
		classified, err := t.classify(ctx, args.Message)
		if err != nil {
			return nil, err
		}
		intent = classified
	}
	intent = router.NormalizeIntent(intent)

	next := nextSubagent(args, intent)
	done := next == types.StageSummary &&
		args.ToolName == router.ToolSummarize &&
		args.ToolCompleted

	return json.Marshal(SelectStageOutput{
		NextSubagent: next,
		Intent:       intent,
		Done:         done,
	})
}

func nextSubagent(args SelectStageArgs, intent types.Intent) types.Stage {
	switch args.CurrentSubagent {
	case types.StageIntentRouter:
		if intent == types.IntentNavigate {
			return types.StageNavigation
		}
		return types.StageSearch
	case types.StageNavigation:
		if args.ToolName == router.ToolRoutePlan && args.ToolCompleted && args.HasRoute {
			return types.StageSummary
		}
		return types.StageNavigation
	case types.StageSearch:
		completed := args.ToolCompleted &&
			(args.ToolName == router.ToolArcadeSearch || args.ToolName == router.ToolSummarize)
		if completed || args.HasShops {
			return types.StageSummary
		}
		return types.StageSearch
	default:
		return types.StageSummary
	}
}

// classify asks the LLM for the intent, falling back to the rule-based
// matcher when no provider is configured. A configured provider that fails
// is an upstream fault, not a reason to guess.
func (t *SelectStageTool) classify(ctx context.Context, message string) (types.Intent, error) {
	if t.provider == nil {
		return router.InferIntent(message), nil
	}

	resp, err := t.provider.Complete(ctx, []llm.Message{
		{Role: "system", Content: classifySystem},
		{Role: "user", Content: message},
	})
	if err != nil {
		return "", fmt.Errorf("%w: classify intent: %v", types.ErrUpstream, err)
	}

	switch types.Intent(strings.ToLower(strings.TrimSpace(resp.Content))) {
	case types.IntentNavigate:
		return types.IntentNavigate, nil
	case types.IntentSearchNearby:
		return types.IntentSearchNearby, nil
	case types.IntentSearch:
		return types.IntentSearch, nil
	default:
		// An off-enum completion is treated like the rule fallback rather
		// than a fault; the matcher still sees the raw message.
		return router.InferIntent(message), nil
	}
}

var _ Tool = (*SelectStageTool)(nil)
