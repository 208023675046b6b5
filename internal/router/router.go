// internal/router/router.go
package router

import (
	"regexp"
	"strings"

	"github.com/user/arcadegent/internal/types"
)

// Tool names known to the transition policy.
const (
	ToolArcadeSearch = "arcade_search"
	ToolGeoResolve   = "geo_resolve"
	ToolRoutePlan    = "route_plan"
	ToolSummarize    = "summarize"
	ToolSelectStage  = "select_stage"
)

// Outcome describes the last tool execution as seen by the router.
type Outcome struct {
	ToolName  string
	Completed bool
	// Total is the candidate count reported by a search call, when present.
	Total *int
	// Candidate is the stage proposed by the select_stage tool, when present.
	Candidate types.Stage
	HasRoute  bool
	HasShops  bool
}

var navigatePattern = regexp.MustCompile(`导航|路线|怎么去|怎么走|how to go|route|go to`)
var nearbyPattern = regexp.MustCompile(`附近|nearby|near`)

// InferIntent is the rule-based fallback classifier used when no explicit
// intent override is supplied and the stage-selection capability is not
// consulted.
func InferIntent(message string) types.Intent {
	text := strings.ToLower(strings.TrimSpace(message))
	if navigatePattern.MatchString(text) {
		return types.IntentNavigate
	}
	if nearbyPattern.MatchString(text) {
		return types.IntentSearchNearby
	}
	return types.IntentSearch
}

// NormalizeIntent collapses unknown or missing intents to search, the
// tie-break default. A run never blocks waiting for clarification.
func NormalizeIntent(raw types.Intent) types.Intent {
	switch raw {
	case types.IntentNavigate, types.IntentSearchNearby:
		return raw
	default:
		return types.IntentSearch
	}
}

// InitialStage maps a classified intent to the first content stage.
func InitialStage(intent types.Intent) types.Stage {
	if NormalizeIntent(intent) == types.IntentNavigate {
		return types.StageNavigation
	}
	return types.StageSearch
}

// IsTerminalTool reports whether the tool outcome ends the run: a completed
// summarize call produces the user-facing reply.
func IsTerminalTool(toolName string, completed bool) bool {
	return toolName == ToolSummarize && completed
}

// Next is the transition function from (state, intent, last tool outcome)
// to the next state. It is pure: all inputs are explicit.
func Next(current types.Stage, intent types.Intent, o Outcome) types.Stage {
	contentIntent := types.IntentSearch
	if NormalizeIntent(intent) == types.IntentNavigate {
		contentIntent = types.IntentNavigate
	}
	candidate := normalizeCandidate(o.Candidate)

	if o.ToolName == ToolSelectStage {
		if !o.Completed {
			return current
		}
		if candidate != "" {
			return chooseFromCandidate(current, candidate, contentIntent, o.HasRoute, o.HasShops)
		}
		if contentIntent == types.IntentNavigate {
			return types.StageNavigation
		}
		return types.StageSearch
	}

	if !o.Completed {
		return current
	}

	switch o.ToolName {
	case ToolArcadeSearch:
		if current == types.StageNavigation {
			if o.HasRoute {
				return types.StageSummary
			}
			return types.StageNavigation
		}
		if o.HasShops {
			return types.StageSummary
		}
		// A zero-result search moves straight to the summary stage for an
		// explicit no-result reply, never into a repeat query.
		if o.Total != nil && *o.Total <= 0 {
			return types.StageSummary
		}
		return types.StageSearch
	case ToolGeoResolve:
		return types.StageNavigation
	case ToolRoutePlan:
		if o.HasRoute {
			return types.StageSummary
		}
		return types.StageNavigation
	case ToolSummarize:
		return types.StageSummary
	}

	if current == types.StageIntentRouter {
		if contentIntent == types.IntentNavigate {
			return types.StageNavigation
		}
		return types.StageSearch
	}
	return current
}

func normalizeCandidate(raw types.Stage) types.Stage {
	switch raw {
	case types.StageIntentRouter, types.StageSearch, types.StageNavigation, types.StageSummary:
		return raw
	default:
		return ""
	}
}

func chooseFromCandidate(current, candidate types.Stage, contentIntent types.Intent, hasRoute, hasShops bool) types.Stage {
	if current == types.StageIntentRouter {
		if contentIntent == types.IntentNavigate {
			return types.StageNavigation
		}
		if candidate == types.StageSearch {
			return candidate
		}
		if candidate == types.StageSummary && hasShops {
			return candidate
		}
		return types.StageSearch
	}

	if candidate == types.StageSummary {
		if hasRoute || hasShops {
			return types.StageSummary
		}
		return current
	}
	return candidate
}
