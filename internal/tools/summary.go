// internal/tools/summary.go
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

const (
	searchSummarySystem = "You are an arcade search assistant. " +
		"Return a concise Chinese summary in under 120 Chinese characters."
	navigationSummarySystem = "You are an arcade navigation assistant. " +
		"Return a concise Chinese route summary under 100 Chinese characters."
)

// SummarizeArgs are the arguments for the summarize tool. Topic selects the
// payload shape: "search" uses Keyword/Total/Shops, "navigation" uses
// ShopName/Route.
type SummarizeArgs struct {
	Topic    string              `json:"topic"`
	Keyword  string              `json:"keyword,omitempty"`
	Total    int                 `json:"total,omitempty"`
	Shops    []types.ShopSummary `json:"shops,omitempty"`
	ShopName string              `json:"shop_name,omitempty"`
	Route    *types.RouteSummary `json:"route,omitempty"`
	// Conversation is an optional transcript recap the LLM renderer folds
	// into its prompt. The template renderer ignores it.
	Conversation string `json:"conversation,omitempty"`
}

// SummarizeOutput is the summarize result payload.
type SummarizeOutput struct {
	Reply string `json:"reply"`
}

// SummarizeTool renders the user-facing reply, through the LLM when one is
// configured and through deterministic templates otherwise.
type SummarizeTool struct {
	provider llm.Provider
}

// NewSummarizeTool creates the summarize tool. provider may be nil, which
// selects the template renderer.
func NewSummarizeTool(provider llm.Provider) *SummarizeTool {
	return &SummarizeTool{provider: provider}
}

func (t *SummarizeTool) Name() string { return router.ToolSummarize }

func (t *SummarizeTool) Description() string {
	return "Render the final reply for a search result set or a planned route."
}

func (t *SummarizeTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"topic": {"type": "string", "enum": ["search", "navigation"]},
			"keyword": {"type": "string"},
			"total": {"type": "integer"},
			"shops": {"type": "array"},
			"shop_name": {"type": "string"},
			"route": {"type": "object"}
		},
		"required": ["topic"]
	}`)
}

func (t *SummarizeTool) Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args SummarizeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: decode arguments: %v", types.ErrValidation, err)
	}

	var reply string
	var err error
	switch args.Topic {
	case "search":
		reply, err = t.summarizeSearch(ctx, args)
	case "navigation":
		if args.Route == nil {
			return nil, fmt.Errorf("%w: navigation summary requires a route", types.ErrValidation)
		}
		reply, err = t.summarizeNavigation(ctx, args)
	default:
		return nil, fmt.Errorf("%w: topic must be search or navigation, got %q", types.ErrValidation, args.Topic)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(SummarizeOutput{Reply: reply})
}

func (t *SummarizeTool) summarizeSearch(ctx context.Context, args SummarizeArgs) (string, error) {
	if t.provider != nil {
		top := args.Shops
		if len(top) > 5 {
			top = top[:5]
		}
		facts := map[string]any{
			"keyword":   args.Keyword,
			"total":     args.Total,
			"top_shops": shopFacts(top),
		}
		if args.Conversation != "" {
			facts["conversation"] = args.Conversation
		}
		return t.complete(ctx, searchSummarySystem, facts)
	}
	return templateSearchSummary(args.Keyword, args.Total, args.Shops), nil
}

func (t *SummarizeTool) summarizeNavigation(ctx context.Context, args SummarizeArgs) (string, error) {
	if t.provider != nil {
		facts := map[string]any{
			"shop_name":  args.ShopName,
			"provider":   args.Route.Provider,
			"mode":       args.Route.Mode,
			"distance_m": args.Route.DistanceM,
			"duration_s": args.Route.DurationS,
			"hint":       args.Route.Hint,
		}
		if args.Conversation != "" {
			facts["conversation"] = args.Conversation
		}
		return t.complete(ctx, navigationSummarySystem, facts)
	}
	return templateNavigationSummary(args.ShopName, args.Route), nil
}

func (t *SummarizeTool) complete(ctx context.Context, system string, facts map[string]any) (string, error) {
	user, err := json.Marshal(facts)
	if err != nil {
		return "", fmt.Errorf("encode summary facts: %w", err)
	}
	resp, err := t.provider.Complete(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: string(user)},
	})
	if err != nil {
		return "", fmt.Errorf("%w: summarize: %v", types.ErrUpstream, err)
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", fmt.Errorf("%w: summarize: empty completion", types.ErrUpstream)
	}
	return reply, nil
}

func shopFacts(shops []types.ShopSummary) []map[string]any {
	out := make([]map[string]any, 0, len(shops))
	for _, shop := range shops {
		out = append(out, map[string]any{
			"name":         shop.Name,
			"city_name":    shop.CityName,
			"county_name":  shop.CountyName,
			"arcade_count": shop.ArcadeCount,
		})
	}
	return out
}

func templateSearchSummary(keyword string, total int, shops []types.ShopSummary) string {
	if total <= 0 {
		if keyword != "" {
			return fmt.Sprintf("No arcades found for '%s'. Try another keyword or location filter.", keyword)
		}
		return "No arcades found for current filters."
	}

	var preview []string
	for i, shop := range shops {
		if i >= 3 {
			break
		}
		city := shop.CityName
		if city == "" {
			city = "unknown city"
		}
		preview = append(preview, fmt.Sprintf("%d. %s (%s)", i+1, shop.Name, city))
	}
	out := fmt.Sprintf("Found %d arcade locations.", total)
	if len(preview) > 0 {
		out += " Suggested first: " + strings.Join(preview, "; ")
	}
	return out
}

func templateNavigationSummary(shopName string, route *types.RouteSummary) string {
	mins := route.DurationS / 60
	return fmt.Sprintf("Route to %s (%s): %d meters, about %d minutes.",
		shopName, route.Mode, route.DistanceM, mins)
}

var _ Tool = (*SummarizeTool)(nil)
