// internal/tools/selectstage_test.go
package tools

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/user/arcadegent/internal/router"
	"github.com/user/arcadegent/internal/types"
)

func selectStage(t *testing.T, tool Tool, args SelectStageArgs) SelectStageOutput {
	t.Helper()
	raw, err := execute(t, tool, args)
	if err != nil {
		t.Fatal(err)
	}
	var out SelectStageOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestSelectStageRoutesByIntent(t *testing.T) {
	tool := NewSelectStageTool(nil)

	out := selectStage(t, tool, SelectStageArgs{
		CurrentSubagent: types.StageIntentRouter,
		Intent:          types.IntentNavigate,
	})
	if out.NextSubagent != types.StageNavigation {
		t.Errorf("next = %s, want navigation_agent", out.NextSubagent)
	}

	out = selectStage(t, tool, SelectStageArgs{
		CurrentSubagent: types.StageIntentRouter,
		Intent:          types.IntentSearch,
	})
	if out.NextSubagent != types.StageSearch {
		t.Errorf("next = %s, want search_agent", out.NextSubagent)
	}
}

func TestSelectStageClassifiesMessageWithRules(t *testing.T) {
	tool := NewSelectStageTool(nil)

	out := selectStage(t, tool, SelectStageArgs{
		CurrentSubagent: types.StageIntentRouter,
		Message:         "怎么去中山公园的机厅",
	})
	if out.Intent != types.IntentNavigate || out.NextSubagent != types.StageNavigation {
		t.Errorf("out = %+v", out)
	}

	out = selectStage(t, tool, SelectStageArgs{
		CurrentSubagent: types.StageIntentRouter,
		Message:         "maimai arcades in shanghai",
	})
	if out.Intent != types.IntentSearch {
		t.Errorf("intent = %s, want search", out.Intent)
	}
}

func TestSelectStageNavigationWaitsForRoute(t *testing.T) {
	tool := NewSelectStageTool(nil)

	out := selectStage(t, tool, SelectStageArgs{
		CurrentSubagent: types.StageNavigation,
		Intent:          types.IntentNavigate,
		ToolName:        router.ToolGeoResolve,
		ToolCompleted:   true,
	})
	if out.NextSubagent != types.StageNavigation {
		t.Errorf("next = %s, want navigation_agent", out.NextSubagent)
	}

	out = selectStage(t, tool, SelectStageArgs{
		CurrentSubagent: types.StageNavigation,
		Intent:          types.IntentNavigate,
		ToolName:        router.ToolRoutePlan,
		ToolCompleted:   true,
		HasRoute:        true,
	})
	if out.NextSubagent != types.StageSummary {
		t.Errorf("next = %s, want summary_agent", out.NextSubagent)
	}
}

func TestSelectStageDoneFlag(t *testing.T) {
	tool := NewSelectStageTool(nil)

	out := selectStage(t, tool, SelectStageArgs{
		CurrentSubagent: types.StageSummary,
		Intent:          types.IntentSearch,
		ToolName:        router.ToolSummarize,
		ToolCompleted:   true,
	})
	if !out.Done {
		t.Error("completed summarize in summary stage should be done")
	}

	out = selectStage(t, tool, SelectStageArgs{
		CurrentSubagent: types.StageSearch,
		Intent:          types.IntentSearch,
		ToolName:        router.ToolArcadeSearch,
		ToolCompleted:   true,
	})
	if out.Done {
		t.Error("search completion is not terminal")
	}
}

func TestSelectStageLLMClassification(t *testing.T) {
	provider := &fakeProvider{content: " Navigate \n"}
	tool := NewSelectStageTool(provider)

	out := selectStage(t, tool, SelectStageArgs{
		CurrentSubagent: types.StageIntentRouter,
		Message:         "take me to shop 42",
	})
	if out.Intent != types.IntentNavigate {
		t.Errorf("intent = %s, want navigate", out.Intent)
	}

	// Off-enum completions fall back to the rule matcher.
	tool = NewSelectStageTool(&fakeProvider{content: "i think they want food"})
	out = selectStage(t, tool, SelectStageArgs{
		CurrentSubagent: types.StageIntentRouter,
		Message:         "附近有没有机厅",
	})
	if out.Intent != types.IntentSearchNearby {
		t.Errorf("intent = %s, want search_nearby", out.Intent)
	}
}

func TestSelectStageLLMFailureIsUpstream(t *testing.T) {
	tool := NewSelectStageTool(&fakeProvider{err: errors.New("timeout")})

	_, err := execute(t, tool, SelectStageArgs{
		CurrentSubagent: types.StageIntentRouter,
		Message:         "maimai arcades",
	})
	if !errors.Is(err, types.ErrUpstream) {
		t.Errorf("got %v, want ErrUpstream", err)
	}
}
