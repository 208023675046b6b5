// internal/orchestrator/memory.go
package orchestrator

import (
	"encoding/json"

	"github.com/user/arcadegent/internal/router"
	"github.com/user/arcadegent/internal/tools"
	"github.com/user/arcadegent/internal/types"
)

// memory is the per-run working state the stage loop accumulates. It starts
// from the request and grows as tool outputs land.
type memory struct {
	keyword   string
	shopID    int64
	shop      *types.ShopSummary
	shops     []types.ShopSummary
	total     *int
	searched  bool
	provider  string
	geoTried  bool
	origin    *types.Location
	dest      *types.Location
	route     *types.RouteSummary
	reply     string
	candidate types.Stage
	lastError string
}

func newMemory(req *types.ChatRequest) *memory {
	m := &memory{
		shopID: req.ShopID,
		origin: req.Location,
	}
	if req.Keyword != "" {
		m.keyword = req.Keyword
	} else {
		m.keyword = extractKeyword(req.Message)
	}
	return m
}

// apply folds a completed tool output into working memory and returns the
// transition outcome the router needs. Failed results only record the error.
func (m *memory) apply(res *tools.Result) router.Outcome {
	outcome := router.Outcome{ToolName: res.Tool, Completed: res.Completed}
	if !res.Completed {
		if res.Err != nil {
			m.lastError = res.Err.Error()
		}
		return outcome
	}

	switch res.Tool {
	case router.ToolArcadeSearch:
		var out tools.SearchOutput
		if json.Unmarshal(res.Output, &out) != nil {
			return outcome
		}
		m.searched = true
		if out.Shop != nil {
			m.shop = out.Shop
			m.shopID = out.Shop.SourceID
		}
		m.shops = out.Shops
		total := out.Total
		m.total = &total
		if m.shopID == 0 && len(out.Shops) > 0 {
			m.shopID = out.Shops[0].SourceID
		}
		outcome.Total = m.total
		outcome.HasShops = m.shop != nil || len(m.shops) > 0

	case router.ToolGeoResolve:
		m.geoTried = true
		var out tools.GeoOutput
		if json.Unmarshal(res.Output, &out) != nil {
			return outcome
		}
		m.provider = out.Provider
		if out.Resolved && out.Location != nil {
			m.dest = out.Location
		}

	case router.ToolRoutePlan:
		var out tools.RouteOutput
		if json.Unmarshal(res.Output, &out) != nil {
			return outcome
		}
		m.route = out.Route
		outcome.HasRoute = m.route != nil

	case router.ToolSummarize:
		var out tools.SummarizeOutput
		if json.Unmarshal(res.Output, &out) != nil {
			return outcome
		}
		m.reply = out.Reply

	case router.ToolSelectStage:
		var out tools.SelectStageOutput
		if json.Unmarshal(res.Output, &out) != nil {
			return outcome
		}
		m.candidate = out.NextSubagent
		outcome.Candidate = out.NextSubagent
	}

	outcome.HasRoute = outcome.HasRoute || m.route != nil
	outcome.HasShops = outcome.HasShops || m.shop != nil || len(m.shops) > 0
	return outcome
}

// shopName picks the best display name for the navigation summary.
func (m *memory) shopName() string {
	if m.shop != nil && m.shop.Name != "" {
		return m.shop.Name
	}
	if len(m.shops) > 0 && m.shops[0].Name != "" {
		return m.shops[0].Name
	}
	return "the arcade"
}

// totalOrZero is the match count for the search summary.
func (m *memory) totalOrZero() int {
	if m.total != nil {
		return *m.total
	}
	return 0
}
