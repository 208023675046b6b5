// internal/tools/search.go
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/user/arcadegent/internal/arcade"
	"github.com/user/arcadegent/internal/router"
	"github.com/user/arcadegent/internal/types"
)

const maxPageSize = 50

// SearchArgs are the arguments for the arcade_search tool. A non-zero
// ShopID turns the call into a point lookup and all filters are ignored.
type SearchArgs struct {
	ShopID       int64  `json:"shop_id,omitempty"`
	Keyword      string `json:"keyword,omitempty"`
	ProvinceCode string `json:"province_code,omitempty"`
	CityCode     string `json:"city_code,omitempty"`
	CountyCode   string `json:"county_code,omitempty"`
	HasArcades   *bool  `json:"has_arcades,omitempty"`
	Page         int    `json:"page,omitempty"`
	PageSize     int    `json:"page_size,omitempty"`
}

// SearchOutput is the arcade_search result payload. Shop is set only for
// point lookups; Shops always holds the matched rows so downstream stages
// can treat both shapes alike.
type SearchOutput struct {
	Shop     *types.ShopSummary  `json:"shop,omitempty"`
	Shops    []types.ShopSummary `json:"shops"`
	Total    int                 `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
	Keyword  string              `json:"keyword,omitempty"`
}

// SearchTool queries the in-memory arcade store.
type SearchTool struct {
	store *arcade.Store
}

// NewSearchTool creates the arcade_search tool over the given store.
func NewSearchTool(store *arcade.Store) *SearchTool {
	return &SearchTool{store: store}
}

func (t *SearchTool) Name() string { return router.ToolArcadeSearch }

func (t *SearchTool) Description() string {
	return "Search arcade shops by keyword and region filters, or fetch one shop by id."
}

func (t *SearchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"shop_id": {"type": "integer", "description": "Fetch a single shop by source id"},
			"keyword": {"type": "string"},
			"province_code": {"type": "string"},
			"city_code": {"type": "string"},
			"county_code": {"type": "string"},
			"has_arcades": {"type": "boolean"},
			"page": {"type": "integer", "minimum": 1},
			"page_size": {"type": "integer", "minimum": 1, "maximum": 50}
		}
	}`)
}

func (t *SearchTool) Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args SearchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: decode arguments: %v", types.ErrValidation, err)
	}

	if args.ShopID != 0 {
		shop, ok := t.store.Get(args.ShopID)
		if !ok {
			return nil, fmt.Errorf("%w: shop %d", types.ErrNotFound, args.ShopID)
		}
		out := SearchOutput{
			Shop:     &shop.ShopSummary,
			Shops:    []types.ShopSummary{shop.ShopSummary},
			Total:    1,
			Page:     1,
			PageSize: 1,
		}
		return json.Marshal(out)
	}

	if args.Page < 0 {
		return nil, fmt.Errorf("%w: page must be >= 1", types.ErrValidation)
	}
	if args.PageSize < 0 || args.PageSize > maxPageSize {
		return nil, fmt.Errorf("%w: page_size must be between 1 and %d", types.ErrValidation, maxPageSize)
	}
	page := args.Page
	if page == 0 {
		page = 1
	}
	pageSize := args.PageSize
	if pageSize == 0 {
		pageSize = 5
	}

	shops, total := t.store.Search(arcade.Query{
		Keyword:      args.Keyword,
		ProvinceCode: args.ProvinceCode,
		CityCode:     args.CityCode,
		CountyCode:   args.CountyCode,
		HasArcades:   args.HasArcades,
		Page:         page,
		PageSize:     pageSize,
	})

	out := SearchOutput{
		Shops:    make([]types.ShopSummary, 0, len(shops)),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Keyword:  args.Keyword,
	}
	for _, shop := range shops {
		out.Shops = append(out.Shops, shop.ShopSummary)
	}
	return json.Marshal(out)
}

var _ Tool = (*SearchTool)(nil)
