// internal/types/protocol.go
package types

// Location is a WGS84 coordinate pair.
type Location struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// ArcadeTitle is one machine entry under a shop.
type ArcadeTitle struct {
	ID        int    `json:"id,omitempty"`
	TitleID   string `json:"title_id,omitempty"`
	TitleName string `json:"title_name,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
	Version   string `json:"version,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

// ShopSummary is the row shape returned by search and listing APIs.
type ShopSummary struct {
	Source       string `json:"source"`
	SourceID     int64  `json:"source_id"`
	SourceURL    string `json:"source_url"`
	Name         string `json:"name"`
	NamePinyin   string `json:"name_pinyin,omitempty"`
	Address      string `json:"address,omitempty"`
	Transport    string `json:"transport,omitempty"`
	ProvinceCode string `json:"province_code,omitempty"`
	ProvinceName string `json:"province_name,omitempty"`
	CityCode     string `json:"city_code,omitempty"`
	CityName     string `json:"city_name,omitempty"`
	CountyCode   string `json:"county_code,omitempty"`
	CountyName   string `json:"county_name,omitempty"`
	Price        string `json:"price,omitempty"`
	FavCount     int    `json:"fav_count,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
	ArcadeCount  int    `json:"arcade_count"`
}

// PagedShops is the paginated list contract for the arcade listing API.
type PagedShops struct {
	Items      []ShopSummary `json:"items"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	Total      int           `json:"total"`
	TotalPages int           `json:"total_pages"`
}

// Region is one province/city/county entry for cascade filters.
type Region struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// RouteSummary is the route plan payload returned by the navigation flow.
// Hint carries a human-readable note when no real route could be computed.
type RouteSummary struct {
	Provider  string     `json:"provider"`
	Mode      string     `json:"mode"`
	DistanceM int        `json:"distance_m"`
	DurationS int        `json:"duration_s"`
	Polyline  []Location `json:"polyline,omitempty"`
	Hint      string     `json:"hint,omitempty"`
}

// ChatRequest is the submit-message entrypoint. A missing session id means
// a new session.
type ChatRequest struct {
	SessionID    SessionID `json:"session_id,omitempty"`
	Message      string    `json:"message"`
	Intent       Intent    `json:"intent,omitempty"`
	ShopID       int64     `json:"shop_id,omitempty"`
	Location     *Location `json:"location,omitempty"`
	Keyword      string    `json:"keyword,omitempty"`
	ProvinceCode string    `json:"province_code,omitempty"`
	CityCode     string    `json:"city_code,omitempty"`
	CountyCode   string    `json:"county_code,omitempty"`
	PageSize     int       `json:"page_size,omitempty"`
}

// ChatResponse is the final result of one run.
type ChatResponse struct {
	SessionID SessionID     `json:"session_id"`
	Intent    Intent        `json:"intent"`
	Reply     string        `json:"reply"`
	Shops     []ShopSummary `json:"shops"`
	Route     *RouteSummary `json:"route,omitempty"`
}

// SessionSummary is the session directory card.
type SessionSummary struct {
	SessionID SessionID `json:"session_id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview,omitempty"`
	Intent    Intent    `json:"intent"`
	TurnCount int       `json:"turn_count"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
}

// SessionDetail is the full session payload including the transcript.
type SessionDetail struct {
	SessionID      SessionID `json:"session_id"`
	Intent         Intent    `json:"intent"`
	ActiveSubagent Stage     `json:"active_subagent"`
	TurnCount      int       `json:"turn_count"`
	CreatedAt      string    `json:"created_at"`
	UpdatedAt      string    `json:"updated_at"`
	Turns          []Turn    `json:"turns"`
}
