// internal/server/server_test.go
package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/arcadegent/internal/arcade"
	"github.com/user/arcadegent/internal/eventlog"
	"github.com/user/arcadegent/internal/orchestrator"
	"github.com/user/arcadegent/internal/state"
	"github.com/user/arcadegent/internal/tools"
	"github.com/user/arcadegent/internal/types"
)

const fixtureJSONL = `{"source":"ziv","source_id":201,"source_url":"https://example.com/201","name":"Game Heaven","province_code":"310000000000","province_name":"上海市","city_code":"310100000000","city_name":"上海市","county_code":"310105000000","county_name":"长宁区","updated_at":"2025-06-01","longitude_gcj02":121.42,"latitude_gcj02":31.22,"arcades":[{"title_name":"maimai DX","quantity":4}]}
{"source":"ziv","source_id":202,"source_url":"https://example.com/202","name":"Joy Arcade","province_code":"310000000000","province_name":"上海市","city_code":"310100000000","city_name":"上海市","county_code":"310115000000","county_name":"浦东新区","updated_at":"2025-07-15","arcades":[{"title_name":"maimai DX","quantity":1}]}
`

// newTestServer wires the full stack over a temp dir, no LLM and no route
// provider, and serves it over httptest so the SSE path gets a real flusher.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	path := filepath.Join(dir, "shops.jsonl")
	if err := os.WriteFile(path, []byte(fixtureJSONL), 0o644); err != nil {
		t.Fatal(err)
	}
	shops, err := arcade.NewFromJSONL(path)
	if err != nil {
		t.Fatal(err)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewSearchTool(shops))
	registry.Register(tools.NewGeoResolveTool(shops, nil))
	registry.Register(tools.NewRoutePlanTool(nil))
	registry.Register(tools.NewSummarizeTool(nil))
	registry.Register(tools.NewSelectStageTool(nil))

	events := eventlog.New(dir)
	sessions := state.NewSessionStore(dir)
	dispatcher := tools.NewDispatcher(registry, events, 5*time.Second)
	runner := orchestrator.New(sessions, events, dispatcher, nil, 4, 8)

	ts := httptest.NewServer(NewServer(runner, sessions, events, shops, 100*time.Millisecond, 2*time.Second))
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, ts *httptest.Server, path string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s = %d, want %d (%s)", path, resp.StatusCode, wantStatus, body)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
}

func postChat(t *testing.T, ts *httptest.Server, req types.ChatRequest) *types.ChatResponse {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.URL+"/api/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST /api/chat = %d (%s)", resp.StatusCode, raw)
	}
	var out types.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return &out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	var out struct {
		Status string `json:"status"`
		Shops  int    `json:"shops"`
	}
	getJSON(t, ts, "/health", http.StatusOK, &out)
	if out.Status != "ok" || out.Shops != 2 {
		t.Errorf("health = %+v", out)
	}
}

func TestChatEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := postChat(t, ts, types.ChatRequest{Message: "找一下 maimai"})
	if resp.SessionID == "" {
		t.Error("session id missing")
	}
	if !strings.HasPrefix(resp.Reply, "Found 2 arcade locations.") {
		t.Errorf("reply = %q", resp.Reply)
	}
	if len(resp.Shops) != 2 {
		t.Errorf("shops = %d", len(resp.Shops))
	}
}

func TestChatValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(`{"message":""}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty message = %d, want 400", resp.StatusCode)
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	chat := postChat(t, ts, types.ChatRequest{SessionID: "s_http", Message: "找一下 maimai"})
	if chat.SessionID != "s_http" {
		t.Fatalf("session id = %s", chat.SessionID)
	}

	var list struct {
		Sessions []types.SessionSummary `json:"sessions"`
	}
	getJSON(t, ts, "/api/sessions", http.StatusOK, &list)
	if len(list.Sessions) != 1 || list.Sessions[0].SessionID != "s_http" {
		t.Fatalf("sessions = %+v", list.Sessions)
	}
	if list.Sessions[0].Title != "找一下 maimai" {
		t.Errorf("title = %q, want the first user turn", list.Sessions[0].Title)
	}
	if !strings.HasPrefix(list.Sessions[0].Preview, "Found 2 arcade locations.") {
		t.Errorf("preview = %q, want the last assistant turn", list.Sessions[0].Preview)
	}

	var detail types.SessionDetail
	getJSON(t, ts, "/api/sessions/s_http", http.StatusOK, &detail)
	if detail.ActiveSubagent != types.StageDone {
		t.Errorf("subagent = %s", detail.ActiveSubagent)
	}
	if len(detail.Turns) == 0 || detail.Turns[0].Role != types.RoleUser {
		t.Errorf("turns = %+v", detail.Turns)
	}

	getJSON(t, ts, "/api/sessions/s_missing", http.StatusNotFound, nil)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/s_http", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	getJSON(t, ts, "/api/sessions/s_http", http.StatusNotFound, nil)
}

// sseEvents parses "event:" lines out of a raw SSE body.
func sseEvents(body string) []string {
	var names []string
	for _, line := range strings.Split(body, "\n") {
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
		}
	}
	return names
}

func TestStreamReplayAndResume(t *testing.T) {
	ts := newTestServer(t)

	postChat(t, ts, types.ChatRequest{SessionID: "s_sse", Message: "找一下 maimai"})

	// The run is finished, so the stream replays everything and closes.
	resp, err := http.Get(ts.URL + "/api/stream/s_sse")
	if err != nil {
		t.Fatal(err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %s", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	names := sseEvents(string(raw))
	if len(names) == 0 || names[0] != "session.started" {
		t.Fatalf("events = %v", names)
	}
	if names[len(names)-1] != "assistant.completed" {
		t.Errorf("last event = %s", names[len(names)-1])
	}

	// Resume after all but the final event.
	cursor := int64(len(names) - 1)
	resp, err = http.Get(fmt.Sprintf("%s/api/stream/s_sse?last_event_id=%d", ts.URL, cursor))
	if err != nil {
		t.Fatal(err)
	}
	raw, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	resumed := sseEvents(string(raw))
	if len(resumed) != 1 || resumed[0] != "assistant.completed" {
		t.Errorf("resumed events = %v", resumed)
	}
	if !strings.Contains(string(raw), fmt.Sprintf("id: %d\n", cursor+1)) {
		t.Errorf("resumed body missing id %d: %s", cursor+1, raw)
	}
}

func TestStreamBadCursor(t *testing.T) {
	ts := newTestServer(t)

	getJSON(t, ts, "/api/stream/s_x?last_event_id=abc", http.StatusBadRequest, nil)
	getJSON(t, ts, "/api/stream/s_x?last_event_id=-1", http.StatusBadRequest, nil)
}

func TestRegionEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var provinces struct {
		Regions []types.Region `json:"regions"`
	}
	getJSON(t, ts, "/api/v1/regions/provinces", http.StatusOK, &provinces)
	if len(provinces.Regions) != 1 || provinces.Regions[0].Code != "310000000000" {
		t.Errorf("provinces = %+v", provinces.Regions)
	}

	var counties struct {
		Regions []types.Region `json:"regions"`
	}
	getJSON(t, ts, "/api/v1/regions/counties?city_code=310100000000", http.StatusOK, &counties)
	if len(counties.Regions) != 2 {
		t.Errorf("counties = %+v", counties.Regions)
	}

	getJSON(t, ts, "/api/v1/regions/cities", http.StatusBadRequest, nil)
	getJSON(t, ts, "/api/v1/regions/counties", http.StatusBadRequest, nil)
}

func TestArcadeListPaging(t *testing.T) {
	ts := newTestServer(t)

	var page types.PagedShops
	getJSON(t, ts, "/api/v1/arcades?page_size=1", http.StatusOK, &page)
	if page.Total != 2 || page.TotalPages != 2 || len(page.Items) != 1 {
		t.Errorf("page = %+v", page)
	}
	// Newest update first.
	if page.Items[0].SourceID != 202 {
		t.Errorf("first item = %d, want 202", page.Items[0].SourceID)
	}

	getJSON(t, ts, "/api/v1/arcades?keyword=heaven", http.StatusOK, &page)
	if page.Total != 1 || page.Items[0].SourceID != 201 {
		t.Errorf("keyword page = %+v", page)
	}

	getJSON(t, ts, "/api/v1/arcades?page_size=100", http.StatusBadRequest, nil)
	getJSON(t, ts, "/api/v1/arcades?page=0", http.StatusBadRequest, nil)
	getJSON(t, ts, "/api/v1/arcades?has_arcades=maybe", http.StatusBadRequest, nil)
}

func TestArcadeDetail(t *testing.T) {
	ts := newTestServer(t)

	var shop arcade.Shop
	getJSON(t, ts, "/api/v1/arcades/201", http.StatusOK, &shop)
	if shop.Name != "Game Heaven" || len(shop.Arcades) != 1 {
		t.Errorf("shop = %+v", shop)
	}

	getJSON(t, ts, "/api/v1/arcades/999", http.StatusNotFound, nil)
	getJSON(t, ts, "/api/v1/arcades/abc", http.StatusBadRequest, nil)
}
