// internal/server/server.go
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/user/arcadegent/internal/arcade"
	"github.com/user/arcadegent/internal/eventlog"
	"github.com/user/arcadegent/internal/orchestrator"
	"github.com/user/arcadegent/internal/types"
)

// Server is the HTTP front end: chat, the per-session event stream, the
// session directory and the read-only arcade catalog.
type Server struct {
	runner   *orchestrator.Orchestrator
	sessions types.SessionStore
	events   *eventlog.Log
	shops    *arcade.Store
	mux      *http.ServeMux

	keepalive time.Duration
	maxWait   time.Duration
}

// NewServer wires the HTTP routes. keepalive is the SSE comment interval,
// maxWait bounds how long an idle stream stays open.
func NewServer(runner *orchestrator.Orchestrator, sessions types.SessionStore, events *eventlog.Log, shops *arcade.Store, keepalive, maxWait time.Duration) *Server {
	s := &Server{
		runner:    runner,
		sessions:  sessions,
		events:    events,
		shops:     shops,
		mux:       http.NewServeMux(),
		keepalive: keepalive,
		maxWait:   maxWait,
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("GET /api/stream/", s.handleStream)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessionList)
	s.mux.HandleFunc("GET /api/sessions/", s.handleSessionDetail)
	s.mux.HandleFunc("DELETE /api/sessions/", s.handleSessionDelete)
	s.mux.HandleFunc("GET /api/v1/regions/provinces", s.handleProvinces)
	s.mux.HandleFunc("GET /api/v1/regions/cities", s.handleCities)
	s.mux.HandleFunc("GET /api/v1/regions/counties", s.handleCounties)
	s.mux.HandleFunc("GET /api/v1/arcades", s.handleArcadeList)
	s.mux.HandleFunc("GET /api/v1/arcades/", s.handleArcadeDetail)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.shops.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"shops":  stats.LoadedRows,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	resp, err := s.runner.RunTurn(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeErrorMessage(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	sessions, err := s.sessions.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]types.SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		title, preview := sessionCard(r, s.sessions, sess.SessionID)
		if title == "" {
			title = string(sess.SessionID)
		}
		out = append(out, types.SessionSummary{
			SessionID: sess.SessionID,
			Title:     title,
			Preview:   preview,
			Intent:    sess.Intent,
			TurnCount: sess.TurnCount,
			CreatedAt: sess.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt: sess.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(strings.TrimPrefix(r.URL.Path, "/api/sessions/"))
	if id == "" {
		writeErrorMessage(w, http.StatusBadRequest, "session id required")
		return
	}

	sess, err := s.sessions.Load(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	turns, err := s.sessions.Turns(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if turns == nil {
		turns = []types.Turn{}
	}

	writeJSON(w, http.StatusOK, types.SessionDetail{
		SessionID:      sess.SessionID,
		Intent:         sess.Intent,
		ActiveSubagent: sess.ActiveSubagent,
		TurnCount:      sess.TurnCount,
		CreatedAt:      sess.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      sess.UpdatedAt.UTC().Format(time.RFC3339),
		Turns:          turns,
	})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(strings.TrimPrefix(r.URL.Path, "/api/sessions/"))
	if id == "" {
		writeErrorMessage(w, http.StatusBadRequest, "session id required")
		return
	}

	if err := s.runner.DeleteSession(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.events.Drop(id)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": string(id)})
}

func (s *Server) handleProvinces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"regions": regionsOrEmpty(s.shops.Provinces())})
}

func (s *Server) handleCities(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("province_code")
	if code == "" {
		writeErrorMessage(w, http.StatusBadRequest, "province_code is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": regionsOrEmpty(s.shops.Cities(code))})
}

func (s *Server) handleCounties(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("city_code")
	if code == "" {
		writeErrorMessage(w, http.StatusBadRequest, "city_code is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": regionsOrEmpty(s.shops.Counties(code))})
}

func (s *Server) handleArcadeList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := positiveIntParam(q.Get("page"), 1)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	pageSize, err := positiveIntParam(q.Get("page_size"), 10)
	if err != nil || pageSize > 50 {
		writeErrorMessage(w, http.StatusBadRequest, "page_size must be between 1 and 50")
		return
	}

	query := arcade.Query{
		Keyword:      q.Get("keyword"),
		ProvinceCode: q.Get("province_code"),
		CityCode:     q.Get("city_code"),
		CountyCode:   q.Get("county_code"),
		Page:         page,
		PageSize:     pageSize,
	}
	if raw := q.Get("has_arcades"); raw != "" {
		has, err := strconv.ParseBool(raw)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "has_arcades must be a boolean")
			return
		}
		query.HasArcades = &has
	}

	shops, total := s.shops.Search(query)
	items := make([]types.ShopSummary, 0, len(shops))
	for _, shop := range shops {
		items = append(items, shop.ShopSummary)
	}
	writeJSON(w, http.StatusOK, types.PagedShops{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: (total + pageSize - 1) / pageSize,
	})
}

func (s *Server) handleArcadeDetail(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/arcades/")
	sourceID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "arcade id must be an integer")
		return
	}

	shop, ok := s.shops.Get(sourceID)
	if !ok {
		writeErrorMessage(w, http.StatusNotFound, "arcade not found")
		return
	}
	writeJSON(w, http.StatusOK, shop)
}

// sessionCard derives the directory card text: title from the first user
// turn, preview from the last assistant turn.
func sessionCard(r *http.Request, store types.SessionStore, id types.SessionID) (title, preview string) {
	turns, err := store.Turns(r.Context(), id)
	if err != nil {
		return "", ""
	}
	for _, turn := range turns {
		if turn.Role == types.RoleUser {
			title = truncate(turn.Content, 60)
			break
		}
	}
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == types.RoleAssistant {
			preview = truncate(turns[i].Content, 120)
			break
		}
	}
	return title, preview
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func regionsOrEmpty(regions []types.Region) []types.Region {
	if regions == nil {
		return []types.Region{}
	}
	return regions
}

func positiveIntParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		return 0, errors.New("not a positive integer")
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("write response failed", "error", err)
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrValidation):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrConcurrencyConflict):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, types.ErrUpstream):
		writeErrorMessage(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}
