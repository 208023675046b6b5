// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// Stage names the steps of the sequential subagent state machine.
type Stage string

const (
	StageIntentRouter Stage = "intent_router"
	StageSearch       Stage = "search_agent"
	StageNavigation   Stage = "navigation_agent"
	StageSummary      Stage = "summary_agent"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// Intent classifies what the user message asks for.
type Intent string

const (
	IntentSearch       Intent = "search"
	IntentSearchNearby Intent = "search_nearby"
	IntentNavigate     Intent = "navigate"
)

// EventName is the closed set of progress event names a run may publish.
type EventName string

const (
	EventSessionStarted     EventName = "session.started"
	EventSubagentChanged    EventName = "subagent.changed"
	EventAssistantToken     EventName = "assistant.token"
	EventToolStarted        EventName = "tool.started"
	EventToolProgress       EventName = "tool.progress"
	EventToolCompleted      EventName = "tool.completed"
	EventToolFailed         EventName = "tool.failed"
	EventNavigationRoute    EventName = "navigation.route_ready"
	EventAssistantCompleted EventName = "assistant.completed"
	EventSessionFailed      EventName = "session.failed"
)

// Terminal reports whether the event name ends a run.
func (n EventName) Terminal() bool {
	return n == EventAssistantCompleted || n == EventSessionFailed
}

// Event is one entry in a session's ordered progress log. IDs start at 1
// and increase by exactly one per session.
type Event struct {
	ID        int64           `json:"id"`
	SessionID SessionID       `json:"session_id"`
	Name      EventName       `json:"event"`
	At        time.Time       `json:"at"`
	Data      json.RawMessage `json:"data"`
}

// TurnRole identifies who produced a conversation turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleTool      TurnRole = "tool"
)

// Turn is one message in a session transcript. Turns are append-only and
// ordered by creation time.
type Turn struct {
	Role      TurnRole  `json:"role"`
	Content   string    `json:"content"`
	Name      string    `json:"name,omitempty"`
	CallID    CallID    `json:"call_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn creates a turn stamped with the current UTC time.
func NewTurn(role TurnRole, content string) Turn {
	return Turn{Role: role, Content: content, CreatedAt: time.Now().UTC()}
}

// Session is the durable per-conversation record kept in the session index.
// Turns live in the per-session turns log, not in the index.
type Session struct {
	SessionID      SessionID `json:"session_id"`
	Intent         Intent    `json:"intent"`
	ActiveSubagent Stage     `json:"active_subagent"`
	TurnCount      int       `json:"turn_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
