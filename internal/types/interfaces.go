// internal/types/interfaces.go
package types

import "context"

// SessionStore is durable keyed storage for session metadata and turns.
type SessionStore interface {
	Create(ctx context.Context, id SessionID) (*Session, error)
	Load(ctx context.Context, id SessionID) (*Session, error)
	Turns(ctx context.Context, id SessionID) ([]Turn, error)
	// AppendTurns atomically appends turns, bumps updated_at and records
	// the active subagent and resolved intent.
	AppendTurns(ctx context.Context, id SessionID, turns []Turn, active Stage, intent Intent) error
	List(ctx context.Context, limit int) ([]*Session, error)
	Delete(ctx context.Context, id SessionID) error
}

// EventLog is the per-session, append-only, ordered run-progress log with
// live fan-out and historical replay.
type EventLog interface {
	// Publish allocates the next id for the session, durably appends the
	// event and fans it out. It never blocks on slow subscribers.
	Publish(sessionID SessionID, name EventName, data any) (*Event, error)
	// Subscribe replays stored events with id > afterID, then delivers
	// live events in strict id order. The returned cancel func releases
	// the subscriber without affecting the run.
	Subscribe(sessionID SessionID, afterID int64) (<-chan *Event, func())
}
