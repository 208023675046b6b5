// internal/eventlog/log.go
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/arcadegent/internal/types"
)

// subscriberBuffer is the bounded per-subscriber delivery queue. A
// subscriber that falls this far behind is dropped rather than allowed to
// slow the run.
const subscriberBuffer = 128

// Log is a per-session, append-only, monotonically-id'd event log with live
// fan-out and historical replay. Events are persisted per-session in
// sessions/<sessionID>/events.jsonl. Id allocation is serialized per
// session; across sessions the log is fully concurrent.
type Log struct {
	root     string
	mu       sync.Mutex
	sessions map[types.SessionID]*sessionLog
}

type sessionLog struct {
	mu         sync.Mutex
	loaded     bool
	nextID     int64
	events     []*types.Event
	subs       map[*subscriber]struct{}
	finished   bool
	finishedAt time.Time
}

type subscriber struct {
	ch chan *types.Event
}

// New creates a file-backed Log rooted at the given directory.
func New(root string) *Log {
	return &Log{
		root:     root,
		sessions: make(map[types.SessionID]*sessionLog),
	}
}

func (l *Log) eventsPath(sessionID types.SessionID) string {
	return filepath.Join(l.root, "sessions", string(sessionID), "events.jsonl")
}

func (l *Log) session(sessionID types.SessionID) *sessionLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl, ok := l.sessions[sessionID]
	if !ok {
		sl = &sessionLog{subs: make(map[*subscriber]struct{})}
		l.sessions[sessionID] = sl
	}
	return sl
}

// loadLocked restores persisted events after a restart. Caller holds sl.mu.
func (l *Log) loadLocked(sessionID types.SessionID, sl *sessionLog) error {
	if sl.loaded {
		return nil
	}
	sl.loaded = true

	f, err := os.Open(l.eventsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event types.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return fmt.Errorf("unmarshal event: %w", err)
		}
		sl.events = append(sl.events, &event)
		sl.nextID = event.ID
		if event.Name.Terminal() {
			sl.finished = true
			sl.finishedAt = event.At
		} else {
			sl.finished = false
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan events file: %w", err)
	}
	return nil
}

// Publish allocates the next id for the session, durably appends the event
// and fans it out to live subscribers. It never blocks: a subscriber whose
// queue is full is closed and dropped. A terminal event closes all
// subscriber streams for the run.
func (l *Log) Publish(sessionID types.SessionID, name types.EventName, data any) (*types.Event, error) {
	payload, err := marshalData(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	sl := l.session(sessionID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if err := l.loadLocked(sessionID, sl); err != nil {
		return nil, err
	}

	sl.nextID++
	event := &types.Event{
		ID:        sl.nextID,
		SessionID: sessionID,
		Name:      name,
		At:        time.Now().UTC(),
		Data:      payload,
	}

	if err := l.appendFile(sessionID, event); err != nil {
		sl.nextID--
		return nil, err
	}
	sl.events = append(sl.events, event)

	for sub := range sl.subs {
		select {
		case sub.ch <- event:
		default:
			// Slow subscriber: drop it rather than slow the run.
			delete(sl.subs, sub)
			close(sub.ch)
		}
	}

	if name.Terminal() {
		sl.finished = true
		sl.finishedAt = event.At
		for sub := range sl.subs {
			delete(sl.subs, sub)
			close(sub.ch)
		}
	} else {
		sl.finished = false
	}

	return event, nil
}

func (l *Log) appendFile(sessionID types.SessionID, event *types.Event) error {
	dir := filepath.Dir(l.eventsPath(sessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	f, err := os.OpenFile(l.eventsPath(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Subscribe replays all stored events with id > afterID in order, then
// switches to live delivery. If the run has already reached a terminal
// event the channel closes right after replay. The cancel func releases
// the subscriber; it is safe to call more than once.
func (l *Log) Subscribe(sessionID types.SessionID, afterID int64) (<-chan *types.Event, func()) {
	sl := l.session(sessionID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	// A failed load means the subscriber replays nothing but still gets
	// live events; the fault is surfaced in the log, not to the stream.
	if err := l.loadLocked(sessionID, sl); err != nil {
		slog.Error("load events for subscribe failed", "session_id", sessionID, "error", err)
	}

	var replay []*types.Event
	for _, event := range sl.events {
		if event.ID > afterID {
			replay = append(replay, event)
		}
	}

	sub := &subscriber{ch: make(chan *types.Event, len(replay)+subscriberBuffer)}
	for _, event := range replay {
		sub.ch <- event
	}

	if sl.finished {
		close(sub.ch)
		return sub.ch, func() {}
	}

	sl.subs[sub] = struct{}{}
	cancel := func() {
		sl.mu.Lock()
		defer sl.mu.Unlock()
		if _, ok := sl.subs[sub]; ok {
			delete(sl.subs, sub)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// History returns stored events with id > afterID, without subscribing.
func (l *Log) History(sessionID types.SessionID, afterID int64) ([]*types.Event, error) {
	sl := l.session(sessionID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if err := l.loadLocked(sessionID, sl); err != nil {
		return nil, err
	}
	var out []*types.Event
	for _, event := range sl.events {
		if event.ID > afterID {
			out = append(out, event)
		}
	}
	return out, nil
}

// Drop discards a session's event lane: live subscribers are closed and the
// in-memory history is forgotten. Used when the session itself is deleted;
// the persisted file goes away with the session directory.
func (l *Log) Drop(sessionID types.SessionID) {
	l.mu.Lock()
	sl, ok := l.sessions[sessionID]
	if ok {
		delete(l.sessions, sessionID)
	}
	l.mu.Unlock()
	if !ok {
		return
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	for sub := range sl.subs {
		delete(sl.subs, sub)
		close(sub.ch)
	}
	sl.events = nil
}

// TruncateFinished removes history for sessions whose run finished before
// the cutoff. Events of in-progress runs are never dropped. Returns the
// number of sessions truncated.
func (l *Log) TruncateFinished(cutoff time.Time) int {
	l.mu.Lock()
	ids := make([]types.SessionID, 0, len(l.sessions))
	for id := range l.sessions {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	truncated := 0
	for _, id := range ids {
		sl := l.session(id)
		sl.mu.Lock()
		if sl.finished && !sl.finishedAt.IsZero() && sl.finishedAt.Before(cutoff) && len(sl.events) > 0 {
			sl.events = nil
			os.Remove(l.eventsPath(id))
			truncated++
		}
		sl.mu.Unlock()
	}
	return truncated
}

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return json.RawMessage(`{}`), nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return payload, nil
}
