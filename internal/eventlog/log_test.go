// internal/eventlog/log_test.go
package eventlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/arcadegent/internal/types"
)

func TestPublishAllocatesGaplessIDs(t *testing.T) {
	log := New(t.TempDir())
	id := types.SessionID("s_test")

	for i := 1; i <= 5; i++ {
		event, err := log.Publish(id, types.EventToolStarted, map[string]string{"tool": "arcade_search"})
		if err != nil {
			t.Fatal(err)
		}
		if event.ID != int64(i) {
			t.Fatalf("event %d got id %d", i, event.ID)
		}
	}
}

func TestSubscribeReplayEqualsHistory(t *testing.T) {
	log := New(t.TempDir())
	id := types.SessionID("s_replay")

	log.Publish(id, types.EventSessionStarted, nil)
	log.Publish(id, types.EventToolStarted, nil)
	log.Publish(id, types.EventToolCompleted, nil)

	ch, cancel := log.Subscribe(id, 1)
	defer cancel()

	first := <-ch
	second := <-ch
	if first.ID != 2 || second.ID != 3 {
		t.Errorf("replay ids = %d, %d, want 2, 3", first.ID, second.ID)
	}

	// Live delivery continues in order after replay.
	log.Publish(id, types.EventAssistantCompleted, map[string]string{"reply": "done"})
	live := <-ch
	if live.ID != 4 {
		t.Errorf("live id = %d, want 4", live.ID)
	}
	if _, open := <-ch; open {
		t.Error("channel should close after terminal event")
	}
}

func TestSubscribeAfterTerminalClosesAfterReplay(t *testing.T) {
	log := New(t.TempDir())
	id := types.SessionID("s_done")

	log.Publish(id, types.EventSessionStarted, nil)
	log.Publish(id, types.EventAssistantCompleted, nil)

	ch, cancel := log.Subscribe(id, 0)
	defer cancel()

	count := 0
	for range ch {
		count++
	}
	if count != 2 {
		t.Errorf("replayed %d events, want 2", count)
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	log := New(t.TempDir())
	id := types.SessionID("s_slow")

	ch, cancel := log.Subscribe(id, 0)
	defer cancel()

	// Overflow the bounded queue without draining.
	for i := 0; i < subscriberBuffer+10; i++ {
		if _, err := log.Publish(id, types.EventAssistantToken, map[string]int{"n": i}); err != nil {
			t.Fatal(err)
		}
	}

	received := 0
	for range ch {
		received++
	}
	if received > subscriberBuffer {
		t.Errorf("received %d events, queue bound is %d", received, subscriberBuffer)
	}

	// Publisher is unaffected and ids stay gapless.
	event, err := log.Publish(id, types.EventAssistantCompleted, nil)
	if err != nil {
		t.Fatal(err)
	}
	if event.ID != int64(subscriberBuffer+11) {
		t.Errorf("next id = %d, want %d", event.ID, subscriberBuffer+11)
	}
}

func TestRestartRecoversIDsAndHistory(t *testing.T) {
	dir := t.TempDir()
	id := types.SessionID("s_restart")

	log := New(dir)
	log.Publish(id, types.EventSessionStarted, nil)
	log.Publish(id, types.EventToolStarted, nil)

	reopened := New(dir)
	event, err := reopened.Publish(id, types.EventToolCompleted, nil)
	if err != nil {
		t.Fatal(err)
	}
	if event.ID != 3 {
		t.Errorf("id after restart = %d, want 3", event.ID)
	}

	history, err := reopened.History(id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Errorf("history has %d events, want 3", len(history))
	}
}

func TestTruncateFinishedSkipsActiveRuns(t *testing.T) {
	log := New(t.TempDir())
	finished := types.SessionID("s_finished")
	active := types.SessionID("s_active")

	log.Publish(finished, types.EventSessionStarted, nil)
	log.Publish(finished, types.EventAssistantCompleted, nil)
	log.Publish(active, types.EventSessionStarted, nil)

	n := log.TruncateFinished(time.Now().UTC().Add(time.Minute))
	if n != 1 {
		t.Fatalf("truncated %d sessions, want 1", n)
	}

	history, _ := log.History(finished, 0)
	if len(history) != 0 {
		t.Errorf("finished session kept %d events", len(history))
	}
	history, _ = log.History(active, 0)
	if len(history) != 1 {
		t.Errorf("active session has %d events, want 1", len(history))
	}

	// IDs keep counting after truncation; they never reset mid-session.
	event, err := log.Publish(finished, types.EventSessionStarted, nil)
	if err != nil {
		t.Fatal(err)
	}
	if event.ID != 3 {
		t.Errorf("id after truncation = %d, want 3", event.ID)
	}
}

func TestSubscribeSurvivesCorruptEventsFile(t *testing.T) {
	dir := t.TempDir()
	log := New(dir)
	id := types.SessionID("s_corrupt")

	path := filepath.Join(dir, "sessions", string(id), "events.jsonl")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not json\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// The corrupt file yields an empty replay, not a panic or a hang.
	ch, cancel := log.Subscribe(id, 0)
	defer cancel()
	select {
	case event := <-ch:
		t.Fatalf("unexpected replay event %+v", event)
	default:
	}

	// Live delivery still works for the session.
	if _, err := log.Publish(id, types.EventSessionStarted, nil); err != nil {
		t.Fatal(err)
	}
	live := <-ch
	if live.ID != 1 || live.Name != types.EventSessionStarted {
		t.Errorf("live event = %+v", live)
	}
}

func TestDropClosesSubscribers(t *testing.T) {
	log := New(t.TempDir())
	id := types.SessionID("s_drop")

	log.Publish(id, types.EventSessionStarted, nil)
	ch, cancel := log.Subscribe(id, 1)
	defer cancel()

	log.Drop(id)
	if _, open := <-ch; open {
		t.Error("subscriber channel should close on drop")
	}
}
