// internal/eventlog/retention.go
package eventlog

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically truncates event history for finished runs that are
// older than the retention window. In-progress runs are never touched.
type Sweeper struct {
	log    *Log
	window time.Duration
	cron   *cron.Cron
}

// NewSweeper creates a retention sweeper over the given log. window is how
// long finished-run history is kept available for replay.
func NewSweeper(log *Log, window time.Duration) *Sweeper {
	return &Sweeper{
		log:    log,
		window: window,
		cron:   cron.New(),
	}
}

// Start registers the sweep schedule and starts the cron ticker.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc("@every 1m", s.sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron ticker. Running sweeps finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	cutoff := time.Now().UTC().Add(-s.window)
	if n := s.log.TruncateFinished(cutoff); n > 0 {
		slog.Debug("event retention sweep", "truncated_sessions", n, "window", s.window)
	}
}
