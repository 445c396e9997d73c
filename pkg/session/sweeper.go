package session

import (
	"context"
	"fmt"
	"time"

	"github.com/lumenkind/sona/pkg/summarize"
)

// AbandonStale finalizes sessions that have been open longer than the
// configured abandon timeout. A dropped connection must not leak a
// dangling record that can never be completed, so the sweeper completes
// the session with the initial mood carried forward, the default summary,
// and the Abandoned flag set. It returns how many sessions were closed.
func (o *Orchestrator) AbandonStale(ctx context.Context) (int, error) {
	open, err := o.repo.OpenSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("session: sweep: %w", err)
	}

	now := o.now()
	closed := 0
	for _, sess := range open {
		if now.Sub(sess.StartTime) < o.abandonAfter {
			continue
		}
		end := now
		dur := int(end.Sub(sess.StartTime).Seconds())
		finalMood := sess.Emotional.InitialMood
		sess.EndTime = &end
		sess.DurationSeconds = &dur
		sess.Emotional.FinalMood = &finalMood
		sess.Summary = summarize.DefaultSummary()
		sess.Abandoned = true
		if err := o.repo.PutSession(ctx, sess); err != nil {
			return closed, fmt.Errorf("session: sweep %s: %w", sess.ID, err)
		}
		o.log.Info("abandoned session finalized", "session", sess.ID, "user", sess.UserID)
		closed++
	}
	return closed, nil
}

// RunSweeper runs AbandonStale at the given interval until the context is
// canceled. Intended to run in its own goroutine next to the relay.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.AbandonStale(ctx); err != nil {
				o.log.Error("abandon sweep failed", "error", err)
			}
		}
	}
}
