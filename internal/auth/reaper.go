package auth

import (
	"context"
	"strconv"
	"time"

	"medregis.org/internal/audit"
	"medregis.org/internal/obs"
)

// DefaultReapInterval is how often the background sweep runs.
const DefaultReapInterval = 5 * time.Minute

// Reaper proactively expires stale sessions. Validation already applies
// expiry lazily, so the sweep only shortens the window in which a stale row
// still counts as active; the two can race benignly since both converge on
// inactive.
type Reaper struct {
	sessions *Sessions
	interval time.Duration
	rec      audit.Recorder
}

// NewReaper constructs a reaper over the session service. A non-positive
// interval falls back to the default.
func NewReaper(sessions *Sessions, interval time.Duration, rec audit.Recorder) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{sessions: sessions, interval: interval, rec: rec}
}

// Run sweeps on a ticker until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ReapOnce(ctx); err != nil {
				obs.Log(map[string]any{
					"level": "error",
					"msg":   "session_reap_failed",
					"error": err.Error(),
				})
			}
		}
	}
}

// ReapOnce performs a single sweep and returns the number of sessions
// expired. Idempotent: a second sweep over the same state reaps zero.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	count, err := r.sessions.ExpireDue(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		obs.SessionsReaped(count)
		record(ctx, r.rec, audit.Event{
			Type: audit.EventSessionExpired, Success: true,
			Fields: map[string]string{"reaped": strconv.Itoa(count)},
		})
	}
	return count, nil
}
