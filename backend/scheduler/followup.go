package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// FollowupSummary is the outcome of one follow-up monitor tick.
type FollowupSummary struct {
	Scheduled int `json:"scheduled"`
}

// FollowupMonitor scans sent reminders that have neither been followed up nor
// completed, and enqueues a follow-up send once the rule's delay has elapsed.
// It does not mark followup_sent itself; the delivery task does that after a
// successful send, so a crash between enqueue and delivery never leaves a
// reminder marked but unsent.
type FollowupMonitor struct {
	store Store
	tasks TaskEnqueuer
	log   *zap.SugaredLogger
}

func NewFollowupMonitor(store Store, tasks TaskEnqueuer, log *zap.SugaredLogger) *FollowupMonitor {
	return &FollowupMonitor{store: store, tasks: tasks, log: log}
}

// Tick runs one follow-up pass at the given instant. Per-row failures are
// logged and the pass moves on to the next candidate.
//
// There is no upper bound on how stale a candidate may be: if the process is
// down for hours, every overdue reminder fires its follow-up on the first
// tick after recovery.
func (m *FollowupMonitor) Tick(ctx context.Context, now time.Time) (FollowupSummary, error) {
	var summary FollowupSummary

	pending, err := m.store.FindPendingFollowups(ctx)
	if err != nil {
		return summary, err
	}

	for _, p := range pending {
		if !p.Rule.FollowupEnabled {
			continue
		}

		elapsed := int(now.Sub(p.Sent.CreatedAt).Minutes())
		if elapsed < p.Rule.FollowupDelayMinutes() {
			continue
		}

		if err := m.tasks.EnqueueFollowup(ctx, p.Sent.ID); err != nil {
			m.log.Errorw("follow-up enqueue failed", "sent_reminder_id", p.Sent.ID.Hex(), "error", err)
			continue
		}
		summary.Scheduled++
	}

	m.log.Infow("follow-up check complete", "reviewed", len(pending), "scheduled", summary.Scheduled)
	return summary, nil
}
