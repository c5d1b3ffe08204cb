package reminders

import (
	"context"
	"time"

	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/notify"
	"github.com/yungbote/assistant-gateway/internal/types"
)

// Dispatcher polls for due reminders and turns each into a text
// notification. MarkTriggered runs only after the enqueue succeeded, so a
// crash between the two produces at most one duplicate reminder on the next
// boot; that trade is accepted over ever losing one.
type Dispatcher struct {
	store       *Store
	outbound    *notify.Store
	log         *logger.Logger
	interval    time.Duration
	onTriggered func(r *types.Reminder)
}

func NewDispatcher(store *Store, outbound *notify.Store, baseLog *logger.Logger, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Dispatcher{
		store:    store,
		outbound: outbound,
		log:      baseLog.With("component", "ReminderDispatcher"),
		interval: interval,
	}
}

// OnTriggered registers a callback invoked after a reminder fires. Set it
// before Start.
func (d *Dispatcher) OnTriggered(fn func(r *types.Reminder)) {
	d.onTriggered = fn
}

func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				d.log.Info("Reminder dispatcher stopped")
				return
			case <-ticker.C:
				d.tick(ctx)
			}
		}
	}()
}

func (d *Dispatcher) tick(ctx context.Context) {
	due, err := d.store.ListDue(ctx, time.Now().UTC())
	if err != nil {
		d.log.Warn("Failed to list due reminders", "error", err)
		return
	}
	for _, r := range due {
		if _, err := d.outbound.Enqueue(ctx, &types.Notification{
			SessionID: r.SessionID,
			Kind:      types.NotificationKindText,
			Text:      "Reminder: " + r.Text,
		}); err != nil {
			d.log.Warn("Failed to enqueue reminder notification", "reminder_id", r.ID, "error", err)
			continue
		}
		if err := d.store.MarkTriggered(ctx, r.ID); err != nil {
			d.log.Warn("Failed to mark reminder triggered", "reminder_id", r.ID, "error", err)
			continue
		}
		if d.onTriggered != nil {
			d.onTriggered(r)
		}
	}
}
