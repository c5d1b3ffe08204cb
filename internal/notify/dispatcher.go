package notify

import (
	"context"
	"time"

	"github.com/yungbote/assistant-gateway/internal/channels"
	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/types"
)

// Dispatcher drains the notification store through a channel adapter. It is
// deliberately single-loop: draining in createdAt order from one goroutine is
// what gives per-session FIFO delivery.
type Dispatcher struct {
	store       *Store
	adapter     channels.Adapter
	log         *logger.Logger
	interval    time.Duration
	onDelivered func(n *types.Notification)
}

func NewDispatcher(store *Store, adapter channels.Adapter, baseLog *logger.Logger, interval time.Duration, onDelivered func(n *types.Notification)) *Dispatcher {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Dispatcher{
		store:       store,
		adapter:     adapter,
		log:         baseLog.With("component", "NotificationDispatcher"),
		interval:    interval,
		onDelivered: onDelivered,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				d.log.Info("Notification dispatcher stopped")
				return
			case <-ticker.C:
				d.drain(ctx)
			}
		}
	}()
}

func (d *Dispatcher) drain(ctx context.Context) {
	pending, err := d.store.ListPending(ctx)
	if err != nil {
		d.log.Warn("Failed to list pending notifications", "error", err)
		return
	}
	for _, n := range pending {
		if err := d.deliver(ctx, n); err != nil {
			// Leave the record; the next tick retries it. Skipping the rest
			// of the batch keeps per-session ordering intact.
			d.log.Warn("Delivery failed, will retry", "notification_id", n.ID, "session_id", n.SessionID, "error", err)
			return
		}
		if err := d.store.MarkDelivered(ctx, n.ID); err != nil {
			d.log.Warn("Failed to mark delivered", "notification_id", n.ID, "error", err)
			return
		}
		if d.onDelivered != nil {
			d.onDelivered(n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n *types.Notification) error {
	switch n.Kind {
	case types.NotificationKindFile:
		return d.adapter.SendFile(ctx, n.SessionID, n.FilePath, channels.FileOptions{
			FileName: n.FileName,
			MimeType: n.MimeType,
			Caption:  n.Caption,
		})
	default:
		return d.adapter.SendText(ctx, n.SessionID, n.Text)
	}
}
