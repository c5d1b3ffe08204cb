package notify

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/platform/apierr"
	"github.com/yungbote/assistant-gateway/internal/state"
	"github.com/yungbote/assistant-gateway/internal/types"
)

// Store is the durable outbound queue: one JSON file per notification under
// notifications/, delivered records keep their file with deliveredAt set.
type Store struct {
	dir *state.Dir
	log *logger.Logger
	mu  sync.Mutex
}

func NewStore(dir *state.Dir, baseLog *logger.Logger) *Store {
	return &Store{dir: dir, log: baseLog.With("component", "NotificationStore")}
}

func (s *Store) path(id uuid.UUID) string {
	return s.dir.Path("notifications", id.String()+".json")
}

// Enqueue validates the kind/field invariant and persists the notification.
func (s *Store) Enqueue(ctx context.Context, n *types.Notification) (*types.Notification, error) {
	switch n.Kind {
	case types.NotificationKindText:
		if strings.TrimSpace(n.Text) == "" {
			return nil, apierr.BadRequest("notification_text_required", nil)
		}
	case types.NotificationKindFile:
		if strings.TrimSpace(n.FilePath) == "" {
			return nil, apierr.BadRequest("notification_file_path_required", nil)
		}
	default:
		return nil, apierr.BadRequest("notification_text_required", nil)
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if err := s.dir.WriteJSONAtomic(s.path(n.ID), n); err != nil {
		return nil, err
	}
	s.log.Debug("Notification enqueued", "notification_id", n.ID, "session_id", n.SessionID, "kind", n.Kind)
	return n, nil
}

// ListPending returns undelivered notifications in createdAt order, which is
// also per-session delivery order.
func (s *Store) ListPending(ctx context.Context) ([]*types.Notification, error) {
	ids, err := s.dir.ListJSONIDs("notifications")
	if err != nil {
		return nil, err
	}
	var pending []*types.Notification
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		var n types.Notification
		if err := s.dir.ReadJSON(s.path(id), &n); err != nil {
			continue
		}
		if n.DeliveredAt == nil {
			pending = append(pending, &n)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// MarkDelivered sets deliveredAt once; later calls are no-ops.
func (s *Store) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n types.Notification
	if err := s.dir.ReadJSON(s.path(id), &n); err != nil {
		return err
	}
	if n.DeliveredAt != nil {
		return nil
	}
	now := time.Now().UTC()
	n.DeliveredAt = &now
	return s.dir.WriteJSONAtomic(s.path(id), &n)
}
