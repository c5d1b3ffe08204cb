package reminders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/state"
	"github.com/yungbote/assistant-gateway/internal/types"
)

var ErrNotFound = errors.New("reminder not found")

// Store keeps all reminders in the builtins/reminders.json index file. The
// collection is small; every write rewrites the whole snapshot atomically.
type Store struct {
	dir *state.Dir
	log *logger.Logger
	mu  sync.Mutex
}

func NewStore(dir *state.Dir, baseLog *logger.Logger) *Store {
	return &Store{dir: dir, log: baseLog.With("component", "ReminderStore")}
}

func (s *Store) path() string {
	return s.dir.Path("builtins", "reminders.json")
}

func (s *Store) load() ([]*types.Reminder, error) {
	var all []*types.Reminder
	if err := s.dir.ReadJSON(s.path(), &all); err != nil {
		if errors.Is(err, state.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return all, nil
}

func (s *Store) save(all []*types.Reminder) error {
	return s.dir.WriteJSONAtomic(s.path(), all)
}

func (s *Store) Add(ctx context.Context, sessionID, text string, remindAt time.Time) (*types.Reminder, error) {
	if sessionID == "" || text == "" {
		return nil, fmt.Errorf("sessionId and text are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return nil, err
	}
	r := &types.Reminder{
		ID:        uuid.New(),
		SessionID: sessionID,
		Text:      text,
		RemindAt:  remindAt.UTC(),
		Status:    types.ReminderStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	all = append(all, r)
	if err := s.save(all); err != nil {
		return nil, err
	}
	s.log.Debug("Reminder added", "reminder_id", r.ID, "session_id", sessionID, "remind_at", r.RemindAt)
	return r, nil
}

func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]*types.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []*types.Reminder
	for _, r := range all {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemindAt.Before(out[j].RemindAt) })
	return out, nil
}

// ListDue returns pending reminders whose remindAt has passed.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]*types.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return nil, err
	}
	var due []*types.Reminder
	for _, r := range all {
		if r.Status == types.ReminderStatusPending && !r.RemindAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RemindAt.Before(due[j].RemindAt) })
	return due, nil
}

func (s *Store) MarkTriggered(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(id, types.ReminderStatusTriggered)
}

func (s *Store) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(id, types.ReminderStatusCancelled)
}

func (s *Store) setStatus(id uuid.UUID, status types.ReminderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return err
	}
	for _, r := range all {
		if r.ID != id {
			continue
		}
		if r.Status != types.ReminderStatusPending {
			return nil
		}
		r.Status = status
		if status == types.ReminderStatusTriggered {
			now := time.Now().UTC()
			r.TriggeredAt = &now
		}
		return s.save(all)
	}
	return ErrNotFound
}
