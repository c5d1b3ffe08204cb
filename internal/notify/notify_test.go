package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/assistant-gateway/internal/channels"
	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/platform/apierr"
	"github.com/yungbote/assistant-gateway/internal/state"
	"github.com/yungbote/assistant-gateway/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := state.NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	return NewStore(dir, logger.NewNop())
}

func TestEnqueueValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, &types.Notification{SessionID: "s1", Kind: types.NotificationKindText})
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Code != "notification_text_required" {
		t.Fatalf("expected notification_text_required, got %v", err)
	}
	_, err = s.Enqueue(ctx, &types.Notification{SessionID: "s1", Kind: types.NotificationKindFile})
	if !errors.As(err, &ae) || ae.Code != "notification_file_path_required" {
		t.Fatalf("expected notification_file_path_required, got %v", err)
	}
	if _, err := s.Enqueue(ctx, &types.Notification{SessionID: "s1", Kind: types.NotificationKindText, Text: "hello"}); err != nil {
		t.Fatalf("valid enqueue failed: %v", err)
	}
}

func TestListPendingUntilDelivered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, _ := s.Enqueue(ctx, &types.Notification{SessionID: "s1", Kind: types.NotificationKindText, Text: "one", CreatedAt: time.Now().UTC().Add(-time.Second)})
	second, _ := s.Enqueue(ctx, &types.Notification{SessionID: "s1", Kind: types.NotificationKindText, Text: "two"})

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("listPending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Fatalf("unexpected pending order: %#v", pending)
	}

	if err := s.MarkDelivered(ctx, first.ID); err != nil {
		t.Fatalf("markDelivered: %v", err)
	}
	pending, _ = s.ListPending(ctx)
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Fatalf("delivered notification still pending: %#v", pending)
	}
	// Delivered-at is set once; a second mark must not move it.
	var before, after types.Notification
	if err := s.dir.ReadJSON(s.path(first.ID), &before); err != nil {
		t.Fatalf("read: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := s.MarkDelivered(ctx, first.ID); err != nil {
		t.Fatalf("second markDelivered: %v", err)
	}
	if err := s.dir.ReadJSON(s.path(first.ID), &after); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !before.DeliveredAt.Equal(*after.DeliveredAt) {
		t.Fatalf("deliveredAt moved on second mark")
	}
}

type fakeAdapter struct {
	mu       sync.Mutex
	texts    []string
	files    []string
	failText bool
}

func (a *fakeAdapter) SendText(ctx context.Context, sessionID, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failText {
		return errors.New("channel down")
	}
	a.texts = append(a.texts, sessionID+":"+text)
	return nil
}

func (a *fakeAdapter) SendFile(ctx context.Context, sessionID, filePath string, opts channels.FileOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files = append(a.files, sessionID+":"+filePath)
	return nil
}

func (a *fakeAdapter) sentTexts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.texts))
	copy(out, a.texts)
	return out
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := time.Now().UTC()
	for i, text := range []string{"a", "b", "c"} {
		if _, err := s.Enqueue(ctx, &types.Notification{
			SessionID: "s1",
			Kind:      types.NotificationKindText,
			Text:      text,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	adapter := &fakeAdapter{}
	d := NewDispatcher(s, adapter, logger.NewNop(), 10*time.Millisecond, nil)
	d.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if got := adapter.sentTexts(); len(got) == 3 {
			if got[0] != "s1:a" || got[1] != "s1:b" || got[2] != "s1:c" {
				t.Fatalf("out of order delivery: %#v", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("notifications never delivered: %#v", adapter.sentTexts())
		}
		time.Sleep(10 * time.Millisecond)
	}
	pending, _ := s.ListPending(ctx)
	if len(pending) != 0 {
		t.Fatalf("pending not drained: %#v", pending)
	}
}

func TestDispatcherRetriesAfterAdapterError(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := s.Enqueue(ctx, &types.Notification{SessionID: "s1", Kind: types.NotificationKindText, Text: "hello"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	adapter := &fakeAdapter{failText: true}
	d := NewDispatcher(s, adapter, logger.NewNop(), 10*time.Millisecond, nil)
	d.Start(ctx)

	time.Sleep(60 * time.Millisecond)
	pending, _ := s.ListPending(ctx)
	if len(pending) != 1 {
		t.Fatalf("record should remain pending while the adapter fails")
	}

	adapter.mu.Lock()
	adapter.failText = false
	adapter.mu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if len(adapter.sentTexts()) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("notification never delivered after recovery")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
