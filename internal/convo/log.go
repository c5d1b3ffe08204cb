package convo

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/state"
	"github.com/yungbote/assistant-gateway/internal/types"
)

const (
	DefaultMaxEvents     = 5000
	DefaultRetentionDays = 14
	DefaultDedupeWindow  = 2500 * time.Millisecond

	minQueryLimit = 1
	maxQueryLimit = 500
)

type Config struct {
	MaxEvents     int
	RetentionDays int
	DedupeWindow  time.Duration
}

// Handler receives every appended event. Invocation is synchronous and
// best-effort: a handler that wants to forward into a channel must use a
// non-blocking send and drop on a full buffer.
type Handler func(evt *types.ConversationEvent)

// Log is the append-and-query conversation stream. Events are held in
// memory and snapshotted to disk on every append so the stream survives a
// restart; the pruner enforces the count and age bounds.
type Log struct {
	dir *state.Dir
	log *logger.Logger
	cfg Config

	mu     sync.Mutex
	events []*types.ConversationEvent

	subMu sync.Mutex
	subs  map[int]Handler
	next  int
}

func NewLog(dir *state.Dir, baseLog *logger.Logger, cfg Config) (*Log, error) {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = DefaultDedupeWindow
	}
	l := &Log{
		dir:  dir,
		log:  baseLog.With("component", "ConversationLog"),
		cfg:  cfg,
		subs: make(map[int]Handler),
	}
	if err := l.loadSnapshot(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) path() string {
	return l.dir.Path("builtins", "conversation_events.json")
}

func (l *Log) loadSnapshot() error {
	var stored []*types.ConversationEvent
	if err := l.dir.ReadJSON(l.path(), &stored); err != nil {
		if errors.Is(err, state.ErrNotExist) {
			return nil
		}
		return err
	}
	l.events = stored
	return nil
}

type AddInput struct {
	Source   string
	Channel  string
	Kind     string
	Metadata map[string]any
}

// Add appends one event and pushes it to every subscriber in registration
// order. Within the dedupe window, an identical (session, direction, kind,
// text) tuple is dropped and the existing event returned.
func (l *Log) Add(ctx context.Context, sessionID, direction, text string, in AddInput) (*types.ConversationEvent, error) {
	now := time.Now().UTC()

	l.mu.Lock()
	for i := len(l.events) - 1; i >= 0; i-- {
		prior := l.events[i]
		if now.Sub(prior.CreatedAt) > l.cfg.DedupeWindow {
			break
		}
		if prior.SessionID == sessionID && prior.Direction == direction && prior.Kind == in.Kind && prior.Text == text {
			l.mu.Unlock()
			return prior, nil
		}
	}
	evt := &types.ConversationEvent{
		ID:        uuid.New(),
		SessionID: sessionID,
		Source:    in.Source,
		Channel:   in.Channel,
		Direction: direction,
		Kind:      in.Kind,
		Text:      text,
		CreatedAt: now,
		Metadata:  in.Metadata,
	}
	l.events = append(l.events, evt)
	l.pruneLocked(now)
	if err := l.persistLocked(); err != nil {
		l.log.Warn("Failed to persist conversation snapshot", "error", err)
	}
	l.mu.Unlock()

	l.fanout(evt)
	return evt, nil
}

func (l *Log) fanout(evt *types.ConversationEvent) {
	l.subMu.Lock()
	keys := make([]int, 0, len(l.subs))
	for k := range l.subs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	handlers := make([]Handler, 0, len(keys))
	for _, k := range keys {
		handlers = append(handlers, l.subs[k])
	}
	l.subMu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

// Subscribe registers a live handler; the returned function removes it.
func (l *Log) Subscribe(h Handler) func() {
	l.subMu.Lock()
	id := l.next
	l.next++
	l.subs[id] = h
	l.subMu.Unlock()
	return func() {
		l.subMu.Lock()
		delete(l.subs, id)
		l.subMu.Unlock()
	}
}

type QueryFilter struct {
	SessionID  string
	Kinds      []string
	Sources    []string
	Channels   []string
	Directions []string
	Text       string
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

// Query returns matching events newest-first, limit clamped to [1, 500].
func (l *Log) Query(ctx context.Context, f QueryFilter) ([]*types.ConversationEvent, error) {
	limit := f.Limit
	if limit < minQueryLimit {
		limit = maxQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	needle := strings.ToLower(f.Text)

	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*types.ConversationEvent
	for i := len(l.events) - 1; i >= 0 && len(out) < limit; i-- {
		evt := l.events[i]
		if f.SessionID != "" && evt.SessionID != f.SessionID {
			continue
		}
		if len(f.Kinds) > 0 && !contains(f.Kinds, evt.Kind) {
			continue
		}
		if len(f.Sources) > 0 && !contains(f.Sources, evt.Source) {
			continue
		}
		if len(f.Channels) > 0 && !contains(f.Channels, evt.Channel) {
			continue
		}
		if len(f.Directions) > 0 && !contains(f.Directions, evt.Direction) {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(evt.Text), needle) {
			continue
		}
		if f.Since != nil && evt.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && evt.CreatedAt.After(*f.Until) {
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// StartPruner runs the retention sweep on its own loop.
func (l *Log) StartPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				l.log.Info("Conversation pruner stopped")
				return
			case <-ticker.C:
				l.mu.Lock()
				before := len(l.events)
				l.pruneLocked(time.Now().UTC())
				if len(l.events) != before {
					if err := l.persistLocked(); err != nil {
						l.log.Warn("Failed to persist after prune", "error", err)
					}
				}
				l.mu.Unlock()
			}
		}
	}()
}

func (l *Log) pruneLocked(now time.Time) {
	cutoff := now.AddDate(0, 0, -l.cfg.RetentionDays)
	start := 0
	for start < len(l.events) && l.events[start].CreatedAt.Before(cutoff) {
		start++
	}
	if excess := len(l.events) - start - l.cfg.MaxEvents; excess > 0 {
		start += excess
	}
	if start > 0 {
		l.events = append([]*types.ConversationEvent(nil), l.events[start:]...)
	}
}

func (l *Log) persistLocked() error {
	return l.dir.WriteJSONAtomic(l.path(), l.events)
}
