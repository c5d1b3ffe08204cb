package approvals

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/state"
	"github.com/yungbote/assistant-gateway/internal/types"
)

const DefaultTTL = 10 * time.Minute

const (
	minListLimit = 1
	maxListLimit = 500
)

// Store keeps pending approval tokens in the builtins/approvals.json index.
// Tokens are single-use: Consume removes the record. Every read prunes
// expired entries first.
type Store struct {
	dir *state.Dir
	log *logger.Logger
	mu  sync.Mutex
}

func NewStore(dir *state.Dir, baseLog *logger.Logger) *Store {
	return &Store{dir: dir, log: baseLog.With("component", "ApprovalStore")}
}

func (s *Store) path() string {
	return s.dir.Path("builtins", "approvals.json")
}

func (s *Store) load() ([]*types.ApprovalToken, error) {
	var all []*types.ApprovalToken
	if err := s.dir.ReadJSON(s.path(), &all); err != nil {
		if errors.Is(err, state.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return all, nil
}

func (s *Store) save(all []*types.ApprovalToken) error {
	return s.dir.WriteJSONAtomic(s.path(), all)
}

// prune drops expired tokens in place and persists only when something fell
// out. Callers hold the mutex.
func (s *Store) prune(all []*types.ApprovalToken, now time.Time) ([]*types.ApprovalToken, error) {
	kept := all[:0]
	for _, a := range all {
		if !a.Expired(now) {
			kept = append(kept, a)
		}
	}
	if len(kept) != len(all) {
		if err := s.save(kept); err != nil {
			return nil, err
		}
	}
	return kept, nil
}

func (s *Store) Create(ctx context.Context, sessionID, action string, payload map[string]any, ttl time.Duration) (*types.ApprovalToken, error) {
	if sessionID == "" || action == "" {
		return nil, fmt.Errorf("sessionId and action are required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	all, err := s.load()
	if err != nil {
		return nil, err
	}
	all, err = s.prune(all, now)
	if err != nil {
		return nil, err
	}
	token, err := s.newToken(all)
	if err != nil {
		return nil, err
	}
	a := &types.ApprovalToken{
		Token:     token,
		SessionID: sessionID,
		Action:    action,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	all = append(all, a)
	if err := s.save(all); err != nil {
		return nil, err
	}
	s.log.Debug("Approval created", "session_id", sessionID, "action", action, "token", token)
	return a, nil
}

// newToken draws random 6-hex-char tokens until one is free of collisions
// with the live set.
func (s *Store) newToken(existing []*types.ApprovalToken) (string, error) {
	taken := make(map[string]bool, len(existing))
	for _, a := range existing {
		taken[a.Token] = true
	}
	for i := 0; i < 32; i++ {
		b := make([]byte, 3)
		if _, err := rand.Read(b); err != nil {
			return "", err
		}
		token := hex.EncodeToString(b)
		if !taken[token] {
			return token, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique approval token")
}

// Consume removes and returns the matching unexpired token, or nil.
func (s *Store) Consume(ctx context.Context, sessionID, token string) (*types.ApprovalToken, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	all, err := s.load()
	if err != nil {
		return nil, err
	}
	all, err = s.prune(all, now)
	if err != nil {
		return nil, err
	}
	for i, a := range all {
		if a.SessionID != sessionID || a.Token != token {
			continue
		}
		rest := append(all[:i:i], all[i+1:]...)
		if err := s.save(rest); err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, nil
}

// PeekLatest returns the most recent pending approval without consuming it.
func (s *Store) PeekLatest(ctx context.Context, sessionID string) (*types.ApprovalToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestLocked(sessionID)
}

func (s *Store) latestLocked(sessionID string) (*types.ApprovalToken, error) {
	all, err := s.load()
	if err != nil {
		return nil, err
	}
	all, err = s.prune(all, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	var latest *types.ApprovalToken
	for _, a := range all {
		if a.SessionID != sessionID {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	return latest, nil
}

// ConsumeLatest consumes the most recent pending approval for the session.
func (s *Store) ConsumeLatest(ctx context.Context, sessionID string) (*types.ApprovalToken, error) {
	s.mu.Lock()
	latest, err := s.latestLocked(sessionID)
	s.mu.Unlock()
	if err != nil || latest == nil {
		return nil, err
	}
	return s.Consume(ctx, sessionID, latest.Token)
}

// DiscardLatest drops the most recent pending approval for the session,
// returning it for acknowledgement.
func (s *Store) DiscardLatest(ctx context.Context, sessionID string) (*types.ApprovalToken, error) {
	return s.ConsumeLatest(ctx, sessionID)
}

func clampLimit(limit int) int {
	if limit < minListLimit {
		return minListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func (s *Store) ListBySession(ctx context.Context, sessionID string, limit int) ([]*types.ApprovalToken, error) {
	return s.list(func(a *types.ApprovalToken) bool { return a.SessionID == sessionID }, limit)
}

func (s *Store) ListPending(ctx context.Context, limit int) ([]*types.ApprovalToken, error) {
	return s.list(func(a *types.ApprovalToken) bool { return true }, limit)
}

func (s *Store) list(match func(*types.ApprovalToken) bool, limit int) ([]*types.ApprovalToken, error) {
	limit = clampLimit(limit)
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return nil, err
	}
	all, err = s.prune(all, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	var out []*types.ApprovalToken
	for _, a := range all {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
