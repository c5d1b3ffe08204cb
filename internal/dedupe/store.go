package dedupe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/state"
)

const DefaultWindow = 24 * time.Hour

// Store persists inbound-message fingerprints so repeated webhook deliveries
// are dropped across restarts. Entries older than the window are evicted on
// every write.
type Store struct {
	dir    *state.Dir
	log    *logger.Logger
	window time.Duration
	mu     sync.Mutex
}

func NewStore(dir *state.Dir, baseLog *logger.Logger, window time.Duration) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{dir: dir, log: baseLog.With("component", "DedupeStore"), window: window}
}

func (s *Store) path() string {
	return s.dir.Path("builtins", "inbound_dedupe.json")
}

func (s *Store) load() (map[string]time.Time, error) {
	seen := make(map[string]time.Time)
	if err := s.dir.ReadJSON(s.path(), &seen); err != nil {
		if errors.Is(err, state.ErrNotExist) {
			return seen, nil
		}
		return nil, err
	}
	return seen, nil
}

// IsDuplicateAndMark reports whether key was already seen within the window,
// inserting it otherwise.
func (s *Store) IsDuplicateAndMark(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seen, err := s.load()
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	changed := false
	for k, at := range seen {
		if now.Sub(at) > s.window {
			delete(seen, k)
			changed = true
		}
	}
	if _, dup := seen[key]; dup {
		if changed {
			if err := s.dir.WriteJSONAtomic(s.path(), seen); err != nil {
				s.log.Warn("Failed to persist dedupe eviction", "error", err)
			}
		}
		return true, nil
	}
	seen[key] = now
	if err := s.dir.WriteJSONAtomic(s.path(), seen); err != nil {
		return false, err
	}
	return false, nil
}
