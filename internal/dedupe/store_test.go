package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/state"
)

func TestIsDuplicateAndMark(t *testing.T) {
	dir, err := state.NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	s := NewStore(dir, logger.NewNop(), time.Hour)
	ctx := context.Background()

	key := "baileys:u@x:m-1"
	dup, err := s.IsDuplicateAndMark(ctx, key)
	if err != nil || dup {
		t.Fatalf("first sighting should not be a duplicate: dup=%v err=%v", dup, err)
	}
	dup, err = s.IsDuplicateAndMark(ctx, key)
	if err != nil || !dup {
		t.Fatalf("second sighting should be a duplicate: dup=%v err=%v", dup, err)
	}
	// A different message id is a fresh fingerprint.
	dup, err = s.IsDuplicateAndMark(ctx, "baileys:u@x:m-2")
	if err != nil || dup {
		t.Fatalf("distinct key flagged duplicate: dup=%v err=%v", dup, err)
	}
}

func TestFingerprintsSurviveRestart(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	dir, _ := state.NewDir(root)
	s := NewStore(dir, logger.NewNop(), time.Hour)
	if _, err := s.IsDuplicateAndMark(ctx, "k"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	dir2, _ := state.NewDir(root)
	s2 := NewStore(dir2, logger.NewNop(), time.Hour)
	dup, err := s2.IsDuplicateAndMark(ctx, "k")
	if err != nil || !dup {
		t.Fatalf("fingerprint lost across restart: dup=%v err=%v", dup, err)
	}
}

func TestWindowEviction(t *testing.T) {
	dir, _ := state.NewDir(t.TempDir())
	s := NewStore(dir, logger.NewNop(), 10*time.Millisecond)
	ctx := context.Background()

	if _, err := s.IsDuplicateAndMark(ctx, "k"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	dup, err := s.IsDuplicateAndMark(ctx, "k")
	if err != nil || dup {
		t.Fatalf("expired fingerprint should be evicted: dup=%v err=%v", dup, err)
	}
}
