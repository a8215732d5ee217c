package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/storage"
)

func TestRunRepo_SaveAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepo(NewMemoryStorage())
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		group := "g1"
		if id == "b" {
			group = "g2"
		}
		run := &domain.RunResult{
			RunID:     id,
			GroupID:   group,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Save(ctx, run); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	recent, _ := repo.ListRecent(ctx, 2)
	if len(recent) != 2 || recent[0].RunID != "c" || recent[1].RunID != "b" {
		t.Errorf("unexpected recent runs: %+v", recent)
	}

	byGroup, _ := repo.ListByGroup(ctx, "g1", 10)
	if len(byGroup) != 2 || byGroup[0].RunID != "c" {
		t.Errorf("unexpected group runs: %+v", byGroup)
	}

	if _, err := repo.Get(ctx, "zzz"); !errors.Is(err, storage.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunRepo_DeleteBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepo(NewMemoryStorage())
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "edge", "new"} {
		_ = repo.Save(ctx, &domain.RunResult{RunID: id, GroupID: "g1", StartedAt: base.Add(time.Duration(i) * time.Hour)})
	}

	n, err := repo.DeleteBefore(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted run, got %d", n)
	}
	if _, err := repo.Get(ctx, "old"); !errors.Is(err, storage.ErrRunNotFound) {
		t.Errorf("expected old run gone, got %v", err)
	}
	if _, err := repo.Get(ctx, "edge"); err != nil {
		t.Errorf("run at cutoff should stay: %v", err)
	}
}

func TestLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocker(NewMemoryStorage())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if ok, _ := l.Acquire(ctx, "k", "run-1", time.Minute); !ok {
		t.Fatal("expected first acquire to succeed")
	}
	if ok, _ := l.Acquire(ctx, "k", "run-2", time.Minute); ok {
		t.Fatal("expected contention")
	}

	// Release by a non-owner is ignored.
	_ = l.Release(ctx, "k", "run-2")
	if ok, _ := l.Acquire(ctx, "k", "run-2", time.Minute); ok {
		t.Fatal("lock released by non-owner")
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := l.Acquire(ctx, "k", "run-2", time.Minute); !ok {
		t.Fatal("expected expired lock to be taken over")
	}

	_ = l.Release(ctx, "k", "run-2")
	if ok, _ := l.Acquire(ctx, "k", "run-3", time.Minute); !ok {
		t.Fatal("expected acquire after release")
	}
}

func TestLocker_Refresh(t *testing.T) {
	ctx := context.Background()
	l := NewLocker(NewMemoryStorage())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	_, _ = l.Acquire(ctx, "k", "run-1", time.Minute)

	if ok, _ := l.Refresh(ctx, "k", "run-2", time.Minute); ok {
		t.Fatal("non-owner must not refresh")
	}

	now = now.Add(50 * time.Second)
	if ok, _ := l.Refresh(ctx, "k", "run-1", time.Minute); !ok {
		t.Fatal("expected owner refresh to succeed")
	}

	// Past the original expiry but inside the refreshed one.
	now = now.Add(30 * time.Second)
	if ok, _ := l.Acquire(ctx, "k", "run-2", time.Minute); ok {
		t.Fatal("refreshed lock was taken over")
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := l.Refresh(ctx, "k", "run-1", time.Minute); ok {
		t.Fatal("expired lock must not be refreshed")
	}
}
