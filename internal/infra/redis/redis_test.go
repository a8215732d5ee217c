package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/storage"
)

func setupClient(t *testing.T) *Client {
	url := os.Getenv("ADBATCH_TEST_REDIS_URL")
	if url == "" {
		t.Skip("Skipping redis test. Set ADBATCH_TEST_REDIS_URL to run.")
	}
	c, err := NewClient(Config{URL: url})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_Lock(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()
	key := storage.GroupLockKey("test-" + uuid.NewString())

	ok, err := c.Acquire(ctx, key, "run-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected acquire, got %v %v", ok, err)
	}
	if ok, _ := c.Acquire(ctx, key, "run-2", time.Minute); ok {
		t.Fatal("expected contention")
	}
	if ok, _ := c.Refresh(ctx, key, "run-2", time.Minute); ok {
		t.Error("non-owner refreshed the lock")
	}
	if ok, _ := c.Refresh(ctx, key, "run-1", time.Minute); !ok {
		t.Error("owner could not refresh the lock")
	}

	_ = c.Release(ctx, key, "run-2")
	if ok, _ := c.Acquire(ctx, key, "run-2", time.Minute); ok {
		t.Fatal("lock released by non-owner")
	}

	if err := c.Release(ctx, key, "run-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if ok, _ := c.Acquire(ctx, key, "run-2", time.Minute); !ok {
		t.Fatal("expected acquire after release")
	}
	_ = c.Release(ctx, key, "run-2")
}

func TestRunRepo(t *testing.T) {
	c := setupClient(t)
	repo := NewRunRepo(c, time.Minute)
	ctx := context.Background()

	groupID := "grp-" + uuid.NewString()
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		run := &domain.RunResult{
			RunID:     uuid.NewString(),
			GroupID:   groupID,
			Requested: i + 1,
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Save(ctx, run); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	runs, err := repo.ListByGroup(ctx, groupID, 2)
	if err != nil {
		t.Fatalf("ListByGroup failed: %v", err)
	}
	if len(runs) != 2 || runs[0].Requested != 3 {
		t.Errorf("expected newest first, got %+v", runs)
	}

	if _, err := repo.Get(ctx, uuid.NewString()); !errors.Is(err, storage.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunRepo_DeleteBefore(t *testing.T) {
	c := setupClient(t)
	repo := NewRunRepo(c, time.Minute)
	ctx := context.Background()

	groupID := "grp-" + uuid.NewString()
	old := &domain.RunResult{RunID: uuid.NewString(), GroupID: groupID, StartedAt: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)}
	fresh := &domain.RunResult{RunID: uuid.NewString(), GroupID: groupID, StartedAt: time.Now().UTC()}
	for _, run := range []*domain.RunResult{old, fresh} {
		if err := repo.Save(ctx, run); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	n, err := repo.DeleteBefore(ctx, time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if n < 1 {
		t.Errorf("expected the old run to be deleted, got %d", n)
	}
	if _, err := repo.Get(ctx, old.RunID); !errors.Is(err, storage.ErrRunNotFound) {
		t.Errorf("old run should be gone, got %v", err)
	}

	runs, err := repo.ListByGroup(ctx, groupID, 10)
	if err != nil {
		t.Fatalf("ListByGroup failed: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != fresh.RunID {
		t.Errorf("expected only the fresh run, got %+v", runs)
	}
}
