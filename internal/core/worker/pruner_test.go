package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/storage"
	"github.com/vietddude/adbatch/internal/infra/storage/memory"
)

func TestPruner_Prune(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRunRepo(memory.NewMemoryStorage())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	_ = repo.Save(ctx, &domain.RunResult{RunID: "stale", GroupID: "g", StartedAt: now.Add(-48 * time.Hour)})
	_ = repo.Save(ctx, &domain.RunResult{RunID: "fresh", GroupID: "g", StartedAt: now.Add(-time.Hour)})

	p := NewPruner(24*time.Hour, repo)
	p.now = func() time.Time { return now }

	n, err := p.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned run, got %d", n)
	}
	if _, err := repo.Get(ctx, "stale"); !errors.Is(err, storage.ErrRunNotFound) {
		t.Errorf("stale run should be gone, got %v", err)
	}
	if _, err := repo.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh run should remain: %v", err)
	}
}

func TestPruner_Disabled(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRunRepo(memory.NewMemoryStorage())
	_ = repo.Save(ctx, &domain.RunResult{RunID: "ancient", StartedAt: time.Unix(0, 0)})

	p := NewPruner(0, repo)
	if n, _ := p.Prune(ctx); n != 0 {
		t.Errorf("disabled pruner removed %d runs", n)
	}

	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start should return immediately when retention is disabled")
	}
}

func TestPruner_Interval(t *testing.T) {
	tests := []struct {
		retention time.Duration
		expected  time.Duration
	}{
		{retention: 5 * time.Minute, expected: time.Minute},
		{retention: 2 * time.Hour, expected: 12 * time.Minute},
		{retention: 7 * 24 * time.Hour, expected: time.Hour},
	}
	for _, tt := range tests {
		if got := NewPruner(tt.retention, nil).Interval(); got != tt.expected {
			t.Errorf("Interval(%v) = %v, want %v", tt.retention, got, tt.expected)
		}
	}
}

func TestPruner_StartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	repo := memory.NewRunRepo(memory.NewMemoryStorage())
	p := NewPruner(time.Hour, repo)

	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
