package control

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/adbatch/internal/core/config"
	"github.com/vietddude/adbatch/internal/orchestration/health"
	"github.com/vietddude/adbatch/internal/orchestration/runner"
	"github.com/vietddude/adbatch/internal/testutil"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Server: config.ServerConfig{Port: 0},
		Credentials: []config.CredentialConfig{
			{ID: "primary", Priority: 1, HourlyQuota: 100, Token: "t1"},
			{ID: "sibling", Priority: 2, HourlyQuota: 100},
		},
		Retry: config.RetryConfig{MaxAttempts: 3},
		Batch: config.BatchConfig{MaxPairsPerGroup: 2, HeavyPairsPerGroup: 1, MaxFailureDetails: 20},
	}
}

func newTestEngine(t *testing.T, cfg *config.AppConfig, p *testutil.Platform) *Engine {
	t.Helper()
	e, err := NewEngineWithTransport(context.Background(), cfg, p)
	if err != nil {
		t.Fatalf("NewEngineWithTransport: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestEngine_RunVerifyAndHistory(t *testing.T) {
	e := newTestEngine(t, testConfig(), testutil.NewPlatform())

	res, err := e.Run(context.Background(), runner.Request{GroupID: "cmp1", Pairs: testutil.Pairs("A", 3)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Complete != 3 || res.GroupsRun != 2 {
		t.Errorf("expected 3 complete in 2 groups, got %d in %d", res.Complete, res.GroupsRun)
	}

	report, err := e.Verify(context.Background(), "cmp1", 3, "")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.Converged() {
		t.Errorf("expected convergence, got %+v", *report)
	}

	runs, err := e.RecentRuns(context.Background(), "cmp1", 5)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != res.RunID {
		t.Fatalf("expected run %s in history, got %+v", res.RunID, runs)
	}

	// 2 groups + 2 list calls per verification, all on the preferred credential.
	if dash := e.PoolDashboard(); !strings.Contains(dash, "Usage: 6/100") {
		t.Errorf("unexpected dashboard:\n%s", dash)
	}
	if status := e.Health(context.Background()).SystemStatus; status != health.StatusHealthy {
		t.Errorf("expected healthy, got %s", status)
	}
}

func TestEngine_InvalidCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.Credentials = append(cfg.Credentials, config.CredentialConfig{ID: "primary", Token: "dup"})

	if _, err := NewEngineWithTransport(context.Background(), cfg, testutil.NewPlatform()); err == nil {
		t.Error("expected error for duplicate credential ids")
	}
}

func TestEngine_ServeHealthStopsOnCancel(t *testing.T) {
	e := newTestEngine(t, testConfig(), testutil.NewPlatform())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.ServeHealth(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ServeHealth returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ServeHealth did not return after cancel")
	}
}

func TestEngine_AdaptivePacingAndRetention(t *testing.T) {
	cfg := testConfig()
	cfg.Batch.AdaptivePacing = true
	cfg.Batch.MinGroupDelay = time.Millisecond
	cfg.Batch.MaxGroupDelay = 5 * time.Millisecond
	cfg.Retention.RunRetention = time.Millisecond

	e := newTestEngine(t, cfg, testutil.NewPlatform())

	res, err := e.Run(context.Background(), runner.Request{GroupID: "cmp1", Pairs: testutil.Pairs("A", 4)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Complete != 4 {
		t.Errorf("expected 4 complete, got %d", res.Complete)
	}

	time.Sleep(10 * time.Millisecond)
	n, err := e.PruneRuns(context.Background())
	if err != nil {
		t.Fatalf("PruneRuns: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned run, got %d", n)
	}

	runs, err := e.RecentRuns(context.Background(), "", 5)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected empty history, got %d runs", len(runs))
	}
}
