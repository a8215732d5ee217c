package control

import (
	"context"
	"slices"
	"testing"

	"github.com/vietddude/adbatch/internal/core/config"
	"github.com/vietddude/adbatch/internal/orchestration/health"
	"github.com/vietddude/adbatch/internal/orchestration/runner"
	"github.com/vietddude/adbatch/internal/testutil"
)

func TestEngine_OverHTTP(t *testing.T) {
	p := testutil.NewPlatform()
	srv := testutil.NewHTTPServer(p)
	defer srv.Close()

	cfg := testConfig()
	cfg.Platform = config.PlatformConfig{Name: "graph", BaseURL: srv.URL}
	cfg.Credentials = []config.CredentialConfig{
		{ID: "t1", Priority: 1, HourlyQuota: 2, Token: "t1"},
		{ID: "t2", Priority: 2, Token: "t2"},
	}

	e, err := NewEngine(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()

	original := p.Seed("cmp1", "Summer", true)
	p.FailCreate("ads", "Summer - Copy 3", 1, 400, testutil.ErrorBody(1, "An unknown error occurred", false))

	res, err := e.Run(context.Background(), runner.Request{
		GroupID:          "cmp1",
		Pairs:            testutil.Pairs("Summer", 3),
		OriginalParentID: original,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Orphans != 1 || res.Complete != 3 {
		t.Errorf("expected 1 orphan and 3 complete, got %d and %d", res.Orphans, res.Complete)
	}
	if res.Report == nil || !res.Report.Converged() {
		t.Fatalf("expected converged report, got %+v", res.Report)
	}
	if n := len(p.Parents("cmp1")); n != 4 {
		t.Errorf("expected three copies plus the original, got %d parents", n)
	}

	// Two groups drain the first credential; the orphan retry rotates.
	if got, want := p.Credentials(), []string{"t1", "t1", "t2"}; !slices.Equal(got, want) {
		t.Errorf("expected credentials %v, got %v", want, got)
	}

	report := e.Health(context.Background())
	if report.Provider == nil {
		t.Fatal("expected provider health")
	}
	if report.Provider.Name != "graph" {
		t.Errorf("expected provider graph, got %s", report.Provider.Name)
	}
	if report.Pool.Status != health.StatusDegraded {
		t.Errorf("first credential is at quota: expected degraded, got %s", report.Pool.Status)
	}
}
