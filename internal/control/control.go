// Package control wires configuration into a ready-to-use orchestration engine.
package control

import (
	"context"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/orchestration/runner"
)

// Orchestrator runs and verifies groups.
type Orchestrator interface {
	// Run creates the requested pairs and reconciles the group
	Run(ctx context.Context, req runner.Request) (*domain.RunResult, error)

	// Verify reconciles a group without creating anything
	Verify(ctx context.Context, groupID string, expected int, originalParentID string) (*domain.VerificationReport, error)
}

// RunHistory reads stored runs.
type RunHistory interface {
	// RecentRuns returns the newest runs, optionally for one group
	RecentRuns(ctx context.Context, groupID string, limit int) ([]*domain.RunResult, error)
}

var (
	_ Orchestrator = (*Engine)(nil)
	_ RunHistory   = (*Engine)(nil)
)
