// Package provider implements the boundary to the remote advertising platform.
//
// This package contains:
//   - Transport: the grouped-write / list / delete contract the engine consumes
//   - Operation: a unit of work the budget Coordinator attributes to one credential
//   - APIError: typed platform error decoded from the error envelope
//   - HTTPProvider: batch endpoint over HTTP
//   - ProviderMonitor: latency and throttle tracking
package provider

import (
	"context"
	"time"

	"github.com/vietddude/adbatch/internal/core/domain"
)

// Operation represents a remote call to execute under some credential.
// It abstracts the transport for unified rotation/budget logic.
type Operation struct {
	// Name identifies the operation (e.g., "submit_group", "list_parents")
	Name string

	// Idempotent allows the Coordinator to retry transient failures.
	// NOTE: grouped writes are never idempotent; a retry could duplicate whatever landed.
	Idempotent bool

	// Invoke executes the call with the selected credential.
	Invoke func(ctx context.Context, cred domain.Credential) (any, error)
}

// Transport is the platform surface the engine depends on.
type Transport interface {
	// SubmitGroup sends ops as one round trip. Request-level failures are returned as
	// errors; per-operation failures are embedded in the results.
	SubmitGroup(ctx context.Context, cred domain.Credential, ops []domain.Operation) ([]*domain.RawResult, error)

	// ListParents returns every parent under the group.
	ListParents(ctx context.Context, cred domain.Credential, groupID string) ([]domain.Node, error)

	// ListChildren returns every child under the group, with ParentID set.
	ListChildren(ctx context.Context, cred domain.Credential, groupID string) ([]domain.Node, error)

	// Delete removes a remote object.
	Delete(ctx context.Context, cred domain.Credential, id string) error
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at"`
	MonitorStats  *MonitorStats `json:"monitor_stats,omitempty"`
}
