// Package rpc provides a credential-rotating client for the advertising platform.
//
// This package offers:
//   - Grouped writes with result references between operations
//   - Credential rotation on rate limits and rejected tokens
//   - Hourly quota tracking with shared-limit detection
//   - Typed error classification
//
// # Quick Start
//
//	import "github.com/vietddude/adbatch/internal/infra/rpc"
//
//	pool, err := rpc.NewPool(creds, rpc.PoolConfig{})
//	coordinator := rpc.NewCoordinator(pool)
//	transport := rpc.NewHTTPProvider("graph", baseURL, 60*time.Second)
//
//	client := rpc.NewClient(transport, coordinator)
//	results, err := client.SubmitGroup(ctx, ops)
//
// # Package Structure
//
//   - provider/ - Transport contract, HTTP batch implementation, monitoring
//   - routing/  - Error classification and backoff
//   - budget/   - Credential pool and coordination
//
// Most types are re-exported at the root level for convenience.
package rpc

import (
	"time"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/rpc/budget"
	"github.com/vietddude/adbatch/internal/infra/rpc/provider"
	"github.com/vietddude/adbatch/internal/infra/rpc/routing"
)

// =============================================================================
// Re-exported types from provider package
// =============================================================================

// Transport is the platform surface the engine depends on.
type Transport = provider.Transport

// HTTPProvider implements Transport over the HTTP batch endpoint.
type HTTPProvider = provider.HTTPProvider

// Edges names the platform collections.
type Edges = provider.Edges

// APIError is a decoded platform error.
type APIError = provider.APIError

// Operation represents a call executed under one credential.
type Operation = provider.Operation

// MonitorStats holds monitoring statistics for a provider.
type MonitorStats = provider.MonitorStats

// HealthStatus represents the health state of a provider.
type HealthStatus = provider.HealthStatus

// NewHTTPProvider creates a new HTTP batch provider.
func NewHTTPProvider(name, baseURL string, timeout time.Duration) *HTTPProvider {
	return provider.NewHTTPProvider(name, baseURL, timeout)
}

// IsNotFound reports whether the platform said the object does not exist.
var IsNotFound = provider.IsNotFound

// =============================================================================
// Re-exported types from routing package
// =============================================================================

// RetryConfig defines retry behavior.
type RetryConfig = routing.RetryConfig

// DefaultRetryConfig provides sensible retry defaults.
var DefaultRetryConfig = routing.DefaultRetryConfig

// Classify derives a retry decision from an error.
func Classify(err error) domain.RetryDecision {
	return routing.Classify(err)
}

// =============================================================================
// Re-exported types from budget package
// =============================================================================

// Pool is the credential pool.
type Pool = budget.Pool

// PoolConfig holds pool configuration.
type PoolConfig = budget.PoolConfig

// Coordinator executes operations against the pool.
type Coordinator = budget.Coordinator

// CoordinatorConfig holds configuration for the Coordinator.
type CoordinatorConfig = budget.CoordinatorConfig

// ErrAllCredentialsExhausted is returned when no credential can take another call.
var ErrAllCredentialsExhausted = budget.ErrAllCredentialsExhausted

// NewPool creates a credential pool.
func NewPool(creds []domain.Credential, config PoolConfig) (*Pool, error) {
	return budget.NewPool(creds, config)
}

// NewCoordinator creates a new coordinator with default config.
func NewCoordinator(pool *Pool) *Coordinator {
	return budget.NewCoordinator(pool)
}

// NewCoordinatorWithConfig creates a coordinator with custom config.
func NewCoordinatorWithConfig(pool *Pool, config CoordinatorConfig) *Coordinator {
	return budget.NewCoordinatorWithConfig(pool, config)
}

// DefaultCoordinatorConfig returns sensible coordinator defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return budget.DefaultCoordinatorConfig()
}
