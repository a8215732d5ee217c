package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/rpc/provider"
	"github.com/vietddude/adbatch/internal/infra/rpc/routing"
	"github.com/vietddude/adbatch/internal/orchestration/metrics"
)

// DefaultMaxAttempts bounds credential attempts per operation.
const DefaultMaxAttempts = 3

// Coordinator executes operations against the credential pool, rotating on
// rate limits and retrying only what is safe to retry.
type Coordinator struct {
	mu sync.RWMutex

	pool        *Pool
	retry       routing.RetryConfig
	maxAttempts int

	// preferred sticks to the last working credential within one quota
	// window; a new window falls back to priority order.
	preferred       string
	preferredWindow time.Time

	sleep      func(ctx context.Context, d time.Duration) error
	onRotation func(fromCredential, toCredential, reason string)
}

// CoordinatorConfig holds configuration for the Coordinator.
type CoordinatorConfig struct {
	MaxAttempts int
	Retry       routing.RetryConfig
}

// DefaultCoordinatorConfig returns sensible defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		MaxAttempts: DefaultMaxAttempts,
		Retry:       routing.DefaultRetryConfig,
	}
}

// NewCoordinator creates a new coordinator with default config.
func NewCoordinator(pool *Pool) *Coordinator {
	return NewCoordinatorWithConfig(pool, DefaultCoordinatorConfig())
}

// NewCoordinatorWithConfig creates a coordinator with custom config.
func NewCoordinatorWithConfig(pool *Pool, config CoordinatorConfig) *Coordinator {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	return &Coordinator{
		pool:        pool,
		retry:       config.Retry,
		maxAttempts: config.MaxAttempts,
		sleep:       routing.Sleep,
	}
}

// SetRotationCallback sets a callback for rotation events.
func (c *Coordinator) SetRotationCallback(fn func(fromCredential, toCredential, reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRotation = fn
}

// Pool returns the underlying credential pool.
func (c *Coordinator) Pool() *Pool {
	return c.pool
}

// Execute runs op under one credential per attempt.
//
//   - success records usage against the credential
//   - rate limits and credential-scoped rejections exhaust the credential and rotate
//   - permanent errors return immediately
//   - ambiguous transients record usage and return; the remote may have committed
//   - transients are retried with backoff only when op.Idempotent
//
// When the pool runs dry, or every attempt was spent rotating, the error wraps
// ErrAllCredentialsExhausted together with the last call error.
func (c *Coordinator) Execute(ctx context.Context, op provider.Operation) (any, error) {
	var lastErr error
	rotated := false
	retries := 0

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		cred, ok := c.pool.Select(c.currentPreferred())
		if !ok {
			return nil, exhaustedError(lastErr)
		}

		result, err := op.Invoke(ctx, cred)
		if err == nil {
			c.pool.RecordUsage(cred.ID)
			c.setPreferred(cred.ID)
			return result, nil
		}
		lastErr = err
		rotated = false

		decision := routing.Classify(err)
		metrics.CallErrors.WithLabelValues(op.Name, decision.Kind.String()).Inc()

		switch {
		case decision.Kind == domain.DecisionRateLimited,
			decision.Kind == domain.DecisionPermanent && decision.CredentialScoped:
			c.pool.MarkExhausted(cred.ID)
			next, ok := c.pool.Select("")
			if !ok {
				return nil, exhaustedError(err)
			}
			c.rotate(cred.ID, next.ID, decision.Reason)
			rotated = true

		case decision.Kind == domain.DecisionPermanent:
			return nil, err

		case decision.Kind == domain.DecisionAmbiguousTransient:
			c.pool.RecordUsage(cred.ID)
			return nil, err

		default:
			if !op.Idempotent || (decision.Unclassified && retries >= 1) {
				return nil, err
			}
			if attempt == c.maxAttempts-1 {
				break
			}
			delay := routing.Backoff(retries, c.retry)
			retries++
			slog.Debug("Retrying operation",
				"op", op.Name,
				"credential", cred.ID,
				"reason", decision.Reason,
				"delay", delay,
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	if rotated {
		return nil, exhaustedError(lastErr)
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", op.Name, c.maxAttempts, lastErr)
}

func (c *Coordinator) rotate(from, to, reason string) {
	c.setPreferred(to)
	metrics.CredentialRotations.WithLabelValues(from, to, reason).Inc()
	slog.Info("Rotating credential", "from", from, "to", to, "reason", reason)

	c.mu.RLock()
	cb := c.onRotation
	c.mu.RUnlock()
	if cb != nil {
		cb(from, to, reason)
	}
}

func (c *Coordinator) currentPreferred() string {
	window := c.pool.WindowStart()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !window.Equal(c.preferredWindow) {
		c.preferred = ""
		c.preferredWindow = window
	}
	return c.preferred
}

func (c *Coordinator) setPreferred(id string) {
	window := c.pool.WindowStart()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.preferred = id
	c.preferredWindow = window
}

func exhaustedError(lastErr error) error {
	if lastErr == nil {
		return ErrAllCredentialsExhausted
	}
	return fmt.Errorf("%w: %w", ErrAllCredentialsExhausted, lastErr)
}
