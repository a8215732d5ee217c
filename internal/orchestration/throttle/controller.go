package throttle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/rpc/provider"
	"github.com/vietddude/adbatch/internal/orchestration/metrics"
)

// PoolState exposes the credential pool to the controller.
type PoolState interface {
	Snapshot() []domain.Credential
	SharedLimitSuspected() bool
}

// ProviderState exposes provider health to the controller.
type ProviderState interface {
	GetHealth() provider.HealthStatus
}

// Signals is one observation of pool and provider pressure.
type Signals struct {
	Usage       float64 // 0-1 across limited, usable credentials
	SharedLimit bool
	Latency     time.Duration
	RetryAfter  time.Duration
}

// AdaptiveController computes the pause between groups from quota pressure
// and provider latency.
type AdaptiveController struct {
	pool     PoolState
	provider ProviderState
	config   AdaptiveConfig

	mu           sync.Mutex
	currentDelay time.Duration
}

// NewAdaptiveController creates a new adaptive controller. provider may be nil.
func NewAdaptiveController(pool PoolState, prov ProviderState, config AdaptiveConfig) *AdaptiveController {
	return &AdaptiveController{
		pool:     pool,
		provider: prov,
		config:   config,
	}
}

// InterGroupDelay returns the pause to take before the next group, starting
// from the configured base delay.
func (c *AdaptiveController) InterGroupDelay(base time.Duration) time.Duration {
	if !c.config.Enabled {
		return base
	}
	delay := c.ComputeDelay(base, c.Observe())

	c.mu.Lock()
	changed := delay != c.currentDelay
	c.currentDelay = delay
	c.mu.Unlock()

	if changed {
		slog.Debug("Inter-group delay adjusted", "base", base, "delay", delay)
	}
	metrics.InterGroupDelay.Set(delay.Seconds())
	return delay
}

// Observe samples the current pool and provider signals.
func (c *AdaptiveController) Observe() Signals {
	var s Signals
	if c.pool != nil {
		s.Usage = QuotaUsage(c.pool.Snapshot())
		s.SharedLimit = c.pool.SharedLimitSuspected()
	}
	if c.provider != nil {
		h := c.provider.GetHealth()
		s.Latency = h.Latency
		if h.MonitorStats != nil {
			s.RetryAfter = h.MonitorStats.RetryAfter
		}
	}
	return s
}

// ComputeDelay calculates the pause between groups.
//
// Algorithm:
//   - shared limit suspected or usage ≥ critical: max delay
//   - usage ≥ slow: base × 2
//   - latency > high: at least base × 2
//   - usage < slow/2 and latency < low: base / 2
//   - otherwise: base
//
// A pending Retry-After is always honored, then the result is bounded.
func (c *AdaptiveController) ComputeDelay(base time.Duration, s Signals) time.Duration {
	if !c.config.Enabled {
		return base
	}

	var delay time.Duration
	switch {
	case s.SharedLimit || s.Usage >= c.config.UsageCriticalThreshold:
		delay = c.config.MaxDelay
	case s.Usage >= c.config.UsageSlowThreshold:
		delay = base * 2
	case s.Latency > c.config.HighLatencyThreshold:
		delay = base * 2
	case s.Usage < c.config.UsageSlowThreshold/2 && s.Latency > 0 && s.Latency < c.config.LowLatencyThreshold:
		delay = base / 2
	default:
		delay = base
	}

	if s.RetryAfter > delay {
		delay = s.RetryAfter
	}

	// Enforce bounds
	if delay < c.config.MinDelay {
		delay = c.config.MinDelay
	}
	if delay > c.config.MaxDelay {
		delay = c.config.MaxDelay
	}
	return delay
}

// CurrentDelay returns the last computed delay.
func (c *AdaptiveController) CurrentDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentDelay
}

// QuotaUsage returns calls used over quota summed across usable credentials
// with a limit. Unlimited credentials count as idle capacity; an empty or
// fully exhausted pool reports 1.
func QuotaUsage(creds []domain.Credential) float64 {
	var used, quota int
	unlimited := false
	for _, cr := range creds {
		if !cr.Usable() {
			continue
		}
		if cr.HourlyQuota <= 0 {
			unlimited = true
			continue
		}
		used += cr.CallsUsed
		quota += cr.HourlyQuota
	}
	switch {
	case unlimited && quota == 0:
		return 0
	case quota == 0:
		return 1
	}
	ratio := float64(used) / float64(quota)
	if unlimited {
		ratio /= 2
	}
	return min(ratio, 1)
}
