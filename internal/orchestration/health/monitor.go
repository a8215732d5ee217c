package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/rpc/provider"
	"github.com/vietddude/adbatch/internal/infra/storage"
)

// CredentialSource exposes the credential pool state.
type CredentialSource interface {
	Snapshot() []domain.Credential
	UsableCount() int
	SharedLimitSuspected() bool
}

// ProviderSource exposes transport health.
type ProviderSource interface {
	GetName() string
	GetHealth() provider.HealthStatus
}

// Monitor aggregates health status from various system components.
type Monitor struct {
	pool       CredentialSource
	provider   ProviderSource
	runs       storage.RunRepository
	cacheTTL   time.Duration
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. providerSrc and runs may be nil.
func NewMonitor(pool CredentialSource, providerSrc ProviderSource, runs storage.RunRepository) *Monitor {
	return &Monitor{
		pool:     pool,
		provider: providerSrc,
		runs:     runs,
		cacheTTL: 10 * time.Second,
	}
}

// CheckHealth builds the health report, reusing a recent one.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks to avoid hammering the run store
	if m.lastReport != nil && time.Since(m.lastCheck) < m.cacheTTL {
		return *m.lastReport
	}

	report := HealthReport{Pool: m.checkPool()}
	report.SystemStatus = report.Pool.Status

	if m.provider != nil {
		ph := checkProvider(m.provider)
		report.Provider = &ph
		report.SystemStatus = worse(report.SystemStatus, ph.Status)
	}

	if m.runs != nil {
		recent, err := m.runs.ListRecent(ctx, 1)
		if err != nil {
			slog.Warn("Health check could not read runs", "error", err)
			report.SystemStatus = worse(report.SystemStatus, StatusDegraded)
		} else if len(recent) > 0 {
			run := recent[0]
			report.LastRun = &RunHealth{
				RunID:      run.RunID,
				GroupID:    run.GroupID,
				Requested:  run.Requested,
				Complete:   run.Complete,
				Shortfall:  run.Shortfall,
				Aborted:    run.Aborted,
				FinishedAt: run.FinishedAt,
			}
			if run.Shortfall > 0 || run.Aborted {
				report.SystemStatus = worse(report.SystemStatus, StatusDegraded)
			}
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}

func (m *Monitor) checkPool() PoolHealth {
	creds := m.pool.Snapshot()
	ph := PoolHealth{
		Status:               StatusHealthy,
		Usable:               m.pool.UsableCount(),
		Total:                len(creds),
		SharedLimitSuspected: m.pool.SharedLimitSuspected(),
		Credentials:          make([]CredentialHealth, 0, len(creds)),
	}

	exhausted := 0
	for _, c := range creds {
		ch := CredentialHealth{
			ID:          c.ID,
			Status:      StatusHealthy,
			Priority:    c.Priority,
			CallsUsed:   c.CallsUsed,
			HourlyQuota: c.HourlyQuota,
			UsagePct:    c.UsagePercentage(),
			Exhausted:   c.Exhausted,
		}
		switch {
		case !c.Usable():
			ch.Status = StatusCritical
			exhausted++
		case ch.UsagePct >= 80:
			ch.Status = StatusDegraded
		}
		ph.Credentials = append(ph.Credentials, ch)
	}

	switch {
	case ph.Usable == 0:
		ph.Status = StatusCritical
	case exhausted > 0 || ph.SharedLimitSuspected:
		ph.Status = StatusDegraded
	}
	return ph
}

func checkProvider(src ProviderSource) ProviderHealth {
	h := src.GetHealth()
	ph := ProviderHealth{
		Name:          src.GetName(),
		Status:        StatusHealthy,
		Throttle:      provider.StatusHealthy.String(),
		ErrorRate:     h.ErrorRate,
		Latency:       h.Latency.String(),
		LastSuccessAt: h.LastSuccessAt,
	}
	if h.MonitorStats != nil {
		ph.Throttle = h.MonitorStats.Status.String()
		switch h.MonitorStats.Status {
		case provider.StatusBlocked:
			ph.Status = StatusCritical
		case provider.StatusThrottled, provider.StatusDegraded:
			ph.Status = StatusDegraded
		}
	}
	if !h.Available {
		ph.Status = worse(ph.Status, StatusDegraded)
	}
	return ph
}
