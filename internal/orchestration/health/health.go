// Package health provides system health monitoring and status reporting.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// worse returns the more severe of two statuses.
func worse(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// CredentialHealth contains the budget state of one credential.
type CredentialHealth struct {
	ID          string       `json:"id"`
	Status      SystemStatus `json:"status"`
	Priority    int          `json:"priority"`
	CallsUsed   int          `json:"calls_used"`
	HourlyQuota int          `json:"hourly_quota"`
	UsagePct    float64      `json:"usage_pct"`
	Exhausted   bool         `json:"exhausted"`
}

// PoolHealth summarizes the credential pool.
type PoolHealth struct {
	Status               SystemStatus       `json:"status"`
	Usable               int                `json:"usable"`
	Total                int                `json:"total"`
	SharedLimitSuspected bool               `json:"shared_limit_suspected"`
	Credentials          []CredentialHealth `json:"credentials"`
}

// ProviderHealth contains transport health.
type ProviderHealth struct {
	Name          string       `json:"name"`
	Status        SystemStatus `json:"status"`
	Throttle      string       `json:"throttle"`
	ErrorRate     float64      `json:"error_rate"`
	Latency       string       `json:"latency"`
	LastSuccessAt time.Time    `json:"last_success_at"`
}

// RunHealth summarizes the most recent run.
type RunHealth struct {
	RunID      string    `json:"run_id"`
	GroupID    string    `json:"group_id"`
	Requested  int       `json:"requested"`
	Complete   int       `json:"complete"`
	Shortfall  int       `json:"shortfall"`
	Aborted    bool      `json:"aborted"`
	FinishedAt time.Time `json:"finished_at"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus    `json:"system_status"`
	Pool         PoolHealth      `json:"pool"`
	Provider     *ProviderHealth `json:"provider,omitempty"`
	LastRun      *RunHealth      `json:"last_run,omitempty"`
}
