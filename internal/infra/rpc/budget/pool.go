// Package budget handles credential quotas and rotation.
//
// This package contains:
//   - Pool: mutex-guarded credential pool with hourly quota windows
//   - Coordinator: executes operations against the pool with typed retry and rotation
package budget

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/orchestration/metrics"
)

var (
	// ErrAllCredentialsExhausted is returned when no credential can take another call.
	ErrAllCredentialsExhausted = errors.New("all credentials exhausted")

	// ErrNoCredentials is returned when a pool is built from an empty list.
	ErrNoCredentials = errors.New("no credentials configured")
)

// DefaultSharedLimitWindow is how close together two exhaustions must be to
// suggest the credentials share a limit.
const DefaultSharedLimitWindow = 10 * time.Second

// PoolConfig holds pool configuration.
type PoolConfig struct {
	SharedLimitWindow time.Duration
}

type exhaustion struct {
	id string
	at time.Time
}

// Pool tracks usage for a fixed set of credentials. All mutation goes through
// RecordUsage, MarkExhausted and ResetIfWindowElapsed.
type Pool struct {
	mu sync.Mutex

	creds        []*domain.Credential // configuration order
	index        map[string]*domain.Credential
	primaryToken string

	windowStart time.Time
	now         func() time.Time

	sharedWindow   time.Duration
	recent         []exhaustion
	sharedSuspect  bool
	onSharedLimits func(ids []string)
}

// NewPool creates a pool from configured credentials.
func NewPool(creds []domain.Credential, config PoolConfig) (*Pool, error) {
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}
	if config.SharedLimitWindow <= 0 {
		config.SharedLimitWindow = DefaultSharedLimitWindow
	}

	p := &Pool{
		index:        make(map[string]*domain.Credential, len(creds)),
		now:          time.Now,
		sharedWindow: config.SharedLimitWindow,
	}

	for i := range creds {
		c := creds[i]
		if c.ID == "" {
			return nil, fmt.Errorf("credential %d: missing id", i)
		}
		if _, dup := p.index[c.ID]; dup {
			return nil, fmt.Errorf("duplicate credential id %q", c.ID)
		}
		c.CallsUsed = 0
		c.Exhausted = false
		c.ExhaustedAt = time.Time{}
		p.creds = append(p.creds, &c)
		p.index[c.ID] = &c
	}

	// Borrowed tokens come from the most preferred credential that owns one.
	for _, c := range p.byPriority() {
		if c.OwnsToken && c.Token != "" {
			p.primaryToken = c.Token
			break
		}
	}

	p.windowStart = p.now().Truncate(time.Hour)
	return p, nil
}

// WithClock replaces the time source. Intended for tests.
func (p *Pool) WithClock(now func() time.Time) *Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
	p.windowStart = now().Truncate(time.Hour)
	return p
}

// SetSharedLimitCallback sets a callback fired when a shared limit is suspected.
func (p *Pool) SetSharedLimitCallback(fn func(ids []string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSharedLimits = fn
}

// Select returns the credential to use next. preferred is honored when it is
// usable; otherwise the lowest priority usable credential wins.
func (p *Pool) Select(preferred string) (domain.Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetIfWindowElapsedLocked()

	if preferred != "" {
		if c, ok := p.index[preferred]; ok && c.Usable() {
			return p.withToken(*c), true
		}
	}

	for _, c := range p.byPriority() {
		if c.Usable() {
			return p.withToken(*c), true
		}
	}
	return domain.Credential{}, false
}

// RecordUsage attributes one successful call to the credential.
func (p *Pool) RecordUsage(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetIfWindowElapsedLocked()

	c, ok := p.index[id]
	if !ok {
		return
	}
	if c.HourlyQuota <= 0 || c.CallsUsed < c.HourlyQuota {
		c.CallsUsed++
	}

	metrics.CredentialCalls.WithLabelValues(id).Inc()
	metrics.CredentialUsage.WithLabelValues(id).Set(c.UsagePercentage() / 100)

	slog.Debug("Credential usage",
		"credential", id,
		"used", c.CallsUsed,
		"quota", c.HourlyQuota,
		"percent", fmt.Sprintf("%.1f", c.UsagePercentage()),
	)
}

// MarkExhausted takes the credential out of rotation until the window resets.
func (p *Pool) MarkExhausted(id string) {
	p.mu.Lock()

	c, ok := p.index[id]
	if !ok || c.Exhausted {
		p.mu.Unlock()
		return
	}

	now := p.now()
	c.Exhausted = true
	c.ExhaustedAt = now
	if c.HourlyQuota > 0 {
		c.CallsUsed = c.HourlyQuota
	}

	metrics.CredentialExhaustions.WithLabelValues(id).Inc()
	metrics.CredentialUsage.WithLabelValues(id).Set(1)
	slog.Warn("Credential exhausted", "credential", id, "used", c.CallsUsed, "quota", c.HourlyQuota)

	ids := p.detectSharedLimitLocked(id, now)
	cb := p.onSharedLimits
	p.mu.Unlock()

	if ids != nil && cb != nil {
		cb(ids)
	}
}

// detectSharedLimitLocked returns the ids involved when two or more distinct
// credentials were exhausted inside the window.
func (p *Pool) detectSharedLimitLocked(id string, now time.Time) []string {
	cutoff := now.Add(-p.sharedWindow)
	kept := p.recent[:0]
	for _, e := range p.recent {
		if e.at.After(cutoff) && e.id != id {
			kept = append(kept, e)
		}
	}
	p.recent = append(kept, exhaustion{id: id, at: now})

	if len(p.recent) < 2 {
		return nil
	}

	ids := make([]string, len(p.recent))
	for i, e := range p.recent {
		ids[i] = e.id
	}

	p.sharedSuspect = true
	metrics.SharedLimitWarnings.Inc()
	slog.Warn("Multiple credentials exhausted together, limit may be shared",
		"credentials", ids,
		"window", p.sharedWindow,
	)
	return ids
}

// ResetIfWindowElapsed clears usage once the hour boundary has passed.
func (p *Pool) ResetIfWindowElapsed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetIfWindowElapsedLocked()
}

func (p *Pool) resetIfWindowElapsedLocked() {
	current := p.now().Truncate(time.Hour)
	if !current.After(p.windowStart) {
		return
	}

	for _, c := range p.creds {
		c.CallsUsed = 0
		c.Exhausted = false
		c.ExhaustedAt = time.Time{}
		metrics.CredentialUsage.WithLabelValues(c.ID).Set(0)
	}
	p.windowStart = current
	p.recent = nil
	p.sharedSuspect = false

	slog.Info("Credential quota window reset", "window_start", current.Format(time.RFC3339))
}

// WindowStart returns the start of the current quota window.
func (p *Pool) WindowStart() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetIfWindowElapsedLocked()
	return p.windowStart
}

// SharedLimitSuspected reports whether the detector fired in the current window.
func (p *Pool) SharedLimitSuspected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sharedSuspect
}

// Snapshot returns copies of all credentials in configuration order.
func (p *Pool) Snapshot() []domain.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetIfWindowElapsedLocked()

	out := make([]domain.Credential, len(p.creds))
	for i, c := range p.creds {
		out[i] = *c
	}
	return out
}

// UsableCount returns how many credentials can currently be selected.
func (p *Pool) UsableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetIfWindowElapsedLocked()

	n := 0
	for _, c := range p.creds {
		if c.Usable() {
			n++
		}
	}
	return n
}

// TokenFor resolves the token a credential authenticates with.
func (p *Pool) TokenFor(c domain.Credential) string {
	if c.OwnsToken && c.Token != "" {
		return c.Token
	}
	return p.primaryToken
}

func (p *Pool) withToken(c domain.Credential) domain.Credential {
	c.Token = p.TokenFor(c)
	return c
}

func (p *Pool) byPriority() []*domain.Credential {
	sorted := make([]*domain.Credential, len(p.creds))
	copy(sorted, p.creds)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted
}
