package domain

import "time"

// Credential is one rate-limited API identity in the pool.
type Credential struct {
	ID          string    `json:"id"`
	Priority    int       `json:"priority"` // lower = preferred
	HourlyQuota int       `json:"hourly_quota"`
	CallsUsed   int       `json:"calls_used"`
	Exhausted   bool      `json:"exhausted"`
	ExhaustedAt time.Time `json:"exhausted_at,omitempty"`
	OwnsToken   bool      `json:"owns_token"`
	Token       string    `json:"-"`
}

// AtQuota reports whether the credential has no calls left this window.
// A zero quota means unlimited.
func (c Credential) AtQuota() bool {
	return c.HourlyQuota > 0 && c.CallsUsed >= c.HourlyQuota
}

// Usable reports whether the credential may be selected.
func (c Credential) Usable() bool {
	return !c.Exhausted && !c.AtQuota()
}

// UsagePercentage returns calls used as a percentage of the hourly quota.
func (c Credential) UsagePercentage() float64 {
	if c.HourlyQuota <= 0 {
		return 0
	}
	return float64(c.CallsUsed) / float64(c.HourlyQuota) * 100
}
