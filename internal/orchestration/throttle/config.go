package throttle

import "time"

// AdaptiveConfig holds configuration for adaptive inter-group pacing.
type AdaptiveConfig struct {
	// Enabled controls whether adaptive pacing is active
	Enabled bool

	// Delay bounds
	MinDelay time.Duration // Shortest pause between groups (default: 500ms)
	MaxDelay time.Duration // Longest pause between groups (default: 60s)

	// Quota usage thresholds (0-1) across limited, usable credentials
	UsageSlowThreshold     float64 // Above this = double the base delay (default: 0.8)
	UsageCriticalThreshold float64 // Above this = max delay (default: 0.95)

	// Latency thresholds
	LowLatencyThreshold  time.Duration // Below this with idle quota = halve the delay (default: 500ms)
	HighLatencyThreshold time.Duration // Above this = at least double the delay (default: 5s)
}

// DefaultConfig returns sensible defaults for adaptive pacing.
func DefaultConfig() AdaptiveConfig {
	return AdaptiveConfig{
		Enabled:                true,
		MinDelay:               500 * time.Millisecond,
		MaxDelay:               60 * time.Second,
		UsageSlowThreshold:     0.8,
		UsageCriticalThreshold: 0.95,
		LowLatencyThreshold:    500 * time.Millisecond,
		HighLatencyThreshold:   5 * time.Second,
	}
}
