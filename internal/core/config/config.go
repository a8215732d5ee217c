package config

import (
	"time"

	redisclient "github.com/vietddude/adbatch/internal/infra/redis"
	"github.com/vietddude/adbatch/internal/infra/rpc/provider"
	"github.com/vietddude/adbatch/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig       `yaml:"server"`
	Logging     LoggingConfig      `yaml:"logging"`
	Platform    PlatformConfig     `yaml:"platform"`
	Credentials []CredentialConfig `yaml:"credentials"`
	Pool        PoolConfig         `yaml:"pool"`
	Retry       RetryConfig        `yaml:"retry"`
	Batch       BatchConfig        `yaml:"batch"`
	Retention   RetentionConfig    `yaml:"retention"`
	Redis       redisclient.Config `yaml:"redis"`
	Database    postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// PlatformConfig describes the remote batch endpoint.
type PlatformConfig struct {
	Name          string         `yaml:"name"`
	BaseURL       string         `yaml:"base_url"`
	Timeout       time.Duration  `yaml:"timeout"`
	AccountID     string         `yaml:"account_id"` // empty: create under the group
	Edges         provider.Edges `yaml:"edges"`
	GroupRefField string         `yaml:"group_ref_field"`
}

// CredentialConfig holds one API identity. Credentials without a token borrow
// the primary token.
type CredentialConfig struct {
	ID          string `yaml:"id"`
	Priority    int    `yaml:"priority"`
	HourlyQuota int    `yaml:"hourly_quota"` // 0 = unlimited
	Token       string `yaml:"token"`
}

// PoolConfig holds credential pool settings.
type PoolConfig struct {
	SharedLimitWindow time.Duration `yaml:"shared_limit_window"`
}

// RetryConfig holds per-call and selective retry settings.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	BackoffMultiple float64       `yaml:"backoff_multiple"`
	Jitter          float64       `yaml:"jitter"`
	SelectiveCap    *int          `yaml:"selective_cap"` // nil uses the default; 0 disables
	SelectiveDelay  time.Duration `yaml:"selective_delay"`
}

// BatchConfig holds group sizing and run settings.
type BatchConfig struct {
	MaxPairsPerGroup   int           `yaml:"max_pairs_per_group"`
	HeavyPairsPerGroup int           `yaml:"heavy_pairs_per_group"`
	HeavyPayloadBytes  int           `yaml:"heavy_payload_bytes"`
	HeavyMediaVariants int           `yaml:"heavy_media_variants"`
	InterGroupDelay    time.Duration `yaml:"inter_group_delay"`
	MaxFailureDetails  int           `yaml:"max_failure_details"`

	// Adaptive pacing stretches or shrinks InterGroupDelay with quota
	// pressure and provider latency, within [MinGroupDelay, MaxGroupDelay].
	AdaptivePacing bool          `yaml:"adaptive_pacing"`
	MinGroupDelay  time.Duration `yaml:"min_group_delay"`
	MaxGroupDelay  time.Duration `yaml:"max_group_delay"`
}

// RetentionConfig controls how long run records are kept.
type RetentionConfig struct {
	RunRetention time.Duration `yaml:"run_retention"` // 0 = keep forever
}
