package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/adbatch/internal/infra/rpc/budget"
	"github.com/vietddude/adbatch/internal/infra/rpc/routing"
	"github.com/vietddude/adbatch/internal/orchestration/batch"
	"github.com/vietddude/adbatch/internal/orchestration/retry"
	"github.com/vietddude/adbatch/internal/orchestration/runner"
	"github.com/vietddude/adbatch/internal/orchestration/throttle"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Platform.Name == "" {
		c.Platform.Name = "graph"
	}
	if c.Platform.Timeout == 0 {
		c.Platform.Timeout = 60 * time.Second
	}

	if c.Pool.SharedLimitWindow == 0 {
		c.Pool.SharedLimitWindow = budget.DefaultSharedLimitWindow
	}

	def := routing.DefaultRetryConfig
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = def.MaxAttempts
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = def.InitialDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = def.MaxDelay
	}
	if c.Retry.BackoffMultiple == 0 {
		c.Retry.BackoffMultiple = def.BackoffMultiple
	}
	if c.Retry.Jitter == 0 {
		c.Retry.Jitter = def.Jitter
	}
	if c.Retry.SelectiveCap == nil {
		selectiveCap := runner.DefaultRetryCap
		c.Retry.SelectiveCap = &selectiveCap
	}
	if c.Retry.SelectiveDelay == 0 {
		c.Retry.SelectiveDelay = retry.DefaultConfig.Delay
	}

	if c.Batch.MaxPairsPerGroup == 0 {
		c.Batch.MaxPairsPerGroup = batch.DefaultConfig.MaxPairsPerGroup
	}
	if c.Batch.HeavyPairsPerGroup == 0 {
		c.Batch.HeavyPairsPerGroup = batch.DefaultConfig.HeavyPairsPerGroup
	}
	if c.Batch.HeavyPayloadBytes == 0 {
		c.Batch.HeavyPayloadBytes = batch.DefaultConfig.HeavyPayloadBytes
	}
	if c.Batch.HeavyMediaVariants == 0 {
		c.Batch.HeavyMediaVariants = batch.DefaultConfig.HeavyMediaVariants
	}
	if c.Batch.InterGroupDelay == 0 {
		c.Batch.InterGroupDelay = batch.DefaultConfig.InterGroupDelay
	}
	if c.Batch.MaxFailureDetails == 0 {
		c.Batch.MaxFailureDetails = runner.DefaultMaxFailureDetails
	}
	if c.Batch.MinGroupDelay == 0 {
		c.Batch.MinGroupDelay = throttle.DefaultConfig().MinDelay
	}
	if c.Batch.MaxGroupDelay == 0 {
		c.Batch.MaxGroupDelay = throttle.DefaultConfig().MaxDelay
	}

	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = runner.DefaultConfig.LockTTL
	}
}

// Validate checks settings that have no sensible default.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Platform.BaseURL == "" {
		errs = append(errs, errors.New("platform.base_url is required"))
	}
	if len(c.Credentials) == 0 {
		errs = append(errs, errors.New("at least one credential is required"))
	}
	hasToken := false
	for i, cred := range c.Credentials {
		if cred.ID == "" {
			errs = append(errs, fmt.Errorf("credentials[%d].id is required", i))
		}
		if cred.HourlyQuota < 0 {
			errs = append(errs, fmt.Errorf("credentials[%d].hourly_quota must not be negative", i))
		}
		if cred.Token != "" {
			hasToken = true
		}
	}
	if len(c.Credentials) > 0 && !hasToken {
		errs = append(errs, errors.New("at least one credential must carry a token"))
	}
	if c.Batch.HeavyPairsPerGroup > c.Batch.MaxPairsPerGroup {
		errs = append(errs, errors.New("batch.heavy_pairs_per_group exceeds batch.max_pairs_per_group"))
	}
	if c.Retry.SelectiveCap != nil && *c.Retry.SelectiveCap < 0 {
		errs = append(errs, errors.New("retry.selective_cap must not be negative"))
	}
	if c.Batch.MinGroupDelay > c.Batch.MaxGroupDelay {
		errs = append(errs, errors.New("batch.min_group_delay exceeds batch.max_group_delay"))
	}
	if c.Retention.RunRetention < 0 {
		errs = append(errs, errors.New("retention.run_retention must not be negative"))
	}
	return errors.Join(errs...)
}
