package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vietddude/adbatch/internal/core/config"
	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/core/worker"
	redisclient "github.com/vietddude/adbatch/internal/infra/redis"
	"github.com/vietddude/adbatch/internal/infra/rpc"
	"github.com/vietddude/adbatch/internal/infra/rpc/provider"
	"github.com/vietddude/adbatch/internal/infra/rpc/routing"
	"github.com/vietddude/adbatch/internal/infra/storage"
	"github.com/vietddude/adbatch/internal/infra/storage/memory"
	"github.com/vietddude/adbatch/internal/infra/storage/postgres"
	"github.com/vietddude/adbatch/internal/orchestration/batch"
	"github.com/vietddude/adbatch/internal/orchestration/health"
	"github.com/vietddude/adbatch/internal/orchestration/retry"
	"github.com/vietddude/adbatch/internal/orchestration/runner"
	"github.com/vietddude/adbatch/internal/orchestration/throttle"
	"github.com/vietddude/adbatch/internal/orchestration/verify"
)

// Engine owns every long-lived component of the application.
type Engine struct {
	cfg          *config.AppConfig
	transport    provider.Transport
	client       *rpc.Client
	runner       *runner.Runner
	runs         storage.RunRepository
	healthMon    *health.Monitor
	healthServer *health.Server
	pruner       *worker.Pruner
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger
}

// NewEngine builds an engine talking to the configured HTTP platform.
func NewEngine(ctx context.Context, cfg *config.AppConfig) (*Engine, error) {
	transport := rpc.NewHTTPProvider(cfg.Platform.Name, cfg.Platform.BaseURL, cfg.Platform.Timeout).
		WithEdges(cfg.Platform.Edges)
	return NewEngineWithTransport(ctx, cfg, transport)
}

// NewEngineWithTransport builds an engine over an arbitrary transport.
func NewEngineWithTransport(ctx context.Context, cfg *config.AppConfig, transport provider.Transport) (*Engine, error) {
	e := &Engine{cfg: cfg, transport: transport, log: slog.Default()}

	// 1. Credential pool & coordinator
	pool, err := rpc.NewPool(Credentials(cfg.Credentials), rpc.PoolConfig{
		SharedLimitWindow: cfg.Pool.SharedLimitWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init credential pool: %w", err)
	}
	pool.SetSharedLimitCallback(func(ids []string) {
		e.log.Warn("Credentials appear to share one limit", "credentials", ids)
	})

	coordinator := rpc.NewCoordinatorWithConfig(pool, rpc.CoordinatorConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Retry: routing.RetryConfig{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialDelay:    cfg.Retry.InitialDelay,
			MaxDelay:        cfg.Retry.MaxDelay,
			BackoffMultiple: cfg.Retry.BackoffMultiple,
			Jitter:          cfg.Retry.Jitter,
		},
	})
	e.client = rpc.NewClient(transport, coordinator)
	coordinator.SetRotationCallback(func(from, to, reason string) {
		e.log.Debug("Credential pool after rotation", "dashboard", e.client.PrintPoolDashboard())
	})

	// 2. Storage
	locker, err := e.initStorage(ctx)
	if err != nil {
		e.Close()
		return nil, err
	}

	// 3. Orchestration
	builder := batch.NewBuilder(batch.BuilderConfig{
		AccountID:      cfg.Platform.AccountID,
		ParentEdge:     cfg.Platform.Edges.Parent,
		ChildEdge:      cfg.Platform.Edges.Child,
		ParentRefField: cfg.Platform.Edges.ChildParentField,
		GroupRefField:  cfg.Platform.GroupRefField,
	})
	executor := batch.NewExecutor(e.client, builder, batch.Config{
		MaxPairsPerGroup:   cfg.Batch.MaxPairsPerGroup,
		HeavyPairsPerGroup: cfg.Batch.HeavyPairsPerGroup,
		HeavyPayloadBytes:  cfg.Batch.HeavyPayloadBytes,
		HeavyMediaVariants: cfg.Batch.HeavyMediaVariants,
		InterGroupDelay:    cfg.Batch.InterGroupDelay,
	})
	if cfg.Batch.AdaptivePacing {
		pacing := throttle.DefaultConfig()
		pacing.MinDelay = cfg.Batch.MinGroupDelay
		pacing.MaxDelay = cfg.Batch.MaxGroupDelay
		var provState throttle.ProviderState
		if src, ok := transport.(throttle.ProviderState); ok {
			provState = src
		}
		executor.SetPacer(throttle.NewAdaptiveController(pool, provState, pacing))
	}
	retrier := retry.NewRetrier(e.client, builder, retry.Config{Delay: cfg.Retry.SelectiveDelay})
	retryCap := runner.DefaultRetryCap
	if cfg.Retry.SelectiveCap != nil {
		retryCap = *cfg.Retry.SelectiveCap
	}
	e.runner = runner.New(executor, retrier, verify.NewVerifier(e.client), locker, e.runs, runner.Config{
		RetryCap:          retryCap,
		MaxFailureDetails: cfg.Batch.MaxFailureDetails,
		LockTTL:           cfg.Redis.LockTTL,
	})

	// 4. Health
	var providerSrc health.ProviderSource
	if src, ok := transport.(health.ProviderSource); ok {
		providerSrc = src
	}
	e.healthMon = health.NewMonitor(pool, providerSrc, e.runs)
	e.healthServer = health.NewServer(e.healthMon, cfg.Server.Port)

	// 5. Retention
	e.pruner = worker.NewPruner(cfg.Retention.RunRetention, e.runs)

	return e, nil
}

func (e *Engine) initStorage(ctx context.Context) (storage.Locker, error) {
	var locker storage.Locker
	store := memory.NewMemoryStorage()

	if e.cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(e.cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		e.redisClient = client
		locker = client
		slog.Info("Using Redis group locks")
	} else {
		locker = memory.NewLocker(store)
		slog.Info("Using in-process group locks")
	}

	switch {
	case e.cfg.Database.URL != "":
		db, err := postgres.NewDB(ctx, e.cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		e.db = db
		if e.cfg.Database.Migrate {
			if err := db.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("failed to migrate db: %w", err)
			}
		}
		e.runs = postgres.NewRunRepo(db)
		slog.Info("Using PostgreSQL run storage")
	case e.redisClient != nil:
		e.runs = redisclient.NewRunRepo(e.redisClient, redisclient.DefaultRunTTL)
		slog.Info("Using Redis run storage")
	default:
		e.runs = memory.NewRunRepo(store)
		slog.Info("Using Memory run storage")
	}
	return locker, nil
}

// Credentials converts configured credentials into pool entries.
func Credentials(cfgs []config.CredentialConfig) []domain.Credential {
	creds := make([]domain.Credential, len(cfgs))
	for i, c := range cfgs {
		creds[i] = domain.Credential{
			ID:          c.ID,
			Priority:    c.Priority,
			HourlyQuota: c.HourlyQuota,
			OwnsToken:   c.Token != "",
			Token:       c.Token,
		}
	}
	return creds
}

// Run implements Orchestrator.
func (e *Engine) Run(ctx context.Context, req runner.Request) (*domain.RunResult, error) {
	return e.runner.Run(ctx, req)
}

// Verify implements Orchestrator.
func (e *Engine) Verify(
	ctx context.Context,
	groupID string,
	expected int,
	originalParentID string,
) (*domain.VerificationReport, error) {
	return e.runner.Verify(ctx, groupID, expected, originalParentID)
}

// RecentRuns implements RunHistory.
func (e *Engine) RecentRuns(ctx context.Context, groupID string, limit int) ([]*domain.RunResult, error) {
	if groupID != "" {
		return e.runs.ListByGroup(ctx, groupID, limit)
	}
	return e.runs.ListRecent(ctx, limit)
}

// PruneRuns deletes run records older than the retention period.
func (e *Engine) PruneRuns(ctx context.Context) (int, error) {
	return e.pruner.Prune(ctx)
}

// StartPruner prunes run records periodically until ctx is done.
func (e *Engine) StartPruner(ctx context.Context) {
	e.pruner.Start(ctx)
}

// Health returns the current health report.
func (e *Engine) Health(ctx context.Context) health.HealthReport {
	return e.healthMon.CheckHealth(ctx)
}

// PoolDashboard renders the credential pool.
func (e *Engine) PoolDashboard() string {
	return e.client.PrintPoolDashboard()
}

// ServeHealth serves health and metrics until ctx is done.
func (e *Engine) ServeHealth(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		e.log.Info("Health server listening", "port", e.cfg.Server.Port)
		errCh <- e.healthServer.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health server: %w", err)
	case <-ctx.Done():
		if err := e.healthServer.Stop(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("stop health server: %w", err)
		}
		<-errCh
		return nil
	}
}

// Close releases external connections.
func (e *Engine) Close() {
	e.log.Info("Stopping engine...")

	if e.redisClient != nil {
		if err := e.redisClient.Close(); err != nil {
			e.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.log.Warn("Failed to close database", "error", err)
		}
	}
	if c, ok := e.transport.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}
