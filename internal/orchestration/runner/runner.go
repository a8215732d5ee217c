// Package runner drives one orchestration run: the grouped phase, selective
// retry and verification, under a per-group lock.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/storage"
	"github.com/vietddude/adbatch/internal/orchestration/batch"
	"github.com/vietddude/adbatch/internal/orchestration/metrics"
	"github.com/vietddude/adbatch/internal/orchestration/retry"
	"github.com/vietddude/adbatch/internal/orchestration/verify"
)

var (
	// ErrRunInProgress is returned when another run holds the group lock
	ErrRunInProgress = errors.New("run already in progress for group")

	// ErrEmptyRequest is returned when there is nothing to create
	ErrEmptyRequest = errors.New("empty run request")
)

const (
	// DefaultMaxFailureDetails bounds RunResult.Failures.
	DefaultMaxFailureDetails = 20

	// DefaultRetryCap bounds how many total failures one run retries.
	DefaultRetryCap = 10
)

// Request asks for count pairs under one group.
type Request struct {
	GroupID          string
	Pairs            []domain.PairSpec
	OriginalParentID string // template parent, never counted nor deleted
}

// Config controls a run.
type Config struct {
	RetryCap          int // total failures retried per run; 0 disables
	MaxFailureDetails int
	LockTTL           time.Duration
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	RetryCap:          DefaultRetryCap,
	MaxFailureDetails: DefaultMaxFailureDetails,
	LockTTL:           time.Hour,
}

// Runner wires the phases of a run together.
type Runner struct {
	executor *batch.Executor
	retrier  *retry.Retrier
	verifier *verify.Verifier
	locker   storage.Locker
	runs     storage.RunRepository
	cfg      Config
	now      func() time.Time
}

// New creates a runner. runs may be nil, in which case results are not stored.
func New(
	executor *batch.Executor,
	retrier *retry.Retrier,
	verifier *verify.Verifier,
	locker storage.Locker,
	runs storage.RunRepository,
	cfg Config,
) *Runner {
	if cfg.RetryCap < 0 {
		cfg.RetryCap = 0
	}
	if cfg.MaxFailureDetails <= 0 {
		cfg.MaxFailureDetails = DefaultMaxFailureDetails
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultConfig.LockTTL
	}
	return &Runner{
		executor: executor,
		retrier:  retrier,
		verifier: verifier,
		locker:   locker,
		runs:     runs,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run creates the requested pairs and reconciles the group. Once the lock is
// held it always returns a RunResult; errors are reserved for setup failures.
func (r *Runner) Run(ctx context.Context, req Request) (*domain.RunResult, error) {
	if req.GroupID == "" || len(req.Pairs) == 0 {
		return nil, ErrEmptyRequest
	}

	runID := uuid.NewString()
	release, err := r.lock(ctx, req.GroupID, runID)
	if err != nil {
		return nil, err
	}
	defer release()

	res := &domain.RunResult{
		RunID:     runID,
		GroupID:   req.GroupID,
		Requested: len(req.Pairs),
		StartedAt: r.now(),
	}
	slog.Info("Run started", "run", runID, "group", req.GroupID, "pairs", len(req.Pairs))

	exec := r.executor.Execute(ctx, req.GroupID, req.Pairs)
	res.GroupsRun = exec.GroupsRun
	res.Aborted = exec.Aborted
	if exec.Err != nil {
		res.Err = exec.Err.Error()
	}

	pairs := exec.Pairs
	for _, p := range pairs {
		switch p.State {
		case domain.PairOrphan:
			res.Orphans++
		case domain.PairTotalFailure:
			res.TotalFailures++
		}
	}

	if ctx.Err() == nil {
		r.retrier.RetryOrphans(ctx, req.Pairs, pairs)
		r.retrier.RetryTotalFailures(ctx, req.GroupID, req.Pairs, pairs, r.cfg.RetryCap)
	}
	for i := range pairs {
		if pairs[i].State == domain.PairTotalFailure || pairs[i].State == domain.PairPending {
			pairs[i].State = domain.PairReportedShortfall
		}
	}

	// Cleanup runs even after cancellation so the group is left consistent.
	report, err := r.verifier.VerifyAndCorrect(context.WithoutCancel(ctx), req.GroupID, len(req.Pairs), req.OriginalParentID)
	if err != nil {
		slog.Error("Verification failed", "run", runID, "group", req.GroupID, "error", err)
		if res.Err == "" {
			res.Err = fmt.Sprintf("verify: %v", err)
		}
	}
	res.Report = report

	r.tally(res, pairs)
	res.FinishedAt = r.now()
	r.save(ctx, res)

	metrics.RunsTotal.WithLabelValues(runStatus(res)).Inc()
	slog.Info("Run finished",
		"run", runID,
		"group", req.GroupID,
		"requested", res.Requested,
		"complete", res.Complete,
		"deleted", res.Deleted,
		"unknown", res.Unknown,
		"shortfall", res.Shortfall,
		"aborted", res.Aborted,
		"duration", res.FinishedAt.Sub(res.StartedAt),
	)
	return res, nil
}

// Verify reconciles a group without creating anything.
func (r *Runner) Verify(
	ctx context.Context,
	groupID string,
	expected int,
	originalParentID string,
) (*domain.VerificationReport, error) {
	if groupID == "" {
		return nil, ErrEmptyRequest
	}
	release, err := r.lock(ctx, groupID, uuid.NewString())
	if err != nil {
		return nil, err
	}
	defer release()

	return r.verifier.VerifyAndCorrect(ctx, groupID, expected, originalParentID)
}

func (r *Runner) lock(ctx context.Context, groupID, owner string) (func(), error) {
	key := storage.GroupLockKey(groupID)
	ok, err := r.locker.Acquire(ctx, key, owner, r.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire group lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, groupID)
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go r.keepLock(context.WithoutCancel(ctx), key, owner, done, stopped)

	return func() {
		close(done)
		<-stopped
		if err := r.locker.Release(context.WithoutCancel(ctx), key, owner); err != nil {
			slog.Warn("Failed to release group lock", "group", groupID, "error", err)
		}
	}, nil
}

// keepLock refreshes the lock every third of its TTL until done is closed.
func (r *Runner) keepLock(ctx context.Context, key, owner string, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(max(r.cfg.LockTTL/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ok, err := r.locker.Refresh(ctx, key, owner, r.cfg.LockTTL)
			switch {
			case err != nil:
				slog.Warn("Failed to refresh group lock", "key", key, "error", err)
			case !ok:
				slog.Error("Group lock lost", "key", key, "owner", owner)
			}
		}
	}
}

// tally fills the final counters and the bounded failure list.
func (r *Runner) tally(res *domain.RunResult, pairs []domain.PairResult) {
	res.Pairs = pairs
	reported := 0
	for _, p := range pairs {
		switch p.State {
		case domain.PairComplete:
			res.Complete++
			continue
		case domain.PairDeleted:
			res.Deleted++
		case domain.PairUnknown:
			res.Unknown++
		case domain.PairReportedShortfall:
			reported++
		}
		if len(res.Failures) < r.cfg.MaxFailureDetails {
			res.Failures = append(res.Failures, domain.FailureDetail{
				Index: p.Index,
				Name:  p.Name,
				State: p.State,
				Error: p.ErrorString(),
			})
		}
	}

	res.Shortfall = reported
	if res.Report != nil {
		res.Shortfall = res.Report.Shortfall
	}
}

func (r *Runner) save(ctx context.Context, res *domain.RunResult) {
	if r.runs == nil {
		return
	}
	if err := r.runs.Save(context.WithoutCancel(ctx), res); err != nil {
		slog.Warn("Failed to save run", "run", res.RunID, "error", err)
	}
}

func runStatus(res *domain.RunResult) string {
	switch {
	case res.Report == nil:
		return "unverified"
	case res.Aborted:
		return "aborted"
	case res.Report.Converged():
		return "converged"
	default:
		return "shortfall"
	}
}
