// Package retry repairs pairs that did not complete in the grouped phase.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/rpc/budget"
	"github.com/vietddude/adbatch/internal/infra/rpc/provider"
	"github.com/vietddude/adbatch/internal/infra/rpc/routing"
	"github.com/vietddude/adbatch/internal/orchestration/batch"
	"github.com/vietddude/adbatch/internal/orchestration/metrics"
)

// Platform is what selective retry needs from the remote side.
type Platform interface {
	SubmitGroup(ctx context.Context, ops []domain.Operation) ([]*domain.RawResult, error)
	Delete(ctx context.Context, id string) error
}

// Config controls selective retry.
type Config struct {
	Delay time.Duration // pause between retries
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	Delay: 500 * time.Millisecond,
}

// Retrier re-issues orphans and total failures, one pair at a time.
type Retrier struct {
	platform Platform
	builder  *batch.Builder
	cfg      Config
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a new retrier.
func NewRetrier(platform Platform, builder *batch.Builder, cfg Config) *Retrier {
	return &Retrier{
		platform: platform,
		builder:  builder,
		cfg:      cfg,
		sleep:    routing.Sleep,
	}
}

// RetryOrphans creates the missing child of every orphan against its real
// parent id. A child that still fails gets its parent deleted. specs is
// indexed by PairResult.Index.
func (r *Retrier) RetryOrphans(ctx context.Context, specs []domain.PairSpec, pairs []domain.PairResult) int {
	retried := 0
	for i := range pairs {
		p := &pairs[i]
		if p.State != domain.PairOrphan {
			continue
		}
		if retried > 0 {
			if err := r.sleep(ctx, r.cfg.Delay); err != nil {
				return retried
			}
		}
		retried++
		p.Attempts++

		op := r.builder.BuildChild(p.ParentID, specs[p.Index])
		results, err := r.platform.SubmitGroup(ctx, []domain.Operation{op})

		var outcome domain.Outcome
		if err != nil {
			outcome = outcomeFromError(err)
		} else {
			outcome = batch.ClassifyResult(first(results))
		}

		switch outcome.Kind {
		case domain.OutcomeSuccess:
			p.State = domain.PairComplete
			p.ChildID = outcome.ID
			p.Err = nil
		case domain.OutcomeUnknown:
			// The child may exist; verification decides.
			p.State = domain.PairUnknown
			p.Err = outcome.Err
		default:
			p.Err = outcome.Err
			r.deleteParent(ctx, p)
		}

		slog.Info("Orphan retried", "pair", p.Name, "parent", p.ParentID, "state", p.State)
		metrics.PairOutcomes.WithLabelValues("retry_orphan", string(p.State)).Inc()
	}
	return retried
}

// RetryTotalFailures retries up to limit total failures as atomic two-operation
// groups. Permanent failures and anything over the limit become reported shortfalls.
func (r *Retrier) RetryTotalFailures(
	ctx context.Context,
	groupID string,
	specs []domain.PairSpec,
	pairs []domain.PairResult,
	limit int,
) int {
	retried := 0
	for i := range pairs {
		p := &pairs[i]
		if p.State != domain.PairTotalFailure {
			continue
		}

		if retried >= limit || !retriable(p.Err) || ctx.Err() != nil {
			p.State = domain.PairReportedShortfall
			metrics.PairOutcomes.WithLabelValues("retry_total_failure", string(p.State)).Inc()
			continue
		}

		if retried > 0 {
			if err := r.sleep(ctx, r.cfg.Delay); err != nil {
				p.State = domain.PairReportedShortfall
				continue
			}
		}
		retried++

		r.retryPair(ctx, groupID, specs[p.Index], p)
		metrics.PairOutcomes.WithLabelValues("retry_total_failure", string(p.State)).Inc()
	}
	return retried
}

func (r *Retrier) retryPair(ctx context.Context, groupID string, spec domain.PairSpec, p *domain.PairResult) {
	attempts := p.Attempts + 1
	defer func() { p.Attempts = attempts }()

	results, err := r.platform.SubmitGroup(ctx, r.builder.BuildPairs(groupID, []domain.PairSpec{spec}))
	if err != nil {
		p.Err = err
		if routing.Classify(err).Kind == domain.DecisionAmbiguousTransient {
			p.State = domain.PairUnknown
		} else {
			p.State = domain.PairReportedShortfall
		}
		slog.Warn("Total failure retry failed", "pair", p.Name, "state", p.State, "error", err)
		return
	}

	var parent, child *domain.RawResult
	if len(results) > 0 {
		parent = results[0]
	}
	if len(results) > 1 {
		child = results[1]
	}

	*p = batch.ClassifyPair(p.Index, spec, parent, child)
	switch p.State {
	case domain.PairOrphan:
		r.deleteParent(ctx, p)
	case domain.PairTotalFailure:
		p.State = domain.PairReportedShortfall
	}

	slog.Info("Total failure retried", "pair", p.Name, "state", p.State)
}

// deleteParent removes an orphaned parent. On failure the pair stays an
// orphan for the verifier to clean up.
func (r *Retrier) deleteParent(ctx context.Context, p *domain.PairResult) {
	err := r.platform.Delete(ctx, p.ParentID)
	if err != nil && !provider.IsNotFound(err) {
		slog.Warn("Failed to delete orphaned parent", "pair", p.Name, "parent", p.ParentID, "error", err)
		p.State = domain.PairOrphan
		p.Err = fmt.Errorf("delete orphaned parent %s: %w", p.ParentID, err)
		return
	}
	p.State = domain.PairDeleted
	metrics.VerificationDeletes.WithLabelValues("retry_orphan").Inc()
}

func retriable(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, budget.ErrAllCredentialsExhausted) {
		return false
	}
	return routing.Classify(err).Kind != domain.DecisionPermanent
}

func outcomeFromError(err error) domain.Outcome {
	if routing.Classify(err).Kind == domain.DecisionAmbiguousTransient {
		return domain.Outcome{Kind: domain.OutcomeUnknown, Err: err}
	}
	return domain.Outcome{Kind: domain.OutcomeFailure, Err: err}
}

func first(results []*domain.RawResult) *domain.RawResult {
	if len(results) == 0 {
		return nil
	}
	return results[0]
}
