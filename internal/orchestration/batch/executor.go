package batch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/rpc/budget"
	"github.com/vietddude/adbatch/internal/infra/rpc/provider"
	"github.com/vietddude/adbatch/internal/infra/rpc/routing"
	"github.com/vietddude/adbatch/internal/orchestration/metrics"
)

// Submitter sends one grouped request.
type Submitter interface {
	SubmitGroup(ctx context.Context, ops []domain.Operation) ([]*domain.RawResult, error)
}

// Pacer adjusts the pause between groups.
type Pacer interface {
	InterGroupDelay(base time.Duration) time.Duration
}

// Config controls group sizing and pacing.
type Config struct {
	MaxPairsPerGroup   int
	HeavyPairsPerGroup int
	HeavyPayloadBytes  int
	HeavyMediaVariants int
	InterGroupDelay    time.Duration
}

// DefaultConfig keeps groups at or below 20 operations.
var DefaultConfig = Config{
	MaxPairsPerGroup:   10,
	HeavyPairsPerGroup: 4,
	HeavyPayloadBytes:  16 * 1024,
	HeavyMediaVariants: 3,
	InterGroupDelay:    2 * time.Second,
}

// ExecuteResult is the provisional outcome of the grouped phase.
type ExecuteResult struct {
	Pairs     []domain.PairResult
	GroupsRun int
	Aborted   bool
	Err       error
}

// Executor runs groups sequentially through a Submitter.
type Executor struct {
	client  Submitter
	builder *Builder
	cfg     Config
	pacer   Pacer
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor, filling unset sizes from DefaultConfig.
func NewExecutor(client Submitter, builder *Builder, cfg Config) *Executor {
	if cfg.MaxPairsPerGroup <= 0 {
		cfg.MaxPairsPerGroup = DefaultConfig.MaxPairsPerGroup
	}
	if cfg.HeavyPairsPerGroup <= 0 {
		cfg.HeavyPairsPerGroup = DefaultConfig.HeavyPairsPerGroup
	}
	if cfg.HeavyPairsPerGroup > cfg.MaxPairsPerGroup {
		cfg.HeavyPairsPerGroup = cfg.MaxPairsPerGroup
	}
	if cfg.HeavyPayloadBytes <= 0 {
		cfg.HeavyPayloadBytes = DefaultConfig.HeavyPayloadBytes
	}
	if cfg.HeavyMediaVariants <= 0 {
		cfg.HeavyMediaVariants = DefaultConfig.HeavyMediaVariants
	}
	return &Executor{
		client:  client,
		builder: builder,
		cfg:     cfg,
		sleep:   routing.Sleep,
	}
}

// SetPacer replaces the fixed inter-group delay with an adaptive one.
func (e *Executor) SetPacer(p Pacer) {
	e.pacer = p
}

func (e *Executor) interGroupDelay() time.Duration {
	if e.pacer == nil {
		return e.cfg.InterGroupDelay
	}
	return e.pacer.InterGroupDelay(e.cfg.InterGroupDelay)
}

// Submit runs one group.
func (e *Executor) Submit(ctx context.Context, ops []domain.Operation) ([]*domain.RawResult, error) {
	results, err := e.client.SubmitGroup(ctx, ops)
	outcome := "ok"
	if err != nil {
		outcome = routing.Classify(err).Kind.String()
		if errors.Is(err, budget.ErrAllCredentialsExhausted) {
			outcome = "exhausted"
		}
	}
	metrics.GroupsSubmitted.WithLabelValues(outcome).Inc()
	return results, err
}

// GroupSize returns how many pairs go into one group.
func (e *Executor) GroupSize(specs []domain.PairSpec) int {
	for _, s := range specs {
		if e.isHeavy(s) {
			return e.cfg.HeavyPairsPerGroup
		}
	}
	return e.cfg.MaxPairsPerGroup
}

func (e *Executor) isHeavy(s domain.PairSpec) bool {
	if s.MediaVariants > e.cfg.HeavyMediaVariants {
		return true
	}
	parent, _ := provider.EncodeBody(s.ParentBody)
	child, _ := provider.EncodeBody(s.ChildBody)
	return len(parent)+len(child) > e.cfg.HeavyPayloadBytes
}

// Execute creates every pair in specs, group by group. A pair never spans two
// groups. Cancellation is checked between groups; a started group runs to the end.
func (e *Executor) Execute(ctx context.Context, groupID string, specs []domain.PairSpec) ExecuteResult {
	res := ExecuteResult{Pairs: make([]domain.PairResult, len(specs))}
	for i, s := range specs {
		res.Pairs[i] = domain.PairResult{Index: i, Name: s.Name, State: domain.PairPending}
	}

	size := e.GroupSize(specs)
	slog.Info("Executing pairs",
		"group", groupID,
		"pairs", len(specs),
		"pairs_per_group", size,
	)

	for start := 0; start < len(specs); start += size {
		if start > 0 {
			if err := e.sleep(ctx, e.interGroupDelay()); err != nil {
				e.abort(&res, start, err)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			e.abort(&res, start, err)
			break
		}

		end := min(start+size, len(specs))
		err := e.runGroup(context.WithoutCancel(ctx), groupID, specs[start:end], start, res.Pairs)
		res.GroupsRun++
		if err != nil {
			e.abort(&res, end, err)
			break
		}
	}

	for _, p := range res.Pairs {
		metrics.PairOutcomes.WithLabelValues("execute", string(p.State)).Inc()
	}
	return res
}

// runGroup submits specs as one group and writes results into pairs. It
// returns an error only when the run must stop.
func (e *Executor) runGroup(
	ctx context.Context,
	groupID string,
	specs []domain.PairSpec,
	offset int,
	pairs []domain.PairResult,
) error {
	start := time.Now()
	results, err := e.Submit(ctx, e.builder.BuildPairs(groupID, specs))
	if err == nil {
		for i, pr := range ClassifyPairs(results, specs, offset) {
			pairs[offset+i] = pr
		}
		slog.Debug("Group submitted", "group", groupID, "offset", offset, "pairs", len(specs), "took", time.Since(start))
		return nil
	}

	if errors.Is(err, budget.ErrAllCredentialsExhausted) {
		markPairs(pairs[offset:offset+len(specs)], domain.PairTotalFailure, err, 1)
		return err
	}

	decision := routing.Classify(err)
	slog.Warn("Group request failed",
		"group", groupID,
		"offset", offset,
		"pairs", len(specs),
		"decision", decision.Kind.String(),
		"error", err,
	)

	switch decision.Kind {
	case domain.DecisionAmbiguousTransient:
		// The platform may have committed any subset; verification settles it.
		markPairs(pairs[offset:offset+len(specs)], domain.PairUnknown, err, 1)
		return nil
	case domain.DecisionPermanent:
		markPairs(pairs[offset:offset+len(specs)], domain.PairTotalFailure, err, 1)
		return nil
	}

	return e.atomicFallback(ctx, groupID, specs, offset, pairs)
}

// atomicFallback re-issues each pair as its own two-operation group.
func (e *Executor) atomicFallback(
	ctx context.Context,
	groupID string,
	specs []domain.PairSpec,
	offset int,
	pairs []domain.PairResult,
) error {
	slog.Info("Falling back to atomic pairs", "group", groupID, "offset", offset, "pairs", len(specs))

	for i, spec := range specs {
		idx := offset + i
		results, err := e.Submit(ctx, e.builder.BuildPairs(groupID, []domain.PairSpec{spec}))
		if err == nil {
			pr := ClassifyPair(idx, spec, slot(results, 0), slot(results, 1))
			pr.Attempts = 2
			pairs[idx] = pr
			continue
		}

		if errors.Is(err, budget.ErrAllCredentialsExhausted) {
			markPairs(pairs[idx:offset+len(specs)], domain.PairTotalFailure, err, 2)
			return err
		}
		if routing.Classify(err).Kind == domain.DecisionAmbiguousTransient {
			markPairs(pairs[idx:idx+1], domain.PairUnknown, err, 2)
			continue
		}
		markPairs(pairs[idx:idx+1], domain.PairTotalFailure, err, 2)
	}
	return nil
}

// abort marks every pair from index from onwards as a total failure.
func (e *Executor) abort(res *ExecuteResult, from int, err error) {
	res.Aborted = true
	res.Err = err
	for i := from; i < len(res.Pairs); i++ {
		if res.Pairs[i].State == domain.PairPending {
			res.Pairs[i].State = domain.PairTotalFailure
			res.Pairs[i].Err = err
		}
	}
	slog.Error("Run aborted", "remaining_pairs", len(res.Pairs)-from, "error", err)
}

func markPairs(pairs []domain.PairResult, state domain.PairState, err error, attempts int) {
	for i := range pairs {
		pairs[i].State = state
		pairs[i].Err = err
		pairs[i].Attempts = attempts
	}
}
