package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/adbatch/internal/infra/storage"
	"github.com/vietddude/adbatch/internal/orchestration/metrics"
)

// Pruner deletes old run records based on retention policy.
type Pruner struct {
	retention time.Duration
	runs      storage.RunRepository
	now       func() time.Time
}

// NewPruner creates a new Pruner worker.
func NewPruner(retention time.Duration, runs storage.RunRepository) *Pruner {
	return &Pruner{
		retention: retention,
		runs:      runs,
		now:       time.Now,
	}
}

// Interval returns how often Start prunes.
func (p *Pruner) Interval() time.Duration {
	// 10% of retention period, clamped to [1m, 1h]
	interval := min(p.retention/10, 1*time.Hour)
	return max(interval, 1*time.Minute)
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	// Initial prune
	p.logPrune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.logPrune(ctx)
		}
	}
}

// Prune removes runs older than the retention period once.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	if p.retention <= 0 {
		return 0, nil
	}
	n, err := p.runs.DeleteBefore(ctx, p.now().Add(-p.retention))
	if err != nil {
		return 0, err
	}
	metrics.RunsPruned.Add(float64(n))
	return n, nil
}

func (p *Pruner) logPrune(ctx context.Context) {
	n, err := p.Prune(ctx)
	if err != nil {
		slog.Error("[Pruner] failed to prune runs", "error", err)
		return
	}
	if n > 0 {
		slog.Info("[Pruner] pruned old runs", "count", n, "retention", p.retention)
	}
}
