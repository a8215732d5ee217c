package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/storage"
)

// RunRepo implements storage.RunRepository using PostgreSQL.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new PostgreSQL run repository.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

type runRow struct {
	RunID         string         `db:"run_id"`
	GroupID       string         `db:"group_id"`
	Requested     int            `db:"requested"`
	Complete      int            `db:"complete"`
	Orphans       int            `db:"orphans"`
	TotalFailures int            `db:"total_failures"`
	Unknown       int            `db:"unknown"`
	Deleted       int            `db:"deleted"`
	Shortfall     int            `db:"shortfall"`
	GroupsRun     int            `db:"groups_run"`
	Aborted       bool           `db:"aborted"`
	ErrorMsg      string         `db:"error_msg"`
	Report        sql.NullString `db:"report"`
	StartedAt     time.Time      `db:"started_at"`
	FinishedAt    time.Time      `db:"finished_at"`
}

type failureRow struct {
	RunID     string `db:"run_id"`
	PairIndex int    `db:"pair_index"`
	Name      string `db:"name"`
	State     string `db:"state"`
	ErrorMsg  string `db:"error_msg"`
}

const runColumns = `run_id, group_id, requested, complete, orphans, total_failures, unknown,
	deleted, shortfall, groups_run, aborted, error_msg, report, started_at, finished_at`

// Save upserts the run and replaces its failure list.
func (r *RunRepo) Save(ctx context.Context, run *domain.RunResult) error {
	var report sql.NullString
	if run.Report != nil {
		raw, err := json.Marshal(run.Report)
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		report = sql.NullString{String: string(raw), Valid: true}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO runs (` + runColumns + `)
		VALUES (:run_id, :group_id, :requested, :complete, :orphans, :total_failures, :unknown,
			:deleted, :shortfall, :groups_run, :aborted, :error_msg, :report, :started_at, :finished_at)
		ON CONFLICT (run_id) DO UPDATE SET
			complete = EXCLUDED.complete,
			orphans = EXCLUDED.orphans,
			total_failures = EXCLUDED.total_failures,
			unknown = EXCLUDED.unknown,
			deleted = EXCLUDED.deleted,
			shortfall = EXCLUDED.shortfall,
			groups_run = EXCLUDED.groups_run,
			aborted = EXCLUDED.aborted,
			error_msg = EXCLUDED.error_msg,
			report = EXCLUDED.report,
			finished_at = EXCLUDED.finished_at
	`
	row := runRow{
		RunID:         run.RunID,
		GroupID:       run.GroupID,
		Requested:     run.Requested,
		Complete:      run.Complete,
		Orphans:       run.Orphans,
		TotalFailures: run.TotalFailures,
		Unknown:       run.Unknown,
		Deleted:       run.Deleted,
		Shortfall:     run.Shortfall,
		GroupsRun:     run.GroupsRun,
		Aborted:       run.Aborted,
		ErrorMsg:      run.Err,
		Report:        report,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
	}
	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_failures WHERE run_id = $1`, run.RunID); err != nil {
		return fmt.Errorf("failed to clear run failures: %w", err)
	}
	if len(run.Failures) > 0 {
		rows := make([]failureRow, len(run.Failures))
		for i, f := range run.Failures {
			rows[i] = failureRow{
				RunID:     run.RunID,
				PairIndex: f.Index,
				Name:      f.Name,
				State:     string(f.State),
				ErrorMsg:  f.Error,
			}
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO run_failures (run_id, pair_index, name, state, error_msg)
			VALUES (:run_id, :pair_index, :name, :state, :error_msg)
		`, rows)
		if err != nil {
			return fmt.Errorf("failed to save run failures: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// Get retrieves a run by id.
func (r *RunRepo) Get(ctx context.Context, runID string) (*domain.RunResult, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM runs WHERE run_id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run, err := row.toDomain()
	if err != nil {
		return nil, err
	}

	var failures []failureRow
	err = r.db.SelectContext(ctx, &failures, `
		SELECT run_id, pair_index, name, state, error_msg
		FROM run_failures
		WHERE run_id = $1
		ORDER BY pair_index ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run failures: %w", err)
	}
	for _, f := range failures {
		run.Failures = append(run.Failures, domain.FailureDetail{
			Index: f.PairIndex,
			Name:  f.Name,
			State: domain.PairState(f.State),
			Error: f.ErrorMsg,
		})
	}
	return run, nil
}

// ListRecent returns the newest runs without their failure lists.
func (r *RunRepo) ListRecent(ctx context.Context, limit int) ([]*domain.RunResult, error) {
	var rows []runRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+runColumns+` FROM runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return toDomainRuns(rows)
}

// ListByGroup returns the newest runs of one group without their failure lists.
func (r *RunRepo) ListByGroup(ctx context.Context, groupID string, limit int) ([]*domain.RunResult, error) {
	var rows []runRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+runColumns+` FROM runs
		WHERE group_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list group runs: %w", err)
	}
	return toDomainRuns(rows)
}

// DeleteBefore removes runs started before cutoff; their failures cascade.
func (r *RunRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted runs: %w", err)
	}
	return int(n), nil
}

func toDomainRuns(rows []runRow) ([]*domain.RunResult, error) {
	runs := make([]*domain.RunResult, 0, len(rows))
	for _, row := range rows {
		run, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (row runRow) toDomain() (*domain.RunResult, error) {
	run := &domain.RunResult{
		RunID:         row.RunID,
		GroupID:       row.GroupID,
		Requested:     row.Requested,
		Complete:      row.Complete,
		Orphans:       row.Orphans,
		TotalFailures: row.TotalFailures,
		Unknown:       row.Unknown,
		Deleted:       row.Deleted,
		Shortfall:     row.Shortfall,
		GroupsRun:     row.GroupsRun,
		Aborted:       row.Aborted,
		Err:           row.ErrorMsg,
		StartedAt:     row.StartedAt,
		FinishedAt:    row.FinishedAt,
	}
	if row.Report.Valid {
		var rep domain.VerificationReport
		if err := json.Unmarshal([]byte(row.Report.String), &rep); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report: %w", err)
		}
		run.Report = &rep
	}
	return run, nil
}

var _ storage.RunRepository = (*RunRepo)(nil)
