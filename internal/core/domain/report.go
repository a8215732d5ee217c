package domain

import (
	"time"
)

// VerificationReport is the authoritative final count for a run.
type VerificationReport struct {
	Expected          int `json:"expected"`
	ActualParents     int `json:"actual_parents"`
	ActualChildren    int `json:"actual_children"`
	OrphansDeleted    int `json:"orphans_deleted"`
	SurplusDeleted    int `json:"surplus_deleted"`
	DuplicatesDeleted int `json:"duplicates_deleted"`
	Shortfall         int `json:"shortfall"`
	DeleteFailures    int `json:"delete_failures"`
}

// Converged reports whether the remote state matches the expectation exactly.
func (r VerificationReport) Converged() bool {
	return r.Shortfall == 0 && r.ActualParents == r.Expected && r.ActualChildren == r.Expected
}

// FailureDetail is one entry in the bounded failure list of a run.
type FailureDetail struct {
	Index int       `json:"index"`
	Name  string    `json:"name"`
	State PairState `json:"state"`
	Error string    `json:"error"`
}

// RunResult is what an orchestration run returns.
type RunResult struct {
	RunID         string              `json:"run_id"`
	GroupID       string              `json:"group_id"`
	Requested     int                 `json:"requested"`
	Complete      int                 `json:"complete"`
	Orphans       int                 `json:"orphans"`
	TotalFailures int                 `json:"total_failures"`
	Unknown       int                 `json:"unknown"`
	Deleted       int                 `json:"deleted"`
	Shortfall     int                 `json:"shortfall"`
	GroupsRun     int                 `json:"groups_run"`
	Aborted       bool                `json:"aborted"`
	Err           string              `json:"error,omitempty"`
	Pairs         []PairResult        `json:"-"`
	Failures      []FailureDetail     `json:"failures"`
	Report        *VerificationReport `json:"report,omitempty"`
	StartedAt     time.Time           `json:"started_at"`
	FinishedAt    time.Time           `json:"finished_at"`
}
