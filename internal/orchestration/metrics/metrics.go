package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GroupsSubmitted tracks grouped requests by outcome
	GroupsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adbatch_groups_submitted_total",
			Help: "Total number of grouped requests submitted",
		},
		[]string{"outcome"},
	)

	// OperationsSubmitted tracks individual operations sent inside groups
	OperationsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adbatch_operations_submitted_total",
			Help: "Total number of operations submitted inside grouped requests",
		},
	)

	// GroupLatency tracks grouped request round trip time
	GroupLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adbatch_group_latency_seconds",
			Help:    "Grouped request latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"mode"},
	)

	// PairOutcomes tracks pair states after each phase
	PairOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adbatch_pair_outcomes_total",
			Help: "Pair states recorded by phase",
		},
		[]string{"phase", "state"},
	)

	// CredentialCalls tracks successful calls attributed to a credential
	CredentialCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adbatch_credential_calls_total",
			Help: "Successful calls attributed to each credential",
		},
		[]string{"credential"},
	)

	// CredentialUsage tracks hourly quota usage ratio per credential
	CredentialUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adbatch_credential_quota_usage_ratio",
			Help: "Calls used divided by the hourly quota (0-1)",
		},
		[]string{"credential"},
	)

	// CredentialExhaustions tracks credentials marked exhausted
	CredentialExhaustions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adbatch_credential_exhaustions_total",
			Help: "Number of times a credential was marked exhausted",
		},
		[]string{"credential"},
	)

	// SharedLimitWarnings tracks suspected shared limits across credentials
	SharedLimitWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adbatch_shared_limit_warnings_total",
			Help: "Distinct credentials exhausted close together, suggesting a shared limit",
		},
	)

	// CredentialRotations tracks rotation events
	CredentialRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adbatch_credential_rotations_total",
			Help: "Total number of credential rotations",
		},
		[]string{"from", "to", "reason"},
	)

	// CallErrors tracks classified call errors
	CallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adbatch_call_errors_total",
			Help: "Call errors by retry decision",
		},
		[]string{"operation", "decision"},
	)

	// VerificationDeletes tracks objects removed by the verifier
	VerificationDeletes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adbatch_verification_deletes_total",
			Help: "Objects deleted during verification",
		},
		[]string{"kind"},
	)

	// Shortfall tracks the shortfall of the last verified run per group
	Shortfall = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adbatch_run_shortfall",
			Help: "Pairs missing after the last verification of a group",
		},
		[]string{"group"},
	)

	// RunsTotal tracks finished runs
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adbatch_runs_total",
			Help: "Total number of orchestration runs",
		},
		[]string{"status"},
	)

	// InterGroupDelay tracks the pause currently taken between groups
	InterGroupDelay = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "adbatch_inter_group_delay_seconds",
			Help: "Current adaptive pause between grouped requests",
		},
	)

	// RunsPruned tracks run records removed by retention
	RunsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adbatch_runs_pruned_total",
			Help: "Run records deleted by the retention pruner",
		},
	)
)
