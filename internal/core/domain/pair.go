package domain

// PairSpec describes one parent+child pair to create. Bodies are built
// upstream and treated as opaque.
type PairSpec struct {
	Name          string         `json:"name"          yaml:"name"`
	ParentBody    map[string]any `json:"parent_body"   yaml:"parent_body"`
	ChildBody     map[string]any `json:"child_body"    yaml:"child_body"`
	MediaVariants int            `json:"media_variants" yaml:"media_variants"`
}

// OutcomeKind is the three-valued result of a single operation.
type OutcomeKind int

const (
	OutcomeFailure OutcomeKind = iota
	OutcomeSuccess
	OutcomeUnknown // remote state uncertain
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeUnknown:
		return "unknown"
	default:
		return "failure"
	}
}

// Outcome is the classification of one RawResult.
type Outcome struct {
	Kind OutcomeKind
	ID   string
	Err  error
}

// PairState tracks a pair through the run.
type PairState string

const (
	PairPending           PairState = "pending"
	PairComplete          PairState = "complete"
	PairOrphan            PairState = "orphan"
	PairTotalFailure      PairState = "total_failure"
	PairUnknown           PairState = "unknown"
	PairDeleted           PairState = "deleted"
	PairReportedShortfall PairState = "reported_shortfall"
)

// PairResult is the provisional outcome of one pair. The VerificationReport is authoritative.
type PairResult struct {
	Index    int       `json:"index"`
	Name     string    `json:"name"`
	ParentID string    `json:"parent_id,omitempty"`
	ChildID  string    `json:"child_id,omitempty"`
	State    PairState `json:"state"`
	Err      error     `json:"-"`
	Attempts int       `json:"attempts"`
}

// ErrorString returns the pair error message or "".
func (p PairResult) ErrorString() string {
	if p.Err == nil {
		return ""
	}
	return p.Err.Error()
}
