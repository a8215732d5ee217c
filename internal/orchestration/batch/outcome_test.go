package batch

import (
	"testing"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/testutil"
)

func TestClassifyResult(t *testing.T) {
	tests := []struct {
		name   string
		result *domain.RawResult
		kind   domain.OutcomeKind
		id     string
	}{
		{"success", &domain.RawResult{Code: 200, Body: `{"id":"123"}`}, domain.OutcomeSuccess, "123"},
		{"nil slot", nil, domain.OutcomeUnknown, ""},
		{"missing id", &domain.RawResult{Code: 200, Body: `{"success":true}`}, domain.OutcomeFailure, ""},
		{"200 with error", &domain.RawResult{Code: 200, Body: testutil.ErrorBody(100, "Invalid parameter", false)}, domain.OutcomeFailure, ""},
		{"transient 5xx", &domain.RawResult{Code: 500, Body: testutil.ErrorBody(2, "unexpected", true)}, domain.OutcomeUnknown, ""},
		{"plain 5xx", &domain.RawResult{Code: 500, Body: testutil.ErrorBody(1, "unknown", false)}, domain.OutcomeFailure, ""},
		{"non json", &domain.RawResult{Code: 502, Body: "Bad Gateway"}, domain.OutcomeFailure, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyResult(tt.result)
			if got.Kind != tt.kind {
				t.Errorf("expected kind %v, got %v", tt.kind, got.Kind)
			}
			if got.ID != tt.id {
				t.Errorf("expected id %q, got %q", tt.id, got.ID)
			}
			if tt.kind != domain.OutcomeSuccess && got.Err == nil {
				t.Error("expected an error for a non-success outcome")
			}
		})
	}
}

func TestClassifyPairs(t *testing.T) {
	ok := func(id string) *domain.RawResult { return &domain.RawResult{Code: 200, Body: `{"id":"` + id + `"}`} }
	fail := &domain.RawResult{Code: 400, Body: testutil.ErrorBody(100, "Invalid parameter", false)}

	specs := testutil.Pairs("A", 5)
	results := []*domain.RawResult{
		ok("p0"), ok("c0"), // complete
		ok("p1"), fail, // orphan
		ok("p2"), nil, // unknown child
		fail, fail, // total failure
		nil, nil, // unknown parent
	}

	pairs := ClassifyPairs(results, specs, 10)

	want := []domain.PairState{
		domain.PairComplete,
		domain.PairOrphan,
		domain.PairUnknown,
		domain.PairTotalFailure,
		domain.PairUnknown,
	}
	for i, p := range pairs {
		if p.Index != 10+i {
			t.Errorf("pair %d: expected index %d, got %d", i, 10+i, p.Index)
		}
		if p.Name != specs[i].Name {
			t.Errorf("pair %d: expected name %s, got %s", i, specs[i].Name, p.Name)
		}
		if p.State != want[i] {
			t.Errorf("pair %d: expected %s, got %s", i, want[i], p.State)
		}
	}
	if pairs[0].ParentID != "p0" || pairs[0].ChildID != "c0" {
		t.Errorf("unexpected ids for complete pair: %+v", pairs[0])
	}
	if pairs[1].ParentID != "p1" || pairs[2].ParentID != "p2" {
		t.Errorf("parent ids lost: %s, %s", pairs[1].ParentID, pairs[2].ParentID)
	}
	if pairs[3].ParentID != "" {
		t.Errorf("total failure should have no parent, got %s", pairs[3].ParentID)
	}
}

func TestClassifyPairs_ShortResults(t *testing.T) {
	pairs := ClassifyPairs([]*domain.RawResult{{Code: 200, Body: `{"id":"p0"}`}}, testutil.Pairs("A", 2), 0)
	for i, p := range pairs {
		if p.State != domain.PairUnknown {
			t.Errorf("pair %d: expected unknown, got %s", i, p.State)
		}
	}
}
