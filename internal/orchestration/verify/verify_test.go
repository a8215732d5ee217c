package verify

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"testing"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/rpc/provider"
	"github.com/vietddude/adbatch/internal/testutil"
)

func TestCopyIndex(t *testing.T) {
	tests := map[string]int{
		"Summer - Copy 12": 12,
		"summer copy3":     3,
		"Summer":           -1,
	}
	for name, want := range tests {
		if got := CopyIndex(name); got != want {
			t.Errorf("CopyIndex(%q) = %d, want %d", name, got, want)
		}
	}
}

func seed(p *testutil.Platform, n int) {
	for i := 1; i <= n; i++ {
		p.Seed("cmp1", testutil.CopyName("A", i), true)
	}
}

func verify(t *testing.T, v *Verifier, expected int, originalParentID string) *domain.VerificationReport {
	t.Helper()
	report, err := v.VerifyAndCorrect(context.Background(), "cmp1", expected, originalParentID)
	if err != nil {
		t.Fatalf("VerifyAndCorrect: %v", err)
	}
	return report
}

func TestVerify_ExactMatchIsNoop(t *testing.T) {
	p := testutil.NewPlatform()
	seed(p, 3)
	v := NewVerifier(testutil.NewClient(t, p))

	report := verify(t, v, 3, "")

	if !report.Converged() {
		t.Errorf("expected convergence, got %+v", report)
	}
	if d := p.Deleted(); len(d) != 0 {
		t.Errorf("expected no deletions, got %v", d)
	}
}

func TestVerify_DeletesOrphans(t *testing.T) {
	p := testutil.NewPlatform()
	seed(p, 2)
	orphan := p.Seed("cmp1", testutil.CopyName("A", 3), false)
	v := NewVerifier(testutil.NewClient(t, p))

	report := verify(t, v, 3, "")

	if report.OrphansDeleted != 1 || report.ActualParents != 2 || report.ActualChildren != 2 || report.Shortfall != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if d := p.Deleted(); !slices.Equal(d, []string{orphan}) {
		t.Errorf("expected only %s deleted, got %v", orphan, d)
	}
}

func TestVerify_DeletesSurplusHighestCopyFirst(t *testing.T) {
	p := testutil.NewPlatform()
	unnumbered := p.Seed("cmp1", "A", true)
	seed(p, 4)
	v := NewVerifier(testutil.NewClient(t, p))

	report := verify(t, v, 2, "")

	if report.SurplusDeleted != 3 || report.ActualParents != 2 || report.ActualChildren != 2 || report.Shortfall != 0 {
		t.Errorf("unexpected report: %+v", report)
	}

	var names []string
	for _, obj := range p.Parents("cmp1") {
		names = append(names, obj.Name)
	}
	if want := []string{"A", "A - Copy 1"}; !slices.Equal(names, want) {
		t.Errorf("expected remaining parents %v, got %v", want, names)
	}
	if slices.Contains(p.Deleted(), unnumbered) {
		t.Error("unnumbered parents are removed last")
	}
}

func TestVerify_ExcludesOriginalParent(t *testing.T) {
	p := testutil.NewPlatform()
	original := p.Seed("cmp1", "A", false)
	seed(p, 2)
	v := NewVerifier(testutil.NewClient(t, p))

	report := verify(t, v, 2, original)

	if !report.Converged() {
		t.Errorf("expected convergence, got %+v", report)
	}
	if d := p.Deleted(); len(d) != 0 {
		t.Errorf("original parent has no child but must survive, deleted %v", d)
	}
}

func TestVerify_DeletesDuplicateChildren(t *testing.T) {
	p := testutil.NewPlatform()
	seed(p, 3)
	p.AddChild("cmp1", testutil.CopyName("A", 2))
	v := NewVerifier(testutil.NewClient(t, p))

	first := childIDs(p, "A - Copy 2")
	if len(first) != 2 {
		t.Fatalf("expected 2 children under A - Copy 2, got %d", len(first))
	}

	report := verify(t, v, 3, "")

	if report.DuplicatesDeleted != 1 || report.ActualParents != 3 || report.ActualChildren != 3 {
		t.Errorf("unexpected report: %+v", report)
	}
	if !report.Converged() {
		t.Errorf("expected convergence, got %+v", report)
	}
	if d := p.Deleted(); !slices.Equal(d, []string{first[1]}) {
		t.Errorf("first listed child is kept: expected %s deleted, got %v", first[1], d)
	}
	if n := len(p.Children("cmp1")); n != 3 {
		t.Errorf("expected 3 children, got %d", n)
	}

	second := verify(t, v, 3, "")
	if second.DuplicatesDeleted != 0 {
		t.Errorf("expected no duplicates on second pass, got %d", second.DuplicatesDeleted)
	}
	if n := len(p.Deleted()); n != 1 {
		t.Errorf("second pass deleted more objects: %d", n)
	}
}

func TestVerify_DuplicateChildDeleteFailure(t *testing.T) {
	p := testutil.NewPlatform()
	seed(p, 1)
	dup := p.AddChild("cmp1", testutil.CopyName("A", 1))
	p.FailDelete(dup, &provider.APIError{StatusCode: 403, Code: 200, Message: "Permissions error"})
	v := NewVerifier(testutil.NewClient(t, p))

	report := verify(t, v, 1, "")

	if report.DeleteFailures != 1 || report.ActualChildren != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.Converged() {
		t.Error("a surviving duplicate must not converge")
	}
}

func childIDs(p *testutil.Platform, parentName string) []string {
	var parentID string
	for _, obj := range p.Parents("cmp1") {
		if obj.Name == parentName {
			parentID = obj.ID
		}
	}
	var ids []string
	for _, obj := range p.Children("cmp1") {
		if obj.ParentID == parentID {
			ids = append(ids, obj.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func TestVerify_Idempotent(t *testing.T) {
	p := testutil.NewPlatform()
	seed(p, 5)
	p.Seed("cmp1", testutil.CopyName("A", 6), false)
	v := NewVerifier(testutil.NewClient(t, p))

	first := verify(t, v, 3, "")
	deletes := len(p.Deleted())

	second := verify(t, v, 3, "")

	if deletes != 3 {
		t.Errorf("expected 3 deletions on first pass, got %d", deletes)
	}
	if n := len(p.Deleted()); n != deletes {
		t.Errorf("second pass deletes nothing, got %d extra", n-deletes)
	}
	if first.ActualParents != second.ActualParents {
		t.Errorf("parent count changed: %d -> %d", first.ActualParents, second.ActualParents)
	}
	if second.OrphansDeleted != 0 || second.SurplusDeleted != 0 {
		t.Errorf("unexpected second-pass deletions: %+v", second)
	}
	if !second.Converged() {
		t.Errorf("expected convergence, got %+v", second)
	}
}

func TestVerify_DeleteFailureCounted(t *testing.T) {
	p := testutil.NewPlatform()
	seed(p, 1)
	orphan := p.Seed("cmp1", "A - Copy 2", false)
	p.FailDelete(orphan, &provider.APIError{StatusCode: 403, Code: 200, Message: "Permissions error"})
	v := NewVerifier(testutil.NewClient(t, p))

	report := verify(t, v, 1, "")

	if report.DeleteFailures != 1 || report.ActualParents != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.Converged() {
		t.Error("a surviving orphan must not converge")
	}
}

func TestVerify_ConvergenceBound(t *testing.T) {
	for expected := 0; expected <= 6; expected++ {
		t.Run(fmt.Sprintf("expected=%d", expected), func(t *testing.T) {
			p := testutil.NewPlatform()
			seed(p, 4)
			p.Seed("cmp1", "A - Copy 9", false)
			v := NewVerifier(testutil.NewClient(t, p))

			report := verify(t, v, expected, "")

			if report.ActualParents > expected || report.ActualChildren > expected {
				t.Errorf("counts exceed expectation: %+v", report)
			}
			if want := max(expected-4, 0); report.Shortfall != want {
				t.Errorf("expected shortfall %d, got %d", want, report.Shortfall)
			}
		})
	}
}
