// Package verify reconciles the claimed outcome of a run against what
// actually exists on the platform.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/rpc/provider"
	"github.com/vietddude/adbatch/internal/orchestration/metrics"
)

var copyIndex = regexp.MustCompile(`(?i)copy\s*(\d+)`)

// Platform is what verification needs from the remote side.
type Platform interface {
	ListParents(ctx context.Context, groupID string) ([]domain.Node, error)
	ListChildren(ctx context.Context, groupID string) ([]domain.Node, error)
	Delete(ctx context.Context, id string) error
}

// Verifier lists a group, deletes orphans, surplus parents and duplicate
// children, and reports shortfall.
// It never recreates anything.
type Verifier struct {
	platform Platform
}

// NewVerifier creates a new verifier.
func NewVerifier(platform Platform) *Verifier {
	return &Verifier{platform: platform}
}

// CopyIndex extracts N from names like "Summer - Copy 12". It returns -1 when
// the name carries no index.
func CopyIndex(name string) int {
	m := copyIndex.FindStringSubmatch(name)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// VerifyAndCorrect makes the group hold at most expected complete pairs.
// originalParentID, when set, is neither counted nor deleted. Running it
// twice in a row performs no deletes the second time.
func (v *Verifier) VerifyAndCorrect(
	ctx context.Context,
	groupID string,
	expected int,
	originalParentID string,
) (*domain.VerificationReport, error) {
	parents, err := v.platform.ListParents(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list parents: %w", err)
	}
	children, err := v.platform.ListChildren(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}

	childrenOf := make(map[string][]domain.Node, len(children))
	for _, c := range children {
		childrenOf[c.ParentID] = append(childrenOf[c.ParentID], c)
	}

	report := &domain.VerificationReport{Expected: expected}

	var complete []domain.Node
	var orphans []domain.Node
	for _, p := range parents {
		if originalParentID != "" && p.ID == originalParentID {
			continue
		}
		if len(childrenOf[p.ID]) == 0 {
			orphans = append(orphans, p)
			continue
		}
		complete = append(complete, p)
	}

	remaining := 0
	for _, p := range orphans {
		if v.delete(ctx, p, "orphan") {
			report.OrphansDeleted++
		} else {
			report.DeleteFailures++
			remaining++
		}
	}

	if surplus := len(complete) - expected; surplus > 0 {
		sortForRemoval(complete)
		var kept []domain.Node
		for i, p := range complete {
			if i < surplus && v.delete(ctx, p, "surplus") {
				report.SurplusDeleted++
				continue
			}
			if i < surplus {
				report.DeleteFailures++
			}
			kept = append(kept, p)
		}
		complete = kept
	}

	// A parent keeps its first listed child; later ones come from a child
	// write the platform committed but reported as failed.
	for _, p := range complete {
		kids := childrenOf[p.ID]
		report.ActualChildren++
		for _, c := range kids[1:] {
			if v.delete(ctx, c, "duplicate_child") {
				report.DuplicatesDeleted++
				continue
			}
			report.DeleteFailures++
			report.ActualChildren++
		}
	}

	report.ActualParents = len(complete) + remaining
	if len(complete) < expected {
		report.Shortfall = expected - len(complete)
	}

	metrics.Shortfall.WithLabelValues(groupID).Set(float64(report.Shortfall))
	slog.Info("Verification complete",
		"group", groupID,
		"expected", expected,
		"parents", report.ActualParents,
		"children", report.ActualChildren,
		"orphans_deleted", report.OrphansDeleted,
		"surplus_deleted", report.SurplusDeleted,
		"duplicates_deleted", report.DuplicatesDeleted,
		"shortfall", report.Shortfall,
		"delete_failures", report.DeleteFailures,
	)
	return report, nil
}

func (v *Verifier) delete(ctx context.Context, n domain.Node, kind string) bool {
	err := v.platform.Delete(ctx, n.ID)
	if err != nil && !provider.IsNotFound(err) {
		slog.Warn("Verification delete failed", "kind", kind, "id", n.ID, "name", n.Name, "error", err)
		return false
	}
	metrics.VerificationDeletes.WithLabelValues(kind).Inc()
	slog.Debug("Deleted object", "kind", kind, "id", n.ID, "name", n.Name)
	return true
}

// sortForRemoval orders parents highest copy index first; unnumbered parents go last.
func sortForRemoval(parents []domain.Node) {
	sort.SliceStable(parents, func(i, j int) bool {
		return CopyIndex(parents[i].Name) > CopyIndex(parents[j].Name)
	})
}
