package testutil

import (
	"fmt"

	"github.com/vietddude/adbatch/internal/core/domain"
)

// CopyName returns the conventional name of copy n.
func CopyName(prefix string, n int) string {
	return fmt.Sprintf("%s - Copy %d", prefix, n)
}

// Pairs returns n pair specs named "<prefix> - Copy 1..n".
func Pairs(prefix string, n int) []domain.PairSpec {
	specs := make([]domain.PairSpec, n)
	for i := range specs {
		specs[i] = domain.PairSpec{
			Name:       CopyName(prefix, i+1),
			ParentBody: map[string]any{"status": "PAUSED", "daily_budget": 1000},
			ChildBody:  map[string]any{"status": "PAUSED", "creative": map[string]any{"creative_id": "cr1"}},
		}
	}
	return specs
}
