package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/adbatch/internal/core/domain"
)

var (
	// ErrRunNotFound is returned when a run record doesn't exist
	ErrRunNotFound = errors.New("run not found")
)

// RunRepository handles run record storage
type RunRepository interface {
	// Save inserts or replaces a run record
	Save(ctx context.Context, run *domain.RunResult) error

	// Get retrieves a run by id
	Get(ctx context.Context, runID string) (*domain.RunResult, error)

	// ListRecent retrieves the most recent runs, newest first
	ListRecent(ctx context.Context, limit int) ([]*domain.RunResult, error)

	// ListByGroup retrieves the most recent runs of one group, newest first
	ListByGroup(ctx context.Context, groupID string, limit int) ([]*domain.RunResult, error)

	// DeleteBefore removes runs started before cutoff and returns how many were removed
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Locker guards a group against concurrent runs
type Locker interface {
	// Acquire takes key for owner until ttl elapses; false means someone else holds it
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Refresh extends key to ttl from now; false means owner no longer holds it
	Refresh(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Release frees key if owner still holds it
	Release(ctx context.Context, key, owner string) error
}

// GroupLockKey is the lock key of a group.
func GroupLockKey(groupID string) string {
	return "lock:group:" + groupID
}
