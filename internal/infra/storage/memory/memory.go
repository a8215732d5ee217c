package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/storage"
)

type MemoryStorage struct {
	runs  map[string]*domain.RunResult
	locks map[string]lockEntry
	mu    sync.RWMutex
}

type lockEntry struct {
	owner   string
	expires time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		runs:  make(map[string]*domain.RunResult),
		locks: make(map[string]lockEntry),
	}
}

// -----------------------------------------------------------------------------
// Run Repository
// -----------------------------------------------------------------------------

type RunRepo struct {
	store *MemoryStorage
}

func NewRunRepo(store *MemoryStorage) *RunRepo {
	return &RunRepo{store: store}
}

func (r *RunRepo) Save(ctx context.Context, run *domain.RunResult) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *run
	r.store.runs[run.RunID] = &cp
	return nil
}

func (r *RunRepo) Get(ctx context.Context, runID string) (*domain.RunResult, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	run, ok := r.store.runs[runID]
	if !ok {
		return nil, storage.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (r *RunRepo) ListRecent(ctx context.Context, limit int) ([]*domain.RunResult, error) {
	return r.list("", limit), nil
}

func (r *RunRepo) ListByGroup(ctx context.Context, groupID string, limit int) ([]*domain.RunResult, error) {
	return r.list(groupID, limit), nil
}

func (r *RunRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	n := 0
	for id, run := range r.store.runs {
		if run.StartedAt.Before(cutoff) {
			delete(r.store.runs, id)
			n++
		}
	}
	return n, nil
}

func (r *RunRepo) list(groupID string, limit int) []*domain.RunResult {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.RunResult
	for _, run := range r.store.runs {
		if groupID != "" && run.GroupID != groupID {
			continue
		}
		cp := *run
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// -----------------------------------------------------------------------------
// Locker
// -----------------------------------------------------------------------------

type Locker struct {
	store *MemoryStorage
	now   func() time.Time
}

func NewLocker(store *MemoryStorage) *Locker {
	return &Locker{store: store, now: time.Now}
}

func (l *Locker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	now := l.now()
	if cur, ok := l.store.locks[key]; ok && cur.owner != owner && now.Before(cur.expires) {
		return false, nil
	}
	l.store.locks[key] = lockEntry{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (l *Locker) Refresh(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	now := l.now()
	cur, ok := l.store.locks[key]
	if !ok || cur.owner != owner || !now.Before(cur.expires) {
		return false, nil
	}
	l.store.locks[key] = lockEntry{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (l *Locker) Release(ctx context.Context, key, owner string) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	if cur, ok := l.store.locks[key]; ok && cur.owner == owner {
		delete(l.store.locks, key)
	}
	return nil
}

var (
	_ storage.RunRepository = (*RunRepo)(nil)
	_ storage.Locker        = (*Locker)(nil)
)
