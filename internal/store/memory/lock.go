package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// LockManager is the single-process domain.LockManager. The ttl is ignored:
// a holder in the same process always releases through its unlock func.
type LockManager struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates an in-process lock manager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]struct{})}
}

func (lm *LockManager) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if _, ok := lm.held[key]; ok {
		return nil, domain.ErrLockHeld
	}
	lm.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			delete(lm.held, key)
			lm.mu.Unlock()
		})
	}, nil
}
