package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/google/uuid"
)

type lease struct {
	token     string
	expiresAt time.Time
}

// InMemoryLocker implements shared.Locker within one process.
// It is suitable for a single reconciler instance and for tests.
type InMemoryLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewInMemoryLocker creates an in-memory locker
func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

// Acquire takes the lock unless a live lease exists. Expired leases are
// replaced on the spot, so no cleanup goroutine is needed.
func (l *InMemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (shared.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.leases[key]; ok && now.Before(e.expiresAt) {
		return nil, shared.NewDomainErrorf(shared.ErrLockNotAcquired.Code, "lock %s is held by another owner", key)
	}
	token := uuid.NewString()
	l.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}
	return &memoryLock{locker: l, key: key, token: token}, nil
}

// Size returns the number of recorded leases, live or expired
func (l *InMemoryLocker) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.leases)
}

func (l *InMemoryLocker) release(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.leases[key]; ok && e.token == token {
		delete(l.leases, key)
	}
}

type memoryLock struct {
	locker *InMemoryLocker
	key    string
	token  string
}

func (k *memoryLock) Key() string { return k.key }

func (k *memoryLock) Release(context.Context) error {
	k.locker.release(k.key, k.token)
	return nil
}

var _ shared.Locker = (*InMemoryLocker)(nil)
