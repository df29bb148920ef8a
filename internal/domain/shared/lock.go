package shared

import (
	"context"
	"time"
)

// ErrLockNotAcquired is returned when another owner holds the lock
var ErrLockNotAcquired = NewDomainError("LOCK_NOT_ACQUIRED", "Lock is held by another owner")

// Lock is a held lease. Release is a no-op once the lease has expired or
// passed to another owner.
type Lock interface {
	Key() string
	Release(ctx context.Context) error
}

// Locker hands out short leases used to serialize work across processes
type Locker interface {
	// Acquire takes the lock for ttl or returns ErrLockNotAcquired
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}
