package cache

import (
	"context"
	"fmt"

	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/erp/reconciliation/internal/infrastructure/config"
	"go.uber.org/zap"
)

// LockerFactory creates the customer locker used by the batch reconciler
type LockerFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
	keyPrefix             string
}

// LockerFactoryOption is a functional option for configuring the factory
type LockerFactoryOption func(*LockerFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) LockerFactoryOption {
	return func(f *LockerFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis falls back to
// an in-process locker. Default is true.
func WithInMemoryFallback(allow bool) LockerFactoryOption {
	return func(f *LockerFactory) {
		f.allowInMemoryFallback = allow
	}
}

// WithKeyPrefix sets the Redis key prefix of the leases
func WithKeyPrefix(prefix string) LockerFactoryOption {
	return func(f *LockerFactory) {
		f.keyPrefix = prefix
	}
}

// NewLockerFactory creates a new factory
func NewLockerFactory(cfg config.RedisConfig, opts ...LockerFactoryOption) *LockerFactory {
	f := &LockerFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
		keyPrefix:             defaultLockPrefix,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateLocker returns a Redis locker, or an in-memory one when Redis is
// unreachable and fallback is allowed. The returned close func releases the
// Redis client.
func (f *LockerFactory) CreateLocker(ctx context.Context) (shared.Locker, func() error, error) {
	client, err := NewRedisClient(ctx, f.redisConfig)
	if err == nil {
		f.logger.Info("using Redis customer locker", zap.String("addr", f.redisConfig.Addr()))
		locker := NewRedisLocker(client, f.keyPrefix)
		return locker, locker.Close, nil
	}

	if !f.allowInMemoryFallback {
		return nil, nil, fmt.Errorf("Redis required for customer locking but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory customer locker. "+
		"Concurrent reconciler processes will not be serialized.",
		zap.Error(err),
	)
	return NewInMemoryLocker(), func() error { return nil }, nil
}
