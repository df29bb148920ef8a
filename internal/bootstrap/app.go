// Package bootstrap assembles the reconciliation service and its
// infrastructure from configuration. Both the HTTP server and the batch CLI
// start from here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/reconciliation/internal/application/reconciliation"
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/erp/reconciliation/internal/infrastructure/cache"
	"github.com/erp/reconciliation/internal/infrastructure/config"
	"github.com/erp/reconciliation/internal/infrastructure/event"
	"github.com/erp/reconciliation/internal/infrastructure/persistence"
	"github.com/erp/reconciliation/internal/infrastructure/persistence/models"
	"github.com/erp/reconciliation/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	meterName      = "reconciliation"
	metricInterval = 60 * time.Second
)

// App is the wired reconciliation stack
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	DB      *persistence.Database
	Bus     *event.InMemoryEventBus
	Locker  shared.Locker
	Service *reconciliation.Service
	Batch   *reconciliation.BatchReconciler

	meter   *telemetry.MeterProvider
	closers []func(ctx context.Context) error
}

type options struct {
	dialector   gorm.Dialector
	autoMigrate bool
	locker      shared.Locker
	dbOptions   []persistence.DatabaseOption
}

// Option customizes New
type Option func(*options)

// WithDialector opens the database through the given dialector instead of
// PostgreSQL
func WithDialector(d gorm.Dialector) Option {
	return func(o *options) {
		o.dialector = d
	}
}

// WithAutoMigrate creates the schema from the GORM models on startup.
// Production databases are migrated with cmd/migrate instead.
func WithAutoMigrate(enabled bool) Option {
	return func(o *options) {
		o.autoMigrate = enabled
	}
}

// WithDatabaseOptions appends options to the database connection
func WithDatabaseOptions(opts ...persistence.DatabaseOption) Option {
	return func(o *options) {
		o.dbOptions = append(o.dbOptions, opts...)
	}
}

// WithLocker skips the Redis locker factory
func WithLocker(l shared.Locker) Option {
	return func(o *options) {
		o.locker = l
	}
}

// New wires telemetry, the database, the customer locker, the event bus and
// the reconciliation service. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, base *zap.Logger, opts ...Option) (app *App, err error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	app = &App{Config: cfg, Logger: base}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
			app = nil
		}
	}()

	if err = app.initTelemetry(ctx); err != nil {
		return app, err
	}
	log := app.Logger

	dialector := o.dialector
	if dialector == nil {
		dialector = postgres.Open(cfg.Database.DSN())
	}
	dbOptions := append([]persistence.DatabaseOption{
		persistence.WithLogger(log, cfg.Log.Level),
		persistence.WithSlowQueryThreshold(cfg.Telemetry.DBSlowQueryThresh),
	}, o.dbOptions...)
	app.DB, err = persistence.Open(dialector, &cfg.Database, dbOptions...)
	if err != nil {
		return app, err
	}
	app.onClose(func(context.Context) error { return app.DB.Close() })
	log.Info("Database connected", zap.String("database", cfg.Database.DBName))

	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		plugin := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:         true,
			LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
			DBName:          cfg.Database.DBName,
		}, log)
		if err = plugin.Register(app.DB.DB); err != nil {
			return app, fmt.Errorf("register database tracing: %w", err)
		}
	}

	if o.autoMigrate {
		if err = app.DB.DB.AutoMigrate(models.AllModels()...); err != nil {
			return app, fmt.Errorf("auto migrate: %w", err)
		}
	}

	app.Locker = o.locker
	if app.Locker == nil {
		factory := cache.NewLockerFactory(cfg.Redis,
			cache.WithLogger(log),
			cache.WithKeyPrefix(cfg.App.Name+":lock:"),
			// production replicas must share one lock store
			cache.WithInMemoryFallback(cfg.App.Env != "production"),
		)
		locker, closeLocker, lockErr := factory.CreateLocker(ctx)
		if lockErr != nil {
			return app, lockErr
		}
		app.Locker = locker
		app.onClose(func(context.Context) error { return closeLocker() })
	}

	app.Bus = event.NewInMemoryEventBus(log)
	journal := event.NewPaymentEventJournal(nil)
	app.Bus.Subscribe(journal, journal.EventTypes()...)

	metrics, err := telemetry.NewReconciliationMetrics(app.meter.Meter(meterName))
	if err != nil {
		return app, fmt.Errorf("create metrics: %w", err)
	}

	app.Service = reconciliation.NewService(
		app.DB.Store(),
		persistence.NewGormAuditLogRepository(app.DB.DB),
		reconciliation.WithSettings(reconciliation.SettingsFromConfig(cfg.Reconciliation, cfg.Guard)),
		reconciliation.WithEventPublisher(app.Bus),
		reconciliation.WithMetrics(metrics),
		reconciliation.WithLogger(log),
	)
	app.Batch = reconciliation.NewBatchReconciler(app.Service, app.Locker,
		reconciliation.BatchSettingsFromConfig(cfg.Batch))

	return app, nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	tc := a.Config.Telemetry

	tracer, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		SamplingRatio:     tc.SamplingRatio,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.onClose(tracer.Shutdown)

	a.meter, err = telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		ExportInterval:    metricInterval,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	a.onClose(a.meter.Shutdown)

	logs, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("init log export: %w", err)
	}
	a.onClose(logs.Shutdown)

	level, err := zapcore.ParseLevel(a.Config.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	a.Logger = telemetry.Bridge(a.Logger, logs, tc.ServiceName, level)
	return nil
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Ping checks the database connection
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases resources in reverse order of acquisition
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
