package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database tracing.
type DBTracingConfig struct {
	Enabled         bool
	LogFullSQL      bool // include bound values in statements; never in production
	SlowQueryThresh time.Duration
	DBName          string
}

// DefaultDBTracingConfig returns the secure defaults
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		SlowQueryThresh: 200 * time.Millisecond,
		DBName:          "reconciliation",
	}
}

// DBTracingPlugin installs otelgorm and annotates its spans with row counts,
// table names and slow query markers.
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

// NewDBTracingPlugin creates a new database tracing plugin.
func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = 200 * time.Millisecond
	}
	return &DBTracingPlugin{
		config: cfg,
		logger: logger,
	}
}

type dbCallbackKey struct{}

var dbOperations = []string{"create", "query", "update", "delete", "row", "raw"}

// Register installs otelgorm and the timing callbacks on db
func (p *DBTracingPlugin) Register(db *gorm.DB) error {
	if !p.config.Enabled {
		p.logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(p.config.DBName)}
	if !p.config.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	for _, op := range dbOperations {
		if err := registerAround(db, op, markQueryStart, p.annotate); err != nil {
			return err
		}
	}

	p.logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", p.config.LogFullSQL),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
		zap.String("db_name", p.config.DBName),
	)
	return nil
}

// registerAround hooks before and after the named GORM operation
func registerAround(db *gorm.DB, op string, before, after func(*gorm.DB)) error {
	gormName := "gorm:" + op
	beforeName := "recon_timing:before_" + op
	afterName := "recon_timing:after_" + op
	cb := db.Callback()
	switch op {
	case "create":
		if err := cb.Create().Before(gormName).Register(beforeName, before); err != nil {
			return err
		}
		return cb.Create().After(gormName).Register(afterName, after)
	case "query":
		if err := cb.Query().Before(gormName).Register(beforeName, before); err != nil {
			return err
		}
		return cb.Query().After(gormName).Register(afterName, after)
	case "update":
		if err := cb.Update().Before(gormName).Register(beforeName, before); err != nil {
			return err
		}
		return cb.Update().After(gormName).Register(afterName, after)
	case "delete":
		if err := cb.Delete().Before(gormName).Register(beforeName, before); err != nil {
			return err
		}
		return cb.Delete().After(gormName).Register(afterName, after)
	case "row":
		if err := cb.Row().Before(gormName).Register(beforeName, before); err != nil {
			return err
		}
		return cb.Row().After(gormName).Register(afterName, after)
	default:
		if err := cb.Raw().Before(gormName).Register(beforeName, before); err != nil {
			return err
		}
		return cb.Raw().After(gormName).Register(afterName, after)
	}
}

func markQueryStart(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, dbCallbackKey{}, time.Now())
	}
}

func (p *DBTracingPlugin) annotate(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}

	start, ok := ctx.Value(dbCallbackKey{}).(time.Time)
	if !ok {
		return
	}
	if elapsed := time.Since(start); elapsed > p.config.SlowQueryThresh {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
		span.AddEvent("slow_query_warning", trace.WithAttributes(
			attribute.Int64("duration_ms", elapsed.Milliseconds()),
			attribute.Int64("threshold_ms", p.config.SlowQueryThresh.Milliseconds()),
		))
	}
}
