package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erp/reconciliation/internal/application/reconciliation"
	"github.com/erp/reconciliation/internal/bootstrap"
	"github.com/erp/reconciliation/internal/infrastructure/config"
	"github.com/erp/reconciliation/internal/infrastructure/logger"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	var (
		tenant            string
		workers           int
		allocateUnmatched bool
		timeout           time.Duration
		logLevel          string
	)
	flag.StringVar(&tenant, "tenant", "", "Tenant ID to reconcile (required)")
	flag.IntVar(&workers, "workers", 0, "Customers reconciled in parallel (default from config)")
	flag.BoolVar(&allocateUnmatched, "allocate-unmatched", false, "Allocate payments that found no document over open obligations")
	flag.DurationVar(&timeout, "timeout", 30*time.Minute, "Abort the run after this long")
	flag.StringVar(&logLevel, "log-level", "", "Log level (default from config)")
	flag.Parse()

	tenantID, err := uuid.Parse(tenant)
	if err != nil || tenantID == uuid.Nil {
		fmt.Fprintln(os.Stderr, "a valid -tenant UUID is required")
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if workers > 0 {
		cfg.Batch.Workers = workers
	}
	if allocateUnmatched {
		cfg.Batch.AllocateUnmatched = true
	}

	// stdout carries the summary
	base, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = base.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	app, err := bootstrap.New(ctx, cfg, base)
	if err != nil {
		base.Fatal("Failed to initialize application", zap.Error(err))
	}

	summary, runErr := run(ctx, app.Batch, tenantID, app.Logger)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := app.Close(closeCtx); err != nil {
		app.Logger.Warn("Error releasing resources", zap.Error(err))
	}

	if runErr != nil {
		app.Logger.Error("Batch run failed", zap.Error(runErr))
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(summary)

	if summary.Failed > 0 {
		os.Exit(3)
	}
}

func run(ctx context.Context, batch *reconciliation.BatchReconciler, tenantID uuid.UUID, log *zap.Logger) (*reconciliation.BatchSummary, error) {
	ctx = logger.WithTenantID(ctx, tenantID.String())
	ctx = logger.WithActor(ctx, "batch-cli")
	ctx = logger.WithContext(ctx, log)

	log.Info("Batch run started", zap.String("tenant_id", tenantID.String()))
	summary, err := batch.Run(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	log.Info("Batch run finished",
		zap.Int("processed", summary.Processed),
		zap.Int("matched", summary.Matched),
		zap.Int("allocated", summary.Allocated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}
