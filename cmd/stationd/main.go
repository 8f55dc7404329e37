// Command stationd runs the treasury station: the request governance
// engine, its scheduler pipeline, and the audit ledger, all on one sqlite
// store.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/covault/station/pkg/audit"
	"github.com/covault/station/pkg/config"
	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/criteria"
	"github.com/covault/station/pkg/gateway"
	"github.com/covault/station/pkg/indexstore"
	"github.com/covault/station/pkg/observability"
	"github.com/covault/station/pkg/operation"
	"github.com/covault/station/pkg/policy"
	"github.com/covault/station/pkg/request"
	"github.com/covault/station/pkg/scheduler"
	"github.com/covault/station/pkg/services"

	_ "github.com/lib/pq" // Postgres driver for the audit ledger
)

// version is stamped by the build.
var version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "stationd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	log := observability.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:    "station",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		Enabled:        cfg.TelemetryEnabled,
		Insecure:       cfg.Environment == "development",
	}, log)
	if err != nil {
		return err
	}
	defer func() { _ = telemetry.Shutdown(context.Background()) }()

	store, err := indexstore.Open(cfg.StorePath, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	clock := contracts.SystemClock{}
	users, err := services.NewUserService(ctx, store, clock)
	if err != nil {
		return err
	}
	groups, err := services.NewUserGroupService(ctx, store, users, clock)
	if err != nil {
		return err
	}
	accounts, err := services.NewAccountService(ctx, store, users, clock)
	if err != nil {
		return err
	}
	book, err := services.NewAddressBookService(ctx, store, clock)
	if err != nil {
		return err
	}
	transfers, err := services.NewTransferService(ctx, store, clock)
	if err != nil {
		return err
	}
	policies, err := policy.NewRepository(ctx, store)
	if err != nil {
		return err
	}

	dir := &services.Directory{Users: users, Groups: groups, Accounts: accounts, AddressBook: book}
	engine, err := criteria.NewEngine(dir, dir, policies.Arena())
	if err != nil {
		return err
	}

	registry, err := operation.NewRegistry(operation.Deps{
		Accounts:       accounts,
		Users:          users,
		Groups:         groups,
		AddressBook:    book,
		Transfers:      transfers,
		Policies:       policies,
		Engine:         engine,
		Gateway:        gateway.NewInMemory(),
		Clock:          clock,
		CurrentVersion: version,
	})
	if err != nil {
		return err
	}

	ledger, err := openLedger(ctx, cfg, store)
	if err != nil {
		return err
	}

	repo, err := request.NewRepository(ctx, store)
	if err != nil {
		return err
	}

	opts := request.Options{DefaultExpiry: cfg.DefaultExpiry}
	if cfg.ProfilePath != "" {
		adminGroup, err := applyProfile(ctx, cfg.ProfilePath, engine, policies, groups, users)
		if err != nil {
			return fmt.Errorf("bootstrap profile: %w", err)
		}
		opts.AdminGroupID = adminGroup
	}

	svc := request.NewService(repo, registry, policies, engine, dir, transfers, ledger, clock, log, opts)

	if faults, err := repo.CheckConsistency(ctx); err != nil {
		return fmt.Errorf("consistency check: %w", err)
	} else if len(faults) > 0 {
		for _, f := range faults {
			log.Error("index inconsistency", "index", f.Index, "request_id", f.RequestID, "detail", f.Detail)
		}
		return fmt.Errorf("store failed consistency check with %d faults", len(faults))
	}

	pipeline, err := scheduler.NewPipeline(svc, repo, registry, clock, log, telemetry.Meter(), scheduler.Options{
		SchedulingInterval: cfg.SchedulingInterval,
		ExpirationInterval: cfg.ExpirationInterval,
		ApprovalInterval:   cfg.ApprovalInterval,
		MaxExecuteAttempts: cfg.MaxExecuteAttempts,
	})
	if err != nil {
		return err
	}

	log.Info("station started", "version", version, "store", cfg.StorePath, "audit_driver", cfg.AuditDriver)
	pipeline.Run(ctx)
	return nil
}

// openLedger backs the audit ledger with the shared sqlite handle or a
// dedicated postgres connection.
func openLedger(ctx context.Context, cfg *config.Config, store *indexstore.Store) (*audit.Ledger, error) {
	var ledger *audit.Ledger
	switch cfg.AuditDriver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.AuditDSN)
		if err != nil {
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		ledger = audit.NewLedger(db, "postgres")
	default:
		ledger = audit.NewLedger(store.DB(), "sqlite")
	}
	if err := ledger.Init(ctx); err != nil {
		return nil, fmt.Errorf("init audit ledger: %w", err)
	}
	return ledger, nil
}

