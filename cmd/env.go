package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/client-sync/internal/config"
	"github.com/sells-group/client-sync/internal/unify"
)

// syncPool creates the shared pgx connection pool from config.
func syncPool(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("no database_url configured (set store.database_url or CLIENTSYNC_STORE_DATABASE_URL)")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "parse database url")
	}
	if cfg.Store.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Store.MaxConns
	}
	if cfg.Store.MinConns > 0 {
		poolCfg.MinConns = cfg.Store.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "ping database")
	}
	return pool, nil
}

// syncEnv bundles the wired engine and its pool for command handlers.
type syncEnv struct {
	pool   *pgxpool.Pool
	ledger *unify.Ledger
	engine *unify.Engine
}

func (e *syncEnv) Close() {
	e.pool.Close()
}

// initEngine connects to the database, runs migrations, and wires the
// unification engine. withInvoker controls whether finished chunks chain the
// next one over HTTP (server mode) or leave the run for the caller (CLI
// mode).
func initEngine(ctx context.Context, withInvoker bool) (*syncEnv, error) {
	pool, err := syncPool(ctx)
	if err != nil {
		return nil, err
	}

	if err := unify.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	aliases, err := config.LoadAliases(cfg.Sync.AliasFile)
	if err != nil {
		pool.Close()
		return nil, err
	}

	ledger := unify.NewLedger(pool, time.Duration(cfg.Sync.StaleAfterSecs)*time.Second)
	persister := unify.NewPersister(pool, cfg.Sync.MicroBatchSize, cfg.Sync.WritesPerSecond)

	var invoker unify.Invoker
	if withInvoker && cfg.Sync.ContinueURL != "" {
		invoker = unify.NewHTTPInvoker(cfg.Sync.ContinueURL)
	}

	engine := unify.NewEngine(pool, ledger, persister, invoker, unify.Options{
		BatchSize:          cfg.Sync.BatchSize,
		TimeBudget:         time.Duration(cfg.Sync.TimeBudgetSecs) * time.Second,
		DefaultCountryCode: cfg.Sync.DefaultCountryCode,
		Aliases:            aliases,
	})

	return &syncEnv{pool: pool, ledger: ledger, engine: engine}, nil
}
