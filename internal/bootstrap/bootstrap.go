// Package bootstrap builds the graph engine from environment
// configuration. The server, the worker and spanctl share it.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/spans/internal/db"
	"github.com/OFFIS-RIT/spans/internal/util"
	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/graph"
	"github.com/OFFIS-RIT/spans/pkg/leaselock"
	"github.com/OFFIS-RIT/spans/pkg/logger"
	"github.com/OFFIS-RIT/spans/pkg/logger/console"
	"github.com/OFFIS-RIT/spans/pkg/metrics"
	"github.com/OFFIS-RIT/spans/pkg/store"
	pgstore "github.com/OFFIS-RIT/spans/pkg/store/pgx"
	"github.com/OFFIS-RIT/spans/pkg/store/sqlite"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config is the engine configuration read from the environment.
type Config struct {
	Store               string
	DatabaseURL         string
	SQLitePath          string
	MigrateOnStart      bool
	SeedTypes           bool
	KeepPolicy          graph.KeepPolicy
	ExternalKey         string
	RefreshFields       []string
	RejectTimelessDates bool
	LockTTL             time.Duration
}

// ConfigFromEnv reads Config. DATABASE_URL is only required for the
// postgres store.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Store:               strings.ToLower(util.GetEnvString("STORE", StorePostgres)),
		SQLitePath:          util.GetEnvString("SQLITE_PATH", "spans.db"),
		MigrateOnStart:      util.GetEnvBool("MIGRATE_ON_START", false),
		SeedTypes:           util.GetEnvBool("SEED_CONNECTION_TYPES", true),
		ExternalKey:         util.GetEnvString("EXTERNAL_ID_KEY", common.DefaultExternalKey),
		RefreshFields:       util.GetEnvList("RESOLVE_REFRESH_FIELDS"),
		RejectTimelessDates: util.GetEnvBool("REJECT_TIMELESS_DATES", false),
		LockTTL:             util.GetEnvSeconds("MERGE_LOCK_TTL_SECONDS", 2*time.Minute),
	}

	policy, err := graph.ParseKeepPolicy(util.GetEnvString("REPAIR_KEEP_POLICY", ""))
	if err != nil {
		return cfg, err
	}
	cfg.KeepPolicy = policy

	switch cfg.Store {
	case StorePostgres:
		cfg.DatabaseURL = util.GetEnv("DATABASE_URL")
	case StoreSQLite:
	default:
		return cfg, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
	return cfg, nil
}

// InitLogger installs the console logger.
func InitLogger() {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
	}))
}

// Engine bundles the graph client with the resources behind it.
type Engine struct {
	Graph    *graph.GraphClient
	Storage  store.GraphStorage
	Registry *prometheus.Registry
	Config   Config

	closers []func()
}

func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// Open connects the configured store and builds the graph client.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	e := &Engine{Config: cfg, Registry: prometheus.NewRegistry()}
	e.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewMetrics(e.Registry)
	if err != nil {
		return nil, err
	}

	var locker graph.Locker
	switch cfg.Store {
	case StoreSQLite:
		repo, err := sqlite.NewRepository(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() { _ = repo.Close() })
		if err := repo.EnsureSchema(ctx); err != nil {
			e.Close()
			return nil, err
		}
		e.Storage = repo
		logger.Info("[Bootstrap] Using sqlite store", "path", repo.Path())
	default:
		if cfg.MigrateOnStart {
			if err := db.Migrate(cfg.DatabaseURL); err != nil {
				return nil, err
			}
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to database: %w", err)
		}
		e.closers = append(e.closers, pool.Close)
		e.Storage = pgstore.NewGraphDBStorageWithConnection(pool)
		locker = leaselock.NewLocker(pool, "spans/", leaselock.Options{
			TTL:          cfg.LockTTL,
			RenewEvery:   cfg.LockTTL / 3,
			WaitInterval: 200 * time.Millisecond,
			WaitJitter:   100 * time.Millisecond,
		})
		logger.Info("[Bootstrap] Using postgres store")
	}

	g, err := graph.NewGraphClient(graph.NewGraphClientParams{
		Storage:             e.Storage,
		Locker:              locker,
		Metrics:             m,
		KeepPolicy:          cfg.KeepPolicy,
		ExternalKey:         cfg.ExternalKey,
		RefreshFields:       cfg.RefreshFields,
		RejectTimelessDates: cfg.RejectTimelessDates,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	e.Graph = g

	if cfg.SeedTypes {
		err = g.SeedConnectionTypes(ctx)
	} else {
		err = g.LoadConnectionTypes(ctx)
	}
	if err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}
