package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/rpm/internal/config"
	"github.com/ehr/rpm/internal/domain/alert"
	"github.com/ehr/rpm/internal/domain/execution"
	"github.com/ehr/rpm/internal/domain/measurement"
	"github.com/ehr/rpm/internal/domain/patient"
	"github.com/ehr/rpm/internal/domain/rules"
	"github.com/ehr/rpm/internal/domain/visitrequest"
	"github.com/ehr/rpm/internal/engine"
	"github.com/ehr/rpm/internal/platform/db"
	"github.com/ehr/rpm/internal/platform/events"
	"github.com/ehr/rpm/internal/platform/notification"
	"github.com/ehr/rpm/migrations"
)

// app holds the wired components shared by serve and evaluate.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	pool       *pgxpool.Pool
	publisher  events.Publisher
	rules      rules.Repository
	alerts     alert.Repository
	executions execution.Repository
	engine     *engine.Engine
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.DBSchema)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		publisher:  publisher,
		rules:      rules.NewRepoPG(pool),
		alerts:     alert.NewRepoPG(pool),
		executions: execution.NewRepoPG(pool),
	}

	dispatcher := engine.NewDispatcher(
		a.alerts,
		visitrequest.NewRepoPG(pool),
		newLocker(cfg.DedupLock, pool),
		notification.NewTemplateEngine(),
		publisher,
		engine.DispatcherOptions{AlertWindow: cfg.AlertDedupWindow, VisitWindow: cfg.VisitDedupWindow},
		logger,
	)
	a.engine = engine.New(
		a.rules,
		measurement.NewRepoPG(pool),
		a.executions,
		dispatcher,
		patient.NewDirectoryPG(pool),
		engine.Options{Workers: cfg.EvalWorkers, PatientTimeout: cfg.PatientTimeout},
		logger,
	)
	return a, nil
}

func (a *app) Close() {
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close event publisher")
	}
	a.pool.Close()
}

func newLogger(env, level string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// newLocker picks the dedup lock. postgres serialises check-and-create
// across replicas; memory only within this process.
func newLocker(mode string, pool *pgxpool.Pool) engine.Locker {
	if mode == config.LockPostgres {
		return db.NewAdvisoryLocker(pool)
	}
	return engine.NewKeyedMutex()
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.Noop{}, nil
	}
	p, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	if err != nil {
		return nil, fmt.Errorf("create event publisher: %w", err)
	}
	logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing action events")
	return p, nil
}

func newMigrator(pool *pgxpool.Pool, dir string) *db.Migrator {
	if dir == "" {
		return db.NewMigratorFS(pool, migrations.FS)
	}
	return db.NewMigrator(pool, dir)
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
