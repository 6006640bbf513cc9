package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/scan2csv/internal/common"
)

// Drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// Ledger is the run database: one row per document run plus its state
// transitions.
type Ledger struct {
	db      *sql.DB
	pool    *pgxpool.Pool
	dialect string
	logger  *slog.Logger
}

// Open connects to the configured database and applies the schema. The
// none driver yields a nil Ledger and no error.
func Open(ctx context.Context, cfg common.LedgerConfig, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		l   *Ledger
		err error
	)
	switch cfg.Driver {
	case DriverNone, "":
		return nil, nil
	case DriverSQLite:
		l, err = openSQLite(cfg, logger)
	case DriverPostgres:
		l, err = openPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q: %w", cfg.Driver, common.ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}
	if err := l.migrate(ctx); err != nil {
		l.Close()
		return nil, err
	}
	logger.Info("ledger.opened", "driver", cfg.Driver)
	return l, nil
}

func openSQLite(cfg common.LedgerConfig, logger *slog.Logger) (*Ledger, error) {
	dsn := cfg.DSN
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, common.LocalIO("create ledger dir", err)
		}
		dsn = "file:" + dsn + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, common.LocalIO("open sqlite ledger", err)
	}
	// one writer; concurrent documents queue on the pool
	db.SetMaxOpenConns(1)
	return &Ledger{db: db, dialect: dialect.SQLite, logger: logger}, nil
}

func openPostgres(ctx context.Context, cfg common.LedgerConfig, logger *slog.Logger) (*Ledger, error) {
	logger.Info("connecting to database", "driver", cfg.Driver)
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse ledger dsn: %w: %w", common.ErrInvalidInput, err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MaxConnIdleTime = 5 * time.Minute
	pc.ConnConfig.RuntimeParams["application_name"] = "scan2csv"

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, common.Transient(err)
	}
	// wrap pool as *sql.DB so both dialects share the query code
	return &Ledger{db: stdlib.OpenDBFromPool(pool), pool: pool, dialect: dialect.Postgres, logger: logger}, nil
}

// Close closes the database connections.
func (l *Ledger) Close() {
	if l == nil {
		return
	}
	if err := l.db.Close(); err != nil {
		l.logger.Error("failed to close ledger", "error", err)
	}
	if l.pool != nil {
		l.pool.Close()
	}
}

// HealthCheck pings the database.
func (l *Ledger) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return l.db.PingContext(ctx)
}

// Dialect is the ent dialect name of the underlying database.
func (l *Ledger) Dialect() string { return l.dialect }

func (l *Ledger) migrate(ctx context.Context) error {
	stmts := schemaSQLite
	if l.dialect == dialect.Postgres {
		stmts = schemaPostgres
	}
	for _, s := range stmts {
		if _, err := l.db.ExecContext(ctx, s); err != nil {
			return common.LocalIO("migrate ledger", err)
		}
	}
	return nil
}

var schemaSQLite = []string{
	`CREATE TABLE IF NOT EXISTS document_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		document TEXT NOT NULL,
		process_dir TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		pages INTEGER NOT NULL DEFAULT 0,
		final_csv TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS document_runs_document ON document_runs (document)`,
	`CREATE INDEX IF NOT EXISTS document_runs_run_id ON document_runs (run_id)`,
	`CREATE TABLE IF NOT EXISTS run_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_run_id INTEGER NOT NULL REFERENCES document_runs(id) ON DELETE CASCADE,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		stage TEXT NOT NULL,
		ok INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL
	)`,
}

var schemaPostgres = []string{
	`CREATE TABLE IF NOT EXISTS document_runs (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL,
		document TEXT NOT NULL,
		process_dir TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		pages INTEGER NOT NULL DEFAULT 0,
		final_csv TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS document_runs_document ON document_runs (document)`,
	`CREATE INDEX IF NOT EXISTS document_runs_run_id ON document_runs (run_id)`,
	`CREATE TABLE IF NOT EXISTS run_transitions (
		id BIGSERIAL PRIMARY KEY,
		document_run_id BIGINT NOT NULL REFERENCES document_runs(id) ON DELETE CASCADE,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		stage TEXT NOT NULL,
		ok INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL
	)`,
}
