// Package sqlstore implements store.Store on SQLite or PostgreSQL through sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/storylingo/storylingo-server/internal/store"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Dialect captures the differences between the supported databases.
type Dialect struct {
	Name   string // database/sql driver name
	schema string

	// lockClause is appended to the row read inside MutateProgress.
	lockClause string

	// serializeWrites guards writers with a process-wide mutex.
	serializeWrites bool
}

// Supported dialects.
var (
	SQLite = Dialect{
		Name:            "sqlite",
		schema:          sqliteSchema,
		serializeWrites: true,
	}
	Postgres = Dialect{
		Name:       "postgres",
		schema:     postgresSchema,
		lockClause: " FOR UPDATE",
	}
)

func init() {
	// sqlx only knows the cgo driver name; modernc registers as "sqlite".
	sqlx.BindDriver(SQLite.Name, sqlx.QUESTION)
}

// Store provides SQL-backed persistence for story progress.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	logger  *slog.Logger
	now     func() time.Time

	// writeMu serializes writers when the dialect needs it.
	writeMu sync.Mutex
}

var _ store.Store = (*Store)(nil)

// OpenSQLite creates a SQLite store at the given path.
// It configures WAL mode, sets pragmas, and runs schema migrations.
func OpenSQLite(path string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open(SQLite.Name, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	return open(db, SQLite, logger)
}

// OpenPostgres connects to PostgreSQL using a lib/pq connection string.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, Postgres.Name, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return open(db, Postgres, logger)
}

func open(db *sqlx.DB, dialect Dialect, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if _, err := db.Exec(dialect.schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	logger.Info("SQL database opened successfully", "dialect", dialect.Name)

	return &Store{
		db:      db,
		dialect: dialect,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Info("Closing database connection", "dialect", s.dialect.Name)
	return s.db.Close()
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withWriteTx runs fn in a transaction, committing on success.
func (s *Store) withWriteTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if s.dialect.serializeWrites {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// formatTime formats a time.Time to RFC3339Nano for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a RFC3339Nano string back to time.Time.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// nullInt returns a sql.NullInt64 from an *int.
func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// nullFloat returns a sql.NullFloat64 from a *float64.
func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
