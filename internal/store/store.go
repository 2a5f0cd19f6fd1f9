package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Config selects and configures the backing database.
type Config struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string
	// DSN is a file path or ":memory:" for sqlite, a connection URL for postgres.
	DSN string
	// EncryptionKey encrypts tokens at rest when set. Must be 32 bytes.
	EncryptionKey []byte
	Logger        *slog.Logger
}

// Store persists accounts, OAuth states and canonical messages.
type Store struct {
	db     *sqlx.DB
	cipher *TokenCipher
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to the configured database and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cipher, err := NewTokenCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var db *sqlx.DB
	switch strings.ToLower(cfg.Driver) {
	case "", DriverSQLite:
		db, err = openSQLite(ctx, cfg.DSN)
	case DriverPostgres, "pgx":
		db, err = sqlx.ConnectContext(ctx, "pgx", cfg.DSN)
		if err != nil {
			err = fmt.Errorf("connecting to postgres: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:     db,
		cipher: cipher,
		logger: logger.With("component", "store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func openSQLite(ctx context.Context, dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		dsn = "mailsync.db"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection: sqlite serialises writers, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
	if dsn != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	return db, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies every migration newer than the recorded schema version.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.GetContext(ctx, &current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if _, err := s.db.ExecContext(ctx, s.db.Rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		s.logger.Debug("applied migration", "version", m.version)
	}

	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
