package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
)

// sqliteFold lowercases the full Unicode range. SQLite's built-in LOWER
// only folds ASCII.
const sqliteFold = "leadsync_fold"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(sqliteFold, 1, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		switch v := args[0].(type) {
		case string:
			return strings.ToLower(v), nil
		case []byte:
			return strings.ToLower(string(v)), nil
		}
		return args[0], nil
	})
}

var (
	// ErrNotFound is returned when a row scoped to the calling user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a create collides with an existing row.
	ErrConflict = errors.New("already exists")
	// ErrExpired is returned for an OAuth state that outlived its TTL.
	ErrExpired = errors.New("expired")
	// ErrStorage wraps driver failures for a specific row.
	ErrStorage = errors.New("storage error")
)

// Dialect selects the SQL backend.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Store is the row-store for accounts, messages, leads and sync bookkeeping.
// Every read and write is scoped by the caller-supplied user ID.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	pool    *pgxpool.Pool
}

// Open connects to the database and applies pending migrations. For SQLite
// dsn is a file path or ":memory:".
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	var (
		s   *Store
		err error
	)
	switch dialect {
	case DialectPostgres:
		s, err = openPostgres(ctx, dsn)
	case DialectSQLite, "":
		s, err = openSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", dialect)
	}
	if err != nil {
		return nil, err
	}

	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func openPostgres(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.url not configured")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db := sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
	return &Store{db: db, dialect: DialectPostgres, pool: pool}, nil
}

func openSQLite(ctx context.Context, path string) (*Store, error) {
	memory := path == "" || path == ":memory:"
	dsn := ":memory:"
	if !memory {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if memory {
		// each connection to :memory: is its own database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	return &Store{db: db, dialect: DialectSQLite}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// Dialect reports the backend in use
func (s *Store) Dialect() Dialect { return s.dialect }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind converts ? placeholders to the driver's bind style.
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func now() time.Time {
	return time.Now().UTC()
}

// likePattern builds a case-insensitive substring pattern for LIKE ... ESCAPE '\'.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(q)) + "%"
}

// searchCondition matches q as a case-insensitive substring of any of cols.
func (s *Store) searchCondition(q string, cols ...string) (string, []any) {
	fold := "LOWER"
	if s.dialect == DialectSQLite {
		fold = sqliteFold
	}
	pattern := likePattern(q)
	parts := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		parts[i] = fold + "(" + col + `) LIKE ? ESCAPE '\'`
		args[i] = pattern
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

func (s *Store) pageClause(offset, limit int) string {
	var b strings.Builder
	switch {
	case limit > 0:
		fmt.Fprintf(&b, " LIMIT %d", limit)
	case offset > 0 && s.dialect == DialectSQLite:
		b.WriteString(" LIMIT -1")
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}
