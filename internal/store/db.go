// Package store is the relational side of the pipeline: the upstream
// records it reads, the results it writes and the optional SQL watermark.
package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

// Dialect is a supported SQL backend
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// ParseDialect maps a configured driver name to a dialect
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %q (supported: sqlite, postgres, mysql)", driver)
	}
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateTable rejects names that cannot be spliced into SQL as is
func ValidateTable(name string) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// DB is a connection pool bound to a dialect
type DB struct {
	x       *sqlx.DB
	dialect Dialect
	logger  *zap.Logger
}

// Open connects and pings the database
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*DB, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	x, err := sqlx.ConnectContext(ctx, string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}
	if dialect == DialectSQLite && strings.Contains(dsn, ":memory:") {
		// Every connection to :memory: is a separate database
		x.SetMaxOpenConns(1)
	}

	logger.Debug("connected to database", zap.String("dialect", string(dialect)))
	return &DB{x: x, dialect: dialect, logger: logger}, nil
}

// Dialect returns the backend dialect
func (d *DB) Dialect() Dialect { return d.dialect }

// X exposes the underlying pool
func (d *DB) X() *sqlx.DB { return d.x }

// Close closes the pool
func (d *DB) Close() error { return d.x.Close() }

func (d *DB) rebind(query string) string { return d.x.Rebind(query) }
