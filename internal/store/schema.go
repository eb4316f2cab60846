package store

import (
	"context"
	"fmt"
)

// WatermarkTable holds named SQL watermarks
const WatermarkTable = "watermarks"

var resultsDDL = map[Dialect]string{
	DialectSQLite: `CREATE TABLE IF NOT EXISTS %s (
	id INTEGER NOT NULL,
	ip TEXT,
	text TEXT NOT NULL,
	topics TEXT,
	reposts_count INTEGER NOT NULL DEFAULT 0,
	comments_count INTEGER NOT NULL DEFAULT 0,
	attitudes_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	measure TEXT NOT NULL,
	value INTEGER NOT NULL,
	negativity INTEGER NOT NULL,
	PRIMARY KEY (id, measure)
)`,
	DialectPostgres: `CREATE TABLE IF NOT EXISTS %s (
	id BIGINT NOT NULL,
	ip TEXT,
	text TEXT NOT NULL,
	topics TEXT,
	reposts_count BIGINT NOT NULL DEFAULT 0,
	comments_count BIGINT NOT NULL DEFAULT 0,
	attitudes_count BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	measure TEXT NOT NULL,
	value SMALLINT NOT NULL,
	negativity SMALLINT NOT NULL,
	PRIMARY KEY (id, measure)
)`,
	DialectMySQL: `CREATE TABLE IF NOT EXISTS %s (
	id BIGINT NOT NULL,
	ip VARCHAR(64) NULL,
	text LONGTEXT NOT NULL,
	topics VARCHAR(255) NULL,
	reposts_count BIGINT NOT NULL DEFAULT 0,
	comments_count BIGINT NOT NULL DEFAULT 0,
	attitudes_count BIGINT NOT NULL DEFAULT 0,
	created_at DATETIME(6) NOT NULL,
	measure VARCHAR(64) NOT NULL,
	value TINYINT NOT NULL,
	negativity TINYINT NOT NULL,
	PRIMARY KEY (id, measure)
) DEFAULT CHARSET=utf8mb4`,
}

var upstreamDDL = map[Dialect]string{
	DialectSQLite: `CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY,
	text TEXT,
	topics TEXT,
	screen_name TEXT,
	created_at DATETIME,
	reposts_count INTEGER,
	comments_count INTEGER,
	attitudes_count INTEGER,
	ip TEXT
)`,
	DialectPostgres: `CREATE TABLE IF NOT EXISTS %s (
	id BIGINT PRIMARY KEY,
	text TEXT,
	topics TEXT,
	screen_name TEXT,
	created_at TIMESTAMPTZ,
	reposts_count BIGINT,
	comments_count BIGINT,
	attitudes_count BIGINT,
	ip TEXT
)`,
	DialectMySQL: `CREATE TABLE IF NOT EXISTS %s (
	id BIGINT PRIMARY KEY,
	text LONGTEXT,
	topics VARCHAR(255),
	screen_name VARCHAR(255),
	created_at DATETIME(6),
	reposts_count BIGINT,
	comments_count BIGINT,
	attitudes_count BIGINT,
	ip VARCHAR(64)
) DEFAULT CHARSET=utf8mb4`,
}

var watermarkDDL = map[Dialect]string{
	DialectSQLite: `CREATE TABLE IF NOT EXISTS %s (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL,
	updated_at DATETIME NOT NULL
)`,
	DialectPostgres: `CREATE TABLE IF NOT EXISTS %s (
	name TEXT PRIMARY KEY,
	value BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
	DialectMySQL: `CREATE TABLE IF NOT EXISTS %s (
	name VARCHAR(191) PRIMARY KEY,
	value BIGINT NOT NULL,
	updated_at DATETIME(6) NOT NULL
) DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates the results and watermark tables if they are missing
func (d *DB) EnsureSchema(ctx context.Context, resultsTable string) error {
	if err := d.create(ctx, resultsDDL, resultsTable); err != nil {
		return err
	}
	return d.create(ctx, watermarkDDL, WatermarkTable)
}

// EnsureUpstream creates an empty upstream table. Production upstream tables
// are owned by the scraper; this is for local databases.
func (d *DB) EnsureUpstream(ctx context.Context, table string) error {
	return d.create(ctx, upstreamDDL, table)
}

func (d *DB) create(ctx context.Context, ddl map[Dialect]string, table string) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	if _, err := d.x.ExecContext(ctx, fmt.Sprintf(ddl[d.dialect], table)); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}
