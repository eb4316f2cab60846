package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// WatermarkStore keeps a named watermark in WatermarkTable
type WatermarkStore struct {
	db   *DB
	name string
	load string
	save string
}

// NewWatermarkStore returns the SQL watermark called name
func NewWatermarkStore(db *DB, name string) (*WatermarkStore, error) {
	if name == "" {
		return nil, fmt.Errorf("watermark name is required")
	}

	upsert := `INSERT INTO %s (name, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if db.dialect == DialectMySQL {
		upsert = `INSERT INTO %s (name, value, updated_at) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`
	}

	return &WatermarkStore{
		db:   db,
		name: name,
		load: db.rebind(fmt.Sprintf(`SELECT value FROM %s WHERE name = ?`, WatermarkTable)),
		save: db.rebind(fmt.Sprintf(upsert, WatermarkTable)),
	}, nil
}

// Load returns the stored watermark, 0 when none was ever saved
func (w *WatermarkStore) Load(ctx context.Context) (int64, error) {
	var v int64
	err := w.db.x.GetContext(ctx, &v, w.load, w.name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load watermark %s: %w", w.name, err)
	}
	return v, nil
}

// Save durably records v
func (w *WatermarkStore) Save(ctx context.Context, v int64) error {
	if _, err := w.db.x.ExecContext(ctx, w.save, w.name, v, time.Now().UTC()); err != nil {
		return fmt.Errorf("save watermark %s: %w", w.name, err)
	}
	return nil
}
