package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ppiankov/psyclass/internal/model"
)

// upstreamRow tolerates the NULLs scraped tables are full of
type upstreamRow struct {
	ID             int64          `db:"id"`
	Text           sql.NullString `db:"text"`
	Topics         sql.NullString `db:"topics"`
	ScreenName     sql.NullString `db:"screen_name"`
	CreatedAt      Timestamp      `db:"created_at"`
	RepostsCount   sql.NullInt64  `db:"reposts_count"`
	CommentsCount  sql.NullInt64  `db:"comments_count"`
	AttitudesCount sql.NullInt64  `db:"attitudes_count"`
	IP             sql.NullString `db:"ip"`
}

func (r upstreamRow) record() model.UpstreamRecord {
	return model.UpstreamRecord{
		ID:             r.ID,
		Text:           r.Text.String,
		Topics:         r.Topics,
		ScreenName:     r.ScreenName.String,
		CreatedAt:      r.CreatedAt.Time,
		RepostsCount:   r.RepostsCount.Int64,
		CommentsCount:  r.CommentsCount.Int64,
		AttitudesCount: r.AttitudesCount.Int64,
		IP:             r.IP,
	}
}

// Upstream reads the scraped records table
type Upstream struct {
	db     *DB
	table  string
	fetch  string
	insert string
}

// NewUpstream binds a reader to table
func NewUpstream(db *DB, table string) (*Upstream, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	return &Upstream{
		db:    db,
		table: table,
		fetch: db.rebind(fmt.Sprintf(`SELECT id, text, topics, screen_name, created_at,
	reposts_count, comments_count, attitudes_count, ip
FROM %s WHERE id > ? ORDER BY id ASC LIMIT ?`, table)),
		insert: fmt.Sprintf(`INSERT INTO %s (id, text, topics, screen_name, created_at,
	reposts_count, comments_count, attitudes_count, ip)
VALUES (:id, :text, :topics, :screen_name, :created_at,
	:reposts_count, :comments_count, :attitudes_count, :ip)`, table),
	}, nil
}

// FetchAfter returns up to limit records with id > after, ascending by id
func (u *Upstream) FetchAfter(ctx context.Context, after int64, limit int) ([]model.UpstreamRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("fetch limit must be positive, got %d", limit)
	}

	var rows []upstreamRow
	if err := u.db.x.SelectContext(ctx, &rows, u.fetch, after, limit); err != nil {
		return nil, fmt.Errorf("fetch from %s after %d: %w", u.table, after, err)
	}

	recs := make([]model.UpstreamRecord, len(rows))
	for i, r := range rows {
		recs[i] = r.record()
	}
	return recs, nil
}

// Insert adds records to the upstream table. The pipeline never writes
// upstream; this loads local databases.
func (u *Upstream) Insert(ctx context.Context, recs ...model.UpstreamRecord) error {
	if len(recs) == 0 {
		return nil
	}
	if _, err := u.db.x.NamedExecContext(ctx, u.insert, recs); err != nil {
		return fmt.Errorf("insert into %s: %w", u.table, err)
	}
	return nil
}
