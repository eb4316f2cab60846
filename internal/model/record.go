package model

import (
	"database/sql"
	"time"
)

// UpstreamRecord is one scraped post as it sits in the upstream table.
// The pipeline only ever reads these.
type UpstreamRecord struct {
	ID             int64          `json:"id" db:"id"`         // Monotonic, used as the watermark key
	Text           string         `json:"text" db:"text"`     // Post/comment body
	Topics         sql.NullString `json:"topics" db:"topics"` // Trending topic the post was found under
	ScreenName     string         `json:"screen_name" db:"screen_name"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	RepostsCount   int64          `json:"reposts_count" db:"reposts_count"`
	CommentsCount  int64          `json:"comments_count" db:"comments_count"`
	AttitudesCount int64          `json:"attitudes_count" db:"attitudes_count"`
	IP             sql.NullString `json:"ip" db:"ip"`
}

// Query is the payload sent to the oracle for one record.
type Query struct {
	Title   string `json:"title"`
	Comment string `json:"comment"`
}

// QueryFor builds the oracle query for a record. A missing topic becomes an
// empty title.
func QueryFor(rec UpstreamRecord) Query {
	return Query{
		Title:   rec.Topics.String,
		Comment: rec.Text,
	}
}

// PersistedRow is one (record, dimension) row in the results table.
type PersistedRow struct {
	ID             int64          `db:"id"`
	IP             sql.NullString `db:"ip"`
	Text           string         `db:"text"`
	Topics         sql.NullString `db:"topics"`
	RepostsCount   int64          `db:"reposts_count"`
	CommentsCount  int64          `db:"comments_count"`
	AttitudesCount int64          `db:"attitudes_count"`
	CreatedAt      time.Time      `db:"created_at"`
	Measure        string         `db:"measure"`
	Value          int            `db:"value"`
	Negativity     int            `db:"negativity"`
}
