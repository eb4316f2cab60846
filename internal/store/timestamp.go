package store

import (
	"fmt"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Timestamp scans DATETIME columns from drivers that return them as text
type Timestamp struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner
func (t *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = Timestamp{}
		return nil
	case time.Time:
		*t = Timestamp{Time: v, Valid: true}
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into Timestamp", src)
	}
}

func (t *Timestamp) parse(s string) error {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			*t = Timestamp{Time: ts, Valid: true}
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
