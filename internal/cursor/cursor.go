// Package cursor pages through upstream records after a durable watermark.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ppiankov/psyclass/internal/model"
)

var (
	// ErrRegression is returned when advancing below the current watermark
	ErrRegression = errors.New("watermark regression")
	// ErrOutOfOrder is returned when the source breaks id ordering
	ErrOutOfOrder = errors.New("source returned records out of order")
)

// Source returns up to limit records with id > after, ascending by id
type Source interface {
	FetchAfter(ctx context.Context, after int64, limit int) ([]model.UpstreamRecord, error)
}

// WatermarkStore persists the last fully processed id
type WatermarkStore interface {
	Load(ctx context.Context) (int64, error)
	Save(ctx context.Context, id int64) error
}

// Cursor yields batches strictly after its watermark. The watermark only
// moves forward and is saved before it changes in memory.
type Cursor struct {
	src   Source
	marks WatermarkStore

	mu        sync.Mutex
	watermark int64
}

// Open loads the watermark from marks
func Open(ctx context.Context, src Source, marks WatermarkStore) (*Cursor, error) {
	w, err := marks.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}
	if w < 0 {
		return nil, fmt.Errorf("load watermark: negative value %d", w)
	}
	return &Cursor{src: src, marks: marks, watermark: w}, nil
}

// Watermark returns the last fully processed id
func (c *Cursor) Watermark() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

// NextBatch returns up to size records after the watermark. It does not
// move the watermark.
func (c *Cursor) NextBatch(ctx context.Context, size int) ([]model.UpstreamRecord, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", size)
	}
	after := c.Watermark()

	recs, err := c.src.FetchAfter(ctx, after, size)
	if err != nil {
		return nil, err
	}
	if len(recs) > size {
		return nil, fmt.Errorf("%w: asked for %d records, got %d", ErrOutOfOrder, size, len(recs))
	}

	prev := after
	for _, r := range recs {
		if r.ID <= prev {
			return nil, fmt.Errorf("%w: id %d after %d", ErrOutOfOrder, r.ID, prev)
		}
		prev = r.ID
	}
	return recs, nil
}

// Advance moves the watermark to lastID. Equal values are a no-op; lower
// values fail with ErrRegression and change nothing.
func (c *Cursor) Advance(ctx context.Context, lastID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if lastID < c.watermark {
		return fmt.Errorf("%w: %d < %d", ErrRegression, lastID, c.watermark)
	}
	if lastID == c.watermark {
		return nil
	}
	if err := c.marks.Save(ctx, lastID); err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	c.watermark = lastID
	return nil
}
