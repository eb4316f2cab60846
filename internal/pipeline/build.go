package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ppiankov/psyclass/internal/cache"
	"github.com/ppiankov/psyclass/internal/cursor"
	"github.com/ppiankov/psyclass/internal/llm"
	"github.com/ppiankov/psyclass/internal/model"
	"github.com/ppiankov/psyclass/internal/oracle"
	"github.com/ppiankov/psyclass/internal/store"
)

// Runtime is a fully wired driver and the resources it holds open
type Runtime struct {
	Driver *Driver
	Oracle *oracle.Oracle
	Cursor *cursor.Cursor
	DB     *store.DB

	closers []func() error
}

// Close releases everything FromConfig opened
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewOracle builds the configured backend and primes a conversation on it.
// The returned func closes the backend.
func NewOracle(ctx context.Context, cfg *model.Config, logger *zap.Logger) (*oracle.Oracle, func() error, error) {
	backend, err := llm.NewBackend(ctx, llm.ConfigFromModel(cfg.LLM))
	if err != nil {
		return nil, nil, fmt.Errorf("create backend: %w", err)
	}
	backend = llm.Limited(backend, cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)
	closeBackend := func() error {
		if c, ok := backend.(io.Closer); ok {
			return c.Close()
		}
		return nil
	}

	o, err := oracle.New(ctx, backend, oracle.Config{
		ResetAfter:  cfg.Oracle.ResetAfter,
		MaxAttempts: cfg.Oracle.MaxAttempts,
	}, logger)
	if err != nil {
		_ = closeBackend()
		return nil, nil, err
	}
	return o, closeBackend, nil
}

// FromConfig opens the database, loads the watermark and primes the model.
// Any failure here is a startup failure.
func FromConfig(ctx context.Context, cfg *model.Config, logger *zap.Logger) (_ *Runtime, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &Runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, err
	}
	rt.DB = db
	rt.closers = append(rt.closers, db.Close)

	if cfg.Database.EnsureSchema {
		if err := db.EnsureSchema(ctx, cfg.Database.ResultsTable); err != nil {
			return nil, err
		}
	}

	upstream, err := store.NewUpstream(db, cfg.Database.UpstreamTable)
	if err != nil {
		return nil, err
	}
	sink, err := store.NewSink(db, store.SinkConfig{
		Table:       cfg.Database.ResultsTable,
		MaxAttempts: cfg.Database.MaxAttempts,
		RetryDelay:  cfg.Database.RetryDelay,
	}, logger)
	if err != nil {
		return nil, err
	}

	marks, err := watermarkStore(cfg.Watermark, db)
	if err != nil {
		return nil, err
	}
	cur, err := cursor.Open(ctx, upstream, marks)
	if err != nil {
		return nil, err
	}
	rt.Cursor = cur

	o, closeBackend, err := NewOracle(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.Oracle = o
	rt.closers = append(rt.closers, closeBackend)

	var memo *cache.Memo
	if cfg.Cache.Enabled {
		memo = cache.NewMemo(cache.NewMemoryCache(cfg.Cache.TTL, cfg.Cache.CleanupInterval), 0)
	}

	driver, err := New(Deps{
		Cursor:     cur,
		Classifier: o,
		Sink:       sink,
		Memo:       memo,
		Logger:     logger,
	}, ConfigFromModel(cfg.Pipeline))
	if err != nil {
		return nil, err
	}
	rt.Driver = driver
	return rt, nil
}

func watermarkStore(cfg model.WatermarkConfig, db *store.DB) (cursor.WatermarkStore, error) {
	switch cfg.Backend {
	case "", "file":
		if cfg.Path == "" {
			return nil, fmt.Errorf("watermark path is required for the file backend")
		}
		return cursor.NewFileStore(cfg.Path), nil
	case "database", "db":
		return store.NewWatermarkStore(db, cfg.Name)
	default:
		return nil, fmt.Errorf("unknown watermark backend %q (supported: file, database)", cfg.Backend)
	}
}
