// Package pipeline drives the fetch, classify, persist, advance cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/psyclass/internal/cache"
	"github.com/ppiankov/psyclass/internal/mapper"
	"github.com/ppiankov/psyclass/internal/model"
	"github.com/ppiankov/psyclass/internal/oracle"
	"github.com/ppiankov/psyclass/internal/store"
)

// ErrBlocked stops a run under the block policy when a record could not be
// classified. The watermark sits just before that record.
var ErrBlocked = errors.New("blocked on unclassifiable record")

// Classifier scores one query
type Classifier interface {
	Classify(ctx context.Context, q model.Query) (model.Scores, error)
}

// Sink commits a batch of rows atomically
type Sink interface {
	Persist(ctx context.Context, rows []model.PersistedRow) error
}

// Cursor pages upstream records after a watermark
type Cursor interface {
	NextBatch(ctx context.Context, size int) ([]model.UpstreamRecord, error)
	Advance(ctx context.Context, lastID int64) error
	Watermark() int64
}

// Config controls the batch loop
type Config struct {
	BatchSize    int
	IdleDelay    time.Duration // Between non-empty cycles
	EmptyBackoff time.Duration // After a cycle that found nothing
	SkipPolicy   string        // model.SkipPolicyAdvance or model.SkipPolicyBlock
}

// ConfigFromModel converts model.PipelineConfig to pipeline.Config
func ConfigFromModel(m model.PipelineConfig) Config {
	return Config{
		BatchSize:    m.BatchSize,
		IdleDelay:    m.IdleDelay,
		EmptyBackoff: m.EmptyBackoff,
		SkipPolicy:   m.SkipPolicy,
	}
}

// Deps are the collaborators of a Driver. Memo and Logger are optional.
type Deps struct {
	Cursor     Cursor
	Classifier Classifier
	Sink       Sink
	Memo       *cache.Memo
	Logger     *zap.Logger
}

// Stats summarizes a run
type Stats struct {
	Cycles      int
	Records     int // Records handled, classified or skipped
	Classified  int
	Skipped     int
	MemoHits    int
	RowsWritten int
	Watermark   int64
}

// Driver runs batch cycles with a single in-flight classification
type Driver struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

// New validates deps and cfg
func New(deps Deps, cfg Config) (*Driver, error) {
	if deps.Cursor == nil || deps.Classifier == nil || deps.Sink == nil {
		return nil, fmt.Errorf("pipeline: cursor, classifier and sink are required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("pipeline: batch size must be positive, got %d", cfg.BatchSize)
	}
	switch cfg.SkipPolicy {
	case "":
		cfg.SkipPolicy = model.SkipPolicyAdvance
	case model.SkipPolicyAdvance, model.SkipPolicyBlock:
	default:
		return nil, fmt.Errorf("pipeline: unknown skip policy %q (supported: advance, block)", cfg.SkipPolicy)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("pipeline"),
		sleep:  sleepContext,
	}, nil
}

// Run executes up to iterations cycles. Cancelling ctx stops the run after
// the record in flight; the classified prefix of that batch is still
// persisted and the watermark advanced over it. Interruption is not an error.
func (d *Driver) Run(ctx context.Context, iterations int) (Stats, error) {
	var stats Stats
	logger := d.logger.With(zap.String("run_id", uuid.NewString()))
	logger.Info("run started",
		zap.Int("iterations", iterations),
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.String("skip_policy", d.cfg.SkipPolicy),
		zap.Int64("watermark", d.deps.Cursor.Watermark()))

	for i := 0; i < iterations && ctx.Err() == nil; i++ {
		n, err := d.cycle(ctx, logger, &stats)
		stats.Cycles++
		if err != nil {
			stats.Watermark = d.deps.Cursor.Watermark()
			return stats, err
		}
		if i == iterations-1 {
			break
		}

		delay := d.cfg.IdleDelay
		if n == 0 {
			delay = d.cfg.EmptyBackoff
		}
		if err := d.sleep(ctx, delay); err != nil {
			break
		}
	}

	stats.Watermark = d.deps.Cursor.Watermark()
	if ctx.Err() != nil {
		logger.Info("run interrupted", zap.Int("cycles", stats.Cycles), zap.Int64("watermark", stats.Watermark))
	} else {
		logger.Info("run finished", zap.Int("cycles", stats.Cycles), zap.Int64("watermark", stats.Watermark))
	}
	return stats, nil
}

// cycle processes one batch and returns how many records were fetched
func (d *Driver) cycle(ctx context.Context, logger *zap.Logger, stats *Stats) (int, error) {
	batch, err := d.deps.Cursor.NextBatch(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("next batch: %w", err)
	}
	if len(batch) == 0 {
		logger.Debug("no new records", zap.Int64("watermark", d.deps.Cursor.Watermark()))
		return 0, nil
	}

	// Work already started is finished even if ctx is cancelled meanwhile
	work := context.WithoutCancel(ctx)

	var (
		rows      []model.PersistedRow
		done      int // Length of the handled prefix of batch
		skipped   int
		blockedID int64
	)
	for _, rec := range batch {
		if ctx.Err() != nil {
			break
		}

		scores, err := d.classify(work, logger, rec, stats)
		if err != nil {
			if !errors.Is(err, oracle.ErrMalformedOutput) {
				logger.Error("classification failed",
					zap.Int64("record_id", rec.ID),
					zap.String("error_class", "backend"),
					zap.Error(err))
				return len(batch), fmt.Errorf("classify record %d: %w", rec.ID, err)
			}

			stats.Skipped++
			logger.Warn("skipping unclassifiable record",
				zap.Int64("record_id", rec.ID),
				zap.String("error_class", "malformed_output"),
				zap.Error(err))
			if d.cfg.SkipPolicy == model.SkipPolicyBlock {
				blockedID = rec.ID
				break
			}
			skipped++
			done++
			continue
		}

		recRows, err := mapper.Expand(rec, scores)
		if err != nil {
			return len(batch), err
		}
		rows = append(rows, recRows...)
		stats.Classified++
		done++
	}
	stats.Records += done

	if err := d.deps.Sink.Persist(work, rows); err != nil {
		fields := []zap.Field{
			zap.Int64("first_id", batch[0].ID),
			zap.Int64("last_id", batch[len(batch)-1].ID),
			zap.Int("rows", len(rows)),
			zap.String("error_class", persistErrorClass(err)),
			zap.Error(err),
		}
		var perr *store.PersistenceError
		if errors.As(err, &perr) {
			fields = append(fields,
				zap.Int("attempt", perr.Attempts),
				zap.Bool("transient", perr.Transient))
		}
		logger.Error("persisting batch failed, watermark not advanced", fields...)
		return len(batch), fmt.Errorf("persist batch: %w", err)
	}
	stats.RowsWritten += len(rows)

	if done > 0 {
		if err := d.deps.Cursor.Advance(work, batch[done-1].ID); err != nil {
			return len(batch), fmt.Errorf("advance watermark: %w", err)
		}
	}

	logger.Info("batch committed",
		zap.Int("records", done),
		zap.Int("rows", len(rows)),
		zap.Int("skipped", skipped),
		zap.Int64("watermark", d.deps.Cursor.Watermark()))

	if blockedID != 0 {
		return len(batch), fmt.Errorf("record %d: %w", blockedID, ErrBlocked)
	}
	return len(batch), nil
}

// classify consults the memo before the classifier
func (d *Driver) classify(ctx context.Context, logger *zap.Logger, rec model.UpstreamRecord, stats *Stats) (model.Scores, error) {
	q := model.QueryFor(rec)
	if scores, ok := d.deps.Memo.Lookup(q); ok {
		stats.MemoHits++
		logger.Debug("memo hit", zap.Int64("record_id", rec.ID))
		return scores, nil
	}

	scores, err := d.deps.Classifier.Classify(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := d.deps.Memo.Remember(q, scores); err != nil {
		logger.Warn("memo store failed", zap.Int64("record_id", rec.ID), zap.Error(err))
	}
	return scores, nil
}

// persistErrorClass labels a persistence failure for operators
func persistErrorClass(err error) string {
	switch {
	case store.IsDuplicate(err):
		return "duplicate_key"
	case store.IsTransient(err):
		return "transient"
	default:
		return "fatal"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
