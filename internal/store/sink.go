package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/psyclass/internal/model"
)

// SinkConfig configures result persistence
type SinkConfig struct {
	Table       string
	MaxAttempts int           // Transactions tried per batch
	RetryDelay  time.Duration // Pause between transient failures
	ChunkSize   int           // Rows per INSERT statement
}

// DefaultSinkConfig returns the default retry policy
func DefaultSinkConfig(table string) SinkConfig {
	return SinkConfig{
		Table:       table,
		MaxAttempts: 3,
		RetryDelay:  2 * time.Second,
		ChunkSize:   200,
	}
}

// Sink writes result rows. A batch is committed whole or not at all.
type Sink struct {
	db     *DB
	cfg    SinkConfig
	insert string
	sleep  func(context.Context, time.Duration) error
	logger *zap.Logger
}

// NewSink creates a sink writing to cfg.Table
func NewSink(db *DB, cfg SinkConfig, logger *zap.Logger) (*Sink, error) {
	if err := ValidateTable(cfg.Table); err != nil {
		return nil, err
	}
	def := DefaultSinkConfig(cfg.Table)
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sink{
		db:  db,
		cfg: cfg,
		insert: fmt.Sprintf(`INSERT INTO %s (id, ip, text, topics, reposts_count, comments_count,
	attitudes_count, created_at, measure, value, negativity)
VALUES (:id, :ip, :text, :topics, :reposts_count, :comments_count,
	:attitudes_count, :created_at, :measure, :value, :negativity)`, cfg.Table),
		sleep:  sleepContext,
		logger: logger.Named("sink"),
	}, nil
}

// Persist commits rows in one transaction. Lock timeouts and deadlocks roll
// back and retry up to MaxAttempts; any other failure is returned at once.
// Failures are *PersistenceError.
func (s *Sink) Persist(ctx context.Context, rows []model.PersistedRow) error {
	if len(rows) == 0 {
		return nil
	}

	for attempt := 1; ; attempt++ {
		err := s.persistOnce(ctx, rows)
		if err == nil {
			if attempt > 1 {
				s.logger.Info("batch committed after retry",
					zap.Int("attempt", attempt),
					zap.Int("rows", len(rows)))
			}
			return nil
		}

		if !IsTransient(err) {
			return &PersistenceError{Attempts: attempt, Err: err}
		}
		if attempt >= s.cfg.MaxAttempts {
			return &PersistenceError{Attempts: attempt, Transient: true, Exhausted: true, Err: err}
		}

		s.logger.Warn("transient database error, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.cfg.MaxAttempts),
			zap.Duration("delay", s.cfg.RetryDelay),
			zap.Error(err))
		if serr := s.sleep(ctx, s.cfg.RetryDelay); serr != nil {
			return &PersistenceError{Attempts: attempt, Transient: true, Err: serr}
		}
	}
}

func (s *Sink) persistOnce(ctx context.Context, rows []model.PersistedRow) (err error) {
	tx, err := s.db.x.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for start := 0; start < len(rows); start += s.cfg.ChunkSize {
		end := min(start+s.cfg.ChunkSize, len(rows))
		if _, err = tx.NamedExecContext(ctx, s.insert, rows[start:end]); err != nil {
			return fmt.Errorf("insert into %s: %w", s.cfg.Table, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
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
