package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ppiankov/psyclass/internal/cache"
	"github.com/ppiankov/psyclass/internal/cursor"
	"github.com/ppiankov/psyclass/internal/llm"
	"github.com/ppiankov/psyclass/internal/model"
	"github.com/ppiankov/psyclass/internal/oracle"
	"github.com/ppiankov/psyclass/internal/store"
)

const (
	idleDelay    = 2 * time.Second
	emptyBackoff = 30 * time.Second
)

// env is a SQLite upstream and results store with a file watermark
type env struct {
	db       *store.DB
	upstream *store.Upstream
	sink     *store.Sink
	cursor   *cursor.Cursor
	wmPath   string
}

func newEnv(t *testing.T, recs ...model.UpstreamRecord) *env {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := store.Open(ctx, "sqlite", filepath.Join(dir, "psyclass.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(ctx, "analysis_results"))
	require.NoError(t, db.EnsureUpstream(ctx, "weibo"))

	upstream, err := store.NewUpstream(db, "weibo")
	require.NoError(t, err)
	require.NoError(t, upstream.Insert(ctx, recs...))

	sink, err := store.NewSink(db, store.DefaultSinkConfig("analysis_results"), zaptest.NewLogger(t))
	require.NoError(t, err)

	e := &env{db: db, upstream: upstream, sink: sink, wmPath: filepath.Join(dir, "last_processed_id.txt")}
	e.reopenCursor(t)
	return e
}

// reopenCursor simulates a process restart
func (e *env) reopenCursor(t *testing.T) {
	t.Helper()
	c, err := cursor.Open(context.Background(), e.upstream, cursor.NewFileStore(e.wmPath))
	require.NoError(t, err)
	e.cursor = c
}

// driver builds a driver whose sleeps are recorded instead of taken
func (e *env) driver(t *testing.T, clf Classifier, cfg Config, memo *cache.Memo) (*Driver, *[]time.Duration) {
	t.Helper()
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2
	}
	cfg.IdleDelay, cfg.EmptyBackoff = idleDelay, emptyBackoff

	d, err := New(Deps{Cursor: e.cursor, Classifier: clf, Sink: e.sink, Memo: memo, Logger: zaptest.NewLogger(t)}, cfg)
	require.NoError(t, err)

	var sleeps []time.Duration
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		sleeps = append(sleeps, dur)
		return ctx.Err()
	}
	return d, &sleeps
}

type resultRow struct {
	ID         int64  `db:"id"`
	Measure    string `db:"measure"`
	Value      int    `db:"value"`
	Negativity int    `db:"negativity"`
}

func (e *env) results(t *testing.T) []resultRow {
	t.Helper()
	var rows []resultRow
	require.NoError(t, e.db.X().Select(&rows, "SELECT id, measure, value, negativity FROM analysis_results ORDER BY id, measure"))
	return rows
}

func (e *env) savedWatermark(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(e.wmPath)
	if errors.Is(err, os.ErrNotExist) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func record(id int64, title, comment string) model.UpstreamRecord {
	return model.UpstreamRecord{
		ID:        id,
		Text:      comment,
		Topics:    sql.NullString{String: title, Valid: title != ""},
		CreatedAt: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func scoresWith(neg int, set map[model.Dimension]int) model.Scores {
	s := model.Scores{}
	for _, d := range model.Dimensions() {
		s[d] = 0
	}
	for d, v := range set {
		s[d] = v
	}
	s[model.DimNegativity] = neg
	return s
}

// chatBackend answers priming with an acknowledgement and queries with reply
type chatBackend struct {
	reply func(query string) string
}

func (b *chatBackend) Name() string { return "chat" }

func (b *chatBackend) Converse(_ context.Context, turns []llm.Turn) llm.Stream {
	if len(turns) == 1 {
		return llm.TextStream("好的，我明白了。")
	}
	return llm.TextStream(b.reply(turns[len(turns)-1].Content))
}

func newOracle(t *testing.T, reply func(query string) string) *oracle.Oracle {
	t.Helper()
	o, err := oracle.New(context.Background(), &chatBackend{reply: reply}, oracle.DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return o
}

// stubClassifier answers from fn and records queries
type stubClassifier struct {
	fn    func(q model.Query) (model.Scores, error)
	calls []model.Query
}

func (s *stubClassifier) Classify(_ context.Context, q model.Query) (model.Scores, error) {
	s.calls = append(s.calls, q)
	return s.fn(q)
}

func malformed() error {
	return &oracle.MalformedError{Attempts: 3, Raw: "无法判断", Err: errors.New("no JSON object in reply")}
}

func TestRun_EndToEnd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, record(1, "T1", "C1"), record(2, "T2", "C2"))

	want := scoresWith(3, map[model.Dimension]int{model.DimNeurotic: 2})
	reply, err := json.Marshal(want)
	require.NoError(t, err)
	o := newOracle(t, func(string) string { return "分析结果如下：\n```json\n" + string(reply) + "\n```" })

	d, _ := e.driver(t, o, Config{BatchSize: 2}, nil)
	stats, err := d.Run(ctx, 1)
	require.NoError(t, err)

	rows := e.results(t)
	require.Len(t, rows, 20)
	for _, r := range rows {
		require.Equal(t, 3, r.Negativity)
		require.NotEqual(t, string(model.DimNegativity), r.Measure)
		if r.Measure == string(model.DimNeurotic) {
			require.Equal(t, 2, r.Value)
		} else {
			require.Equal(t, 0, r.Value, r.Measure)
		}
	}

	require.Equal(t, int64(2), e.cursor.Watermark())
	require.Equal(t, "2", e.savedWatermark(t))
	require.Equal(t, Stats{Cycles: 1, Records: 2, Classified: 2, RowsWritten: 20, Watermark: 2}, stats)

	next, err := e.cursor.NextBatch(ctx, 2)
	require.NoError(t, err)
	require.Empty(t, next)
}

func TestRun_SkipsMalformedAndAdvances(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, record(1, "T1", "C1"), record(2, "T2", "C2"))

	good, err := json.Marshal(scoresWith(1, nil))
	require.NoError(t, err)
	o := newOracle(t, func(query string) string {
		if strings.Contains(query, `"C2"`) {
			return "抱歉，我无法对这条评论进行评分。"
		}
		return string(good)
	})

	d, _ := e.driver(t, o, Config{BatchSize: 2}, nil)
	stats, err := d.Run(ctx, 1)
	require.NoError(t, err)

	rows := e.results(t)
	require.Len(t, rows, 10)
	for _, r := range rows {
		require.Equal(t, int64(1), r.ID)
	}
	require.Equal(t, int64(2), e.cursor.Watermark())
	require.Equal(t, 1, stats.Skipped)
	require.Equal(t, 1, stats.Classified)
	require.Equal(t, 2, stats.Records)
}

func TestRun_BlockPolicyStopsBeforeMalformed(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, record(1, "T", "a"), record(2, "T", "b"), record(3, "T", "c"))

	clf := &stubClassifier{fn: func(q model.Query) (model.Scores, error) {
		if q.Comment == "b" {
			return nil, malformed()
		}
		return scoresWith(2, nil), nil
	}}
	d, _ := e.driver(t, clf, Config{BatchSize: 3, SkipPolicy: model.SkipPolicyBlock}, nil)

	stats, err := d.Run(ctx, 5)
	require.ErrorIs(t, err, ErrBlocked)
	require.Equal(t, int64(1), stats.Watermark)
	require.Equal(t, 1, stats.Cycles)
	require.Len(t, e.results(t), 10)
	require.Len(t, clf.calls, 2, "records after the blocked one are not classified")

	// Still blocked on the next run, without new rows
	_, err = d.Run(ctx, 1)
	require.ErrorIs(t, err, ErrBlocked)
	require.Equal(t, int64(1), e.cursor.Watermark())
	require.Len(t, e.results(t), 10)
}

func TestRun_PersistenceFailureKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, record(1, "T", "a"), record(2, "T", "b"))

	// A stray result for record 2 makes the batch collide
	_, err := e.db.X().ExecContext(ctx, `INSERT INTO analysis_results
	(id, text, created_at, measure, value, negativity) VALUES (2, 'b', '2024-06-01 09:00:00', ?, 0, 0)`,
		string(model.ClinicalDimensions()[0]))
	require.NoError(t, err)

	clf := &stubClassifier{fn: func(model.Query) (model.Scores, error) { return scoresWith(1, nil), nil }}
	d, _ := e.driver(t, clf, Config{BatchSize: 2}, nil)

	_, err = d.Run(ctx, 3)
	require.ErrorIs(t, err, store.ErrPersistence)
	require.Equal(t, int64(0), e.cursor.Watermark())
	require.Empty(t, e.savedWatermark(t))
	require.Len(t, e.results(t), 1, "nothing from the failed batch is visible")

	// Once the collision is resolved the same batch goes through whole
	_, err = e.db.X().ExecContext(ctx, `DELETE FROM analysis_results`)
	require.NoError(t, err)
	e.reopenCursor(t)
	d, _ = e.driver(t, clf, Config{BatchSize: 2}, nil)
	stats, err := d.Run(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Watermark)
	require.Len(t, e.results(t), 20)
}

func TestRun_BackendErrorKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, record(1, "T", "a"), record(2, "T", "b"))

	clf := &stubClassifier{fn: func(q model.Query) (model.Scores, error) {
		if q.Comment == "b" {
			return nil, errors.New("dial tcp: connection refused")
		}
		return scoresWith(1, nil), nil
	}}
	d, _ := e.driver(t, clf, Config{BatchSize: 2}, nil)

	_, err := d.Run(ctx, 1)
	require.Error(t, err)
	require.NotErrorIs(t, err, oracle.ErrMalformedOutput)
	require.Equal(t, int64(0), e.cursor.Watermark())
	require.Empty(t, e.results(t))
}

func TestRun_InterruptFinishesClassifiedPrefix(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newEnv(t, record(1, "T", "a"), record(2, "T", "b"), record(3, "T", "c"))

	clf := &stubClassifier{fn: func(model.Query) (model.Scores, error) {
		cancel()
		return scoresWith(4, nil), nil
	}}
	d, sleeps := e.driver(t, clf, Config{BatchSize: 3}, nil)

	stats, err := d.Run(ctx, 10)
	require.NoError(t, err)
	require.Len(t, clf.calls, 1)
	require.Equal(t, int64(1), stats.Watermark)
	require.Equal(t, "1", e.savedWatermark(t))
	require.Len(t, e.results(t), 10)
	require.Equal(t, 1, stats.Cycles)
	require.LessOrEqual(t, len(*sleeps), 1)
}

func TestRun_BacksOffOnEmptyBatch(t *testing.T) {
	e := newEnv(t)
	clf := &stubClassifier{fn: func(model.Query) (model.Scores, error) { return scoresWith(0, nil), nil }}
	d, sleeps := e.driver(t, clf, Config{}, nil)

	stats, err := d.Run(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Cycles)
	require.Equal(t, []time.Duration{emptyBackoff, emptyBackoff}, *sleeps)
	require.Empty(t, clf.calls)
}

func TestRun_MultipleCycles(t *testing.T) {
	e := newEnv(t,
		record(1, "T", "a"), record(2, "T", "b"), record(3, "T", "c"),
		record(4, "T", "d"), record(5, "T", "e"))
	clf := &stubClassifier{fn: func(model.Query) (model.Scores, error) { return scoresWith(1, nil), nil }}
	d, sleeps := e.driver(t, clf, Config{BatchSize: 2}, nil)

	stats, err := d.Run(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, int64(5), stats.Watermark)
	require.Equal(t, 5, stats.Classified)
	require.Equal(t, 50, stats.RowsWritten)
	require.Len(t, e.results(t), 50)
	require.Equal(t, []time.Duration{idleDelay, idleDelay, idleDelay, emptyBackoff}, *sleeps)
}

func TestRun_MemoReusesScores(t *testing.T) {
	e := newEnv(t, record(1, "T", "转发微博"), record(2, "T", "转发微博"))
	clf := &stubClassifier{fn: func(model.Query) (model.Scores, error) { return scoresWith(2, nil), nil }}
	memo := cache.NewMemo(cache.NewMemoryCache(time.Hour, time.Hour), 0)
	d, _ := e.driver(t, clf, Config{BatchSize: 2}, memo)

	stats, err := d.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, clf.calls, 1)
	require.Equal(t, 1, stats.MemoHits)
	require.Equal(t, 2, stats.Classified)
	require.Len(t, e.results(t), 20)
}

func TestNew_Validates(t *testing.T) {
	e := newEnv(t)
	clf := &stubClassifier{}

	_, err := New(Deps{Cursor: e.cursor, Sink: e.sink}, Config{BatchSize: 1})
	require.Error(t, err)
	_, err = New(Deps{Cursor: e.cursor, Classifier: clf, Sink: e.sink}, Config{BatchSize: 0})
	require.Error(t, err)
	_, err = New(Deps{Cursor: e.cursor, Classifier: clf, Sink: e.sink}, Config{BatchSize: 1, SkipPolicy: "ignore"})
	require.Error(t, err)

	d, err := New(Deps{Cursor: e.cursor, Classifier: clf, Sink: e.sink}, Config{BatchSize: 1})
	require.NoError(t, err)
	require.Equal(t, model.SkipPolicyAdvance, d.cfg.SkipPolicy)
}

func TestRun_LogsDuplicateKeyClass(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, record(1, "T", "a"))

	_, err := e.db.X().ExecContext(ctx, `INSERT INTO analysis_results
	(id, text, created_at, measure, value, negativity) VALUES (1, 'a', '2024-06-01 09:00:00', ?, 0, 0)`,
		string(model.ClinicalDimensions()[3]))
	require.NoError(t, err)

	core, logs := observer.New(zap.ErrorLevel)
	clf := &stubClassifier{fn: func(model.Query) (model.Scores, error) { return scoresWith(1, nil), nil }}
	d, err := New(Deps{Cursor: e.cursor, Classifier: clf, Sink: e.sink, Logger: zap.New(core)}, Config{BatchSize: 1})
	require.NoError(t, err)
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	_, err = d.Run(ctx, 1)
	require.True(t, store.IsDuplicate(err))

	entries := logs.FilterMessage("persisting batch failed, watermark not advanced").All()
	require.Len(t, entries, 1)
	require.Equal(t, "duplicate_key", entries[0].ContextMap()["error_class"])
}

func TestPersistErrorClass(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"duplicate key", &store.PersistenceError{Attempts: 1, Err: &mysql.MySQLError{Number: 1062}}, "duplicate_key"},
		{"lock wait timeout", &store.PersistenceError{Attempts: 3, Transient: true, Exhausted: true, Err: &mysql.MySQLError{Number: 1205}}, "transient"},
		{"deadlock", &mysql.MySQLError{Number: 1213}, "transient"},
		{"missing table", errors.New("no such table: analysis_results"), "fatal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, persistErrorClass(tt.err))
		})
	}
}
