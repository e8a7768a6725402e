package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/plangate/internal/logger"
	"github.com/harrison/plangate/internal/models"
)

// Index is a SQLite read model of the metrics log. It can be deleted at any
// time and is rebuilt from the log on the next Ingest.
type Index struct {
	db     *sql.DB
	path   string
	logger logger.Logger
}

// Stats summarizes indexed events.
type Stats struct {
	Since                  time.Time          `json:"since,omitempty"`
	Events                 map[string]int     `json:"events"`
	Decisions              map[string]int     `json:"decisions"`
	AvgComplexityByStack   map[string]float64 `json:"avg_complexity_by_stack"`
	Failsafes              int                `json:"failsafes"`
	Escalations            int                `json:"escalations"`
	Outcomes               int                `json:"outcomes"`
	HumanOverrides         int                `json:"human_overrides"`
	HumanOverrideRate      float64            `json:"human_override_rate"`
	MeanOutcomeDurationSec float64            `json:"mean_outcome_duration_seconds"`
}

// OpenIndex opens or creates the index at path. ":memory:" keeps it in
// memory.
func OpenIndex(path string, log logger.Logger) (*Index, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	// One connection: keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	x := &Index{db: db, path: path, logger: logger.OrNop(log)}
	if err := x.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return x, nil
}

// execWithRetry executes a statement with exponential backoff on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection
func (x *Index) Close() error {
	if x.db != nil {
		return x.db.Close()
	}
	return nil
}

// Ingest reads the log at logPath from the stored offset and indexes every
// complete new event. Events and offset are stored in one transaction. A
// log shorter than the stored offset was replaced, so its events are
// indexed again from the start. Returns the number of events added.
func (x *Index) Ingest(ctx context.Context, logPath string) (int, error) {
	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, &models.PersistenceError{Op: "open metrics log", Path: logPath, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, &models.PersistenceError{Op: "stat metrics log", Path: logPath, Err: err}
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback()

	offset, err := fileOffsetTx(ctx, tx, logPath)
	if err != nil {
		return 0, err
	}
	if offset > info.Size() {
		x.logger.LogWarn(fmt.Sprintf("metrics log %s shrank below the indexed offset, re-indexing", logPath))
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE source = ?`, logPath); err != nil {
			return 0, fmt.Errorf("clear events: %w", err)
		}
		offset = 0
	}

	insert, err := tx.PrepareContext(ctx, `INSERT INTO events
		(source, kind, task_id, ts, stack, score, decision, stage, status, human_override, duration_seconds, failsafe, escalated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()

	source := logPath
	if offset > 0 {
		source = fmt.Sprintf("%s (from byte %d)", logPath, offset)
	}

	added := 0
	end, err := scanEvents(f, offset, source, x.logger, false, func(_ int64, ev models.MetricsEvent) error {
		cols := columnsOf(ev)
		if _, err := insert.ExecContext(ctx, logPath, string(ev.Kind), ev.TaskID, ev.Timestamp.UnixNano(),
			cols.stack, cols.score, cols.decision, cols.stage, cols.status, cols.override, cols.duration,
			cols.failsafe, cols.escalated); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		added++
		return nil
	})
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO ingest_offsets
		(file_path, byte_offset, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`, logPath, end); err != nil {
		return 0, fmt.Errorf("set file offset: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit ingest: %w", err)
	}

	if added > 0 {
		x.logger.LogDebug(fmt.Sprintf("indexed %d metrics event(s) from %s", added, logPath))
	}
	return added, nil
}

// Rebuild drops everything indexed from logPath and ingests it again.
func (x *Index) Rebuild(ctx context.Context, logPath string) (int, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rebuild: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE source = ?`, logPath); err != nil {
		return 0, fmt.Errorf("clear events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ingest_offsets WHERE file_path = ?`, logPath); err != nil {
		return 0, fmt.Errorf("delete file offset: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rebuild: %w", err)
	}
	return x.Ingest(ctx, logPath)
}

func fileOffsetTx(ctx context.Context, tx *sql.Tx, logPath string) (int64, error) {
	var offset int64
	err := tx.QueryRowContext(ctx, `SELECT byte_offset FROM ingest_offsets WHERE file_path = ?`, logPath).Scan(&offset)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query file offset: %w", err)
	}
	return offset, nil
}

// eventColumns holds the kind-specific columns of one events row.
type eventColumns struct {
	stack, decision, stage, status sql.NullString
	score, duration                sql.NullFloat64
	override, failsafe, escalated  bool
}

func columnsOf(ev models.MetricsEvent) eventColumns {
	var r eventColumns
	switch {
	case ev.Complexity != nil:
		r.stack = nullString(ev.Complexity.Stack)
		r.score = sql.NullFloat64{Float64: ev.Complexity.Score, Valid: true}
		r.failsafe = ev.Complexity.Failsafe
	case ev.Decision != nil:
		r.stack = nullString(ev.Decision.Stack)
		r.score = sql.NullFloat64{Float64: ev.Decision.Score, Valid: true}
		r.decision = nullString(string(ev.Decision.Decision))
		r.stage = nullString(string(ev.Decision.Stage))
		r.escalated = ev.Decision.Escalated
	case ev.Outcome != nil:
		r.decision = nullString(string(ev.Outcome.Decision))
		r.status = nullString(ev.Outcome.Status)
		r.override = ev.Outcome.HumanOverride
		if ev.Outcome.DurationSeconds > 0 {
			r.duration = sql.NullFloat64{Float64: ev.Outcome.DurationSeconds, Valid: true}
		}
	}
	return r
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Stats aggregates the events indexed at or after since. A zero since
// covers everything.
func (x *Index) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	from := int64(math.MinInt64)
	if !since.IsZero() {
		from = since.UnixNano()
	}

	stats := &Stats{
		Since:                since,
		Events:               map[string]int{},
		Decisions:            map[string]int{},
		AvgComplexityByStack: map[string]float64{},
	}

	if err := x.countBy(ctx, `SELECT kind, COUNT(*) FROM events WHERE ts >= ? GROUP BY kind`, from, stats.Events); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	if err := x.countBy(ctx, `SELECT decision, COUNT(*) FROM events
		WHERE kind = 'decision' AND ts >= ? GROUP BY decision`, from, stats.Decisions); err != nil {
		return nil, fmt.Errorf("count decisions: %w", err)
	}

	rows, err := x.db.QueryContext(ctx, `SELECT COALESCE(stack, ''), AVG(score) FROM events
		WHERE kind = 'complexity' AND ts >= ? GROUP BY COALESCE(stack, '')`, from)
	if err != nil {
		return nil, fmt.Errorf("average complexity: %w", err)
	}
	for rows.Next() {
		var stack string
		var avg float64
		if err := rows.Scan(&stack, &avg); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan average complexity: %w", err)
		}
		if stack == "" {
			stack = "default"
		}
		stats.AvgComplexityByStack[stack] = math.Round(avg*100) / 100
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate average complexity: %w", err)
	}
	rows.Close()

	err = x.db.QueryRowContext(ctx, `SELECT
			COALESCE(SUM(CASE WHEN kind = 'complexity' AND failsafe THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'decision' AND escalated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'outcome' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'outcome' AND human_override THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN kind = 'outcome' THEN duration_seconds END), 0)
		FROM events WHERE ts >= ?`, from).Scan(
		&stats.Failsafes,
		&stats.Escalations,
		&stats.Outcomes,
		&stats.HumanOverrides,
		&stats.MeanOutcomeDurationSec,
	)
	if err != nil {
		return nil, fmt.Errorf("outcome stats: %w", err)
	}
	if stats.Outcomes > 0 {
		stats.HumanOverrideRate = math.Round(float64(stats.HumanOverrides)/float64(stats.Outcomes)*1000) / 1000
	}
	stats.MeanOutcomeDurationSec = math.Round(stats.MeanOutcomeDurationSec*10) / 10
	return stats, nil
}

func (x *Index) countBy(ctx context.Context, query string, from int64, into map[string]int) error {
	rows, err := x.db.QueryContext(ctx, query, from)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key sql.NullString
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key.String] = n
	}
	return rows.Err()
}
