package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	vertical   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS records (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	vertical_id TEXT NOT NULL DEFAULT '',
	excluded    INTEGER NOT NULL DEFAULT 0,
	data        TEXT NOT NULL,
	last_seen   TEXT NOT NULL DEFAULT '',
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS cardinalities (
	run_id TEXT NOT NULL,
	name   TEXT NOT NULL,
	count  INTEGER NOT NULL,
	min    REAL NOT NULL,
	max    REAL NOT NULL,
	avg    REAL NOT NULL,
	sum    REAL NOT NULL,
	PRIMARY KEY (run_id, name)
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	product_id   TEXT NOT NULL DEFAULT '',
	stage        TEXT NOT NULL,
	error        TEXT NOT NULL,
	category     TEXT NOT NULL,
	error_type   TEXT NOT NULL,
	observations TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_records_run_id ON records(run_id);
CREATE INDEX IF NOT EXISTS idx_records_vertical ON records(vertical_id);
CREATE INDEX IF NOT EXISTS idx_dlq_run_id ON dead_letter_queue(run_id);
CREATE INDEX IF NOT EXISTS idx_dlq_category ON dead_letter_queue(category);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Runs

func (s *SQLiteStore) CreateRun(ctx context.Context, vertical string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, vertical, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, vertical, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Vertical:  vertical,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, vertical, status, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, vertical, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Vertical != "" {
		query += ` AND vertical = ?`
		args = append(args, filter.Vertical)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// Records

// lastSeenLayout is fixed width so stored values compare as text.
const lastSeenLayout = "2006-01-02T15:04:05.000000000Z"

// SaveRecords upserts records. A record whose stored last_seen is newer
// than the incoming one is left untouched.
func (s *SQLiteStore) SaveRecords(ctx context.Context, runID string, records []*model.CanonicalRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save records")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (id, run_id, vertical_id, excluded, data, last_seen, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   run_id = excluded.run_id, vertical_id = excluded.vertical_id,
		   excluded = excluded.excluded, data = excluded.data,
		   last_seen = excluded.last_seen, updated_at = excluded.updated_at
		 WHERE records.last_seen <= excluded.last_seen`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare save records")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal record %s", rec.ID)
		}
		lastSeen := rec.LastSeen.UTC().Format(lastSeenLayout)
		if _, err := stmt.ExecContext(ctx, rec.ID, runID, rec.VerticalID, rec.Excluded, string(data), lastSeen, now); err != nil {
			return eris.Wrapf(err, "sqlite: save record %s", rec.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save records")
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.CanonicalRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "record %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	return decodeRecord([]byte(data))
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.CanonicalRecord, error) {
	query := `SELECT data FROM records WHERE 1=1`
	var args []any

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.VerticalID != "" {
		query += ` AND vertical_id = ?`
		args = append(args, filter.VerticalID)
	}
	if !filter.IncludeExcluded {
		query += ` AND excluded = 0`
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CanonicalRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		rec, err := decodeRecord([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

// Batch statistics

func (s *SQLiteStore) SaveCardinalities(ctx context.Context, runID string, cards map[string]model.Cardinality) error {
	if len(cards) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save cardinalities")
	}
	defer tx.Rollback() //nolint:errcheck

	for name, c := range cards {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cardinalities (run_id, name, count, min, max, avg, sum) VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(run_id, name) DO UPDATE SET
			   count = excluded.count, min = excluded.min, max = excluded.max, avg = excluded.avg, sum = excluded.sum`,
			runID, name, c.Count, c.Min, c.Max, c.Avg, c.Sum,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: save cardinality %s", name)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit cardinalities")
}

func (s *SQLiteStore) GetCardinalities(ctx context.Context, runID string) (map[string]model.Cardinality, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, count, min, max, avg, sum FROM cardinalities WHERE run_id = ?`, runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cardinalities")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]model.Cardinality)
	for rows.Next() {
		var name string
		var c model.Cardinality
		if err := rows.Scan(&name, &c.Count, &c.Min, &c.Max, &c.Avg, &c.Sum); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cardinality")
		}
		out[name] = c
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get cardinalities iterate")
}

// Dead letter queue

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entries []resilience.DLQEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin enqueue dlq")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, e := range entries {
		obsJSON, err := json.Marshal(e.Observations)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal dlq observations")
		}
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO dead_letter_queue
			 (id, run_id, product_id, stage, error, category, error_type, observations, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   error = excluded.error, category = excluded.category, error_type = excluded.error_type`,
			e.ID, e.RunID, e.ProductID, e.Stage, e.Error, string(e.Category), e.ErrorType,
			string(obsJSON), e.CreatedAt.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: enqueue dlq %s", e.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit dlq")
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, run_id, product_id, stage, error, category, error_type, observations, created_at
	          FROM dead_letter_queue WHERE 1=1`
	var args []any

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(filter.Category))
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close() //nolint:errcheck

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var obsJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.ProductID, &e.Stage, &e.Error,
			&e.Category, &e.ErrorType, &obsJSON, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		if obsJSON.Valid && obsJSON.String != "" {
			if err := json.Unmarshal([]byte(obsJSON.String), &e.Observations); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal dlq observations")
			}
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: remove dlq %s", id)
	}
	return checkRowsAffected(res, "dlq_entry", id)
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.Vertical, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}

func decodeRecord(data []byte) (*model.CanonicalRecord, error) {
	rec := &model.CanonicalRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal record")
	}
	return rec, nil
}
