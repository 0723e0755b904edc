package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/product-fusion/internal/db"
	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries prepared on each new connection.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, vertical, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"update_run_result": `UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, vertical, status, result, created_at, updated_at FROM runs WHERE id = $1`,
	"get_record":        `SELECT data FROM records WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	vertical   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS records (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	vertical_id TEXT NOT NULL DEFAULT '',
	excluded    BOOLEAN NOT NULL DEFAULT false,
	data        JSONB NOT NULL,
	last_seen   TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cardinalities (
	run_id TEXT NOT NULL,
	name   TEXT NOT NULL,
	count  BIGINT NOT NULL,
	min    DOUBLE PRECISION NOT NULL,
	max    DOUBLE PRECISION NOT NULL,
	avg    DOUBLE PRECISION NOT NULL,
	sum    DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, name)
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id       TEXT NOT NULL,
	product_id   TEXT NOT NULL DEFAULT '',
	stage        TEXT NOT NULL,
	error        TEXT NOT NULL,
	category     TEXT NOT NULL,
	error_type   TEXT NOT NULL,
	observations JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

ALTER TABLE records ADD COLUMN IF NOT EXISTS last_seen TIMESTAMPTZ;
ALTER TABLE records ADD COLUMN IF NOT EXISTS created_at TIMESTAMPTZ NOT NULL DEFAULT now();

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_records_run_id ON records(run_id);
CREATE INDEX IF NOT EXISTS idx_records_vertical ON records(vertical_id);
CREATE INDEX IF NOT EXISTS idx_dlq_run_id ON dead_letter_queue(run_id);
CREATE INDEX IF NOT EXISTS idx_dlq_category ON dead_letter_queue(category);
`

var (
	recordColumns      = []string{"id", "run_id", "vertical_id", "excluded", "data", "last_seen", "created_at", "updated_at"}
	cardinalityColumns = []string{"run_id", "name", "count", "min", "max", "avg", "sum"}
	dlqColumns         = []string{"id", "run_id", "product_id", "stage", "error", "category", "error_type", "observations", "created_at"}
)

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Runs

func (s *PostgresStore) CreateRun(ctx context.Context, vertical string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, vertical, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, vertical, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Vertical:  vertical,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, vertical, status, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, vertical, status, result, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Vertical != "" {
		query += fmt.Sprintf(` AND vertical = $%d`, argIdx)
		args = append(args, filter.Vertical)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// Records

func (s *PostgresStore) SaveRecords(ctx context.Context, runID string, records []*model.CanonicalRecord) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal record %s", rec.ID)
		}
		rows = append(rows, []any{rec.ID, runID, rec.VerticalID, rec.Excluded, data, rec.LastSeen.UTC(), now, now})
	}

	_, err := db.Merge(ctx, s.pool, db.MergeSpec{
		Table:    "records",
		Columns:  recordColumns,
		Key:      []string{"id"},
		Preserve: []string{"created_at"},
		Newer:    "last_seen",
	}, rows)
	return eris.Wrap(err, "postgres: save records")
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.CanonicalRecord, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM records WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "record %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	return decodeRecord(data)
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.CanonicalRecord, error) {
	query := `SELECT data FROM records WHERE true`
	args := []any{}
	argIdx := 1

	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if filter.VerticalID != "" {
		query += fmt.Sprintf(` AND vertical_id = $%d`, argIdx)
		args = append(args, filter.VerticalID)
		argIdx++
	}
	if !filter.IncludeExcluded {
		query += ` AND NOT excluded`
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []model.CanonicalRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

// Batch statistics

func (s *PostgresStore) SaveCardinalities(ctx context.Context, runID string, cards map[string]model.Cardinality) error {
	rows := make([][]any, 0, len(cards))
	for name, c := range cards {
		rows = append(rows, []any{runID, name, c.Count, c.Min, c.Max, c.Avg, c.Sum})
	}
	_, err := db.Merge(ctx, s.pool, db.MergeSpec{
		Table:   "cardinalities",
		Columns: cardinalityColumns,
		Key:     []string{"run_id", "name"},
	}, rows)
	return eris.Wrap(err, "postgres: save cardinalities")
}

func (s *PostgresStore) GetCardinalities(ctx context.Context, runID string) (map[string]model.Cardinality, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, count, min, max, avg, sum FROM cardinalities WHERE run_id = $1`, runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cardinalities")
	}
	defer rows.Close()

	out := make(map[string]model.Cardinality)
	for rows.Next() {
		var name string
		var c model.Cardinality
		if err := rows.Scan(&name, &c.Count, &c.Min, &c.Max, &c.Avg, &c.Sum); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cardinality")
		}
		out[name] = c
	}
	return out, eris.Wrap(rows.Err(), "postgres: get cardinalities iterate")
}

// Dead letter queue

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entries []resilience.DLQEntry) error {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		obsJSON, err := json.Marshal(e.Observations)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal dlq observations")
		}
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		rows = append(rows, []any{
			e.ID, e.RunID, e.ProductID, e.Stage, e.Error,
			string(e.Category), e.ErrorType, obsJSON, e.CreatedAt.UTC(),
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "dead_letter_queue", dlqColumns, rows)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, run_id, product_id, stage, error, category, error_type, observations, created_at
	          FROM dead_letter_queue WHERE true`
	args := []any{}
	argIdx := 1

	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if filter.Category != "" {
		query += fmt.Sprintf(` AND category = $%d`, argIdx)
		args = append(args, string(filter.Category))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at ASC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var category string
		var obsJSON []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.ProductID, &e.Stage, &e.Error,
			&category, &e.ErrorType, &obsJSON, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		e.Category = model.ErrorCategory(category)
		if len(obsJSON) > 0 {
			if err := json.Unmarshal(obsJSON, &e.Observations); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal dlq observations")
			}
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: remove dlq %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "dlq_entry %s", id)
	}
	return nil
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var status string
	var resultJSON []byte

	if err := row.Scan(&r.ID, &r.Vertical, &status, &resultJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if len(resultJSON) > 0 {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}
