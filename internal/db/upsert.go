package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// MergeSpec describes how a batch of rows lands in a keyed table.
type MergeSpec struct {
	Table   string
	Columns []string
	// Key is the unique constraint rows are matched on.
	Key []string
	// Preserve lists columns an existing row keeps on conflict.
	Preserve []string
	// Newer, when set, names a column that must not go backwards: a staged
	// row older than the stored one leaves it untouched.
	Newer string
}

// updated returns the columns overwritten on conflict.
func (m MergeSpec) updated() []string {
	var cols []string
	for _, c := range m.Columns {
		if slices.Contains(m.Key, c) || slices.Contains(m.Preserve, c) {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

func (m MergeSpec) stagingTable() string {
	return "_merge_" + strings.ReplaceAll(m.Table, ".", "_")
}

func (m MergeSpec) statement() string {
	var set []string
	for _, c := range m.updated() {
		id := ident(c)
		set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", id, id))
	}
	action := "DO NOTHING"
	if len(set) > 0 {
		action = "DO UPDATE SET " + strings.Join(set, ", ")
		if m.Newer != "" {
			action += fmt.Sprintf(" WHERE t.%s <= EXCLUDED.%s", ident(m.Newer), ident(m.Newer))
		}
	}
	cols := identList(m.Columns)
	return fmt.Sprintf("INSERT INTO %s AS t (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		sanitizeTable(m.Table), cols, cols, ident(m.stagingTable()), identList(m.Key), action)
}

// Merge stages rows with COPY in a temp table dropped at commit, then folds
// them into the target in one INSERT ... ON CONFLICT. It returns the number
// of rows inserted or updated; saving the same batch twice is a no-op
// beyond the rewrite.
func Merge(ctx context.Context, pool Pool, spec MergeSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	switch {
	case len(spec.Columns) == 0:
		return 0, eris.Errorf("db: merge %s: no columns", spec.Table)
	case len(spec.Key) == 0:
		return 0, eris.Errorf("db: merge %s: no key", spec.Table)
	case spec.Newer != "" && !slices.Contains(spec.Columns, spec.Newer):
		return 0, eris.Errorf("db: merge %s: newer column %q not staged", spec.Table, spec.Newer)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: begin", spec.Table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	staging := spec.stagingTable()
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		ident(staging), sanitizeTable(spec.Table))
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: stage", spec.Table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, spec.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: copy", spec.Table)
	}
	tag, err := tx.Exec(ctx, spec.statement())
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: insert", spec.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: commit", spec.Table)
	}
	return tag.RowsAffected(), nil
}

// sanitizeTable quotes a table name, schema-qualified or not.
func sanitizeTable(table string) string {
	return pgx.Identifier(strings.SplitN(table, ".", 2)).Sanitize()
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func identList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = ident(c)
	}
	return strings.Join(quoted, ", ")
}
