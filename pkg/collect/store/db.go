// Package store persists collected tables in a SQLite database.
//
// Each table kind lives in its own SQL table (config_runs, results_runs)
// whose columns grow as new sweeps add keys. Rows are tagged with the sweep
// they came from, and re-collecting a sweep replaces its rows. Cells are
// stored as TEXT in the same encoding as CSV output, with SQL NULL for
// null cells.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jamesainslie/sweepcollect/pkg/collect/table"
)

// Reserved columns added to every run table.
const (
	columnSweep = "_sweep"
	columnRow   = "_row"
)

// ErrNotFound is returned when a sweep has not been stored.
var ErrNotFound = errors.New("sweep not stored")

// ErrUnknownKind is returned for a table kind with no SQL table.
var ErrUnknownKind = errors.New("unknown table kind")

var sqlTables = map[string]string{
	table.KindConfig:  "config_runs",
	table.KindResults: "results_runs",
}

// DB wraps a SQLite database connection.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the database at dataSourceName and applies the schema.
func Open(dataSourceName string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases shared across calls.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sqlDB}
	if err := db.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS sweeps (
    source TEXT PRIMARY KEY,
    runs INTEGER NOT NULL,
    config_columns TEXT NOT NULL,
    results_columns TEXT NOT NULL,
    collected_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS config_runs (
    "_sweep" TEXT NOT NULL,
    "_row" INTEGER NOT NULL,
    PRIMARY KEY ("_sweep", "_row")
);
CREATE TABLE IF NOT EXISTS results_runs (
    "_sweep" TEXT NOT NULL,
    "_row" INTEGER NOT NULL,
    PRIMARY KEY ("_sweep", "_row")
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SweepInfo describes a stored sweep.
type SweepInfo struct {
	Source         string
	Runs           int
	ConfigColumns  []string
	ResultsColumns []string
	CollectedAt    time.Time
}

// SaveBundle stores both tables of bundle, replacing earlier rows for the
// same sweep, in a single transaction.
func (db *DB) SaveBundle(ctx context.Context, bundle *table.Bundle) error {
	if bundle.Config == nil || bundle.Results == nil {
		return errors.New("bundle is missing a table")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range []*table.Table{bundle.Config, bundle.Results} {
		if err := saveTable(ctx, tx, bundle.Source, t); err != nil {
			return err
		}
	}

	configCols, err := json.Marshal(bundle.Config.Columns())
	if err != nil {
		return err
	}
	resultsCols, err := json.Marshal(bundle.Results.Columns())
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sweeps (source, runs, config_columns, results_columns, collected_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			runs = excluded.runs,
			config_columns = excluded.config_columns,
			results_columns = excluded.results_columns,
			collected_at = excluded.collected_at
	`
	if _, err := tx.ExecContext(ctx, query,
		bundle.Source,
		bundle.Config.Len(),
		string(configCols),
		string(resultsCols),
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("failed to record sweep: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func saveTable(ctx context.Context, tx *sql.Tx, source string, t *table.Table) error {
	name, ok := sqlTables[t.Name()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, t.Name())
	}

	existing, err := tableColumns(ctx, tx, name)
	if err != nil {
		return err
	}
	columns := sqlColumns(t.Columns())
	for i, col := range columns {
		key := strings.ToLower(col)
		if _, ok := existing[key]; ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", name, quoteIdent(col))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %q to %s: %w", t.Columns()[i], name, err)
		}
		existing[key] = struct{}{}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE "_sweep" = ?`, name), source); err != nil {
		return fmt.Errorf("failed to clear %s: %w", name, err)
	}

	cols := []string{quoteIdent(columnSweep), quoteIdent(columnRow)}
	for _, col := range columns {
		cols = append(cols, quoteIdent(col))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		name, strings.Join(cols, ", "), placeholders))
	if err != nil {
		return fmt.Errorf("failed to prepare insert into %s: %w", name, err)
	}
	defer stmt.Close()

	for i, row := range t.Rows() {
		args := make([]any, 0, len(cols))
		args = append(args, source, i)
		for _, cell := range row.Cells() {
			if cell == nil {
				args = append(args, nil)
				continue
			}
			args = append(args, table.FormatCell(cell))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert row %d into %s: %w", i, name, err)
		}
	}
	return nil
}

// sqlColumns maps table columns to SQL column names. SQLite identifiers are
// case-insensitive, so a name equal (ignoring case) to an earlier one or to
// a reserved column gets a numeric suffix: lr, LR becomes lr, LR_2. The
// mapping depends only on the column list, so the names stored in sweeps
// recover it.
func sqlColumns(columns []string) []string {
	used := map[string]struct{}{
		strings.ToLower(columnSweep): {},
		strings.ToLower(columnRow):   {},
	}
	for _, col := range columns {
		used[strings.ToLower(col)] = struct{}{}
	}

	out := make([]string, len(columns))
	seen := make(map[string]struct{}, len(columns))
	for i, col := range columns {
		key := strings.ToLower(col)
		_, dup := seen[key]
		seen[key] = struct{}{}
		if !dup && key != columnSweep && key != columnRow {
			out[i] = col
			continue
		}
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s_%d", col, n)
			if _, taken := used[strings.ToLower(candidate)]; !taken {
				used[strings.ToLower(candidate)] = struct{}{}
				out[i] = candidate
				break
			}
		}
	}
	return out
}

// tableColumns returns the lower-cased column names of a SQL table; SQLite
// compares identifiers case-insensitively.
func tableColumns(ctx context.Context, tx *sql.Tx, name string) (map[string]struct{}, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT name FROM pragma_table_info('%s')", name))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", name, err)
	}
	defer rows.Close()

	cols := make(map[string]struct{})
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		cols[strings.ToLower(col)] = struct{}{}
	}
	return cols, rows.Err()
}

// Sweep returns what is stored about source.
func (db *DB) Sweep(ctx context.Context, source string) (*SweepInfo, error) {
	query := `
		SELECT source, runs, config_columns, results_columns, collected_at
		FROM sweeps
		WHERE source = ?
	`

	var (
		info                    SweepInfo
		configCols, resultsCols string
		collectedAt             string
	)
	err := db.QueryRowContext(ctx, query, source).Scan(
		&info.Source,
		&info.Runs,
		&configCols,
		&resultsCols,
		&collectedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sweep: %w", err)
	}

	if err := json.Unmarshal([]byte(configCols), &info.ConfigColumns); err != nil {
		return nil, fmt.Errorf("decoding config columns: %w", err)
	}
	if err := json.Unmarshal([]byte(resultsCols), &info.ResultsColumns); err != nil {
		return nil, fmt.Errorf("decoding results columns: %w", err)
	}
	info.CollectedAt, _ = time.Parse(time.RFC3339Nano, collectedAt)
	return &info, nil
}

// LoadTable reads a stored table back with the sweep's own columns, in
// their original order. Cells are strings, or nil for SQL NULL.
func (db *DB) LoadTable(ctx context.Context, kind, source string) (*table.Table, error) {
	name, ok := sqlTables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	info, err := db.Sweep(ctx, source)
	if err != nil {
		return nil, err
	}
	columns := info.ConfigColumns
	if kind == table.KindResults {
		columns = info.ResultsColumns
	}

	b, err := table.NewBuilder(kind, columns)
	if err != nil {
		return nil, err
	}

	selected := make([]string, len(columns))
	for i, col := range sqlColumns(columns) {
		selected[i] = quoteIdent(col)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE "_sweep" = ? ORDER BY "_row"`,
		strings.Join(selected, ", "), name)

	rows, err := db.QueryContext(ctx, query, source)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		cells := make([]any, len(columns))
		for i, v := range values {
			if v.Valid {
				cells[i] = v.String
			}
		}
		if err := b.Append(cells); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

// quoteIdent quotes a column or table name for SQLite.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
