// Package snapshot replaces relational tables with a fresh set of rows.
//
// A replace builds a staging table, inserts every row under its own
// savepoint, then swaps the staging table onto the live name, all inside one
// transaction. Individual rows may fail without affecting the others; any
// other failure rolls the whole replace back and leaves the previous
// snapshot in place.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/arkiv/chain-observer/internal/metrics"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrInvalidTable is returned for table definitions the writer refuses to build.
var ErrInvalidTable = errors.New("snapshot: invalid table")

// Column is a TEXT column. Amounts stay text so no precision is lost.
type Column struct {
	Name    string
	NotNull bool
}

type Table struct {
	Name    string
	Columns []Column
}

// Row holds one value per column, in column order. nil stores NULL.
type Row []any

// RowWriteError reports a row that was skipped.
type RowWriteError struct {
	Table string
	Index int
	Row   Row
	Err   error
}

func (e *RowWriteError) Error() string {
	return fmt.Sprintf("snapshot: %s row %d %v: %v", e.Table, e.Index, []any(e.Row), e.Err)
}

func (e *RowWriteError) Unwrap() error { return e.Err }

// Result summarises one ReplaceTable call.
type Result struct {
	Table   string
	Written int
	Failed  []*RowWriteError
}

type Writer struct {
	storage Storage
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewWriter(s Storage, log *slog.Logger, m *metrics.Metrics) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{storage: s, log: log, metrics: m}
}

// ReplaceTable makes t contain exactly rows, minus any row whose insert
// failed. Written counts committed rows. A non-nil error means nothing was
// committed.
func (w *Writer) ReplaceTable(ctx context.Context, t Table, rows []Row) (Result, error) {
	if err := t.validate(); err != nil {
		return Result{}, err
	}
	d := w.storage.Dialect()
	staging := t.Name + "_staging"
	insert := t.insertSQL(staging, d)

	var res Result
	err := w.storage.RunTx(ctx, func(ctx context.Context, tx Tx) error {
		res = Result{Table: t.Name}

		if err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+quote(staging)); err != nil {
			return fmt.Errorf("snapshot: drop %s: %w", staging, err)
		}
		if err := tx.Exec(ctx, t.createSQL(staging, d)); err != nil {
			return fmt.Errorf("snapshot: create %s: %w", staging, err)
		}

		for i, row := range rows {
			if len(row) != len(t.Columns) {
				res.Failed = append(res.Failed, w.skip(t.Name, i, row,
					fmt.Errorf("row has %d values, table has %d columns", len(row), len(t.Columns))))
				continue
			}
			rowErr, err := insertRow(ctx, tx, insert, row)
			if err != nil {
				return err
			}
			if rowErr != nil {
				res.Failed = append(res.Failed, w.skip(t.Name, i, row, rowErr))
				continue
			}
			res.Written++
		}

		if err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+quote(t.Name)); err != nil {
			return fmt.Errorf("snapshot: drop %s: %w", t.Name, err)
		}
		if err := tx.Exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quote(staging), quote(t.Name))); err != nil {
			return fmt.Errorf("snapshot: rename %s: %w", staging, err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	w.metrics.ObserveRows(t.Name, res.Written, len(res.Failed))
	w.log.Info("snapshot replaced", "table", t.Name, "written", res.Written, "failed", len(res.Failed))
	return res, nil
}

// insertRow inserts under a savepoint so a failed row leaves the
// transaction usable. rowErr is the insert failure; err is set only when the
// savepoint bookkeeping itself fails.
func insertRow(ctx context.Context, tx Tx, insert string, row Row) (rowErr, err error) {
	if err := tx.Exec(ctx, "SAVEPOINT snapshot_row"); err != nil {
		return nil, fmt.Errorf("snapshot: savepoint: %w", err)
	}
	if rowErr = tx.Exec(ctx, insert, row...); rowErr != nil {
		if err := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT snapshot_row"); err != nil {
			return nil, fmt.Errorf("snapshot: rollback to savepoint: %w", err)
		}
	}
	if err := tx.Exec(ctx, "RELEASE SAVEPOINT snapshot_row"); err != nil {
		return nil, fmt.Errorf("snapshot: release savepoint: %w", err)
	}
	return rowErr, nil
}

func (w *Writer) skip(table string, i int, row Row, err error) *RowWriteError {
	rwErr := &RowWriteError{Table: table, Index: i, Row: row, Err: err}
	w.log.Warn("skipping row", "table", table, "index", i, "row", []any(row), "err", err)
	return rwErr
}

func (t Table) validate() error {
	if !identRe.MatchString(t.Name) {
		return fmt.Errorf("%w: table name %q", ErrInvalidTable, t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("%w: %s has no columns", ErrInvalidTable, t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if !identRe.MatchString(c.Name) || strings.EqualFold(c.Name, "id") {
			return fmt.Errorf("%w: column name %q", ErrInvalidTable, c.Name)
		}
		key := strings.ToLower(c.Name)
		if seen[key] {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidTable, c.Name)
		}
		seen[key] = true
	}
	return nil
}

func (t Table) createSQL(name string, d Dialect) string {
	cols := []string{d.IDColumn}
	for _, c := range t.Columns {
		def := quote(c.Name) + " TEXT"
		if c.NotNull {
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quote(name), strings.Join(cols, ", "))
}

func (t Table) insertSQL(name string, d Dialect) string {
	names := make([]string, len(t.Columns))
	marks := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = quote(c.Name)
		marks[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(name), strings.Join(names, ", "), strings.Join(marks, ", "))
}

func quote(ident string) string { return `"` + ident + `"` }
