// Package ingest materializes uploaded tabular data as real tables inside a
// namespace schema. Headers are sanitized totally, so an upload is never
// rejected over a malformed column name, and cell values are coerced to the
// narrowest column type the whole column supports.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tablechat/tablechat/internal/tenant"
)

// maxParamsPerBatch keeps insert batches under the engine's bind-parameter
// ceiling of 65535.
const maxParamsPerBatch = 60000

// Dataset is one uploaded table: raw header names and string cells. Empty
// cells become NULL.
type Dataset struct {
	Table   string
	Columns []string
	Rows    [][]string
}

type ColumnSpec struct {
	Name string
	Type string
}

// Report describes what was materialized, including the sanitized names the
// caller should use from now on.
type Report struct {
	Table    string
	Columns  []ColumnSpec
	RowCount int64
}

type Materializer struct {
	db *sql.DB
}

func NewMaterializer(db *sql.DB) *Materializer {
	return &Materializer{db: db}
}

// Materialize creates (or replaces) the dataset's table inside the namespace
// and loads every row. The whole load runs in one transaction.
func (m *Materializer) Materialize(ctx context.Context, namespace string, ds Dataset) (Report, error) {
	if !tenant.IsValidIdentifier(namespace) {
		return Report{}, &tenant.ValidationError{Field: "namespace", Reason: "not a valid identifier"}
	}
	if len(ds.Columns) == 0 {
		return Report{}, &tenant.ValidationError{Field: "columns", Reason: "dataset has no columns"}
	}
	for i, row := range ds.Rows {
		if len(row) != len(ds.Columns) {
			return Report{}, &tenant.ValidationError{Field: "rows", Reason: fmt.Sprintf("row %d has %d cells, want %d", i, len(row), len(ds.Columns))}
		}
	}

	table := tenant.SanitizeTable(ds.Table)
	if tenant.IsInternalTable(table) {
		return Report{}, &tenant.ValidationError{Field: "table", Reason: fmt.Sprintf("%q collides with an internal table", table)}
	}
	columns := sanitizeColumns(ds.Columns)

	specs := make([]ColumnSpec, len(columns))
	for i, name := range columns {
		specs[i] = ColumnSpec{Name: name, Type: inferColumnType(ds.Rows, i)}
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return Report{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	qualified := namespace + "." + table
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+qualified); err != nil {
		return Report{}, fmt.Errorf("drop existing table %s: %w", qualified, err)
	}

	defs := make([]string, len(specs))
	for i, spec := range specs {
		defs[i] = spec.Name + " " + spec.Type
	}
	createStmt := "CREATE TABLE " + qualified + " (" + strings.Join(defs, ", ") + ")"
	if _, err := tx.ExecContext(ctx, createStmt); err != nil {
		return Report{}, fmt.Errorf("create table %s: %w", qualified, err)
	}

	if err := insertRows(ctx, tx, qualified, specs, ds.Rows); err != nil {
		return Report{}, err
	}

	if err := tx.Commit(); err != nil {
		return Report{}, fmt.Errorf("commit ingest into %s: %w", qualified, err)
	}

	return Report{Table: table, Columns: specs, RowCount: int64(len(ds.Rows))}, nil
}

func insertRows(ctx context.Context, tx *sql.Tx, qualified string, specs []ColumnSpec, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}

	names := make([]string, len(specs))
	for i, spec := range specs {
		names[i] = spec.Name
	}
	prefix := "INSERT INTO " + qualified + " (" + strings.Join(names, ", ") + ") VALUES "

	rowsPerBatch := maxParamsPerBatch / len(specs)
	if rowsPerBatch < 1 {
		rowsPerBatch = 1
	}

	for start := 0; start < len(rows); start += rowsPerBatch {
		end := start + rowsPerBatch
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		placeholders := make([]string, 0, len(batch))
		args := make([]any, 0, len(batch)*len(specs))
		param := 1
		for _, row := range batch {
			marks := make([]string, len(specs))
			for i, cell := range row {
				marks[i] = "$" + strconv.Itoa(param)
				param++
				args = append(args, coerceCell(cell, specs[i].Type))
			}
			placeholders = append(placeholders, "("+strings.Join(marks, ", ")+")")
		}

		stmt := prefix + strings.Join(placeholders, ", ")
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("insert rows into %s: %w", qualified, err)
		}
	}
	return nil
}

// sanitizeColumns runs the total sanitizer over every header and dedupes
// collisions with a numeric suffix, keeping first occurrence untouched.
func sanitizeColumns(raw []string) []string {
	seen := make(map[string]int, len(raw))
	out := make([]string, len(raw))
	for i, name := range raw {
		cleaned := tenant.SanitizeColumn(name)
		count := seen[cleaned]
		seen[cleaned] = count + 1
		if count > 0 {
			cleaned = fmt.Sprintf("%s_%d", cleaned, count+1)
		}
		out[i] = cleaned
	}
	return out
}

// inferColumnType picks the narrowest type every non-empty cell in the
// column satisfies, falling back to TEXT. A fully empty column is TEXT.
func inferColumnType(rows [][]string, col int) string {
	isBigint := true
	isDouble := true
	isBool := true
	isTimestamp := true
	sawValue := false

	for _, row := range rows {
		cell := strings.TrimSpace(row[col])
		if cell == "" {
			continue
		}
		sawValue = true
		if isBigint {
			if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
				isBigint = false
			}
		}
		if isDouble {
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				isDouble = false
			}
		}
		if isBool && !isBoolCell(cell) {
			isBool = false
		}
		if isTimestamp {
			if _, ok := parseTimestamp(cell); !ok {
				isTimestamp = false
			}
		}
		if !isBigint && !isDouble && !isBool && !isTimestamp {
			break
		}
	}

	switch {
	case !sawValue:
		return "TEXT"
	case isBool:
		return "BOOLEAN"
	case isBigint:
		return "BIGINT"
	case isDouble:
		return "DOUBLE PRECISION"
	case isTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func coerceCell(cell, colType string) any {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return nil
	}
	switch colType {
	case "BIGINT":
		v, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil
		}
		return v
	case "DOUBLE PRECISION":
		v, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil
		}
		return v
	case "BOOLEAN":
		return strings.EqualFold(trimmed, "true") || strings.EqualFold(trimmed, "t") ||
			strings.EqualFold(trimmed, "yes") || trimmed == "1"
	case "TIMESTAMPTZ":
		v, ok := parseTimestamp(trimmed)
		if !ok {
			return nil
		}
		return v
	default:
		return cell
	}
}

func isBoolCell(cell string) bool {
	switch strings.ToLower(cell) {
	case "true", "false", "t", "f", "yes", "no":
		return true
	}
	return false
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(cell string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if v, err := time.Parse(layout, cell); err == nil {
			return v, true
		}
	}
	return time.Time{}, false
}
