// Package executor runs gated statements against a namespace. Every
// statement executes inside a read-only transaction with the search_path
// pinned to the namespace, and the transaction is always rolled back, so
// even a statement that slipped past the gate cannot persist anything.
package executor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tablechat/tablechat/internal/tenant"
)

// Result holds a fully materialized result set with driver byte slices
// normalized to strings.
type Result struct {
	Columns []string
	Rows    [][]any
}

func (r Result) Empty() bool {
	return len(r.Rows) == 0
}

// ExecutionError wraps an engine failure so callers can distinguish a bad
// statement from infrastructure faults.
type ExecutionError struct {
	Query string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute query: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

type Executor struct {
	db *sql.DB
}

func New(db *sql.DB) *Executor {
	return &Executor{db: db}
}

// Execute runs one statement inside the namespace and returns the full
// result set.
func (e *Executor) Execute(ctx context.Context, namespace, query string) (Result, error) {
	if !tenant.IsValidIdentifier(namespace) {
		return Result{}, &tenant.ValidationError{Field: "namespace", Reason: "not a valid identifier"}
	}

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Result{}, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// public stays on the path so extensions installed there keep working;
	// unqualified table references still resolve to the namespace first.
	if _, err := tx.ExecContext(ctx, "SET LOCAL search_path TO "+namespace+", public"); err != nil {
		return Result{}, fmt.Errorf("set search_path for %s: %w", namespace, err)
	}

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return Result{}, &ExecutionError{Query: query, Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, &ExecutionError{Query: query, Err: err}
	}

	result := Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return Result{}, &ExecutionError{Query: query, Err: err}
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, &ExecutionError{Query: query, Err: err}
	}
	return result, nil
}

func normalizeValues(values []any) []any {
	for i, value := range values {
		if raw, ok := value.([]byte); ok {
			values[i] = string(raw)
		}
	}
	return values
}
