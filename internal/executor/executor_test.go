package executor

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newExecutor(t *testing.T) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestExecuteRunsReadOnlyWithinNamespace(t *testing.T) {
	exec, mock := newExecutor(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL search_path TO proj_alice_shop, public")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT city, total FROM orders")).
		WillReturnRows(sqlmock.NewRows([]string{"city", "total"}).
			AddRow([]byte("Vienna"), int64(12)).
			AddRow([]byte("Graz"), int64(7)))
	mock.ExpectRollback()

	result, err := exec.Execute(context.Background(), "proj_alice_shop", "SELECT city, total FROM orders")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[0] != "city" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("len(Rows) = %d", len(result.Rows))
	}
	if result.Rows[0][0] != "Vienna" {
		t.Fatalf("byte slice not normalized to string: %#v", result.Rows[0][0])
	}
	if result.Empty() {
		t.Fatal("Empty() = true for populated result")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestExecuteEmptyResult(t *testing.T) {
	exec, mock := newExecutor(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL search_path TO proj_alice_shop, public")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT city FROM orders WHERE city = 'Linz'")).
		WillReturnRows(sqlmock.NewRows([]string{"city"}))
	mock.ExpectRollback()

	result, err := exec.Execute(context.Background(), "proj_alice_shop", "SELECT city FROM orders WHERE city = 'Linz'")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Empty() {
		t.Fatalf("Empty() = false, rows = %v", result.Rows)
	}
}

func TestExecuteWrapsEngineFailure(t *testing.T) {
	exec, mock := newExecutor(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL search_path TO proj_alice_shop, public")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT nope FROM orders")).
		WillReturnError(errors.New(`column "nope" does not exist`))
	mock.ExpectRollback()

	_, err := exec.Execute(context.Background(), "proj_alice_shop", "SELECT nope FROM orders")
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want ExecutionError", err)
	}
	if execErr.Query != "SELECT nope FROM orders" {
		t.Fatalf("Query = %q", execErr.Query)
	}
}

func TestExecuteRejectsMalformedNamespace(t *testing.T) {
	exec, _ := newExecutor(t)
	if _, err := exec.Execute(context.Background(), "proj_x; DROP", "SELECT 1"); err == nil {
		t.Fatal("expected error for malformed namespace")
	}
}
