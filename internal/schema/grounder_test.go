package schema

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/tablechat/tablechat/internal/tenant"
)

func newSQLMock(t *testing.T) (*Grounder, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewGrounder(db, 3), mock
}

func columnRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"table_name", "column_name", "data_type", "is_nullable", "column_default"})
}

func TestDescribeListsValuesUnderCeiling(t *testing.T) {
	grounder, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).
		WithArgs("proj_alice_shop").
		WillReturnRows(columnRows().
			AddRow("orders", "order_id", "bigint", "NO", nil).
			AddRow("orders", "city", "text", "YES", nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(DISTINCT city) FROM proj_alice_shop.orders")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT city FROM proj_alice_shop.orders")).
		WillReturnRows(sqlmock.NewRows([]string{"city"}).AddRow("Graz").AddRow("Vienna"))

	got, err := grounder.Describe(context.Background(), "proj_alice_shop")
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if !strings.Contains(got, "Table: orders") {
		t.Fatalf("missing table header in %q", got)
	}
	if !strings.Contains(got, "order_id (bigint) NOT NULL") {
		t.Fatalf("missing numeric column in %q", got)
	}
	if !strings.Contains(got, "city (text) NULL Possible Values: Graz, Vienna") {
		t.Fatalf("missing value enrichment in %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestDescribeIncludesNullabilityAndDefault(t *testing.T) {
	grounder, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).
		WithArgs("proj_alice_shop").
		WillReturnRows(columnRows().
			AddRow("products", "price", "numeric", "NO", "0").
			AddRow("products", "added_at", "timestamp with time zone", "YES", "now()"))

	got, err := grounder.Describe(context.Background(), "proj_alice_shop")
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if !strings.Contains(got, "price (numeric) NOT NULL DEFAULT 0") {
		t.Fatalf("missing nullability or default in %q", got)
	}
	if !strings.Contains(got, "added_at (timestamp with time zone) NULL DEFAULT now()") {
		t.Fatalf("missing nullable default column in %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestDescribeRestrictsToRequestedTables(t *testing.T) {
	grounder, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).
		WithArgs("proj_alice_shop").
		WillReturnRows(columnRows().
			AddRow("orders", "order_id", "bigint", "NO", nil).
			AddRow("products", "price", "numeric", "NO", nil))

	got, err := grounder.Describe(context.Background(), "proj_alice_shop", "Products")
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if !strings.Contains(got, "Table: products") {
		t.Fatalf("missing requested table in %q", got)
	}
	if strings.Contains(got, "Table: orders") {
		t.Fatalf("unrequested table leaked into %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestDescribeNotesCardinalityAboveCeiling(t *testing.T) {
	grounder, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).
		WithArgs("proj_alice_shop").
		WillReturnRows(columnRows().
			AddRow("orders", "customer", "character varying", "YES", nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(DISTINCT customer) FROM proj_alice_shop.orders")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5000)))

	got, err := grounder.Describe(context.Background(), "proj_alice_shop")
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if !strings.Contains(got, "[5000 distinct values, too many to list]") {
		t.Fatalf("missing cardinality note in %q", got)
	}
	if strings.Contains(got, "Possible Values") {
		t.Fatalf("unexpected value list in %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestDescribeSkipsEnrichmentForInternalTables(t *testing.T) {
	grounder, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).
		WithArgs("proj_alice_shop").
		WillReturnRows(columnRows().
			AddRow("chat_messages", "role", "text", "NO", nil))

	got, err := grounder.Describe(context.Background(), "proj_alice_shop")
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if !strings.Contains(got, "Table: chat_messages (internal, conversation store)") {
		t.Fatalf("missing internal marker in %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestDescribeSurvivesFailedValueProbe(t *testing.T) {
	grounder, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).
		WithArgs("proj_alice_shop").
		WillReturnRows(columnRows().
			AddRow("orders", "city", "text", "YES", nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(DISTINCT city)")).
		WillReturnError(errors.New("permission denied"))

	got, err := grounder.Describe(context.Background(), "proj_alice_shop")
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if !strings.Contains(got, "city (text) NULL") {
		t.Fatalf("missing bare column in %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestDescribeEmptyNamespaceIsNotFound(t *testing.T) {
	grounder, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).
		WithArgs("proj_alice_empty").
		WillReturnRows(columnRows())

	_, err := grounder.Describe(context.Background(), "proj_alice_empty")
	if !errors.Is(err, tenant.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
