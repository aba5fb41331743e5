// Package schema renders a namespace's table layout as grounding text for
// SQL generation. Low-cardinality text columns are enriched with their
// actual values so generated filters match the data instead of guessing at
// spellings.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tablechat/tablechat/internal/tenant"
)

type Grounder struct {
	db      *sql.DB
	ceiling int
}

// NewGrounder builds a grounder with the given cardinality ceiling: text
// columns with at most that many distinct values get them listed inline.
func NewGrounder(db *sql.DB, cardinalityCeiling int) *Grounder {
	return &Grounder{db: db, ceiling: cardinalityCeiling}
}

type column struct {
	Table    string
	Name     string
	DataType string
	Nullable bool
	Default  sql.NullString
}

// Describe renders the namespace schema, restricted to the given tables when
// any are named. Conversation-store tables appear bare and marked internal;
// value enrichment is best effort and a column is listed without values when
// its probe fails.
func (g *Grounder) Describe(ctx context.Context, namespace string, tables ...string) (string, error) {
	if !tenant.IsValidIdentifier(namespace) {
		return "", &tenant.ValidationError{Field: "namespace", Reason: "not a valid identifier"}
	}

	columns, err := g.listColumns(ctx, namespace)
	if err != nil {
		return "", err
	}
	columns = filterTables(columns, tables)
	if len(columns) == 0 {
		return "", tenant.ErrNotFound
	}

	var b strings.Builder
	currentTable := ""
	for _, col := range columns {
		if col.Table != currentTable {
			if currentTable != "" {
				b.WriteString("\n")
			}
			currentTable = col.Table
			if tenant.IsInternalTable(col.Table) {
				fmt.Fprintf(&b, "Table: %s (internal, conversation store)\n", col.Table)
			} else {
				fmt.Fprintf(&b, "Table: %s\n", col.Table)
			}
		}
		fmt.Fprintf(&b, "  - %s (%s) %s", col.Name, col.DataType, nullability(col))
		if isTextType(col.DataType) && !tenant.IsInternalTable(col.Table) {
			b.WriteString(g.enrichColumn(ctx, namespace, col))
		}
		b.WriteString("\n")
	}

	b.WriteString("\nOnly tables and columns listed above exist. Use exact column values where they are listed.")
	return b.String(), nil
}

func (g *Grounder) listColumns(ctx context.Context, namespace string) ([]column, error) {
	rows, err := g.db.QueryContext(ctx, `
SELECT table_name, column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name ASC, ordinal_position ASC`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list columns in %s: %w", namespace, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []column
	for rows.Next() {
		var col column
		var nullable string
		if err := rows.Scan(&col.Table, &col.Name, &col.DataType, &nullable, &col.Default); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return columns, nil
}

// enrichColumn returns an inline annotation for a text column, or an empty
// string when the probe fails or the column is empty.
func (g *Grounder) enrichColumn(ctx context.Context, namespace string, col column) string {
	if !tenant.IsValidIdentifier(col.Table) || !tenant.IsValidIdentifier(col.Name) {
		return ""
	}
	qualified := namespace + "." + col.Table

	var distinct int64
	err := g.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT "+col.Name+") FROM "+qualified).Scan(&distinct)
	if err != nil || distinct == 0 {
		return ""
	}
	if distinct > int64(g.ceiling) {
		return fmt.Sprintf(" [%d distinct values, too many to list]", distinct)
	}

	values, err := g.listDistinctValues(ctx, qualified, col.Name)
	if err != nil || len(values) == 0 {
		return ""
	}
	return " Possible Values: " + strings.Join(values, ", ")
}

func (g *Grounder) listDistinctValues(ctx context.Context, qualified, columnName string) ([]string, error) {
	query := "SELECT DISTINCT " + columnName + " FROM " + qualified +
		" WHERE " + columnName + " IS NOT NULL ORDER BY " + columnName + " ASC LIMIT " + fmt.Sprint(g.ceiling)
	rows, err := g.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

// filterTables keeps only columns of the requested tables. Requested names
// run through the total sanitizer, so the caller's raw spelling matches the
// name the table was materialized under.
func filterTables(columns []column, tables []string) []column {
	if len(tables) == 0 {
		return columns
	}
	wanted := make(map[string]struct{}, len(tables))
	for _, name := range tables {
		wanted[tenant.SanitizeTable(name)] = struct{}{}
	}
	filtered := make([]column, 0, len(columns))
	for _, col := range columns {
		if _, ok := wanted[col.Table]; ok {
			filtered = append(filtered, col)
		}
	}
	return filtered
}

func nullability(col column) string {
	text := "NOT NULL"
	if col.Nullable {
		text = "NULL"
	}
	if col.Default.Valid {
		text += " DEFAULT " + col.Default.String
	}
	return text
}

func isTextType(dataType string) bool {
	switch strings.ToLower(dataType) {
	case "text", "character varying", "character", "varchar", "citext":
		return true
	}
	return false
}
