package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tablechat/tablechat/internal/migrations"
	"github.com/tablechat/tablechat/internal/tenant"
)

// Store provisions and inspects namespace schemas. All identifier
// interpolation goes through tenant.IsValidIdentifier first.
type Store struct {
	db     *sql.DB
	runner *migrations.Runner
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, runner: migrations.NewRunner()}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

// NamespaceFor derives the schema name for an (owner, project) pair. Both
// parts are sanitized before composition, so two distinct raw inputs can map
// to the same namespace; that is the intended dedupe behavior.
func NamespaceFor(owner, project string) (string, error) {
	cleanOwner, err := tenant.Sanitize(owner)
	if err != nil {
		return "", &tenant.ValidationError{Field: "owner", Reason: err.Error()}
	}
	cleanProject, err := tenant.Sanitize(project)
	if err != nil {
		return "", &tenant.ValidationError{Field: "project", Reason: err.Error()}
	}
	namespace := tenant.NamespacePrefix + cleanOwner + "_" + cleanProject
	if len(namespace) > tenant.MaxIdentifierLength {
		return "", &tenant.ValidationError{Field: "project", Reason: "owner and project name exceed the identifier ceiling when combined"}
	}
	return namespace, nil
}

// CreateNamespace provisions the schema for an (owner, project) pair and
// installs the conversation store into it. Creation is idempotent.
func (s *Store) CreateNamespace(ctx context.Context, owner, project string) (tenant.NamespaceInfo, error) {
	cleanOwner, err := tenant.Sanitize(owner)
	if err != nil {
		return tenant.NamespaceInfo{}, &tenant.ValidationError{Field: "owner", Reason: err.Error()}
	}
	cleanProject, err := tenant.Sanitize(project)
	if err != nil {
		return tenant.NamespaceInfo{}, &tenant.ValidationError{Field: "project", Reason: err.Error()}
	}
	namespace := tenant.NamespacePrefix + cleanOwner + "_" + cleanProject
	if len(namespace) > tenant.MaxIdentifierLength {
		return tenant.NamespaceInfo{}, &tenant.ValidationError{Field: "project", Reason: "owner and project name exceed the identifier ceiling when combined"}
	}

	if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+namespace); err != nil {
		return tenant.NamespaceInfo{}, fmt.Errorf("create schema %s: %w", namespace, err)
	}
	if _, err := s.runner.Up(ctx, s.db, namespace); err != nil {
		return tenant.NamespaceInfo{}, fmt.Errorf("install conversation store in %s: %w", namespace, err)
	}
	return tenant.NamespaceInfo{
		NamespaceID: namespace,
		Owner:       cleanOwner,
		Project:     cleanProject,
		DisplayName: displayName(cleanProject),
	}, nil
}

// ListNamespaces returns every namespace owned by the caller, with metadata
// gathered opportunistically per schema.
func (s *Store) ListNamespaces(ctx context.Context, owner string) ([]tenant.NamespaceInfo, error) {
	cleanOwner, err := tenant.Sanitize(owner)
	if err != nil {
		return nil, &tenant.ValidationError{Field: "owner", Reason: err.Error()}
	}

	pattern := tenant.NamespacePrefix + cleanOwner + `\_%`
	rows, err := s.db.QueryContext(ctx, `
SELECT schema_name
FROM information_schema.schemata
WHERE schema_name LIKE $1
ORDER BY schema_name ASC`, pattern)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan namespace row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate namespace rows: %w", err)
	}

	infos := make([]tenant.NamespaceInfo, 0, len(names))
	for _, name := range names {
		project := strings.TrimPrefix(name, tenant.NamespacePrefix+cleanOwner+"_")
		info := tenant.NamespaceInfo{
			NamespaceID: name,
			Owner:       cleanOwner,
			Project:     project,
			DisplayName: displayName(project),
		}
		meta, err := s.GetMetadata(ctx, name)
		if err == nil {
			info.TableCount = meta.TableCount
			info.TotalRows = meta.TotalRows
			info.CreatedAt = meta.CreatedAt
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// DeleteNamespace drops a namespace schema and everything in it. Only
// schemas carrying the managed prefix and owned by the caller can be
// dropped; system schemas are refused unconditionally.
func (s *Store) DeleteNamespace(ctx context.Context, owner, namespace string) error {
	if tenant.IsProtectedSchema(namespace) {
		return &tenant.ProtectedResourceError{Namespace: namespace, Reason: "system schemas cannot be dropped"}
	}
	if !strings.HasPrefix(namespace, tenant.NamespacePrefix) {
		return &tenant.ProtectedResourceError{Namespace: namespace, Reason: "schema is not managed by this service"}
	}
	if !tenant.IsValidIdentifier(namespace) {
		return &tenant.ValidationError{Field: "namespace", Reason: "not a valid identifier"}
	}
	cleanOwner, err := tenant.Sanitize(owner)
	if err != nil {
		return &tenant.ValidationError{Field: "owner", Reason: err.Error()}
	}
	if !strings.HasPrefix(namespace, tenant.NamespacePrefix+cleanOwner+"_") {
		return &tenant.ProtectedResourceError{Namespace: namespace, Reason: "namespace belongs to another owner"}
	}

	exists, err := s.NamespaceExists(ctx, namespace)
	if err != nil {
		return err
	}
	if !exists {
		return tenant.ErrNotFound
	}

	if _, err := s.db.ExecContext(ctx, "DROP SCHEMA "+namespace+" CASCADE"); err != nil {
		return fmt.Errorf("drop schema %s: %w", namespace, err)
	}
	return nil
}

func (s *Store) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx, `
SELECT EXISTS (
	SELECT 1 FROM information_schema.schemata WHERE schema_name = $1
)`, namespace).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check namespace %s: %w", namespace, err)
	}
	return found, nil
}

// ListTables returns the caller-visible data tables of a namespace, with
// conversation-store tables filtered out.
func (s *Store) ListTables(ctx context.Context, namespace string) ([]string, error) {
	if !tenant.IsValidIdentifier(namespace) {
		return nil, &tenant.ValidationError{Field: "namespace", Reason: "not a valid identifier"}
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name ASC`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list tables in %s: %w", namespace, err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		if tenant.IsInternalTable(name) {
			continue
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}
	return tables, nil
}

// GetMetadata aggregates per-namespace stats. Row counts walk every data
// table; creation time is recovered from the oldest conversation row and
// stays zero when the namespace has never been chatted in.
func (s *Store) GetMetadata(ctx context.Context, namespace string) (tenant.Metadata, error) {
	tables, err := s.ListTables(ctx, namespace)
	if err != nil {
		return tenant.Metadata{}, err
	}

	meta := tenant.Metadata{TableCount: len(tables)}
	for _, table := range tables {
		if !tenant.IsValidIdentifier(table) {
			continue
		}
		var count int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+namespace+"."+table).Scan(&count); err != nil {
			return tenant.Metadata{}, fmt.Errorf("count rows in %s.%s: %w", namespace, table, err)
		}
		meta.TotalRows += count
	}

	var oldest sql.NullTime
	err = s.db.QueryRowContext(ctx, "SELECT MIN(created_at) FROM "+namespace+".chat_messages").Scan(&oldest)
	if err == nil && oldest.Valid {
		meta.CreatedAt = oldest.Time
	}
	return meta, nil
}

func displayName(project string) string {
	parts := strings.Split(project, "_")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

