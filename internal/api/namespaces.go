package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/tablechat/tablechat/internal/ingest"
	"github.com/tablechat/tablechat/internal/tenant"
)

type createNamespaceRequest struct {
	Project string `json:"project"`
}

type namespaceResponse struct {
	Namespace   string `json:"namespace"`
	Owner       string `json:"owner"`
	Project     string `json:"project"`
	DisplayName string `json:"display_name"`
	TableCount  int    `json:"table_count"`
	TotalRows   int64  `json:"total_rows"`
	CreatedAt   string `json:"created_at"`
}

func toNamespaceResponse(info tenant.NamespaceInfo) namespaceResponse {
	createdAt := "unknown"
	if !info.CreatedAt.IsZero() {
		createdAt = info.CreatedAt.UTC().Format(time.RFC3339)
	}
	return namespaceResponse{
		Namespace:   info.NamespaceID,
		Owner:       info.Owner,
		Project:     info.Project,
		DisplayName: info.DisplayName,
		TableCount:  info.TableCount,
		TotalRows:   info.TotalRows,
		CreatedAt:   createdAt,
	}
}

func handleCreateNamespace(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createNamespaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	info, err := deps.Tenants.CreateNamespace(r.Context(), owner, req.Project)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toNamespaceResponse(info))
}

func handleListNamespaces(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUser(w, r)
	if !ok {
		return
	}

	infos, err := deps.Tenants.ListNamespaces(r.Context(), owner)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	namespaces := make([]namespaceResponse, 0, len(infos))
	for _, info := range infos {
		namespaces = append(namespaces, toNamespaceResponse(info))
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespaces": namespaces})
}

func handleDeleteNamespace(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := deps.Tenants.DeleteNamespace(r.Context(), owner, r.PathValue("namespace")); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type ingestTableRequest struct {
	Table   string     `json:"table"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

func handleIngestTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUser(w, r)
	if !ok {
		return
	}
	namespace, ok := resolveNamespace(deps, w, r, owner)
	if !ok {
		return
	}
	var req ingestTableRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	report, err := deps.Ingestor.Materialize(r.Context(), namespace, ingest.Dataset{
		Table:   req.Table,
		Columns: req.Columns,
		Rows:    req.Rows,
	})
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	columns := make([]map[string]string, 0, len(report.Columns))
	for _, col := range report.Columns {
		columns = append(columns, map[string]string{"name": col.Name, "type": col.Type})
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"table":     report.Table,
		"columns":   columns,
		"row_count": report.RowCount,
	})
}

// tableFilter parses the optional comma-separated "tables" query parameter.
func tableFilter(r *http.Request) []string {
	raw := r.URL.Query().Get("tables")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var tables []string
	for _, part := range strings.Split(raw, ",") {
		if cleaned := strings.TrimSpace(part); cleaned != "" {
			tables = append(tables, cleaned)
		}
	}
	return tables
}

func handleGetSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUser(w, r)
	if !ok {
		return
	}
	namespace, ok := resolveNamespace(deps, w, r, owner)
	if !ok {
		return
	}

	schemaText, err := deps.Schema.Describe(r.Context(), namespace, tableFilter(r)...)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"namespace": namespace,
		"schema":    schemaText,
	})
}
