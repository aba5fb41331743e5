// Package api exposes the HTTP surface: namespace lifecycle, dataset
// ingestion, schema inspection, and the conversational ask endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tablechat/tablechat/internal/config"
	"github.com/tablechat/tablechat/internal/ingest"
	"github.com/tablechat/tablechat/internal/memory"
	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/pipeline"
	"github.com/tablechat/tablechat/internal/tenant"
)

type ReadinessCheck func(ctx context.Context) error

type TenantStore interface {
	CreateNamespace(ctx context.Context, owner, project string) (tenant.NamespaceInfo, error)
	ListNamespaces(ctx context.Context, owner string) ([]tenant.NamespaceInfo, error)
	DeleteNamespace(ctx context.Context, owner, namespace string) error
	NamespaceExists(ctx context.Context, namespace string) (bool, error)
}

type Ingestor interface {
	Materialize(ctx context.Context, namespace string, ds ingest.Dataset) (ingest.Report, error)
}

type SchemaDescriber interface {
	Describe(ctx context.Context, namespace string, tables ...string) (string, error)
}

type Asker interface {
	Ask(ctx context.Context, run pipeline.Run) ([]pipeline.Answer, error)
}

type SessionStore interface {
	ListSessions(ctx context.Context, namespace string) ([]memory.SessionInfo, error)
	DeleteSession(ctx context.Context, namespace string, sessionID uuid.UUID) error
	ClearHistory(ctx context.Context, namespace string, sessionID uuid.UUID) error
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Tenants           TenantStore
	Ingestor          Ingestor
	Schema            SchemaDescriber
	Pipeline          Asker
	Sessions          SessionStore
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/namespaces", func(w http.ResponseWriter, r *http.Request) {
		handleCreateNamespace(deps, w, r)
	})
	mux.HandleFunc("GET /v1/namespaces", func(w http.ResponseWriter, r *http.Request) {
		handleListNamespaces(deps, w, r)
	})
	mux.HandleFunc("DELETE /v1/namespaces/{namespace}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteNamespace(deps, w, r)
	})
	mux.HandleFunc("POST /v1/namespaces/{namespace}/tables", func(w http.ResponseWriter, r *http.Request) {
		handleIngestTable(deps, w, r)
	})
	mux.HandleFunc("GET /v1/namespaces/{namespace}/schema", func(w http.ResponseWriter, r *http.Request) {
		handleGetSchema(deps, w, r)
	})
	mux.HandleFunc("POST /v1/namespaces/{namespace}/ask", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})
	mux.HandleFunc("GET /v1/namespaces/{namespace}/sessions", func(w http.ResponseWriter, r *http.Request) {
		handleListSessions(deps, w, r)
	})
	mux.HandleFunc("DELETE /v1/namespaces/{namespace}/sessions/{session}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteSession(deps, w, r)
	})
	mux.HandleFunc("POST /v1/namespaces/{namespace}/sessions/{session}/clear", func(w http.ResponseWriter, r *http.Request) {
		handleClearSession(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckDatabaseDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Database.DSN == "" {
			return errors.New("database dsn is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

// userFromRequest resolves the caller identity. Authenticating the header
// value is out of scope here; a gateway in front of the service owns that.
func userFromRequest(r *http.Request) (string, bool) {
	user := strings.TrimSpace(r.Header.Get("X-User-ID"))
	return user, user != ""
}

// resolveNamespace checks that the path namespace exists and belongs to the
// caller. Foreign namespaces surface as not found rather than forbidden, so
// the listing of other owners cannot be probed.
func resolveNamespace(deps Dependencies, w http.ResponseWriter, r *http.Request, owner string) (string, bool) {
	namespace := r.PathValue("namespace")
	cleanOwner, err := tenant.Sanitize(owner)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return "", false
	}
	if !strings.HasPrefix(namespace, tenant.NamespacePrefix+cleanOwner+"_") || !tenant.IsValidIdentifier(namespace) {
		writeError(r.Context(), w, http.StatusNotFound, "NAMESPACE_NOT_FOUND", "namespace not found", false, nil)
		return "", false
	}
	exists, err := deps.Tenants.NamespaceExists(r.Context(), namespace)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return "", false
	}
	if !exists {
		writeError(r.Context(), w, http.StatusNotFound, "NAMESPACE_NOT_FOUND", "namespace not found", false, nil)
		return "", false
	}
	return namespace, true
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, ok := userFromRequest(r)
	if !ok {
		writeError(r.Context(), w, http.StatusUnauthorized, "MISSING_USER", "X-User-ID header is required", false, nil)
		return "", false
	}
	return user, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON", false, nil)
		return false
	}
	return true
}

// writeDomainError maps domain errors to HTTP statuses.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	var validation *tenant.ValidationError
	var protected *tenant.ProtectedResourceError
	switch {
	case errors.As(err, &validation):
		writeError(ctx, w, http.StatusBadRequest, "VALIDATION_FAILED", validation.Error(), false, nil)
	case errors.As(err, &protected):
		writeError(ctx, w, http.StatusForbidden, "PROTECTED_RESOURCE", protected.Error(), false, nil)
	case errors.Is(err, tenant.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "NAMESPACE_NOT_FOUND", "namespace not found", false, nil)
	case errors.Is(err, memory.ErrSessionNotFound):
		writeError(ctx, w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", false, nil)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "internal error", true, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
