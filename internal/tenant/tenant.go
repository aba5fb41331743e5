// Package tenant defines the namespace model for the multi-tenant store:
// every (owner, project) pair maps to one isolated Postgres schema that owns
// the project's data tables and its conversation store.
package tenant

import (
	"errors"
	"fmt"
	"time"
)

// NamespacePrefix marks every schema managed by this service. Schemas without
// the prefix are never created, listed, or dropped.
const NamespacePrefix = "proj_"

// MaxIdentifierLength is the engine's identifier ceiling.
const MaxIdentifierLength = 63

var ErrNotFound = errors.New("namespace not found")

// ValidationError reports malformed identifiers or names. It is recoverable
// and surfaced to the caller as a user-facing message.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProtectedResourceError reports an attempted mutation of a namespace that is
// outside the service's ownership. It is never downgraded.
type ProtectedResourceError struct {
	Namespace string
	Reason    string
}

func (e *ProtectedResourceError) Error() string {
	return fmt.Sprintf("namespace %q is protected: %s", e.Namespace, e.Reason)
}

// protectedSchemas can never be dropped regardless of prefix.
var protectedSchemas = map[string]struct{}{
	"public":             {},
	"information_schema": {},
	"pg_catalog":         {},
	"pg_toast":           {},
}

func IsProtectedSchema(name string) bool {
	_, ok := protectedSchemas[name]
	return ok
}

// internalTables are the conversation-store tables present in every
// namespace. They are excluded from row counts and from value enrichment.
var internalTables = map[string]struct{}{
	"chat_sessions":                  {},
	"chat_messages":                  {},
	"conversation_schema_migrations": {},
}

func IsInternalTable(name string) bool {
	_, ok := internalTables[name]
	return ok
}

type NamespaceInfo struct {
	NamespaceID string
	Owner       string
	Project     string
	DisplayName string
	TableCount  int
	TotalRows   int64
	// CreatedAt is derived opportunistically from the oldest conversation
	// row; zero when nothing recoverable exists yet.
	CreatedAt time.Time
}

type Metadata struct {
	TableCount int
	TotalRows  int64
	CreatedAt  time.Time
}
