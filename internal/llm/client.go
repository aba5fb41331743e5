// Package llm abstracts the chat-completion provider behind one interface
// covering every model-backed operation the answering pipeline needs.
package llm

import (
	"context"
	"fmt"
)

// Intent is the routing decision for an incoming question.
type Intent string

const (
	IntentDatabaseQuery Intent = "database-query"
	IntentGeneralChat   Intent = "general-chat"
)

// ResultSet mirrors an executed query's output for prompt construction.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// GenerationError wraps a provider failure with the operation that hit it.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

type Client interface {
	// ClassifyIntent routes a question. Ambiguous output resolves to
	// IntentDatabaseQuery.
	ClassifyIntent(ctx context.Context, question, history string) (Intent, error)

	// GenerateSQL produces one SELECT statement for the question, grounded
	// on the schema text.
	GenerateSQL(ctx context.Context, question, schemaText, history string) (string, error)

	// RegenerateSQLAfterEmpty retries generation after an empty result,
	// feeding back the failed statement so the model can fix its filters.
	RegenerateSQLAfterEmpty(ctx context.Context, failedSQL, question, schemaText, history string) (string, error)

	// SynthesizeAnswer turns results into a prose answer to the question.
	SynthesizeAnswer(ctx context.Context, question, sqlQuery string, result ResultSet) (string, error)

	// DescribeRows narrates the leading rows of a result set.
	DescribeRows(ctx context.Context, question string, result ResultSet, maxRows int) (string, error)

	// GeneralChatReply answers without touching the database.
	GeneralChatReply(ctx context.Context, question, history string) (string, error)

	// Summarize condenses text while keeping numbers and findings.
	Summarize(ctx context.Context, text string) (string, error)
}
