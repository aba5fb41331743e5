// Package pipeline orchestrates question answering: intent routing, SQL
// generation behind the safety gate, read-only execution with a single
// empty-result retry, and answer synthesis. Every terminal path stores both
// the user turn and the assistant turn, so the conversation record never
// has holes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tablechat/tablechat/internal/executor"
	"github.com/tablechat/tablechat/internal/llm"
	"github.com/tablechat/tablechat/internal/memory"
	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/sqlgate"
)

// Grounder renders a namespace schema as prompt text.
type Grounder interface {
	Describe(ctx context.Context, namespace string, tables ...string) (string, error)
}

// Executor runs one gated statement inside a namespace.
type Executor interface {
	Execute(ctx context.Context, namespace, query string) (executor.Result, error)
}

// Memory covers the conversation operations the pipeline needs.
type Memory interface {
	Append(ctx context.Context, namespace string, sessionID uuid.UUID, role, content string) error
	ReadContext(ctx context.Context, namespace string, sessionID uuid.UUID) (string, error)
}

type Config struct {
	DescribeRowLimit int
}

type Pipeline struct {
	grounder Grounder
	exec     Executor
	memory   Memory
	client   llm.Client
	cfg      Config
	logger   *slog.Logger
}

func New(grounder Grounder, exec Executor, mem Memory, client llm.Client, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.DescribeRowLimit <= 0 {
		cfg.DescribeRowLimit = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{grounder: grounder, exec: exec, memory: mem, client: client, cfg: cfg, logger: logger}
}

// Run is one incoming message against a namespace session.
type Run struct {
	Namespace string
	SessionID uuid.UUID
	Question  string
}

// Answer is the outcome for one sub-question.
type Answer struct {
	Question string     `json:"question"`
	Intent   llm.Intent `json:"intent"`
	SQL      string     `json:"sql,omitempty"`
	Text     string     `json:"answer"`
	Overview string     `json:"overview,omitempty"`
	RowCount int        `json:"row_count"`
	Retried  bool       `json:"retried"`
	Failed   bool       `json:"failed,omitempty"`
}

var questionSplitPattern = regexp.MustCompile(`[?\n]+`)

// SplitQuestions breaks compound input on question marks and newlines,
// restoring the trailing question mark each fragment lost to the split.
func SplitQuestions(input string) []string {
	var questions []string
	for _, part := range questionSplitPattern.Split(input, -1) {
		cleaned := strings.TrimSpace(part)
		if cleaned == "" {
			continue
		}
		if !strings.HasSuffix(cleaned, "?") {
			cleaned += "?"
		}
		questions = append(questions, cleaned)
	}
	if len(questions) == 0 {
		return []string{strings.TrimSpace(input)}
	}
	return questions
}

// Ask answers every sub-question of the input in order.
func (p *Pipeline) Ask(ctx context.Context, run Run) ([]Answer, error) {
	if strings.TrimSpace(run.Question) == "" {
		return nil, fmt.Errorf("question is empty")
	}

	questions := SplitQuestions(run.Question)
	answers := make([]Answer, 0, len(questions))
	for _, question := range questions {
		answers = append(answers, p.answerOne(ctx, run.Namespace, run.SessionID, question))
	}
	return answers, nil
}

func (p *Pipeline) answerOne(ctx context.Context, namespace string, sessionID uuid.UUID, question string) Answer {
	started := time.Now()

	history, err := p.memory.ReadContext(ctx, namespace, sessionID)
	if err != nil {
		p.logger.Warn("reading conversation context failed, continuing without it",
			slog.String("namespace", namespace), slog.String("error", err.Error()))
		history = ""
	}

	intent, err := p.client.ClassifyIntent(ctx, question, history)
	if err != nil {
		// Routing failures never block the user; the database branch is
		// the productive default.
		p.logger.Warn("intent classification failed, assuming database query",
			slog.String("namespace", namespace), slog.String("error", err.Error()))
		intent = llm.IntentDatabaseQuery
	}

	var answer Answer
	if intent == llm.IntentGeneralChat {
		answer = p.generalChat(ctx, namespace, sessionID, question, history)
	} else {
		answer = p.databaseQuery(ctx, namespace, sessionID, question, history)
	}
	answer.Intent = intent

	observability.ObserveQuestion(string(intent), time.Since(started))
	return answer
}

func (p *Pipeline) generalChat(ctx context.Context, namespace string, sessionID uuid.UUID, question, history string) Answer {
	reply, err := p.client.GeneralChatReply(ctx, question, history)
	if err != nil {
		p.logger.Warn("general chat reply failed, using canned fallback",
			slog.String("namespace", namespace), slog.String("error", err.Error()))
		reply = "I'm here to help you query and analyze your data. Feel free to ask me any questions about your uploaded data!"
	}
	p.storeTurns(ctx, namespace, sessionID, question, reply)
	return Answer{Question: question, Text: reply}
}

func (p *Pipeline) databaseQuery(ctx context.Context, namespace string, sessionID uuid.UUID, question, history string) Answer {
	schemaText, err := p.grounder.Describe(ctx, namespace)
	if err != nil {
		return p.fail(ctx, namespace, sessionID, question, "ground",
			"I could not read the schema of this project, so I cannot answer data questions right now.", err)
	}

	statement, err := p.client.GenerateSQL(ctx, question, schemaText, history)
	if err != nil {
		return p.fail(ctx, namespace, sessionID, question, "generate",
			"I could not generate a query for that question. Try rephrasing it.", err)
	}

	if ok, reason := sqlgate.Validate(statement); !ok {
		observability.IncrementGateRejection()
		return p.fail(ctx, namespace, sessionID, question, "gate",
			fmt.Sprintf("The generated query was blocked by the safety check: %s.", reason), nil)
	}

	result, err := p.exec.Execute(ctx, namespace, statement)
	if err != nil {
		return p.fail(ctx, namespace, sessionID, question, "execute",
			"The query failed to run against your data. Try rephrasing the question.", err)
	}

	retried := false
	if result.Empty() {
		if corrected, retriedResult, ok := p.retryEmpty(ctx, namespace, sessionID, question, statement, schemaText); ok {
			statement = corrected
			result = retriedResult
			retried = true
			observability.IncrementEmptyResultRecovery()
		}
	}

	resultSet := llm.ResultSet{Columns: result.Columns, Rows: result.Rows}

	overview := ""
	if !result.Empty() {
		overview, err = p.client.DescribeRows(ctx, question, resultSet, p.cfg.DescribeRowLimit)
		if err != nil {
			// The overview is garnish; the synthesized answer still carries
			// the result.
			p.logger.Warn("data overview generation failed",
				slog.String("namespace", namespace), slog.String("error", err.Error()))
			overview = ""
		}
	}

	text, err := p.client.SynthesizeAnswer(ctx, question, statement, resultSet)
	if err != nil {
		return p.fail(ctx, namespace, sessionID, question, "synthesize",
			"I ran the query but could not phrase the answer. Please try again.", err)
	}

	stored := text
	if overview != "" {
		stored = overview + "\n\n" + text
	}
	p.storeTurns(ctx, namespace, sessionID, question, stored)

	return Answer{
		Question: question,
		SQL:      statement,
		Text:     text,
		Overview: overview,
		RowCount: len(result.Rows),
		Retried:  retried,
	}
}

// retryEmpty runs the one permitted regeneration after an empty result. The
// question stays the original; only the statement changes. Any failure along
// the way keeps the empty result.
func (p *Pipeline) retryEmpty(ctx context.Context, namespace string, sessionID uuid.UUID, question, failedSQL, schemaText string) (string, executor.Result, bool) {
	observability.IncrementEmptyResultRetry()

	history, err := p.memory.ReadContext(ctx, namespace, sessionID)
	if err != nil {
		history = ""
	}

	corrected, err := p.client.RegenerateSQLAfterEmpty(ctx, failedSQL, question, schemaText, history)
	if err != nil {
		p.logger.Warn("empty-result regeneration failed",
			slog.String("namespace", namespace), slog.String("error", err.Error()))
		return "", executor.Result{}, false
	}
	if ok, reason := sqlgate.Validate(corrected); !ok {
		observability.IncrementGateRejection()
		p.logger.Warn("regenerated query failed the safety gate",
			slog.String("namespace", namespace), slog.String("reason", reason))
		return "", executor.Result{}, false
	}

	result, err := p.exec.Execute(ctx, namespace, corrected)
	if err != nil {
		p.logger.Warn("regenerated query failed to execute",
			slog.String("namespace", namespace), slog.String("error", err.Error()))
		return "", executor.Result{}, false
	}
	if result.Empty() {
		return "", executor.Result{}, false
	}
	return corrected, result, true
}

func (p *Pipeline) fail(ctx context.Context, namespace string, sessionID uuid.UUID, question, state, userText string, cause error) Answer {
	observability.IncrementPipelineFailure(state)
	if cause != nil {
		p.logger.Error("question answering failed",
			slog.String("namespace", namespace),
			slog.String("state", state),
			slog.String("error", cause.Error()))
	}
	p.storeTurns(ctx, namespace, sessionID, question, userText)
	return Answer{Question: question, Text: userText, Failed: true}
}

func (p *Pipeline) storeTurns(ctx context.Context, namespace string, sessionID uuid.UUID, question, reply string) {
	if err := p.memory.Append(ctx, namespace, sessionID, memory.RoleUser, question); err != nil {
		p.logger.Warn("storing user turn failed",
			slog.String("namespace", namespace), slog.String("error", err.Error()))
	}
	if err := p.memory.Append(ctx, namespace, sessionID, memory.RoleAssistant, reply); err != nil {
		p.logger.Warn("storing assistant turn failed",
			slog.String("namespace", namespace), slog.String("error", err.Error()))
	}
}
