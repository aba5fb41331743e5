package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OpenAIClient talks to any chat-completions-compatible endpoint.
type OpenAIClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIClient{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

// Wire tokens for intent classification. The prompt forces one of the two.
const (
	tokenNeedsDatabase = "NEEDS_DATABASE"
	tokenGeneralChat   = "GENERAL_CHAT"
)

func (c *OpenAIClient) ClassifyIntent(ctx context.Context, question, history string) (Intent, error) {
	if history == "" {
		history = "No previous conversation"
	}
	system := "You are an intent classifier for a data query chatbot. " +
		"Your primary purpose is to help users query their database. " +
		"BIAS TOWARD '" + tokenNeedsDatabase + "': only use '" + tokenGeneralChat + "' for clear non-data messages like greetings or thanks. " +
		"Return ONLY '" + tokenNeedsDatabase + "' or '" + tokenGeneralChat + "'."
	user := fmt.Sprintf(`Previous conversation:
%s

Current user message: %q

Classify this message.
1. Requests to show, find, list, count, or retrieve data are %s.
2. Mentions of data entities like products, sales, orders, or prices are %s.
3. Only greetings, thanks, and questions about SQL concepts are %s.
When in doubt, return %s.

Return ONLY one word.`, history, question, tokenNeedsDatabase, tokenNeedsDatabase, tokenGeneralChat, tokenNeedsDatabase)

	reply, err := c.complete(ctx, 0.0, system, user)
	if err != nil {
		return "", &GenerationError{Op: "classify intent", Err: err}
	}
	// The database token wins when the model emits both, and anything else,
	// including malformed output, routes to the database as well.
	upper := strings.ToUpper(reply)
	if strings.Contains(upper, tokenNeedsDatabase) {
		return IntentDatabaseQuery, nil
	}
	if strings.Contains(upper, tokenGeneralChat) {
		return IntentGeneralChat, nil
	}
	return IntentDatabaseQuery, nil
}

func (c *OpenAIClient) GenerateSQL(ctx context.Context, question, schemaText, history string) (string, error) {
	system := "You are a SQL expert. Generate ONLY valid PostgreSQL SELECT queries.\n" +
		"Rules:\n" +
		"1. Return ONLY the SQL query, no explanations or markdown\n" +
		"2. Use SELECT statements ONLY\n" +
		"3. NO INSERT, UPDATE, DELETE, DROP, ALTER, CREATE, or TRUNCATE\n" +
		"4. Base your query strictly on the provided schema\n" +
		"5. When filtering text columns, use ONLY the 'Possible Values' shown in the schema"

	var b strings.Builder
	if history != "" {
		b.WriteString(history)
		b.WriteString("\n\n")
	}
	b.WriteString(schemaText)
	b.WriteString("\n\nUSER QUESTION: ")
	b.WriteString(question)
	b.WriteString("\n\nGenerate a SQL query to answer this question.")

	reply, err := c.complete(ctx, 0.1, system, b.String())
	if err != nil {
		return "", &GenerationError{Op: "generate sql", Err: err}
	}
	sql := stripMarkdownSQL(reply)
	if strings.TrimSpace(sql) == "" {
		return "", &GenerationError{Op: "generate sql", Err: fmt.Errorf("model returned empty SQL")}
	}
	return sql, nil
}

func (c *OpenAIClient) RegenerateSQLAfterEmpty(ctx context.Context, failedSQL, question, schemaText, history string) (string, error) {
	system := "You are a SQL expert fixing a failed query. " +
		"The previous query returned 0 results due to invalid filter values. " +
		"Use ONLY the 'Possible Values' explicitly listed in the schema. " +
		"Return ONLY the corrected SQL query, no explanations."

	user := fmt.Sprintf(`The previous query returned 0 results. This likely means a filter value does not exist in the data.

FAILED QUERY:
%s

ORIGINAL QUESTION:
%s

%s

%s

INSTRUCTIONS FOR RETRY:
1. Check whether the failed query filters on a value that is not in the 'Possible Values' list
2. Use ONLY values explicitly listed in the schema
3. If the question mentions a value not in the schema, pick the closest listed value
4. Consider ILIKE '%%pattern%%' for partial matching when no exact value fits

Generate the corrected SQL query now:`, failedSQL, question, schemaText, history)

	reply, err := c.complete(ctx, 0.1, system, user)
	if err != nil {
		return "", &GenerationError{Op: "regenerate sql", Err: err}
	}
	sql := stripMarkdownSQL(reply)
	if strings.TrimSpace(sql) == "" {
		return "", &GenerationError{Op: "regenerate sql", Err: fmt.Errorf("model returned empty SQL")}
	}
	return sql, nil
}

func (c *OpenAIClient) SynthesizeAnswer(ctx context.Context, question, sqlQuery string, result ResultSet) (string, error) {
	system := "You are a helpful assistant that explains database query results. " +
		"Provide concise, natural language answers based on the data. " +
		"Do NOT include the SQL query in your response. " +
		"If there are no results, say so clearly. " +
		"List specific details for the leading items found."

	var b strings.Builder
	fmt.Fprintf(&b, "User asked: %s\n\nSQL Query executed: %s\n\nQuery Results:\n", question, sqlQuery)
	if len(result.Rows) == 0 {
		b.WriteString("No results found.\n")
	} else {
		fmt.Fprintf(&b, "Columns: %s\nNumber of rows: %d\n\n", strings.Join(result.Columns, ", "), len(result.Rows))
		shown := len(result.Rows)
		if shown > 10 {
			shown = 10
		}
		for i := 0; i < shown; i++ {
			fmt.Fprintf(&b, "Row %d: %s\n", i+1, formatRow(result.Rows[i]))
		}
		if len(result.Rows) > shown {
			fmt.Fprintf(&b, "... and %d more rows\n", len(result.Rows)-shown)
		}
	}
	b.WriteString("\nProvide a clear, concise answer to the user's question based on these results.")

	reply, err := c.complete(ctx, 0.3, system, b.String())
	if err != nil {
		return "", &GenerationError{Op: "synthesize answer", Err: err}
	}
	return reply, nil
}

func (c *OpenAIClient) DescribeRows(ctx context.Context, question string, result ResultSet, maxRows int) (string, error) {
	if len(result.Rows) == 0 || len(result.Columns) == 0 {
		return "No data available to describe.", nil
	}
	if maxRows <= 0 {
		maxRows = 10
	}
	shown := len(result.Rows)
	if shown > maxRows {
		shown = maxRows
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nColumn Names: %s\n\nData (%d rows):\n", question, strings.Join(result.Columns, ", "), shown)
	for i := 0; i < shown; i++ {
		fmt.Fprintf(&b, "\nRow %d:\n", i+1)
		for j, col := range result.Columns {
			if j < len(result.Rows[i]) {
				fmt.Fprintf(&b, "  - %s: %v\n", col, result.Rows[i][j])
			}
		}
	}
	if len(result.Rows) > shown {
		fmt.Fprintf(&b, "\n... and %d more rows not shown", len(result.Rows)-shown)
	}

	system := "You are a data storyteller describing database results in a natural, conversational way.\n" +
		"Write in a narrative style, highlight notable items and patterns, use bullet points for clarity, " +
		"and keep each item to a few sentences."

	reply, err := c.complete(ctx, 0.4, system, "Describe this data in a friendly, readable way:\n\n"+b.String())
	if err != nil {
		return "", &GenerationError{Op: "describe rows", Err: err}
	}
	return reply, nil
}

func (c *OpenAIClient) GeneralChatReply(ctx context.Context, question, history string) (string, error) {
	system := "You are a helpful data assistant chatbot. Your main purpose is to help users query and " +
		"analyze their data using natural language. Be friendly and concise, keep responses to a few " +
		"sentences, and remind the user you can answer questions about their uploaded data when relevant."
	if history != "" {
		system += "\n\nPrevious conversation context:\n" + history
	}

	reply, err := c.complete(ctx, 0.7, system, question)
	if err != nil {
		return "", &GenerationError{Op: "general chat", Err: err}
	}
	return reply, nil
}

func (c *OpenAIClient) Summarize(ctx context.Context, text string) (string, error) {
	system := "You are a text summarizer. Summarize the given text in 1-2 concise sentences. " +
		"Keep specific numbers, filters, data findings, and key facts. " +
		"Remove polite filler text and greetings. Be direct and factual."

	reply, err := c.complete(ctx, 0.1, system, "Summarize this: "+text)
	if err != nil {
		return "", &GenerationError{Op: "summarize", Err: err}
	}
	return reply, nil
}

func (c *OpenAIClient) complete(ctx context.Context, temperature float64, system, user string) (string, error) {
	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty chat completion choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func formatRow(row []any) string {
	parts := make([]string, len(row))
	for i, value := range row {
		text := fmt.Sprintf("%v", value)
		if len(text) > 100 {
			text = text[:100]
		}
		parts[i] = text
	}
	return strings.Join(parts, ", ")
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
