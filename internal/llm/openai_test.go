package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStripMarkdownSQL(t *testing.T) {
	got := stripMarkdownSQL("```sql\nSELECT 1;\n```")
	if got != "SELECT 1;" {
		t.Fatalf("stripMarkdownSQL() = %q", got)
	}
	if got := stripMarkdownSQL("  SELECT 2  "); got != "SELECT 2" {
		t.Fatalf("stripMarkdownSQL() = %q", got)
	}
}

func newStubServer(t *testing.T, reply string, capture *map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if capture != nil {
			var payload map[string]any
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("decode request: %v", err)
			}
			*capture = payload
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": reply}},
			},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, server *httptest.Server) *OpenAIClient {
	t.Helper()
	client, err := NewOpenAIClient(OpenAIConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "test-model",
	})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	return client
}

func TestClassifyIntentParsesGeneralChat(t *testing.T) {
	server := newStubServer(t, "GENERAL_CHAT", nil)
	client := newTestClient(t, server)

	intent, err := client.ClassifyIntent(context.Background(), "hello there", "")
	if err != nil {
		t.Fatalf("ClassifyIntent() error = %v", err)
	}
	if intent != IntentGeneralChat {
		t.Fatalf("intent = %q", intent)
	}
}

func TestClassifyIntentPrefersDatabaseWhenBothTokensPresent(t *testing.T) {
	server := newStubServer(t, "NEEDS_DATABASE (not GENERAL_CHAT)", nil)
	client := newTestClient(t, server)

	intent, err := client.ClassifyIntent(context.Background(), "show me shoes", "")
	if err != nil {
		t.Fatalf("ClassifyIntent() error = %v", err)
	}
	if intent != IntentDatabaseQuery {
		t.Fatalf("intent = %q, want database-query when both tokens appear", intent)
	}
}

func TestClassifyIntentDefaultsToDatabaseQuery(t *testing.T) {
	server := newStubServer(t, "maybe? hard to say", nil)
	client := newTestClient(t, server)

	intent, err := client.ClassifyIntent(context.Background(), "show me shoes", "")
	if err != nil {
		t.Fatalf("ClassifyIntent() error = %v", err)
	}
	if intent != IntentDatabaseQuery {
		t.Fatalf("intent = %q, want database-query on ambiguous output", intent)
	}
}

func TestGenerateSQLStripsFences(t *testing.T) {
	var payload map[string]any
	server := newStubServer(t, "```sql\nSELECT * FROM orders\n```", &payload)
	client := newTestClient(t, server)

	sql, err := client.GenerateSQL(context.Background(), "show orders", "Table: orders", "")
	if err != nil {
		t.Fatalf("GenerateSQL() error = %v", err)
	}
	if sql != "SELECT * FROM orders" {
		t.Fatalf("sql = %q", sql)
	}

	messages, ok := payload["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("messages = %v", payload["messages"])
	}
	user := messages[1].(map[string]any)["content"].(string)
	if !strings.Contains(user, "Table: orders") {
		t.Fatalf("schema missing from prompt: %q", user)
	}
	if !strings.Contains(user, "USER QUESTION: show orders") {
		t.Fatalf("question missing from prompt: %q", user)
	}
}

func TestGenerateSQLRejectsEmptyReply(t *testing.T) {
	server := newStubServer(t, "```sql\n```", nil)
	client := newTestClient(t, server)

	if _, err := client.GenerateSQL(context.Background(), "q", "schema", ""); err == nil {
		t.Fatal("expected error for empty SQL reply")
	}
}

func TestRegenerateSQLAfterEmptyIncludesFailedQuery(t *testing.T) {
	var payload map[string]any
	server := newStubServer(t, "SELECT * FROM orders WHERE city = 'Vienna'", &payload)
	client := newTestClient(t, server)

	sql, err := client.RegenerateSQLAfterEmpty(context.Background(),
		"SELECT * FROM orders WHERE city = 'Wien'", "orders from Vienna", "Table: orders", "")
	if err != nil {
		t.Fatalf("RegenerateSQLAfterEmpty() error = %v", err)
	}
	if !strings.Contains(sql, "Vienna") {
		t.Fatalf("sql = %q", sql)
	}
	user := payload["messages"].([]any)[1].(map[string]any)["content"].(string)
	if !strings.Contains(user, "SELECT * FROM orders WHERE city = 'Wien'") {
		t.Fatalf("failed query missing from prompt: %q", user)
	}
}

func TestSynthesizeAnswerReportsEmptyResults(t *testing.T) {
	var payload map[string]any
	server := newStubServer(t, "Nothing matched.", &payload)
	client := newTestClient(t, server)

	answer, err := client.SynthesizeAnswer(context.Background(), "orders from Linz", "SELECT 1", ResultSet{Columns: []string{"city"}})
	if err != nil {
		t.Fatalf("SynthesizeAnswer() error = %v", err)
	}
	if answer != "Nothing matched." {
		t.Fatalf("answer = %q", answer)
	}
	user := payload["messages"].([]any)[1].(map[string]any)["content"].(string)
	if !strings.Contains(user, "No results found.") {
		t.Fatalf("empty marker missing from prompt: %q", user)
	}
}

func TestDescribeRowsShortCircuitsOnEmptyData(t *testing.T) {
	server := newStubServer(t, "unused", nil)
	client := newTestClient(t, server)

	got, err := client.DescribeRows(context.Background(), "q", ResultSet{}, 10)
	if err != nil {
		t.Fatalf("DescribeRows() error = %v", err)
	}
	if got != "No data available to describe." {
		t.Fatalf("got = %q", got)
	}
}

func TestCompleteSurfacesHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)
	client := newTestClient(t, server)

	_, err := client.Summarize(context.Background(), "some long text")
	if err == nil {
		t.Fatal("expected error on HTTP failure")
	}
	if !strings.Contains(err.Error(), "status=429") {
		t.Fatalf("error = %v", err)
	}
}

func TestNewOpenAIClientValidation(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{APIKey: "k"}); err == nil {
		t.Fatal("expected error for missing base URL")
	}
	if _, err := NewOpenAIClient(OpenAIConfig{BaseURL: "http://x"}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
