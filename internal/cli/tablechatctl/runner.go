// Package tablechatctl implements the operator CLI against the HTTP API.
package tablechatctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	User       string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("tablechatctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "TableChat API base URL")
	user := fs.String("user", defaults.User, "User ID sent as X-User-ID")
	namespace := fs.String("namespace", "", "Namespace for namespace-scoped commands")
	project := fs.String("project", "", "Project name for create-project")
	question := fs.String("question", "", "Question for the ask command")
	session := fs.String("session", "", "Session UUID for ask and session commands")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	method := ""
	path := ""
	var body any
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "projects":
		method, path = http.MethodGet, "/v1/namespaces"
	case "create-project":
		if strings.TrimSpace(*project) == "" {
			_, _ = fmt.Fprintln(stderr, "create-project requires -project")
			return 2
		}
		method, path = http.MethodPost, "/v1/namespaces"
		body = map[string]string{"project": *project}
	case "delete-project":
		if strings.TrimSpace(*namespace) == "" {
			_, _ = fmt.Fprintln(stderr, "delete-project requires -namespace")
			return 2
		}
		method, path = http.MethodDelete, "/v1/namespaces/"+*namespace
	case "schema":
		if strings.TrimSpace(*namespace) == "" {
			_, _ = fmt.Fprintln(stderr, "schema requires -namespace")
			return 2
		}
		method, path = http.MethodGet, "/v1/namespaces/"+*namespace+"/schema"
	case "ask":
		if strings.TrimSpace(*namespace) == "" || strings.TrimSpace(*question) == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires -namespace and -question")
			return 2
		}
		method, path = http.MethodPost, "/v1/namespaces/"+*namespace+"/ask"
		payload := map[string]string{"question": *question}
		if strings.TrimSpace(*session) != "" {
			payload["session_id"] = *session
		}
		body = payload
	case "sessions":
		if strings.TrimSpace(*namespace) == "" {
			_, _ = fmt.Fprintln(stderr, "sessions requires -namespace")
			return 2
		}
		method, path = http.MethodGet, "/v1/namespaces/"+*namespace+"/sessions"
	case "delete-session":
		if strings.TrimSpace(*namespace) == "" || strings.TrimSpace(*session) == "" {
			_, _ = fmt.Fprintln(stderr, "delete-session requires -namespace and -session")
			return 2
		}
		method, path = http.MethodDelete, "/v1/namespaces/"+*namespace+"/sessions/"+*session
	case "clear-session":
		if strings.TrimSpace(*namespace) == "" || strings.TrimSpace(*session) == "" {
			_, _ = fmt.Fprintln(stderr, "clear-session requires -namespace and -session")
			return 2
		}
		method, path = http.MethodPost, "/v1/namespaces/"+*namespace+"/sessions/"+*session+"/clear"
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, *user, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, url, user string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(user) != "" {
		req.Header.Set("X-User-ID", strings.TrimSpace(user))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: tablechatctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health           GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready            GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  projects         GET /v1/namespaces")
	_, _ = fmt.Fprintln(w, "  create-project   POST /v1/namespaces (requires -project)")
	_, _ = fmt.Fprintln(w, "  delete-project   DELETE /v1/namespaces/{namespace} (requires -namespace)")
	_, _ = fmt.Fprintln(w, "  schema           GET /v1/namespaces/{namespace}/schema (requires -namespace)")
	_, _ = fmt.Fprintln(w, "  ask              POST /v1/namespaces/{namespace}/ask (requires -namespace, -question)")
	_, _ = fmt.Fprintln(w, "  sessions         GET /v1/namespaces/{namespace}/sessions (requires -namespace)")
	_, _ = fmt.Fprintln(w, "  delete-session   DELETE .../sessions/{session} (requires -namespace, -session)")
	_, _ = fmt.Fprintln(w, "  clear-session    POST .../sessions/{session}/clear (requires -namespace, -session)")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
