package edusqlctl

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
	APIKey     string
	CallerID   string
	CallerRole string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type call struct {
	method string
	path   string
	body   any
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

	fs := flag.NewFlagSet("edusqlctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "edusql API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	callerID := fs.String("caller-id", defaults.CallerID, "caller id header (used when auth is disabled)")
	callerRole := fs.String("role", defaults.CallerRole, "caller role header (used when auth is disabled)")
	sessionID := fs.String("session-id", "", "session id to continue (ask only)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	command := strings.TrimSpace(fs.Arg(0))
	argument := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
	var c call
	switch command {
	case "health":
		c = call{method: http.MethodGet, path: "/v1/health"}
	case "ready":
		c = call{method: http.MethodGet, path: "/v1/ready"}
	case "tables":
		c = call{method: http.MethodGet, path: "/v1/tables"}
	case "ask":
		if argument == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires a question")
			return 2
		}
		body := map[string]any{"text": argument}
		if s := strings.TrimSpace(*sessionID); s != "" {
			body["session_id"] = s
		}
		c = call{method: http.MethodPost, path: "/v1/query/ask", body: body}
	case "validate":
		if argument == "" {
			_, _ = fmt.Fprintln(stderr, "validate requires a SQL statement")
			return 2
		}
		c = call{method: http.MethodPost, path: "/v1/sql/validate", body: map[string]any{"sql": argument}}
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}
	headers := map[string]string{
		"X-API-Key":     strings.TrimSpace(*apiKey),
		"X-Caller-ID":   strings.TrimSpace(*callerID),
		"X-Caller-Role": strings.TrimSpace(*callerRole),
	}

	endpoint := strings.TrimRight(*baseURL, "/") + c.path
	code, responseBody, err := doRequest(ctx, client, c, endpoint, headers)
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

func doRequest(ctx context.Context, client *http.Client, c call, url string, headers map[string]string) (int, []byte, error) {
	var body io.Reader
	if c.body != nil {
		payload, err := json.Marshal(c.body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range headers {
		if value != "" {
			req.Header.Set(name, value)
		}
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
	var out bytes.Buffer
	encoder := json.NewEncoder(&out)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(anyValue); err != nil {
		return "", false
	}
	return strings.TrimRight(out.String(), "\n"), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: edusqlctl [flags] <command> [argument]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health           GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready            GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  tables           GET /v1/tables")
	_, _ = fmt.Fprintln(w, "  ask <text>       POST /v1/query/ask")
	_, _ = fmt.Fprintln(w, "  validate <sql>   POST /v1/sql/validate")
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
