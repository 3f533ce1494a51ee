package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/edusql/edusql/internal/config"
)

func TestStripCodeFence(t *testing.T) {
	tests := map[string]string{
		"```sql\nSELECT 1;\n```":                "SELECT 1;",
		"```json\n{\"a\":1}\n```":               `{"a":1}`,
		"```\nSELECT 2\n```":                    "SELECT 2",
		"Here you go:\n```sql\nSELECT 3\n```\n": "SELECT 3",
		"  SELECT 4  ":                          "SELECT 4",
		"```SELECT * FROM students;\n```":       "SELECT * FROM students;",
		"```SELECT 5```":                        "SELECT 5",
	}
	for input, want := range tests {
		if got := StripCodeFence(input); got != want {
			t.Fatalf("StripCodeFence(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestOpenAIClientComplete(t *testing.T) {
	var captured chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"gpt-4o-2024","choices":[{"message":{"content":"hello"}}]}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL + "/", APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	resp, err := client.Complete(context.Background(), Request{
		CallerID:    "u-1",
		Model:       "gpt-4o",
		Messages:    []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}},
		Temperature: 0.7,
		MaxTokens:   100,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "hello" || resp.Model != "gpt-4o-2024" {
		t.Fatalf("resp = %+v", resp)
	}
	if captured.Model != "gpt-4o" || captured.User != "u-1" || captured.MaxTokens != 100 || captured.Temperature != 0.7 {
		t.Fatalf("captured = %+v", captured)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != RoleSystem {
		t.Fatalf("messages = %+v", captured.Messages)
	}
}

func TestOpenAIClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "status", status: http.StatusTooManyRequests, body: `{"error":"slow down"}`, want: "status=429"},
		{name: "decode", status: http.StatusOK, body: `not json`, want: "decode"},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, want: "empty chat completion choices"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "k"})
			if err != nil {
				t.Fatalf("NewOpenAIClient() error = %v", err)
			}
			_, err = client.Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Complete() error = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestOpenAIClientRequiresConfig(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{APIKey: "k"}); err == nil {
		t.Fatal("expected base URL error")
	}
	if _, err := NewOpenAIClient(OpenAIConfig{BaseURL: "http://x"}); err == nil {
		t.Fatal("expected api key error")
	}
	client, _ := NewOpenAIClient(OpenAIConfig{BaseURL: "http://x", APIKey: "k"})
	if _, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}}); err == nil {
		t.Fatal("expected model error")
	}
}

func TestSplitGeminiMessages(t *testing.T) {
	system, parts := splitGeminiMessages([]Message{
		{Role: RoleSystem, Content: "rule one"},
		{Role: RoleSystem, Content: "rule two"},
		{Role: RoleUser, Content: "question"},
		{Role: RoleUser, Content: "  "},
	})
	if system != "rule one\n\nrule two" {
		t.Fatalf("system = %q", system)
	}
	if len(parts) != 1 || parts[0] != genai.Text("question") {
		t.Fatalf("parts = %#v", parts)
	}
}

func TestGeminiResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("SELECT "), genai.Text("1")}}},
		{Content: nil},
	}}
	if got := responseText(resp); got != "SELECT 1" {
		t.Fatalf("responseText() = %q", got)
	}
	if got := responseText(nil); got != "" {
		t.Fatalf("responseText(nil) = %q", got)
	}
}

func TestFromConfigRejectsUnknownProvider(t *testing.T) {
	if _, err := FromConfig(context.Background(), config.AIConfig{Provider: "local"}); err == nil {
		t.Fatal("expected error")
	}
	client, err := FromConfig(context.Background(), config.AIConfig{Provider: "openai", BaseURL: "http://x", APIKey: "k"})
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	if _, ok := client.(*OpenAIClient); !ok {
		t.Fatalf("client = %T", client)
	}
}
