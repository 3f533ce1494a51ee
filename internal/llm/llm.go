// Package llm is the text-completion boundary. Each Complete call is a single
// request/response exchange; retries belong to the provider.
package llm

import (
	"context"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	CallerID    string
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

type Response struct {
	Content string
	Model   string
}

type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (Response, error)

func (f ClientFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// StripCodeFence returns the body of the first markdown code fence in value, or
// value trimmed when there is none.
func StripCodeFence(value string) string {
	trimmed := strings.TrimSpace(value)
	start := strings.Index(trimmed, "```")
	if start < 0 {
		return trimmed
	}
	body := trimmed[start+3:]
	if newline := strings.IndexByte(body, '\n'); newline >= 0 {
		tag := strings.TrimSpace(body[:newline])
		if tag == "" || !strings.ContainsAny(tag, " \t;(") {
			body = body[newline+1:]
		}
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.Model) == "" {
		return fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	return nil
}
