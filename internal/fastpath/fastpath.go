// Package fastpath calls the optimized-query service that may answer a question
// end to end before the standard pipeline runs.
package fastpath

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrDisabled = errors.New("fastpath: no endpoint configured")

type Config struct {
	URL     string
	Timeout time.Duration
}

type Request struct {
	Text       string `json:"text"`
	CallerID   string `json:"caller_id"`
	CallerRole string `json:"caller_role"`
	SessionID  string `json:"session_id,omitempty"`
}

// Result is an accepted answer. Body is the raw JSON object returned by the
// service and already matches the answer envelope.
type Result struct {
	Type string
	Body json.RawMessage
}

type Client struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// New returns a client; an empty URL yields a client whose Ask always fails
// with ErrDisabled.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		url:     strings.TrimSpace(cfg.URL),
		timeout: timeout,
		client:  &http.Client{},
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.url != ""
}

// Ask posts the question within the configured budget. Any transport error,
// non-2xx status, undecodable body or unsuccessful answer is an error.
func (c *Client) Ask(ctx context.Context, in Request) (Result, error) {
	if !c.Enabled() {
		return Result{}, ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(in)
	if err != nil {
		return Result{}, fmt.Errorf("marshal fast path request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build fast path request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("request fast path: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read fast path response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("fast path status=%d", resp.StatusCode)
	}

	var envelope struct {
		Success bool   `json:"success"`
		Type    string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Result{}, fmt.Errorf("decode fast path response: %w", err)
	}
	if !envelope.Success {
		return Result{}, fmt.Errorf("fast path returned unsuccessful answer")
	}
	if strings.TrimSpace(envelope.Type) == "" {
		return Result{}, fmt.Errorf("fast path answer has no type")
	}
	return Result{Type: envelope.Type, Body: raw}, nil
}
