package nl2sql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/edusql/edusql/internal/llm"
	"github.com/edusql/edusql/internal/observability"
)

type Config struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

type LLMTranslator struct {
	client  llm.Client
	cfg     Config
	metrics *observability.PipelineMetrics
}

func NewLLMTranslator(client llm.Client, cfg Config, metrics *observability.PipelineMetrics) (*LLMTranslator, error) {
	if client == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &LLMTranslator{client: client, cfg: cfg, metrics: metrics}, nil
}

func (t *LLMTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	defer func() { t.metrics.ObserveStage("sql", time.Since(start)) }()

	resp, err := t.client.Complete(ctx, llm.Request{
		CallerID: req.CallerID,
		Model:    t.cfg.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt(req.Dialect)},
			{Role: llm.RoleUser, Content: buildPrompt(req)},
		},
		Temperature: t.cfg.Temperature,
		MaxTokens:   t.cfg.MaxTokens,
	})
	if err != nil {
		return Result{}, fmt.Errorf("generate sql: %w", err)
	}

	sql := strings.TrimSpace(llm.StripCodeFence(resp.Content))
	if sql == "" {
		return Result{}, ErrEmptyGeneration
	}
	model := resp.Model
	if model == "" {
		model = t.cfg.Model
	}
	return Result{SQL: sql, Provider: t.cfg.Provider, Model: model}, nil
}
