// Package intent decides whether a question needs the database, what kind of
// question it is and which tables it touches.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/edusql/edusql/internal/llm"
	"github.com/edusql/edusql/internal/observability"
	"github.com/edusql/edusql/internal/permission"
)

// Source records how an Analysis was produced.
type Source string

const (
	SourceModel             Source = "model"
	SourceParseFallback     Source = "parse_fallback"
	SourceTransportFallback Source = "transport_fallback"
)

const (
	parseFallbackConfidence     = 0.3
	transportFallbackConfidence = 0.5
	transportFallbackTables     = 5
)

type Analysis struct {
	IsDataQuery    bool     `json:"is_data_query"`
	Category       Category `json:"query_category"`
	Confidence     float64  `json:"confidence"`
	RequiredTables []string `json:"required_tables"`
	Explanation    string   `json:"explanation,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
	Source         Source   `json:"source"`
}

type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

type Classifier struct {
	client  llm.Client
	cfg     Config
	logger  *slog.Logger
	metrics *observability.PipelineMetrics
}

func NewClassifier(client llm.Client, cfg Config, logger *slog.Logger, metrics *observability.PipelineMetrics) *Classifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Classifier{client: client, cfg: cfg, logger: logger, metrics: metrics}
}

// Classify never fails. A transport failure and an unparseable reply each map
// to their own conservative default so the pipeline still tries to answer.
func (c *Classifier) Classify(ctx context.Context, callerID, text string, permitted []permission.Table) Analysis {
	start := time.Now()
	defer func() { c.metrics.ObserveStage("intent", time.Since(start)) }()

	resp, err := c.client.Complete(ctx, llm.Request{
		CallerID: callerID,
		Model:    c.cfg.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: buildPrompt(text, permitted)},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "intent classification call failed, using transport default",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("error", err.Error()),
		)
		c.metrics.Fallback("intent_transport")
		return TransportFallback(permitted)
	}

	analysis, err := ParseAnalysis(resp.Content)
	if err != nil {
		c.logger.WarnContext(ctx, "intent classification reply unparseable, using parse default",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("error", err.Error()),
		)
		c.metrics.Fallback("intent_parse")
		return ParseFallback()
	}
	return analysis
}

// ParseFallback is the analysis used when the model replied with something that
// is not the requested JSON.
func ParseFallback() Analysis {
	return Analysis{
		IsDataQuery:    true,
		Category:       CategoryUnknown,
		Confidence:     parseFallbackConfidence,
		RequiredTables: []string{},
		Explanation:    "intent reply could not be parsed",
		Source:         SourceParseFallback,
	}
}

// TransportFallback is the analysis used when the model could not be reached.
func TransportFallback(permitted []permission.Table) Analysis {
	n := len(permitted)
	if n > transportFallbackTables {
		n = transportFallbackTables
	}
	tables := make([]string, 0, n)
	for _, table := range permitted[:n] {
		tables = append(tables, table.Name)
	}
	return Analysis{
		IsDataQuery:    true,
		Category:       CategoryUnknown,
		Confidence:     transportFallbackConfidence,
		RequiredTables: tables,
		Explanation:    "intent service unavailable",
		Source:         SourceTransportFallback,
	}
}

type modelReply struct {
	IsDataQuery    *bool    `json:"isDataQuery"`
	QueryType      string   `json:"queryType"`
	Confidence     *float64 `json:"confidence"`
	RequiredTables []string `json:"requiredTables"`
	Explanation    string   `json:"explanation"`
	Keywords       []string `json:"keywords"`
}

// ParseAnalysis decodes the classifier reply, tolerating markdown fences.
func ParseAnalysis(content string) (Analysis, error) {
	body := llm.StripCodeFence(content)
	if body == "" {
		return Analysis{}, fmt.Errorf("empty intent reply")
	}
	var reply modelReply
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		return Analysis{}, fmt.Errorf("decode intent reply: %w", err)
	}

	analysis := Analysis{
		IsDataQuery:    true,
		Category:       ParseCategory(reply.QueryType),
		Confidence:     0.5,
		RequiredTables: dedupe(reply.RequiredTables, true),
		Explanation:    strings.TrimSpace(reply.Explanation),
		Keywords:       dedupe(reply.Keywords, false),
		Source:         SourceModel,
	}
	if reply.IsDataQuery != nil {
		analysis.IsDataQuery = *reply.IsDataQuery
	}
	if reply.Confidence != nil {
		analysis.Confidence = clamp(*reply.Confidence)
	}
	return analysis, nil
}

func dedupe(values []string, lower bool) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if lower {
			value = strings.ToLower(value)
		}
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func clamp(value float64) float64 {
	switch {
	case value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}
