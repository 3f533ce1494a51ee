package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/edusql/edusql/internal/apigroup"
	"github.com/edusql/edusql/internal/history"
	"github.com/edusql/edusql/internal/intent"
	"github.com/edusql/edusql/internal/llm"
	"github.com/edusql/edusql/internal/nl2sql"
	"github.com/edusql/edusql/internal/observability"
	"github.com/edusql/edusql/internal/permission"
	"github.com/edusql/edusql/internal/query"
	"github.com/edusql/edusql/internal/schema"
	"github.com/edusql/edusql/internal/sqlguard"
	"github.com/edusql/edusql/internal/visualize"
)

const chatSystemPrompt = "你是教育管理系统的智能助手。用简洁友好的中文回答用户的问题；" +
	"不要编造数据，涉及具体数据时提示用户直接提出查询问题。"

type IntentClassifier interface {
	Classify(ctx context.Context, callerID, text string, permitted []permission.Table) intent.Analysis
}

type SchemaDescriber interface {
	Describe(ctx context.Context, tables []string) (string, bool)
}

type StandardConfig struct {
	Dialect         string
	RowLimit        int
	ChatModel       string
	ChatTemperature float64
	MaxTokens       int
	IntentTimeout   time.Duration
	SchemaTimeout   time.Duration
	SQLTimeout      time.Duration
	ExecuteTimeout  time.Duration
	ChatTimeout     time.Duration
	HistoryTimeout  time.Duration
}

type Dependencies struct {
	Classifier IntentClassifier
	Schema     SchemaDescriber
	Translator nl2sql.Translator
	Engine     query.Engine
	History    history.Store
	Chat       llm.Client
	Logger     *slog.Logger
	Metrics    *observability.PipelineMetrics
	Now        func() time.Time
}

// Standard is the cache → intent → plan | chat | SQL pipeline.
type Standard struct {
	cfg  StandardConfig
	deps Dependencies
}

func NewStandard(cfg StandardConfig, deps Dependencies) (*Standard, error) {
	switch {
	case deps.Classifier == nil:
		return nil, fmt.Errorf("intent classifier is required")
	case deps.Schema == nil:
		return nil, fmt.Errorf("schema describer is required")
	case deps.Translator == nil:
		return nil, fmt.Errorf("sql translator is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("query engine is required")
	case deps.Chat == nil:
		return nil, fmt.Errorf("chat client is required")
	}
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Standard{cfg: cfg, deps: deps}, nil
}

func (s *Standard) Name() string {
	return "standard"
}

func (s *Standard) Answer(ctx context.Context, req Request) (Answer, error) {
	start := s.deps.Now()

	if cached, ok := s.lookup(ctx, req); ok {
		return cached, nil
	}

	role := permission.ParseRole(req.CallerRole)
	allowed := permission.Resolve(role)
	permitted := permission.Permitted(role)

	analysis := s.classify(ctx, req, permitted)

	if plan, ok := apigroup.Build(req.Text); ok {
		answer := Answer{
			Success: true,
			Type:    AnswerPlan,
			Plan:    &plan,
			Intent:  &analysis,
			Metadata: Metadata{
				RequiredTables: analysis.RequiredTables,
			},
		}
		return s.finish(ctx, req, answer, start), nil
	}

	if !analysis.IsDataQuery {
		answer, err := s.chat(ctx, req, analysis)
		if err != nil {
			return Answer{}, err
		}
		return s.finish(ctx, req, answer, start), nil
	}

	answer, err := s.dataQuery(ctx, req, analysis, allowed)
	if err != nil {
		return Answer{}, err
	}
	return s.finish(ctx, req, answer, start), nil
}

func (s *Standard) classify(ctx context.Context, req Request, permitted []permission.Table) intent.Analysis {
	ctx, cancel := withStageTimeout(ctx, s.cfg.IntentTimeout)
	defer cancel()
	return s.deps.Classifier.Classify(ctx, req.CallerID, req.Text, permitted)
}

func (s *Standard) chat(ctx context.Context, req Request, analysis intent.Analysis) (Answer, error) {
	ctx, cancel := withStageTimeout(ctx, s.cfg.ChatTimeout)
	defer cancel()

	started := time.Now()
	resp, err := s.deps.Chat.Complete(ctx, llm.Request{
		CallerID: req.CallerID,
		Model:    s.cfg.ChatModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: chatSystemPrompt},
			{Role: llm.RoleUser, Content: req.Text},
		},
		Temperature: s.cfg.ChatTemperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	s.deps.Metrics.ObserveStage(string(StageChat), time.Since(started))
	if err != nil {
		return Answer{}, stageFailure(StageChat, err)
	}
	model := resp.Model
	if model == "" {
		model = s.cfg.ChatModel
	}
	return Answer{
		Success:  true,
		Type:     AnswerAI,
		Response: strings.TrimSpace(resp.Content),
		Intent:   &analysis,
		Metadata: Metadata{UsedModel: model},
	}, nil
}

func (s *Standard) dataQuery(ctx context.Context, req Request, analysis intent.Analysis, allowed permission.TableSet) (Answer, error) {
	tables := schema.SelectTables(analysis.RequiredTables, allowed)

	schemaCtx, cancel := withStageTimeout(ctx, s.cfg.SchemaTimeout)
	description, degraded := s.deps.Schema.Describe(schemaCtx, tables)
	cancel()

	sqlCtx, cancel := withStageTimeout(ctx, s.cfg.SQLTimeout)
	generated, err := s.deps.Translator.Translate(sqlCtx, nl2sql.Request{
		CallerID: req.CallerID,
		Question: req.Text,
		Category: analysis.Category,
		Keywords: analysis.Keywords,
		Schema:   description,
		Dialect:  s.cfg.Dialect,
	})
	cancel()
	if err != nil {
		return Answer{}, stageFailure(StageSQL, err)
	}

	verdict := sqlguard.Validate(generated.SQL, allowed)
	if !verdict.Valid {
		s.deps.Logger.WarnContext(ctx, "generated sql rejected",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("caller_id", req.CallerID),
			slog.String("rule", string(verdict.Rule)),
			slog.String("reason", verdict.Reason),
		)
		return Answer{}, stageFailure(StageValidate, verdict.Err())
	}

	execCtx, cancel := withStageTimeout(ctx, s.cfg.ExecuteTimeout)
	result, err := s.deps.Engine.Execute(execCtx, query.Request{SQL: verdict.SQL, RowLimit: s.cfg.RowLimit})
	cancel()
	s.deps.Metrics.ObserveStage(string(StageExecute), result.Duration)
	if err != nil {
		var execErr *query.ExecError
		if !errors.As(err, &execErr) {
			err = query.NewExecError(verdict.SQL, err, s.deps.Now())
		}
		return Answer{}, stageFailure(StageExecute, err)
	}

	chart := visualize.Select(result, req.Text, analysis.Category)
	return Answer{
		Success:       true,
		Type:          AnswerDataQuery,
		Data:          result.Records(),
		Visualization: &chart,
		Metadata: Metadata{
			UsedModel:      generated.Model,
			RequiredTables: tables,
			Columns:        result.Columns,
			GeneratedSQL:   verdict.SQL,
			SchemaFallback: degraded,
		},
	}, nil
}

// lookup returns a cached answer for the caller. Store failures count as misses.
func (s *Standard) lookup(ctx context.Context, req Request) (Answer, bool) {
	if s.deps.History == nil {
		return Answer{}, false
	}
	ctx, cancel := withStageTimeout(ctx, s.cfg.HistoryTimeout)
	defer cancel()

	entry, err := s.deps.History.Get(ctx, req.Text, req.CallerID)
	if err != nil {
		if !errors.Is(err, history.ErrNotFound) {
			s.deps.Logger.WarnContext(ctx, "history lookup failed",
				slog.String("trace_id", observability.TraceIDFromContext(ctx)),
				slog.String("error", err.Error()),
			)
			s.deps.Metrics.StageFailure(string(StageHistory))
		}
		s.deps.Metrics.CacheLookup(false)
		return Answer{}, false
	}

	var answer Answer
	if err := json.Unmarshal(entry.Payload, &answer); err != nil {
		s.deps.Logger.WarnContext(ctx, "history payload unreadable",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.Int64("history_id", entry.ID),
			slog.String("error", err.Error()),
		)
		s.deps.Metrics.CacheLookup(false)
		return Answer{}, false
	}
	s.deps.Metrics.CacheLookup(true)
	answer.Metadata.CacheHit = true
	answer.Metadata.Strategy = s.Name()
	answer.SessionID = req.SessionID
	return answer, true
}

func (s *Standard) finish(ctx context.Context, req Request, answer Answer, start time.Time) Answer {
	answer.Metadata.ExecutionTimeMs = s.deps.Now().Sub(start).Milliseconds()
	answer.Metadata.Strategy = s.Name()
	answer.SessionID = req.SessionID
	s.remember(ctx, req, answer)
	return answer
}

// remember writes the answer to history. A failed write never fails the answer.
func (s *Standard) remember(ctx context.Context, req Request, answer Answer) {
	if s.deps.History == nil {
		return
	}
	stored := answer
	stored.SessionID = ""
	payload, err := json.Marshal(stored)
	if err != nil {
		s.deps.Logger.WarnContext(ctx, "encode history payload failed", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := withStageTimeout(ctx, s.cfg.HistoryTimeout)
	defer cancel()
	if err := s.deps.History.Put(ctx, history.Entry{
		QueryText:       req.Text,
		CallerID:        req.CallerID,
		Type:            string(answer.Type),
		Payload:         payload,
		SessionID:       req.SessionID,
		Model:           answer.Metadata.UsedModel,
		ExecutionTimeMs: answer.Metadata.ExecutionTimeMs,
	}); err != nil {
		s.deps.Logger.WarnContext(ctx, "history write failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("error", err.Error()),
		)
		s.deps.Metrics.StageFailure(string(StageHistory))
	}
}

func withStageTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
