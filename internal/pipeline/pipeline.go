// Package pipeline answers natural-language questions. An Orchestrator
// validates the request, collapses identical in-flight questions and runs an
// ordered list of strategies, normally the fast path followed by the standard
// pipeline.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/edusql/edusql/internal/history"
	"github.com/edusql/edusql/internal/observability"
)

const DefaultMaxQueryLength = 1000

type Config struct {
	MaxQueryLength int
}

type Orchestrator struct {
	maxLength  int
	strategies []Strategy
	logger     *slog.Logger
	metrics    *observability.PipelineMetrics
	inflight   singleflight.Group
}

// New builds an orchestrator over strategies. Errors from every strategy but
// the last are logged and skipped; the last strategy's error becomes an error
// answer.
func New(cfg Config, logger *slog.Logger, metrics *observability.PipelineMetrics, strategies ...Strategy) (*Orchestrator, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("at least one strategy is required")
	}
	for i, strategy := range strategies {
		if strategy == nil {
			return nil, fmt.Errorf("strategy %d is nil", i)
		}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	maxLength := cfg.MaxQueryLength
	if maxLength <= 0 {
		maxLength = DefaultMaxQueryLength
	}
	return &Orchestrator{
		maxLength:  maxLength,
		strategies: strategies,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Ask always returns an answer; failures are reported inside it.
func (o *Orchestrator) Ask(ctx context.Context, req Request) Answer {
	req.Text = strings.TrimSpace(req.Text)
	req.CallerID = strings.TrimSpace(req.CallerID)
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = uuid.NewString()
	}

	if err := o.validate(req); err != nil {
		o.metrics.StageFailure("input")
		o.metrics.Answer(string(AnswerError))
		return errorAnswer(err, req.SessionID)
	}

	key := history.NormalizeQuery(req.Text) + "\x00" + req.CallerID
	leader := false
	value, _, shared := o.inflight.Do(key, func() (any, error) {
		leader = true
		return o.run(context.WithoutCancel(ctx), req), nil
	})
	answer := value.(Answer)
	if shared && !leader {
		o.metrics.InflightJoin()
		answer.SessionID = req.SessionID
		if answer.Error != nil {
			detail := *answer.Error
			answer.Error = &detail
		}
	}
	o.metrics.Answer(string(answer.Type))
	return answer
}

func (o *Orchestrator) validate(req Request) error {
	if req.Text == "" {
		return &InputError{Reason: "query text is required"}
	}
	if n := utf8.RuneCountInString(req.Text); n > o.maxLength {
		return &InputError{Reason: fmt.Sprintf("query text is %d characters, limit is %d", n, o.maxLength)}
	}
	if req.CallerID == "" {
		return &InputError{Reason: "caller id is required"}
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, req Request) Answer {
	last := len(o.strategies) - 1
	for i, strategy := range o.strategies {
		answer, err := strategy.Answer(ctx, req)
		if err == nil {
			return answer
		}
		if i < last {
			o.logger.WarnContext(ctx, "strategy failed, falling back",
				slog.String("trace_id", observability.TraceIDFromContext(ctx)),
				slog.String("strategy", strategy.Name()),
				slog.String("next", o.strategies[i+1].Name()),
				slog.String("error", err.Error()),
			)
			o.metrics.Fallback(strategy.Name())
			continue
		}

		o.metrics.StageFailure(failedStage(err))
		answer = errorAnswer(err, req.SessionID)
		level := slog.LevelWarn
		if answer.HTTPStatus() >= 500 {
			level = slog.LevelError
		}
		o.logger.Log(ctx, level, "query pipeline failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("caller_id", req.CallerID),
			slog.String("strategy", strategy.Name()),
			slog.String("error_code", answer.Error.Code),
			slog.String("error", err.Error()),
		)
		return answer
	}
	return errorAnswer(fmt.Errorf("no strategy produced an answer"), req.SessionID)
}
