package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edusql/edusql/internal/fastpath"
)

// Strategy answers a request end to end. The orchestrator tries strategies in
// order; every strategy except the last may fail silently.
type Strategy interface {
	Name() string
	Answer(ctx context.Context, req Request) (Answer, error)
}

type FastPathClient interface {
	Ask(ctx context.Context, in fastpath.Request) (fastpath.Result, error)
}

// FastPath delegates the whole question to the optimized-query service.
type FastPath struct {
	client FastPathClient
}

func NewFastPath(client FastPathClient) *FastPath {
	return &FastPath{client: client}
}

func (f *FastPath) Name() string {
	return "fast_path"
}

func (f *FastPath) Answer(ctx context.Context, req Request) (Answer, error) {
	result, err := f.client.Ask(ctx, fastpath.Request{
		Text:       req.Text,
		CallerID:   req.CallerID,
		CallerRole: req.CallerRole,
		SessionID:  req.SessionID,
	})
	if err != nil {
		return Answer{}, err
	}

	var answer Answer
	if err := json.Unmarshal(result.Body, &answer); err != nil {
		return Answer{}, fmt.Errorf("decode fast path answer: %w", err)
	}
	switch answer.Type {
	case AnswerDataQuery, AnswerAI, AnswerPlan:
	default:
		return Answer{}, fmt.Errorf("fast path answer type %q not supported", answer.Type)
	}
	answer.Success = true
	answer.Error = nil
	answer.SessionID = req.SessionID
	answer.Metadata.Strategy = f.Name()
	return answer, nil
}
