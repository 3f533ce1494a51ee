package pipeline

import (
	"net/http"
	"time"

	"github.com/edusql/edusql/internal/apigroup"
	"github.com/edusql/edusql/internal/intent"
	"github.com/edusql/edusql/internal/visualize"
)

type AnswerType string

const (
	AnswerDataQuery AnswerType = "data_query"
	AnswerAI        AnswerType = "ai_response"
	AnswerPlan      AnswerType = "multi_step_api_query"
	AnswerError     AnswerType = "error"
)

// Request is one question from an already authenticated caller.
type Request struct {
	Text       string
	SessionID  string
	CallerID   string
	CallerRole string
	Context    map[string]any
}

// Answer is the shared envelope for data, conversational, plan and error
// answers. Only the fields relevant to Type are set.
type Answer struct {
	Success       bool             `json:"success"`
	Type          AnswerType       `json:"type"`
	Data          []map[string]any `json:"data,omitempty"`
	Response      string           `json:"response,omitempty"`
	Plan          *apigroup.Plan   `json:"plan,omitempty"`
	Metadata      Metadata         `json:"metadata"`
	Visualization *visualize.Spec  `json:"visualization,omitempty"`
	Intent        *intent.Analysis `json:"intent,omitempty"`
	SessionID     string           `json:"session_id"`
	Error         *ErrorDetail     `json:"error,omitempty"`
}

type Metadata struct {
	ExecutionTimeMs int64    `json:"execution_time_ms"`
	UsedModel       string   `json:"used_model,omitempty"`
	CacheHit        bool     `json:"cache_hit"`
	RequiredTables  []string `json:"required_tables,omitempty"`
	Columns         []string `json:"columns,omitempty"`
	GeneratedSQL    string   `json:"generated_sql,omitempty"`
	SchemaFallback  bool     `json:"schema_fallback,omitempty"`
	Strategy        string   `json:"strategy,omitempty"`
}

type ErrorDetail struct {
	Code      string     `json:"code"`
	Message   string     `json:"message"`
	Retryable bool       `json:"retryable"`
	Rule      string     `json:"rule,omitempty"`
	SQL       string     `json:"sql,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Status    int        `json:"-"`
}

// HTTPStatus maps the answer to a transport status code.
func (a Answer) HTTPStatus() int {
	if a.Error == nil {
		return http.StatusOK
	}
	if a.Error.Status == 0 {
		return http.StatusInternalServerError
	}
	return a.Error.Status
}
