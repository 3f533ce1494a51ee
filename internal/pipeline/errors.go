package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/edusql/edusql/internal/nl2sql"
	"github.com/edusql/edusql/internal/query"
	"github.com/edusql/edusql/internal/sqlguard"
)

const (
	CodeClientInput   = "CLIENT_INPUT_ERROR"
	CodeSQLValidation = "SQL_VALIDATION_ERROR"
	CodeAIModel       = "AI_MODEL_ERROR"
	CodeDatabase      = query.ErrorCodeDatabase
	CodePipeline      = "PIPELINE_ERROR"
	CodeTimeout       = "TIMEOUT"
)

type Stage string

const (
	StageIntent   Stage = "intent"
	StageSchema   Stage = "schema"
	StageSQL      Stage = "sql"
	StageValidate Stage = "validate"
	StageExecute  Stage = "execute"
	StageChat     Stage = "chat"
	StageHistory  Stage = "history"
)

// InputError rejects a request before any outbound call.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return "invalid query: " + e.Reason
}

// StageError tags a failure with the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageFailure(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// describeError maps a failure to the error taxonomy using its type only.
func describeError(err error) *ErrorDetail {
	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return &ErrorDetail{Code: CodeClientInput, Message: inputErr.Reason, Status: http.StatusBadRequest}
	}

	var violation *sqlguard.Violation
	if errors.As(err, &violation) {
		return &ErrorDetail{
			Code:    CodeSQLValidation,
			Message: violation.Reason,
			Rule:    string(violation.Rule),
			Status:  http.StatusBadRequest,
		}
	}

	var execErr *query.ExecError
	hasExec := errors.As(err, &execErr)

	if errors.Is(err, context.DeadlineExceeded) {
		detail := &ErrorDetail{
			Code:      CodeTimeout,
			Message:   "stage deadline exceeded",
			Retryable: true,
			Status:    http.StatusGatewayTimeout,
		}
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			detail.Message = string(stageErr.Stage) + " stage deadline exceeded"
		}
		if hasExec {
			detail.SQL = execErr.SQL
		}
		return detail
	}

	if hasExec {
		ts := execErr.Timestamp
		return &ErrorDetail{
			Code:      CodeDatabase,
			Message:   execErr.Message,
			SQL:       execErr.SQL,
			Timestamp: &ts,
			Status:    http.StatusInternalServerError,
		}
	}

	var stageErr *StageError
	if errors.Is(err, nl2sql.ErrEmptyGeneration) ||
		(errors.As(err, &stageErr) && (stageErr.Stage == StageSQL || stageErr.Stage == StageChat)) {
		return &ErrorDetail{
			Code:      CodeAIModel,
			Message:   err.Error(),
			Retryable: true,
			Status:    http.StatusServiceUnavailable,
		}
	}

	return &ErrorDetail{
		Code:    CodePipeline,
		Message: "query pipeline failed",
		Status:  http.StatusInternalServerError,
	}
}

func errorAnswer(err error, sessionID string) Answer {
	return Answer{
		Success:   false,
		Type:      AnswerError,
		SessionID: sessionID,
		Error:     describeError(err),
	}
}

func failedStage(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return string(stageErr.Stage)
	}
	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return "input"
	}
	return "unknown"
}
