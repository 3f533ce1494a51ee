package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/edusql/edusql/internal/nl2sql"
	"github.com/edusql/edusql/internal/query"
	"github.com/edusql/edusql/internal/sqlguard"
)

func TestDescribeError(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	execErr := query.NewExecError("SELECT 1 FROM students", errors.New("connection reset"), now)

	tests := []struct {
		name      string
		err       error
		code      string
		status    int
		retryable bool
	}{
		{name: "input", err: &InputError{Reason: "query text is required"}, code: CodeClientInput, status: http.StatusBadRequest},
		{name: "violation", err: stageFailure(StageValidate, &sqlguard.Violation{Rule: sqlguard.RuleDenyKeyword, Reason: "forbidden keyword DROP"}), code: CodeSQLValidation, status: http.StatusBadRequest},
		{name: "database", err: stageFailure(StageExecute, execErr), code: CodeDatabase, status: http.StatusInternalServerError},
		{name: "empty generation", err: stageFailure(StageSQL, nl2sql.ErrEmptyGeneration), code: CodeAIModel, status: http.StatusServiceUnavailable, retryable: true},
		{name: "model transport", err: stageFailure(StageSQL, fmt.Errorf("generate sql: %w", errors.New("status=500"))), code: CodeAIModel, status: http.StatusServiceUnavailable, retryable: true},
		{name: "chat", err: stageFailure(StageChat, errors.New("quota")), code: CodeAIModel, status: http.StatusServiceUnavailable, retryable: true},
		{name: "deadline", err: stageFailure(StageExecute, query.NewExecError("SELECT 1", context.DeadlineExceeded, now)), code: CodeTimeout, status: http.StatusGatewayTimeout, retryable: true},
		{name: "unknown", err: errors.New("boom"), code: CodePipeline, status: http.StatusInternalServerError},
		{name: "unknown stage", err: stageFailure(StageHistory, errors.New("boom")), code: CodePipeline, status: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			detail := describeError(tc.err)
			if detail.Code != tc.code || detail.Status != tc.status || detail.Retryable != tc.retryable {
				t.Fatalf("detail = %+v", detail)
			}
		})
	}
}

func TestDescribeErrorKeepsDatabaseContext(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	detail := describeError(stageFailure(StageExecute, query.NewExecError("SELECT name FROM students", errors.New("syntax error"), now)))
	if detail.SQL != "SELECT name FROM students" || detail.Message != "syntax error" {
		t.Fatalf("detail = %+v", detail)
	}
	if detail.Timestamp == nil || !detail.Timestamp.Equal(now) {
		t.Fatalf("timestamp = %v", detail.Timestamp)
	}
}

func TestDescribeErrorNamesViolatedRule(t *testing.T) {
	detail := describeError(&sqlguard.Violation{Rule: sqlguard.RuleTableScope, Reason: "no permission for table payments"})
	if detail.Rule != string(sqlguard.RuleTableScope) || detail.Message != "no permission for table payments" {
		t.Fatalf("detail = %+v", detail)
	}
}
