package query

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	ErrorCodeDatabase  = "DATABASE_QUERY_ERROR"
	maxErrorSQLLength  = 500
	truncatedSQLMarker = "..."
)

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// Records returns the rows keyed by column name.
func (r Result) Records() []map[string]any {
	records := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		record := make(map[string]any, len(r.Columns))
		for i, column := range r.Columns {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		records = append(records, record)
	}
	return records
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// ExecError is a database failure on a validated statement. SQL holds at most
// 500 characters of the statement.
type ExecError struct {
	SQL       string    `json:"sql"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}

func NewExecError(sql string, err error, now time.Time) *ExecError {
	message := "unknown database error"
	if err != nil {
		message = err.Error()
	}
	return &ExecError{
		SQL:       TruncateSQL(sql, maxErrorSQLLength),
		Message:   message,
		Code:      ErrorCodeDatabase,
		Timestamp: now.UTC(),
		Err:       err,
	}
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("database query failed: %s", e.Message)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// TruncateSQL shortens sql to at most limit characters, marking the cut.
func TruncateSQL(sql string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(sql) <= limit {
		return sql
	}
	runes := []rune(sql)
	keep := limit - utf8.RuneCountInString(truncatedSQLMarker)
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + truncatedSQLMarker
}
