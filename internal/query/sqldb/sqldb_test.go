package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/edusql/edusql/internal/query"
)

func TestExecuteAppendsLimitInsideReadOnlyTx(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("^" + regexp.QuoteMeta("SELECT name, COUNT(*) AS n FROM classes GROUP BY name LIMIT 1000") + "$").
		WillReturnRows(sqlmock.NewRows([]string{"name", "n"}).
			AddRow([]byte("一班"), int64(30)).
			AddRow("二班", int64(28)))
	mock.ExpectCommit()

	engine := NewEngine(db, EngineConfig{ReadOnlyTx: true, DefaultRowLimit: 1000})
	result, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT name, COUNT(*) AS n FROM classes GROUP BY name;;"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[0] != "name" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	if result.Rows[0][0] != "一班" {
		t.Fatalf("[]byte should normalize to string, got %#v", result.Rows[0][0])
	}
	assertSQLMock(t, mock)
}

func TestExecuteWithoutTxUsesRequestLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery("^" + regexp.QuoteMeta("SELECT id FROM students LIMIT 5") + "$").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	engine := NewEngine(db, EngineConfig{DefaultRowLimit: 1000})
	result, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT id FROM students", RowLimit: 5})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("Rows = %v", result.Rows)
	}
	assertSQLMock(t, mock)
}

func TestExecuteKeepsJoinedColumnsAndOrder(t *testing.T) {
	db, mock := newSQLMock(t)
	const sqlText = "SELECT s.name, c.name FROM students s JOIN classes c ON c.id = s.class_id ORDER BY s.name LIMIT 20"
	mock.ExpectQuery("^" + regexp.QuoteMeta("SELECT s.name, c.name FROM students s JOIN classes c ON c.id = s.class_id ORDER BY s.name LIMIT 3") + "$").
		WillReturnRows(sqlmock.NewRows([]string{"name", "name"}).AddRow("张三", "一班"))

	engine := NewEngine(db, EngineConfig{DefaultRowLimit: 3})
	result, err := engine.Execute(context.Background(), query.Request{SQL: sqlText})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 2 || len(result.Rows) != 1 {
		t.Fatalf("result = %+v", result)
	}
	assertSQLMock(t, mock)
}

func TestExecuteCapsRowsWhenLimitCannotBeRewritten(t *testing.T) {
	db, mock := newSQLMock(t)
	const sqlText = "SELECT id FROM students ORDER BY id OFFSET 1 ROWS FETCH FIRST 10 ROWS ONLY"
	mock.ExpectQuery("^" + regexp.QuoteMeta(sqlText) + "$").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)).AddRow(int64(3)).AddRow(int64(4)))

	engine := NewEngine(db, EngineConfig{DefaultRowLimit: 2})
	result, err := engine.Execute(context.Background(), query.Request{SQL: sqlText})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 || result.Rows[1][0] != int64(3) {
		t.Fatalf("Rows = %v", result.Rows)
	}
	assertSQLMock(t, mock)
}

func TestApplyRowLimit(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{name: "append", sql: "SELECT id FROM students", want: "SELECT id FROM students LIMIT 100"},
		{name: "tighten", sql: "SELECT id FROM students ORDER BY id LIMIT 500", want: "SELECT id FROM students ORDER BY id LIMIT 100"},
		{name: "keep smaller", sql: "SELECT id FROM students LIMIT 10", want: "SELECT id FROM students LIMIT 10"},
		{name: "tighten before offset", sql: "SELECT id FROM students LIMIT 500 OFFSET 20", want: "SELECT id FROM students LIMIT 100 OFFSET 20"},
		{name: "mysql offset count", sql: "SELECT id FROM students LIMIT 20, 500", want: "SELECT id FROM students LIMIT 20, 100"},
		{name: "subquery limit ignored", sql: "SELECT * FROM (SELECT id FROM students LIMIT 5) s", want: "SELECT * FROM (SELECT id FROM students LIMIT 5) s LIMIT 100"},
		{name: "limit inside literal", sql: "SELECT id FROM students WHERE note = 'LIMIT 5'", want: "SELECT id FROM students WHERE note = 'LIMIT 5' LIMIT 100"},
		{name: "trailing line comment", sql: "SELECT id FROM students -- all", want: "SELECT id FROM students -- all\nLIMIT 100"},
		{name: "offset only", sql: "SELECT id FROM students OFFSET 5", want: "SELECT id FROM students OFFSET 5"},
		{name: "limit all", sql: "SELECT id FROM students LIMIT ALL", want: "SELECT id FROM students LIMIT ALL"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := applyRowLimit(tc.sql, 100); got != tc.want {
				t.Fatalf("applyRowLimit() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExecuteReturnsExecError(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("LIMIT 1000").WillReturnError(errors.New(`column "age" does not exist`))
	mock.ExpectRollback()

	engine := NewEngine(db, EngineConfig{ReadOnlyTx: true, DefaultRowLimit: 1000})
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return fixed }

	_, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT age FROM students"})
	var execErr *query.ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %T %v", err, err)
	}
	if execErr.SQL != "SELECT age FROM students" {
		t.Fatalf("SQL = %q", execErr.SQL)
	}
	if execErr.Message != `column "age" does not exist` || execErr.Code != query.ErrorCodeDatabase || !execErr.Timestamp.Equal(fixed) {
		t.Fatalf("execErr = %+v", execErr)
	}
	assertSQLMock(t, mock)
}

func TestExecuteRejectsEmptySQL(t *testing.T) {
	db, mock := newSQLMock(t)
	_, err := NewEngine(db, EngineConfig{}).Execute(context.Background(), query.Request{SQL: " ; "})
	var execErr *query.ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestOpenValidatesConfig(t *testing.T) {
	if _, err := Open(context.Background(), DBConfig{Driver: "pgx"}); err == nil {
		t.Fatal("expected dsn error")
	}
	if _, err := Open(context.Background(), DBConfig{Driver: "sqlite", DSN: "x"}); err == nil {
		t.Fatal("expected driver error")
	}
}

func TestNormalizeValues(t *testing.T) {
	ts := time.Date(2026, 9, 1, 8, 30, 0, 0, time.UTC)
	got := normalizeValues([]any{[]byte("a"), ts, nil, 3.5})
	if got[0] != "a" || got[1] != "2026-09-01T08:30:00Z" || got[2] != nil || got[3] != 3.5 {
		t.Fatalf("normalizeValues() = %#v", got)
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
