// Package sqldb runs validated statements against the application database
// through database/sql. The pgx, mysql and duckdb drivers are registered here.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/edusql/edusql/internal/query"
)

type DBConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" && cfg.Driver != "duckdb" {
		return nil, fmt.Errorf("database dsn is required")
	}
	switch cfg.Driver {
	case "pgx", "mysql", "duckdb":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", cfg.Driver, err)
	}
	return db, nil
}

type EngineConfig struct {
	// ReadOnlyTx wraps each statement in a read-only transaction. DuckDB does
	// not accept read-only transaction options; open it with access_mode=READ_ONLY instead.
	ReadOnlyTx      bool
	DefaultRowLimit int
}

type Engine struct {
	db  *sql.DB
	cfg EngineConfig
	now func() time.Time
}

func NewEngine(db *sql.DB, cfg EngineConfig) *Engine {
	return &Engine{db: db, cfg: cfg, now: time.Now}
}

func (e *Engine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Execute runs request.SQL bounded to the row limit. Every failure is returned
// as a *query.ExecError carrying the original statement.
func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, query.NewExecError(request.SQL, fmt.Errorf("sql is required"), e.now())
	}
	limit := request.RowLimit
	if limit <= 0 {
		limit = e.cfg.DefaultRowLimit
	}
	bounded := sqlText
	if limit > 0 {
		bounded = applyRowLimit(sqlText, limit)
	}

	start := time.Now()
	result, err := e.run(ctx, bounded, limit)
	if err != nil {
		return query.Result{}, query.NewExecError(sqlText, err, e.now())
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (e *Engine) run(ctx context.Context, sqlText string, maxRows int) (query.Result, error) {
	if !e.cfg.ReadOnlyTx {
		return collect(ctx, e.db, sqlText, maxRows)
	}
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return query.Result{}, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := collect(ctx, tx, sqlText, maxRows)
	if err != nil {
		return query.Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return query.Result{}, fmt.Errorf("commit read-only tx: %w", err)
	}
	return result, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// collect reads at most maxRows rows; zero means unbounded.
func collect(ctx context.Context, q queryer, sqlText string, maxRows int) (query.Result, error) {
	rows, err := q.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		if maxRows > 0 && len(resultRows) == maxRows {
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return query.Result{Columns: columns, Rows: resultRows}, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case time.Time:
			normalized[i] = typed.Format(time.RFC3339)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
