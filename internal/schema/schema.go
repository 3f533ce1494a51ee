// Package schema reads column metadata from the database catalog and renders it
// as compact text for prompt grounding.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/edusql/edusql/internal/observability"
	"github.com/edusql/edusql/internal/permission"
)

const wildcardTable = "*"

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectDuckDB   Dialect = "duckdb"
)

// DialectForDriver maps a database/sql driver name to its catalog dialect.
func DialectForDriver(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "pgx", "postgres", "postgresql":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	case "duckdb":
		return DialectDuckDB, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

type Column struct {
	Table    string
	Name     string
	DataType string
	Nullable bool
	Comment  string
}

type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Introspector struct {
	db      Queryer
	dialect Dialect
	logger  *slog.Logger
	metrics *observability.PipelineMetrics
}

func NewIntrospector(db Queryer, dialect Dialect, logger *slog.Logger, metrics *observability.PipelineMetrics) *Introspector {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Introspector{db: db, dialect: dialect, logger: logger, metrics: metrics}
}

// Columns returns catalog rows for tables ordered by table then ordinal position.
func (i *Introspector) Columns(ctx context.Context, tables []string) ([]Column, error) {
	tables = expandTables(tables)
	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables to describe")
	}
	query, args, err := catalogQuery(i.dialect, tables)
	if err != nil {
		return nil, err
	}

	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	columns := make([]Column, 0, len(tables)*8)
	for rows.Next() {
		var (
			col      Column
			nullable string
			comment  sql.NullString
		)
		if err := rows.Scan(&col.Table, &col.Name, &col.DataType, &nullable, &comment); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		col.Nullable = strings.EqualFold(strings.TrimSpace(nullable), "YES")
		if comment.Valid {
			col.Comment = strings.TrimSpace(comment.String)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("catalog returned no columns for %s", strings.Join(tables, ","))
	}
	return columns, nil
}

// Describe renders the schema for tables. Introspection failures are logged and
// answered with a small built-in description; the second return reports that.
func (i *Introspector) Describe(ctx context.Context, tables []string) (string, bool) {
	start := time.Now()
	defer func() { i.metrics.ObserveStage("schema", time.Since(start)) }()

	columns, err := i.Columns(ctx, tables)
	if err != nil {
		i.logger.WarnContext(ctx, "schema introspection failed, using fallback description",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("dialect", string(i.dialect)),
			slog.Any("tables", tables),
			slog.String("error", err.Error()),
		)
		i.metrics.Fallback("schema")
		return FallbackDescription, true
	}
	return Render(columns), false
}

// Render groups columns by table, preserving the input order.
func Render(columns []Column) string {
	var b strings.Builder
	current := ""
	for _, col := range columns {
		if col.Table != current {
			if current != "" {
				b.WriteByte('\n')
			}
			current = col.Table
			fmt.Fprintf(&b, "表 %s -- %s\n", col.Table, permission.Describe(col.Table))
		}
		fmt.Fprintf(&b, "  %s %s", col.Name, col.DataType)
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		if col.Comment != "" {
			fmt.Fprintf(&b, " -- %s", col.Comment)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// SelectTables intersects the classifier's required tables with the caller's
// permitted set. An empty intersection or a wildcard request falls back to the
// core business tables the caller may see.
func SelectTables(required []string, permitted permission.TableSet) []string {
	selected := make([]string, 0, len(required))
	seen := map[string]struct{}{}
	wildcard := false
	for _, table := range required {
		table = strings.ToLower(strings.TrimSpace(table))
		if table == "" {
			continue
		}
		if table == wildcardTable {
			wildcard = true
			break
		}
		if _, ok := seen[table]; ok || !permitted.Allows(table) {
			continue
		}
		seen[table] = struct{}{}
		selected = append(selected, table)
	}
	if !wildcard && len(selected) > 0 {
		return selected
	}

	core := make([]string, 0, len(permission.CoreTables()))
	for _, table := range permission.CoreTables() {
		if permitted.Allows(table) {
			core = append(core, table)
		}
	}
	if len(core) == 0 {
		return permitted.Tables()
	}
	return core
}

func expandTables(tables []string) []string {
	out := make([]string, 0, len(tables))
	seen := map[string]struct{}{}
	for _, table := range tables {
		table = strings.ToLower(strings.TrimSpace(table))
		if table == wildcardTable {
			return permission.CoreTables()
		}
		if table == "" {
			continue
		}
		if _, ok := seen[table]; ok {
			continue
		}
		seen[table] = struct{}{}
		out = append(out, table)
	}
	return out
}

func catalogQuery(dialect Dialect, tables []string) (string, []any, error) {
	var builder sq.SelectBuilder
	switch dialect {
	case DialectPostgres:
		builder = sq.Select(
			"c.table_name", "c.column_name", "c.data_type", "c.is_nullable",
			"COALESCE(pgd.description, '')",
		).
			From("information_schema.columns c").
			LeftJoin("pg_catalog.pg_statio_all_tables st ON st.schemaname = c.table_schema AND st.relname = c.table_name").
			LeftJoin("pg_catalog.pg_description pgd ON pgd.objoid = st.relid AND pgd.objsubid = c.ordinal_position").
			Where("c.table_schema = current_schema()").
			Where(sq.Eq{"c.table_name": tables}).
			OrderBy("c.table_name", "c.ordinal_position").
			PlaceholderFormat(sq.Dollar)
	case DialectMySQL:
		builder = sq.Select("TABLE_NAME", "COLUMN_NAME", "DATA_TYPE", "IS_NULLABLE", "COLUMN_COMMENT").
			From("information_schema.COLUMNS").
			Where("TABLE_SCHEMA = DATABASE()").
			Where(sq.Eq{"TABLE_NAME": tables}).
			OrderBy("TABLE_NAME", "ORDINAL_POSITION").
			PlaceholderFormat(sq.Question)
	case DialectDuckDB:
		builder = sq.Select(
			"table_name", "column_name", "data_type",
			"CASE WHEN is_nullable THEN 'YES' ELSE 'NO' END",
			"COALESCE(comment, '')",
		).
			From("duckdb_columns()").
			Where("schema_name = current_schema()").
			Where(sq.Eq{"table_name": tables}).
			OrderBy("table_name", "column_index").
			PlaceholderFormat(sq.Question)
	default:
		return "", nil, fmt.Errorf("unsupported schema dialect %q", dialect)
	}
	return builder.ToSql()
}
