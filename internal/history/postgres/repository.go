package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/edusql/edusql/internal/history"
)

const tableName = "query_history"

var entryColumns = []string{
	"id",
	"query_text",
	"caller_id",
	"answer_type",
	"payload",
	"session_id",
	"model",
	"execution_time_ms",
	"created_at",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Repository is the postgres-backed history store. The TTL window is applied in
// the read query so expired rows are never served even before archiving.
type Repository struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func NewRepository(db *sql.DB, ttl time.Duration) *Repository {
	if ttl <= 0 {
		ttl = history.DefaultTTL
	}
	return &Repository{db: db, ttl: ttl, now: time.Now}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, text, callerID string) (history.Entry, error) {
	cutoff := r.now().UTC().Add(-r.ttl)
	query, args, err := psql.Select(entryColumns...).
		From(tableName).
		Where(sq.Eq{"query_text": history.NormalizeQuery(text)}).
		Where(sq.Eq{"caller_id": callerID}).
		Where(sq.Gt{"created_at": cutoff}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return history.Entry{}, fmt.Errorf("build history lookup: %w", err)
	}

	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return history.Entry{}, history.ErrNotFound
		}
		return history.Entry{}, fmt.Errorf("get history entry: %w", err)
	}
	return entry, nil
}

func (r *Repository) Put(ctx context.Context, entry history.Entry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now().UTC()
	}
	payload := string(entry.Payload)
	if payload == "" {
		payload = "null"
	}

	query, args, err := psql.Insert(tableName).
		Columns("query_text", "caller_id", "answer_type", "payload", "session_id", "model", "execution_time_ms", "created_at").
		Values(
			history.NormalizeQuery(entry.QueryText),
			entry.CallerID,
			entry.Type,
			sq.Expr("?::jsonb", payload),
			entry.SessionID,
			entry.Model,
			entry.ExecutionTimeMs,
			createdAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build history insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("put history entry: %w", err)
	}
	return nil
}

// ListExpired returns up to limit rows created at or before the cutoff, oldest first.
func (r *Repository) ListExpired(ctx context.Context, before time.Time, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		limit = 500
	}
	query, args, err := psql.Select(entryColumns...).
		From(tableName).
		Where(sq.LtOrEq{"created_at": before.UTC()}).
		OrderBy("id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build expired history query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expired history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]history.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired history row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired history rows: %w", err)
	}
	return entries, nil
}

func (r *Repository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := psql.Delete(tableName).Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build history delete: %w", err)
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete history rows: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete history rows: %w", err)
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (history.Entry, error) {
	var (
		entry     history.Entry
		payload   []byte
		sessionID sql.NullString
		model     sql.NullString
	)
	if err := row.Scan(
		&entry.ID,
		&entry.QueryText,
		&entry.CallerID,
		&entry.Type,
		&payload,
		&sessionID,
		&model,
		&entry.ExecutionTimeMs,
		&entry.CreatedAt,
	); err != nil {
		return history.Entry{}, err
	}
	entry.Payload = payload
	entry.SessionID = sessionID.String
	entry.Model = model.String
	return entry, nil
}

func (r *Repository) RecordArchiveRun(ctx context.Context, run history.ArchiveRun) error {
	details := string(run.DetailsJSON)
	if details == "" {
		details = "{}"
	}
	var objectPath any
	if run.ObjectPath != "" {
		objectPath = run.ObjectPath
	}
	query, args, err := psql.Insert("archive_run").
		Columns("status", "rows_archived", "object_path", "details_json", "created_by", "created_at").
		Values(run.Status, run.RowsArchived, objectPath, sq.Expr("?::jsonb", details), run.CreatedBy, r.now().UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build archive_run insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert archive_run: %w", err)
	}
	return nil
}
