// Package archive moves query history rows past their retention window into
// parquet parts on object storage and removes them from the database.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/edusql/edusql/internal/history"
	"github.com/edusql/edusql/internal/storage"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusNoop    = "noop"
)

type Source interface {
	ListExpired(ctx context.Context, before time.Time, limit int) ([]history.Entry, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
	RecordArchiveRun(ctx context.Context, run history.ArchiveRun) error
}

type Metrics interface {
	ArchiveRun(status string, rows int)
}

type Config struct {
	Interval  time.Duration
	RetainFor time.Duration
	BatchSize int
	// MaxParts bounds how many batches a single cycle drains.
	MaxParts  int
	CreatedBy string
}

type Service struct {
	Source      Source
	ObjectStore storage.ObjectStore
	Config      Config
	Logger      *slog.Logger
	Clock       func() time.Time
	Metrics     Metrics
}

type Summary struct {
	Cutoff       time.Time `json:"cutoff"`
	RowsArchived int       `json:"rows_archived"`
	Parts        []string  `json:"parts"`
	BytesWritten int64     `json:"bytes_written"`
}

func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	ticker := time.NewTicker(s.Config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			summary, err := s.RunOnce(ctx)
			if err != nil {
				if s.Logger != nil {
					s.Logger.ErrorContext(ctx, "archive cycle failed", slog.Any("error", err), slog.Any("summary", summary))
				}
				continue
			}
			if s.Logger != nil {
				s.Logger.InfoContext(ctx, "archive cycle completed", slog.Any("summary", summary))
			}
		}
	}
}

// RunOnce archives every row created at or before now-RetainFor, one part per
// batch. A part is uploaded before its rows are deleted; if the delete fails the
// part is removed again so the rows are retried on the next cycle.
func (s *Service) RunOnce(ctx context.Context) (Summary, error) {
	s.ensureDefaults()
	if s.Source == nil {
		return Summary{}, fmt.Errorf("history source is required")
	}
	if s.ObjectStore == nil {
		return Summary{}, fmt.Errorf("object store is required")
	}

	runTime := s.Clock().UTC()
	summary := Summary{Cutoff: runTime.Add(-s.Config.RetainFor), Parts: []string{}}

	var runErr error
	for seq := 0; seq < s.Config.MaxParts; seq++ {
		entries, err := s.Source.ListExpired(ctx, summary.Cutoff, s.Config.BatchSize)
		if err != nil {
			runErr = fmt.Errorf("list expired history: %w", err)
			break
		}
		if len(entries) == 0 {
			break
		}
		objectPath, size, err := s.archiveBatch(ctx, runTime, seq, entries)
		if err != nil {
			runErr = err
			break
		}
		summary.RowsArchived += len(entries)
		summary.Parts = append(summary.Parts, objectPath)
		summary.BytesWritten += size
		if len(entries) < s.Config.BatchSize {
			break
		}
	}

	status := StatusSuccess
	switch {
	case runErr != nil:
		status = StatusFailed
	case summary.RowsArchived == 0:
		status = StatusNoop
	}
	if s.Metrics != nil {
		s.Metrics.ArchiveRun(status, summary.RowsArchived)
	}
	if err := s.recordRun(ctx, status, summary, runErr); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("record archive run: %w", err))
	}
	return summary, runErr
}

func (s *Service) archiveBatch(ctx context.Context, runTime time.Time, seq int, entries []history.Entry) (string, int64, error) {
	batch, err := encodeEntries(entries)
	if err != nil {
		return "", 0, fmt.Errorf("encode history batch: %w", err)
	}
	objectPath, err := storage.BuildArchivePath(storage.HistoryDataset, runTime, seq)
	if err != nil {
		return "", 0, fmt.Errorf("build archive object path: %w", err)
	}
	info, err := s.ObjectStore.Put(ctx, objectPath, bytes.NewReader(batch.Data), int64(len(batch.Data)), storage.PutOptions{ContentType: "application/vnd.apache.parquet"})
	if err != nil {
		return "", 0, fmt.Errorf("upload archive part: %w", err)
	}

	ids := make([]int64, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}
	if _, err := s.Source.DeleteByIDs(ctx, ids); err != nil {
		if cleanupErr := s.ObjectStore.Delete(ctx, objectPath); cleanupErr != nil && s.Logger != nil {
			s.Logger.WarnContext(ctx, "archive part cleanup failed",
				slog.String("object_path", objectPath),
				slog.Any("error", cleanupErr),
			)
		}
		return "", 0, fmt.Errorf("delete archived history rows: %w", err)
	}

	if s.Logger != nil {
		s.Logger.DebugContext(ctx, "archive part written",
			slog.String("object_path", objectPath),
			slog.Int("rows", batch.RecordCount),
			slog.Time("oldest", batch.OldestCreate),
			slog.Time("newest", batch.NewestCreate),
		)
	}
	return objectPath, info.Size, nil
}

func (s *Service) recordRun(ctx context.Context, status string, summary Summary, runErr error) error {
	details := map[string]any{
		"cutoff":        summary.Cutoff,
		"parts":         summary.Parts,
		"bytes_written": summary.BytesWritten,
	}
	if runErr != nil {
		details["error"] = runErr.Error()
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal archive_run details: %w", err)
	}
	objectPath := ""
	if len(summary.Parts) > 0 {
		objectPath = summary.Parts[0]
	}
	return s.Source.RecordArchiveRun(ctx, history.ArchiveRun{
		Status:       status,
		RowsArchived: summary.RowsArchived,
		ObjectPath:   objectPath,
		DetailsJSON:  detailsJSON,
		CreatedBy:    s.Config.CreatedBy,
	})
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Config.Interval <= 0 {
		s.Config.Interval = 10 * time.Minute
	}
	if s.Config.RetainFor <= 0 {
		s.Config.RetainFor = 24 * time.Hour
	}
	if s.Config.BatchSize <= 0 {
		s.Config.BatchSize = 500
	}
	if s.Config.MaxParts <= 0 {
		s.Config.MaxParts = 20
	}
	if s.Config.CreatedBy == "" {
		s.Config.CreatedBy = "edusql-archiver"
	}
}
