package archive

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/edusql/edusql/internal/history"
)

type encodedBatch struct {
	Data         []byte
	RecordCount  int
	OldestCreate time.Time
	NewestCreate time.Time
}

type archivedEntry struct {
	ID              int64  `parquet:"id"`
	QueryText       string `parquet:"query_text"`
	CallerID        string `parquet:"caller_id"`
	AnswerType      string `parquet:"answer_type"`
	PayloadJSON     string `parquet:"payload_json"`
	SessionID       string `parquet:"session_id,optional"`
	Model           string `parquet:"model,optional"`
	ExecutionTimeMs int64  `parquet:"execution_time_ms"`
	CreatedAtUnixMs int64  `parquet:"created_at_unix_ms"`
}

func encodeEntries(entries []history.Entry) (encodedBatch, error) {
	if len(entries) == 0 {
		return encodedBatch{}, fmt.Errorf("entries are required")
	}

	rows := make([]archivedEntry, 0, len(entries))
	batch := encodedBatch{RecordCount: len(entries)}
	for _, entry := range entries {
		created := entry.CreatedAt.UTC()
		if batch.OldestCreate.IsZero() || created.Before(batch.OldestCreate) {
			batch.OldestCreate = created
		}
		if created.After(batch.NewestCreate) {
			batch.NewestCreate = created
		}
		rows = append(rows, archivedEntry{
			ID:              entry.ID,
			QueryText:       entry.QueryText,
			CallerID:        entry.CallerID,
			AnswerType:      entry.Type,
			PayloadJSON:     string(entry.Payload),
			SessionID:       entry.SessionID,
			Model:           entry.Model,
			ExecutionTimeMs: entry.ExecutionTimeMs,
			CreatedAtUnixMs: created.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[archivedEntry](buf)
	if _, err := writer.Write(rows); err != nil {
		return encodedBatch{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return encodedBatch{}, fmt.Errorf("close parquet writer: %w", err)
	}
	batch.Data = buf.Bytes()
	return batch, nil
}
