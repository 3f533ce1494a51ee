package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/edusql/edusql/internal/history"
	"github.com/edusql/edusql/internal/storage"
)

func TestRunOnceArchivesExpiredRowsInBatches(t *testing.T) {
	now := time.Date(2026, time.March, 2, 3, 0, 0, 0, time.UTC)
	source := &fakeSource{entries: []history.Entry{
		entryAt(1, now.Add(-50*time.Hour)),
		entryAt(2, now.Add(-30*time.Hour)),
		entryAt(3, now.Add(-25*time.Hour)),
		entryAt(4, now.Add(-time.Hour)),
	}}
	store := newFakeStore()
	metrics := &fakeMetrics{}
	svc := &Service{
		Source:      source,
		ObjectStore: store,
		Config:      Config{RetainFor: 24 * time.Hour, BatchSize: 2},
		Clock:       func() time.Time { return now },
		Metrics:     metrics,
	}

	summary, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if summary.RowsArchived != 3 {
		t.Fatalf("RowsArchived = %d, want 3", summary.RowsArchived)
	}
	wantParts := []string{
		"history/date=2026-03-02/part-1772420400000-00000.parquet",
		"history/date=2026-03-02/part-1772420400000-00001.parquet",
	}
	if strings.Join(summary.Parts, ",") != strings.Join(wantParts, ",") {
		t.Fatalf("Parts = %v", summary.Parts)
	}
	if len(source.entries) != 1 || source.entries[0].ID != 4 {
		t.Fatalf("remaining rows = %+v", source.entries)
	}

	rows := readParquet(t, store.objects[wantParts[0]])
	if len(rows) != 2 || rows[0].ID != 1 || rows[1].ID != 2 {
		t.Fatalf("first part rows = %+v", rows)
	}
	if rows[0].AnswerType != "data_query" || rows[0].PayloadJSON != `{"success":true}` {
		t.Fatalf("first row = %+v", rows[0])
	}

	if len(source.runs) != 1 || source.runs[0].Status != StatusSuccess || source.runs[0].RowsArchived != 3 {
		t.Fatalf("recorded runs = %+v", source.runs)
	}
	if source.runs[0].ObjectPath != wantParts[0] || source.runs[0].CreatedBy != "edusql-archiver" {
		t.Fatalf("recorded run = %+v", source.runs[0])
	}
	if metrics.status != StatusSuccess || metrics.rows != 3 {
		t.Fatalf("metrics = %+v", metrics)
	}
}

func TestRunOnceRecordsNoop(t *testing.T) {
	now := time.Date(2026, time.March, 2, 3, 0, 0, 0, time.UTC)
	source := &fakeSource{entries: []history.Entry{entryAt(1, now.Add(-time.Minute))}}
	store := newFakeStore()
	svc := &Service{Source: source, ObjectStore: store, Clock: func() time.Time { return now }}

	summary, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if summary.RowsArchived != 0 || len(store.objects) != 0 {
		t.Fatalf("summary = %+v objects = %d", summary, len(store.objects))
	}
	if len(source.runs) != 1 || source.runs[0].Status != StatusNoop || source.runs[0].ObjectPath != "" {
		t.Fatalf("recorded runs = %+v", source.runs)
	}
}

func TestRunOnceRemovesPartWhenDeleteFails(t *testing.T) {
	now := time.Date(2026, time.March, 2, 3, 0, 0, 0, time.UTC)
	source := &fakeSource{
		entries:   []history.Entry{entryAt(1, now.Add(-48*time.Hour))},
		deleteErr: errors.New("deadlock detected"),
	}
	store := newFakeStore()
	metrics := &fakeMetrics{}
	svc := &Service{Source: source, ObjectStore: store, Clock: func() time.Time { return now }, Metrics: metrics}

	_, err := svc.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "deadlock detected") {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(store.objects) != 0 || len(store.deleted) != 1 {
		t.Fatalf("objects = %d deleted = %v", len(store.objects), store.deleted)
	}
	if len(source.entries) != 1 {
		t.Fatalf("rows should remain for retry, got %+v", source.entries)
	}
	if len(source.runs) != 1 || source.runs[0].Status != StatusFailed {
		t.Fatalf("recorded runs = %+v", source.runs)
	}
	var details map[string]any
	if err := json.Unmarshal(source.runs[0].DetailsJSON, &details); err != nil {
		t.Fatalf("details json: %v", err)
	}
	if !strings.Contains(details["error"].(string), "deadlock detected") {
		t.Fatalf("details = %v", details)
	}
	if metrics.status != StatusFailed {
		t.Fatalf("metrics status = %q", metrics.status)
	}
}

func TestRunOnceUploadFailureKeepsRows(t *testing.T) {
	now := time.Date(2026, time.March, 2, 3, 0, 0, 0, time.UTC)
	source := &fakeSource{entries: []history.Entry{entryAt(1, now.Add(-48*time.Hour))}}
	store := newFakeStore()
	store.putErr = errors.New("bucket unavailable")
	svc := &Service{Source: source, ObjectStore: store, Clock: func() time.Time { return now }}

	if _, err := svc.RunOnce(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
	if len(source.entries) != 1 || source.deleteCalls != 0 {
		t.Fatalf("rows = %+v delete calls = %d", source.entries, source.deleteCalls)
	}
}

func TestRunOnceRequiresDependencies(t *testing.T) {
	if _, err := (&Service{ObjectStore: newFakeStore()}).RunOnce(context.Background()); err == nil {
		t.Fatal("expected missing source error")
	}
	if _, err := (&Service{Source: &fakeSource{}}).RunOnce(context.Background()); err == nil {
		t.Fatal("expected missing object store error")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := &Service{Source: &fakeSource{}, ObjectStore: newFakeStore(), Config: Config{Interval: time.Hour}}
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestEncodeEntriesRejectsEmpty(t *testing.T) {
	if _, err := encodeEntries(nil); err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func entryAt(id int64, created time.Time) history.Entry {
	return history.Entry{
		ID:              id,
		QueryText:       "统计各班级学生人数",
		CallerID:        "u1",
		Type:            "data_query",
		Payload:         json.RawMessage(`{"success":true}`),
		ExecutionTimeMs: 120,
		CreatedAt:       created,
	}
}

func readParquet(t *testing.T, data []byte) []archivedEntry {
	t.Helper()
	reader := parquet.NewGenericReader[archivedEntry](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()
	rows := make([]archivedEntry, reader.NumRows())
	count, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("reader.Read() error = %v", err)
	}
	return rows[:count]
}

type fakeSource struct {
	entries     []history.Entry
	deleteErr   error
	deleteCalls int
	runs        []history.ArchiveRun
}

func (f *fakeSource) ListExpired(_ context.Context, before time.Time, limit int) ([]history.Entry, error) {
	out := make([]history.Entry, 0, limit)
	for _, entry := range f.entries {
		if entry.CreatedAt.After(before) {
			continue
		}
		out = append(out, entry)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) DeleteByIDs(_ context.Context, ids []int64) (int64, error) {
	f.deleteCalls++
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	remove := map[int64]bool{}
	for _, id := range ids {
		remove[id] = true
	}
	kept := f.entries[:0]
	for _, entry := range f.entries {
		if !remove[entry.ID] {
			kept = append(kept, entry)
		}
	}
	f.entries = kept
	return int64(len(ids)), nil
}

func (f *fakeSource) RecordArchiveRun(_ context.Context, run history.ArchiveRun) error {
	f.runs = append(f.runs, run)
	return nil
}

type fakeStore struct {
	objects map[string][]byte
	deleted []string
	putErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	if f.putErr != nil {
		return storage.ObjectInfo{}, f.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	f.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	data, ok := f.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeMetrics struct {
	status string
	rows   int
}

func (f *fakeMetrics) ArchiveRun(status string, rows int) {
	f.status = status
	f.rows = rows
}
