// Package history stores answered questions keyed by normalized text and caller
// so a repeat question inside the TTL window skips the whole pipeline.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
)

var ErrNotFound = errors.New("history: not found")

// DefaultTTL is how long a stored answer may be served again.
const DefaultTTL = time.Hour

type Store interface {
	Get(ctx context.Context, text, callerID string) (Entry, error)
	Put(ctx context.Context, entry Entry) error
}

// ArchiveRun is the audit record written after each archiver cycle.
type ArchiveRun struct {
	Status       string
	RowsArchived int
	ObjectPath   string
	DetailsJSON  json.RawMessage
	CreatedBy    string
}

// Entry is one answered question. QueryText holds the normalized key.
type Entry struct {
	ID              int64
	QueryText       string
	CallerID        string
	Type            string
	Payload         json.RawMessage
	SessionID       string
	Model           string
	ExecutionTimeMs int64
	CreatedAt       time.Time
}

// NormalizeQuery folds width variants (full-width CJK punctuation, digits),
// lower-cases and collapses whitespace.
func NormalizeQuery(text string) string {
	folded := strings.ToLower(norm.NFKC.String(text))
	return strings.Join(strings.Fields(folded), " ")
}

type memoryKey struct {
	text   string
	caller string
}

// MemoryStore keeps the latest entry per key in process. It serves dev mode and
// tests; entries past the TTL are invisible and dropped on the next Put.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	nextID  int64
	entries map[memoryKey]Entry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: map[memoryKey]Entry{},
	}
}

// WithClock replaces the time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *MemoryStore) Get(ctx context.Context, text, callerID string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[memoryKey{text: NormalizeQuery(text), caller: callerID}]
	if !ok || s.expired(entry) {
		return Entry{}, ErrNotFound
	}
	entry.Payload = append(json.RawMessage(nil), entry.Payload...)
	return entry, nil
}

func (s *MemoryStore) Put(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, existing := range s.entries {
		if s.expired(existing) {
			delete(s.entries, key)
		}
	}

	s.nextID++
	entry.ID = s.nextID
	entry.QueryText = NormalizeQuery(entry.QueryText)
	entry.Payload = append(json.RawMessage(nil), entry.Payload...)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	s.entries[memoryKey{text: entry.QueryText, caller: entry.CallerID}] = entry
	return nil
}

// Len reports live and expired entries not yet pruned.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) expired(entry Entry) bool {
	return !s.now().Before(entry.CreatedAt.Add(s.ttl))
}
