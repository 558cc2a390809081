// Package history keeps the consultation history persisted under the
// "medicalHistory" key, newest first.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/offdoc/internal/store"
)

// Key is the storage key of the serialized history.
const Key = "medicalHistory"

// Type defines the kind of exchange recorded.
type Type string

const (
	TypeConsultation Type = "consultation"
	TypeSymptom      Type = "symptom"
)

// Record is one persisted exchange.
type Record struct {
	ID          string    `json:"id,omitempty"`
	Type        Type      `json:"type"`
	Date        time.Time `json:"date"`
	UserMessage string    `json:"userMessage"`
	AIResponse  string    `json:"aiResponse"`
}

// Book is the in-memory mirror of the persisted history. Every mutation is
// written through to the store.
type Book struct {
	kv  store.KV
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	records []Record
}

func NewBook(kv store.KV, log *slog.Logger) *Book {
	if log == nil {
		log = slog.Default()
	}
	return &Book{kv: kv, log: log, now: time.Now, records: []Record{}}
}

// Load replaces the mirror with the stored value. A missing key is an empty
// history; an unreadable value is logged and treated as empty.
func (b *Book) Load(ctx context.Context) error {
	raw, ok, err := b.kv.Get(ctx, Key)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	recs := []Record{}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &recs); err != nil {
			b.log.Warn("stored history is unreadable, starting empty", "key", Key, "error", err)
			recs = []Record{}
		}
	}
	b.mu.Lock()
	b.records = recs
	b.mu.Unlock()
	return nil
}

// Add prepends r and persists. Missing ID and Date are filled in.
func (b *Book) Add(ctx context.Context, r Record) (Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Date.IsZero() {
		r.Date = b.now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	next := make([]Record, 0, len(b.records)+1)
	next = append(next, r)
	next = append(next, b.records...)
	if err := b.persistLocked(ctx, next); err != nil {
		return Record{}, err
	}
	b.records = next
	return r, nil
}

// List returns a copy, newest first.
func (b *Book) List() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, len(b.records))
	copy(out, b.records)
	return out
}

// Len is the number of records.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Clear empties the history and persists an empty sequence.
func (b *Book) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.persistLocked(ctx, []Record{}); err != nil {
		return err
	}
	b.records = []Record{}
	return nil
}

func (b *Book) persistLocked(ctx context.Context, recs []Record) error {
	data, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := b.kv.Set(ctx, Key, string(data)); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}
