// Package medication keeps the user's medication list under the
// "medications" key.
package medication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loykin/offdoc/internal/store"
)

const Key = "medications"

var (
	ErrEmptyName       = errors.New("medication name is empty")
	ErrIndexOutOfRange = errors.New("medication index out of range")
)

type Record struct {
	Name      string    `json:"name"`
	DateAdded time.Time `json:"dateAdded"`
}

// List mirrors the stored medication list in insertion order.
type List struct {
	kv  store.KV
	log *slog.Logger
	now func() time.Time

	mu    sync.Mutex
	items []Record
}

func NewList(kv store.KV, log *slog.Logger) *List {
	if log == nil {
		log = slog.Default()
	}
	return &List{kv: kv, log: log, now: time.Now, items: []Record{}}
}

func (l *List) Load(ctx context.Context) error {
	raw, ok, err := l.kv.Get(ctx, Key)
	if err != nil {
		return fmt.Errorf("load medications: %w", err)
	}
	items := []Record{}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			l.log.Warn("stored medications are unreadable, starting empty", "key", Key, "error", err)
			items = []Record{}
		}
	}
	l.mu.Lock()
	l.items = items
	l.mu.Unlock()
	return nil
}

// Add appends a medication. Surrounding whitespace is trimmed and blank
// names are rejected.
func (l *List) Add(ctx context.Context, name string) (Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Record{}, ErrEmptyName
	}
	r := Record{Name: name, DateAdded: l.now().UTC()}
	l.mu.Lock()
	defer l.mu.Unlock()
	next := append(append(make([]Record, 0, len(l.items)+1), l.items...), r)
	if err := l.persistLocked(ctx, next); err != nil {
		return Record{}, err
	}
	l.items = next
	return r, nil
}

// Remove deletes the entry at idx and returns it.
func (l *List) Remove(ctx context.Context, idx int) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx < 0 || idx >= len(l.items) {
		return Record{}, fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, idx, len(l.items))
	}
	removed := l.items[idx]
	next := make([]Record, 0, len(l.items)-1)
	next = append(next, l.items[:idx]...)
	next = append(next, l.items[idx+1:]...)
	if err := l.persistLocked(ctx, next); err != nil {
		return Record{}, err
	}
	l.items = next
	return removed, nil
}

// Items returns a copy of the list.
func (l *List) Items() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.items))
	copy(out, l.items)
	return out
}

// Names returns the medication names in order.
func (l *List) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.items))
	for i, r := range l.items {
		out[i] = r.Name
	}
	return out
}

func (l *List) persistLocked(ctx context.Context, items []Record) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode medications: %w", err)
	}
	if err := l.kv.Set(ctx, Key, string(data)); err != nil {
		return fmt.Errorf("save medications: %w", err)
	}
	return nil
}
