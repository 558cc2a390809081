// Package store is the flat key/value string store behind the persistent
// chat history, medication list and settings flags.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("store closed")

// KV is a durable string key/value store. Values are opaque text; callers
// serialize JSON themselves.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Builder opens a store from a DSN whose scheme selected it.
type Builder func(dsn string) (KV, error)

// DefaultFactory maps DSN schemes to builders.
type DefaultFactory struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

var globalFactory = &DefaultFactory{builders: make(map[string]Builder)}

func init() {
	RegisterStoreType("memory", func(string) (KV, error) { return NewMemory(), nil })
	RegisterStoreType("sqlite", func(dsn string) (KV, error) {
		return NewSQLite(strings.TrimPrefix(dsn, "sqlite://"))
	})
	pg := func(dsn string) (KV, error) { return NewPostgres(dsn) }
	RegisterStoreType("postgres", pg)
	RegisterStoreType("postgresql", pg)
}

// RegisterStoreType registers a builder for a DSN scheme.
func RegisterStoreType(scheme string, b Builder) { globalFactory.RegisterStoreType(scheme, b) }

// Open opens a store by DSN using the global factory.
//
//	memory://                      in-process map
//	sqlite:///path/offdoc.db       SQLite file (a bare path also selects SQLite)
//	postgres://user:pw@host/db     PostgreSQL
func Open(dsn string) (KV, error) { return globalFactory.Open(dsn) }

// SupportedTypes returns registered schemes, sorted.
func SupportedTypes() []string { return globalFactory.SupportedTypes() }

func (f *DefaultFactory) RegisterStoreType(scheme string, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[scheme] = b
}

func (f *DefaultFactory) Open(dsn string) (KV, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("store dsn is required")
	}
	scheme := "sqlite"
	if i := strings.Index(dsn, "://"); i > 0 {
		scheme = strings.ToLower(dsn[:i])
	}
	f.mu.RLock()
	b, ok := f.builders[scheme]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported store type: %s (supported: %v)", scheme, f.SupportedTypes())
	}
	return b(dsn)
}

func (f *DefaultFactory) SupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.builders))
	for k := range f.builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
