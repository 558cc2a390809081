// Package settings stores the user's privacy toggles. Each flag is a JSON
// boolean under its own key.
package settings

import (
	"context"
	"fmt"
	"strconv"

	"github.com/loykin/offdoc/internal/store"
)

const (
	KeySaveHistory   = "saveHistory"
	KeyAnonymizeData = "anonymizeData"
)

// Values is a snapshot of all flags.
type Values struct {
	SaveHistory   bool `json:"saveHistory"`
	AnonymizeData bool `json:"anonymizeData"`
}

// Defaults: history is saved, data is not anonymized.
func Defaults() Values {
	return Values{SaveHistory: true}
}

type Settings struct {
	kv store.KV
}

func New(kv store.KV) *Settings { return &Settings{kv: kv} }

func (s *Settings) SaveHistory(ctx context.Context) (bool, error) {
	return s.flag(ctx, KeySaveHistory, true)
}

func (s *Settings) SetSaveHistory(ctx context.Context, v bool) error {
	return s.set(ctx, KeySaveHistory, v)
}

func (s *Settings) AnonymizeData(ctx context.Context) (bool, error) {
	return s.flag(ctx, KeyAnonymizeData, false)
}

func (s *Settings) SetAnonymizeData(ctx context.Context, v bool) error {
	return s.set(ctx, KeyAnonymizeData, v)
}

// Get reads every flag.
func (s *Settings) Get(ctx context.Context) (Values, error) {
	var v Values
	var err error
	if v.SaveHistory, err = s.SaveHistory(ctx); err != nil {
		return Values{}, err
	}
	if v.AnonymizeData, err = s.AnonymizeData(ctx); err != nil {
		return Values{}, err
	}
	return v, nil
}

// Put writes every flag.
func (s *Settings) Put(ctx context.Context, v Values) error {
	if err := s.SetSaveHistory(ctx, v.SaveHistory); err != nil {
		return err
	}
	return s.SetAnonymizeData(ctx, v.AnonymizeData)
}

// flag returns def when the key is missing or does not hold a boolean.
func (s *Settings) flag(ctx context.Context, key string, def bool) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return def, fmt.Errorf("read setting %s: %w", key, err)
	}
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def, nil
	}
	return b, nil
}

func (s *Settings) set(ctx context.Context, key string, v bool) error {
	if err := s.kv.Set(ctx, key, strconv.FormatBool(v)); err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}
