package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/offdoc/internal/store"
)

func TestDefaults(t *testing.T) {
	s := New(store.NewMemory())
	v, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), v)
	assert.True(t, v.SaveHistory)
	assert.False(t, v.AnonymizeData)
}

func TestSetAndPersistAsJSONBooleans(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	s := New(kv)
	require.NoError(t, s.Put(ctx, Values{SaveHistory: false, AnonymizeData: true}))

	raw, ok, err := kv.Get(ctx, KeySaveHistory)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "false", raw)
	raw, _, _ = kv.Get(ctx, KeyAnonymizeData)
	assert.Equal(t, "true", raw)

	v, err := New(kv).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, Values{SaveHistory: false, AnonymizeData: true}, v)
}

func TestGarbageFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	require.NoError(t, kv.Set(ctx, KeySaveHistory, "maybe"))
	on, err := New(kv).SaveHistory(ctx)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestClosedStore(t *testing.T) {
	kv := store.NewMemory()
	require.NoError(t, kv.Close())
	_, err := New(kv).SaveHistory(context.Background())
	assert.ErrorIs(t, err, store.ErrClosed)
}
