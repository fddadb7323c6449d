package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataset_PushData_AccumulatesInOrder(t *testing.T) {
	st := NewMemoryStore(0)
	ds := NewDataset(st, "ds1")
	ctx := context.Background()

	require.NoError(t, ds.PushData(ctx, map[string]any{"n": float64(1)}))
	require.NoError(t, ds.PushData(ctx, map[string]any{"n": float64(2)}))

	items, err := ds.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, map[string]any{"n": float64(1)}, items[0])
	assert.Equal(t, map[string]any{"n": float64(2)}, items[1])
}

func TestDataset_Items_EmptyBeforeAnyPush(t *testing.T) {
	st := NewMemoryStore(0)
	ds := NewDataset(st, "ds1")
	items, err := ds.Items(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDataset_PushData_PersistsAcrossNewHandle(t *testing.T) {
	st := NewMemoryStore(0)
	ctx := context.Background()
	require.NoError(t, NewDataset(st, "ds1").PushData(ctx, map[string]any{"n": float64(1)}))

	reopened := NewDataset(st, "ds1")
	items, err := reopened.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1, "a fresh Dataset handle over the same key must see prior pushes via the store")
}

func TestKeyValueStore_SetThenGet_RoundTrips(t *testing.T) {
	st := NewMemoryStore(0)
	kv := GetKeyValueStore(st, "crawl-1", "")
	ctx := context.Background()

	require.NoError(t, kv.SetValue(ctx, "cookie-jar", widget{Name: "x", Count: 5}))

	var got widget
	found, err := kv.GetValue(ctx, "cookie-jar", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, widget{Name: "x", Count: 5}, got)
}

func TestKeyValueStore_DistinctIDsDoNotCollide(t *testing.T) {
	st := NewMemoryStore(0)
	ctx := context.Background()
	a := GetKeyValueStore(st, "crawl-1", "a")
	b := GetKeyValueStore(st, "crawl-1", "b")

	require.NoError(t, a.SetValue(ctx, "k", widget{Name: "from-a"}))

	var got widget
	found, err := b.GetValue(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found, "stores opened under different ids must not share keys")
}

func TestGetKeyValueStore_EmptyIDDefaultsToDefaultStore(t *testing.T) {
	st := NewMemoryStore(0)
	ctx := context.Background()
	require.NoError(t, GetKeyValueStore(st, "crawl-1", "").SetValue(ctx, "k", widget{Name: "v"}))

	var got widget
	found, err := GetKeyValueStore(st, "crawl-1", "default").GetValue(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found, "the empty id and the literal \"default\" id must address the same store")
}
