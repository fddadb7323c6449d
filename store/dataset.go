package store

import (
	"context"
	"fmt"
	"sync"
)

// Dataset is an append-only collection of arbitrary JSON-serializable
// records, the target of CrawlingContext.pushData. Each Dataset is a single
// StateStore record; this is adequate for the crawl sizes this core targets
// and keeps the persistence boundary at StateStore rather than growing a
// second storage abstraction.
type Dataset struct {
	mu    sync.Mutex
	store StateStore
	key   string
	cache []any
}

// NewDataset opens (or creates) the dataset persisted under key.
func NewDataset(st StateStore, key string) *Dataset {
	return &Dataset{store: st, key: key}
}

// PushData appends item and persists the dataset immediately.
func (d *Dataset) PushData(ctx context.Context, item any) error {
	d.mu.Lock()
	d.cache = append(d.cache, item)
	snapshot := append([]any(nil), d.cache...)
	d.mu.Unlock()

	if err := d.store.Save(ctx, d.key, snapshot); err != nil {
		return fmt.Errorf("dataset: push data: %w", err)
	}
	return nil
}

// Items returns every item pushed so far, loading from the store first.
func (d *Dataset) Items(ctx context.Context) ([]any, error) {
	var items []any
	if _, err := d.store.Load(ctx, d.key, &items); err != nil {
		return nil, fmt.Errorf("dataset: load: %w", err)
	}
	return items, nil
}

// KeyValueStore is a small keyed blob store scoped under a prefix, the
// target of CrawlingContext.getKeyValueStore. Distinct ids get distinct
// prefixes within the same backing StateStore.
type KeyValueStore struct {
	store  StateStore
	prefix string
}

// GetKeyValueStore opens the named store ("" selects the crawler's default
// store) backed by st.
func GetKeyValueStore(st StateStore, crawlerKey, id string) *KeyValueStore {
	if id == "" {
		id = "default"
	}
	return &KeyValueStore{store: st, prefix: crawlerKey + ":kv:" + id + ":"}
}

func (kv *KeyValueStore) SetValue(ctx context.Context, key string, value any) error {
	return kv.store.Save(ctx, kv.prefix+key, value)
}

func (kv *KeyValueStore) GetValue(ctx context.Context, key string, v any) (bool, error) {
	return kv.store.Load(ctx, kv.prefix+key, v)
}
