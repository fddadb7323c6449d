package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/use-agent/crawlkit/store"
)

// RequestList is a finite, ordered, append-only sequence of sources with
// restartable iteration: a persistStateKey snapshot records the next index,
// the set of in-progress indices, and the set of reclaimed indices.
type RequestList struct {
	mu             sync.Mutex
	store          store.StateStore
	persistStateKey string

	items       []*Request
	nextIndex   int
	inProgress  map[int]bool
	reclaimed   map[int]bool
}

type listSnapshot struct {
	NextIndex  int
	InProgress []int
	Reclaimed  []int
}

// NewRequestList builds a RequestList over urls, in order.
func NewRequestList(urls []string, st store.StateStore, persistStateKey string) *RequestList {
	items := make([]*Request, len(urls))
	for i, u := range urls {
		items[i] = NewRequest(u)
	}
	return &RequestList{
		store:           st,
		persistStateKey: persistStateKey,
		items:           items,
		inProgress:      make(map[int]bool),
		reclaimed:       make(map[int]bool),
	}
}

// FetchNextRequest returns the next unconsumed request, preferring a
// reclaimed index over advancing nextIndex, or (nil, nil) when exhausted.
func (l *RequestList) FetchNextRequest() (*Request, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for idx := range l.reclaimed {
		delete(l.reclaimed, idx)
		l.inProgress[idx] = true
		return l.items[idx], nil
	}
	if l.nextIndex >= len(l.items) {
		return nil, nil
	}
	idx := l.nextIndex
	l.nextIndex++
	l.inProgress[idx] = true
	return l.items[idx], nil
}

// MarkRequestHandled removes req's index from in-progress tracking.
func (l *RequestList) MarkRequestHandled(req *Request) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.indexOf(req)
	if idx >= 0 {
		delete(l.inProgress, idx)
	}
}

// ReclaimRequest marks req's index to be re-handed-out by a future
// FetchNextRequest call.
func (l *RequestList) ReclaimRequest(req *Request) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.indexOf(req)
	if idx >= 0 {
		delete(l.inProgress, idx)
		l.reclaimed[idx] = true
	}
}

func (l *RequestList) indexOf(req *Request) int {
	for i, it := range l.items {
		if it.UniqueKey == req.UniqueKey {
			return i
		}
	}
	return -1
}

// IsEmpty reports whether there is nothing left to fetch.
func (l *RequestList) IsEmpty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.reclaimed) == 0 && l.nextIndex >= len(l.items)
}

// IsFinished additionally requires nothing in-progress.
func (l *RequestList) IsFinished() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.reclaimed) == 0 && l.nextIndex >= len(l.items) && len(l.inProgress) == 0
}

// PersistState snapshots iteration progress under persistStateKey.
func (l *RequestList) PersistState(ctx context.Context) error {
	if l.persistStateKey == "" {
		return nil
	}
	l.mu.Lock()
	snap := listSnapshot{
		NextIndex:  l.nextIndex,
		InProgress: intKeys(l.inProgress),
		Reclaimed:  intKeys(l.reclaimed),
	}
	l.mu.Unlock()
	if err := l.store.Save(ctx, l.persistStateKey, snap); err != nil {
		return fmt.Errorf("request list: persist state: %w", err)
	}
	return nil
}

// Restore loads a prior snapshot for persistStateKey, if one exists. Any
// index that was in-progress when the snapshot was taken is treated as
// reclaimed — the spec's restartable-list property requires resuming
// exactly the union of handled items, never re-losing an in-flight one.
func (l *RequestList) Restore(ctx context.Context) error {
	if l.persistStateKey == "" {
		return nil
	}
	var snap listSnapshot
	ok, err := l.store.Load(ctx, l.persistStateKey, &snap)
	if err != nil {
		return fmt.Errorf("request list: restore: %w", err)
	}
	if !ok {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextIndex = snap.NextIndex
	l.inProgress = make(map[int]bool)
	l.reclaimed = make(map[int]bool)
	for _, idx := range snap.Reclaimed {
		l.reclaimed[idx] = true
	}
	for _, idx := range snap.InProgress {
		l.reclaimed[idx] = true
	}
	return nil
}

func intKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
