package queue

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/use-agent/crawlkit/store"
)

// RequestQueue is a durable-across-restarts mapping of uniqueKey → Request
// plus an ordering discipline. At most one consumer holds a request
// in-progress at a time; handled is terminal.
//
// The spec models this against a single-threaded event loop where the local
// cache needs no locking; here concurrent goroutines really do race, so a
// mutex protects the local cache and the backing store calls it makes.
type RequestQueue struct {
	mu    sync.Mutex
	store store.StateStore
	key   string

	pending    *list.List          // *Request, FIFO with forefront insertion at head
	inProgress map[string]*Request // uniqueKey -> Request
	known      map[string]*Request // uniqueKey -> Request, every request ever added
	handled    map[string]bool

	enqueuing int // count of addRequest calls not yet durably recorded
}

type snapshot struct {
	Known      map[string]*Request
	PendingIDs []string
	InProgress []string
	Handled    []string
}

// New creates a RequestQueue backed by st, persisted under key.
func New(st store.StateStore, key string) *RequestQueue {
	return &RequestQueue{
		store:      st,
		key:        key,
		pending:    list.New(),
		inProgress: make(map[string]*Request),
		known:      make(map[string]*Request),
		handled:    make(map[string]bool),
	}
}

// AddRequestResult is the outcome of AddRequest.
type AddRequestResult struct {
	WasAlreadyPresent bool
	WasAlreadyHandled bool
	RequestID         string
}

// AddRequest dedups by UniqueKey. forefront=true inserts at the head of the
// pending order (breadth-first steering); the default is tail.
func (q *RequestQueue) AddRequest(ctx context.Context, req *Request, forefront bool) (*AddRequestResult, error) {
	q.mu.Lock()
	if existing, ok := q.known[req.UniqueKey]; ok {
		result := &AddRequestResult{
			WasAlreadyPresent: true,
			WasAlreadyHandled: q.handled[req.UniqueKey],
			RequestID:         existing.ID,
		}
		q.mu.Unlock()
		return result, nil
	}

	q.known[req.UniqueKey] = req
	if forefront {
		q.pending.PushFront(req)
	} else {
		q.pending.PushBack(req)
	}
	q.enqueuing++
	q.mu.Unlock()

	if err := q.persistLocked(ctx); err != nil {
		slog.Warn("request queue: persist after addRequest failed, will retry on next flush", "error", err)
	}

	q.mu.Lock()
	q.enqueuing--
	q.mu.Unlock()

	return &AddRequestResult{RequestID: req.ID}, nil
}

// FetchNextRequest atomically moves a pending entry to in-progress and
// returns it. It may return (nil, nil) even when the queue is non-empty; the
// caller must tolerate this and retry on the next tick.
func (q *RequestQueue) FetchNextRequest(ctx context.Context) (*Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.pending.Front()
	if front == nil {
		return nil, nil
	}
	req := q.pending.Remove(front).(*Request)
	// Stale-cache guard: the authoritative state is inProgress/handled on
	// this process. A request already handled or in flight (e.g. re-added
	// from a stale snapshot) must not be handed out twice.
	if q.handled[req.UniqueKey] || q.inProgress[req.UniqueKey] != nil {
		return nil, nil
	}
	req.State = StateBeforeNav
	q.inProgress[req.UniqueKey] = req
	return req, nil
}

// MarkRequestHandled is terminal and idempotent under identical UniqueKey.
func (q *RequestQueue) MarkRequestHandled(ctx context.Context, req *Request) error {
	q.mu.Lock()
	if q.handled[req.UniqueKey] {
		q.mu.Unlock()
		return nil
	}
	req.State = StateDone
	delete(q.inProgress, req.UniqueKey)
	q.handled[req.UniqueKey] = true
	q.mu.Unlock()

	if err := q.persistLocked(ctx); err != nil {
		return fmt.Errorf("request queue: persist after markRequestHandled: %w", err)
	}
	return nil
}

// ReclaimRequest returns req to pending, preserving ErrorMessages and
// incrementing RetryCount.
func (q *RequestQueue) ReclaimRequest(ctx context.Context, req *Request, forefront bool) error {
	q.mu.Lock()
	delete(q.inProgress, req.UniqueKey)
	if !q.handled[req.UniqueKey] {
		req.RetryCount++
		req.State = StateUnprocessed
		if forefront {
			q.pending.PushFront(req)
		} else {
			q.pending.PushBack(req)
		}
	}
	q.mu.Unlock()
	return q.persistLocked(ctx)
}

// IsEmpty reports whether there is no pending work. In-progress entries
// still count as non-empty work for purposes of IsFinished.
func (q *RequestQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len() == 0
}

// IsFinished additionally requires nothing in-progress and no enqueue in
// flight.
func (q *RequestQueue) IsFinished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len() == 0 && len(q.inProgress) == 0 && q.enqueuing == 0
}

// HandledCount reports the number of requests marked handled so far.
func (q *RequestQueue) HandledCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.handled)
}

func (q *RequestQueue) persistLocked(ctx context.Context) error {
	q.mu.Lock()
	snap := snapshot{
		Known:      make(map[string]*Request, len(q.known)),
		PendingIDs: make([]string, 0, q.pending.Len()),
		InProgress: make([]string, 0, len(q.inProgress)),
		Handled:    make([]string, 0, len(q.handled)),
	}
	for k, v := range q.known {
		snap.Known[k] = v
	}
	for e := q.pending.Front(); e != nil; e = e.Next() {
		snap.PendingIDs = append(snap.PendingIDs, e.Value.(*Request).UniqueKey)
	}
	for k := range q.inProgress {
		snap.InProgress = append(snap.InProgress, k)
	}
	for k := range q.handled {
		snap.Handled = append(snap.Handled, k)
	}
	q.mu.Unlock()

	return q.store.Save(ctx, q.key, snap)
}

// Restore reloads a persisted snapshot. Per spec §3's durability invariant,
// any entry that was in-progress at the time of the last snapshot is
// recovered as pending, never silently dropped.
func (q *RequestQueue) Restore(ctx context.Context) error {
	var snap snapshot
	ok, err := q.store.Load(ctx, q.key, &snap)
	if err != nil {
		return fmt.Errorf("request queue: restore: %w", err)
	}
	if !ok {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.known = snap.Known
	q.pending = list.New()
	q.inProgress = make(map[string]*Request)
	q.handled = make(map[string]bool)
	for _, k := range snap.Handled {
		q.handled[k] = true
	}

	recovered := make(map[string]bool, len(snap.InProgress))
	for _, k := range snap.InProgress {
		recovered[k] = true
	}
	for _, k := range snap.PendingIDs {
		if req, ok := q.known[k]; ok && !q.handled[k] {
			q.pending.PushBack(req)
		}
	}
	for k := range recovered {
		if req, ok := q.known[k]; ok && !q.handled[k] {
			req.State = StateUnprocessed
			q.pending.PushBack(req)
		}
	}
	return nil
}
