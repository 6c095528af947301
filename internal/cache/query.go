package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// Fetcher loads the raw JSON of a resource path.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (json.RawMessage, error)
}

type QueryConfig[T any] struct {
	Path    string
	Enabled bool
	// Transform shapes the decoded payload before it is cached. When nil the
	// payload is decoded directly into T.
	Transform func(raw json.RawMessage) (T, error)
	// Manual queries are never fetched; their value changes only through
	// local updates and mutations.
	Manual bool
}

// Query is the last-known value of one resource, addressed by a key.
type Query[T any] struct {
	store   *Store
	fetcher Fetcher

	mu  sync.Mutex
	key Key
	cfg QueryConfig[T]
	err error

	fetching atomic.Int32
}

func NewQuery[T any](store *Store, fetcher Fetcher) *Query[T] {
	return &Query[T]{store: store, fetcher: fetcher}
}

// SetKey points the query at key. When the key parts differ from the current
// ones and the query is enabled, the resource is fetched again.
func (q *Query[T]) SetKey(ctx context.Context, key Key, cfg QueryConfig[T]) error {
	q.mu.Lock()
	changed := !q.key.Equal(key)
	q.key = NewKey(key...)
	q.cfg = cfg
	if changed {
		q.err = nil
	}
	q.mu.Unlock()

	if !changed || !cfg.Enabled {
		return nil
	}
	q.seed(key)
	if cfg.Manual {
		return nil
	}
	return q.Refetch(ctx)
}

// seed fills an empty key from its snapshot so a stale value shows before
// the first fetch completes.
func (q *Query[T]) seed(key Key) {
	if _, ok := q.store.Get(key); ok {
		return
	}
	var v T
	if q.store.restore(key, &v) {
		q.store.Mutate(key, func(current any, ok bool) any {
			if ok {
				return current
			}
			return v
		})
	}
}

func (q *Query[T]) state() (Key, QueryConfig[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.key, q.cfg
}

func (q *Query[T]) Key() Key {
	key, _ := q.state()
	return key
}

func (q *Query[T]) Path() string {
	_, cfg := q.state()
	return cfg.Path
}

func (q *Query[T]) Enabled() bool {
	key, cfg := q.state()
	return cfg.Enabled && !key.IsZero()
}

// Refetch issues the fetch for the current key. A disabled query returns
// without a request.
func (q *Query[T]) Refetch(ctx context.Context) error {
	key, cfg := q.state()
	if !cfg.Enabled || cfg.Manual || key.IsZero() {
		return nil
	}

	q.fetching.Add(1)
	defer q.fetching.Add(-1)

	v, err := q.store.do(key, func() (any, error) {
		raw, err := q.fetcher.Fetch(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		if cfg.Transform != nil {
			return cfg.Transform(raw)
		}
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", cfg.Path, err)
		}
		return out, nil
	})

	q.mu.Lock()
	if q.key.Equal(key) {
		q.err = err
	}
	q.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", cfg.Path, err)
	}
	q.store.Set(key, v)
	q.store.Persist(key)
	return nil
}

// Data returns the cached value, or the zero value when nothing is cached or
// the query is disabled.
func (q *Query[T]) Data() T {
	var zero T
	if !q.Enabled() {
		return zero
	}
	v, ok := q.store.Get(q.Key())
	if !ok {
		return zero
	}
	typed, ok := v.(T)
	if !ok {
		return zero
	}
	return typed
}

func (q *Query[T]) Loading() bool {
	return q.fetching.Load() > 0
}

// Err returns the error of the last fetch for the current key.
func (q *Query[T]) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Subscribe calls fn with every new value of the current key. A cleared
// store delivers the zero value.
func (q *Query[T]) Subscribe(fn func(T)) func() {
	return q.store.Subscribe(q.Key(), func(v any) {
		if v == nil {
			var zero T
			fn(zero)
			return
		}
		if typed, ok := v.(T); ok {
			fn(typed)
		}
	})
}

// mutate applies fn to the cached value of key.
func (q *Query[T]) mutate(key Key, fn func(T) T) {
	q.store.Mutate(key, func(current any, ok bool) any {
		var typed T
		if ok {
			typed, _ = current.(T)
		}
		return fn(typed)
	})
}
