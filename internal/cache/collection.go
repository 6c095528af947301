package cache

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"sync/atomic"
)

// ErrDisabled is returned by mutations on a collection with no active key.
var ErrDisabled = errors.New("collection is disabled")

// Mutator sends a JSON request and decodes the JSON response into out.
type Mutator interface {
	JSON(ctx context.Context, method, path string, body, out any) error
}

// Transport is what a collection needs from the network layer.
type Transport interface {
	Fetcher
	Mutator
}

// Collection is a cached list of entities with create, update and delete
// operations that reconcile the list by identifier once the server answers.
type Collection[T Identifiable] struct {
	*Query[[]T]
	mutator Mutator
	skip    func(T) bool

	adding   atomic.Int32
	updating atomic.Int32
	removing atomic.Int32
}

func NewCollection[T Identifiable](store *Store, tr Transport) *Collection[T] {
	return &Collection[T]{
		Query:   NewQuery[[]T](store, tr),
		mutator: tr,
	}
}

// SkipInSnapshots keeps entries matching fn out of every snapshot of the
// collection. Call it before the first SetKey.
func (c *Collection[T]) SkipInSnapshots(fn func(T) bool) {
	c.skip = fn
}

func (c *Collection[T]) persist(key Key) {
	if c.skip == nil {
		c.store.Persist(key)
		return
	}
	v, ok := c.store.Get(key)
	if !ok {
		return
	}
	items, _ := v.([]T)
	c.store.PersistValue(key, slices.DeleteFunc(slices.Clone(items), c.skip))
}

// Items returns a copy of the cached list, never nil.
func (c *Collection[T]) Items() []T {
	items := c.Data()
	out := make([]T, len(items))
	copy(out, items)
	return out
}

func (c *Collection[T]) itemPath(id string) string {
	return c.Path() + "/" + url.PathEscape(id)
}

// AddItem POSTs partial to the collection path and reconciles the entity the
// server returns.
func (c *Collection[T]) AddItem(ctx context.Context, partial any) (T, error) {
	var created T
	if !c.Enabled() {
		return created, ErrDisabled
	}
	key := c.Key()

	c.adding.Add(1)
	defer c.adding.Add(-1)

	if err := c.mutator.JSON(ctx, http.MethodPost, c.Path(), partial, &created); err != nil {
		return created, err
	}
	c.mutate(key, func(items []T) []T { return Upsert(items, created) })
	c.persist(key)
	return created, nil
}

// UpdateItem PATCHes data to path/id and reconciles the returned entity.
func (c *Collection[T]) UpdateItem(ctx context.Context, id string, data any) (T, error) {
	var updated T
	if !c.Enabled() {
		return updated, ErrDisabled
	}
	key := c.Key()

	c.updating.Add(1)
	defer c.updating.Add(-1)

	if err := c.mutator.JSON(ctx, http.MethodPatch, c.itemPath(id), data, &updated); err != nil {
		return updated, err
	}
	c.mutate(key, func(items []T) []T { return Upsert(items, updated) })
	c.persist(key)
	return updated, nil
}

// RemoveItem DELETEs path/id and drops the matching entry. Removing an id that
// is not cached leaves the list unchanged.
func (c *Collection[T]) RemoveItem(ctx context.Context, id string) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	key := c.Key()

	c.removing.Add(1)
	defer c.removing.Add(-1)

	if err := c.mutator.JSON(ctx, http.MethodDelete, c.itemPath(id), nil, nil); err != nil {
		return err
	}
	c.mutate(key, func(items []T) []T { return RemoveByID(items, id) })
	c.persist(key)
	return nil
}

// UpdateCollection reconciles item into the cached list without a request.
// With remove set, the entry carrying item's id is deleted instead.
func (c *Collection[T]) UpdateCollection(item T, remove bool) {
	if !c.Enabled() {
		return
	}
	c.mutate(c.Key(), func(items []T) []T {
		if remove {
			return RemoveByID(items, item.GetID())
		}
		return Upsert(items, item)
	})
}

// Replace overwrites the cached list without a request.
func (c *Collection[T]) Replace(items []T) {
	if !c.Enabled() {
		return
	}
	out := make([]T, len(items))
	copy(out, items)
	c.mutate(c.Key(), func([]T) []T { return out })
}

// TruncateAfter drops every entry that follows the one carrying id. The list
// is unchanged when id is not cached.
func (c *Collection[T]) TruncateAfter(id string) {
	if !c.Enabled() {
		return
	}
	c.mutate(c.Key(), func(items []T) []T {
		i := IndexOf(items, id)
		if i < 0 {
			return items
		}
		return slices.Clone(items[:i+1])
	})
}

func (c *Collection[T]) Adding() bool   { return c.adding.Load() > 0 }
func (c *Collection[T]) Updating() bool { return c.updating.Load() > 0 }
func (c *Collection[T]) Removing() bool { return c.removing.Load() > 0 }

// Loading is true while a fetch or any mutation is pending.
func (c *Collection[T]) Loading() bool {
	return c.Query.Loading() || c.Adding() || c.Updating() || c.Removing()
}

// Swap replaces the entry carrying oldID with item in a single change, so no
// subscriber observes the list without either of them.
func (c *Collection[T]) Swap(oldID string, item T) {
	if !c.Enabled() {
		return
	}
	c.mutate(c.Key(), func(items []T) []T { return ReplaceID(items, oldID, item) })
}
