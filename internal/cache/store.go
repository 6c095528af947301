package cache

import (
	"encoding/json"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Persister keeps snapshots of cached values across restarts.
type Persister interface {
	SaveSnapshot(key string, value []byte) error
	LoadSnapshot(key string) ([]byte, bool, error)
	ClearSnapshots() error
}

// Store is the keyed cache shared by every query and collection of a
// client. Each key is independent; a read-modify-write of one key is atomic.
// Subscribers run after each change and must not mutate the store.
type Store struct {
	mu      sync.Mutex
	entries map[string]any
	subs    map[string]map[int]func(any)
	nextSub int

	// notifyMu orders notifications the same way as the writes.
	notifyMu sync.Mutex

	group     singleflight.Group
	persister Persister
}

func NewStore() *Store {
	return &Store{
		entries: make(map[string]any),
		subs:    make(map[string]map[int]func(any)),
	}
}

// WithPersister enables snapshots through p.
func (s *Store) WithPersister(p Persister) *Store {
	s.persister = p
	return s
}

func (s *Store) Get(key Key) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key.String()]
	return v, ok
}

func (s *Store) Set(key Key, value any) {
	s.Mutate(key, func(any, bool) any { return value })
}

// Mutate replaces the value of key with fn(current) and notifies the key's
// subscribers.
func (s *Store) Mutate(key Key, fn func(current any, ok bool) any) {
	k := key.String()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	current, ok := s.entries[k]
	next := fn(current, ok)
	s.entries[k] = next
	subs := make([]func(any), 0, len(s.subs[k]))
	for _, sub := range s.subs[k] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(next)
	}
}

// Subscribe registers fn for changes of key and returns the function that
// removes it.
func (s *Store) Subscribe(key Key, fn func(any)) func() {
	k := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	if s.subs[k] == nil {
		s.subs[k] = make(map[int]func(any))
	}
	s.subs[k][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[k], id)
		if len(s.subs[k]) == 0 {
			delete(s.subs, k)
		}
	}
}

// Clear drops every cached value and snapshot. Subscriptions are kept and
// each subscriber is called with nil.
func (s *Store) Clear() {
	s.notifyMu.Lock()
	s.mu.Lock()
	s.entries = make(map[string]any)
	var subs []func(any)
	for _, byID := range s.subs {
		for _, sub := range byID {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(nil)
	}
	s.notifyMu.Unlock()

	if s.persister != nil {
		if err := s.persister.ClearSnapshots(); err != nil {
			log.Printf("Failed to clear cache snapshots: %v", err)
		}
	}
}

// Persist writes the current value of key to the persister, if any.
func (s *Store) Persist(key Key) {
	if s.persister == nil {
		return
	}
	v, ok := s.Get(key)
	if !ok {
		return
	}
	s.PersistValue(key, v)
}

// PersistValue writes v as the snapshot of key without touching the cached
// value.
func (s *Store) PersistValue(key Key, v any) {
	if s.persister == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to encode snapshot for %s: %v", key, err)
		return
	}
	if err := s.persister.SaveSnapshot(key.String(), data); err != nil {
		log.Printf("Failed to save snapshot for %s: %v", key, err)
	}
}

// restore decodes the snapshot of key into dst. It reports false when there
// is no persister or no snapshot.
func (s *Store) restore(key Key, dst any) bool {
	if s.persister == nil {
		return false
	}
	data, ok, err := s.persister.LoadSnapshot(key.String())
	if err != nil {
		log.Printf("Failed to load snapshot for %s: %v", key, err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		log.Printf("Discarding unreadable snapshot for %s: %v", key, err)
		return false
	}
	return true
}

// do runs fn once per key among concurrent callers.
func (s *Store) do(key Key, fn func() (any, error)) (any, error) {
	v, err, _ := s.group.Do(key.String(), fn)
	return v, err
}
