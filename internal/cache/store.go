// Package cache holds the per-dataset TTL cache with fetch coalescing and
// subscriber fan-out. A Store instance is built explicitly by the caller and
// injected wherever datasets are read; there is no package-level singleton.
package cache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pskrzyns/bedrockdash/internal/core"
)

// Fetcher loads one dataset from its configured source chain.
type Fetcher func(ctx context.Context) (any, error)

// Subscriber is invoked once per successful refresh of a dataset key.
type Subscriber func(data any)

// KeyStatus is a presentation-friendly snapshot of one cache entry.
type KeyStatus struct {
	HasData     bool      `json:"has_data"`
	Loading     bool      `json:"loading"`
	LastUpdated time.Time `json:"last_updated,omitzero"`
}

// inflight is the pending handle all concurrent callers of one key await.
// val and err are written exactly once, before done is closed.
type inflight struct {
	done chan struct{}
	val  any
	err  error
}

type entry struct {
	ttl     time.Duration
	fetch   Fetcher
	data    any
	hasData bool
	updated time.Time
	pending *inflight
}

// Store owns every cache entry; nothing else mutates them.
type Store struct {
	mu      sync.Mutex
	entries map[core.DatasetKey]*entry
	subs    map[core.DatasetKey]map[int]Subscriber
	nextSub int
	now     func() time.Time
}

func New() *Store {
	return &Store{
		entries: make(map[core.DatasetKey]*entry),
		subs:    make(map[core.DatasetKey]map[int]Subscriber),
		now:     time.Now,
	}
}

// Register wires a dataset key to its fetcher and TTL. A zero TTL means the
// entry is never considered fresh and every Get refetches (still coalesced).
func (s *Store) Register(key core.DatasetKey, ttl time.Duration, fetch Fetcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry{ttl: ttl, fetch: fetch}
}

// Get returns the dataset for key. Fresh data is served without I/O, an
// in-flight fetch is joined, otherwise a new fetch starts. A failed fetch
// leaves previously cached data untouched and servable.
func (s *Store) Get(ctx context.Context, key core.DatasetKey, force bool) (any, error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("cache: no fetcher registered for dataset %q", key)
	}

	if !force && e.hasData && e.ttl > 0 && s.now().Sub(e.updated) < e.ttl {
		data := e.data
		s.mu.Unlock()
		return data, nil
	}

	if p := e.pending; p != nil {
		s.mu.Unlock()
		return awaitInflight(ctx, p)
	}

	p := &inflight{done: make(chan struct{})}
	e.pending = p
	fetch := e.fetch
	s.mu.Unlock()

	// The fetch is detached from the caller's context: a caller that stops
	// awaiting abandons the join, but the result still lands in the cache.
	go s.runFetch(context.WithoutCancel(ctx), key, e, p, fetch)

	return awaitInflight(ctx, p)
}

func awaitInflight(ctx context.Context, p *inflight) (any, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) runFetch(ctx context.Context, key core.DatasetKey, e *entry, p *inflight, fetch Fetcher) {
	val, err := fetch(ctx)

	s.mu.Lock()
	if err == nil {
		e.data = val
		e.hasData = true
		e.updated = s.now()
	}
	e.pending = nil
	var subs []Subscriber
	if err == nil {
		for _, fn := range s.subs[key] {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()

	p.val, p.err = val, err
	close(p.done)

	for _, fn := range subs {
		notify(key, fn, val)
	}
}

// notify isolates one subscriber: a panicking callback is logged and must
// not starve the remaining subscribers.
func notify(key core.DatasetKey, fn Subscriber, data any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("cache: subscriber for %q panicked: %v", key, r)
		}
	}()
	fn(data)
}

// Subscribe registers fn to run after every successful refresh of key and
// returns a handle for Unsubscribe.
func (s *Store) Subscribe(key core.DatasetKey, fn Subscriber) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]Subscriber)
	}
	s.subs[key][s.nextSub] = fn
	return s.nextSub
}

func (s *Store) Unsubscribe(key core.DatasetKey, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[key], id)
}

// RefreshAll forces a concurrent refresh of every registered key. Keys that
// succeed keep their refreshed data even when the call as a whole fails.
func (s *Store) RefreshAll(ctx context.Context) error {
	s.mu.Lock()
	keys := make([]core.DatasetKey, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	// A plain group, not errgroup.WithContext: one failing dataset must not
	// cancel the joins of the others, which keep their refreshed data.
	var g errgroup.Group
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if _, err := s.Get(ctx, key, true); err != nil {
				return fmt.Errorf("refresh %q: %w", key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Clear resets every entry to its empty state. In-flight fetches are not
// cancelled; they repopulate their entry when they complete.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		e.data = nil
		e.hasData = false
		e.updated = time.Time{}
	}
}

// Status reports per-key cache health for the dashboard header.
func (s *Store) Status() map[core.DatasetKey]KeyStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[core.DatasetKey]KeyStatus, len(s.entries))
	for key, e := range s.entries {
		out[key] = KeyStatus{
			HasData:     e.hasData,
			Loading:     e.pending != nil,
			LastUpdated: e.updated,
		}
	}
	return out
}

// Fetch is the typed front door to Store.Get.
func Fetch[T any](ctx context.Context, s *Store, key core.DatasetKey, force bool) (T, error) {
	var zero T
	raw, err := s.Get(ctx, key, force)
	if err != nil {
		return zero, err
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("cache: dataset %q holds %T, not %T", key, raw, zero)
	}
	return typed, nil
}
