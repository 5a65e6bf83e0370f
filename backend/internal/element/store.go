package element

import (
	"encoding/json"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Origin tags every store mutation so downstream consumers (undo history,
// UI observers) can tell local edits from replicated ones without relying
// on call-site discipline.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

// Observer receives the live (non-tombstoned, z-ordered) view after any
// change to the store, local or remote. This is the single path by which
// UI state is refreshed.
type Observer func(live []Element, origin Origin)

// Store is the replicated element map for one canvas. All access is
// serialized through the internal mutex; observers are invoked outside it.
type Store struct {
	mu        sync.RWMutex
	elements  map[string]Element
	observers map[int]Observer
	nextObs   int
}

func NewStore() *Store {
	return &Store{
		elements:  make(map[string]Element),
		observers: make(map[int]Observer),
	}
}

// Set inserts or overwrites an element. The caller must already have bumped
// Version relative to the last known entry for that id.
func (s *Store) Set(el Element, origin Origin) {
	if err := el.Validate(); err != nil {
		log.Printf("element store: reject set id=%s: %v", el.ID, err)
		return
	}
	s.mu.Lock()
	s.elements[el.ID] = el.Clone()
	s.mu.Unlock()
	s.notify(origin)
}

// Update applies fn to the element under the lock and stamps a new version,
// nonce and updated time, all as one atomic step. It is a no-op returning
// false when the id is unknown or already tombstoned, which covers the race
// where a remote delete lands between the caller reading and writing.
// On success it returns a copy of the stored entry.
func (s *Store) Update(id string, fn func(*Element)) (Element, bool) {
	s.mu.Lock()
	el, ok := s.elements[id]
	if !ok || el.IsDeleted {
		s.mu.Unlock()
		return Element{}, false
	}
	el = el.Clone()
	fn(&el)
	el.ID = id // ids are permanent
	el.Version++
	el.VersionNonce = rand.Uint64()
	el.Updated = time.Now().UnixMilli()
	s.elements[id] = el
	s.mu.Unlock()
	s.notify(OriginLocal)
	return el.Clone(), true
}

// Delete tombstones the given ids. It is not a physical remove: each entry
// stays in the map with IsDeleted set and a bumped version, so concurrent
// remote updates to the same id cannot resurrect it. Returns the prior
// copies of the elements that were actually tombstoned and the written
// tombstone entries, index-aligned.
func (s *Store) Delete(ids []string) (prior, stored []Element) {
	s.mu.Lock()
	for _, id := range ids {
		el, ok := s.elements[id]
		if !ok || el.IsDeleted {
			continue
		}
		prior = append(prior, el.Clone())
		el = el.Clone()
		el.IsDeleted = true
		el.Version++
		el.VersionNonce = rand.Uint64()
		el.Updated = time.Now().UnixMilli()
		s.elements[id] = el
		stored = append(stored, el.Clone())
	}
	s.mu.Unlock()
	if len(prior) > 0 {
		s.notify(OriginLocal)
	}
	return prior, stored
}

// Merge applies an encoded batch of remote elements under the rule in
// Supersedes. A malformed entry is skipped and logged without affecting the
// rest of the batch; unknown ids are simply added. Re-applying an
// already-seen batch is a no-op. Returns the number of entries that changed
// the store.
func (s *Store) Merge(data []byte) (int, error) {
	var batch []Element
	if err := json.Unmarshal(data, &batch); err != nil {
		return 0, err
	}
	s.mu.Lock()
	applied := 0
	for i := range batch {
		el := batch[i]
		if err := el.Validate(); err != nil {
			log.Printf("element store: skip merge entry id=%q: %v", el.ID, err)
			continue
		}
		old, ok := s.elements[el.ID]
		if ok && !el.Supersedes(&old) {
			continue
		}
		s.elements[el.ID] = el.Clone()
		applied++
	}
	s.mu.Unlock()
	if applied > 0 {
		s.notify(OriginRemote)
	}
	return applied, nil
}

// Observe registers an observer and returns its unsubscribe func.
func (s *Store) Observe(fn Observer) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(origin Origin) {
	s.mu.RLock()
	obs := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		obs = append(obs, fn)
	}
	s.mu.RUnlock()
	if len(obs) == 0 {
		return
	}
	live := s.Live()
	for _, fn := range obs {
		fn(live, origin)
	}
}

// Get returns a copy of the entry for id, tombstoned or not.
func (s *Store) Get(id string) (Element, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	el, ok := s.elements[id]
	if !ok {
		return Element{}, false
	}
	return el.Clone(), true
}

// Live returns the non-tombstoned elements ordered by z-index (ties by id,
// so the order is stable across replicas).
func (s *Store) Live() []Element {
	s.mu.RLock()
	out := make([]Element, 0, len(s.elements))
	for _, el := range s.elements {
		if el.IsDeleted {
			continue
		}
		out = append(out, el.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ZIndex != out[j].ZIndex {
			return out[i].ZIndex < out[j].ZIndex
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Snapshot returns every entry including tombstones, the form that must be
// persisted and replicated for merge safety.
func (s *Store) Snapshot() []Element {
	s.mu.RLock()
	out := make([]Element, 0, len(s.elements))
	for _, el := range s.elements {
		out = append(out, el.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MaxZIndex returns the highest z-index among live elements, or -1 when the
// canvas is empty.
func (s *Store) MaxZIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := -1
	for _, el := range s.elements {
		if !el.IsDeleted && el.ZIndex > max {
			max = el.ZIndex
		}
	}
	return max
}

// EncodeState encodes the full document, tombstones included, in the same
// format Merge accepts; hydrating a fresh store from it converges.
func (s *Store) EncodeState() ([]byte, error) {
	return EncodeElements(s.Snapshot())
}

// EncodeElements encodes a batch of elements as a mergeable update.
func EncodeElements(els []Element) ([]byte, error) {
	return json.Marshal(els)
}
