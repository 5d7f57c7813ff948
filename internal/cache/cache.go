// Package cache is the client-side mutation cache: query-signature-keyed
// result sets plus a per-id document cache, with optimistic create, update
// and delete that snapshot affected entries before touching them so a failed
// mutation can restore exactly the pre-mutation state.
package cache

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"siteline/internal/docstore"
)

// TempIDPrefix marks ids synthesized for optimistic creates so callers can
// recognize records the server has not confirmed yet.
const TempIDPrefix = "tmp-"

// State is the lifecycle of one optimistic mutation.
type State string

const (
	StateApplied    State = "applied"
	StateConfirmed  State = "confirmed"
	StateRolledBack State = "rolled_back"
)

type listEntry[R any] struct {
	query docstore.Query
	items []R
	stale bool
}

// Cache holds one record type's cached query results. Construct one per
// record type and pass it explicitly; it is a shared mutable resource guarded
// by its own mutex, never a package-level singleton. Concurrent optimistic
// mutations over overlapping entries are not serialized: last write wins, and
// rolling back an earlier mutation restores state from before the later one.
type Cache[R any] struct {
	mu    sync.Mutex
	lists map[string]*listEntry[R]
	docs  map[string]*R

	idOf  func(R) string
	setID func(R, string) R
}

// New builds a cache. idOf extracts a record's id; setID returns a copy with
// the id replaced (used when a temp id is confirmed as the real one).
func New[R any](idOf func(R) string, setID func(R, string) R) *Cache[R] {
	return &Cache[R]{
		lists: map[string]*listEntry[R]{},
		docs:  map[string]*R{},
		idOf:  idOf,
		setID: setID,
	}
}

// GetList returns the cached result set for a query signature. A stale entry
// is a miss.
func (c *Cache[R]) GetList(sig string) ([]R, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lists[sig]
	if !ok || e.stale {
		return nil, false
	}
	return cloneSlice(e.items), true
}

// PutList caches a query's result set under its signature. The query itself
// is retained so optimistic creates can tell which cached lists the new
// record belongs in.
func (c *Cache[R]) PutList(sig string, q docstore.Query, items []R) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[sig] = &listEntry[R]{query: q, items: cloneSlice(items)}
}

func (c *Cache[R]) GetDoc(id string) (*R, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.docs[id]
	if !ok {
		return nil, false
	}
	if r == nil {
		return nil, true
	}
	cp := clone(*r)
	return &cp, true
}

func (c *Cache[R]) PutDoc(id string, rec R) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := clone(rec)
	c.docs[id] = &cp
}

// Invalidate marks every list entry stale and drops the document cache,
// forcing re-fetches on the next read. This is the non-optimistic mutation
// path: confirm by refetching rather than speculative patching.
func (c *Cache[R]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.lists {
		e.stale = true
	}
	c.docs = map[string]*R{}
}

// Mutation is one in-flight optimistic change. Exactly one of Confirm or
// Rollback must be called; after either, further calls are no-ops.
type Mutation[R any] struct {
	c      *Cache[R]
	state  State
	tempID string

	prevLists map[string][]R
	prevDocs  map[string]*R
	hadDoc    map[string]bool
}

func (m *Mutation[R]) State() State   { return m.state }
func (m *Mutation[R]) TempID() string { return m.tempID }

// snapshotLocked records deep copies of every currently cached entry. The
// whole cache is small, and snapshotting all of it is what makes rollback a
// structural restore rather than a best-effort undo.
func (c *Cache[R]) snapshotLocked(tempID string) *Mutation[R] {
	m := &Mutation[R]{
		c:         c,
		state:     StateApplied,
		tempID:    tempID,
		prevLists: map[string][]R{},
		prevDocs:  map[string]*R{},
		hadDoc:    map[string]bool{},
	}
	for sig, e := range c.lists {
		if e.stale {
			continue
		}
		m.prevLists[sig] = cloneSlice(e.items)
	}
	for id, r := range c.docs {
		m.hadDoc[id] = true
		if r != nil {
			cp := clone(*r)
			m.prevDocs[id] = &cp
		} else {
			m.prevDocs[id] = nil
		}
	}
	return m
}

// OptimisticCreate synthesizes a temp id and inserts the speculative record
// into every cached list whose query it matches, before the real write
// completes.
func (c *Cache[R]) OptimisticCreate(rec R) *Mutation[R] {
	c.mu.Lock()
	defer c.mu.Unlock()
	tempID := TempIDPrefix + uuid.NewString()
	m := c.snapshotLocked(tempID)
	rec = c.setID(rec, tempID)
	for _, e := range c.lists {
		if e.stale {
			continue
		}
		fields, err := docstore.Fields(rec)
		if err != nil {
			continue
		}
		if e.query.Matches(fields) {
			e.items = append(e.items, clone(rec))
		}
	}
	cp := clone(rec)
	c.docs[tempID] = &cp
	return m
}

// OptimisticUpdate patches the record in every cached list and in the
// document cache, in place.
func (c *Cache[R]) OptimisticUpdate(id string, patch map[string]any) (*Mutation[R], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.snapshotLocked("")
	for _, e := range c.lists {
		if e.stale {
			continue
		}
		for i := range e.items {
			if c.idOf(e.items[i]) != id {
				continue
			}
			patched, err := docstore.MergePatch(e.items[i], patch)
			if err != nil {
				return nil, err
			}
			e.items[i] = patched
		}
	}
	if r, ok := c.docs[id]; ok && r != nil {
		patched, err := docstore.MergePatch(*r, patch)
		if err != nil {
			return nil, err
		}
		c.docs[id] = &patched
	}
	return m, nil
}

// OptimisticDelete removes the record from cached lists and nulls the
// document cache entry.
func (c *Cache[R]) OptimisticDelete(id string) *Mutation[R] {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.snapshotLocked("")
	for _, e := range c.lists {
		if e.stale {
			continue
		}
		kept := e.items[:0]
		for _, r := range e.items {
			if c.idOf(r) != id {
				kept = append(kept, r)
			}
		}
		e.items = kept
	}
	if _, ok := c.docs[id]; ok {
		c.docs[id] = nil
	}
	return m
}

// Confirm settles the mutation. For a create, realID and the final record
// replace the speculative temp-id entry everywhere.
func (m *Mutation[R]) Confirm(realID string, final *R) {
	if m.state != StateApplied {
		return
	}
	c := m.c
	c.mu.Lock()
	defer c.mu.Unlock()
	m.state = StateConfirmed
	if m.tempID == "" {
		return
	}
	for _, e := range c.lists {
		for i := range e.items {
			if c.idOf(e.items[i]) == m.tempID && final != nil {
				e.items[i] = clone(*final)
			}
		}
	}
	delete(c.docs, m.tempID)
	if final != nil && realID != "" {
		cp := clone(*final)
		c.docs[realID] = &cp
	}
}

// Rollback restores every cached entry to its pre-mutation snapshot.
func (m *Mutation[R]) Rollback() {
	if m.state != StateApplied {
		return
	}
	c := m.c
	c.mu.Lock()
	defer c.mu.Unlock()
	m.state = StateRolledBack
	for sig, items := range m.prevLists {
		if e, ok := c.lists[sig]; ok {
			e.items = cloneSlice(items)
		}
	}
	for id := range c.docs {
		if !m.hadDoc[id] {
			delete(c.docs, id)
		}
	}
	for id, r := range m.prevDocs {
		if r != nil {
			cp := clone(*r)
			c.docs[id] = &cp
		} else {
			c.docs[id] = nil
		}
	}
}

func clone[R any](rec R) R {
	b, err := json.Marshal(rec)
	if err != nil {
		return rec
	}
	var out R
	if err := json.Unmarshal(b, &out); err != nil {
		return rec
	}
	return out
}

func cloneSlice[R any](items []R) []R {
	out := make([]R, len(items))
	for i, r := range items {
		out[i] = clone(r)
	}
	return out
}
