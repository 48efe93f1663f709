// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store implements the bounded, byte-size-accounted LRU cache
// engine at the core of this module. Store itself is not safe for
// concurrent use: it exposes a single-threaded API, deliberately, the
// same way the engine it's modeled on (an intrusive doubly-linked list
// plus an unordered index) assumes a caller that serializes access.
// Guarded layers a mutex on top for callers that need one.
package store

// Store is a bounded key/value cache evicting least-recently-used
// entries once the sum of key and value byte lengths would exceed
// maxBytes. Put, Set and Get all touch (move to MRU); PutIfAbsent does
// not touch on a hit, since it performs no mutation on an existing key.
type Store struct {
	nodes []node
	free  []nodeID
	index map[string]nodeID

	head, tail nodeID
	maxBytes   int
	curBytes   int
	evicted    uint64
}

// New creates an empty Store bounded to maxBytes total key+value bytes.
func New(maxBytes int) *Store {
	s := &Store{
		index:    make(map[string]nodeID),
		maxBytes: maxBytes,
	}
	s.nodes = []node{{}, {}}
	s.head, s.tail = 0, 1
	s.nodes[s.head].prev = nilNode
	s.nodes[s.head].next = s.tail
	s.nodes[s.tail].prev = s.head
	s.nodes[s.tail].next = nilNode
	return s
}

func footprint(key, value string) int { return len(key) + len(value) }

// Put inserts or replaces key, touching it to MRU. It returns false,
// making no change, if the entry alone (key+value) would exceed
// maxBytes — rejection happens before any eviction runs, so a too-large
// request never empties the store trying to make room for itself.
func (s *Store) Put(key, value []byte) bool {
	k, v := string(key), string(value)
	if footprint(k, v) > s.maxBytes {
		return false
	}
	if id, ok := s.index[k]; ok {
		s.replace(id, v)
		s.touch(id)
	} else {
		s.insert(k, v)
	}
	s.evict()
	return true
}

// PutIfAbsent inserts key only if it is not already present. It never
// touches an existing entry, since no mutation occurs on a hit.
func (s *Store) PutIfAbsent(key, value []byte) bool {
	k := string(key)
	if _, ok := s.index[k]; ok {
		return false
	}
	v := string(value)
	if footprint(k, v) > s.maxBytes {
		return false
	}
	s.insert(k, v)
	s.evict()
	return true
}

// Set replaces the value of an existing key, touching it to MRU. It
// reports false without mutation if the key is absent, or if the new
// value would alone push the entry's footprint past maxBytes — the
// same precondition Put enforces, so the store's byte-budget invariant
// holds regardless of which operation grew an entry.
func (s *Store) Set(key, value []byte) bool {
	k := string(key)
	id, ok := s.index[k]
	if !ok {
		return false
	}
	v := string(value)
	if footprint(k, v) > s.maxBytes {
		return false
	}
	s.replace(id, v)
	s.touch(id)
	s.evict()
	return true
}

// Get returns the value for key and touches it to MRU. ok is false if
// the key is absent, in which case value is nil.
func (s *Store) Get(key []byte) (value []byte, ok bool) {
	id, found := s.index[string(key)]
	if !found {
		return nil, false
	}
	s.touch(id)
	return []byte(s.nodes[id].value), true
}

// Delete removes key if present, reporting whether it was.
func (s *Store) Delete(key []byte) bool {
	id, ok := s.index[string(key)]
	if !ok {
		return false
	}
	s.remove(id)
	return true
}

// Len returns the number of entries currently stored.
func (s *Store) Len() int { return len(s.index) }

// CurrentBytes returns the current total key+value byte accounting.
func (s *Store) CurrentBytes() int { return s.curBytes }

// Evicted returns the running count of entries dropped by evict, as
// opposed to entries removed by an explicit Delete.
func (s *Store) Evicted() uint64 { return s.evicted }

// MaxBytes returns the configured byte budget.
func (s *Store) MaxBytes() int { return s.maxBytes }

// Keys returns the stored keys ordered from least- to most-recently
// used. It is intended for tests and diagnostics, not the hot path.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.index))
	for id := s.nodes[s.head].next; id != s.tail; id = s.nodes[id].next {
		keys = append(keys, s.nodes[id].key)
	}
	return keys
}

func (s *Store) insert(key, value string) {
	id := s.alloc(key, value)
	s.index[key] = id
	s.linkAtTail(id)
	s.curBytes += footprint(key, value)
}

func (s *Store) replace(id nodeID, value string) {
	old := s.nodes[id].value
	s.curBytes += len(value) - len(old)
	s.nodes[id].value = value
}

func (s *Store) remove(id nodeID) {
	n := s.nodes[id]
	delete(s.index, n.key)
	s.curBytes -= footprint(n.key, n.value)
	s.unlink(id)
	s.reclaim(id)
}

// evict drops entries from the LRU end until the store fits within
// maxBytes. Because every mutating op rejects an over-large entry
// before reaching here, and the entry just written sits at the MRU
// end, eviction never needs to touch it: replacing an existing key is
// never itself an eviction.
func (s *Store) evict() {
	for s.curBytes > s.maxBytes {
		id := s.nodes[s.head].next
		if id == s.tail {
			return
		}
		s.remove(id)
		s.evicted++
	}
}
