// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

// nilNode marks the absence of a neighbor.
const nilNode nodeID = -1

// nodeID addresses an entry in Store's node arena. The original storage
// engine links entries with owning/raw C++ pointers; this arena trades
// that pointer chasing for a stable integer index so the list can live
// in a single backing slice with a free-list of reclaimed slots.
type nodeID int32

// node is one arena slot. key and value are plain Go strings: since
// strings are immutable, the same string value can be shared by the
// node and the index map without copying its bytes twice.
type node struct {
	key, value string
	prev, next nodeID
}

func (s *Store) alloc(key, value string) nodeID {
	if n := len(s.free); n > 0 {
		id := s.free[n-1]
		s.free = s.free[:n-1]
		s.nodes[id] = node{key: key, value: value}
		return id
	}
	id := nodeID(len(s.nodes))
	s.nodes = append(s.nodes, node{key: key, value: value})
	return id
}

// reclaim clears a slot's references and returns it to the free-list so
// its key/value strings become eligible for garbage collection.
func (s *Store) reclaim(id nodeID) {
	s.nodes[id] = node{}
	s.free = append(s.free, id)
}

// linkAtTail inserts id immediately before the tail sentinel, making it
// the most-recently-used entry.
func (s *Store) linkAtTail(id nodeID) {
	last := s.nodes[s.tail].prev
	s.nodes[last].next = id
	s.nodes[id].prev = last
	s.nodes[id].next = s.tail
	s.nodes[s.tail].prev = id
}

func (s *Store) unlink(id nodeID) {
	p, n := s.nodes[id].prev, s.nodes[id].next
	s.nodes[p].next = n
	s.nodes[n].prev = p
}

// touch moves id to the tail (MRU position) unless it is already there.
func (s *Store) touch(id nodeID) {
	if s.nodes[s.tail].prev == id {
		return
	}
	s.unlink(id)
	s.linkAtTail(id)
}
