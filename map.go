// Copyright 2025 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package slotmap provides generational slot maps: containers that choose
// the keys themselves, handing back a lightweight Key handle for every
// inserted value. See https://docs.rs/slotmap and
// https://kyren.github.io/2018/09/14/rustconf-talk.html for background on
// the pattern, which is also known as a generational arena.
//
// # Slot maps
//
// A slot map stores values in an array of slots. Each slot is either
// occupied or vacant, and carries a generation counter that is bumped every
// time the slot is vacated. Insert returns a Key combining the slot's
// position with its generation; Get, Ptr, At, and Remove accept that Key
// back. Because a reused position issues Keys with a higher generation, a
// Key held past the removal of its value is detected and treated as a miss
// rather than silently resolving to whatever value occupies the position
// now. This makes Keys safe to retain, copy, and exchange freely: the worst
// a stale Key can do is miss.
//
// Vacated positions are remembered on a free list (a LIFO stack) and reused
// by subsequent Inserts before the slot array is grown, so storage does not
// grow under steady insert/remove churn. Storage is never shrunk.
//
// # Implementations
//
// The package provides two implementations with identical contracts and
// different layouts:
//
//   - Map stores values directly in the slot array. Insert, Remove, Get,
//     Ptr, and At perform a single array access. Iteration scans the whole
//     slot array and skips vacant slots, so its cost is proportional to the
//     total number of slots ever allocated, not the number of live values.
//
//   - DenseMap stores values contiguously in a separate array and keeps
//     only an index in each slot. Every access pays one extra array hop,
//     but iteration walks the packed value array with no skipping, so its
//     cost is proportional to the number of live values. Removal fills the
//     hole in the value array by moving the last value into it, which
//     reorders iteration.
//
// Callers doing iteration-heavy work want DenseMap; callers doing mostly
// point access and churn want Map.
//
// Neither type is goroutine-safe.
package slotmap

import (
	"fmt"
	"iter"
	"strings"
)

// invariants gates full self-checks of the slot bookkeeping after every
// mutation. The checks are O(n) per operation, so this is compiled out
// unless flipped during development. Tests invoke checkInvariants directly.
const invariants = false

// slot is one storage position of a Map: a value plus the occupancy state
// of the position.
type slot[V any] struct {
	value V
	// generation counts how many times this position has been vacated.
	// While the slot is occupied it equals the generation carried by the
	// live Key; while vacant it is the generation the next occupant will be
	// issued.
	generation uint32
	occupied   bool
}

// Map is a slot map storing values of type V directly in its slot array.
//
// Insert, Remove, Get, Ptr, and At are O(1): each is a bounds-checked array
// access plus a generation comparison. Iteration visits every slot ever
// allocated in order to skip the vacant ones; a Map that had many values
// removed can have large vacant gaps that slow iteration down without
// affecting Len. If iteration dominates the workload, use DenseMap.
//
// The zero value of Map is an empty map ready for use. A Map is NOT
// goroutine-safe.
type Map[V any] struct {
	slots []slot[V]
	// free holds the positions of vacant slots, reused LIFO so that
	// recently vacated positions are recycled first.
	free []uint32
}

// New constructs a Map with capacity preallocated for the specified number
// of values. A capacity of 0 is valid and defers all allocation to the
// first Insert.
func New[V any](initialCapacity int) *Map[V] {
	return &Map[V]{
		slots: make([]slot[V], 0, initialCapacity),
	}
}

// Insert adds a value to the map and returns the Key under which it can be
// retrieved. The most recently vacated position is reused if one exists;
// otherwise the slot array grows by one.
func (m *Map[V]) Insert(value V) Key {
	var key Key
	if n := len(m.free); n > 0 {
		pos := m.free[n-1]
		m.free = m.free[:n-1]
		s := &m.slots[pos]
		if s.occupied {
			panic(fmt.Sprintf("slotmap: free list yielded occupied slot %d\n%s", pos, m.debugString()))
		}
		s.value = value
		s.occupied = true
		key = makeKey(pos, s.generation)
	} else {
		m.slots = append(m.slots, slot[V]{value: value, occupied: true})
		key = makeKey(uint32(len(m.slots)-1), 0)
	}
	if invariants {
		m.checkInvariants()
	}
	return key
}

// Remove deletes the value associated with key from the map and returns it.
// Removing with a stale or out-of-range key is a no-op that returns
// ok=false, so double removal is harmless.
func (m *Map[V]) Remove(key Key) (value V, ok bool) {
	s := m.lookup(key)
	if s == nil {
		return value, false
	}
	value = s.value
	var zero V
	s.value = zero
	s.occupied = false
	// The vacant slot now stores the generation the next occupant will be
	// issued, invalidating every copy of key.
	s.generation++
	m.free = append(m.free, key.pos())
	if invariants {
		m.checkInvariants()
	}
	return value, true
}

// Get retrieves the value associated with key, returning ok=false if the
// key is stale or was never issued by this map. Stale keys, removed keys,
// and out-of-range keys are deliberately indistinguishable: the caller
// cannot act differently on them.
func (m *Map[V]) Get(key Key) (value V, ok bool) {
	if s := m.lookup(key); s != nil {
		return s.value, true
	}
	return value, false
}

// Ptr returns a pointer to the value associated with key for in-place
// mutation, or nil if the key is invalid. The pointer refers to the map's
// own storage: a subsequent Insert may grow the slot array and a subsequent
// Remove may vacate the slot, after which the pointer no longer reflects
// the map's contents.
func (m *Map[V]) Ptr(key Key) *V {
	if s := m.lookup(key); s != nil {
		return &s.value
	}
	return nil
}

// At is Ptr for keys the caller knows to be valid: it panics on a stale or
// out-of-range key instead of returning nil. Indexing with a bad key is a
// programmer error, not a runtime condition to probe for; use Get or Ptr
// when validity is uncertain.
func (m *Map[V]) At(key Key) *V {
	s := m.lookup(key)
	if s == nil {
		panic(fmt.Sprintf("slotmap: invalid key %s", key))
	}
	return &s.value
}

// lookup resolves key to its slot iff the position is in range, occupied,
// and live at the key's generation.
func (m *Map[V]) lookup(key Key) *slot[V] {
	pos := key.pos()
	if uint64(pos) >= uint64(len(m.slots)) {
		return nil
	}
	s := &m.slots[pos]
	if !s.occupied || s.generation != key.generation() {
		return nil
	}
	return s
}

// Len returns the number of values in the map.
func (m *Map[V]) Len() int {
	return len(m.slots) - len(m.free)
}

// Empty reports whether the map contains no values.
func (m *Map[V]) Empty() bool {
	return m.Len() == 0
}

// All returns an iterator over the key/value pairs in the map, in slot
// position order. Position order is not insertion order once positions have
// been reused: a value inserted after a removal can occupy an earlier
// position than older values.
func (m *Map[V]) All() iter.Seq2[Key, V] {
	return func(yield func(Key, V) bool) {
		for i := range m.slots {
			if s := &m.slots[i]; s.occupied {
				if !yield(makeKey(uint32(i), s.generation), s.value) {
					return
				}
			}
		}
	}
}

// Backward returns an iterator over the key/value pairs in the map, in
// reverse slot position order.
func (m *Map[V]) Backward() iter.Seq2[Key, V] {
	return func(yield func(Key, V) bool) {
		for i := len(m.slots) - 1; i >= 0; i-- {
			if s := &m.slots[i]; s.occupied {
				if !yield(makeKey(uint32(i), s.generation), s.value) {
					return
				}
			}
		}
	}
}

// Ptrs returns an iterator like All that yields pointers into the map's
// storage, allowing values to be mutated in place. The map must not be
// mutated during iteration.
func (m *Map[V]) Ptrs() iter.Seq2[Key, *V] {
	return func(yield func(Key, *V) bool) {
		for i := range m.slots {
			if s := &m.slots[i]; s.occupied {
				if !yield(makeKey(uint32(i), s.generation), &s.value) {
					return
				}
			}
		}
	}
}

// BackwardPtrs returns an iterator like Backward that yields pointers into
// the map's storage. The map must not be mutated during iteration.
func (m *Map[V]) BackwardPtrs() iter.Seq2[Key, *V] {
	return func(yield func(Key, *V) bool) {
		for i := len(m.slots) - 1; i >= 0; i-- {
			if s := &m.slots[i]; s.occupied {
				if !yield(makeKey(uint32(i), s.generation), &s.value) {
					return
				}
			}
		}
	}
}

// Drain returns an iterator that empties the map, yielding each key/value
// pair in slot position order. The map is empty once the sequence has been
// ranged over, even if iteration stopped early: values not yielded are
// discarded. Every position keeps its generation history, so keys issued
// before the drain stay stale after it.
func (m *Map[V]) Drain() iter.Seq2[Key, V] {
	return func(yield func(Key, V) bool) {
		defer m.removeAll()
		for i := range m.slots {
			if s := &m.slots[i]; s.occupied {
				if !yield(makeKey(uint32(i), s.generation), s.value) {
					return
				}
			}
		}
	}
}

// removeAll vacates every occupied slot as Remove would, without returning
// the values.
func (m *Map[V]) removeAll() {
	var zero V
	for i := range m.slots {
		s := &m.slots[i]
		if s.occupied {
			s.value = zero
			s.occupied = false
			s.generation++
			m.free = append(m.free, uint32(i))
		}
	}
	if invariants {
		m.checkInvariants()
	}
}

// checkInvariants verifies the slot bookkeeping: every free list entry
// refers to a distinct vacant slot in range, every vacant slot is on the
// free list, and every occupied slot is reachable through Get with its live
// key.
func (m *Map[V]) checkInvariants() {
	free := make(map[uint32]struct{}, len(m.free))
	for _, pos := range m.free {
		if uint64(pos) >= uint64(len(m.slots)) {
			panic(fmt.Sprintf("invariant failed: free position %d out of range (%d slots)\n%s",
				pos, len(m.slots), m.debugString()))
		}
		if m.slots[pos].occupied {
			panic(fmt.Sprintf("invariant failed: free position %d is occupied\n%s",
				pos, m.debugString()))
		}
		if _, ok := free[pos]; ok {
			panic(fmt.Sprintf("invariant failed: position %d on the free list twice\n%s",
				pos, m.debugString()))
		}
		free[pos] = struct{}{}
	}

	var occupied int
	for i := range m.slots {
		s := &m.slots[i]
		if !s.occupied {
			if _, ok := free[uint32(i)]; !ok {
				panic(fmt.Sprintf("invariant failed: vacant slot %d missing from the free list\n%s",
					i, m.debugString()))
			}
			continue
		}
		occupied++
		if _, ok := m.Get(makeKey(uint32(i), s.generation)); !ok {
			panic(fmt.Sprintf("invariant failed: slot %d not reachable via its live key\n%s",
				i, m.debugString()))
		}
	}

	if occupied != m.Len() {
		panic(fmt.Sprintf("invariant failed: found %d occupied slots, but Len() is %d\n%s",
			occupied, m.Len(), m.debugString()))
	}
}

func (m *Map[V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "slots=%d free=%d len=%d\n", len(m.slots), len(m.free), m.Len())
	for i := range m.slots {
		s := &m.slots[i]
		if s.occupied {
			fmt.Fprintf(&buf, "  %4d: g%-4d %v\n", i, s.generation, s.value)
		} else {
			fmt.Fprintf(&buf, "  %4d: g%-4d vacant\n", i, s.generation)
		}
	}
	return buf.String()
}
