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

package slotmap

import (
	"fmt"
	"iter"
	"strings"
)

// denseSlot is one storage position of a DenseMap. Instead of the value it
// holds the value's index in the packed item array.
type denseSlot struct {
	// index points into DenseMap.items while the slot is occupied.
	index uint32
	// generation follows the same rule as slot.generation: the live Key's
	// generation while occupied, the next occupant's generation while
	// vacant.
	generation uint32
	occupied   bool
}

// item is one entry of a DenseMap's packed value array.
type item[V any] struct {
	value V
	// key is the live handle to this item. Its position names the slot that
	// points back at this item, which is what removal uses to repair the
	// slot after moving the item.
	key Key
}

// DenseMap is a slot map storing values of type V contiguously in a packed
// array, with the slot array holding indexes into it.
//
// Insert, Remove, Get, Ptr, and At are O(1) like Map's, at the cost of one
// extra array access to follow the index stored in the slot. In exchange,
// iteration walks the packed array directly, touching only live values with
// no vacant slots to skip. Removal keeps the array packed by moving its
// last item into the vacated position, so iteration order changes under
// removal and no order stronger than "the current packed order" is
// guaranteed.
//
// The zero value of DenseMap is an empty map ready for use. A DenseMap is
// NOT goroutine-safe.
type DenseMap[V any] struct {
	slots []denseSlot
	// items holds the values, packed with no gaps.
	items []item[V]
	// free holds the positions of vacant slots, reused LIFO.
	free []uint32
}

// NewDense constructs a DenseMap with capacity preallocated for the
// specified number of values. A capacity of 0 is valid and defers all
// allocation to the first Insert.
func NewDense[V any](initialCapacity int) *DenseMap[V] {
	return &DenseMap[V]{
		slots: make([]denseSlot, 0, initialCapacity),
		items: make([]item[V], 0, initialCapacity),
	}
}

// Insert adds a value to the map and returns the Key under which it can be
// retrieved. The value is appended to the packed item array; the slot
// position comes from the free list if one is available.
func (m *DenseMap[V]) Insert(value V) Key {
	var key Key
	if n := len(m.free); n > 0 {
		pos := m.free[n-1]
		m.free = m.free[:n-1]
		s := &m.slots[pos]
		if s.occupied {
			panic(fmt.Sprintf("slotmap: free list yielded occupied slot %d\n%s", pos, m.debugString()))
		}
		key = makeKey(pos, s.generation)
		s.index = uint32(len(m.items))
		s.occupied = true
	} else {
		key = makeKey(uint32(len(m.slots)), 0)
		m.slots = append(m.slots, denseSlot{index: uint32(len(m.items)), occupied: true})
	}
	m.items = append(m.items, item[V]{value: value, key: key})
	if invariants {
		m.checkInvariants()
	}
	return key
}

// Remove deletes the value associated with key from the map and returns it.
// Removing with a stale or out-of-range key is a no-op that returns
// ok=false, so double removal is harmless.
//
// Unless the value happens to be last in the packed array, the array's last
// item is moved into the vacated position to keep it packed, which reorders
// iteration.
func (m *DenseMap[V]) Remove(key Key) (value V, ok bool) {
	pos := key.pos()
	if uint64(pos) >= uint64(len(m.slots)) {
		return value, false
	}
	s := &m.slots[pos]
	if !s.occupied || s.generation != key.generation() {
		return value, false
	}

	freed := s.index
	s.occupied = false
	s.generation++
	m.free = append(m.free, pos)

	last := len(m.items) - 1
	value = m.items[freed].value
	if int(freed) != last {
		// Move the last item into the hole and repoint its owning slot at
		// the item's new index.
		moved := m.items[last]
		m.items[freed] = moved
		owner := &m.slots[moved.key.pos()]
		if !owner.occupied || owner.index != uint32(last) {
			panic(fmt.Sprintf("slotmap: slot %s does not own dense item %d\n%s",
				moved.key, last, m.debugString()))
		}
		owner.index = freed
	}
	m.items[last] = item[V]{}
	m.items = m.items[:last]
	if invariants {
		m.checkInvariants()
	}
	return value, true
}

// Get retrieves the value associated with key, returning ok=false if the
// key is stale or was never issued by this map.
func (m *DenseMap[V]) Get(key Key) (value V, ok bool) {
	if it := m.lookup(key); it != nil {
		return it.value, true
	}
	return value, false
}

// Ptr returns a pointer to the value associated with key for in-place
// mutation, or nil if the key is invalid. The pointer refers into the
// packed item array: a subsequent Insert may grow the array and a
// subsequent Remove may move another value into the pointed-at position,
// after which the pointer no longer reflects the map's contents.
func (m *DenseMap[V]) Ptr(key Key) *V {
	if it := m.lookup(key); it != nil {
		return &it.value
	}
	return nil
}

// At is Ptr for keys the caller knows to be valid: it panics on a stale or
// out-of-range key instead of returning nil.
func (m *DenseMap[V]) At(key Key) *V {
	it := m.lookup(key)
	if it == nil {
		panic(fmt.Sprintf("slotmap: invalid key %s", key))
	}
	return &it.value
}

// lookup resolves key through the slot layer to its item iff the position
// is in range, occupied, and live at the key's generation.
func (m *DenseMap[V]) lookup(key Key) *item[V] {
	pos := key.pos()
	if uint64(pos) >= uint64(len(m.slots)) {
		return nil
	}
	s := &m.slots[pos]
	if !s.occupied || s.generation != key.generation() {
		return nil
	}
	return &m.items[s.index]
}

// Len returns the number of values in the map.
func (m *DenseMap[V]) Len() int {
	return len(m.items)
}

// Empty reports whether the map contains no values.
func (m *DenseMap[V]) Empty() bool {
	return len(m.items) == 0
}

// All returns an iterator over the key/value pairs in the map, in packed
// array order. The order matches insertion order until a Remove moves an
// item; after that, only "the current packed order" is guaranteed.
func (m *DenseMap[V]) All() iter.Seq2[Key, V] {
	return func(yield func(Key, V) bool) {
		for i := range m.items {
			it := &m.items[i]
			if !yield(it.key, it.value) {
				return
			}
		}
	}
}

// Backward returns an iterator over the key/value pairs in the map, in
// reverse packed array order.
func (m *DenseMap[V]) Backward() iter.Seq2[Key, V] {
	return func(yield func(Key, V) bool) {
		for i := len(m.items) - 1; i >= 0; i-- {
			it := &m.items[i]
			if !yield(it.key, it.value) {
				return
			}
		}
	}
}

// Ptrs returns an iterator like All that yields pointers into the packed
// item array, allowing values to be mutated in place. The map must not be
// mutated during iteration.
func (m *DenseMap[V]) Ptrs() iter.Seq2[Key, *V] {
	return func(yield func(Key, *V) bool) {
		for i := range m.items {
			it := &m.items[i]
			if !yield(it.key, &it.value) {
				return
			}
		}
	}
}

// BackwardPtrs returns an iterator like Backward that yields pointers into
// the packed item array. The map must not be mutated during iteration.
func (m *DenseMap[V]) BackwardPtrs() iter.Seq2[Key, *V] {
	return func(yield func(Key, *V) bool) {
		for i := len(m.items) - 1; i >= 0; i-- {
			it := &m.items[i]
			if !yield(it.key, &it.value) {
				return
			}
		}
	}
}

// Drain returns an iterator that empties the map, yielding each key/value
// pair in packed array order. The map is empty once the sequence has been
// ranged over, even if iteration stopped early: values not yielded are
// discarded. Every position keeps its generation history, so keys issued
// before the drain stay stale after it.
func (m *DenseMap[V]) Drain() iter.Seq2[Key, V] {
	return func(yield func(Key, V) bool) {
		defer m.removeAll()
		for i := range m.items {
			it := &m.items[i]
			if !yield(it.key, it.value) {
				return
			}
		}
	}
}

// removeAll vacates every slot as Remove would, without returning the
// values.
func (m *DenseMap[V]) removeAll() {
	for i := range m.items {
		pos := m.items[i].key.pos()
		s := &m.slots[pos]
		s.occupied = false
		s.generation++
		m.free = append(m.free, pos)
	}
	clear(m.items)
	m.items = m.items[:0]
	if invariants {
		m.checkInvariants()
	}
}

// checkInvariants verifies the bookkeeping linking the slot array and the
// packed item array: every occupied slot's index resolves to an item whose
// key points straight back at that slot, every item's key resolves to the
// slot holding the item's index, every free list entry refers to a distinct
// vacant slot, and the item count matches the occupied slot count.
func (m *DenseMap[V]) checkInvariants() {
	var occupied int
	for p := range m.slots {
		s := &m.slots[p]
		if !s.occupied {
			continue
		}
		occupied++
		if uint64(s.index) >= uint64(len(m.items)) {
			panic(fmt.Sprintf("invariant failed: slot %d index %d out of range (%d items)\n%s",
				p, s.index, len(m.items), m.debugString()))
		}
		it := &m.items[s.index]
		if it.key.pos() != uint32(p) || it.key.generation() != s.generation {
			panic(fmt.Sprintf("invariant failed: slot %d(g%d) holds item %d owned by %s\n%s",
				p, s.generation, s.index, it.key, m.debugString()))
		}
	}
	if occupied != len(m.items) {
		panic(fmt.Sprintf("invariant failed: %d occupied slots but %d items\n%s",
			occupied, len(m.items), m.debugString()))
	}

	for i := range m.items {
		key := m.items[i].key
		pos := key.pos()
		if uint64(pos) >= uint64(len(m.slots)) {
			panic(fmt.Sprintf("invariant failed: item %d owner %s out of range (%d slots)\n%s",
				i, key, len(m.slots), m.debugString()))
		}
		s := &m.slots[pos]
		if !s.occupied || s.index != uint32(i) {
			panic(fmt.Sprintf("invariant failed: item %d owner %s does not point back at it\n%s",
				i, key, m.debugString()))
		}
	}

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
	if len(m.slots)-len(m.free) != len(m.items) {
		panic(fmt.Sprintf("invariant failed: %d slots, %d free, but %d items\n%s",
			len(m.slots), len(m.free), len(m.items), m.debugString()))
	}
}

func (m *DenseMap[V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "slots=%d items=%d free=%d\n", len(m.slots), len(m.items), len(m.free))
	for p := range m.slots {
		s := &m.slots[p]
		if s.occupied {
			fmt.Fprintf(&buf, "  slot %4d: g%-4d -> item %d\n", p, s.generation, s.index)
		} else {
			fmt.Fprintf(&buf, "  slot %4d: g%-4d vacant\n", p, s.generation)
		}
	}
	for i := range m.items {
		fmt.Fprintf(&buf, "  item %4d: %s %v\n", i, m.items[i].key, m.items[i].value)
	}
	return buf.String()
}
