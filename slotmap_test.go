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
	"iter"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kamstrup/intmap"
	"github.com/stretchr/testify/require"
)

// slotMap captures the contract shared by Map and DenseMap so that the
// tests in this file run identically against both implementations.
type slotMap[V any] interface {
	Insert(V) Key
	Remove(Key) (V, bool)
	Get(Key) (V, bool)
	Ptr(Key) *V
	At(Key) *V
	Len() int
	Empty() bool
	All() iter.Seq2[Key, V]
	Backward() iter.Seq2[Key, V]
	Ptrs() iter.Seq2[Key, *V]
	BackwardPtrs() iter.Seq2[Key, *V]
	Drain() iter.Seq2[Key, V]
}

var (
	_ slotMap[string] = (*Map[string])(nil)
	_ slotMap[string] = (*DenseMap[string])(nil)
)

func runBoth(t *testing.T, test func(t *testing.T, newMap func() slotMap[string])) {
	t.Run("impl=direct", func(t *testing.T) {
		test(t, func() slotMap[string] { return New[string](0) })
	})
	t.Run("impl=dense", func(t *testing.T) {
		test(t, func() slotMap[string] { return NewDense[string](0) })
	})
}

func collect[V any](seq iter.Seq2[Key, V]) (keys []Key, values []V) {
	for k, v := range seq {
		keys = append(keys, k)
		values = append(values, v)
	}
	return keys, values
}

func toBuiltinMap[V any](seq iter.Seq2[Key, V]) map[Key]V {
	r := make(map[Key]V)
	for k, v := range seq {
		r[k] = v
	}
	return r
}

func TestInsertGet(t *testing.T) {
	runBoth(t, func(t *testing.T, newMap func() slotMap[string]) {
		m := newMap()
		require.True(t, m.Empty())

		a := m.Insert("a")
		b := m.Insert("b")
		c := m.Insert("c")
		require.Equal(t, 3, m.Len())
		require.False(t, m.Empty())

		for key, want := range map[Key]string{a: "a", b: "b", c: "c"} {
			v, ok := m.Get(key)
			require.True(t, ok)
			require.Equal(t, want, v)
			require.Equal(t, want, *m.Ptr(key))
			require.Equal(t, want, *m.At(key))
		}
	})
}

func TestRemove(t *testing.T) {
	runBoth(t, func(t *testing.T, newMap func() slotMap[string]) {
		m := newMap()
		a := m.Insert("a")
		b := m.Insert("b")
		c := m.Insert("c")

		for key, want := range map[Key]string{a: "a", b: "b", c: "c"} {
			v, ok := m.Remove(key)
			require.True(t, ok)
			require.Equal(t, want, v)
		}
		require.True(t, m.Empty())

		for _, key := range []Key{a, b, c} {
			_, ok := m.Get(key)
			require.False(t, ok)
			require.Nil(t, m.Ptr(key))
		}
	})
}

func TestDoubleRemove(t *testing.T) {
	runBoth(t, func(t *testing.T, newMap func() slotMap[string]) {
		m := newMap()
		a := m.Insert("a")
		b := m.Insert("b")

		v, ok := m.Remove(a)
		require.True(t, ok)
		require.Equal(t, "a", v)

		// Subsequent removals with the same key are no-ops, even after the
		// position has been reused.
		v, ok = m.Remove(a)
		require.False(t, ok)
		require.Equal(t, "", v)

		c := m.Insert("c")
		_, ok = m.Remove(a)
		require.False(t, ok)
		require.Equal(t, 2, m.Len())

		for key, want := range map[Key]string{b: "b", c: "c"} {
			v, ok := m.Get(key)
			require.True(t, ok)
			require.Equal(t, want, v)
		}
	})
}

func TestUseAfterFree(t *testing.T) {
	runBoth(t, func(t *testing.T, newMap func() slotMap[string]) {
		m := newMap()
		a := m.Insert("a")
		_, ok := m.Remove(a)
		require.True(t, ok)

		// The new value reuses a's position but carries a newer generation,
		// so a must stay dead.
		b := m.Insert("b")
		require.NotEqual(t, a, b)

		_, ok = m.Get(a)
		require.False(t, ok)
		require.Nil(t, m.Ptr(a))
		v, ok := m.Get(b)
		require.True(t, ok)
		require.Equal(t, "b", v)
	})
}

func TestSlotReuse(t *testing.T) {
	runBoth(t, func(t *testing.T, newMap func() slotMap[string]) {
		m := newMap()
		a := m.Insert("a")
		b := m.Insert("b")
		c := m.Insert("c")
		m.Remove(a)
		m.Remove(b)
		m.Remove(c)
		require.True(t, m.Empty())

		// The three vacated positions are reused before new ones are
		// allocated.
		keys := make([]Key, 4)
		for i := range keys {
			keys[i] = m.Insert(strconv.Itoa(i))
		}
		require.Equal(t, 4, m.Len())
		for _, old := range []Key{a, b, c} {
			_, ok := m.Get(old)
			require.False(t, ok)
		}
		for i, key := range keys {
			v, ok := m.Get(key)
			require.True(t, ok)
			require.Equal(t, strconv.Itoa(i), v)
		}
	})
}

func TestIterator(t *testing.T) {
	runBoth(t, func(t *testing.T, newMap func() slotMap[string]) {
		m := newMap()
		a := m.Insert("a")
		b := m.Insert("b")
		c := m.Insert("c")

		// With no removals both layouts yield insertion order.
		keys, values := collect(m.All())
		require.Equal(t, []Key{a, b, c}, keys)
		require.Equal(t, []string{"a", "b", "c"}, values)

		keys, values = collect(m.Backward())
		require.Equal(t, []Key{c, b, a}, keys)
		require.Equal(t, []string{"c", "b", "a"}, values)

		// Early break stops the sequence.
		var first []string
		for _, v := range m.All() {
			first = append(first, v)
			break
		}
		require.Equal(t, []string{"a"}, first)
	})
}

func TestIteratorSkipVacant(t *testing.T) {
	runBoth(t, func(t *testing.T, newMap func() slotMap[string]) {
		m := newMap()
		a := m.Insert("a")
		b := m.Insert("b")
		c := m.Insert("c")
		m.Remove(b)

		// Removing b leaves a and c. The direct layout skips b's vacant
		// slot; the dense layout moved c (the last item) into b's packed
		// position. Both happen to yield a then c here.
		keys, values := collect(m.All())
		require.Equal(t, []Key{a, c}, keys)
		require.Equal(t, []string{"a", "c"}, values)

		keys, values = collect(m.Backward())
		require.Equal(t, []Key{c, a}, keys)
		require.Equal(t, []string{"c", "a"}, values)
	})
}

func TestMutableIteration(t *testing.T) {
	runBoth(t, func(t *testing.T, newMap func() slotMap[string]) {
		m := newMap()
		a := m.Insert("a")
		b := m.Insert("b")
		c := m.Insert("c")

		for _, v := range m.Ptrs() {
			*v = strings.ToUpper(*v)
		}
		for key, want := range map[Key]string{a: "A", b: "B", c: "C"} {
			v, ok := m.Get(key)
			require.True(t, ok)
			require.Equal(t, want, v)
		}

		for k, v := range m.BackwardPtrs() {
			*v = *v + k.String()
		}
		v, ok := m.Get(a)
		require.True(t, ok)
		require.Equal(t, "A"+a.String(), v)
	})
}

func TestDrain(t *testing.T) {
	runBoth(t, func(t *testing.T, newMap func() slotMap[string]) {
		m := newMap()
		a := m.Insert("a")
		b := m.Insert("b")
		c := m.Insert("c")

		keys, values := collect(m.Drain())
		require.Equal(t, []Key{a, b, c}, keys)
		require.Equal(t, []string{"a", "b", "c"}, values)
		require.True(t, m.Empty())
		for _, key := range []Key{a, b, c} {
			_, ok := m.Get(key)
			require.False(t, ok)
		}

		// Keys issued before a drain stay stale after it, even once their
		// positions are reused.
		d := m.Insert("d")
		require.Equal(t, 1, m.Len())
		for _, key := range []Key{a, b, c} {
			_, ok := m.Get(key)
			require.False(t, ok)
		}
		v, ok := m.Get(d)
		require.True(t, ok)
		require.Equal(t, "d", v)
	})
}

func TestDrainEarlyBreak(t *testing.T) {
	runBoth(t, func(t *testing.T, newMap func() slotMap[string]) {
		m := newMap()
		m.Insert("x")
		m.Insert("y")
		m.Insert("z")

		var got []string
		for _, v := range m.Drain() {
			got = append(got, v)
			if len(got) == 2 {
				break
			}
		}
		require.Equal(t, []string{"x", "y"}, got)

		// Breaking out of a drain still empties the map; the unread values
		// are discarded.
		require.True(t, m.Empty())
		keys, _ := collect(m.All())
		require.Empty(t, keys)
	})
}

func TestAtPanics(t *testing.T) {
	runBoth(t, func(t *testing.T, newMap func() slotMap[string]) {
		m := newMap()
		a := m.Insert("a")

		*m.At(a) = "z"
		v, ok := m.Get(a)
		require.True(t, ok)
		require.Equal(t, "z", v)

		m.Remove(a)
		require.Panics(t, func() { m.At(a) })
		require.Panics(t, func() { m.At(makeKey(99, 0)) })
	})
}

// TestScenario runs the canonical insert-a-b-c-remove-b sequence and
// asserts the surviving set of pairs on both layouts. Order assertions
// beyond this live in the layout-specific tests: the direct layout keeps
// position order while the dense layout reorders under removal.
func TestScenario(t *testing.T) {
	runBoth(t, func(t *testing.T, newMap func() slotMap[string]) {
		m := newMap()
		ka := m.Insert("a")
		kb := m.Insert("b")
		kc := m.Insert("c")

		v, ok := m.Remove(kb)
		require.True(t, ok)
		require.Equal(t, "b", v)

		want := map[Key]string{ka: "a", kc: "c"}
		if diff := cmp.Diff(want, toBuiltinMap(m.All())); diff != "" {
			t.Fatalf("surviving pairs diverged (-want +got):\n%s", diff)
		}
		require.Equal(t, 2, m.Len())
	})
}

// TestRandomOps drives each implementation with a random mix of operations
// and cross-checks every step against a model map keyed by the issued
// handles.
func TestRandomOps(t *testing.T) {
	runBoth(t, func(t *testing.T, newMap func() slotMap[string]) {
		m := newMap()
		model := intmap.New[Key, string](16)
		var live []Key
		var dead []Key

		for i := 0; i < 10000; i++ {
			switch r := rand.Float64(); {
			case r < 0.55: // 55% inserts
				v := strconv.Itoa(i)
				k := m.Insert(v)
				model.Put(k, v)
				live = append(live, k)
			case r < 0.80: // 25% removals
				if len(live) == 0 {
					continue
				}
				j := rand.Intn(len(live))
				k := live[j]
				want, ok := model.Get(k)
				require.True(t, ok)
				got, ok := m.Remove(k)
				require.True(t, ok)
				require.Equal(t, want, got)
				model.Del(k)
				live[j] = live[len(live)-1]
				live = live[:len(live)-1]
				dead = append(dead, k)

				_, ok = m.Remove(k)
				require.False(t, ok)
			case r < 0.95: // 15% lookups
				if len(live) > 0 {
					k := live[rand.Intn(len(live))]
					want, ok := model.Get(k)
					require.True(t, ok)
					got, ok := m.Get(k)
					require.True(t, ok)
					require.Equal(t, want, got)
				}
				if len(dead) > 0 {
					k := dead[rand.Intn(len(dead))]
					_, ok := m.Get(k)
					require.False(t, ok)
					require.Nil(t, m.Ptr(k))
				}
			default: // 5% full comparison against the model
				got := toBuiltinMap(m.All())
				want := make(map[Key]string, len(live))
				for _, k := range live {
					v, ok := model.Get(k)
					require.True(t, ok)
					want[k] = v
				}
				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatalf("map state diverged from model (-want +got):\n%s", diff)
				}
			}
			require.Equal(t, model.Len(), m.Len())
		}
	})
}
