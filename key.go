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

import "fmt"

// Key is a handle to a value stored in a Map or DenseMap. Keys are issued by
// Insert, are cheap to copy, and are comparable with ==. A Key carries no
// liveness guarantee by itself: once the value it refers to has been removed
// the Key is stale, and every operation given a stale Key reports a miss. A
// stale Key can never alias a newer value, even if the value's storage
// position has been reused.
//
// A Key packs the slot position into the low 32 bits and the position's
// generation into the high 32 bits. The generation counts how many times the
// position has been vacated, which is what makes staleness detectable when
// positions are reused. At realistic mutation rates a 32-bit generation does
// not wrap: a single position would need to be vacated 2^32 times.
type Key uint64

// makeKey assembles a Key from a slot position and generation.
func makeKey(pos, gen uint32) Key {
	return Key(uint64(gen)<<32 | uint64(pos))
}

// pos extracts the slot position from the Key.
func (k Key) pos() uint32 {
	return uint32(k)
}

// generation extracts the generation counter from the Key.
func (k Key) generation() uint32 {
	return uint32(k >> 32)
}

// String returns a debugging representation of the Key.
func (k Key) String() string {
	return fmt.Sprintf("%d@g%d", k.pos(), k.generation())
}
