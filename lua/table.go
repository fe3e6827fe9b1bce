/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package lua

import "math"

// Table is the hybrid array+map Lua value. The array part stores the dense
// run of positive-integer keys 1..len(Array) (0-based in Go, 1-based in
// script view, per §3); everything else — sparse integers, strings,
// booleans, other tables — lives in the hash part.
//
// The hash part mirrors the shape of the teacher's FastDict (scm/assoc_fast.go):
// a flat insertion-ordered key list plus an index from hash key to position,
// chosen because Lua's `next`/`pairs` must walk the hash part in a stable
// order across calls absent mutation (§4.D) — a plain Go map alone gives no
// such guarantee.
type Table struct {
	Array      []Value
	hashKeys   []Value // insertion order, for stable `next` traversal
	hashIndex  map[any]int // HashKey() -> position in hashKeys/hashVals
	hashVals   []Value
	Metatable  Handle // zero Handle (Nil()) if absent
}

func NewTableObject() *Table {
	return &Table{}
}

func isInt1Based(n float64) (int, bool) {
	i := int(n)
	if float64(i) != n {
		return 0, false
	}
	return i, true
}

// Get implements raw table indexing (no metamethod dispatch — see
// GetIndexed in metamethod.go for the __index-aware version).
func (t *Table) Get(key Value) Value {
	if key.IsNumber() {
		n := key.Number()
		if i, ok := isInt1Based(n); ok && i >= 1 && i <= len(t.Array) {
			return t.Array[i-1]
		}
	}
	if t.hashIndex == nil {
		return NewNil()
	}
	if pos, ok := t.hashIndex[key.HashKey()]; ok {
		return t.hashVals[pos]
	}
	return NewNil()
}

// Set implements raw table assignment (no __newindex dispatch — see
// SetIndexed in metamethod.go). Returns InvalidKeyError for nil/NaN keys.
func (t *Table) Set(key, value Value) error {
	if key.IsNil() {
		return &InvalidKeyError{Reason: "nil key"}
	}
	if key.IsNumber() && math.IsNaN(key.Number()) {
		return &InvalidKeyError{Reason: "NaN key"}
	}

	if key.IsNumber() {
		n := key.Number()
		if i, ok := isInt1Based(n); ok && i >= 1 {
			switch {
			case i <= len(t.Array):
				t.Array[i-1] = value
				if value.IsNil() && i == len(t.Array) {
					t.shrinkArray()
				}
				return nil
			case i == len(t.Array)+1 && !value.IsNil():
				t.Array = append(t.Array, value)
				t.migrateFromHash()
				return nil
			}
		}
	}

	if value.IsNil() {
		t.hashDelete(key)
		return nil
	}
	t.hashSet(key, value)
	return nil
}

// shrinkArray drops trailing nils physically; not required by the spec but
// keeps Length cheap for the common append/pop pattern.
func (t *Table) shrinkArray() {
	n := len(t.Array)
	for n > 0 && t.Array[n-1].IsNil() {
		n--
	}
	t.Array = t.Array[:n]
}

// migrateFromHash pulls any hash-part entries that now extend the array
// contiguously (e.g. t[5]=x before t[4]=y existed) into the array part.
func (t *Table) migrateFromHash() {
	for {
		next := NewNumber(float64(len(t.Array) + 1))
		pos, ok := t.hashIndex[next.HashKey()]
		if !ok {
			return
		}
		v := t.hashVals[pos]
		t.hashDelete(next)
		t.Array = append(t.Array, v)
	}
}

func (t *Table) hashSet(key, value Value) {
	if t.hashIndex == nil {
		t.hashIndex = make(map[any]int)
	}
	hk := key.HashKey()
	if pos, ok := t.hashIndex[hk]; ok {
		t.hashVals[pos] = value
		return
	}
	pos := len(t.hashKeys)
	t.hashKeys = append(t.hashKeys, key)
	t.hashVals = append(t.hashVals, value)
	t.hashIndex[hk] = pos
}

func (t *Table) hashDelete(key Value) {
	if t.hashIndex == nil {
		return
	}
	hk := key.HashKey()
	pos, ok := t.hashIndex[hk]
	if !ok {
		return
	}
	// Tombstone in place rather than compacting, so positions already
	// handed out by Next() remain valid for the rest of this traversal.
	t.hashKeys[pos] = Value{} // tag zero value is tagNil; sentinel for "deleted"
	t.hashVals[pos] = NewNil()
	delete(t.hashIndex, hk)
}

// Length implements `#t`: the array-part length when dense, else any
// boundary n with t[n] != nil and t[n+1] == nil. We pick the array-part
// length (or 0 if the array part is empty and no hash-part boundary exists)
// — a stable, deterministic, documented choice per §9's open question.
func (t *Table) Length() int {
	if len(t.Array) > 0 {
		return len(t.Array)
	}
	// Empty array part: look for a boundary amongst integer keys. Set always
	// places a non-nil t[1] in the array part, so here t[1] is nil and the
	// probe returns 0.
	n := 0
	for {
		probe := NewNumber(float64(n + 1))
		if t.Get(probe).IsNil() {
			return n
		}
		n++
	}
}

// Next implements the `next` builtin's traversal protocol: array part in
// ascending index order, then hash part in insertion order, skipping
// tombstoned (deleted) hash slots. key == Nil starts the traversal.
func (t *Table) Next(key Value) (nk, nv Value, ok bool, err error) {
	if key.IsNil() {
		if len(t.Array) > 0 {
			return NewNumber(1), t.Array[0], true, nil
		}
		return t.nextHash(-1)
	}
	if key.IsNumber() {
		if i, isInt := isInt1Based(key.Number()); isInt && i >= 1 && i <= len(t.Array) {
			if i < len(t.Array) {
				return NewNumber(float64(i + 1)), t.Array[i], true, nil
			}
			return t.nextHash(-1)
		}
	}
	if t.hashIndex == nil {
		return Value{}, Value{}, false, &TypeError{Op: "", Expected: "key present in table", Got: "absent"}
	}
	pos, present := t.hashIndex[key.HashKey()]
	if !present {
		return Value{}, Value{}, false, &TypeError{Op: "", Expected: "key present in table", Got: "absent"}
	}
	return t.nextHash(pos)
}

func (t *Table) nextHash(afterPos int) (Value, Value, bool, error) {
	for i := afterPos + 1; i < len(t.hashKeys); i++ {
		if pos, ok := t.hashIndex[t.hashKeys[i].HashKey()]; !ok || pos != i {
			// tombstoned: this key was deleted (or never truly lived at i)
			continue
		}
		return t.hashKeys[i], t.hashVals[i], true, nil
	}
	return NewNil(), NewNil(), false, nil
}
