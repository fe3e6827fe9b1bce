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

import (
	"math"
	"testing"
)

func TestTableArrayAppendAndDenseLength(t *testing.T) {
	tbl := NewTableObject()
	for i := 1; i <= 3; i++ {
		if err := tbl.Set(NewNumber(float64(i)), NewNumber(float64(i*i))); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	if got := tbl.Length(); got != 3 {
		t.Fatalf("Length() = %d, want 3", got)
	}
	if got := tbl.Get(NewNumber(2)).Number(); got != 4 {
		t.Fatalf("t[2] = %v, want 4", got)
	}
}

// TestTableHashPartMigratesIntoArray exercises §4.D's contiguity rule:
// setting t[2] before t[1] exists leaves t[2] in the hash part until t[1]
// is set, at which point t[2] must migrate into the array part.
func TestTableHashPartMigratesIntoArray(t *testing.T) {
	tbl := NewTableObject()
	if err := tbl.Set(NewNumber(2), NewNumber(20)); err != nil {
		t.Fatal(err)
	}
	if len(tbl.Array) != 0 {
		t.Fatalf("t[2] alone should not start the array part, got len=%d", len(tbl.Array))
	}
	if err := tbl.Set(NewNumber(1), NewNumber(10)); err != nil {
		t.Fatal(err)
	}
	if tbl.Length() != 2 {
		t.Fatalf("Length() = %d, want 2 once the array is contiguous", tbl.Length())
	}
	if tbl.Get(NewNumber(2)).Number() != 20 {
		t.Fatal("t[2] lost its value migrating into the array part")
	}
}

func TestTableRejectsNilAndNaNKeys(t *testing.T) {
	tbl := NewTableObject()
	if err := tbl.Set(NewNil(), NewNumber(1)); err == nil {
		t.Fatal("Set(nil key) should fail")
	}
	if err := tbl.Set(NewNumber(math.NaN()), NewNumber(1)); err == nil {
		t.Fatal("Set(NaN key) should fail")
	}
}

// TestTableNextTraversalOrder exercises §4.D's array-then-hash traversal
// order and §8 invariant (stability across calls on an unmutated table):
// array part ascending, then hash part, with deleted hash entries skipped.
func TestTableNextTraversalOrder(t *testing.T) {
	// A single shared Heap is required here: HashKey() identifies interned
	// strings by (kind, arena index, generation), so two Values minted from
	// separate Heaps can collide on the same identity even for different
	// bytes (each arena starts counting from the same first slot).
	h := NewHeap(0, 0, 0)
	str := func(s string) Value {
		hv, err := h.CreateString(s)
		if err != nil {
			t.Fatal(err)
		}
		return NewString(hv)
	}

	tbl := NewTableObject()
	must(t, tbl.Set(NewNumber(1), NewNumber(100)))
	must(t, tbl.Set(NewNumber(2), NewNumber(200)))
	must(t, tbl.Set(str("a"), NewNumber(1)))
	must(t, tbl.Set(str("b"), NewNumber(2)))
	must(t, tbl.Set(str("a"), NewNil())) // delete "a" again

	var order []Value
	key := NewNil()
	for {
		nk, _, ok, err := tbl.Next(key)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		order = append(order, nk)
		key = nk
	}
	if len(order) != 3 {
		t.Fatalf("traversal visited %d keys, want 3 (1, 2, \"b\")", len(order))
	}
	if order[0].Number() != 1 || order[1].Number() != 2 {
		t.Fatalf("array part must be visited first in ascending order, got %+v", order)
	}
	if !order[2].IsString() {
		t.Fatalf("third key should be the surviving hash entry \"b\", got %+v", order[2])
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
