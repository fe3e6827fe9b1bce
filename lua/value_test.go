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
	"runtime"
	"testing"
)

func TestValueConstructorsAndAccessors(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want string
	}{
		{"nil", NewNil(), "nil"},
		{"true", NewBoolean(true), "boolean"},
		{"number", NewNumber(3.5), "number"},
		{"integer", NewInteger(7), "number"},
	}
	for _, c := range cases {
		if got := c.v.TypeName(); got != c.want {
			t.Errorf("%s: TypeName() = %q, want %q", c.name, got, c.want)
		}
	}
	if !NewBoolean(true).Truthy() {
		t.Error("true should be truthy")
	}
	if NewBoolean(false).Truthy() {
		t.Error("false should not be truthy")
	}
	if NewNil().Truthy() {
		t.Error("nil should not be truthy")
	}
	if !NewNumber(0).Truthy() {
		t.Error("0 is truthy in Lua, unlike C")
	}
}

func TestArenaHandleStaysStableAcrossInsertRemove(t *testing.T) {
	a := NewArena[int](KindTable)
	h1 := a.Insert(10)
	h2 := a.Insert(20)

	if v, err := a.Get(h1); err != nil || *v != 10 {
		t.Fatalf("Get(h1) = %v, %v; want 10, nil", v, err)
	}

	if err := a.Remove(h1); err != nil {
		t.Fatalf("Remove(h1): %v", err)
	}
	if _, err := a.Get(h1); err == nil {
		t.Fatal("Get(h1) after Remove should fail (stale handle)")
	}

	// a fresh insert recycles h1's slot but must mint a new generation, so
	// the old handle never aliases the new occupant.
	h3 := a.Insert(30)
	if h3.Index == h1.Index && h3.Generation == h1.Generation {
		t.Fatal("recycled slot reused the old generation, handles now alias")
	}
	if v, err := a.Get(h3); err != nil || *v != 30 {
		t.Fatalf("Get(h3) = %v, %v; want 30, nil", v, err)
	}
	if v, err := a.Get(h2); err != nil || *v != 20 {
		t.Fatalf("Get(h2) = %v, %v; want 20, nil (untouched neighbor)", v, err)
	}
}

// TestValueSurvivesStackCopyDuringGC exercises the same failure mode the
// teacher's tagged-pointer Scmer type had to survive: a Value boxing a
// Handle is a plain struct of scalars, never a raw unsafe.Pointer, so deep
// recursion forcing the goroutine stack to grow and move must never
// corrupt it. Recursing past the point where the runtime has to copy the
// stack, then forcing a GC, is the same stress pattern the teacher's
// Scmer test used.
func TestValueSurvivesStackCopyDuringGC(t *testing.T) {
	h, err := NewHeap(0, 0, 0).CreateString("probe")
	if err != nil {
		t.Fatal(err)
	}
	v := Value{}
	v = NewString(h)
	stackGrow(4000, v)
}

func stackGrow(depth int, v Value) {
	if depth <= 0 {
		runtime.GC()
		if v.TypeName() != "string" {
			panic("Value corrupted across stack growth")
		}
		return
	}
	var pad [256]byte
	_ = pad
	stackGrow(depth-1, v)
}
