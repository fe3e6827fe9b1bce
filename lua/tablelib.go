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
	"sort"
	"strings"
)

// installTableLibrary installs Lua 5.1's `table` table (§4.H): insert,
// remove, concat, sort, getn — all operating on a table's raw array part
// (no metamethod dispatch, matching the reference implementation).
func installTableLibrary(it *Interp) error {
	libHandle := it.heap.AllocTable()

	def := func(name string, desc string, fn func(*Interp, []Value) ([]Value, error)) error {
		return it.heap.SetField(libHandle, mustString(it, name), RegisterNative("table."+name, desc, fn))
	}

	if err := def("insert", "inserts a value at the end of the table, or at position pos shifting later elements up", func(it *Interp, args []Value) ([]Value, error) {
		t, err := it.heap.GetTable(arg(args, 0).Handle())
		if err != nil {
			return nil, err
		}
		if len(args) == 2 {
			t.Array = append(t.Array, args[1])
			return nil, nil
		}
		pos := int(args[1].Number())
		v := args[2]
		if pos < 1 || pos > len(t.Array)+1 {
			return nil, &TypeError{Op: "", Expected: "position in range", Got: "out of bounds"}
		}
		t.Array = append(t.Array, NewNil())
		copy(t.Array[pos:], t.Array[pos-1:len(t.Array)-1])
		t.Array[pos-1] = v
		return nil, nil
	}); err != nil {
		return err
	}

	if err := def("remove", "removes and returns the element at pos (default: the last), shifting later elements down", func(it *Interp, args []Value) ([]Value, error) {
		t, err := it.heap.GetTable(arg(args, 0).Handle())
		if err != nil {
			return nil, err
		}
		n := len(t.Array)
		if n == 0 {
			return []Value{NewNil()}, nil
		}
		pos := n
		if len(args) > 1 && args[1].IsNumber() {
			pos = int(args[1].Number())
		}
		if pos < 1 || pos > n {
			return []Value{NewNil()}, nil
		}
		removed := t.Array[pos-1]
		copy(t.Array[pos-1:], t.Array[pos:])
		t.Array = t.Array[:n-1]
		return []Value{removed}, nil
	}); err != nil {
		return err
	}

	if err := def("concat", "concatenates array-part elements i..j with sep between them", func(it *Interp, args []Value) ([]Value, error) {
		t, err := it.heap.GetTable(arg(args, 0).Handle())
		if err != nil {
			return nil, err
		}
		sep := ""
		if len(args) > 1 && args[1].IsString() {
			sep, err = it.heap.GetString(args[1].Handle())
			if err != nil {
				return nil, err
			}
		}
		i := 1
		if len(args) > 2 && args[2].IsNumber() {
			i = int(args[2].Number())
		}
		j := t.Length()
		if len(args) > 3 && args[3].IsNumber() {
			j = int(args[3].Number())
		}
		parts := make([]string, 0, j-i+1)
		for k := i; k <= j; k++ {
			s, err := asString(it, t.Get(NewNumber(float64(k))))
			if err != nil {
				return nil, err
			}
			parts = append(parts, s)
		}
		v, err := it.heap.NewString(strings.Join(parts, sep))
		return []Value{v}, err
	}); err != nil {
		return err
	}

	if err := def("getn", "returns the array-part length (Lua 5.0 compatibility alias for #t)", func(it *Interp, args []Value) ([]Value, error) {
		t, err := it.heap.GetTable(arg(args, 0).Handle())
		if err != nil {
			return nil, err
		}
		return []Value{NewNumber(float64(t.Length()))}, nil
	}); err != nil {
		return err
	}

	if err := def("sort", "sorts the array part in place, by < or by an optional comparator(a,b)->bool", func(it *Interp, args []Value) ([]Value, error) {
		t, err := it.heap.GetTable(arg(args, 0).Handle())
		if err != nil {
			return nil, err
		}
		var less Value
		if len(args) > 1 {
			less = args[1]
		}
		var sortErr error
		sort.SliceStable(t.Array, func(i, j int) bool {
			if sortErr != nil {
				return false
			}
			if !less.IsNil() {
				results, err := it.callValue(less, []Value{t.Array[i], t.Array[j]}, 1)
				if err != nil {
					sortErr = err
					return false
				}
				return len(results) > 0 && results[0].Truthy()
			}
			lt, err := it.Less(t.Array[i], t.Array[j])
			if err != nil {
				sortErr = err
				return false
			}
			return lt
		})
		return nil, sortErr
	}); err != nil {
		return err
	}

	return it.heap.SetField(it.heap.Globals, mustString(it, "table"), NewTable(libHandle))
}
