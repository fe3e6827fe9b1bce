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

// Equal implements Lua `==` (§4.C): numbers compare by value (NaN != NaN),
// strings/handles by identity, and __eq is consulted only when both
// operands are tables of the same type and are not already identity-equal.
func (it *Interp) Equal(a, b Value) (bool, error) {
	if a.tag == tagNumber && b.tag == tagNumber {
		return a.Number() == b.Number(), nil
	}
	if a.tag != b.tag {
		return false, nil
	}
	if RawEqual(a, b) {
		return true, nil
	}
	if a.IsTable() && b.IsTable() {
		mm, err := it.findMetamethod(a, "__eq")
		if err != nil {
			return false, err
		}
		if mm.IsNil() {
			mm, err = it.findMetamethod(b, "__eq")
			if err != nil {
				return false, err
			}
		}
		if !mm.IsNil() {
			results, err := it.callValue(mm, []Value{a, b}, 1)
			if err != nil {
				return false, err
			}
			return len(results) > 0 && results[0].Truthy(), nil
		}
	}
	return false, nil
}

// Less implements `<`: numbers by value, strings by lexicographic byte
// order, else __lt.
func (it *Interp) Less(a, b Value) (bool, error) {
	if a.IsNumber() && b.IsNumber() {
		return a.Number() < b.Number(), nil
	}
	if a.IsString() && b.IsString() {
		as, err := it.heap.GetString(a.Handle())
		if err != nil {
			return false, err
		}
		bs, err := it.heap.GetString(b.Handle())
		if err != nil {
			return false, err
		}
		return as < bs, nil
	}
	mm, err := it.findMetamethod(a, "__lt")
	if err != nil {
		return false, err
	}
	if mm.IsNil() {
		mm, err = it.findMetamethod(b, "__lt")
		if err != nil {
			return false, err
		}
	}
	if mm.IsNil() {
		return false, &TypeError{Op: "compare", Got: a.TypeName() + " with " + b.TypeName()}
	}
	results, err := it.callValue(mm, []Value{a, b}, 1)
	if err != nil {
		return false, err
	}
	return len(results) > 0 && results[0].Truthy(), nil
}

// LessEqual implements `<=`.
func (it *Interp) LessEqual(a, b Value) (bool, error) {
	if a.IsNumber() && b.IsNumber() {
		return a.Number() <= b.Number(), nil
	}
	if a.IsString() && b.IsString() {
		as, err := it.heap.GetString(a.Handle())
		if err != nil {
			return false, err
		}
		bs, err := it.heap.GetString(b.Handle())
		if err != nil {
			return false, err
		}
		return as <= bs, nil
	}
	mm, err := it.findMetamethod(a, "__le")
	if err != nil {
		return false, err
	}
	if mm.IsNil() {
		mm, err = it.findMetamethod(b, "__le")
		if err != nil {
			return false, err
		}
	}
	if mm.IsNil() {
		// Lua 5.1 falls back to `not (b < a)` when __le is absent but __lt is not.
		lt, err := it.Less(b, a)
		if err != nil {
			return false, err
		}
		return !lt, nil
	}
	results, err := it.callValue(mm, []Value{a, b}, 1)
	if err != nil {
		return false, err
	}
	return len(results) > 0 && results[0].Truthy(), nil
}
