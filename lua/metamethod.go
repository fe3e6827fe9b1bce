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

// findMetamethod looks up event on v's metatable, if any. Only tables carry
// a Metatable field in this runtime (§4.H: strings share one fixed metatable
// installed by the host for the `string.*` method-call sugar, handled
// by the string case below). Returns Nil, nil when absent.
func (it *Interp) findMetamethod(v Value, event string) (Value, error) {
	var mt Handle
	switch {
	case v.IsTable():
		t, err := it.heap.GetTable(v.Handle())
		if err != nil {
			return Value{}, err
		}
		mt = t.Metatable
	case v.IsString():
		mt = it.stringMetatable
	default:
		return NewNil(), nil
	}
	if mt.Nil() {
		return NewNil(), nil
	}
	mtTable, err := it.heap.GetTable(mt)
	if err != nil {
		return Value{}, err
	}
	key, err := it.heap.NewString(event)
	if err != nil {
		return Value{}, err
	}
	return mtTable.Get(key), nil
}

// GetIndexed implements GETTABLE/GETGLOBAL's __index-aware table read
// (§4.D): raw hit short-circuits; otherwise __index is consulted, recursing
// through a chain of table metatables or, if __index is itself a function,
// calling it with (table, key).
func (it *Interp) GetIndexed(table, key Value) (Value, error) {
	for depth := 0; depth < maxMetatableChain; depth++ {
		if !table.IsTable() {
			mm, err := it.findMetamethod(table, "__index")
			if err != nil {
				return Value{}, err
			}
			if mm.IsNil() {
				return Value{}, &TypeError{Op: "index", Got: table.TypeName()}
			}
			if mm.IsFunction() {
				results, err := it.callValue(mm, []Value{table, key}, 1)
				if err != nil {
					return Value{}, err
				}
				return firstOrNil(results), nil
			}
			table = mm
			continue
		}
		t, err := it.heap.GetTable(table.Handle())
		if err != nil {
			return Value{}, err
		}
		v := t.Get(key)
		if !v.IsNil() {
			return v, nil
		}
		if t.Metatable.Nil() {
			return NewNil(), nil
		}
		mm, err := it.findMetamethod(table, "__index")
		if err != nil {
			return Value{}, err
		}
		if mm.IsNil() {
			return NewNil(), nil
		}
		if mm.IsFunction() {
			results, err := it.callValue(mm, []Value{table, key}, 1)
			if err != nil {
				return Value{}, err
			}
			return firstOrNil(results), nil
		}
		table = mm
	}
	return Value{}, &RuntimeError{Value: mustString(it, "'__index' chain too long; possible loop")}
}

// SetIndexed implements SETTABLE's __newindex-aware write (§4.D): a raw key
// already present, or a metatable-free table, writes directly; otherwise
// __newindex is consulted the same way __index is for reads.
func (it *Interp) SetIndexed(table, key, value Value) error {
	for depth := 0; depth < maxMetatableChain; depth++ {
		if !table.IsTable() {
			mm, err := it.findMetamethod(table, "__newindex")
			if err != nil {
				return err
			}
			if mm.IsNil() {
				return &TypeError{Op: "index", Got: table.TypeName()}
			}
			if mm.IsFunction() {
				_, err := it.callValue(mm, []Value{table, key, value}, 0)
				return err
			}
			table = mm
			continue
		}
		t, err := it.heap.GetTable(table.Handle())
		if err != nil {
			return err
		}
		if !t.Get(key).IsNil() || t.Metatable.Nil() {
			return it.heap.SetField(table.Handle(), key, value)
		}
		mm, err := it.findMetamethod(table, "__newindex")
		if err != nil {
			return err
		}
		if mm.IsNil() {
			return it.heap.SetField(table.Handle(), key, value)
		}
		if mm.IsFunction() {
			_, err := it.callValue(mm, []Value{table, key, value}, 0)
			return err
		}
		table = mm
	}
	return &RuntimeError{Value: mustString(it, "'__newindex' chain too long; possible loop")}
}

const maxMetatableChain = 100

func firstOrNil(vs []Value) Value {
	if len(vs) == 0 {
		return NewNil()
	}
	return vs[0]
}

func mustString(it *Interp, s string) Value {
	v, err := it.heap.NewString(s)
	if err != nil {
		// Interning a short literal never charges enough to exceed any
		// realistic memory budget; a failure here means the heap is already
		// wedged, so surfacing a nil string is preferable to a second error.
		return NewNil()
	}
	return v
}

// arithMetamethodName maps an arithmetic opcode to the event name Lua 5.1
// consults when an operand isn't a number (§4.C).
func arithMetamethodName(op Opcode) string {
	switch op {
	case OpAdd:
		return "__add"
	case OpSub:
		return "__sub"
	case OpMul:
		return "__mul"
	case OpDiv:
		return "__div"
	case OpMod:
		return "__mod"
	case OpPow:
		return "__pow"
	case OpUnm:
		return "__unm"
	}
	return ""
}

// arith implements one arithmetic opcode: numeric fast path, coercion of
// numeric-looking strings (§4.C "arithmetic on strings"), then metamethod
// dispatch on either operand.
func (it *Interp) arith(op Opcode, a, b Value) (Value, error) {
	an, aok := it.toNumberCoerced(a)
	bn, bok := it.toNumberCoerced(b)
	if aok && bok {
		return NewNumber(applyArith(op, an, bn)), nil
	}
	name := arithMetamethodName(op)
	mm, err := it.findMetamethod(a, name)
	if err != nil {
		return Value{}, err
	}
	if mm.IsNil() {
		mm, err = it.findMetamethod(b, name)
		if err != nil {
			return Value{}, err
		}
	}
	if mm.IsNil() {
		bad := a
		if aok {
			bad = b
		}
		return Value{}, &TypeError{Op: "perform arithmetic on", Got: bad.TypeName()}
	}
	results, err := it.callValue(mm, []Value{a, b}, 1)
	if err != nil {
		return Value{}, err
	}
	return firstOrNil(results), nil
}

func applyArith(op Opcode, a, b float64) float64 {
	switch op {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		return a / b
	case OpMod:
		return a - floorDiv(a, b)*b
	case OpPow:
		return powFloat(a, b)
	case OpUnm:
		return -a
	}
	return 0
}

func floorDiv(a, b float64) float64 {
	q := a / b
	return floorFloat(q)
}

// toNumberCoerced implements §4.C's implicit string->number coercion for
// arithmetic operands: a number passes through; a string parses as a Lua
// numeral or fails the coercion (returning ok=false, falling through to
// metamethod dispatch, exactly like a non-numeric-looking string would).
func (it *Interp) toNumberCoerced(v Value) (float64, bool) {
	if v.IsNumber() {
		return v.Number(), true
	}
	if v.IsString() {
		s, err := it.heap.GetString(v.Handle())
		if err != nil {
			return 0, false
		}
		return parseLuaNumber(s)
	}
	return 0, false
}

// concat implements the CONCAT opcode: string/number operands concatenate
// directly (numbers formatted per tostring's %.14g rule), else __concat is
// consulted on either operand.
func (it *Interp) concat(a, b Value) (Value, error) {
	as, aok := it.toConcatString(a)
	bs, bok := it.toConcatString(b)
	if aok && bok {
		return it.heap.NewString(as + bs)
	}
	mm, err := it.findMetamethod(a, "__concat")
	if err != nil {
		return Value{}, err
	}
	if mm.IsNil() {
		mm, err = it.findMetamethod(b, "__concat")
		if err != nil {
			return Value{}, err
		}
	}
	if mm.IsNil() {
		bad := a
		if aok {
			bad = b
		}
		return Value{}, &TypeError{Op: "concatenate", Got: bad.TypeName()}
	}
	results, err := it.callValue(mm, []Value{a, b}, 1)
	if err != nil {
		return Value{}, err
	}
	return firstOrNil(results), nil
}

func (it *Interp) toConcatString(v Value) (string, bool) {
	if v.IsString() {
		s, err := it.heap.GetString(v.Handle())
		return s, err == nil
	}
	if v.IsNumber() {
		return FormatNumber(v.Number()), true
	}
	return "", false
}

// length implements the LEN opcode: strings by byte length, tables by __len
// if present else raw Length(), anything else is a type error.
func (it *Interp) length(v Value) (Value, error) {
	if v.IsString() {
		s, err := it.heap.GetString(v.Handle())
		if err != nil {
			return Value{}, err
		}
		return NewNumber(float64(len(s))), nil
	}
	if v.IsTable() {
		mm, err := it.findMetamethod(v, "__len")
		if err != nil {
			return Value{}, err
		}
		if !mm.IsNil() {
			results, err := it.callValue(mm, []Value{v}, 1)
			if err != nil {
				return Value{}, err
			}
			return firstOrNil(results), nil
		}
		t, err := it.heap.GetTable(v.Handle())
		if err != nil {
			return Value{}, err
		}
		return NewNumber(float64(t.Length())), nil
	}
	return Value{}, &TypeError{Op: "get length of", Got: v.TypeName()}
}
