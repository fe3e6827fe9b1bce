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

// NativeFunction is the registered shape of a Go-implemented Lua function:
// the same (name, description) record the teacher keeps in
// scm/declare.go's Declaration, generalized to the Value/Interp types of
// this runtime and to returning multiple results plus an error instead of
// a single panic-on-failure Scmer.
type NativeFunction struct {
	Name string
	Desc string
	Fn   func(it *Interp, args []Value) ([]Value, error)
}

// nativeRegistry is process-global and append-only: CFunction values store
// an index into it (value.go), so natives are process-lifetime singletons
// shared by every Heap/Interp rather than re-registered per script.
var nativeRegistry []*NativeFunction
var nativeByName = map[string]int{}

// RegisterNative adds fn to the process-wide native function table and
// returns a ready-to-store Value wrapping it, mirroring the teacher's
// Declare(&Globalenv, ...) one-call registration idiom.
func RegisterNative(name, desc string, fn func(it *Interp, args []Value) ([]Value, error)) Value {
	if idx, ok := nativeByName[name]; ok {
		nativeRegistry[idx] = &NativeFunction{Name: name, Desc: desc, Fn: fn}
		return NewCFunction(idx)
	}
	idx := len(nativeRegistry)
	nativeRegistry = append(nativeRegistry, &NativeFunction{Name: name, Desc: desc, Fn: fn})
	nativeByName[name] = idx
	return NewCFunction(idx)
}

func (it *Interp) callNative(idx int, args []Value) ([]Value, error) {
	if idx < 0 || idx >= len(nativeRegistry) {
		return nil, &StaleHandleError{Reason: "native function index out of range"}
	}
	return nativeRegistry[idx].Fn(it, args)
}

func arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return NewNil()
}

// installBaseLibrary populates Globals with Lua 5.1's base library (§4.H),
// the bare minimum every sandboxed script needs regardless of the
// redis-facing surface installed separately by redis.go.
func installBaseLibrary(it *Interp) error {
	g := it.heap.Globals
	set := func(name string, desc string, fn func(*Interp, []Value) ([]Value, error)) error {
		return it.heap.SetField(g, mustString(it, name), RegisterNative(name, desc, fn))
	}

	if err := set("type", "returns the type name of its argument", func(it *Interp, args []Value) ([]Value, error) {
		return []Value{mustString(it, arg(args, 0).TypeName())}, nil
	}); err != nil {
		return err
	}

	if err := set("tostring", "converts its argument to a string, honoring __tostring", func(it *Interp, args []Value) ([]Value, error) {
		s, err := it.ToString(arg(args, 0))
		if err != nil {
			return nil, err
		}
		v, err := it.heap.NewString(s)
		return []Value{v}, err
	}); err != nil {
		return err
	}

	if err := set("tonumber", "parses a string as a number, or passes a number through; nil on failure", func(it *Interp, args []Value) ([]Value, error) {
		v := arg(args, 0)
		if v.IsNumber() {
			return []Value{v}, nil
		}
		if !v.IsString() {
			return []Value{NewNil()}, nil
		}
		s, err := it.heap.GetString(v.Handle())
		if err != nil {
			return nil, err
		}
		if len(args) > 1 && args[1].IsNumber() {
			base := int(args[1].Number())
			n, ok := parseIntInBase(s, base)
			if !ok {
				return []Value{NewNil()}, nil
			}
			return []Value{NewNumber(n)}, nil
		}
		f, ok := parseLuaNumber(s)
		if !ok {
			return []Value{NewNil()}, nil
		}
		return []Value{NewNumber(f)}, nil
	}); err != nil {
		return err
	}

	if err := set("rawget", "reads a table field without consulting __index", func(it *Interp, args []Value) ([]Value, error) {
		v, err := it.heap.GetField(arg(args, 0).Handle(), arg(args, 1))
		return []Value{v}, err
	}); err != nil {
		return err
	}

	if err := set("rawset", "writes a table field without consulting __newindex", func(it *Interp, args []Value) ([]Value, error) {
		t := arg(args, 0)
		if err := it.heap.SetField(t.Handle(), arg(args, 1), arg(args, 2)); err != nil {
			return nil, err
		}
		return []Value{t}, nil
	}); err != nil {
		return err
	}

	if err := set("rawequal", "compares two values without consulting __eq", func(it *Interp, args []Value) ([]Value, error) {
		return []Value{NewBoolean(RawEqual(arg(args, 0), arg(args, 1)))}, nil
	}); err != nil {
		return err
	}

	if err := set("rawlen", "returns a table or string's raw length without consulting __len", func(it *Interp, args []Value) ([]Value, error) {
		v := arg(args, 0)
		if v.IsString() {
			s, err := it.heap.GetString(v.Handle())
			return []Value{NewNumber(float64(len(s)))}, err
		}
		t, err := it.heap.GetTable(v.Handle())
		if err != nil {
			return nil, err
		}
		return []Value{NewNumber(float64(t.Length()))}, nil
	}); err != nil {
		return err
	}

	if err := set("setmetatable", "sets (or clears with nil) a table's metatable", func(it *Interp, args []Value) ([]Value, error) {
		t, err := it.heap.GetTable(arg(args, 0).Handle())
		if err != nil {
			return nil, err
		}
		mt := arg(args, 1)
		if mt.IsNil() {
			t.Metatable = Handle{}
		} else if mt.IsTable() {
			t.Metatable = mt.Handle()
		} else {
			return nil, &TypeError{Op: "", Expected: "nil or table", Got: mt.TypeName()}
		}
		return []Value{arg(args, 0)}, nil
	}); err != nil {
		return err
	}

	if err := set("getmetatable", "returns a table's metatable, or nil if it has none", func(it *Interp, args []Value) ([]Value, error) {
		v := arg(args, 0)
		if !v.IsTable() {
			return []Value{NewNil()}, nil
		}
		t, err := it.heap.GetTable(v.Handle())
		if err != nil {
			return nil, err
		}
		if t.Metatable.Nil() {
			return []Value{NewNil()}, nil
		}
		return []Value{NewTable(t.Metatable)}, nil
	}); err != nil {
		return err
	}

	if err := set("next", "stateless table iterator; pairs() is built from this", func(it *Interp, args []Value) ([]Value, error) {
		t, err := it.heap.GetTable(arg(args, 0).Handle())
		if err != nil {
			return nil, err
		}
		k, v, ok, err := t.Next(arg(args, 1))
		if err != nil {
			return nil, err
		}
		if !ok {
			return []Value{NewNil()}, nil
		}
		return []Value{k, v}, nil
	}); err != nil {
		return err
	}

	nextFn, err := it.heap.GetField(g, mustString(it, "next"))
	if err != nil {
		return err
	}

	if err := set("pairs", "returns next, t, nil for a for-in loop over every key", func(it *Interp, args []Value) ([]Value, error) {
		return []Value{nextFn, arg(args, 0), NewNil()}, nil
	}); err != nil {
		return err
	}

	if err := set("ipairs", "returns an iterator over a table's dense 1..n array part", func(it *Interp, args []Value) ([]Value, error) {
		iter := RegisterNative("ipairs.iterator", "", func(it *Interp, args []Value) ([]Value, error) {
			t, err := it.heap.GetTable(arg(args, 0).Handle())
			if err != nil {
				return nil, err
			}
			i := int(arg(args, 1).Number()) + 1
			v := t.Get(NewNumber(float64(i)))
			if v.IsNil() {
				return []Value{NewNil()}, nil
			}
			return []Value{NewNumber(float64(i)), v}, nil
		})
		return []Value{iter, arg(args, 0), NewNumber(0)}, nil
	}); err != nil {
		return err
	}

	if err := set("select", "select('#', ...) counts varargs; select(n, ...) slices from the nth", func(it *Interp, args []Value) ([]Value, error) {
		first := arg(args, 0)
		rest := args[minInt(1, len(args)):]
		if first.IsString() {
			s, err := it.heap.GetString(first.Handle())
			if err == nil && s == "#" {
				return []Value{NewNumber(float64(len(rest)))}, nil
			}
		}
		n := int(first.Number())
		if n < 0 {
			n = len(rest) + n + 1
		}
		if n < 1 {
			return nil, &TypeError{Op: "", Expected: "index >= 1", Got: "out of range"}
		}
		if n > len(rest) {
			return nil, nil
		}
		return rest[n-1:], nil
	}); err != nil {
		return err
	}

	if err := set("unpack", "spreads a table's array part 1..n (or i..j) as multiple results", func(it *Interp, args []Value) ([]Value, error) {
		t, err := it.heap.GetTable(arg(args, 0).Handle())
		if err != nil {
			return nil, err
		}
		i := 1
		if len(args) > 1 && args[1].IsNumber() {
			i = int(args[1].Number())
		}
		j := t.Length()
		if len(args) > 2 && args[2].IsNumber() {
			j = int(args[2].Number())
		}
		var out []Value
		for k := i; k <= j; k++ {
			out = append(out, t.Get(NewNumber(float64(k))))
		}
		return out, nil
	}); err != nil {
		return err
	}

	if err := set("assert", "returns all arguments if the first is truthy, else raises an error", func(it *Interp, args []Value) ([]Value, error) {
		if !arg(args, 0).Truthy() {
			msg := arg(args, 1)
			if msg.IsNil() {
				msg = mustString(it, "assertion failed!")
			}
			return nil, &RuntimeError{Value: msg}
		}
		return args, nil
	}); err != nil {
		return err
	}

	if err := set("error", "raises its first argument unchanged as a Lua-level error; the level argument is ignored and no position info is added", func(it *Interp, args []Value) ([]Value, error) {
		return nil, &RuntimeError{Value: arg(args, 0)}
	}); err != nil {
		return err
	}

	if err := set("pcall", "calls f protected: returns true, results... or false, errvalue", func(it *Interp, args []Value) ([]Value, error) {
		if len(args) == 0 {
			return []Value{NewBoolean(false), mustString(it, "bad argument #1 to 'pcall' (value expected)")}, nil
		}
		results, err := it.callValue(args[0], args[1:], -1)
		if err != nil {
			if uncatchable, ok := err.(UncatchableError); ok {
				return nil, uncatchable
			}
			return []Value{NewBoolean(false), errorValue(it, err)}, nil
		}
		return append([]Value{NewBoolean(true)}, results...), nil
	}); err != nil {
		return err
	}

	if err := set("xpcall", "calls f protected with a custom message handler on error", func(it *Interp, args []Value) ([]Value, error) {
		if len(args) < 2 {
			return []Value{NewBoolean(false), mustString(it, "bad argument #2 to 'xpcall' (value expected)")}, nil
		}
		results, err := it.callValue(args[0], args[2:], -1)
		if err != nil {
			if uncatchable, ok := err.(UncatchableError); ok {
				return nil, uncatchable
			}
			handled, herr := it.callValue(args[1], []Value{errorValue(it, err)}, 1)
			if herr != nil {
				return nil, herr
			}
			return append([]Value{NewBoolean(false)}, handled...), nil
		}
		return append([]Value{NewBoolean(true)}, results...), nil
	}); err != nil {
		return err
	}

	return nil
}

// errorValue recovers the Lua-visible value carried by an error, so pcall
// can hand back exactly what the failed operation's error() call (or the
// interpreter's own RuntimeError) produced rather than a Go error string.
func errorValue(it *Interp, err error) Value {
	if re, ok := err.(*RuntimeError); ok {
		return re.Value
	}
	return mustString(it, err.Error())
}

func parseIntInBase(s string, base int) (float64, bool) {
	s = trimSpaceASCII(s)
	if s == "" || base < 2 || base > 36 {
		return 0, false
	}
	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}
	if s == "" {
		return 0, false
	}
	var n float64
	for _, c := range s {
		d := digitValue(byte(c))
		if d < 0 || d >= base {
			return 0, false
		}
		n = n*float64(base) + float64(d)
	}
	if neg {
		n = -n
	}
	return n, true
}

func digitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	}
	return -1
}

func trimSpaceASCII(s string) string {
	i, j := 0, len(s)
	for i < j && isASCIISpace(s[i]) {
		i++
	}
	for j > i && isASCIISpace(s[j-1]) {
		j--
	}
	return s[i:j]
}

func isASCIISpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
