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
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// installCjsonLibrary installs the `cjson` table redis-cli scripts expect
// (§4.H): encode/decode between Lua values and JSON text, plus the
// cjson.encode_sparse_array no-op redis scripts sometimes call to configure
// a feature this runtime doesn't need to gate. Decoding leans on
// encoding/json for lexing; encoding walks Values directly since
// cjson's array-vs-object and key-ordering rules have no stdlib equivalent.
func installCjsonLibrary(it *Interp) error {
	libHandle := it.heap.AllocTable()

	def := func(name string, desc string, fn func(*Interp, []Value) ([]Value, error)) error {
		return it.heap.SetField(libHandle, mustString(it, name), RegisterNative("cjson."+name, desc, fn))
	}

	if err := def("encode", "encodes a Lua value as a JSON string", func(it *Interp, args []Value) ([]Value, error) {
		if len(args) == 0 {
			return nil, &TypeError{Op: "", Expected: "a value", Got: "none"}
		}
		var b strings.Builder
		if err := it.encodeJSON(&b, args[0], map[Handle]bool{}); err != nil {
			return nil, err
		}
		v, err := it.heap.NewString(b.String())
		return []Value{v}, err
	}); err != nil {
		return err
	}

	if err := def("decode", "decodes a JSON string into a Lua value", func(it *Interp, args []Value) ([]Value, error) {
		s, err := asString(it, arg(args, 0))
		if err != nil {
			return nil, err
		}
		var parsed any
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		if err := dec.Decode(&parsed); err != nil {
			return nil, &RuntimeError{Value: mustString(it, "invalid JSON: "+err.Error())}
		}
		v, err := it.decodeJSON(parsed)
		if err != nil {
			return nil, err
		}
		return []Value{v}, nil
	}); err != nil {
		return err
	}

	if err := def("encode_sparse_array", "configures sparse-array encoding; accepted and ignored", func(it *Interp, args []Value) ([]Value, error) {
		return nil, nil
	}); err != nil {
		return err
	}

	return it.heap.SetField(it.heap.Globals, mustString(it, "cjson"), NewTable(libHandle))
}

// encodeJSON writes v's JSON encoding to b. Tables encode as a JSON array
// when their keys are exactly the dense range 1..n (matching cjson's own
// array-detection rule), otherwise as an object with keys sorted for
// deterministic output across runs — required because a Redis script's
// result must replay identically on every replica (§4.I "determinism").
func (it *Interp) encodeJSON(b *strings.Builder, v Value, visiting map[Handle]bool) error {
	switch {
	case v.IsNil():
		b.WriteString("null")
		return nil
	case v.IsBoolean():
		if v.Boolean() {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		return nil
	case v.IsNumber():
		n := v.Number()
		if math.IsNaN(n) || math.IsInf(n, 0) {
			b.WriteString("null")
			return nil
		}
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			b.WriteString(strconv.FormatInt(int64(n), 10))
		} else {
			b.WriteString(strconv.FormatFloat(n, 'g', -1, 64))
		}
		return nil
	case v.IsString():
		s, err := it.heap.GetString(v.Handle())
		if err != nil {
			return err
		}
		writeJSONString(b, s)
		return nil
	case v.IsTable():
		return it.encodeJSONTable(b, v.Handle(), visiting)
	default:
		b.WriteString("null")
		return nil
	}
}

func (it *Interp) encodeJSONTable(b *strings.Builder, h Handle, visiting map[Handle]bool) error {
	if visiting[h] {
		b.WriteString("null")
		return nil
	}
	visiting[h] = true
	defer delete(visiting, h)

	t, err := it.heap.GetTable(h)
	if err != nil {
		return err
	}

	if len(t.Array) == 0 {
		if _, _, ok, err := t.Next(NewNil()); err == nil && !ok {
			b.WriteString("{}")
			return nil
		}
	}

	isArray := len(t.Array) > 0
	for _, v := range t.Array {
		if v.IsNil() {
			isArray = false
			break
		}
	}
	if isArray {
		if _, _, hasHashPart, err := t.Next(NewNumber(float64(len(t.Array)))); err == nil && hasHashPart {
			isArray = false
		}
	}

	if isArray {
		b.WriteByte('[')
		for i, v := range t.Array {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := it.encodeJSON(b, v, visiting); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	}

	type kv struct {
		key     string
		val     Value
		numeric bool
		numKey  float64
	}
	var entries []kv
	for i, v := range t.Array {
		n := float64(i + 1)
		entries = append(entries, kv{key: strconv.Itoa(i + 1), val: v, numeric: true, numKey: n})
	}
	for key, val, ok, err := t.Next(NewNil()); ok; key, val, ok, err = t.Next(key) {
		if err != nil {
			return err
		}
		ks, err := it.ToString(key)
		if err != nil {
			return err
		}
		if key.IsNumber() {
			entries = append(entries, kv{key: ks, val: val, numeric: true, numKey: key.Number()})
		} else {
			entries = append(entries, kv{key: ks, val: val})
		}
	}

	// Keys sort by native ordering within their own kind (numeric keys by
	// value, e.g. 2 before 10; everything else by string bytes) rather than
	// stringifying numeric keys first and comparing bytes, which would put
	// "10" before "2".
	var numeric, stringKeyed []kv
	for _, e := range entries {
		if e.numeric {
			numeric = append(numeric, e)
		} else {
			stringKeyed = append(stringKeyed, e)
		}
	}
	sort.Slice(numeric, func(i, j int) bool { return numeric[i].numKey < numeric[j].numKey })
	sort.Slice(stringKeyed, func(i, j int) bool { return stringKeyed[i].key < stringKeyed[j].key })
	entries = append(numeric, stringKeyed...)

	b.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(',')
		}
		writeJSONString(b, e.key)
		b.WriteByte(':')
		if err := it.encodeJSON(b, e.val, visiting); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func writeJSONString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 {
				b.WriteString("\\u")
				hex := strconv.FormatInt(int64(r), 16)
				for len(hex) < 4 {
					hex = "0" + hex
				}
				b.WriteString(hex)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}

// decodeJSON converts a parsed encoding/json value (using json.Number for
// all numerics, set by the decoder's UseNumber) into a Lua Value. JSON
// objects and arrays both become Tables; an empty JSON object round-trips
// as an empty table indistinguishable from an empty array, matching cjson's
// own documented behavior.
func (it *Interp) decodeJSON(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return NewNil(), nil
	case bool:
		return NewBoolean(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, &RuntimeError{Value: mustString(it, "invalid JSON number: "+x.String())}
		}
		return NewNumber(f), nil
	case string:
		return it.heap.NewString(x)
	case []any:
		h := it.heap.AllocTable()
		t, err := it.heap.GetTable(h)
		if err != nil {
			return Value{}, err
		}
		for _, e := range x {
			ev, err := it.decodeJSON(e)
			if err != nil {
				return Value{}, err
			}
			t.Array = append(t.Array, ev)
		}
		return NewTable(h), nil
	case map[string]any:
		h := it.heap.AllocTable()
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ev, err := it.decodeJSON(x[k])
			if err != nil {
				return Value{}, err
			}
			kv, err := it.heap.NewString(k)
			if err != nil {
				return Value{}, err
			}
			if err := it.heap.SetField(h, kv, ev); err != nil {
				return Value{}, err
			}
		}
		return NewTable(h), nil
	}
	return NewNil(), nil
}
