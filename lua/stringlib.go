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
	"fmt"
	"strings"
)

// installStringLibrary installs Lua 5.1's `string` table (§4.H), and
// installs the same table as the shared metatable of every string value so
// `("x"):upper()` method-call sugar works (§4.H "string metatable").
func installStringLibrary(it *Interp) error {
	libHandle := it.heap.AllocTable()
	lib := NewTable(libHandle)

	def := func(name string, desc string, fn func(*Interp, []Value) ([]Value, error)) error {
		return it.heap.SetField(libHandle, mustString(it, name), RegisterNative("string."+name, desc, fn))
	}

	if err := def("len", "returns the byte length of a string", func(it *Interp, args []Value) ([]Value, error) {
		s, err := asString(it, arg(args, 0))
		if err != nil {
			return nil, err
		}
		return []Value{NewNumber(float64(len(s)))}, nil
	}); err != nil {
		return err
	}

	if err := def("sub", "returns the substring between 1-based indices i and j (inclusive, negative counts from the end)", func(it *Interp, args []Value) ([]Value, error) {
		s, err := asString(it, arg(args, 0))
		if err != nil {
			return nil, err
		}
		i := strIndex(len(s), int(numberOr(args, 1, 1)), 1)
		j := strIndex(len(s), int(numberOr(args, 2, -1)), 0)
		if i < 1 {
			i = 1
		}
		if j > len(s) {
			j = len(s)
		}
		if i > j {
			v, err := it.heap.NewString("")
			return []Value{v}, err
		}
		v, err := it.heap.NewString(s[i-1 : j])
		return []Value{v}, err
	}); err != nil {
		return err
	}

	if err := def("upper", "returns a copy of the string in upper case", func(it *Interp, args []Value) ([]Value, error) {
		s, err := asString(it, arg(args, 0))
		if err != nil {
			return nil, err
		}
		v, err := it.heap.NewString(strings.ToUpper(s))
		return []Value{v}, err
	}); err != nil {
		return err
	}

	if err := def("lower", "returns a copy of the string in lower case", func(it *Interp, args []Value) ([]Value, error) {
		s, err := asString(it, arg(args, 0))
		if err != nil {
			return nil, err
		}
		v, err := it.heap.NewString(strings.ToLower(s))
		return []Value{v}, err
	}); err != nil {
		return err
	}

	if err := def("rep", "returns the string repeated n times", func(it *Interp, args []Value) ([]Value, error) {
		s, err := asString(it, arg(args, 0))
		if err != nil {
			return nil, err
		}
		n := int(numberOr(args, 1, 0))
		if n <= 0 {
			v, err := it.heap.NewString("")
			return []Value{v}, err
		}
		v, err := it.heap.NewString(strings.Repeat(s, n))
		return []Value{v}, err
	}); err != nil {
		return err
	}

	if err := def("reverse", "returns the string with bytes reversed", func(it *Interp, args []Value) ([]Value, error) {
		s, err := asString(it, arg(args, 0))
		if err != nil {
			return nil, err
		}
		b := []byte(s)
		for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
			b[i], b[j] = b[j], b[i]
		}
		v, err := it.heap.NewString(string(b))
		return []Value{v}, err
	}); err != nil {
		return err
	}

	if err := def("byte", "returns the numeric byte values of s[i..j]", func(it *Interp, args []Value) ([]Value, error) {
		s, err := asString(it, arg(args, 0))
		if err != nil {
			return nil, err
		}
		i := strIndex(len(s), int(numberOr(args, 1, 1)), 1)
		j := strIndex(len(s), int(numberOr(args, 2, float64(i))), 0)
		if i < 1 {
			i = 1
		}
		if j > len(s) {
			j = len(s)
		}
		var out []Value
		for k := i; k <= j; k++ {
			out = append(out, NewNumber(float64(s[k-1])))
		}
		return out, nil
	}); err != nil {
		return err
	}

	if err := def("char", "returns a string built from the given numeric byte values", func(it *Interp, args []Value) ([]Value, error) {
		b := make([]byte, len(args))
		for i, a := range args {
			b[i] = byte(int(a.Number()))
		}
		v, err := it.heap.NewString(string(b))
		return []Value{v}, err
	}); err != nil {
		return err
	}

	if err := def("format", "formats a string printf-style (%d %s %f %x %q %%)", func(it *Interp, args []Value) ([]Value, error) {
		format, err := asString(it, arg(args, 0))
		if err != nil {
			return nil, err
		}
		s, err := it.formatString(format, args[1:])
		if err != nil {
			return nil, err
		}
		v, err := it.heap.NewString(s)
		return []Value{v}, err
	}); err != nil {
		return err
	}

	if err := def("find", "searches s for pattern, returning start, end[, captures...]", func(it *Interp, args []Value) ([]Value, error) {
		s, err := asString(it, arg(args, 0))
		if err != nil {
			return nil, err
		}
		pat, err := asString(it, arg(args, 1))
		if err != nil {
			return nil, err
		}
		init := strIndex(len(s), int(numberOr(args, 2, 1)), 1) - 1
		plain := len(args) > 3 && args[3].Truthy()
		if plain || !strings.ContainsAny(pat, "^$*+?.([%-") {
			idx := strings.Index(s[maxInt(0, init):], pat)
			if idx < 0 {
				return []Value{NewNil()}, nil
			}
			start := maxInt(0, init) + idx
			return []Value{NewNumber(float64(start + 1)), NewNumber(float64(start + len(pat)))}, nil
		}
		start, end, captures, ok := FindMatch(s, pat, init)
		if !ok {
			return []Value{NewNil()}, nil
		}
		out := []Value{NewNumber(float64(start + 1)), NewNumber(float64(end))}
		if len(captures) > 0 {
			for _, cs := range CaptureStrings(s, start, end, captures) {
				v, err := it.heap.NewString(cs)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
		}
		return out, nil
	}); err != nil {
		return err
	}

	if err := def("match", "returns the first match of pattern in s (or its captures)", func(it *Interp, args []Value) ([]Value, error) {
		s, err := asString(it, arg(args, 0))
		if err != nil {
			return nil, err
		}
		pat, err := asString(it, arg(args, 1))
		if err != nil {
			return nil, err
		}
		init := strIndex(len(s), int(numberOr(args, 2, 1)), 1) - 1
		start, end, captures, ok := FindMatch(s, pat, init)
		if !ok {
			return []Value{NewNil()}, nil
		}
		var out []Value
		for _, cs := range CaptureStrings(s, start, end, captures) {
			v, err := it.heap.NewString(cs)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}); err != nil {
		return err
	}

	if err := def("gmatch", "returns a stateful iterator over every non-overlapping match of pattern", func(it *Interp, args []Value) ([]Value, error) {
		s, err := asString(it, arg(args, 0))
		if err != nil {
			return nil, err
		}
		pat, err := asString(it, arg(args, 1))
		if err != nil {
			return nil, err
		}
		pos := 0
		iter := RegisterNative("string.gmatch.iterator", "", func(it *Interp, _ []Value) ([]Value, error) {
			for pos <= len(s) {
				start, end, captures, ok := FindMatch(s, pat, pos)
				if !ok {
					return []Value{NewNil()}, nil
				}
				if end == start {
					pos = end + 1
				} else {
					pos = end
				}
				var out []Value
				for _, cs := range CaptureStrings(s, start, end, captures) {
					v, err := it.heap.NewString(cs)
					if err != nil {
						return nil, err
					}
					out = append(out, v)
				}
				return out, nil
			}
			return []Value{NewNil()}, nil
		})
		return []Value{iter}, nil
	}); err != nil {
		return err
	}

	if err := def("gsub", "replaces every (or up to n) matches of pattern in s with repl", func(it *Interp, args []Value) ([]Value, error) {
		s, err := asString(it, arg(args, 0))
		if err != nil {
			return nil, err
		}
		pat, err := asString(it, arg(args, 1))
		if err != nil {
			return nil, err
		}
		repl := arg(args, 2)
		maxN := -1
		if len(args) > 3 && args[3].IsNumber() {
			maxN = int(args[3].Number())
		}
		out, count, err := it.gsub(s, pat, repl, maxN)
		if err != nil {
			return nil, err
		}
		v, err := it.heap.NewString(out)
		if err != nil {
			return nil, err
		}
		return []Value{v, NewNumber(float64(count))}, nil
	}); err != nil {
		return err
	}

	it.stringMetatable = it.heap.AllocTable()
	mt, err := it.heap.GetTable(it.stringMetatable)
	if err != nil {
		return err
	}
	indexKey, err := it.heap.NewString("__index")
	if err != nil {
		return err
	}
	if err := mt.Set(indexKey, lib); err != nil {
		return err
	}

	return it.heap.SetField(it.heap.Globals, mustString(it, "string"), lib)
}

func asString(it *Interp, v Value) (string, error) {
	if v.IsString() {
		return it.heap.GetString(v.Handle())
	}
	if v.IsNumber() {
		return FormatNumber(v.Number()), nil
	}
	return "", &TypeError{Expected: "string", Got: v.TypeName()}
}

func numberOr(args []Value, i int, def float64) float64 {
	if i < len(args) && args[i].IsNumber() {
		return args[i].Number()
	}
	return def
}

// strIndex converts a Lua 1-based (possibly negative) string index into a
// Go-usable 1-based index raised to at least floor; the upper clamp to len
// is left to the call site,
// matching string.sub/byte/find's shared index-normalization rule (§4.H).
func strIndex(strlen, i, floor int) int {
	if i < 0 {
		i = strlen + i + 1
	}
	if i < floor {
		i = floor
	}
	return i
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// formatString implements string.format's subset of printf directives that
// Lua 5.1 documents: %d %i %u %s %q %f %g %e %x %X %o %c %%.
func (it *Interp) formatString(format string, args []Value) (string, error) {
	var b strings.Builder
	ai := 0
	next := func() Value {
		if ai < len(args) {
			v := args[ai]
			ai++
			return v
		}
		return NewNil()
	}
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		start := i
		i++
		for i < len(format) && strings.ContainsRune("-+ #0123456789.", rune(format[i])) {
			i++
		}
		if i >= len(format) {
			return "", &RuntimeError{Value: mustString(it, "invalid format string to 'format'")}
		}
		verb := format[i]
		spec := format[start : i+1]
		switch verb {
		case '%':
			b.WriteByte('%')
		case 'd', 'i', 'u':
			v := next()
			fmt.Fprintf(&b, strings.Replace(spec, string(verb), "d", 1), int64(v.Number()))
		case 'x', 'X', 'o':
			v := next()
			fmt.Fprintf(&b, spec, int64(v.Number()))
		case 'c':
			v := next()
			b.WriteByte(byte(int(v.Number())))
		case 'f', 'F', 'g', 'G', 'e', 'E':
			v := next()
			fmt.Fprintf(&b, spec, v.Number())
		case 's':
			v := next()
			s, err := it.ToString(v)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, spec, s)
		case 'q':
			v := next()
			s, err := it.ToString(v)
			if err != nil {
				return "", err
			}
			b.WriteString(quoteLua(s))
		default:
			return "", &RuntimeError{Value: mustString(it, "invalid conversion '"+spec+"' to 'format'")}
		}
	}
	return b.String(), nil
}

func quoteLua(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case 0:
			b.WriteString("\\0")
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// gsub implements string.gsub's replacement semantics: repl may be a
// string (with %0-%9 backreferences), a table (keyed by the whole match or
// first capture), or a function (called with the captures, a nil/false
// result keeps the original match text).
func (it *Interp) gsub(s, pat string, repl Value, maxN int) (string, int, error) {
	var b strings.Builder
	pos := 0
	count := 0
	for pos <= len(s) {
		if maxN >= 0 && count >= maxN {
			break
		}
		start, end, captures, ok := FindMatch(s, pat, pos)
		if !ok {
			break
		}
		b.WriteString(s[pos:start])
		whole := s[start:end]
		capStrs := CaptureStrings(s, start, end, captures)
		replacement, err := it.gsubReplacement(whole, capStrs, repl)
		if err != nil {
			return "", 0, err
		}
		b.WriteString(replacement)
		count++
		if end == start {
			if start < len(s) {
				b.WriteByte(s[start])
			}
			pos = start + 1
		} else {
			pos = end
		}
	}
	if pos < len(s) {
		b.WriteString(s[pos:])
	}
	return b.String(), count, nil
}

func (it *Interp) gsubReplacement(whole string, captures []string, repl Value) (string, error) {
	switch {
	case repl.IsString() || repl.IsNumber():
		s, err := asString(it, repl)
		if err != nil {
			return "", err
		}
		return expandBackrefs(s, whole, captures), nil
	case repl.IsTable():
		key := captures[0]
		kv, err := it.heap.NewString(key)
		if err != nil {
			return "", err
		}
		v, err := it.heap.GetField(repl.Handle(), kv)
		if err != nil {
			return "", err
		}
		return replacementOrWhole(it, v, whole)
	case repl.IsFunction():
		args := make([]Value, len(captures))
		for i, c := range captures {
			v, err := it.heap.NewString(c)
			if err != nil {
				return "", err
			}
			args[i] = v
		}
		results, err := it.callValue(repl, args, 1)
		if err != nil {
			return "", err
		}
		return replacementOrWhole(it, firstOrNil(results), whole)
	}
	return whole, nil
}

func replacementOrWhole(it *Interp, v Value, whole string) (string, error) {
	if v.IsNil() || (v.IsBoolean() && !v.Boolean()) {
		return whole, nil
	}
	return asString(it, v)
}

func expandBackrefs(template, whole string, captures []string) string {
	var b strings.Builder
	for i := 0; i < len(template); i++ {
		if template[i] == '%' && i+1 < len(template) {
			n := template[i+1]
			switch {
			case n == '%':
				b.WriteByte('%')
				i++
			case n == '0':
				b.WriteString(whole)
				i++
			case n >= '1' && n <= '9':
				idx := int(n - '1')
				if idx < len(captures) {
					b.WriteString(captures[idx])
				}
				i++
			default:
				b.WriteByte(template[i])
			}
			continue
		}
		b.WriteByte(template[i])
	}
	return b.String()
}
