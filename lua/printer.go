/*
Copyright (C) 2023  Carl-Philip Hänsch
Copyright (C) 2013  Pieter Kelchtermans (originally licensed unter WTFPL 2.0)

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
	"math"
	"strconv"
	"strings"
)

// FormatNumber renders a Lua number the way the reference `tostring` does:
// `string.format("%.14g", n)`, with the three IEEE754 specials spelled out
// the way Lua's own number-to-string conversion spells them (§8 boundary
// tests: 1/0, -1/0, 0/0).
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'g', 14, 64)
	// Go spells the exponent marker/sign differently than C's printf; %.14g
	// in Lua always has at least two exponent digits and a leading '+'/'-'.
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		mantissa, exp := s[:i], s[i+1:]
		sign := "+"
		if exp[0] == '+' || exp[0] == '-' {
			sign = string(exp[0])
			exp = exp[1:]
		}
		if len(exp) < 2 {
			exp = "0" + exp
		}
		s = mantissa + "e" + sign + exp
	}
	return s
}

// parseLuaNumber parses a Lua numeral: decimal with optional exponent, or a
// 0x/0X-prefixed hexadecimal integer (§4.C "arithmetic on strings", §4.H
// tonumber). Surrounding whitespace is permitted, matching Lua's lexer.
func parseLuaNumber(s string) (float64, bool) {
	t := strings.TrimSpace(s)
	if t == "" {
		return 0, false
	}
	neg := false
	rest := t
	if rest[0] == '+' || rest[0] == '-' {
		neg = rest[0] == '-'
		rest = rest[1:]
	}
	if len(rest) > 1 && rest[0] == '0' && (rest[1] == 'x' || rest[1] == 'X') {
		n, err := strconv.ParseUint(rest[2:], 16, 64)
		if err != nil {
			return 0, false
		}
		f := float64(n)
		if neg {
			f = -f
		}
		return f, true
	}
	f, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func powFloat(a, b float64) float64 { return math.Pow(a, b) }
func floorFloat(a float64) float64  { return math.Floor(a) }

// ToString implements the `tostring` builtin (§4.H): numbers/strings/nil/
// booleans render directly; anything else consults __tostring, then falls
// back to a `kind: 0x...`-shaped identity string the way Lua's default
// tostring does for tables/functions/threads without a __tostring metamethod.
func (it *Interp) ToString(v Value) (string, error) {
	if v.IsTable() {
		mm, err := it.findMetamethod(v, "__tostring")
		if err != nil {
			return "", err
		}
		if !mm.IsNil() {
			results, err := it.callValue(mm, []Value{v}, 1)
			if err != nil {
				return "", err
			}
			if len(results) == 0 || !results[0].IsString() {
				return "", &TypeError{Op: "", Expected: "string from __tostring", Got: "non-string"}
			}
			return it.heap.ValueAsGoString(results[0])
		}
	}
	switch {
	case v.IsNil():
		return "nil", nil
	case v.IsBoolean():
		if v.Boolean() {
			return "true", nil
		}
		return "false", nil
	case v.IsNumber():
		return FormatNumber(v.Number()), nil
	case v.IsString():
		return it.heap.ValueAsGoString(v)
	case v.IsTable():
		return fmt.Sprintf("table: 0x%08x", identityOf(v)), nil
	case v.IsClosure():
		return fmt.Sprintf("function: 0x%08x", identityOf(v)), nil
	case v.IsCFunction():
		return fmt.Sprintf("function: builtin#%d", v.CFunctionIndex()), nil
	case v.IsThread():
		return fmt.Sprintf("thread: 0x%08x", identityOf(v)), nil
	}
	return "userdata", nil
}

func identityOf(v Value) uint64 {
	h := v.Handle()
	return uint64(h.Index)<<32 | uint64(h.Generation)
}
