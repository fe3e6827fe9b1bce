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

// installMathLibrary installs Lua 5.1's `math` table (§4.H). random and
// randomseed are deliberately omitted: a sandboxed redis script must
// replay deterministically across master and replicas, and an
// unseeded/reseeded PRNG would break that guarantee (§4.I "determinism").
func installMathLibrary(it *Interp) error {
	libHandle := it.heap.AllocTable()

	def := func(name string, desc string, fn func(*Interp, []Value) ([]Value, error)) error {
		return it.heap.SetField(libHandle, mustString(it, name), RegisterNative("math."+name, desc, fn))
	}

	unary := func(name, desc string, f func(float64) float64) error {
		return def(name, desc, func(it *Interp, args []Value) ([]Value, error) {
			return []Value{NewNumber(f(arg(args, 0).Number()))}, nil
		})
	}

	if err := it.heap.SetField(libHandle, mustString(it, "pi"), NewNumber(math.Pi)); err != nil {
		return err
	}
	if err := it.heap.SetField(libHandle, mustString(it, "huge"), NewNumber(math.Inf(1))); err != nil {
		return err
	}

	for _, u := range []struct {
		name, desc string
		f          func(float64) float64
	}{
		{"abs", "returns the absolute value", math.Abs},
		{"ceil", "rounds up to the nearest integer", math.Ceil},
		{"floor", "rounds down to the nearest integer", floorFloat},
		{"sqrt", "returns the square root", math.Sqrt},
		{"exp", "returns e^x", math.Exp},
		{"sin", "returns the sine, in radians", math.Sin},
		{"cos", "returns the cosine, in radians", math.Cos},
		{"tan", "returns the tangent, in radians", math.Tan},
		{"asin", "returns the arc sine, in radians", math.Asin},
		{"acos", "returns the arc cosine, in radians", math.Acos},
		{"rad", "converts degrees to radians", func(x float64) float64 { return x * math.Pi / 180 }},
		{"deg", "converts radians to degrees", func(x float64) float64 { return x * 180 / math.Pi }},
	} {
		if err := unary(u.name, u.desc, u.f); err != nil {
			return err
		}
	}

	if err := def("atan", "returns the arc tangent of y/x, in radians", func(it *Interp, args []Value) ([]Value, error) {
		y := arg(args, 0).Number()
		if len(args) > 1 {
			return []Value{NewNumber(math.Atan2(y, args[1].Number()))}, nil
		}
		return []Value{NewNumber(math.Atan(y))}, nil
	}); err != nil {
		return err
	}

	if err := def("log", "returns the natural logarithm, or log base b if given", func(it *Interp, args []Value) ([]Value, error) {
		x := arg(args, 0).Number()
		if len(args) > 1 {
			return []Value{NewNumber(math.Log(x) / math.Log(args[1].Number()))}, nil
		}
		return []Value{NewNumber(math.Log(x))}, nil
	}); err != nil {
		return err
	}

	if err := def("pow", "returns x^y", func(it *Interp, args []Value) ([]Value, error) {
		return []Value{NewNumber(powFloat(arg(args, 0).Number(), arg(args, 1).Number()))}, nil
	}); err != nil {
		return err
	}

	if err := def("fmod", "returns the remainder of x/y with the sign of x, C fmod semantics", func(it *Interp, args []Value) ([]Value, error) {
		return []Value{NewNumber(math.Mod(arg(args, 0).Number(), arg(args, 1).Number()))}, nil
	}); err != nil {
		return err
	}

	if err := def("modf", "splits x into integral and fractional parts, both with x's sign", func(it *Interp, args []Value) ([]Value, error) {
		i, f := math.Modf(arg(args, 0).Number())
		return []Value{NewNumber(i), NewNumber(f)}, nil
	}); err != nil {
		return err
	}

	if err := def("max", "returns the largest of its arguments", func(it *Interp, args []Value) ([]Value, error) {
		if len(args) == 0 {
			return nil, &TypeError{Op: "", Expected: "at least one argument", Got: "none"}
		}
		m := args[0].Number()
		for _, a := range args[1:] {
			if a.Number() > m {
				m = a.Number()
			}
		}
		return []Value{NewNumber(m)}, nil
	}); err != nil {
		return err
	}

	if err := def("min", "returns the smallest of its arguments", func(it *Interp, args []Value) ([]Value, error) {
		if len(args) == 0 {
			return nil, &TypeError{Op: "", Expected: "at least one argument", Got: "none"}
		}
		m := args[0].Number()
		for _, a := range args[1:] {
			if a.Number() < m {
				m = a.Number()
			}
		}
		return []Value{NewNumber(m)}, nil
	}); err != nil {
		return err
	}

	return it.heap.SetField(it.heap.Globals, mustString(it, "math"), NewTable(libHandle))
}
