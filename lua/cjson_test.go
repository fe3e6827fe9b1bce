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
	"strings"
	"testing"
)

func newTestInterpWithCjson(t *testing.T) *Interp {
	t.Helper()
	it, err := NewInterp(Limits{})
	if err != nil {
		t.Fatal(err)
	}
	if err := installCjsonLibrary(it); err != nil {
		t.Fatal(err)
	}
	return it
}

func encode(t *testing.T, it *Interp, v Value) string {
	t.Helper()
	var b strings.Builder
	if err := it.encodeJSON(&b, v, map[Handle]bool{}); err != nil {
		t.Fatal(err)
	}
	return b.String()
}

func TestCjsonEncodeScalars(t *testing.T) {
	it := newTestInterpWithCjson(t)
	cases := []struct {
		v    Value
		want string
	}{
		{NewNil(), "null"},
		{NewBoolean(true), "true"},
		{NewBoolean(false), "false"},
		{NewNumber(42), "42"},
		{NewNumber(3.5), "3.5"},
	}
	for _, c := range cases {
		if got := encode(t, it, c.v); got != c.want {
			t.Errorf("encode(%v) = %q, want %q", c.v, got, c.want)
		}
	}
}

func TestCjsonEncodeArrayVsObject(t *testing.T) {
	it := newTestInterpWithCjson(t)

	arrHandle := it.heap.AllocTable()
	arr, _ := it.heap.GetTable(arrHandle)
	arr.Array = append(arr.Array, NewNumber(1), NewNumber(2), NewNumber(3))
	if got, want := encode(t, it, NewTable(arrHandle)), "[1,2,3]"; got != want {
		t.Errorf("array encode = %q, want %q", got, want)
	}

	objHandle := it.heap.AllocTable()
	if err := it.heap.SetField(objHandle, mustString(it, "b"), NewNumber(2)); err != nil {
		t.Fatal(err)
	}
	if err := it.heap.SetField(objHandle, mustString(it, "a"), NewNumber(1)); err != nil {
		t.Fatal(err)
	}
	// keys sort deterministically regardless of insertion order (§4.I
	// "determinism" — a Redis script's result must replay identically).
	if got, want := encode(t, it, NewTable(objHandle)), `{"a":1,"b":2}`; got != want {
		t.Errorf("object encode = %q, want %q", got, want)
	}

	emptyHandle := it.heap.AllocTable()
	if got, want := encode(t, it, NewTable(emptyHandle)), "{}"; got != want {
		t.Errorf("empty table encode = %q, want %q", got, want)
	}
}

func TestCjsonDecodeThenEncodeRoundTrip(t *testing.T) {
	it := newTestInterpWithCjson(t)
	src := `{"a":1,"b":[1,2,3],"c":"hi","d":null,"e":true}`

	v, err := it.decodeJSON(mustParseJSON(t, src))
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsTable() {
		t.Fatalf("decode of a JSON object should produce a table, got %s", v.TypeName())
	}
	got := encode(t, it, v)
	// re-encoding produces the same sorted-key form every time, so it must
	// be stable even though it need not match src's own key order.
	if got2 := encode(t, it, v); got != got2 {
		t.Errorf("encode not idempotent: %q != %q", got, got2)
	}
	if !strings.Contains(got, `"a":1`) || !strings.Contains(got, `"b":[1,2,3]`) {
		t.Errorf("round-tripped encoding missing expected fields: %s", got)
	}
}

func mustParseJSON(t *testing.T, s string) any {
	t.Helper()
	it := newTestInterpWithCjson(t)
	v, err := it.heap.NewString(s)
	if err != nil {
		t.Fatal(err)
	}
	_ = v
	var parsed any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		t.Fatal(err)
	}
	return parsed
}
