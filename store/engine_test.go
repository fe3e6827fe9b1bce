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
package store

import (
	"testing"

	"github.com/launix-de/redislua/lua"
)

// dispatch is a small helper so individual test cases read like the redis-cli
// transcripts they're modeled on.
func dispatch(t *testing.T, e *Engine, args ...string) lua.RespValue {
	t.Helper()
	reply, err := e.Dispatch(args)
	if err != nil {
		t.Fatalf("Dispatch(%v): %v", args, err)
	}
	return reply
}

func TestPingWithAndWithoutArgument(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	if r := dispatch(t, e, "PING"); r.Kind != lua.RespStatus || r.Str != "PONG" {
		t.Fatalf("PING = %+v, want status PONG", r)
	}
	if r := dispatch(t, e, "PING", "hello"); r.Kind != lua.RespBulk || r.Str != "hello" {
		t.Fatalf("PING hello = %+v, want bulk hello", r)
	}
}

func TestSetGetDelExistsRoundTrip(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	if r := dispatch(t, e, "GET", "foo"); r.Kind != lua.RespNil {
		t.Fatalf("GET on missing key = %+v, want nil", r)
	}
	if r := dispatch(t, e, "SET", "foo", "bar"); r.Kind != lua.RespStatus || r.Str != "OK" {
		t.Fatalf("SET = %+v, want status OK", r)
	}
	if r := dispatch(t, e, "GET", "foo"); r.Kind != lua.RespBulk || r.Str != "bar" {
		t.Fatalf("GET foo = %+v, want bulk bar", r)
	}
	if r := dispatch(t, e, "EXISTS", "foo", "missing"); r.Kind != lua.RespInteger || r.Int != 1 {
		t.Fatalf("EXISTS foo missing = %+v, want integer 1", r)
	}
	if r := dispatch(t, e, "DEL", "foo"); r.Kind != lua.RespInteger || r.Int != 1 {
		t.Fatalf("DEL foo = %+v, want integer 1", r)
	}
	if r := dispatch(t, e, "GET", "foo"); r.Kind != lua.RespNil {
		t.Fatalf("GET after DEL = %+v, want nil", r)
	}
}

func TestIncrAndIncrByAccumulate(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	if r := dispatch(t, e, "INCR", "counter"); r.Kind != lua.RespInteger || r.Int != 1 {
		t.Fatalf("first INCR = %+v, want integer 1", r)
	}
	if r := dispatch(t, e, "INCR", "counter"); r.Kind != lua.RespInteger || r.Int != 2 {
		t.Fatalf("second INCR = %+v, want integer 2", r)
	}
	if r := dispatch(t, e, "INCRBY", "counter", "40"); r.Kind != lua.RespInteger || r.Int != 42 {
		t.Fatalf("INCRBY 40 = %+v, want integer 42", r)
	}

	if r := dispatch(t, e, "SET", "notanumber", "abc"); r.Kind != lua.RespStatus {
		t.Fatalf("SET notanumber = %+v", r)
	}
	if r := dispatch(t, e, "INCR", "notanumber"); r.Kind != lua.RespError {
		t.Fatalf("INCR on a non-numeric value should error, got %+v", r)
	}
}

func TestAppendGrowsStringAndReturnsLength(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	if r := dispatch(t, e, "APPEND", "greeting", "Hello"); r.Kind != lua.RespInteger || r.Int != 5 {
		t.Fatalf("first APPEND = %+v, want integer 5", r)
	}
	if r := dispatch(t, e, "APPEND", "greeting", ", world"); r.Kind != lua.RespInteger || r.Int != 12 {
		t.Fatalf("second APPEND = %+v, want integer 12", r)
	}
	if r := dispatch(t, e, "GET", "greeting"); r.Kind != lua.RespBulk || r.Str != "Hello, world" {
		t.Fatalf("GET greeting = %+v, want bulk \"Hello, world\"", r)
	}
}

// TestExpireAndTTLReflectLapsedKeys exercises §4.J's TTL contract without
// sleeping a real second: EXPIRE with a zero/negative duration must make the
// key immediately lapsed, since the sweeper polls on a one-second tick this
// test cannot afford to wait for.
func TestExpireAndTTLReflectLapsedKeys(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	dispatch(t, e, "SET", "persistent", "v")
	if r := dispatch(t, e, "TTL", "persistent"); r.Kind != lua.RespInteger || r.Int != -1 {
		t.Fatalf("TTL on a key with no expiry = %+v, want integer -1", r)
	}
	if r := dispatch(t, e, "TTL", "missing"); r.Kind != lua.RespInteger || r.Int != -2 {
		t.Fatalf("TTL on a missing key = %+v, want integer -2", r)
	}

	dispatch(t, e, "SET", "lapsed", "v")
	if r := dispatch(t, e, "EXPIRE", "lapsed", "-1"); r.Kind != lua.RespInteger || r.Int != 1 {
		t.Fatalf("EXPIRE = %+v, want integer 1", r)
	}
	if r := dispatch(t, e, "GET", "lapsed"); r.Kind != lua.RespNil {
		t.Fatalf("GET on an already-lapsed key = %+v, want nil", r)
	}
	if r := dispatch(t, e, "EXPIRE", "missing", "10"); r.Kind != lua.RespInteger || r.Int != 0 {
		t.Fatalf("EXPIRE on a missing key = %+v, want integer 0", r)
	}
}

func TestKeysMatchesGlobPattern(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	dispatch(t, e, "SET", "user:1", "a")
	dispatch(t, e, "SET", "user:2", "b")
	dispatch(t, e, "SET", "session:1", "c")

	r := dispatch(t, e, "KEYS", "user:*")
	if r.Kind != lua.RespArray || len(r.Array) != 2 {
		t.Fatalf("KEYS user:* = %+v, want 2 bulk entries", r)
	}
	seen := map[string]bool{}
	for _, e := range r.Array {
		seen[e.Str] = true
	}
	if !seen["user:1"] || !seen["user:2"] {
		t.Fatalf("KEYS user:* = %+v, want user:1 and user:2", r)
	}
}

// TestScanPagesThroughKeyspace exercises §4.J's cursor contract: repeatedly
// dispatching SCAN with the cursor it last returned must eventually visit
// every key with no duplicates and terminate with an empty cursor.
func TestScanPagesThroughKeyspace(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	want := map[string]bool{}
	for i := 0; i < 25; i++ {
		k := "k:" + itoa(int64(i))
		dispatch(t, e, "SET", k, "v")
		want[k] = true
	}

	cursor := ""
	seen := map[string]bool{}
	for i := 0; i < 10; i++ { // bounded loop: a broken cursor must not hang the test
		r := dispatch(t, e, "SCAN", cursor)
		if r.Kind != lua.RespArray || len(r.Array) != 2 {
			t.Fatalf("SCAN reply = %+v, want [cursor, keys]", r)
		}
		cursor = r.Array[0].Str
		for _, k := range r.Array[1].Array {
			if seen[k.Str] {
				t.Fatalf("SCAN revisited key %q", k.Str)
			}
			seen[k.Str] = true
		}
		if cursor == "" {
			break
		}
	}
	if len(seen) != len(want) {
		t.Fatalf("SCAN visited %d keys, want %d", len(seen), len(want))
	}
	for k := range want {
		if !seen[k] {
			t.Fatalf("SCAN never visited %q", k)
		}
	}
}

func TestTypeReflectsPresence(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	if r := dispatch(t, e, "TYPE", "missing"); r.Kind != lua.RespStatus || r.Str != "none" {
		t.Fatalf("TYPE missing = %+v, want status none", r)
	}
	dispatch(t, e, "SET", "present", "v")
	if r := dispatch(t, e, "TYPE", "present"); r.Kind != lua.RespStatus || r.Str != "string" {
		t.Fatalf("TYPE present = %+v, want status string", r)
	}
}

func TestFlushAllClearsKeyspace(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	dispatch(t, e, "SET", "a", "1")
	dispatch(t, e, "SET", "b", "2")
	if r := dispatch(t, e, "FLUSHALL"); r.Kind != lua.RespStatus || r.Str != "OK" {
		t.Fatalf("FLUSHALL = %+v, want status OK", r)
	}
	if r := dispatch(t, e, "KEYS", "*"); r.Kind != lua.RespArray || len(r.Array) != 0 {
		t.Fatalf("KEYS * after FLUSHALL = %+v, want empty array", r)
	}
}

func TestDispatchRejectsUnknownCommand(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	if r := dispatch(t, e, "NOPE"); r.Kind != lua.RespError {
		t.Fatalf("unknown command = %+v, want error reply", r)
	}
	reply, err := e.Dispatch(nil)
	if err != nil {
		t.Fatalf("Dispatch(nil): %v", err)
	}
	if reply.Kind != lua.RespError {
		t.Fatalf("Dispatch(nil) = %+v, want error reply", reply)
	}
}
