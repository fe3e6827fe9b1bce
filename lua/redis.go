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
	"crypto/sha1"
	"encoding/hex"
	"math"
)

// RespKind tags a RespValue the way a real RESP reply is tagged on the
// wire, without actually encoding RESP framing here — that belongs to a
// transport layer out of scope for this package (§1 Non-goals).
type RespKind uint8

const (
	RespNil RespKind = iota
	RespInteger
	RespBulk
	RespStatus
	RespError
	RespArray
)

// RespValue is the host-facing reply shape §4.I's conversion rules target:
// the redis.call/pcall boundary converts Lua Values to/from this, and
// Eval's own return-value conversion (§6) produces one from the script's
// result.
type RespValue struct {
	Kind  RespKind
	Str   string
	Int   int64
	Array []RespValue
}

// CommandTable is the storage-engine collaborator redis.call/pcall dispatch
// into (§6 "CommandTable — func(args []string) (RespValue, error)"); this
// package only declares the interface, a concrete implementation (e.g.
// store.Engine) is supplied by the host at Eval time.
type CommandTable func(args []string) (RespValue, error)

// installRedisLibrary installs the `redis` table (§4.I): call/pcall dispatch
// through call, plus error_reply/status_reply/sha1hex helpers. call is
// nil-safe only in the sense that a nil call makes every redis.call a
// runtime error, which is useful for tests that don't need a keyspace.
func installRedisLibrary(it *Interp, call CommandTable) error {
	libHandle := it.heap.AllocTable()

	def := func(name string, desc string, fn func(*Interp, []Value) ([]Value, error)) error {
		return it.heap.SetField(libHandle, mustString(it, name), RegisterNative("redis."+name, desc, fn))
	}

	dispatch := func(it *Interp, args []Value) (RespValue, error) {
		if call == nil {
			return RespValue{}, &RuntimeError{Value: mustString(it, "redis.call: no command table configured")}
		}
		cmdArgs := make([]string, len(args))
		for i, a := range args {
			s, err := it.toRedisArgString(a)
			if err != nil {
				return RespValue{}, err
			}
			cmdArgs[i] = s
		}
		if len(cmdArgs) == 0 {
			return RespValue{}, &RuntimeError{Value: mustString(it, "redis.call: no command given")}
		}
		return call(cmdArgs)
	}

	if err := def("call", "dispatches a command to the keyspace engine, raising a Lua error on failure", func(it *Interp, args []Value) ([]Value, error) {
		reply, err := dispatch(it, args)
		if err != nil {
			return nil, err
		}
		if reply.Kind == RespError {
			return nil, &RuntimeError{Value: mustString(it, reply.Str)}
		}
		v, err := it.respToValue(reply)
		return []Value{v}, err
	}); err != nil {
		return err
	}

	if err := def("pcall", "dispatches a command, returning {err=msg} instead of raising on failure", func(it *Interp, args []Value) ([]Value, error) {
		reply, err := dispatch(it, args)
		if err != nil {
			t, terr := it.errorReplyTable(err.Error())
			if terr != nil {
				return nil, terr
			}
			return []Value{t}, nil
		}
		if reply.Kind == RespError {
			t, terr := it.errorReplyTable(reply.Str)
			if terr != nil {
				return nil, terr
			}
			return []Value{t}, nil
		}
		v, err := it.respToValue(reply)
		return []Value{v}, err
	}); err != nil {
		return err
	}

	if err := def("error_reply", "wraps msg as a table the host converts back to a RESP error", func(it *Interp, args []Value) ([]Value, error) {
		s, err := asString(it, arg(args, 0))
		if err != nil {
			return nil, err
		}
		t, err := it.errorReplyTable(s)
		return []Value{t}, err
	}); err != nil {
		return err
	}

	if err := def("status_reply", "wraps msg as a table the host converts back to a RESP status string", func(it *Interp, args []Value) ([]Value, error) {
		s, err := asString(it, arg(args, 0))
		if err != nil {
			return nil, err
		}
		h := it.heap.AllocTable()
		if err := it.heap.SetField(h, mustString(it, "ok"), mustString(it, s)); err != nil {
			return nil, err
		}
		return []Value{NewTable(h)}, nil
	}); err != nil {
		return err
	}

	if err := def("sha1hex", "returns the lowercase hex SHA1 digest of s", func(it *Interp, args []Value) ([]Value, error) {
		s, err := asString(it, arg(args, 0))
		if err != nil {
			return nil, err
		}
		sum := sha1.Sum([]byte(s))
		v, err := it.heap.NewString(hex.EncodeToString(sum[:]))
		return []Value{v}, err
	}); err != nil {
		return err
	}

	return it.heap.SetField(it.heap.Globals, mustString(it, "redis"), NewTable(libHandle))
}

func (it *Interp) errorReplyTable(msg string) (Value, error) {
	h := it.heap.AllocTable()
	if err := it.heap.SetField(h, mustString(it, "err"), mustString(it, msg)); err != nil {
		return Value{}, err
	}
	return NewTable(h), nil
}

// toRedisArgString converts a Lua argument of redis.call into the string
// RESP requires every command argument to be: numbers render with
// tostring's own %.14g rule so they round-trip as the reference
// implementation's lua_tostring would.
func (it *Interp) toRedisArgString(v Value) (string, error) {
	if v.IsString() {
		return it.heap.GetString(v.Handle())
	}
	if v.IsNumber() {
		return FormatNumber(v.Number()), nil
	}
	return "", &TypeError{Op: "", Expected: "string or number command argument", Got: v.TypeName()}
}

// respToValue implements the inbound half of §4.I's RESP<->Lua conversion:
// a command reply becomes a Lua value the script can consume.
func (it *Interp) respToValue(r RespValue) (Value, error) {
	switch r.Kind {
	case RespNil:
		return NewBoolean(false), nil
	case RespInteger:
		return NewNumber(float64(r.Int)), nil
	case RespBulk:
		return it.heap.NewString(r.Str)
	case RespStatus:
		h := it.heap.AllocTable()
		if err := it.heap.SetField(h, mustString(it, "ok"), mustString(it, r.Str)); err != nil {
			return Value{}, err
		}
		return NewTable(h), nil
	case RespError:
		return it.errorReplyTable(r.Str)
	case RespArray:
		h := it.heap.AllocTable()
		t, err := it.heap.GetTable(h)
		if err != nil {
			return Value{}, err
		}
		for _, e := range r.Array {
			ev, err := it.respToValue(e)
			if err != nil {
				return Value{}, err
			}
			t.Array = append(t.Array, ev)
		}
		return NewTable(h), nil
	}
	return NewNil(), nil
}

// valueToResp implements the outbound half (§6 "Determinism" / the
// conversion-rule table): the main chunk's return value becomes the
// script's reply to the client.
func (it *Interp) valueToResp(v Value) (RespValue, error) {
	switch {
	case v.IsNil():
		return RespValue{Kind: RespNil}, nil
	case v.IsBoolean():
		if v.Boolean() {
			return RespValue{Kind: RespInteger, Int: 1}, nil
		}
		return RespValue{Kind: RespNil}, nil
	case v.IsNumber():
		n := v.Number()
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return RespValue{Kind: RespInteger, Int: int64(n)}, nil
		}
		return RespValue{Kind: RespBulk, Str: FormatNumber(n)}, nil
	case v.IsString():
		s, err := it.heap.GetString(v.Handle())
		return RespValue{Kind: RespBulk, Str: s}, err
	case v.IsTable():
		return it.tableToResp(v.Handle())
	default:
		s, err := it.ToString(v)
		return RespValue{Kind: RespBulk, Str: s}, err
	}
}

func (it *Interp) tableToResp(h Handle) (RespValue, error) {
	t, err := it.heap.GetTable(h)
	if err != nil {
		return RespValue{}, err
	}
	if errField := t.Get(mustString(it, "err")); errField.IsString() {
		s, err := it.heap.GetString(errField.Handle())
		return RespValue{Kind: RespError, Str: s}, err
	}
	if okField := t.Get(mustString(it, "ok")); okField.IsString() {
		s, err := it.heap.GetString(okField.Handle())
		return RespValue{Kind: RespStatus, Str: s}, err
	}
	out := RespValue{Kind: RespArray}
	for _, elem := range t.Array {
		if elem.IsNil() {
			break
		}
		rv, err := it.valueToResp(elem)
		if err != nil {
			return RespValue{}, err
		}
		out.Array = append(out.Array, rv)
	}
	return out, nil
}

// sandboxedNames is deleted from Globals after KEYS/ARGV/redis/cjson are
// installed (§4.I "Sandbox"): any script reference to one of these resolves
// to nil, same as any other undeclared global, rather than erroring.
var sandboxedNames = []string{
	"io", "os", "package", "debug", "require",
	"dofile", "loadfile", "load", "loadstring",
	"collectgarbage", "module", "newproxy",
}

// applySandbox removes globals a Redis script must never reach (§4.I), most
// importantly anything that could touch the filesystem, spawn processes, or
// introduce nondeterminism. math.random/math.randomseed are removed from
// the math table specifically rather than the whole table, since math
// itself is otherwise fully exposed.
func applySandbox(it *Interp) error {
	for _, name := range sandboxedNames {
		if err := it.heap.SetField(it.heap.Globals, mustString(it, name), NewNil()); err != nil {
			return err
		}
	}
	mathVal, err := it.heap.GetField(it.heap.Globals, mustString(it, "math"))
	if err != nil {
		return err
	}
	if mathVal.IsTable() {
		for _, name := range []string{"random", "randomseed"} {
			if err := it.heap.SetField(mathVal.Handle(), mustString(it, name), NewNil()); err != nil {
				return err
			}
		}
	}
	return nil
}

// installKeysArgv binds the dense 1-based KEYS/ARGV globals every EVAL call
// provides (§4.I).
func installKeysArgv(it *Interp, keys, args []string) error {
	keysHandle := it.heap.AllocTable()
	kt, err := it.heap.GetTable(keysHandle)
	if err != nil {
		return err
	}
	for _, k := range keys {
		v, err := it.heap.NewString(k)
		if err != nil {
			return err
		}
		kt.Array = append(kt.Array, v)
	}
	if err := it.heap.SetField(it.heap.Globals, mustString(it, "KEYS"), NewTable(keysHandle)); err != nil {
		return err
	}

	argvHandle := it.heap.AllocTable()
	at, err := it.heap.GetTable(argvHandle)
	if err != nil {
		return err
	}
	for _, a := range args {
		v, err := it.heap.NewString(a)
		if err != nil {
			return err
		}
		at.Array = append(at.Array, v)
	}
	return it.heap.SetField(it.heap.Globals, mustString(it, "ARGV"), NewTable(argvHandle))
}
