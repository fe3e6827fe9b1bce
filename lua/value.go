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

// Value is a compact tagged union (16 bytes). !! NEVER CHANGE IT TO MORE
// THAN THAT, THE STRUCT SIZE IS CRUCIAL FOR PERFORMANCE. Unlike scmer.go's
// pointer trick, Value never embeds a raw pointer: string/table/closure/
// thread/userdata payloads are Handles (index+generation), so copying,
// hashing and equality never have to reason about GC-visible pointers at
// all, and a stale handle fails loudly instead of dereferencing freed memory.
type Value struct {
	bits uint64 // float64 bits | bool (0/1) | Handle.Index<<32|Generation | cfunction registry index
	tag  valueTag
	kind Kind // only meaningful when tag == tagHandle
}

type valueTag uint8

const (
	tagNil valueTag = iota
	tagBoolean
	tagNumber
	tagCFunction
	tagHandle // String / Table / Closure / Thread / UserData, disambiguated by kind
)

func NewNil() Value                { return Value{tag: tagNil} }
func NewBoolean(b bool) Value       { return Value{tag: tagBoolean, bits: boolBits(b)} }
func NewNumber(f float64) Value     { return Value{tag: tagNumber, bits: math.Float64bits(f)} }
func NewInteger(i int64) Value      { return NewNumber(float64(i)) }
func newHandleValue(h Handle) Value {
	return Value{tag: tagHandle, kind: h.Kind, bits: uint64(h.Index)<<32 | uint64(h.Generation)}
}
func NewString(h Handle) Value  { return newHandleValue(h) }
func NewTable(h Handle) Value   { return newHandleValue(h) }
func NewClosure(h Handle) Value { return newHandleValue(h) }
func NewThread(h Handle) Value  { return newHandleValue(h) }

// NewCFunction wraps a natively implemented function. idx indexes the
// process-wide native function registry (see stdlib.go); natives are
// process-lifetime singletons, not heap objects, so they need no handle.
func NewCFunction(idx int) Value { return Value{tag: tagCFunction, bits: uint64(idx)} }

func boolBits(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (v Value) IsNil() bool      { return v.tag == tagNil }
func (v Value) IsBoolean() bool  { return v.tag == tagBoolean }
func (v Value) IsNumber() bool   { return v.tag == tagNumber }
func (v Value) IsCFunction() bool { return v.tag == tagCFunction }
func (v Value) IsHandle(k Kind) bool { return v.tag == tagHandle && v.kind == k }
func (v Value) IsString() bool  { return v.IsHandle(KindString) }
func (v Value) IsTable() bool   { return v.IsHandle(KindTable) }
func (v Value) IsClosure() bool { return v.IsHandle(KindClosure) }
func (v Value) IsThread() bool  { return v.IsHandle(KindThread) }

// IsFunction reports whether v can be CALLed: either a closure or a native.
func (v Value) IsFunction() bool { return v.IsClosure() || v.IsCFunction() }

func (v Value) Boolean() bool { return v.bits != 0 }
func (v Value) Number() float64 {
	return math.Float64frombits(v.bits)
}
func (v Value) CFunctionIndex() int { return int(v.bits) }

func (v Value) Handle() Handle {
	if v.tag != tagHandle {
		panic("lua: Value.Handle called on non-handle value")
	}
	return Handle{Kind: v.kind, Index: uint32(v.bits >> 32), Generation: uint32(v.bits)}
}

// Truthy implements Lua truthiness: only nil and boolean-false are false.
func (v Value) Truthy() bool {
	switch v.tag {
	case tagNil:
		return false
	case tagBoolean:
		return v.Boolean()
	default:
		return true
	}
}

// TypeName returns the Lua-visible type name, as used by the `type` builtin.
func (v Value) TypeName() string {
	switch v.tag {
	case tagNil:
		return "nil"
	case tagBoolean:
		return "boolean"
	case tagNumber:
		return "number"
	case tagCFunction:
		return "function"
	case tagHandle:
		switch v.kind {
		case KindString:
			return "string"
		case KindTable:
			return "table"
		case KindClosure:
			return "function"
		case KindThread:
			return "thread"
		case KindUserData:
			return "userdata"
		}
	}
	return "unknown"
}

// RawEqual implements Lua's primitive `==` (no metamethod dispatch): numbers
// compare by value (NaN != NaN, per IEEE754 and the spec), strings/tables/
// closures/threads compare by handle identity (interning makes structurally
// equal strings identity-equal too), cfunctions by registry index.
func RawEqual(a, b Value) bool {
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case tagNil:
		return true
	case tagBoolean:
		return a.Boolean() == b.Boolean()
	case tagNumber:
		return a.Number() == b.Number()
	case tagCFunction:
		return a.bits == b.bits
	case tagHandle:
		return a.kind == b.kind && a.bits == b.bits
	}
	return false
}

// HashKey produces a stable hash-map key for use as a Go map key backing a
// Table's hash part. Values that cannot be table keys (nil, NaN) must be
// rejected by the caller (see table.go) before HashKey is ever called.
func (v Value) HashKey() any {
	switch v.tag {
	case tagBoolean:
		return v.Boolean()
	case tagNumber:
		return v.Number()
	case tagCFunction:
		return cfunctionKey{v.bits}
	case tagHandle:
		return handleKey{v.kind, v.bits}
	default:
		return nil
	}
}

type cfunctionKey struct{ bits uint64 }
type handleKey struct {
	kind Kind
	bits uint64
}
