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

import "fmt"

// UncatchableError marks the errors pcall/xpcall never intercept.
// OutOfMemory, StackOverflow, InstructionLimit, Timeout and
// ScriptKilled are host-level failures the spec requires to bubble past any
// pcall frame, so they satisfy this interface.
type UncatchableError interface {
	error
	uncatchable()
}

// StaleHandleError signals an internal-invariant violation: a Handle whose
// generation no longer matches its arena slot was dereferenced. A correct
// interpreter never produces one from script-visible operations; surfacing
// it to a script indicates a bug in this runtime, not the script.
type StaleHandleError struct {
	Handle Handle
	Reason string
}

func (e *StaleHandleError) Error() string {
	return fmt.Sprintf("lua: stale handle %+v: %s", e.Handle, e.Reason)
}

// OutOfMemoryError is raised when a heap allocation would exceed the
// configured memory budget. Not catchable by pcall.
type OutOfMemoryError struct {
	Limit, Requested uint64
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("lua: out of memory (limit %d, would need %d)", e.Limit, e.Requested)
}
func (*OutOfMemoryError) uncatchable() {}

// InvalidKeyError is raised when a table is indexed with nil or NaN.
type InvalidKeyError struct{ Reason string }

func (e *InvalidKeyError) Error() string { return "lua: invalid table key: " + e.Reason }

// TypeError reports an operation applied to an incompatible type.
type TypeError struct {
	Op, Expected, Got string
}

func (e *TypeError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("lua: type error: expected %s, got %s", e.Expected, e.Got)
	}
	return fmt.Sprintf("lua: attempt to %s a %s value", e.Op, e.Got)
}

// StackOverflowError covers both value-stack growth and call-stack depth
// limits (§4.F). Not catchable.
type StackOverflowError struct{ Reason string }

func (e *StackOverflowError) Error() string   { return "lua: stack overflow: " + e.Reason }
func (*StackOverflowError) uncatchable()      {}

// InstructionLimitError fires when a script's instruction budget is
// exhausted. Not catchable.
type InstructionLimitError struct{}

func (e *InstructionLimitError) Error() string { return "lua: instruction limit exceeded" }
func (*InstructionLimitError) uncatchable()     {}

// TimeoutError fires when the host's wall-clock budget elapses. Not
// catchable.
type TimeoutError struct{}

func (e *TimeoutError) Error() string { return "lua: execution timed out" }
func (*TimeoutError) uncatchable()     {}

// ScriptKilledError fires when the host sets the cooperative cancel flag
// directly (administrative kill). Not catchable.
type ScriptKilledError struct{}

func (e *ScriptKilledError) Error() string { return "lua: script killed" }
func (*ScriptKilledError) uncatchable()     {}

// RuntimeError wraps a Lua-level `error(v)` call or any other runtime fault
// that pcall is allowed to observe. Value carries the original Lua value
// passed to error() so pcall can hand it back unmodified (it need not be a
// string).
type RuntimeError struct {
	Value     Value
	Traceback string
}

func (e *RuntimeError) Error() string {
	if e.Traceback != "" {
		return e.Traceback
	}
	return "lua: runtime error"
}

// SyntaxErrorInfo mirrors a compiler-reported syntax error, re-emitted
// verbatim by the host since the compiler itself is out of scope here.
type SyntaxErrorInfo struct {
	Line, Column int
	Msg          string
}

func (e *SyntaxErrorInfo) Error() string {
	return fmt.Sprintf("lua: %d:%d: %s", e.Line, e.Column, e.Msg)
}
