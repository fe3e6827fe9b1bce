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

const (
	defaultValueStackLimit = 1 << 20 // slots
	defaultCallStackLimit  = 200     // frames
)

type ThreadStatus uint8

const (
	ThreadRunning ThreadStatus = iota
	ThreadSuspended
	ThreadNormal
	ThreadDead
)

// ResultCount encodes how many results a frame's caller expects: either a
// fixed count, or "all of them" (LUA_MULTRET, used when B/C == 0 in
// CALL/RETURN).
type ResultCount struct {
	Fixed    int
	MultiRet bool
}

// Frame is one call-stack entry: a register window into the owning
// Thread's value stack, exactly as wide as the callee prototype's
// MaxStackSize (§3, §4.F).
type Frame struct {
	Closure         Handle
	PC              int
	WindowBase      int
	WindowSize      int
	ExpectedResults ResultCount
	Varargs         []Value // extra arguments beyond ParamCount, when IsVararg
	CallerIsNative  bool    // not set anywhere in this package; always false
}

// Thread is a cooperative (non-OS) coroutine: one value stack partitioned
// into per-frame register windows, plus the call stack and open-upvalue
// list (§3).
type Thread struct {
	Stack        []Value
	Frames       []Frame
	OpenUpvalues []Handle // sorted by StackIndex, descending
	Status       ThreadStatus

	valueStackLimit int
	callStackLimit  int
}

// EnsureStackSize grows Stack to at least n slots, filling new slots with
// Nil, and enforces ValueStackLimit (§4.F).
func (t *Thread) EnsureStackSize(n int) error {
	if n > t.valueStackLimit {
		return &StackOverflowError{Reason: "value stack limit exceeded"}
	}
	if n <= len(t.Stack) {
		return nil
	}
	grown := make([]Value, n)
	copy(grown, t.Stack)
	t.Stack = grown
	return nil
}

// PushFrame reserves a fresh register window for closure starting at
// windowBase and enforces CallStackLimit.
func (t *Thread) PushFrame(closure Handle, windowBase, windowSize int, expected ResultCount) (*Frame, error) {
	if len(t.Frames) >= t.callStackLimit {
		return nil, &StackOverflowError{Reason: "call stack depth limit exceeded"}
	}
	if err := t.EnsureStackSize(windowBase + windowSize); err != nil {
		return nil, err
	}
	t.Frames = append(t.Frames, Frame{
		Closure:         closure,
		WindowBase:      windowBase,
		WindowSize:      windowSize,
		ExpectedResults: expected,
	})
	return &t.Frames[len(t.Frames)-1], nil
}

func (t *Thread) PopFrame() {
	t.Frames = t.Frames[:len(t.Frames)-1]
}

func (t *Thread) CurrentFrame() *Frame {
	return &t.Frames[len(t.Frames)-1]
}

// R returns the absolute stack slot for register i of frame f (the decoded
// A/B/C fields of an instruction are always frame-relative, per §4.F).
func (f *Frame) R(i int) int { return f.WindowBase + i }
