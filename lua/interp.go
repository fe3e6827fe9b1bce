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
	"sync/atomic"
	"time"
)

// Limits bounds one script run (§4.F/§4.L). Zero fields mean "use the
// package default", not "unbounded" — an explicitly unbounded run must set
// the field to a very large, still-finite value, so a misconfigured host
// never accidentally grants an infinite budget.
type Limits struct {
	MemoryBytes      uint64
	InstructionBudget uint64
	CallStackLimit   int
	ValueStackLimit  int
	WallClock        time.Duration
}

func (l Limits) orDefaults() Limits {
	if l.MemoryBytes == 0 {
		l.MemoryBytes = 64 << 20
	}
	if l.InstructionBudget == 0 {
		l.InstructionBudget = 100_000_000
	}
	if l.CallStackLimit == 0 {
		l.CallStackLimit = defaultCallStackLimit
	}
	if l.ValueStackLimit == 0 {
		l.ValueStackLimit = defaultValueStackLimit
	}
	if l.WallClock == 0 {
		l.WallClock = 5 * time.Second
	}
	return l
}

// Interp is one script run's interpreter state: the heap it owns, the
// currently running thread, and the cooperative watchdog counters that make
// InstructionLimitError/TimeoutError/ScriptKilledError possible without
// preemptive scheduling (§4.F, §9 "no OS threads for coroutines").
//
// An Interp is created fresh per Eval call and never shared across
// goroutines; the one piece of cross-goroutine state is killed, which a host
// may set concurrently to implement SCRIPT KILL.
type Interp struct {
	heap            *Heap
	limits          Limits
	deadline        time.Time
	instructions    uint64
	stringMetatable Handle

	killed int32 // atomic; set by Kill()

	trace *Tracefile // optional instruction trace sink, nil unless enabled
}

// NewInterp creates an interpreter over a fresh heap sized per limits, with
// the base library (§4.H) installed into Globals. The redis-facing surface
// (KEYS/ARGV/redis.*/cjson) is installed separately by Eval, since it
// needs per-call keyspace bindings that outlive no single Interp (§4.I).
func NewInterp(limits Limits) (*Interp, error) {
	limits = limits.orDefaults()
	h := NewHeap(limits.MemoryBytes, limits.CallStackLimit, limits.ValueStackLimit)
	it := &Interp{
		heap:     h,
		limits:   limits,
		deadline: time.Now().Add(limits.WallClock),
	}
	if err := installBaseLibrary(it); err != nil {
		return nil, err
	}
	if err := installStringLibrary(it); err != nil {
		return nil, err
	}
	if err := installTableLibrary(it); err != nil {
		return nil, err
	}
	if err := installMathLibrary(it); err != nil {
		return nil, err
	}
	return it, nil
}

// Kill requests cooperative termination: the next instruction-budget check
// inside run observes it and returns ScriptKilledError. Safe to call from
// another goroutine (§4.L "administrative kill").
func (it *Interp) Kill() { atomic.StoreInt32(&it.killed, 1) }

func (it *Interp) checkBudget() error {
	if atomic.LoadInt32(&it.killed) != 0 {
		return &ScriptKilledError{}
	}
	it.instructions++
	if it.instructions > it.limits.InstructionBudget {
		return &InstructionLimitError{}
	}
	if time.Now().After(it.deadline) {
		return &TimeoutError{}
	}
	return nil
}

// callValue invokes a Lua value as a function — closure or native — with
// argument list args, returning exactly nresults values (padded with nil,
// or truncated) unless nresults < 0, which requests every result the callee
// produced (LUA_MULTRET, used by tail calls and `...`).
func (it *Interp) callValue(fn Value, args []Value, nresults int) ([]Value, error) {
	switch {
	case fn.IsCFunction():
		results, err := it.callNative(fn.CFunctionIndex(), args)
		if err != nil {
			return nil, err
		}
		return adjustResults(results, nresults), nil
	case fn.IsClosure():
		results, err := it.callClosure(fn.Handle(), args, nil)
		if err != nil {
			return nil, err
		}
		return adjustResults(results, nresults), nil
	}
	mm, err := it.findMetamethod(fn, "__call")
	if err != nil {
		return nil, err
	}
	if mm.IsNil() {
		return nil, &TypeError{Op: "call", Got: fn.TypeName()}
	}
	return it.callValue(mm, append([]Value{fn}, args...), nresults)
}

func adjustResults(results []Value, nresults int) []Value {
	if nresults < 0 {
		return results
	}
	out := make([]Value, nresults)
	copy(out, results)
	for i := len(results); i < nresults; i++ {
		out[i] = NewNil()
	}
	return out
}

// callClosure pushes a new frame for closure on callerThread (or the
// interpreter's current thread if callerThread is nil), copies
// args into the callee's register window per the ParamCount/IsVararg
// contract (§4.F), runs it to completion, and returns its results.
func (it *Interp) callClosure(closure Handle, args []Value, callerThread *Handle) ([]Value, error) {
	threadHandle := it.heap.MainThread
	if callerThread != nil {
		threadHandle = *callerThread
	}
	thread, err := it.heap.GetThread(threadHandle)
	if err != nil {
		return nil, err
	}
	cl, err := it.heap.GetClosure(closure)
	if err != nil {
		return nil, err
	}
	proto, err := it.heap.GetProto(cl.Proto)
	if err != nil {
		return nil, err
	}

	base := 0
	if len(thread.Frames) > 0 {
		top := thread.CurrentFrame()
		base = top.WindowBase + top.WindowSize
	}
	frame, err := thread.PushFrame(closure, base, proto.MaxStackSize, ResultCount{MultiRet: true})
	if err != nil {
		return nil, err
	}
	if err := thread.EnsureStackSize(base + proto.MaxStackSize); err != nil {
		return nil, err
	}
	for i := 0; i < proto.ParamCount; i++ {
		v := NewNil()
		if i < len(args) {
			v = args[i]
		}
		thread.Stack[frame.R(i)] = v
	}
	for i := proto.ParamCount; i < proto.MaxStackSize; i++ {
		thread.Stack[frame.R(i)] = NewNil()
	}
	if proto.IsVararg && len(args) > proto.ParamCount {
		frame.Varargs = append([]Value(nil), args[proto.ParamCount:]...)
	}

	results, err := it.run(threadHandle)
	// Every popped frame closes its upvalues, success or not (§4.G, §7): a
	// closure that escaped before its owning call errored out still has an
	// Open upvalue pointing at this frame's window, and leaving it open
	// would let a sibling call reusing WindowBase corrupt it later.
	closeErr := it.heap.CloseUpvaluesFrom(threadHandle, frame.WindowBase)
	thread.PopFrame()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, closeErr
	}
	return results, nil
}

// run executes instructions of the current (top) frame of thread until it
// RETURNs, dispatching the 38 Lua 5.1 opcodes (§4.G). It recurses for CALL
// (via callClosure) rather than looping a manual call stack, which keeps
// Go's own stack as the call stack — acceptable since CallStackLimit bounds
// recursion depth well below any realistic Go stack limit.
func (it *Interp) run(threadHandle Handle) ([]Value, error) {
	thread, err := it.heap.GetThread(threadHandle)
	if err != nil {
		return nil, err
	}
	frame := thread.CurrentFrame()
	cl, err := it.heap.GetClosure(frame.Closure)
	if err != nil {
		return nil, err
	}
	proto, err := it.heap.GetProto(cl.Proto)
	if err != nil {
		return nil, err
	}

	for {
		if err := it.checkBudget(); err != nil {
			return nil, err
		}
		if frame.PC >= len(proto.Code) {
			return nil, nil
		}
		instr := DecodeInstr(proto.Code[frame.PC])
		if it.trace != nil {
			it.trace.Instruction(instr.Op, len(thread.Frames), frame.PC)
		}
		frame.PC++

		switch instr.Op {
		case OpMove:
			thread.Stack[frame.R(instr.A)] = thread.Stack[frame.R(instr.B)]

		case OpLoadK:
			thread.Stack[frame.R(instr.A)] = proto.Constants[instr.Bx()]

		case OpLoadBool:
			thread.Stack[frame.R(instr.A)] = NewBoolean(instr.B != 0)
			if instr.C != 0 {
				frame.PC++
			}

		case OpLoadNil:
			for i := instr.A; i <= instr.B; i++ {
				thread.Stack[frame.R(i)] = NewNil()
			}

		case OpGetUpval:
			v, err := it.heap.ReadUpvalue(cl.Upvalues[instr.B])
			if err != nil {
				return nil, err
			}
			thread.Stack[frame.R(instr.A)] = v

		case OpSetUpval:
			if err := it.heap.WriteUpvalue(cl.Upvalues[instr.B], thread.Stack[frame.R(instr.A)]); err != nil {
				return nil, err
			}

		case OpGetGlobal:
			key := proto.Constants[instr.Bx()]
			v, err := it.GetIndexed(NewTable(it.heap.Globals), key)
			if err != nil {
				return nil, err
			}
			thread.Stack[frame.R(instr.A)] = v

		case OpSetGlobal:
			key := proto.Constants[instr.Bx()]
			if err := it.SetIndexed(NewTable(it.heap.Globals), key, thread.Stack[frame.R(instr.A)]); err != nil {
				return nil, err
			}

		case OpGetTable:
			tableVal := thread.Stack[frame.R(instr.B)]
			key := it.rk(thread, frame, proto, instr.C)
			v, err := it.GetIndexed(tableVal, key)
			if err != nil {
				return nil, err
			}
			thread.Stack[frame.R(instr.A)] = v

		case OpSetTable:
			tableVal := thread.Stack[frame.R(instr.A)]
			key := it.rk(thread, frame, proto, instr.B)
			val := it.rk(thread, frame, proto, instr.C)
			if err := it.SetIndexed(tableVal, key, val); err != nil {
				return nil, err
			}

		case OpNewTable:
			h := it.heap.AllocTable()
			thread.Stack[frame.R(instr.A)] = NewTable(h)

		case OpSelf:
			tableVal := thread.Stack[frame.R(instr.B)]
			key := it.rk(thread, frame, proto, instr.C)
			method, err := it.GetIndexed(tableVal, key)
			if err != nil {
				return nil, err
			}
			thread.Stack[frame.R(instr.A+1)] = tableVal
			thread.Stack[frame.R(instr.A)] = method

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow:
			a := it.rk(thread, frame, proto, instr.B)
			b := it.rk(thread, frame, proto, instr.C)
			v, err := it.arith(instr.Op, a, b)
			if err != nil {
				return nil, err
			}
			thread.Stack[frame.R(instr.A)] = v

		case OpUnm:
			v, err := it.arith(OpUnm, thread.Stack[frame.R(instr.B)], NewNumber(0))
			if err != nil {
				return nil, err
			}
			thread.Stack[frame.R(instr.A)] = v

		case OpNot:
			thread.Stack[frame.R(instr.A)] = NewBoolean(!thread.Stack[frame.R(instr.B)].Truthy())

		case OpLen:
			v, err := it.length(thread.Stack[frame.R(instr.B)])
			if err != nil {
				return nil, err
			}
			thread.Stack[frame.R(instr.A)] = v

		case OpConcat:
			acc := thread.Stack[frame.R(instr.C)]
			for i := instr.C - 1; i >= instr.B; i-- {
				var err error
				acc, err = it.concat(thread.Stack[frame.R(i)], acc)
				if err != nil {
					return nil, err
				}
			}
			thread.Stack[frame.R(instr.A)] = acc

		case OpJmp:
			frame.PC += instr.SBx()

		case OpEq:
			a := it.rk(thread, frame, proto, instr.B)
			b := it.rk(thread, frame, proto, instr.C)
			eq, err := it.Equal(a, b)
			if err != nil {
				return nil, err
			}
			if eq != (instr.A != 0) {
				frame.PC++
			}

		case OpLt:
			a := it.rk(thread, frame, proto, instr.B)
			b := it.rk(thread, frame, proto, instr.C)
			lt, err := it.Less(a, b)
			if err != nil {
				return nil, err
			}
			if lt != (instr.A != 0) {
				frame.PC++
			}

		case OpLe:
			a := it.rk(thread, frame, proto, instr.B)
			b := it.rk(thread, frame, proto, instr.C)
			le, err := it.LessEqual(a, b)
			if err != nil {
				return nil, err
			}
			if le != (instr.A != 0) {
				frame.PC++
			}

		case OpTest:
			if thread.Stack[frame.R(instr.A)].Truthy() != (instr.C != 0) {
				frame.PC++
			}

		case OpTestSet:
			v := thread.Stack[frame.R(instr.B)]
			if v.Truthy() == (instr.C != 0) {
				thread.Stack[frame.R(instr.A)] = v
			} else {
				frame.PC++
			}

		case OpCall, OpTailCall:
			results, ret, err := it.execCall(threadHandle, thread, frame, proto, instr)
			if err != nil {
				return nil, err
			}
			if ret {
				return results, nil
			}

		case OpReturn:
			vals := it.collectVarRange(thread, frame, instr.A, instr.B)
			if err := it.heap.CloseUpvaluesFrom(threadHandle, frame.WindowBase); err != nil {
				return nil, err
			}
			return vals, nil

		case OpForPrep:
			init := thread.Stack[frame.R(instr.A)].Number()
			step := thread.Stack[frame.R(instr.A + 2)].Number()
			thread.Stack[frame.R(instr.A)] = NewNumber(init - step)
			frame.PC += instr.SBx()

		case OpForLoop:
			step := thread.Stack[frame.R(instr.A + 2)].Number()
			cur := thread.Stack[frame.R(instr.A)].Number() + step
			limit := thread.Stack[frame.R(instr.A + 1)].Number()
			more := (step > 0 && cur <= limit) || (step < 0 && cur >= limit)
			if more {
				thread.Stack[frame.R(instr.A)] = NewNumber(cur)
				thread.Stack[frame.R(instr.A+3)] = NewNumber(cur)
				frame.PC += instr.SBx()
			}

		case OpTForLoop:
			base := instr.A
			args := []Value{thread.Stack[frame.R(base + 1)], thread.Stack[frame.R(base + 2)]}
			results, err := it.callValue(thread.Stack[frame.R(base)], args, instr.C)
			if err != nil {
				return nil, err
			}
			for i, v := range results {
				thread.Stack[frame.R(base+3+i)] = v
			}
			if len(results) == 0 || results[0].IsNil() {
				frame.PC++ // skip the following JMP, ending the loop
			} else {
				thread.Stack[frame.R(base+2)] = results[0]
			}

		case OpSetList:
			table := thread.Stack[frame.R(instr.A)]
			n := instr.B
			if n == 0 {
				n = frame.WindowSize - instr.A - 1
			}
			blockBase := (instr.C - 1) * 50 // FIELDS_PER_FLUSH in reference Lua
			for i := 1; i <= n; i++ {
				if err := it.heap.SetField(table.Handle(), NewNumber(float64(blockBase+i)), thread.Stack[frame.R(instr.A+i)]); err != nil {
					return nil, err
				}
			}

		case OpClose:
			if err := it.heap.CloseUpvaluesFrom(threadHandle, frame.R(instr.A)); err != nil {
				return nil, err
			}

		case OpClosure:
			nested := proto.Nested[instr.Bx()]
			h, err := it.heap.MakeClosure(threadHandle, frame, nested)
			if err != nil {
				return nil, err
			}
			thread.Stack[frame.R(instr.A)] = NewClosure(h)

		case OpVararg:
			n := instr.B - 1
			if n < 0 {
				n = len(frame.Varargs)
			}
			for i := 0; i < n; i++ {
				v := NewNil()
				if i < len(frame.Varargs) {
					v = frame.Varargs[i]
				}
				thread.Stack[frame.R(instr.A+i)] = v
			}
		}
	}
}

// rk decodes an RK(x) operand (§6 GLOSSARY): a constant-pool value if the
// high bit is set, else a register read.
func (it *Interp) rk(thread *Thread, frame *Frame, proto *FunctionProto, x int) Value {
	if isConstOperand(x) {
		return proto.Constants[constIndex(x)]
	}
	return thread.Stack[frame.R(x)]
}

func (it *Interp) collectVarRange(thread *Thread, frame *Frame, a, b int) []Value {
	if b == 0 {
		n := frame.WindowBase + frame.WindowSize - frame.R(a)
		if n < 0 {
			n = 0
		}
		return append([]Value(nil), thread.Stack[frame.R(a):frame.R(a)+n]...)
	}
	return append([]Value(nil), thread.Stack[frame.R(a):frame.R(a)+b-1]...)
}

// execCall implements CALL/TAILCALL. It returns (results, isFrameReturn,
// err): isFrameReturn is true when a TAILCALL means the current frame's
// results ARE the callee's results, so run's caller should treat them as
// this frame's RETURN.
func (it *Interp) execCall(threadHandle Handle, thread *Thread, frame *Frame, proto *FunctionProto, instr Instr) ([]Value, bool, error) {
	fn := thread.Stack[frame.R(instr.A)]
	nargs := instr.B - 1
	var args []Value
	if nargs < 0 {
		n := frame.WindowBase + frame.WindowSize - frame.R(instr.A+1)
		if n < 0 {
			n = 0
		}
		args = append([]Value(nil), thread.Stack[frame.R(instr.A+1):frame.R(instr.A+1)+n]...)
	} else {
		args = append([]Value(nil), thread.Stack[frame.R(instr.A+1):frame.R(instr.A+1)+nargs]...)
	}

	nresults := instr.C - 1 // -1 means MULTRET when C == 0

	if instr.Op == OpTailCall {
		if err := it.heap.CloseUpvaluesFrom(threadHandle, frame.WindowBase); err != nil {
			return nil, false, err
		}
		results, err := it.callValue(fn, args, -1)
		if err != nil {
			return nil, false, err
		}
		return results, true, nil
	}

	results, err := it.callValue(fn, args, nresults)
	if err != nil {
		return nil, false, err
	}
	for i, v := range results {
		thread.Stack[frame.R(instr.A+i)] = v
	}
	return nil, false, nil
}
