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

import "testing"

func numConst(n float64) CompileConstant { return CompileConstant{Kind: ConstNumber, Num: n} }
func strConst(poolIdx int) CompileConstant {
	return CompileConstant{Kind: ConstString, Str: poolIdx}
}

// TestNumericForSumMatchesScenario1 hand-assembles scenario 1 of spec.md §8:
// `local s=0; for i=1,5 do s=s+i end; return s`, exercising the
// FORPREP/FORLOOP register discipline (§4.G, §8 invariant 3) directly at the
// bytecode level since this package has no compiler of its own.
func TestNumericForSumMatchesScenario1(t *testing.T) {
	// Registers: R0=s, R1=loop-index, R2=limit, R3=step, R4=visible i.
	code := []uint32{
		EncodeABx(OpLoadK, 0, 0),     // s = K0 (0)
		EncodeABx(OpLoadK, 1, 1),     // init = K1 (1)
		EncodeABx(OpLoadK, 2, 2),     // limit = K2 (5)
		EncodeABx(OpLoadK, 3, 1),     // step = K1 (1)
		EncodeAsBx(OpForPrep, 1, 1),  // -> FORLOOP at index 6
		EncodeABC(OpAdd, 0, 0, 4),    // s = s + i
		EncodeAsBx(OpForLoop, 1, -2), // -> body at index 5 if still looping
		EncodeABC(OpReturn, 0, 2, 0), // return s
	}
	module := &Module{
		Main: &ProtoSource{
			Code:         code,
			Constants:    []CompileConstant{numConst(0), numConst(1), numConst(5)},
			MaxStackSize: 5,
		},
	}

	reply, err := Eval(module, nil, nil, EvalOptions{})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if reply.Kind != RespInteger || reply.Int != 15 {
		t.Fatalf("reply = %+v, want integer 15", reply)
	}
}

// TestNumericForZeroIterations exercises the §8 boundary test `for i=1,0 do
// body end` running zero times.
func TestNumericForZeroIterations(t *testing.T) {
	code := []uint32{
		EncodeABx(OpLoadK, 0, 0),     // s = K0 (0)
		EncodeABx(OpLoadK, 1, 1),     // init = K1 (1)
		EncodeABx(OpLoadK, 2, 0),     // limit = K0 (0): 1..0 never runs
		EncodeABx(OpLoadK, 3, 1),     // step = K1 (1)
		EncodeAsBx(OpForPrep, 1, 1),  // -> FORLOOP
		EncodeABC(OpAdd, 0, 0, 4),    // s = s + i (never reached)
		EncodeAsBx(OpForLoop, 1, -2),
		EncodeABC(OpReturn, 0, 2, 0),
	}
	module := &Module{
		Main: &ProtoSource{
			Code:         code,
			Constants:    []CompileConstant{numConst(0), numConst(1)},
			MaxStackSize: 5,
		},
	}
	reply, err := Eval(module, nil, nil, EvalOptions{})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if reply.Kind != RespInteger || reply.Int != 0 {
		t.Fatalf("reply = %+v, want integer 0 (loop body never runs)", reply)
	}
}

// TestClosureUpvalueSharedAcrossCalls hand-assembles scenario 2 of spec.md
// §8: a closure factory capturing its parameter by reference, exercising
// open-upvalue sharing and the GETUPVAL/SETUPVAL/CLOSURE contracts (§4.E,
// §8 invariant 5): `local function mk(n) return function() n=n+1; return n
// end end; local f=mk(10); f(); f(); return f()`.
func TestClosureUpvalueSharedAcrossCalls(t *testing.T) {
	// proto_inner: captures mk's n as upvalue 0, increments and returns it.
	protoInner := &ProtoSource{
		Code: []uint32{
			EncodeABC(OpGetUpval, 0, 0, 0),                 // R0 = upval(n)
			EncodeABC(OpAdd, 0, 0, RKField(0, true)),       // R0 = R0 + K0(1)
			EncodeABC(OpSetUpval, 0, 0, 0),                 // n = R0
			EncodeABC(OpReturn, 0, 2, 0),                   // return R0
		},
		Constants:    []CompileConstant{numConst(1)},
		MaxStackSize: 1,
		UpvalueDescs: []UpvalueDesc{{InStack: true, Index: 0}},
	}

	// proto_mk(n): builds and returns the inner closure.
	protoMk := &ProtoSource{
		Code: []uint32{
			EncodeABx(OpClosure, 1, 0), // R1 = closure(proto_inner)
			EncodeABC(OpReturn, 1, 2, 0),
		},
		ParamCount:   1,
		MaxStackSize: 2,
		Nested:       []*ProtoSource{protoInner},
	}

	// main: f = mk(10); f(); f(); return f()
	main := &ProtoSource{
		Code: []uint32{
			EncodeABx(OpClosure, 0, 0),   // R0 = mk
			EncodeABx(OpLoadK, 1, 0),     // R1 = 10
			EncodeABC(OpCall, 0, 2, 2),   // R0 = mk(10)  -> f
			EncodeABC(OpCall, 0, 1, 1),   // f()  (discard)
			EncodeABC(OpCall, 0, 1, 1),   // f()  (discard)
			EncodeABC(OpCall, 0, 1, 2),   // R0 = f()
			EncodeABC(OpReturn, 0, 2, 0), // return R0
		},
		Constants:    []CompileConstant{numConst(10)},
		MaxStackSize: 2,
		Nested:       []*ProtoSource{protoMk},
	}

	reply, err := Eval(&Module{Main: main}, nil, nil, EvalOptions{})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if reply.Kind != RespInteger || reply.Int != 13 {
		t.Fatalf("reply = %+v, want integer 13 (10 incremented three times)", reply)
	}
}

// TestPcallCatchesRaisedError hand-assembles scenario 4 of spec.md §8:
// `local ok,err=pcall(function() error('boom') end); return err`.
func TestPcallCatchesRaisedError(t *testing.T) {
	protoFails := &ProtoSource{
		Code: []uint32{
			EncodeABx(OpGetGlobal, 0, 0), // R0 = _G.error  (Constants[0] == "error")
			EncodeABx(OpLoadK, 1, 1),     // R1 = "boom" (Constants[1])
			EncodeABC(OpCall, 0, 2, 1),   // error("boom"), 0 results expected
			EncodeABC(OpReturn, 0, 1, 0), // never reached
		},
		Constants:    []CompileConstant{strConst(1), strConst(2)},
		MaxStackSize: 2,
	}
	main := &ProtoSource{
		Code: []uint32{
			EncodeABx(OpGetGlobal, 0, 0), // R0 = _G.pcall (pool[0])
			EncodeABx(OpClosure, 1, 0),   // R1 = closure(protoFails)
			EncodeABC(OpCall, 0, 2, 0),   // R0,R1 = pcall(R1)  (MULTRET)
			EncodeABC(OpReturn, 1, 2, 0), // return err (R1)
		},
		Constants:    []CompileConstant{strConst(0)},
		MaxStackSize: 2,
		Nested:       []*ProtoSource{protoFails},
	}
	module := &Module{
		StringPool: []string{"pcall", "error", "boom"},
		Main:       main,
	}

	reply, err := Eval(module, nil, nil, EvalOptions{})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if reply.Kind != RespBulk || reply.Str != "boom" {
		t.Fatalf("reply = %+v, want bulk \"boom\"", reply)
	}
}

// TestKeysArgvConcat hand-assembles scenario 3 of spec.md §8:
// `return KEYS[1] .. '=' .. ARGV[1]`.
func TestKeysArgvConcat(t *testing.T) {
	main := &ProtoSource{
		Code: []uint32{
			EncodeABx(OpGetGlobal, 0, 0),                   // R0 = KEYS
			EncodeABC(OpGetTable, 0, 0, RKField(2, true)),  // R0 = KEYS[1]
			EncodeABx(OpLoadK, 1, 3),                       // R1 = "="
			EncodeABx(OpGetGlobal, 2, 1),                   // R2 = ARGV
			EncodeABC(OpGetTable, 2, 2, RKField(2, true)),  // R2 = ARGV[1]
			EncodeABC(OpConcat, 3, 0, 2),                   // R3 = R0 .. R1 .. R2
			EncodeABC(OpReturn, 3, 2, 0),
		},
		Constants: []CompileConstant{
			strConst(0), // "KEYS"
			strConst(1), // "ARGV"
			numConst(1), // table index 1
			strConst(2), // "="
		},
		MaxStackSize: 4,
	}
	module := &Module{
		StringPool: []string{"KEYS", "ARGV", "="},
		Main:       main,
	}

	reply, err := Eval(module, []string{"k"}, []string{"v"}, EvalOptions{})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if reply.Kind != RespBulk || reply.Str != "k=v" {
		t.Fatalf("reply = %+v, want bulk \"k=v\"", reply)
	}
}
