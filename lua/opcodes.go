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

// Opcode is Lua 5.1's 38-entry instruction set (§4.G), numbered exactly as
// the reference implementation numbers them so line-info and disassembly
// from an external compiler need no translation layer.
type Opcode uint8

const (
	OpMove Opcode = iota
	OpLoadK
	OpLoadBool
	OpLoadNil
	OpGetUpval
	OpGetGlobal
	OpGetTable
	OpSetGlobal
	OpSetUpval
	OpSetTable
	OpNewTable
	OpSelf
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpUnm
	OpNot
	OpLen
	OpConcat
	OpJmp
	OpEq
	OpLt
	OpLe
	OpTest
	OpTestSet
	OpCall
	OpTailCall
	OpReturn
	OpForLoop
	OpForPrep
	OpTForLoop
	OpSetList
	OpClose
	OpClosure
	OpVararg
	opcodeCount
)

// sBx bias: an 18-bit signed field is stored biased by this constant so it
// can be packed unsigned (§6).
const sBxBias = 131071

// Instr is a decoded 32-bit instruction: opcode:6 | A:8 | C:9 | B:9 for
// iABC, opcode:6 | A:8 | Bx:18 for iABx, opcode:6 | A:8 | sBx:18 (biased)
// for iAsBx (§6).
type Instr struct {
	Op Opcode
	A  int
	B  int
	C  int
}

func DecodeInstr(raw uint32) Instr {
	return Instr{
		Op: Opcode(raw & 0x3F),
		A:  int((raw >> 6) & 0xFF),
		C:  int((raw >> 14) & 0x1FF),
		B:  int((raw >> 23) & 0x1FF),
	}
}

func EncodeABC(op Opcode, a, b, c int) uint32 {
	return uint32(op)&0x3F | uint32(a&0xFF)<<6 | uint32(c&0x1FF)<<14 | uint32(b&0x1FF)<<23
}

func (i Instr) Bx() int  { return i.C | (i.B << 9) }
func (i Instr) SBx() int { return i.Bx() - sBxBias }

func EncodeABx(op Opcode, a, bx int) uint32 {
	return uint32(op)&0x3F | uint32(a&0xFF)<<6 | uint32(bx&0x3FFFF)<<14
}

func EncodeAsBx(op Opcode, a, sbx int) uint32 {
	return EncodeABx(op, a, sbx+sBxBias)
}

// rkConstFlag is the high bit of a 9-bit B/C field: when set, the field
// names a constant-pool index (masked to the low 8 bits) rather than a
// register (§6, §GLOSSARY "RK(x)").
const rkConstFlag = 0x100

func isConstOperand(x int) bool { return x&rkConstFlag != 0 }
func constIndex(x int) int      { return x & 0xFF }

// RKField encodes operand x as either a register index or, with isConst,
// a constant-pool index — the inverse of isConstOperand/constIndex. Used
// only by tests that hand-assemble bytecode, since the compiler itself is
// out of scope.
func RKField(index int, isConst bool) int {
	if isConst {
		return rkConstFlag | (index & 0xFF)
	}
	return index & 0x1FF
}
