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

// UpvalueDesc says where a closure's Nth upvalue comes from when the
// CLOSURE opcode instantiates it: either a live register in the *parent*
// frame, or an upvalue already held by the *parent* closure.
type UpvalueDesc struct {
	InStack bool // true: Index names a register in the enclosing frame
	Index   int
}

// FunctionProto is a compiled-code descriptor: the immutable half of a
// closure. Many closures (e.g. one instantiated per loop iteration) may
// share one FunctionProtoHandle.
type FunctionProto struct {
	Code           []uint32
	Constants      []Value
	ConstantStrs   []string // not populated by loadProto; string constants live in Constants as interned string handles
	ParamCount     int
	IsVararg       bool
	MaxStackSize   int
	UpvalueDescs   []UpvalueDesc
	Nested         []Handle // FunctionProtoHandles of nested prototypes, indexed by Bx in CLOSURE
	LineInfo       []int32  // optional, parallel to Code; 0 if untracked
	Source         string
}

// CompileConstant mirrors the compiled-module input format of §6: a logical
// constant-pool entry, not yet resolved against a Heap (string constants
// reference the module's string pool by index, not yet a StringHandle).
type CompileConstant struct {
	Kind CompileConstantKind
	Bool bool
	Num  float64
	Str  int // index into Module.StringPool, valid when Kind == ConstString
}

type CompileConstantKind uint8

const (
	ConstNil CompileConstantKind = iota
	ConstBool
	ConstNumber
	ConstString
)

// ProtoSource is the logical, not-yet-loaded compiled prototype as produced
// by an (out of scope) Lua compiler: constants still reference the string
// pool by index, and nested prototypes are a tree, not yet Handles.
type ProtoSource struct {
	Code         []uint32
	Constants    []CompileConstant
	ParamCount   int
	IsVararg     bool
	MaxStackSize int
	UpvalueDescs []UpvalueDesc
	Nested       []*ProtoSource
	LineInfo     []int32
	Source       string
}

// Module is the compiled-module input format of §6: the output of an
// out-of-scope lexer/parser/compiler pipeline, consumed by Heap.LoadModule.
type Module struct {
	SourceName string
	SHA1       string
	StringPool []string
	Main       *ProtoSource
}

// LoadModule resolves every string-constant index to a StringHandle and
// every nested ProtoSource to a FunctionProtoHandle, allocates the
// prototype tree into the heap, and returns a Closure over the main chunk
// ready to run on a fresh thread.
func (h *Heap) LoadModule(m *Module) (Handle, error) {
	protoHandle, err := h.loadProto(m.Main, m.StringPool)
	if err != nil {
		return Handle{}, err
	}
	return h.AllocClosure(protoHandle, nil)
}

func (h *Heap) loadProto(src *ProtoSource, pool []string) (Handle, error) {
	nested := make([]Handle, len(src.Nested))
	for i, n := range src.Nested {
		nh, err := h.loadProto(n, pool)
		if err != nil {
			return Handle{}, err
		}
		nested[i] = nh
	}
	constants := make([]Value, len(src.Constants))
	for i, c := range src.Constants {
		switch c.Kind {
		case ConstNil:
			constants[i] = NewNil()
		case ConstBool:
			constants[i] = NewBoolean(c.Bool)
		case ConstNumber:
			constants[i] = NewNumber(c.Num)
		case ConstString:
			if c.Str < 0 || c.Str >= len(pool) {
				return Handle{}, &SyntaxErrorInfo{Msg: "string constant index out of range"}
			}
			sh, err := h.CreateString(pool[c.Str])
			if err != nil {
				return Handle{}, err
			}
			constants[i] = NewString(sh)
		}
	}
	proto := FunctionProto{
		Code:         append([]uint32(nil), src.Code...),
		Constants:    constants,
		ParamCount:   src.ParamCount,
		IsVararg:     src.IsVararg,
		MaxStackSize: src.MaxStackSize,
		UpvalueDescs: append([]UpvalueDesc(nil), src.UpvalueDescs...),
		Nested:       nested,
		LineInfo:     src.LineInfo,
		Source:       src.Source,
	}
	return h.AllocProto(proto), nil
}
