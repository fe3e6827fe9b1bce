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

import "github.com/google/uuid"

// Heap owns one arena per object kind plus the string intern table and the
// script's root handles. A Heap is never a package-level global: every
// operation takes one as an explicit parameter, and a fresh Heap is created
// per-script by Eval (§9 "global mutable state").
type Heap struct {
	ID uuid.UUID // correlates logs/diagnostics for this script run; never script-visible

	strings   *Arena[stringObject]
	tables    *Arena[Table]
	closures  *Arena[Closure]
	threads   *Arena[Thread]
	upvalues  *Arena[Upvalue]
	protos    *Arena[FunctionProto]
	userdata  *Arena[any]

	intern map[string]Handle // bytes -> StringHandle, guarantees structural equality

	Globals     Handle
	Registry    Handle
	MainThread  Handle

	limit    uint64 // MemoryBytes budget; 0 means unbounded
	used     uint64

	callStackLimit  int // applied to every thread this heap allocates
	valueStackLimit int
}

type stringObject struct {
	bytes string
}

// NewHeap creates a heap budgeted at memoryLimit bytes (0 means unbounded)
// whose threads enforce callStackLimit frames and valueStackLimit value-stack
// slots; either limit may be passed as 0 to take the package default
// (§4.F/§5 — a host that wants those defaults, not an unbounded run, asks for
// them explicitly this way rather than relying on a zero value meaning
// "unbounded" like MemoryBytes does).
func NewHeap(memoryLimit uint64, callStackLimit, valueStackLimit int) *Heap {
	if callStackLimit == 0 {
		callStackLimit = defaultCallStackLimit
	}
	if valueStackLimit == 0 {
		valueStackLimit = defaultValueStackLimit
	}
	h := &Heap{
		ID:              uuid.New(),
		strings:         NewArena[stringObject](KindString),
		tables:          NewArena[Table](KindTable),
		closures:        NewArena[Closure](KindClosure),
		threads:         NewArena[Thread](KindThread),
		upvalues:        NewArena[Upvalue](KindUpvalue),
		protos:          NewArena[FunctionProto](KindProto),
		userdata:        NewArena[any](KindUserData),
		intern:          make(map[string]Handle),
		limit:           memoryLimit,
		callStackLimit:  callStackLimit,
		valueStackLimit: valueStackLimit,
	}
	h.Globals = h.AllocTable()
	h.Registry = h.AllocTable()
	main := h.allocThreadHandle()
	h.MainThread = main
	return h
}

func (h *Heap) charge(n uint64) error {
	if h.limit == 0 {
		h.used += n
		return nil
	}
	if h.used+n > h.limit {
		return &OutOfMemoryError{Limit: h.limit, Requested: h.used + n}
	}
	h.used += n
	return nil
}

// UsedBytes reports the heap's running allocation estimate, for diagnostics
// and tests; not script-visible.
func (h *Heap) UsedBytes() uint64 { return h.used }

// CreateString interns bytes: identical content always returns the same
// handle, satisfying invariant 1 of §8.
func (h *Heap) CreateString(b string) (Handle, error) {
	if existing, ok := h.intern[b]; ok {
		return existing, nil
	}
	if err := h.charge(uint64(len(b)) + 32); err != nil {
		return Handle{}, err
	}
	handle := h.strings.Insert(stringObject{bytes: b})
	h.intern[b] = handle
	return handle, nil
}

func (h *Heap) GetString(handle Handle) (string, error) {
	s, err := h.strings.Get(handle)
	if err != nil {
		return "", err
	}
	return s.bytes, nil
}

func (h *Heap) AllocTable() Handle {
	// A fresh table never fails allocation against the byte budget at zero
	// size; growth is charged incrementally as elements are added (see
	// SetField).
	return h.tables.Insert(Table{})
}

func (h *Heap) GetTable(handle Handle) (*Table, error) { return h.tables.Get(handle) }

// SetField implements script-visible raw table writes, charging the memory
// budget for genuinely new storage (existing slot overwrites are free).
func (h *Heap) SetField(handle Handle, key, value Value) error {
	t, err := h.tables.Get(handle)
	if err != nil {
		return err
	}
	grows := key.IsNumber() && func() bool {
		i, ok := isInt1Based(key.Number())
		return ok && i == len(t.Array)+1
	}()
	if grows || (t.Get(key).IsNil() && !value.IsNil()) {
		if err := h.charge(48); err != nil {
			return err
		}
	}
	return t.Set(key, value)
}

func (h *Heap) GetField(handle Handle, key Value) (Value, error) {
	t, err := h.tables.Get(handle)
	if err != nil {
		return Value{}, err
	}
	return t.Get(key), nil
}

func (h *Heap) AllocClosure(proto Handle, upvalues []Handle) (Handle, error) {
	if err := h.charge(uint64(len(upvalues))*8 + 64); err != nil {
		return Handle{}, err
	}
	return h.closures.Insert(Closure{Proto: proto, Upvalues: append([]Handle(nil), upvalues...)}), nil
}

func (h *Heap) GetClosure(handle Handle) (*Closure, error) { return h.closures.Get(handle) }

func (h *Heap) allocThreadHandle() Handle {
	return h.threads.Insert(Thread{
		Status:          ThreadRunning,
		valueStackLimit: h.valueStackLimit,
		callStackLimit:  h.callStackLimit,
		// Frames is preallocated to its hard limit so PushFrame's append
		// never reallocates the backing array: run() holds a *Frame across
		// nested calls on the same thread, which a reallocation would
		// silently dangle.
		Frames: make([]Frame, 0, h.callStackLimit),
	})
}

func (h *Heap) AllocThread() (Handle, error) {
	if err := h.charge(256); err != nil {
		return Handle{}, err
	}
	return h.allocThreadHandle(), nil
}

func (h *Heap) GetThread(handle Handle) (*Thread, error) { return h.threads.Get(handle) }

// AllocOpenUpvalue creates an Upvalue bound to a live stack slot of thread.
func (h *Heap) AllocOpenUpvalue(thread Handle, stackIndex int) (Handle, error) {
	if err := h.charge(24); err != nil {
		return Handle{}, err
	}
	return h.upvalues.Insert(Upvalue{State: UpvalueOpen, Thread: thread, StackIndex: stackIndex}), nil
}

func (h *Heap) GetUpvalue(handle Handle) (*Upvalue, error) { return h.upvalues.Get(handle) }

func (h *Heap) AllocProto(p FunctionProto) Handle { return h.protos.Insert(p) }

func (h *Heap) GetProto(handle Handle) (*FunctionProto, error) { return h.protos.Get(handle) }

func (h *Heap) AllocUserData(v any) (Handle, error) {
	if err := h.charge(32); err != nil {
		return Handle{}, err
	}
	return h.userdata.Insert(v), nil
}

func (h *Heap) GetUserData(handle Handle) (*any, error) { return h.userdata.Get(handle) }

// NewString is a convenience wrapper returning a boxed Value directly.
func (h *Heap) NewString(s string) (Value, error) {
	handle, err := h.CreateString(s)
	if err != nil {
		return Value{}, err
	}
	return NewString(handle), nil
}

func (h *Heap) ValueAsGoString(v Value) (string, error) {
	if !v.IsString() {
		return "", &TypeError{Expected: "string", Got: v.TypeName()}
	}
	return h.GetString(v.Handle())
}
