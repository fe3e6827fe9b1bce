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

// Closure is an instantiated binding of a FunctionProto to a concrete set
// of upvalues. Distinct closures may share a prototype and/or individual
// upvalue cells (§3).
type Closure struct {
	Proto    Handle
	Upvalues []Handle
}

type UpvalueState uint8

const (
	UpvalueOpen UpvalueState = iota
	UpvalueClosed
)

// Upvalue is a heap-owned variable cell. While Open, it aliases a live
// register on Thread's stack; Closed, it holds its own snapshot. Multiple
// closures sharing this handle observe writes from either state together
// (§3, §4.E, invariant 5 of §8).
type Upvalue struct {
	State      UpvalueState
	Thread     Handle // valid only while State == UpvalueOpen
	StackIndex int    // absolute index into Thread's value stack, while Open
	Value      Value  // valid only while State == UpvalueClosed
}

// ReadUpvalue dereferences an upvalue handle to its current value,
// indexing the owning thread's stack if still open.
func (h *Heap) ReadUpvalue(uv Handle) (Value, error) {
	u, err := h.GetUpvalue(uv)
	if err != nil {
		return Value{}, err
	}
	if u.State == UpvalueClosed {
		return u.Value, nil
	}
	t, err := h.GetThread(u.Thread)
	if err != nil {
		return Value{}, err
	}
	return t.Stack[u.StackIndex], nil
}

// WriteUpvalue is the symmetric write for SETUPVAL.
func (h *Heap) WriteUpvalue(uv Handle, v Value) error {
	u, err := h.GetUpvalue(uv)
	if err != nil {
		return err
	}
	if u.State == UpvalueClosed {
		u.Value = v
		return nil
	}
	t, err := h.GetThread(u.Thread)
	if err != nil {
		return err
	}
	t.Stack[u.StackIndex] = v
	return nil
}

// FindOrOpenUpvalue implements the sharing half of CLOSURE's in_stack case:
// if an upvalue is already open at stackIndex for this thread, it is
// reused; otherwise a new one is allocated and linked into the thread's
// open list in descending stack-index order (§4.E), which is what makes
// CloseUpvalues an O(k) sweep.
func (h *Heap) FindOrOpenUpvalue(thread Handle, stackIndex int) (Handle, error) {
	t, err := h.GetThread(thread)
	if err != nil {
		return Handle{}, err
	}
	for _, existing := range t.OpenUpvalues {
		u, err := h.GetUpvalue(existing)
		if err != nil {
			return Handle{}, err
		}
		if u.StackIndex == stackIndex {
			return existing, nil
		}
		if u.StackIndex < stackIndex {
			break // list is sorted descending; no earlier entry can match
		}
	}
	uv, err := h.AllocOpenUpvalue(thread, stackIndex)
	if err != nil {
		return Handle{}, err
	}
	// insert keeping descending order by stack index
	pos := 0
	for pos < len(t.OpenUpvalues) {
		u, err := h.GetUpvalue(t.OpenUpvalues[pos])
		if err != nil {
			return Handle{}, err
		}
		if u.StackIndex < stackIndex {
			break
		}
		pos++
	}
	t.OpenUpvalues = append(t.OpenUpvalues, Handle{})
	copy(t.OpenUpvalues[pos+1:], t.OpenUpvalues[pos:])
	t.OpenUpvalues[pos] = uv
	return uv, nil
}

// CloseUpvaluesFrom closes every open upvalue of thread with StackIndex >=
// from, snapshotting the live register value into the cell and removing it
// from the thread's open list (§4.E). Used by RETURN, CLOSE and TAILCALL.
func (h *Heap) CloseUpvaluesFrom(thread Handle, from int) error {
	t, err := h.GetThread(thread)
	if err != nil {
		return err
	}
	kept := t.OpenUpvalues[:0]
	for _, uvHandle := range t.OpenUpvalues {
		u, err := h.GetUpvalue(uvHandle)
		if err != nil {
			return err
		}
		if u.StackIndex >= from {
			u.Value = t.Stack[u.StackIndex]
			u.State = UpvalueClosed
			continue
		}
		kept = append(kept, uvHandle)
	}
	t.OpenUpvalues = kept
	return nil
}

// MakeClosure implements the CLOSURE opcode's upvalue-resolution contract
// (§4.E): for each UpvalueDesc, either share/open a stack-rooted upvalue of
// the current frame, or copy an upvalue handle from the enclosing closure.
func (h *Heap) MakeClosure(thread Handle, frame *Frame, nestedProto Handle) (Handle, error) {
	proto, err := h.GetProto(nestedProto)
	if err != nil {
		return Handle{}, err
	}
	enclosing, err := h.GetClosure(frame.Closure)
	if err != nil {
		return Handle{}, err
	}
	upvalues := make([]Handle, len(proto.UpvalueDescs))
	for i, desc := range proto.UpvalueDescs {
		if desc.InStack {
			uv, err := h.FindOrOpenUpvalue(thread, frame.WindowBase+desc.Index)
			if err != nil {
				return Handle{}, err
			}
			upvalues[i] = uv
		} else {
			if desc.Index < 0 || desc.Index >= len(enclosing.Upvalues) {
				return Handle{}, &StaleHandleError{Reason: "upvalue descriptor index out of range"}
			}
			upvalues[i] = enclosing.Upvalues[desc.Index]
		}
	}
	return h.AllocClosure(nestedProto, upvalues)
}
