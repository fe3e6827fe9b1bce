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

// Kind tags which arena a Handle belongs to. Kept distinct from the Value
// tag set in value.go: a Handle additionally needs to say *which* arena to
// dereference it against, independent of how it is boxed inside a Value.
type Kind uint8

const (
	KindString Kind = iota
	KindTable
	KindClosure
	KindThread
	KindUpvalue
	KindProto
	KindUserData
)

// Handle is an opaque, forgery-resistant reference into an Arena slot.
// Two handles are equal iff (Kind, Index, Generation) all match; dereferencing
// a handle whose Generation differs from the slot's current generation fails
// with ErrStaleHandle rather than silently returning garbage.
type Handle struct {
	Kind       Kind
	Index      uint32
	Generation uint32
}

// Nil reports whether h is the zero Handle (never produced by Arena.Insert,
// since generation 0 is reserved and never stamped onto a real slot).
func (h Handle) Nil() bool { return h.Generation == 0 }

type slotState uint8

const (
	slotFree slotState = iota
	slotOccupied
)

type slot[T any] struct {
	state      slotState
	generation uint32
	next       int32 // free-list link when state == slotFree; -1 terminates
	value      T
}

// Arena is a dense, generation-stamped slot store. Insert reuses the free
// list head when available, else appends; every insert bumps the arena-wide
// generation counter so a handle minted before a slot was freed and reused
// never aliases the new occupant.
type Arena[T any] struct {
	kind       Kind
	slots      []slot[T]
	freeHead   int32 // -1 when the free list is empty
	generation uint32
	count      int
}

func NewArena[T any](kind Kind) *Arena[T] {
	return &Arena[T]{kind: kind, freeHead: -1}
}

// Insert stores value in a fresh or recycled slot and returns a handle
// naming it. The arena's generation counter is incremented unconditionally,
// so even two inserts into the same recycled index mint distinct handles.
func (a *Arena[T]) Insert(value T) Handle {
	a.generation++
	if a.generation == 0 {
		// u32 wrap: rather than silently reusing generation 0 (which Handle.Nil
		// treats as "no handle"), panic. A wrapped arena is a sign the host
		// is reusing a heap far longer than a single script's lifetime should
		// ever require.
		panic("lua: arena generation counter wrapped")
	}
	a.count++
	if a.freeHead != -1 {
		idx := a.freeHead
		s := &a.slots[idx]
		a.freeHead = s.next
		s.state = slotOccupied
		s.generation = a.generation
		s.value = value
		return Handle{Kind: a.kind, Index: uint32(idx), Generation: a.generation}
	}
	a.slots = append(a.slots, slot[T]{state: slotOccupied, generation: a.generation, value: value})
	return Handle{Kind: a.kind, Index: uint32(len(a.slots) - 1), Generation: a.generation}
}

func (a *Arena[T]) checked(h Handle) (*slot[T], error) {
	if h.Kind != a.kind {
		return nil, &StaleHandleError{Handle: h, Reason: "kind mismatch"}
	}
	if int(h.Index) >= len(a.slots) {
		return nil, &StaleHandleError{Handle: h, Reason: "index out of range"}
	}
	s := &a.slots[h.Index]
	if s.state != slotOccupied || s.generation != h.Generation {
		return nil, &StaleHandleError{Handle: h, Reason: "generation mismatch"}
	}
	return s, nil
}

func (a *Arena[T]) Get(h Handle) (*T, error) {
	s, err := a.checked(h)
	if err != nil {
		return nil, err
	}
	return &s.value, nil
}

func (a *Arena[T]) Contains(h Handle) bool {
	_, err := a.checked(h)
	return err == nil
}

// Remove frees the slot h points to. The slot's generation is never reused
// at that index: the next Insert to land there stamps a2 new, larger
// generation, so any handle copy still held by a caller keeps failing.
func (a *Arena[T]) Remove(h Handle) error {
	s, err := a.checked(h)
	if err != nil {
		return err
	}
	var zero T
	s.value = zero
	s.state = slotFree
	s.next = a.freeHead
	a.freeHead = int32(h.Index)
	a.count--
	return nil
}

func (a *Arena[T]) Len() int { return a.count }

// Iter calls fn for every occupied slot in index order. fn returning false
// stops iteration early.
func (a *Arena[T]) Iter(fn func(Handle, *T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.state != slotOccupied {
			continue
		}
		h := Handle{Kind: a.kind, Index: uint32(i), Generation: s.generation}
		if !fn(h, &s.value) {
			return
		}
	}
}
