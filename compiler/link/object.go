package link

import (
	"fmt"

	"github.com/slowlang/spu/compiler/ir"
	"github.com/slowlang/spu/compiler/spu"
)

type (
	// Object is anything placed in the image at a fixed offset.
	Object interface {
		ir.Object

		Size() int
		Offset() int
		SetOffset(off int) error

		Bytes() []byte
	}

	// Patcher is an Object with references resolved after layout.
	Patcher interface {
		Object

		PerformAddressPatching() error
	}

	Lister interface {
		Listing() []spu.Line
	}

	LayoutError struct {
		Object string
		Offset int
		Reason string
	}

	// Alloc maps a register to the physical one assigned to it.
	Alloc func(reg ir.Reg) (phys int, ok bool)

	place struct {
		name   string
		off    int
		placed bool
	}

	// Blob is raw data.
	Blob struct {
		place

		data []byte
	}

	// Spill is a run of register sized save slots.
	Spill struct {
		place

		count int
	}
)

const NoOffset = -1

const slotSize = 16

func (p *place) Name() string { return p.name }

func (p *place) Offset() int {
	if !p.placed {
		return NoOffset
	}

	return p.off
}

func (p *place) Placed() bool { return p.placed }

func (p *place) SetOffset(off int) error {
	if p.placed {
		return &LayoutError{Object: p.name, Offset: off, Reason: fmt.Sprintf("offset already assigned: %#x", p.off)}
	}

	if off < 0 || off%spu.Align != 0 {
		return &LayoutError{Object: p.name, Offset: off, Reason: "misaligned offset"}
	}

	p.off = off
	p.placed = true

	return nil
}

func NewBlob(name string, data []byte) *Blob {
	return &Blob{place: place{name: name}, data: data}
}

func (b *Blob) Size() int { return alignUp(len(b.data)) }

func (b *Blob) Bytes() []byte {
	r := make([]byte, b.Size())
	copy(r, b.data)

	return r
}

func NewSpill(name string, count int) *Spill {
	return &Spill{place: place{name: name}, count: count}
}

func (s *Spill) Size() int { return s.count * slotSize }

func (s *Spill) Count() int { return s.count }

func (s *Spill) Bytes() []byte { return make([]byte, s.Size()) }

// Slot returns the offset of the i-th slot.
func (s *Spill) Slot(i int) int {
	if i < 0 || i >= s.count {
		panic(i)
	}

	return s.Offset() + i*slotSize
}

// PhysAlloc is an Alloc for code using physical registers only.
func PhysAlloc(r *ir.Routine) Alloc {
	return r.IsPhys
}

// targetOffset resolves the absolute offset of a referenced object.
func targetOffset(from string, at int, obj ir.Object) (int, error) {
	o, ok := obj.(interface{ Offset() int })
	if !ok {
		return 0, &LayoutError{Object: from, Offset: at, Reason: fmt.Sprintf("%v is not addressable", obj.Name())}
	}

	off := o.Offset()

	switch {
	case off < 0:
		return 0, &LayoutError{Object: from, Offset: at, Reason: fmt.Sprintf("%v has no offset", obj.Name())}
	case off%spu.Align != 0:
		return 0, &LayoutError{Object: from, Offset: at, Reason: fmt.Sprintf("%v is misaligned: %#x", obj.Name(), off)}
	}

	return off, nil
}

// relocate computes the immediate of an instruction at absolute offset at
// referring to target.
func relocate(o *spu.Opcode, from string, at, target int) (int32, error) {
	var v int

	switch o.Reloc {
	case spu.RelWord:
		v = (target - at) >> 2
	case spu.AbsWord:
		v = target >> 2
	case spu.AbsByte:
		v = target
	default:
		return 0, &LayoutError{Object: from, Offset: at, Reason: fmt.Sprintf("%v can't be relocated", o.Name)}
	}

	if lo, hi := o.ImmRange(); int64(v) < lo || int64(v) > hi {
		return 0, &LayoutError{Object: from, Offset: at, Reason: fmt.Sprintf("%v to %#x out of range: %d", o.Name, target, v)}
	}

	return int32(v), nil
}

func alignUp(n int) int {
	return (n + spu.Align - 1) &^ (spu.Align - 1)
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("layout: %v at %#x: %s", e.Object, e.Offset, e.Reason)
}
