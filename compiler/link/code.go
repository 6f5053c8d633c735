package link

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/spu/compiler/ir"
	"github.com/slowlang/spu/compiler/spu"
)

type (
	// Code is an assembled routine.
	Code struct {
		place

		Routine *ir.Routine

		params int // -1 if unknown

		alloc Alloc

		order  []ir.InstrID
		start  []int // first word of each block
		words  []uint32
		fixups []int // words referring to targets

		reserved  int
		assembled bool
	}
)

func NewCode(r *ir.Routine, params int) *Code {
	return &Code{
		place:   place{name: r.Name},
		Routine: r,
		params:  params,
	}
}

// NumParams makes Code an ir.Callee.
func (c *Code) NumParams() (int, bool) {
	return c.params, c.params >= 0
}

// Size is the reserved size known after Assemble.
func (c *Code) Size() int { return c.reserved }

// Assemble encodes the routine in its current order.
// Targets are left as zero immediates until PerformAddressPatching.
func (c *Code) Assemble(ctx context.Context, alloc Alloc) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "assemble", "name", c.name)
	defer tr.Finish("err", &err)

	if c.placed {
		return &LayoutError{Object: c.name, Offset: c.off, Reason: "assemble after layout"}
	}

	r := c.Routine

	c.alloc = alloc
	c.order, c.start = r.Linearize()
	c.words = make([]uint32, 0, alignUp(len(c.order)*spu.WordSize)/spu.WordSize)
	c.fixups = c.fixups[:0]

	for i, id := range c.order {
		x := r.Instr(id)

		f, err := fields(r, x, c.alloc)
		if err != nil {
			return err
		}

		if x.Target.Kind != ir.NoTarget {
			f.Imm = 0
			c.fixups = append(c.fixups, i)
		}

		w, err := spu.Encode(x.Op, f)
		if err != nil {
			return &ir.MalformedError{Routine: r.Name, Seq: x.Seq, Op: x.Op, Reason: err.Error()}
		}

		c.words = append(c.words, w)
	}

	c.words = pad(c.words)

	c.reserved = len(c.words) * spu.WordSize
	c.assembled = true

	tr.Printw("assembled", "name", c.name, "instrs", len(c.order), "size", c.reserved, "fixups", len(c.fixups))

	return nil
}

// PerformAddressPatching resolves targets once every referenced object has its offset.
func (c *Code) PerformAddressPatching() (err error) {
	if !c.assembled {
		return &LayoutError{Object: c.name, Offset: NoOffset, Reason: "not assembled"}
	}

	if !c.placed {
		return &LayoutError{Object: c.name, Offset: NoOffset, Reason: "no offset"}
	}

	order, _ := c.Routine.Linearize()

	if size := alignUp(len(order) * spu.WordSize); size != c.reserved {
		return &LayoutError{Object: c.name, Offset: c.off, Reason: fmt.Sprintf("size mismatch: emitted %d, reserved %d", size, c.reserved)}
	}

	if !slices.Equal(order, c.order) {
		return &LayoutError{Object: c.name, Offset: c.off, Reason: "code reordered after assembly"}
	}

	r := c.Routine

	for _, i := range c.fixups {
		x := r.Instr(c.order[i])
		at := c.off + i*spu.WordSize

		var target int

		switch x.Target.Kind {
		case ir.BlockTarget:
			target = c.off + c.start[x.Target.Block]*spu.WordSize
		case ir.ObjectTarget:
			target, err = targetOffset(c.name, at, x.Target.Object)
			if err != nil {
				return err
			}
		}

		f, err := fields(r, x, c.alloc)
		if err != nil {
			return err
		}

		f.Imm, err = relocate(x.Opcode(), c.name, at, target)
		if err != nil {
			return err
		}

		w, err := spu.Encode(x.Op, f)
		if err != nil {
			return errors.Wrap(err, "patch %v", c.name)
		}

		tlog.V("dump_patch").Printw("patch", "object", c.name, "at", at, "target", target, "imm", f.Imm, "word", w)

		c.words[i] = w
	}

	return nil
}

// fields resolves operands of x to physical registers.
func fields(r *ir.Routine, x *ir.Instr, alloc Alloc) (f spu.Fields, err error) {
	o := x.Opcode()

	reg := func(fl spu.Field, reg ir.Reg) int {
		if err != nil || !o.Has(fl) {
			return 0
		}

		n, ok := alloc(reg)
		if !ok {
			err = &ir.MalformedError{Routine: r.Name, Seq: x.Seq, Op: x.Op,
				Reason: fmt.Sprintf("%v register %v not allocated", fl, r.RegName(reg))}
		}

		return n
	}

	f.RT = reg(spu.FieldRT, x.RT)
	f.RA = reg(spu.FieldRA, x.RA)
	f.RB = reg(spu.FieldRB, x.RB)
	f.RC = reg(spu.FieldRC, x.RC)
	f.Imm = x.Imm

	return f, err
}

func (c *Code) Words() []uint32 { return c.words }

func (c *Code) Bytes() []byte {
	return appendWords(make([]byte, 0, len(c.words)*spu.WordSize), c.words)
}

// Listing disassembles the code with symbolic targets.
func (c *Code) Listing() []spu.Line {
	base := 0
	if c.placed {
		base = c.off
	}

	lines := make([]spu.Line, len(c.words))

	for i, w := range c.words {
		lines[i] = spu.Disasm(base+i*spu.WordSize, w)

		if i >= len(c.order) {
			continue
		}

		x := c.Routine.Instr(c.order[i])

		switch x.Target.Kind {
		case ir.BlockTarget:
			lines[i].Target = c.Routine.Block(x.Target.Block).Name
		case ir.ObjectTarget:
			lines[i].Target = x.Target.Object.Name()
		}
	}

	return lines
}

var nop = func() uint32 {
	w, err := spu.Encode(spu.NOP, spu.Fields{})
	if err != nil {
		panic(err)
	}

	return w
}()

func pad(words []uint32) []uint32 {
	for len(words)*spu.WordSize%spu.Align != 0 {
		words = append(words, nop)
	}

	return words
}

func appendWords(b []byte, words []uint32) []byte {
	for _, w := range words {
		b = binary.BigEndian.AppendUint32(b, w)
	}

	return b
}
