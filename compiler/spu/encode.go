package spu

import (
	"fmt"

	"tlog.app/go/errors"
)

type (
	Field uint8

	// Fields are the operand values of one machine word.
	// Registers are physical register numbers.
	Fields struct {
		RT, RA, RB, RC int
		Imm            int32
	}

	layout struct {
		fields Field

		rt, ra, rb, rc int // bit offsets

		imm     int
		immBits int
	}
)

const (
	FieldRT Field = 1 << iota
	FieldRA
	FieldRB
	FieldRC
	FieldImm
)

const regBits = 7

var layouts = [numFormats]layout{
	RR:         {fields: FieldRT | FieldRA | FieldRB, rt: 0, ra: 7, rb: 14},
	RRR:        {fields: FieldRT | FieldRA | FieldRB | FieldRC, rc: 0, ra: 7, rb: 14, rt: 21},
	RR2:        {fields: FieldRT | FieldRA, rt: 0, ra: 7},
	R1:         {fields: FieldRA, ra: 7},
	RI7:        {fields: FieldRT | FieldRA | FieldImm, rt: 0, ra: 7, imm: 14, immBits: 7},
	RI8:        {fields: FieldRT | FieldRA | FieldImm, rt: 0, ra: 7, imm: 14, immBits: 8},
	RI10:       {fields: FieldRT | FieldRA | FieldImm, rt: 0, ra: 7, imm: 14, immBits: 10},
	RI14:       {fields: FieldImm, imm: 0, immBits: 14},
	RI16:       {fields: FieldRT | FieldImm, rt: 0, imm: 7, immBits: 16},
	RI16NoRegs: {fields: FieldImm, imm: 7, immBits: 16},
	RI18:       {fields: FieldRT | FieldImm, rt: 0, imm: 7, immBits: 18},
	Chan:       {fields: FieldRT | FieldImm, rt: 0, imm: 7, immBits: 7},
	Weird:      {},
}

// assembler operand order
var operandOrder = [numFormats][]Field{
	RR:         {FieldRT, FieldRA, FieldRB},
	RRR:        {FieldRT, FieldRA, FieldRB, FieldRC},
	RR2:        {FieldRT, FieldRA},
	R1:         {FieldRA},
	RI7:        {FieldRT, FieldRA, FieldImm},
	RI8:        {FieldRT, FieldRA, FieldImm},
	RI10:       {FieldRT, FieldRA, FieldImm},
	RI14:       {FieldImm},
	RI16:       {FieldRT, FieldImm},
	RI16NoRegs: {FieldImm},
	RI18:       {FieldRT, FieldImm},
	Chan:       {FieldRT, FieldImm},
	Weird:      nil,
}

var lookup [33]map[uint32]Op // width -> pattern -> op

var lookupWidths = []int{11, 10, 9, 8, 7, 4}

func init() {
	for op := Invalid + 1; op < numOps; op++ {
		o := &catalog[op]
		if o.Format == Custom {
			continue
		}

		w := o.Width()

		if lookup[w] == nil {
			lookup[w] = map[uint32]Op{}
		}

		lookup[w][o.Pattern] = op
	}
}

// Has reports whether the format encodes the field.
func (f Format) Has(x Field) bool {
	if f <= InvalidFormat || f >= numFormats {
		return false
	}

	return layouts[f].fields&x != 0
}

// ImmBits is the width of the immediate field or 0.
func (f Format) ImmBits() int {
	if f <= InvalidFormat || f >= numFormats {
		return 0
	}

	return layouts[f].immBits
}

// Operands lists the operand fields in assembler order.
func (o *Opcode) Operands() []Field {
	if o.Format == Custom {
		return operandOrder[o.Shape]
	}

	return operandOrder[o.Format]
}

// Has reports whether the instruction takes the operand, pseudo ops included.
func (o *Opcode) Has(x Field) bool {
	for _, f := range o.Operands() {
		if f == x {
			return true
		}
	}

	return false
}

// ImmRange returns the inclusive immediate range of the opcode.
func (o *Opcode) ImmRange() (lo, hi int64) {
	bits := o.Format.ImmBits()
	if bits == 0 {
		return 0, 0
	}

	if o.Is(Unsigned) {
		return 0, 1<<bits - 1
	}

	return -(1 << (bits - 1)), 1<<(bits-1) - 1
}

// Encode builds the machine word for op. Pseudo ops are expanded first.
func Encode(op Op, f Fields) (w uint32, err error) {
	o := Get(op)

	if o.Format == Custom {
		op, f = o.Expand(f)
		o = Get(op)
	}

	l := &layouts[o.Format]

	w = o.Pattern << (32 - o.Width())

	reg := func(name string, x Field, r, shift int) {
		if err != nil || l.fields&x == 0 {
			return
		}

		if r < 0 || r >= NumRegs {
			err = errors.New("%v: register %s out of range: %d", op, name, r)
			return
		}

		w |= uint32(r) << shift
	}

	reg("rt", FieldRT, f.RT, l.rt)
	reg("ra", FieldRA, f.RA, l.ra)
	reg("rb", FieldRB, f.RB, l.rb)
	reg("rc", FieldRC, f.RC, l.rc)

	if err != nil {
		return 0, err
	}

	if l.fields&FieldImm != 0 {
		lo, hi := o.ImmRange()

		if v := int64(f.Imm); v < lo || v > hi {
			return 0, errors.New("%v: immediate %d out of range [%d, %d]", op, f.Imm, lo, hi)
		}

		mask := uint32(1)<<l.immBits - 1

		w |= (uint32(f.Imm) & mask) << l.imm
	}

	return w, nil
}

// DecodeFields extracts the operand fields of a word encoded as op.
// Pseudo ops decode as their expansion.
func DecodeFields(op Op, w uint32) (f Fields) {
	o := Get(op)

	if o.Format == Custom {
		op, _ = o.Expand(Fields{})
		o = Get(op)
	}

	l := &layouts[o.Format]

	const rmask = 1<<regBits - 1

	if l.fields&FieldRT != 0 {
		f.RT = int(w >> l.rt & rmask)
	}
	if l.fields&FieldRA != 0 {
		f.RA = int(w >> l.ra & rmask)
	}
	if l.fields&FieldRB != 0 {
		f.RB = int(w >> l.rb & rmask)
	}
	if l.fields&FieldRC != 0 {
		f.RC = int(w >> l.rc & rmask)
	}

	if l.fields&FieldImm != 0 {
		v := w >> l.imm & (1<<l.immBits - 1)

		if !o.Is(Unsigned) && v&(1<<(l.immBits-1)) != 0 {
			v |= ^uint32(0) << l.immBits
		}

		f.Imm = int32(v)
	}

	return f
}

// Lookup finds the opcode a raw word was encoded with.
func Lookup(w uint32) (Op, bool) {
	for _, width := range lookupWidths {
		op, ok := lookup[width][w>>(32-width)]
		if !ok {
			continue
		}

		if catalog[op].Format == Weird && w != catalog[op].Pattern<<(32-width) {
			continue
		}

		return op, true
	}

	return Invalid, false
}

// Decode is Lookup followed by DecodeFields.
func Decode(w uint32) (Op, Fields, bool) {
	op, ok := Lookup(w)
	if !ok {
		return Invalid, Fields{}, false
	}

	return op, DecodeFields(op, w), true
}

func (f Field) String() string {
	switch f {
	case FieldRT:
		return "rt"
	case FieldRA:
		return "ra"
	case FieldRB:
		return "rb"
	case FieldRC:
		return "rc"
	case FieldImm:
		return "imm"
	default:
		return fmt.Sprintf("Field(%#x)", uint8(f))
	}
}
