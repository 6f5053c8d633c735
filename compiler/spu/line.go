package spu

import (
	"strconv"

	"github.com/nikandfor/hacked/hfmt"
)

// Line is one disassembled word of a listing.
type Line struct {
	Offset int
	Word   uint32

	Op     Op // Invalid for data
	Fields Fields

	Target string // symbolic destination if known
}

// Disasm decodes w found at off.
func Disasm(off int, w uint32) Line {
	l := Line{Offset: off, Word: w}

	if op, f, ok := Decode(w); ok {
		l.Op = op
		l.Fields = f
	}

	return l
}

func (l Line) Mnemonic() string {
	if !l.Op.Valid() {
		return ".word"
	}

	return l.Op.String()
}

// Operands formats operands in assembler order.
func (l Line) Operands() []string {
	if !l.Op.Valid() {
		return []string{"0x" + strconv.FormatUint(uint64(l.Word), 16)}
	}

	o := Get(l.Op)
	ops := o.Operands()
	r := make([]string, 0, len(ops))

	for _, f := range ops {
		switch f {
		case FieldRT:
			r = append(r, reg(l.Fields.RT))
		case FieldRA:
			r = append(r, reg(l.Fields.RA))
		case FieldRB:
			r = append(r, reg(l.Fields.RB))
		case FieldRC:
			r = append(r, reg(l.Fields.RC))
		case FieldImm:
			r = append(r, strconv.Itoa(int(l.Fields.Imm)))
		}
	}

	return r
}

func (l Line) String() string {
	return string(l.AppendText(nil))
}

func (l Line) AppendText(b []byte) []byte {
	b = hfmt.Appendf(b, "%06x  %08x  %-8s", l.Offset, l.Word, l.Mnemonic())

	for i, op := range l.Operands() {
		if i != 0 {
			b = append(b, ", "...)
		} else {
			b = append(b, ' ')
		}

		b = append(b, op...)
	}

	if l.Target != "" {
		b = append(b, "  ; "...)
		b = append(b, l.Target...)
	}

	return b
}

func reg(n int) string {
	return "$" + strconv.Itoa(n)
}
