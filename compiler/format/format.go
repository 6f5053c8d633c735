package format

import (
	"context"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/slowlang/spu/compiler/asm"
	"github.com/slowlang/spu/compiler/ir"
	"github.com/slowlang/spu/compiler/link"
	"github.com/slowlang/spu/compiler/live"
	"github.com/slowlang/spu/compiler/spu"
)

// Format appends the assembler text of x.
// The output of routines and files is accepted back by asm.Parse.
func Format(ctx context.Context, b []byte, x any) ([]byte, error) {
	return format(ctx, b, x, 0)
}

func format(ctx context.Context, b []byte, x any, d int) ([]byte, error) {
	switch x := x.(type) {
	case *asm.File:
		return formatFile(ctx, b, x, d)
	case *link.Code:
		n, _ := x.NumParams()
		return formatRoutine(ctx, b, x.Routine, n, d)
	case *ir.Routine:
		return formatRoutine(ctx, b, x, -1, d)
	case []spu.Line:
		return formatListing(b, x, d), nil
	default:
		return nil, errors.New("unsupported type: %T", x)
	}
}

func formatFile(ctx context.Context, b []byte, x *asm.File, d int) (_ []byte, err error) {
	for i, o := range x.Image.Objects() {
		if i != 0 {
			b = append(b, '\n')
		}

		switch o := o.(type) {
		case *link.Code:
			b, err = format(ctx, b, o, d)
		case *link.Blob:
			b = app(b, d, ".data %v", o.Name())

			for j, c := range o.Bytes() {
				if j%16 == 0 {
					b = append(b, ' ')
				}

				b = hfmt.Appendf(b, "%02x", c)
			}

			b = append(b, '\n')
		case *link.Spill:
			b = app(b, d, ".spill %v %d\n", o.Name(), o.Count())
		case *link.Splice:
			b, err = formatSplice(b, o, d)
		default:
			err = errors.New("unsupported object: %T", o)
		}

		if err != nil {
			return nil, errors.Wrap(err, "object %v", o.Name())
		}
	}

	return b, nil
}

func formatRoutine(ctx context.Context, b []byte, r *ir.Routine, params, d int) (_ []byte, err error) {
	b = app(b, d, ".routine %v", r.Name)

	if params >= 0 {
		b = hfmt.Appendf(b, " %d", params)
	}

	b = append(b, '\n')

	for bid := range r.Blocks {
		b = app(b, d, "%v:\n", r.Blocks[bid].Name)

		for _, id := range r.Code(ir.BlockID(bid)) {
			b, err = Instr(b, r, r.Instr(id), d+1)
			if err != nil {
				return nil, errors.Wrap(err, "block %v", r.Blocks[bid].Name)
			}
		}
	}

	return b, nil
}

func formatSplice(b []byte, s *link.Splice, d int) (_ []byte, err error) {
	b = app(b, d, ".patch %v\n", s.Name())

	raw := s.Raw()

	for i := 0; i < len(raw); i += 4 {
		b = app(b, d, ".word")

		for _, w := range raw[i:min(i+4, len(raw))] {
			b = hfmt.Appendf(b, " 0x%08x", w)
		}

		b = append(b, '\n')
	}

	r := s.Routine()
	code := r.Code(0)

	k := 0

	for _, p := range s.Regions() {
		b = app(b, d, ".seek %d\n", p.Offset)

		for j := 0; j < p.Count; j++ {
			b, err = Instr(b, r, r.Instr(code[k]), d+1)
			if err != nil {
				return nil, err
			}

			k++
		}
	}

	return b, nil
}

// Instr appends one instruction line.
func Instr(b []byte, r *ir.Routine, x *ir.Instr, d int) ([]byte, error) {
	if !x.Op.Valid() {
		return nil, errors.New("invalid opcode: %v", x.Op)
	}

	o := x.Opcode()

	b = app(b, d, "%v", o.Name)

	for i, f := range o.Operands() {
		if i == 0 {
			b = append(b, ' ')
		} else {
			b = append(b, ", "...)
		}

		switch {
		case f != spu.FieldImm:
			b = append(b, r.RegName(slot(x, f))...)
		case x.Target.Kind == ir.BlockTarget:
			b = append(b, r.Blocks[x.Target.Block].Name...)
		case x.Target.Kind == ir.ObjectTarget:
			b = append(b, '@')
			b = append(b, x.Target.Object.Name()...)
		default:
			b = hfmt.Appendf(b, "%d", x.Imm)
		}
	}

	if len(x.Params) != 0 {
		b = append(b, " ("...)

		for i, p := range x.Params {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = append(b, r.RegName(p)...)
		}

		b = append(b, ')')
	}

	b = append(b, '\n')

	return b, nil
}

// Listing appends disassembly lines.
func Listing(b []byte, lines []spu.Line) []byte {
	return formatListing(b, lines, 0)
}

func formatListing(b []byte, lines []spu.Line, d int) []byte {
	for _, l := range lines {
		b = app(b, d, "")
		b = l.AppendText(b)
		b = append(b, '\n')
	}

	return b
}

// Intervals appends one line per live interval.
func Intervals(b []byte, r *ir.Routine, iv []live.Interval) []byte {
	for _, v := range iv {
		b = hfmt.Appendf(b, "%-8v [%d, %d]\n", r.RegName(v.Reg), v.Start, v.End)
	}

	return b
}

// Dataflow appends live-in and live-out sets of every instruction in layout order.
func Dataflow(b []byte, g *live.Graph) (_ []byte, err error) {
	r := g.Routine

	for i, id := range g.Order {
		n := &g.Nodes[i]

		b = hfmt.Appendf(b, "%4d  ", i)

		start := len(b)

		b, err = Instr(b, r, r.Instr(id), 0)
		if err != nil {
			return nil, err
		}

		b = b[:len(b)-1]

		for len(b)-start < 28 {
			b = append(b, ' ')
		}

		b = append(b, " in:"...)
		b = regs(b, r, n.In.Slice())
		b = append(b, "  out:"...)
		b = regs(b, r, n.Out.Slice())
		b = append(b, '\n')
	}

	return b, nil
}

func regs(b []byte, r *ir.Routine, l []ir.Reg) []byte {
	for _, reg := range l {
		b = append(b, ' ')
		b = append(b, r.RegName(reg)...)
	}

	return b
}

func slot(x *ir.Instr, f spu.Field) ir.Reg {
	switch f {
	case spu.FieldRT:
		return x.RT
	case spu.FieldRA:
		return x.RA
	case spu.FieldRB:
		return x.RB
	case spu.FieldRC:
		return x.RC
	default:
		return ir.NoReg
	}
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"
	b = append(b, tabs[:d]...)
	b = hfmt.Appendf(b, f, args...)
	return b
}
