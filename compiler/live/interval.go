package live

import (
	"context"
	"slices"

	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/spu/compiler/ir"
	"github.com/slowlang/spu/compiler/spu"
)

// Interval is the range of linear indexes a register is live across, inclusive.
type Interval struct {
	Reg        ir.Reg
	Start, End int
}

// Intervals computes live intervals over the routine in layout order.
// order is the instruction sequence the indexes refer to.
func Intervals(ctx context.Context, r *ir.Routine) (iv []Interval, order []ir.InstrID, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "live_intervals", "routine", r.Name)
	defer tr.Finish("err", &err)

	order, start := r.Linearize()

	idx := map[ir.Reg]int{}

	touch := func(reg ir.Reg, i int) {
		j, ok := idx[reg]
		if !ok {
			idx[reg] = len(iv)
			iv = append(iv, Interval{Reg: reg, Start: i, End: i})

			return
		}

		iv[j].End = i
	}

	for i, id := range order {
		x := r.Instr(id)

		defs, uses := r.Effects(id)

		for _, reg := range uses {
			touch(reg, i)
		}

		for _, reg := range defs {
			touch(reg, i)
		}

		t, err := linearTarget(r, x, start)
		if err != nil {
			return nil, nil, err
		}

		if t < 0 || t > i {
			continue
		}

		for j := range iv {
			if iv[j].End < t {
				continue
			}

			iv[j].Start = min(iv[j].Start, t)
			iv[j].End = max(iv[j].End, i)
		}

		if tr.If("dump_live") {
			tr.Printw("backward branch", "seq", x.Seq, "from", i, "to", t)
		}
	}

	slices.SortFunc(iv, func(a, b Interval) int {
		if a.Start != b.Start {
			return a.Start - b.Start
		}

		return int(a.Reg - b.Reg)
	})

	if tr.If("dump_live") {
		for _, x := range iv {
			tr.Printw("interval", "reg", r.RegName(x.Reg), "interval", x)
		}
	}

	return iv, order, nil
}

// linearTarget returns the linear index a branch may go to or -1.
func linearTarget(r *ir.Routine, x *ir.Instr, start []int) (int, error) {
	o := x.Opcode()

	if !o.Is(spu.Branch) || o.Is(spu.Return|spu.Stop) {
		return -1, nil
	}

	switch x.Target.Kind {
	case ir.BlockTarget:
		return start[x.Target.Block], nil
	case ir.ObjectTarget:
		return -1, nil
	}

	if !o.Has(spu.FieldImm) {
		return -1, unsupported(r, x, "indirect branch")
	}

	return -1, unsupported(r, x, "branch without a symbolic target")
}

// Overlaps reports whether two intervals share an index.
func (x Interval) Overlaps(y Interval) bool {
	return x.Start <= y.End && y.Start <= x.End
}

func (x Interval) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 3)

	b = e.AppendKeyInt(b, "reg", int(x.Reg))
	b = e.AppendKeyInt(b, "start", x.Start)
	b = e.AppendKeyInt(b, "end", x.End)

	return b
}
