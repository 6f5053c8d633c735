package live

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/spu/compiler/ir"
	"github.com/slowlang/spu/compiler/set"
	"github.com/slowlang/spu/compiler/spu"
)

type (
	Node struct {
		ID   ir.InstrID
		Succ []int

		Defs, Uses set.Bits[ir.Reg]
		In, Out    set.Bits[ir.Reg]
	}

	// Graph is the control flow graph of a routine, one node per instruction
	// in layout order.
	Graph struct {
		Routine *ir.Routine

		Order []ir.InstrID
		Nodes []Node
	}
)

// Build makes the flow graph. Indirect branches may go to any block.
func Build(ctx context.Context, r *ir.Routine) (g *Graph, err error) {
	order, start := r.Linearize()

	g = &Graph{
		Routine: r,
		Order:   order,
		Nodes:   make([]Node, len(order)),
	}

	n := len(order)

	for i, id := range order {
		x := r.Instr(id)
		o := x.Opcode()
		nd := &g.Nodes[i]

		nd.ID = id

		defs, uses := r.Effects(id)

		nd.Defs.SetAll(defs...)
		nd.Uses.SetAll(uses...)

		succ := func(j int) {
			if j < n && !contains(nd.Succ, j) {
				nd.Succ = append(nd.Succ, j)
			}
		}

		switch {
		case !o.Is(spu.Branch):
			succ(i + 1)
			continue
		case o.Is(spu.Return | spu.Stop):
			continue
		}

		if o.Is(spu.RtRead) {
			succ(i + 1) // conditional
		}

		switch x.Target.Kind {
		case ir.BlockTarget:
			succ(start[x.Target.Block])
		case ir.ObjectTarget:
		default:
			if o.Has(spu.FieldImm) {
				return nil, unsupported(r, x, "branch without a symbolic target")
			}

			for _, s := range start {
				succ(s)
			}
		}
	}

	if tr := tlog.SpanFromContext(ctx); tr.If("dump_graph") {
		for i, nd := range g.Nodes {
			tr.Printw("flow node", "i", i, "instr", *r.Instr(nd.ID), "succ", nd.Succ, "defs", nd.Defs, "uses", nd.Uses)
		}
	}

	return g, nil
}

// Solve iterates the backward liveness equations to a fixed point.
// It returns the number of passes made, the last one changing nothing.
func (g *Graph) Solve(ctx context.Context) (passes int) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "live_solve", "routine", g.Routine.Name, "nodes", len(g.Nodes))
	defer func() {
		tr.Finish("passes", passes)
	}()

	for {
		passes++

		if !g.Step() {
			break
		}
	}

	if tr.If("dump_live") {
		for i, nd := range g.Nodes {
			tr.Printw("live", "i", i, "seq", g.Routine.Instr(nd.ID).Seq, "in", nd.In, "out", nd.Out)
		}
	}

	return passes
}

// Step makes one pass over all nodes and reports whether any set changed.
func (g *Graph) Step() (changed bool) {
	for i := len(g.Nodes) - 1; i >= 0; i-- {
		nd := &g.Nodes[i]

		var out set.Bits[ir.Reg]

		for _, s := range nd.Succ {
			out.Merge(g.Nodes[s].In)
		}

		in := out.Copy()
		in.Subtract(nd.Defs)
		in.Merge(nd.Uses)

		if !out.Equal(nd.Out) || !in.Equal(nd.In) {
			changed = true
		}

		nd.Out = out
		nd.In = in
	}

	return changed
}

// LiveAt returns registers live into and out of the i-th node.
func (g *Graph) LiveAt(i int) (in, out []ir.Reg) {
	return g.Nodes[i].In.Slice(), g.Nodes[i].Out.Slice()
}

func contains(l []int, x int) bool {
	for _, y := range l {
		if y == x {
			return true
		}
	}

	return false
}
