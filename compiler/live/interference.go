package live

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/spu/compiler/ir"
	"github.com/slowlang/spu/compiler/set"
)

// Interference is an undirected graph over registers
// live at the same program point.
type Interference struct {
	regs set.Bits[ir.Reg]
	adj  map[ir.Reg]*set.Bits[ir.Reg]
}

// Interference builds the graph from solved live sets.
// Every pair of registers in In ∪ Out of a node interferes.
// On top of that a definition interferes with everything live out of its node,
// so a dead definition still gets edges. The result is a superset of
// the pure In ∪ Out construction and never misses one of its edges.
func (g *Graph) Interference(ctx context.Context) *Interference {
	ig := &Interference{
		adj: map[ir.Reg]*set.Bits[ir.Reg]{},
	}

	for _, nd := range g.Nodes {
		live := nd.In.Copy()
		live.Merge(nd.Out)

		regs := live.Slice()

		for i, a := range regs {
			ig.regs.Set(a)

			for _, b := range regs[i+1:] {
				ig.add(a, b)
			}
		}

		nd.Defs.Range(func(d ir.Reg) bool {
			ig.regs.Set(d)

			nd.Out.Range(func(o ir.Reg) bool {
				ig.add(d, o)
				return true
			})

			return true
		})

		nd.Uses.Range(func(u ir.Reg) bool {
			ig.regs.Set(u)
			return true
		})
	}

	if tr := tlog.SpanFromContext(ctx); tr.If("dump_graph") {
		ig.regs.Range(func(a ir.Reg) bool {
			tr.Printw("interference", "reg", g.Routine.RegName(a), "with", ig.Neighbours(a))
			return true
		})
	}

	return ig
}

func (ig *Interference) add(a, b ir.Reg) {
	if a == b {
		return
	}

	ig.row(a).Set(b)
	ig.row(b).Set(a)
}

func (ig *Interference) row(a ir.Reg) *set.Bits[ir.Reg] {
	s := ig.adj[a]
	if s == nil {
		s = &set.Bits[ir.Reg]{}
		ig.adj[a] = s
	}

	return s
}

// Interferes reports whether a and b can't share a physical register.
func (ig *Interference) Interferes(a, b ir.Reg) bool {
	s := ig.adj[a]

	return s != nil && s.IsSet(b)
}

// Neighbours returns registers interfering with a in increasing order.
func (ig *Interference) Neighbours(a ir.Reg) []ir.Reg {
	s := ig.adj[a]
	if s == nil {
		return nil
	}

	return s.Slice()
}

// Regs returns every register mentioned by the routine.
func (ig *Interference) Regs() []ir.Reg {
	return ig.regs.Slice()
}

// Edges is the number of undirected edges.
func (ig *Interference) Edges() (n int) {
	for _, s := range ig.adj {
		n += s.Size()
	}

	return n / 2
}
