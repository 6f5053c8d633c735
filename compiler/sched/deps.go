package sched

import (
	"context"

	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/spu/compiler/ir"
	"github.com/slowlang/spu/compiler/set"
	"github.com/slowlang/spu/compiler/spu"
)

type (
	// Info is per instruction scheduling state.
	// Instructions are referred to by their position in Graph.Code.
	Info struct {
		ID ir.InstrID

		Dependents set.Bits[int]

		Deps       int // number of predecessors
		Unresolved int // predecessors not yet issued
		Satisfied  int

		Priority int
		Stall    int
	}

	// Graph is the dependency graph of one block.
	Graph struct {
		Routine *ir.Routine
		Block   ir.BlockID

		Code []ir.InstrID
		Info []Info
	}
)

// Build records "a goes before b" edges between instructions of the block.
func Build(ctx context.Context, r *ir.Routine, b ir.BlockID) (g *Graph, err error) {
	g = &Graph{
		Routine: r,
		Block:   b,
		Code:    r.Code(b),
	}

	g.Info = make([]Info, len(g.Code))

	last := map[ir.Reg]int{}
	lastOrdered := -1

	edge := func(from, to int) {
		if from < 0 || from == to {
			return
		}

		if !g.Info[from].Dependents.Set(to) {
			return
		}

		g.Info[to].Deps++
	}

	for i, id := range g.Code {
		g.Info[i].ID = id

		if ordered(r.Instr(id).Opcode()) {
			edge(lastOrdered, i)
			lastOrdered = i
		}

		defs, uses := r.Effects(id)

		for _, reg := range uses {
			if p, ok := last[reg]; ok {
				edge(p, i)
			}
		}

		for _, reg := range defs {
			if p, ok := last[reg]; ok {
				edge(p, i)
			}
		}

		for _, reg := range uses {
			last[reg] = i
		}

		for _, reg := range defs {
			last[reg] = i
		}
	}

	for i := range g.Info {
		g.Info[i].Unresolved = g.Info[i].Deps
	}

	g.prioritize()

	if tr := tlog.SpanFromContext(ctx); tr.If("dump_deps") {
		for i := range g.Info {
			tr.Printw("deps", "block", r.Block(b).Name, "pos", i, "instr", *r.Instr(g.Code[i]), "info", g.Info[i])
		}
	}

	return g, nil
}

// prioritize computes critical path lengths.
// Dependents always follow their predecessors so a reverse walk visits them first.
func (g *Graph) prioritize() {
	for i := len(g.Info) - 1; i >= 0; i-- {
		in := &g.Info[i]

		p := 0

		in.Dependents.Range(func(d int) bool {
			p = max(p, g.Info[d].Priority)
			return true
		})

		in.Priority = g.latency(i) + p
	}
}

func (g *Graph) latency(i int) int {
	return g.Routine.Instr(g.Code[i]).Opcode().Latency
}

func (g *Graph) pipe(i int) spu.Pipe {
	return g.Routine.Instr(g.Code[i]).Opcode().Pipe
}

func (g *Graph) seq(i int) int {
	return g.Routine.Instr(g.Code[i]).Seq
}

// DependsOn reports whether there is a direct edge from a to b.
func (g *Graph) DependsOn(b, a int) bool {
	return g.Info[a].Dependents.IsSet(b)
}

// ordered instructions keep their relative order.
func ordered(o *spu.Opcode) bool {
	return o.Is(spu.MemRead | spu.MemWrite | spu.Channel | spu.Call | spu.Branch)
}

func (x Info) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 5)

	b = e.AppendKeyInt(b, "deps", x.Deps)
	b = e.AppendKeyInt(b, "unresolved", x.Unresolved)
	b = e.AppendKeyInt(b, "priority", x.Priority)
	b = e.AppendKeyInt(b, "stall", x.Stall)

	b = e.AppendKey(b, "dependents")
	b = x.Dependents.TlogAppend(b)

	return b
}
