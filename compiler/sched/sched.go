package sched

import (
	"context"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/spu/compiler/ir"
	"github.com/slowlang/spu/compiler/spu"
)

type (
	scheduler struct {
		*Graph

		// ready waits for the issuing latency to elapse,
		// issuable holds instructions free to go, one heap per pipeline.
		ready    heap.Heap[int]
		issuable [3]heap.Heap[int]

		out []int
	}
)

// Schedule reorders every block of the routine.
func Schedule(ctx context.Context, r *ir.Routine) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "schedule", "routine", r.Name, "blocks", len(r.Blocks))
	defer tr.Finish("err", &err)

	for b := range r.Blocks {
		_, err = ScheduleBlock(ctx, r, ir.BlockID(b))
		if err != nil {
			return errors.Wrap(err, "block %v", r.Blocks[b].Name)
		}
	}

	return nil
}

// ScheduleBlock reorders the block in place and returns the dependency graph it used.
func ScheduleBlock(ctx context.Context, r *ir.Routine, b ir.BlockID) (g *Graph, err error) {
	g, err = Build(ctx, r, b)
	if err != nil {
		return nil, errors.Wrap(err, "dependencies")
	}

	if len(g.Code) == 0 {
		return g, nil
	}

	s := &scheduler{Graph: g}

	order := s.run()

	code := make([]ir.InstrID, len(order))
	for i, pos := range order {
		code[i] = g.Code[pos]
	}

	if tr := tlog.SpanFromContext(ctx); tr.If("dump_sched") {
		tr.Printw("scheduled", "block", r.Block(b).Name, "order", order)
	}

	err = r.Relink(b, code)
	if err != nil {
		return nil, errors.Wrap(err, "relink")
	}

	return g, nil
}

// Order returns positions in issue order without touching the block.
func (g *Graph) Order() []int {
	s := &scheduler{Graph: g}

	return s.run()
}

func (s *scheduler) run() []int {
	n := len(s.Code)

	last := -1
	if s.Routine.Terminator(s.Block) != ir.Nil {
		last = n - 1
	}

	s.ready = heap.Heap[int]{Less: s.readyLess}
	for p := range s.issuable {
		s.issuable[p] = heap.Heap[int]{Less: s.issuableLess}
	}

	for i := range s.Info {
		s.Info[i].Unresolved = s.Info[i].Deps
		s.Info[i].Satisfied = 0
		s.Info[i].Stall = 0

		if i != last && s.Info[i].Deps == 0 {
			s.issuable[s.pipe(i)].Push(i)
		}
	}

	s.out = make([]int, 0, n)

	todo := n
	if last >= 0 {
		todo--
	}

	for step := 0; len(s.out) < todo; step++ {
		want := spu.Even
		if step%2 == 1 {
			want = spu.Odd
		}

		s.tick()

		x, ok := s.pickIssuable(want)
		if !ok {
			x = s.pickReady(want)
		}

		s.issue(x, last)
	}

	if last >= 0 {
		s.out = append(s.out, last)
	}

	return s.out
}

// tick advances one cycle.
func (s *scheduler) tick() {
	for _, i := range s.ready.Data {
		s.Info[i].Stall--
	}

	for s.ready.Len() != 0 && s.Info[s.ready.Data[0]].Stall <= 0 {
		i := s.ready.Pop()
		s.issuable[s.pipe(i)].Push(i)
	}
}

func (s *scheduler) pickIssuable(want spu.Pipe) (int, bool) {
	best := -1

	for p := range s.issuable {
		h := &s.issuable[p]
		if h.Len() == 0 {
			continue
		}

		if x := h.Data[0]; best < 0 || s.better(x, best, want) {
			best = x
		}
	}

	if best < 0 {
		return -1, false
	}

	return s.issuable[s.pipe(best)].Pop(), true
}

// pickReady is a fallback when nothing is issuable: the instruction closest to ready goes.
func (s *scheduler) pickReady(want spu.Pipe) int {
	if s.ready.Len() == 0 {
		panic("dependency cycle")
	}

	stall := s.Info[s.ready.Data[0]].Stall

	var cand []int

	for s.ready.Len() != 0 && s.Info[s.ready.Data[0]].Stall == stall {
		cand = append(cand, s.ready.Pop())
	}

	best := 0

	for j := 1; j < len(cand); j++ {
		if s.better(cand[j], cand[best], want) {
			best = j
		}
	}

	for j, x := range cand {
		if j != best {
			s.ready.Push(x)
		}
	}

	return cand[best]
}

func (s *scheduler) issue(x, last int) {
	s.out = append(s.out, x)

	lat := s.latency(x)

	s.Info[x].Dependents.Range(func(d int) bool {
		in := &s.Info[d]

		in.Unresolved--
		in.Satisfied++

		if in.Unresolved == 0 && d != last {
			in.Stall = lat
			s.ready.Push(d)
		}

		return true
	})
}

// better compares candidates: priority, requested pipeline, original order.
func (s *scheduler) better(x, y int, want spu.Pipe) bool {
	if px, py := s.Info[x].Priority, s.Info[y].Priority; px != py {
		return px > py
	}

	if mx, my := s.pipe(x) == want, s.pipe(y) == want; mx != my {
		return mx
	}

	return s.seq(x) < s.seq(y)
}

func (s *scheduler) readyLess(d []int, i, j int) bool {
	x, y := d[i], d[j]

	if sx, sy := s.Info[x].Stall, s.Info[y].Stall; sx != sy {
		return sx < sy
	}

	if px, py := s.Info[x].Priority, s.Info[y].Priority; px != py {
		return px > py
	}

	return s.seq(x) < s.seq(y)
}

func (s *scheduler) issuableLess(d []int, i, j int) bool {
	x, y := d[i], d[j]

	if px, py := s.Info[x].Priority, s.Info[y].Priority; px != py {
		return px > py
	}

	return s.seq(x) < s.seq(y)
}
