package back

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/spu/compiler/ir"
	"github.com/slowlang/spu/compiler/link"
	"github.com/slowlang/spu/compiler/live"
	"github.com/slowlang/spu/compiler/sched"
)

type (
	Liveness int

	Config struct {
		Schedule bool
		Liveness Liveness

		Base int // image load address
	}

	Compiler struct {
		Config
	}

	// Routine is what the analysis produced for one routine.
	Routine struct {
		*ir.Routine

		Order     []ir.InstrID
		Intervals []live.Interval

		Flow         *live.Graph
		Passes       int
		Interference *live.Interference
	}
)

const (
	NoLiveness Liveness = iota
	Intervals
	Dataflow
)

func DefaultConfig() Config {
	return Config{
		Schedule: true,
		Liveness: Dataflow,
	}
}

func New(cfg Config) *Compiler {
	return &Compiler{Config: cfg}
}

// Analyze schedules the routine in place and computes liveness.
func (c *Compiler) Analyze(ctx context.Context, r *ir.Routine) (res *Routine, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "back: analyze routine", "name", r.Name, "blocks", len(r.Blocks), "instrs", r.Len())
	defer tr.Finish("err", &err)

	if tr.If("dump_block") {
		for b := range r.Blocks {
			for _, id := range r.Code(ir.BlockID(b)) {
				tr.Printw("instr", "block", r.Blocks[b].Name, "instr", *r.Instr(id))
			}
		}
	}

	if c.Schedule {
		err = sched.Schedule(ctx, r)
		if err != nil {
			return nil, errors.Wrap(err, "schedule")
		}
	}

	res = &Routine{Routine: r}

	switch c.Liveness {
	case Intervals:
		res.Intervals, res.Order, err = live.Intervals(ctx, r)
		if err != nil {
			return nil, errors.Wrap(err, "intervals")
		}
	case Dataflow:
		res.Flow, err = live.Build(ctx, r)
		if err != nil {
			return nil, errors.Wrap(err, "flow graph")
		}

		res.Order = res.Flow.Order
		res.Passes = res.Flow.Solve(ctx)
		res.Interference = res.Flow.Interference(ctx)
	default:
		res.Order, _ = r.Linearize()
	}

	return res, nil
}

// Link assembles code objects of the image, lays it out and patches it.
// alloc maps each routine's registers to physical ones.
func (c *Compiler) Link(ctx context.Context, m *link.Image, alloc func(r *ir.Routine) link.Alloc) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "back: link", "objects", len(m.Objects()), "base", c.Base)
	defer tr.Finish("err", &err)

	if alloc == nil {
		alloc = link.PhysAlloc
	}

	for _, o := range m.Objects() {
		code, ok := o.(*link.Code)
		if !ok {
			continue
		}

		err = code.Assemble(ctx, alloc(code.Routine))
		if err != nil {
			return errors.Wrap(err, "assemble %v", code.Name())
		}
	}

	err = m.Layout(ctx, c.Base)
	if err != nil {
		return errors.Wrap(err, "layout")
	}

	err = m.Patch(ctx)
	if err != nil {
		return errors.Wrap(err, "patch")
	}

	return nil
}

func (l Liveness) String() string {
	switch l {
	case Intervals:
		return "intervals"
	case Dataflow:
		return "dataflow"
	default:
		return "none"
	}
}
