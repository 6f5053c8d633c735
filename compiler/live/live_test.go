package live

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/spu/compiler/ir"
	"github.com/slowlang/spu/compiler/spu"
)

type loop struct {
	r       *ir.Routine
	i, t, u ir.Reg
}

// entry: il i; loop: ai i, i, 1; il t; brnz i, loop; exit: ret
func makeLoop(t *testing.T) loop {
	r := ir.NewRoutine("loop")

	entry := r.NewBlock("entry")
	body := r.NewBlock("loop")
	exit := r.NewBlock("exit")

	l := loop{r: r, i: r.NewReg("i"), t: r.NewReg("t")}

	r.MustAdd(entry, ir.Make(spu.IL, l.i).WithImm(10))
	r.MustAdd(body, ir.Make(spu.AI, l.i, l.i).WithImm(-1))
	r.MustAdd(body, ir.Make(spu.IL, l.t).WithImm(5))
	br := r.MustAdd(body, ir.Make(spu.BRNZ, l.i))
	r.MustAdd(exit, ir.Make(spu.RET))

	require.NoError(t, r.SetBlockTarget(br, body))

	return l
}

func TestIntervalsStraight(t *testing.T) {
	r := ir.NewRoutine("f")
	b := r.NewBlock("")

	x, y, z := r.NewReg("x"), r.NewReg("y"), r.NewReg("z")

	r.MustAdd(b, ir.Make(spu.IL, x).WithImm(1))
	r.MustAdd(b, ir.Make(spu.AI, y, x).WithImm(1))
	r.MustAdd(b, ir.Make(spu.A, z, y, y))

	iv, order, err := Intervals(context.Background(), r)
	require.NoError(t, err)
	assert.Len(t, order, 3)

	assert.Equal(t, []Interval{
		{Reg: x, Start: 0, End: 1},
		{Reg: y, Start: 1, End: 2},
		{Reg: z, Start: 2, End: 2},
	}, iv)

	assert.True(t, iv[0].Overlaps(iv[1]))
	assert.False(t, iv[0].Overlaps(iv[2]))
}

func TestIntervalsBackwardBranch(t *testing.T) {
	l := makeLoop(t)

	iv, _, err := Intervals(context.Background(), l.r)
	require.NoError(t, err)

	got := map[ir.Reg]Interval{}
	for _, x := range iv {
		got[x.Reg] = x
	}

	assert.Equal(t, Interval{Reg: l.i, Start: 0, End: 3}, got[l.i])
	assert.Equal(t, Interval{Reg: l.t, Start: 1, End: 3}, got[l.t], "widened over the loop")

	for j := 1; j < len(iv); j++ {
		assert.LessOrEqual(t, iv[j-1].Start, iv[j].Start)
	}
}

func TestIntervalsUnsupported(t *testing.T) {
	for _, op := range []spu.Op{spu.BI, spu.BR} {
		r := ir.NewRoutine("f")
		b := r.NewBlock("")
		x := r.NewReg("x")

		r.MustAdd(b, ir.Make(spu.IL, x))

		if op == spu.BI {
			r.MustAdd(b, ir.Make(op, x))
		} else {
			r.MustAdd(b, ir.Make(op).WithImm(-1))
		}

		_, _, err := Intervals(context.Background(), r)

		var ue *UnsupportedError
		require.True(t, errors.As(err, &ue), "%v: %v", op, err)
		assert.Equal(t, op, ue.Op)
		assert.Equal(t, 2, ue.Seq)
	}
}

func TestIntervalsTailCall(t *testing.T) {
	r := ir.NewRoutine("f")
	b := r.NewBlock("")

	br := r.MustAdd(b, ir.Make(spu.BR))
	require.NoError(t, r.SetObjectTarget(br, object("g")))

	_, _, err := Intervals(context.Background(), r)
	assert.NoError(t, err)
}

func TestDataflowLoop(t *testing.T) {
	ctx := context.Background()
	l := makeLoop(t)

	g, err := Build(ctx, l.r)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 5)
	assert.Equal(t, []int{1}, g.Nodes[0].Succ)
	assert.ElementsMatch(t, []int{4, 1}, g.Nodes[3].Succ)
	assert.Empty(t, g.Nodes[4].Succ)

	passes := g.Solve(ctx)
	assert.GreaterOrEqual(t, passes, 2)

	in, out := g.LiveAt(3)
	assert.Contains(t, in, l.i)
	assert.Contains(t, out, l.i, "live around the back edge")

	assert.False(t, g.Nodes[2].Out.IsSet(l.t), "t is never used")

	in, _ = g.LiveAt(4)
	assert.ElementsMatch(t, []ir.Reg{l.r.Phys(spu.LR), l.r.Phys(spu.RetReg)}, in)

	ig := g.Interference(ctx)

	assert.True(t, ig.Interferes(l.t, l.i), "dead definition")
	assert.True(t, ig.Interferes(l.i, l.r.Phys(spu.RetReg)))
	assert.NotZero(t, ig.Edges())
}

func TestDataflowFixedPoint(t *testing.T) {
	ctx := context.Background()
	l := makeLoop(t)

	g, err := Build(ctx, l.r)
	require.NoError(t, err)

	g.Solve(ctx)

	before := make([]Node, len(g.Nodes))
	for i, nd := range g.Nodes {
		before[i] = Node{In: nd.In.Copy(), Out: nd.Out.Copy()}
	}

	assert.False(t, g.Step())

	for i, nd := range g.Nodes {
		assert.True(t, before[i].In.Equal(nd.In), "node %d in", i)
		assert.True(t, before[i].Out.Equal(nd.Out), "node %d out", i)
	}
}

func TestInterferenceSymmetric(t *testing.T) {
	ctx := context.Background()

	r := ir.NewRoutine("f")
	b := r.NewBlock("")

	regs := make([]ir.Reg, 5)
	for i := range regs {
		regs[i] = r.NewReg("")
	}

	r.MustAdd(b, ir.Make(spu.IL, regs[0]).WithImm(1))
	r.MustAdd(b, ir.Make(spu.IL, regs[1]).WithImm(2))
	r.MustAdd(b, ir.Make(spu.A, regs[2], regs[0], regs[1]))
	r.MustAdd(b, ir.Make(spu.IL, regs[3]).WithImm(3))
	r.MustAdd(b, ir.Make(spu.SELB, regs[4], regs[2], regs[3], regs[0]))
	r.MustAdd(b, ir.Make(spu.MOVE, r.Phys(spu.RetReg), regs[4]))
	r.MustAdd(b, ir.Make(spu.RET))

	g, err := Build(ctx, r)
	require.NoError(t, err)

	g.Solve(ctx)
	ig := g.Interference(ctx)

	all := ig.Regs()

	for _, a := range all {
		assert.False(t, ig.Interferes(a, a))

		for _, b := range all {
			assert.Equal(t, ig.Interferes(a, b), ig.Interferes(b, a), "%v %v", a, b)
		}
	}

	assert.True(t, ig.Interferes(regs[0], regs[1]))
	assert.True(t, ig.Interferes(regs[0], regs[3]), "regs[0] is read by selb")
	assert.False(t, ig.Interferes(regs[1], regs[3]), "regs[1] dies at a")
}

func TestInterferenceDeadDef(t *testing.T) {
	ctx := context.Background()

	r := ir.NewRoutine("f")
	b := r.NewBlock("")

	a, d := r.NewReg("a"), r.NewReg("d")

	r.MustAdd(b, ir.Make(spu.IL, a).WithImm(1))
	r.MustAdd(b, ir.Make(spu.IL, d).WithImm(2))
	r.MustAdd(b, ir.Make(spu.MOVE, r.Phys(spu.RetReg), a))
	r.MustAdd(b, ir.Make(spu.RET))

	g, err := Build(ctx, r)
	require.NoError(t, err)

	g.Solve(ctx)
	ig := g.Interference(ctx)

	for i, nd := range g.Nodes {
		assert.False(t, nd.In.IsSet(d), "node %d in", i)
		assert.False(t, nd.Out.IsSet(d), "node %d out", i)

		live := nd.In.Copy()
		live.Merge(nd.Out)

		regs := live.Slice()

		for j, x := range regs {
			for _, y := range regs[j+1:] {
				assert.True(t, ig.Interferes(x, y), "node %d: %v %v", i, x, y)
			}
		}
	}

	assert.True(t, ig.Interferes(d, a), "dead definition")
	assert.ElementsMatch(t, []ir.Reg{a, r.Phys(spu.LR)}, ig.Neighbours(d), "link register is live across it")
}

func TestDataflowIndirect(t *testing.T) {
	ctx := context.Background()

	r := ir.NewRoutine("f")
	b0 := r.NewBlock("")
	b1 := r.NewBlock("")

	x := r.NewReg("x")

	r.MustAdd(b0, ir.Make(spu.BI, x))
	r.MustAdd(b1, ir.Make(spu.RET))

	g, err := Build(ctx, r)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{0, 1}, g.Nodes[0].Succ)
}

type object string

func (o object) Name() string { return string(o) }
