package sched

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/spu/compiler/ir"
	"github.com/slowlang/spu/compiler/spu"
)

type callee struct {
	name string
	n    int
}

func (c callee) Name() string { return c.name }

func (c callee) NumParams() (int, bool) { return c.n, c.n >= 0 }

func TestLoadAddStore(t *testing.T) {
	ctx := context.Background()

	r := ir.NewRoutine("f")
	b := r.NewBlock("entry")
	l1 := r.NewBlock("L1")

	r0, r1, r2 := r.NewReg("r0"), r.NewReg("r1"), r.NewReg("r2")

	load := r.MustAdd(b, ir.Make(spu.LQD, r1, r0))
	add := r.MustAdd(b, ir.Make(spu.A, r2, r1, r1))
	store := r.MustAdd(b, ir.Make(spu.STQD, r2, r0))
	br := r.MustAdd(b, ir.Make(spu.BR))
	require.NoError(t, r.SetBlockTarget(br, l1))

	g, err := ScheduleBlock(ctx, r, b)
	require.NoError(t, err)

	assert.Equal(t, 0, g.Info[0].Deps)
	assert.Equal(t, 1, g.Info[1].Deps, "add depends on the load only")
	assert.True(t, g.DependsOn(1, 0))

	code := r.Code(b)

	assert.Equal(t, []ir.InstrID{load, add, store, br}, code)
}

func TestWriteAfterWrite(t *testing.T) {
	ctx := context.Background()

	r := ir.NewRoutine("f")
	b := r.NewBlock("")

	x, y, z := r.NewReg("x"), r.NewReg("y"), r.NewReg("z")

	first := r.MustAdd(b, ir.Make(spu.IL, x).WithImm(1))
	r.MustAdd(b, ir.Make(spu.IL, z).WithImm(7))
	second := r.MustAdd(b, ir.Make(spu.IL, x).WithImm(2))
	r.MustAdd(b, ir.Make(spu.MPY, y, x, x))

	g, err := ScheduleBlock(ctx, r, b)
	require.NoError(t, err)

	assert.True(t, g.DependsOn(2, 0))

	code := r.Code(b)

	assert.Less(t, index(code, first), index(code, second))
}

func TestTerminalStaysLast(t *testing.T) {
	ctx := context.Background()

	r := ir.NewRoutine("f")
	b := r.NewBlock("")

	x, y := r.NewReg("x"), r.NewReg("y")

	r.MustAdd(b, ir.Make(spu.IL, x).WithImm(1))
	r.MustAdd(b, ir.Make(spu.MPYI, y, x).WithImm(3))
	r.MustAdd(b, ir.Make(spu.FM, y, y, y))
	ret := r.MustAdd(b, ir.Make(spu.RET))

	_, err := ScheduleBlock(ctx, r, b)
	require.NoError(t, err)

	code := r.Code(b)
	assert.Equal(t, ret, code[len(code)-1])
}

func TestEmptyBlock(t *testing.T) {
	r := ir.NewRoutine("f")
	b := r.NewBlock("")

	g, err := ScheduleBlock(context.Background(), r, b)
	require.NoError(t, err)
	assert.Empty(t, g.Code)
	assert.Empty(t, r.Code(b))
}

func TestIndependentPrefersCriticalPath(t *testing.T) {
	ctx := context.Background()

	r := ir.NewRoutine("f")
	b := r.NewBlock("")

	a, c, d := r.NewReg("a"), r.NewReg("c"), r.NewReg("d")

	short := r.MustAdd(b, ir.Make(spu.IL, a).WithImm(1))
	long := r.MustAdd(b, ir.Make(spu.IL, c).WithImm(2))
	r.MustAdd(b, ir.Make(spu.FM, d, c, c))

	_, err := ScheduleBlock(ctx, r, b)
	require.NoError(t, err)

	code := r.Code(b)

	assert.Equal(t, long, code[0])
	assert.NotEqual(t, short, code[0])
}

func TestScheduleCall(t *testing.T) {
	ctx := context.Background()

	r := ir.NewRoutine("f")
	b := r.NewBlock("")

	// the first argument register is also the return register
	arg0, arg1, arg2 := r.Phys(spu.ArgReg(0)), r.Phys(spu.ArgReg(1)), r.Phys(spu.ArgReg(2))
	x := r.NewReg("x")

	r.MustAdd(b, ir.Make(spu.IL, arg1).WithImm(1))
	r.MustAdd(b, ir.Make(spu.IL, arg2).WithImm(2))

	call := r.MustAdd(b, ir.Make(spu.BRSL, r.Phys(spu.LR)))
	require.NoError(t, r.SetObjectTarget(call, callee{name: "g", n: 2}))

	r.MustAdd(b, ir.Make(spu.AI, x, r.Phys(spu.RetReg)).WithImm(1))
	r.MustAdd(b, ir.Make(spu.IL, arg0).WithImm(3))

	g, err := ScheduleBlock(ctx, r, b)
	require.NoError(t, err)

	assert.True(t, g.DependsOn(2, 0), "second argument register is read by the call")
	assert.False(t, g.DependsOn(2, 1), "the callee takes two arguments")
	assert.True(t, g.DependsOn(3, 2), "return value is written by the call")
	assert.True(t, g.DependsOn(4, 3), "write after read of the return register")

	pos := map[ir.InstrID]int{}
	for i, id := range r.Code(b) {
		pos[id] = i
	}

	assert.Less(t, pos[g.Code[0]], pos[call])
	assert.Less(t, pos[call], pos[g.Code[3]])
	assert.Less(t, pos[g.Code[3]], pos[g.Code[4]])
}

func TestScheduleRandom(t *testing.T) {
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(1))

	ops := []spu.Op{spu.A, spu.AI, spu.IL, spu.LQD, spu.STQD, spu.MPY, spu.SHUFB, spu.FM, spu.ROTQBY, spu.WRCH, spu.RDCH, spu.IOHL, spu.BRSL}

	for iter := 0; iter < 200; iter++ {
		r := ir.NewRoutine("f")
		b := r.NewBlock("")

		regs := make([]ir.Reg, 6, 9)
		for i := range regs {
			regs[i] = r.NewReg("")
		}

		regs = append(regs, r.Phys(spu.ArgReg(0)), r.Phys(spu.ArgReg(1)), r.Phys(spu.ArgReg(2)))

		n := rnd.Intn(20)

		for i := 0; i < n; i++ {
			op := ops[rnd.Intn(len(ops))]

			args := make([]ir.Reg, 4)
			for j := range args {
				args[j] = regs[rnd.Intn(len(regs))]
			}

			id := r.MustAdd(b, ir.Make(op, args...))

			if op == spu.BRSL {
				require.NoError(t, r.SetObjectTarget(id, callee{name: "g", n: rnd.Intn(4) - 1}))
			}
		}

		if rnd.Intn(2) == 0 {
			r.MustAdd(b, ir.Make(spu.RET))
		}

		orig := r.Code(b)

		g, err := ScheduleBlock(ctx, r, b)
		require.NoError(t, err)

		code := r.Code(b)
		require.ElementsMatch(t, orig, code)

		pos := make(map[ir.InstrID]int, len(code))
		for i, id := range code {
			pos[id] = i
		}

		for i := range orig {
			for j := i + 1; j < len(orig); j++ {
				if conflict(r, orig[i], orig[j]) {
					assert.Less(t, pos[orig[i]], pos[orig[j]], "iter %d: %d before %d", iter, i, j)
				}
			}
		}

		if r.Terminator(b) != ir.Nil {
			assert.Equal(t, orig[len(orig)-1], code[len(code)-1])
		}

		for i, in := range g.Info {
			lat := g.latency(i)

			assert.GreaterOrEqual(t, in.Priority, lat)

			in.Dependents.Range(func(d int) bool {
				assert.GreaterOrEqual(t, in.Priority, lat+g.Info[d].Priority)
				return true
			})
		}
	}
}

// conflict reports whether a and b must keep their relative order.
func conflict(r *ir.Routine, a, b ir.InstrID) bool {
	if ordered(r.Instr(a).Opcode()) && ordered(r.Instr(b).Opcode()) {
		return true
	}

	da, ua := r.Effects(a)
	db, ub := r.Effects(b)

	for _, x := range da {
		if contains(db, x) || contains(ub, x) {
			return true
		}
	}

	for _, x := range ua {
		if contains(db, x) {
			return true
		}
	}

	return false
}

func contains(l []ir.Reg, x ir.Reg) bool {
	return index(l, x) >= 0
}

func index[T comparable](l []T, x T) int {
	for i, y := range l {
		if y == x {
			return i
		}
	}

	return -1
}
