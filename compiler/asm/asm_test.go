package asm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/spu/compiler/ir"
	"github.com/slowlang/spu/compiler/link"
	"github.com/slowlang/spu/compiler/spu"
)

const loopSrc = `
; sum of n..1
.routine main
entry:
	il %n, 10
	il %acc, 0
loop:
	a %acc, %acc, %n   # accumulate
	ai %n, %n, -1
	brnz %n, loop
	move $3, %acc
	brsl $0, @inc
	lqa $4, @table
	ret

.routine inc 2
	ai $3, $3, 1
	ret

.data table 00010203 0x04050607
.spill saves 2
`

func TestParseRoutines(t *testing.T) {
	f, err := Parse(context.Background(), "loop.s", []byte(loopSrc))
	require.NoError(t, err)

	require.Len(t, f.Routines, 2)
	require.Len(t, f.Codes, 2)

	m := f.Routines[0]
	assert.Equal(t, "main", m.Name)
	assert.Equal(t, 9, m.Len())

	require.Len(t, m.Blocks, 3)
	assert.Equal(t, "entry", m.Blocks[0].Name)
	assert.Equal(t, "loop", m.Blocks[1].Name)
	assert.Equal(t, "b2", m.Blocks[2].Name)

	assert.Equal(t, []spu.Op{spu.IL, spu.IL}, ops(m, 0))
	assert.Equal(t, []spu.Op{spu.A, spu.AI, spu.BRNZ}, ops(m, 1))
	assert.Equal(t, []spu.Op{spu.MOVE, spu.BRSL, spu.LQA, spu.RET}, ops(m, 2))

	brnz := m.Instr(m.Blocks[1].Tail)
	assert.Equal(t, ir.BlockTarget, brnz.Target.Kind)
	assert.Equal(t, ir.BlockID(1), brnz.Target.Block)
	assert.Equal(t, "%n", m.RegName(brnz.RT))

	a := m.Instr(m.Blocks[1].Head)
	assert.Equal(t, "%acc", m.RegName(a.RT))
	assert.Equal(t, a.RT, a.RA)

	code := m.Code(2)

	call := m.Instr(code[1])
	require.Equal(t, ir.ObjectTarget, call.Target.Kind)
	assert.Equal(t, "inc", call.Target.Object.Name())
	assert.Equal(t, 2, ir.CallArgs(call))

	lqa := m.Instr(code[2])
	require.Equal(t, ir.ObjectTarget, lqa.Target.Kind)
	assert.Equal(t, "table", lqa.Target.Object.Name())

	n, ok := f.Codes[1].NumParams()
	assert.True(t, ok)
	assert.Equal(t, 2, n)

	n, ok = f.Codes[0].NumParams()
	assert.False(t, ok)
	assert.Equal(t, -1, n)

	var names []string
	for _, o := range f.Image.Objects() {
		names = append(names, o.Name())
	}

	assert.Equal(t, []string{"main", "inc", "table", "saves"}, names)

	tab, ok := f.Image.Object("table")
	require.True(t, ok)
	assert.Equal(t, spu.Align, tab.Size())
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, tab.Bytes()[:8])

	saves, ok := f.Image.Object("saves")
	require.True(t, ok)
	assert.Equal(t, 32, saves.Size())
}

func TestParseParams(t *testing.T) {
	f, err := Parse(context.Background(), "params.s", []byte(`
.routine f
	il %a, 1
	il %b, 2
	brsl $0, @g (%a, %b)
	ret
.routine g
	ret
`))
	require.NoError(t, err)

	r := f.Routines[0]
	call := r.Instr(r.Blocks[0].Head + 2)

	require.Equal(t, spu.BRSL, call.Op)
	require.Len(t, call.Params, 2)
	assert.Equal(t, "%a", r.RegName(call.Params[0]))
	assert.Equal(t, "%b", r.RegName(call.Params[1]))
}

func TestParseLink(t *testing.T) {
	ctx := context.Background()

	f, err := Parse(ctx, "link.s", []byte(`
.routine main
	il $3, 5
	brsl $0, @inc
	ila $5, @table
	ret
.routine inc 1
	ai $3, $3, 1
	ret
.data table 0001020304
`))
	require.NoError(t, err)

	for _, c := range f.Codes {
		err = c.Assemble(ctx, link.PhysAlloc(c.Routine))
		require.NoError(t, err)
	}

	err = f.Image.Layout(ctx, 0)
	require.NoError(t, err)

	err = f.Image.Patch(ctx)
	require.NoError(t, err)

	assert.Equal(t, []uint32{0x40800283, 0x33000180, 0x42001005, 0x35000000}, f.Codes[0].Words())
	assert.Equal(t, []uint32{0x1c004183, 0x35000000, 0x40200000, 0x40200000}, f.Codes[1].Words())

	b, err := f.Image.Bytes()
	require.NoError(t, err)
	require.Len(t, b, 48)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 0}, b[32:38])
}

func TestParsePatch(t *testing.T) {
	ctx := context.Background()

	f, err := Parse(ctx, "patch.s", []byte(`
.patch boot
.word 0x40200000 0x40200000 0x40200000 0x40200000
.word 0x40200000 0x40200000 0x40200000 0x40200000
.seek 4
	il $3, 7
	brsl $0, @inc
.seek 16
	lnop
.routine inc
	ai $3, $3, 1
	ret
`))
	require.NoError(t, err)

	require.Len(t, f.Splices, 1)
	require.Len(t, f.Codes, 1)

	err = f.Codes[0].Assemble(ctx, link.PhysAlloc(f.Codes[0].Routine))
	require.NoError(t, err)

	err = f.Image.Layout(ctx, 0)
	require.NoError(t, err)

	err = f.Image.Patch(ctx)
	require.NoError(t, err)

	nop := uint32(0x40200000)

	assert.Equal(t, []uint32{nop, 0x40800383, 0x33000300, nop, 0x00200000, nop, nop, nop}, f.Splices[0].Words())
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  string
		line int
		err  string
	}{
		{"unknown_instr", ".routine f\n\tbogus $1\n", 2, "unknown instruction"},
		{"outside", "\tai $3, $3, 1\n", 1, "outside of .routine"},
		{"undefined_label", ".routine f\n\tbr nowhere\n", 2, "undefined label nowhere"},
		{"imm_range", ".routine f\n\tai $3, $3, 1000\n", 2, "out of range"},
		{"operands", ".routine f\n\ta $3, $4\n", 2, "expected 3 operands"},
		{"redefined", ".routine f\nx:\nx:\n", 3, "redefined"},
		{"bad_reg", ".routine f\n\ta $3, $4, $300\n", 2, "bad register"},
		{"no_such_reg", ".routine f\n\ta $3, $4, $130\n", 2, "no such register"},
		{"directive", ".bogus\n", 1, "unknown directive"},
		{"patch_no_seek", ".patch p\n.word 0x40200000\n\tnop\n", 3, "before .seek"},
		{"seek_end", ".patch p\n.word 0x40200000\n.seek 4\n", 3, "bad seek offset"},
		{"virt_in_patch", ".patch p\n.word 0x40200000\n.seek 0\n\tmove $3, %a\n", 4, "virtual register"},
		{"unclosed", ".routine f\n\tbrsl $0, @g (%a, %b\n", 2, "unclosed"},
		{"params_non_call", ".routine f\n\tai $3, $3, 1 (%a)\n", 2, "parameter list on a non-call"},
		{"hex", ".data d 0x123\n", 1, "data"},
		{"duplicate", ".routine f\n\tret\n.routine f\n\tret\n", 4, "duplicate symbol"},
		{"punct", "\t, $3\n", 1, "unexpected token"},
		{"word_outside", ".word 1\n", 1, ".word outside of .patch"},
	} {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(context.Background(), "bad.s", []byte(tc.src))
			require.Error(t, err)

			var pe *ParseError
			require.ErrorAs(t, err, &pe)

			assert.Equal(t, "bad.s", pe.File)
			assert.Equal(t, tc.line, pe.Line)
			assert.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestTokens(t *testing.T) {
	toks, err := tokens([]byte("  brsl $0, @f (%x) ; call"))
	require.NoError(t, err)

	assert.Equal(t, []token{
		ident("brsl"), phys(0), punct(','), symbol("f"),
		punct('('), virt("x"), punct(')'),
	}, toks)

	toks, err = tokens([]byte("ai $1, $1, -0x10"))
	require.NoError(t, err)
	assert.Equal(t, number(-16), toks[len(toks)-1])

	_, err = tokens([]byte("a $1, !"))
	assert.Error(t, err)
}

func ops(r *ir.Routine, b ir.BlockID) (l []spu.Op) {
	for _, id := range r.Code(b) {
		l = append(l, r.Instr(id).Op)
	}

	return l
}
