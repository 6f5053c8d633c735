package format

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/spu/compiler/asm"
	"github.com/slowlang/spu/compiler/live"
)

func TestFormatFile(t *testing.T) {
	ctx := context.Background()

	f, err := asm.Parse(ctx, "a.s", []byte(`
.routine inc 1
	ai $3, $3, 1
	ret
.data t 0102
.spill s 2
`))
	require.NoError(t, err)

	b, err := Format(ctx, nil, f)
	require.NoError(t, err)

	assert.Equal(t, `.routine inc 1
b0:
	ai $3, $3, 1
	ret

.data t 01020000000000000000000000000000

.spill s 2
`, string(b))
}

func TestFormatSplice(t *testing.T) {
	ctx := context.Background()

	f, err := asm.Parse(ctx, "p.s", []byte(`
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

	b, err := Format(ctx, nil, f)
	require.NoError(t, err)

	assert.Equal(t, `.patch boot
.word 0x40200000 0x40200000 0x40200000 0x40200000
.word 0x40200000 0x40200000 0x40200000 0x40200000
.seek 4
	il $3, 7
	brsl $0, @inc
.seek 16
	lnop

.routine inc
b0:
	ai $3, $3, 1
	ret
`, string(b))
}

func TestFormatRoundTrip(t *testing.T) {
	ctx := context.Background()

	src := `
.routine main
	il %n, 10
loop:
	ai %n, %n, -1
	brnz %n, loop
	brsl $0, @g (%n)
	lqa $4, @g
	ret
.routine g 1
	ret
`

	f, err := asm.Parse(ctx, "rt.s", []byte(src))
	require.NoError(t, err)

	first, err := Format(ctx, nil, f)
	require.NoError(t, err)

	assert.Contains(t, string(first), "\tbrnz %n, loop\n")
	assert.Contains(t, string(first), "\tbrsl $0, @g (%n)\n")

	f, err = asm.Parse(ctx, "rt2.s", first)
	require.NoError(t, err)

	second, err := Format(ctx, nil, f)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestFormatAnalysis(t *testing.T) {
	ctx := context.Background()

	f, err := asm.Parse(ctx, "an.s", []byte(`
.routine f
	il %a, 1
	ai %b, %a, 2
	ret
`))
	require.NoError(t, err)

	r := f.Routines[0]

	iv, _, err := live.Intervals(ctx, r)
	require.NoError(t, err)

	b := Intervals(nil, r, iv)
	// ret reads the link and return registers
	assert.Equal(t, "%a       [0, 1]\n%b       [1, 1]\n$0       [2, 2]\n$3       [2, 2]\n", string(b))

	g, err := live.Build(ctx, r)
	require.NoError(t, err)

	g.Solve(ctx)

	b, err = Dataflow(nil, g)
	require.NoError(t, err)

	assert.Contains(t, string(b), "   1  ai %b, %a, 2")
	assert.Contains(t, string(b), "in: %a $0 $3  out: $0 $3\n")
}

func TestFormatUnsupported(t *testing.T) {
	_, err := Format(context.Background(), nil, 42)
	assert.Error(t, err)
}
