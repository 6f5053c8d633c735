package spu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	require.NoError(t, CheckCatalog())

	for _, op := range Ops() {
		o := Get(op)

		assert.Equal(t, op.String(), o.Name, "op %d", int(op))

		x, ok := ByName(o.Name)
		if assert.True(t, ok, "by name %v", o.Name) {
			assert.Equal(t, op, x)
		}

		assert.NotEqual(t, NoPipe, o.Pipe, "%v pipe", op)
	}
}

func TestCatalogFeatures(t *testing.T) {
	assert.True(t, Get(BR).Terminates())
	assert.True(t, Get(RET).Terminates())
	assert.True(t, Get(STOP).Terminates())
	assert.False(t, Get(BRSL).Terminates())

	assert.True(t, Get(A).Writes())
	assert.False(t, Get(STQD).Writes())
	assert.False(t, Get(BRNZ).Writes())
	assert.True(t, Get(MOVE).Writes())
	assert.True(t, Get(IOHL).Writes())
	assert.True(t, Get(IOHL).Is(RtRead))
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "ai", AI.String())
	assert.Equal(t, "Op(-1)", Op(-1).String())
	assert.Equal(t, "Op(100000)", Op(100000).String())

	_, ok := ByName("frobnicate")
	assert.False(t, ok)
}

func TestFeatureString(t *testing.T) {
	assert.Equal(t, "-", Feature(0).String())
	assert.Equal(t, "branch|return", (Branch | Return).String())
	assert.Equal(t, "load|0x1000", (MemRead | 1<<12).String())
}
