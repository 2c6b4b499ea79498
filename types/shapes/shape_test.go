package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMake(t *testing.T) {
	s := Make(dtypes.Float32, 1, 2, 3, 4)
	require.True(t, s.Ok())
	assert.Equal(t, 4, s.Rank())
	assert.Equal(t, 24, s.Size())
	assert.Equal(t, []int{1, 2, 3, 4}, s.Dimensions)
	assert.Equal(t, "(Float32)[1 2 3 4]", s.String())

	assert.Equal(t, 4, s.Dim(-1))
	assert.Equal(t, 1, s.Dim(0))
	assert.Panics(t, func() { s.Dim(4) })

	require.Panics(t, func() { Make(dtypes.Float32, 1, 0, 3) })
}

func TestScalarAndInvalid(t *testing.T) {
	s := Scalar(dtypes.Float64)
	assert.True(t, s.IsScalar())
	assert.Equal(t, 1, s.Size())
	assert.Equal(t, "(Float64)", s.String())

	assert.False(t, Invalid().Ok())
	assert.False(t, Shape{}.Ok())
}

func TestEqualAndClone(t *testing.T) {
	a := Make(dtypes.Float32, 2, 3)
	b := Make(dtypes.Float32, 2, 3)
	c := Make(dtypes.Float64, 2, 3)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(Make(dtypes.Float32, 3, 2)))

	clone := a.Clone()
	clone.Dimensions[0] = 7
	assert.Equal(t, 2, a.Dimensions[0])
}

func TestMemory(t *testing.T) {
	assert.Equal(t, uintptr(24*4), Make(dtypes.Float32, 1, 2, 3, 4).Memory())
	assert.Equal(t, uintptr(24*2), Make(dtypes.Float16, 1, 2, 3, 4).Memory())
}
