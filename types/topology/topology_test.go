package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullyConnected(t *testing.T) {
	p := FullyConnected(4)
	assert.Equal(t, 4, p.NumDevices())
	assert.True(t, p.AllTrue(0, 4, 0, 4))
	assert.True(t, p.HasAccess(0, 3))
	assert.False(t, p.HasAccess(0, 4))
	assert.False(t, p.HasAccess(-1, 0))
}

func TestIsolated(t *testing.T) {
	p := Isolated(3)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.Equal(t, i == j, p.HasAccess(i, j))
		}
	}
	assert.False(t, p.AllTrue(0, 2, 0, 2))
}

func TestHives(t *testing.T) {
	p := Hives(4, 2)
	require.Equal(t, 8, p.NumDevices())
	// Full access within each hive.
	assert.True(t, p.AllTrue(0, 4, 0, 4))
	assert.True(t, p.AllTrue(4, 8, 4, 8))
	// None across hives.
	assert.False(t, p.HasAccess(0, 4))
	assert.False(t, p.HasAccess(7, 3))
	assert.False(t, p.AllTrue(0, 8, 0, 8))

	require.Panics(t, func() { Hives(0, 2) })
}

func TestAllTrueBounds(t *testing.T) {
	p := FullyConnected(2)
	assert.False(t, p.AllTrue(0, 3, 0, 3), "block beyond the matrix is not all-true")
	assert.False(t, p.AllTrue(-1, 2, 0, 2))
	assert.True(t, p.AllTrue(0, 0, 0, 0), "empty block is trivially true")
}

func TestString(t *testing.T) {
	p := Hives(2, 2)
	assert.Equal(t, "++..\n++..\n..++\n..++\n", p.String())
}
