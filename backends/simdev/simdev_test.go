package simdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/hive/backends"
)

func TestNewConfig(t *testing.T) {
	b := New("").(*Backend)
	assert.Equal(t, DefaultNumDevices, b.NumDevices())
	assert.True(t, b.PeerAccessPattern().AllTrue(0, 8, 0, 8))

	b = New("devices=2").(*Backend)
	assert.Equal(t, 2, b.NumDevices())

	b = New("devices=8,access=hives,hive=4").(*Backend)
	pattern := b.PeerAccessPattern()
	assert.True(t, pattern.AllTrue(0, 4, 0, 4))
	assert.True(t, pattern.AllTrue(4, 8, 4, 8))
	assert.False(t, pattern.HasAccess(0, 4))

	b = New("devices=4,access=none").(*Backend)
	assert.False(t, b.PeerAccessPattern().HasAccess(0, 1))
	assert.True(t, b.PeerAccessPattern().HasAccess(1, 1))
}

func TestNewConfigInvalid(t *testing.T) {
	assert.Panics(t, func() { New("devices=x") })
	assert.Panics(t, func() { New("devices") })
	assert.Panics(t, func() { New("access=ring") })
	assert.Panics(t, func() { New("unknown=1") })
	assert.Panics(t, func() { New("devices=6,access=hives,hive=4") })
}

func TestRegistered(t *testing.T) {
	b := backends.NewWithConfig("sim:devices=3")
	require.Equal(t, "sim", b.Name())
	assert.Equal(t, 3, b.NumDevices())
	b.Finalize()
}

func TestFinalize(t *testing.T) {
	b := New("devices=2").(*Backend)
	b.Finalize()
	assert.Panics(t, func() { b.Builder("after") })
}
