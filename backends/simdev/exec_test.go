package simdev

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/hive/backends"
	"github.com/gomlx/hive/types/shapes"
)

func mustRun(t *testing.T, b *Backend, build func(bld *Builder)) {
	t.Helper()
	bld := b.Builder(t.Name()).(*Builder)
	build(bld)
	exec, err := bld.Compile()
	require.NoError(t, err)
	defer exec.Finalize()
	require.NoError(t, exec.Run())
}

func fetchFloat64s(t *testing.T, b *Backend, name string) []float64 {
	t.Helper()
	tensor, err := b.FetchBlob(name)
	require.NoError(t, err)
	return tensor.Float64s()
}

func TestFillAndFetch(t *testing.T) {
	b := New("devices=2").(*Backend)
	defer b.Finalize()
	mustRun(t, b, func(bld *Builder) {
		bld.ConstantFill("x", shapes.Make(dtypes.Float32, 2, 3), 4.5, 0)
	})
	values := fetchFloat64s(t, b, "x")
	require.Len(t, values, 6)
	for _, v := range values {
		assert.Equal(t, 4.5, v)
	}

	_, err := b.FetchBlob("unknown")
	require.ErrorContains(t, err, `blob "unknown" not found`)
}

func TestAddAndCopy(t *testing.T) {
	b := New("devices=2").(*Backend)
	defer b.Finalize()
	mustRun(t, b, func(bld *Builder) {
		bld.ConstantFill("x", shapes.Make(dtypes.Float32, 4), 1, 0)
		bld.ConstantFill("y", shapes.Make(dtypes.Float32, 4), 2, 1)
		// Cross-device read through peer access.
		bld.Add("x", "y", "sum", 0)
		bld.Copy("sum", "sum_on_1", 1)
	})
	assert.Equal(t, []float64{3, 3, 3, 3}, fetchFloat64s(t, b, "sum"))
	assert.Equal(t, []float64{3, 3, 3, 3}, fetchFloat64s(t, b, "sum_on_1"))
	assert.Equal(t, []string{"sum", "sum_on_1", "x", "y"}, b.Blobs())
	assert.Zero(t, b.HostStagedTransfers(), "peer-access copy must not stage through host")
}

func TestInPlaceAccumulate(t *testing.T) {
	b := New("devices=1").(*Backend)
	defer b.Finalize()
	mustRun(t, b, func(bld *Builder) {
		bld.ConstantFill("acc", shapes.Make(dtypes.Float64, 3), 1, 0)
		bld.ConstantFill("inc", shapes.Make(dtypes.Float64, 3), 10, 0)
		bld.Add("acc", "inc", "acc", 0)
		bld.Add("acc", "inc", "acc", 0)
	})
	assert.Equal(t, []float64{21, 21, 21}, fetchFloat64s(t, b, "acc"))
}

func TestPeerAccessEnforcedForAdd(t *testing.T) {
	b := New("devices=2,access=none").(*Backend)
	defer b.Finalize()
	bld := b.Builder("no-peer").(*Builder)
	bld.ConstantFill("x", shapes.Make(dtypes.Float32, 2), 1, 0)
	bld.ConstantFill("y", shapes.Make(dtypes.Float32, 2), 2, 1)
	bld.Add("x", "y", "sum", 0)
	_, err := bld.Compile()
	require.ErrorContains(t, err, "no peer access")
}

func TestCopyStagedThroughHost(t *testing.T) {
	b := New("devices=2,access=none").(*Backend)
	defer b.Finalize()
	mustRun(t, b, func(bld *Builder) {
		bld.ConstantFill("x", shapes.Make(dtypes.Float32, 2), 7, 0)
		bld.Copy("x", "x_on_1", 1)
	})
	assert.Equal(t, []float64{7, 7}, fetchFloat64s(t, b, "x_on_1"))
	assert.Equal(t, int64(1), b.HostStagedTransfers())
}

func TestCompileMissingInput(t *testing.T) {
	b := New("devices=1").(*Backend)
	defer b.Finalize()
	bld := b.Builder("missing").(*Builder)
	bld.Copy("nowhere", "out", 0)
	_, err := bld.Compile()
	require.ErrorContains(t, err, `reads blob "nowhere"`)
}

func TestCompileShapeMismatch(t *testing.T) {
	b := New("devices=1").(*Backend)
	defer b.Finalize()
	bld := b.Builder("mismatch").(*Builder)
	bld.ConstantFill("x", shapes.Make(dtypes.Float32, 2), 1, 0)
	bld.ConstantFill("y", shapes.Make(dtypes.Float32, 3), 1, 0)
	bld.Add("x", "y", "sum", 0)
	_, err := bld.Compile()
	require.ErrorContains(t, err, "shape mismatch")
}

func TestBlobsAcrossPrograms(t *testing.T) {
	// A later program can read blobs materialized by an earlier one.
	b := New("devices=1").(*Backend)
	defer b.Finalize()
	mustRun(t, b, func(bld *Builder) {
		bld.ConstantFill("x", shapes.Make(dtypes.Float32, 2), 5, 0)
	})
	mustRun(t, b, func(bld *Builder) {
		bld.Add("x", "x", "doubled", 0)
	})
	assert.Equal(t, []float64{10, 10}, fetchFloat64s(t, b, "doubled"))
}

func TestBuilderPanics(t *testing.T) {
	b := New("devices=1").(*Backend)
	defer b.Finalize()
	bld := b.Builder("panics").(*Builder)
	assert.Panics(t, func() { bld.ConstantFill("", shapes.Make(dtypes.Float32, 1), 0, 0) })
	assert.Panics(t, func() { bld.ConstantFill("x", shapes.Make(dtypes.Float32, 1), 0, 3) })
	assert.Panics(t, func() { bld.ConstantFill("x", shapes.Make(dtypes.Int32, 1), 0, 0) })
	assert.Panics(t, func() { bld.Add("", "y", "out", 0) })
	assert.Panics(t, func() { bld.Copy("", "out", 0) })
}

func TestFloat16AndFloat64Kernels(t *testing.T) {
	b := New("devices=1").(*Backend)
	defer b.Finalize()
	mustRun(t, b, func(bld *Builder) {
		bld.ConstantFill("h", shapes.Make(dtypes.Float16, 4), 1.5, 0)
		bld.Add("h", "h", "h2", 0)
		bld.ConstantFill("d", shapes.Make(dtypes.Float64, 4), 1.25, 0)
		bld.Add("d", "d", "d2", 0)
	})
	assert.Equal(t, []float64{3, 3, 3, 3}, fetchFloat64s(t, b, "h2"))
	assert.Equal(t, []float64{2.5, 2.5, 2.5, 2.5}, fetchFloat64s(t, b, "d2"))
}

func TestResetWorkspaceFreesMemory(t *testing.T) {
	b := New("devices=2").(*Backend)
	defer b.Finalize()
	mustRun(t, b, func(bld *Builder) {
		bld.ConstantFill("x", shapes.Make(dtypes.Float32, 1024), 1, 0)
		bld.Copy("x", "x_on_1", 1)
	})
	assert.Equal(t, int64(4096), b.MemoryInUse(0))
	assert.Equal(t, int64(4096), b.MemoryInUse(1))
	assert.Contains(t, b.MemoryReport(), "device 0: 4.0 KiB")
	b.ResetWorkspace()
	assert.Zero(t, b.MemoryInUse(0))
	assert.Zero(t, b.MemoryInUse(1))
	assert.Empty(t, b.Blobs())
}

func TestManyIndependentOps(t *testing.T) {
	// Exercises the parallel scheduler with a wide program.
	b := New("devices=4").(*Backend)
	defer b.Finalize()
	mustRun(t, b, func(bld *Builder) {
		for device := 0; device < 4; device++ {
			name := string(rune('a' + device))
			bld.ConstantFill(name, shapes.Make(dtypes.Float32, 100), float64(device), backends.DeviceNum(device))
		}
		bld.Add("a", "b", "ab", 0)
		bld.Add("c", "d", "cd", 2)
		bld.Add("ab", "cd", "total", 0)
	})
	values := fetchFloat64s(t, b, "total")
	for _, v := range values {
		assert.Equal(t, 6.0, v) // 0+1+2+3
	}
}
