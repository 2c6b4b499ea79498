package simdev

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"

	"github.com/gomlx/hive/backends"
	"github.com/gomlx/hive/types/shapes"
)

// Buffer holds one blob's data on a simulated device: a shape and the flat
// slice of its elements.
//
// Buffers are recycled through per-dtype/size pools, the way a real device
// runtime recycles allocations.
type Buffer struct {
	shape shapes.Shape
	valid bool

	// flat is always a slice of the Go type corresponding to shape.DType.
	flat any
}

// Shape of the buffer.
func (buf *Buffer) Shape() shapes.Shape { return buf.shape }

type bufferPoolKey struct {
	dtype  dtypes.DType
	length int
}

// getBufferPool for the given dtype/length.
func (b *Backend) getBufferPool(dtype dtypes.DType, length int) *sync.Pool {
	key := bufferPoolKey{dtype: dtype, length: length}
	poolInterface, ok := b.bufferPools.Load(key)
	if !ok {
		poolInterface, _ = b.bufferPools.LoadOrStore(key, &sync.Pool{
			New: func() any {
				return &Buffer{
					flat:  newFlat(dtype, length),
					shape: shapes.Make(dtype, length),
				}
			},
		})
	}
	return poolInterface.(*sync.Pool)
}

// getBuffer takes a buffer for the given shape from the pool and accounts its
// memory to device.
func (b *Backend) getBuffer(device backends.DeviceNum, shape shapes.Shape) *Buffer {
	pool := b.getBufferPool(shape.DType, shape.Size())
	buf := pool.Get().(*Buffer)
	buf.valid = true
	buf.shape = shape
	b.mu.Lock()
	b.memory[device] += int64(shape.Memory())
	b.mu.Unlock()
	return buf
}

// putBuffer releases the buffer back into the pool, discounting its memory from
// device. Any references to it must be dropped after this.
func (b *Backend) putBuffer(device backends.DeviceNum, buf *Buffer) {
	if buf == nil || !buf.shape.Ok() {
		return
	}
	b.mu.Lock()
	b.memory[device] -= int64(buf.shape.Memory())
	b.mu.Unlock()
	buf.valid = false
	pool := b.getBufferPool(buf.shape.DType, buf.shape.Size())
	pool.Put(buf)
}

// newFlat allocates a flat slice for the given dtype and length.
func newFlat(dtype dtypes.DType, length int) any {
	switch dtype {
	case dtypes.Float32:
		return make([]float32, length)
	case dtypes.Float64:
		return make([]float64, length)
	case dtypes.Float16:
		return make([]float16.Float16, length)
	}
	exceptions.Panicf("simdev: unsupported dtype %s", dtype)
	return nil
}

// cloneFlat returns a fresh copy of a flat slice.
func cloneFlat(flat any) any {
	switch flat := flat.(type) {
	case []float32:
		return append([]float32(nil), flat...)
	case []float64:
		return append([]float64(nil), flat...)
	case []float16.Float16:
		return append([]float16.Float16(nil), flat...)
	}
	exceptions.Panicf("simdev: unsupported flat type %T", flat)
	return nil
}
