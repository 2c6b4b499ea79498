// Package tensors holds Tensor, the host-side value of a blob fetched from a
// backend workspace.
//
// A Tensor is a read-only snapshot: backends copy device data out when a blob is
// fetched, so mutating the device afterward never changes a fetched Tensor.
package tensors

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"

	"github.com/gomlx/hive/types/shapes"
)

// Tensor is a shaped array of numeric values on the host.
//
// The flat data is stored as a slice of the Go type corresponding to the shape's
// DType ([]float32, []float64 or []float16.Float16).
type Tensor struct {
	shape shapes.Shape
	flat  any
}

// FromFlatAndShape wraps an already flat slice into a Tensor.
//
// The flat slice must have exactly shape.Size() elements of the Go type matching
// shape.DType, otherwise it panics with an exception.
func FromFlatAndShape(flat any, shape shapes.Shape) *Tensor {
	size := flatLen(flat)
	if size != shape.Size() {
		exceptions.Panicf("tensors.FromFlatAndShape: flat has %d elements, shape %s requires %d",
			size, shape, shape.Size())
	}
	return &Tensor{shape: shape, flat: flat}
}

// FromFlat creates a Tensor from a flat slice of a supported float type and its
// dimensions. The DType is inferred from T.
func FromFlat[T constraints.Float](flat []T, dimensions ...int) *Tensor {
	var dtype dtypes.DType
	switch any(T(0)).(type) {
	case float32:
		dtype = dtypes.Float32
	case float64:
		dtype = dtypes.Float64
	default:
		exceptions.Panicf("tensors.FromFlat: unsupported element type %T", T(0))
	}
	return FromFlatAndShape(flat, shapes.Make(dtype, dimensions...))
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// Size is the total number of elements.
func (t *Tensor) Size() int { return t.shape.Size() }

// DType of the tensor elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Value returns the underlying flat slice. Callers must not mutate it.
func (t *Tensor) Value() any { return t.flat }

// Float64s returns the elements widened to float64, whatever the DType.
// Convenient for verification code that compares against an analytic value.
func (t *Tensor) Float64s() []float64 {
	out := make([]float64, t.Size())
	switch flat := t.flat.(type) {
	case []float32:
		for i, v := range flat {
			out[i] = float64(v)
		}
	case []float64:
		copy(out, flat)
	case []float16.Float16:
		for i, v := range flat {
			out[i] = float64(v.Float32())
		}
	default:
		exceptions.Panicf("tensors.Float64s: unsupported flat type %T", t.flat)
	}
	return out
}

// String prints the shape and up to the first few values.
func (t *Tensor) String() string {
	const maxElements = 8
	values := t.Float64s()
	var b strings.Builder
	fmt.Fprintf(&b, "%s: [", t.shape)
	for i, v := range values {
		if i >= maxElements {
			fmt.Fprintf(&b, " ... (%d more)", len(values)-maxElements)
			break
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%g", v)
	}
	b.WriteByte(']')
	return b.String()
}

func flatLen(flat any) int {
	switch flat := flat.(type) {
	case []float32:
		return len(flat)
	case []float64:
		return len(flat)
	case []float16.Float16:
		return len(flat)
	default:
		exceptions.Panicf("tensors: unsupported flat slice type %T", flat)
	}
	return 0
}
