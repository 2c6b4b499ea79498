package simdev

import (
	"github.com/gomlx/exceptions"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// The kernels below are what the simulated devices actually compute. They
// dispatch on the flat slice type; float16 has no native Go arithmetic, so its
// kernels round-trip through float32 like accelerator half-precision units do.

func fillSlice[T constraints.Float](flat []T, value float64) {
	v := T(value)
	for i := range flat {
		flat[i] = v
	}
}

func fillFlat(flat any, value float64) {
	switch flat := flat.(type) {
	case []float32:
		fillSlice(flat, value)
	case []float64:
		fillSlice(flat, value)
	case []float16.Float16:
		v := float16.Fromfloat32(float32(value))
		for i := range flat {
			flat[i] = v
		}
	default:
		exceptions.Panicf("simdev: fill kernel: unsupported flat type %T", flat)
	}
}

func addSlice[T constraints.Float](out, x, y []T) {
	for i := range out {
		out[i] = x[i] + y[i]
	}
}

func addFlat(out, x, y any) {
	switch out := out.(type) {
	case []float32:
		addSlice(out, x.([]float32), y.([]float32))
	case []float64:
		addSlice(out, x.([]float64), y.([]float64))
	case []float16.Float16:
		xFlat, yFlat := x.([]float16.Float16), y.([]float16.Float16)
		for i := range out {
			out[i] = float16.Fromfloat32(xFlat[i].Float32() + yFlat[i].Float32())
		}
	default:
		exceptions.Panicf("simdev: add kernel: unsupported flat type %T", out)
	}
}

func copyFlatTo(dst, src any) {
	switch dst := dst.(type) {
	case []float32:
		copy(dst, src.([]float32))
	case []float64:
		copy(dst, src.([]float64))
	case []float16.Float16:
		copy(dst, src.([]float16.Float16))
	default:
		exceptions.Panicf("simdev: copy kernel: unsupported flat type %T", dst)
	}
}
