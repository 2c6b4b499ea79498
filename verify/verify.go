// Package verify implements the end-to-end verification protocol for allreduce
// strategies: build per-device inputs with known values, apply a strategy, run
// the graph once and check that every device ended up with the full
// cross-device sum.
//
// The protocol is deliberately strict about its failure taxonomy:
//
//   - a topology precondition not met is a skip, not a failure (hardware
//     without enough peer connectivity is tolerated);
//   - a reduced blob holding the wrong value is a hard failure naming the
//     offending device and the full device set;
//   - a reduced blob missing entirely is a hard failure too: the strategy broke
//     its output-naming contract.
//
// Reductions are deterministic, so nothing is retried: a failure is real and
// reproducible.
package verify

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/hive/backends"
	"github.com/gomlx/hive/collective"
	"github.com/gomlx/hive/graph"
	"github.com/gomlx/hive/types/shapes"
)

// BlobPrefix is the name prefix of the per-device input blobs.
const BlobPrefix = "testblob_gpu_"

// ReducedSuffix is the suffix appended to every input name by the strategies
// under verification.
const ReducedSuffix = "_reduced"

// blobDimensions of every input blob: small but multi-axis, 24 elements.
var blobDimensions = []int{1, 2, 3, 4}

// SkipError signals that a scenario was bypassed, not failed: its topology or
// device-count precondition isn't met on this backend.
type SkipError struct {
	Reason string
}

// Error implements the error interface.
func (e *SkipError) Error() string { return "skipped: " + e.Reason }

// IsSkip reports whether err is (or wraps) a SkipError.
func IsSkip(err error) bool {
	var skip *SkipError
	return errors.As(err, &skip)
}

// ExpectedSum is the analytic reduction result: each input blob on device id is
// filled with id+1, so the sum over the device set is sum(ids)+len(ids).
func ExpectedSum(devices []backends.DeviceNum) float64 {
	total := float64(len(devices))
	for _, device := range devices {
		total += float64(device)
	}
	return total
}

// InputBlobName returns the name of the input blob placed on the device.
func InputBlobName(device backends.DeviceNum) string {
	return fmt.Sprintf("%s%d", BlobPrefix, device)
}

// Runner verifies reduction strategies against one backend.
//
// The zero fields get defaults: DType defaults to Float32 and Logf to
// klog.V(2), so tests can redirect diagnostics to t.Logf.
type Runner struct {
	Backend backends.Backend

	// DType of the input blobs.
	DType dtypes.DType

	// Logf receives diagnostics: the post-run blob dump and skip notices.
	// Diagnostics are not part of the pass/fail contract.
	Logf func(format string, args ...any)
}

func (r *Runner) dtype() dtypes.DType {
	if r.DType == dtypes.InvalidDType {
		return dtypes.Float32
	}
	return r.DType
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
		return
	}
	klog.V(2).Infof(format, args...)
}

// RunAllreduce executes one end-to-end verification: fresh graph, one input
// blob per device (value id+1, 24 elements), the strategy's ops, a single
// synchronous run, then a value check of every reduced blob.
//
// It returns nil when every reduced blob equals ExpectedSum(devices), and an
// error naming the offending device and the full device set otherwise.
func (r *Runner) RunAllreduce(devices []backends.DeviceNum, strategy collective.Strategy) error {
	if len(devices) == 0 {
		return errors.New("verify: empty device set")
	}
	r.Backend.ResetWorkspace()

	g := graph.New("allreduce_verify")
	inputs := make([]string, len(devices))
	for i, device := range devices {
		inputs[i] = InputBlobName(device)
		g.ConstantFill(inputs[i], shapes.Make(r.dtype(), blobDimensions...), float64(device)+1, device)
	}

	// The strategy signals success purely by graph mutation; it is not expected
	// to throw under valid input, so an exception here is a verification
	// failure, not a crash.
	if exception := exceptions.Try(func() {
		strategy.Apply(g, inputs, ReducedSuffix, devices)
	}); exception != nil {
		return errors.Errorf("verify: strategy threw on device set %v: %v", devices, exception)
	}

	if err := g.Run(r.Backend); err != nil {
		return errors.WithMessagef(err, "verify: device set %v", devices)
	}

	// Diagnostic dump of everything the run materialized, sorted by name.
	for _, name := range r.Backend.Blobs() {
		tensor, err := r.Backend.FetchBlob(name)
		if err != nil {
			return errors.WithMessagef(err, "verify: dumping blob %q", name)
		}
		r.logf("%s %s", name, tensor)
	}

	want := ExpectedSum(devices)
	for _, device := range devices {
		name := InputBlobName(device) + ReducedSuffix
		tensor, err := r.Backend.FetchBlob(name)
		if err != nil {
			return errors.WithMessagef(err,
				"verify: strategy did not produce blob %q for device %d of %v", name, device, devices)
		}
		for i, got := range tensor.Float64s() {
			if got != want {
				return errors.Errorf(
					"verify: blob %q element %d = %g, want %g (device %d of %v)",
					name, i, got, want, device, devices)
			}
		}
	}
	return nil
}
