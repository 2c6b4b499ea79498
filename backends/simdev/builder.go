package simdev

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/hive/backends"
	"github.com/gomlx/hive/types/shapes"
)

// opKind discriminates the program op types.
type opKind int

const (
	opFill opKind = iota
	opAdd
	opCopy
)

func (k opKind) String() string {
	switch k {
	case opFill:
		return "ConstantFill"
	case opAdd:
		return "Add"
	case opCopy:
		return "Copy"
	}
	return "InvalidOp"
}

// progOp is one compiled program operation.
type progOp struct {
	kind   opKind
	inputs []string
	output string
	device backends.DeviceNum

	// Fill only:
	shape shapes.Shape
	value float64

	// Resolved by Compile:

	// outputShape the op produces.
	outputShape shapes.Shape

	// staged marks a cross-device copy without peer access, which goes through
	// host memory.
	staged bool

	// deps are indices of ops that must complete before this one: producers of
	// the inputs (read-after-write), earlier readers of the output
	// (write-after-read) and the previous writer of the output
	// (write-after-write).
	deps []int
}

// bufferMeta tracks the shape and placement of a blob during compilation.
type bufferMeta struct {
	shape  shapes.Shape
	device backends.DeviceNum
}

// Builder implements backends.Builder, accumulating ops of one program.
type Builder struct {
	backend  *Backend
	name     string
	ops      []progOp
	compiled bool

	// blobShapes maps blob name to its shape/device after the ops appended so
	// far; seeded lazily from the workspace for pre-existing blobs.
	blobShapes map[string]bufferMeta

	// lastWriter maps blob name to the index of the op that last wrote it.
	lastWriter map[string]int

	// lastReaders maps blob name to the ops that read it since its last write.
	lastReaders map[string][]int
}

var _ backends.Builder = (*Builder)(nil)

// Name of the program being built.
func (bld *Builder) Name() string { return bld.name }

// ConstantFill appends an op producing blob output on device, with every
// element set to value.
func (bld *Builder) ConstantFill(output string, shape shapes.Shape, value float64, device backends.DeviceNum) {
	bld.checkOp("ConstantFill", output, device)
	if !shape.Ok() {
		exceptions.Panicf("simdev: ConstantFill(%q): invalid shape", output)
	}
	if !supportedDType(shape.DType) {
		exceptions.Panicf("simdev: ConstantFill(%q): unsupported dtype %s (supported: Float16, Float32, Float64)",
			output, shape.DType)
	}
	bld.ops = append(bld.ops, progOp{
		kind:   opFill,
		output: output,
		device: device,
		shape:  shape.Clone(),
		value:  value,
	})
}

// Add appends an op computing output = x + y element-wise on device.
func (bld *Builder) Add(x, y, output string, device backends.DeviceNum) {
	bld.checkOp("Add", output, device)
	if x == "" || y == "" {
		exceptions.Panicf("simdev: Add(%q): empty input blob name", output)
	}
	bld.ops = append(bld.ops, progOp{
		kind:   opAdd,
		inputs: []string{x, y},
		output: output,
		device: device,
	})
}

// Copy appends an op copying blob input into blob output placed on device.
func (bld *Builder) Copy(input, output string, device backends.DeviceNum) {
	bld.checkOp("Copy", output, device)
	if input == "" {
		exceptions.Panicf("simdev: Copy(%q): empty input blob name", output)
	}
	bld.ops = append(bld.ops, progOp{
		kind:   opCopy,
		inputs: []string{input},
		output: output,
		device: device,
	})
}

func (bld *Builder) checkOp(opName, output string, device backends.DeviceNum) {
	if bld.compiled {
		exceptions.Panicf("simdev: %s(%q) called on already compiled builder %q", opName, output, bld.name)
	}
	if output == "" {
		exceptions.Panicf("simdev: %s: empty output blob name in program %q", opName, bld.name)
	}
	if device < 0 || int(device) >= bld.backend.numDevices {
		exceptions.Panicf("simdev: %s(%q): device %d out of range, backend has %d devices",
			opName, output, device, bld.backend.numDevices)
	}
}

// Compile freezes the program, resolving blob placement, peer-access legality
// and the dependency edges used for scheduling. It invalidates the Builder.
func (bld *Builder) Compile() (backends.Executable, error) {
	if bld.compiled {
		return nil, errors.Errorf("simdev: program %q already compiled", bld.name)
	}
	bld.compiled = true
	pattern := bld.backend.pattern
	for i := range bld.ops {
		op := &bld.ops[i]
		switch op.kind {
		case opFill:
			op.outputShape = op.shape

		case opAdd:
			metas := make([]bufferMeta, 2)
			for j, input := range op.inputs {
				meta, err := bld.inputMeta(i, input)
				if err != nil {
					return nil, err
				}
				if meta.device != op.device && !pattern.HasAccess(int(op.device), int(meta.device)) {
					return nil, errors.Errorf(
						"simdev: program %q op #%d Add(%q): device %d cannot read blob %q on device %d, no peer access",
						bld.name, i, op.output, op.device, input, meta.device)
				}
				metas[j] = meta
			}
			if !metas[0].shape.Equal(metas[1].shape) {
				return nil, errors.Errorf(
					"simdev: program %q op #%d Add(%q): shape mismatch %s vs %s",
					bld.name, i, op.output, metas[0].shape, metas[1].shape)
			}
			op.outputShape = metas[0].shape

		case opCopy:
			meta, err := bld.inputMeta(i, op.inputs[0])
			if err != nil {
				return nil, err
			}
			op.outputShape = meta.shape
			op.staged = meta.device != op.device && !pattern.HasAccess(int(op.device), int(meta.device))
		}

		// Hazard edges, in program order.
		seen := make(map[int]bool)
		addDep := func(dep int) {
			if dep >= 0 && !seen[dep] {
				seen[dep] = true
				op.deps = append(op.deps, dep)
			}
		}
		for _, input := range op.inputs {
			if writer, ok := bld.lastWriter[input]; ok {
				addDep(writer)
			}
		}
		for _, reader := range bld.lastReaders[op.output] {
			addDep(reader)
		}
		if writer, ok := bld.lastWriter[op.output]; ok {
			addDep(writer)
		}
		for _, input := range op.inputs {
			bld.lastReaders[input] = append(bld.lastReaders[input], i)
		}
		bld.lastWriter[op.output] = i
		bld.lastReaders[op.output] = nil
		bld.blobShapes[op.output] = bufferMeta{shape: op.outputShape, device: op.device}
	}

	return newExecutable(bld), nil
}

// inputMeta resolves the shape and placement of an input blob: either produced
// by an earlier op of this program, or already present in the workspace.
func (bld *Builder) inputMeta(opIndex int, input string) (bufferMeta, error) {
	if meta, ok := bld.blobShapes[input]; ok {
		return meta, nil
	}
	if meta, ok := bld.backend.blobMeta(input); ok {
		bld.blobShapes[input] = meta
		return meta, nil
	}
	return bufferMeta{}, errors.Errorf(
		"simdev: program %q op #%d reads blob %q, which no earlier op produced and the workspace doesn't hold",
		bld.name, opIndex, input)
}

func supportedDType(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Float16, dtypes.Float32, dtypes.Float64:
		return true
	}
	return false
}
