// Package graph builds the per-device computation graphs that reduction
// strategies extend and backends execute.
//
// A Graph is an append-only list of named operations over named blobs, each
// placed on one device. No computation happens at building time: the graph is
// replayed onto a backend builder and run exactly once with Graph.Run.
//
// Building ops panic with exceptions (carrying a stack trace) on programmer
// errors -- empty names, negative devices -- so strategy code can chain ops
// without per-op error checking. Execution errors are returned by Run.
//
// A Graph is exclusively owned by the goroutine building it; it is never mutated
// concurrently.
package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/gomlx/hive/backends"
	"github.com/gomlx/hive/types/shapes"
)

// OpType enumerates the operations a graph can hold.
type OpType int

const (
	// OpConstantFill produces a blob with every element set to a constant.
	OpConstantFill OpType = iota
	// OpAdd produces the element-wise sum of two blobs on one device.
	OpAdd
	// OpCopy copies a blob, possibly across devices.
	OpCopy
)

// String implements fmt.Stringer.
func (t OpType) String() string {
	switch t {
	case OpConstantFill:
		return "ConstantFill"
	case OpAdd:
		return "Add"
	case OpCopy:
		return "Copy"
	}
	return fmt.Sprintf("InvalidOpType(%d)", int(t))
}

// Op is one operation of a Graph. Inputs and Output are blob names; Device is
// where the op executes and where Output is placed.
type Op struct {
	Type   OpType
	Inputs []string
	Output string
	Device backends.DeviceNum

	// Shape and Value are only used by OpConstantFill.
	Shape shapes.Shape
	Value float64
}

// String implements fmt.Stringer, e.g. `Add(x, y) -> z @device2`.
func (op Op) String() string {
	return fmt.Sprintf("%s(%s) -> %s @device%d",
		op.Type, strings.Join(op.Inputs, ", "), op.Output, op.Device)
}

// Graph is a named, append-only program of ops.
type Graph struct {
	name string
	ops  []Op
}

// New creates an empty Graph with the given name.
func New(name string) *Graph {
	return &Graph{name: name}
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// NumOps returns how many ops were appended so far.
func (g *Graph) NumOps() int { return len(g.ops) }

// Ops returns the ops appended so far. The returned slice is owned by the
// Graph; callers must not mutate it.
func (g *Graph) Ops() []Op { return g.ops }

// ConstantFill appends an op producing blob output on device, shaped shape,
// with every element set to value. It returns the output name, convenient for
// chaining.
func (g *Graph) ConstantFill(output string, shape shapes.Shape, value float64, device backends.DeviceNum) string {
	g.checkOutput("ConstantFill", output, device)
	if !shape.Ok() {
		exceptions.Panicf("Graph(%q).ConstantFill(%q): invalid shape", g.name, output)
	}
	g.ops = append(g.ops, Op{
		Type:   OpConstantFill,
		Output: output,
		Device: device,
		Shape:  shape,
		Value:  value,
	})
	return output
}

// Add appends an op computing output = x + y element-wise on device. Output may
// name one of the inputs, in which case the sum accumulates in place. It
// returns the output name.
func (g *Graph) Add(x, y, output string, device backends.DeviceNum) string {
	g.checkOutput("Add", output, device)
	if x == "" || y == "" {
		exceptions.Panicf("Graph(%q).Add: empty input blob name (inputs %q, %q)", g.name, x, y)
	}
	g.ops = append(g.ops, Op{
		Type:   OpAdd,
		Inputs: []string{x, y},
		Output: output,
		Device: device,
	})
	return output
}

// Copy appends an op copying blob input into blob output placed on device.
// It returns the output name.
func (g *Graph) Copy(input, output string, device backends.DeviceNum) string {
	g.checkOutput("Copy", output, device)
	if input == "" {
		exceptions.Panicf("Graph(%q).Copy: empty input blob name", g.name)
	}
	g.ops = append(g.ops, Op{
		Type:   OpCopy,
		Inputs: []string{input},
		Output: output,
		Device: device,
	})
	return output
}

func (g *Graph) checkOutput(opName, output string, device backends.DeviceNum) {
	if output == "" {
		exceptions.Panicf("Graph(%q).%s: empty output blob name", g.name, opName)
	}
	if device < 0 {
		exceptions.Panicf("Graph(%q).%s(%q): negative device %d", g.name, opName, output, device)
	}
}

// Run replays the graph onto a builder of the given backend, compiles it and
// executes it exactly once, synchronously. After it returns, every blob the
// graph produced can be fetched from the backend's workspace.
func (g *Graph) Run(backend backends.Backend) error {
	numDevices := backends.DeviceNum(backend.NumDevices())
	builder := backend.Builder(g.name)
	for _, op := range g.ops {
		if op.Device >= numDevices {
			return errors.Errorf("graph %q: op %s requires device %d, backend %q only has %d devices",
				g.name, op, op.Device, backend.Name(), numDevices)
		}
		switch op.Type {
		case OpConstantFill:
			builder.ConstantFill(op.Output, op.Shape, op.Value, op.Device)
		case OpAdd:
			builder.Add(op.Inputs[0], op.Inputs[1], op.Output, op.Device)
		case OpCopy:
			builder.Copy(op.Inputs[0], op.Output, op.Device)
		default:
			return errors.Errorf("graph %q: unknown op type %d", g.name, op.Type)
		}
	}
	exec, err := builder.Compile()
	if err != nil {
		return errors.WithMessagef(err, "compiling graph %q", g.name)
	}
	defer exec.Finalize()
	if err := exec.Run(); err != nil {
		return errors.WithMessagef(err, "running graph %q", g.name)
	}
	return nil
}

// String lists the graph ops, one per line.
func (g *Graph) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Graph %q: %d ops\n", g.name, len(g.ops))
	for i, op := range g.ops {
		fmt.Fprintf(&b, "  #%d\t%s\n", i, op)
	}
	return b.String()
}
