package simdev

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/hive/backends"
)

// Executable is a compiled, frozen program. It assumes Compile validated blob
// placement and shapes, so execution performs no duplicate checks.
type Executable struct {
	backend *Backend
	name    string
	ops     []progOp

	// dependents maps each op to the ops waiting on it; numDeps is the number
	// of dependencies per op. Together they drive the ready-op scheduling.
	dependents [][]int
	numDeps    []int

	finalized bool
}

var _ backends.Executable = (*Executable)(nil)

func newExecutable(bld *Builder) *Executable {
	e := &Executable{
		backend:    bld.backend,
		name:       bld.name,
		ops:        bld.ops,
		dependents: make([][]int, len(bld.ops)),
		numDeps:    make([]int, len(bld.ops)),
	}
	for i, op := range e.ops {
		e.numDeps[i] = len(op.deps)
		for _, dep := range op.deps {
			e.dependents[dep] = append(e.dependents[dep], i)
		}
	}
	return e
}

// Finalize releases resources associated with the executable.
func (e *Executable) Finalize() {
	e.ops = nil
	e.dependents = nil
	e.numDeps = nil
	e.finalized = true
}

// Run executes every op of the program exactly once and blocks until the whole
// program finished, returning the first op error, if any.
//
// Ops run as soon as their dependencies completed, fanned out over the
// backend's worker pool -- the simulated equivalent of per-device streams. The
// call is fully synchronous: when it returns, every blob the program produced
// is materialized in the workspace.
func (e *Executable) Run() error {
	if e.finalized {
		return errors.Errorf("simdev: program %q already finalized", e.name)
	}
	numOps := len(e.ops)
	runID := uuid.NewString()
	start := time.Now()
	klog.V(1).Infof("simdev: run %s: program %q with %d ops starting", runID, e.name, numOps)

	var (
		mu        sync.Mutex
		firstErr  error
		wg        sync.WaitGroup
		remaining = append([]int(nil), e.numDeps...)
	)
	// readyCh can hold every op, so workers never block pushing to it.
	readyCh := make(chan int, numOps)
	for i, deps := range remaining {
		if deps == 0 {
			readyCh <- i
		}
	}

	wg.Add(numOps)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

scheduling:
	for {
		select {
		case opIndex := <-readyCh:
			e.backend.pool.WaitToStart(func() {
				defer wg.Done()
				if err := e.execOp(opIndex); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = errors.WithMessagef(err, "program %q op #%d", e.name, opIndex)
					}
					mu.Unlock()
				}
				mu.Lock()
				for _, dependent := range e.dependents[opIndex] {
					remaining[dependent]--
					if remaining[dependent] == 0 {
						readyCh <- dependent
					}
				}
				mu.Unlock()
			})
		case <-done:
			break scheduling
		}
	}

	klog.V(1).Infof("simdev: run %s: finished in %s", runID, time.Since(start))
	return firstErr
}

// execOp runs one op: gathers input buffers, computes into a fresh buffer and
// publishes it in the workspace. Hazard edges from Compile guarantee no other
// op is writing or recycling the blobs it touches.
func (e *Executable) execOp(opIndex int) error {
	op := &e.ops[opIndex]
	out := e.backend.getBuffer(op.device, op.outputShape)
	switch op.kind {
	case opFill:
		fillFlat(out.flat, op.value)

	case opAdd:
		x, err := e.backend.getBlobBuffer(op.inputs[0])
		if err != nil {
			return err
		}
		y, err := e.backend.getBlobBuffer(op.inputs[1])
		if err != nil {
			return err
		}
		addFlat(out.flat, x.flat, y.flat)

	case opCopy:
		in, err := e.backend.getBlobBuffer(op.inputs[0])
		if err != nil {
			return err
		}
		copyFlatTo(out.flat, in.flat)
		if op.staged {
			e.backend.noteHostStaged()
			klog.V(2).Infof("simdev: program %q op #%d: copy %q -> %q staged through host (no peer access)",
				e.name, opIndex, op.inputs[0], op.output)
		}
	}
	e.backend.setBlob(op.output, op.device, out)
	return nil
}
