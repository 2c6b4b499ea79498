// Package backends defines the interface a device runtime needs to implement to
// build and run hive computation graphs, and a registry of implementations.
//
// A backend owns a set of numbered devices, knows their peer-to-peer access
// topology, builds programs of per-device operations, runs them, and exposes the
// resulting blobs through a workspace.
//
// To simplify error handling, graph-building functions are expected to throw
// (panic) with a stack trace in case of programmer errors. See package
// github.com/gomlx/exceptions. Running a program and fetching blobs return errors.
package backends

import (
	"os"
	"strings"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/hive/types/shapes"
	"github.com/gomlx/hive/types/tensors"
	"github.com/gomlx/hive/types/topology"
)

// DeviceNum identifies one device of a Backend.
// It should be between 0 and Backend.NumDevices-1.
type DeviceNum int

// Backend is the API a hive device runtime implements.
type Backend interface {
	// Name returns the short name of the backend, e.g. "sim".
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// NumDevices returns the number of devices available for this Backend.
	NumDevices() int

	// PeerAccessPattern returns which device pairs have direct peer-to-peer memory
	// access. Queried once at startup and treated as read-only configuration.
	PeerAccessPattern() topology.AccessPattern

	// Builder creates a new builder used to define a new named program.
	Builder(name string) Builder

	// Workspace is the sub-interface giving access to blobs after execution.
	Workspace

	// Finalize releases all associated resources immediately and makes the backend invalid.
	Finalize()
}

// Builder accumulates the per-device operations of one program.
//
// The operation set is deliberately small: filling a blob with a constant, adding
// two blobs into a third, and copying a blob (possibly across devices). These are
// the primitives reduction strategies are written in terms of.
//
// Builders panic (with exceptions) on programmer errors such as empty blob names
// or out-of-range devices, so strategy code doesn't need to check errors per op.
type Builder interface {
	// Name of the program being built.
	Name() string

	// ConstantFill appends an op producing blob output on device, with every
	// element set to value.
	ConstantFill(output string, shape shapes.Shape, value float64, device DeviceNum)

	// Add appends an op computing output = x + y element-wise on device. Inputs
	// living on another device are read directly through peer access; compiling
	// fails if the peer-access pattern doesn't allow the read. Output may alias
	// one of the inputs (in-place accumulate).
	Add(x, y, output string, device DeviceNum)

	// Copy appends an op copying blob input to blob output placed on device. When
	// input lives on a different device the transfer is direct if the peer-access
	// pattern allows it, otherwise staged through the host.
	Copy(input, output string, device DeviceNum)

	// Compile freezes the program. It invalidates the Builder and returns an
	// Executable. It returns an error if the program is malformed, e.g. an op
	// reads a blob no earlier op produced.
	Compile() (Executable, error)
}

// Executable is a compiled program that can be run to completion exactly once
// per call, synchronously. Blobs it produced are available from the backend's
// Workspace after Run returns.
type Executable interface {
	// Run executes every op once. It blocks until the whole program finished and
	// returns the first op error, if any.
	Run() error

	// Finalize releases resources associated with the executable.
	Finalize()
}

// Workspace is the blob store of a backend: every blob produced by executed
// programs, fetchable by name.
type Workspace interface {
	// Blobs returns the names of all materialized blobs, sorted lexicographically.
	Blobs() []string

	// FetchBlob copies the named blob out of its device into a host Tensor.
	// It returns an error if no such blob exists.
	FetchBlob(name string) (*tensors.Tensor, error)

	// ResetWorkspace discards all blobs, freeing their device memory.
	ResetWorkspace()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) Backend

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register a backend constructor under the given name. To be safe, call Register
// during package initialization.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the backend configuration to use if HIVE_BACKEND is not set.
var DefaultConfig string

// HIVE_BACKEND is the environment variable with the default backend configuration.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g. "sim") and
// "<backend_configuration>" is backend specific (for sim, a comma-separated list
// of key=value options).
const HIVE_BACKEND = "HIVE_BACKEND"

// New returns a new Backend using the default configuration:
//
//  1. The environment variable HIVE_BACKEND, if set.
//  2. The variable DefaultConfig, if not empty.
//  3. The first registered backend, with an empty configuration.
//
// It panics if no backend was registered.
func New() Backend {
	if config, found := os.LookupEnv(HIVE_BACKEND); found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig creates a Backend from a "<backend_name>:<backend_configuration>"
// string. An empty name selects the first registered backend.
func NewWithConfig(config string) Backend {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends for hive -- maybe import the simulated one with import _ "github.com/gomlx/hive/backends/simdev"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		exceptions.Panicf("can't find backend %q for configuration %q given", backendName, config)
	}
	return constructor(backendConfig)
}
