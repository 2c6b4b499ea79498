// Package simdev implements a simulated multi-device backend for hive.
//
// Each simulated device owns its blobs in host memory, and a configurable
// peer-access pattern controls which devices may read each other's memory
// directly -- cross-device transfers without peer access are staged through the
// host, like a GPU runtime would. It is not fast, but it is fully portable and
// deterministic, which makes it the reference collaborator for verifying
// reduction strategies.
package simdev

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/hive/backends"
	"github.com/gomlx/hive/internal/workerspool"
	"github.com/gomlx/hive/types/topology"
)

// BackendName to be used in HIVE_BACKEND to specify this backend.
const BackendName = "sim"

// DefaultNumDevices used when the configuration doesn't say otherwise.
const DefaultNumDevices = 8

// Registers New() as the constructor for the "sim" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a simulated Backend from a configuration string.
//
// The configuration is a comma-separated list of key=value options:
//
//   - devices=N: number of simulated devices (default 8).
//   - access=full|none|hives: peer-access pattern between devices
//     (default full). "hives" builds block-diagonal groups of hive devices.
//   - hive=K: hive size used by access=hives (default 4).
//
// It panics (with an exception) on a malformed configuration.
func New(config string) backends.Backend {
	opts := parseConfig(config)
	b := &Backend{
		config:     config,
		numDevices: opts.numDevices,
		pattern:    opts.pattern,
		pool:       workerspool.New(),
		blobs:      make(map[string]*blob),
		memory:     make([]int64, opts.numDevices),
	}
	klog.V(1).Infof("simdev: new backend with %d devices, access pattern:\n%s",
		b.numDevices, b.pattern)
	return b
}

// Backend implements backends.Backend over simulated devices.
type Backend struct {
	config     string
	numDevices int
	pattern    topology.AccessPattern
	pool       *workerspool.Pool

	// bufferPools maps bufferPoolKey to *sync.Pool of reusable *Buffer.
	bufferPools sync.Map

	// mu protects blobs, memory and hostStaged.
	mu    sync.Mutex
	blobs map[string]*blob

	// memory holds the bytes currently allocated per device.
	memory []int64

	// hostStaged counts cross-device copies that had to go through the host
	// because the devices had no peer access.
	hostStaged int64

	finalized bool
}

// blob is one named entry of the workspace: a buffer and its owning device.
type blob struct {
	buffer *Buffer
	device backends.DeviceNum
}

// Compile-time check that simdev.Backend implements backends.Backend.
var _ backends.Backend = (*Backend)(nil)

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return fmt.Sprintf("Simulated Devices Backend (%d devices)", b.numDevices)
}

// NumDevices returns the number of simulated devices.
func (b *Backend) NumDevices() int { return b.numDevices }

// PeerAccessPattern returns the simulated peer-access matrix. Callers must
// treat it as read-only configuration.
func (b *Backend) PeerAccessPattern() topology.AccessPattern {
	return b.pattern
}

// Builder creates a new builder used to define a new named program.
func (b *Backend) Builder(name string) backends.Builder {
	if b.isFinalized() {
		exceptions.Panicf("simdev: Builder(%q) called on finalized backend", name)
	}
	return &Builder{
		backend:     b,
		name:        name,
		blobShapes:  make(map[string]bufferMeta),
		lastWriter:  make(map[string]int),
		lastReaders: make(map[string][]int),
	}
}

// HostStagedTransfers returns how many cross-device copies were staged through
// the host because peer access was missing.
func (b *Backend) HostStagedTransfers() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hostStaged
}

// MemoryInUse returns the bytes currently allocated on the given device.
func (b *Backend) MemoryInUse(device backends.DeviceNum) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.memory[device]
}

// MemoryReport pretty-prints the per-device memory in use.
func (b *Backend) MemoryReport() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var sb strings.Builder
	for device, used := range b.memory {
		fmt.Fprintf(&sb, "device %d: %s\n", device, humanize.IBytes(uint64(used)))
	}
	fmt.Fprintf(&sb, "host-staged transfers: %d\n", b.hostStaged)
	return sb.String()
}

// Finalize releases all associated resources immediately and makes the backend invalid.
func (b *Backend) Finalize() {
	b.ResetWorkspace()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finalized = true
}

func (b *Backend) isFinalized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finalized
}

type configOptions struct {
	numDevices int
	pattern    topology.AccessPattern
}

func parseConfig(config string) configOptions {
	opts := configOptions{numDevices: DefaultNumDevices}
	access := "full"
	hiveSize := 4
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			exceptions.Panicf("simdev: invalid configuration entry %q in %q, expected key=value", part, config)
		}
		switch key {
		case "devices":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				exceptions.Panicf("simdev: invalid devices=%q in configuration %q", value, config)
			}
			opts.numDevices = n
		case "access":
			switch value {
			case "full", "none", "hives":
				access = value
			default:
				exceptions.Panicf("simdev: invalid access=%q in configuration %q, want full, none or hives", value, config)
			}
		case "hive":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				exceptions.Panicf("simdev: invalid hive=%q in configuration %q", value, config)
			}
			hiveSize = n
		default:
			exceptions.Panicf("simdev: unknown configuration key %q in %q", key, config)
		}
	}
	switch access {
	case "full":
		opts.pattern = topology.FullyConnected(opts.numDevices)
	case "none":
		opts.pattern = topology.Isolated(opts.numDevices)
	case "hives":
		numHives := opts.numDevices / hiveSize
		if numHives*hiveSize != opts.numDevices {
			exceptions.Panicf("simdev: devices=%d is not a multiple of hive=%d", opts.numDevices, hiveSize)
		}
		opts.pattern = topology.Hives(hiveSize, numHives)
	}
	return opts
}
