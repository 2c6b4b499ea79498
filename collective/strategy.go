// Package collective implements allreduce strategies over hive computation
// graphs.
//
// A strategy takes a graph holding one input blob per participating device and
// appends the operations that leave, on every one of those devices, a blob named
// `<input><suffix>` holding the element-wise sum across all inputs. Different
// device counts justify different reduction topologies; the closed set here goes
// from a generic fallback that works on any topology to an 8-way scheme tuned
// for two hives of 4 peer-connected devices.
//
// Strategies signal success purely by graph mutation. They panic (with
// exceptions) only on programmer errors such as mismatched list lengths; they
// never silently drop a device.
package collective

import (
	"sort"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/gomlx/hive/backends"
	"github.com/gomlx/hive/graph"
	"github.com/gomlx/hive/types/topology"
)

// Strategy appends the ops of one allreduce algorithm to a graph.
type Strategy interface {
	// Apply extends g so that for every inputs[i], a blob named
	// inputs[i]+suffix materializes on devices[i] holding the full sum of all
	// inputs. inputs and devices run in lockstep and must have the same length;
	// devices must be distinct.
	Apply(g *graph.Graph, inputs []string, suffix string, devices []backends.DeviceNum)
}

// Kind enumerates the available strategies.
type Kind int

const (
	// Auto picks the best applicable strategy for the device count and
	// peer-access pattern, falling back to Fallback.
	Auto Kind = iota
	// Fallback accumulates on the first device and broadcasts; works on any
	// topology and device count.
	Fallback
	// Direct is the single-device degenerate reduction.
	Direct
	// Pairwise is the 2-device scheme: add on the first device, copy to the second.
	Pairwise
	// Quad is the 4-device tree scheme over one fully peer-connected hive.
	Quad
	// Octet is the 8-device scheme over two hives of 4, exchanging hive totals
	// between the hive leaders.
	Octet
)

var kindNames = map[Kind]string{
	Auto:     `AUTO`,
	Fallback: `FALLBACK`,
	Direct:   `DIRECT`,
	Pairwise: `PAIRWISE`,
	Quad:     `QUAD`,
	Octet:    `OCTET`,
}

// KindNames returns the names of all strategies, sorted.
func KindNames() []string {
	var names []string
	for _, name := range kindNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String implements fmt.Stringer (and flag.Value).
func (k Kind) String() string {
	return kindNames[k]
}

// Set implements flag.Value.
func (k *Kind) Set(value string) error {
	parsed, err := ParseKind(value)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ErrInvalidKind is returned by ParseKind for unknown strategy names.
var ErrInvalidKind = errors.New("invalid strategy kind")

// ParseKind converts a strategy name (as returned by Kind.String) back to a Kind.
func ParseKind(name string) (Kind, error) {
	for kind, kindName := range kindNames {
		if name == kindName {
			return kind, nil
		}
	}
	return Auto, errors.WithMessagef(ErrInvalidKind, "%q (valid: %v)", name, KindNames())
}

// NumDevices returns the device count a fixed-width strategy requires, or 0 if
// the strategy handles any count.
func (k Kind) NumDevices() int {
	switch k {
	case Direct:
		return 1
	case Pairwise:
		return 2
	case Quad:
		return 4
	case Octet:
		return 8
	}
	return 0
}

// Strategy returns the Strategy implementation for the Kind. Auto needs the
// peer-access pattern to dispatch.
func (k Kind) Strategy(pattern topology.AccessPattern) Strategy {
	switch k {
	case Auto:
		return autoStrategy{pattern: pattern}
	case Fallback:
		return fallbackStrategy{}
	case Direct:
		return directStrategy{}
	case Pairwise:
		return pairwiseStrategy{}
	case Quad:
		return quadStrategy{}
	case Octet:
		return octetStrategy{}
	}
	exceptions.Panicf("collective: unknown strategy kind %d", int(k))
	return nil
}

// Supported reports whether the peer-access pattern satisfies the requirement
// of the optimized strategy for numDevices participants:
//
//   - 2: the leading 2x2 block all true.
//   - 4: the leading 4x4 block all true.
//   - 8: the leading and trailing diagonal 4x4 blocks all true (two hives of
//     4, cross-hive access not required).
//
// Any other count is unsupported by the optimized strategies. Note the blocks
// are indexed from device 0 regardless of which devices participate, matching
// the classic GPU allreduce gating.
func Supported(pattern topology.AccessPattern, numDevices int) bool {
	switch numDevices {
	case 2:
		return pattern.NumDevices() >= 2 && pattern.AllTrue(0, 2, 0, 2)
	case 4:
		return pattern.NumDevices() >= 4 && pattern.AllTrue(0, 4, 0, 4)
	case 8:
		return pattern.NumDevices() >= 8 &&
			pattern.AllTrue(0, 4, 0, 4) && pattern.AllTrue(4, 8, 4, 8)
	}
	return false
}
