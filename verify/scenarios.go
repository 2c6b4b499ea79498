package verify

import (
	"fmt"

	"github.com/gomlx/hive/backends"
	"github.com/gomlx/hive/collective"
	"github.com/gomlx/hive/types/topology"
)

// Gate decides whether an optimized strategy requiring numDevices peers may run
// on the given pattern. It returns nil to proceed, or a *SkipError with the
// diagnostic to emit.
//
// Device counts below 2 bypass the gate entirely: the single-device and
// fallback reductions have no peer-access requirement.
//
// Note the gate checks the leading blocks of the pattern (devices 0..n-1)
// regardless of which device ids are under test; generalizing it to index by
// the actual chosen ids would change which hardware is considered ready.
func Gate(pattern topology.AccessPattern, numDevices int) error {
	if numDevices < 2 {
		return nil
	}
	if !collective.Supported(pattern, numDevices) {
		return &SkipError{Reason: fmt.Sprintf(
			"allreduce with %d devices: not peer access ready", numDevices)}
	}
	return nil
}

// Scenario is one entry of the strategy verification matrix: a device set, a
// strategy and the peer-access requirement gating it (0 means ungated).
type Scenario struct {
	Name    string
	Devices []backends.DeviceNum
	Kind    collective.Kind

	// GateDevices is the device count whose peer-access requirement must hold
	// before running; 0 bypasses the gate.
	GateDevices int
}

// String implements fmt.Stringer.
func (s Scenario) String() string {
	return fmt.Sprintf("%s over %v", s.Name, s.Devices)
}

// Scenarios returns the verification matrix for a backend:
//
//   - Fallback: all devices, generic reduction, no gate.
//   - Single: each device individually, one scenario per device, no gate.
//   - Pair: devices [0,1], pairwise reduction, gated on the 2x2 block.
//   - Quad: devices [0..3], 4-way reduction, gated on the 4x4 block.
//   - Octet: devices [0..7], 8-way reduction, gated on both diagonal 4x4 blocks.
//
// Scenarios the backend doesn't have enough devices for are still listed;
// RunScenario skips them. A backend with no devices gets an empty matrix.
func Scenarios(backend backends.Backend) []Scenario {
	numDevices := backend.NumDevices()
	if numDevices == 0 {
		return nil
	}
	allDevices := deviceRange(numDevices)
	scenarios := []Scenario{
		{Name: "Fallback", Devices: allDevices, Kind: collective.Fallback},
	}
	for _, device := range allDevices {
		scenarios = append(scenarios, Scenario{
			Name:    fmt.Sprintf("Single/%d", device),
			Devices: []backends.DeviceNum{device},
			Kind:    collective.Auto,
		})
	}
	scenarios = append(scenarios,
		Scenario{Name: "Pair", Devices: deviceRange(2), Kind: collective.Pairwise, GateDevices: 2},
		Scenario{Name: "Quad", Devices: deviceRange(4), Kind: collective.Quad, GateDevices: 4},
		Scenario{Name: "Octet", Devices: deviceRange(8), Kind: collective.Octet, GateDevices: 8},
	)
	return scenarios
}

// RunScenario gates and runs one scenario. It returns nil on success, a
// *SkipError when a precondition isn't met (with a diagnostic through Logf),
// or a hard error on a verification failure.
func (r *Runner) RunScenario(s Scenario) error {
	numDevices := r.Backend.NumDevices()
	if numDevices == 0 {
		return r.skip(&SkipError{Reason: "no devices available"})
	}
	for _, device := range s.Devices {
		if int(device) >= numDevices {
			return r.skip(&SkipError{Reason: fmt.Sprintf(
				"%s requires device %d, backend only has %d devices", s, device, numDevices)})
		}
	}
	pattern := r.Backend.PeerAccessPattern()
	if err := Gate(pattern, s.GateDevices); err != nil {
		return r.skip(err)
	}
	return r.RunAllreduce(s.Devices, s.Kind.Strategy(pattern))
}

func (r *Runner) skip(err error) error {
	r.logf("%s", err)
	return err
}

func deviceRange(n int) []backends.DeviceNum {
	devices := make([]backends.DeviceNum, n)
	for i := range devices {
		devices[i] = backends.DeviceNum(i)
	}
	return devices
}
