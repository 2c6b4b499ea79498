package collective

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/hive/backends"
	"github.com/gomlx/hive/graph"
	"github.com/gomlx/hive/types/topology"
)

// checkArgs validates the common Apply contract. Violations are programmer
// errors and panic with an exception.
func checkArgs(name string, inputs []string, devices []backends.DeviceNum, required int) {
	if len(inputs) == 0 {
		exceptions.Panicf("collective: %s requires at least one input", name)
	}
	if len(inputs) != len(devices) {
		exceptions.Panicf("collective: %s got %d inputs but %d devices, they must run in lockstep",
			name, len(inputs), len(devices))
	}
	if required > 0 && len(devices) != required {
		exceptions.Panicf("collective: %s requires exactly %d devices, got %d", name, required, len(devices))
	}
	seen := make(map[backends.DeviceNum]bool, len(devices))
	for _, device := range devices {
		if seen[device] {
			exceptions.Panicf("collective: %s got duplicated device %d", name, device)
		}
		seen[device] = true
	}
}

// autoStrategy dispatches to the best applicable strategy for the device count
// and peer-access pattern.
type autoStrategy struct {
	pattern topology.AccessPattern
}

func (s autoStrategy) Apply(g *graph.Graph, inputs []string, suffix string, devices []backends.DeviceNum) {
	checkArgs("Auto", inputs, devices, 0)
	var chosen Strategy
	switch {
	case len(devices) == 1:
		chosen = directStrategy{}
	case len(devices) == 2 && Supported(s.pattern, 2):
		chosen = pairwiseStrategy{}
	case len(devices) == 4 && Supported(s.pattern, 4):
		chosen = quadStrategy{}
	case len(devices) == 8 && Supported(s.pattern, 8):
		chosen = octetStrategy{}
	default:
		chosen = fallbackStrategy{}
	}
	chosen.Apply(g, inputs, suffix, devices)
}

// directStrategy reduces a single device: the sum over one input is the input.
type directStrategy struct{}

func (directStrategy) Apply(g *graph.Graph, inputs []string, suffix string, devices []backends.DeviceNum) {
	checkArgs("Direct", inputs, devices, 1)
	g.Copy(inputs[0], inputs[0]+suffix, devices[0])
}

// fallbackStrategy accumulates every input on the first device, then
// broadcasts the total back to all others. It never reads a remote blob
// directly, so it works whatever the peer-access pattern -- transfers without
// peer access are staged through the host by the backend.
type fallbackStrategy struct{}

func (fallbackStrategy) Apply(g *graph.Graph, inputs []string, suffix string, devices []backends.DeviceNum) {
	checkArgs("Fallback", inputs, devices, 0)
	root := devices[0]
	total := g.Copy(inputs[0], inputs[0]+suffix, root)
	for i := 1; i < len(inputs); i++ {
		staged := g.Copy(inputs[i], inputs[i]+"_temp_copy", root)
		g.Add(total, staged, total, root)
	}
	for i := 1; i < len(inputs); i++ {
		g.Copy(total, inputs[i]+suffix, devices[i])
	}
}

// pairwiseStrategy reduces 2 peer-connected devices: sum on the first (reading
// the second's blob through peer access), copy the total to the second.
type pairwiseStrategy struct{}

func (pairwiseStrategy) Apply(g *graph.Graph, inputs []string, suffix string, devices []backends.DeviceNum) {
	checkArgs("Pairwise", inputs, devices, 2)
	a, b := inputs[0], inputs[1]
	deviceA, deviceB := devices[0], devices[1]
	total := g.Add(a, b, a+suffix, deviceA)
	g.Copy(total, b+suffix, deviceB)
}

// quadStrategy reduces 4 devices of one fully peer-connected hive as a
// two-level tree: pairwise partial sums, combine on the first device, then
// broadcast down the same tree.
type quadStrategy struct{}

func (quadStrategy) Apply(g *graph.Graph, inputs []string, suffix string, devices []backends.DeviceNum) {
	checkArgs("Quad", inputs, devices, 4)
	a, b, c, d := inputs[0], inputs[1], inputs[2], inputs[3]
	deviceA, deviceB, deviceC, deviceD := devices[0], devices[1], devices[2], devices[3]

	aReduced := g.Add(a, b, a+suffix, deviceA)
	cReduced := g.Add(c, d, c+suffix, deviceC)
	aReduced = g.Add(aReduced, cReduced, aReduced, deviceA)

	cReduced = g.Copy(aReduced, cReduced, deviceC)
	g.Copy(aReduced, b+suffix, deviceB)
	g.Copy(cReduced, d+suffix, deviceD)
}

// octetStrategy reduces 8 devices laid out as two hives of 4 (devices[0:4] and
// devices[4:8]). Partial sums climb a tree inside each hive, the two hive
// totals are exchanged between the hive leaders (the one transfer that may
// cross hives, staged through the host when there is no cross-hive peer
// access), and the total is broadcast back down inside each hive.
type octetStrategy struct{}

func (octetStrategy) Apply(g *graph.Graph, inputs []string, suffix string, devices []backends.DeviceNum) {
	checkArgs("Octet", inputs, devices, 8)

	// Pair sums: inputs[i]+inputs[i+1] on devices[i] for even i.
	states := make([]string, 4)
	for i := 0; i < 8; i += 2 {
		states[i/2] = g.Add(inputs[i], inputs[i+1], inputs[i]+suffix, devices[i])
	}
	// Hive totals on the hive leaders: devices[0] and devices[4].
	states[0] = g.Add(states[0], states[1], states[0], devices[0])
	states[2] = g.Add(states[2], states[3], states[2], devices[4])

	// Exchange across hives: copy the second hive's total to the first leader
	// and add, then send the grand total back.
	secondHiveTotal := g.Copy(states[2], states[2]+"_copy", devices[0])
	states[0] = g.Add(states[0], secondHiveTotal, states[0], devices[0])
	states[2] = g.Copy(states[0], states[2], devices[4])

	// Broadcast down the trees: leaders to the other even devices...
	states[1] = g.Copy(states[0], states[1], devices[2])
	states[3] = g.Copy(states[2], states[3], devices[6])
	// ...and even devices to their odd pair.
	for i := 1; i < 8; i += 2 {
		g.Copy(inputs[i-1]+suffix, inputs[i]+suffix, devices[i])
	}
}
