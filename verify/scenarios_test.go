package verify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/hive/collective"
	"github.com/gomlx/hive/types/topology"
	"github.com/gomlx/hive/verify"
)

func TestGate(t *testing.T) {
	full := topology.FullyConnected(8)
	for _, n := range []int{0, 1, 2, 4, 8} {
		assert.NoError(t, verify.Gate(full, n), "n=%d", n)
	}

	hives := topology.Hives(4, 2)
	assert.NoError(t, verify.Gate(hives, 2))
	assert.NoError(t, verify.Gate(hives, 4))
	assert.NoError(t, verify.Gate(hives, 8))

	isolated := topology.Isolated(8)
	for _, n := range []int{2, 4, 8} {
		err := verify.Gate(isolated, n)
		require.Error(t, err, "n=%d", n)
		assert.True(t, verify.IsSkip(err))
		assert.Contains(t, err.Error(), "not peer access ready")
	}
	// The single-device and fallback cases bypass the gate even on an isolated
	// topology.
	assert.NoError(t, verify.Gate(isolated, 1))
	assert.NoError(t, verify.Gate(isolated, 0))
}

func TestScenariosMatrix(t *testing.T) {
	_, backend := newRunner(t, "devices=8")
	scenarios := verify.Scenarios(backend)
	var names []string
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		"Fallback",
		"Single/0", "Single/1", "Single/2", "Single/3",
		"Single/4", "Single/5", "Single/6", "Single/7",
		"Pair", "Quad", "Octet",
	}, names)
	assert.Equal(t, deviceSet(0, 1, 2, 3, 4, 5, 6, 7), scenarios[0].Devices)
	assert.Equal(t, 8, scenarios[len(scenarios)-1].GateDevices)
}

func TestRunScenarioSweepFullAccess(t *testing.T) {
	runner, backend := newRunner(t, "devices=8")
	for _, scenario := range verify.Scenarios(backend) {
		t.Run(scenario.Name, func(t *testing.T) {
			require.NoError(t, runner.RunScenario(scenario))
		})
	}
}

func TestRunScenarioSweepHives(t *testing.T) {
	// Two hives of 4: every scenario still runs, including Octet, whose gating
	// only needs the diagonal blocks.
	runner, backend := newRunner(t, "devices=8,access=hives,hive=4")
	for _, scenario := range verify.Scenarios(backend) {
		t.Run(scenario.Name, func(t *testing.T) {
			require.NoError(t, runner.RunScenario(scenario))
		})
	}
}

func TestRunScenarioSkipsWithoutPeerAccess(t *testing.T) {
	runner, backend := newRunner(t, "devices=8,access=none")
	skipped := 0
	for _, scenario := range verify.Scenarios(backend) {
		err := runner.RunScenario(scenario)
		if scenario.GateDevices > 0 {
			require.Error(t, err, scenario.Name)
			assert.True(t, verify.IsSkip(err), scenario.Name)
			skipped++
		} else {
			require.NoError(t, err, scenario.Name)
		}
	}
	assert.Equal(t, 3, skipped, "Pair, Quad and Octet must skip")

	// Skipping means the strategy never ran: no reduced blobs materialized.
	backend.ResetWorkspace()
	pair := verify.Scenario{Name: "Pair", Devices: deviceSet(0, 1),
		Kind: collective.Pairwise, GateDevices: 2}
	require.True(t, verify.IsSkip(runner.RunScenario(pair)))
	assert.Empty(t, backend.Blobs())
}

func TestRunScenarioNotEnoughDevices(t *testing.T) {
	runner, _ := newRunner(t, "devices=2")
	err := runner.RunScenario(verify.Scenario{
		Name: "Quad", Devices: deviceSet(0, 1, 2, 3),
		Kind: collective.Quad, GateDevices: 4,
	})
	require.Error(t, err)
	assert.True(t, verify.IsSkip(err))
	assert.Contains(t, err.Error(), "only has 2 devices")
}

func TestScenariosNoDevices(t *testing.T) {
	runner, backend := newRunner(t, "devices=0")
	assert.Empty(t, verify.Scenarios(backend))
	err := runner.RunScenario(verify.Scenario{Name: "Fallback", Devices: deviceSet(0), Kind: collective.Fallback})
	require.Error(t, err)
	assert.True(t, verify.IsSkip(err))
	assert.Contains(t, err.Error(), "no devices")
}
