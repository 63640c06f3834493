package sim

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MallocArray/Update-UCSFirmware/pkg/fleet"
	"github.com/MallocArray/Update-UCSFirmware/pkg/hardware"
)

func TestDefaultScenarioWorld(t *testing.T) {
	w, err := NewWorld(DefaultScenario())
	require.NoError(t, err)

	node, ok := w.Node("esx-01")
	require.True(t, ok)
	assert.Equal(t, fleet.StateConnected, node.State)

	profile, ok := w.Profile("org-root/ls-esx-01")
	require.True(t, ok)
	assert.Equal(t, "4.1(3a)", profile.FirmwarePolicy)
	assert.Equal(t, hardware.PowerOn, profile.Power)
	assert.Equal(t, hardware.AssociationAssociated, profile.Association)

	// esx-03 is deliberately unmatched by any profile.
	fm := w.Fleet()
	id, err := fm.ActiveIdentity(context.Background(), "esx-03")
	require.NoError(t, err)
	hm := w.Hardware()
	profiles, err := hm.ProfilesByIdentity(context.Background(), id.MAC)
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

func TestLoadScenario(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "world.yaml")
	content := `world:
  cluster: lab
  domain: org-root/org-lab
  firmware_packs:
    - name: 5.0(1a)
  nodes:
    - name: lab-01
      mac: 00:25:B5:AA:00:01
  profiles:
    - dn: org-root/org-lab/ls-lab-01
      mac: 00:25:B5:AA:00:01
      firmware_policy: 4.2(1b)
  ticks:
    drain: 1
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	sc, err := LoadScenario(file)
	require.NoError(t, err)
	assert.Equal(t, "lab", sc.Cluster)
	assert.Equal(t, 1, sc.Ticks.Drain)
	require.Len(t, sc.Profiles, 1)
	assert.Equal(t, "org-root/org-lab/ls-lab-01", sc.Profiles[0].DN)

	w, err := NewWorld(sc)
	require.NoError(t, err)
	profile, ok := w.Profile("org-root/org-lab/ls-lab-01")
	require.True(t, ok)
	// Domain falls back to the DN's parent path.
	assert.Equal(t, "org-root/org-lab", profile.Domain)
	assert.Equal(t, "ls-lab-01", profile.Name)
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDrainCompletesAfterTicks(t *testing.T) {
	sc := DefaultScenario()
	sc.Ticks.Drain = 2
	w, err := NewWorld(sc)
	require.NoError(t, err)

	ctx := context.Background()
	fm := w.Fleet()
	require.NoError(t, fm.Drain(ctx, "esx-01"))

	state, err := fm.State(ctx, "esx-01")
	require.NoError(t, err)
	assert.Equal(t, fleet.StateConnected, state, "first poll should still be draining")

	state, err = fm.State(ctx, "esx-01")
	require.NoError(t, err)
	assert.Equal(t, fleet.StateMaintenance, state)
}

func TestShutdownRequiresMaintenance(t *testing.T) {
	w, err := NewWorld(DefaultScenario())
	require.NoError(t, err)

	ctx := context.Background()
	fm := w.Fleet()
	err = fm.Shutdown(ctx, "esx-01")
	assert.ErrorContains(t, err, "not in maintenance")

	require.NoError(t, fm.Drain(ctx, "esx-01"))
	drainToMaintenance(t, w, "esx-01")

	require.NoError(t, fm.Shutdown(ctx, "esx-01"))
	node, _ := w.Node("esx-01")
	assert.Equal(t, fleet.StateNotResponding, node.State)

	// The bound profile loses power after the configured number of polls.
	hm := w.Hardware()
	var power hardware.PowerState
	for i := 0; i < DefaultScenario().Ticks.PowerOff; i++ {
		power, err = hm.PowerState(ctx, "org-root/ls-esx-01")
		require.NoError(t, err)
	}
	assert.Equal(t, hardware.PowerOff, power)
}

func TestSetFirmwarePolicyRequiresPowerOff(t *testing.T) {
	w, err := NewWorld(DefaultScenario())
	require.NoError(t, err)

	hm := w.Hardware()
	err = hm.SetFirmwarePolicy(context.Background(), "org-root/ls-esx-01", "4.1(3b)")
	assert.ErrorContains(t, err, "powered on")
	assert.Empty(t, w.CallsFor("org-root/ls-esx-01"))
}

func TestSetFirmwarePolicyUnknownPack(t *testing.T) {
	w, err := NewWorld(DefaultScenario())
	require.NoError(t, err)
	powerOff(t, w, "esx-01", "org-root/ls-esx-01")

	err = w.Hardware().SetFirmwarePolicy(context.Background(), "org-root/ls-esx-01", "9.9(9z)")
	assert.ErrorContains(t, err, "no firmware pack")
}

func TestAssociationBlockedByPendingAck(t *testing.T) {
	sc := DefaultScenario()
	sc.Ticks.Associate = 1
	w, err := NewWorld(sc)
	require.NoError(t, err)
	powerOff(t, w, "esx-01", "org-root/ls-esx-01")

	ctx := context.Background()
	hm := w.Hardware()
	require.NoError(t, hm.SetFirmwarePolicy(ctx, "org-root/ls-esx-01", "4.1(3b)"))

	acks, err := hm.PendingAcks(ctx, "org-root/ls-esx-01")
	require.NoError(t, err)
	require.Len(t, acks, 1)
	assert.Equal(t, "firmware policy change", acks[0].Cause)

	// Polling never advances association while the ack is outstanding.
	for i := 0; i < 5; i++ {
		state, err := hm.AssociationState(ctx, "org-root/ls-esx-01")
		require.NoError(t, err)
		assert.Equal(t, hardware.AssociationAssociating, state)
	}

	require.NoError(t, hm.TriggerAck(ctx, acks[0]))
	state, err := hm.AssociationState(ctx, "org-root/ls-esx-01")
	require.NoError(t, err)
	assert.Equal(t, hardware.AssociationAssociated, state)
}

func TestFailureRuleLimitedTimes(t *testing.T) {
	sc := DefaultScenario()
	sc.Failures = []FailureRule{
		{Operation: "drain", Target: "esx-01", Error: "transient fault", Times: 1},
	}
	w, err := NewWorld(sc)
	require.NoError(t, err)

	ctx := context.Background()
	fm := w.Fleet()
	err = fm.Drain(ctx, "esx-01")
	assert.ErrorContains(t, err, "transient fault")
	assert.NoError(t, fm.Drain(ctx, "esx-01"))
}

func TestFailureRuleWildcardTarget(t *testing.T) {
	sc := DefaultScenario()
	sc.Failures = []FailureRule{
		{Operation: "list_nodes", Target: "*", Error: "fleet manager unreachable"},
	}
	w, err := NewWorld(sc)
	require.NoError(t, err)

	_, err = w.Fleet().ListNodes(context.Background(), "prod-a", "*")
	assert.ErrorContains(t, err, "fleet manager unreachable")
}

func TestPowerOnBootsNodeBackToMaintenance(t *testing.T) {
	sc := DefaultScenario()
	sc.Ticks.Boot = 1
	w, err := NewWorld(sc)
	require.NoError(t, err)
	powerOff(t, w, "esx-01", "org-root/ls-esx-01")

	ctx := context.Background()
	require.NoError(t, w.Hardware().SetPowerState(ctx, "org-root/ls-esx-01", hardware.PowerOn))

	state, err := w.Fleet().State(ctx, "esx-01")
	require.NoError(t, err)
	assert.Equal(t, fleet.StateMaintenance, state, "node boots back drained")
}

func TestListNodesFiltersClusterAndPattern(t *testing.T) {
	w, err := NewWorld(DefaultScenario())
	require.NoError(t, err)

	nodes, err := w.Fleet().ListNodes(context.Background(), "prod-a", "esx-0[12]")
	require.NoError(t, err)
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	assert.ElementsMatch(t, []string{"esx-01", "esx-02"}, names)

	nodes, err = w.Fleet().ListNodes(context.Background(), "other", "*")
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

// drainToMaintenance polls node state until the drain completes.
func drainToMaintenance(t *testing.T, w *World, node string) {
	t.Helper()
	fm := w.Fleet()
	for i := 0; i < 20; i++ {
		state, err := fm.State(context.Background(), node)
		require.NoError(t, err)
		if state == fleet.StateMaintenance {
			return
		}
	}
	t.Fatalf("node %s never reached maintenance", node)
}

// powerOff walks a node through drain, shutdown and power-off so tests
// can start from the mid-pipeline state.
func powerOff(t *testing.T, w *World, node, dn string) {
	t.Helper()
	ctx := context.Background()
	fm := w.Fleet()
	require.NoError(t, fm.Drain(ctx, node))
	drainToMaintenance(t, w, node)
	require.NoError(t, fm.Shutdown(ctx, node))
	hm := w.Hardware()
	for i := 0; i < 20; i++ {
		power, err := hm.PowerState(ctx, dn)
		require.NoError(t, err)
		if power == hardware.PowerOff {
			return
		}
	}
	t.Fatalf("profile %s never powered off", dn)
}
