package rollout_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MallocArray/Update-UCSFirmware/pkg/fleet"
	"github.com/MallocArray/Update-UCSFirmware/pkg/rollout"
	"github.com/MallocArray/Update-UCSFirmware/pkg/sim"
)

// testWaits paces every stage in milliseconds so the sim world's
// tick-driven transitions complete almost immediately.
func testWaits() *rollout.WaitConfig {
	return &rollout.WaitConfig{
		DrainInterval:     time.Millisecond,
		DrainTimeout:      5 * time.Second,
		PowerOffInterval:  time.Millisecond,
		PowerOffTimeout:   5 * time.Second,
		AssociateInterval: time.Millisecond,
		AssociateTimeout:  5 * time.Second,
		ReconnectInterval: time.Millisecond,
		ReconnectTimeout:  5 * time.Second,
	}
}

func testLogger() *logrus.Entry {
	logger, _ := logrustest.NewNullLogger()
	return logrus.NewEntry(logger)
}

func newOrchestrator(t *testing.T, config rollout.Config) *rollout.Orchestrator {
	t.Helper()
	if config.Waits == nil {
		config.Waits = testWaits()
	}
	config.Log = testLogger()
	o, err := rollout.NewOrchestrator(config)
	require.NoError(t, err)
	return o
}

func worldOrchestrator(t *testing.T, w *sim.World, config rollout.Config) *rollout.Orchestrator {
	t.Helper()
	if config.Fleet == nil {
		config.Fleet = w.Fleet()
	}
	if config.Hardware == nil {
		config.Hardware = w.Hardware()
	}
	return newOrchestrator(t, config)
}

func recordFor(t *testing.T, s *rollout.Summary, node string) *rollout.NodeUpdateRecord {
	t.Helper()
	for _, rec := range s.Records {
		if rec.Node == node {
			return rec
		}
	}
	t.Fatalf("no record for node %s in summary", node)
	return nil
}

// callIndex returns the position of the first matching call, or -1.
func callIndex(calls []sim.Call, op, target string) int {
	for i, c := range calls {
		if c.Op == op && c.Target == target {
			return i
		}
	}
	return -1
}

func countCalls(calls []sim.Call, op string) int {
	n := 0
	for _, c := range calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func TestNewOrchestratorValidatesConfig(t *testing.T) {
	w, err := sim.NewWorld(sim.DefaultScenario())
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*rollout.Config)
		wantErr string
	}{
		{"missing fleet", func(c *rollout.Config) { c.Fleet = nil }, "fleet manager"},
		{"missing hardware", func(c *rollout.Config) { c.Hardware = nil }, "hardware manager"},
		{"missing cluster", func(c *rollout.Config) { c.Cluster = "" }, "cluster"},
		{"missing target", func(c *rollout.Config) { c.Target = "" }, "target"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := rollout.Config{
				Fleet:    w.Fleet(),
				Hardware: w.Hardware(),
				Cluster:  "prod-a",
				Target:   "4.1(3b)",
			}
			tt.mutate(&config)
			_, err := rollout.NewOrchestrator(config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuildPlanNoMatchingNodes(t *testing.T) {
	w, err := sim.NewWorld(sim.DefaultScenario())
	require.NoError(t, err)

	o := worldOrchestrator(t, w, rollout.Config{
		Cluster: "prod-a",
		Pattern: "gpu-*",
		Target:  "4.1(3b)",
	})
	_, err = o.BuildPlan(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `pattern "gpu-*"`)
}

// The reference scenario: three nodes, one needing the update, one
// already on the target policy, one whose identity matches no hardware
// profile. Exactly one node changes, the others terminate without a
// single mutating call.
func TestRunReferenceScenario(t *testing.T) {
	w, err := sim.NewWorld(sim.DefaultScenario())
	require.NoError(t, err)

	o := worldOrchestrator(t, w, rollout.Config{
		Cluster: "prod-a",
		Pattern: "esx*",
		Target:  "4.1(3b)",
	})
	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Records, 3)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, summary.HasFailures())

	updated := recordFor(t, summary, "esx-01")
	assert.Equal(t, rollout.OutcomeUpdated, updated.Outcome)
	assert.Equal(t, rollout.StageDone, updated.Stage)
	assert.Equal(t, "org-root/ls-esx-01", updated.ProfileDN)
	assert.Greater(t, updated.Duration, time.Duration(0))

	skipped := recordFor(t, summary, "esx-02")
	assert.Equal(t, rollout.OutcomeSkipped, skipped.Outcome)
	assert.Equal(t, rollout.ReasonAlreadyCurrent, skipped.Reason)

	failed := recordFor(t, summary, "esx-03")
	assert.Equal(t, rollout.OutcomeFailed, failed.Outcome)
	assert.Equal(t, rollout.StageResolving, failed.Stage)
	assert.Contains(t, failed.Error, "no hardware profile matches identity")

	// Only esx-01 and its profile were ever touched.
	assert.Empty(t, w.CallsFor("esx-02"))
	assert.Empty(t, w.CallsFor("esx-03"))
	assert.Empty(t, w.CallsFor("org-root/ls-esx-02"))

	profile, ok := w.Profile("org-root/ls-esx-01")
	require.True(t, ok)
	assert.Equal(t, "4.1(3b)", profile.FirmwarePolicy)

	node, ok := w.Node("esx-01")
	require.True(t, ok)
	assert.Equal(t, fleet.StateConnected, node.State, "updated node must be back in service")
}

// The firmware policy is only ever changed on a powered-off endpoint,
// and the node leaves maintenance exactly once, after power-on.
func TestRunStageOrdering(t *testing.T) {
	w, err := sim.NewWorld(sim.DefaultScenario())
	require.NoError(t, err)

	o := worldOrchestrator(t, w, rollout.Config{
		Cluster: "prod-a",
		Pattern: "esx-01",
		Target:  "4.1(3b)",
	})
	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Updated)

	calls := w.MutatingCalls()
	drain := callIndex(calls, "drain", "esx-01")
	shutdown := callIndex(calls, "shutdown", "esx-01")
	policy := callIndex(calls, "set_firmware_policy", "org-root/ls-esx-01")
	powerOn := callIndex(calls, "set_power", "org-root/ls-esx-01")
	exit := callIndex(calls, "exit_maintenance", "esx-01")

	require.GreaterOrEqual(t, drain, 0)
	assert.Less(t, drain, shutdown, "drain precedes shutdown")
	assert.Less(t, shutdown, policy, "policy change only after shutdown and power-off")
	assert.Less(t, policy, powerOn, "power restored only after the policy change")
	assert.Less(t, powerOn, exit, "maintenance exit is the final transition")

	assert.Equal(t, 1, countCalls(calls, "exit_maintenance"))
	assert.Equal(t, "on", calls[powerOn].Value)
}

// Rerunning against an already-updated fleet touches nothing: every
// node skips as already current and the world sees zero mutating calls.
func TestRunIdempotence(t *testing.T) {
	sc := &sim.Scenario{
		Cluster:       "prod-a",
		Domain:        "org-root",
		FirmwarePacks: []sim.PackSpec{{Name: "4.1(3b)"}},
		Nodes: []sim.NodeSpec{
			{Name: "esx-01", MAC: "00:25:B5:00:A1:01"},
			{Name: "esx-02", MAC: "00:25:B5:00:A1:02"},
		},
		Profiles: []sim.ProfileSpec{
			{DN: "org-root/ls-esx-01", MAC: "00:25:B5:00:A1:01", FirmwarePolicy: "4.1(3b)"},
			{DN: "org-root/ls-esx-02", MAC: "00:25:B5:00:A1:02", FirmwarePolicy: "4.1(3b)"},
		},
	}
	w, err := sim.NewWorld(sc)
	require.NoError(t, err)

	o := worldOrchestrator(t, w, rollout.Config{
		Cluster: "prod-a",
		Pattern: "*",
		Target:  "4.1(3b)",
	})

	for run := 0; run < 2; run++ {
		summary, err := o.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Skipped)
		assert.Equal(t, 0, summary.Updated)
		assert.Equal(t, 0, summary.Failed)
		for _, rec := range summary.Records {
			assert.Equal(t, rollout.ReasonAlreadyCurrent, rec.Reason)
		}
	}
	assert.Empty(t, w.MutatingCalls(), "an all-current fleet must see zero mutating calls")
}

// Nodes are processed in stable name order regardless of listing order.
func TestRunProcessesNodesInNameOrder(t *testing.T) {
	sc := &sim.Scenario{
		Cluster:       "prod-a",
		Domain:        "org-root",
		FirmwarePacks: []sim.PackSpec{{Name: "2.0(1a)"}, {Name: "2.0(2b)"}},
		Nodes: []sim.NodeSpec{
			{Name: "web-3", MAC: "00:25:B5:00:B2:03"},
			{Name: "web-1", MAC: "00:25:B5:00:B2:01"},
			{Name: "web-2", MAC: "00:25:B5:00:B2:02"},
		},
		Profiles: []sim.ProfileSpec{
			{DN: "org-root/ls-web-1", MAC: "00:25:B5:00:B2:01", FirmwarePolicy: "2.0(1a)"},
			{DN: "org-root/ls-web-2", MAC: "00:25:B5:00:B2:02", FirmwarePolicy: "2.0(1a)"},
			{DN: "org-root/ls-web-3", MAC: "00:25:B5:00:B2:03", FirmwarePolicy: "2.0(1a)"},
		},
	}
	w, err := sim.NewWorld(sc)
	require.NoError(t, err)

	o := worldOrchestrator(t, w, rollout.Config{
		Cluster: "prod-a",
		Pattern: "web-*",
		Target:  "2.0(2b)",
	})
	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	var order []string
	for _, rec := range summary.Records {
		order = append(order, rec.Node)
	}
	assert.Equal(t, []string{"web-1", "web-2", "web-3"}, order)

	// The world saw the drains in the same order.
	calls := w.MutatingCalls()
	assert.Less(t, callIndex(calls, "drain", "web-1"), callIndex(calls, "drain", "web-2"))
	assert.Less(t, callIndex(calls, "drain", "web-2"), callIndex(calls, "drain", "web-3"))
}

// One node's failure never blocks the nodes after it.
func TestRunFaultIsolation(t *testing.T) {
	sc := &sim.Scenario{
		Cluster:       "prod-a",
		Domain:        "org-root",
		FirmwarePacks: []sim.PackSpec{{Name: "2.0(1a)"}, {Name: "2.0(2b)"}},
		Nodes: []sim.NodeSpec{
			{Name: "web-1", MAC: "00:25:B5:00:B2:01"},
			{Name: "web-2", MAC: "00:25:B5:00:B2:02"},
			{Name: "web-3", MAC: "00:25:B5:00:B2:03"},
		},
		Profiles: []sim.ProfileSpec{
			{DN: "org-root/ls-web-1", MAC: "00:25:B5:00:B2:01", FirmwarePolicy: "2.0(1a)"},
			{DN: "org-root/ls-web-2", MAC: "00:25:B5:00:B2:02", FirmwarePolicy: "2.0(1a)"},
			{DN: "org-root/ls-web-3", MAC: "00:25:B5:00:B2:03", FirmwarePolicy: "2.0(1a)"},
		},
		Failures: []sim.FailureRule{
			{Operation: "drain", Target: "web-2", Error: "connection refused"},
		},
	}
	w, err := sim.NewWorld(sc)
	require.NoError(t, err)

	o := worldOrchestrator(t, w, rollout.Config{
		Cluster: "prod-a",
		Pattern: "web-*",
		Target:  "2.0(2b)",
	})
	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, 1, summary.Failed)

	failed := recordFor(t, summary, "web-2")
	assert.Equal(t, rollout.OutcomeFailed, failed.Outcome)
	assert.Equal(t, rollout.StageDraining, failed.Stage)
	assert.Contains(t, failed.Error, "connection refused")

	// web-3 comes after the failure and still completed.
	assert.Equal(t, rollout.OutcomeUpdated, recordFor(t, summary, "web-3").Outcome)
}

// An identity bound to two profiles fails resolution; nothing on either
// candidate profile is touched.
func TestRunAmbiguousCorrelation(t *testing.T) {
	sharedMAC := "00:25:B5:00:C3:01"
	sc := &sim.Scenario{
		Cluster:       "prod-a",
		Domain:        "org-root",
		FirmwarePacks: []sim.PackSpec{{Name: "2.0(2b)"}},
		Nodes:         []sim.NodeSpec{{Name: "web-1", MAC: sharedMAC}},
		Profiles: []sim.ProfileSpec{
			{DN: "org-root/ls-web-1a", MAC: sharedMAC, FirmwarePolicy: "2.0(1a)"},
			{DN: "org-root/ls-web-1b", MAC: sharedMAC, FirmwarePolicy: "2.0(1a)"},
		},
	}
	w, err := sim.NewWorld(sc)
	require.NoError(t, err)

	o := worldOrchestrator(t, w, rollout.Config{
		Cluster: "prod-a",
		Pattern: "*",
		Target:  "2.0(2b)",
	})
	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	rec := recordFor(t, summary, "web-1")
	assert.Equal(t, rollout.OutcomeFailed, rec.Outcome)
	assert.Equal(t, rollout.StageResolving, rec.Stage)
	assert.Contains(t, rec.Error, "matches multiple hardware profiles")
	assert.Empty(t, w.MutatingCalls())
}

// With ambiguity explicitly allowed, the lowest profile DN wins and the
// update proceeds against it.
func TestRunAmbiguousCorrelationAllowed(t *testing.T) {
	sharedMAC := "00:25:B5:00:C3:01"
	sc := &sim.Scenario{
		Cluster:       "prod-a",
		Domain:        "org-root",
		FirmwarePacks: []sim.PackSpec{{Name: "2.0(2b)"}},
		Nodes:         []sim.NodeSpec{{Name: "web-1", MAC: sharedMAC}},
		Profiles: []sim.ProfileSpec{
			{DN: "org-root/ls-web-1a", MAC: sharedMAC, FirmwarePolicy: "2.0(1a)"},
			{DN: "org-root/ls-web-1b", MAC: sharedMAC, FirmwarePolicy: "2.0(1a)"},
		},
	}
	w, err := sim.NewWorld(sc)
	require.NoError(t, err)

	o := worldOrchestrator(t, w, rollout.Config{
		Cluster:        "prod-a",
		Pattern:        "*",
		Target:         "2.0(2b)",
		AllowAmbiguous: true,
	})
	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	rec := recordFor(t, summary, "web-1")
	assert.Equal(t, rollout.OutcomeUpdated, rec.Outcome)
	assert.Equal(t, "org-root/ls-web-1a", rec.ProfileDN)
	assert.Empty(t, w.CallsFor("org-root/ls-web-1b"))
}

// Two acknowledgments pending after the policy change (one pre-existing,
// one raised by the change itself) are both triggered; the association
// poll cannot finish until they are.
func TestRunTriggersEveryPendingAcknowledgment(t *testing.T) {
	sc := &sim.Scenario{
		Cluster:       "prod-a",
		Domain:        "org-root",
		FirmwarePacks: []sim.PackSpec{{Name: "2.0(2b)"}},
		Nodes:         []sim.NodeSpec{{Name: "web-1", MAC: "00:25:B5:00:B2:01"}},
		Profiles: []sim.ProfileSpec{
			{
				DN:                "org-root/ls-web-1",
				MAC:               "00:25:B5:00:B2:01",
				FirmwarePolicy:    "2.0(1a)",
				AckOnPolicyChange: true,
				PendingAcks:       1,
			},
		},
		Ticks: sim.TickSpec{Associate: 2},
	}
	w, err := sim.NewWorld(sc)
	require.NoError(t, err)

	o := worldOrchestrator(t, w, rollout.Config{
		Cluster: "prod-a",
		Pattern: "*",
		Target:  "2.0(2b)",
	})
	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Updated)

	calls := w.MutatingCalls()
	assert.Equal(t, 2, countCalls(calls, "trigger_ack"))

	// Both acknowledgments cleared before power came back.
	powerOn := callIndex(calls, "set_power", "org-root/ls-web-1")
	for i, c := range calls {
		if c.Op == "trigger_ack" {
			assert.Less(t, i, powerOn)
		}
	}
}

// A drain that never completes exhausts its wait bound and fails the
// node with a timeout, not a hang.
func TestRunDrainTimeout(t *testing.T) {
	sc := &sim.Scenario{
		Cluster:       "prod-a",
		Domain:        "org-root",
		FirmwarePacks: []sim.PackSpec{{Name: "2.0(2b)"}},
		Nodes:         []sim.NodeSpec{{Name: "web-1", MAC: "00:25:B5:00:B2:01"}},
		Profiles: []sim.ProfileSpec{
			{DN: "org-root/ls-web-1", MAC: "00:25:B5:00:B2:01", FirmwarePolicy: "2.0(1a)"},
		},
		// Far more polls than the wait bound allows.
		Ticks: sim.TickSpec{Drain: 1 << 20},
	}
	w, err := sim.NewWorld(sc)
	require.NoError(t, err)

	waits := testWaits()
	waits.DrainTimeout = 50 * time.Millisecond

	o := worldOrchestrator(t, w, rollout.Config{
		Cluster: "prod-a",
		Pattern: "*",
		Target:  "2.0(2b)",
		Waits:   waits,
	})
	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	rec := recordFor(t, summary, "web-1")
	assert.Equal(t, rollout.OutcomeFailed, rec.Outcome)
	assert.Equal(t, rollout.StageDraining, rec.Stage)
	assert.Contains(t, rec.Error, "timed out after")

	// The node was never shut down.
	assert.Equal(t, -1, callIndex(w.MutatingCalls(), "shutdown", "web-1"))
}

// A hardware-side association failure is terminal: the node fails as
// soon as the state is observed, without burning the full wait bound.
func TestRunAssociationFailure(t *testing.T) {
	sc := &sim.Scenario{
		Cluster:       "prod-a",
		Domain:        "org-root",
		FirmwarePacks: []sim.PackSpec{{Name: "2.0(2b)"}},
		Nodes:         []sim.NodeSpec{{Name: "web-1", MAC: "00:25:B5:00:B2:01"}},
		Profiles: []sim.ProfileSpec{
			{
				DN:               "org-root/ls-web-1",
				MAC:              "00:25:B5:00:B2:01",
				FirmwarePolicy:   "2.0(1a)",
				AssociateOutcome: "failed",
			},
		},
	}
	w, err := sim.NewWorld(sc)
	require.NoError(t, err)

	waits := testWaits()
	waits.AssociateTimeout = time.Hour // would stall the test if the bound were burned

	o := worldOrchestrator(t, w, rollout.Config{
		Cluster: "prod-a",
		Pattern: "*",
		Target:  "2.0(2b)",
		Waits:   waits,
	})

	type runResult struct {
		summary *rollout.Summary
		err     error
	}
	done := make(chan runResult, 1)
	go func() {
		summary, err := o.Run(context.Background())
		done <- runResult{summary, err}
	}()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		rec := recordFor(t, res.summary, "web-1")
		assert.Equal(t, rollout.OutcomeFailed, rec.Outcome)
		assert.Equal(t, rollout.StageAwaitingAssociation, rec.Stage)
		assert.Contains(t, rec.Error, "association of org-root/ls-web-1 failed")
		assert.NotContains(t, rec.Error, "timed out")
	case <-time.After(10 * time.Second):
		t.Fatal("association failure was not treated as terminal")
	}
}

// A remediation baseline runs against the drained node before shutdown.
func TestRunWithRemediationBaseline(t *testing.T) {
	w, err := sim.NewWorld(sim.DefaultScenario())
	require.NoError(t, err)

	o := worldOrchestrator(t, w, rollout.Config{
		Cluster:  "prod-a",
		Pattern:  "esx-01",
		Target:   "4.1(3b)",
		Baseline: "critical-host-patches",
	})
	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Updated)

	calls := w.MutatingCalls()
	remediate := callIndex(calls, "remediate", "esx-01")
	require.GreaterOrEqual(t, remediate, 0)
	assert.Equal(t, "critical-host-patches", calls[remediate].Value)
	assert.Less(t, callIndex(calls, "drain", "esx-01"), remediate)
	assert.Less(t, remediate, callIndex(calls, "shutdown", "esx-01"))
}

// cancellingFleet cancels the run's context right after a drain request
// is issued for the named node.
type cancellingFleet struct {
	fleet.Manager
	node   string
	cancel context.CancelFunc
}

func (c *cancellingFleet) Drain(ctx context.Context, node string) error {
	err := c.Manager.Drain(ctx, node)
	if node == c.node {
		c.cancel()
	}
	return err
}

// Cancellation fails the in-flight node and records every node not yet
// started as skipped; none of them are attempted.
func TestRunCancellationSkipsRemainingNodes(t *testing.T) {
	sc := &sim.Scenario{
		Cluster:       "prod-a",
		Domain:        "org-root",
		FirmwarePacks: []sim.PackSpec{{Name: "2.0(2b)"}},
		Nodes: []sim.NodeSpec{
			{Name: "web-1", MAC: "00:25:B5:00:B2:01"},
			{Name: "web-2", MAC: "00:25:B5:00:B2:02"},
			{Name: "web-3", MAC: "00:25:B5:00:B2:03"},
		},
		Profiles: []sim.ProfileSpec{
			{DN: "org-root/ls-web-1", MAC: "00:25:B5:00:B2:01", FirmwarePolicy: "2.0(1a)"},
			{DN: "org-root/ls-web-2", MAC: "00:25:B5:00:B2:02", FirmwarePolicy: "2.0(1a)"},
			{DN: "org-root/ls-web-3", MAC: "00:25:B5:00:B2:03", FirmwarePolicy: "2.0(1a)"},
		},
		Ticks: sim.TickSpec{Drain: 1 << 20},
	}
	w, err := sim.NewWorld(sc)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := worldOrchestrator(t, w, rollout.Config{
		Fleet:   &cancellingFleet{Manager: w.Fleet(), node: "web-1", cancel: cancel},
		Cluster: "prod-a",
		Pattern: "*",
		Target:  "2.0(2b)",
	})
	summary, err := o.Run(ctx)
	require.NoError(t, err)

	rec := recordFor(t, summary, "web-1")
	assert.Equal(t, rollout.OutcomeFailed, rec.Outcome)
	assert.Contains(t, rec.Error, "context canceled")

	for _, node := range []string{"web-2", "web-3"} {
		rec := recordFor(t, summary, node)
		assert.Equal(t, rollout.OutcomeSkipped, rec.Outcome)
		assert.Equal(t, rollout.ReasonRunCancelled, rec.Reason)
		assert.Empty(t, w.CallsFor(node))
	}
}

// cancelOnShutdown cancels the run's context the moment the guest
// shutdown is issued, i.e. at the start of the powered-off critical
// section.
type cancelOnShutdown struct {
	fleet.Manager
	cancel context.CancelFunc
}

func (c *cancelOnShutdown) Shutdown(ctx context.Context, node string) error {
	err := c.Manager.Shutdown(ctx, node)
	c.cancel()
	return err
}

// Cancellation inside the powered-off critical section is deferred: the
// node is still carried through firmware change and power-on before the
// run gives up on it. A node is never abandoned powered off.
func TestRunCancellationDeferredThroughPowerCycle(t *testing.T) {
	w, err := sim.NewWorld(sim.DefaultScenario())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := worldOrchestrator(t, w, rollout.Config{
		Fleet:   &cancelOnShutdown{Manager: w.Fleet(), cancel: cancel},
		Cluster: "prod-a",
		Pattern: "esx-01",
		Target:  "4.1(3b)",
	})
	summary, err := o.Run(ctx)
	require.NoError(t, err)

	rec := recordFor(t, summary, "esx-01")
	assert.Equal(t, rollout.OutcomeFailed, rec.Outcome)
	assert.Contains(t, rec.Error, "cancelled before rejoin")

	// The critical section ran to completion: policy changed, power back on.
	calls := w.MutatingCalls()
	powerOn := callIndex(calls, "set_power", "org-root/ls-esx-01")
	require.GreaterOrEqual(t, powerOn, 0)
	assert.Equal(t, "on", calls[powerOn].Value)
	assert.GreaterOrEqual(t, callIndex(calls, "set_firmware_policy", "org-root/ls-esx-01"), 0)

	profile, ok := w.Profile("org-root/ls-esx-01")
	require.True(t, ok)
	assert.Equal(t, "4.1(3b)", profile.FirmwarePolicy)
}

// Preview resolves and validates the whole plan without mutating
// anything.
func TestPreviewIssuesNoMutatingCalls(t *testing.T) {
	w, err := sim.NewWorld(sim.DefaultScenario())
	require.NoError(t, err)

	o := worldOrchestrator(t, w, rollout.Config{
		Cluster: "prod-a",
		Pattern: "esx*",
		Target:  "4.1(3b)",
	})
	pv, err := o.Preview(context.Background())
	require.NoError(t, err)

	require.Len(t, pv.Entries, 3)
	assert.Equal(t, 1, pv.Updates())

	byNode := make(map[string]rollout.PlanEntry, len(pv.Entries))
	for _, e := range pv.Entries {
		byNode[e.Node] = e
	}
	assert.Equal(t, rollout.PlanActionUpdate, byNode["esx-01"].Action)
	assert.Equal(t, "org-root/ls-esx-01", byNode["esx-01"].ProfileDN)
	assert.Equal(t, "4.1(3a)", byNode["esx-01"].CurrentPolicy)
	assert.Equal(t, rollout.PlanActionSkip, byNode["esx-02"].Action)
	assert.Equal(t, rollout.PlanActionFail, byNode["esx-03"].Action)

	assert.Empty(t, w.MutatingCalls())

	var buf strings.Builder
	pv.Render(&buf)
	assert.Contains(t, buf.String(), "1 of 3 nodes would be updated")
}
