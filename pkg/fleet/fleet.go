// Package fleet defines the contract with the fleet manager: the system
// that owns cluster membership, workload placement, and node connectivity
// (concretely, a vCenter-style virtualization manager).
package fleet

import (
	"context"
	"strings"
)

// ConnectivityState represents a node's state as reported by the fleet manager
type ConnectivityState string

const (
	StateConnected     ConnectivityState = "connected"
	StateMaintenance   ConnectivityState = "maintenance"
	StateNotResponding ConnectivityState = "not_responding"
	StateUnknown       ConnectivityState = "unknown" // Unrecognized or unreported state
)

// ParseConnectivityState maps a collaborator-reported state string onto the
// closed set of connectivity states. Anything unrecognized becomes
// StateUnknown rather than an error so a new collaborator-side state cannot
// break a run.
func ParseConnectivityState(s string) ConnectivityState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "connected":
		return StateConnected
	case "maintenance":
		return StateMaintenance
	case "notresponding", "not_responding", "not-responding", "disconnected":
		return StateNotResponding
	default:
		return StateUnknown
	}
}

// Node is a point-in-time snapshot of a fleet member. The orchestrator
// refreshes state via Manager.State after every blocking wait instead of
// trusting a snapshot taken before the wait.
type Node struct {
	Name  string            `yaml:"name" json:"name"`
	State ConnectivityState `yaml:"state" json:"state"`
}

// Identity is a node's stable network identity: the hardware address of the
// first physical interface reporting nonzero link speed. It is the only
// attribute shared with the hardware lifecycle manager and therefore the
// correlation key between the two control planes.
type Identity struct {
	// MAC is the hardware address, normalized to upper-case colon form.
	MAC string
	// NIC is the device the address was read from (informational).
	NIC string
}

// Manager defines the fleet-side operations the rolling update consumes.
//
// Implementations:
//   - vsphere.Client: vCenter REST API
//   - sim.FleetManager: in-memory world for --simulate and tests
type Manager interface {
	// ListNodes returns the members of cluster whose names match the shell
	// glob pattern. Order is not guaranteed; callers sort.
	ListNodes(ctx context.Context, cluster, pattern string) ([]Node, error)

	// State returns the node's current connectivity state.
	State(ctx context.Context, node string) (ConnectivityState, error)

	// Drain asks the fleet manager to evacuate workloads and place the node
	// in maintenance. The request is asynchronous; completion is observed
	// through State.
	Drain(ctx context.Context, node string) error

	// ActiveIdentity resolves the node's primary active network identity.
	ActiveIdentity(ctx context.Context, node string) (Identity, error)

	// Shutdown issues a graceful guest OS shutdown. The node must already be
	// in maintenance. Power-off completion is observed through the hardware
	// manager, not here.
	Shutdown(ctx context.Context, node string) error

	// ExitMaintenance returns a drained node to service.
	ExitMaintenance(ctx context.Context, node string) error

	// Remediate applies the named compliance baseline to a drained node.
	Remediate(ctx context.Context, node, baseline string) error
}
