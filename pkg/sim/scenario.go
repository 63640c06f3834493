package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario describes a simulated two-control-plane world: the fleet
// inventory, the hardware profile inventory, transition pacing, and
// injected failures.
type Scenario struct {
	Cluster       string        `yaml:"cluster"`
	Domain        string        `yaml:"domain"`
	FirmwarePacks []PackSpec    `yaml:"firmware_packs"`
	Nodes         []NodeSpec    `yaml:"nodes"`
	Profiles      []ProfileSpec `yaml:"profiles"`
	Ticks         TickSpec      `yaml:"ticks"`
	Failures      []FailureRule `yaml:"failures"`
}

// PackSpec declares a firmware pack. Domain defaults to the world domain.
type PackSpec struct {
	Name   string `yaml:"name"`
	Domain string `yaml:"domain,omitempty"`
}

// NodeSpec declares a fleet node. Cluster defaults to the world cluster,
// state to connected.
type NodeSpec struct {
	Name    string `yaml:"name"`
	Cluster string `yaml:"cluster,omitempty"`
	MAC     string `yaml:"mac"`
	State   string `yaml:"state,omitempty"`
}

// ProfileSpec declares a hardware profile. A node correlates to a profile
// purely by MAC, exactly as the real control planes do; a node without a
// matching profile exercises the not-found path, two profiles sharing a
// MAC the ambiguous path.
type ProfileSpec struct {
	DN                string `yaml:"dn"`
	Name              string `yaml:"name,omitempty"`
	Domain            string `yaml:"domain,omitempty"`
	MAC               string `yaml:"mac"`
	FirmwarePolicy    string `yaml:"firmware_policy"`
	Power             string `yaml:"power,omitempty"`       // default on
	Association       string `yaml:"association,omitempty"` // default associated
	BoundTo           string `yaml:"bound_to,omitempty"`
	AckOnPolicyChange bool   `yaml:"ack_on_policy_change,omitempty"`
	// PendingAcks seeds acknowledgments that are already gating the
	// profile before the run starts.
	PendingAcks int `yaml:"pending_acks,omitempty"`
	// AssociateOutcome is the terminal association state after a policy
	// change: associated (default) or failed.
	AssociateOutcome string `yaml:"associate_outcome,omitempty"`
}

// TickSpec paces state transitions, counted in observations: a drain with
// drain=2 completes on the second state poll after the request. Zero means
// the transition completes on the first poll.
type TickSpec struct {
	Drain     int `yaml:"drain"`
	PowerOff  int `yaml:"power_off"`
	Associate int `yaml:"associate"`
	Boot      int `yaml:"boot"`
}

// FailureRule injects an error into matching operations. Operation is the
// world operation name (drain, shutdown, exit_maintenance, remediate,
// node_state, active_identity, list_nodes, profiles_by_identity,
// firmware_targets, power_state, set_power, set_firmware_policy,
// pending_acks, trigger_ack, association_state); Target matches the node
// name, profile DN, or MAC the operation addresses, or "*" for any. Times
// limits how often the rule fires; zero fires forever.
type FailureRule struct {
	Operation string `yaml:"operation"`
	Target    string `yaml:"target"`
	Error     string `yaml:"error"`
	Times     int    `yaml:"times,omitempty"`
}

// ScenarioFile is the root structure of a scenario YAML file.
type ScenarioFile struct {
	World Scenario `yaml:"world"`
}

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var file ScenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}
	return &file.World, nil
}

// DefaultScenario is the built-in demo world: three nodes in cluster
// prod-a, one needing the update, one already current, one with no
// hardware profile bound to its identity.
func DefaultScenario() *Scenario {
	return &Scenario{
		Cluster: "prod-a",
		Domain:  "org-root",
		FirmwarePacks: []PackSpec{
			{Name: "4.1(3a)"},
			{Name: "4.1(3b)"},
		},
		Nodes: []NodeSpec{
			{Name: "esx-01", MAC: "00:25:B5:00:A1:01"},
			{Name: "esx-02", MAC: "00:25:B5:00:A1:02"},
			{Name: "esx-03", MAC: "00:25:B5:00:A1:03"},
		},
		Profiles: []ProfileSpec{
			{
				DN:                "org-root/ls-esx-01",
				MAC:               "00:25:B5:00:A1:01",
				FirmwarePolicy:    "4.1(3a)",
				BoundTo:           "sys/chassis-1/blade-1",
				AckOnPolicyChange: true,
			},
			{
				DN:                "org-root/ls-esx-02",
				MAC:               "00:25:B5:00:A1:02",
				FirmwarePolicy:    "4.1(3b)",
				BoundTo:           "sys/chassis-1/blade-2",
				AckOnPolicyChange: true,
			},
			// esx-03 has no profile: its identity resolves to nothing.
		},
		Ticks: TickSpec{Drain: 2, PowerOff: 2, Associate: 3, Boot: 2},
	}
}
