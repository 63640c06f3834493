package rollout

import (
	"fmt"
	"io"
	"time"

	"github.com/MallocArray/Update-UCSFirmware/pkg/fleet"
)

// Plan is the immutable set of nodes a run processes, in processing order.
// Ordering is by node name so runs against the same fleet are repeatable
// and interrupted runs are easy to reason about.
type Plan struct {
	RunID     string       `yaml:"run_id" json:"run_id"`
	Cluster   string       `yaml:"cluster" json:"cluster"`
	Pattern   string       `yaml:"pattern" json:"pattern"`
	Target    string       `yaml:"target" json:"target"`
	Baseline  string       `yaml:"baseline,omitempty" json:"baseline,omitempty"`
	CreatedAt time.Time    `yaml:"created_at" json:"created_at"`
	Nodes     []fleet.Node `yaml:"nodes" json:"nodes"`
}

// PlanAction is what a run would do with a node, as predicted by Preview
type PlanAction string

const (
	PlanActionUpdate PlanAction = "update"
	PlanActionSkip   PlanAction = "skip"
	PlanActionFail   PlanAction = "fail"
)

// PlanEntry is the predicted handling of a single node.
type PlanEntry struct {
	Node          string     `yaml:"node" json:"node"`
	Action        PlanAction `yaml:"action" json:"action"`
	Detail        string     `yaml:"detail,omitempty" json:"detail,omitempty"`
	ProfileDN     string     `yaml:"profile_dn,omitempty" json:"profile_dn,omitempty"`
	CurrentPolicy string     `yaml:"current_policy,omitempty" json:"current_policy,omitempty"`
}

// Preview is a dry run: the plan plus the resolve/validate verdict for
// every node, produced without a single mutating call.
type Preview struct {
	Plan    *Plan       `yaml:"plan" json:"plan"`
	Entries []PlanEntry `yaml:"entries" json:"entries"`
}

// Updates returns how many nodes the run would actually update.
func (p *Preview) Updates() int {
	n := 0
	for _, e := range p.Entries {
		if e.Action == PlanActionUpdate {
			n++
		}
	}
	return n
}

// Render writes the preview as an operator-readable table.
func (p *Preview) Render(w io.Writer) {
	fmt.Fprintf(w, "Update plan for cluster %s (pattern %q, target %q)\n", p.Plan.Cluster, p.Plan.Pattern, p.Plan.Target)
	fmt.Fprintf(w, "Run ID: %s\n\n", p.Plan.RunID)

	nodeWidth := len("NODE")
	for _, e := range p.Entries {
		if len(e.Node) > nodeWidth {
			nodeWidth = len(e.Node)
		}
	}

	fmt.Fprintf(w, "  %-*s  %-8s  %-24s  %s\n", nodeWidth, "NODE", "ACTION", "PROFILE", "DETAIL")
	for _, e := range p.Entries {
		detail := e.Detail
		if e.Action == PlanActionUpdate && e.CurrentPolicy != "" {
			detail = fmt.Sprintf("%s -> %s", e.CurrentPolicy, p.Plan.Target)
		}
		fmt.Fprintf(w, "  %-*s  %-8s  %-24s  %s\n", nodeWidth, e.Node, e.Action, e.ProfileDN, detail)
	}
	fmt.Fprintf(w, "\n%d of %d nodes would be updated\n", p.Updates(), len(p.Entries))
}

// Marshal renders the preview in the requested structured format.
func (p *Preview) Marshal(format string) ([]byte, error) {
	return marshalAs(p, format)
}
