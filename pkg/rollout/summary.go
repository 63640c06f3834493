package rollout

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Summary is the run's audit artifact: every node's record in processing
// order plus run-level counts. It renders as an operator table and
// marshals to YAML or JSON for machine consumption.
type Summary struct {
	RunID     string              `yaml:"run_id" json:"run_id"`
	Cluster   string              `yaml:"cluster" json:"cluster"`
	Pattern   string              `yaml:"pattern" json:"pattern"`
	Target    string              `yaml:"target" json:"target"`
	StartedAt time.Time           `yaml:"started_at" json:"started_at"`
	Duration  time.Duration       `yaml:"duration" json:"duration"`
	Updated   int                 `yaml:"updated" json:"updated"`
	Skipped   int                 `yaml:"skipped" json:"skipped"`
	Failed    int                 `yaml:"failed" json:"failed"`
	Records   []*NodeUpdateRecord `yaml:"nodes" json:"nodes"`
}

// NewSummary creates an empty summary for a plan.
func NewSummary(plan *Plan) *Summary {
	return &Summary{
		RunID:     plan.RunID,
		Cluster:   plan.Cluster,
		Pattern:   plan.Pattern,
		Target:    plan.Target,
		StartedAt: time.Now(),
	}
}

func (s *Summary) add(rec *NodeUpdateRecord) {
	s.Records = append(s.Records, rec)
	switch rec.Outcome {
	case OutcomeUpdated:
		s.Updated++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}
}

func (s *Summary) finish() {
	s.Duration = time.Since(s.StartedAt)
}

// HasFailures reports whether any node failed; failed nodes need manual
// follow-up before a rerun.
func (s *Summary) HasFailures() bool {
	return s.Failed > 0
}

// Render writes the summary as an operator-readable table.
func (s *Summary) Render(w io.Writer) {
	nodeWidth := len("NODE")
	for _, rec := range s.Records {
		if len(rec.Node) > nodeWidth {
			nodeWidth = len(rec.Node)
		}
	}

	fmt.Fprintf(w, "\nRun %s: cluster %s, target %q\n", s.RunID, s.Cluster, s.Target)
	fmt.Fprintf(w, "  %-*s  %-8s  %-20s  %-10s  %s\n", nodeWidth, "NODE", "OUTCOME", "STAGE", "DURATION", "DETAIL")
	for _, rec := range s.Records {
		fmt.Fprintf(w, "  %-*s  %-8s  %-20s  %-10s  %s\n",
			nodeWidth, rec.Node, rec.Outcome, rec.Stage,
			rec.Duration.Round(time.Second), rec.Detail())
	}
	fmt.Fprintf(w, "\n%d updated, %d skipped, %d failed (total time: %s)\n",
		s.Updated, s.Skipped, s.Failed, s.Duration.Round(time.Second))
	if s.Failed > 0 {
		fmt.Fprintf(w, "Failed nodes need manual follow-up; rerunning skips nodes that are already current.\n")
	}
}

// Marshal renders the summary in the requested structured format.
func (s *Summary) Marshal(format string) ([]byte, error) {
	return marshalAs(s, format)
}

func marshalAs(v interface{}, format string) ([]byte, error) {
	switch format {
	case "yaml":
		return yaml.Marshal(v)
	case "json":
		return json.MarshalIndent(v, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported format %q (expected yaml or json)", format)
	}
}
