package rollout

import (
	"fmt"
	"io"
	"time"
)

// Progress prints operator-facing run progress as it happens. Diagnostics
// go through logrus on stderr; this is the human console stream. A nil
// *Progress is silent, which is how headless runs and tests operate.
type Progress struct {
	out        io.Writer
	start      time.Time
	stageStart time.Time
}

// NewProgress creates a progress printer writing to out.
func NewProgress(out io.Writer) *Progress {
	return &Progress{out: out, start: time.Now()}
}

// Begin prints the run header.
func (p *Progress) Begin(plan *Plan) {
	if p == nil {
		return
	}
	p.start = time.Now()
	fmt.Fprintln(p.out, "Rolling Firmware Update")
	fmt.Fprintln(p.out, "=======================")
	fmt.Fprintf(p.out, "Cluster: %s\n", plan.Cluster)
	fmt.Fprintf(p.out, "Pattern: %s\n", plan.Pattern)
	fmt.Fprintf(p.out, "Target:  %s\n", plan.Target)
	if plan.Baseline != "" {
		fmt.Fprintf(p.out, "Baseline: %s\n", plan.Baseline)
	}
	fmt.Fprintf(p.out, "Nodes:   %d\n\n", len(plan.Nodes))
}

// BeginNode prints the per-node header with overall position.
func (p *Progress) BeginNode(index, total int, node string) {
	if p == nil {
		return
	}
	fmt.Fprintf(p.out, "[%d/%d] %s\n", index+1, total, node)
}

// Stage prints the start of a pipeline stage.
func (p *Progress) Stage(msg string) {
	if p == nil {
		return
	}
	p.stageStart = time.Now()
	fmt.Fprintf(p.out, "    %s...\n", msg)
}

// StageDone prints stage completion with its elapsed time.
func (p *Progress) StageDone(msg string) {
	if p == nil {
		return
	}
	fmt.Fprintf(p.out, "    ✓ %s (%s)\n", msg, time.Since(p.stageStart).Round(time.Second))
}

// StageFailed prints stage failure.
func (p *Progress) StageFailed(err error) {
	if p == nil {
		return
	}
	fmt.Fprintf(p.out, "    ✗ %v\n", err)
}

// EndNode prints the node's terminal outcome and elapsed run time.
func (p *Progress) EndNode(rec *NodeUpdateRecord) {
	if p == nil {
		return
	}
	elapsed := time.Since(p.start).Round(time.Second)
	switch rec.Outcome {
	case OutcomeUpdated:
		fmt.Fprintf(p.out, "  ✓ %s updated in %s (run elapsed: %s)\n\n", rec.Node, rec.Duration.Round(time.Second), elapsed)
	case OutcomeSkipped:
		fmt.Fprintf(p.out, "  - %s skipped: %s\n\n", rec.Node, rec.Reason)
	case OutcomeFailed:
		fmt.Fprintf(p.out, "  ✗ %s failed at %s: %s\n\n", rec.Node, rec.Stage, rec.Error)
	}
}
