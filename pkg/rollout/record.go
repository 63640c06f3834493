package rollout

import "time"

// Stage identifies where in the per-node pipeline a node is. For a terminal
// record the stage is where processing stopped: StageDone for an updated
// node, the failing stage for a failed one.
type Stage string

const (
	StageSelected            Stage = "selected"
	StageResolving           Stage = "resolving"
	StageValidating          Stage = "validating"
	StageDraining            Stage = "draining"
	StageRemediating         Stage = "remediating"
	StagePoweringDown        Stage = "powering-down"
	StageAwaitingPowerOff    Stage = "awaiting-power-off"
	StageApplyingFirmware    Stage = "applying-firmware"
	StageAcknowledging       Stage = "acknowledging"
	StageAwaitingAssociation Stage = "awaiting-association"
	StagePoweringUp          Stage = "powering-up"
	StageAwaitingReconnect   Stage = "awaiting-reconnect"
	StageExitingMaintenance  Stage = "exiting-maintenance"
	StageDone                Stage = "done"
)

// Outcome is a node's terminal result for the run
type Outcome string

const (
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Reasons recorded on skipped nodes.
const (
	ReasonAlreadyCurrent = "already current"
	ReasonRunCancelled   = "run cancelled"
)

// NodeUpdateRecord is the per-node audit entry of a run: created when the
// node enters processing, finalized exactly once when it reaches a terminal
// outcome, and never mutated afterward. The set of records is the only
// artifact the run owns.
type NodeUpdateRecord struct {
	Node      string        `yaml:"node" json:"node"`
	Outcome   Outcome       `yaml:"outcome" json:"outcome"`
	Stage     Stage         `yaml:"stage" json:"stage"`
	Reason    string        `yaml:"reason,omitempty" json:"reason,omitempty"`
	Error     string        `yaml:"error,omitempty" json:"error,omitempty"`
	ProfileDN string        `yaml:"profile_dn,omitempty" json:"profile_dn,omitempty"`
	StartedAt time.Time     `yaml:"started_at" json:"started_at"`
	Duration  time.Duration `yaml:"duration" json:"duration"`
}

func newRecord(node string) *NodeUpdateRecord {
	return &NodeUpdateRecord{
		Node:      node,
		Stage:     StageSelected,
		StartedAt: time.Now(),
	}
}

func (r *NodeUpdateRecord) skip(reason string) {
	r.Outcome = OutcomeSkipped
	r.Reason = reason
	r.Duration = time.Since(r.StartedAt)
}

func (r *NodeUpdateRecord) fail(err error) {
	r.Outcome = OutcomeFailed
	r.Error = err.Error()
	r.Duration = time.Since(r.StartedAt)
}

func (r *NodeUpdateRecord) complete() {
	r.Outcome = OutcomeUpdated
	r.Stage = StageDone
	r.Duration = time.Since(r.StartedAt)
}

// Detail returns the record's reason or error text, whichever is set.
func (r *NodeUpdateRecord) Detail() string {
	if r.Reason != "" {
		return r.Reason
	}
	return r.Error
}
