package rollout

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MallocArray/Update-UCSFirmware/pkg/fleet"
	"github.com/MallocArray/Update-UCSFirmware/pkg/hardware"
)

// Config describes a rolling update run.
type Config struct {
	Fleet    fleet.Manager
	Hardware hardware.Manager

	// Cluster and Pattern select the nodes; Target is the firmware policy
	// to roll out. Baseline optionally names a remediation baseline applied
	// while each node is drained.
	Cluster  string
	Pattern  string
	Target   string
	Baseline string

	// AllowAmbiguous relaxes identity correlation: several matching
	// profiles resolve to the lowest DN instead of failing the node.
	AllowAmbiguous bool

	Waits    *WaitConfig
	Progress *Progress // nil runs silently
	Log      *logrus.Entry
}

// Orchestrator drives the rolling update: strictly one node at a time,
// each through resolve → validate → drain → power-down → firmware →
// power-up → rejoin. A node's failure never aborts the run; only one node
// is ever out of service.
type Orchestrator struct {
	config    Config
	resolver  *Resolver
	validator *Validator
	drain     *DrainController
	power     *PowerController
	firmware  *FirmwareController
	rejoin    *RejoinController
	progress  *Progress
	log       *logrus.Entry
}

// NewOrchestrator validates the config and wires up the stage controllers.
func NewOrchestrator(config Config) (*Orchestrator, error) {
	if config.Fleet == nil {
		return nil, fmt.Errorf("fleet manager is required")
	}
	if config.Hardware == nil {
		return nil, fmt.Errorf("hardware manager is required")
	}
	if config.Cluster == "" {
		return nil, fmt.Errorf("cluster is required")
	}
	if config.Target == "" {
		return nil, fmt.Errorf("firmware target is required")
	}
	if config.Pattern == "" {
		config.Pattern = "*"
	}
	if config.Waits == nil {
		config.Waits = DefaultWaitConfig()
	}
	if config.Log == nil {
		config.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Orchestrator{
		config:    config,
		resolver:  NewResolver(config.Fleet, config.Hardware, config.AllowAmbiguous, config.Log),
		validator: NewValidator(config.Hardware),
		drain:     NewDrainController(config.Fleet, config.Waits, config.Log),
		power:     NewPowerController(config.Fleet, config.Hardware, config.Waits, config.Log),
		firmware:  NewFirmwareController(config.Hardware, config.Waits, config.Log),
		rejoin:    NewRejoinController(config.Fleet, config.Waits, config.Log),
		progress:  config.Progress,
		log:       config.Log,
	}, nil
}

// BuildPlan lists the matching nodes and fixes the processing order.
// Ordering is by node name so repeated runs walk the fleet identically.
func (o *Orchestrator) BuildPlan(ctx context.Context) (*Plan, error) {
	nodes, err := o.config.Fleet.ListNodes(ctx, o.config.Cluster, o.config.Pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes in cluster %s: %w", o.config.Cluster, err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no nodes in cluster %s match pattern %q", o.config.Cluster, o.config.Pattern)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	return &Plan{
		RunID:     uuid.NewString(),
		Cluster:   o.config.Cluster,
		Pattern:   o.config.Pattern,
		Target:    o.config.Target,
		Baseline:  o.config.Baseline,
		CreatedAt: time.Now(),
		Nodes:     nodes,
	}, nil
}

// Preview resolves and validates every planned node without issuing a
// single mutating call, and reports what a run would do.
func (o *Orchestrator) Preview(ctx context.Context) (*Preview, error) {
	plan, err := o.BuildPlan(ctx)
	if err != nil {
		return nil, err
	}

	pv := &Preview{Plan: plan}
	for _, node := range plan.Nodes {
		entry := PlanEntry{Node: node.Name}

		profile, err := o.resolver.Resolve(ctx, node.Name)
		if err != nil {
			entry.Action = PlanActionFail
			entry.Detail = err.Error()
			pv.Entries = append(pv.Entries, entry)
			continue
		}
		entry.ProfileDN = profile.DN
		entry.CurrentPolicy = profile.FirmwarePolicy

		check, err := o.validator.Check(ctx, profile, plan.Target)
		switch {
		case err != nil:
			entry.Action = PlanActionFail
			entry.Detail = err.Error()
		case check == CheckAlreadyCurrent:
			entry.Action = PlanActionSkip
			entry.Detail = ReasonAlreadyCurrent
		default:
			entry.Action = PlanActionUpdate
		}
		pv.Entries = append(pv.Entries, entry)
	}
	return pv, nil
}

// Run builds the plan and executes it.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	plan, err := o.BuildPlan(ctx)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, plan)
}

// Execute processes every planned node in order. Per-node failures are
// recorded, never raised; the returned error covers run setup only. Once
// the run is cancelled, the current node fails and every node not yet
// started is recorded as skipped.
func (o *Orchestrator) Execute(ctx context.Context, plan *Plan) (*Summary, error) {
	log := o.log.WithField("run_id", plan.RunID)
	log.WithFields(logrus.Fields{
		"cluster": plan.Cluster,
		"pattern": plan.Pattern,
		"target":  plan.Target,
		"nodes":   len(plan.Nodes),
	}).Info("starting rolling update")

	summary := NewSummary(plan)
	o.progress.Begin(plan)

	for i, node := range plan.Nodes {
		rec := newRecord(node.Name)
		o.progress.BeginNode(i, len(plan.Nodes), node.Name)

		if err := ctx.Err(); err != nil {
			rec.skip(ReasonRunCancelled)
			summary.add(rec)
			o.progress.EndNode(rec)
			continue
		}

		o.updateNode(ctx, node.Name, plan, rec, log.WithField("node", node.Name))
		summary.add(rec)
		o.progress.EndNode(rec)
	}

	summary.finish()
	log.WithFields(logrus.Fields{
		"updated": summary.Updated,
		"skipped": summary.Skipped,
		"failed":  summary.Failed,
	}).Info("rolling update finished")
	return summary, nil
}

// updateNode walks one node through the pipeline, finalizing rec with its
// terminal outcome. Every error is absorbed here; nothing escapes to abort
// the run.
func (o *Orchestrator) updateNode(ctx context.Context, node string, plan *Plan, rec *NodeUpdateRecord, log *logrus.Entry) {
	fail := func(err error) {
		rec.fail(err)
		log.WithField("stage", string(rec.Stage)).WithError(err).Error("node update failed")
		o.progress.StageFailed(err)
	}

	rec.Stage = StageResolving
	o.progress.Stage("Resolving hardware profile")
	profile, err := o.resolver.Resolve(ctx, node)
	if err != nil {
		fail(err)
		return
	}
	rec.ProfileDN = profile.DN
	o.progress.StageDone(fmt.Sprintf("Profile %s", profile.DN))

	rec.Stage = StageValidating
	o.progress.Stage("Checking firmware policy")
	check, err := o.validator.Check(ctx, profile, plan.Target)
	if err != nil {
		fail(err)
		return
	}
	if check == CheckAlreadyCurrent {
		rec.skip(ReasonAlreadyCurrent)
		log.WithField("policy", profile.FirmwarePolicy).Info("already on target firmware")
		o.progress.StageDone(fmt.Sprintf("Already on %q", plan.Target))
		return
	}
	o.progress.StageDone(fmt.Sprintf("Needs update: %q -> %q", profile.FirmwarePolicy, plan.Target))

	if err := ctx.Err(); err != nil {
		fail(fmt.Errorf("run cancelled before drain: %w", err))
		return
	}

	rec.Stage = StageDraining
	o.progress.Stage("Draining workloads")
	if err := o.drain.Drain(ctx, node); err != nil {
		fail(err)
		return
	}
	o.progress.StageDone("Node in maintenance")

	if plan.Baseline != "" {
		rec.Stage = StageRemediating
		o.progress.Stage(fmt.Sprintf("Remediating against baseline %q", plan.Baseline))
		if err := o.drain.Remediate(ctx, node, plan.Baseline); err != nil {
			fail(err)
			return
		}
		o.progress.StageDone("Remediation complete")
	}

	if err := ctx.Err(); err != nil {
		fail(fmt.Errorf("run cancelled before shutdown: %w", err))
		return
	}

	// From the moment shutdown is issued until power-on is issued the node
	// must not be abandoned powered off; cancellation is deferred to the
	// stage boundary after power-up.
	crit := context.WithoutCancel(ctx)

	rec.Stage = StagePoweringDown
	o.progress.Stage("Shutting down guest OS")
	if err := o.power.Shutdown(crit, node); err != nil {
		fail(err)
		return
	}

	rec.Stage = StageAwaitingPowerOff
	if err := o.power.AwaitPowerOff(crit, profile.DN); err != nil {
		fail(err)
		return
	}
	o.progress.StageDone("Powered off")

	rec.Stage = StageApplyingFirmware
	o.progress.Stage(fmt.Sprintf("Binding firmware policy %q", plan.Target))
	if err := o.firmware.Apply(crit, profile.DN, plan.Target); err != nil {
		fail(err)
		return
	}

	rec.Stage = StageAcknowledging
	if err := o.firmware.Acknowledge(crit, profile.DN); err != nil {
		fail(err)
		return
	}
	o.progress.StageDone("Policy bound and acknowledged")

	rec.Stage = StageAwaitingAssociation
	o.progress.Stage("Waiting for firmware application to complete")
	if err := o.firmware.AwaitAssociation(crit, profile.DN); err != nil {
		fail(err)
		return
	}
	o.progress.StageDone("Profile associated")

	rec.Stage = StagePoweringUp
	o.progress.Stage("Powering on")
	if err := o.power.PowerOn(crit, profile.DN); err != nil {
		fail(err)
		return
	}
	o.progress.StageDone("Power on issued")

	if err := ctx.Err(); err != nil {
		fail(fmt.Errorf("run cancelled before rejoin: %w", err))
		return
	}

	rec.Stage = StageAwaitingReconnect
	o.progress.Stage("Waiting for node to reconnect")
	if err := o.rejoin.AwaitReconnect(ctx, node); err != nil {
		fail(err)
		return
	}
	o.progress.StageDone("Node reconnected")

	rec.Stage = StageExitingMaintenance
	o.progress.Stage("Exiting maintenance")
	if err := o.rejoin.ExitMaintenance(ctx, node); err != nil {
		fail(err)
		return
	}
	o.progress.StageDone("Node back in service")

	rec.complete()
	log.WithField("duration", rec.Duration.Round(time.Second)).Info("node updated")
}
