package sim

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/MallocArray/Update-UCSFirmware/pkg/fleet"
	"github.com/MallocArray/Update-UCSFirmware/pkg/hardware"
)

// World is an in-memory rendition of both control planes. Transitions are
// paced in observations rather than wall-clock time: a requested change
// completes after the configured number of polls of the affected resource,
// so runs against the world are fast and deterministic.
//
// The world also enforces the sequencing the real pipeline demands: a
// firmware policy change on a powered-on endpoint, a guest shutdown
// outside maintenance, or a maintenance exit on an unresponsive node all
// fail. Every mutating call is recorded, so tests can assert not only
// outcomes but also that nothing was mutated when nothing should have
// been.
type World struct {
	mu       sync.Mutex
	cluster  string
	domain   string
	packs    []hardware.FirmwareTarget
	nodes    map[string]*simNode
	profiles map[string]*simProfile
	ticks    TickSpec
	failures []*failureState
	calls    []Call
}

// Call records one mutating operation issued against the world.
type Call struct {
	Op     string // e.g. "drain", "set_firmware_policy"
	Target string // node name or profile DN
	Value  string // argument, e.g. policy name or power state
}

type failureState struct {
	rule FailureRule
	used int
}

type simNode struct {
	name      string
	cluster   string
	mac       string
	state     fleet.ConnectivityState
	pending   fleet.ConnectivityState
	ticksLeft int
}

type simProfile struct {
	dn           string
	name         string
	domain       string
	policy       string
	boundTo      string
	mac          string
	power        hardware.PowerState
	assoc        hardware.AssociationState
	pendingPower hardware.PowerState
	powerTicks   int
	assocTicks   int
	assocOutcome hardware.AssociationState
	acks         []hardware.Ack
	ackSeq       int
	ackOnChange  bool
}

func (p *simProfile) snapshot() hardware.Profile {
	return hardware.Profile{
		DN:             p.dn,
		Name:           p.name,
		Domain:         p.domain,
		FirmwarePolicy: p.policy,
		Power:          p.power,
		Association:    p.assoc,
		PendingAcks:    len(p.acks),
		BoundTo:        p.boundTo,
	}
}

// NewWorld builds a world from a scenario.
func NewWorld(sc *Scenario) (*World, error) {
	if sc.Cluster == "" {
		return nil, fmt.Errorf("scenario needs a cluster name")
	}

	w := &World{
		cluster:  sc.Cluster,
		domain:   sc.Domain,
		nodes:    make(map[string]*simNode),
		profiles: make(map[string]*simProfile),
		ticks:    sc.Ticks,
	}

	for _, p := range sc.FirmwarePacks {
		domain := p.Domain
		if domain == "" {
			domain = sc.Domain
		}
		w.packs = append(w.packs, hardware.FirmwareTarget{Name: p.Name, Domain: domain})
	}

	for _, n := range sc.Nodes {
		if n.Name == "" || n.MAC == "" {
			return nil, fmt.Errorf("node needs name and mac: %+v", n)
		}
		cluster := n.Cluster
		if cluster == "" {
			cluster = sc.Cluster
		}
		state := fleet.StateConnected
		if n.State != "" {
			state = fleet.ParseConnectivityState(n.State)
		}
		w.nodes[n.Name] = &simNode{
			name:    n.Name,
			cluster: cluster,
			mac:     normalizeMAC(n.MAC),
			state:   state,
		}
	}

	for _, p := range sc.Profiles {
		if p.DN == "" || p.MAC == "" {
			return nil, fmt.Errorf("profile needs dn and mac: %+v", p)
		}
		name := p.Name
		if name == "" {
			name = path.Base(p.DN)
		}
		domain := p.Domain
		if domain == "" {
			domain = parentDomain(p.DN, sc.Domain)
		}
		power := hardware.PowerOn
		if p.Power != "" {
			power = hardware.ParsePowerState(p.Power)
		}
		assoc := hardware.AssociationAssociated
		if p.Association != "" {
			assoc = hardware.ParseAssociationState(p.Association)
		}
		outcome := hardware.AssociationAssociated
		if p.AssociateOutcome != "" {
			outcome = hardware.ParseAssociationState(p.AssociateOutcome)
		}
		sp := &simProfile{
			dn:           p.DN,
			name:         name,
			domain:       domain,
			policy:       p.FirmwarePolicy,
			boundTo:      p.BoundTo,
			mac:          normalizeMAC(p.MAC),
			power:        power,
			assoc:        assoc,
			assocOutcome: outcome,
			ackOnChange:  p.AckOnPolicyChange,
		}
		for i := 0; i < p.PendingAcks; i++ {
			sp.ackSeq++
			sp.acks = append(sp.acks, hardware.Ack{
				DN:        fmt.Sprintf("%s/ack-%d", p.DN, sp.ackSeq),
				ProfileDN: p.DN,
				Cause:     "pending maintenance",
			})
		}
		w.profiles[p.DN] = sp
	}

	for _, f := range sc.Failures {
		rule := f
		w.failures = append(w.failures, &failureState{rule: rule})
	}
	return w, nil
}

func normalizeMAC(mac string) string {
	return strings.ToUpper(strings.TrimSpace(mac))
}

func parentDomain(dn, fallback string) string {
	if i := strings.LastIndex(dn, "/"); i > 0 {
		return dn[:i]
	}
	return fallback
}

// MutatingCalls returns every mutating call issued so far, in order.
func (w *World) MutatingCalls() []Call {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Call, len(w.calls))
	copy(out, w.calls)
	return out
}

// CallsFor returns the mutating calls addressed to a node name or
// profile DN.
func (w *World) CallsFor(target string) []Call {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Call
	for _, c := range w.calls {
		if c.Target == target {
			out = append(out, c)
		}
	}
	return out
}

// Node returns a snapshot of a node's fleet view.
func (w *World) Node(name string) (fleet.Node, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.nodes[name]
	if !ok {
		return fleet.Node{}, false
	}
	return fleet.Node{Name: n.name, State: n.state}, true
}

// Profile returns a snapshot of a profile's hardware view.
func (w *World) Profile(dn string) (hardware.Profile, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.profiles[dn]
	if !ok {
		return hardware.Profile{}, false
	}
	return p.snapshot(), true
}

// failing reports the injected error for an operation, if a rule matches.
func (w *World) failing(op, target string) error {
	for _, f := range w.failures {
		if f.rule.Operation != op {
			continue
		}
		if f.rule.Target != "*" && f.rule.Target != target {
			continue
		}
		if f.rule.Times > 0 {
			if f.used >= f.rule.Times {
				continue
			}
			f.used++
		}
		return errors.New(f.rule.Error)
	}
	return nil
}

func (w *World) record(op, target, value string) {
	w.calls = append(w.calls, Call{Op: op, Target: target, Value: value})
}

// --- fleet-side operations ---

func (w *World) listNodes(cluster, pattern string) ([]fleet.Node, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.failing("list_nodes", cluster); err != nil {
		return nil, err
	}
	var out []fleet.Node
	for _, n := range w.nodes {
		if n.cluster != cluster {
			continue
		}
		ok, err := path.Match(pattern, n.name)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, fleet.Node{Name: n.name, State: n.state})
		}
	}
	return out, nil
}

func (w *World) nodeState(name string) (fleet.ConnectivityState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.nodes[name]
	if !ok {
		return fleet.StateUnknown, fmt.Errorf("no such node %s", name)
	}
	if err := w.failing("node_state", name); err != nil {
		return fleet.StateUnknown, err
	}
	if n.pending != "" {
		n.ticksLeft--
		if n.ticksLeft <= 0 {
			n.state = n.pending
			n.pending = ""
		}
	}
	return n.state, nil
}

func (w *World) drain(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.nodes[name]
	if !ok {
		return fmt.Errorf("no such node %s", name)
	}
	if err := w.failing("drain", name); err != nil {
		return err
	}
	w.record("drain", name, "")
	if n.state == fleet.StateMaintenance {
		return nil
	}
	n.pending = fleet.StateMaintenance
	n.ticksLeft = w.ticks.Drain
	return nil
}

func (w *World) activeIdentity(name string) (fleet.Identity, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.nodes[name]
	if !ok {
		return fleet.Identity{}, fmt.Errorf("no such node %s", name)
	}
	if err := w.failing("active_identity", name); err != nil {
		return fleet.Identity{}, err
	}
	return fleet.Identity{MAC: n.mac, NIC: "vmnic0"}, nil
}

func (w *World) shutdown(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.nodes[name]
	if !ok {
		return fmt.Errorf("no such node %s", name)
	}
	if err := w.failing("shutdown", name); err != nil {
		return err
	}
	if n.state != fleet.StateMaintenance {
		return fmt.Errorf("node %s is not in maintenance", name)
	}
	w.record("shutdown", name, "")
	n.state = fleet.StateNotResponding
	n.pending = ""
	for _, p := range w.profiles {
		if p.mac == n.mac {
			p.pendingPower = hardware.PowerOff
			p.powerTicks = w.ticks.PowerOff
		}
	}
	return nil
}

func (w *World) exitMaintenance(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.nodes[name]
	if !ok {
		return fmt.Errorf("no such node %s", name)
	}
	if err := w.failing("exit_maintenance", name); err != nil {
		return err
	}
	if n.state != fleet.StateMaintenance {
		return fmt.Errorf("node %s is not in maintenance", name)
	}
	w.record("exit_maintenance", name, "")
	n.state = fleet.StateConnected
	return nil
}

func (w *World) remediate(name, baseline string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.nodes[name]
	if !ok {
		return fmt.Errorf("no such node %s", name)
	}
	if err := w.failing("remediate", name); err != nil {
		return err
	}
	if n.state != fleet.StateMaintenance {
		return fmt.Errorf("node %s is not in maintenance", name)
	}
	w.record("remediate", name, baseline)
	return nil
}

// --- hardware-side operations ---

func (w *World) profilesByIdentity(mac string) ([]hardware.Profile, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	mac = normalizeMAC(mac)
	if err := w.failing("profiles_by_identity", mac); err != nil {
		return nil, err
	}
	var out []hardware.Profile
	for _, p := range w.profiles {
		if p.mac == mac {
			out = append(out, p.snapshot())
		}
	}
	return out, nil
}

func (w *World) firmwareTargets(domain string) ([]hardware.FirmwareTarget, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.failing("firmware_targets", domain); err != nil {
		return nil, err
	}
	var out []hardware.FirmwareTarget
	for _, t := range w.packs {
		if t.Domain == domain {
			out = append(out, t)
		}
	}
	return out, nil
}

func (w *World) powerState(dn string) (hardware.PowerState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.profiles[dn]
	if !ok {
		return hardware.PowerUnknown, fmt.Errorf("no such profile %s", dn)
	}
	if err := w.failing("power_state", dn); err != nil {
		return hardware.PowerUnknown, err
	}
	if p.pendingPower != "" {
		p.powerTicks--
		if p.powerTicks <= 0 {
			p.power = p.pendingPower
			p.pendingPower = ""
		}
	}
	return p.power, nil
}

func (w *World) setPowerState(dn string, desired hardware.PowerState) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.profiles[dn]
	if !ok {
		return fmt.Errorf("no such profile %s", dn)
	}
	if err := w.failing("set_power", dn); err != nil {
		return err
	}
	w.record("set_power", dn, string(desired))
	switch desired {
	case hardware.PowerOn:
		p.power = hardware.PowerOn
		p.pendingPower = ""
		// The bound node boots back into the drained state it was shut
		// down in.
		for _, n := range w.nodes {
			if n.mac == p.mac && n.state == fleet.StateNotResponding {
				n.pending = fleet.StateMaintenance
				n.ticksLeft = w.ticks.Boot
			}
		}
	case hardware.PowerOff:
		p.pendingPower = hardware.PowerOff
		p.powerTicks = w.ticks.PowerOff
	default:
		return fmt.Errorf("cannot request power state %q", desired)
	}
	return nil
}

func (w *World) setFirmwarePolicy(dn, policy string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.profiles[dn]
	if !ok {
		return fmt.Errorf("no such profile %s", dn)
	}
	if err := w.failing("set_firmware_policy", dn); err != nil {
		return err
	}
	if p.power != hardware.PowerOff {
		return fmt.Errorf("cannot change firmware policy of %s while powered %s", dn, p.power)
	}
	found := false
	for _, t := range w.packs {
		if t.Name == policy && t.Domain == p.domain {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no firmware pack %q in domain %s", policy, p.domain)
	}
	w.record("set_firmware_policy", dn, policy)
	p.policy = policy
	p.assoc = hardware.AssociationAssociating
	p.assocTicks = w.ticks.Associate
	if p.ackOnChange {
		p.ackSeq++
		p.acks = append(p.acks, hardware.Ack{
			DN:        fmt.Sprintf("%s/ack-%d", dn, p.ackSeq),
			ProfileDN: dn,
			Cause:     "firmware policy change",
		})
	}
	return nil
}

func (w *World) pendingAcks(dn string) ([]hardware.Ack, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.profiles[dn]
	if !ok {
		return nil, fmt.Errorf("no such profile %s", dn)
	}
	if err := w.failing("pending_acks", dn); err != nil {
		return nil, err
	}
	out := make([]hardware.Ack, len(p.acks))
	copy(out, p.acks)
	return out, nil
}

func (w *World) triggerAck(ack hardware.Ack) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.profiles[ack.ProfileDN]
	if !ok {
		return fmt.Errorf("no such profile %s", ack.ProfileDN)
	}
	if err := w.failing("trigger_ack", ack.DN); err != nil {
		return err
	}
	for i, pending := range p.acks {
		if pending.DN == ack.DN {
			w.record("trigger_ack", ack.DN, "")
			p.acks = append(p.acks[:i], p.acks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no pending acknowledgment %s", ack.DN)
}

func (w *World) associationState(dn string) (hardware.AssociationState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.profiles[dn]
	if !ok {
		return hardware.AssociationUnknown, fmt.Errorf("no such profile %s", dn)
	}
	if err := w.failing("association_state", dn); err != nil {
		return hardware.AssociationUnknown, err
	}
	// Association only progresses once every acknowledgment is cleared;
	// the real pipeline holds on its safety gate the same way.
	if p.assoc == hardware.AssociationAssociating && len(p.acks) == 0 {
		p.assocTicks--
		if p.assocTicks <= 0 {
			p.assoc = p.assocOutcome
		}
	}
	return p.assoc, nil
}
