// Package hardware defines the contract with the hardware lifecycle
// manager: the system that owns hardware profiles, power, firmware policy,
// and maintenance acknowledgments (concretely, a Cisco UCS Manager-style
// system).
package hardware

import (
	"context"
	"strings"
)

// PowerState represents the hardware-level power state of the physical
// endpoint a profile is bound to
type PowerState string

const (
	PowerOn      PowerState = "on"
	PowerOff     PowerState = "off"
	PowerUnknown PowerState = "unknown"
)

// ParsePowerState maps a collaborator-reported power string onto the closed
// power state set, defaulting to PowerUnknown.
func ParsePowerState(s string) PowerState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return PowerOn
	case "off":
		return PowerOff
	default:
		return PowerUnknown
	}
}

// AssociationState represents the binding state between a profile and its
// physical endpoint. Associated is the authoritative signal that the
// hardware-side firmware pipeline has finished.
type AssociationState string

const (
	AssociationAssociating AssociationState = "associating"
	AssociationAssociated  AssociationState = "associated"
	AssociationFailed      AssociationState = "failed"
	AssociationUnknown     AssociationState = "unknown"
)

// ParseAssociationState maps a collaborator-reported association string onto
// the closed association state set. In-flight transitions (associating,
// disassociating) all map to AssociationAssociating.
func ParseAssociationState(s string) AssociationState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "associated":
		return AssociationAssociated
	case "associating", "disassociating":
		return AssociationAssociating
	case "failed":
		return AssociationFailed
	default:
		return AssociationUnknown
	}
}

// Profile is a point-in-time snapshot of a hardware profile (a service
// profile in UCS terms). Profiles are correlated to fleet nodes by network
// identity at processing time and never cached across nodes or runs.
type Profile struct {
	// DN is the profile's distinguished name, unique within the manager.
	DN string `yaml:"dn" json:"dn"`
	// Name is the short display name.
	Name string `yaml:"name" json:"name"`
	// Domain is the organizational container the profile lives in; firmware
	// targets are scoped to it.
	Domain string `yaml:"domain" json:"domain"`
	// FirmwarePolicy is the currently bound firmware-policy name.
	FirmwarePolicy string `yaml:"firmware_policy" json:"firmware_policy"`
	// Power is the hardware power state at snapshot time.
	Power PowerState `yaml:"power" json:"power"`
	// Association is the profile/endpoint binding state at snapshot time.
	Association AssociationState `yaml:"association" json:"association"`
	// PendingAcks is the number of maintenance acknowledgments waiting on
	// this profile at snapshot time.
	PendingAcks int `yaml:"pending_acks" json:"pending_acks"`
	// BoundTo is the DN of the physical endpoint (blade or rack unit).
	BoundTo string `yaml:"bound_to" json:"bound_to"`
}

// FirmwareTarget is a firmware policy that profiles can be bound to. A
// target is only usable if it exists exactly once within the profile's
// domain.
type FirmwareTarget struct {
	Name   string `yaml:"name" json:"name"`
	Domain string `yaml:"domain" json:"domain"`
}

// Ack is a pending maintenance acknowledgment: a safety gate the manager
// raises before acting on a disruptive profile change.
type Ack struct {
	// DN identifies the acknowledgment entry.
	DN string
	// ProfileDN is the profile the acknowledgment belongs to.
	ProfileDN string
	// Cause describes what raised the gate (informational).
	Cause string
}

// Manager defines the hardware-side operations the rolling update consumes.
//
// Implementations:
//   - ucs.Client: UCS Manager XML API
//   - sim.HardwareManager: in-memory world for --simulate and tests
type Manager interface {
	// ProfilesByIdentity returns every profile whose bound network identity
	// matches the given hardware address. All matches are returned; the
	// caller owns the zero/one/many policy.
	ProfilesByIdentity(ctx context.Context, mac string) ([]Profile, error)

	// FirmwareTargets lists the firmware targets defined in a domain.
	FirmwareTargets(ctx context.Context, domain string) ([]FirmwareTarget, error)

	// PowerState returns the current hardware power state of the endpoint
	// bound to the profile.
	PowerState(ctx context.Context, profileDN string) (PowerState, error)

	// SetPowerState requests the desired power state for the profile's
	// endpoint. Asynchronous; completion is observed through PowerState or
	// the fleet manager's connectivity state.
	SetPowerState(ctx context.Context, profileDN string, desired PowerState) error

	// SetFirmwarePolicy binds the profile to the named firmware policy.
	// Callers must only invoke this once the endpoint is powered off.
	SetFirmwarePolicy(ctx context.Context, profileDN, policy string) error

	// PendingAcks lists acknowledgments currently gating the profile.
	PendingAcks(ctx context.Context, profileDN string) ([]Ack, error)

	// TriggerAck confirms a pending acknowledgment, releasing its gate.
	TriggerAck(ctx context.Context, ack Ack) error

	// AssociationState returns the profile's current association state.
	AssociationState(ctx context.Context, profileDN string) (AssociationState, error)
}
