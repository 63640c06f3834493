package sim

import (
	"context"

	"github.com/MallocArray/Update-UCSFirmware/pkg/fleet"
	"github.com/MallocArray/Update-UCSFirmware/pkg/hardware"
)

// Fleet returns the world's fleet-manager face.
func (w *World) Fleet() fleet.Manager {
	return &FleetManager{w: w}
}

// Hardware returns the world's hardware-manager face.
func (w *World) Hardware() hardware.Manager {
	return &HardwareManager{w: w}
}

// FleetManager implements fleet.Manager against a World.
type FleetManager struct {
	w *World
}

// ListNodes implements fleet.Manager.
func (m *FleetManager) ListNodes(ctx context.Context, cluster, pattern string) ([]fleet.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.w.listNodes(cluster, pattern)
}

// State implements fleet.Manager.
func (m *FleetManager) State(ctx context.Context, node string) (fleet.ConnectivityState, error) {
	if err := ctx.Err(); err != nil {
		return fleet.StateUnknown, err
	}
	return m.w.nodeState(node)
}

// Drain implements fleet.Manager.
func (m *FleetManager) Drain(ctx context.Context, node string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.w.drain(node)
}

// ActiveIdentity implements fleet.Manager.
func (m *FleetManager) ActiveIdentity(ctx context.Context, node string) (fleet.Identity, error) {
	if err := ctx.Err(); err != nil {
		return fleet.Identity{}, err
	}
	return m.w.activeIdentity(node)
}

// Shutdown implements fleet.Manager.
func (m *FleetManager) Shutdown(ctx context.Context, node string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.w.shutdown(node)
}

// ExitMaintenance implements fleet.Manager.
func (m *FleetManager) ExitMaintenance(ctx context.Context, node string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.w.exitMaintenance(node)
}

// Remediate implements fleet.Manager.
func (m *FleetManager) Remediate(ctx context.Context, node, baseline string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.w.remediate(node, baseline)
}

// HardwareManager implements hardware.Manager against a World.
type HardwareManager struct {
	w *World
}

// ProfilesByIdentity implements hardware.Manager.
func (m *HardwareManager) ProfilesByIdentity(ctx context.Context, mac string) ([]hardware.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.w.profilesByIdentity(mac)
}

// FirmwareTargets implements hardware.Manager.
func (m *HardwareManager) FirmwareTargets(ctx context.Context, domain string) ([]hardware.FirmwareTarget, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.w.firmwareTargets(domain)
}

// PowerState implements hardware.Manager.
func (m *HardwareManager) PowerState(ctx context.Context, profileDN string) (hardware.PowerState, error) {
	if err := ctx.Err(); err != nil {
		return hardware.PowerUnknown, err
	}
	return m.w.powerState(profileDN)
}

// SetPowerState implements hardware.Manager.
func (m *HardwareManager) SetPowerState(ctx context.Context, profileDN string, desired hardware.PowerState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.w.setPowerState(profileDN, desired)
}

// SetFirmwarePolicy implements hardware.Manager.
func (m *HardwareManager) SetFirmwarePolicy(ctx context.Context, profileDN, policy string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.w.setFirmwarePolicy(profileDN, policy)
}

// PendingAcks implements hardware.Manager.
func (m *HardwareManager) PendingAcks(ctx context.Context, profileDN string) ([]hardware.Ack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.w.pendingAcks(profileDN)
}

// TriggerAck implements hardware.Manager.
func (m *HardwareManager) TriggerAck(ctx context.Context, ack hardware.Ack) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.w.triggerAck(ack)
}

// AssociationState implements hardware.Manager.
func (m *HardwareManager) AssociationState(ctx context.Context, profileDN string) (hardware.AssociationState, error) {
	if err := ctx.Err(); err != nil {
		return hardware.AssociationUnknown, err
	}
	return m.w.associationState(profileDN)
}
