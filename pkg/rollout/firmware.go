package rollout

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/MallocArray/Update-UCSFirmware/pkg/hardware"
	"github.com/MallocArray/Update-UCSFirmware/pkg/poll"
)

// FirmwareController binds the firmware policy, clears the acknowledgment
// gate, and shepherds the hardware-side apply pipeline to completion.
type FirmwareController struct {
	hardware hardware.Manager
	waits    *WaitConfig
	log      *logrus.Entry
}

// NewFirmwareController creates a firmware controller.
func NewFirmwareController(hm hardware.Manager, waits *WaitConfig, log *logrus.Entry) *FirmwareController {
	return &FirmwareController{hardware: hm, waits: waits, log: log}
}

// Apply binds the profile to the target firmware policy. Callers must have
// confirmed the endpoint powered off first; the update path depends on the
// hardware being quiescent.
func (f *FirmwareController) Apply(ctx context.Context, profileDN, target string) error {
	if err := f.hardware.SetFirmwarePolicy(ctx, profileDN, target); err != nil {
		return fmt.Errorf("failed to set firmware policy %q on %s: %w", target, profileDN, err)
	}
	f.log.WithFields(logrus.Fields{"profile": profileDN, "policy": target}).Info("firmware policy bound")
	return nil
}

// Acknowledge triggers every maintenance acknowledgment pending on the
// profile. The policy change raises an acknowledgment gate before the
// manager acts on it; an unattended rolling update means consent was given
// out-of-band, so the gate is always cleared immediately.
func (f *FirmwareController) Acknowledge(ctx context.Context, profileDN string) error {
	acks, err := f.hardware.PendingAcks(ctx, profileDN)
	if err != nil {
		return fmt.Errorf("failed to list pending acknowledgments on %s: %w", profileDN, err)
	}
	for _, ack := range acks {
		f.log.WithFields(logrus.Fields{"profile": profileDN, "ack": ack.DN, "cause": ack.Cause}).
			Info("triggering maintenance acknowledgment")
		if err := f.hardware.TriggerAck(ctx, ack); err != nil {
			return fmt.Errorf("failed to trigger acknowledgment %s: %w", ack.DN, err)
		}
	}
	return nil
}

// AwaitAssociation blocks until the profile reports Associated again, the
// authoritative signal that firmware application finished rather than
// merely that the command was accepted. A terminal Failed association
// aborts immediately instead of burning the full wait bound.
func (f *FirmwareController) AwaitAssociation(ctx context.Context, profileDN string) error {
	return poll.Wait(ctx, fmt.Sprintf("%s to associate", profileDN),
		f.waits.AssociateInterval, f.waits.AssociateTimeout,
		func(ctx context.Context) (bool, error) {
			state, err := f.hardware.AssociationState(ctx, profileDN)
			if err != nil {
				return false, err
			}
			switch state {
			case hardware.AssociationAssociated:
				return true, nil
			case hardware.AssociationFailed:
				return false, poll.Permanent(fmt.Errorf("association of %s failed", profileDN))
			default:
				return false, nil
			}
		})
}
