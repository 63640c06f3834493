package rollout

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/MallocArray/Update-UCSFirmware/pkg/fleet"
	"github.com/MallocArray/Update-UCSFirmware/pkg/hardware"
	"github.com/MallocArray/Update-UCSFirmware/pkg/poll"
)

// PowerController sequences the power cycle around the firmware change.
// Shutdown goes through the fleet manager (graceful guest OS shutdown);
// power-off confirmation and power-on go through the hardware manager,
// whose power state is authoritative for gating the firmware operation.
type PowerController struct {
	fleet    fleet.Manager
	hardware hardware.Manager
	waits    *WaitConfig
	log      *logrus.Entry
}

// NewPowerController creates a power controller.
func NewPowerController(fm fleet.Manager, hm hardware.Manager, waits *WaitConfig, log *logrus.Entry) *PowerController {
	return &PowerController{fleet: fm, hardware: hm, waits: waits, log: log}
}

// Shutdown issues a graceful guest OS shutdown. The OS-level acknowledgment
// is not what gates proceeding; AwaitPowerOff is.
func (p *PowerController) Shutdown(ctx context.Context, node string) error {
	if err := p.fleet.Shutdown(ctx, node); err != nil {
		return fmt.Errorf("failed to shut down %s: %w", node, err)
	}
	p.log.WithField("node", node).Info("guest shutdown issued")
	return nil
}

// AwaitPowerOff blocks until the hardware manager reports the profile's
// endpoint powered off.
func (p *PowerController) AwaitPowerOff(ctx context.Context, profileDN string) error {
	return poll.Wait(ctx, fmt.Sprintf("%s to power off", profileDN),
		p.waits.PowerOffInterval, p.waits.PowerOffTimeout,
		func(ctx context.Context) (bool, error) {
			state, err := p.hardware.PowerState(ctx, profileDN)
			if err != nil {
				return false, err
			}
			return state == hardware.PowerOff, nil
		})
}

// PowerOn requests power restoration. Issued once without a confirmation
// poll: the reconnect wait that follows observes the node coming back.
func (p *PowerController) PowerOn(ctx context.Context, profileDN string) error {
	if err := p.hardware.SetPowerState(ctx, profileDN, hardware.PowerOn); err != nil {
		return fmt.Errorf("failed to power on %s: %w", profileDN, err)
	}
	p.log.WithField("profile", profileDN).Info("power on issued")
	return nil
}
