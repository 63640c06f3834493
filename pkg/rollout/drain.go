package rollout

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/MallocArray/Update-UCSFirmware/pkg/fleet"
	"github.com/MallocArray/Update-UCSFirmware/pkg/poll"
)

// DrainController evacuates a node's workloads and confirms it reached
// maintenance. Drain requests are asynchronous on the fleet manager side;
// completion is only ever observed by polling the node's state.
type DrainController struct {
	fleet fleet.Manager
	waits *WaitConfig
	log   *logrus.Entry
}

// NewDrainController creates a drain controller.
func NewDrainController(fm fleet.Manager, waits *WaitConfig, log *logrus.Entry) *DrainController {
	return &DrainController{fleet: fm, waits: waits, log: log}
}

// Drain requests evacuation and blocks until the fleet manager reports the
// node in maintenance. A node already in maintenance is left alone.
func (d *DrainController) Drain(ctx context.Context, node string) error {
	state, err := d.fleet.State(ctx, node)
	if err != nil {
		return fmt.Errorf("failed to read state of %s: %w", node, err)
	}
	if state == fleet.StateMaintenance {
		d.log.WithField("node", node).Debug("already in maintenance, drain not needed")
		return nil
	}

	if err := d.fleet.Drain(ctx, node); err != nil {
		return fmt.Errorf("failed to request drain of %s: %w", node, err)
	}
	return d.awaitMaintenance(ctx, node)
}

// Remediate runs the compliance baseline against the drained node and then
// re-confirms maintenance, since remediation tooling may re-evacuate.
func (d *DrainController) Remediate(ctx context.Context, node, baseline string) error {
	if err := d.fleet.Remediate(ctx, node, baseline); err != nil {
		return fmt.Errorf("failed to remediate %s against baseline %s: %w", node, baseline, err)
	}
	return d.awaitMaintenance(ctx, node)
}

func (d *DrainController) awaitMaintenance(ctx context.Context, node string) error {
	return poll.Wait(ctx, fmt.Sprintf("%s to enter maintenance", node),
		d.waits.DrainInterval, d.waits.DrainTimeout,
		func(ctx context.Context) (bool, error) {
			state, err := d.fleet.State(ctx, node)
			if err != nil {
				return false, err
			}
			return state == fleet.StateMaintenance, nil
		})
}
