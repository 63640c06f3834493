package rollout

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/MallocArray/Update-UCSFirmware/pkg/fleet"
	"github.com/MallocArray/Update-UCSFirmware/pkg/poll"
)

// RejoinController returns a powered-on node to service. A node is never
// left in maintenance past this stage on the success path.
type RejoinController struct {
	fleet fleet.Manager
	waits *WaitConfig
	log   *logrus.Entry
}

// NewRejoinController creates a rejoin controller.
func NewRejoinController(fm fleet.Manager, waits *WaitConfig, log *logrus.Entry) *RejoinController {
	return &RejoinController{fleet: fm, waits: waits, log: log}
}

// AwaitReconnect blocks until the rebooted node reports back to the fleet
// manager. A rebooted node reconnects still drained, so Maintenance counts
// as reconnected here; only NotResponding and Unknown keep the wait going.
// Observation errors are tolerated and retried, since the node is mid-boot.
func (rj *RejoinController) AwaitReconnect(ctx context.Context, node string) error {
	return poll.Wait(ctx, fmt.Sprintf("%s to reconnect", node),
		rj.waits.ReconnectInterval, rj.waits.ReconnectTimeout,
		func(ctx context.Context) (bool, error) {
			state, err := rj.fleet.State(ctx, node)
			if err != nil {
				return false, err
			}
			return state == fleet.StateConnected || state == fleet.StateMaintenance, nil
		})
}

// ExitMaintenance returns the node to service and confirms the fleet
// manager reports it exactly Connected.
func (rj *RejoinController) ExitMaintenance(ctx context.Context, node string) error {
	if err := rj.fleet.ExitMaintenance(ctx, node); err != nil {
		return fmt.Errorf("failed to exit maintenance on %s: %w", node, err)
	}
	rj.log.WithField("node", node).Info("maintenance exit issued")

	return poll.Wait(ctx, fmt.Sprintf("%s to report connected", node),
		rj.waits.ReconnectInterval, rj.waits.ReconnectTimeout,
		func(ctx context.Context) (bool, error) {
			state, err := rj.fleet.State(ctx, node)
			if err != nil {
				return false, err
			}
			return state == fleet.StateConnected, nil
		})
}
