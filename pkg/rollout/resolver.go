package rollout

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/MallocArray/Update-UCSFirmware/pkg/fleet"
	"github.com/MallocArray/Update-UCSFirmware/pkg/hardware"
)

// Resolver correlates a fleet node with its hardware profile. The only
// attribute the two control planes share is the node's active network
// identity, so resolution goes identity-first: ask the fleet manager for
// the node's primary MAC, then ask the hardware manager which profiles are
// bound to it. Resolution never mutates either side.
type Resolver struct {
	fleet          fleet.Manager
	hardware       hardware.Manager
	allowAmbiguous bool
	log            *logrus.Entry
}

// NewResolver creates a resolver. With allowAmbiguous set, an identity
// matching several profiles resolves to the lowest profile DN instead of
// failing; the default is strict.
func NewResolver(fm fleet.Manager, hm hardware.Manager, allowAmbiguous bool, log *logrus.Entry) *Resolver {
	return &Resolver{
		fleet:          fm,
		hardware:       hm,
		allowAmbiguous: allowAmbiguous,
		log:            log,
	}
}

// Resolve returns the hardware profile bound to the node's identity.
// Zero matches fail with ErrCorrelationNotFound; multiple matches fail
// with ErrCorrelationAmbiguous unless ambiguity was allowed.
func (r *Resolver) Resolve(ctx context.Context, node string) (hardware.Profile, error) {
	id, err := r.fleet.ActiveIdentity(ctx, node)
	if err != nil {
		return hardware.Profile{}, fmt.Errorf("failed to resolve network identity of %s: %w", node, err)
	}

	profiles, err := r.hardware.ProfilesByIdentity(ctx, id.MAC)
	if err != nil {
		return hardware.Profile{}, fmt.Errorf("failed to look up profiles for identity %s: %w", id.MAC, err)
	}

	switch len(profiles) {
	case 0:
		return hardware.Profile{}, fmt.Errorf("%w: identity %s of node %s", ErrCorrelationNotFound, id.MAC, node)
	case 1:
		return profiles[0], nil
	}

	if !r.allowAmbiguous {
		return hardware.Profile{}, fmt.Errorf("%w: identity %s of node %s matches %d profiles",
			ErrCorrelationAmbiguous, id.MAC, node, len(profiles))
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].DN < profiles[j].DN })
	r.log.WithFields(logrus.Fields{
		"node":     node,
		"identity": id.MAC,
		"matches":  len(profiles),
		"chosen":   profiles[0].DN,
	}).Warn("ambiguous identity correlation, using lowest profile DN")
	return profiles[0], nil
}
