package rollout

import (
	"context"
	"fmt"

	"github.com/MallocArray/Update-UCSFirmware/pkg/hardware"
)

// CheckResult is the precondition validator's verdict for a node
type CheckResult string

const (
	// CheckNeedsUpdate means the profile is not on the target policy and
	// the pipeline should proceed.
	CheckNeedsUpdate CheckResult = "needs_update"
	// CheckAlreadyCurrent means the profile already carries the target
	// policy; the node is skipped without any mutation.
	CheckAlreadyCurrent CheckResult = "already_current"
)

// Validator decides, before any disruptive action, whether a node needs the
// update at all. The check is side-effect-free and runs strictly before
// drain and shutdown: draining a node that is already current would cost
// availability for nothing.
type Validator struct {
	hardware hardware.Manager
}

// NewValidator creates a validator.
func NewValidator(hm hardware.Manager) *Validator {
	return &Validator{hardware: hm}
}

// Check verifies the target exists exactly once in the profile's domain and
// compares it against the profile's current firmware policy. A missing or
// duplicated target fails with ErrTargetNotFound.
func (v *Validator) Check(ctx context.Context, profile hardware.Profile, target string) (CheckResult, error) {
	targets, err := v.hardware.FirmwareTargets(ctx, profile.Domain)
	if err != nil {
		return "", fmt.Errorf("failed to list firmware targets in domain %s: %w", profile.Domain, err)
	}

	matches := 0
	for _, t := range targets {
		if t.Name == target {
			matches++
		}
	}
	switch {
	case matches == 0:
		return "", fmt.Errorf("%w: nothing named %q in domain %s", ErrTargetNotFound, target, profile.Domain)
	case matches > 1:
		return "", fmt.Errorf("%w: %q defined %d times in domain %s", ErrTargetNotFound, target, matches, profile.Domain)
	}

	if profile.FirmwarePolicy == target {
		return CheckAlreadyCurrent, nil
	}
	return CheckNeedsUpdate, nil
}
