package rollout

import "errors"

// Correlation and validation failures the run reports per node. Callers
// match with errors.Is; wrapped messages carry the node and identity
// detail.
var (
	// ErrCorrelationNotFound means no hardware profile is bound to the
	// node's network identity.
	ErrCorrelationNotFound = errors.New("no hardware profile matches identity")

	// ErrCorrelationAmbiguous means more than one hardware profile is bound
	// to the node's network identity. Picking one silently is never safe;
	// resolution fails unless ambiguity was explicitly allowed.
	ErrCorrelationAmbiguous = errors.New("identity matches multiple hardware profiles")

	// ErrTargetNotFound means the requested firmware target does not exist
	// exactly once in the profile's hardware domain. Zero matches and
	// duplicates both refuse the update.
	ErrTargetNotFound = errors.New("no unique firmware target")
)
