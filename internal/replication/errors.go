package replication

import "errors"

// Configuration errors are returned synchronously to the caller of the
// mutating operation. Telemetry and propagation failures are folded into
// status fields instead so monitoring keeps running in degraded mode.
var (
	ErrRegionNotFound   = errors.New("region not found")
	ErrGroupNotFound    = errors.New("group not found")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrDuplicateRegion  = errors.New("region already registered")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// ErrFailoverInProgress is returned when a failover is triggered while a
	// prior event for the same group has not completed yet. The in-flight
	// event keeps its RPO/RTO accounting; callers retry after completion.
	ErrFailoverInProgress = errors.New("failover already in progress")

	// ErrNoEligibleCandidate is returned when a group has no replica that can
	// be promoted. The unreachable primary is left in place and the caller
	// gets an explicit result instead of a silent no-op.
	ErrNoEligibleCandidate = errors.New("no eligible failover candidate")
)
