package replication

import (
	"context"

	"github.com/sirupsen/logrus"
)

// statusRank orders statuses from best to worst for the group aggregate
var statusRank = map[string]int{
	StatusHealthy:  0,
	StatusLagging:  1,
	StatusDegraded: 2,
	StatusOffline:  3,
}

// evaluateGroupHealth classifies every region of a group from its most
// recent sample and derives the group-level view. All regions are judged
// from the same tick's history so the aggregate never mixes old and new
// samples. The evaluation replaces the previous one for the group.
func (e *Engine) evaluateGroupHealth(ctx context.Context, group *ReplicationGroup) *HealthStatus {
	now := e.clock.Now()

	status := &HealthStatus{
		GroupID:       group.ID,
		OverallStatus: StatusHealthy,
		EvaluatedAt:   now,
	}

	regionIDs := append([]string{group.PrimaryRegionID}, group.ReplicaRegionIDs...)

	var maxLag int64
	anyOffline := false

	for _, regionID := range regionIDs {
		rh := RegionHealth{RegionID: regionID, Status: StatusOffline}

		latest := e.history.Latest(group.ID, regionID)
		if latest != nil {
			seen := latest.SampledAt
			rh.LastSeen = &seen
			rh.LagMs = latest.LagMs

			switch {
			case now.Sub(latest.SampledAt) > e.config.StalenessWindow:
				rh.Status = StatusOffline
			case latest.LagMs > 2*group.SLAMaxLagMs:
				rh.Status = StatusDegraded
			case latest.LagMs > group.SLAMaxLagMs:
				rh.Status = StatusLagging
			default:
				rh.Status = StatusHealthy
			}

			if latest.LagMs > maxLag {
				maxLag = latest.LagMs
			}
		}

		if rh.Status == StatusOffline {
			anyOffline = true
		}
		if statusRank[rh.Status] > statusRank[status.OverallStatus] {
			status.OverallStatus = rh.Status
		}

		status.Regions = append(status.Regions, rh)
	}

	// SLA breach is judged on raw lag, independent of the discrete buckets,
	// so callers can tell "at risk" from a hard status change.
	status.SLABreached = maxLag > group.SLAMaxLagMs

	status.OpenConflicts = e.countOpenConflicts(ctx, group.ID)
	status.PendingFailover = anyOffline && group.FailoverMode != FailoverManual

	if status.SLABreached {
		e.metrics.slaBreached.WithLabelValues(group.ID).Set(1)
	} else {
		e.metrics.slaBreached.WithLabelValues(group.ID).Set(0)
	}

	e.healthMu.Lock()
	e.health[group.ID] = status
	e.healthMu.Unlock()

	if err := e.setGroupStatus(ctx, group.ID, status.OverallStatus); err != nil {
		e.log.WithField("group_id", group.ID).WithError(err).Warn("Failed to persist group status")
	}

	// An automatic-mode group must never sit offline without a recovery
	// attempt, so the trigger happens synchronously within the evaluation.
	if anyOffline && group.FailoverMode == FailoverAutomatic {
		if _, err := e.TriggerFailover(ctx, group.ID, TriggerHealthCheck, "automatic failover: region offline"); err != nil {
			e.log.WithFields(logrus.Fields{
				"group_id": group.ID,
			}).WithError(err).Warn("Automatic failover not started")
		}
	}

	return status
}

// GetGroupHealth returns the latest health evaluation for a group. When no
// monitor tick has run yet, an evaluation is computed on the spot.
func (e *Engine) GetGroupHealth(ctx context.Context, groupID string) (*HealthStatus, error) {
	group, err := e.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	e.healthMu.RLock()
	status, ok := e.health[groupID]
	e.healthMu.RUnlock()
	if ok {
		return status, nil
	}

	return e.evaluateGroupHealth(ctx, group), nil
}
