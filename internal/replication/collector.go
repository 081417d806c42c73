package replication

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// collectGroupMetrics produces one sample per region for the current tick.
// Regions are probed concurrently under the collection timeout; a failed
// probe contributes nothing, which the evaluator later reads as staleness.
// The primary's lag is zero by construction.
func (e *Engine) collectGroupMetrics(ctx context.Context, group *ReplicationGroup) []*ReplicationMetrics {
	ctx, cancel := context.WithTimeout(ctx, e.config.CollectionTimeout)
	defer cancel()

	regionIDs := append([]string{group.PrimaryRegionID}, group.ReplicaRegionIDs...)

	var mu sync.Mutex
	var wg sync.WaitGroup
	collected := make([]*ReplicationMetrics, 0, len(regionIDs))

	for _, regionID := range regionIDs {
		wg.Add(1)
		go func(regionID string) {
			defer wg.Done()

			sample := e.sampleRegion(ctx, group, regionID)
			if sample == nil {
				return
			}

			mu.Lock()
			collected = append(collected, sample)
			mu.Unlock()
		}(regionID)
	}
	wg.Wait()

	for _, sample := range collected {
		e.history.Append(sample)
		e.metrics.regionLagMs.WithLabelValues(sample.GroupID, sample.RegionID).Set(float64(sample.LagMs))
	}

	return collected
}

// sampleRegion fetches one telemetry sample, or nil when the region is
// unreachable within the collection timeout.
func (e *Engine) sampleRegion(ctx context.Context, group *ReplicationGroup, regionID string) *ReplicationMetrics {
	region, err := e.GetRegion(ctx, regionID)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"group_id":  group.ID,
			"region_id": regionID,
		}).WithError(err).Warn("Failed to resolve region during collection")
		return nil
	}

	raw, err := e.telemetry.Sample(ctx, group.ID, region)
	if err != nil {
		// Recovered locally: the region will read as offline once the
		// staleness window passes. Never thrown to the caller.
		e.log.WithFields(logrus.Fields{
			"group_id":  group.ID,
			"region_id": regionID,
		}).WithError(err).Debug("Telemetry unavailable for region")
		return nil
	}

	sample := &ReplicationMetrics{
		GroupID:         group.ID,
		RegionID:        regionID,
		LagMs:           raw.LagMs,
		WritesPerSec:    raw.WritesPerSec,
		ReadsPerSec:     raw.ReadsPerSec,
		BytesPerSec:     raw.BytesPerSec,
		ConflictsPerMin: raw.ConflictsPerMin,
		ErrorRate:       raw.ErrorRate,
		PendingOps:      raw.PendingOps,
		SampledAt:       e.clock.Now(),
	}
	if regionID == group.PrimaryRegionID {
		sample.LagMs = 0
	}

	return sample
}

// GetMetricsHistory returns the bounded sample run for one (group, region)
// pair, oldest first.
func (e *Engine) GetMetricsHistory(ctx context.Context, groupID, regionID string) ([]*ReplicationMetrics, error) {
	if _, err := e.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return e.history.Run(groupID, regionID), nil
}
