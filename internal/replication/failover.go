package replication

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TriggerFailover promotes the primary-eligible replica with the lowest
// currently observed lag to primary and demotes the previous primary into
// the replica list. The swap is atomic with respect to group reads; the
// event completes asynchronously after the RTO interval.
//
// A second trigger while a prior event is still completing is rejected with
// ErrFailoverInProgress so the in-flight event's RPO/RTO accounting stays
// intact.
func (e *Engine) TriggerFailover(ctx context.Context, groupID string, trigger FailoverTrigger, notes string) (*FailoverEvent, error) {
	lock := e.groupLock(groupID)
	lock.Lock()
	defer lock.Unlock()

	e.failoverMu.Lock()
	_, pending := e.inflight[groupID]
	e.failoverMu.Unlock()
	if pending {
		return nil, ErrFailoverInProgress
	}

	group, err := e.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	winner, winnerLag := e.selectCandidate(ctx, group)
	if winner == "" {
		return nil, ErrNoEligibleCandidate
	}

	now := e.clock.Now()
	event := &FailoverEvent{
		ID:           uuid.New().String(),
		GroupID:      groupID,
		Trigger:      trigger,
		Notes:        notes,
		OldPrimaryID: group.PrimaryRegionID,
		NewPrimaryID: winner,
		RTOMs:        e.config.FailoverRTO.Milliseconds(),
		RPOMs:        winnerLag,
		TriggeredAt:  now,
	}
	event.DataLossRecords = estimateDataLoss(winnerLag, e.history.Latest(groupID, group.PrimaryRegionID))

	// Rebuild the replica list: winner out, old primary in. The group is
	// never observable with zero or two primaries.
	newReplicas := make([]string, 0, len(group.ReplicaRegionIDs))
	for _, replicaID := range group.ReplicaRegionIDs {
		if replicaID != winner {
			newReplicas = append(newReplicas, replicaID)
		}
	}
	newReplicas = append(newReplicas, group.PrimaryRegionID)

	if err := e.swapPrimary(ctx, event, winner, newReplicas, now); err != nil {
		return nil, err
	}

	e.metrics.failoversTotal.WithLabelValues(groupID, string(trigger)).Inc()

	e.log.WithFields(logrus.Fields{
		"group_id":    groupID,
		"trigger":     trigger,
		"old_primary": event.OldPrimaryID,
		"new_primary": event.NewPrimaryID,
		"rpo_ms":      event.RPOMs,
		"rto_ms":      event.RTOMs,
		"data_loss":   event.DataLossRecords,
	}).Warn("Failover triggered")

	e.scheduleCompletion(event)

	return event, nil
}

// selectCandidate picks the promotion target among a group's replicas.
// Replicas without any sample, and replicas whose region is not marked
// primary-eligible, are skipped. Lowest observed lag wins; equal lag is
// decided by the region's priority rank (lower rank first), then by
// replica order.
func (e *Engine) selectCandidate(ctx context.Context, group *ReplicationGroup) (string, int64) {
	winner := ""
	var winnerLag int64
	var winnerRank int

	for _, replicaID := range group.ReplicaRegionIDs {
		latest := e.history.Latest(group.ID, replicaID)
		if latest == nil {
			continue
		}
		region, err := e.GetRegion(ctx, replicaID)
		if err != nil || !region.PrimaryEligible {
			continue
		}
		better := winner == "" || latest.LagMs < winnerLag ||
			(latest.LagMs == winnerLag && region.Priority < winnerRank)
		if better {
			winner = replicaID
			winnerLag = latest.LagMs
			winnerRank = region.Priority
		}
	}

	return winner, winnerLag
}

// swapPrimary persists the promotion and the failover event in one transaction
func (e *Engine) swapPrimary(ctx context.Context, event *FailoverEvent, newPrimary string, newReplicas []string, now time.Time) error {
	replicas, err := json.Marshal(newReplicas)
	if err != nil {
		return fmt.Errorf("failed to marshal replica list: %w", err)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin failover transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE replication_groups
		SET primary_region_id = ?, replica_region_ids = ?, updated_at = ?
		WHERE id = ?
	`, newPrimary, string(replicas), now, event.GroupID)
	if err != nil {
		return fmt.Errorf("failed to swap primary: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO failover_events (
			id, group_id, trigger_reason, notes, old_primary_id, new_primary_id,
			rto_ms, rpo_ms, data_loss_records, completed, triggered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`,
		event.ID, event.GroupID, event.Trigger, event.Notes, event.OldPrimaryID, event.NewPrimaryID,
		event.RTOMs, event.RPOMs, event.DataLossRecords, event.TriggeredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record failover event: %w", err)
	}

	return tx.Commit()
}

// scheduleCompletion finalizes the event after the RTO interval elapses,
// modeling the gap between the promotion decision and full traffic cutover.
func (e *Engine) scheduleCompletion(event *FailoverEvent) {
	e.failoverMu.Lock()
	defer e.failoverMu.Unlock()

	e.inflight[event.GroupID] = time.AfterFunc(e.config.FailoverRTO, func() {
		e.failoverMu.Lock()
		delete(e.inflight, event.GroupID)
		e.failoverMu.Unlock()

		completedAt := e.clock.Now()
		_, err := e.db.Exec(`
			UPDATE failover_events SET completed = 1, completed_at = ? WHERE id = ?
		`, completedAt, event.ID)
		if err != nil {
			e.log.WithField("event_id", event.ID).WithError(err).Error("Failed to complete failover event")
			return
		}

		e.log.WithFields(logrus.Fields{
			"group_id":    event.GroupID,
			"event_id":    event.ID,
			"new_primary": event.NewPrimaryID,
		}).Info("Failover completed")
	})
}

// cancelPendingFailover stops the completion timer for a group, if any
func (e *Engine) cancelPendingFailover(groupID string) {
	e.failoverMu.Lock()
	defer e.failoverMu.Unlock()

	if timer, ok := e.inflight[groupID]; ok {
		timer.Stop()
		delete(e.inflight, groupID)
	}
}

// estimateDataLoss converts the winner's lag into an estimated count of
// unreplicated records, using the primary's last observed write rate.
func estimateDataLoss(lagMs int64, primarySample *ReplicationMetrics) int64 {
	if lagMs <= 0 || primarySample == nil {
		return 0
	}
	return int64(float64(lagMs) / 1000.0 * primarySample.WritesPerSec)
}

// GetFailoverHistory returns all failover events for a group, newest first
func (e *Engine) GetFailoverHistory(ctx context.Context, groupID string) ([]*FailoverEvent, error) {
	if _, err := e.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT id, group_id, trigger_reason, notes, old_primary_id, new_primary_id,
		       rto_ms, rpo_ms, data_loss_records, completed, triggered_at, completed_at
		FROM failover_events
		WHERE group_id = ?
		ORDER BY triggered_at DESC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list failover events: %w", err)
	}
	defer rows.Close()

	var events []*FailoverEvent
	for rows.Next() {
		event := &FailoverEvent{}
		var completedAt sql.NullTime
		err := rows.Scan(
			&event.ID, &event.GroupID, &event.Trigger, &event.Notes, &event.OldPrimaryID, &event.NewPrimaryID,
			&event.RTOMs, &event.RPOMs, &event.DataLossRecords, &event.Completed, &event.TriggeredAt, &completedAt,
		)
		if err != nil {
			return nil, err
		}
		if completedAt.Valid {
			event.CompletedAt = &completedAt.Time
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
