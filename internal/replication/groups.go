package replication

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CreateGroup validates and stores a replication group, then starts its
// monitor loop. The group's status always starts healthy and is owned by
// health evaluation from then on.
func (e *Engine) CreateGroup(ctx context.Context, group *ReplicationGroup) error {
	if err := e.validateGroup(ctx, group); err != nil {
		return err
	}

	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	group.Status = StatusHealthy
	group.CreatedAt = e.clock.Now()
	group.UpdatedAt = group.CreatedAt

	replicas, err := json.Marshal(group.ReplicaRegionIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal replica list: %w", err)
	}
	included, _ := json.Marshal(stringsOrEmpty(group.IncludedTables))
	excluded, _ := json.Marshal(stringsOrEmpty(group.ExcludedTables))

	_, err = e.db.ExecContext(ctx, `
		INSERT INTO replication_groups (
			id, tenant_id, name, topology, primary_region_id, replica_region_ids,
			conflict_strategy, consistency, failover_mode, sla_max_lag_ms,
			included_tables, excluded_tables, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		group.ID, group.TenantID, group.Name, group.Topology, group.PrimaryRegionID, string(replicas),
		group.ConflictStrategy, group.Consistency, group.FailoverMode, group.SLAMaxLagMs,
		string(included), string(excluded), group.Status, group.CreatedAt, group.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}

	e.startMonitor(group.ID)

	e.log.WithFields(logrus.Fields{
		"group_id": group.ID,
		"tenant":   group.TenantID,
		"topology": group.Topology,
		"primary":  group.PrimaryRegionID,
		"replicas": len(group.ReplicaRegionIDs),
	}).Info("Replication group created")

	return nil
}

// validateGroup checks region references and topology/strategy consistency
func (e *Engine) validateGroup(ctx context.Context, group *ReplicationGroup) error {
	if group.PrimaryRegionID == "" {
		return fmt.Errorf("%w: primary region is required", ErrInvalidConfig)
	}
	if group.SLAMaxLagMs <= 0 {
		return fmt.Errorf("%w: sla_max_lag_ms must be positive", ErrInvalidConfig)
	}

	primary, err := e.GetRegion(ctx, group.PrimaryRegionID)
	if err == ErrRegionNotFound {
		return fmt.Errorf("%w: unknown primary region %s", ErrInvalidConfig, group.PrimaryRegionID)
	}
	if err != nil {
		return err
	}
	if !primary.PrimaryEligible {
		return fmt.Errorf("%w: region %s is not primary-eligible", ErrInvalidConfig, primary.ID)
	}

	seen := map[string]bool{group.PrimaryRegionID: true}
	for _, replicaID := range group.ReplicaRegionIDs {
		if replicaID == group.PrimaryRegionID {
			return fmt.Errorf("%w: primary region %s also listed as replica", ErrInvalidConfig, replicaID)
		}
		if seen[replicaID] {
			return fmt.Errorf("%w: duplicate replica region %s", ErrInvalidConfig, replicaID)
		}
		seen[replicaID] = true

		if _, err := e.GetRegion(ctx, replicaID); err == ErrRegionNotFound {
			return fmt.Errorf("%w: unknown replica region %s", ErrInvalidConfig, replicaID)
		} else if err != nil {
			return err
		}
	}

	switch group.Topology {
	case TopologyPrimaryReplica, TopologyMultiMaster, TopologyRing, TopologyHubSpoke, TopologyMesh:
	default:
		return fmt.Errorf("%w: unknown topology %q", ErrInvalidConfig, group.Topology)
	}

	if !group.ConflictStrategy.Known() {
		return fmt.Errorf("%w: unknown conflict strategy %q", ErrInvalidConfig, group.ConflictStrategy)
	}
	if !group.Consistency.Known() {
		return fmt.Errorf("%w: unknown consistency level %q", ErrInvalidConfig, group.Consistency)
	}
	if !group.FailoverMode.Known() {
		return fmt.Errorf("%w: unknown failover mode %q", ErrInvalidConfig, group.FailoverMode)
	}

	// Multi-master topologies accept concurrent writes in several regions,
	// so they must carry a real reconciliation strategy.
	if group.Topology == TopologyMultiMaster && (group.ConflictStrategy == StrategyNone || group.ConflictStrategy == "") {
		return fmt.Errorf("%w: multi_master topology requires a conflict strategy", ErrInvalidConfig)
	}

	return nil
}

// GetGroup retrieves a replication group by id
func (e *Engine) GetGroup(ctx context.Context, groupID string) (*ReplicationGroup, error) {
	group := &ReplicationGroup{}
	var replicas, included, excluded string

	err := e.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, topology, primary_region_id, replica_region_ids,
		       conflict_strategy, consistency, failover_mode, sla_max_lag_ms,
		       included_tables, excluded_tables, status, created_at, updated_at
		FROM replication_groups WHERE id = ?
	`, groupID).Scan(
		&group.ID, &group.TenantID, &group.Name, &group.Topology, &group.PrimaryRegionID, &replicas,
		&group.ConflictStrategy, &group.Consistency, &group.FailoverMode, &group.SLAMaxLagMs,
		&included, &excluded, &group.Status, &group.CreatedAt, &group.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	if err := json.Unmarshal([]byte(replicas), &group.ReplicaRegionIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal replica list: %w", err)
	}
	json.Unmarshal([]byte(included), &group.IncludedTables)
	json.Unmarshal([]byte(excluded), &group.ExcludedTables)

	return group, nil
}

// ListGroups returns all groups, optionally filtered by tenant
func (e *Engine) ListGroups(ctx context.Context, tenantID string) ([]*ReplicationGroup, error) {
	query := `
		SELECT id FROM replication_groups
		ORDER BY created_at ASC
	`
	args := []interface{}{}
	if tenantID != "" {
		query = `
			SELECT id FROM replication_groups
			WHERE tenant_id = ?
			ORDER BY created_at ASC
		`
		args = append(args, tenantID)
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	groups := make([]*ReplicationGroup, 0, len(ids))
	for _, id := range ids {
		group, err := e.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// UpdateGroup merges the allowed mutable fields into a group. Status and
// region membership are not updatable here: status belongs to health
// evaluation, membership changes happen through failover.
func (e *Engine) UpdateGroup(ctx context.Context, groupID string, update *GroupUpdate) (*ReplicationGroup, error) {
	lock := e.groupLock(groupID)
	lock.Lock()
	defer lock.Unlock()

	group, err := e.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if update.ConflictStrategy != nil {
		if !update.ConflictStrategy.Known() {
			return nil, fmt.Errorf("%w: unknown conflict strategy %q", ErrInvalidConfig, *update.ConflictStrategy)
		}
		group.ConflictStrategy = *update.ConflictStrategy
	}
	if update.Consistency != nil {
		if !update.Consistency.Known() {
			return nil, fmt.Errorf("%w: unknown consistency level %q", ErrInvalidConfig, *update.Consistency)
		}
		group.Consistency = *update.Consistency
	}
	if update.FailoverMode != nil {
		if !update.FailoverMode.Known() {
			return nil, fmt.Errorf("%w: unknown failover mode %q", ErrInvalidConfig, *update.FailoverMode)
		}
		group.FailoverMode = *update.FailoverMode
	}
	if update.SLAMaxLagMs != nil {
		if *update.SLAMaxLagMs <= 0 {
			return nil, fmt.Errorf("%w: sla_max_lag_ms must be positive", ErrInvalidConfig)
		}
		group.SLAMaxLagMs = *update.SLAMaxLagMs
	}
	if update.IncludedTables != nil {
		group.IncludedTables = *update.IncludedTables
	}
	if update.ExcludedTables != nil {
		group.ExcludedTables = *update.ExcludedTables
	}

	if group.Topology == TopologyMultiMaster && group.ConflictStrategy == StrategyNone {
		return nil, fmt.Errorf("%w: multi_master topology requires a conflict strategy", ErrInvalidConfig)
	}

	group.UpdatedAt = e.clock.Now()

	included, _ := json.Marshal(stringsOrEmpty(group.IncludedTables))
	excluded, _ := json.Marshal(stringsOrEmpty(group.ExcludedTables))

	_, err = e.db.ExecContext(ctx, `
		UPDATE replication_groups SET
			conflict_strategy = ?, consistency = ?, failover_mode = ?, sla_max_lag_ms = ?,
			included_tables = ?, excluded_tables = ?, updated_at = ?
		WHERE id = ?
	`,
		group.ConflictStrategy, group.Consistency, group.FailoverMode, group.SLAMaxLagMs,
		string(included), string(excluded), group.UpdatedAt, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update group: %w", err)
	}

	return group, nil
}

// DeleteGroup stops monitoring and removes the group. Audit records
// (conflicts, failovers, snapshots, schema changes) are retained.
func (e *Engine) DeleteGroup(ctx context.Context, groupID string) error {
	if _, err := e.GetGroup(ctx, groupID); err != nil {
		return err
	}

	e.StopMonitoring(groupID)

	if _, err := e.db.ExecContext(ctx, `DELETE FROM replication_groups WHERE id = ?`, groupID); err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}

	e.history.Forget(groupID)
	e.metrics.forgetGroup(groupID)

	e.healthMu.Lock()
	delete(e.health, groupID)
	e.healthMu.Unlock()

	e.log.WithField("group_id", groupID).Info("Replication group deleted")
	return nil
}

// setGroupStatus persists the derived group status after an evaluation
func (e *Engine) setGroupStatus(ctx context.Context, groupID, status string) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE replication_groups SET status = ?, updated_at = ? WHERE id = ?
	`, status, e.clock.Now(), groupID)
	return err
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
