package replication

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PropagateSchemaChange applies the DDL to every region of the group and
// partitions regions into succeeded/failed. Any failure yields a failed
// overall status: schema divergence is equally dangerous no matter how many
// regions it touches. Per-region failures are part of the result, never an
// error to the caller.
func (e *Engine) PropagateSchemaChange(ctx context.Context, change *SchemaChange) (*SchemaChange, error) {
	group, err := e.GetGroup(ctx, change.GroupID)
	if err != nil {
		return nil, err
	}
	if change.DDL == "" {
		return nil, fmt.Errorf("%w: ddl statement is required", ErrInvalidConfig)
	}

	if change.ID == "" {
		change.ID = uuid.New().String()
	}
	change.Status = SchemaPending
	change.CreatedAt = e.clock.Now()
	change.SucceededRegions = []string{}
	change.FailedRegions = []string{}

	if err := e.insertSchemaChange(ctx, change); err != nil {
		return nil, err
	}

	change.Status = SchemaPropagating
	e.updateSchemaChange(ctx, change)

	regionIDs := append([]string{group.PrimaryRegionID}, group.ReplicaRegionIDs...)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, regionID := range regionIDs {
		wg.Add(1)
		go func(regionID string) {
			defer wg.Done()

			err := e.applyToRegion(ctx, regionID, change.DDL)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.log.WithFields(logrus.Fields{
					"change_id": change.ID,
					"region_id": regionID,
				}).WithError(err).Warn("Schema change failed on region")
				change.FailedRegions = append(change.FailedRegions, regionID)
			} else {
				change.SucceededRegions = append(change.SucceededRegions, regionID)
			}
		}(regionID)
	}
	wg.Wait()

	sort.Strings(change.SucceededRegions)
	sort.Strings(change.FailedRegions)

	if len(change.FailedRegions) == 0 {
		change.Status = SchemaApplied
		appliedAt := e.clock.Now()
		change.AppliedAt = &appliedAt
	} else {
		change.Status = SchemaFailed
	}
	e.updateSchemaChange(ctx, change)

	e.metrics.schemaPropsTotal.WithLabelValues(change.Status).Inc()

	e.log.WithFields(logrus.Fields{
		"change_id": change.ID,
		"group_id":  change.GroupID,
		"table":     change.TableName,
		"status":    change.Status,
		"succeeded": len(change.SucceededRegions),
		"failed":    len(change.FailedRegions),
	}).Info("Schema change propagated")

	return change, nil
}

// applyToRegion resolves the region and ships the DDL to it
func (e *Engine) applyToRegion(ctx context.Context, regionID, ddl string) error {
	region, err := e.GetRegion(ctx, regionID)
	if err != nil {
		return err
	}
	return e.ddl.Apply(ctx, region, ddl)
}

func (e *Engine) insertSchemaChange(ctx context.Context, change *SchemaChange) error {
	succeeded, _ := json.Marshal(change.SucceededRegions)
	failed, _ := json.Marshal(change.FailedRegions)

	_, err := e.db.ExecContext(ctx, `
		INSERT INTO schema_changes (
			id, group_id, table_name, change_type, ddl, status,
			succeeded_regions, failed_regions, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		change.ID, change.GroupID, change.TableName, change.ChangeType, change.DDL, change.Status,
		string(succeeded), string(failed), change.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record schema change: %w", err)
	}
	return nil
}

func (e *Engine) updateSchemaChange(ctx context.Context, change *SchemaChange) {
	succeeded, _ := json.Marshal(change.SucceededRegions)
	failed, _ := json.Marshal(change.FailedRegions)

	_, err := e.db.ExecContext(ctx, `
		UPDATE schema_changes
		SET status = ?, succeeded_regions = ?, failed_regions = ?, applied_at = ?
		WHERE id = ?
	`, change.Status, string(succeeded), string(failed), change.AppliedAt, change.ID)
	if err != nil {
		e.log.WithField("change_id", change.ID).WithError(err).Error("Failed to update schema change")
	}
}

// ListSchemaChanges returns the schema-change history for a group, newest first
func (e *Engine) ListSchemaChanges(ctx context.Context, groupID string) ([]*SchemaChange, error) {
	if _, err := e.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT id, group_id, table_name, change_type, ddl, status,
		       succeeded_regions, failed_regions, created_at, applied_at
		FROM schema_changes
		WHERE group_id = ?
		ORDER BY created_at DESC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema changes: %w", err)
	}
	defer rows.Close()

	var changes []*SchemaChange
	for rows.Next() {
		change := &SchemaChange{}
		var succeeded, failed string
		var appliedAt sql.NullTime
		err := rows.Scan(
			&change.ID, &change.GroupID, &change.TableName, &change.ChangeType, &change.DDL, &change.Status,
			&succeeded, &failed, &change.CreatedAt, &appliedAt,
		)
		if err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(succeeded), &change.SucceededRegions)
		json.Unmarshal([]byte(failed), &change.FailedRegions)
		if appliedAt.Valid {
			change.AppliedAt = &appliedAt.Time
		}
		changes = append(changes, change)
	}
	return changes, rows.Err()
}
