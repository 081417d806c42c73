package replication

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RecordConflict resolves two competing region-local writes using the
// group's configured strategy and persists the decision. Every resolution
// is recorded, whatever the strategy: the conflict trail is the primary
// tool for diagnosing divergence after the fact.
func (e *Engine) RecordConflict(ctx context.Context, input *ConflictInput) (*ConflictRecord, error) {
	group, err := e.GetGroup(ctx, input.GroupID)
	if err != nil {
		return nil, err
	}

	resolved, auto, err := e.resolve(ctx, group.ConflictStrategy, input)
	if err != nil {
		return nil, err
	}

	record := &ConflictRecord{
		ID:            uuid.New().String(),
		GroupID:       input.GroupID,
		TableName:     input.TableName,
		PrimaryKey:    input.PrimaryKey,
		RegionA:       input.RegionA,
		RegionB:       input.RegionB,
		ValueA:        input.ValueA,
		ValueB:        input.ValueB,
		TimestampA:    input.TimestampA,
		TimestampB:    input.TimestampB,
		Strategy:      group.ConflictStrategy,
		ResolvedValue: resolved,
		AutoResolved:  auto,
		ResolvedAt:    e.clock.Now(),
	}

	_, err = e.db.ExecContext(ctx, `
		INSERT INTO conflict_records (
			id, group_id, table_name, primary_key, region_a, region_b,
			value_a, value_b, timestamp_a, timestamp_b, strategy,
			resolved_value, auto_resolved, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID, record.GroupID, record.TableName, record.PrimaryKey, record.RegionA, record.RegionB,
		string(record.ValueA), string(record.ValueB), record.TimestampA, record.TimestampB, record.Strategy,
		string(record.ResolvedValue), record.AutoResolved, record.ResolvedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record conflict: %w", err)
	}

	e.metrics.conflictsTotal.WithLabelValues(record.GroupID, string(record.Strategy)).Inc()

	e.log.WithFields(logrus.Fields{
		"group_id":    record.GroupID,
		"table":       record.TableName,
		"primary_key": record.PrimaryKey,
		"strategy":    record.Strategy,
		"auto":        record.AutoResolved,
	}).Info("Write conflict resolved")

	return record, nil
}

// resolve applies the strategy and reports whether resolution was automatic.
// The custom strategy without a configured hook falls back to last-write-wins
// and is flagged non-automatic so operators can review it.
func (e *Engine) resolve(ctx context.Context, strategy ConflictStrategy, input *ConflictInput) (json.RawMessage, bool, error) {
	switch strategy {
	case StrategyLastWriteWins, StrategyVersionVector, StrategyNone, "":
		return lastWriteWins(input), true, nil

	case StrategyFirstWriteWins:
		if input.TimestampA.Before(input.TimestampB) || input.TimestampA.Equal(input.TimestampB) {
			return input.ValueA, true, nil
		}
		return input.ValueB, true, nil

	case StrategyCRDT:
		merged, ok := shallowMerge(input.ValueA, input.ValueB)
		if ok {
			return merged, true, nil
		}
		return lastWriteWins(input), true, nil

	case StrategyCustom:
		if e.hook == nil {
			return lastWriteWins(input), false, nil
		}
		resolved, err := e.hook.Resolve(ctx, input.ValueA, input.ValueB, input.TimestampA, input.TimestampB)
		if err != nil {
			return nil, false, fmt.Errorf("custom conflict hook failed: %w", err)
		}
		return resolved, true, nil

	default:
		return nil, false, fmt.Errorf("%w: unknown conflict strategy %q", ErrInvalidConfig, strategy)
	}
}

// lastWriteWins picks the value with the greater timestamp; A wins ties
func lastWriteWins(input *ConflictInput) json.RawMessage {
	if input.TimestampB.After(input.TimestampA) {
		return input.ValueB
	}
	return input.ValueA
}

// shallowMerge overlays region-A fields on top of region-B fields when both
// values decode as JSON objects. Non-object values report false so the
// caller can fall back.
func shallowMerge(valueA, valueB json.RawMessage) (json.RawMessage, bool) {
	var a, b map[string]interface{}
	if err := json.Unmarshal(valueA, &a); err != nil {
		return nil, false
	}
	if err := json.Unmarshal(valueB, &b); err != nil {
		return nil, false
	}

	merged := make(map[string]interface{}, len(a)+len(b))
	for k, v := range b {
		merged[k] = v
	}
	for k, v := range a {
		merged[k] = v
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, false
	}
	return out, true
}

// ListConflicts returns the conflict trail for a group, newest first
func (e *Engine) ListConflicts(ctx context.Context, groupID string) ([]*ConflictRecord, error) {
	if _, err := e.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT id, group_id, table_name, primary_key, region_a, region_b,
		       value_a, value_b, timestamp_a, timestamp_b, strategy,
		       resolved_value, auto_resolved, resolved_at
		FROM conflict_records
		WHERE group_id = ?
		ORDER BY resolved_at DESC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var records []*ConflictRecord
	for rows.Next() {
		record := &ConflictRecord{}
		var valueA, valueB, resolved string
		err := rows.Scan(
			&record.ID, &record.GroupID, &record.TableName, &record.PrimaryKey, &record.RegionA, &record.RegionB,
			&valueA, &valueB, &record.TimestampA, &record.TimestampB, &record.Strategy,
			&resolved, &record.AutoResolved, &record.ResolvedAt,
		)
		if err != nil {
			return nil, err
		}
		record.ValueA = json.RawMessage(valueA)
		record.ValueB = json.RawMessage(valueB)
		record.ResolvedValue = json.RawMessage(resolved)
		records = append(records, record)
	}
	return records, rows.Err()
}

// countOpenConflicts counts conflicts that were not resolved automatically
// and therefore still need operator review.
func (e *Engine) countOpenConflicts(ctx context.Context, groupID string) int64 {
	var count int64
	err := e.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conflict_records WHERE group_id = ? AND auto_resolved = 0
	`, groupID).Scan(&count)
	if err != nil {
		e.log.WithField("group_id", groupID).WithError(err).Warn("Failed to count open conflicts")
		return 0
	}
	return count
}
