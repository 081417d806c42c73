package replication

import (
	"database/sql"
	"fmt"
)

// InitSchema creates the replication engine tables if they don't exist
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS regions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		provider TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		primary_eligible INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0,
		compliance_zone TEXT NOT NULL DEFAULT '',
		latency_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS replication_groups (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		topology TEXT NOT NULL,
		primary_region_id TEXT NOT NULL,
		replica_region_ids TEXT NOT NULL,
		conflict_strategy TEXT NOT NULL,
		consistency TEXT NOT NULL,
		failover_mode TEXT NOT NULL,
		sla_max_lag_ms INTEGER NOT NULL,
		included_tables TEXT NOT NULL DEFAULT '[]',
		excluded_tables TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_groups_tenant ON replication_groups(tenant_id);

	CREATE TABLE IF NOT EXISTS conflict_records (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		table_name TEXT NOT NULL,
		primary_key TEXT NOT NULL,
		region_a TEXT NOT NULL,
		region_b TEXT NOT NULL,
		value_a TEXT NOT NULL,
		value_b TEXT NOT NULL,
		timestamp_a TIMESTAMP NOT NULL,
		timestamp_b TIMESTAMP NOT NULL,
		strategy TEXT NOT NULL,
		resolved_value TEXT NOT NULL,
		auto_resolved INTEGER NOT NULL,
		resolved_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conflicts_group ON conflict_records(group_id, resolved_at);

	CREATE TABLE IF NOT EXISTS failover_events (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		trigger_reason TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		old_primary_id TEXT NOT NULL,
		new_primary_id TEXT NOT NULL,
		rto_ms INTEGER NOT NULL,
		rpo_ms INTEGER NOT NULL,
		data_loss_records INTEGER NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		triggered_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_failovers_group ON failover_events(group_id, triggered_at);

	CREATE TABLE IF NOT EXISTS replication_snapshots (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		tables TEXT NOT NULL,
		checksums TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		status TEXT NOT NULL,
		consistent_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_group ON replication_snapshots(group_id, created_at);

	CREATE TABLE IF NOT EXISTS schema_changes (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		table_name TEXT NOT NULL,
		change_type TEXT NOT NULL,
		ddl TEXT NOT NULL,
		status TEXT NOT NULL,
		succeeded_regions TEXT NOT NULL DEFAULT '[]',
		failed_regions TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		applied_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_schema_changes_group ON schema_changes(group_id, created_at);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create replication schema: %w", err)
	}
	return nil
}
