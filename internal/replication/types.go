package replication

import (
	"encoding/json"
	"time"
)

// Topology defines how writes flow between the regions of a group
type Topology string

const (
	TopologyPrimaryReplica Topology = "primary_replica"
	TopologyMultiMaster    Topology = "multi_master"
	TopologyRing           Topology = "ring"
	TopologyHubSpoke       Topology = "hub_spoke"
	TopologyMesh           Topology = "mesh"
)

// ConflictStrategy defines how competing writes are reconciled
type ConflictStrategy string

const (
	StrategyNone           ConflictStrategy = "none"
	StrategyLastWriteWins  ConflictStrategy = "last_write_wins"
	StrategyFirstWriteWins ConflictStrategy = "first_write_wins"
	StrategyVersionVector  ConflictStrategy = "version_vector"
	StrategyCRDT           ConflictStrategy = "crdt"
	StrategyCustom         ConflictStrategy = "custom"
)

// Known reports whether the strategy is one of the supported values.
// The empty string is accepted and resolved as last_write_wins.
func (s ConflictStrategy) Known() bool {
	switch s {
	case "", StrategyNone, StrategyLastWriteWins, StrategyFirstWriteWins,
		StrategyVersionVector, StrategyCRDT, StrategyCustom:
		return true
	}
	return false
}

// ConsistencyLevel is the staleness guarantee a group advertises to readers
type ConsistencyLevel string

const (
	ConsistencyEventual         ConsistencyLevel = "eventual"
	ConsistencyBoundedStaleness ConsistencyLevel = "bounded_staleness"
	ConsistencySession          ConsistencyLevel = "session"
	ConsistencyStrong           ConsistencyLevel = "strong"
)

// Known reports whether the level is one of the supported values.
// The empty string is accepted for callers that rely on defaults.
func (c ConsistencyLevel) Known() bool {
	switch c {
	case "", ConsistencyEventual, ConsistencyBoundedStaleness, ConsistencySession, ConsistencyStrong:
		return true
	}
	return false
}

// FailoverMode controls whether the engine may promote a replica on its own
type FailoverMode string

const (
	FailoverAutomatic     FailoverMode = "automatic"
	FailoverManual        FailoverMode = "manual"
	FailoverSemiAutomatic FailoverMode = "semi_automatic"
)

// Known reports whether the mode is one of the supported values.
// The empty string is accepted for callers that rely on defaults.
func (m FailoverMode) Known() bool {
	switch m {
	case "", FailoverAutomatic, FailoverManual, FailoverSemiAutomatic:
		return true
	}
	return false
}

// FailoverTrigger records why a failover was started
type FailoverTrigger string

const (
	TriggerHealthCheck      FailoverTrigger = "health_check"
	TriggerManual           FailoverTrigger = "manual"
	TriggerScheduled        FailoverTrigger = "scheduled"
	TriggerNetworkPartition FailoverTrigger = "network_partition"
)

// Region / group health status constants
const (
	StatusHealthy  = "healthy"
	StatusLagging  = "lagging"
	StatusDegraded = "degraded"
	StatusOffline  = "offline"
)

// Snapshot lifecycle status constants
const (
	SnapshotCreating = "creating"
	SnapshotReady    = "ready"
	SnapshotExpired  = "expired"
)

// Schema change lifecycle status constants
const (
	SchemaPending     = "pending"
	SchemaPropagating = "propagating"
	SchemaApplied     = "applied"
	SchemaFailed      = "failed"
)

// SchemaChangeType enumerates supported DDL operations
type SchemaChangeType string

const (
	ChangeAddColumn    SchemaChangeType = "add_column"
	ChangeDropColumn   SchemaChangeType = "drop_column"
	ChangeModifyColumn SchemaChangeType = "modify_column"
	ChangeAddIndex     SchemaChangeType = "add_index"
	ChangeDropIndex    SchemaChangeType = "drop_index"
	ChangeCreateTable  SchemaChangeType = "create_table"
	ChangeDropTable    SchemaChangeType = "drop_table"
)

// Region is a geographic endpoint eligible to hold a copy of a dataset.
// Regions are registered once and treated as immutable reference data.
type Region struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Provider        string    `json:"provider"`
	Endpoint        string    `json:"endpoint"`
	PrimaryEligible bool      `json:"primary_eligible"`
	Priority        int       `json:"priority"`
	ComplianceZone  string    `json:"compliance_zone,omitempty"`
	LatencyMs       int       `json:"latency_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// ReplicationGroup maps a logical dataset to a primary region and its replicas.
// Status is derived by health evaluation and never written by callers.
type ReplicationGroup struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenant_id"`
	Name             string           `json:"name"`
	Topology         Topology         `json:"topology"`
	PrimaryRegionID  string           `json:"primary_region_id"`
	ReplicaRegionIDs []string         `json:"replica_region_ids"`
	ConflictStrategy ConflictStrategy `json:"conflict_strategy"`
	Consistency      ConsistencyLevel `json:"consistency"`
	FailoverMode     FailoverMode     `json:"failover_mode"`
	SLAMaxLagMs      int64            `json:"sla_max_lag_ms"`
	IncludedTables   []string         `json:"included_tables,omitempty"`
	ExcludedTables   []string         `json:"excluded_tables,omitempty"`
	Status           string           `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// GroupUpdate carries the mutable subset of a group's configuration.
// Nil fields are left unchanged.
type GroupUpdate struct {
	ConflictStrategy *ConflictStrategy `json:"conflict_strategy,omitempty"`
	Consistency      *ConsistencyLevel `json:"consistency,omitempty"`
	FailoverMode     *FailoverMode     `json:"failover_mode,omitempty"`
	SLAMaxLagMs      *int64            `json:"sla_max_lag_ms,omitempty"`
	IncludedTables   *[]string         `json:"included_tables,omitempty"`
	ExcludedTables   *[]string         `json:"excluded_tables,omitempty"`
}

// ReplicationMetrics is one immutable telemetry sample for a (group, region) pair
type ReplicationMetrics struct {
	GroupID         string    `json:"group_id"`
	RegionID        string    `json:"region_id"`
	LagMs           int64     `json:"lag_ms"`
	WritesPerSec    float64   `json:"writes_per_sec"`
	ReadsPerSec     float64   `json:"reads_per_sec"`
	BytesPerSec     float64   `json:"bytes_per_sec"`
	ConflictsPerMin float64   `json:"conflicts_per_min"`
	ErrorRate       float64   `json:"error_rate"`
	PendingOps      int64     `json:"pending_ops"`
	SampledAt       time.Time `json:"sampled_at"`
}

// TelemetrySample is what the external per-region telemetry source returns.
// A failed or timed-out probe yields an error, never a zero-valued sample.
type TelemetrySample struct {
	LagMs           int64   `json:"lag_ms"`
	WritesPerSec    float64 `json:"writes_per_sec"`
	ReadsPerSec     float64 `json:"reads_per_sec"`
	BytesPerSec     float64 `json:"bytes_per_sec"`
	ConflictsPerMin float64 `json:"conflicts_per_min"`
	ErrorRate       float64 `json:"error_rate"`
	PendingOps      int64   `json:"pending_ops"`
}

// ConflictRecord is the immutable audit record of one resolved write conflict
type ConflictRecord struct {
	ID            string           `json:"id"`
	GroupID       string           `json:"group_id"`
	TableName     string           `json:"table_name"`
	PrimaryKey    string           `json:"primary_key"`
	RegionA       string           `json:"region_a"`
	RegionB       string           `json:"region_b"`
	ValueA        json.RawMessage  `json:"value_a"`
	ValueB        json.RawMessage  `json:"value_b"`
	TimestampA    time.Time        `json:"timestamp_a"`
	TimestampB    time.Time        `json:"timestamp_b"`
	Strategy      ConflictStrategy `json:"strategy"`
	ResolvedValue json.RawMessage  `json:"resolved_value"`
	AutoResolved  bool             `json:"auto_resolved"`
	ResolvedAt    time.Time        `json:"resolved_at"`
}

// ConflictInput describes two competing region-local writes to the same key
type ConflictInput struct {
	GroupID    string          `json:"group_id"`
	TableName  string          `json:"table_name"`
	PrimaryKey string          `json:"primary_key"`
	RegionA    string          `json:"region_a"`
	RegionB    string          `json:"region_b"`
	ValueA     json.RawMessage `json:"value_a"`
	ValueB     json.RawMessage `json:"value_b"`
	TimestampA time.Time       `json:"timestamp_a"`
	TimestampB time.Time       `json:"timestamp_b"`
}

// FailoverEvent tracks one primary promotion from trigger to completion
type FailoverEvent struct {
	ID              string          `json:"id"`
	GroupID         string          `json:"group_id"`
	Trigger         FailoverTrigger `json:"trigger"`
	Notes           string          `json:"notes,omitempty"`
	OldPrimaryID    string          `json:"old_primary_id"`
	NewPrimaryID    string          `json:"new_primary_id"`
	RTOMs           int64           `json:"rto_ms"`
	RPOMs           int64           `json:"rpo_ms"`
	DataLossRecords int64           `json:"data_loss_records"`
	Completed       bool            `json:"completed"`
	TriggeredAt     time.Time       `json:"triggered_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// ReplicationSnapshot is a point-in-time consistent capture of a table set
type ReplicationSnapshot struct {
	ID           string            `json:"id"`
	GroupID      string            `json:"group_id"`
	Tables       []string          `json:"tables"`
	Checksums    map[string]string `json:"checksums"`
	SizeBytes    int64             `json:"size_bytes"`
	Status       string            `json:"status"`
	ConsistentAt time.Time         `json:"consistent_at"`
	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

// SchemaChange is one DDL statement and its per-region propagation outcome
type SchemaChange struct {
	ID               string           `json:"id"`
	GroupID          string           `json:"group_id"`
	TableName        string           `json:"table_name"`
	ChangeType       SchemaChangeType `json:"change_type"`
	DDL              string           `json:"ddl"`
	Status           string           `json:"status"`
	SucceededRegions []string         `json:"succeeded_regions"`
	FailedRegions    []string         `json:"failed_regions"`
	CreatedAt        time.Time        `json:"created_at"`
	AppliedAt        *time.Time       `json:"applied_at,omitempty"`
}

// RegionHealth is the per-region slice of a health evaluation
type RegionHealth struct {
	RegionID string     `json:"region_id"`
	Status   string     `json:"status"`
	LagMs    int64      `json:"lag_ms"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// HealthStatus is the latest health evaluation for a group. Only the most
// recent evaluation is retained; it is recomputed on every monitor tick.
//
// SplitBrainDetected is reserved: quorum-based detection is not implemented
// yet and the field is always false.
type HealthStatus struct {
	GroupID            string         `json:"group_id"`
	OverallStatus      string         `json:"overall_status"`
	Regions            []RegionHealth `json:"regions"`
	SLABreached        bool           `json:"sla_breached"`
	SplitBrainDetected bool           `json:"split_brain_detected"`
	OpenConflicts      int64          `json:"open_conflicts"`
	PendingFailover    bool           `json:"pending_failover"`
	EvaluatedAt        time.Time      `json:"evaluated_at"`
}
