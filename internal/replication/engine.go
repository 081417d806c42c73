package replication

import (
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// EngineConfig contains tunables for the replication engine
type EngineConfig struct {
	MonitorInterval   time.Duration `json:"monitor_interval"`
	CollectionTimeout time.Duration `json:"collection_timeout"`
	StalenessWindow   time.Duration `json:"staleness_window"`
	HistoryLimit      int           `json:"history_limit"`
	FailoverRTO       time.Duration `json:"failover_rto"`
	SnapshotRetention time.Duration `json:"snapshot_retention"`
	ConsistencyLag    time.Duration `json:"consistency_lag"`
}

// Engine coordinates cross-region replication for all groups: per-group
// monitoring, health evaluation, failover, conflict resolution, schema
// propagation and snapshots. Construct one per process and pass it to
// callers explicitly; there is no package-level instance.
type Engine struct {
	db        *sql.DB
	config    EngineConfig
	telemetry TelemetrySource
	ddl       DDLApplier
	hook      ConflictHook
	clock     Clock
	uploader  SnapshotUploader

	history *sampleHistory
	metrics *engineMetrics
	log     *logrus.Entry

	// latest health evaluation per group; older evaluations are discarded
	healthMu sync.RWMutex
	health   map[string]*HealthStatus

	// per-group write locks for primary/replica mutation
	locksMu    sync.Mutex
	groupLocks map[string]*sync.Mutex

	// in-flight failover completion timers per group
	failoverMu sync.Mutex
	inflight   map[string]*time.Timer

	monitorsMu sync.Mutex
	monitors   map[string]*monitor
	closed     bool
}

// NewEngine creates a replication engine backed by the given database.
// The telemetry source and DDL applier are required collaborators; the
// conflict hook and snapshot uploader are optional.
func NewEngine(db *sql.DB, config EngineConfig, telemetry TelemetrySource, ddl DDLApplier) (*Engine, error) {
	if telemetry == nil {
		return nil, fmt.Errorf("telemetry source is required")
	}
	if ddl == nil {
		return nil, fmt.Errorf("DDL applier is required")
	}

	if err := InitSchema(db); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if config.MonitorInterval == 0 {
		config.MonitorInterval = 5 * time.Second
	}
	if config.CollectionTimeout == 0 || config.CollectionTimeout >= config.MonitorInterval {
		// A slow region must never stall the monitor loop past its own tick.
		config.CollectionTimeout = config.MonitorInterval / 2
	}
	if config.StalenessWindow == 0 {
		config.StalenessWindow = 30 * time.Second
	}
	if config.HistoryLimit == 0 {
		config.HistoryLimit = 1000
	}
	if config.FailoverRTO == 0 {
		config.FailoverRTO = 30 * time.Second
	}
	if config.SnapshotRetention == 0 {
		config.SnapshotRetention = 7 * 24 * time.Hour
	}
	if config.ConsistencyLag == 0 {
		config.ConsistencyLag = 250 * time.Millisecond
	}

	return &Engine{
		db:         db,
		config:     config,
		telemetry:  telemetry,
		ddl:        ddl,
		clock:      SystemClock(),
		history:    newSampleHistory(config.HistoryLimit),
		metrics:    newEngineMetrics(),
		log:        logrus.WithField("component", "replication_engine"),
		health:     make(map[string]*HealthStatus),
		groupLocks: make(map[string]*sync.Mutex),
		inflight:   make(map[string]*time.Timer),
		monitors:   make(map[string]*monitor),
	}, nil
}

// SetConflictHook installs the external resolver used by the custom strategy
func (e *Engine) SetConflictHook(hook ConflictHook) {
	e.hook = hook
}

// SetSnapshotUploader installs the object-storage uploader for snapshot archival
func (e *Engine) SetSnapshotUploader(uploader SnapshotUploader) {
	e.uploader = uploader
}

// SetClock replaces the wall-clock source (tests use a fixed clock)
func (e *Engine) SetClock(clock Clock) {
	e.clock = clock
}

// MetricsHandler exposes the engine's Prometheus registry
func (e *Engine) MetricsHandler() http.Handler {
	return e.metrics.Handler()
}

// Close stops all group monitors and cancels pending failover completions.
// The database handle is owned by the caller and stays open.
func (e *Engine) Close() {
	e.monitorsMu.Lock()
	if e.closed {
		e.monitorsMu.Unlock()
		return
	}
	e.closed = true
	monitors := make([]*monitor, 0, len(e.monitors))
	for _, m := range e.monitors {
		monitors = append(monitors, m)
	}
	e.monitors = make(map[string]*monitor)
	e.monitorsMu.Unlock()

	for _, m := range monitors {
		m.stop()
	}

	e.failoverMu.Lock()
	for groupID, timer := range e.inflight {
		timer.Stop()
		delete(e.inflight, groupID)
	}
	e.failoverMu.Unlock()

	e.log.Info("Replication engine closed")
}

// groupLock returns the mutex guarding primary/replica mutation for a group
func (e *Engine) groupLock(groupID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	lock, ok := e.groupLocks[groupID]
	if !ok {
		lock = &sync.Mutex{}
		e.groupLocks[groupID] = lock
	}
	return lock
}
