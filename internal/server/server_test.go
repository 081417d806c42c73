package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georep/georep/internal/config"
	"github.com/georep/georep/internal/replication"
)

func setupTestServer(t *testing.T) *Server {
	cfg := &config.Config{
		Listen:   ":0",
		DataDir:  t.TempDir(),
		LogLevel: "error",
		Monitor: config.MonitorConfig{
			IntervalSec:        60,
			CollectionTimeout:  2,
			StalenessWindowSec: 30,
			HistoryLimit:       100,
		},
		Failover: config.FailoverConfig{RTOMs: 30000},
		Snapshot: config.SnapshotConfig{RetentionDays: 7, ConsistencyLagMs: 250},
		Metrics:  config.MetricsConfig{Enable: true, Path: "/metrics"},
	}

	server, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		server.engine.Close()
		server.db.Close()
	})
	return server
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()

	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success, "expected success, got error: %s", resp.Error)
	if out != nil {
		require.NoError(t, json.Unmarshal(resp.Data, out))
	}
}

func registerRegionViaAPI(t *testing.T, s *Server, id string) {
	t.Helper()
	rec := doRequest(t, s, http.MethodPost, "/api/v1/regions", replication.Region{
		ID:              id,
		Name:            id,
		Provider:        "aws",
		Endpoint:        "http://" + id + ".internal:9000",
		PrimaryEligible: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func createGroupViaAPI(t *testing.T, s *Server, primary string, replicas []string) replication.ReplicationGroup {
	t.Helper()
	rec := doRequest(t, s, http.MethodPost, "/api/v1/groups", replication.ReplicationGroup{
		TenantID:         "tenant-1",
		Name:             "orders",
		Topology:         replication.TopologyPrimaryReplica,
		PrimaryRegionID:  primary,
		ReplicaRegionIDs: replicas,
		ConflictStrategy: replication.StrategyLastWriteWins,
		FailoverMode:     replication.FailoverManual,
		SLAMaxLagMs:      200,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var group replication.ReplicationGroup
	decodeData(t, rec, &group)
	return group
}

func TestHealthEndpoint(t *testing.T) {
	server := setupTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var data map[string]interface{}
	decodeData(t, rec, &data)
	assert.Equal(t, "healthy", data["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	server := setupTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSystemEndpoint(t *testing.T) {
	server := setupTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/system", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var info SystemInfo
	decodeData(t, rec, &info)
	assert.Greater(t, info.Goroutines, 0)
	assert.NotEmpty(t, info.GoVersion)
}

func TestRegionEndpoints(t *testing.T) {
	server := setupTestServer(t)

	registerRegionViaAPI(t, server, "us-east-1")

	rec := doRequest(t, server, http.MethodGet, "/api/v1/regions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var regions []replication.Region
	decodeData(t, rec, &regions)
	require.Len(t, regions, 1)
	assert.Equal(t, "us-east-1", regions[0].ID)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/regions/us-east-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/regions/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Duplicate registration maps to conflict.
	rec = doRequest(t, server, http.MethodPost, "/api/v1/regions", replication.Region{
		ID:       "us-east-1",
		Endpoint: "http://other.internal:9000",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGroupEndpoints(t *testing.T) {
	server := setupTestServer(t)

	registerRegionViaAPI(t, server, "us-east-1")
	registerRegionViaAPI(t, server, "eu-west-1")
	group := createGroupViaAPI(t, server, "us-east-1", []string{"eu-west-1"})
	require.NotEmpty(t, group.ID)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/groups?tenant=tenant-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var groups []replication.ReplicationGroup
	decodeData(t, rec, &groups)
	assert.Len(t, groups, 1)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/groups?tenant=other", nil)
	decodeData(t, rec, &groups)
	assert.Empty(t, groups)

	rec = doRequest(t, server, http.MethodPatch, "/api/v1/groups/"+group.ID, map[string]interface{}{
		"sla_max_lag_ms": 500,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	var updated replication.ReplicationGroup
	decodeData(t, rec, &updated)
	assert.Equal(t, int64(500), updated.SLAMaxLagMs)

	rec = doRequest(t, server, http.MethodDelete, "/api/v1/groups/"+group.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/groups/"+group.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateGroup_InvalidBody(t *testing.T) {
	server := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/groups", bytes.NewReader([]byte("not-json")))
	rec := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGroupHealthEndpoint(t *testing.T) {
	server := setupTestServer(t)

	registerRegionViaAPI(t, server, "us-east-1")
	group := createGroupViaAPI(t, server, "us-east-1", nil)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/groups/"+group.ID+"/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var status replication.HealthStatus
	decodeData(t, rec, &status)
	assert.Equal(t, group.ID, status.GroupID)
	// No telemetry has been collected, so the region reads offline.
	assert.Equal(t, replication.StatusOffline, status.OverallStatus)
}

func TestGroupMetricsEndpoint_RequiresRegion(t *testing.T) {
	server := setupTestServer(t)

	registerRegionViaAPI(t, server, "us-east-1")
	group := createGroupViaAPI(t, server, "us-east-1", nil)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/groups/"+group.ID+"/metrics", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/groups/"+group.ID+"/metrics?region=us-east-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFailoverEndpoint_NoCandidate(t *testing.T) {
	server := setupTestServer(t)

	registerRegionViaAPI(t, server, "us-east-1")
	registerRegionViaAPI(t, server, "eu-west-1")
	group := createGroupViaAPI(t, server, "us-east-1", []string{"eu-west-1"})

	// No replica telemetry exists, so no candidate can be promoted.
	rec := doRequest(t, server, http.MethodPost, "/api/v1/groups/"+group.ID+"/failover", map[string]string{
		"trigger": "manual",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/groups/"+group.ID+"/failovers", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConflictEndpoints(t *testing.T) {
	server := setupTestServer(t)

	registerRegionViaAPI(t, server, "us-east-1")
	registerRegionViaAPI(t, server, "eu-west-1")
	group := createGroupViaAPI(t, server, "us-east-1", []string{"eu-west-1"})

	rec := doRequest(t, server, http.MethodPost, "/api/v1/groups/"+group.ID+"/conflicts", map[string]interface{}{
		"table_name":  "orders",
		"primary_key": "order-1",
		"region_a":    "us-east-1",
		"region_b":    "eu-west-1",
		"value_a":     map[string]string{"status": "shipped"},
		"value_b":     map[string]string{"status": "cancelled"},
		"timestamp_a": "2025-06-01T12:00:01Z",
		"timestamp_b": "2025-06-01T12:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var record replication.ConflictRecord
	decodeData(t, rec, &record)
	assert.JSONEq(t, `{"status":"shipped"}`, string(record.ResolvedValue))
	assert.True(t, record.AutoResolved)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/groups/"+group.ID+"/conflicts", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var records []replication.ConflictRecord
	decodeData(t, rec, &records)
	assert.Len(t, records, 1)
}

func TestSnapshotEndpoints(t *testing.T) {
	server := setupTestServer(t)

	registerRegionViaAPI(t, server, "us-east-1")
	group := createGroupViaAPI(t, server, "us-east-1", nil)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/groups/"+group.ID+"/snapshots", map[string]interface{}{
		"tables": []string{"orders", "customers"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var snapshot replication.ReplicationSnapshot
	decodeData(t, rec, &snapshot)
	assert.Equal(t, replication.SnapshotReady, snapshot.Status)
	assert.Len(t, snapshot.Checksums, 2)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/snapshots/"+snapshot.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/groups/"+group.ID+"/snapshots", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/snapshots/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Archival is not configured in tests.
	rec = doRequest(t, server, http.MethodPost, "/api/v1/snapshots/"+snapshot.ID+"/archive", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStopMonitoringEndpoint(t *testing.T) {
	server := setupTestServer(t)

	registerRegionViaAPI(t, server, "us-east-1")
	group := createGroupViaAPI(t, server, "us-east-1", nil)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/groups/"+group.ID+"/stop-monitoring", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Idempotent through the API as well.
	rec = doRequest(t, server, http.MethodPost, "/api/v1/groups/"+group.ID+"/stop-monitoring", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/v1/groups/nowhere/stop-monitoring", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchemaChangeEndpoints(t *testing.T) {
	server := setupTestServer(t)

	registerRegionViaAPI(t, server, "us-east-1")
	group := createGroupViaAPI(t, server, "us-east-1", nil)

	// The region endpoint is unreachable, so propagation fails but the
	// change is still recorded with its per-region outcome.
	rec := doRequest(t, server, http.MethodPost, "/api/v1/groups/"+group.ID+"/schema-changes", map[string]interface{}{
		"table_name":  "orders",
		"change_type": "add_column",
		"ddl":         "ALTER TABLE orders ADD COLUMN shipped_at TIMESTAMP",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var change replication.SchemaChange
	decodeData(t, rec, &change)
	assert.Equal(t, replication.SchemaFailed, change.Status)
	assert.Equal(t, []string{"us-east-1"}, change.FailedRegions)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/groups/"+group.ID+"/schema-changes", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var changes []replication.SchemaChange
	decodeData(t, rec, &changes)
	assert.Len(t, changes, 1)
}
