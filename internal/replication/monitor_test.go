package replication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_CollectsAndEvaluates(t *testing.T) {
	db := setupTestDB(t)
	telemetry := NewMockTelemetrySource()
	engine, err := NewEngine(db, EngineConfig{MonitorInterval: 20 * time.Millisecond}, telemetry, NewMockDDLApplier())
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	ctx := context.Background()
	registerTestRegion(t, engine, "us-east-1", true)
	registerTestRegion(t, engine, "eu-west-1", true)

	group := createTestGroup(t, engine, "us-east-1", []string{"eu-west-1"}, 200)
	telemetry.SetSample(group.ID, "eu-west-1", &TelemetrySample{LagMs: 300})

	assert.Eventually(t, func() bool {
		status, err := engine.GetGroupHealth(ctx, group.ID)
		if err != nil {
			return false
		}
		return status.OverallStatus == StatusLagging && status.SLABreached
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopMonitoring_NoTicksAfterReturn(t *testing.T) {
	db := setupTestDB(t)
	telemetry := NewMockTelemetrySource()
	engine, err := NewEngine(db, EngineConfig{MonitorInterval: 10 * time.Millisecond}, telemetry, NewMockDDLApplier())
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	registerTestRegion(t, engine, "us-east-1", true)
	group := createTestGroup(t, engine, "us-east-1", nil, 200)

	assert.Eventually(t, func() bool {
		return engine.history.Latest(group.ID, "us-east-1") != nil
	}, 2*time.Second, 5*time.Millisecond)

	engine.StopMonitoring(group.ID)

	run := len(engine.history.Run(group.ID, "us-east-1"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, run, len(engine.history.Run(group.ID, "us-east-1")))
}

func TestStopMonitoring_CancelsPendingFailover(t *testing.T) {
	db := setupTestDB(t)
	telemetry := NewMockTelemetrySource()
	engine, err := NewEngine(db, EngineConfig{FailoverRTO: 50 * time.Millisecond}, telemetry, NewMockDDLApplier())
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	ctx := context.Background()
	registerTestRegion(t, engine, "us-east-1", true)
	registerTestRegion(t, engine, "eu-west-1", true)
	group := createTestGroup(t, engine, "us-east-1", []string{"eu-west-1"}, 200)

	telemetry.SetSample(group.ID, "eu-west-1", &TelemetrySample{LagMs: 10})
	engine.collectGroupMetrics(ctx, group)

	_, err = engine.TriggerFailover(ctx, group.ID, TriggerManual, "")
	require.NoError(t, err)

	engine.StopMonitoring(group.ID)

	// With the completion timer cancelled, the event stays incomplete well
	// past the RTO interval.
	time.Sleep(150 * time.Millisecond)
	events, err := engine.GetFailoverHistory(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Completed)
	assert.Nil(t, events[0].CompletedAt)

	engine.failoverMu.Lock()
	_, pending := engine.inflight[group.ID]
	engine.failoverMu.Unlock()
	assert.False(t, pending)
}

func TestStopMonitoring_Idempotent(t *testing.T) {
	engine, _, _ := setupTestEngine(t)

	registerTestRegion(t, engine, "us-east-1", true)
	group := createTestGroup(t, engine, "us-east-1", nil, 200)

	engine.StopMonitoring(group.ID)
	engine.StopMonitoring(group.ID)
	engine.StopMonitoring("never-monitored")
}

func TestStartMonitor_DuplicateIsNoOp(t *testing.T) {
	engine, _, _ := setupTestEngine(t)

	registerTestRegion(t, engine, "us-east-1", true)
	group := createTestGroup(t, engine, "us-east-1", nil, 200)

	engine.monitorsMu.Lock()
	first := engine.monitors[group.ID]
	engine.monitorsMu.Unlock()
	require.NotNil(t, first)

	engine.startMonitor(group.ID)

	engine.monitorsMu.Lock()
	second := engine.monitors[group.ID]
	engine.monitorsMu.Unlock()
	assert.Same(t, first, second)
}
