package replication

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGroup(t *testing.T) {
	engine, _, _ := setupTestEngine(t)
	ctx := context.Background()

	registerTestRegion(t, engine, "us-east-1", true)
	registerTestRegion(t, engine, "eu-west-1", true)

	group := createTestGroup(t, engine, "us-east-1", []string{"eu-west-1"}, 200)
	require.NotEmpty(t, group.ID)
	assert.Equal(t, StatusHealthy, group.Status)

	got, err := engine.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", got.PrimaryRegionID)
	assert.Equal(t, []string{"eu-west-1"}, got.ReplicaRegionIDs)
	assert.Equal(t, StrategyLastWriteWins, got.ConflictStrategy)
	assert.Equal(t, int64(200), got.SLAMaxLagMs)
}

func TestCreateGroup_Validation(t *testing.T) {
	engine, _, _ := setupTestEngine(t)
	ctx := context.Background()

	registerTestRegion(t, engine, "us-east-1", true)
	registerTestRegion(t, engine, "eu-west-1", true)
	registerTestRegion(t, engine, "ap-south-1", false)

	base := func() *ReplicationGroup {
		return &ReplicationGroup{
			TenantID:         "tenant-1",
			Name:             "orders",
			Topology:         TopologyPrimaryReplica,
			PrimaryRegionID:  "us-east-1",
			ReplicaRegionIDs: []string{"eu-west-1"},
			ConflictStrategy: StrategyLastWriteWins,
			FailoverMode:     FailoverManual,
			SLAMaxLagMs:      200,
		}
	}

	cases := []struct {
		name   string
		mutate func(*ReplicationGroup)
	}{
		{"missing primary", func(g *ReplicationGroup) { g.PrimaryRegionID = "" }},
		{"non-positive sla", func(g *ReplicationGroup) { g.SLAMaxLagMs = 0 }},
		{"unknown primary", func(g *ReplicationGroup) { g.PrimaryRegionID = "nowhere" }},
		{"primary not eligible", func(g *ReplicationGroup) { g.PrimaryRegionID = "ap-south-1" }},
		{"primary listed as replica", func(g *ReplicationGroup) { g.ReplicaRegionIDs = []string{"us-east-1"} }},
		{"duplicate replica", func(g *ReplicationGroup) { g.ReplicaRegionIDs = []string{"eu-west-1", "eu-west-1"} }},
		{"unknown replica", func(g *ReplicationGroup) { g.ReplicaRegionIDs = []string{"nowhere"} }},
		{"unknown topology", func(g *ReplicationGroup) { g.Topology = "star" }},
		{"unknown conflict strategy", func(g *ReplicationGroup) { g.ConflictStrategy = "newest_wins" }},
		{"unknown consistency level", func(g *ReplicationGroup) { g.Consistency = "linearizable" }},
		{"unknown failover mode", func(g *ReplicationGroup) { g.FailoverMode = "auto" }},
		{"multi_master without strategy", func(g *ReplicationGroup) {
			g.Topology = TopologyMultiMaster
			g.ConflictStrategy = StrategyNone
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			group := base()
			tc.mutate(group)
			err := engine.CreateGroup(ctx, group)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestCreateGroup_MultiMasterWithStrategy(t *testing.T) {
	engine, _, _ := setupTestEngine(t)

	registerTestRegion(t, engine, "us-east-1", true)
	registerTestRegion(t, engine, "eu-west-1", true)

	group := &ReplicationGroup{
		TenantID:         "tenant-1",
		Name:             "carts",
		Topology:         TopologyMultiMaster,
		PrimaryRegionID:  "us-east-1",
		ReplicaRegionIDs: []string{"eu-west-1"},
		ConflictStrategy: StrategyCRDT,
		FailoverMode:     FailoverManual,
		SLAMaxLagMs:      150,
	}
	require.NoError(t, engine.CreateGroup(context.Background(), group))
}

func TestListGroups_TenantFilter(t *testing.T) {
	engine, _, _ := setupTestEngine(t)
	ctx := context.Background()

	registerTestRegion(t, engine, "us-east-1", true)

	for _, tenant := range []string{"tenant-1", "tenant-1", "tenant-2"} {
		group := &ReplicationGroup{
			TenantID:         tenant,
			Name:             "orders",
			Topology:         TopologyPrimaryReplica,
			PrimaryRegionID:  "us-east-1",
			ConflictStrategy: StrategyLastWriteWins,
			FailoverMode:     FailoverManual,
			SLAMaxLagMs:      200,
		}
		require.NoError(t, engine.CreateGroup(ctx, group))
	}

	all, err := engine.ListGroups(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	filtered, err := engine.ListGroups(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, filtered, 2)
	for _, group := range filtered {
		assert.Equal(t, "tenant-1", group.TenantID)
	}
}

func TestUpdateGroup(t *testing.T) {
	engine, _, _ := setupTestEngine(t)
	ctx := context.Background()

	registerTestRegion(t, engine, "us-east-1", true)
	registerTestRegion(t, engine, "eu-west-1", true)
	group := createTestGroup(t, engine, "us-east-1", []string{"eu-west-1"}, 200)

	newSLA := int64(500)
	newMode := FailoverSemiAutomatic
	updated, err := engine.UpdateGroup(ctx, group.ID, &GroupUpdate{
		SLAMaxLagMs:  &newSLA,
		FailoverMode: &newMode,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(500), updated.SLAMaxLagMs)
	assert.Equal(t, FailoverSemiAutomatic, updated.FailoverMode)
	// Untouched fields survive.
	assert.Equal(t, StrategyLastWriteWins, updated.ConflictStrategy)

	got, err := engine.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.SLAMaxLagMs)
	assert.Equal(t, FailoverSemiAutomatic, got.FailoverMode)
}

func TestUpdateGroup_Validation(t *testing.T) {
	engine, _, _ := setupTestEngine(t)
	ctx := context.Background()

	registerTestRegion(t, engine, "us-east-1", true)
	registerTestRegion(t, engine, "eu-west-1", true)

	group := &ReplicationGroup{
		TenantID:         "tenant-1",
		Name:             "carts",
		Topology:         TopologyMultiMaster,
		PrimaryRegionID:  "us-east-1",
		ReplicaRegionIDs: []string{"eu-west-1"},
		ConflictStrategy: StrategyCRDT,
		FailoverMode:     FailoverManual,
		SLAMaxLagMs:      200,
	}
	require.NoError(t, engine.CreateGroup(ctx, group))

	badSLA := int64(-1)
	_, err := engine.UpdateGroup(ctx, group.ID, &GroupUpdate{SLAMaxLagMs: &badSLA})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	none := StrategyNone
	_, err = engine.UpdateGroup(ctx, group.ID, &GroupUpdate{ConflictStrategy: &none})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	badStrategy := ConflictStrategy("newest_wins")
	_, err = engine.UpdateGroup(ctx, group.ID, &GroupUpdate{ConflictStrategy: &badStrategy})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	badConsistency := ConsistencyLevel("linearizable")
	_, err = engine.UpdateGroup(ctx, group.ID, &GroupUpdate{Consistency: &badConsistency})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	badMode := FailoverMode("auto")
	_, err = engine.UpdateGroup(ctx, group.ID, &GroupUpdate{FailoverMode: &badMode})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	// Rejected updates leave the stored group untouched.
	got, err := engine.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, StrategyCRDT, got.ConflictStrategy)

	_, err = engine.UpdateGroup(ctx, "nowhere", &GroupUpdate{})
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestDeleteGroup(t *testing.T) {
	engine, telemetry, _ := setupTestEngine(t)
	ctx := context.Background()

	registerTestRegion(t, engine, "us-east-1", true)
	registerTestRegion(t, engine, "eu-west-1", true)
	group := createTestGroup(t, engine, "us-east-1", []string{"eu-west-1"}, 200)

	telemetry.SetSample(group.ID, "eu-west-1", &TelemetrySample{LagMs: 50})
	engine.collectGroupMetrics(ctx, group)
	require.NotNil(t, engine.history.Latest(group.ID, "eu-west-1"))

	require.NoError(t, engine.DeleteGroup(ctx, group.ID))

	_, err := engine.GetGroup(ctx, group.ID)
	assert.ErrorIs(t, err, ErrGroupNotFound)
	assert.Nil(t, engine.history.Latest(group.ID, "eu-west-1"))

	assert.ErrorIs(t, engine.DeleteGroup(ctx, group.ID), ErrGroupNotFound)
}
