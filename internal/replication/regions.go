package replication

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// knownRegionLatencies maps well-known region identifiers to estimated
// one-way latencies in milliseconds, measured from a mid-continent vantage.
var knownRegionLatencies = map[string]int{
	"us-east":      10,
	"us-east-1":    10,
	"us-west":      35,
	"us-west-2":    35,
	"eu-west":      80,
	"eu-west-1":    80,
	"eu-central":   90,
	"eu-central-1": 90,
	"ap-southeast": 180,
	"ap-northeast": 160,
	"ap-south":     200,
	"sa-east":      140,
}

// defaultLatencyMs is the estimate used for regions with no table entry
const defaultLatencyMs = 100

// RegisterRegion stores a region definition. Duplicate ids are rejected;
// a missing latency estimate is filled from the lookup table.
func (e *Engine) RegisterRegion(ctx context.Context, region *Region) error {
	if region.ID == "" {
		return fmt.Errorf("%w: region id is required", ErrInvalidConfig)
	}
	if region.Endpoint == "" {
		return fmt.Errorf("%w: region endpoint is required", ErrInvalidConfig)
	}

	if region.LatencyMs == 0 {
		region.LatencyMs = estimateLatency(region.ID)
	}
	region.CreatedAt = e.clock.Now()

	existing, err := e.GetRegion(ctx, region.ID)
	if err != nil && err != ErrRegionNotFound {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateRegion, region.ID)
	}

	_, err = e.db.ExecContext(ctx, `
		INSERT INTO regions (
			id, name, provider, endpoint, primary_eligible, priority,
			compliance_zone, latency_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		region.ID, region.Name, region.Provider, region.Endpoint, region.PrimaryEligible,
		region.Priority, region.ComplianceZone, region.LatencyMs, region.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to register region: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"region_id":  region.ID,
		"provider":   region.Provider,
		"latency_ms": region.LatencyMs,
	}).Info("Region registered")

	return nil
}

// GetRegion retrieves a region by id
func (e *Engine) GetRegion(ctx context.Context, regionID string) (*Region, error) {
	region := &Region{}
	err := e.db.QueryRowContext(ctx, `
		SELECT id, name, provider, endpoint, primary_eligible, priority,
		       compliance_zone, latency_ms, created_at
		FROM regions WHERE id = ?
	`, regionID).Scan(
		&region.ID, &region.Name, &region.Provider, &region.Endpoint, &region.PrimaryEligible,
		&region.Priority, &region.ComplianceZone, &region.LatencyMs, &region.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRegionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get region: %w", err)
	}
	return region, nil
}

// ListRegions returns all registered regions in registration order
func (e *Engine) ListRegions(ctx context.Context) ([]*Region, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, name, provider, endpoint, primary_eligible, priority,
		       compliance_zone, latency_ms, created_at
		FROM regions
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}
	defer rows.Close()

	var regions []*Region
	for rows.Next() {
		region := &Region{}
		err := rows.Scan(
			&region.ID, &region.Name, &region.Provider, &region.Endpoint, &region.PrimaryEligible,
			&region.Priority, &region.ComplianceZone, &region.LatencyMs, &region.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		regions = append(regions, region)
	}
	return regions, rows.Err()
}

// estimateLatency looks up the latency band for a region identifier.
// Identifiers with a known prefix inherit that prefix's estimate.
func estimateLatency(regionID string) int {
	if ms, ok := knownRegionLatencies[regionID]; ok {
		return ms
	}
	for prefix, ms := range knownRegionLatencies {
		if strings.HasPrefix(regionID, prefix) {
			return ms
		}
	}
	return defaultLatencyMs
}
