package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TelemetrySource provides per-region replication telemetry. A failure or
// timeout must surface as an error so it can be told apart from a region that
// legitimately reports zero lag.
type TelemetrySource interface {
	Sample(ctx context.Context, groupID string, region *Region) (*TelemetrySample, error)
}

// DDLApplier applies one DDL statement to a single region
type DDLApplier interface {
	Apply(ctx context.Context, region *Region, ddl string) error
}

// ConflictHook resolves a conflict for groups using the custom strategy.
// When no hook is configured the resolver falls back to last-write-wins.
type ConflictHook interface {
	Resolve(ctx context.Context, valueA, valueB json.RawMessage, tsA, tsB time.Time) (json.RawMessage, error)
}

// Clock abstracts wall-clock time so monitor and expiry behavior is testable
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now
func SystemClock() Clock { return systemClock{} }

// HTTPTelemetrySource polls each region's data-shipping endpoint for
// replication telemetry over HTTP.
type HTTPTelemetrySource struct {
	client *http.Client
}

// NewHTTPTelemetrySource creates a telemetry source with the given probe timeout
func NewHTTPTelemetrySource(timeout time.Duration) *HTTPTelemetrySource {
	return &HTTPTelemetrySource{
		client: &http.Client{Timeout: timeout},
	}
}

// Sample fetches one telemetry sample from the region endpoint
func (s *HTTPTelemetrySource) Sample(ctx context.Context, groupID string, region *Region) (*TelemetrySample, error) {
	url := fmt.Sprintf("%s/internal/telemetry?group=%s", strings.TrimRight(region.Endpoint, "/"), groupID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telemetry probe failed for region %s: %w", region.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telemetry probe for region %s returned status %d", region.ID, resp.StatusCode)
	}

	var sample TelemetrySample
	if err := json.NewDecoder(resp.Body).Decode(&sample); err != nil {
		return nil, fmt.Errorf("failed to decode telemetry sample: %w", err)
	}

	return &sample, nil
}

// HTTPDDLApplier ships DDL statements to each region's schema endpoint
type HTTPDDLApplier struct {
	client *http.Client
}

// NewHTTPDDLApplier creates a DDL applier with the given request timeout
func NewHTTPDDLApplier(timeout time.Duration) *HTTPDDLApplier {
	return &HTTPDDLApplier{
		client: &http.Client{Timeout: timeout},
	}
}

// Apply posts the DDL statement to the region and treats any non-2xx
// response as a failure.
func (a *HTTPDDLApplier) Apply(ctx context.Context, region *Region, ddl string) error {
	url := fmt.Sprintf("%s/internal/ddl", strings.TrimRight(region.Endpoint, "/"))

	body, err := json.Marshal(map[string]string{"ddl": ddl})
	if err != nil {
		return fmt.Errorf("failed to marshal DDL request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("failed to build DDL request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("DDL request failed for region %s: %w", region.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("DDL application on region %s returned status %d", region.ID, resp.StatusCode)
	}

	return nil
}
