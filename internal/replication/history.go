package replication

import "sync"

// sampleHistory keeps a bounded, time-ordered run of telemetry samples per
// (group, region) pair. Eviction is FIFO on a fixed cap, not time based, so
// memory stays bounded deterministically.
type sampleHistory struct {
	mu      sync.RWMutex
	limit   int
	samples map[historyKey][]*ReplicationMetrics
}

type historyKey struct {
	groupID  string
	regionID string
}

func newSampleHistory(limit int) *sampleHistory {
	return &sampleHistory{
		limit:   limit,
		samples: make(map[historyKey][]*ReplicationMetrics),
	}
}

// Append adds one sample, evicting the oldest entry once the cap is reached
func (h *sampleHistory) Append(sample *ReplicationMetrics) {
	key := historyKey{groupID: sample.GroupID, regionID: sample.RegionID}

	h.mu.Lock()
	defer h.mu.Unlock()

	run := h.samples[key]
	if len(run) >= h.limit {
		run = run[1:]
	}
	h.samples[key] = append(run, sample)
}

// Latest returns the most recent sample for the pair, or nil when none exists
func (h *sampleHistory) Latest(groupID, regionID string) *ReplicationMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	run := h.samples[historyKey{groupID: groupID, regionID: regionID}]
	if len(run) == 0 {
		return nil
	}
	return run[len(run)-1]
}

// Run returns a copy of the sample run for the pair, oldest first
func (h *sampleHistory) Run(groupID, regionID string) []*ReplicationMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	run := h.samples[historyKey{groupID: groupID, regionID: regionID}]
	out := make([]*ReplicationMetrics, len(run))
	copy(out, run)
	return out
}

// Forget drops all sample runs belonging to a group
func (h *sampleHistory) Forget(groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key := range h.samples {
		if key.groupID == groupID {
			delete(h.samples, key)
		}
	}
}
