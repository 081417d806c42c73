package replication

import (
	"context"
	"sync"
	"time"
)

// monitor is one group's periodic collect-then-evaluate loop. Monitors for
// different groups are fully independent; there is no global lock.
type monitor struct {
	groupID  string
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// startMonitor launches the periodic monitor for a group. Calling it for a
// group that already has a monitor is a no-op.
func (e *Engine) startMonitor(groupID string) {
	e.monitorsMu.Lock()
	defer e.monitorsMu.Unlock()

	if e.closed {
		return
	}
	if _, ok := e.monitors[groupID]; ok {
		return
	}

	m := &monitor{
		groupID:  groupID,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	e.monitors[groupID] = m

	go e.runMonitor(m)

	e.log.WithField("group_id", groupID).Info("Group monitor started")
}

// runMonitor drives ticks until the monitor is stopped. Each tick collects
// the full set of region samples before health is evaluated, so a group is
// never judged on a partial tick.
func (e *Engine) runMonitor(m *monitor) {
	defer close(m.done)

	ticker := time.NewTicker(e.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			// Re-check stop before doing work: a tick that raced the stop
			// call must not write stale state back.
			select {
			case <-m.stopChan:
				return
			default:
			}
			e.runTick(m.groupID)
		}
	}
}

// runTick executes one collect-and-evaluate cycle for a group
func (e *Engine) runTick(groupID string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.MonitorInterval)
	defer cancel()

	group, err := e.GetGroup(ctx, groupID)
	if err != nil {
		e.log.WithField("group_id", groupID).WithError(err).Warn("Monitor tick skipped: group unavailable")
		return
	}

	e.metrics.monitorTicksTotal.WithLabelValues(groupID).Inc()

	e.collectGroupMetrics(ctx, group)
	e.evaluateGroupHealth(ctx, group)
}

// StopMonitoring halts a group's monitor and cancels any pending failover
// completion timer for it. It is idempotent and does not return until no
// further ticks can fire. Stopping an unknown group is a no-op.
func (e *Engine) StopMonitoring(groupID string) {
	e.cancelPendingFailover(groupID)

	e.monitorsMu.Lock()
	m, ok := e.monitors[groupID]
	if ok {
		delete(e.monitors, groupID)
	}
	e.monitorsMu.Unlock()

	if !ok {
		return
	}

	m.stop()
	e.log.WithField("group_id", groupID).Info("Group monitor stopped")
}

func (m *monitor) stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	<-m.done
}
