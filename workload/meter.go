package workload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gridmesh/gridmesh/ledger"
	"github.com/gridmesh/gridmesh/runtime"
	"github.com/gridmesh/gridmesh/util/errors"
	"github.com/gridmesh/gridmesh/util/logger"
	"github.com/gridmesh/gridmesh/util/metrics"
)

const (
	// DefaultMeterInterval is how often running workloads are sampled.
	DefaultMeterInterval = 15 * time.Second

	// DefaultRemovalDelay keeps a finished container around for late log
	// reads before it is removed.
	DefaultRemovalDelay = 2 * time.Minute

	// maxConsecutiveFailures drops a workload from tracking after this many
	// metering failures in a row, so drift between runtime state and the
	// in-memory table self-heals instead of being retried forever.
	maxConsecutiveFailures = 3
)

// Meter is the periodic metering loop: it samples each running workload's
// runtime statistics, converts the deltas into billable usage on the
// ledger, and detects workload termination.
type Meter struct {
	manager *Manager
	ledger  *ledger.Ledger
	rt      runtime.Runtime
	nodeID  string

	interval     time.Duration
	removalDelay time.Duration
	logger       *logger.Logger

	mu       sync.Mutex
	last     map[string]runtime.Stats // previous sample per workload
	failures map[string]int           // consecutive failures per workload

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMeter creates a Meter over the manager's running workloads.
func NewMeter(manager *Manager, l *ledger.Ledger, rt runtime.Runtime, nodeID string, interval time.Duration) *Meter {
	if interval <= 0 {
		interval = DefaultMeterInterval
	}
	return &Meter{
		manager:      manager,
		ledger:       l,
		rt:           rt,
		nodeID:       nodeID,
		interval:     interval,
		removalDelay: DefaultRemovalDelay,
		logger:       logger.NewLogger(fmt.Sprintf("Meter@%s", nodeID)),
		last:         make(map[string]runtime.Stats),
		failures:     make(map[string]int),
	}
}

// Start launches the periodic loop. Stop cancels it.
func (mt *Meter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	mt.cancel = cancel
	mt.done = make(chan struct{})

	go func() {
		defer close(mt.done)
		ticker := time.NewTicker(mt.interval)
		defer ticker.Stop()

		mt.logger.Infof("Metering every %v", mt.interval)
		for {
			select {
			case <-ticker.C:
				mt.meterOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for the current iteration to finish.
func (mt *Meter) Stop() {
	if mt.cancel == nil {
		return
	}
	mt.cancel()
	<-mt.done
}

// meterOnce samples every running workload. A failure for one workload
// never aborts the iteration for the others.
func (mt *Meter) meterOnce(ctx context.Context) {
	for _, w := range mt.manager.Running() {
		mt.sample(ctx, w)
	}
}

func (mt *Meter) sample(ctx context.Context, w Workload) {
	stats, err := mt.rt.Stats(ctx, w.ContainerID)
	if err != nil {
		if errors.IsNotFound(err) {
			// The container is gone; drop the workload immediately rather
			// than waiting for more failures.
			mt.logger.Warnf("Container for workload %s is gone, dropping from tracking", w.ID)
			metrics.RecordMeterSample(mt.nodeID, "gone")
			mt.finish(ctx, w, StatusFailed, false)
			return
		}

		metrics.RecordMeterSample(mt.nodeID, "error")
		mt.mu.Lock()
		mt.failures[w.ID]++
		failed := mt.failures[w.ID]
		mt.mu.Unlock()

		if failed >= maxConsecutiveFailures {
			mt.logger.Errorf("Metering workload %s failed %d times, dropping from tracking: %v", w.ID, failed, err)
			mt.finish(ctx, w, StatusFailed, true)
		} else {
			mt.logger.Warnf("Metering workload %s failed (%d/%d): %v", w.ID, failed, maxConsecutiveFailures, err)
		}
		return
	}

	mt.mu.Lock()
	prev, hasPrev := mt.last[w.ID]
	mt.last[w.ID] = *stats
	mt.failures[w.ID] = 0
	mt.mu.Unlock()

	usage := mt.usageDelta(prev, hasPrev, *stats)
	if err := mt.ledger.UpdateUsage(w.TransactionID, usage); err != nil && !errors.IsNotFound(err) {
		mt.logger.Errorf("Failed to record usage for workload %s: %v", w.ID, err)
	}
	metrics.RecordMeterSample(mt.nodeID, "ok")

	// Exit detection drives the same completion path as Stop, except the
	// container lingers for late log reads.
	state, err := mt.rt.Inspect(ctx, w.ContainerID)
	if err != nil {
		if errors.IsNotFound(err) {
			mt.finish(ctx, w, StatusFailed, false)
		}
		return
	}
	if !state.Running {
		final := StatusCompleted
		if state.ExitCode != 0 {
			final = StatusFailed
		}
		mt.finish(ctx, w, final, true)
	}
}

// usageDelta converts one statistics sample into a billable usage delta.
// CPU and network need a previous sample to diff against; the first sample
// establishes the baseline and bills memory only.
func (mt *Meter) usageDelta(prev runtime.Stats, hasPrev bool, cur runtime.Stats) ledger.ResourceUsage {
	intervalSeconds := mt.interval.Seconds()
	usage := ledger.ResourceUsage{
		MemoryMBSeconds: float64(cur.MemoryBytes) / (1 << 20) * intervalSeconds,
	}
	if !hasPrev {
		return usage
	}

	cpuDelta := float64(cur.CPUUsage) - float64(prev.CPUUsage)
	systemDelta := float64(cur.SystemCPUUsage) - float64(prev.SystemCPUUsage)
	if cpuDelta > 0 && systemDelta > 0 {
		cores := float64(cur.OnlineCPUs)
		if cores == 0 {
			cores = 1
		}
		usage.CPUSeconds = cpuDelta / systemDelta * cores * intervalSeconds
	}

	// Counters reset when a container restarts; a regressing counter must
	// not subtract from the other direction's usage.
	rxDelta := max(float64(cur.NetworkRxBytes)-float64(prev.NetworkRxBytes), 0)
	txDelta := max(float64(cur.NetworkTxBytes)-float64(prev.NetworkTxBytes), 0)
	usage.NetworkGB = (rxDelta + txDelta) / (1 << 30)
	return usage
}

// finish drives a workload's completion: capture output, settle the
// transaction, drop metering state, and schedule container removal when the
// container still exists.
func (mt *Meter) finish(ctx context.Context, w Workload, status Status, removeContainer bool) {
	output, err := mt.rt.Logs(ctx, w.ContainerID)
	if err != nil {
		output = ""
	}
	mt.manager.markFinished(w.ID, status, output)
	mt.manager.settle(&w)

	mt.mu.Lock()
	delete(mt.last, w.ID)
	delete(mt.failures, w.ID)
	mt.mu.Unlock()

	if removeContainer {
		containerID := w.ContainerID
		time.AfterFunc(mt.removalDelay, func() {
			removeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := mt.rt.Remove(removeCtx, containerID); err != nil && !errors.IsNotFound(err) {
				mt.logger.Warnf("Deferred removal of container %.12s failed: %v", containerID, err)
			}
		})
	}

	mt.logger.Infof("Workload %s finished with status %s", w.ID, status)
}
