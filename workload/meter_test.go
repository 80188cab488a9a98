package workload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gridmesh/gridmesh/ledger"
	"github.com/gridmesh/gridmesh/runtime"
)

func newTestMeter(t *testing.T, interval time.Duration) (*Meter, *Manager, *runtime.FakeRuntime, *ledger.Ledger) {
	t.Helper()
	m, rt, l := newTestManager(t)
	mt := NewMeter(m, l, rt, "node-B", interval)
	mt.removalDelay = 10 * time.Millisecond
	return mt, m, rt, l
}

func startWorkload(t *testing.T, m *Manager, id string) *Workload {
	t.Helper()
	w := &Workload{
		ID:           id,
		Image:        "alpine",
		ConsumerID:   "A",
		Requirements: Requirements{CPU: CPURequirement{Cores: 1}},
	}
	if err := m.Execute(context.Background(), w, false); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return w
}

func TestMeterComputesCPUSeconds(t *testing.T) {
	mt, m, rt, l := newTestMeter(t, time.Second)
	w := startWorkload(t, m, "w-1")

	// Baseline sample: bills memory only.
	rt.SetStats(w.ContainerID, runtime.Stats{
		CPUUsage:       1_000_000_000,
		SystemCPUUsage: 10_000_000_000,
		OnlineCPUs:     4,
	})
	mt.meterOnce(context.Background())

	tx, ok := l.ActiveTransaction(w.TransactionID)
	if !ok {
		t.Fatal("Expected active transaction")
	}
	if tx.Usage.CPUSeconds != 0 {
		t.Errorf("Expected no cpu billed on baseline sample, got %f", tx.Usage.CPUSeconds)
	}

	// The container consumed 2 of 8 system cpu-seconds on a 4-core host
	// over a 1-second interval: 2/8 * 4 * 1 = 1 cpu-second.
	rt.SetStats(w.ContainerID, runtime.Stats{
		CPUUsage:       3_000_000_000,
		SystemCPUUsage: 18_000_000_000,
		OnlineCPUs:     4,
	})
	mt.meterOnce(context.Background())

	tx, _ = l.ActiveTransaction(w.TransactionID)
	if tx.Usage.CPUSeconds != 1.0 {
		t.Errorf("Expected 1.0 cpu-seconds, got %f", tx.Usage.CPUSeconds)
	}
}

func TestMeterBillsMemoryEveryInterval(t *testing.T) {
	mt, m, rt, l := newTestMeter(t, time.Second)
	w := startWorkload(t, m, "w-1")

	rt.SetStats(w.ContainerID, runtime.Stats{MemoryBytes: 512 * 1024 * 1024})
	mt.meterOnce(context.Background())
	mt.meterOnce(context.Background())

	tx, _ := l.ActiveTransaction(w.TransactionID)
	if tx.Usage.MemoryMBSeconds != 1024 {
		t.Errorf("Expected 1024 MB-seconds after two 1s samples at 512MB, got %f", tx.Usage.MemoryMBSeconds)
	}
}

func TestMeterComputesNetworkGB(t *testing.T) {
	mt, m, rt, l := newTestMeter(t, time.Second)
	w := startWorkload(t, m, "w-1")

	rt.SetStats(w.ContainerID, runtime.Stats{NetworkRxBytes: 0, NetworkTxBytes: 0})
	mt.meterOnce(context.Background())

	rt.SetStats(w.ContainerID, runtime.Stats{
		NetworkRxBytes: 1 << 29, // 0.5 GB received
		NetworkTxBytes: 1 << 29, // 0.5 GB sent
	})
	mt.meterOnce(context.Background())

	tx, _ := l.ActiveTransaction(w.TransactionID)
	if tx.Usage.NetworkGB != 1.0 {
		t.Errorf("Expected 1.0 GB transferred, got %f", tx.Usage.NetworkGB)
	}
}

func TestMeterClampsRegressingNetworkCounters(t *testing.T) {
	mt, m, rt, l := newTestMeter(t, time.Second)
	w := startWorkload(t, m, "w-1")

	rt.SetStats(w.ContainerID, runtime.Stats{NetworkRxBytes: 1 << 30, NetworkTxBytes: 0})
	mt.meterOnce(context.Background())

	// The receive counter reset (container restart) while the transmit
	// counter advanced half a GB; only the advance is billable.
	rt.SetStats(w.ContainerID, runtime.Stats{NetworkRxBytes: 0, NetworkTxBytes: 1 << 29})
	mt.meterOnce(context.Background())

	tx, _ := l.ActiveTransaction(w.TransactionID)
	if tx.Usage.NetworkGB != 0.5 {
		t.Errorf("Expected 0.5 GB billed for the advancing counter only, got %f", tx.Usage.NetworkGB)
	}
}

func TestMeterDetectsExit(t *testing.T) {
	mt, m, rt, l := newTestMeter(t, time.Second)
	w := startWorkload(t, m, "w-1")

	rt.SetLogs(w.ContainerID, "all done\n")
	rt.FinishContainer(w.ContainerID, 0)
	mt.meterOnce(context.Background())

	got, err := m.Status(context.Background(), "w-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Expected completed after exit 0, got %s", got.Status)
	}
	if got.Output != "all done\n" {
		t.Errorf("Expected captured output, got %q", got.Output)
	}
	if _, active := l.ActiveTransaction(w.TransactionID); active {
		t.Error("Expected transaction settled on exit")
	}

	// Removal is deferred so late log reads still work, then happens.
	if rt.ContainerCount() != 1 {
		t.Error("Expected container retained immediately after exit")
	}
	deadline := time.After(2 * time.Second)
	for rt.ContainerCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("Container was never removed after the removal delay")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestMeterDetectsFailedExit(t *testing.T) {
	mt, m, rt, _ := newTestMeter(t, time.Second)
	w := startWorkload(t, m, "w-1")

	rt.FinishContainer(w.ContainerID, 1)
	mt.meterOnce(context.Background())

	got, _ := m.Status(context.Background(), "w-1")
	if got.Status != StatusFailed {
		t.Errorf("Expected failed after exit 1, got %s", got.Status)
	}
}

func TestMeterDropsGoneContainerImmediately(t *testing.T) {
	mt, m, rt, l := newTestMeter(t, time.Second)
	w := startWorkload(t, m, "w-1")

	// The container vanished from the runtime behind our back.
	if err := rt.Remove(context.Background(), w.ContainerID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	mt.meterOnce(context.Background())

	got, _ := m.Status(context.Background(), "w-1")
	if got.Status != StatusFailed {
		t.Errorf("Expected failed after container vanished, got %s", got.Status)
	}
	if _, active := l.ActiveTransaction(w.TransactionID); active {
		t.Error("Expected transaction settled when container vanished")
	}
	if len(m.Running()) != 0 {
		t.Error("Expected workload dropped from tracking")
	}
}

func TestMeterIsolatesPerWorkloadFailures(t *testing.T) {
	mt, m, rt, l := newTestMeter(t, time.Second)
	bad := startWorkload(t, m, "w-bad")
	good := startWorkload(t, m, "w-good")

	rt.SetStatsError(bad.ContainerID, errors.New("stats endpoint hiccup"))
	rt.SetStats(good.ContainerID, runtime.Stats{MemoryBytes: 1 << 20})
	mt.meterOnce(context.Background())

	// The healthy workload was still billed.
	tx, _ := l.ActiveTransaction(good.TransactionID)
	if tx.Usage.MemoryMBSeconds != 1 {
		t.Errorf("Expected healthy workload billed 1 MB-second, got %f", tx.Usage.MemoryMBSeconds)
	}

	// One failure does not drop the workload yet.
	if got, _ := m.Status(context.Background(), "w-bad"); got.Status != StatusRunning {
		t.Errorf("Expected failing workload still tracked after one failure, got %s", got.Status)
	}

	// Repeated failures drop it rather than retrying forever.
	mt.meterOnce(context.Background())
	mt.meterOnce(context.Background())
	if got, _ := m.Status(context.Background(), "w-bad"); got.Status != StatusFailed {
		t.Errorf("Expected failing workload dropped after repeated failures, got %s", got.Status)
	}
}

func TestMeterStartStop(t *testing.T) {
	mt, m, rt, l := newTestMeter(t, 10*time.Millisecond)
	w := startWorkload(t, m, "w-1")
	rt.SetStats(w.ContainerID, runtime.Stats{MemoryBytes: 1 << 20})

	mt.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		tx, _ := l.ActiveTransaction(w.TransactionID)
		if tx.Usage.MemoryMBSeconds > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Meter never billed the running workload")
		case <-time.After(5 * time.Millisecond):
		}
	}

	mt.Stop()
}
