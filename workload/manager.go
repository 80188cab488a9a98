package workload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gridmesh/gridmesh/capacity"
	"github.com/gridmesh/gridmesh/ledger"
	"github.com/gridmesh/gridmesh/runtime"
	"github.com/gridmesh/gridmesh/util/errors"
	"github.com/gridmesh/gridmesh/util/logger"
	"github.com/gridmesh/gridmesh/util/metrics"
)

// DefaultStopTimeout is how long a container gets to exit gracefully before
// being killed.
const DefaultStopTimeout = 10 * time.Second

// Manager drives workloads through their lifecycle:
// accepted -> running -> {completed | failed | stopped}.
// It holds the authoritative in-memory record of workloads and falls back
// to label-based container lookup for workloads started before a restart.
type Manager struct {
	mu        sync.RWMutex
	workloads map[string]*Workload

	rt     runtime.Runtime
	ledger *ledger.Ledger
	nodeID string
	logger *logger.Logger
}

// NewManager creates a Manager executing on rt and settling through l.
func NewManager(rt runtime.Runtime, l *ledger.Ledger, nodeID string) *Manager {
	return &Manager{
		workloads: make(map[string]*Workload),
		rt:        rt,
		ledger:    l,
		nodeID:    nodeID,
		logger:    logger.NewLogger(fmt.Sprintf("Workloads@%s", nodeID)),
	}
}

// Execute runs a workload. The container is sized from the declared
// requirements and labeled with workload, consumer and provider identities.
// The ledger transaction is opened only after container creation succeeds,
// so a runtime failure leaves no economic state behind.
//
// With wait=false Execute returns as soon as the workload is running and
// the metering loop drives it to completion. With wait=true Execute blocks
// until the workload terminates, captures its output, settles the
// transaction and removes the container before returning.
func (m *Manager) Execute(ctx context.Context, w *Workload, wait bool) error {
	if w.ID == "" {
		return errors.NewInvalidRequest("workload id is required")
	}
	if w.ConsumerID == "" {
		return errors.NewInvalidRequest("consumer id is required")
	}
	w.ProviderID = m.nodeID
	w.Status = StatusAccepted
	w.CreatedAt = time.Now()

	m.mu.RLock()
	_, exists := m.workloads[w.ID]
	m.mu.RUnlock()
	if exists {
		return errors.NewInvalidRequest(fmt.Sprintf("workload %s already exists", w.ID))
	}

	spec := runtime.ContainerSpec{
		Image:       w.Image,
		Command:     w.Command,
		Env:         w.Env,
		Labels:      w.labels(),
		CPUCores:    w.Requirements.CPU.Cores,
		MemoryBytes: capacity.MemoryLimit(w.Requirements.Memory),
	}

	containerID, err := m.rt.Create(ctx, spec)
	if err != nil {
		return err
	}

	txID, err := m.ledger.StartTracking(w.ID, w.ConsumerID, m.nodeID)
	if err != nil {
		m.rt.Remove(ctx, containerID)
		return fmt.Errorf("failed to open transaction: %w", err)
	}

	if err := m.rt.Start(ctx, containerID); err != nil {
		m.rt.Remove(ctx, containerID)
		if cerr := m.ledger.Cancel(txID); cerr != nil {
			m.logger.Errorf("Failed to void transaction %s after start failure: %v", txID, cerr)
		}
		return err
	}

	w.ContainerID = containerID
	w.TransactionID = txID
	w.Status = StatusRunning
	w.StartedAt = time.Now()

	m.mu.Lock()
	m.workloads[w.ID] = w
	m.mu.Unlock()

	metrics.RecordWorkloadStarted(m.nodeID)
	m.logger.Infof("Workload %s running in container %.12s (consumer=%s)", w.ID, containerID, w.ConsumerID)

	if !wait {
		return nil
	}

	exitCode, err := m.rt.Wait(ctx, containerID)
	if err != nil {
		m.logger.Errorf("Wait for workload %s failed: %v", w.ID, err)
		m.settleAndFinish(ctx, w, StatusFailed, true)
		return err
	}

	final := StatusCompleted
	if exitCode != 0 {
		final = StatusFailed
	}
	m.settleAndFinish(ctx, w, final, true)
	return nil
}

// Status returns the workload's current record. It prefers the in-memory
// table and falls back to a label lookup against the runtime, synthesizing
// the status from the container's state and exit code.
func (m *Manager) Status(ctx context.Context, workloadID string) (Workload, error) {
	m.mu.RLock()
	w, ok := m.workloads[workloadID]
	if ok {
		copied := *w
		m.mu.RUnlock()
		return copied, nil
	}
	m.mu.RUnlock()

	state, err := m.rt.FindByLabel(ctx, LabelWorkloadID, workloadID)
	if err != nil {
		if errors.IsNotFound(err) {
			return Workload{}, errors.NewNotFound("workload", workloadID)
		}
		return Workload{}, err
	}
	return synthesizeFromContainer(workloadID, state), nil
}

// Stop stops and removes the workload's container, settles its transaction
// and drops the workload from tracking. Workloads unknown to the in-memory
// table are found by container label.
func (m *Manager) Stop(ctx context.Context, workloadID string) error {
	m.mu.Lock()
	w, ok := m.workloads[workloadID]
	if ok && w.Status.Terminal() {
		delete(m.workloads, workloadID)
		m.mu.Unlock()
		m.rt.Remove(ctx, w.ContainerID)
		return nil
	}
	m.mu.Unlock()

	if !ok {
		state, err := m.rt.FindByLabel(ctx, LabelWorkloadID, workloadID)
		if err != nil {
			if errors.IsNotFound(err) {
				return errors.NewNotFound("workload", workloadID)
			}
			return err
		}
		synthesized := synthesizeFromContainer(workloadID, state)
		w = &synthesized
		// The transaction id is not recoverable from labels; find it by
		// workload in the ledger's active set.
		if tx, found := m.ledger.ActiveTransactionForWorkload(workloadID); found {
			w.TransactionID = tx.ID
		}
	}

	if err := m.rt.Stop(ctx, w.ContainerID, DefaultStopTimeout); err != nil && !errors.IsNotFound(err) {
		m.logger.Warnf("Failed to stop container for workload %s: %v", workloadID, err)
	}

	wasRunning := !w.Status.Terminal()
	m.settle(w)
	if wasRunning {
		metrics.RecordWorkloadFinished(m.nodeID)
	}

	if err := m.rt.Remove(ctx, w.ContainerID); err != nil && !errors.IsNotFound(err) {
		m.logger.Warnf("Failed to remove container for workload %s: %v", workloadID, err)
	}

	m.mu.Lock()
	delete(m.workloads, workloadID)
	m.mu.Unlock()

	m.logger.Infof("Workload %s stopped", workloadID)
	return nil
}

// Logs returns the workload's combined output, from the runtime when the
// container still exists, otherwise from the output captured at completion.
func (m *Manager) Logs(ctx context.Context, workloadID string) (string, error) {
	m.mu.RLock()
	w, ok := m.workloads[workloadID]
	var containerID, captured string
	if ok {
		containerID = w.ContainerID
		captured = w.Output
	}
	m.mu.RUnlock()

	if !ok {
		state, err := m.rt.FindByLabel(ctx, LabelWorkloadID, workloadID)
		if err != nil {
			if errors.IsNotFound(err) {
				return "", errors.NewNotFound("workload", workloadID)
			}
			return "", err
		}
		containerID = state.ID
	}

	logs, err := m.rt.Logs(ctx, containerID)
	if err != nil {
		if captured != "" {
			return captured, nil
		}
		if errors.IsNotFound(err) {
			return "", errors.NewNotFound("workload", workloadID)
		}
		return "", err
	}
	return logs, nil
}

// List returns copies of all tracked workloads.
func (m *Manager) List() []Workload {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Workload, 0, len(m.workloads))
	for _, w := range m.workloads {
		result = append(result, *w)
	}
	return result
}

// Running returns copies of all non-terminal workloads.
func (m *Manager) Running() []Workload {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Workload
	for _, w := range m.workloads {
		if !w.Status.Terminal() {
			result = append(result, *w)
		}
	}
	return result
}

// UsedCores returns the CPU cores reserved by non-terminal workloads,
// the quantity admission decisions subtract from declared capacity.
func (m *Manager) UsedCores() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var used float64
	for _, w := range m.workloads {
		if !w.Status.Terminal() {
			used += w.Requirements.CPU.Cores
		}
	}
	return used
}

// markFinished transitions a workload to a terminal state, recording output
// and finish time. Used by the metering loop's completion path.
func (m *Manager) markFinished(workloadID string, status Status, output string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workloads[workloadID]
	if !ok || w.Status.Terminal() {
		return
	}
	w.Status = status
	w.Output = output
	w.FinishedAt = time.Now()
	metrics.RecordWorkloadFinished(m.nodeID)
}

// settleAndFinish captures output, settles the transaction and optionally
// removes the container. Used on the synchronous execution path.
func (m *Manager) settleAndFinish(ctx context.Context, w *Workload, status Status, removeContainer bool) {
	output, err := m.rt.Logs(ctx, w.ContainerID)
	if err != nil {
		m.logger.Warnf("Failed to capture output for workload %s: %v", w.ID, err)
	}
	m.markFinished(w.ID, status, output)
	m.settle(w)
	if removeContainer {
		if err := m.rt.Remove(ctx, w.ContainerID); err != nil && !errors.IsNotFound(err) {
			m.logger.Warnf("Failed to remove container for workload %s: %v", w.ID, err)
		}
	}
}

// settle completes the workload's transaction. A settlement blocked by
// insufficient consumer balance is logged, not propagated: the container is
// released regardless, the transaction stays active, and settlement can be
// retried out of band.
func (m *Manager) settle(w *Workload) {
	if w.TransactionID == "" {
		return
	}
	if _, err := m.ledger.Complete(w.TransactionID); err != nil {
		switch {
		case errors.IsInsufficientBalance(err):
			m.logger.Errorf("Settlement for workload %s failed, releasing container anyway: %v", w.ID, err)
		case errors.IsNotFound(err):
			m.logger.Debugf("Transaction %s already settled", w.TransactionID)
		default:
			m.logger.Errorf("Settlement for workload %s failed: %v", w.ID, err)
		}
	}
}

func synthesizeFromContainer(workloadID string, state *runtime.ContainerState) Workload {
	w := Workload{
		ID:          workloadID,
		ContainerID: state.ID,
		ConsumerID:  state.Labels[LabelConsumerID],
		ProviderID:  state.Labels[LabelProviderID],
		StartedAt:   state.StartedAt,
	}
	switch {
	case state.Running:
		w.Status = StatusRunning
	case state.ExitCode == 0:
		w.Status = StatusCompleted
		w.FinishedAt = state.FinishedAt
	default:
		w.Status = StatusFailed
		w.FinishedAt = state.FinishedAt
	}
	return w
}
