package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkloadsRunning tracks the number of workloads currently executing on this node
	WorkloadsRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridmesh_workloads_running",
			Help: "Number of workloads currently executing on this node",
		},
		[]string{"node"},
	)

	// AdmissionDecisionsTotal tracks admission decisions by outcome (accepted, rejected, forwarded)
	AdmissionDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridmesh_admission_decisions_total",
			Help: "Total number of workload admission decisions by outcome",
		},
		[]string{"node", "decision"},
	)

	// TransfersTotal tracks ledger transfers by status (completed, insufficient_balance)
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridmesh_transfers_total",
			Help: "Total number of credit transfers attempted by status",
		},
		[]string{"node", "status"},
	)

	// CreditsTransferred accumulates the total credits moved between identities
	CreditsTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridmesh_credits_transferred_total",
			Help: "Total credits moved between identities by completed transfers",
		},
		[]string{"node"},
	)

	// MeterSamplesTotal tracks metering samples by status (ok, error, gone)
	MeterSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridmesh_meter_samples_total",
			Help: "Total number of per-workload metering samples by status",
		},
		[]string{"node", "status"},
	)

	// PeersKnown tracks the number of non-stale peers in the directory
	PeersKnown = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridmesh_peers_known",
			Help: "Number of non-stale peers currently known to this node",
		},
		[]string{"node"},
	)
)

// RecordWorkloadStarted increments the running-workload gauge for the node.
func RecordWorkloadStarted(node string) {
	WorkloadsRunning.WithLabelValues(node).Inc()
}

// RecordWorkloadFinished decrements the running-workload gauge for the node.
func RecordWorkloadFinished(node string) {
	WorkloadsRunning.WithLabelValues(node).Dec()
}

// RecordAdmission counts one admission decision outcome.
func RecordAdmission(node, decision string) {
	AdmissionDecisionsTotal.WithLabelValues(node, decision).Inc()
}

// RecordTransfer counts one transfer attempt and, when it completed,
// accumulates the moved amount.
func RecordTransfer(node, status string, amount float64) {
	TransfersTotal.WithLabelValues(node, status).Inc()
	if status == "completed" {
		CreditsTransferred.WithLabelValues(node).Add(amount)
	}
}

// RecordMeterSample counts one per-workload metering sample outcome.
func RecordMeterSample(node, status string) {
	MeterSamplesTotal.WithLabelValues(node, status).Inc()
}

// SetPeersKnown sets the non-stale peer count gauge.
func SetPeersKnown(node string, count int) {
	PeersKnown.WithLabelValues(node).Set(float64(count))
}
