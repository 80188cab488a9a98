package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordWorkloadStartedFinished(t *testing.T) {
	WorkloadsRunning.Reset()

	RecordWorkloadStarted("node-a")
	RecordWorkloadStarted("node-a")

	count := testutil.ToFloat64(WorkloadsRunning.WithLabelValues("node-a"))
	if count != 2.0 {
		t.Errorf("Expected 2 running workloads, got %f", count)
	}

	RecordWorkloadFinished("node-a")
	count = testutil.ToFloat64(WorkloadsRunning.WithLabelValues("node-a"))
	if count != 1.0 {
		t.Errorf("Expected 1 running workload after finish, got %f", count)
	}
}

func TestRecordAdmission(t *testing.T) {
	AdmissionDecisionsTotal.Reset()

	RecordAdmission("node-a", "accepted")
	RecordAdmission("node-a", "accepted")
	RecordAdmission("node-a", "rejected")

	accepted := testutil.ToFloat64(AdmissionDecisionsTotal.WithLabelValues("node-a", "accepted"))
	if accepted != 2.0 {
		t.Errorf("Expected 2 accepted decisions, got %f", accepted)
	}
	rejected := testutil.ToFloat64(AdmissionDecisionsTotal.WithLabelValues("node-a", "rejected"))
	if rejected != 1.0 {
		t.Errorf("Expected 1 rejected decision, got %f", rejected)
	}
}

func TestRecordTransferAccumulatesAmount(t *testing.T) {
	TransfersTotal.Reset()
	CreditsTransferred.Reset()

	RecordTransfer("node-a", "completed", 1.5)
	RecordTransfer("node-a", "completed", 2.5)
	RecordTransfer("node-a", "insufficient_balance", 99.0)

	total := testutil.ToFloat64(CreditsTransferred.WithLabelValues("node-a"))
	if total != 4.0 {
		t.Errorf("Expected 4.0 credits transferred, got %f", total)
	}
	failed := testutil.ToFloat64(TransfersTotal.WithLabelValues("node-a", "insufficient_balance"))
	if failed != 1.0 {
		t.Errorf("Expected 1 failed transfer, got %f", failed)
	}
}

func TestSetPeersKnown(t *testing.T) {
	PeersKnown.Reset()

	SetPeersKnown("node-a", 3)
	if got := testutil.ToFloat64(PeersKnown.WithLabelValues("node-a")); got != 3.0 {
		t.Errorf("Expected 3 known peers, got %f", got)
	}

	SetPeersKnown("node-a", 0)
	if got := testutil.ToFloat64(PeersKnown.WithLabelValues("node-a")); got != 0.0 {
		t.Errorf("Expected 0 known peers, got %f", got)
	}
}
