// Package workload owns workload execution: the lifecycle manager drives
// the container runtime through create/start/monitor/stop, and the metering
// loop converts runtime statistics into billable usage on the ledger.
package workload

import (
	"time"
)

// Status is a workload's lifecycle state. Terminal states are final.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// Container labels used to find a workload's container after a process
// restart, when the in-memory table is gone.
const (
	LabelWorkloadID = "gridmesh.workload.id"
	LabelConsumerID = "gridmesh.consumer.id"
	LabelProviderID = "gridmesh.provider.id"
)

// CPURequirement declares how many cores a workload needs.
type CPURequirement struct {
	Cores float64 `json:"cores"`
}

// Requirements is a workload's declared resource footprint. Only CPU cores
// are enforced at admission; memory sizes the container's hard limit.
type Requirements struct {
	CPU    CPURequirement `json:"cpu"`
	Memory string         `json:"memory,omitempty"`
}

// Workload is one unit of requested computation and its execution record.
// The lifecycle manager owns it until a terminal state, after which it is
// retained read-only for status queries.
type Workload struct {
	ID           string       `json:"id"`
	Image        string       `json:"image,omitempty"`
	Command      []string     `json:"command,omitempty"`
	Env          []string     `json:"env,omitempty"`
	Requirements Requirements `json:"requirements"`

	ConsumerID string `json:"consumerId"`
	ProviderID string `json:"providerId"`

	Status        Status `json:"status"`
	ContainerID   string `json:"containerId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	Output        string `json:"output,omitempty"`

	CreatedAt  time.Time `json:"createdAt"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

func (w *Workload) labels() map[string]string {
	return map[string]string{
		LabelWorkloadID: w.ID,
		LabelConsumerID: w.ConsumerID,
		LabelProviderID: w.ProviderID,
	}
}
