// Package ledger implements the credit ledger: per-identity balances, one
// economic transaction per workload, and atomic transfers between
// identities. Settlement is zero-sum; balances change outside transfers
// only through explicit credit issuance.
package ledger

import (
	"time"
)

// Tariff rates convert resource usage into credits. Rates are fixed
// network-wide constants, not per-node configuration.
const (
	RateCPUSecond      = 0.01
	RateMemoryMBSecond = 0.0001
	RateStorageGBHour  = 0.005
	RateNetworkGB      = 0.01
)

// DefaultStartingBalance seeds identities first seen through StartTracking,
// so new participants can settle their first workloads.
const DefaultStartingBalance = 1000.0

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionActive    TransactionStatus = "active"
	TransactionCompleted TransactionStatus = "completed"
	TransactionCancelled TransactionStatus = "cancelled"
)

// ResourceUsage accumulates the billable consumption of one workload.
// All fields are cumulative and strictly additive.
type ResourceUsage struct {
	CPUSeconds      float64 `json:"cpuSeconds"`
	MemoryMBSeconds float64 `json:"memoryMBSeconds"`
	StorageGBHours  float64 `json:"storageGBHours"`
	NetworkGB       float64 `json:"networkGB"`
}

// Add accumulates a usage delta.
func (u *ResourceUsage) Add(delta ResourceUsage) {
	u.CPUSeconds += delta.CPUSeconds
	u.MemoryMBSeconds += delta.MemoryMBSeconds
	u.StorageGBHours += delta.StorageGBHours
	u.NetworkGB += delta.NetworkGB
}

// Credits applies the tariff to the accumulated usage.
func (u ResourceUsage) Credits() float64 {
	return u.CPUSeconds*RateCPUSecond +
		u.MemoryMBSeconds*RateMemoryMBSecond +
		u.StorageGBHours*RateStorageGBHour +
		u.NetworkGB*RateNetworkGB
}

// Transaction tracks one workload's economic lifecycle from start to
// settlement. Exactly one transaction exists per workload; completion moves
// it from the active set into history.
type Transaction struct {
	ID               string            `json:"id"`
	WorkloadID       string            `json:"workloadId"`
	ConsumerID       string            `json:"consumerId"`
	ProviderID       string            `json:"providerId"`
	Status           TransactionStatus `json:"status"`
	Usage            ResourceUsage     `json:"usage"`
	EstimatedCredits float64           `json:"estimatedCredits"`
	FinalCredits     float64           `json:"finalCredits"`
	CreatedAt        time.Time         `json:"createdAt"`
	CompletedAt      time.Time         `json:"completedAt,omitempty"`
}

// Transfer is an immutable record of one atomic balance movement. An empty
// Source marks external credit issuance.
type Transfer struct {
	ID          string    `json:"id"`
	Source      string    `json:"source,omitempty"`
	Destination string    `json:"destination"`
	Amount      float64   `json:"amount"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// History bundles the transactions and transfers touching one identity,
// newest first.
type History struct {
	Transactions []*Transaction `json:"transactions"`
	Transfers    []*Transfer    `json:"transfers"`
}
