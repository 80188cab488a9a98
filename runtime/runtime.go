// Package runtime abstracts the container backend the node executes
// workloads on. The Docker implementation is the only real backend; the
// interface exists so lifecycle and metering logic can be tested against a
// fake.
package runtime

import (
	"context"
	"time"
)

// ContainerSpec describes a container to create, sized from a workload's
// declared requirements.
type ContainerSpec struct {
	Image       string
	Command     []string
	Env         []string
	Labels      map[string]string
	CPUCores    float64 // CPU quota, proportional to declared cores
	MemoryBytes int64
}

// ContainerState is a point-in-time view of a container.
type ContainerState struct {
	ID         string
	Running    bool
	ExitCode   int
	Labels     map[string]string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Stats is one raw statistics sample for a running container. CPU counters
// are cumulative since container start; the caller derives deltas.
type Stats struct {
	CPUUsage       uint64 // cumulative container cpu time, nanoseconds
	SystemCPUUsage uint64 // cumulative host cpu time, nanoseconds
	OnlineCPUs     uint32
	MemoryBytes    uint64
	NetworkRxBytes uint64
	NetworkTxBytes uint64
}

// Runtime drives containers through create/start/monitor/stop. Lookup
// failures are reported as not-found errors from the util/errors taxonomy,
// so callers can distinguish a vanished container from a backend failure.
type Runtime interface {
	// Create allocates a container and returns its id.
	Create(ctx context.Context, spec ContainerSpec) (string, error)

	// Start starts a created container.
	Start(ctx context.Context, containerID string) error

	// Wait blocks until the container stops and returns its exit code.
	Wait(ctx context.Context, containerID string) (int64, error)

	// Stop stops a running container, waiting up to timeout for graceful exit.
	Stop(ctx context.Context, containerID string, timeout time.Duration) error

	// Remove deletes a stopped container.
	Remove(ctx context.Context, containerID string) error

	// Logs returns the container's combined stdout and stderr.
	Logs(ctx context.Context, containerID string) (string, error)

	// Stats samples the container's resource statistics.
	Stats(ctx context.Context, containerID string) (*Stats, error)

	// Inspect returns the container's current state.
	Inspect(ctx context.Context, containerID string) (*ContainerState, error)

	// FindByLabel returns the first container carrying label key=value,
	// including stopped containers. Lookup by label tolerates loss of the
	// in-memory workload table across process restarts.
	FindByLabel(ctx context.Context, key, value string) (*ContainerState, error)
}
