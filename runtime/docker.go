package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/gridmesh/gridmesh/util/errors"
)

// DockerRuntime implements Runtime against a local Docker daemon.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects to the local Docker daemon using environment
// configuration (DOCKER_HOST etc.).
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.NewRuntimeError("connect", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

// Create allocates a container sized by the spec: the CPU quota is
// proportional to the declared core count and memory is hard-limited.
func (r *DockerRuntime) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Command,
		Env:    spec.Env,
		Labels: spec.Labels,
		Tty:    false,
	}
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: int64(spec.CPUCores * 1e9),
			Memory:   spec.MemoryBytes,
		},
	}

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", errors.NewRuntimeError("create container", err)
	}
	return resp.ID, nil
}

// Start starts a created container.
func (r *DockerRuntime) Start(ctx context.Context, containerID string) error {
	if err := r.cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		return r.wrap("start container", containerID, err)
	}
	return nil
}

// Wait blocks until the container is no longer running.
func (r *DockerRuntime) Wait(ctx context.Context, containerID string) (int64, error) {
	statusCh, errCh := r.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return 0, r.wrap("wait for container", containerID, err)
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, errors.NewRuntimeError("wait for container", fmt.Errorf("%s", status.Error.Message))
		}
		return status.StatusCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stop stops a running container.
func (r *DockerRuntime) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if err := r.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds}); err != nil {
		return r.wrap("stop container", containerID, err)
	}
	return nil
}

// Remove deletes a container, force-killing it if still running.
func (r *DockerRuntime) Remove(ctx context.Context, containerID string) error {
	err := r.cli.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{Force: true})
	if err != nil {
		return r.wrap("remove container", containerID, err)
	}
	return nil
}

// Logs returns the container's combined demultiplexed output.
func (r *DockerRuntime) Logs(ctx context.Context, containerID string) (string, error) {
	reader, err := r.cli.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", r.wrap("read container logs", containerID, err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return "", errors.NewRuntimeError("demux container logs", err)
	}
	return buf.String(), nil
}

// Stats takes one statistics sample for the container.
func (r *DockerRuntime) Stats(ctx context.Context, containerID string) (*Stats, error) {
	resp, err := r.cli.ContainerStats(ctx, containerID, false)
	if err != nil {
		return nil, r.wrap("sample container stats", containerID, err)
	}
	defer resp.Body.Close()

	var raw types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errors.NewRuntimeError("decode container stats", err)
	}

	stats := &Stats{
		CPUUsage:       raw.CPUStats.CPUUsage.TotalUsage,
		SystemCPUUsage: raw.CPUStats.SystemUsage,
		OnlineCPUs:     raw.CPUStats.OnlineCPUs,
		MemoryBytes:    raw.MemoryStats.Usage,
	}
	for _, netStats := range raw.Networks {
		stats.NetworkRxBytes += netStats.RxBytes
		stats.NetworkTxBytes += netStats.TxBytes
	}
	return stats, nil
}

// Inspect returns the container's current state.
func (r *DockerRuntime) Inspect(ctx context.Context, containerID string) (*ContainerState, error) {
	info, err := r.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, r.wrap("inspect container", containerID, err)
	}
	return containerStateFromInspect(info), nil
}

// FindByLabel returns the first container (running or stopped) carrying the
// given label.
func (r *DockerRuntime) FindByLabel(ctx context.Context, key, value string) (*ContainerState, error) {
	args := filters.NewArgs(filters.Arg("label", fmt.Sprintf("%s=%s", key, value)))
	containers, err := r.cli.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: args,
	})
	if err != nil {
		return nil, errors.NewRuntimeError("list containers", err)
	}
	if len(containers) == 0 {
		return nil, errors.NewNotFound("container", fmt.Sprintf("%s=%s", key, value))
	}

	info, err := r.cli.ContainerInspect(ctx, containers[0].ID)
	if err != nil {
		return nil, r.wrap("inspect container", containers[0].ID, err)
	}
	return containerStateFromInspect(info), nil
}

func containerStateFromInspect(info types.ContainerJSON) *ContainerState {
	state := &ContainerState{
		ID: info.ID,
	}
	if info.Config != nil {
		state.Labels = info.Config.Labels
	}
	if info.State != nil {
		state.Running = info.State.Running
		state.ExitCode = info.State.ExitCode
		if t, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
			state.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, info.State.FinishedAt); err == nil {
			state.FinishedAt = t
		}
	}
	return state
}

// wrap maps docker daemon errors into the node's taxonomy: 404s become
// not-found, everything else a runtime error.
func (r *DockerRuntime) wrap(op, containerID string, err error) error {
	if errdefs.IsNotFound(err) {
		return errors.NewNotFound("container", containerID)
	}
	return errors.NewRuntimeError(op, err)
}
