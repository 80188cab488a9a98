package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gridmesh/gridmesh/util/errors"
)

// FakeRuntime is an in-memory Runtime used by lifecycle and metering tests.
// Containers transition exactly as told: created containers are not running
// until Start, and FinishContainer simulates process exit.
type FakeRuntime struct {
	mu       sync.Mutex
	nextID   int
	ctrs     map[string]*fakeContainer
	createFn func(spec ContainerSpec) error // optional create failure hook
	startErr error
}

type fakeContainer struct {
	spec     ContainerSpec
	running  bool
	started  bool
	exitCode int
	logs     string
	stats    Stats
	statsErr error
	waiters  []chan int64
}

// NewFakeRuntime creates an empty FakeRuntime.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{ctrs: make(map[string]*fakeContainer)}
}

// FailCreates makes every subsequent Create call fail with err.
func (f *FakeRuntime) FailCreates(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createFn = func(ContainerSpec) error { return err }
}

// Create allocates a fake container.
func (f *FakeRuntime) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createFn != nil {
		if err := f.createFn(spec); err != nil {
			return "", errors.NewRuntimeError("create container", err)
		}
	}

	f.nextID++
	id := fmt.Sprintf("ctr-%d", f.nextID)
	f.ctrs[id] = &fakeContainer{spec: spec}
	return id, nil
}

// FailStarts makes every subsequent Start call fail with err.
func (f *FakeRuntime) FailStarts(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

// Start marks the container running.
func (f *FakeRuntime) Start(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.ctrs[containerID]
	if !ok {
		return errors.NewNotFound("container", containerID)
	}
	if f.startErr != nil {
		return errors.NewRuntimeError("start container", f.startErr)
	}
	c.running = true
	c.started = true
	return nil
}

// Wait blocks until FinishContainer is called for the container.
func (f *FakeRuntime) Wait(ctx context.Context, containerID string) (int64, error) {
	f.mu.Lock()
	c, ok := f.ctrs[containerID]
	if !ok {
		f.mu.Unlock()
		return 0, errors.NewNotFound("container", containerID)
	}
	if !c.running {
		code := int64(c.exitCode)
		f.mu.Unlock()
		return code, nil
	}
	ch := make(chan int64, 1)
	c.waiters = append(c.waiters, ch)
	f.mu.Unlock()

	select {
	case code := <-ch:
		return code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stop marks the container stopped with exit code 137 unless it already
// finished.
func (f *FakeRuntime) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.ctrs[containerID]
	if !ok {
		return errors.NewNotFound("container", containerID)
	}
	if c.running {
		f.finishLocked(c, 137)
	}
	return nil
}

// Remove deletes the container.
func (f *FakeRuntime) Remove(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.ctrs[containerID]; !ok {
		return errors.NewNotFound("container", containerID)
	}
	delete(f.ctrs, containerID)
	return nil
}

// Logs returns the logs set via SetLogs.
func (f *FakeRuntime) Logs(ctx context.Context, containerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.ctrs[containerID]
	if !ok {
		return "", errors.NewNotFound("container", containerID)
	}
	return c.logs, nil
}

// Stats returns the sample last set via SetStats.
func (f *FakeRuntime) Stats(ctx context.Context, containerID string) (*Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.ctrs[containerID]
	if !ok {
		return nil, errors.NewNotFound("container", containerID)
	}
	if c.statsErr != nil {
		return nil, c.statsErr
	}
	stats := c.stats
	return &stats, nil
}

// SetStatsError makes subsequent Stats calls for the container fail.
func (f *FakeRuntime) SetStatsError(containerID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.ctrs[containerID]; ok {
		c.statsErr = err
	}
}

// Inspect returns the container's state.
func (f *FakeRuntime) Inspect(ctx context.Context, containerID string) (*ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.ctrs[containerID]
	if !ok {
		return nil, errors.NewNotFound("container", containerID)
	}
	return &ContainerState{
		ID:       containerID,
		Running:  c.running,
		ExitCode: c.exitCode,
		Labels:   c.spec.Labels,
	}, nil
}

// FindByLabel scans containers for the label.
func (f *FakeRuntime) FindByLabel(ctx context.Context, key, value string) (*ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, c := range f.ctrs {
		if c.spec.Labels[key] == value {
			return &ContainerState{
				ID:       id,
				Running:  c.running,
				ExitCode: c.exitCode,
				Labels:   c.spec.Labels,
			}, nil
		}
	}
	return nil, errors.NewNotFound("container", fmt.Sprintf("%s=%s", key, value))
}

// SetStats sets the sample returned by subsequent Stats calls.
func (f *FakeRuntime) SetStats(containerID string, stats Stats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.ctrs[containerID]; ok {
		c.stats = stats
	}
}

// SetLogs sets the container's log output.
func (f *FakeRuntime) SetLogs(containerID, logs string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.ctrs[containerID]; ok {
		c.logs = logs
	}
}

// FinishContainer simulates the container process exiting with exitCode,
// releasing any Wait callers.
func (f *FakeRuntime) FinishContainer(containerID string, exitCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.ctrs[containerID]; ok && c.running {
		f.finishLocked(c, exitCode)
	}
}

func (f *FakeRuntime) finishLocked(c *fakeContainer, exitCode int) {
	c.running = false
	c.exitCode = exitCode
	for _, ch := range c.waiters {
		ch <- int64(exitCode)
	}
	c.waiters = nil
}

// ContainerCount returns the number of containers the runtime still holds.
func (f *FakeRuntime) ContainerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ctrs)
}
