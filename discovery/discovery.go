package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gridmesh/gridmesh/directory"
	"github.com/gridmesh/gridmesh/peerapi"
	"github.com/gridmesh/gridmesh/util/backoff"
	"github.com/gridmesh/gridmesh/util/logger"
	"github.com/gridmesh/gridmesh/util/metrics"
	"github.com/gridmesh/gridmesh/util/workerpool"
)

const (
	// DefaultInterval is how often the node re-registers with its peers.
	DefaultInterval = 30 * time.Second

	// fanOutWorkers bounds concurrent peer contacts per round.
	fanOutWorkers = 8
)

// Loop keeps the peer directory warm: every interval it registers this node
// with its bootstrap peers and every known non-stale peer, and upserts
// whatever they reply with. Peers are flat and polled; there is no overlay.
type Loop struct {
	nodeID    string
	self      peerapi.RegisterRequest
	bootstrap []string
	dir       *directory.Directory
	client    *peerapi.Client
	interval  time.Duration
	staleness time.Duration
	logger    *logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewLoop(nodeID, advertiseAddr string, bootstrap []string, dir *directory.Directory, client *peerapi.Client, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{
		nodeID:    nodeID,
		self:      peerapi.RegisterRequest{ID: nodeID, Address: advertiseAddr},
		bootstrap: bootstrap,
		dir:       dir,
		client:    client,
		interval:  interval,
		staleness: directory.DefaultStalenessWindow,
		logger:    logger.NewLogger(fmt.Sprintf("Discovery@%s", nodeID)),
	}
}

// Start launches the periodic loop. The first round runs immediately so a
// freshly started node does not wait a full interval to find its peers.
func (l *Loop) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)

		pool := workerpool.New(ctx, fanOutWorkers)
		defer pool.Shutdown()

		// An unreachable bootstrap set backs off instead of hammering it
		// every interval.
		b := backoff.New(time.Second, l.interval, 2)

		for {
			reached := l.runOnce(ctx, pool)

			if reached == 0 && l.dir.Count(l.staleness) == 0 {
				if err := b.Wait(ctx); err != nil {
					return
				}
				continue
			}

			b.Reset()
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.interval):
			}
		}
	}()
}

// Stop cancels the loop and waits for the current round to finish.
func (l *Loop) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
}

// runOnce contacts every target once and reports how many answered.
func (l *Loop) runOnce(ctx context.Context, pool *workerpool.WorkerPool) int {
	targets := l.targets()
	if len(targets) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	reached := 0

	for _, addr := range targets {
		addr := addr
		wg.Add(1)
		submitted := pool.Submit(func(taskCtx context.Context) {
			defer wg.Done()
			info, err := l.client.Register(taskCtx, addr, l.self)
			if err != nil {
				l.logger.Debugf("Peer %s unreachable: %v", addr, err)
				return
			}
			if info.ID == "" || info.ID == l.nodeID {
				return
			}
			l.dir.Upsert(info.ID, directory.PeerRecord{
				Address:     info.Address,
				Capacity:    info.Capacity,
				Cooperative: info.Cooperative.ID,
			})
			mu.Lock()
			reached++
			mu.Unlock()
		})
		if !submitted {
			wg.Done()
		}
	}
	wg.Wait()

	known := l.dir.Count(l.staleness)
	metrics.SetPeersKnown(l.nodeID, known)
	l.logger.Debugf("Discovery round reached %d/%d targets, %d peers known", reached, len(targets), known)
	return reached
}

// targets merges the bootstrap list with every known non-stale peer's
// address, deduplicated, bootstrap first.
func (l *Loop) targets() []string {
	seen := make(map[string]bool)
	var targets []string

	add := func(addr string) {
		if addr == "" || addr == l.self.Address {
			return
		}
		key := peerapi.BaseURL(addr)
		if seen[key] {
			return
		}
		seen[key] = true
		targets = append(targets, addr)
	}

	for _, addr := range l.bootstrap {
		add(addr)
	}
	for _, peer := range l.dir.List(l.staleness) {
		add(peer.Address)
	}
	return targets
}
