package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/gridmesh/gridmesh/capacity"
	"github.com/gridmesh/gridmesh/directory"
	"github.com/gridmesh/gridmesh/peerapi"
	"github.com/gridmesh/gridmesh/util/errors"
	"github.com/gridmesh/gridmesh/util/logger"
	"github.com/gridmesh/gridmesh/util/metrics"
	"github.com/gridmesh/gridmesh/workload"
)

// Decision is the outcome of a local admission check.
type Decision struct {
	Accepted bool
	Reason   string
}

// coreCounter reports the cores reserved by non-terminal local workloads.
type coreCounter interface {
	UsedCores() float64
}

// Controller decides whether this node runs a workload locally and, when it
// cannot, forwards the request to known peers.
//
// Admission arithmetic is CPU-only: memory, storage and network are
// advertised but not enforced. That matches the advertised policy, not an
// oversight; enforceAll is the extension point for stricter checks.
type Controller struct {
	nodeID    string
	declared  capacity.Capacity
	workloads coreCounter
	dir       *directory.Directory
	client    *peerapi.Client
	staleness time.Duration
	logger    *logger.Logger

	enforceAll bool
}

func New(nodeID string, declared capacity.Capacity, workloads coreCounter, dir *directory.Directory, client *peerapi.Client) *Controller {
	return &Controller{
		nodeID:    nodeID,
		declared:  declared,
		workloads: workloads,
		dir:       dir,
		client:    client,
		staleness: directory.DefaultStalenessWindow,
		logger:    logger.NewLogger(fmt.Sprintf("Admission@%s", nodeID)),
	}
}

// Decide checks the workload's CPU requirement against this node's spare
// capacity.
func (c *Controller) Decide(w *workload.Workload) Decision {
	requested := w.Requirements.CPU.Cores
	if requested < 0 {
		metrics.RecordAdmission(c.nodeID, "rejected")
		return Decision{Reason: "negative cpu requirement"}
	}

	available := c.declared.CPUCores - c.workloads.UsedCores()
	if available < requested {
		c.logger.Infof("Rejecting workload %s: %.2f cores requested, %.2f available", w.ID, requested, available)
		metrics.RecordAdmission(c.nodeID, "rejected")
		return Decision{Reason: fmt.Sprintf("insufficient cpu capacity: %.2f cores requested, %.2f available", requested, available)}
	}

	metrics.RecordAdmission(c.nodeID, "accepted")
	return Decision{Accepted: true}
}

// Forward offers the workload to each non-stale peer in discovery order and
// returns the first acceptance. One pass only; unreachable or declining
// peers are skipped. NotFound means no peer would take it.
func (c *Controller) Forward(ctx context.Context, req peerapi.SubmitRequest) (*peerapi.SubmitResponse, error) {
	peers := c.dir.List(c.staleness)
	for _, peer := range peers {
		if peer.ID == c.nodeID {
			continue
		}

		resp, err := c.client.SubmitWorkload(ctx, peer.Address, req)
		if err != nil {
			c.logger.Warnf("Forwarding to peer %s (%s) failed: %v", peer.ID, peer.Address, err)
			continue
		}
		if !resp.Accepted {
			c.logger.Debugf("Peer %s declined workload: %s", peer.ID, resp.Reason)
			continue
		}

		c.dir.Upsert(peer.ID, peer)
		metrics.RecordAdmission(c.nodeID, "forwarded")
		c.logger.Infof("Workload forwarded to peer %s", peer.ID)

		forwarded := *resp
		if forwarded.ForwardedTo == "" {
			forwarded.ForwardedTo = peer.ID
		}
		return &forwarded, nil
	}

	return nil, errors.NewNotFound("peer", fmt.Sprintf("no available node among %d known peers", len(peers)))
}
