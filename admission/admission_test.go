package admission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gridmesh/gridmesh/capacity"
	"github.com/gridmesh/gridmesh/directory"
	"github.com/gridmesh/gridmesh/peerapi"
	"github.com/gridmesh/gridmesh/util/errors"
	"github.com/gridmesh/gridmesh/workload"
)

type fixedCores float64

func (f fixedCores) UsedCores() float64 { return float64(f) }

func newController(declaredCores, usedCores float64, dir *directory.Directory) *Controller {
	return New(
		"node-B",
		capacity.Capacity{CPUCores: declaredCores},
		fixedCores(usedCores),
		dir,
		peerapi.NewClient(time.Second),
	)
}

func requestFor(cores float64) *workload.Workload {
	return &workload.Workload{
		ID:           "w-1",
		Image:        "alpine",
		Requirements: workload.Requirements{CPU: workload.CPURequirement{Cores: cores}},
	}
}

func TestDecideCapacityArithmetic(t *testing.T) {
	// 4 declared cores with 3 in use leaves room for 1.
	c := newController(4, 3, directory.New())

	if d := c.Decide(requestFor(2)); d.Accepted {
		t.Error("Expected 2-core request rejected with 1 core available")
	}
	if d := c.Decide(requestFor(1)); !d.Accepted {
		t.Errorf("Expected 1-core request accepted, got reason %q", d.Reason)
	}
}

func TestDecideZeroCoreRequest(t *testing.T) {
	c := newController(4, 4, directory.New())
	if d := c.Decide(requestFor(0)); !d.Accepted {
		t.Errorf("Expected zero-core request accepted even at full capacity, got %q", d.Reason)
	}
}

func TestDecideRejectionNamesTheGap(t *testing.T) {
	c := newController(4, 3, directory.New())
	d := c.Decide(requestFor(2))
	if d.Accepted || d.Reason == "" {
		t.Errorf("Expected rejection with a reason, got %+v", d)
	}
}

func acceptingPeer(t *testing.T, id string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(peerapi.SubmitResponse{Accepted: true, WorkloadID: "w-1", ProviderID: id})
	}))
}

func decliningPeer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"kind":"invalid_request","message":"no capacity"}}`))
	}))
}

func TestForwardFirstAcceptingPeerWins(t *testing.T) {
	declining := decliningPeer(t)
	defer declining.Close()
	accepting := acceptingPeer(t, "peer-2")
	defer accepting.Close()
	neverCalled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Forwarding must stop at the first acceptance")
	}))
	defer neverCalled.Close()

	dir := directory.New()
	dir.Upsert("peer-1", directory.PeerRecord{Address: "127.0.0.1:1"}) // unreachable
	dir.Upsert("peer-2", directory.PeerRecord{Address: declining.URL})
	dir.Upsert("peer-3", directory.PeerRecord{Address: accepting.URL})
	dir.Upsert("peer-4", directory.PeerRecord{Address: neverCalled.URL})

	c := newController(4, 4, dir)
	resp, err := c.Forward(context.Background(), peerapi.SubmitRequest{Image: "alpine"})
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !resp.Accepted {
		t.Error("Expected forwarded acceptance")
	}
	if resp.ForwardedTo != "peer-3" {
		t.Errorf("Expected forwardedTo peer-3, got %q", resp.ForwardedTo)
	}
}

func TestForwardNoPeers(t *testing.T) {
	c := newController(4, 4, directory.New())
	_, err := c.Forward(context.Background(), peerapi.SubmitRequest{Image: "alpine"})
	if !errors.IsNotFound(err) {
		t.Errorf("Expected NotFound with no peers, got %v", err)
	}
}

func TestForwardAllPeersDecline(t *testing.T) {
	declining := decliningPeer(t)
	defer declining.Close()

	dir := directory.New()
	dir.Upsert("peer-1", directory.PeerRecord{Address: declining.URL})
	dir.Upsert("peer-2", directory.PeerRecord{Address: "127.0.0.1:1"})

	c := newController(4, 4, dir)
	_, err := c.Forward(context.Background(), peerapi.SubmitRequest{Image: "alpine"})
	if !errors.IsNotFound(err) {
		t.Errorf("Expected NotFound when every peer declines or is unreachable, got %v", err)
	}
}

func TestForwardSkipsSelf(t *testing.T) {
	dir := directory.New()
	dir.Upsert("node-B", directory.PeerRecord{Address: "127.0.0.1:1"})

	c := newController(4, 4, dir)
	_, err := c.Forward(context.Background(), peerapi.SubmitRequest{Image: "alpine"})
	if !errors.IsNotFound(err) {
		t.Errorf("Expected NotFound when the only entry is this node, got %v", err)
	}
}
