package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gridmesh/gridmesh/capacity"
	"github.com/gridmesh/gridmesh/directory"
	"github.com/gridmesh/gridmesh/peerapi"
)

// fakePeer answers peer registrations with a fixed identity and counts them.
func fakePeer(t *testing.T, id string, calls *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/peers" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req peerapi.RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode register body: %v", err)
		}
		if req.ID != "node-A" {
			t.Errorf("Expected registration from node-A, got %q", req.ID)
		}
		atomic.AddInt64(calls, 1)
		json.NewEncoder(w).Encode(peerapi.NodeInfo{
			ID:       id,
			Capacity: capacity.Capacity{CPUCores: 8},
		})
	}))
}

func TestLoopRegistersWithBootstrapPeers(t *testing.T) {
	var calls int64
	peer := fakePeer(t, "peer-1", &calls)
	defer peer.Close()

	dir := directory.New()
	loop := NewLoop("node-A", "10.0.0.1:7400", []string{peer.URL}, dir, peerapi.NewClient(time.Second), time.Hour)
	loop.Start(context.Background())
	defer loop.Stop()

	waitFor(t, func() bool { return dir.Count(time.Minute) == 1 })

	rec, ok := dir.Get("peer-1")
	if !ok {
		t.Fatal("Expected peer-1 in the directory")
	}
	if rec.Capacity.CPUCores != 8 {
		t.Errorf("Expected advertised capacity recorded, got %+v", rec.Capacity)
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Errorf("Expected exactly one registration in the first round, got %d", calls)
	}
}

func TestLoopToleratesUnreachableBootstrap(t *testing.T) {
	var calls int64
	peer := fakePeer(t, "peer-1", &calls)
	defer peer.Close()

	dir := directory.New()
	loop := NewLoop("node-A", "10.0.0.1:7400",
		[]string{"127.0.0.1:1", peer.URL},
		dir, peerapi.NewClient(200*time.Millisecond), time.Hour)
	loop.Start(context.Background())
	defer loop.Stop()

	waitFor(t, func() bool { return dir.Count(time.Minute) == 1 })
}

func TestLoopIgnoresSelfReplies(t *testing.T) {
	// A misconfigured bootstrap address pointing back at this node must not
	// produce a self entry.
	var calls int64
	self := fakePeer(t, "node-A", &calls)
	defer self.Close()

	dir := directory.New()
	loop := NewLoop("node-A", "10.0.0.1:7400", []string{self.URL}, dir, peerapi.NewClient(time.Second), time.Hour)
	loop.Start(context.Background())
	defer loop.Stop()

	waitFor(t, func() bool { return atomic.LoadInt64(&calls) >= 1 })
	if dir.Count(time.Minute) != 0 {
		t.Error("Expected no directory entry for this node itself")
	}
}

func TestLoopStops(t *testing.T) {
	loop := NewLoop("node-A", "", nil, directory.New(), peerapi.NewClient(time.Second), 10*time.Millisecond)
	loop.Start(context.Background())

	stopped := make(chan struct{})
	go func() {
		loop.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestStopDuringSlowRound(t *testing.T) {
	// More stalled peers than fan-out workers, so a round is guaranteed to
	// have registrations still queued when Stop lands.
	var arrived int64
	stall := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&arrived, 1)
		<-r.Context().Done()
	}))
	defer stall.Close()

	bootstrap := make([]string, 2*fanOutWorkers)
	for i := range bootstrap {
		// Distinct paths defeat target deduplication.
		bootstrap[i] = fmt.Sprintf("%s/%d", stall.URL, i)
	}

	loop := NewLoop("node-A", "10.0.0.1:7400", bootstrap, directory.New(), peerapi.NewClient(time.Minute), time.Hour)
	loop.Start(context.Background())
	waitFor(t, func() bool { return atomic.LoadInt64(&arrived) >= 1 })

	stopped := make(chan struct{})
	go func() {
		loop.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked on a round with queued peer contacts")
	}
}

func TestTargetsDeduplicatesBootstrapAndDirectory(t *testing.T) {
	dir := directory.New()
	dir.Upsert("peer-1", directory.PeerRecord{Address: "http://peer1.local:7400"})

	loop := NewLoop("node-A", "10.0.0.1:7400",
		[]string{"peer1.local:7400", "peer2.local:7400"},
		dir, peerapi.NewClient(time.Second), time.Hour)

	targets := loop.targets()
	if len(targets) != 2 {
		t.Fatalf("Expected 2 deduplicated targets, got %v", targets)
	}
	if targets[0] != "peer1.local:7400" || targets[1] != "peer2.local:7400" {
		t.Errorf("Unexpected targets: %v", targets)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("Condition never became true")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
