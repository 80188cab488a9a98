package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridmesh/gridmesh/admission"
	"github.com/gridmesh/gridmesh/capacity"
	"github.com/gridmesh/gridmesh/directory"
	"github.com/gridmesh/gridmesh/ledger"
	"github.com/gridmesh/gridmesh/peerapi"
	"github.com/gridmesh/gridmesh/util/logger"
	"github.com/gridmesh/gridmesh/workload"
)

// Server is the node's HTTP surface, shared by end users and peers: the
// same POST /workloads that users call is what admission forwarding calls
// on other nodes.
type Server struct {
	nodeID        string
	advertiseAddr string
	capacity      capacity.Capacity
	cooperative   peerapi.Cooperative
	startedAt     time.Time

	dir       *directory.Directory
	admission *admission.Controller
	manager   *workload.Manager
	ledger    *ledger.Ledger
	staleness time.Duration

	httpServer *http.Server
	logger     *logger.Logger
}

// Options carries the wiring for a Server.
type Options struct {
	NodeID        string
	ListenAddr    string
	AdvertiseAddr string
	Capacity      capacity.Capacity
	Cooperative   peerapi.Cooperative

	Directory *directory.Directory
	Admission *admission.Controller
	Manager   *workload.Manager
	Ledger    *ledger.Ledger
}

func New(opts Options) *Server {
	s := &Server{
		nodeID:        opts.NodeID,
		advertiseAddr: opts.AdvertiseAddr,
		capacity:      opts.Capacity,
		cooperative:   opts.Cooperative,
		startedAt:     time.Now(),
		dir:           opts.Directory,
		admission:     opts.Admission,
		manager:       opts.Manager,
		ledger:        opts.Ledger,
		staleness:     directory.DefaultStalenessWindow,
		logger:        logger.NewLogger(fmt.Sprintf("Server@%s", opts.NodeID)),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /discovery", s.handleDiscovery)
	mux.HandleFunc("POST /peers", s.handleRegisterPeer)
	mux.HandleFunc("GET /peers", s.handleListPeers)
	mux.HandleFunc("POST /workloads", s.handleSubmitWorkload)
	mux.HandleFunc("GET /workloads", s.handleListWorkloads)
	mux.HandleFunc("GET /workloads/{id}", s.handleWorkloadStatus)
	mux.HandleFunc("DELETE /workloads/{id}", s.handleStopWorkload)
	mux.HandleFunc("GET /workloads/{id}/logs", s.handleWorkloadLogs)
	mux.HandleFunc("POST /credits", s.handleAddCredits)
	mux.HandleFunc("GET /balances/{id}", s.handleBalance)
	mux.HandleFunc("GET /transactions/{id}", s.handleTransactions)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         opts.ListenAddr,
		Handler:      s.logRequests(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Infof("HTTP server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("HTTP server failed: %v", err)
		}
	}()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debugf("%s %s (%v)", r.Method, r.URL.Path, time.Since(start))
	})
}

// nodeInfo is this node's self-description, served on /discovery and as the
// reply to peer registrations.
func (s *Server) nodeInfo() peerapi.NodeInfo {
	return peerapi.NodeInfo{
		ID:          s.nodeID,
		Address:     s.advertiseAddr,
		Capacity:    s.capacity,
		Cooperative: s.cooperative,
	}
}
