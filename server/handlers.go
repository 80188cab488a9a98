package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gridmesh/gridmesh/directory"
	"github.com/gridmesh/gridmesh/peerapi"
	"github.com/gridmesh/gridmesh/util/errors"
	"github.com/gridmesh/gridmesh/util/uniqueid"
	"github.com/gridmesh/gridmesh/workload"
)

type errorBody struct {
	Kind    errors.Kind `json:"kind"`
	Message string      `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	kind := errors.KindOf(err)
	writeErrorKind(w, statusFor(kind), kind, err.Error())
}

func writeErrorKind(w http.ResponseWriter, status int, kind errors.Kind, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Kind: kind, Message: message}})
}

func statusFor(kind errors.Kind) int {
	switch kind {
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindInvalidRequest:
		return http.StatusBadRequest
	case errors.KindInsufficientBalance:
		return http.StatusPaymentRequired
	case errors.KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":               s.nodeID,
		"address":          s.advertiseAddr,
		"uptimeSeconds":    int64(time.Since(s.startedAt).Seconds()),
		"capacity":         s.capacity,
		"peerCount":        s.dir.Count(s.staleness),
		"runningWorkloads": len(s.manager.Running()),
	})
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.nodeInfo())
}

func (s *Server) handleRegisterPeer(w http.ResponseWriter, r *http.Request) {
	var req peerapi.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewInvalidRequest(fmt.Sprintf("malformed peer registration: %v", err)))
		return
	}
	if req.ID == "" {
		writeError(w, errors.NewInvalidRequest("peer id is required"))
		return
	}

	if req.ID != s.nodeID {
		// Keep whatever capacity we already learned about this peer;
		// registration only carries identity and address.
		record := directory.PeerRecord{Address: req.Address}
		if prev, ok := s.dir.Get(req.ID); ok {
			record.Capacity = prev.Capacity
			record.Cooperative = prev.Cooperative
		}
		s.dir.Upsert(req.ID, record)
		s.logger.Debugf("Peer %s registered from %s", req.ID, req.Address)
	}

	writeJSON(w, http.StatusOK, s.nodeInfo())
}

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	peers := s.dir.List(s.staleness)
	writeJSON(w, http.StatusOK, map[string]interface{}{"peers": peers})
}

func (s *Server) handleSubmitWorkload(w http.ResponseWriter, r *http.Request) {
	var req peerapi.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewInvalidRequest(fmt.Sprintf("malformed workload request: %v", err)))
		return
	}
	if req.Image == "" && len(req.Command) == 0 {
		writeError(w, errors.NewInvalidRequest("workload needs an image or a command"))
		return
	}
	if req.ID == "" {
		req.ID = uniqueid.UniqueId()
	}
	if req.ConsumerID == "" {
		req.ConsumerID = s.nodeID
	}

	wl := &workload.Workload{
		ID:           req.ID,
		Image:        req.Image,
		Command:      req.Command,
		Env:          req.Env,
		Requirements: req.Requirements,
		ConsumerID:   req.ConsumerID,
	}

	decision := s.admission.Decide(wl)
	if decision.Accepted {
		// The workload outlives this request; its lifecycle is not tied to
		// the caller's connection.
		if err := s.manager.Execute(context.Background(), wl, false); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, peerapi.SubmitResponse{
			Accepted:   true,
			WorkloadID: wl.ID,
			Status:     string(workload.StatusAccepted),
			ProviderID: s.nodeID,
		})
		return
	}

	forwarded, err := s.admission.Forward(r.Context(), req)
	if err != nil {
		writeErrorKind(w, http.StatusServiceUnavailable, errors.KindNotFound,
			fmt.Sprintf("rejected locally (%s) and no peer accepted the workload", decision.Reason))
		return
	}
	writeJSON(w, http.StatusOK, forwarded)
}

func (s *Server) handleListWorkloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"workloads": s.manager.List()})
}

func (s *Server) handleWorkloadStatus(w http.ResponseWriter, r *http.Request) {
	wl, err := s.manager.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

func (s *Server) handleStopWorkload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Stop(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": string(workload.StatusStopped),
	})
}

func (s *Server) handleWorkloadLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	output, err := s.manager.Logs(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"workloadId": id,
		"output":     output,
	})
}

type addCreditsRequest struct {
	ID     string  `json:"id"`
	Amount float64 `json:"amount"`
	Reason string  `json:"reason,omitempty"`
}

func (s *Server) handleAddCredits(w http.ResponseWriter, r *http.Request) {
	var req addCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewInvalidRequest(fmt.Sprintf("malformed credit request: %v", err)))
		return
	}
	if req.ID == "" {
		writeError(w, errors.NewInvalidRequest("identity id is required"))
		return
	}

	transfer, err := s.ledger.AddCredits(req.ID, req.Amount, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"balance": s.ledger.Balance(id),
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.History(r.PathValue("id"), 100))
}
