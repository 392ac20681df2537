// Package meshserver is loadmeshd's HTTP surface: submission, status, and
// peer-invoke endpoints plus health/metrics, grounded in the teacher's
// pkg/api/server.go (http.NewServeMux route registration, promhttp.Handler
// wiring, withRecovery-style middleware) but scoped to spec.md §6's
// external interfaces instead of the teacher's intent/webhook API.
package meshserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loadmesh/loadmesh/pkg/audit"
	"github.com/loadmesh/loadmesh/pkg/orchestrator"
	"github.com/loadmesh/loadmesh/pkg/script"
)

// Version is the daemon build version reported on /v1/health.
const Version = "1.0.0"

// Server is loadmeshd's HTTP API.
type Server struct {
	mux    *http.ServeMux
	http   *http.Server
	audit  *audit.Log
	deps   orchestrator.Dependencies
	logger *slog.Logger
}

// NewServer wires the daemon's HTTP routes. deps is used as the template
// Dependencies for every submitted run; its RunID field is overwritten per
// request.
func NewServer(addr string, auditLog *audit.Log, deps orchestrator.Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{
		mux:    mux,
		audit:  auditLog,
		deps:   deps,
		logger: logger,
	}

	mux.HandleFunc("/v1/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/runs", s.handleSubmit)
	mux.HandleFunc("/v1/runs/", s.handleGetRun)
	mux.HandleFunc("/v1/peer-invoke", s.handlePeerInvoke)

	s.http = &http.Server{
		Addr:    addr,
		Handler: withRecovery(s.logger, mux),
	}
	return s
}

// Handler returns the daemon's top-level http.Handler, for embedding in a
// test harness's own httptest.Server rather than binding a real socket.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sc script.Script
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"invalid script body: %v"}`, err), http.StatusBadRequest)
		return
	}

	runID := uuid.NewString()
	deps := s.deps
	deps.RunID = runID

	if s.audit != nil {
		_ = s.audit.StartRun(r.Context(), runID, 0)
	}

	go orchestrator.Run(context.Background(), time.Now(), &sc, deps, func(rep orchestrator.Report, err error) {
		if s.audit == nil {
			return
		}
		if err != nil {
			_ = s.audit.FinishRun(context.Background(), runID, "failed", err.Error())
			return
		}
		_ = s.audit.FinishRun(context.Background(), runID, "success", rep.Message)
	})

	writeJSON(w, http.StatusAccepted, map[string]any{"runID": runID, "genesis": time.Now().UnixMilli()})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	runID := r.URL.Path[len("/v1/runs/"):]
	if runID == "" {
		http.Error(w, `{"error":"missing run id"}`, http.StatusBadRequest)
		return
	}
	if s.audit == nil {
		http.Error(w, `{"error":"audit log not configured"}`, http.StatusServiceUnavailable)
		return
	}

	status, err := s.audit.GetRun(r.Context(), runID)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"run not found: %v"}`, err), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handlePeerInvoke is the receiving side of spec.md §4.6's peer dispatch:
// a peer posts a sub-script here and this worker re-enters the
// orchestrator at the top, per spec.md §6 "Peers MUST treat the message as
// a fresh invocation".
func (s *Server) handlePeerInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sc script.Script
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"invalid script body: %v"}`, err), http.StatusBadRequest)
		return
	}

	deps := s.deps
	if sc.RunID != "" {
		deps.RunID = sc.RunID
	}

	go orchestrator.Run(context.Background(), time.Now(), &sc, deps, func(rep orchestrator.Report, err error) {
		if err != nil {
			s.logger.Error("peer-invoked sub-tree failed", "error", err)
		}
		if deps.Coordinator != nil {
			remaining, cerr := deps.Coordinator.Complete(context.Background(), deps.RunID)
			if cerr != nil {
				s.logger.Warn("failed to signal mesh completion", "error", cerr, "run_id", deps.RunID)
			} else {
				s.logger.Debug("mesh completion signaled", "run_id", deps.RunID, "remaining", remaining)
			}
		}
	})

	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withRecovery matches the teacher's panic-recovery middleware shape
// (pkg/api/server.go withRecovery) but logs via slog instead of fmt.Printf.
func withRecovery(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
