package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/icfleet/fleetd/internal/proposal"
)

// Server wraps the HTTP server and mux for the fleetd read-only API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// ServerConfig wires the collaborators the handlers render.
type ServerConfig struct {
	ListenAddress string
	Port          int
	AdminToken    string

	Snapshots SnapshotProvider
	Health    HealthProvider
	Rollout   RolloutPlanner
	Proposals proposal.Agent
}

// NewServer creates a new API server wired with all routes.
func NewServer(cfg ServerConfig) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz())
	mux.Handle("GET /metrics", promhttp.Handler())

	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/nodes", HandleListNodes(cfg.Snapshots, cfg.Health))
	authed.Handle("GET /api/v1/subnets", HandleListSubnets(cfg.Snapshots))
	authed.Handle("GET /api/v1/targets/{job}", HandleTargets(cfg.Snapshots))
	if cfg.Rollout != nil {
		authed.Handle("GET /api/v1/rollout", HandleRolloutPlan(cfg.Rollout))
	}
	if cfg.Proposals != nil {
		authed.Handle("GET /api/v1/proposals", HandleListProposals(cfg.Proposals))
	}
	mux.Handle("/api/", AuthMiddleware(cfg.AdminToken, authed))

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.Port),
			Handler: RequestIDMiddleware(mux),
		},
		mux: mux,
	}
}

// Handler exposes the root handler for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe blocks serving the API.
func (s *Server) ListenAndServe() error { return s.httpServer.ListenAndServe() }

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error { return s.httpServer.Shutdown(ctx) }
