// Package httpapi exposes the module tracker over HTTP. Every response is
// wrapped in the {status, message, data} envelope; the envelope status —
// ok, error, need-force, not-implemented — is the API's error channel, so
// handlers answer 200 even for failed operations.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duckietown/dt-code-api/internal/docker"
	"github.com/duckietown/dt-code-api/internal/dtmodule"
	"github.com/duckietown/dt-code-api/internal/logging"
	"github.com/duckietown/dt-code-api/internal/registry"
	"github.com/duckietown/dt-code-api/internal/runner"
	"github.com/duckietown/dt-code-api/internal/store"
)

// APIVersion is reported by the /version route.
const APIVersion = "1.1"

// CheckerStepper triggers an out-of-band reconciliation pass.
type CheckerStepper interface {
	Step(ctx context.Context) error
}

// UpdateStarter spawns a module update job.
type UpdateStarter interface {
	Start(ctx context.Context, mod *dtmodule.Module) (string, error)
}

// RunStarter spawns a run-container job.
type RunStarter interface {
	Start(ctx context.Context, mod *dtmodule.Module, opts runner.Options) string
}

// HistoryLister reads the persisted update history.
type HistoryLister interface {
	ListHistory(limit int) ([]store.UpdateRecord, error)
}

// Dependencies defines what the HTTP facade needs from the rest of the
// application.
type Dependencies struct {
	Registry *registry.Registry
	Checker  CheckerStepper
	Updater  UpdateStarter
	Runner   RunStarter
	Docker   docker.API
	History  HistoryLister
	Log      *logging.Logger
}

// Server is the control-plane HTTP server.
type Server struct {
	deps Dependencies
	mux  *http.ServeMux
	// baseCtx outlives individual requests; background workers spawned by
	// handlers are bound to it, not to the request context.
	baseCtx context.Context
	server  *http.Server
}

// NewServer creates a Server with all routes registered. Workers spawned
// from handlers inherit baseCtx so process shutdown cancels them.
func NewServer(baseCtx context.Context, deps Dependencies) *Server {
	s := &Server{
		deps:    deps,
		mux:     http.NewServeMux(),
		baseCtx: baseCtx,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /version", s.apiVersion)
	s.mux.HandleFunc("GET /metrics", promhttp.Handler().ServeHTTP)

	s.mux.HandleFunc("GET /modules/info", s.apiModulesInfo)
	s.mux.HandleFunc("GET /modules/status", s.apiModulesStatus)
	s.mux.HandleFunc("GET /modules/update/all", s.apiModulesUpdateAll)
	s.mux.HandleFunc("GET /modules/update/history", s.apiModulesUpdateHistory)
	s.mux.HandleFunc("GET /module/update/{name}", s.apiModuleUpdate)

	s.mux.HandleFunc("GET /container/status/{name}", s.apiContainerStatus)
	s.mux.HandleFunc("GET /container/run/{module}", s.apiContainerRun)
	s.mux.HandleFunc("GET /container/{action}/{name}", s.apiContainerAction)
}

// Handler returns the route table, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.deps.Log.Info("code api listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// envelope is the fixed response wrapper of the API.
type envelope struct {
	Status  string  `json:"status"`
	Message *string `json:"message"`
	Data    any     `json:"data"`
}

func writeEnvelope(w http.ResponseWriter, status string, message string, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	env := envelope{Status: status, Data: data}
	if message != "" {
		env.Message = &message
	}
	_ = json.NewEncoder(w).Encode(env)
}

func writeOK(w http.ResponseWriter, data any) {
	writeEnvelope(w, "ok", "", data)
}

func writeError(w http.ResponseWriter, message string) {
	writeEnvelope(w, "error", message, nil)
}

func writeNeedForce(w http.ResponseWriter, message string) {
	writeEnvelope(w, "need-force", message, nil)
}

func writeNotImplemented(w http.ResponseWriter, action string) {
	writeEnvelope(w, "not-implemented", "Action "+action+" not implemented!", nil)
}

// truthy interprets the loose boolean query arguments of the API.
func truthy(v string) bool {
	switch v {
	case "1", "yes", "true", "Yes", "True", "YES", "TRUE":
		return true
	}
	return false
}

func (s *Server) apiVersion(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]string{"version": APIVersion})
}
