package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/orbitalci/orbital/pkg/eventbus"
	"github.com/orbitalci/orbital/pkg/log"
	"github.com/orbitalci/orbital/pkg/metrics"
	"github.com/orbitalci/orbital/pkg/orchestrator"
	"github.com/orbitalci/orbital/pkg/storage"
)

// version is reported on /health. No build-info wiring exists yet.
// TODO: stamp from -ldflags at release time.
const version = "0.1.0"

// Server serves the orchestrator's HTTP surface: webhooks, workflow
// lifecycle endpoints, the event stream, and health/ready/metrics.
// Mirrors the teacher's HealthServer shape (a mux plus the collaborator
// it fronts) generalized from one manager to the orchestrator, store,
// and bus.
type Server struct {
	orch  *orchestrator.Orchestrator
	store storage.Store
	bus   *eventbus.Bus
	mux   *http.ServeMux
}

// NewServer builds a Server and registers every route.
func NewServer(orch *orchestrator.Orchestrator, store storage.Store, bus *eventbus.Bus) *Server {
	s := &Server{orch: orch, store: store, bus: bus, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /health", s.instrument("health", s.healthHandler))
	s.mux.HandleFunc("GET /ready", s.instrument("ready", s.readyHandler))
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.mux.HandleFunc("POST /workflows", s.instrument("workflow_create", s.createWorkflowHandler))
	s.mux.HandleFunc("GET /workflows/{id}", s.instrument("workflow_get", s.getWorkflowHandler))
	s.mux.HandleFunc("POST /workflows/{id}/cancel", s.instrument("workflow_cancel", s.cancelWorkflowHandler))

	s.mux.HandleFunc("POST /webhooks/pr-validation", s.instrument("webhook_pr_validation", s.prValidationHandler))
	s.mux.HandleFunc("POST /webhooks/pr-update", s.instrument("webhook_pr_update", s.prUpdateHandler))

	s.mux.HandleFunc("GET /events/stream", s.streamHandler)

	return s
}

// Start runs the HTTP server until it errors or the process exits.
// Timeout values match the teacher's HealthServer.Start exactly.
// WriteTimeout is 0 for the whole server, so no response (including the
// event stream's long-lived connections, see stream.go) is cut off by a
// write deadline.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	log.WithComponent("api").Info().Str("addr", addr).Msg("http server starting")
	return server.ListenAndServe()
}

// GetHandler returns the HTTP handler for embedding in other servers or
// httptest.
func (s *Server) GetHandler() http.Handler {
	return s.mux
}

// instrument wraps a handler with the APIRequestsTotal/APIRequestDuration
// metrics the teacher's metrics package already declares for this purpose.
func (s *Server) instrument(label string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, http.StatusText(sw.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, label)
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse is the /ready payload.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   version,
	})
}

// readyHandler checks the storage layer and event bus the way the
// teacher's readyHandler checks raft leadership and storage.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if s.store != nil {
		if _, err := s.store.ListWorkflows(); err != nil {
			checks["storage"] = "error: " + err.Error()
			ready = false
			message = "storage not accessible"
		} else {
			checks["storage"] = "ok"
		}
	} else {
		checks["storage"] = "not initialized"
	}

	if s.bus != nil {
		checks["event_bus"] = "ok"
	} else {
		checks["event_bus"] = "not initialized"
		ready = false
		if message == "" {
			message = "event bus not initialized"
		}
	}

	if s.orch == nil {
		checks["orchestrator"] = "not initialized"
		ready = false
		if message == "" {
			message = "orchestrator not initialized"
		}
	} else {
		checks["orchestrator"] = "ok"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the uniform JSON body for non-2xx responses.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
