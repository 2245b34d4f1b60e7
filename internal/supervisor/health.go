package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/cerebrum/internal/logger"
	"github.com/dyluth/cerebrum/pkg/broker"
)

// Status is what the health endpoint reports on.
type Status interface {
	Running() bool
	Stats() broker.Stats
	Transport() string
	Ping(ctx context.Context) error
}

// HealthServer serves GET /healthz.
type HealthServer struct {
	addr     string
	status   Status
	server   *http.Server
	listener net.Listener
}

// HealthResponse is the JSON body of /healthz.
type HealthResponse struct {
	Status    string       `json:"status"`
	Running   bool         `json:"running"`
	Transport string       `json:"transport"`
	Broker    broker.Stats `json:"broker"`
	Redis     string       `json:"redis,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// NewHealthServer creates a health server listening on addr.
func NewHealthServer(addr string, status Status) *HealthServer {
	return &HealthServer{addr: addr, status: status}
}

// Start binds the listener and serves in the background.
func (h *HealthServer) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}
	h.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)
	h.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("health", "Health server error", logger.Fields{"error": err.Error()})
		}
	}()
	logger.InfoCF("health", "Health server listening", logger.Fields{"addr": ln.Addr().String()})
	return nil
}

// Addr returns the bound address, or "" before Start.
func (h *HealthServer) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Shutdown stops the server.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// healthCheckHandler returns 200 while the run is live and Redis, when
// used, answers; 503 otherwise.
func (h *HealthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Running:   h.status.Running(),
		Transport: h.status.Transport(),
		Broker:    h.status.Stats(),
	}
	code := http.StatusOK

	if err := h.status.Ping(ctx); err != nil {
		response.Redis = "disconnected"
		response.Error = err.Error()
		response.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	} else if response.Transport == "redis" {
		response.Redis = "connected"
	}
	if !response.Running {
		response.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}
