package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/ghostlog/recorder"
)

// Deps are what the handlers read from and poke at. Status is required.
type Deps struct {
	// Status returns the recorder snapshot.
	Status func() recorder.Status
	// RequestReload queues a reload; false means one is already pending.
	RequestReload func() bool
	// DB is the archive database, checked by /readyz when set.
	DB     *sql.DB
	Logger *slog.Logger
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps   Deps
	logger *slog.Logger
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{deps: deps, logger: logger.With(slog.String("component", "http"))}
}

// HandleStatus returns the recorder snapshot as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Status())
}

// HandleReload queues a configuration reload. Requests arriving while one is pending are
// coalesced into it.
func (h *Handlers) HandleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.RequestReload == nil {
		http.Error(w, "reload not available", http.StatusServiceUnavailable)
		return
	}
	result := "queued"
	if !h.deps.RequestReload() {
		result = "pending"
	}
	h.logger.Info("reload requested", slog.String("result", result), slog.String("remote_addr", r.RemoteAddr))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": result})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
