// Package httpapi exposes the radscribe REST and WebSocket surface: the
// report repository CRUD and search routes, the AI formatting endpoint,
// per-user settings, report export downloads, and the live dictation
// stream.
//
// Handlers translate domain errors to HTTP status codes and keep all
// business logic in the packages they call into. Error bodies are JSON
// objects with a single "message" field.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/mwaldt/radscribe/internal/export"
	"github.com/mwaldt/radscribe/internal/format"
	"github.com/mwaldt/radscribe/internal/observe"
	"github.com/mwaldt/radscribe/internal/store"
	"github.com/mwaldt/radscribe/pkg/provider/stt"
)

// Server holds the handler dependencies. Construct with New and mount
// with Register.
type Server struct {
	store     store.Store
	gateway   *format.Gateway
	stt       stt.Provider
	metrics   *observe.Metrics
	log       *slog.Logger
	renderers map[string]export.Renderer

	// formatMu guards formatBusy: at most one formatting call in flight
	// per report.
	formatMu   sync.Mutex
	formatBusy map[string]struct{}
}

// Option is a functional option for New.
type Option func(*Server)

// WithSTT enables the dictation WebSocket endpoint. Without it the
// endpoint reports speech recognition as unsupported.
func WithSTT(p stt.Provider) Option {
	return func(s *Server) { s.stt = p }
}

// WithMetrics sets the metrics instance. Default: observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithRenderer registers an export renderer under the given format name.
// The "text" renderer is registered by default.
func WithRenderer(name string, r export.Renderer) Option {
	return func(s *Server) { s.renderers[name] = r }
}

// New builds a Server over the given repository and formatting gateway.
func New(st store.Store, gw *format.Gateway, opts ...Option) *Server {
	s := &Server{
		store:   st,
		gateway: gw,
		log:     slog.Default(),
		renderers: map[string]export.Renderer{
			"text": export.TextRenderer{},
		},
		formatBusy: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Register mounts all API routes on mux. Health probes and /metrics are
// mounted by the app, not here.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/reports", s.handleListReports)
	mux.HandleFunc("POST /api/reports", s.handleCreateReport)
	mux.HandleFunc("GET /api/reports/search", s.handleSearchReports)
	mux.HandleFunc("GET /api/reports/similar", s.handleSimilarReports)
	mux.HandleFunc("GET /api/reports/{id}", s.handleGetReport)
	mux.HandleFunc("PATCH /api/reports/{id}", s.handleUpdateReport)
	mux.HandleFunc("DELETE /api/reports/{id}", s.handleDeleteReport)
	mux.HandleFunc("GET /api/reports/{id}/export", s.handleExportReport)
	mux.HandleFunc("POST /api/format-report", s.handleFormatReport)
	mux.HandleFunc("GET /api/settings/{userID}", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleSaveSettings)
	mux.HandleFunc("GET /api/dictation", s.handleDictation)
}

// errorBody is the JSON error response shape.
type errorBody struct {
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encode response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorBody{Message: msg})
}

// writeStoreError maps repository errors: ErrNotFound becomes 404,
// anything else a logged 500.
func (s *Server) writeStoreError(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	s.log.Error("store operation failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "Internal server error")
}
