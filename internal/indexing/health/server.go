package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vietddude/activitywatch/internal/core/domain"
)

// AccountService manages the watch list at runtime.
type AccountService interface {
	ListAccounts(ctx context.Context) ([]domain.WatchedAccount, error)
	Watch(ctx context.Context, address, label string) error
	Unwatch(ctx context.Context, address string) error
	Events(ctx context.Context, address string, limit int) ([]*domain.ActivityEvent, error)
}

// Server provides HTTP endpoints for health monitoring and account management.
type Server struct {
	monitor  *Monitor
	accounts AccountService
	server   *http.Server
	log      *slog.Logger
}

// NewServer creates a new health server. The WebSocket handler is mounted
// at /ws when ws is not nil.
func NewServer(monitor *Monitor, accounts AccountService, ws http.Handler, port int) *Server {
	s := &Server{
		monitor:  monitor,
		accounts: accounts,
		log:      slog.Default().With("component", "http"),
	}
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.routes(ws),
	}
	return s
}

func (s *Server) routes(ws http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/health/detailed", s.handleDetailed).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	if s.accounts != nil {
		r.HandleFunc("/accounts", s.handleListAccounts).Methods("GET")
		r.HandleFunc("/accounts/{address}", s.handleWatch).Methods("PUT")
		r.HandleFunc("/accounts/{address}", s.handleUnwatch).Methods("DELETE")
		r.HandleFunc("/accounts/{address}/events", s.handleEvents).Methods("GET")
	}
	if ws != nil {
		r.Handle("/ws", ws).Methods("GET")
	}
	return r
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	code := http.StatusOK
	if report.SystemStatus == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status": string(report.SystemStatus),
		"engine": string(report.EngineState),
	})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.CheckHealth(r.Context()))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.ListAccounts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

type watchRequest struct {
	Label string `json:"label"`
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	var req watchRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}

	if err := s.accounts.Watch(r.Context(), address, req.Label); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": address, "status": "watching"})
}

func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if err := s.accounts.Unwatch(r.Context(), address); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	events, err := s.accounts.Events(r.Context(), address, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidAddress):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrAccountNotFound):
		code = http.StatusNotFound
	default:
		s.log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
