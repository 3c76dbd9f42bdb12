// Package server is the HTTP surface: health probes, account endpoints, the
// userdata sync API, the performance export, and the websocket session event
// feed. All domain semantics live in the inner packages; handlers here only
// translate HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/medprep/qbank/internal/auth"
	"github.com/medprep/qbank/internal/report"
	"github.com/medprep/qbank/internal/userdata"
)

// Config holds the server's collaborators. Registry being nil is a valid
// configuration: account, sync, and report routes are simply not mounted.
type Config struct {
	Registry auth.Registry
	UserData userdata.Store
	Events   *EventHub
	Ready    func(ctx context.Context) error
}

// Server mounts the HTTP routes over the configured collaborators.
type Server struct {
	registry auth.Registry
	userdata userdata.Store
	events   *EventHub
	ready    func(ctx context.Context) error
	mux      *http.ServeMux
}

// New builds the route table.
func New(cfg Config) *Server {
	s := &Server{
		registry: cfg.Registry,
		userdata: cfg.UserData,
		events:   cfg.Events,
		ready:    cfg.Ready,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)

	if s.registry != nil {
		s.mux.HandleFunc("POST /api/auth/register", s.handleRegister)
		s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
		if s.userdata != nil {
			userdata.NewHandler(s.userdata, s.registry).Register(s.mux)
			s.mux.HandleFunc("GET /api/report/performance.xlsx", s.handleReport)
		}
	}
	if s.events != nil {
		s.mux.HandleFunc("GET /api/session/events", s.events.handleSubscribe)
	}
	return s
}

// Handler returns the assembled route table.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}

	token, err := s.registry.Register(r.Context(), creds.Username, creds.Password)
	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Msg})
	case errors.Is(err, auth.ErrUserExists):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "username already taken"})
	case err != nil:
		slog.Error("register failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registration failed"})
	default:
		writeJSON(w, http.StatusCreated, map[string]string{"token": token})
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}

	token, err := s.registry.Login(r.Context(), creds.Username, creds.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid username or password"})
	case err != nil:
		slog.Error("login failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	username, ok := s.bearerUser(w, r)
	if !ok {
		return
	}

	doc, err := s.userdata.Get(r.Context(), username)
	if err != nil {
		slog.Error("load performance failed", "user", username, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load performance"})
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="performance.xlsx"`)
	if err := report.WriteXLSX(w, doc.Performance); err != nil {
		slog.Error("report export failed", "user", username, "error", err)
	}
}

func (s *Server) bearerUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		return "", false
	}
	username, err := s.registry.UserForToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return "", false
	}
	return username, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}
