package userdata

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/medprep/qbank/internal/auth"
)

const maxSyncBody = 4 << 20

// Handler serves the sync endpoints. Every request is authenticated through
// the session provider's bearer token.
type Handler struct {
	store    Store
	sessions auth.SessionProvider
}

func NewHandler(store Store, sessions auth.SessionProvider) *Handler {
	return &Handler{store: store, sessions: sessions}
}

// Register mounts the sync routes.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/data/sync", h.handleGet)
	mux.HandleFunc("POST /api/data/sync", h.handlePost)
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		return "", false
	}
	username, err := h.sessions.UserForToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return "", false
	}
	return username, true
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	username, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	doc, err := h.store.Get(r.Context(), username)
	if err != nil {
		slog.Error("load user data failed", "user", username, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load user data"})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	username, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSyncBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	if err := ValidatePayload(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var upd Update
	if err := json.Unmarshal(body, &upd); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
		return
	}

	lastSync, err := h.store.Update(r.Context(), username, upd)
	if err != nil {
		slog.Error("update user data failed", "user", username, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save user data"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "lastSync": lastSync.Format(time.RFC3339Nano)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}
