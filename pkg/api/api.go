// Package api is the operator-facing HTTP surface: placing calls,
// inspecting sessions, and aborting them. It sits next to the gateway
// webhook on the same server; the CLI's call/status/abort commands are
// its clients.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/krishnanand20/audiosurvey-ai/pkg/engine"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey/store"
)

// Handler serves the admin API under /api/.
type Handler struct {
	engine *engine.Engine
	logger *slog.Logger

	// Questions is the default question list for calls placed without
	// one.
	Questions []survey.Question
}

// NewHandler creates the admin API handler.
func NewHandler(e *engine.Engine, questions []survey.Question, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: e, logger: logger, Questions: questions}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("GET /api/sessions", h.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", h.getSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.abortSession)
}

// CreateRequest is the body of POST /api/sessions.
type CreateRequest struct {
	Destination string            `json:"destination"`
	Participant string            `json:"participantId,omitempty"`
	Questions   []survey.Question `json:"questions,omitempty"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Destination) == "" {
		httpError(w, http.StatusBadRequest, "destination is required")
		return
	}
	questions := req.Questions
	if len(questions) == 0 {
		questions = h.Questions
	}
	if len(questions) == 0 {
		httpError(w, http.StatusBadRequest, "no questions configured")
		return
	}

	s, err := h.engine.CreateSession(r.Context(), engine.CreateParams{
		Destination:   req.Destination,
		ParticipantID: req.Participant,
		Questions:     questions,
	})
	if err != nil {
		h.logger.Warn("api: create session failed", "destination", req.Destination, "err", err)
		httpError(w, http.StatusBadGateway, "call placement failed")
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.Sessions(r.Context())
	if err != nil {
		h.logger.Error("api: list sessions failed", "err", err)
		httpError(w, http.StatusInternalServerError, "session listing failed")
		return
	}
	if sessions == nil {
		sessions = []*survey.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Snapshot(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		httpError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) abortSession(w http.ResponseWriter, r *http.Request) {
	err := h.engine.Abort(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		httpError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "abort failed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
