package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sdko-org/opsedge/internal/activity"
)

type sessionRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// PostActivity accepts a record from the dashboard. Delivery is
// asynchronous, so the response only confirms the record was accepted.
func (h *Handler) PostActivity(w http.ResponseWriter, r *http.Request) {
	var rec activity.LogRecord
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid activity record")
		return
	}
	if strings.TrimSpace(string(rec.Action)) == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	h.recorder.LogEvent(rec)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid session request")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	actor := activity.Actor{ID: req.ID, Name: req.Name, Email: req.Email}
	h.recorder.Login(actor, getClientIP(r), r.UserAgent())
	h.log.WithField("actor", actor.ID).Info("Session started")
	writeJSON(w, http.StatusCreated, actor)
}

func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	if !h.recorder.Session().Active() {
		writeError(w, http.StatusConflict, "no active session")
		return
	}
	flushed := h.recorder.Logout(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"flushed": flushed})
}

func (h *Handler) ActivityStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.recorder.Stats())
}

func (h *Handler) FlushActivity(w http.ResponseWriter, r *http.Request) {
	flushed := h.recorder.ForceFlush(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"flushed": flushed})
}
