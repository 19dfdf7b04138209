package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/drydock-sh/drydock/internal/config"
	"github.com/drydock-sh/drydock/internal/database"
	"github.com/drydock-sh/drydock/internal/middleware"
	"github.com/drydock-sh/drydock/internal/session"
)

type sessionResponse struct {
	ID           string `json:"id"`
	UserID       uint   `json:"user_id"`
	Profile      string `json:"profile"`
	Shell        string `json:"shell"`
	State        string `json:"state"`
	Environment  string `json:"environment"`
	RuntimeID    string `json:"runtime_id"`
	Cols         uint16 `json:"cols"`
	Rows         uint16 `json:"rows"`
	CreatedAt    string `json:"created_at"`
	ExpiresAt    string `json:"expires_at"`
	LastActivity string `json:"last_activity"`
}

func toSessionResponse(s *session.Session) sessionResponse {
	cols, rows := s.Geometry()
	return sessionResponse{
		ID:           s.ID,
		UserID:       s.UserID,
		Profile:      s.Profile,
		Shell:        s.Shell,
		State:        string(s.State()),
		Environment:  s.Name(),
		RuntimeID:    s.RuntimeID(),
		Cols:         cols,
		Rows:         rows,
		CreatedAt:    formatTimestamp(s.CreatedAt),
		ExpiresAt:    formatTimestamp(s.ExpiresAt),
		LastActivity: formatTimestamp(s.LastActivity()),
	}
}

// ListSessions returns the caller's sessions, or every session for admins.
func ListSessions(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var sessions []*session.Session
	if user.Role == "admin" {
		sessions = Registry.ListAll()
	} else {
		sessions = Registry.ListByUser(user.ID)
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, toSessionResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": resp})
}

// TerminateSession forcibly tears down a session. The attached client gets a
// termination notice and a short grace period before the environment is
// destroyed.
func TerminateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Session ID required")
		return
	}

	s, ok := Registry.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	reason := "terminated by administrator"
	s.NotifyTermination(reason)
	time.Sleep(config.Cfg.TerminationGrace)

	// Terminate must complete even if the admin's request is cancelled.
	if !Registry.Terminate(context.WithoutCancel(r.Context()), sessionID, reason) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

// SessionHistory returns recent audit records of ended sessions.
func SessionHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	logs, err := database.ListSessionLogs(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load session history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": logs})
}
