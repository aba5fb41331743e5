package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tablechat/tablechat/internal/pipeline"
)

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUser(w, r)
	if !ok {
		return
	}
	namespace, ok := resolveNamespace(deps, w, r, owner)
	if !ok {
		return
	}
	var req askRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "EMPTY_QUESTION", "question is required", false, nil)
		return
	}

	sessionID := uuid.New()
	if req.SessionID != "" {
		parsed, err := uuid.Parse(req.SessionID)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SESSION_ID", "session_id is not a valid UUID", false, nil)
			return
		}
		sessionID = parsed
	}

	answers, err := deps.Pipeline.Ask(r.Context(), pipeline.Run{
		Namespace: namespace,
		SessionID: sessionID,
		Question:  req.Question,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "ASK_FAILED", err.Error(), false, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID.String(),
		"answers":    answers,
	})
}

func handleListSessions(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUser(w, r)
	if !ok {
		return
	}
	namespace, ok := resolveNamespace(deps, w, r, owner)
	if !ok {
		return
	}

	infos, err := deps.Sessions.ListSessions(r.Context(), namespace)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	sessions := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		sessions = append(sessions, map[string]any{
			"id":            info.ID.String(),
			"name":          info.Name,
			"created_at":    info.CreatedAt.UTC().Format(time.RFC3339),
			"message_count": info.MessageCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func sessionFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	sessionID, err := uuid.Parse(r.PathValue("session"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SESSION_ID", "session id is not a valid UUID", false, nil)
		return uuid.UUID{}, false
	}
	return sessionID, true
}

func handleDeleteSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUser(w, r)
	if !ok {
		return
	}
	namespace, ok := resolveNamespace(deps, w, r, owner)
	if !ok {
		return
	}
	sessionID, ok := sessionFromPath(w, r)
	if !ok {
		return
	}

	if err := deps.Sessions.DeleteSession(r.Context(), namespace, sessionID); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func handleClearSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUser(w, r)
	if !ok {
		return
	}
	namespace, ok := resolveNamespace(deps, w, r, owner)
	if !ok {
		return
	}
	sessionID, ok := sessionFromPath(w, r)
	if !ok {
		return
	}

	if err := deps.Sessions.ClearHistory(r.Context(), namespace, sessionID); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}
