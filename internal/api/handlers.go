package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/p-arndt/fabrik/internal/deploy"
	"github.com/p-arndt/fabrik/protocol"
)

type createSessionResponse struct {
	ID string `json:"id"`
}

type updateSessionResponse struct {
	Results     []string `json:"results"`
	Error       string   `json:"error,omitempty"`
	FailedIndex *int     `json:"failed_index,omitempty"`
}

func (s *Server) handleListEnvs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Names())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateSession
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateCreateSessionRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	s.logger.Debug("create session request", "env", req.EnvType, "image", req.Image.URI, "volumes", len(req.Options.Volumes))
	id, err := s.sessions.CreateSession(r.Context(), req)
	if err != nil {
		s.logger.Error("create session", "env", req.EnvType, "error", err)
		writeAPIError(w, err)
		return
	}
	s.logger.Debug("session created", "env", req.EnvType, "session_id", id)
	writeJSON(w, http.StatusCreated, createSessionResponse{ID: id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	env := chi.URLParam(r, "env")
	if err := ValidateEnvName(env); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	sessions, err := s.sessions.GetSessions(r.Context(), env)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if sessions == nil {
		sessions = []protocol.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	env, id, ok := s.sessionParams(w, r)
	if !ok {
		return
	}

	var req updateSessionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateUpdateSessionRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	s.logger.Debug("update session", "env", env, "session_id", id, "commands", len(req.Commands))
	results, err := s.sessions.UpdateSession(r.Context(), env, protocol.SessionUpdate{
		SessionID: id,
		Commands:  req.Commands,
	})
	if results == nil {
		results = []string{}
	}

	var batchErr *deploy.BatchError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, updateSessionResponse{Results: results})
	case errors.As(err, &batchErr):
		s.logger.Info("command batch failed", "env", env, "session_id", id, "index", batchErr.Index, "command", batchErr.Command, "error", batchErr.Err)
		idx := batchErr.Index
		writeJSON(w, http.StatusUnprocessableEntity, updateSessionResponse{
			Results:     results,
			Error:       batchErr.Err.Error(),
			FailedIndex: &idx,
		})
	default:
		code, status := classify(err)
		writeJSON(w, status, APIError{
			Code:    code,
			Message: err.Error(),
			Details: map[string]any{"results": results},
		})
	}
}

func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	env, id, ok := s.sessionParams(w, r)
	if !ok {
		return
	}

	s.logger.Debug("destroy session", "env", env, "session_id", id)
	msg, err := s.sessions.DestroySession(r.Context(), env, id)
	if err != nil {
		s.logger.Error("destroy", "env", env, "session_id", id, "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) sessionParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	env := chi.URLParam(r, "env")
	if err := ValidateEnvName(env); err != nil {
		writeValidationError(w, err.Error(), nil)
		return "", "", false
	}
	id := chi.URLParam(r, "id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return "", "", false
	}
	return env, id, true
}
