package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"hairlab/internal/httpx"
	"hairlab/internal/strategystore"
)

type selectionRequest struct {
	SessionID string `json:"sessionId"`
	AttemptID string `json:"attemptId"`
}

// handleSelection records which variation the user picked for a session and
// applies the score update. The evolution check runs asynchronously inside
// the engine; the response only reflects the selection itself.
func (s *apiServer) handleSelection(w http.ResponseWriter, r *http.Request) {
	var body selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sessionID := strings.TrimSpace(body.SessionID)
	attemptID := strings.TrimSpace(body.AttemptID)
	if sessionID == "" || attemptID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "sessionId and attemptId are required")
		return
	}

	if err := s.eng.RecordSelection(r.Context(), sessionID, attemptID); err != nil {
		switch {
		case errors.Is(err, strategystore.ErrNoWinner):
			httpx.WriteError(w, http.StatusNotFound, "attempt not found in session")
		default:
			httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": sessionID,
		"attemptId": attemptID,
	})
}

// handleEvolve forces a synchronous evolution check, mainly for operators
// and tests; the normal trigger is the post-selection background check.
func (s *apiServer) handleEvolve(w http.ResponseWriter, r *http.Request) {
	res := s.eng.Evolve(r.Context())
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.eng.Status(r.Context()))
}
