package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"hairlab/internal/engine"
	"hairlab/internal/genimg"
	"hairlab/internal/httpx"
	"hairlab/internal/strategy"
	"hairlab/internal/strategystore"
)

// variationsRequest is the JSON body shared by the batch, stream, and
// single-shot endpoints. User image arrives as base64; the reference as
// base64 or a URL.
type variationsRequest struct {
	Image                string   `json:"image"`
	MimeType             string   `json:"mimeType"`
	ReferenceImage       string   `json:"referenceImage,omitempty"`
	ReferenceMimeType    string   `json:"referenceMimeType,omitempty"`
	ReferenceImageURL    string   `json:"referenceImageUrl,omitempty"`
	SessionID            string   `json:"sessionId,omitempty"`
	StrategyIDs          []string `json:"strategyIds,omitempty"`
	UseDynamicStrategies bool     `json:"useDynamicStrategies,omitempty"`
	Count                int      `json:"count,omitempty"`
}

// toEngineRequest validates the body and materializes both images,
// downloading the reference when it was supplied by URL.
func (s *apiServer) toEngineRequest(r *http.Request, body variationsRequest) (engine.GenerateRequest, error) {
	if strings.TrimSpace(body.Image) == "" {
		return engine.GenerateRequest{}, fmt.Errorf("user image is required")
	}
	userData, err := base64.StdEncoding.DecodeString(body.Image)
	if err != nil {
		return engine.GenerateRequest{}, fmt.Errorf("user image is not valid base64: %w", err)
	}
	req := engine.GenerateRequest{
		SessionID:            strings.TrimSpace(body.SessionID),
		UserImage:            strategy.Image{MIME: orMime(body.MimeType), Data: userData},
		StrategyIDs:          body.StrategyIDs,
		UseDynamicStrategies: body.UseDynamicStrategies,
		Count:                body.Count,
	}

	switch {
	case strings.TrimSpace(body.ReferenceImageURL) != "":
		ref, err := s.fetcher.Fetch(r.Context(), body.ReferenceImageURL)
		if err != nil {
			return engine.GenerateRequest{}, fmt.Errorf("failed to download reference image: %w", err)
		}
		req.ReferenceImage = ref
		req.ReferenceRef = strings.TrimSpace(body.ReferenceImageURL)
	case strings.TrimSpace(body.ReferenceImage) != "":
		refData, err := base64.StdEncoding.DecodeString(body.ReferenceImage)
		if err != nil {
			return engine.GenerateRequest{}, fmt.Errorf("reference image is not valid base64: %w", err)
		}
		req.ReferenceImage = strategy.Image{MIME: orMime(body.ReferenceMimeType), Data: refData}
		req.ReferenceRef = "inline"
	default:
		return engine.GenerateRequest{}, fmt.Errorf("reference image is required")
	}
	return req, nil
}

func orMime(m string) string {
	if strings.TrimSpace(m) == "" {
		return "image/jpeg"
	}
	return m
}

func (s *apiServer) handleVariations(w http.ResponseWriter, r *http.Request) {
	var body variationsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req, err := s.toEngineRequest(r, body)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.eng.GenerateBatch(r.Context(), req)
	switch {
	case errors.Is(err, engine.ErrAllFailed):
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"success":    false,
			"error":      "all generations failed",
			"sessionId":  result.SessionID,
			"variations": result.Variations,
		})
		return
	case errors.Is(err, strategystore.ErrUnknownStrategy):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"sessionId":      result.SessionID,
		"variations":     result.Variations,
		"totalGenerated": result.TotalGenerated,
		"totalPassed":    result.TotalPassed,
	})
}

// handleVariationsStream emits SSE events as each parallel attempt
// completes; ordering is completion order, tagged by index.
func (s *apiServer) handleVariationsStream(w http.ResponseWriter, r *http.Request) {
	var body variationsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req, err := s.toEngineRequest(r, body)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var mu sync.Mutex
	emit := func(ev engine.Event) {
		mu.Lock()
		defer mu.Unlock()
		payload, err := json.Marshal(ev)
		if err != nil {
			log.Printf("stream: marshal event: %v", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	if _, err := s.eng.GenerateStream(r.Context(), req, emit); err != nil && !errors.Is(err, engine.ErrAllFailed) {
		emit(engine.Event{Type: "error", Error: err.Error()})
	}
}

func (s *apiServer) handleSingleVariation(w http.ResponseWriter, r *http.Request) {
	var body variationsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req, err := s.toEngineRequest(r, body)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	v, err := s.eng.GenerateOne(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		var bErr *genimg.BlockedError
		if errors.As(err, &bErr) {
			status = http.StatusUnprocessableEntity
		}
		if errors.Is(err, strategystore.ErrUnknownStrategy) {
			status = http.StatusBadRequest
		}
		httpx.WriteJSON(w, status, map[string]any{
			"success":   false,
			"error":     err.Error(),
			"sessionId": req.SessionID,
			"variation": v,
		})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": req.SessionID,
		"variation": v,
	})
}
