package main

import (
	"net/http"

	"hairlab/internal/engine"
	"hairlab/internal/httpx"
	"hairlab/internal/imagefetch"
)

// apiServer wires the engine to the HTTP surface.
type apiServer struct {
	eng     *engine.Engine
	fetcher *imagefetch.Fetcher
}

func newAPIServer(eng *engine.Engine, fetcher *imagefetch.Fetcher) *apiServer {
	return &apiServer{eng: eng, fetcher: fetcher}
}

func buildMux(s *apiServer, limiter *httpx.RateLimiter) *http.ServeMux {
	mux := http.NewServeMux()

	// Generation endpoints are the expensive ones; only they are limited.
	mux.Handle("POST /api/variations", limiter.Limit(http.HandlerFunc(s.handleVariations)))
	mux.Handle("POST /api/variations/stream", limiter.Limit(http.HandlerFunc(s.handleVariationsStream)))
	mux.Handle("POST /api/variation", limiter.Limit(http.HandlerFunc(s.handleSingleVariation)))

	mux.HandleFunc("POST /api/selection", s.handleSelection)
	mux.HandleFunc("POST /api/evolve", s.handleEvolve)
	mux.HandleFunc("GET /api/strategies/status", s.handleStatus)
	mux.HandleFunc("GET /api/strategies/watch", s.handleStrategyWatchWS)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	return mux
}
