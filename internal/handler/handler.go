package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/resilience/internal/circuitbreaker"
	"github.com/angeloszaimis/resilience/internal/dedupe"
	"github.com/angeloszaimis/resilience/internal/guard"
	"github.com/angeloszaimis/resilience/internal/upstream"
)

// DefaultFanOut bounds how many sources one request fetches concurrently.
const DefaultFanOut = 8

type Handler struct {
	logger   *slog.Logger
	sources  *upstream.Set
	guard    *guard.Guard[json.RawMessage]
	breakers *circuitbreaker.Registry
	cache    *dedupe.Deduplicator[json.RawMessage]
	fanOut   int
}

func New(
	logger *slog.Logger,
	sources *upstream.Set,
	g *guard.Guard[json.RawMessage],
	breakers *circuitbreaker.Registry,
	cache *dedupe.Deduplicator[json.RawMessage],
	fanOut int,
) *Handler {
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}

	return &Handler{
		logger:   logger,
		sources:  sources,
		guard:    g,
		breakers: breakers,
		cache:    cache,
		fanOut:   fanOut,
	}
}

// Register adds every route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ecosystem/{source}", h.GetSource)
	mux.HandleFunc("GET /ecosystem", h.GetSources)
	mux.HandleFunc("GET /circuits", h.ListCircuits)
	mux.HandleFunc("POST /circuits/reset", h.ResetCircuits)
	mux.HandleFunc("POST /circuits/{name}/reset", h.ResetCircuit)
	mux.HandleFunc("POST /circuits/{name}/trip", h.TripCircuit)
	mux.HandleFunc("DELETE /cache", h.InvalidateCache)
}
