package handler

import (
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/resilience/internal/circuitbreaker"
)

// ListCircuits serves GET /circuits.
func (h *Handler) ListCircuits(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.breakers.AllStats())
}

// ResetCircuits serves POST /circuits/reset.
func (h *Handler) ResetCircuits(w http.ResponseWriter, r *http.Request) {
	h.breakers.ResetAll()
	h.logger.Info("All circuits reset", slog.String("request_id", RequestID(r.Context())))
	h.writeJSON(w, http.StatusOK, h.breakers.AllStats())
}

// ResetCircuit serves POST /circuits/{name}/reset.
func (h *Handler) ResetCircuit(w http.ResponseWriter, r *http.Request) {
	cb, ok := h.circuit(w, r)
	if !ok {
		return
	}

	cb.Reset()
	h.logger.Info("Circuit reset",
		slog.String("request_id", RequestID(r.Context())),
		slog.String("circuit", cb.Name()))
	h.writeJSON(w, http.StatusOK, cb.Stats())
}

// TripCircuit serves POST /circuits/{name}/trip.
func (h *Handler) TripCircuit(w http.ResponseWriter, r *http.Request) {
	cb, ok := h.circuit(w, r)
	if !ok {
		return
	}

	cb.Trip()
	h.logger.Warn("Circuit tripped manually",
		slog.String("request_id", RequestID(r.Context())),
		slog.String("circuit", cb.Name()))
	h.writeJSON(w, http.StatusOK, cb.Stats())
}

// circuit resolves the {name} path value. Breakers of configured sources are
// created on demand; other names must already exist.
func (h *Handler) circuit(w http.ResponseWriter, r *http.Request) (*circuitbreaker.CircuitBreaker, bool) {
	name := r.PathValue("name")

	if _, ok := h.sources.Get(name); ok {
		return h.breakers.Get(name), true
	}

	cb, ok := h.breakers.Lookup(name)
	if !ok {
		h.writeError(w, r, http.StatusNotFound, errorBody{Error: "unknown circuit", Source: name})
		return nil, false
	}
	return cb, true
}
