package handler

import (
	"log/slog"
	"net/http"
	"regexp"

	"github.com/angeloszaimis/resilience/internal/dedupe"
)

type invalidateResponse struct {
	Removed   int `json:"removed"`
	Remaining int `json:"remaining"`
}

// InvalidateCache serves DELETE /cache. Exactly one of key, contains, regex
// or all=true selects what to drop.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	given := 0
	for _, param := range []string{"key", "contains", "regex", "all"} {
		if values.Has(param) {
			given++
		}
	}
	if given != 1 {
		h.writeError(w, r, http.StatusBadRequest, errorBody{Error: "exactly one of key, contains, regex or all is required"})
		return
	}

	var removed int
	switch {
	case values.Has("key"):
		if h.cache.Invalidate(values.Get("key")) {
			removed = 1
		}

	case values.Has("contains"):
		if values.Get("contains") == "" {
			h.writeError(w, r, http.StatusBadRequest, errorBody{Error: "contains must not be empty"})
			return
		}
		removed = h.cache.InvalidatePattern(dedupe.Contains(values.Get("contains")))

	case values.Has("regex"):
		re, err := regexp.Compile(values.Get("regex"))
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, errorBody{Error: "invalid regex: " + err.Error()})
			return
		}
		removed = h.cache.InvalidatePattern(re)

	default:
		if values.Get("all") != "true" {
			h.writeError(w, r, http.StatusBadRequest, errorBody{Error: "all must be true"})
			return
		}
		removed = h.cache.Size()
		h.cache.Clear()
	}

	h.logger.Info("Cache invalidated",
		slog.String("request_id", RequestID(r.Context())),
		slog.Int("removed", removed))
	h.writeJSON(w, http.StatusOK, invalidateResponse{Removed: removed, Remaining: h.cache.Size()})
}
