package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/angeloszaimis/resilience/internal/circuitbreaker"
	"github.com/angeloszaimis/resilience/internal/retry"
)

type errorBody struct {
	Error          string `json:"error"`
	Source         string `json:"source,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", slog.Any("err", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, body errorBody) {
	body.RequestID = RequestID(r.Context())
	h.writeJSON(w, status, body)
}

// failure maps an error from a guarded fetch to a response status, body and
// Retry-After value. An open circuit becomes 503, a deadline 504 and anything
// else the upstream did 502.
func failure(err error) (int, errorBody, string) {
	body := errorBody{Error: err.Error()}

	var openErr *circuitbreaker.CircuitOpenError
	if errors.As(err, &openErr) {
		retryAfter := int(math.Ceil(openErr.RetryAfter.Seconds()))
		return http.StatusServiceUnavailable, body, strconv.Itoa(max(retryAfter, 1))
	}

	var statusErr *retry.StatusError
	if errors.As(err, &statusErr) {
		body.UpstreamStatus = statusErr.StatusCode
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, body, ""
	}

	return http.StatusBadGateway, body, ""
}
