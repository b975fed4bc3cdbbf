package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/resilience/internal/dedupe"
	"github.com/angeloszaimis/resilience/internal/upstream"
)

type sourceResult struct {
	Source         string          `json:"source"`
	Data           json.RawMessage `json:"data,omitempty"`
	Error          string          `json:"error,omitempty"`
	UpstreamStatus int             `json:"upstream_status,omitempty"`
}

type ecosystemResponse struct {
	Email   string                  `json:"email"`
	Start   string                  `json:"start,omitempty"`
	End     string                  `json:"end,omitempty"`
	Results map[string]sourceResult `json:"results"`
}

var errDateRange = errors.New("start and end must both be set, as YYYY-MM-DD, with start not after end")

func parseQuery(r *http.Request) (upstream.Query, error) {
	values := r.URL.Query()
	q := upstream.Query{Email: strings.TrimSpace(values.Get("email"))}

	if err := validation.Validate(q.Email, validation.Required, is.EmailFormat); err != nil {
		return q, fmt.Errorf("email: %w", err)
	}

	rawStart, rawEnd := values.Get("start"), values.Get("end")
	if rawStart == "" && rawEnd == "" {
		return q, nil
	}
	if rawStart == "" || rawEnd == "" {
		return q, errDateRange
	}

	start, err := time.Parse(time.DateOnly, rawStart)
	if err != nil {
		return q, errDateRange
	}
	end, err := time.Parse(time.DateOnly, rawEnd)
	if err != nil || end.Before(start) {
		return q, errDateRange
	}

	q.Start, q.End = start, end
	return q, nil
}

func (h *Handler) fetch(ctx context.Context, src *upstream.Source, q upstream.Query) (json.RawMessage, error) {
	key := dedupe.EcosystemKey(src.Name(), q.Email, q.Start, q.End)
	return h.guard.Do(ctx, src.Name(), key, func(ctx context.Context) (json.RawMessage, error) {
		return src.Fetch(ctx, q)
	})
}

// GetSource serves GET /ecosystem/{source}.
func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("source")

	src, ok := h.sources.Get(name)
	if !ok {
		h.writeError(w, r, http.StatusNotFound, errorBody{Error: "unknown source", Source: name})
		return
	}

	q, err := parseQuery(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, errorBody{Error: err.Error(), Source: name})
		return
	}

	data, err := h.fetch(r.Context(), src, q)
	if err != nil {
		status, body, retryAfter := failure(err)
		body.Source = name
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		h.logger.Warn("Source fetch failed",
			slog.String("request_id", RequestID(r.Context())),
			slog.String("source", name),
			slog.Int("status", status),
			slog.Any("err", err))
		h.writeError(w, r, status, body)
		return
	}

	h.writeJSON(w, http.StatusOK, sourceResult{Source: name, Data: data})
}

// GetSources serves GET /ecosystem?sources=a,b. Every source is fetched
// concurrently and reported on its own; the request fails only on bad input.
func (h *Handler) GetSources(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	names := h.sources.Names()
	if raw := r.URL.Query().Get("sources"); raw != "" {
		names = nil
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" || slices.Contains(names, name) {
				continue
			}
			if _, ok := h.sources.Get(name); !ok {
				h.writeError(w, r, http.StatusBadRequest, errorBody{Error: "unknown source", Source: name})
				return
			}
			names = append(names, name)
		}
	}

	var (
		mutex   sync.Mutex
		results = make(map[string]sourceResult, len(names))
		group   errgroup.Group
	)
	group.SetLimit(h.fanOut)

	for _, name := range names {
		src, _ := h.sources.Get(name)
		group.Go(func() error {
			res := sourceResult{Source: name}

			data, err := h.fetch(r.Context(), src, q)
			if err != nil {
				_, body, _ := failure(err)
				res.Error = body.Error
				res.UpstreamStatus = body.UpstreamStatus
			} else {
				res.Data = data
			}

			mutex.Lock()
			results[name] = res
			mutex.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	resp := ecosystemResponse{Email: q.Email, Results: results}
	if !q.Start.IsZero() {
		resp.Start = q.Start.Format(time.DateOnly)
		resp.End = q.End.Format(time.DateOnly)
	}

	h.writeJSON(w, http.StatusOK, resp)
}
