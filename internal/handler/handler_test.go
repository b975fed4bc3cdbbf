package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/resilience/internal/circuitbreaker"
	"github.com/angeloszaimis/resilience/internal/dedupe"
	"github.com/angeloszaimis/resilience/internal/guard"
	"github.com/angeloszaimis/resilience/internal/handler"
	"github.com/angeloszaimis/resilience/internal/retry"
	"github.com/angeloszaimis/resilience/internal/upstream"
)

func noSleep(context.Context, time.Duration) error { return nil }

var _ = Describe("Handler", func() {
	var (
		ouraCalls  atomic.Int32
		whoopFails atomic.Bool
		registry   *circuitbreaker.Registry
		cache      *dedupe.Deduplicator[json.RawMessage]
		mux        *http.ServeMux
		h          *handler.Handler
	)

	newUpstream := func(body string, fail *atomic.Bool, calls *atomic.Int32) string {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls != nil {
				calls.Add(1)
			}
			if fail != nil && fail.Load() {
				http.Error(w, "down", http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, body)
		}))
		DeferCleanup(srv.Close)
		return srv.URL
	}

	BeforeEach(func() {
		ouraCalls.Store(0)
		whoopFails.Store(false)

		ouraURL := newUpstream(`{"sleep_score":82}`, nil, &ouraCalls)
		whoopURL := newUpstream(`{"strain":11.4}`, &whoopFails, nil)

		sources, err := upstream.NewSetFromConfig([]upstream.Config{
			{Name: "oura", URLs: []string{ouraURL}},
			{Name: "whoop", URLs: []string{whoopURL}},
		})
		Expect(err).NotTo(HaveOccurred())

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		registry = circuitbreaker.NewRegistry(circuitbreaker.Config{
			FailureThreshold: 1,
			SuccessThreshold: 1,
			ResetTimeout:     time.Hour,
		}, circuitbreaker.WithBreakerOptions(circuitbreaker.WithFailurePredicate(guard.CountsAsFailure)))
		cache = dedupe.New[json.RawMessage](dedupe.Config{TTL: time.Minute, CacheFailures: false})
		g := guard.New(registry, cache, logger,
			guard.WithRetryOptions(retry.WithMaxRetries(0), retry.WithSleep(noSleep)))

		h = handler.New(logger, sources, g, registry, cache, 0)
		mux = http.NewServeMux()
		h.Register(mux)
	})

	serve := func(method, target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.Middleware(mux).ServeHTTP(rec, httptest.NewRequest(method, target, nil))
		return rec
	}

	decode := func(rec *httptest.ResponseRecorder) map[string]any {
		var out map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &out)).To(Succeed())
		return out
	}

	Describe("GET /ecosystem/{source}", func() {
		It("should return the source payload", func() {
			rec := serve(http.MethodGet, "/ecosystem/oura?email=a@x.io")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
			Expect(rec.Body.String()).To(ContainSubstring(`"sleep_score":82`))
		})

		It("should serve repeated requests from the cache", func() {
			for range 3 {
				Expect(serve(http.MethodGet, "/ecosystem/oura?email=a@x.io").Code).To(Equal(http.StatusOK))
			}
			Expect(ouraCalls.Load()).To(Equal(int32(1)))
			Expect(cache.Size()).To(Equal(1))
		})

		It("should key the cache by date range", func() {
			serve(http.MethodGet, "/ecosystem/oura?email=a@x.io")
			serve(http.MethodGet, "/ecosystem/oura?email=a@x.io&start=2025-01-01&end=2025-01-07")

			Expect(ouraCalls.Load()).To(Equal(int32(2)))
			Expect(cache.InvalidatePattern(dedupe.Contains("_2025-01-01_2025-01-07"))).To(Equal(1))
		})

		It("should return 404 for an unknown source", func() {
			rec := serve(http.MethodGet, "/ecosystem/fitbit?email=a@x.io")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(decode(rec)).To(HaveKeyWithValue("source", "fitbit"))
		})

		DescribeTable("should reject invalid queries",
			func(query string) {
				rec := serve(http.MethodGet, "/ecosystem/oura?"+query)
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
				Expect(decode(rec)).To(HaveKey("request_id"))
			},
			Entry("missing email", ""),
			Entry("malformed email", "email=nope"),
			Entry("start without end", "email=a@x.io&start=2025-01-01"),
			Entry("bad date", "email=a@x.io&start=2025-13-01&end=2025-01-02"),
			Entry("reversed range", "email=a@x.io&start=2025-02-01&end=2025-01-01"),
		)

		It("should report upstream failures as 502 and then fail fast with 503", func() {
			whoopFails.Store(true)

			rec := serve(http.MethodGet, "/ecosystem/whoop?email=a@x.io")
			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			Expect(decode(rec)).To(HaveKeyWithValue("upstream_status", BeNumerically("==", 503)))

			rec = serve(http.MethodGet, "/ecosystem/whoop?email=b@x.io")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(rec.Header().Get("Retry-After")).To(Equal("3600"))
		})
	})

	Describe("GET /ecosystem", func() {
		It("should fetch every source and report failures per source", func() {
			whoopFails.Store(true)

			rec := serve(http.MethodGet, "/ecosystem?email=a@x.io&start=2025-01-01&end=2025-01-07")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp struct {
				Email   string `json:"email"`
				Start   string `json:"start"`
				Results map[string]struct {
					Data           json.RawMessage `json:"data"`
					Error          string          `json:"error"`
					UpstreamStatus int             `json:"upstream_status"`
				} `json:"results"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())

			Expect(resp.Email).To(Equal("a@x.io"))
			Expect(resp.Start).To(Equal("2025-01-01"))
			Expect(resp.Results).To(HaveLen(2))
			Expect(string(resp.Results["oura"].Data)).To(ContainSubstring("sleep_score"))
			Expect(resp.Results["whoop"].Error).NotTo(BeEmpty())
			Expect(resp.Results["whoop"].UpstreamStatus).To(Equal(http.StatusServiceUnavailable))
		})

		It("should limit the fetch to the requested sources", func() {
			rec := serve(http.MethodGet, "/ecosystem?email=a@x.io&sources=oura,oura")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)["results"]).To(HaveLen(1))
		})

		It("should reject unknown sources in the list", func() {
			rec := serve(http.MethodGet, "/ecosystem?email=a@x.io&sources=oura,fitbit")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("circuits", func() {
		It("should trip and reset a source's circuit", func() {
			rec := serve(http.MethodPost, "/circuits/oura/trip")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)).To(HaveKeyWithValue("state", "OPEN"))

			Expect(serve(http.MethodGet, "/ecosystem/oura?email=a@x.io").Code).To(Equal(http.StatusServiceUnavailable))

			rec = serve(http.MethodPost, "/circuits/oura/reset")
			Expect(decode(rec)).To(HaveKeyWithValue("state", "CLOSED"))
			Expect(serve(http.MethodGet, "/ecosystem/oura?email=a@x.io").Code).To(Equal(http.StatusOK))
		})

		It("should return 404 for a circuit that does not exist", func() {
			Expect(serve(http.MethodPost, "/circuits/fitbit/reset").Code).To(Equal(http.StatusNotFound))
		})

		It("should list and reset every circuit", func() {
			registry.Get("oura").Trip()
			registry.Get("whoop").Trip()

			rec := serve(http.MethodGet, "/circuits")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)).To(HaveKey("whoop"))

			Expect(serve(http.MethodPost, "/circuits/reset").Code).To(Equal(http.StatusOK))
			Expect(registry.Get("oura").State()).To(Equal(circuitbreaker.StateClosed))
			Expect(registry.Get("whoop").State()).To(Equal(circuitbreaker.StateClosed))
		})
	})

	Describe("DELETE /cache", func() {
		BeforeEach(func() {
			serve(http.MethodGet, "/ecosystem/oura?email=a@x.io")
			serve(http.MethodGet, "/ecosystem/oura?email=b@x.io")
			serve(http.MethodGet, "/ecosystem/whoop?email=a@x.io")
			Expect(cache.Size()).To(Equal(3))
		})

		It("should drop a single key", func() {
			rec := serve(http.MethodDelete, "/cache?key=ecosystem:oura:b@x.io")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)).To(HaveKeyWithValue("removed", BeNumerically("==", 1)))
			Expect(cache.Size()).To(Equal(2))
		})

		It("should drop keys containing a substring", func() {
			rec := serve(http.MethodDelete, "/cache?contains=a@x.io")
			Expect(decode(rec)).To(HaveKeyWithValue("removed", BeNumerically("==", 2)))
		})

		It("should drop keys matching a regex", func() {
			rec := serve(http.MethodDelete, "/cache?regex="+url.QueryEscape("^ecosystem:whoop:"))
			Expect(decode(rec)).To(HaveKeyWithValue("removed", BeNumerically("==", 1)))
		})

		It("should clear everything", func() {
			rec := serve(http.MethodDelete, "/cache?all=true")
			Expect(decode(rec)).To(HaveKeyWithValue("removed", BeNumerically("==", 3)))
			Expect(cache.Size()).To(BeZero())
		})

		DescribeTable("should reject ambiguous or malformed selectors",
			func(query string) {
				Expect(serve(http.MethodDelete, "/cache"+query).Code).To(Equal(http.StatusBadRequest))
				Expect(cache.Size()).To(Equal(3))
			},
			Entry("nothing", ""),
			Entry("two selectors", "?key=a&contains=b"),
			Entry("bad regex", "?regex=%5B"),
			Entry("all not true", "?all=yes"),
		)
	})

	Describe("Middleware", func() {
		It("should assign a request id", func() {
			rec := serve(http.MethodGet, "/circuits")
			Expect(rec.Header().Get(handler.RequestIDHeader)).To(HaveLen(36))
		})

		It("should keep a valid incoming request id", func() {
			const id = "6f1c2b1e-8d0e-4f55-9a2b-0c6d3b7b8e11"
			req := httptest.NewRequest(http.MethodGet, "/ecosystem/oura", nil)
			req.Header.Set(handler.RequestIDHeader, id)
			rec := httptest.NewRecorder()

			h.Middleware(mux).ServeHTTP(rec, req)

			Expect(rec.Header().Get(handler.RequestIDHeader)).To(Equal(id))
			Expect(decode(rec)).To(HaveKeyWithValue("request_id", id))
		})
	})
})
