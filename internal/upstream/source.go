package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/angeloszaimis/resilience/internal/retry"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultPath       = "/ecosystem"
	DefaultHealthPath = "/health"

	maxBodyBytes  = 4 << 20
	maxErrorBytes = 512
)

var (
	ErrNoEndpoints    = errors.New("no endpoints configured")
	ErrInvalidPayload = errors.New("response is not valid JSON")
	ErrUnhealthy      = errors.New("no endpoint passed the health probe")
)

// Config describes one source.
type Config struct {
	Name       string
	URLs       []string
	Timeout    time.Duration
	Strategy   string
	Path       string
	HealthPath string
}

// Query selects the data to fetch for one user. Start and End are sent only
// when both are set.
type Query struct {
	Email string
	Start time.Time
	End   time.Time
}

type Source struct {
	name       string
	endpoints  []*Endpoint
	selector   Selector
	client     *http.Client
	path       string
	healthPath string
}

// New builds a source. When client is nil a client with cfg.Timeout is used.
func New(cfg Config, client *http.Client) (*Source, error) {
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("source %q: %w", cfg.Name, ErrNoEndpoints)
	}

	selector, err := NewSelector(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", cfg.Name, err)
	}

	endpoints := make([]*Endpoint, 0, len(cfg.URLs))
	for _, raw := range cfg.URLs {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("source %q: parse %q: %w", cfg.Name, raw, err)
		}
		endpoints = append(endpoints, NewEndpoint(u))
	}

	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	path, healthPath := cfg.Path, cfg.HealthPath
	if path == "" {
		path = DefaultPath
	}
	if healthPath == "" {
		healthPath = DefaultHealthPath
	}

	return &Source{
		name:       cfg.Name,
		endpoints:  endpoints,
		selector:   selector,
		client:     client,
		path:       path,
		healthPath: healthPath,
	}, nil
}

func (s *Source) Name() string {
	return s.name
}

func (s *Source) Endpoints() []*Endpoint {
	return slices.Clone(s.endpoints)
}

// Fetch performs a single GET against one endpoint. It does not retry.
func (s *Source) Fetch(ctx context.Context, q Query) (json.RawMessage, error) {
	ep := s.selector.Select(s.candidates(), q.Email)
	if ep == nil {
		return nil, fmt.Errorf("source %q: %w", s.name, ErrNoEndpoints)
	}

	target := ep.URL().JoinPath(s.path)
	values := target.Query()
	values.Set("email", q.Email)
	if !q.Start.IsZero() && !q.End.IsZero() {
		values.Set("start", q.Start.Format(time.DateOnly))
		values.Set("end", q.End.Format(time.DateOnly))
	}
	target.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("source %q: build request: %w", s.name, err)
	}
	req.Header.Set("Accept", "application/json")

	ep.acquire()
	defer ep.release()

	start := time.Now()
	res, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			ep.SetHealthy(false)
		}
		return nil, fmt.Errorf("source %q: %w", s.name, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("source %q: read body: %w", s.name, err)
	}
	ep.RecordResponse(time.Since(start))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		if res.StatusCode >= 500 {
			ep.SetHealthy(false)
		}
		return nil, &retry.StatusError{
			Source:     s.name,
			StatusCode: res.StatusCode,
			Body:       truncate(body, maxErrorBytes),
		}
	}

	ep.SetHealthy(true)

	if !json.Valid(body) {
		return nil, fmt.Errorf("source %q: %w", s.name, ErrInvalidPayload)
	}

	return json.RawMessage(body), nil
}

// Probe checks the health path of every endpoint and updates their health.
// It succeeds when at least one endpoint answers 200.
func (s *Source) Probe(ctx context.Context) error {
	var errs []error
	healthy := 0

	for _, ep := range s.endpoints {
		if err := s.probe(ctx, ep); err != nil {
			ep.SetHealthy(false)
			errs = append(errs, err)
			continue
		}
		ep.SetHealthy(true)
		healthy++
	}

	if healthy == 0 {
		return fmt.Errorf("source %q: %w", s.name, errors.Join(append([]error{ErrUnhealthy}, errs...)...))
	}
	return nil
}

func (s *Source) probe(ctx context.Context, ep *Endpoint) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL().JoinPath(s.healthPath).String(), nil)
	if err != nil {
		return err
	}

	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxErrorBytes))

	if res.StatusCode != http.StatusOK {
		return &retry.StatusError{Source: s.name, StatusCode: res.StatusCode}
	}
	return nil
}

// candidates returns the healthy endpoints, or all of them when none is
// healthy so that the breaker rather than the selector decides when to stop.
func (s *Source) candidates() []*Endpoint {
	healthy := make([]*Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		if ep.IsHealthy() {
			healthy = append(healthy, ep)
		}
	}

	if len(healthy) == 0 {
		return s.endpoints
	}
	return healthy
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
