package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	modeOK    = "ok"
	modeFail  = "fail"
	modeFlaky = "flaky"
)

type fakeSource struct {
	name     string
	mode     atomic.Value
	failRate float64
	latency  time.Duration
	served   atomic.Int64
}

type reading struct {
	RecordID    string  `json:"record_id"`
	Source      string  `json:"source"`
	Email       string  `json:"email"`
	Start       string  `json:"start,omitempty"`
	End         string  `json:"end,omitempty"`
	SleepScore  int     `json:"sleep_score"`
	RestingHR   int     `json:"resting_hr"`
	HRV         float64 `json:"hrv_ms"`
	Steps       int     `json:"steps"`
	GeneratedAt string  `json:"generated_at"`
}

func newFakeSource(name, mode string, failRate float64, latency time.Duration) (*fakeSource, error) {
	if failRate < 0 || failRate > 1 {
		return nil, fmt.Errorf("fail rate %v outside [0, 1]", failRate)
	}

	s := &fakeSource{name: name, failRate: failRate, latency: latency}
	if err := s.setMode(mode); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fakeSource) setMode(mode string) error {
	switch mode {
	case modeOK, modeFail, modeFlaky:
		s.mode.Store(mode)
		return nil
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func (s *fakeSource) failing() bool {
	switch s.mode.Load().(string) {
	case modeFail:
		return true
	case modeFlaky:
		return rand.Float64() < s.failRate
	default:
		return false
	}
}

func (s *fakeSource) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ecosystem", s.ecosystem)
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("POST /control", s.control)
	return mux
}

func (s *fakeSource) ecosystem(w http.ResponseWriter, r *http.Request) {
	time.Sleep(s.latency)

	if s.failing() {
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	email := q.Get("email")
	if email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	n := s.served.Add(1)
	log.Printf("request: source=%s email=%s n=%d", s.name, email, n)

	writeJSON(w, http.StatusOK, reading{
		RecordID:    uuid.NewString(),
		Source:      s.name,
		Email:       email,
		Start:       q.Get("start"),
		End:         q.Get("end"),
		SleepScore:  60 + rand.IntN(40),
		RestingHR:   48 + rand.IntN(20),
		HRV:         20 + rand.Float64()*80,
		Steps:       rand.IntN(20000),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *fakeSource) health(w http.ResponseWriter, _ *http.Request) {
	if s.mode.Load().(string) == modeFail {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeSource) control(w http.ResponseWriter, r *http.Request) {
	if err := s.setMode(r.URL.Query().Get("mode")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	log.Printf("mode switched: source=%s mode=%s", s.name, s.mode.Load())
	writeJSON(w, http.StatusOK, map[string]any{"source": s.name, "mode": s.mode.Load(), "served": s.served.Load()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
