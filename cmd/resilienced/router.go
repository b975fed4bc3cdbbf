package main

import (
	"net/http"

	"github.com/angeloszaimis/resilience/internal/handler"
	"github.com/angeloszaimis/resilience/internal/metrics"
)

func setupRouter(h *handler.Handler, collector *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()

	h.Register(mux)
	mux.HandleFunc("GET /metrics", collector.Handler())

	return mux
}
