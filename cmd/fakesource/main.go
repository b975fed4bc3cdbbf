// Fakesource is a stand-in wellness data source for local runs of resilienced.
// It serves /ecosystem and /health, and POST /control?mode=ok|fail|flaky
// switches how it answers.
//
// Usage:
//
//	go run ./cmd/fakesource -port 8081 -name oura
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"
)

func main() {
	var (
		port     = flag.Int("port", 8081, "port to listen on")
		name     = flag.String("name", "oura", "source name reported in payloads")
		mode     = flag.String("mode", modeOK, "initial mode: ok, fail or flaky")
		failRate = flag.Float64("fail-rate", 0.5, "share of requests failing in flaky mode")
		latency  = flag.Duration("latency", 20*time.Millisecond, "delay added to every /ecosystem response")
	)
	flag.Parse()

	src, err := newFakeSource(*name, *mode, *failRate, *latency)
	if err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("starting fake source %q on %s (mode %s)", *name, addr, *mode)
	if err := http.ListenAndServe(addr, src.routes()); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
